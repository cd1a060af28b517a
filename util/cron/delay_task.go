package cron

import (
	"strconv"
	"sync"
	"time"

	"go.uber.org/atomic"

	. "github.com/lybxkl/snode/common/log"
	"github.com/lybxkl/snode/util/gopool"
)

type ID = string

type DelayTask struct {
	ID             ID
	DealTime       time.Duration // 延迟多久执行
	Data           interface{}
	Fn             func(data interface{})
	CancelCallback func()

	key    string // cron 中的 id，同一个 ID 重复提交时互不覆盖
	manage *delayTaskManage
}

func (g *DelayTask) Run() {
	// 和 Cancel 只有一个能拿到任务
	if !g.manage.finish(g) {
		return
	}
	gopool.RunSafe(func() {
		g.Fn(g.Data)
	})
}

// DelayTaskManage 一次性的延迟任务，执行或取消之后自动移除
type DelayTaskManage interface {
	// Run 同一个 ID 已有未执行的任务时替换它，旧任务不触发 CancelCallback
	Run(*DelayTask) error
	Cancel(ID)
	Pending(ID) bool
	Stop()
}

type delayTaskManage struct {
	cron *ScheduleCron
	seq  *atomic.Uint64

	mu    sync.Mutex
	tasks map[ID]*DelayTask
}

func NewDelayTaskManage() DelayTaskManage {
	d := &delayTaskManage{
		cron:  NewScheduleCron(nil),
		seq:   atomic.NewUint64(0),
		tasks: make(map[ID]*DelayTask),
	}
	d.cron.Start()
	return d
}

func (d *delayTaskManage) Run(task *DelayTask) error {
	Log.Debugf("添加%s的延迟任务, 延迟时间：%s", task.ID, task.DealTime)
	if task.DealTime <= 0 {
		gopool.Submit(func() {
			gopool.RunSafe(func() {
				task.Fn(task.Data)
			})
		})
		return nil
	}
	task.manage = d
	task.key = task.ID + "#" + strconv.FormatUint(d.seq.Inc(), 10)

	d.mu.Lock()
	defer d.mu.Unlock()
	if old, ok := d.tasks[task.ID]; ok {
		d.cron.Remove(old.key)
	}
	d.tasks[task.ID] = task
	d.cron.Schedule(newDelay(task.DealTime), task.key, task)
	return nil
}

func (d *delayTaskManage) Cancel(id ID) {
	d.mu.Lock()
	task, ok := d.tasks[id]
	if ok {
		delete(d.tasks, id)
		d.cron.Remove(task.key)
	}
	d.mu.Unlock()
	if !ok {
		return
	}
	Log.Debugf("取消%s的延迟任务", id)
	if task.CancelCallback != nil {
		task.CancelCallback() // 执行取消任务回调方法
	}
}

func (d *delayTaskManage) Pending(id ID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.tasks[id]
	return ok
}

func (d *delayTaskManage) Stop() {
	d.cron.Stop()
}

// finish 任务到期，已被取消或替换时返回 false
func (d *delayTaskManage) finish(task *DelayTask) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cron.Remove(task.key)
	if d.tasks[task.ID] != task {
		return false
	}
	delete(d.tasks, task.ID)
	return true
}

// delay 只触发一次的 Schedule，到期之后返回零值，cron 不再调度
type delay struct {
	at time.Time
}

func newDelay(d time.Duration) delay {
	return delay{at: time.Now().Add(d)}
}

func (s delay) Next(t time.Time) time.Time {
	if t.Before(s.at) {
		return s.at
	}
	return time.Time{}
}
