package cron

import (
	"sync"

	"github.com/robfig/cron/v3"
)

type ScheduleCron struct {
	schedule *cron.Cron

	ids sync.Map
}

// NewScheduleCron 每个使用方持有自己的调度器，Stop 互不影响
func NewScheduleCron(logger cron.Logger) *ScheduleCron {
	s := &ScheduleCron{}
	s.initCron(logger)
	return s
}

func (s *ScheduleCron) initCron(logger cron.Logger) {
	if logger == nil {
		logger = cronLogger{}
	}
	if s.schedule == nil {
		s.schedule = cron.New(cron.WithChain(cron.Recover(logger)), cron.WithLogger(logger))
	}
}

// Schedule 使用自定义的 Schedule，支持毫秒级的固定周期
func (s *ScheduleCron) Schedule(schedule cron.Schedule, id string, job cron.Job) {
	s.ids.Store(id, s.schedule.Schedule(schedule, job))
}

func (s *ScheduleCron) GetJob(id string) (cron.Job, bool) {
	v, exist := s.ids.Load(id)
	if !exist {
		return nil, false
	}
	e := s.schedule.Entry(v.(cron.EntryID))
	if e.Job == nil {
		return nil, false
	}
	return e.Job, true
}

func (s *ScheduleCron) Remove(id string) {
	v, exist := s.ids.LoadAndDelete(id)
	if !exist {
		return
	}
	s.schedule.Remove(v.(cron.EntryID))
}

func (s *ScheduleCron) Start() {
	s.schedule.Start()
}

// Stop 停止调度，不等待正在执行的任务
func (s *ScheduleCron) Stop() {
	s.schedule.Stop()
}
