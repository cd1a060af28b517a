package cron

import (
	"sync"
	"time"
)

// FixedRate 固定周期调度，首次触发前等待 initialDelay。
// cron 自带的 @every 会把周期取整到秒，这里保留毫秒精度。
type FixedRate struct {
	initialDelay time.Duration
	interval     time.Duration

	mu    sync.Mutex
	first bool
}

func NewFixedRate(initialDelay, interval time.Duration) *FixedRate {
	if interval <= 0 {
		interval = time.Millisecond
	}
	return &FixedRate{
		initialDelay: initialDelay,
		interval:     interval,
		first:        true,
	}
}

// Next cron.Schedule
func (f *FixedRate) Next(t time.Time) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.first {
		f.first = false
		if f.initialDelay > 0 {
			return t.Add(f.initialDelay)
		}
	}
	return t.Add(f.interval)
}

// FuncJob 带名字的任务，便于 cron 日志定位
type FuncJob struct {
	Name string
	Fn   func()
}

func (j FuncJob) Run() {
	j.Fn()
}
