package remoting

import (
	"context"
	"sync"

	"go.uber.org/atomic"

	"github.com/lybxkl/snode/remoting/protocol"
	"github.com/lybxkl/snode/util/gopool"
)

// Promise 异步结果，只会被完成一次
type Promise struct {
	completed *atomic.Bool
	done      chan struct{}

	resp *protocol.RemotingCommand
	err  error

	mu        sync.Mutex
	listeners []func(resp *protocol.RemotingCommand, err error)
}

func NewPromise() *Promise {
	return &Promise{
		completed: atomic.NewBool(false),
		done:      make(chan struct{}),
	}
}

// FailedPromise 直接失败的 promise
func FailedPromise(err error) *Promise {
	p := NewPromise()
	p.Fail(err)
	return p
}

func (p *Promise) Complete(resp *protocol.RemotingCommand) bool {
	return p.finish(resp, nil)
}

func (p *Promise) Fail(err error) bool {
	return p.finish(nil, err)
}

func (p *Promise) finish(resp *protocol.RemotingCommand, err error) bool {
	if !p.completed.CAS(false, true) {
		return false
	}
	p.mu.Lock()
	p.resp, p.err = resp, err
	listeners := p.listeners
	p.listeners = nil
	close(p.done)
	p.mu.Unlock()

	for _, fn := range listeners {
		p.notify(fn)
	}
	return true
}

func (p *Promise) notify(fn func(*protocol.RemotingCommand, error)) {
	resp, err := p.resp, p.err
	gopool.Submit(func() {
		gopool.RunSafe(func() {
			fn(resp, err)
		})
	})
}

// Then 注册完成回调，已完成则立即提交到协程池执行
func (p *Promise) Then(fn func(resp *protocol.RemotingCommand, err error)) *Promise {
	p.mu.Lock()
	select {
	case <-p.done:
		p.mu.Unlock()
		p.notify(fn)
	default:
		p.listeners = append(p.listeners, fn)
		p.mu.Unlock()
	}
	return p
}

func (p *Promise) Done() <-chan struct{} {
	return p.done
}

func (p *Promise) IsDone() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Await 阻塞等待结果
func (p *Promise) Await(ctx context.Context) (*protocol.RemotingCommand, error) {
	select {
	case <-p.done:
		return p.resp, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
