package remoting

import (
	"time"

	"go.uber.org/atomic"

	"github.com/lybxkl/snode/remoting/protocol"
	"github.com/lybxkl/snode/util/gopool"
)

// InvokeCallback 异步调用完成回调，在协程池中执行
type InvokeCallback func(f *ResponseFuture)

// ResponseFuture 一次在途的 rpc 请求
type ResponseFuture struct {
	opaque         int32
	channel        RemotingChannel
	beginTimestamp time.Time
	timeout        time.Duration
	callback       InvokeCallback

	done     *atomic.Bool
	response *protocol.RemotingCommand
	err      error
}

func NewResponseFuture(opaque int32, channel RemotingChannel, timeout time.Duration, callback InvokeCallback) *ResponseFuture {
	return &ResponseFuture{
		opaque:         opaque,
		channel:        channel,
		beginTimestamp: time.Now(),
		timeout:        timeout,
		callback:       callback,
		done:           atomic.NewBool(false),
	}
}

func (f *ResponseFuture) Opaque() int32 {
	return f.opaque
}

func (f *ResponseFuture) Channel() RemotingChannel {
	return f.channel
}

func (f *ResponseFuture) Response() *protocol.RemotingCommand {
	return f.response
}

func (f *ResponseFuture) Err() error {
	return f.err
}

func (f *ResponseFuture) IsDone() bool {
	return f.done.Load()
}

func (f *ResponseFuture) IsTimeout(now time.Time) bool {
	return now.Sub(f.beginTimestamp) > f.timeout
}

// complete 只有第一次调用生效，回调保证只执行一次
func (f *ResponseFuture) complete(resp *protocol.RemotingCommand, err error) bool {
	if !f.done.CAS(false, true) {
		return false
	}
	f.response = resp
	f.err = err
	if f.callback != nil {
		gopool.Submit(func() {
			gopool.RunSafe(func() {
				f.callback(f)
			})
		})
	}
	return true
}
