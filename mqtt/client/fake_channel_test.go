package client

import (
	"errors"
	"sync"

	"go.uber.org/atomic"

	"github.com/lybxkl/snode/remoting/mqtt"
	"github.com/lybxkl/snode/remoting/protocol"
)

// fakeChannel 记录所有写出的命令
type fakeChannel struct {
	mu      sync.Mutex
	sent    []*protocol.RemotingCommand
	closed  *atomic.Bool
	failing bool
	// onReply 不为空时在写出前调用，可用来阻塞写
	onReply func(cmd *protocol.RemotingCommand)
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{closed: atomic.NewBool(false)}
}

func (f *fakeChannel) RemoteAddress() string {
	return "127.0.0.1:50000"
}

func (f *fakeChannel) IsConnected() bool {
	return !f.closed.Load()
}

func (f *fakeChannel) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeChannel) Reply(cmd *protocol.RemotingCommand) error {
	if f.onReply != nil {
		f.onReply(cmd)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("broken pipe")
	}
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeChannel) headers() []*mqtt.MqttHeader {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*mqtt.MqttHeader, 0, len(f.sent))
	for _, cmd := range f.sent {
		h, _ := mqtt.HeaderOf(cmd)
		out = append(out, h)
	}
	return out
}
