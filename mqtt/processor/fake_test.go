package processor

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/atomic"

	"github.com/lybxkl/snode/remoting"
	"github.com/lybxkl/snode/remoting/mqtt"
	"github.com/lybxkl/snode/remoting/protocol"
)

type fakeChannel struct {
	addr   string
	mu     sync.Mutex
	sent   []*mqtt.MqttHeader
	closed *atomic.Bool
}

func newFakeChannel(addr string) *fakeChannel {
	return &fakeChannel{addr: addr, closed: atomic.NewBool(false)}
}

func (f *fakeChannel) RemoteAddress() string {
	return f.addr
}

func (f *fakeChannel) IsConnected() bool {
	return !f.closed.Load()
}

func (f *fakeChannel) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeChannel) Reply(cmd *protocol.RemotingCommand) error {
	if f.closed.Load() {
		return remoting.ErrChannelClosed
	}
	h, err := mqtt.HeaderOf(cmd)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.sent = append(f.sent, h)
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) headers() []*mqtt.MqttHeader {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*mqtt.MqttHeader(nil), f.sent...)
}

func (f *fakeChannel) ofType(t mqtt.MessageType) []*mqtt.MqttHeader {
	var out []*mqtt.MqttHeader
	for _, h := range f.headers() {
		if h.MessageType == t {
			out = append(out, h)
		}
	}
	return out
}

type pending struct {
	req     *protocol.RemotingCommand
	promise *remoting.Promise
}

// fakeEnode 请求放入 channel，由测试决定何时、如何完成
type fakeEnode struct {
	sends   chan pending
	pulls   chan pending
	queries chan pending
}

func newFakeEnode() *fakeEnode {
	return &fakeEnode{
		sends:   make(chan pending, 16),
		pulls:   make(chan pending, 16),
		queries: make(chan pending, 16),
	}
}

func (f *fakeEnode) SendMessage(_ remoting.RemotingChannel, _ string, request *protocol.RemotingCommand) *remoting.Promise {
	p := remoting.NewPromise()
	f.sends <- pending{request, p}
	return p
}

func (f *fakeEnode) PullMessage(_ remoting.RemotingChannel, _ string, request *protocol.RemotingCommand) *remoting.Promise {
	p := remoting.NewPromise()
	f.pulls <- pending{request, p}
	return p
}

func (f *fakeEnode) PersistOffset(remoting.RemotingChannel, string, string, string, int32, int64) {
}

func (f *fakeEnode) QueryOffset(enodeName, group, topic string, _ int32) *remoting.Promise {
	p := remoting.NewPromise()
	f.queries <- pending{protocol.CreateRequestCommand(protocol.QueryConsumerOffset, map[string]string{
		protocol.KeyEnodeName:     enodeName,
		protocol.KeyConsumerGroup: group,
		protocol.KeyTopic:         topic,
	}), p}
	return p
}

func nextPending(t *testing.T, c chan pending) pending {
	t.Helper()
	select {
	case p := <-c:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no request to enode")
	}
	return pending{}
}

type fakeSlow struct {
	slow     bool
	resolved *atomic.Int32
}

func (f *fakeSlow) IsSlowConsumer(int64, string, int32, string, string) bool {
	return f.slow
}

func (f *fakeSlow) SlowConsumerResolve(*protocol.RemotingCommand, remoting.RemotingChannel) {
	f.resolved.Inc()
}
