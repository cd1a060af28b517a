package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/lybxkl/snode/remoting/mqtt"
	"github.com/lybxkl/snode/remoting/protocol"
)

func newSession(clientId string, maxInflight uint16) (*MQTTSession, *fakeChannel) {
	ch := newFakeChannel()
	return NewMQTTSession(clientId, ch, 60, true, maxInflight), ch
}

func TestRegisterReplacesOldSession(t *testing.T) {
	m := NewIOTClientManager(time.Second)
	s1, _ := newSession("c1", 8)
	require.Nil(t, m.Register(s1))

	_, err := m.DeliverMessage(s1, "broker-a", &MessageExt{Topic: "t", QueueOffset: 10}, 1)
	require.NoError(t, err)
	require.Len(t, m.ProcessTable(), 1)

	s2, _ := newSession("c1", 8)
	old := m.Register(s2)
	require.Same(t, s1, old)
	require.False(t, s1.IsConnected())
	require.Equal(t, 0, s1.InflightSize())
	require.Empty(t, m.ProcessTable())

	// 旧会话的连接关闭回调不能影响新会话
	m.RemoveSession(s1)
	got, ok := m.Get("c1")
	require.True(t, ok)
	require.Same(t, s2, got)
	require.Equal(t, 1, m.Size())
}

func TestRemoveSession(t *testing.T) {
	m := NewIOTClientManager(time.Second)
	s, _ := newSession("c1", 8)
	m.Register(s)
	other, _ := newSession("c2", 8)
	m.Register(other)

	_, err := m.DeliverMessage(s, "broker-a", &MessageExt{Topic: "t", QueueOffset: 1}, 1)
	require.NoError(t, err)
	_, err = m.DeliverMessage(other, "broker-a", &MessageExt{Topic: "t", QueueOffset: 2}, 1)
	require.NoError(t, err)

	m.RemoveSession(s)
	require.False(t, s.IsConnected())
	require.Equal(t, 0, s.InflightSize())
	_, ok := m.Get("c1")
	require.False(t, ok)

	entries := m.ProcessTable()
	require.Len(t, entries, 1)
	require.Equal(t, "c2", entries[0].ClientId)
}

func TestDeliverQos0(t *testing.T) {
	m := NewIOTClientManager(time.Second)
	s, ch := newSession("c1", 8)
	m.Register(s)

	id, err := m.DeliverPublish(s, "t", 0, []byte("x"))
	require.NoError(t, err)
	require.Equal(t, uint16(0), id)
	require.Equal(t, 0, s.InflightSize())
	require.Equal(t, 0, m.InflightTimeouts().Len())

	hs := ch.headers()
	require.Len(t, hs, 1)
	require.Equal(t, mqtt.PUBLISH, hs[0].MessageType)
	require.Equal(t, uint16(0), hs[0].PacketId)
}

func TestDeliverQos1AndPuback(t *testing.T) {
	m := NewIOTClientManager(time.Second)
	s, ch := newSession("c1", 8)
	m.Register(s)

	id, err := m.DeliverPublish(s, "t", 1, []byte("x"))
	require.NoError(t, err)
	require.NotZero(t, id)
	require.Equal(t, 1, s.InflightSize())
	require.Equal(t, 1, m.InflightTimeouts().Len())
	require.Equal(t, id, ch.headers()[0].PacketId)

	im, ok := s.Inflight(id)
	require.True(t, ok)
	require.Equal(t, "t", im.Topic)
	require.Equal(t, byte(1), im.PushQos)
	require.False(t, im.PushTimestamp.IsZero())

	require.True(t, m.OnAck(s, id, AckPuback))
	require.False(t, m.OnAck(s, id, AckPuback))
	require.Equal(t, 0, s.InflightSize())
	require.Equal(t, uint16(0), s.pkid.Used())
	// 超时队列懒删除
	require.Equal(t, 1, m.InflightTimeouts().Len())
}

func TestDeliverQos2Handshake(t *testing.T) {
	m := NewIOTClientManager(time.Second)
	s, _ := newSession("c1", 8)
	m.Register(s)

	id, err := m.DeliverMessage(s, "broker-a", &MessageExt{Topic: "t", QueueOffset: 7}, 2)
	require.NoError(t, err)

	require.True(t, m.OnAck(s, id, AckPubrec))
	require.Equal(t, 0, s.InflightSize())
	require.Empty(t, m.ProcessTable())
	require.Equal(t, uint16(1), s.pkid.Used())

	require.True(t, m.OnAck(s, id, AckPubcomp))
	require.False(t, m.OnAck(s, id, AckPubcomp))
	require.Equal(t, uint16(0), s.pkid.Used())
}

func TestInflightWindowFull(t *testing.T) {
	m := NewIOTClientManager(time.Second)
	s, ch := newSession("c1", 2)
	m.Register(s)

	for i := 0; i < 2; i++ {
		_, err := m.DeliverMessage(s, "broker-a", &MessageExt{Topic: "t", QueueOffset: int64(i)}, 1)
		require.NoError(t, err)
	}
	require.True(t, s.WindowFull())
	_, err := m.DeliverMessage(s, "broker-a", &MessageExt{Topic: "t", QueueOffset: 2}, 1)
	require.ErrorIs(t, err, ErrInflightWindowFull)
	require.Len(t, ch.headers(), 2)

	// 回滚，进度表里没有 offset 2
	first, ok := m.FirstProcessing("broker-a", "t", "c1")
	require.True(t, ok)
	require.Equal(t, int64(0), first)
	require.False(t, m.RemoveProcessing("broker-a", "t", "c1", &MessageExt{Topic: "t", QueueOffset: 2}))
}

func TestReplacedSessionRollbackKeepsNewRecord(t *testing.T) {
	m := NewIOTClientManager(time.Second)
	old, _ := newSession("c1", 1)
	m.Register(old)
	_, err := m.DeliverMessage(old, "broker-a", &MessageExt{Topic: "t", QueueOffset: 4}, 1)
	require.NoError(t, err)

	s, _ := newSession("c1", 8)
	m.Register(s)
	require.False(t, old.IsConnected())
	_, err = m.DeliverMessage(s, "broker-a", &MessageExt{Topic: "t", QueueOffset: 5}, 1)
	require.NoError(t, err)

	// 旧会话迟到的拉取结果不会写入也不会删掉新会话的记录
	_, err = m.DeliverMessage(old, "broker-a", &MessageExt{Topic: "t", QueueOffset: 5}, 1)
	require.ErrorIs(t, err, ErrSessionClosed)
	first, ok := m.FirstProcessing("broker-a", "t", "c1")
	require.True(t, ok)
	require.Equal(t, int64(5), first)
}

func TestRollbackRestoresReplacedRecord(t *testing.T) {
	m := NewIOTClientManager(time.Second)
	s, _ := newSession("c1", 1)
	m.Register(s)
	first := &MessageExt{Topic: "t", QueueOffset: 5}
	id, err := m.DeliverMessage(s, "broker-a", first, 1)
	require.NoError(t, err)

	// 窗口已满，同一 offset 的重复消息回滚后仍保留第一条
	_, err = m.DeliverMessage(s, "broker-a", &MessageExt{Topic: "t", QueueOffset: 5}, 1)
	require.ErrorIs(t, err, ErrInflightWindowFull)
	off, ok := m.FirstProcessing("broker-a", "t", "c1")
	require.True(t, ok)
	require.Equal(t, int64(5), off)

	require.True(t, m.OnAck(s, id, AckPuback))
	_, ok = m.FirstProcessing("broker-a", "t", "c1")
	require.False(t, ok)
}

func TestSmallestUnackedOffset(t *testing.T) {
	m := NewIOTClientManager(time.Second)
	s, _ := newSession("c1", 8)
	m.Register(s)

	ids := map[int64]uint16{}
	for _, off := range []int64{50, 30, 70} {
		id, err := m.DeliverMessage(s, "broker-a", &MessageExt{Topic: "t", QueueOffset: off}, 1)
		require.NoError(t, err)
		ids[off] = id
	}

	entries := m.ProcessTable()
	require.Len(t, entries, 1)
	require.Equal(t, ProcessEntry{BrokerName: "broker-a", Topic: "t", ClientId: "c1", Offset: 30}, entries[0])

	require.True(t, m.OnAck(s, ids[30], AckPuback))
	entries = m.ProcessTable()
	require.Len(t, entries, 1)
	require.Equal(t, int64(50), entries[0].Offset)
}

func TestStalePacketIsNotLive(t *testing.T) {
	m := NewIOTClientManager(time.Second)
	s, _ := newSession("c1", 8)
	m.Register(s)

	id, err := m.DeliverPublish(s, "t", 1, nil)
	require.NoError(t, err)
	expired := m.InflightTimeouts().DrainExpired(time.Now().Add(time.Hour))
	require.Len(t, expired, 1)
	p := expired[0].(*InFlightPacket)
	require.True(t, p.IsLive())
	require.Equal(t, id, p.PacketId())

	m.OnAck(s, id, AckPuback)
	require.False(t, p.IsLive())
}

func TestResendAndAckAreExclusive(t *testing.T) {
	m := NewIOTClientManager(time.Second)
	s, ch := newSession("c1", 8)
	m.Register(s)

	id, err := m.DeliverPublish(s, "t", 1, []byte("m"))
	require.NoError(t, err)
	p := m.InflightTimeouts().DrainExpired(time.Now().Add(time.Hour))[0].(*InFlightPacket)

	entered := make(chan struct{})
	release := make(chan struct{})
	ch.onReply = func(cmd *protocol.RemotingCommand) {
		if h, _ := mqtt.HeaderOf(cmd); h.Dup {
			close(entered)
			<-release
		}
	}
	resent := make(chan ResendResult, 1)
	go func() {
		r, _ := p.ResendIfLive(3, time.Now().Add(time.Second))
		resent <- r
	}()
	<-entered

	// 重发推送期间 ack 等待会话锁
	acked := atomic.NewBool(false)
	go func() {
		m.OnAck(s, id, AckPuback)
		acked.Store(true)
	}()
	require.Never(t, acked.Load, 50*time.Millisecond, 5*time.Millisecond)
	close(release)
	require.Equal(t, ResendSent, <-resent)
	require.Eventually(t, acked.Load, time.Second, 5*time.Millisecond)

	// ack 之后到期的同一项不再重发
	r, err := p.ResendIfLive(3, time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, ResendStale, r)
	require.Len(t, ch.headers(), 2)
}

func TestResendGivesUpAtLimit(t *testing.T) {
	m := NewIOTClientManager(time.Second)
	s, ch := newSession("c1", 8)
	m.Register(s)

	_, err := m.DeliverPublish(s, "t", 2, []byte("m"))
	require.NoError(t, err)
	p := m.InflightTimeouts().DrainExpired(time.Now().Add(time.Hour))[0].(*InFlightPacket)
	for i := 0; i < 2; i++ {
		r, err := p.ResendIfLive(2, time.Now())
		require.NoError(t, err)
		require.Equal(t, ResendSent, r)
	}
	r, _ := p.ResendIfLive(2, time.Now())
	require.Equal(t, ResendGiveUp, r)
	require.Equal(t, 2, p.ResendTime())

	headers := ch.headers()
	require.Len(t, headers, 3)
	require.False(t, headers[0].Dup)
	require.True(t, headers[2].Dup)
	require.Equal(t, byte(2), headers[2].Qos)
}

func TestPushFailureClosesSession(t *testing.T) {
	m := NewIOTClientManager(time.Second)
	s, ch := newSession("c1", 8)
	m.Register(s)
	ch.failing = true

	_, err := m.DeliverPublish(s, "t", 1, nil)
	require.Error(t, err)
	require.False(t, s.IsConnected())
	require.True(t, ch.closed.Load())

	_, err = m.DeliverPublish(s, "t", 1, nil)
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestSessionSubscriptions(t *testing.T) {
	s, _ := newSession("c1", 8)
	s.Subscribe("t", 1)
	s.SetNextBeginOffset("t", 10)
	s.SetNextBeginOffset("other", 3)

	qos, ok := s.SubscriptionQos("t")
	require.True(t, ok)
	require.Equal(t, byte(1), qos)
	off, ok := s.NextBeginOffset("t")
	require.True(t, ok)
	require.Equal(t, int64(10), off)
	_, ok = s.NextBeginOffset("other")
	require.False(t, ok)

	require.True(t, s.TryStartPull("t"))
	require.False(t, s.TryStartPull("t"))
	s.EndPull("t")
	require.True(t, s.TryStartPull("t"))

	s.Unsubscribe("t")
	require.Empty(t, s.Subscriptions())
}
