package processor

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/lybxkl/snode/mqtt/client"
	"github.com/lybxkl/snode/remoting/mqtt"
	"github.com/lybxkl/snode/remoting/protocol"
	"github.com/lybxkl/snode/snode/gcfg"
	"github.com/lybxkl/snode/util/middleware"
)

func newTestProcessor(maxInflight uint16, maxQos int, options ...middleware.Option) (*DefaultMqttMessageProcessor, *fakeEnode, *fakeSlow) {
	cfg := *gcfg.GetGCfg()
	cfg.Mqtt.MaxInflightMessages = maxInflight
	cfg.Mqtt.MaxQos = maxQos
	cfg.Mqtt.PullBatchSize = 32
	enode := newFakeEnode()
	slow := &fakeSlow{resolved: atomic.NewInt32(0)}
	p := NewDefaultMqttMessageProcessor(client.NewIOTClientManager(time.Minute), enode, slow, &cfg, options...)
	return p, enode, slow
}

func connect(t *testing.T, p *DefaultMqttMessageProcessor, clientId string) (*fakeChannel, *client.MQTTSession) {
	ch := newFakeChannel("127.0.0.1:" + clientId)
	err := p.ProcessRequest(ch, mqtt.NewCommand(&mqtt.MqttHeader{
		MessageType: mqtt.CONNECT,
		ClientId:    clientId,
		Keepalive:   30,
	}, nil))
	require.NoError(t, err)
	session, ok := p.SessionOf(ch)
	require.True(t, ok)
	return ch, session
}

func subscribe(t *testing.T, p *DefaultMqttMessageProcessor, ch *fakeChannel, topic string, qos byte) {
	require.NoError(t, p.ProcessRequest(ch, mqtt.NewCommand(&mqtt.MqttHeader{
		MessageType: mqtt.SUBSCRIBE,
		PacketId:    1,
		Topics:      []string{topic},
		Qoss:        []byte{qos},
	}, nil)))
}

func pullResult(t *testing.T, topic string, offsets ...int64) *protocol.RemotingCommand {
	msgs := make([]client.MessageExt, 0, len(offsets))
	for _, off := range offsets {
		msgs = append(msgs, client.MessageExt{Topic: topic, QueueOffset: off, Body: []byte("m")})
	}
	body, err := json.Marshal(msgs)
	require.NoError(t, err)
	resp := protocol.CreateResponseCommand(protocol.Success, "")
	resp.Body = body
	return resp
}

func TestConnectAssignsClientId(t *testing.T) {
	p, _, _ := newTestProcessor(8, 2)
	ch, session := connect(t, p, "")

	require.True(t, strings.HasPrefix(session.ClientId(), "auto-"))
	require.Equal(t, uint16(30), session.Keepalive())
	acks := ch.ofType(mqtt.CONNACK)
	require.Len(t, acks, 1)
	require.Equal(t, byte(0), acks[0].ReturnCode)

	got, ok := p.Manager().Get(session.ClientId())
	require.True(t, ok)
	require.Same(t, session, got)
}

func TestConnectReplacesOldSession(t *testing.T) {
	p, _, _ := newTestProcessor(8, 2)
	ch1, s1 := connect(t, p, "c1")
	ch2, s2 := connect(t, p, "c1")

	require.True(t, ch1.closed.Load())
	require.False(t, s1.IsConnected())
	require.False(t, ch2.closed.Load())

	// 旧连接的关闭回调不会影响新会话
	p.OnChannelClose(ch1)
	got, ok := p.Manager().Get("c1")
	require.True(t, ok)
	require.Same(t, s2, got)
}

func TestDuplicateConnect(t *testing.T) {
	p, _, _ := newTestProcessor(8, 2)
	ch, _ := connect(t, p, "c1")
	err := p.ProcessRequest(ch, mqtt.NewCommand(&mqtt.MqttHeader{MessageType: mqtt.CONNECT, ClientId: "c1"}, nil))
	require.ErrorIs(t, err, ErrDuplicateConnect)
}

func TestRequestBeforeConnect(t *testing.T) {
	p, _, _ := newTestProcessor(8, 2)
	ch := newFakeChannel("127.0.0.1:1")
	err := p.ProcessRequest(ch, mqtt.NewCommand(&mqtt.MqttHeader{MessageType: mqtt.PINGREQ}, nil))
	require.ErrorIs(t, err, ErrNotConnected)
	require.Empty(t, ch.headers())
}

func TestUnsupportedMessageType(t *testing.T) {
	p, _, _ := newTestProcessor(8, 2)
	ch, _ := connect(t, p, "c1")

	err := p.ProcessRequest(ch, mqtt.NewCommand(&mqtt.MqttHeader{MessageType: mqtt.CONNACK}, nil))
	require.ErrorIs(t, err, mqtt.ErrUnsupportedMessageType)
	require.Len(t, ch.headers(), 1)

	require.ErrorIs(t, p.ProcessRequest(ch, &protocol.RemotingCommand{Code: protocol.MqttMessage}), mqtt.ErrMissingHeader)
}

func TestPingAndPubrel(t *testing.T) {
	p, _, _ := newTestProcessor(8, 2)
	ch, _ := connect(t, p, "c1")

	require.NoError(t, p.ProcessRequest(ch, mqtt.NewCommand(&mqtt.MqttHeader{MessageType: mqtt.PINGREQ}, nil)))
	require.NoError(t, p.ProcessRequest(ch, mqtt.NewCommand(&mqtt.MqttHeader{MessageType: mqtt.PUBREL, PacketId: 7}, nil)))

	require.Len(t, ch.ofType(mqtt.PINGRESP), 1)
	comps := ch.ofType(mqtt.PUBCOMP)
	require.Len(t, comps, 1)
	require.Equal(t, uint16(7), comps[0].PacketId)
}

func TestPublishAckedAfterEnodeSuccess(t *testing.T) {
	p, enode, _ := newTestProcessor(8, 2)
	ch, _ := connect(t, p, "c1")

	publish := func(qos byte, id uint16) pending {
		require.NoError(t, p.ProcessRequest(ch, mqtt.NewCommand(&mqtt.MqttHeader{
			MessageType: mqtt.PUBLISH,
			Topic:       "t",
			Qos:         qos,
			PacketId:    id,
		}, []byte("x"))))
		return nextPending(t, enode.sends)
	}

	sent := publish(1, 3)
	require.Equal(t, protocol.SendMessage, sent.req.Code)
	require.Equal(t, "t", sent.req.Ext(protocol.KeyTopic))
	require.Equal(t, "snode-c1", sent.req.Ext(protocol.KeyProducerGroup))
	require.Equal(t, []byte("x"), sent.req.Body)
	require.Empty(t, ch.ofType(mqtt.PUBACK))

	sent.promise.Complete(protocol.CreateResponseCommand(protocol.Success, ""))
	require.Eventually(t, func() bool {
		acks := ch.ofType(mqtt.PUBACK)
		return len(acks) == 1 && acks[0].PacketId == 3
	}, time.Second, 5*time.Millisecond)

	sent = publish(2, 4)
	sent.promise.Complete(protocol.CreateResponseCommand(protocol.Success, ""))
	require.Eventually(t, func() bool {
		recs := ch.ofType(mqtt.PUBREC)
		return len(recs) == 1 && recs[0].PacketId == 4
	}, time.Second, 5*time.Millisecond)

	sent = publish(1, 5)
	sent.promise.Complete(protocol.CreateResponseCommand(protocol.SystemBusy, "busy"))
	require.Never(t, func() bool {
		return len(ch.ofType(mqtt.PUBACK)) > 1
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestSubscribePullAndDeliver(t *testing.T) {
	p, enode, _ := newTestProcessor(2, 1)
	ch, session := connect(t, p, "c1")

	subscribe(t, p, ch, "t", 2)
	subacks := ch.ofType(mqtt.SUBACK)
	require.Len(t, subacks, 1)
	require.Equal(t, []byte{1}, subacks[0].Qoss)

	query := nextPending(t, enode.queries)
	require.Equal(t, "c1", query.req.Ext(protocol.KeyConsumerGroup))
	require.Equal(t, "t", query.req.Ext(protocol.KeyTopic))
	resp := protocol.CreateResponseCommand(protocol.Success, "")
	resp.SetExt(protocol.KeyQueueOffset, "10")
	query.promise.Complete(resp)

	pull := nextPending(t, enode.pulls)
	require.Equal(t, protocol.PullMessage, pull.req.Code)
	require.Equal(t, "10", pull.req.Ext(protocol.KeyQueueOffset))
	require.Equal(t, "2", pull.req.Ext(protocol.KeyMaxMsgNums))
	pull.promise.Complete(pullResult(t, "t", 10, 11, 12))

	require.Eventually(t, func() bool {
		return len(ch.ofType(mqtt.PUBLISH)) == 2
	}, time.Second, 5*time.Millisecond)
	pubs := ch.ofType(mqtt.PUBLISH)
	for _, h := range pubs {
		require.Equal(t, byte(1), h.Qos)
		require.Equal(t, "t", h.Topic)
	}
	require.Eventually(t, func() bool {
		off, ok := session.NextBeginOffset("t")
		return ok && off == 12
	}, time.Second, 5*time.Millisecond)
	first, ok := p.Manager().FirstProcessing("broker-a", "t", "c1")
	require.True(t, ok)
	require.Equal(t, int64(10), first)

	// 窗口清空后从 12 继续拉
	for _, h := range pubs {
		require.NoError(t, p.ProcessRequest(ch, mqtt.NewCommand(&mqtt.MqttHeader{MessageType: mqtt.PUBACK, PacketId: h.PacketId}, nil)))
	}
	pull = nextPending(t, enode.pulls)
	require.Equal(t, "12", pull.req.Ext(protocol.KeyQueueOffset))
	_, ok = p.Manager().FirstProcessing("broker-a", "t", "c1")
	require.False(t, ok)
}

func TestQueryNotFoundStartsFromZero(t *testing.T) {
	p, enode, _ := newTestProcessor(8, 2)
	ch, _ := connect(t, p, "c1")
	subscribe(t, p, ch, "t", 1)

	nextPending(t, enode.queries).promise.Complete(protocol.CreateResponseCommand(protocol.QueryNotFound, ""))
	pull := nextPending(t, enode.pulls)
	require.Equal(t, "0", pull.req.Ext(protocol.KeyQueueOffset))
}

func TestPullNotFoundRetriesLater(t *testing.T) {
	old := pullIdleInterval
	pullIdleInterval = 10 * time.Millisecond
	defer func() { pullIdleInterval = old }()

	p, enode, _ := newTestProcessor(8, 2)
	ch, _ := connect(t, p, "c1")
	subscribe(t, p, ch, "t", 1)
	nextPending(t, enode.queries).promise.Complete(protocol.CreateResponseCommand(protocol.QueryNotFound, ""))

	nextPending(t, enode.pulls).promise.Complete(protocol.CreateResponseCommand(protocol.PullNotFound, ""))
	pull := nextPending(t, enode.pulls)
	require.Equal(t, "0", pull.req.Ext(protocol.KeyQueueOffset))
}

func TestCloseCancelsPendingRepull(t *testing.T) {
	old := pullIdleInterval
	pullIdleInterval = 200 * time.Millisecond
	defer func() { pullIdleInterval = old }()

	p, enode, _ := newTestProcessor(8, 2)
	defer p.Shutdown()
	ch, session := connect(t, p, "c1")
	subscribe(t, p, ch, "t", 1)
	nextPending(t, enode.queries).promise.Complete(protocol.CreateResponseCommand(protocol.QueryNotFound, ""))

	nextPending(t, enode.pulls).promise.Complete(protocol.CreateResponseCommand(protocol.PullNotFound, ""))
	id := repullTaskID(session, "t")
	require.Eventually(t, func() bool { return p.delayTasks.Pending(id) }, time.Second, 2*time.Millisecond)

	require.NoError(t, p.ProcessRequest(ch, mqtt.NewCommand(&mqtt.MqttHeader{MessageType: mqtt.DISCONNECT}, nil)))
	require.False(t, p.delayTasks.Pending(id))
	require.Never(t, func() bool { return len(enode.pulls) > 0 }, 500*time.Millisecond, 20*time.Millisecond)
}

func TestReplacedSessionKeepsNewRepull(t *testing.T) {
	old := pullIdleInterval
	pullIdleInterval = time.Hour
	defer func() { pullIdleInterval = old }()

	p, _, _ := newTestProcessor(8, 2)
	defer p.Shutdown()
	_, s1 := connect(t, p, "c1")
	s1.Subscribe("t", 1)
	p.pullLater(s1, "t")

	ch2, s2 := connect(t, p, "c1")
	s2.Subscribe("t", 1)
	p.pullLater(s2, "t")

	// 旧连接关闭只取消旧会话的任务
	p.OnChannelClose(s1.Channel())
	require.False(t, p.delayTasks.Pending(repullTaskID(s1, "t")))
	require.True(t, p.delayTasks.Pending(repullTaskID(s2, "t")))

	p.OnChannelClose(ch2)
	require.False(t, p.delayTasks.Pending(repullTaskID(s2, "t")))
}

func TestSlowConsumerSkipsBatch(t *testing.T) {
	p, enode, slow := newTestProcessor(4, 2)
	slow.slow = true
	ch, session := connect(t, p, "c1")
	subscribe(t, p, ch, "t", 1)
	nextPending(t, enode.queries).promise.Complete(protocol.CreateResponseCommand(protocol.QueryNotFound, ""))

	// 窗口为空时不做慢消费判断
	nextPending(t, enode.pulls).promise.Complete(pullResult(t, "t", 0, 1))
	pull := nextPending(t, enode.pulls)
	require.Equal(t, "2", pull.req.Ext(protocol.KeyQueueOffset))

	pull.promise.Complete(pullResult(t, "t", 2, 3))
	require.Eventually(t, func() bool {
		return slow.resolved.Load() == 1
	}, time.Second, 5*time.Millisecond)
	require.Len(t, ch.ofType(mqtt.PUBLISH), 2)
	off, _ := session.NextBeginOffset("t")
	require.Equal(t, int64(2), off)
}

func TestUnsubscribe(t *testing.T) {
	p, _, _ := newTestProcessor(8, 2)
	ch, session := connect(t, p, "c1")
	session.Subscribe("t", 1)

	require.NoError(t, p.ProcessRequest(ch, mqtt.NewCommand(&mqtt.MqttHeader{
		MessageType: mqtt.UNSUBSCRIBE,
		PacketId:    9,
		Topics:      []string{"t"},
	}, nil)))
	acks := ch.ofType(mqtt.UNSUBACK)
	require.Len(t, acks, 1)
	require.Equal(t, uint16(9), acks[0].PacketId)
	require.Empty(t, session.Subscriptions())
}

func TestDisconnectRemovesSession(t *testing.T) {
	p, _, _ := newTestProcessor(8, 2)
	ch, session := connect(t, p, "c1")

	require.NoError(t, p.ProcessRequest(ch, mqtt.NewCommand(&mqtt.MqttHeader{MessageType: mqtt.DISCONNECT}, nil)))
	require.True(t, ch.closed.Load())
	require.False(t, session.IsConnected())
	require.Equal(t, 0, p.Manager().Size())
	_, ok := p.SessionOf(ch)
	require.False(t, ok)
}

func TestTraceMiddleware(t *testing.T) {
	var traced []mqtt.MessageType
	p, _, _ := newTestProcessor(8, 2, middleware.OptionFunc(func(message interface{}) (bool, error) {
		traced = append(traced, message.(*mqtt.MqttHeader).MessageType)
		return true, nil
	}))
	ch, _ := connect(t, p, "c1")
	require.NoError(t, p.ProcessRequest(ch, mqtt.NewCommand(&mqtt.MqttHeader{MessageType: mqtt.PINGREQ}, nil)))
	require.Equal(t, []mqtt.MessageType{mqtt.CONNECT, mqtt.PINGREQ}, traced)
}
