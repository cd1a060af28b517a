package client

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/lybxkl/snode/remoting"
	"github.com/lybxkl/snode/remoting/mqtt"
	"github.com/lybxkl/snode/util"
	"github.com/lybxkl/snode/util/pkid"
)

var (
	ErrInflightWindowFull = errors.New("mqtt: inflight window full")
	ErrSessionClosed      = errors.New("mqtt: session closed")
)

// MQTTSession 一个在线的 mqtt 客户端
type MQTTSession struct {
	id           string
	clientId     string
	channel      remoting.RemotingChannel
	keepalive    uint16
	cleanSession bool
	connectedAt  time.Time

	connected *atomic.Bool
	pkid      pkid.Limiter

	mu               sync.Mutex
	inflightWindow   map[uint16]*InFlightMessage
	awaitingPubcomp  map[uint16]struct{}
	subscriptions    map[string]byte  // topic -> 授予的 qos
	nextBeginOffsets map[string]int64 // topic -> 下一次拉取的位置
	pulling          map[string]bool
}

func NewMQTTSession(clientId string, channel remoting.RemotingChannel, keepalive uint16, cleanSession bool, maxInflight uint16) *MQTTSession {
	return &MQTTSession{
		id:               util.Generate(),
		clientId:         clientId,
		channel:          channel,
		keepalive:        keepalive,
		cleanSession:     cleanSession,
		connectedAt:      time.Now(),
		connected:        atomic.NewBool(true),
		pkid:             pkid.NewPacketIDLimiter(maxInflight),
		inflightWindow:   make(map[uint16]*InFlightMessage),
		awaitingPubcomp:  make(map[uint16]struct{}),
		subscriptions:    make(map[string]byte),
		nextBeginOffsets: make(map[string]int64),
		pulling:          make(map[string]bool),
	}
}

func (s *MQTTSession) ID() string {
	return s.id
}

func (s *MQTTSession) ClientId() string {
	return s.clientId
}

func (s *MQTTSession) Channel() remoting.RemotingChannel {
	return s.channel
}

func (s *MQTTSession) Keepalive() uint16 {
	return s.keepalive
}

func (s *MQTTSession) IsConnected() bool {
	return s.connected.Load()
}

func (s *MQTTSession) SetConnected(connected bool) {
	s.connected.Store(connected)
}

// Close 关闭底层连接，连接关闭回调负责从 IOTClientManager 中移除
func (s *MQTTSession) Close() error {
	s.SetConnected(false)
	return s.channel.Close()
}

// PushMessage2Client 推送给客户端
func (s *MQTTSession) PushMessage2Client(header *mqtt.MqttHeader, body []byte) error {
	if !s.IsConnected() {
		return ErrSessionClosed
	}
	return s.channel.Reply(mqtt.NewCommand(header, body))
}

func (s *MQTTSession) Inflight(packetId uint16) (*InFlightMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	im, ok := s.inflightWindow[packetId]
	return im, ok
}

func (s *MQTTSession) InflightSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflightWindow)
}

// WindowFull packet id 用完（包括等待 PUBCOMP 的）
func (s *MQTTSession) WindowFull() bool {
	return s.pkid.Used() >= s.pkid.Limit()
}

// FreeWindow 还能占用的 packet id 数
func (s *MQTTSession) FreeWindow() int {
	return int(s.pkid.Limit()) - int(s.pkid.Used())
}

func (s *MQTTSession) putInflight(packetId uint16, im *InFlightMessage) {
	s.mu.Lock()
	s.inflightWindow[packetId] = im
	s.mu.Unlock()
}

func (s *MQTTSession) removeInflight(packetId uint16) (*InFlightMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	im, ok := s.inflightWindow[packetId]
	if ok {
		delete(s.inflightWindow, packetId)
	}
	return im, ok
}

func (s *MQTTSession) awaitPubcomp(packetId uint16) {
	s.mu.Lock()
	s.awaitingPubcomp[packetId] = struct{}{}
	s.mu.Unlock()
}

func (s *MQTTSession) completePubcomp(packetId uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.awaitingPubcomp[packetId]
	delete(s.awaitingPubcomp, packetId)
	return ok
}

// clearWindow 丢弃全部在途消息并释放 packet id
func (s *MQTTSession) clearWindow() []*InFlightMessage {
	s.mu.Lock()
	ids := make([]uint16, 0, len(s.inflightWindow)+len(s.awaitingPubcomp))
	msgs := make([]*InFlightMessage, 0, len(s.inflightWindow))
	for id, im := range s.inflightWindow {
		ids = append(ids, id)
		msgs = append(msgs, im)
	}
	for id := range s.awaitingPubcomp {
		ids = append(ids, id)
	}
	s.inflightWindow = make(map[uint16]*InFlightMessage)
	s.awaitingPubcomp = make(map[uint16]struct{})
	s.mu.Unlock()

	s.pkid.BatchRelease(ids)
	return msgs
}

func (s *MQTTSession) Subscribe(topic string, qos byte) {
	s.mu.Lock()
	s.subscriptions[topic] = qos
	s.mu.Unlock()
}

func (s *MQTTSession) Unsubscribe(topic string) {
	s.mu.Lock()
	delete(s.subscriptions, topic)
	delete(s.nextBeginOffsets, topic)
	s.mu.Unlock()
}

func (s *MQTTSession) SubscriptionQos(topic string) (byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	qos, ok := s.subscriptions[topic]
	return qos, ok
}

func (s *MQTTSession) Subscriptions() map[string]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]byte, len(s.subscriptions))
	for k, v := range s.subscriptions {
		out[k] = v
	}
	return out
}

func (s *MQTTSession) NextBeginOffset(topic string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	off, ok := s.nextBeginOffsets[topic]
	return off, ok
}

func (s *MQTTSession) SetNextBeginOffset(topic string, offset int64) {
	s.mu.Lock()
	if _, ok := s.subscriptions[topic]; ok {
		s.nextBeginOffsets[topic] = offset
	}
	s.mu.Unlock()
}

// TryStartPull 同一个 topic 同时只有一个拉取请求
func (s *MQTTSession) TryStartPull(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pulling[topic] {
		return false
	}
	s.pulling[topic] = true
	return true
}

func (s *MQTTSession) EndPull(topic string) {
	s.mu.Lock()
	delete(s.pulling, topic)
	s.mu.Unlock()
}

func (s *MQTTSession) String() string {
	return s.clientId + "(" + s.id + ")"
}
