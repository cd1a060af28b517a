package client

import (
	"sync"
	"time"

	"github.com/lybxkl/snode/remoting/mqtt"
)

// MessageExt enode 拉取到的消息
type MessageExt struct {
	MsgId         string            `json:"msgId"`
	Topic         string            `json:"topic"`
	QueueId       int32             `json:"queueId"`
	QueueOffset   int64             `json:"queueOffset"`
	Body          []byte            `json:"body"`
	BornTimestamp int64             `json:"bornTimestamp"`
	Properties    map[string]string `json:"properties,omitempty"`
}

// InFlightMessage 已推送未确认的消息，BrokerName 为空表示不是从 enode 拉取的
type InFlightMessage struct {
	Topic         string
	PushQos       byte
	Body          []byte
	BrokerName    string
	QueueOffset   int64
	PushTimestamp time.Time

	ext *MessageExt // 进度表中对应的记录
}

// InFlightPacket 超时队列中的一项。ack 后不会从队列中删除，到期时再判断是否过期
type InFlightPacket struct {
	session  *MQTTSession
	packetId uint16
	message  *InFlightMessage

	mu         sync.Mutex
	resendTime int
	deadline   time.Time
}

func NewInFlightPacket(session *MQTTSession, packetId uint16, message *InFlightMessage, deadline time.Time) *InFlightPacket {
	return &InFlightPacket{
		session:  session,
		packetId: packetId,
		message:  message,
		deadline: deadline,
	}
}

func (p *InFlightPacket) Session() *MQTTSession {
	return p.session
}

func (p *InFlightPacket) PacketId() uint16 {
	return p.packetId
}

func (p *InFlightPacket) Message() *InFlightMessage {
	return p.message
}

func (p *InFlightPacket) Deadline() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deadline
}

func (p *InFlightPacket) ResendTime() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resendTime
}

type ResendResult int

const (
	ResendStale  ResendResult = iota // 已确认，或 packet id 已被新消息复用
	ResendGiveUp                     // 达到重发上限
	ResendSent
)

// ResendIfLive 持有会话锁判断窗口、累加重发次数并推送 DUP，ack 只能发生在这之前或之后
func (p *InFlightPacket) ResendIfLive(maxResendTimes int, deadline time.Time) (ResendResult, error) {
	s := p.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if im, ok := s.inflightWindow[p.packetId]; !ok || im != p.message {
		return ResendStale, nil
	}

	p.mu.Lock()
	if p.resendTime >= maxResendTimes {
		p.mu.Unlock()
		return ResendGiveUp, nil
	}
	p.resendTime++
	p.deadline = deadline
	p.mu.Unlock()

	header := &mqtt.MqttHeader{
		MessageType: mqtt.PUBLISH,
		Topic:       p.message.Topic,
		Qos:         p.message.PushQos,
		PacketId:    p.packetId,
		Dup:         true,
	}
	return ResendSent, s.PushMessage2Client(header, p.message.Body)
}

// IsLive 窗口中该 packet id 仍然是这条消息
func (p *InFlightPacket) IsLive() bool {
	im, ok := p.session.Inflight(p.packetId)
	return ok && im == p.message
}
