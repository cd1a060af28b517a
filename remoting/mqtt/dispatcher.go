package mqtt

import (
	"errors"
	"fmt"
	"sync"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/lybxkl/snode/remoting/protocol"
)

var (
	ErrUnsupportedMessageType = errors.New("mqtt: unsupported message type")
	ErrMissingHeader          = errors.New("mqtt: missing mqtt header")
)

// Message2MessageEncodeDecode RemotingCommand <-> mqtt 报文
type Message2MessageEncodeDecode interface {
	Encode(cmd *protocol.RemotingCommand) (packets.ControlPacket, error)
	Decode(pkt packets.ControlPacket) (*protocol.RemotingCommand, error)
}

// EncodeDecodeDispatcher 报文类型 -> 编解码器
type EncodeDecodeDispatcher struct {
	mu     sync.RWMutex
	codecs map[MessageType]Message2MessageEncodeDecode
}

func NewEncodeDecodeDispatcher() *EncodeDecodeDispatcher {
	return &EncodeDecodeDispatcher{codecs: make(map[MessageType]Message2MessageEncodeDecode)}
}

// NewDefaultDispatcher 注册全部 mqtt 3.1.1 报文
func NewDefaultDispatcher() *EncodeDecodeDispatcher {
	d := NewEncodeDecodeDispatcher()
	d.Register(CONNECT, connectCodec{})
	d.Register(CONNACK, connackCodec{})
	d.Register(PUBLISH, publishCodec{})
	d.Register(SUBSCRIBE, subscribeCodec{})
	d.Register(SUBACK, subackCodec{})
	d.Register(UNSUBSCRIBE, unsubscribeCodec{})
	for _, t := range []MessageType{PUBACK, PUBREC, PUBREL, PUBCOMP, UNSUBACK} {
		d.Register(t, packetIdCodec{messageType: t})
	}
	for _, t := range []MessageType{PINGREQ, PINGRESP, DISCONNECT} {
		d.Register(t, emptyCodec{messageType: t})
	}
	return d
}

func (d *EncodeDecodeDispatcher) Register(t MessageType, codec Message2MessageEncodeDecode) {
	d.mu.Lock()
	d.codecs[t] = codec
	d.mu.Unlock()
}

func (d *EncodeDecodeDispatcher) Get(t MessageType) (Message2MessageEncodeDecode, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.codecs[t]
	return c, ok
}

// ToWireMessage 出站，没有注册的类型直接报错，不做兜底
func ToWireMessage(d *EncodeDecodeDispatcher, cmd *protocol.RemotingCommand) (packets.ControlPacket, error) {
	h, err := HeaderOf(cmd)
	if err != nil {
		return nil, err
	}
	codec, ok := d.Get(h.MessageType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMessageType, h.MessageType)
	}
	return codec.Encode(cmd)
}

// FromWireMessage 入站
func FromWireMessage(d *EncodeDecodeDispatcher, pkt packets.ControlPacket) (*protocol.RemotingCommand, error) {
	t := MessageType(fixedHeader(pkt).MessageType)
	codec, ok := d.Get(t)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMessageType, t)
	}
	return codec.Decode(pkt)
}

func fixedHeader(pkt packets.ControlPacket) packets.FixedHeader {
	switch p := pkt.(type) {
	case *packets.ConnectPacket:
		return p.FixedHeader
	case *packets.ConnackPacket:
		return p.FixedHeader
	case *packets.PublishPacket:
		return p.FixedHeader
	case *packets.PubackPacket:
		return p.FixedHeader
	case *packets.PubrecPacket:
		return p.FixedHeader
	case *packets.PubrelPacket:
		return p.FixedHeader
	case *packets.PubcompPacket:
		return p.FixedHeader
	case *packets.SubscribePacket:
		return p.FixedHeader
	case *packets.SubackPacket:
		return p.FixedHeader
	case *packets.UnsubscribePacket:
		return p.FixedHeader
	case *packets.UnsubackPacket:
		return p.FixedHeader
	case *packets.PingreqPacket:
		return p.FixedHeader
	case *packets.PingrespPacket:
		return p.FixedHeader
	case *packets.DisconnectPacket:
		return p.FixedHeader
	}
	return packets.FixedHeader{}
}
