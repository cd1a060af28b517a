package mqtt

import (
	"fmt"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/lybxkl/snode/remoting/protocol"
)

type MessageType byte

const (
	CONNECT     MessageType = packets.Connect
	CONNACK     MessageType = packets.Connack
	PUBLISH     MessageType = packets.Publish
	PUBACK      MessageType = packets.Puback
	PUBREC      MessageType = packets.Pubrec
	PUBREL      MessageType = packets.Pubrel
	PUBCOMP     MessageType = packets.Pubcomp
	SUBSCRIBE   MessageType = packets.Subscribe
	SUBACK      MessageType = packets.Suback
	UNSUBSCRIBE MessageType = packets.Unsubscribe
	UNSUBACK    MessageType = packets.Unsuback
	PINGREQ     MessageType = packets.Pingreq
	PINGRESP    MessageType = packets.Pingresp
	DISCONNECT  MessageType = packets.Disconnect
)

func (t MessageType) String() string {
	if name, ok := packets.PacketNames[uint8(t)]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", byte(t))
}

// MqttHeader mqtt 报文在 RemotingCommand 中的自定义头，payload 放在 Body
type MqttHeader struct {
	MessageType MessageType
	Dup         bool
	Qos         byte
	Retain      bool

	Topic    string
	PacketId uint16

	// CONNECT
	ProtocolName    string
	ProtocolVersion byte
	ClientId        string
	CleanSession    bool
	Keepalive       uint16
	Username        string
	Password        []byte
	WillFlag        bool
	WillQos         byte
	WillRetain      bool
	WillTopic       string
	WillMessage     []byte

	// CONNACK
	SessionPresent bool
	ReturnCode     byte

	// SUBSCRIBE 请求的 qos，SUBACK 中为返回码
	Topics []string
	Qoss   []byte
}

// NewCommand 构造一个 mqtt 命令
func NewCommand(header *MqttHeader, payload []byte) *protocol.RemotingCommand {
	return &protocol.RemotingCommand{
		Code:         protocol.MqttMessage,
		CustomHeader: header,
		Body:         payload,
	}
}

// HeaderOf 取出 mqtt header，没有时返回 ErrMissingHeader
func HeaderOf(cmd *protocol.RemotingCommand) (*MqttHeader, error) {
	if cmd == nil {
		return nil, ErrMissingHeader
	}
	h, ok := cmd.CustomHeader.(*MqttHeader)
	if !ok || h == nil {
		return nil, ErrMissingHeader
	}
	return h, nil
}

func NewPublish(topic string, qos byte, packetId uint16, payload []byte) *protocol.RemotingCommand {
	return NewCommand(&MqttHeader{
		MessageType: PUBLISH,
		Qos:         qos,
		Topic:       topic,
		PacketId:    packetId,
	}, payload)
}

// NewAck PUBACK/PUBREC/PUBREL/PUBCOMP/UNSUBACK
func NewAck(t MessageType, packetId uint16) *protocol.RemotingCommand {
	h := &MqttHeader{MessageType: t, PacketId: packetId}
	if t == PUBREL {
		h.Qos = 1
	}
	return NewCommand(h, nil)
}

func NewConnack(sessionPresent bool, returnCode byte) *protocol.RemotingCommand {
	return NewCommand(&MqttHeader{
		MessageType:    CONNACK,
		SessionPresent: sessionPresent,
		ReturnCode:     returnCode,
	}, nil)
}

func NewSuback(packetId uint16, returnCodes []byte) *protocol.RemotingCommand {
	return NewCommand(&MqttHeader{
		MessageType: SUBACK,
		PacketId:    packetId,
		Qoss:        returnCodes,
	}, nil)
}

func NewPingresp() *protocol.RemotingCommand {
	return NewCommand(&MqttHeader{MessageType: PINGRESP}, nil)
}
