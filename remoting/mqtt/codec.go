package mqtt

import (
	"fmt"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/lybxkl/snode/remoting/protocol"
)

func typeMismatch(want MessageType, pkt packets.ControlPacket) error {
	return fmt.Errorf("mqtt: codec %s got packet %T", want, pkt)
}

type connectCodec struct{}

func (connectCodec) Encode(cmd *protocol.RemotingCommand) (packets.ControlPacket, error) {
	h, err := HeaderOf(cmd)
	if err != nil {
		return nil, err
	}
	p := packets.NewControlPacket(packets.Connect).(*packets.ConnectPacket)
	p.ProtocolName = h.ProtocolName
	p.ProtocolVersion = h.ProtocolVersion
	if p.ProtocolName == "" {
		p.ProtocolName, p.ProtocolVersion = "MQTT", 4
	}
	p.ClientIdentifier = h.ClientId
	p.CleanSession = h.CleanSession
	p.Keepalive = h.Keepalive
	p.UsernameFlag = h.Username != ""
	p.Username = h.Username
	p.PasswordFlag = len(h.Password) > 0
	p.Password = h.Password
	p.WillFlag = h.WillFlag
	p.WillQos = h.WillQos
	p.WillRetain = h.WillRetain
	p.WillTopic = h.WillTopic
	p.WillMessage = h.WillMessage
	return p, nil
}

func (connectCodec) Decode(pkt packets.ControlPacket) (*protocol.RemotingCommand, error) {
	p, ok := pkt.(*packets.ConnectPacket)
	if !ok {
		return nil, typeMismatch(CONNECT, pkt)
	}
	return NewCommand(&MqttHeader{
		MessageType:     CONNECT,
		ProtocolName:    p.ProtocolName,
		ProtocolVersion: p.ProtocolVersion,
		ClientId:        p.ClientIdentifier,
		CleanSession:    p.CleanSession,
		Keepalive:       p.Keepalive,
		Username:        p.Username,
		Password:        p.Password,
		WillFlag:        p.WillFlag,
		WillQos:         p.WillQos,
		WillRetain:      p.WillRetain,
		WillTopic:       p.WillTopic,
		WillMessage:     p.WillMessage,
	}, nil), nil
}

type connackCodec struct{}

func (connackCodec) Encode(cmd *protocol.RemotingCommand) (packets.ControlPacket, error) {
	h, err := HeaderOf(cmd)
	if err != nil {
		return nil, err
	}
	p := packets.NewControlPacket(packets.Connack).(*packets.ConnackPacket)
	p.SessionPresent = h.SessionPresent
	p.ReturnCode = h.ReturnCode
	return p, nil
}

func (connackCodec) Decode(pkt packets.ControlPacket) (*protocol.RemotingCommand, error) {
	p, ok := pkt.(*packets.ConnackPacket)
	if !ok {
		return nil, typeMismatch(CONNACK, pkt)
	}
	return NewConnack(p.SessionPresent, p.ReturnCode), nil
}

type publishCodec struct{}

func (publishCodec) Encode(cmd *protocol.RemotingCommand) (packets.ControlPacket, error) {
	h, err := HeaderOf(cmd)
	if err != nil {
		return nil, err
	}
	p := packets.NewControlPacket(packets.Publish).(*packets.PublishPacket)
	p.Dup = h.Dup
	p.Qos = h.Qos
	p.Retain = h.Retain
	p.TopicName = h.Topic
	p.MessageID = h.PacketId
	p.Payload = cmd.Body
	return p, nil
}

func (publishCodec) Decode(pkt packets.ControlPacket) (*protocol.RemotingCommand, error) {
	p, ok := pkt.(*packets.PublishPacket)
	if !ok {
		return nil, typeMismatch(PUBLISH, pkt)
	}
	return NewCommand(&MqttHeader{
		MessageType: PUBLISH,
		Dup:         p.Dup,
		Qos:         p.Qos,
		Retain:      p.Retain,
		Topic:       p.TopicName,
		PacketId:    p.MessageID,
	}, p.Payload), nil
}

type subscribeCodec struct{}

func (subscribeCodec) Encode(cmd *protocol.RemotingCommand) (packets.ControlPacket, error) {
	h, err := HeaderOf(cmd)
	if err != nil {
		return nil, err
	}
	p := packets.NewControlPacket(packets.Subscribe).(*packets.SubscribePacket)
	p.MessageID = h.PacketId
	p.Topics = h.Topics
	p.Qoss = h.Qoss
	return p, nil
}

func (subscribeCodec) Decode(pkt packets.ControlPacket) (*protocol.RemotingCommand, error) {
	p, ok := pkt.(*packets.SubscribePacket)
	if !ok {
		return nil, typeMismatch(SUBSCRIBE, pkt)
	}
	return NewCommand(&MqttHeader{
		MessageType: SUBSCRIBE,
		Qos:         p.Qos,
		PacketId:    p.MessageID,
		Topics:      p.Topics,
		Qoss:        p.Qoss,
	}, nil), nil
}

type subackCodec struct{}

func (subackCodec) Encode(cmd *protocol.RemotingCommand) (packets.ControlPacket, error) {
	h, err := HeaderOf(cmd)
	if err != nil {
		return nil, err
	}
	p := packets.NewControlPacket(packets.Suback).(*packets.SubackPacket)
	p.MessageID = h.PacketId
	p.ReturnCodes = h.Qoss
	return p, nil
}

func (subackCodec) Decode(pkt packets.ControlPacket) (*protocol.RemotingCommand, error) {
	p, ok := pkt.(*packets.SubackPacket)
	if !ok {
		return nil, typeMismatch(SUBACK, pkt)
	}
	return NewSuback(p.MessageID, p.ReturnCodes), nil
}

type unsubscribeCodec struct{}

func (unsubscribeCodec) Encode(cmd *protocol.RemotingCommand) (packets.ControlPacket, error) {
	h, err := HeaderOf(cmd)
	if err != nil {
		return nil, err
	}
	p := packets.NewControlPacket(packets.Unsubscribe).(*packets.UnsubscribePacket)
	p.MessageID = h.PacketId
	p.Topics = h.Topics
	return p, nil
}

func (unsubscribeCodec) Decode(pkt packets.ControlPacket) (*protocol.RemotingCommand, error) {
	p, ok := pkt.(*packets.UnsubscribePacket)
	if !ok {
		return nil, typeMismatch(UNSUBSCRIBE, pkt)
	}
	return NewCommand(&MqttHeader{
		MessageType: UNSUBSCRIBE,
		Qos:         p.Qos,
		PacketId:    p.MessageID,
		Topics:      p.Topics,
	}, nil), nil
}

// packetIdCodec 只携带 packet id 的报文
type packetIdCodec struct {
	messageType MessageType
}

func (c packetIdCodec) Encode(cmd *protocol.RemotingCommand) (packets.ControlPacket, error) {
	h, err := HeaderOf(cmd)
	if err != nil {
		return nil, err
	}
	pkt := packets.NewControlPacket(byte(c.messageType))
	switch p := pkt.(type) {
	case *packets.PubackPacket:
		p.MessageID = h.PacketId
	case *packets.PubrecPacket:
		p.MessageID = h.PacketId
	case *packets.PubrelPacket:
		p.MessageID = h.PacketId
	case *packets.PubcompPacket:
		p.MessageID = h.PacketId
	case *packets.UnsubackPacket:
		p.MessageID = h.PacketId
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMessageType, c.messageType)
	}
	return pkt, nil
}

func (c packetIdCodec) Decode(pkt packets.ControlPacket) (*protocol.RemotingCommand, error) {
	var id uint16
	switch p := pkt.(type) {
	case *packets.PubackPacket:
		id = p.MessageID
	case *packets.PubrecPacket:
		id = p.MessageID
	case *packets.PubrelPacket:
		id = p.MessageID
	case *packets.PubcompPacket:
		id = p.MessageID
	case *packets.UnsubackPacket:
		id = p.MessageID
	default:
		return nil, typeMismatch(c.messageType, pkt)
	}
	if MessageType(fixedHeader(pkt).MessageType) != c.messageType {
		return nil, typeMismatch(c.messageType, pkt)
	}
	return NewAck(c.messageType, id), nil
}

// emptyCodec PINGREQ/PINGRESP/DISCONNECT
type emptyCodec struct {
	messageType MessageType
}

func (c emptyCodec) Encode(cmd *protocol.RemotingCommand) (packets.ControlPacket, error) {
	if _, err := HeaderOf(cmd); err != nil {
		return nil, err
	}
	pkt := packets.NewControlPacket(byte(c.messageType))
	if pkt == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMessageType, c.messageType)
	}
	return pkt, nil
}

func (c emptyCodec) Decode(pkt packets.ControlPacket) (*protocol.RemotingCommand, error) {
	if MessageType(fixedHeader(pkt).MessageType) != c.messageType {
		return nil, typeMismatch(c.messageType, pkt)
	}
	return NewCommand(&MqttHeader{MessageType: c.messageType}, nil), nil
}
