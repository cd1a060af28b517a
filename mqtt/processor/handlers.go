package processor

import (
	"strconv"

	"github.com/lybxkl/snode/common/constant"
	. "github.com/lybxkl/snode/common/log"
	"github.com/lybxkl/snode/mqtt/client"
	"github.com/lybxkl/snode/remoting"
	"github.com/lybxkl/snode/remoting/mqtt"
	"github.com/lybxkl/snode/remoting/protocol"
	"github.com/lybxkl/snode/util"
)

type connectHandler struct {
	p *DefaultMqttMessageProcessor
}

func (h *connectHandler) HandleMessage(cmd *protocol.RemotingCommand, ch remoting.RemotingChannel) (*protocol.RemotingCommand, error) {
	p := h.p
	if _, ok := p.SessionOf(ch); ok {
		return nil, ErrDuplicateConnect
	}
	header, _ := mqtt.HeaderOf(cmd)

	clientId := header.ClientId
	if clientId == "" {
		clientId = constant.AutoIdPrefix + util.Generate()
	}
	keepalive := header.Keepalive
	if keepalive == 0 {
		keepalive = uint16(p.mqttCfg.Keepalive)
	}

	session := client.NewMQTTSession(clientId, ch, keepalive, header.CleanSession, p.mqttCfg.MaxInflightMessages)
	p.sessions.Set(ch, session)
	if old := p.manager.Register(session); old != nil {
		_ = old.Channel().Close()
	}
	Log.Infof("client %s connected, remote %s, keepalive %ds", session, ch.RemoteAddress(), keepalive)
	return mqtt.NewConnack(false, connackAccepted), nil
}

// CONNACK 返回码 0
const connackAccepted byte = 0x00

type disconnectHandler struct {
	p *DefaultMqttMessageProcessor
}

func (h *disconnectHandler) HandleMessage(_ *protocol.RemotingCommand, ch remoting.RemotingChannel) (*protocol.RemotingCommand, error) {
	_ = ch.Close()
	h.p.OnChannelClose(ch)
	return nil, nil
}

// publishHandler 客户端发布的消息转发给 enode，enode 写入成功后才回 PUBACK/PUBREC
type publishHandler struct {
	p *DefaultMqttMessageProcessor
}

func (h *publishHandler) HandleMessage(cmd *protocol.RemotingCommand, ch remoting.RemotingChannel) (*protocol.RemotingCommand, error) {
	p := h.p
	session, _ := p.SessionOf(ch)
	header, _ := mqtt.HeaderOf(cmd)

	request := protocol.CreateRequestCommand(protocol.SendMessage, map[string]string{
		protocol.KeyProducerGroup: p.snodeCfg.ConsumerGroupPrefix + session.ClientId(),
		protocol.KeyTopic:         header.Topic,
		protocol.KeyQueueId:       strconv.Itoa(int(constant.DefaultQueueId)),
		protocol.KeyEnodeName:     p.snodeCfg.DefaultEnodeName,
	})
	request.Body = cmd.Body

	qos, packetId := header.Qos, header.PacketId
	p.enode.SendMessage(ch, p.snodeCfg.DefaultEnodeName, request).Then(func(resp *protocol.RemotingCommand, err error) {
		if err != nil {
			Log.Warnf("%s publish to %s failed: %v", session, header.Topic, err)
			return
		}
		if resp.Code != protocol.Success {
			Log.Warnf("%s publish to %s failed: code=%d %s", session, header.Topic, resp.Code, resp.Remark)
			return
		}
		if qos == 0 || !session.IsConnected() {
			return
		}
		ack := mqtt.PUBACK
		if qos == 2 {
			ack = mqtt.PUBREC
		}
		if err := ch.Reply(mqtt.NewAck(ack, packetId)); err != nil {
			Log.Warnf("%s reply %s failed: %v", session, ack, err)
		}
	})
	return nil, nil
}

type pubackHandler struct {
	p *DefaultMqttMessageProcessor
}

func (h *pubackHandler) HandleMessage(cmd *protocol.RemotingCommand, ch remoting.RemotingChannel) (*protocol.RemotingCommand, error) {
	session, _ := h.p.SessionOf(ch)
	header, _ := mqtt.HeaderOf(cmd)
	if h.p.manager.OnAck(session, header.PacketId, client.AckPuback) {
		h.p.pullIfDrained(session)
	}
	return nil, nil
}

type pubrecHandler struct {
	p *DefaultMqttMessageProcessor
}

// PUBREC 之后 packet id 仍被占用，直到 PUBCOMP
func (h *pubrecHandler) HandleMessage(cmd *protocol.RemotingCommand, ch remoting.RemotingChannel) (*protocol.RemotingCommand, error) {
	session, _ := h.p.SessionOf(ch)
	header, _ := mqtt.HeaderOf(cmd)
	h.p.manager.OnAck(session, header.PacketId, client.AckPubrec)
	return mqtt.NewAck(mqtt.PUBREL, header.PacketId), nil
}

type pubrelHandler struct {
	p *DefaultMqttMessageProcessor
}

func (h *pubrelHandler) HandleMessage(cmd *protocol.RemotingCommand, _ remoting.RemotingChannel) (*protocol.RemotingCommand, error) {
	header, _ := mqtt.HeaderOf(cmd)
	return mqtt.NewAck(mqtt.PUBCOMP, header.PacketId), nil
}

type pubcompHandler struct {
	p *DefaultMqttMessageProcessor
}

func (h *pubcompHandler) HandleMessage(cmd *protocol.RemotingCommand, ch remoting.RemotingChannel) (*protocol.RemotingCommand, error) {
	session, _ := h.p.SessionOf(ch)
	header, _ := mqtt.HeaderOf(cmd)
	if h.p.manager.OnAck(session, header.PacketId, client.AckPubcomp) {
		h.p.pullIfDrained(session)
	}
	return nil, nil
}

type subscribeHandler struct {
	p *DefaultMqttMessageProcessor
}

// SUBACK 先于推送的消息写出
func (h *subscribeHandler) HandleMessage(cmd *protocol.RemotingCommand, ch remoting.RemotingChannel) (*protocol.RemotingCommand, error) {
	p := h.p
	session, _ := p.SessionOf(ch)
	header, _ := mqtt.HeaderOf(cmd)

	granted := make([]byte, len(header.Topics))
	for i, topic := range header.Topics {
		var requested byte
		if i < len(header.Qoss) {
			requested = header.Qoss[i]
		}
		granted[i] = util.Qos(requested, byte(p.mqttCfg.MaxQos))
		session.Subscribe(topic, granted[i])
	}
	if err := ch.Reply(mqtt.NewSuback(header.PacketId, granted)); err != nil {
		return nil, err
	}
	for _, topic := range header.Topics {
		p.startPull(session, topic)
	}
	return nil, nil
}

type unsubscribeHandler struct {
	p *DefaultMqttMessageProcessor
}

func (h *unsubscribeHandler) HandleMessage(cmd *protocol.RemotingCommand, ch remoting.RemotingChannel) (*protocol.RemotingCommand, error) {
	session, _ := h.p.SessionOf(ch)
	header, _ := mqtt.HeaderOf(cmd)
	for _, topic := range header.Topics {
		session.Unsubscribe(topic)
		h.p.cancelPullLater(session, topic)
	}
	return mqtt.NewAck(mqtt.UNSUBACK, header.PacketId), nil
}

type pingreqHandler struct {
	p *DefaultMqttMessageProcessor
}

func (h *pingreqHandler) HandleMessage(_ *protocol.RemotingCommand, _ remoting.RemotingChannel) (*protocol.RemotingCommand, error) {
	return mqtt.NewPingresp(), nil
}
