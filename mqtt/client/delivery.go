package client

import (
	"fmt"
	"time"

	. "github.com/lybxkl/snode/common/log"
	"github.com/lybxkl/snode/remoting/mqtt"
)

type AckKind int

const (
	AckPuback  AckKind = iota // qos1 完成
	AckPubrec                 // qos2 第一阶段，packet id 继续占用直到 PUBCOMP
	AckPubcomp                // qos2 完成
)

func (k AckKind) String() string {
	switch k {
	case AckPuback:
		return "PUBACK"
	case AckPubrec:
		return "PUBREC"
	case AckPubcomp:
		return "PUBCOMP"
	}
	return fmt.Sprintf("AckKind(%d)", int(k))
}

// DeliverPublish 推送一条消息。qos0 直接推送，packet id 为 0；
// qos1/2 占用一个 packet id 放入窗口和超时队列，窗口已满返回 ErrInflightWindowFull
func (m *IOTClientManager) DeliverPublish(session *MQTTSession, topic string, qos byte, payload []byte) (uint16, error) {
	return m.deliver(session, &InFlightMessage{
		Topic:   topic,
		PushQos: qos,
		Body:    payload,
	})
}

// DeliverMessage 推送拉取到的消息，推送前先记录到进度表，失败时回滚。
// 进度表按 topic@clientId 记录，被顶替的旧会话回滚时只删除自己记录的那条
func (m *IOTClientManager) DeliverMessage(session *MQTTSession, brokerName string, msg *MessageExt, qos byte) (uint16, error) {
	if qos == 0 {
		return m.deliver(session, &InFlightMessage{Topic: msg.Topic, Body: msg.Body})
	}
	if !session.IsConnected() {
		return 0, ErrSessionClosed
	}
	prev := m.AddProcessing(brokerName, msg.Topic, session.ClientId(), msg)
	id, err := m.deliver(session, &InFlightMessage{
		Topic:       msg.Topic,
		PushQos:     qos,
		Body:        msg.Body,
		BrokerName:  brokerName,
		QueueOffset: msg.QueueOffset,
		ext:         msg,
	})
	if err != nil && id == 0 {
		m.rollbackProcessing(brokerName, msg.Topic, session.ClientId(), msg, prev)
	}
	return id, err
}

// deliver 返回非 0 packet id 表示消息已进入窗口，即使推送失败也由超时重发或会话清理处理
func (m *IOTClientManager) deliver(session *MQTTSession, im *InFlightMessage) (uint16, error) {
	if !session.IsConnected() {
		return 0, ErrSessionClosed
	}
	header := &mqtt.MqttHeader{
		MessageType: mqtt.PUBLISH,
		Qos:         im.PushQos,
		Topic:       im.Topic,
	}
	if im.PushQos == 0 {
		return 0, m.push(session, header, im.Body)
	}

	id, ok := session.pkid.TryPollPacketID()
	if !ok {
		return 0, ErrInflightWindowFull
	}
	now := time.Now()
	im.PushTimestamp = now
	session.putInflight(id, im)
	m.inflightTimeouts.Add(NewInFlightPacket(session, id, im, now.Add(m.resendInterval)))

	header.PacketId = id
	return id, m.push(session, header, im.Body)
}

func (m *IOTClientManager) push(session *MQTTSession, header *mqtt.MqttHeader, body []byte) error {
	if err := session.PushMessage2Client(header, body); err != nil {
		Log.Warnf("push message to %s failed, close it: %v", session, err)
		_ = session.Close()
		return err
	}
	return nil
}

// OnAck 处理客户端的确认，超时队列中的项不删除，到期后发现已不在窗口中即丢弃。
// 返回是否命中了在途消息
func (m *IOTClientManager) OnAck(session *MQTTSession, packetId uint16, kind AckKind) bool {
	switch kind {
	case AckPuback, AckPubrec:
		im, ok := session.removeInflight(packetId)
		if !ok {
			Log.Debugf("%s %s packet id %d not in flight", session, kind, packetId)
			return false
		}
		if im.ext != nil {
			m.RemoveProcessing(im.BrokerName, im.Topic, session.ClientId(), im.ext)
		}
		if kind == AckPuback {
			session.pkid.Release(packetId)
		} else {
			session.awaitPubcomp(packetId)
		}
		return true
	case AckPubcomp:
		if !session.completePubcomp(packetId) {
			return false
		}
		session.pkid.Release(packetId)
		return true
	}
	return false
}
