package processor

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/lybxkl/snode/common/constant"
	. "github.com/lybxkl/snode/common/log"
	"github.com/lybxkl/snode/mqtt/client"
	"github.com/lybxkl/snode/remoting/protocol"
	"github.com/lybxkl/snode/util"
	"github.com/lybxkl/snode/util/cron"
)

var pullIdleInterval = constant.PullIdleIntervalMs * time.Millisecond

// startPull 没有拉取位置时先向 enode 查询已提交的 offset
func (p *DefaultMqttMessageProcessor) startPull(session *client.MQTTSession, topic string) {
	if _, ok := session.NextBeginOffset(topic); ok {
		p.pull(session, topic)
		return
	}
	enodeName := p.snodeCfg.DefaultEnodeName
	p.enode.QueryOffset(enodeName, session.ClientId(), topic, constant.DefaultQueueId).Then(func(resp *protocol.RemotingCommand, err error) {
		if err != nil {
			Log.Warnf("%s query offset of %s failed: %v", session, topic, err)
			return
		}
		var offset int64
		switch resp.Code {
		case protocol.Success:
			if offset, err = resp.ExtInt64(protocol.KeyQueueOffset); err != nil {
				Log.Warnf("%s query offset of %s: %v", session, topic, err)
				return
			}
		case protocol.QueryNotFound:
		default:
			Log.Warnf("%s query offset of %s failed: code=%d %s", session, topic, resp.Code, resp.Remark)
			return
		}
		session.SetNextBeginOffset(topic, offset)
		p.pull(session, topic)
	})
}

// pullIfDrained 窗口清空后继续拉取所有订阅的 topic
func (p *DefaultMqttMessageProcessor) pullIfDrained(session *client.MQTTSession) {
	if session.InflightSize() > 0 {
		return
	}
	for topic := range session.Subscriptions() {
		p.pull(session, topic)
	}
}

// pull 每个 topic 同时只有一个拉取请求，窗口满时不拉
func (p *DefaultMqttMessageProcessor) pull(session *client.MQTTSession, topic string) {
	if !session.IsConnected() || session.WindowFull() {
		return
	}
	offset, ok := session.NextBeginOffset(topic)
	if !ok {
		return
	}
	if !session.TryStartPull(topic) {
		return
	}

	batch := p.mqttCfg.PullBatchSize
	if free := session.FreeWindow(); free < batch {
		batch = free
	}
	enodeName := p.snodeCfg.DefaultEnodeName
	request := protocol.CreateRequestCommand(protocol.PullMessage, map[string]string{
		protocol.KeyConsumerGroup: session.ClientId(),
		protocol.KeyTopic:         topic,
		protocol.KeyQueueId:       strconv.Itoa(int(constant.DefaultQueueId)),
		protocol.KeyQueueOffset:   strconv.FormatInt(offset, 10),
		protocol.KeyMaxMsgNums:    strconv.Itoa(batch),
	})
	p.enode.PullMessage(session.Channel(), enodeName, request).Then(func(resp *protocol.RemotingCommand, err error) {
		next := p.onPullResult(session, topic, enodeName, resp, err)
		session.EndPull(topic)
		switch next {
		case pullWait:
			// 拉取期间到达的 ack 可能已经错过了 pullIfDrained
			if session.InflightSize() == 0 {
				p.pull(session, topic)
			}
		case pullNow:
			p.pull(session, topic)
		case pullLater:
			p.pullLater(session, topic)
		}
	})
}

// pullLater 暂时没有新消息，过一会儿再拉；会话断开时由 OnChannelClose 取消
func (p *DefaultMqttMessageProcessor) pullLater(session *client.MQTTSession, topic string) {
	if !session.IsConnected() {
		return
	}
	err := p.delayTasks.Run(&cron.DelayTask{
		ID:       repullTaskID(session, topic),
		DealTime: pullIdleInterval,
		Fn: func(interface{}) {
			p.pull(session, topic)
		},
	})
	if err != nil {
		Log.Warnf("%s schedule pull of %s failed: %v", session, topic, err)
	}
}

func (p *DefaultMqttMessageProcessor) cancelPullLater(session *client.MQTTSession, topic string) {
	p.delayTasks.Cancel(repullTaskID(session, topic))
}

// repullTaskID 用会话 id 而不是 clientId，被顶替的旧会话不会取消新会话的任务
func repullTaskID(session *client.MQTTSession, topic string) cron.ID {
	return util.TopicClient(topic, session.ID())
}

type pullNext int

const (
	pullWait  pullNext = iota // 等待 ack 清空窗口
	pullNow                   // 还有空闲窗口，继续拉
	pullLater                 // 暂时没有新消息
)

// onPullResult 推送拉到的消息直到窗口满，记录下一次拉取的位置
func (p *DefaultMqttMessageProcessor) onPullResult(session *client.MQTTSession, topic, enodeName string,
	resp *protocol.RemotingCommand, err error) pullNext {
	if !session.IsConnected() {
		return pullWait
	}
	if err != nil {
		Log.Warnf("%s pull %s failed: %v", session, topic, err)
		return pullLater
	}
	switch resp.Code {
	case protocol.Success:
	case protocol.PullNotFound:
		return pullLater
	default:
		Log.Warnf("%s pull %s failed: code=%d %s", session, topic, resp.Code, resp.Remark)
		return pullLater
	}

	var msgs []client.MessageExt
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &msgs); err != nil {
			Log.Errorf("%s decode pull result of %s: %v", session, topic, err)
			return pullLater
		}
	}
	if len(msgs) == 0 {
		return pullLater
	}

	// 窗口为空说明已推送的都确认了，不算慢消费
	newest := msgs[len(msgs)-1].QueueOffset
	if session.InflightSize() > 0 && p.slow.IsSlowConsumer(newest, topic, constant.DefaultQueueId, session.ClientId(), enodeName) {
		p.slow.SlowConsumerResolve(resp, session.Channel())
		return pullWait
	}

	qos, ok := session.SubscriptionQos(topic)
	if !ok {
		return pullWait
	}
	next := msgs[len(msgs)-1].QueueOffset + 1
	if v, err := resp.ExtInt64(protocol.KeyNextBeginOffset); err == nil {
		next = v
	}
	result := pullNow
	for i := range msgs {
		msg := &msgs[i]
		if msg.Topic == "" {
			msg.Topic = topic
		}
		_, err := p.manager.DeliverMessage(session, enodeName, msg, qos)
		if errors.Is(err, client.ErrInflightWindowFull) {
			next, result = msg.QueueOffset, pullWait
			break
		}
		if err != nil {
			return pullWait
		}
	}
	session.SetNextBeginOffset(topic, next)
	if result == pullNow && session.WindowFull() {
		result = pullWait
	}
	return result
}
