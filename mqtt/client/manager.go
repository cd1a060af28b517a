package client

import (
	"time"

	. "github.com/lybxkl/snode/common/log"
	"github.com/lybxkl/snode/util"
	"github.com/lybxkl/snode/util/collection"
	"github.com/lybxkl/snode/util/delayqueue"
)

// ProcessEntry 进度表快照中的一项
type ProcessEntry struct {
	BrokerName string
	Topic      string
	ClientId   string
	Offset     int64 // 最小未确认 offset
}

// IOTClientManager 在线会话、未确认 offset 表和全局重发超时队列
type IOTClientManager struct {
	clients *collection.SafeMap // clientId -> *MQTTSession

	// brokerName -> topic@clientId -> *OffsetTree
	processTable *collection.SafeMap

	inflightTimeouts *delayqueue.DelayQueue
	resendInterval   time.Duration
}

func NewIOTClientManager(resendInterval time.Duration) *IOTClientManager {
	return &IOTClientManager{
		clients:          collection.NewSafeMap(),
		processTable:     collection.NewSafeMap(),
		inflightTimeouts: delayqueue.New(),
		resendInterval:   resendInterval,
	}
}

// Register 同一个 clientId 只保留一个会话，返回被替换的旧会话（已清理，调用方负责关闭其连接）
func (m *IOTClientManager) Register(session *MQTTSession) *MQTTSession {
	v, loaded := m.clients.Swap(session.ClientId(), session)
	if !loaded || v.(*MQTTSession) == session {
		return nil
	}
	old := v.(*MQTTSession)
	old.SetConnected(false)
	old.clearWindow()
	m.dropProcessing(old.ClientId())
	Log.Infof("client %s reconnect, replace session %s", session.ClientId(), old.ID())
	return old
}

func (m *IOTClientManager) Get(clientId string) (*MQTTSession, bool) {
	v, ok := m.clients.Get(clientId)
	if !ok {
		return nil, false
	}
	return v.(*MQTTSession), true
}

func (m *IOTClientManager) Size() int {
	return m.clients.Size()
}

// RemoveSession 先标记断开，超时队列中属于它的项到期后直接丢弃
func (m *IOTClientManager) RemoveSession(session *MQTTSession) {
	session.SetConnected(false)
	session.clearWindow()
	if m.clients.CompareAndDel(session.ClientId(), session) {
		m.dropProcessing(session.ClientId())
		Log.Debugf("remove session %s", session)
	}
}

func (m *IOTClientManager) ResendInterval() time.Duration {
	return m.resendInterval
}

func (m *IOTClientManager) InflightTimeouts() *delayqueue.DelayQueue {
	return m.inflightTimeouts
}

func (m *IOTClientManager) brokerTable(brokerName string) *collection.SafeMap {
	if v, ok := m.processTable.Get(brokerName); ok {
		return v.(*collection.SafeMap)
	}
	v, _ := m.processTable.GetOrSet(brokerName, collection.NewSafeMap())
	return v.(*collection.SafeMap)
}

// AddProcessing 记录推送中的消息，返回同一 offset 上被替换的消息
func (m *IOTClientManager) AddProcessing(brokerName, topic, clientId string, msg *MessageExt) *MessageExt {
	v, _ := m.brokerTable(brokerName).GetOrSet(util.TopicClient(topic, clientId), NewOffsetTree())
	return v.(*OffsetTree).Put(msg.QueueOffset, msg)
}

// RemoveProcessing 按消息本身删除，同一 offset 已被其他推送记录时不动
func (m *IOTClientManager) RemoveProcessing(brokerName, topic, clientId string, msg *MessageExt) bool {
	return m.rollbackProcessing(brokerName, topic, clientId, msg, nil)
}

func (m *IOTClientManager) rollbackProcessing(brokerName, topic, clientId string, msg, prev *MessageExt) bool {
	bv, ok := m.processTable.Get(brokerName)
	if !ok {
		return false
	}
	v, ok := bv.(*collection.SafeMap).Get(util.TopicClient(topic, clientId))
	if !ok {
		return false
	}
	return v.(*OffsetTree).CompareAndRemove(msg.QueueOffset, msg, prev)
}

// FirstProcessing topic@clientId 最小未确认 offset
func (m *IOTClientManager) FirstProcessing(brokerName, topic, clientId string) (int64, bool) {
	bv, ok := m.processTable.Get(brokerName)
	if !ok {
		return 0, false
	}
	v, ok := bv.(*collection.SafeMap).Get(util.TopicClient(topic, clientId))
	if !ok {
		return 0, false
	}
	return v.(*OffsetTree).First()
}

func (m *IOTClientManager) dropProcessing(clientId string) {
	_ = m.processTable.Range(func(_, bv interface{}) error {
		table := bv.(*collection.SafeMap)
		var keys []interface{}
		_ = table.Range(func(k, _ interface{}) error {
			if _, cid, ok := util.SplitTopicClient(k.(string)); ok && cid == clientId {
				keys = append(keys, k)
			}
			return nil
		})
		table.Dels(keys...)
		return nil
	})
}

// ProcessTable 快照，空的 OffsetTree 不返回
func (m *IOTClientManager) ProcessTable() []ProcessEntry {
	var out []ProcessEntry
	_ = m.processTable.Range(func(bk, bv interface{}) error {
		brokerName := bk.(string)
		return bv.(*collection.SafeMap).Range(func(k, v interface{}) error {
			offset, ok := v.(*OffsetTree).First()
			if !ok {
				return nil
			}
			topic, clientId, ok := util.SplitTopicClient(k.(string))
			if !ok {
				return nil
			}
			out = append(out, ProcessEntry{BrokerName: brokerName, Topic: topic, ClientId: clientId, Offset: offset})
			return nil
		})
	})
	return out
}
