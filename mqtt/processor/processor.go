package processor

import (
	"errors"
	"fmt"

	. "github.com/lybxkl/snode/common/log"
	"github.com/lybxkl/snode/mqtt/client"
	"github.com/lybxkl/snode/remoting"
	"github.com/lybxkl/snode/remoting/mqtt"
	"github.com/lybxkl/snode/remoting/protocol"
	snodeclient "github.com/lybxkl/snode/snode/client"
	"github.com/lybxkl/snode/snode/gcfg"
	snodesvc "github.com/lybxkl/snode/snode/service"
	"github.com/lybxkl/snode/util/collection"
	"github.com/lybxkl/snode/util/cron"
	"github.com/lybxkl/snode/util/middleware"
)

var (
	ErrNotConnected     = errors.New("processor: CONNECT not received")
	ErrDuplicateConnect = errors.New("processor: duplicate CONNECT")
)

// MessageHandler 处理一种 mqtt 报文，返回值不为空时写回客户端
type MessageHandler interface {
	HandleMessage(cmd *protocol.RemotingCommand, ch remoting.RemotingChannel) (*protocol.RemotingCommand, error)
}

// DefaultMqttMessageProcessor 按报文类型分发到各个 handler
type DefaultMqttMessageProcessor struct {
	handlers map[mqtt.MessageType]MessageHandler

	manager *client.IOTClientManager
	enode   snodesvc.EnodeService
	slow    snodeclient.SlowConsumerService

	snodeCfg gcfg.Snode
	mqttCfg  gcfg.Mqtt

	sessions   *collection.SafeMap // RemotingChannel -> *client.MQTTSession
	middleware middleware.Options
	delayTasks cron.DelayTaskManage // 空闲时的延迟拉取
}

func NewDefaultMqttMessageProcessor(manager *client.IOTClientManager, enode snodesvc.EnodeService,
	slow snodeclient.SlowConsumerService, cfg *gcfg.GConfig, options ...middleware.Option) *DefaultMqttMessageProcessor {
	p := &DefaultMqttMessageProcessor{
		handlers:   make(map[mqtt.MessageType]MessageHandler),
		manager:    manager,
		enode:      enode,
		slow:       slow,
		snodeCfg:   cfg.Snode,
		mqttCfg:    cfg.Mqtt,
		sessions:   collection.NewSafeMap(),
		delayTasks: cron.NewDelayTaskManage(),
	}
	for _, opt := range options {
		p.middleware.Apply(opt)
	}

	p.RegisterHandler(mqtt.CONNECT, &connectHandler{p})
	p.RegisterHandler(mqtt.DISCONNECT, &disconnectHandler{p})
	p.RegisterHandler(mqtt.PUBLISH, &publishHandler{p})
	p.RegisterHandler(mqtt.PUBACK, &pubackHandler{p})
	p.RegisterHandler(mqtt.PUBREC, &pubrecHandler{p})
	p.RegisterHandler(mqtt.PUBREL, &pubrelHandler{p})
	p.RegisterHandler(mqtt.PUBCOMP, &pubcompHandler{p})
	p.RegisterHandler(mqtt.SUBSCRIBE, &subscribeHandler{p})
	p.RegisterHandler(mqtt.UNSUBSCRIBE, &unsubscribeHandler{p})
	p.RegisterHandler(mqtt.PINGREQ, &pingreqHandler{p})
	return p
}

func (p *DefaultMqttMessageProcessor) RegisterHandler(t mqtt.MessageType, handler MessageHandler) {
	p.handlers[t] = handler
}

// ProcessRequest 处理客户端发来的一个报文，返回 error 时调用方应关闭连接
func (p *DefaultMqttMessageProcessor) ProcessRequest(ch remoting.RemotingChannel, cmd *protocol.RemotingCommand) error {
	header, err := mqtt.HeaderOf(cmd)
	if err != nil {
		return err
	}
	if len(p.middleware) > 0 {
		p.middleware.Handle(ch.RemoteAddress(), header)
	}

	handler, ok := p.handlers[header.MessageType]
	if !ok {
		return fmt.Errorf("%w: %s", mqtt.ErrUnsupportedMessageType, header.MessageType)
	}
	if header.MessageType != mqtt.CONNECT {
		if _, ok := p.SessionOf(ch); !ok {
			return fmt.Errorf("%w: got %s", ErrNotConnected, header.MessageType)
		}
	}

	resp, err := handler.HandleMessage(cmd, ch)
	if err != nil {
		return err
	}
	if resp != nil {
		return ch.Reply(resp)
	}
	return nil
}

// SessionOf 连接上的会话，CONNECT 之前不存在
func (p *DefaultMqttMessageProcessor) SessionOf(ch remoting.RemotingChannel) (*client.MQTTSession, bool) {
	v, ok := p.sessions.Get(ch)
	if !ok {
		return nil, false
	}
	return v.(*client.MQTTSession), true
}

// OnChannelClose 连接断开后移除会话
func (p *DefaultMqttMessageProcessor) OnChannelClose(ch remoting.RemotingChannel) {
	v, ok := p.sessions.GetDel(ch)
	if !ok {
		return
	}
	session := v.(*client.MQTTSession)
	p.manager.RemoveSession(session)
	for topic := range session.Subscriptions() {
		p.cancelPullLater(session, topic)
	}
	Log.Infof("client %s disconnected, remote %s", session, ch.RemoteAddress())
}

func (p *DefaultMqttMessageProcessor) Manager() *client.IOTClientManager {
	return p.manager
}

// Shutdown 停止延迟拉取，未执行的任务直接丢弃
func (p *DefaultMqttMessageProcessor) Shutdown() {
	p.delayTasks.Stop()
}
