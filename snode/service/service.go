package service

import (
	"errors"

	"github.com/lybxkl/snode/remoting"
	"github.com/lybxkl/snode/remoting/protocol"
)

var (
	ErrEnodeUnresolvable = errors.New("snode: enode address unresolvable")
	ErrEnodeSuspect      = errors.New("snode: enode suspected, circuit open")
)

// EnodeService 访问存储节点，全部异步
type EnodeService interface {
	SendMessage(ch remoting.RemotingChannel, enodeName string, request *protocol.RemotingCommand) *remoting.Promise
	PullMessage(ch remoting.RemotingChannel, enodeName string, request *protocol.RemotingCommand) *remoting.Promise
	// PersistOffset fire-and-forget，失败只记录日志
	PersistOffset(ch remoting.RemotingChannel, enodeName, topic, clientId string, queueId int32, offset int64)
	QueryOffset(enodeName, group, topic string, queueId int32) *remoting.Promise
}

// NnodeService enode 名称 -> 地址
type NnodeService interface {
	GetAddressByEnodeName(enodeName string, preferLocal bool) (string, error)
}

// ConsumerOffsetManager 已持久化的消费进度缓存
type ConsumerOffsetManager interface {
	// QueryCacheOffset 不存在时返回 -1
	QueryCacheOffset(enodeName, group, topic string, queueId int32) int64
	CacheOffset(enodeName, group, topic string, queueId int32, offset int64)
}
