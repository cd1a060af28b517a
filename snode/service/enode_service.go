package service

import (
	"fmt"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	. "github.com/lybxkl/snode/common/log"
	"github.com/lybxkl/snode/remoting"
	"github.com/lybxkl/snode/remoting/protocol"
	"github.com/lybxkl/snode/snode/gcfg"
	"github.com/lybxkl/snode/util/collection"
)

var _ EnodeService = (*RemoteEnodeService)(nil)

// RemoteEnodeService 通过 rpc 访问 enode，每个地址一个熔断器
type RemoteEnodeService struct {
	client  remoting.RemotingClient
	nnode   NnodeService
	offsets ConsumerOffsetManager

	timeout  time.Duration
	breaker  gcfg.Breaker
	breakers *collection.SafeMap // addr -> *gobreaker.TwoStepCircuitBreaker
}

func NewRemoteEnodeService(client remoting.RemotingClient, nnode NnodeService, offsets ConsumerOffsetManager, cfg gcfg.Snode) *RemoteEnodeService {
	return &RemoteEnodeService{
		client:   client,
		nnode:    nnode,
		offsets:  offsets,
		timeout:  cfg.RpcTimeout(),
		breaker:  cfg.Breaker,
		breakers: collection.NewSafeMap(),
	}
}

func (s *RemoteEnodeService) SendMessage(ch remoting.RemotingChannel, enodeName string, request *protocol.RemotingCommand) *remoting.Promise {
	return s.invoke(enodeName, request)
}

func (s *RemoteEnodeService) PullMessage(ch remoting.RemotingChannel, enodeName string, request *protocol.RemotingCommand) *remoting.Promise {
	return s.invoke(enodeName, request)
}

func (s *RemoteEnodeService) PersistOffset(ch remoting.RemotingChannel, enodeName, topic, clientId string, queueId int32, offset int64) {
	request := protocol.CreateRequestCommand(protocol.UpdateConsumerOffset, map[string]string{
		protocol.KeyConsumerGroup: clientId,
		protocol.KeyTopic:         topic,
		protocol.KeyQueueId:       strconv.Itoa(int(queueId)),
		protocol.KeyCommitOffset:  strconv.FormatInt(offset, 10),
	})
	s.invoke(enodeName, request).Then(func(resp *protocol.RemotingCommand, err error) {
		if err != nil {
			Log.Warnf("persist offset failed, enode=%s topic=%s client=%s offset=%d: %v", enodeName, topic, clientId, offset, err)
			return
		}
		if resp.Code != protocol.Success {
			Log.Warnf("persist offset failed, enode=%s topic=%s client=%s offset=%d: code=%d %s",
				enodeName, topic, clientId, offset, resp.Code, resp.Remark)
			return
		}
		s.offsets.CacheOffset(enodeName, clientId, topic, queueId, offset)
	})
}

func (s *RemoteEnodeService) QueryOffset(enodeName, group, topic string, queueId int32) *remoting.Promise {
	request := protocol.CreateRequestCommand(protocol.QueryConsumerOffset, map[string]string{
		protocol.KeyConsumerGroup: group,
		protocol.KeyTopic:         topic,
		protocol.KeyQueueId:       strconv.Itoa(int(queueId)),
	})
	p := s.invoke(enodeName, request)
	p.Then(func(resp *protocol.RemotingCommand, err error) {
		if err != nil || resp.Code != protocol.Success {
			return
		}
		if offset, err := resp.ExtInt64(protocol.KeyQueueOffset); err == nil {
			s.offsets.CacheOffset(enodeName, group, topic, queueId, offset)
		}
	})
	return p
}

func (s *RemoteEnodeService) invoke(enodeName string, request *protocol.RemotingCommand) *remoting.Promise {
	addr, err := s.nnode.GetAddressByEnodeName(enodeName, false)
	if err != nil {
		return remoting.FailedPromise(fmt.Errorf("%w: %s: %v", ErrEnodeUnresolvable, enodeName, err))
	}

	done, err := s.breakerOf(addr).Allow()
	if err != nil {
		// 熔断打开，关闭可疑连接，下次半开时重新建连
		s.client.CloseChannel(addr)
		return remoting.FailedPromise(fmt.Errorf("%w: %s(%s): %v", ErrEnodeSuspect, enodeName, addr, err))
	}

	p := remoting.NewPromise()
	err = s.client.InvokeAsync(addr, request, s.timeout, func(f *remoting.ResponseFuture) {
		done(f.Err() == nil)
		if f.Err() != nil {
			p.Fail(f.Err())
			return
		}
		p.Complete(f.Response())
	})
	if err != nil {
		done(false)
		p.Fail(err)
	}
	return p
}

func (s *RemoteEnodeService) breakerOf(addr string) *gobreaker.TwoStepCircuitBreaker {
	if v, ok := s.breakers.Get(addr); ok {
		return v.(*gobreaker.TwoStepCircuitBreaker)
	}
	failures := s.breaker.ConsecutiveFailures
	cb := gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        addr,
		MaxRequests: s.breaker.MaxRequests,
		Interval:    time.Duration(s.breaker.IntervalMillis) * time.Millisecond,
		Timeout:     time.Duration(s.breaker.OpenTimeoutMillis) * time.Millisecond,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return failures > 0 && counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			Log.Warnf("enode <%s> circuit breaker %s -> %s", name, from, to)
		},
	})
	actual, _ := s.breakers.GetOrSet(addr, cb)
	return actual.(*gobreaker.TwoStepCircuitBreaker)
}
