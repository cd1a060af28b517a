package client

import (
	"time"

	"github.com/bsm/ratelimit"
	"go.uber.org/atomic"

	. "github.com/lybxkl/snode/common/log"
	"github.com/lybxkl/snode/remoting"
	"github.com/lybxkl/snode/remoting/protocol"
	"github.com/lybxkl/snode/snode/service"
)

type SlowConsumerService interface {
	IsSlowConsumer(currentOffset int64, topic string, queueId int32, consumerGroup, enodeName string) bool
	SlowConsumerResolve(pushMessage *protocol.RemotingCommand, ch remoting.RemotingChannel)
}

type slowConsumerService struct {
	offsets   service.ConsumerOffsetManager
	threshold int64

	logLimit   *ratelimit.RateLimiter
	suppressed *atomic.Int64
}

// NewSlowConsumerService 慢消费告警每秒最多输出 logPerSecond 条，其余只计数
func NewSlowConsumerService(offsets service.ConsumerOffsetManager, threshold int64, logPerSecond int) SlowConsumerService {
	if logPerSecond <= 0 {
		logPerSecond = 10
	}
	return &slowConsumerService{
		offsets:    offsets,
		threshold:  threshold,
		logLimit:   ratelimit.New(logPerSecond, time.Second),
		suppressed: atomic.NewInt64(0),
	}
}

// IsSlowConsumer 还没有持久化过的进度（-1）不算慢消费
func (s *slowConsumerService) IsSlowConsumer(currentOffset int64, topic string, queueId int32, consumerGroup, enodeName string) bool {
	ackedOffset := s.offsets.QueryCacheOffset(enodeName, consumerGroup, topic, queueId)
	if ackedOffset < 0 {
		return false
	}
	if currentOffset-ackedOffset > s.threshold {
		s.warnf("[SlowConsumer] group: %s, topic: %s, queueId: %d, lastAckedOffset: %d, nowOffset: %d",
			consumerGroup, topic, queueId, ackedOffset, currentOffset)
		return true
	}
	return false
}

func (s *slowConsumerService) SlowConsumerResolve(pushMessage *protocol.RemotingCommand, ch remoting.RemotingChannel) {
	addr := ""
	if ch != nil {
		addr = ch.RemoteAddress()
	}
	s.warnf("[SlowConsumer] RemotingChannel address: %s", addr)
}

func (s *slowConsumerService) warnf(template string, args ...interface{}) {
	if s.logLimit.Limit() {
		s.suppressed.Inc()
		return
	}
	if n := s.suppressed.Swap(0); n > 0 {
		Log.Warnf("[SlowConsumer] %d warnings suppressed", n)
	}
	Log.Warnf(template, args...)
}
