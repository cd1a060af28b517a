package service

import (
	"sync"
	"time"

	"github.com/lybxkl/snode/common/constant"
	. "github.com/lybxkl/snode/common/log"
	"github.com/lybxkl/snode/mqtt/client"
	"github.com/lybxkl/snode/snode/gcfg"
	snodesvc "github.com/lybxkl/snode/snode/service"
	"github.com/lybxkl/snode/util"
	"github.com/lybxkl/snode/util/cron"
	"github.com/lybxkl/snode/util/delayqueue"
	"github.com/lybxkl/snode/util/gopool"
)

const (
	persistOffsetJob  = "persistOffset"
	scanAckTimeoutJob = "scanAckTimeout"
)

// InflightSource 调度服务需要的会话数据
type InflightSource interface {
	ProcessTable() []client.ProcessEntry
	InflightTimeouts() *delayqueue.DelayQueue
}

// MqttScheduledService 定时持久化消费进度、扫描超时未确认的消息并重发
type MqttScheduledService struct {
	source InflightSource
	enode  snodesvc.EnodeService
	cfg    gcfg.Mqtt

	scheduler *cron.ScheduleCron

	mu            sync.Mutex
	lastPersisted map[string]int64 // brokerName@topic@clientId -> offset
}

func NewMqttScheduledService(source InflightSource, enode snodesvc.EnodeService, cfg gcfg.Mqtt) *MqttScheduledService {
	return &MqttScheduledService{
		source:        source,
		enode:         enode,
		cfg:           cfg,
		scheduler:     cron.NewScheduleCron(nil),
		lastPersisted: make(map[string]int64),
	}
}

func (s *MqttScheduledService) StartScheduleTask() {
	s.scheduler.Schedule(cron.NewFixedRate(0, s.cfg.PersistOffsetEvery()), persistOffsetJob, cron.FuncJob{
		Name: persistOffsetJob,
		Fn:   s.PersistOffsets,
	})
	s.scheduler.Schedule(cron.NewFixedRate(s.cfg.InitialScanDelayDuration(), s.cfg.ScanAckTimeoutEvery()), scanAckTimeoutJob, cron.FuncJob{
		Name: scanAckTimeoutJob,
		Fn:   s.ScanInflightTimeouts,
	})
	s.scheduler.Start()
	Log.Infof("mqtt scheduled service started, persist every %v, scan every %v after %v",
		s.cfg.PersistOffsetEvery(), s.cfg.ScanAckTimeoutEvery(), s.cfg.InitialScanDelayDuration())
}

// Shutdown 停止调度，不等待正在执行的任务
func (s *MqttScheduledService) Shutdown() {
	s.scheduler.Stop()
}

// PersistOffsets 每个 topic@clientId 持久化最小的未确认 offset，不会比上次持久化的值小
func (s *MqttScheduledService) PersistOffsets() {
	entries := s.source.ProcessTable()

	s.mu.Lock()
	seen := make(map[string]struct{}, len(entries))
	persist := entries[:0:0]
	for _, e := range entries {
		key := e.BrokerName + constant.TopicClientSeparator + util.TopicClient(e.Topic, e.ClientId)
		seen[key] = struct{}{}
		if last, ok := s.lastPersisted[key]; ok && e.Offset < last {
			continue
		}
		s.lastPersisted[key] = e.Offset
		persist = append(persist, e)
	}
	for key := range s.lastPersisted {
		if _, ok := seen[key]; !ok {
			delete(s.lastPersisted, key)
		}
	}
	s.mu.Unlock()

	for _, e := range persist {
		s.enode.PersistOffset(nil, e.BrokerName, e.Topic, e.ClientId, constant.DefaultQueueId, e.Offset)
	}
}

// ScanInflightTimeouts 取出所有到期的项逐个处理，单个失败不影响其他
func (s *MqttScheduledService) ScanInflightTimeouts() {
	queue := s.source.InflightTimeouts()
	for _, d := range queue.DrainExpired(time.Now()) {
		packet, ok := d.(*client.InFlightPacket)
		if !ok {
			continue
		}
		gopool.RunSafe(func() {
			s.handleExpired(queue, packet)
		})
	}
}

func (s *MqttScheduledService) handleExpired(queue *delayqueue.DelayQueue, packet *client.InFlightPacket) {
	session := packet.Session()
	if !session.IsConnected() {
		return
	}
	result, err := packet.ResendIfLive(s.cfg.MaxResendTimes, time.Now().Add(s.cfg.ResendInterval()))
	switch result {
	case client.ResendStale:
	case client.ResendGiveUp:
		Log.Warnf("%s packet %d not acked after %d resends, close it", session, packet.PacketId(), packet.ResendTime())
		_ = session.Close()
	case client.ResendSent:
		if err != nil {
			Log.Warnf("resend to %s failed, close it: %v", session, err)
			_ = session.Close()
			return
		}
		queue.Add(packet)
	}
}
