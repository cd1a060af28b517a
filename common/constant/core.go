package constant

const (
	// TopicClientSeparator 拼接 topic@clientId
	TopicClientSeparator = "@"

	// AutoIdPrefix 客户端 id 为空时自动生成的前缀
	AutoIdPrefix = "auto-"

	// MaxQosAllowed is the maximum QOS supported by this server
	MaxQosAllowed byte = 0x02
)

const (
	// FlightBeforeResendMs 推送后等待 ack 的时间，超时后重发
	FlightBeforeResendMs = 5000
	// MaxResendTimes 超过该重发次数断开客户端
	MaxResendTimes = 3
	// InitialScanDelayMs ack 超时扫描任务首次执行前的预热时间
	InitialScanDelayMs = 10000
	// PersistOffsetIntervalMs 位点提交周期
	PersistOffsetIntervalMs = 2000
	// ScanAckTimeoutIntervalMs ack 超时扫描周期
	ScanAckTimeoutIntervalMs = 1000

	// PullIdleIntervalMs enode 没有新消息时，隔多久再拉
	PullIdleIntervalMs = 1000

	KeepAlive      = 100
	ConnectTimeout = 5
	WriteTimeout   = 3
)

// DefaultQueueId mqtt 主题在 enode 上固定映射到 0 号队列
const DefaultQueueId int32 = 0
