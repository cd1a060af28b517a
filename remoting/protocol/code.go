package protocol

// RequestCode snode -> enode 请求码
const (
	SendMessage          int32 = 10
	PullMessage          int32 = 11
	QueryConsumerOffset  int32 = 14
	UpdateConsumerOffset int32 = 15
)

// ResponseCode enode 响应码
const (
	Success       int32 = 0
	SystemError   int32 = 1
	SystemBusy    int32 = 2
	PullNotFound  int32 = 19
	QueryNotFound int32 = 22
)

// ExtFields 中使用的 key
const (
	KeyTopic           = "topic"
	KeyQueueId         = "queueId"
	KeyConsumerGroup   = "consumerGroup"
	KeyProducerGroup   = "producerGroup"
	KeyQueueOffset     = "queueOffset"
	KeyCommitOffset    = "commitOffset"
	KeyMaxMsgNums      = "maxMsgNums"
	KeyEnodeName       = "enodeName"
	KeyNextBeginOffset = "nextBeginOffset"
	KeyMinOffset       = "minOffset"
	KeyMaxOffset       = "maxOffset"
	KeyMsgId           = "msgId"
)

// MqttMessage 进程内 mqtt 报文对应的命令码，具体类型在 mqtt header 中
const MqttMessage int32 = 1000
