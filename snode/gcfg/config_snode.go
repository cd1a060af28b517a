package gcfg

import "time"

type Snode struct {
	Name                  string  `toml:"name" validate:"default=snode-*"`
	SlowConsumerThreshold int64   `toml:"slowConsumerThreshold" validate:"default=10000"` // 消费进度落后超过该值视为慢消费
	RpcTimeoutMillis      int     `toml:"rpcTimeoutMillis" validate:"default=3000"`
	ConnectTimeoutMillis  int     `toml:"connectTimeoutMillis" validate:"default=3000"`
	WriteQueueSize        int     `toml:"writeQueueSize" validate:"default=4096"` // 每条 enode 连接待写请求上限，满了直接失败
	DefaultEnodeName      string  `toml:"defaultEnodeName" validate:"default=broker-a"`
	ConsumerGroupPrefix   string  `toml:"consumerGroupPrefix" validate:"default=snode-"`
	ServerTaskPoolSize    int     `toml:"serverTaskPoolSize" validate:"default=2000"`
	Enodes                []Enode `toml:"enodes" validate:"dive"`

	Breaker Breaker `toml:"breaker"`
}

type Enode struct {
	Name  string `toml:"name" validate:"required"`
	Addr  string `toml:"addr" validate:"required"`
	Local bool   `toml:"local"`
}

// Breaker 每个 enode 地址一个熔断器
type Breaker struct {
	MaxRequests         uint32 `toml:"maxRequests" validate:"default=1"`          // 半开状态允许通过的请求数
	IntervalMillis      int    `toml:"intervalMillis" validate:"default=60000"`   // 闭合状态下清零计数的周期
	OpenTimeoutMillis   int    `toml:"openTimeoutMillis" validate:"default=5000"` // 打开多久之后进入半开
	ConsecutiveFailures uint32 `toml:"consecutiveFailures" validate:"default=5"`  // 连续失败次数达到即打开
}

func (s Snode) RpcTimeout() time.Duration {
	return time.Duration(s.RpcTimeoutMillis) * time.Millisecond
}

func (s Snode) ConnectTimeout() time.Duration {
	return time.Duration(s.ConnectTimeoutMillis) * time.Millisecond
}
