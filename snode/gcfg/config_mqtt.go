package gcfg

import "time"

type Mqtt struct {
	MqttAddr string `toml:"mqttAddr" validate:"default=tcp://:1883"`
	WsAddr   string `toml:"wsAddr"` // 为空不开启 websocket
	WsPath   string `toml:"wsPath" validate:"default=/mqtt"`

	Keepalive      int `toml:"keepalive" validate:"default=100"`    // 秒，客户端未指定时使用
	ConnectTimeout int `toml:"connectTimeout" validate:"default=5"` // 秒，等待 CONNECT 的时间
	WriteTimeout   int `toml:"writeTimeout" validate:"default=3"`   // 秒

	PersistOffsetInterval  int `toml:"persistOffsetInterval" validate:"default=2000"`  // ms
	ScanAckTimeoutInterval int `toml:"scanAckTimeoutInterval" validate:"default=1000"` // ms
	InitialScanDelay       int `toml:"initialScanDelay" validate:"default=10000"`      // ms
	FlightBeforeResendMs   int `toml:"flightBeforeResendMs" validate:"default=5000"`
	MaxResendTimes         int `toml:"maxResendTimes" validate:"default=3"`

	MaxInflightMessages uint16 `toml:"maxInflightMessages" validate:"default=64"`
	MaxQos              int    `toml:"maxQos" validate:"default=2"`
	PullBatchSize       int    `toml:"pullBatchSize" validate:"default=32"`
	TraceMessages       bool   `toml:"traceMessages"`
}

func (m Mqtt) ResendInterval() time.Duration {
	return time.Duration(m.FlightBeforeResendMs) * time.Millisecond
}

func (m Mqtt) PersistOffsetEvery() time.Duration {
	return time.Duration(m.PersistOffsetInterval) * time.Millisecond
}

func (m Mqtt) ScanAckTimeoutEvery() time.Duration {
	return time.Duration(m.ScanAckTimeoutInterval) * time.Millisecond
}

func (m Mqtt) InitialScanDelayDuration() time.Duration {
	return time.Duration(m.InitialScanDelay) * time.Millisecond
}
