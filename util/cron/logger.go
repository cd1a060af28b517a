package cron

import (
	. "github.com/lybxkl/snode/common/log"
)

// cronLogger 把 cron 内部日志接到 zap 上
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	Log.Debugw("[cron] "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	Log.Errorw("[cron] "+msg, append(keysAndValues, "err", err)...)
}
