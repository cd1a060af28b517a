package log

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level zapcore.Level

const (
	DebugLevel Level = iota - 1
	// InfoLevel is the default logging priority.
	InfoLevel
	// WarnLevel logs are more important than Info, but don't need individual
	// human review.
	WarnLevel
	// ErrorLevel logs are high-priority. If an application is running smoothly,
	// it shouldn't generate any error-level logs.
	ErrorLevel
)

// ToLevel 大小写不敏感，未知级别按 info 处理
func ToLevel(level string) Level {
	l, ok := map[string]Level{
		"debug": DebugLevel,
		"info":  InfoLevel,
		"warn":  WarnLevel,
		"error": ErrorLevel,
	}[strings.ToLower(level)]
	if !ok {
		return InfoLevel
	}
	return l
}

var (
	once sync.Once
	// Log 在 NewGLog 之前是一个丢弃所有输出的 logger，测试里可以直接使用
	Log Logger = &_log{zap.NewNop().Sugar()}
)

type Logger interface {
	io.Closer

	Info(args ...interface{})
	Error(args ...interface{})
	Warn(args ...interface{})
	Debug(args ...interface{})

	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Debugf(template string, args ...interface{})

	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
}

// NewGLog 获取日志
func NewGLog(level Level) Logger {
	once.Do(func() {
		encoderConfig := zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,                          // 小写编码器
			EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000"), // ISO8601 UTC 时间格式
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder, // 短路径编码器
		}

		config := zap.Config{
			Level:            zap.NewAtomicLevelAt(zapcore.Level(level)), // 日志级别
			Development:      false,
			Encoding:         "console", // 输出格式 console 或 json
			EncoderConfig:    encoderConfig,
			InitialFields:    map[string]interface{}{"node": "snode"},
			OutputPaths:      []string{"stdout"},
			ErrorOutputPaths: []string{"stderr"},
		}

		log, err := config.Build()
		if err != nil {
			panic(fmt.Errorf("log 初始化失败: %v", err))
		}
		Log = &_log{
			log.Sugar(),
		}
		Log.Infow("log 初始化成功", "runTime", time.Now())
	})
	return Log
}

type _log struct {
	*zap.SugaredLogger
}

func (l *_log) Close() error {
	_ = l.SugaredLogger.Sync()
	return nil
}
