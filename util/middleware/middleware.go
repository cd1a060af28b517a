package middleware

import (
	. "github.com/lybxkl/snode/common/log"
)

type Options []Option

func (ops *Options) Apply(option Option) {
	*ops = append(*ops, option)
}

// Handle 依次执行，遇到不可忽略的错误时停止
func (ops Options) Handle(cid string, message interface{}) {
	for _, opt := range ops {
		canSkipErr, err := opt.Apply(message)
		if err == nil {
			continue
		}
		if canSkipErr {
			Log.Errorf("(%s) middleware deal msg %v error [skip]: %v", cid, message, err)
			continue
		}
		Log.Errorf("(%s) middleware deal msg %v error [no_skip]: %v", cid, message, err)
		return
	}
}

type Option interface {
	// Apply 返回bool true: 表示后面的非空error是可忽略的错误，不影响后面的中间件执行
	Apply(message interface{}) (canSkipErr bool, err error)
}

// OptionFunc 函数适配成 Option
type OptionFunc func(message interface{}) (bool, error)

func (f OptionFunc) Apply(message interface{}) (bool, error) {
	return f(message)
}

type console struct {
}

func (c *console) Apply(msg interface{}) (bool, error) {
	Log.Infof("[middleware]==> %v", msg)
	return true, nil
}

func WithConsole() Option {
	return &console{}
}
