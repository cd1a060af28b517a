package remoting

import "errors"

var (
	ErrRemotingTimeout = errors.New("remoting: wait response timeout")
	ErrRemotingSend    = errors.New("remoting: send request failed")
	ErrRemotingConnect = errors.New("remoting: connect failed")
	ErrClientShutdown  = errors.New("remoting: client shutdown")
	ErrChannelClosed   = errors.New("remoting: channel closed")
	ErrWriteQueueFull  = errors.New("remoting: write queue full")
)
