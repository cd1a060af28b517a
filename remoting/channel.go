package remoting

import "github.com/lybxkl/snode/remoting/protocol"

// RemotingChannel 一条到对端的连接，mqtt 客户端连接和 enode 连接都实现它
type RemotingChannel interface {
	RemoteAddress() string
	IsConnected() bool
	Close() error
	// Reply 把命令写回对端，mqtt 连接会先经过协议转换
	Reply(cmd *protocol.RemotingCommand) error
}
