package mqtt

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"
	"go.uber.org/atomic"

	"github.com/lybxkl/snode/remoting"
	"github.com/lybxkl/snode/remoting/protocol"
	"github.com/lybxkl/snode/util/bufpool"
	"github.com/lybxkl/snode/util/timeout_io"
)

var _ remoting.RemotingChannel = (*MqttChannel)(nil)

// MqttChannel 一个 mqtt 客户端连接
type MqttChannel struct {
	conn       net.Conn
	dispatcher *EncodeDecodeDispatcher

	r  *timeout_io.Reader
	br *bufio.Reader

	writeMu sync.Mutex
	w       *timeout_io.Writer

	connected *atomic.Bool
	closeOnce sync.Once
	closeFns  []func()
}

func NewMqttChannel(conn net.Conn, dispatcher *EncodeDecodeDispatcher, readTimeout, writeTimeout time.Duration) *MqttChannel {
	r := timeout_io.NewReader(conn, readTimeout)
	return &MqttChannel{
		conn:       conn,
		dispatcher: dispatcher,
		r:          r,
		br:         bufio.NewReader(r),
		w:          timeout_io.NewWriter(conn, writeTimeout),
		connected:  atomic.NewBool(true),
	}
}

func (c *MqttChannel) RemoteAddress() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (c *MqttChannel) IsConnected() bool {
	return c.connected.Load()
}

// OnClose 连接关闭时回调，只会执行一次
func (c *MqttChannel) OnClose(fn func()) {
	c.writeMu.Lock()
	c.closeFns = append(c.closeFns, fn)
	c.writeMu.Unlock()
}

func (c *MqttChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		err = c.conn.Close()
		c.writeMu.Lock()
		fns := c.closeFns
		c.closeFns = nil
		c.writeMu.Unlock()
		for _, fn := range fns {
			fn()
		}
	})
	return err
}

// SetReadTimeout CONNECT 之后按 keepalive*1.5 设置
func (c *MqttChannel) SetReadTimeout(d time.Duration) {
	c.r.SetTimeout(d)
}

// ReadCommand 读取一个 mqtt 报文并转换成命令
func (c *MqttChannel) ReadCommand() (*protocol.RemotingCommand, error) {
	pkt, err := packets.ReadPacket(c.br)
	if err != nil {
		return nil, err
	}
	return FromWireMessage(c.dispatcher, pkt)
}

// Reply 转换成 mqtt 报文写出，不支持的类型不会有任何输出
func (c *MqttChannel) Reply(cmd *protocol.RemotingCommand) error {
	pkt, err := ToWireMessage(c.dispatcher, cmd)
	if err != nil {
		return err
	}
	return c.WritePacket(pkt)
}

func (c *MqttChannel) WritePacket(pkt packets.ControlPacket) error {
	if !c.IsConnected() {
		return remoting.ErrChannelClosed
	}
	buf := bufpool.BufferPoolGet()
	defer bufpool.BufferPoolPut(buf)
	if err := pkt.Write(buf); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.w.Write(buf.Bytes())
	return err
}
