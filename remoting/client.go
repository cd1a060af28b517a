package remoting

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"

	. "github.com/lybxkl/snode/common/log"
	"github.com/lybxkl/snode/remoting/protocol"
	"github.com/lybxkl/snode/util/collection"
	"github.com/lybxkl/snode/util/cron"
	"github.com/lybxkl/snode/util/gopool"
	"github.com/lybxkl/snode/util/timeout_io"
)

const scanResponseTableJob = "scanResponseTable"

// RemotingClient snode 访问 enode 的异步 rpc 客户端
type RemotingClient interface {
	Start()
	Shutdown()
	// InvokeAsync 只做登记和入队，不在调用方协程上建连或写网络。
	// 只有客户端已关闭或请求无法编码时直接返回 error 且不会回调，
	// 其余失败（建连失败、写队列满、写失败、超时、连接断开）都只通过 callback 通知
	InvokeAsync(addr string, request *protocol.RemotingCommand, timeout time.Duration, callback InvokeCallback) error
	InvokeOneway(addr string, request *protocol.RemotingCommand) error
	// CloseChannel 调用方认为连接可疑时关闭，下次调用重新建连
	CloseChannel(addr string)
}

type ClientConfig struct {
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	WriteQueueSize int
	ScanInterval   time.Duration
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ConnectTimeout: 3 * time.Second,
		WriteTimeout:   3 * time.Second,
		WriteQueueSize: defaultWriteQueueSize,
		ScanInterval:   time.Second,
	}
}

const defaultWriteQueueSize = 4096

type TcpRemotingClient struct {
	cfg ClientConfig

	responseTable *ResponseTable
	channels      *collection.SafeMap // addr -> *tcpChannel
	dialMu        sync.Mutex

	scheduler *cron.ScheduleCron
	shutdown  *atomic.Bool
}

func NewTcpRemotingClient(cfg ClientConfig) *TcpRemotingClient {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = time.Second
	}
	if cfg.WriteQueueSize <= 0 {
		cfg.WriteQueueSize = defaultWriteQueueSize
	}
	return &TcpRemotingClient{
		cfg:           cfg,
		responseTable: NewResponseTable(),
		channels:      collection.NewSafeMap(),
		scheduler:     cron.NewScheduleCron(nil),
		shutdown:      atomic.NewBool(false),
	}
}

func (c *TcpRemotingClient) Start() {
	c.scheduler.Schedule(cron.NewFixedRate(c.cfg.ScanInterval, c.cfg.ScanInterval), scanResponseTableJob, cron.FuncJob{
		Name: scanResponseTableJob,
		Fn: func() {
			if n := c.responseTable.ScanResponseTable(time.Now()); n > 0 {
				Log.Warnf("scan response table, remove %d timeout request", n)
			}
		},
	})
	c.scheduler.Start()
}

func (c *TcpRemotingClient) Shutdown() {
	if !c.shutdown.CAS(false, true) {
		return
	}
	c.scheduler.Stop()
	for _, v := range c.channels.Values() {
		_ = v.(*tcpChannel).Close()
	}
	for _, f := range c.responseTable.TakeAll() {
		f.complete(nil, ErrClientShutdown)
	}
}

func (c *TcpRemotingClient) ResponseTable() *ResponseTable {
	return c.responseTable
}

func (c *TcpRemotingClient) InvokeAsync(addr string, request *protocol.RemotingCommand, timeout time.Duration, callback InvokeCallback) error {
	if c.shutdown.Load() {
		return ErrClientShutdown
	}
	opaque := request.NextOpaque()
	b, err := request.Encode()
	if err != nil {
		return err
	}
	ch := c.getOrCreateChannel(addr)
	c.responseTable.Put(NewResponseFuture(opaque, ch, timeout, callback))

	if err := ch.enqueue(outbound{opaque: opaque, frame: b}); err != nil {
		Log.Warnf("send request to <%s> failed: %v", addr, err)
		c.responseTable.FailRequest(opaque, fmt.Errorf("%w: %w", ErrRemotingSend, err))
	}
	return nil
}

// InvokeOneway 入队即返回，之后的写失败只记日志
func (c *TcpRemotingClient) InvokeOneway(addr string, request *protocol.RemotingCommand) error {
	if c.shutdown.Load() {
		return ErrClientShutdown
	}
	request.MarkOneway()
	b, err := request.Encode()
	if err != nil {
		return err
	}
	if err := c.getOrCreateChannel(addr).enqueue(outbound{oneway: true, frame: b}); err != nil {
		return fmt.Errorf("%w: %w", ErrRemotingSend, err)
	}
	return nil
}

func (c *TcpRemotingClient) CloseChannel(addr string) {
	if v, ok := c.channels.Get(addr); ok {
		c.closeChannel(v.(*tcpChannel))
	}
}

func (c *TcpRemotingClient) closeChannel(ch *tcpChannel) {
	c.channels.CompareAndDel(ch.addr, ch)
	_ = ch.Close()
}

// getOrCreateChannel 只创建 channel 对象，建连由该 channel 的写协程完成
func (c *TcpRemotingClient) getOrCreateChannel(addr string) *tcpChannel {
	if v, ok := c.channels.Get(addr); ok && v.(*tcpChannel).IsConnected() {
		return v.(*tcpChannel)
	}
	c.dialMu.Lock()
	defer c.dialMu.Unlock()
	if v, ok := c.channels.Get(addr); ok {
		if ch := v.(*tcpChannel); ch.IsConnected() {
			return ch
		}
	}

	ch := newTcpChannel(addr, c.cfg.WriteQueueSize)
	c.channels.Set(addr, ch)
	gopool.GoSafe(func() {
		c.writeLoop(ch)
	})
	return ch
}

// writeLoop 建连后按入队顺序写出请求帧，退出时结束队列里剩下的请求
func (c *TcpRemotingClient) writeLoop(ch *tcpChannel) {
	cause := ErrChannelClosed
	defer func() {
		c.closeChannel(ch)
		for _, o := range ch.drain() {
			if !o.oneway {
				c.responseTable.FailRequest(o.opaque, cause)
			}
		}
	}()

	conn, err := net.DialTimeout("tcp", ch.addr, c.cfg.ConnectTimeout)
	if err != nil {
		Log.Warnf("create channel to <%s> failed: %v", ch.addr, err)
		cause = fmt.Errorf("%w: <%s> %v", ErrRemotingConnect, ch.addr, err)
		// 已出队或还在队列里的请求都挂在这条 channel 上
		for _, f := range c.responseTable.TakeByChannel(ch) {
			f.complete(nil, cause)
		}
		return
	}
	if !ch.attach(conn) {
		_ = conn.Close()
		return
	}
	Log.Infof("create channel to <%s> success", ch.addr)
	gopool.GoSafe(func() {
		c.readLoop(ch)
	})

	w := timeout_io.NewWriter(conn, c.cfg.WriteTimeout)
	for {
		select {
		case <-ch.closed:
			return
		case o := <-ch.queue:
			if _, err := w.Write(o.frame); err != nil {
				Log.Warnf("send request to <%s> failed: %v", ch.addr, err)
				if !o.oneway {
					c.responseTable.FailRequest(o.opaque, fmt.Errorf("%w: %v", ErrRemotingSend, err))
				}
				return
			}
		}
	}
}

// readLoop 读响应帧，连接断开后以 ErrChannelClosed 结束该连接上的在途请求
func (c *TcpRemotingClient) readLoop(ch *tcpChannel) {
	defer func() {
		c.closeChannel(ch)
		for _, f := range c.responseTable.TakeByChannel(ch) {
			f.complete(nil, ErrChannelClosed)
		}
	}()

	r := bufio.NewReader(ch.conn)
	for {
		cmd, err := protocol.Decode(r)
		if err != nil {
			if !errors.Is(err, io.EOF) && ch.IsConnected() {
				Log.Warnf("read from <%s> failed: %v", ch.addr, err)
			}
			return
		}
		if !cmd.IsResponse() {
			Log.Debugf("ignore request from <%s>: %s", ch.addr, cmd)
			continue
		}
		if !c.responseTable.ProcessResponse(cmd) {
			Log.Warnf("receive response, but not matched any request, <%s> %s", ch.addr, cmd)
		}
	}
}

var _ RemotingChannel = (*tcpChannel)(nil)

type outbound struct {
	opaque int32
	oneway bool
	frame  []byte
}

// tcpChannel 创建后先处于建连中，IsConnected 在 Close 之前一直为 true
type tcpChannel struct {
	addr  string
	conn  net.Conn
	queue chan outbound

	mu        sync.Mutex
	closed    chan struct{}
	connected *atomic.Bool
}

func newTcpChannel(addr string, queueSize int) *tcpChannel {
	return &tcpChannel{
		addr:      addr,
		queue:     make(chan outbound, queueSize),
		closed:    make(chan struct{}),
		connected: atomic.NewBool(true),
	}
}

// attach 建连完成，channel 已关闭时返回 false
func (ch *tcpChannel) attach(conn net.Conn) bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if !ch.IsConnected() {
		return false
	}
	ch.conn = conn
	return true
}

// enqueue 不阻塞，队列满或已关闭直接返回 error
func (ch *tcpChannel) enqueue(o outbound) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if !ch.IsConnected() {
		return ErrChannelClosed
	}
	select {
	case ch.queue <- o:
		return nil
	default:
		return ErrWriteQueueFull
	}
}

// drain 关闭之后取出队列里没写出去的请求
func (ch *tcpChannel) drain() []outbound {
	var out []outbound
	for {
		select {
		case o := <-ch.queue:
			out = append(out, o)
		default:
			return out
		}
	}
}

func (ch *tcpChannel) RemoteAddress() string {
	return ch.addr
}

func (ch *tcpChannel) IsConnected() bool {
	return ch.connected.Load()
}

func (ch *tcpChannel) Close() error {
	ch.mu.Lock()
	if !ch.connected.CAS(true, false) {
		ch.mu.Unlock()
		return nil
	}
	close(ch.closed)
	conn := ch.conn
	ch.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (ch *tcpChannel) Reply(cmd *protocol.RemotingCommand) error {
	cmd.MarkResponse()
	b, err := cmd.Encode()
	if err != nil {
		return err
	}
	return ch.enqueue(outbound{oneway: true, frame: b})
}
