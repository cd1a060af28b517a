package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	"go.uber.org/atomic"

	. "github.com/lybxkl/snode/common/log"
	"github.com/lybxkl/snode/mqtt/processor"
	"github.com/lybxkl/snode/remoting/mqtt"
	"github.com/lybxkl/snode/snode/gcfg"
	"github.com/lybxkl/snode/util/collection"
	"github.com/lybxkl/snode/util/gopool"
)

var (
	ErrServerRunning   = errors.New("server: already running")
	ErrFirstNotConnect = errors.New("server: first packet is not CONNECT")
)

// Server mqtt 接入，每个连接一个读协程
type Server struct {
	uri *url.URL
	cfg gcfg.Mqtt

	processor  *processor.DefaultMqttMessageProcessor
	dispatcher *mqtt.EncodeDecodeDispatcher

	mu sync.Mutex
	ln net.Listener

	running *atomic.Bool
	quit    chan struct{}
	conns   *collection.SafeMap // *mqtt.MqttChannel -> struct{}

	close []io.Closer
}

// NewServer uri 格式为 "protocol://host:port"，例如 "tcp://0.0.0.0:1883"
func NewServer(uri string, p *processor.DefaultMqttMessageProcessor, cfg gcfg.Mqtt) (*Server, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	return &Server{
		uri:        u,
		cfg:        cfg,
		processor:  p,
		dispatcher: mqtt.NewDefaultDispatcher(),
		running:    atomic.NewBool(false),
		quit:       make(chan struct{}),
		conns:      collection.NewSafeMap(),
	}, nil
}

// Listen 只监听不接收连接，测试中用于拿到随机端口
func (server *Server) Listen() error {
	server.mu.Lock()
	defer server.mu.Unlock()
	if server.ln != nil {
		return nil
	}
	ln, err := net.Listen(server.uri.Scheme, server.uri.Host)
	if err != nil {
		return err
	}
	server.ln = ln
	return nil
}

func (server *Server) Addr() net.Addr {
	server.mu.Lock()
	defer server.mu.Unlock()
	if server.ln == nil {
		return nil
	}
	return server.ln.Addr()
}

// ListenAndServe 在 Shutdown 之前不会返回，除非出现不可恢复的错误
func (server *Server) ListenAndServe() error {
	if !server.running.CAS(false, true) {
		return ErrServerRunning
	}
	defer server.running.Store(false)

	if err := server.Listen(); err != nil {
		return err
	}
	server.mu.Lock()
	ln := server.ln
	server.mu.Unlock()
	select {
	case <-server.quit:
		_ = ln.Close()
		return nil
	default:
	}

	Log.Infof("AddMQTTHandler uri=%v", ln.Addr())
	var tempDelay time.Duration // 接受失败要睡多久，默认5ms，最大1s
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-server.quit:
				return nil
			default:
			}

			// 暂时的错误处理
			var ne net.Error
			if errors.As(err, &ne) && ne.Temporary() {
				tempDelay = reset(tempDelay)
				Log.Errorf("Accept error: %v; retrying in %v", err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0
		gopool.GoSafe(func() {
			if handleErr := server.handleConnection(conn); handleErr != nil {
				Log.Warnf("connection %s closed: %v", conn.RemoteAddr(), handleErr)
			}
		})
	}
}

func (server *Server) AddCloser(close io.Closer) {
	server.close = append(server.close, close)
}

// Shutdown 停止接收新连接并关闭现有连接
func (server *Server) Shutdown() error {
	select {
	case <-server.quit:
		return nil
	default:
		close(server.quit)
	}

	server.mu.Lock()
	if server.ln != nil {
		if err := server.ln.Close(); err != nil {
			Log.Errorf("关闭网络Listener错误:%v", err)
		}
	}
	server.mu.Unlock()

	for _, v := range server.conns.Values() {
		_ = v.(*mqtt.MqttChannel).Close()
	}

	for i := 0; i < len(server.close); i++ {
		if err := server.close[i].Close(); err != nil {
			Log.Error(err.Error())
		}
	}
	return nil
}

// handleConnection 第一个报文必须是 CONNECT，之后按 keepalive*1.5 设置读超时
func (server *Server) handleConnection(conn net.Conn) error {
	ch := mqtt.NewMqttChannel(conn, server.dispatcher,
		time.Duration(server.cfg.ConnectTimeout)*time.Second,
		time.Duration(server.cfg.WriteTimeout)*time.Second)
	server.conns.Set(ch, struct{}{})
	ch.OnClose(func() {
		server.conns.Del(ch)
		server.processor.OnChannelClose(ch)
	})
	defer ch.Close()

	cmd, err := ch.ReadCommand()
	if err != nil {
		return err
	}
	header, err := mqtt.HeaderOf(cmd)
	if err != nil {
		return err
	}
	if header.MessageType != mqtt.CONNECT {
		return fmt.Errorf("%w: %s", ErrFirstNotConnect, header.MessageType)
	}
	if err = server.processor.ProcessRequest(ch, cmd); err != nil {
		return err
	}
	session, ok := server.processor.SessionOf(ch)
	if !ok {
		return nil
	}
	ch.SetReadTimeout(time.Duration(session.Keepalive()) * time.Second * 3 / 2)

	for {
		cmd, err = ch.ReadCommand()
		if err != nil {
			if !ch.IsConnected() || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err = server.processor.ProcessRequest(ch, cmd); err != nil {
			return err
		}
	}
}

func reset(tempDelay time.Duration) time.Duration {
	if tempDelay == 0 {
		tempDelay = 5 * time.Millisecond
	} else {
		tempDelay *= 2
	}
	if max := 1 * time.Second; tempDelay > max {
		tempDelay = max
	}
	return tempDelay
}
