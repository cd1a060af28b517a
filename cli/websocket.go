package cli

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"

	"golang.org/x/net/websocket"

	. "github.com/lybxkl/snode/common/log"
	"github.com/lybxkl/snode/snode/gcfg"
)

// wsServer 将 ws 连接的数据转发到 mqtt tcp 端口，wsAddr 为空时不开启
func wsServer(cfg gcfg.Mqtt) *http.Server {
	if cfg.WsAddr == "" || cfg.WsPath == "" {
		return nil
	}
	u, err := url.Parse(cfg.MqttAddr)
	if err != nil {
		Log.Errorf("websocket disabled, bad mqtt addr %s: %v", cfg.MqttAddr, err)
		return nil
	}
	Log.Infof("AddWebsocketHandler urlPattern=%s, uri=%s", cfg.WsPath, cfg.MqttAddr)

	mux := http.NewServeMux()
	mux.Handle(cfg.WsPath, websocket.Handler(func(ws *websocket.Conn) {
		ws.PayloadType = websocket.BinaryFrame
		if err := WebsocketTcpProxy(ws, u.Scheme, u.Host); err != nil {
			Log.Warnf("websocket proxy %s: %v", ws.Request().RemoteAddr, err)
		}
	}))
	return &http.Server{Addr: cfg.WsAddr, Handler: mux}
}

// WebsocketTcpProxy websocket <-> tcp，任意一个方向结束即关闭两端，返回先结束一方的错误，正常关闭返回 nil
func WebsocketTcpProxy(ws *websocket.Conn, nettype string, host string) error {
	client, err := net.Dial(nettype, host)
	if err != nil {
		return err
	}
	defer client.Close()
	defer ws.Close()
	done := make(chan error, 2)

	go func() {
		done <- tcpToWs(client, ws)
	}()
	go func() {
		done <- wsToTcp(ws, client)
	}()
	return <-done
}

// wsToTcp 每个二进制帧原样写到 tcp
func wsToTcp(src *websocket.Conn, dst io.Writer) error {
	var frame []byte
	for {
		if err := websocket.Message.Receive(src, &frame); err != nil {
			return ignoreEOF(err)
		}
		if _, err := dst.Write(frame); err != nil {
			return fmt.Errorf("write tcp: %w", err)
		}
	}
}

// tcpToWs 读到多少发一帧
func tcpToWs(src io.Reader, dst *websocket.Conn) error {
	chunk := make([]byte, 2048)
	for {
		n, err := src.Read(chunk)
		if n > 0 {
			if err := websocket.Message.Send(dst, chunk[:n]); err != nil {
				return fmt.Errorf("write websocket: %w", err)
			}
		}
		if err != nil {
			return ignoreEOF(err)
		}
	}
}

func ignoreEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
