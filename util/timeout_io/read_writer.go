package timeout_io

import (
	"net"
	"time"
)

// Conn 每次读写前刷新 deadline，d <= 0 表示不设超时
type Conn struct {
	d time.Duration
	net.Conn
}

type Writer struct {
	Conn
}

type Reader struct {
	Conn
}

func NewWriter(conn net.Conn, deadline time.Duration) *Writer {
	return &Writer{
		Conn{
			d:    deadline,
			Conn: conn,
		},
	}
}

func (w *Writer) Write(b []byte) (int, error) {
	if w.d > 0 {
		if err := w.Conn.SetWriteDeadline(time.Now().Add(w.d)); err != nil {
			return 0, err
		}
	}
	return w.Conn.Write(b)
}

func NewReader(conn net.Conn, deadline time.Duration) *Reader {
	return &Reader{
		Conn{
			d:    deadline,
			Conn: conn,
		},
	}
}

// SetTimeout mqtt CONNECT 之后按 keepalive 调整读超时
func (r *Reader) SetTimeout(d time.Duration) {
	r.d = d
}

func (r *Reader) Read(b []byte) (int, error) {
	if r.d > 0 {
		if err := r.Conn.SetReadDeadline(time.Now().Add(r.d)); err != nil {
			return 0, err
		}
	}
	return r.Conn.Read(b)
}

type ReadWriteCloser struct {
	*Writer
	*Reader
	*Closer
}

func NewRWCloser(conn net.Conn, readTimeout, writeTimeout time.Duration) *ReadWriteCloser {
	return &ReadWriteCloser{
		Writer: NewWriter(conn, writeTimeout),
		Reader: NewReader(conn, readTimeout),
		Closer: &Closer{conn: conn},
	}
}

type Closer struct {
	conn net.Conn
}

func (c *Closer) Close() error {
	return c.conn.Close()
}
