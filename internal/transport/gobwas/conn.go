// Package gobwas provides the default room channel transport, built on
// github.com/gobwas/ws.
package gobwas

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/omochice/vetchat/internal/chat"
	"github.com/omochice/vetchat/pkg/protocol"
)

// Conn adapts a client side gobwas/ws connection to chat.Conn.
// Every write, including control replies issued while reading, is a single
// locked Write call on the socket.
type Conn struct {
	conn   net.Conn
	reader io.Reader
	mu     sync.Mutex
	closed bool
}

// NewConn wraps conn. br is the buffered reader returned by ws.Dial and may
// be nil.
func NewConn(conn net.Conn, br io.Reader) *Conn {
	c := &Conn{conn: conn, reader: conn}
	if br != nil {
		c.reader = br
	}
	return c
}

// Read implements chat.Conn.
// Ping and close control frames are answered internally.
func (c *Conn) Read(ctx context.Context) (protocol.Frame, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
		defer c.conn.SetReadDeadline(time.Time{})
	}

	rw := struct {
		io.Reader
		io.Writer
	}{c.reader, lockedWriter{c}}

	data, op, err := wsutil.ReadServerData(rw)
	if err != nil {
		return protocol.Frame{}, err
	}
	if op == ws.OpBinary {
		return protocol.BinaryFrame(data), nil
	}
	return protocol.Frame{Kind: protocol.FrameText, Data: data}, nil
}

// Write implements chat.Conn.
func (c *Conn) Write(ctx context.Context, f protocol.Frame) error {
	op := ws.OpText
	if f.Kind == protocol.FrameBinary {
		op = ws.OpBinary
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	return c.writeFrame(ws.NewFrame(op, true, f.Data))
}

// Close implements chat.Conn.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	_ = c.writeFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")))

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *Conn) writeFrame(frame ws.Frame) error {
	data, err := ws.CompileFrame(ws.MaskFrame(frame))
	if err != nil {
		return fmt.Errorf("failed to compile frame: %w", err)
	}
	_, err = lockedWriter{c}.Write(data)
	return err
}

type lockedWriter struct {
	c *Conn
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	if w.c.closed {
		return 0, net.ErrClosed
	}
	return w.c.conn.Write(p)
}

// Dialer opens channels with gobwas/ws.
type Dialer struct {
	Dialer ws.Dialer
}

// Dial implements client.Dialer.
func (d Dialer) Dial(ctx context.Context, url string) (chat.Conn, error) {
	conn, br, _, err := d.Dialer.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	if br == nil {
		return NewConn(conn, nil), nil
	}
	return NewConn(conn, br), nil
}
