// Package ws provides a room channel transport on nhooyr.io/websocket.
package ws

import (
	"context"
	"fmt"

	"nhooyr.io/websocket"

	"github.com/omochice/vetchat/internal/chat"
	"github.com/omochice/vetchat/pkg/protocol"
)

// Conn adapts nhooyr.io/websocket to chat.Conn interface.
type Conn struct {
	conn       *websocket.Conn
	remoteAddr string
}

// NewConn wraps a websocket.Conn with empty remote address.
func NewConn(conn *websocket.Conn) *Conn {
	return &Conn{conn: conn}
}

// NewConnWithAddr wraps a websocket.Conn with the specified remote address.
func NewConnWithAddr(conn *websocket.Conn, addr string) *Conn {
	return &Conn{conn: conn, remoteAddr: addr}
}

// Read implements chat.Conn.
func (c *Conn) Read(ctx context.Context) (protocol.Frame, error) {
	typ, data, err := c.conn.Read(ctx)
	if err != nil {
		return protocol.Frame{}, err
	}
	if typ == websocket.MessageBinary {
		return protocol.BinaryFrame(data), nil
	}
	return protocol.Frame{Kind: protocol.FrameText, Data: data}, nil
}

// Write implements chat.Conn.
func (c *Conn) Write(ctx context.Context, f protocol.Frame) error {
	typ := websocket.MessageText
	if f.Kind == protocol.FrameBinary {
		typ = websocket.MessageBinary
	}
	return c.conn.Write(ctx, typ, f.Data)
}

// Close implements chat.Conn.
func (c *Conn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

// Dialer opens channels with nhooyr.io/websocket.
type Dialer struct {
	Options *websocket.DialOptions
}

// Dial implements client.Dialer.
func (d Dialer) Dial(ctx context.Context, url string) (chat.Conn, error) {
	conn, resp, err := websocket.Dial(ctx, url, d.Options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	addr := url
	if resp != nil && resp.Request != nil {
		addr = resp.Request.URL.Host
	}
	return NewConnWithAddr(conn, addr), nil
}
