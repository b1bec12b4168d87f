// Package gorilla adapts github.com/gorilla/websocket connections to
// chat.Conn. The development server accepts channels with it and it can also
// be selected as the client transport.
package gorilla

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/omochice/vetchat/internal/chat"
	"github.com/omochice/vetchat/pkg/protocol"
)

const closeGracePeriod = time.Second

// Upgrader accepts channels from any origin.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for simplicity
	},
}

// Conn adapts a gorilla websocket.Conn to chat.Conn. Writes are serialized
// since gorilla allows a single concurrent writer.
type Conn struct {
	conn       *websocket.Conn
	remoteAddr string
	mu         sync.Mutex
}

// NewConn wraps conn.
func NewConn(conn *websocket.Conn) *Conn {
	return &Conn{conn: conn, remoteAddr: conn.RemoteAddr().String()}
}

// Accept upgrades an HTTP request into a channel.
func Accept(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}
	return NewConn(conn), nil
}

// Read implements chat.Conn.
func (c *Conn) Read(ctx context.Context) (protocol.Frame, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
		defer c.conn.SetReadDeadline(time.Time{})
	}
	messageType, data, err := c.conn.ReadMessage()
	if err != nil {
		return protocol.Frame{}, err
	}
	if messageType == websocket.BinaryMessage {
		return protocol.BinaryFrame(data), nil
	}
	return protocol.Frame{Kind: protocol.FrameText, Data: data}, nil
}

// Write implements chat.Conn.
func (c *Conn) Write(ctx context.Context, f protocol.Frame) error {
	messageType := websocket.TextMessage
	if f.Kind == protocol.FrameBinary {
		messageType = websocket.BinaryMessage
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	return c.conn.WriteMessage(messageType, f.Data)
}

// Close implements chat.Conn.
func (c *Conn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
	return c.conn.Close()
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

// IsUnexpectedClose reports whether err is a close other than a normal or
// going-away closure.
func IsUnexpectedClose(err error) bool {
	return websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure)
}

// Dialer opens channels with gorilla/websocket.
type Dialer struct {
	HandshakeTimeout time.Duration
}

// Dial implements client.Dialer.
func (d Dialer) Dial(ctx context.Context, url string) (chat.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	return NewConn(conn), nil
}
