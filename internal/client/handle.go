package client

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/omochice/vetchat/internal/chat"
	"github.com/omochice/vetchat/pkg/protocol"
)

// Handle is one logical channel bound to a room and identity. The underlying
// connection is replaced transparently on reconnect.
type Handle struct {
	manager  *Manager
	room     string
	url      string
	handlers Handlers
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	state  State
	conn   chat.Conn
	closed bool
}

// Room returns the room the handle is bound to.
func (h *Handle) Room() string {
	return h.room
}

// URL returns the channel address.
func (h *Handle) URL() string {
	return h.url
}

// State returns the current connection state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Send transmits f. It returns ErrNotOpen without transmitting unless the
// channel is Open.
func (h *Handle) Send(ctx context.Context, f protocol.Frame) error {
	h.mu.Lock()
	conn := h.conn
	open := h.state == Open && conn != nil
	h.mu.Unlock()

	if !open {
		return ErrNotOpen
	}
	return conn.Write(ctx, f)
}

// Close tears the channel down. No reconnection happens afterwards.
// Handlers may still be running when Close returns; Done is closed once the
// worker has exited.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.state = Disconnected
	conn := h.conn
	h.conn = nil
	h.mu.Unlock()

	h.cancel()
	h.manager.release(h)

	var err error
	if conn != nil {
		err = conn.Close()
	}
	h.logger.Debug().Msg("channel closed")
	return err
}

// Done is closed when the worker goroutine has exited after Close.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) run() {
	defer close(h.done)

	h.emit(Connecting)
	attempt := 0
	for {
		conn, err := h.manager.dialer.Dial(h.ctx, h.url)
		if err != nil {
			if h.ctx.Err() != nil {
				return
			}
			h.logger.Warn().Err(err).Int("attempt", attempt).Msg("failed to open channel")
			if !h.retry(attempt) {
				return
			}
			attempt++
			continue
		}

		if !h.attach(conn) {
			conn.Close()
			return
		}
		attempt = 0
		h.logger.Info().Str("remote", conn.RemoteAddr()).Msg("channel open")

		err = h.readLoop(conn)
		h.detach(conn)
		if h.ctx.Err() != nil {
			return
		}
		h.logger.Warn().Err(err).Msg("channel closed unexpectedly")
		if !h.retry(attempt) {
			return
		}
		attempt++
	}
}

// retry moves to Reconnecting and waits out the backoff delay. It returns
// false once the handle has been closed.
func (h *Handle) retry(attempt int) bool {
	if !h.setState(Reconnecting) {
		return false
	}
	timer := time.NewTimer(h.manager.backoff.Delay(attempt))
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Handle) readLoop(conn chat.Conn) error {
	for {
		f, err := conn.Read(h.ctx)
		if err != nil {
			return err
		}
		if h.handlers.OnFrame != nil {
			h.handlers.OnFrame(f)
		}
	}
}

func (h *Handle) attach(conn chat.Conn) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.conn = conn
	h.state = Open
	h.mu.Unlock()

	h.emit(Open)
	return true
}

func (h *Handle) detach(conn chat.Conn) {
	h.mu.Lock()
	if h.conn == conn {
		h.conn = nil
	}
	h.mu.Unlock()
	conn.Close()
}

// setState records s unless the handle is closed.
func (h *Handle) setState(s State) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.state = s
	h.mu.Unlock()

	h.emit(s)
	return true
}

func (h *Handle) emit(s State) {
	if h.handlers.OnState != nil {
		h.handlers.OnState(s)
	}
}
