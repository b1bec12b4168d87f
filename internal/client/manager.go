// Package client implements the room channel manager: one live channel per
// room, addressed by room and author identity, with automatic reconnection
// until it is explicitly closed.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/rs/zerolog"

	"github.com/omochice/vetchat/internal/chat"
	"github.com/omochice/vetchat/pkg/protocol"
)

// ErrNotOpen is returned by Send while the channel is not open.
var ErrNotOpen = errors.New("channel is not open")

// Dialer opens a channel to url.
type Dialer interface {
	Dial(ctx context.Context, url string) (chat.Conn, error)
}

// Handlers receives channel activity. Both callbacks run on the handle's
// worker goroutine; OnFrame is called in arrival order.
type Handlers struct {
	OnFrame func(protocol.Frame)
	OnState func(State)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger.With().Str("component", "channel").Logger()
	}
}

// WithBackoff sets the reconnection delay policy.
func WithBackoff(b Backoff) Option {
	return func(m *Manager) {
		m.backoff = b.normalize()
	}
}

// WithFormat sets the frame format requested from the server.
func WithFormat(f protocol.Format) Option {
	return func(m *Manager) {
		m.format = f
	}
}

// Manager owns the channel of every active room.
type Manager struct {
	dialer     Dialer
	channelURL string
	backoff    Backoff
	format     protocol.Format
	logger     zerolog.Logger

	mu      sync.Mutex
	handles map[string]*Handle
}

// NewManager creates a Manager dialing channelURL, for example
// ws://localhost:8000/chat/ws.
func NewManager(dialer Dialer, channelURL string, opts ...Option) *Manager {
	m := &Manager{
		dialer:     dialer,
		channelURL: channelURL,
		backoff:    DefaultBackoff(),
		logger:     zerolog.Nop(),
		handles:    make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Endpoint returns the channel address for room and identity.
func (m *Manager) Endpoint(room, identity string) (string, error) {
	u, err := url.Parse(m.channelURL)
	if err != nil {
		return "", fmt.Errorf("invalid channel url: %w", err)
	}
	q := u.Query()
	q.Set("room_id", room)
	q.Set("author", identity)
	if m.format == protocol.FormatEnvelope {
		q.Set("format", m.format.String())
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Open starts a channel for room as identity and returns immediately with the
// handle in the Connecting state. An existing handle for the same room is
// closed first. The channel lives until Close or until ctx is cancelled.
func (m *Manager) Open(ctx context.Context, room, identity string, handlers Handlers) (*Handle, error) {
	endpoint, err := m.Endpoint(room, identity)
	if err != nil {
		return nil, err
	}

	hctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		manager:  m,
		room:     room,
		url:      endpoint,
		handlers: handlers,
		ctx:      hctx,
		cancel:   cancel,
		state:    Connecting,
		done:     make(chan struct{}),
		logger:   m.logger.With().Str("room", room).Str("author", identity).Logger(),
	}

	m.mu.Lock()
	old := m.handles[room]
	m.handles[room] = h
	m.mu.Unlock()

	if old != nil {
		old.Close()
	}

	// Transports only honour ctx deadlines while reading, so cancellation
	// closes the handle and with it the live connection.
	context.AfterFunc(hctx, func() { h.Close() })

	go h.run()
	return h, nil
}

// Active returns the number of handles that have not been closed.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}

// CloseAll closes every handle.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	for _, h := range handles {
		h.Close()
	}
}

func (m *Manager) release(h *Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handles[h.room] == h {
		delete(m.handles, h.room)
	}
}
