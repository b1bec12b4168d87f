// Package session binds the selected room to a live channel and keeps the
// session's message buffer.
//
// Every state change runs on a single event loop goroutine. Blocking work
// (history fetch, dialing, socket writes, membership calls) happens outside
// the loop and posts its result back. Results are tagged with the session
// generation, so anything belonging to a room that has since been replaced is
// discarded.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/omochice/vetchat/internal/client"
	"github.com/omochice/vetchat/pkg/protocol"
)

const eventBufferSize = 256

// Rooms is the membership view the controller needs.
type Rooms interface {
	Select(room string) error
	Deselect()
	Leave(ctx context.Context, room, user string) error
	OnSelectedLeft(fn func(room string))
}

// HistorySource fetches stored messages of a room.
type HistorySource interface {
	History(ctx context.Context, room string) ([]protocol.ChatMessage, error)
}

// Channels opens room channels.
type Channels interface {
	Open(ctx context.Context, room, identity string, handlers client.Handlers) (*client.Handle, error)
}

// Config configures a Controller.
type Config struct {
	// Identity is the author name used on the channel and for membership.
	Identity string
	Ack      AckPolicy
	Merge    MergePolicy
	Format   protocol.Format
	Logger   zerolog.Logger
}

type pendingSend struct {
	text          string
	correlationID string
}

// Controller is the chat session state machine.
type Controller struct {
	cfg      Config
	rooms    Rooms
	history  HistorySource
	channels Channels
	codec    protocol.Codec
	logger   zerolog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	actions chan func()
	events  chan Event
	done    chan struct{}
	once    sync.Once

	// Owned by the event loop.
	state         State
	room          string
	gen           uint64
	handle        *client.Handle
	sessionCancel context.CancelFunc
	conn          client.State
	historyDone   bool
	historyKeys   map[protocol.ChatMessage]int
	buffer        []protocol.ChatMessage
	pending       *pendingSend
}

// New creates a Controller and starts its event loop.
func New(cfg Config, rooms Rooms, history HistorySource, channels Channels) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:      cfg,
		rooms:    rooms,
		history:  history,
		channels: channels,
		codec:    protocol.Codec{Format: cfg.Format},
		logger:   cfg.Logger.With().Str("component", "session").Str("identity", cfg.Identity).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		actions:  make(chan func()),
		events:   make(chan Event, eventBufferSize),
		done:     make(chan struct{}),
		state:    NoRoomSelected,
		conn:     client.Disconnected,
	}

	rooms.OnSelectedLeft(func(room string) {
		c.post(func() { c.clearRoom(room) })
	})

	go c.loop()
	return c
}

func (c *Controller) loop() {
	defer close(c.done)
	defer close(c.events)
	for {
		select {
		case fn := <-c.actions:
			fn()
		case <-c.ctx.Done():
			c.teardown()
			return
		}
	}
}

// post queues fn on the event loop without waiting for it.
func (c *Controller) post(fn func()) {
	select {
	case c.actions <- fn:
	case <-c.ctx.Done():
	}
}

// do runs fn on the event loop and waits for it.
func (c *Controller) do(fn func()) error {
	return c.doContext(context.Background(), fn)
}

// doContext is do, giving up with ctx's error if ctx ends before fn has
// been queued. A queued fn always runs to completion.
func (c *Controller) doContext(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	finished := make(chan struct{})
	select {
	case c.actions <- func() { fn(); close(finished) }:
	case <-c.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// Events returns the UI notification stream. It is closed by Close.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// SelectRoom makes room the active session. The previous channel is closed
// and the buffer cleared before the new channel is opened; history is fetched
// concurrently with the dial. ctx only bounds the wait for the event loop; a
// switch that has started always completes.
func (c *Controller) SelectRoom(ctx context.Context, room string) error {
	var selectErr, openErr error
	err := c.doContext(ctx, func() {
		if selectErr = c.rooms.Select(room); selectErr != nil {
			return
		}

		c.teardown()
		c.gen++
		gen := c.gen
		c.room = room

		sessionCtx, cancel := context.WithCancel(c.ctx)
		c.sessionCancel = cancel
		c.setState(LoadingHistory)

		handle, err := c.channels.Open(sessionCtx, room, c.cfg.Identity, client.Handlers{
			OnFrame: func(f protocol.Frame) {
				c.post(func() { c.receive(gen, f) })
			},
			OnState: func(s client.State) {
				c.post(func() { c.connectionChanged(gen, s) })
			},
		})
		if err != nil {
			openErr = err
			c.teardown()
			c.room = ""
			c.rooms.Deselect()
			c.setState(NoRoomSelected)
			return
		}
		c.handle = handle

		go func() {
			msgs, err := c.history.History(sessionCtx, room)
			c.post(func() { c.historyLoaded(gen, msgs, err) })
		}()
	})
	if err != nil {
		return err
	}
	if selectErr != nil {
		return selectErr
	}
	if openErr != nil {
		return fmt.Errorf("failed to open room %q: %w", room, openErr)
	}
	c.logger.Info().Str("room", room).Msg("room selected")
	return nil
}

// ReceiveFrame feeds an inbound frame to the current session.
func (c *Controller) ReceiveFrame(f protocol.Frame) {
	_ = c.do(func() { c.receive(c.gen, f) })
}

// SendText sends text to the current room. Only one send may be outstanding;
// the session returns to Ready when the acknowledging message arrives.
func (c *Controller) SendText(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	var (
		handle  *client.Handle
		frame   protocol.Frame
		pending *pendingSend
		gen     uint64
		sendErr error
	)
	err := c.doContext(ctx, func() {
		switch c.state {
		case NoRoomSelected:
			sendErr = ErrNoRoom
			return
		case LoadingHistory:
			sendErr = ErrNotReady
			return
		case SendPending:
			sendErr = ErrSendPending
			return
		}
		if c.conn != client.Open {
			sendErr = ErrNotConnected
			return
		}

		p := &pendingSend{text: text, correlationID: uuid.NewString()}
		f, err := c.codec.Encode(protocol.EncodeText(text), p.correlationID)
		if err != nil {
			sendErr = err
			return
		}
		c.pending = p
		c.setState(SendPending)
		handle, frame, pending, gen = c.handle, f, p, c.gen
	})
	if err != nil {
		return err
	}
	if sendErr != nil {
		return sendErr
	}

	if err := handle.Send(ctx, frame); err != nil {
		c.post(func() {
			if c.gen == gen && c.pending == pending {
				c.pending = nil
				c.setState(Ready)
			}
		})
		c.logger.Warn().Err(err).Msg("failed to send message")
		return fmt.Errorf("failed to send message: %w", err)
	}
	c.logger.Debug().Str("correlation_id", pending.correlationID).Msg("message sent")
	return nil
}

// LeaveCurrentRoom leaves the selected room and ends the session. On failure
// the session is left untouched.
func (c *Controller) LeaveCurrentRoom(ctx context.Context) error {
	var room string
	if err := c.do(func() { room = c.room }); err != nil {
		return err
	}
	if room == "" {
		return ErrNoRoom
	}

	if err := c.rooms.Leave(ctx, room, c.cfg.Identity); err != nil {
		return err
	}
	return c.do(func() { c.clearRoom(room) })
}

// State returns the controller state.
func (c *Controller) State() State {
	s := NoRoomSelected
	_ = c.do(func() { s = c.state })
	return s
}

// Room returns the selected room, or "" when none is selected.
func (c *Controller) Room() string {
	var room string
	_ = c.do(func() { room = c.room })
	return room
}

// ConnState returns the state of the session's channel.
func (c *Controller) ConnState() client.State {
	s := client.Disconnected
	_ = c.do(func() { s = c.conn })
	return s
}

// Messages returns a copy of the session buffer.
func (c *Controller) Messages() []protocol.ChatMessage {
	var msgs []protocol.ChatMessage
	_ = c.do(func() { msgs = append([]protocol.ChatMessage(nil), c.buffer...) })
	return msgs
}

// Close ends the session, closes its channel and stops the event loop.
func (c *Controller) Close() {
	c.once.Do(func() {
		c.cancel()
		<-c.done
	})
}

func (c *Controller) receive(gen uint64, f protocol.Frame) {
	if gen != c.gen || c.state == NoRoomSelected {
		return
	}
	msg, ok := c.codec.Decode(f)
	if !ok {
		c.logger.Debug().Str("room", c.room).Int("size", len(f.Data)).Msg("dropping undecodable frame")
		return
	}

	if c.state == SendPending && c.acknowledges(msg) {
		c.pending = nil
		c.setState(Ready)
	}

	if c.historyDone && c.consumeHistoryDuplicate(msg) {
		c.logger.Debug().Str("room", c.room).Msg("dropping message already in history")
		return
	}
	c.buffer = append(c.buffer, msg)
	c.emit(Event{Kind: MessageAppended, Message: msg})
}

func (c *Controller) acknowledges(msg protocol.ChatMessage) bool {
	if c.cfg.Ack == AckNextFrame {
		return true
	}
	if c.pending == nil {
		return false
	}
	if msg.CorrelationID != "" {
		return msg.CorrelationID == c.pending.correlationID
	}
	return msg.Author == c.cfg.Identity && msg.Content == c.pending.text
}

// consumeHistoryDuplicate reports whether msg repeats a history record that
// has not been matched yet.
func (c *Controller) consumeHistoryDuplicate(msg protocol.ChatMessage) bool {
	if c.cfg.Merge != MergeDedupe {
		return false
	}
	key := msg.ContentKey()
	if c.historyKeys[key] == 0 {
		return false
	}
	c.historyKeys[key]--
	return true
}

func (c *Controller) historyLoaded(gen uint64, history []protocol.ChatMessage, err error) {
	if gen != c.gen {
		return
	}
	c.historyDone = true

	if err != nil {
		c.logger.Error().Err(err).Str("room", c.room).Msg("failed to load history")
		c.buffer = nil
		c.emit(Event{Kind: ErrorRaised, Err: fmt.Errorf("failed to load history: %w", err)})
		c.emit(Event{Kind: HistoryLoaded})
		c.maybeReady()
		return
	}

	c.historyKeys = make(map[protocol.ChatMessage]int, len(history))
	for _, msg := range history {
		c.historyKeys[msg.ContentKey()]++
	}

	live := c.buffer
	merged := append([]protocol.ChatMessage(nil), history...)
	for _, msg := range live {
		if c.consumeHistoryDuplicate(msg) {
			continue
		}
		merged = append(merged, msg)
	}
	c.buffer = merged

	c.logger.Debug().Str("room", c.room).Int("history", len(history)).Int("live", len(live)).Msg("history loaded")
	c.emit(Event{Kind: HistoryLoaded, Messages: append([]protocol.ChatMessage(nil), merged...)})
	c.maybeReady()
}

func (c *Controller) connectionChanged(gen uint64, s client.State) {
	if gen != c.gen || c.conn == s {
		return
	}
	c.conn = s
	c.emit(Event{Kind: ConnectionChanged, Conn: s})

	switch s {
	case client.Open:
		c.maybeReady()
	case client.Reconnecting:
		// A send in flight on the dropped connection can no longer be acknowledged.
		if c.state == SendPending {
			c.pending = nil
			c.setState(Ready)
		}
	}
}

func (c *Controller) maybeReady() {
	if c.state == LoadingHistory && c.historyDone && c.conn == client.Open {
		c.setState(Ready)
	}
}

func (c *Controller) clearRoom(room string) {
	if c.room == "" || c.room != room {
		return
	}
	c.teardown()
	c.gen++
	c.room = ""
	c.setState(NoRoomSelected)
	c.logger.Info().Str("room", room).Msg("session ended")
}

// teardown closes the current channel and clears all session data.
func (c *Controller) teardown() {
	if c.handle != nil {
		c.handle.Close()
		c.handle = nil
	}
	if c.sessionCancel != nil {
		c.sessionCancel()
		c.sessionCancel = nil
	}
	c.conn = client.Disconnected
	c.historyDone = false
	c.historyKeys = nil
	c.buffer = nil
	c.pending = nil
}

func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.emit(Event{Kind: StateChanged, State: s})
}

func (c *Controller) emit(e Event) {
	e.Room = c.room
	select {
	case c.events <- e:
	default:
		c.logger.Warn().Int("kind", int(e.Kind)).Msg("event buffer full, dropping event")
	}
}
