// Package server is a development backend speaking the same REST and channel
// contract as the production chat backend. It exists to run the client end to
// end; it is not a production persistence layer.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/omochice/vetchat/internal/backend"
	"github.com/omochice/vetchat/internal/chat"
	"github.com/omochice/vetchat/internal/transport/gorilla"
	"github.com/omochice/vetchat/pkg/protocol"
)

// ErrServerStopped is returned by Start after Stop.
var ErrServerStopped = errors.New("server stopped")

// Server is the development chat backend.
type Server struct {
	address string
	store   Store
	hub     *chat.Hub
	logger  zerolog.Logger
	now     func() time.Time

	mu       sync.RWMutex
	listener net.Listener
	server   *http.Server
	clients  map[*chat.Client]bool
	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Server listening on address once started.
func New(address string, store Store, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "server").Logger()
	return &Server{
		address: address,
		store:   store,
		hub:     chat.NewHub(logger),
		logger:  logger,
		now:     time.Now,
		clients: make(map[*chat.Client]bool),
		quit:    make(chan struct{}),
	}
}

// Handler returns the HTTP routes of the backend.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /chat/{$}", s.handleListRooms)
	mux.HandleFunc("GET /chat/users", s.handleListMembers)
	mux.HandleFunc("GET /chat/messages", s.handleMessages)
	mux.HandleFunc("POST /chat/create", s.handleCreate)
	mux.HandleFunc("PUT /chat/join", s.handleJoin)
	mux.HandleFunc("PUT /chat/leave", s.handleLeave)
	mux.HandleFunc("GET /chat/ws", s.handleWebSocket)
	return mux
}

// Start listens and serves until Stop is called.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	server := &http.Server{Handler: s.Handler()}
	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	s.logger.Info().Str("addr", listener.Addr().String()).Msg("server started")

	errChan := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start server: %w", err)
	case <-s.quit:
		return ErrServerStopped
	}
}

// Stop closes the listener and every open channel.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)

		s.mu.Lock()
		if s.server != nil {
			s.server.Close()
		}
		for client := range s.clients {
			client.Conn.Close()
		}
		s.mu.Unlock()

		s.wg.Wait()
		s.logger.Info().Msg("server stopped")
	})
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// ClientCount returns the number of open channels.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.store.RoomsFor(r.Context(), r.URL.Query().Get("user"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.Members(r.Context(), r.URL.Query().Get("room_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room_id")
	msgs, err := s.store.Messages(r.Context(), room)
	if err != nil {
		s.writeError(w, err)
		return
	}
	records := make([]backend.HistoryRecord, 0, len(msgs))
	for _, msg := range msgs {
		records = append(records, backend.HistoryRecord{
			RoomID:    room,
			Timestamp: msg.Timestamp,
			Message:   msg.Content,
			Author:    msg.Author,
		})
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeMembership(w, r)
	if !ok {
		return
	}
	if err := s.store.CreateRoom(r.Context(), req.RoomID, req.User); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info().Str("room", req.RoomID).Str("user", req.User).Msg("room created")
	writeJSON(w, http.StatusOK, backend.StatusResponse{Message: "Chat room created successfully!"})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeMembership(w, r)
	if !ok {
		return
	}
	if err := s.store.AddMember(r.Context(), req.RoomID, req.User); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.announce(r.Context(), req.RoomID, req.User+" has joined the room."); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, backend.StatusResponse{
		Message: fmt.Sprintf("User %s joined room %s!", req.User, req.RoomID),
	})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeMembership(w, r)
	if !ok {
		return
	}
	if err := s.store.RemoveMember(r.Context(), req.RoomID, req.User); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.announce(r.Context(), req.RoomID, req.User+" has left the room."); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, backend.StatusResponse{
		Message: fmt.Sprintf("User %s left room %s.", req.User, req.RoomID),
	})
}

// announce stores and broadcasts a System message.
func (s *Server) announce(ctx context.Context, room, text string) error {
	msg := protocol.NewChatMessage(s.now(), protocol.SystemAuthor, text)
	if err := s.store.AppendMessage(ctx, room, msg); err != nil {
		return err
	}
	s.hub.Broadcast(room, msg)
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	room, author := query.Get("room_id"), query.Get("author")
	if room == "" || author == "" {
		writeJSON(w, http.StatusBadRequest, backend.ErrorResponse{Detail: "room_id and author are required."})
		return
	}
	format, err := protocol.ParseFormat(query.Get("format"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, backend.ErrorResponse{Detail: err.Error()})
		return
	}
	exists, err := s.store.RoomExists(r.Context(), room)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !exists {
		s.writeError(w, ErrRoomNotFound)
		return
	}

	conn, err := gorilla.Accept(w, r)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to accept channel")
		return
	}

	client := chat.NewClient(conn, room, author, format)
	s.hub.Register(client)

	s.mu.Lock()
	select {
	case <-s.quit:
		s.mu.Unlock()
		s.hub.Unregister(client)
		conn.Close()
		return
	default:
	}
	s.clients[client] = true
	s.wg.Add(1)
	s.mu.Unlock()

	go s.handleClient(client)
}

// handleClient serves one channel until it closes.
func (s *Server) handleClient(client *chat.Client) {
	defer s.wg.Done()
	logger := s.logger.With().Str("room", client.Room).Str("author", client.Username).Logger()
	logger.Info().Str("remote", client.Conn.RemoteAddr()).Msg("channel opened")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for f := range client.Outgoing {
			if err := client.Conn.Write(context.Background(), f); err != nil {
				logger.Warn().Err(err).Msg("failed to send frame")
				return
			}
		}
	}()

	defer func() {
		s.hub.Unregister(client)
		close(client.Outgoing)
		client.Conn.Close()
		<-writerDone

		s.mu.Lock()
		delete(s.clients, client)
		s.mu.Unlock()

		s.hub.BroadcastRaw(client.Room, client.Username+" has left the room.")
		logger.Info().Msg("channel closed")
	}()

	for {
		f, err := client.Conn.Read(context.Background())
		if err != nil {
			if gorilla.IsUnexpectedClose(err) {
				logger.Warn().Err(err).Msg("channel error")
			}
			return
		}

		msg, ok := s.inbound(client, f)
		if !ok {
			continue
		}
		if err := s.store.AppendMessage(context.Background(), client.Room, msg); err != nil {
			logger.Error().Err(err).Msg("failed to store message")
			continue
		}
		s.hub.Broadcast(client.Room, msg)
	}
}

// inbound turns a client frame into the message to store and broadcast. The
// author always comes from the channel address.
func (s *Server) inbound(client *chat.Client, f protocol.Frame) (protocol.ChatMessage, bool) {
	var content, correlationID string
	switch f.Kind {
	case protocol.FrameText:
		content = string(f.Data)
	case protocol.FrameBinary:
		e, err := protocol.UnmarshalEnvelope(f.Data)
		if err != nil {
			s.logger.Debug().Err(err).Msg("dropping invalid envelope")
			return protocol.ChatMessage{}, false
		}
		content, correlationID = e.Content, e.CorrelationID
	}
	if strings.TrimSpace(content) == "" {
		return protocol.ChatMessage{}, false
	}
	msg := protocol.NewChatMessage(s.now(), client.Username, content)
	msg.CorrelationID = correlationID
	return msg, true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	detail := "Internal server error."
	switch {
	case errors.Is(err, ErrRoomExists), errors.Is(err, ErrAlreadyMember):
		status, detail = http.StatusBadRequest, err.Error()
	case errors.Is(err, ErrRoomNotFound):
		status, detail = http.StatusNotFound, err.Error()
	default:
		s.logger.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, backend.ErrorResponse{Detail: detail})
}

func decodeMembership(w http.ResponseWriter, r *http.Request) (backend.MembershipRequest, bool) {
	var req backend.MembershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RoomID == "" || req.User == "" {
		writeJSON(w, http.StatusUnprocessableEntity, backend.ErrorResponse{Detail: "room_id and user are required."})
		return req, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
