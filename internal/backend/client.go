// Package backend is the HTTP client for the chat REST collaborator: room
// membership and message history.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/omochice/vetchat/pkg/protocol"
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("backend returned %d %s", e.Status, http.StatusText(e.Status))
	}
	return e.Detail
}

// MembershipRequest is the body of create, join and leave calls.
type MembershipRequest struct {
	RoomID string `json:"room_id"`
	User   string `json:"user"`
}

// StatusResponse is the body of successful membership calls.
type StatusResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the body of failed calls.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// HistoryRecord is one stored message as returned by the history endpoint.
type HistoryRecord struct {
	RoomID    string  `json:"room_id"`
	Timestamp float64 `json:"timestamp"`
	Message   string  `json:"message"`
	Author    string  `json:"author"`
}

// ChatMessage converts the record.
func (r HistoryRecord) ChatMessage() protocol.ChatMessage {
	return protocol.ChatMessage{
		Timestamp: r.Timestamp,
		Author:    r.Author,
		Content:   r.Message,
	}
}

// Client talks to the backend at a base URL such as http://localhost:8000.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger

	// history collapses concurrent fetches of the same room.
	history singleflight.Group
}

// NewClient creates a Client. A nil httpClient uses http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger.With().Str("component", "backend").Logger(),
	}
}

// ListRooms returns the rooms user belongs to.
func (c *Client) ListRooms(ctx context.Context, user string) ([]string, error) {
	var rooms []string
	err := c.do(ctx, http.MethodGet, "/chat/", url.Values{"user": {user}}, nil, &rooms)
	return rooms, err
}

// ListMembers returns the members of room.
func (c *Client) ListMembers(ctx context.Context, room string) ([]string, error) {
	var users []string
	err := c.do(ctx, http.MethodGet, "/chat/users", url.Values{"room_id": {room}}, nil, &users)
	return users, err
}

// History returns the stored messages of room, oldest first. Concurrent
// calls for the same room share one request; each caller gets its own slice.
func (c *Client) History(ctx context.Context, room string) ([]protocol.ChatMessage, error) {
	ch := c.history.DoChan(room, func() (any, error) {
		return c.fetchHistory(context.WithoutCancel(ctx), room)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.logger.Debug().Str("room", room).Msg("shared history fetch")
		}
		msgs := res.Val.([]protocol.ChatMessage)
		return append([]protocol.ChatMessage(nil), msgs...), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) fetchHistory(ctx context.Context, room string) ([]protocol.ChatMessage, error) {
	var records []HistoryRecord
	if err := c.do(ctx, http.MethodGet, "/chat/messages", url.Values{"room_id": {room}}, nil, &records); err != nil {
		return nil, err
	}
	msgs := make([]protocol.ChatMessage, 0, len(records))
	for _, r := range records {
		msgs = append(msgs, r.ChatMessage())
	}
	return msgs, nil
}

// CreateRoom creates room with user as its first member.
func (c *Client) CreateRoom(ctx context.Context, room, user string) error {
	return c.membership(ctx, http.MethodPost, "/chat/create", room, user)
}

// JoinRoom adds user to room.
func (c *Client) JoinRoom(ctx context.Context, room, user string) error {
	return c.membership(ctx, http.MethodPut, "/chat/join", room, user)
}

// LeaveRoom removes user from room.
func (c *Client) LeaveRoom(ctx context.Context, room, user string) error {
	return c.membership(ctx, http.MethodPut, "/chat/leave", room, user)
}

func (c *Client) membership(ctx context.Context, method, path, room, user string) error {
	var resp StatusResponse
	if err := c.do(ctx, method, path, nil, MembershipRequest{RoomID: room, User: user}, &resp); err != nil {
		return err
	}
	c.logger.Debug().Str("room", room).Str("user", user).Str("path", path).Msg(resp.Message)
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp ErrorResponse
		_ = json.Unmarshal(data, &errResp)
		return &APIError{Status: resp.StatusCode, Detail: errResp.Detail}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
