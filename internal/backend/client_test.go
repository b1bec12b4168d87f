package backend_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/omochice/vetchat/internal/backend"
	"github.com/omochice/vetchat/pkg/protocol"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestClient_ListRooms(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/chat/" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.URL.Query().Get("user"); got != "alice" {
			t.Errorf("user = %q, want alice", got)
		}
		writeJSON(w, http.StatusOK, []string{"alpha", "beta"})
	}))
	defer server.Close()

	c := backend.NewClient(server.URL+"/", server.Client(), zerolog.Nop())
	got, err := c.ListRooms(context.Background(), "alice")
	if err != nil {
		t.Fatalf("ListRooms() error = %v", err)
	}
	if want := []string{"alpha", "beta"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ListRooms() = %v, want %v", got, want)
	}
}

func TestClient_ListMembers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/users" || r.URL.Query().Get("room_id") != "alpha" {
			t.Errorf("unexpected request %s", r.URL)
		}
		writeJSON(w, http.StatusOK, []string{"alice", "bob"})
	}))
	defer server.Close()

	c := backend.NewClient(server.URL, server.Client(), zerolog.Nop())
	got, err := c.ListMembers(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("ListMembers() error = %v", err)
	}
	if want := []string{"alice", "bob"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ListMembers() = %v, want %v", got, want)
	}
}

func TestClient_History(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/messages" || r.URL.Query().Get("room_id") != "alpha" {
			t.Errorf("unexpected request %s", r.URL)
		}
		writeJSON(w, http.StatusOK, []backend.HistoryRecord{
			{RoomID: "alpha", Timestamp: 1000, Message: "hi", Author: "bob"},
			{RoomID: "alpha", Timestamp: 1001.5, Message: "alice has joined the room.", Author: "System"},
		})
	}))
	defer server.Close()

	c := backend.NewClient(server.URL, server.Client(), zerolog.Nop())
	got, err := c.History(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	want := []protocol.ChatMessage{
		{Timestamp: 1000, Author: "bob", Content: "hi"},
		{Timestamp: 1001.5, Author: "System", Content: "alice has joined the room."},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("History() = %+v, want %+v", got, want)
	}
	if !got[1].IsSystem() {
		t.Error("second record should be a system message")
	}
}

func TestClient_History_SharedFetch(t *testing.T) {
	var requests atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		<-release
		writeJSON(w, http.StatusOK, []backend.HistoryRecord{{RoomID: "alpha", Timestamp: 1, Message: "hi", Author: "bob"}})
	}))
	defer server.Close()

	c := backend.NewClient(server.URL, server.Client(), zerolog.Nop())

	const callers = 3
	results := make([][]protocol.ChatMessage, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msgs, err := c.History(context.Background(), "alpha")
			if err != nil {
				t.Errorf("History() error = %v", err)
			}
			results[i] = msgs
		}(i)
	}

	deadline := time.Now().Add(time.Second)
	for requests.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := requests.Load(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
	results[0][0].Content = "changed"
	for i := 1; i < callers; i++ {
		if len(results[i]) != 1 || results[i][0].Content != "hi" {
			t.Errorf("caller %d got %+v, want its own copy", i, results[i])
		}
	}
}

func TestClient_History_CallerCancelled(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		writeJSON(w, http.StatusOK, []backend.HistoryRecord{})
	}))
	defer server.Close()
	defer close(release)

	c := backend.NewClient(server.URL, server.Client(), zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := c.History(ctx, "alpha"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("History() error = %v, want DeadlineExceeded", err)
	}
}

func TestClient_Membership(t *testing.T) {
	tests := []struct {
		name       string
		call       func(c *backend.Client) error
		wantMethod string
		wantPath   string
	}{
		{
			name:       "create",
			call:       func(c *backend.Client) error { return c.CreateRoom(context.Background(), "alpha", "alice") },
			wantMethod: http.MethodPost,
			wantPath:   "/chat/create",
		},
		{
			name:       "join",
			call:       func(c *backend.Client) error { return c.JoinRoom(context.Background(), "alpha", "alice") },
			wantMethod: http.MethodPut,
			wantPath:   "/chat/join",
		},
		{
			name:       "leave",
			call:       func(c *backend.Client) error { return c.LeaveRoom(context.Background(), "alpha", "alice") },
			wantMethod: http.MethodPut,
			wantPath:   "/chat/leave",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != tt.wantMethod || r.URL.Path != tt.wantPath {
					t.Errorf("request = %s %s, want %s %s", r.Method, r.URL.Path, tt.wantMethod, tt.wantPath)
				}
				var body backend.MembershipRequest
				if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
					t.Errorf("failed to decode body: %v", err)
				}
				if body.RoomID != "alpha" || body.User != "alice" {
					t.Errorf("body = %+v", body)
				}
				writeJSON(w, http.StatusOK, backend.StatusResponse{Message: "ok"})
			}))
			defer server.Close()

			if err := tt.call(backend.NewClient(server.URL, server.Client(), zerolog.Nop())); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestClient_APIError(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       any
		wantDetail string
		wantMsg    string
	}{
		{
			name:       "detail from body",
			status:     http.StatusBadRequest,
			body:       backend.ErrorResponse{Detail: "Chat room already exists."},
			wantDetail: "Chat room already exists.",
			wantMsg:    "Chat room already exists.",
		},
		{
			name:    "no detail",
			status:  http.StatusInternalServerError,
			body:    "boom",
			wantMsg: "backend returned 500 Internal Server Error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			}))
			defer server.Close()

			err := backend.NewClient(server.URL, server.Client(), zerolog.Nop()).CreateRoom(context.Background(), "alpha", "alice")
			var apiErr *backend.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %v, want *APIError", err)
			}
			if apiErr.Status != tt.status || apiErr.Detail != tt.wantDetail {
				t.Errorf("APIError = %+v", apiErr)
			}
			if err.Error() != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestClient_Unreachable(t *testing.T) {
	c := backend.NewClient("http://127.0.0.1:1", nil, zerolog.Nop())
	if _, err := c.ListRooms(context.Background(), "alice"); err == nil {
		t.Error("expected error for unreachable backend")
	}
}
