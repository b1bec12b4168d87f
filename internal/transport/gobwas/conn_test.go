package gobwas_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/omochice/vetchat/internal/transport/gobwas"
	"github.com/omochice/vetchat/pkg/protocol"
)

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")

		for {
			typ, data, err := c.Read(context.Background())
			if err != nil {
				return
			}
			if err := c.Write(context.Background(), typ, data); err != nil {
				return
			}
		}
	}))
}

func TestConn_WriteRead(t *testing.T) {
	server := echoServer(t)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, err := gobwas.Dialer{}.Dial(context.Background(), wsURL)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	tests := []struct {
		name  string
		frame protocol.Frame
	}{
		{"text frame", protocol.TextFrame("hello: world")},
		{"binary frame", protocol.BinaryFrame([]byte{0x08, 0x01})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.Write(context.Background(), tt.frame); err != nil {
				t.Fatalf("Write() error = %v", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			got, err := conn.Read(ctx)
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if got.Kind != tt.frame.Kind || string(got.Data) != string(tt.frame.Data) {
				t.Errorf("Read() = %+v, want %+v", got, tt.frame)
			}
		})
	}
}

func TestConn_ReadAfterServerClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		c.Close(websocket.StatusGoingAway, "bye")
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, err := gobwas.Dialer{}.Dial(context.Background(), wsURL)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := conn.Read(ctx); err == nil {
		t.Error("expected error after server closed the channel")
	}
}

func TestConn_CloseIsIdempotent(t *testing.T) {
	server := echoServer(t)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, err := gobwas.Dialer{}.Dial(context.Background(), wsURL)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	if err := conn.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := conn.Write(context.Background(), protocol.TextFrame("late")); err == nil {
		t.Error("expected error writing to closed connection")
	}
}
