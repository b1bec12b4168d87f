package gorilla_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/omochice/vetchat/internal/transport/gorilla"
	"github.com/omochice/vetchat/pkg/protocol"
)

func TestAccept_Dial_RoundTrip(t *testing.T) {
	received := make(chan protocol.Frame, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := gorilla.Accept(w, r)
		if err != nil {
			return
		}
		defer conn.Close()

		if err := conn.Write(context.Background(), protocol.TextFrame("System (2024-01-01T00:00:00Z): welcome")); err != nil {
			return
		}
		f, err := conn.Read(context.Background())
		if err != nil {
			return
		}
		received <- f
		conn.Read(context.Background())
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, err := gorilla.Dialer{}.Dial(context.Background(), wsURL)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	f, err := conn.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(f.Data) != "System (2024-01-01T00:00:00Z): welcome" {
		t.Errorf("Read() = %q", f.Data)
	}

	if err := conn.Write(context.Background(), protocol.BinaryFrame([]byte{0x01})); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	select {
	case got := <-received:
		if got.Kind != protocol.FrameBinary {
			t.Errorf("server received kind %v, want binary", got.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestAccept_RejectsPlainHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := gorilla.Accept(w, r); err == nil {
			t.Error("expected upgrade error for plain HTTP request")
		}
	}))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}
