package server_test

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/omochice/vetchat/internal/server"
	"github.com/omochice/vetchat/pkg/protocol"
)

func stores(t *testing.T) map[string]server.Store {
	t.Helper()
	sqlite, err := server.OpenSQLite(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	memSQLite, err := server.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite(:memory:) error = %v", err)
	}
	t.Cleanup(func() {
		sqlite.Close()
		memSQLite.Close()
	})
	return map[string]server.Store{
		"memory":        server.NewMemoryStore(),
		"sqlite":        sqlite,
		"sqlite-memory": memSQLite,
	}
}

func TestStore_Membership(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := store.CreateRoom(ctx, "alpha", "alice"); err != nil {
				t.Fatalf("CreateRoom() error = %v", err)
			}
			if err := store.CreateRoom(ctx, "alpha", "bob"); !errors.Is(err, server.ErrRoomExists) {
				t.Errorf("CreateRoom() duplicate error = %v, want ErrRoomExists", err)
			}
			if err := store.AddMember(ctx, "alpha", "bob"); err != nil {
				t.Fatalf("AddMember() error = %v", err)
			}
			if err := store.AddMember(ctx, "alpha", "bob"); !errors.Is(err, server.ErrAlreadyMember) {
				t.Errorf("AddMember() duplicate error = %v, want ErrAlreadyMember", err)
			}
			if err := store.AddMember(ctx, "nope", "bob"); !errors.Is(err, server.ErrRoomNotFound) {
				t.Errorf("AddMember() missing room error = %v, want ErrRoomNotFound", err)
			}

			members, err := store.Members(ctx, "alpha")
			if err != nil {
				t.Fatalf("Members() error = %v", err)
			}
			if want := []string{"alice", "bob"}; !reflect.DeepEqual(members, want) {
				t.Errorf("Members() = %v, want %v", members, want)
			}

			rooms, err := store.RoomsFor(ctx, "bob")
			if err != nil {
				t.Fatalf("RoomsFor() error = %v", err)
			}
			if want := []string{"alpha"}; !reflect.DeepEqual(rooms, want) {
				t.Errorf("RoomsFor() = %v, want %v", rooms, want)
			}

			if err := store.RemoveMember(ctx, "alpha", "bob"); err != nil {
				t.Fatalf("RemoveMember() error = %v", err)
			}
			rooms, _ = store.RoomsFor(ctx, "bob")
			if len(rooms) != 0 {
				t.Errorf("RoomsFor() after leave = %v, want empty", rooms)
			}
			if err := store.RemoveMember(ctx, "nope", "bob"); !errors.Is(err, server.ErrRoomNotFound) {
				t.Errorf("RemoveMember() missing room error = %v, want ErrRoomNotFound", err)
			}

			exists, err := store.RoomExists(ctx, "alpha")
			if err != nil || !exists {
				t.Errorf("RoomExists(alpha) = %v, %v", exists, err)
			}
			exists, err = store.RoomExists(ctx, "nope")
			if err != nil || exists {
				t.Errorf("RoomExists(nope) = %v, %v", exists, err)
			}
		})
	}
}

func TestStore_Messages(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			msgs := []protocol.ChatMessage{
				{Timestamp: 1001, Author: "bob", Content: "second"},
				{Timestamp: 1000, Author: "alice", Content: "first"},
				{Timestamp: 1001, Author: "System", Content: "third", CorrelationID: "ignored"},
			}
			for _, msg := range msgs {
				if err := store.AppendMessage(ctx, "alpha", msg); err != nil {
					t.Fatalf("AppendMessage() error = %v", err)
				}
			}
			if err := store.AppendMessage(ctx, "beta", protocol.ChatMessage{Timestamp: 1, Author: "x", Content: "other"}); err != nil {
				t.Fatalf("AppendMessage() error = %v", err)
			}

			got, err := store.Messages(ctx, "alpha")
			if err != nil {
				t.Fatalf("Messages() error = %v", err)
			}
			want := []protocol.ChatMessage{
				{Timestamp: 1000, Author: "alice", Content: "first"},
				{Timestamp: 1001, Author: "bob", Content: "second"},
				{Timestamp: 1001, Author: "System", Content: "third"},
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("Messages() = %+v, want %+v", got, want)
			}

			empty, err := store.Messages(ctx, "gamma")
			if err != nil || len(empty) != 0 {
				t.Errorf("Messages(gamma) = %v, %v", empty, err)
			}
		})
	}
}
