package server

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/omochice/vetchat/pkg/protocol"
)

var (
	ErrRoomExists    = errors.New("Chat room already exists.")
	ErrRoomNotFound  = errors.New("Chat room not found.")
	ErrAlreadyMember = errors.New("User already in the room.")
)

// Store persists rooms, memberships and messages for the development
// backend.
type Store interface {
	CreateRoom(ctx context.Context, room, user string) error
	RoomExists(ctx context.Context, room string) (bool, error)
	AddMember(ctx context.Context, room, user string) error
	RemoveMember(ctx context.Context, room, user string) error
	Members(ctx context.Context, room string) ([]string, error)
	RoomsFor(ctx context.Context, user string) ([]string, error)
	AppendMessage(ctx context.Context, room string, msg protocol.ChatMessage) error
	Messages(ctx context.Context, room string) ([]protocol.ChatMessage, error)
	Close() error
}

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	rooms    map[string]map[string]bool
	messages map[string][]protocol.ChatMessage
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:    make(map[string]map[string]bool),
		messages: make(map[string][]protocol.ChatMessage),
	}
}

func (s *MemoryStore) CreateRoom(ctx context.Context, room, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room]; ok {
		return ErrRoomExists
	}
	s.rooms[room] = map[string]bool{user: true}
	return nil
}

func (s *MemoryStore) RoomExists(ctx context.Context, room string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[room]
	return ok, nil
}

func (s *MemoryStore) AddMember(ctx context.Context, room, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.rooms[room]
	if !ok {
		return ErrRoomNotFound
	}
	if members[user] {
		return ErrAlreadyMember
	}
	members[user] = true
	return nil
}

func (s *MemoryStore) RemoveMember(ctx context.Context, room, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.rooms[room]
	if !ok {
		return ErrRoomNotFound
	}
	delete(members, user)
	return nil
}

func (s *MemoryStore) Members(ctx context.Context, room string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members, ok := s.rooms[room]
	if !ok {
		return nil, ErrRoomNotFound
	}
	users := make([]string, 0, len(members))
	for u := range members {
		users = append(users, u)
	}
	sort.Strings(users)
	return users, nil
}

func (s *MemoryStore) RoomsFor(ctx context.Context, user string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rooms := []string{}
	for room, members := range s.rooms {
		if members[user] {
			rooms = append(rooms, room)
		}
	}
	sort.Strings(rooms)
	return rooms, nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, room string, msg protocol.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.CorrelationID = ""
	s.messages[room] = append(s.messages[room], msg)
	return nil
}

func (s *MemoryStore) Messages(ctx context.Context, room string) ([]protocol.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := make([]protocol.ChatMessage, len(s.messages[room]))
	copy(msgs, s.messages[room])
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp < msgs[j].Timestamp })
	return msgs, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
