// Package rooms tracks the rooms the current user belongs to and the selected
// room. Membership changes are delegated to a Backend; local state only
// changes after the backend call succeeds.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	// ErrNotMember is returned when selecting a room the user has not joined.
	ErrNotMember = errors.New("not a member of this room")
	// ErrEmptyName is returned for blank room names.
	ErrEmptyName = errors.New("room name must not be empty")
)

// Room is a named chat channel. Its display name is its identifier.
type Room struct {
	ID string
}

// Name returns the display name.
func (r Room) Name() string {
	return r.ID
}

// Backend is the membership collaborator.
type Backend interface {
	ListRooms(ctx context.Context, user string) ([]string, error)
	CreateRoom(ctx context.Context, room, user string) error
	JoinRoom(ctx context.Context, room, user string) error
	LeaveRoom(ctx context.Context, room, user string) error
	ListMembers(ctx context.Context, room string) ([]string, error)
}

// OpError describes a failed room operation.
type OpError struct {
	Op   string
	Room string
	Err  error
}

func (e *OpError) Error() string {
	if e.Room == "" {
		return fmt.Sprintf("failed to %s rooms: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("failed to %s room %q: %v", e.Op, e.Room, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Registry is safe for concurrent use.
type Registry struct {
	backend Backend
	logger  zerolog.Logger

	mu       sync.RWMutex
	rooms    []Room
	selected string

	onSelectedLeft func(room string)
}

// NewRegistry creates an empty Registry.
func NewRegistry(backend Backend, logger zerolog.Logger) *Registry {
	return &Registry{
		backend: backend,
		logger:  logger.With().Str("component", "rooms").Logger(),
	}
}

// OnSelectedLeft registers fn to be called after the selected room has been
// left.
func (r *Registry) OnSelectedLeft(fn func(room string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSelectedLeft = fn
}

// Load replaces the local list with the rooms user belongs to. A selected
// room missing from the new list is deselected and OnSelectedLeft runs.
func (r *Registry) Load(ctx context.Context, user string) ([]Room, error) {
	ids, err := r.backend.ListRooms(ctx, user)
	if err != nil {
		return nil, &OpError{Op: "list", Err: err}
	}

	loaded := make([]Room, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		loaded = append(loaded, Room{ID: id})
	}

	r.mu.Lock()
	r.rooms = loaded
	dropped := ""
	if r.selected != "" && !seen[r.selected] {
		dropped = r.selected
		r.selected = ""
	}
	hook := r.onSelectedLeft
	r.mu.Unlock()

	r.logger.Debug().Str("user", user).Int("rooms", len(loaded)).Msg("rooms loaded")
	if dropped != "" && hook != nil {
		hook(dropped)
	}
	return r.Rooms(), nil
}

// Create creates a room and adds it to the local list.
func (r *Registry) Create(ctx context.Context, name, user string) (Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Room{}, &OpError{Op: "create", Err: ErrEmptyName}
	}
	if err := r.backend.CreateRoom(ctx, name, user); err != nil {
		return Room{}, &OpError{Op: "create", Room: name, Err: err}
	}
	room := r.add(name)
	r.logger.Info().Str("room", name).Str("user", user).Msg("room created")
	return room, nil
}

// Join joins an existing room and adds it to the local list.
func (r *Registry) Join(ctx context.Context, name, user string) (Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Room{}, &OpError{Op: "join", Err: ErrEmptyName}
	}
	if err := r.backend.JoinRoom(ctx, name, user); err != nil {
		return Room{}, &OpError{Op: "join", Room: name, Err: err}
	}
	room := r.add(name)
	r.logger.Info().Str("room", name).Str("user", user).Msg("room joined")
	return room, nil
}

// Leave leaves a room and removes it from the local list. If it was the
// selected room the selection is cleared and the OnSelectedLeft hook runs.
func (r *Registry) Leave(ctx context.Context, name, user string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &OpError{Op: "leave", Err: ErrEmptyName}
	}
	if err := r.backend.LeaveRoom(ctx, name, user); err != nil {
		return &OpError{Op: "leave", Room: name, Err: err}
	}

	r.mu.Lock()
	for i, room := range r.rooms {
		if room.ID == name {
			r.rooms = append(r.rooms[:i:i], r.rooms[i+1:]...)
			break
		}
	}
	wasSelected := r.selected == name
	if wasSelected {
		r.selected = ""
	}
	hook := r.onSelectedLeft
	r.mu.Unlock()

	r.logger.Info().Str("room", name).Str("user", user).Msg("room left")
	if wasSelected && hook != nil {
		hook(name)
	}
	return nil
}

// Members fetches the member list of room. Results are not cached.
func (r *Registry) Members(ctx context.Context, room string) ([]string, error) {
	members, err := r.backend.ListMembers(ctx, room)
	if err != nil {
		return nil, &OpError{Op: "list members of", Room: room, Err: err}
	}
	return members, nil
}

// Select marks room as the current room.
func (r *Registry) Select(room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasLocked(room) {
		return fmt.Errorf("%q: %w", room, ErrNotMember)
	}
	r.selected = room
	return nil
}

// Deselect clears the current room.
func (r *Registry) Deselect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selected = ""
}

// Selected returns the current room, if any.
func (r *Registry) Selected() (Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.selected == "" {
		return Room{}, false
	}
	return Room{ID: r.selected}, true
}

// Has reports whether the user belongs to room.
func (r *Registry) Has(room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hasLocked(room)
}

// Rooms returns a copy of the local room list.
func (r *Registry) Rooms() []Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Room(nil), r.rooms...)
}

// Filter returns the rooms whose name contains substr, case-insensitively.
func (r *Registry) Filter(substr string) []Room {
	substr = strings.ToLower(strings.TrimSpace(substr))
	all := r.Rooms()
	if substr == "" {
		return all
	}
	matched := all[:0]
	for _, room := range all {
		if strings.Contains(strings.ToLower(room.Name()), substr) {
			matched = append(matched, room)
		}
	}
	return matched
}

func (r *Registry) add(name string) Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := Room{ID: name}
	if !r.hasLocked(name) {
		r.rooms = append(r.rooms, room)
	}
	return room
}

func (r *Registry) hasLocked(room string) bool {
	for _, existing := range r.rooms {
		if existing.ID == room {
			return true
		}
	}
	return false
}
