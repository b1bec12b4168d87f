package session

import (
	"errors"
	"fmt"

	"github.com/omochice/vetchat/internal/client"
	"github.com/omochice/vetchat/pkg/protocol"
)

var (
	ErrNoRoom       = errors.New("no room selected")
	ErrNotReady     = errors.New("session is still loading")
	ErrNotConnected = errors.New("not connected to room")
	ErrSendPending  = errors.New("previous message is still pending")
	ErrEmptyMessage = errors.New("message is empty")
	ErrClosed       = errors.New("session controller is closed")
)

// State is the controller state.
type State int

const (
	NoRoomSelected State = iota
	LoadingHistory
	Ready
	SendPending
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case NoRoomSelected:
		return "no-room-selected"
	case LoadingHistory:
		return "loading-history"
	case Ready:
		return "ready"
	case SendPending:
		return "send-pending"
	default:
		return "unknown"
	}
}

// AckPolicy decides which inbound message releases a pending send.
type AckPolicy int

const (
	// AckNextFrame treats any decoded inbound message as the acknowledgment.
	AckNextFrame AckPolicy = iota
	// AckOwnEcho waits for the server echo of the pending message, matched by
	// correlation id or by author and content.
	AckOwnEcho
)

// String returns the config name of the policy.
func (p AckPolicy) String() string {
	switch p {
	case AckNextFrame:
		return "next-frame"
	case AckOwnEcho:
		return "own-echo"
	default:
		return "unknown"
	}
}

// ParseAckPolicy parses a config value.
func ParseAckPolicy(s string) (AckPolicy, error) {
	switch s {
	case "", "next-frame":
		return AckNextFrame, nil
	case "own-echo":
		return AckOwnEcho, nil
	default:
		return AckNextFrame, fmt.Errorf("unknown ack policy %q", s)
	}
}

// MergePolicy decides how fetched history is reconciled with live messages.
type MergePolicy int

const (
	// MergeKeepAll keeps every live message even when it repeats a history
	// record.
	MergeKeepAll MergePolicy = iota
	// MergeDedupe drops live messages equal to a history record by author,
	// timestamp and content.
	MergeDedupe
)

// String returns the config name of the policy.
func (p MergePolicy) String() string {
	switch p {
	case MergeKeepAll:
		return "keep"
	case MergeDedupe:
		return "dedupe"
	default:
		return "unknown"
	}
}

// ParseMergePolicy parses a config value.
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch s {
	case "", "keep":
		return MergeKeepAll, nil
	case "dedupe":
		return MergeDedupe, nil
	default:
		return MergeKeepAll, fmt.Errorf("unknown history merge policy %q", s)
	}
}

// EventKind identifies an Event.
type EventKind int

const (
	StateChanged EventKind = iota
	MessageAppended
	HistoryLoaded
	ConnectionChanged
	ErrorRaised
)

// Event is a notification for the UI layer. Only the fields relevant to Kind
// are set.
type Event struct {
	Kind EventKind
	Room string

	State    State
	Conn     client.State
	Message  protocol.ChatMessage
	Messages []protocol.ChatMessage
	Err      error
}
