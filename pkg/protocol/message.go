// Package protocol defines the chat message model and the wire codecs used on
// a room channel.
package protocol

import (
	"math"
	"time"
)

// SystemAuthor is the author of synthetic room notifications (join, leave).
const SystemAuthor = "System"

// Kind represents the kind of a chat message
type Kind int

const (
	KindChat Kind = iota
	KindSystem
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindChat:
		return "CHAT"
	case KindSystem:
		return "SYSTEM"
	default:
		return "UNKNOWN"
	}
}

// ChatMessage is a single chat line. Values are never mutated after
// construction.
type ChatMessage struct {
	// Timestamp is seconds since the Unix epoch.
	Timestamp float64 `json:"timestamp"`
	Author    string  `json:"author"`
	Content   string  `json:"message"`

	// CorrelationID is only set for messages decoded from an Envelope.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// NewChatMessage builds a ChatMessage stamped with t.
func NewChatMessage(t time.Time, author, content string) ChatMessage {
	return ChatMessage{
		Timestamp: EpochSeconds(t),
		Author:    author,
		Content:   content,
	}
}

// Kind reports whether the message is a system notification.
func (m ChatMessage) Kind() Kind {
	if m.Author == SystemAuthor {
		return KindSystem
	}
	return KindChat
}

// IsSystem returns true for messages authored by SystemAuthor.
func (m ChatMessage) IsSystem() bool {
	return m.Kind() == KindSystem
}

// Time converts Timestamp back into a time.Time in UTC.
func (m ChatMessage) Time() time.Time {
	sec, frac := math.Modf(m.Timestamp)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}

// ContentKey returns m without its correlation id. Two messages with equal
// keys carry the same author, timestamp and content.
func (m ChatMessage) ContentKey() ChatMessage {
	m.CorrelationID = ""
	return m
}

// EpochSeconds converts t into fractional seconds since the epoch with
// millisecond precision.
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000
}
