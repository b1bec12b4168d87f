// Package chat provides the channel abstraction shared by client transports
// and the room hub of the development server.
package chat

import (
	"context"

	"github.com/omochice/vetchat/pkg/protocol"
)

// Conn abstracts one bidirectional room channel.
// This interface isolates transport details from chat logic.
type Conn interface {
	// Read reads a single frame.
	// Returns an error once the connection is closed.
	Read(ctx context.Context) (protocol.Frame, error)

	// Write sends a single frame.
	Write(ctx context.Context, f protocol.Frame) error

	// Close closes the connection.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}
