package client

// State is the lifecycle state of a room channel.
type State int

const (
	Disconnected State = iota
	Connecting
	Open
	Reconnecting
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}
