package protocol

import "fmt"

// FrameKind distinguishes text and binary channel messages.
type FrameKind int

const (
	FrameText FrameKind = iota
	FrameBinary
)

// Frame is one unit of transmission on a channel.
type Frame struct {
	Kind FrameKind
	Data []byte
}

// TextFrame returns a text frame carrying s.
func TextFrame(s string) Frame {
	return Frame{Kind: FrameText, Data: []byte(s)}
}

// BinaryFrame returns a binary frame carrying b.
func BinaryFrame(b []byte) Frame {
	return Frame{Kind: FrameBinary, Data: b}
}

// Format selects how outbound text is put on the wire.
type Format int

const (
	// FormatText sends raw user text, compatible with the existing backend.
	FormatText Format = iota
	// FormatEnvelope sends binary protobuf envelopes.
	FormatEnvelope
)

// String returns the config name of the format.
func (f Format) String() string {
	switch f {
	case FormatText:
		return "text"
	case FormatEnvelope:
		return "envelope"
	default:
		return "unknown"
	}
}

// ParseFormat parses a config value ("text" or "envelope").
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "text":
		return FormatText, nil
	case "envelope":
		return FormatEnvelope, nil
	default:
		return FormatText, fmt.Errorf("unknown frame format %q", s)
	}
}

// Codec translates between frames and chat messages.
type Codec struct {
	Format Format
}

// Decode returns the message carried by f. Text frames go through the text
// grammar and binary frames are read as envelopes, regardless of Format.
// Undecodable frames return false.
func (c Codec) Decode(f Frame) (ChatMessage, bool) {
	switch f.Kind {
	case FrameText:
		return DecodeFrame(string(f.Data))
	case FrameBinary:
		e, err := UnmarshalEnvelope(f.Data)
		if err != nil || e.Content == "" {
			return ChatMessage{}, false
		}
		if e.Kind != KindSystem && e.Author == "" {
			return ChatMessage{}, false
		}
		return e.Message(), true
	default:
		return ChatMessage{}, false
	}
}

// Encode builds the outbound frame for text. correlationID is only carried
// by envelopes.
func (c Codec) Encode(text, correlationID string) (Frame, error) {
	if c.Format != FormatEnvelope {
		return TextFrame(EncodeText(text)), nil
	}
	data, err := MarshalEnvelope(Envelope{
		Kind:          KindChat,
		Content:       text,
		CorrelationID: correlationID,
	})
	if err != nil {
		return Frame{}, fmt.Errorf("failed to encode message: %w", err)
	}
	return BinaryFrame(data), nil
}
