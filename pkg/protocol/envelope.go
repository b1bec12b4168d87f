package protocol

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Envelope field numbers. Kind 0 is read as chat.
const (
	fieldKind          protowire.Number = 1
	fieldRoom          protowire.Number = 2
	fieldAuthor        protowire.Number = 3
	fieldContent       protowire.Number = 4
	fieldSentAt        protowire.Number = 5
	fieldCorrelationID protowire.Number = 6
)

const (
	envelopeKindChat   = 1
	envelopeKindSystem = 2
)

// ErrInvalidEnvelope is returned when binary data is not a well-formed envelope.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// Envelope is the structured frame carried in binary messages. Unlike the
// text grammar it has tagged fields, so content cannot be confused with the
// delimiters, and it carries a correlation id for send acknowledgement.
type Envelope struct {
	Kind          Kind
	Room          string
	Author        string
	Content       string
	SentAt        time.Time
	CorrelationID string
}

// EnvelopeFromMessage wraps msg for room.
func EnvelopeFromMessage(room string, msg ChatMessage) Envelope {
	return Envelope{
		Kind:          msg.Kind(),
		Room:          room,
		Author:        msg.Author,
		Content:       msg.Content,
		SentAt:        msg.Time(),
		CorrelationID: msg.CorrelationID,
	}
}

// Message converts the envelope into a ChatMessage. System envelopes always
// carry SystemAuthor.
func (e Envelope) Message() ChatMessage {
	author := e.Author
	if e.Kind == KindSystem {
		author = SystemAuthor
	}
	return ChatMessage{
		Timestamp:     EpochSeconds(e.SentAt),
		Author:        author,
		Content:       e.Content,
		CorrelationID: e.CorrelationID,
	}
}

// MarshalEnvelope encodes e in protobuf wire format.
func MarshalEnvelope(e Envelope) ([]byte, error) {
	var b []byte

	kind := uint64(envelopeKindChat)
	if e.Kind == KindSystem {
		kind = envelopeKindSystem
	}
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, kind)

	b = appendString(b, fieldRoom, e.Room)
	b = appendString(b, fieldAuthor, e.Author)
	b = appendString(b, fieldContent, e.Content)

	if !e.SentAt.IsZero() {
		ts, err := proto.Marshal(timestamppb.New(e.SentAt))
		if err != nil {
			return nil, fmt.Errorf("failed to encode envelope timestamp: %w", err)
		}
		b = protowire.AppendTag(b, fieldSentAt, protowire.BytesType)
		b = protowire.AppendBytes(b, ts)
	}

	b = appendString(b, fieldCorrelationID, e.CorrelationID)
	return b, nil
}

// UnmarshalEnvelope decodes data produced by MarshalEnvelope. Unknown fields
// are skipped.
func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldKind && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(data)
			if v == envelopeKindSystem {
				e.Kind = KindSystem
			} else {
				e.Kind = KindChat
			}
		case num == fieldSentAt && typ == protowire.BytesType:
			var raw []byte
			raw, n = protowire.ConsumeBytes(data)
			if n >= 0 {
				var ts timestamppb.Timestamp
				if err := proto.Unmarshal(raw, &ts); err != nil {
					return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
				}
				if err := ts.CheckValid(); err != nil {
					return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
				}
				e.SentAt = ts.AsTime()
			}
		case typ == protowire.BytesType && isStringField(num):
			var s string
			s, n = protowire.ConsumeString(data)
			setStringField(&e, num, s)
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
		}

		if n < 0 {
			return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, protowire.ParseError(n))
		}
		data = data[n:]
	}
	return e, nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func isStringField(num protowire.Number) bool {
	switch num {
	case fieldRoom, fieldAuthor, fieldContent, fieldCorrelationID:
		return true
	}
	return false
}

func setStringField(e *Envelope, num protowire.Number, s string) {
	switch num {
	case fieldRoom:
		e.Room = s
	case fieldAuthor:
		e.Author = s
	case fieldContent:
		e.Content = s
	case fieldCorrelationID:
		e.CorrelationID = s
	}
}
