package protocol

import (
	"strings"
	"time"
)

// Delimiters of the inbound text grammar "<author> (<timestamp>): <content>".
const (
	authorDelim    = " ("
	timestampDelim = "): "
)

// TimestampLayout is the layout FormatFrame uses for the timestamp group.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// naiveLayouts are accepted for backends that print local datetimes without a
// zone. They are read as UTC.
var naiveLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// DecodeFrame parses an inbound text frame of the form
// "<author> (<timestamp>): <content>".
//
// Only the first " (" and the first "): " are significant, so content may
// contain either sequence. It returns false for anything that does not match;
// callers drop such frames.
func DecodeFrame(raw string) (ChatMessage, bool) {
	raw = strings.TrimSuffix(raw, "\n")
	raw = strings.TrimSuffix(raw, "\r")
	if strings.ContainsAny(raw, "\r\n") {
		return ChatMessage{}, false
	}

	author, rest, ok := strings.Cut(raw, authorDelim)
	if !ok || author == "" {
		return ChatMessage{}, false
	}

	stamp, content, ok := strings.Cut(rest, timestampDelim)
	if !ok || stamp == "" || content == "" {
		return ChatMessage{}, false
	}

	t, ok := parseTimestamp(stamp)
	if !ok {
		return ChatMessage{}, false
	}

	return ChatMessage{
		Timestamp: EpochSeconds(t),
		Author:    author,
		Content:   content,
	}, true
}

// FormatFrame renders msg in the inbound text grammar.
func FormatFrame(msg ChatMessage) string {
	return msg.Author + authorDelim + msg.Time().Format(TimestampLayout) + timestampDelim + msg.Content
}

// EncodeText returns the outbound payload for text. The wire carries the raw
// user text; the server re-frames it with author and timestamp, so
// EncodeText(DecodeFrame(f).Content) is not f.
func EncodeText(text string) string {
	return text
}

func parseTimestamp(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
