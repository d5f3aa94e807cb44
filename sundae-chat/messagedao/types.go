package messagedao

import (
	"fmt"
	"time"
)

// TimeFormat is ISO-8601 in UTC with fixed-width microseconds, so lexical order of
// formatted timestamps is chronological order.
const TimeFormat = "2006-01-02T15:04:05.000000Z07:00"

// Message is one immutable chat message. Messages sort by SK within a room; SK is the
// timestamp followed by the message id, which breaks timestamp ties in insertion order.
type Message struct {
	Room         string `dynamodbav:"room" ddb:"hash"`
	SK           string `dynamodbav:"sk" ddb:"range;gsi_range:UserIndex"`
	MessageID    string `dynamodbav:"message_id"`
	Timestamp    string `dynamodbav:"timestamp"`
	UserID       string `dynamodbav:"user_id" ddb:"gsi_hash:UserIndex"`
	ConnectionID string `dynamodbav:"connection_id,omitempty"`
	Body         string `dynamodbav:"message"`
	TTL          int64  `dynamodbav:"ttl"`
}

// Time parses the message timestamp.
func (m Message) Time() (time.Time, error) {
	t, err := time.Parse(TimeFormat, m.Timestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("message %v in room %v has malformed timestamp %q: %w", m.MessageID, m.Room, m.Timestamp, err)
	}
	return t, nil
}

// Expired reports whether the message's TTL has elapsed at now.
func (m Message) Expired(now time.Time) bool {
	return m.TTL <= now.Unix()
}

// FormatTime formats t with TimeFormat.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

func sortKey(timestamp, messageID string) string {
	return timestamp + "#" + messageID
}

// QueryOptions narrows a history query.
type QueryOptions struct {
	// Since, when set, restricts results to messages at or after it.
	Since time.Time
	// Limit caps the number of messages; DefaultLimit when zero, at most MaxLimit.
	Limit int
	// Descending returns newest messages first.
	Descending bool
}

const (
	DefaultLimit = 50
	MaxLimit     = 1000
)

func (o QueryOptions) limit() int {
	switch {
	case o.Limit <= 0:
		return DefaultLimit
	case o.Limit > MaxLimit:
		return MaxLimit
	default:
		return o.Limit
	}
}
