package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ID is a backend identifier. The backend emits both numeric and string ids.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode id: %w", err)
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Timestamp accepts RFC 3339 and the "YYYY-MM-DD hh:mm:ss" form some backends emit.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// NewTimestamp wraps t in UTC.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw *string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode timestamp: %w", err)
	}
	if raw == nil || strings.TrimSpace(*raw) == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, *raw); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("decode timestamp: unsupported format %q", *raw)
}

type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// MessageStatus tracks the optimistic append of a user message.
type MessageStatus string

const (
	MessagePending MessageStatus = "pending"
	MessageSent    MessageStatus = "sent"
	MessageFailed  MessageStatus = "failed"
)

type User struct {
	ID    ID     `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type ChatSession struct {
	SessionID ID        `json:"session_id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt Timestamp `json:"created_at,omitzero"`
}

type Message struct {
	ID        string          `json:"id,omitempty"`
	Sender    Sender          `json:"sender"`
	Message   string          `json:"message"`
	Timestamp Timestamp       `json:"timestamp,omitzero"`
	Files     []string        `json:"files,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	IsError   bool            `json:"isError,omitempty"`
	Status    MessageStatus   `json:"status,omitempty"`
}

// SessionSummary is the list projection of a session.
type SessionSummary struct {
	ID           ID        `json:"id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	Timestamp    Timestamp `json:"timestamp,omitzero"`
}

// RemoteSession is one item of the backend session list.
type RemoteSession struct {
	ID           ID        `json:"id,omitempty"`
	SessionID    ID        `json:"session_id,omitempty"`
	Title        string    `json:"title,omitempty"`
	MessageCount int       `json:"message_count,omitempty"`
	Messages     []Message `json:"messages,omitempty"`
	CreatedAt    Timestamp `json:"created_at,omitzero"`
	UpdatedAt    Timestamp `json:"updated_at,omitzero"`
}

// Key returns the id used for history, end and delete calls.
func (s RemoteSession) Key() ID {
	if s.SessionID != "" {
		return s.SessionID
	}
	return s.ID
}

// Summary projects the remote session for list display.
func (s RemoteSession) Summary(fallbackTitle string) SessionSummary {
	title := strings.TrimSpace(s.Title)
	if title == "" && len(s.Messages) > 0 {
		title = TruncateTitle(s.Messages[0].Message, TitleLength)
	}
	if title == "" {
		title = fallbackTitle
	}
	count := s.MessageCount
	if count == 0 {
		count = len(s.Messages)
	}
	ts := s.UpdatedAt
	if ts.IsZero() {
		ts = s.CreatedAt
	}
	return SessionSummary{
		ID:           s.Key(),
		Title:        title,
		MessageCount: count,
		Timestamp:    ts,
	}
}

// TitleLength is the number of characters kept from the first message.
const TitleLength = 50

// TruncateTitle cuts text to at most n characters.
func TruncateTitle(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}
