package store

import (
	"context"
	"errors"
	"time"
)

// Role identifies which side of the conversation produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single conversation turn. Immutable once created.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Valid reports whether the message carries a recognized role and non-empty
// content. Entries failing this check are dropped on load, never forwarded.
func (m Message) Valid() bool {
	if m.Content == "" {
		return false
	}
	return m.Role == RoleUser || m.Role == RoleAssistant
}

// Session is a durable, ordered conversation identified by an opaque key.
// Messages are append-only; insertion order is conversation order.
type Session struct {
	SessionID string    `json:"sessionId"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
}

var (
	// ErrNotFound indicates no session exists for the given id.
	ErrNotFound = errors.New("session not found")

	// ErrUnavailable indicates the durable backend could not serve the
	// operation (timeout or backend error). Callers fall back to the
	// in-memory buffer for the remainder of the request.
	ErrUnavailable = errors.New("session store unavailable")
)

// Store persists session message logs.
type Store interface {
	// Load fetches the full history for a session. Returns ErrNotFound for
	// unknown ids and ErrUnavailable on timeout or backend failure.
	Load(ctx context.Context, sessionID string) (*Session, error)

	// Append persists one message, creating the session if absent.
	// Returns ErrUnavailable on timeout or backend failure.
	Append(ctx context.Context, sessionID string, msg Message) error

	// Healthy reports current backend connectivity. Set false on first
	// failure and re-evaluated on the next successful operation.
	Healthy() bool

	Close() error
}
