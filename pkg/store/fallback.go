package store

import (
	"sync"
)

// DefaultFallbackCapacity is the per-session ring size of the fallback buffer.
const DefaultFallbackCapacity = 20

// Fallback is the process-local, non-durable substitute history used only
// while the durable store is unavailable. It retains at most the most recent
// N messages per session id and is never merged back into durable storage.
type Fallback struct {
	capacity int
	mu       sync.Mutex
	sessions map[string][]Message
}

// NewFallback creates a fallback buffer with the given per-session capacity.
func NewFallback(capacity int) *Fallback {
	if capacity <= 0 {
		capacity = DefaultFallbackCapacity
	}
	return &Fallback{
		capacity: capacity,
		sessions: make(map[string][]Message),
	}
}

// Append records a message for a session, evicting the oldest entry once the
// ring is full.
func (f *Fallback) Append(sessionID string, msg Message) {
	if !msg.Valid() {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	buf := append(f.sessions[sessionID], msg)
	if len(buf) > f.capacity {
		buf = buf[len(buf)-f.capacity:]
	}
	f.sessions[sessionID] = buf
}

// Recent returns a copy of the buffered messages for a session, oldest first.
func (f *Fallback) Recent(sessionID string) []Message {
	f.mu.Lock()
	defer f.mu.Unlock()

	buf := f.sessions[sessionID]
	out := make([]Message, len(buf))
	copy(out, buf)
	return out
}

// Len returns the number of buffered messages for a session.
func (f *Fallback) Len(sessionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions[sessionID])
}
