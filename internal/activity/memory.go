package activity

import (
	"context"
	"sync"
)

// MemoryStore keeps entries in process. Reads take the shared lock so
// concurrent listings don't serialize behind each other.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]Entry
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]Entry)}
}

// Append adds entry to the end of the session's log.
func (m *MemoryStore) Append(_ context.Context, sessionKey string, entry Entry) error {
	if sessionKey == "" {
		return ErrNoSession
	}
	entry.Payload = append([]byte(nil), entry.Payload...)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionKey] = append(m.sessions[sessionKey], entry)
	return nil
}

// List returns a copy so callers can't mutate the log.
func (m *MemoryStore) List(_ context.Context, sessionKey string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.sessions[sessionKey]
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out, nil
}

// Close is a no-op.
func (m *MemoryStore) Close(context.Context) error { return nil }
