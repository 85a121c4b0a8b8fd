// Package activity is the append-only per-session log that records what a
// merchant published. Entries come back in arrival order.
package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// KindShopifyUpload tags entries written after a successful publish.
const KindShopifyUpload = "shopifyUpload"

// ErrNoSession is returned for operations without a session key.
var ErrNoSession = errors.New("session key required")

// Entry is one logged record.
type Entry struct {
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Store persists entries per session.
type Store interface {
	Append(ctx context.Context, sessionKey string, entry Entry) error
	List(ctx context.Context, sessionKey string) ([]Entry, error)
	Close(ctx context.Context) error
}

// Log adapts a Store to the collaborator the publish pipeline expects.
type Log struct {
	store Store
	now   func() time.Time
}

// NewLog wraps store.
func NewLog(store Store) *Log {
	return &Log{store: store, now: time.Now}
}

// AppendActivity marshals record and appends it under sessionKey.
func (l *Log) AppendActivity(ctx context.Context, sessionKey, kind string, record any) error {
	if strings.TrimSpace(sessionKey) == "" {
		return ErrNoSession
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode activity: %w", err)
	}
	return l.store.Append(ctx, sessionKey, Entry{
		Kind:      kind,
		Payload:   payload,
		CreatedAt: l.now().UTC(),
	})
}

// Entries lists a session's log.
func (l *Log) Entries(ctx context.Context, sessionKey string) ([]Entry, error) {
	if strings.TrimSpace(sessionKey) == "" {
		return nil, ErrNoSession
	}
	return l.store.List(ctx, sessionKey)
}
