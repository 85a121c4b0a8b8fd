package activity

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore writes entries to the activity_log table. Ordering comes
// from the serial id, so arrival order survives equal timestamps.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a store on an existing pool. The schema is
// created by database.EnsureSchema.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Append inserts one row.
func (s *PostgresStore) Append(ctx context.Context, sessionKey string, entry Entry) error {
	if sessionKey == "" {
		return ErrNoSession
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO activity_log (session_key, kind, payload, created_at)
		VALUES ($1,$2,$3,$4)
	`, sessionKey, entry.Kind, string(entry.Payload), entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// List returns the session's rows oldest first.
func (s *PostgresStore) List(ctx context.Context, sessionKey string) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT kind, payload::text, created_at
		FROM activity_log WHERE session_key=$1
		ORDER BY id
	`, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("select activity: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			entry   Entry
			payload string
		)
		if err := rows.Scan(&entry.Kind, &payload, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		entry.Payload = []byte(payload)
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity: %w", err)
	}
	return entries, nil
}

// Close releases the pool.
func (s *PostgresStore) Close(context.Context) error {
	s.pool.Close()
	return nil
}
