package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "shopdrop:activity:"

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	// TTL expires an idle session's log. Zero keeps it forever.
	TTL time.Duration
}

// RedisStore keeps one list per session; RPUSH preserves arrival order.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: cfg.TTL}, nil
}

func (s *RedisStore) key(sessionKey string) string {
	return s.prefix + sessionKey
}

// Append pushes entry onto the session list.
func (s *RedisStore) Append(ctx context.Context, sessionKey string, entry Entry) error {
	if sessionKey == "" {
		return ErrNoSession
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode activity: %w", err)
	}
	key := s.key(sessionKey)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

// List reads the whole session list.
func (s *RedisStore) List(ctx context.Context, sessionKey string) ([]Entry, error) {
	raw, err := s.client.LRange(ctx, s.key(sessionKey), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var entry Entry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("decode activity: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Close closes the client.
func (s *RedisStore) Close(context.Context) error {
	return s.client.Close()
}
