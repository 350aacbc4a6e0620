package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the Redis key holding the snapshot.
const DefaultRedisKey = "relaybot:contexts"

// RedisSink stores the snapshot under a single Redis key.
type RedisSink struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// RedisOption configures a RedisSink.
type RedisOption func(*RedisSink)

// WithRedisKey sets the key the snapshot is stored under.
func WithRedisKey(key string) RedisOption {
	return func(s *RedisSink) {
		if key != "" {
			s.key = key
		}
	}
}

// WithRedisTTL expires the snapshot after ttl of inactivity. Zero keeps it forever.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(s *RedisSink) {
		s.ttl = ttl
	}
}

// NewRedisSink creates a Redis-backed sink.
func NewRedisSink(client *redis.Client, opts ...RedisOption) *RedisSink {
	s := &RedisSink{
		client: client,
		key:    DefaultRedisKey,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Read fetches the snapshot, or ErrSnapshotNotFound if the key is absent.
func (s *RedisSink) Read(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return data, nil
}

// Write replaces the snapshot.
func (s *RedisSink) Write(ctx context.Context, data []byte) error {
	if err := s.client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Close releases the Redis client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
