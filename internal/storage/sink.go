package storage

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ireland-samantha/relaybot/internal/config"
)

// NewSink creates the snapshot sink selected by configuration.
func NewSink(cfg *config.Config) (Sink, error) {
	switch cfg.Storage.Backend {
	case config.BackendFile:
		return NewFileSink(cfg.Storage.Path)
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
		})
		return NewRedisSink(client,
			WithRedisKey(cfg.Storage.RedisKey),
			WithRedisTTL(cfg.Storage.RedisTTL),
		), nil
	case config.BackendMemory:
		return NewMemorySink(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}
}
