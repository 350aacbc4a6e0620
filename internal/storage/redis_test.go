package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ireland-samantha/relaybot/internal/config"
)

// setupRedisSink creates a sink backed by miniredis.
func setupRedisSink(t *testing.T, opts ...RedisOption) (*RedisSink, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisSink(client, opts...), mr
}

func TestRedisSink_ReadMissing(t *testing.T) {
	sink, _ := setupRedisSink(t)

	_, err := sink.Read(context.Background())
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestRedisSink_WriteRead(t *testing.T) {
	sink, mr := setupRedisSink(t, WithRedisKey("test:contexts"))
	ctx := context.Background()

	require.NoError(t, sink.Write(ctx, []byte(`{"1":[]}`)))

	data, err := sink.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"1":[]}`, string(data))
	assert.True(t, mr.Exists("test:contexts"))
}

func TestRedisSink_TTL(t *testing.T) {
	sink, mr := setupRedisSink(t, WithRedisTTL(time.Hour))

	require.NoError(t, sink.Write(context.Background(), []byte("{}")))

	assert.Equal(t, time.Hour, mr.TTL(DefaultRedisKey))
	mr.FastForward(2 * time.Hour)

	_, err := sink.Read(context.Background())
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestRedisSink_ServerDown(t *testing.T) {
	sink, mr := setupRedisSink(t)
	mr.Close()

	_, err := sink.Read(context.Background())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrSnapshotNotFound)
	assert.Error(t, sink.Write(context.Background(), []byte("{}")))
}

func TestContextStore_RedisRoundTrip(t *testing.T) {
	sink, _ := setupRedisSink(t)
	ctx := context.Background()

	store := NewContextStore(ctx, sink)
	store.RecordExchange(ctx, RegularKey(1), "q", "a")
	store.RecordExchange(ctx, BusinessKey("conn", 2), "bq", "ba")

	reopened := NewContextStore(ctx, sink)
	assert.Equal(t, store.Keys(), reopened.Keys())
	assert.Equal(t, store.RecentWindow(RegularKey(1), 6), reopened.RecentWindow(RegularKey(1), 6))
}

func TestNewSink(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name    string
		storage config.StorageConfig
		want    any
		wantErr bool
	}{
		{name: "file", storage: config.StorageConfig{Backend: config.BackendFile, Path: t.TempDir() + "/c.json"}, want: &FileSink{}},
		{name: "redis", storage: config.StorageConfig{Backend: config.BackendRedis, RedisAddr: mr.Addr()}, want: &RedisSink{}},
		{name: "memory", storage: config.StorageConfig{Backend: config.BackendMemory}, want: &MemorySink{}},
		{name: "unknown", storage: config.StorageConfig{Backend: "s3"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink, err := NewSink(&config.Config{Storage: tt.storage})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, sink)
		})
	}
}
