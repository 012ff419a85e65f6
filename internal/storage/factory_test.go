package storage

import (
	"context"
	"path/filepath"
	"testing"

	"eventnet/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("Memory", func(t *testing.T) {
		kv, err := Open(ctx, config.StorageConfig{Driver: "memory"}, config.RedisConfig{}, nil, nil)
		require.NoError(t, err)
		assert.IsType(t, &MemoryKV{}, kv)
	})

	t.Run("SQLiteWithFailover", func(t *testing.T) {
		cfg := config.StorageConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "a.db"), Failover: true}
		kv, err := Open(ctx, cfg, config.RedisConfig{}, nil, nil)
		require.NoError(t, err)
		defer kv.Close()
		assert.IsType(t, &FailoverKV{}, kv)
	})

	t.Run("RedisWithoutClient", func(t *testing.T) {
		_, err := Open(ctx, config.StorageConfig{Driver: "redis"}, config.RedisConfig{}, nil, nil)
		assert.Error(t, err)
	})

	t.Run("Unknown", func(t *testing.T) {
		_, err := Open(ctx, config.StorageConfig{Driver: "etcd"}, config.RedisConfig{}, nil, nil)
		assert.Error(t, err)
	})
}
