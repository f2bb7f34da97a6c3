package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupRedisStore(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	cfg := DefaultRedisConfig()
	cfg.Addr = mr.Addr()
	s, err := NewRedisStore(cfg, zap.NewNop())
	require.NoError(t, err)

	t.Cleanup(func() {
		s.Close()
		mr.Close()
	})
	return mr, s
}

func TestRedisStore_SetGet(t *testing.T) {
	_, s := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	val, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)
}

func TestRedisStore_Miss(t *testing.T) {
	_, s := setupRedisStore(t)
	_, err := s.Get(context.Background(), "absent")
	assert.True(t, IsCacheMiss(err))
}

func TestRedisStore_TTLExpiry(t *testing.T) {
	mr, s := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Second))
	mr.FastForward(2 * time.Second)

	_, err := s.Get(ctx, "k")
	assert.True(t, IsCacheMiss(err))
}

func TestRedisStore_NoExpiry(t *testing.T) {
	mr, s := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "transcript:abc", []byte("v"), NoExpiry))
	mr.FastForward(24 * time.Hour)

	val, err := s.Get(ctx, "transcript:abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)
}

func TestRedisStore_ClearPattern(t *testing.T) {
	_, s := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "transcript:a", []byte("1"), NoExpiry))
	require.NoError(t, s.Set(ctx, "evaluation:a", []byte("2"), NoExpiry))

	n, err := s.ClearPattern(ctx, `^transcript:`)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Get(ctx, "evaluation:a")
	assert.NoError(t, err)
}

func TestRedisStore_ClosedOps(t *testing.T) {
	_, s := setupRedisStore(t)
	require.NoError(t, s.Close())

	_, err := s.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.False(t, IsCacheMiss(err))
}
