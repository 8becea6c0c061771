package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRedisLockerExcludesSecondHolder(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	locker := NewRedisLocker(client, zap.NewNop())
	ctx := context.Background()

	release, ok, err := locker.Acquire(ctx, "overdue", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("sicet:lock:overdue"))

	_, ok, err = locker.Acquire(ctx, "overdue", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	assert.False(t, mr.Exists("sicet:lock:overdue"))

	release2, ok, err := locker.Acquire(ctx, "overdue", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	release2()
}

func TestRedisLockerExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	locker := NewRedisLocker(client, zap.NewNop())
	ctx := context.Background()

	_, ok, err := locker.Acquire(ctx, "overdue", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	_, ok, err = locker.Acquire(ctx, "overdue", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalLocker(t *testing.T) {
	locker := NewLocalLocker()
	release, ok, _ := locker.Acquire(context.Background(), "x", time.Second)
	require.True(t, ok)
	_, ok, _ = locker.Acquire(context.Background(), "x", time.Second)
	assert.False(t, ok)
	release()
	_, ok, _ = locker.Acquire(context.Background(), "x", time.Second)
	assert.True(t, ok)
}
