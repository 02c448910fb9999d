package api

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisReportGuard_ExcludesSameKey(t *testing.T) {
	_, client := setupTestRedis(t)
	guard := NewRedisReportGuard(client, time.Minute)
	ctx := context.Background()

	release, ok, err := guard.Acquire(ctx, "proj-1:compliance")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = guard.Acquire(ctx, "proj-1:compliance")
	require.NoError(t, err)
	assert.False(t, ok)

	other, ok, err := guard.Acquire(ctx, "proj-1:bill-of-materials")
	require.NoError(t, err)
	assert.True(t, ok, "different kinds are independent")
	other()

	release()
	release()

	again, ok, err := guard.Acquire(ctx, "proj-1:compliance")
	require.NoError(t, err)
	assert.True(t, ok)
	again()
}

func TestRedisReportGuard_ExpiresAfterTTL(t *testing.T) {
	mr, client := setupTestRedis(t)
	guard := NewRedisReportGuard(client, time.Minute)
	ctx := context.Background()

	stale, ok, err := guard.Acquire(ctx, "proj-1:compliance")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)

	fresh, ok, err := guard.Acquire(ctx, "proj-1:compliance")
	require.NoError(t, err)
	require.True(t, ok)

	stale()
	assert.True(t, mr.Exists(guardPrefix+"proj-1:compliance"), "a stale holder must not release the new lock")
	fresh()
	assert.False(t, mr.Exists(guardPrefix+"proj-1:compliance"))
}

func TestRedisReportGuard_ErrorWhenRedisDown(t *testing.T) {
	mr, client := setupTestRedis(t)
	mr.Close()

	_, _, err := NewRedisReportGuard(client, time.Minute).Acquire(context.Background(), "k")
	assert.Error(t, err)
}

func TestMemoryReportGuard(t *testing.T) {
	guard := NewMemoryReportGuard()
	release, ok, _ := guard.Acquire(context.Background(), "k")
	require.True(t, ok)
	_, ok, _ = guard.Acquire(context.Background(), "k")
	assert.False(t, ok)
	release()
	_, ok, _ = guard.Acquire(context.Background(), "k")
	assert.True(t, ok)
}
