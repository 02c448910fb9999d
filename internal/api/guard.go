package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const guardPrefix = "docflow:report:"

// ReportGuard admits one active report stream per key. release is safe to
// call more than once.
type ReportGuard interface {
	Acquire(ctx context.Context, key string) (release func(), acquired bool, err error)
}

// RedisReportGuard holds the key with SETNX and a TTL so a crashed server
// cannot block a report forever.
type RedisReportGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisReportGuard(client *redis.Client, ttl time.Duration) *RedisReportGuard {
	return &RedisReportGuard{client: client, ttl: ttl}
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

func (g *RedisReportGuard) Acquire(ctx context.Context, key string) (func(), bool, error) {
	k := guardPrefix + key
	token := uuid.NewString()
	ok, err := g.client.SetNX(ctx, k, token, g.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire report guard %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			_, _ = releaseScript.Run(context.Background(), g.client, []string{k}, token).Result()
		})
	}, true, nil
}

// MemoryReportGuard is the single-process fallback used without Redis.
type MemoryReportGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryReportGuard() *MemoryReportGuard {
	return &MemoryReportGuard{held: make(map[string]struct{})}
}

func (g *MemoryReportGuard) Acquire(_ context.Context, key string) (func(), bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.held[key]; busy {
		return nil, false, nil
	}
	g.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, key)
			g.mu.Unlock()
		})
	}, true, nil
}
