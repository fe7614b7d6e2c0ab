package auth

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayStore 记录已经使用过的签名。
type ReplayStore interface {
	// Remember 记录 key 并在首次出现时返回 true。
	Remember(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// MemoryReplayStore 在进程内记录签名，适用于单实例部署与测试。
type MemoryReplayStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

// NewMemoryReplayStore 创建内存版重放检测。
func NewMemoryReplayStore() *MemoryReplayStore {
	return &MemoryReplayStore{seen: make(map[string]time.Time), now: time.Now}
}

// Remember implements ReplayStore.
func (m *MemoryReplayStore) Remember(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, expiry := range m.seen {
		if now.After(expiry) {
			delete(m.seen, k)
		}
	}
	if _, ok := m.seen[key]; ok {
		return false, nil
	}
	m.seen[key] = now.Add(ttl)
	return true, nil
}

// RedisReplayStore 使用 SETNX 在多实例之间共享签名记录。
type RedisReplayStore struct {
	client *redis.Client
	prefix string
}

// NewRedisReplayStore 使用已有客户端创建重放检测。
func NewRedisReplayStore(client *redis.Client, prefix string) *RedisReplayStore {
	if prefix == "" {
		prefix = "flowpay:auth:sig:"
	}
	return &RedisReplayStore{client: client, prefix: prefix}
}

// Remember implements ReplayStore.
func (r *RedisReplayStore) Remember(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, r.prefix+key, 1, ttl).Result()
}
