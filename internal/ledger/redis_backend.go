package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisConfig 描述 Redis 状态存储的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// RedisBackend 将状态保存为 Redis 字符串，提交通过 MULTI/EXEC 原子执行。
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// OpenRedisBackend 连接 Redis 并校验可用性。
func OpenRedisBackend(ctx context.Context, cfg RedisConfig) (*RedisBackend, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return NewRedisBackend(client, cfg.Prefix), nil
}

// NewRedisBackend wraps an existing client.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "flowpay:state:"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) key(k Key) string {
	return b.prefix + string(k)
}

// Get implements Backend.
func (b *RedisBackend) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	value, err := b.client.Get(ctx, b.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("Redis 读取 %s 失败: %w", key, err)
	}
	return value, true, nil
}

// Commit implements Backend.
func (b *RedisBackend) Commit(ctx context.Context, writes []Write) error {
	if len(writes) == 0 {
		return nil
	}
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, w := range writes {
			if w.Delete {
				pipe.Del(ctx, b.key(w.Key))
				continue
			}
			pipe.Set(ctx, b.key(w.Key), w.Value, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("Redis 提交失败: %w", err)
	}
	return nil
}

// Close implements Backend.
func (b *RedisBackend) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}
