package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig 描述 Redis 事件通道的连接参数。
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	List      string
	BlockWait time.Duration
}

// RedisStream 使用 Redis list 投递事件，消费端通过 BRPOP 读取。
type RedisStream struct {
	client *redis.Client
	list   string
	wait   time.Duration
}

// NewRedisStream 创建 Redis 事件通道。
func NewRedisStream(ctx context.Context, cfg RedisConfig) (*RedisStream, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return NewRedisStreamWithClient(client, cfg.List, cfg.BlockWait), nil
}

// NewRedisStreamWithClient wraps an existing client.
func NewRedisStreamWithClient(client *redis.Client, list string, wait time.Duration) *RedisStream {
	if list == "" {
		list = "flowpay:events"
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisStream{client: client, list: list, wait: wait}
}

// Publish 将事件写入 Redis list 头部。
func (s *RedisStream) Publish(ctx context.Context, evt Event) error {
	payload, err := encode(evt)
	if err != nil {
		return err
	}
	if err := s.client.LPush(ctx, s.list, payload).Err(); err != nil {
		return fmt.Errorf("Redis 发布事件失败: %w", err)
	}
	return nil
}

// Consume 通过 BRPOP 按投递顺序读取事件。
func (s *RedisStream) Consume(ctx context.Context, handler Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		values, err := s.client.BRPop(ctx, s.wait, s.list).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
				return err
			}
			return fmt.Errorf("Redis 读取事件失败: %w", err)
		}
		if len(values) != 2 {
			continue
		}
		evt, err := decode([]byte(values[1]))
		if err != nil {
			continue
		}
		if err := handler(ctx, evt); err != nil {
			// 处理失败时放回队尾，等待下一次读取。
			_ = s.client.RPush(ctx, s.list, values[1]).Err()
			return err
		}
	}
}

// Close 关闭 Redis 连接。
func (s *RedisStream) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
