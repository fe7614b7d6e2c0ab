package platform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"FlowPay-Chain/internal/auth"
	"FlowPay-Chain/internal/config"
	"FlowPay-Chain/internal/events"
	"FlowPay-Chain/internal/ledger"
	"FlowPay-Chain/internal/observability/alerting"
	"FlowPay-Chain/internal/oracle"
)

// OpenBackend opens the ledger backend named by the storage config.
func OpenBackend(ctx context.Context, cfg config.StorageConfig) (ledger.Backend, error) {
	switch cfg.Driver {
	case "", "memory":
		return ledger.NewMemoryBackend(), nil
	case "mysql", "postgres", "postgresql", "sqlite":
		if cfg.Driver == "sqlite" && !strings.HasPrefix(cfg.DSN, "file:") && !strings.Contains(cfg.DSN, ":memory:") {
			if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o755); err != nil {
				return nil, fmt.Errorf("create data directory: %w", err)
			}
		}
		return ledger.OpenSQLBackend(ctx, ledger.SQLConfig{
			Driver:          cfg.Driver,
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.ConnMaxIdleTimeSeconds) * time.Second,
		})
	case "redis":
		return ledger.OpenRedisBackend(ctx, ledger.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}

// OpenStream opens the event stream named by the events config. "none" returns nil.
func OpenStream(ctx context.Context, cfg config.EventsConfig) (events.Stream, error) {
	switch cfg.Driver {
	case "none":
		return nil, nil
	case "", "memory":
		return events.NewMemoryStream(1024), nil
	case "redis":
		return events.NewRedisStream(ctx, events.RedisConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			List:      cfg.Redis.List,
			BlockWait: time.Duration(cfg.Redis.BlockWait) * time.Second,
		})
	case "rabbitmq":
		return events.NewRabbitMQStream(events.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("unknown events driver: %s", cfg.Driver)
	}
}

// OpenPools returns an external reserve source, or nil in ledger mode where
// the in-ledger pools are used. The returned close func is never nil.
func OpenPools(ctx context.Context, cfg config.OracleConfig) (oracle.Pools, func(), error) {
	switch cfg.Driver {
	case "", "ledger":
		return nil, func() {}, nil
	case "evm":
		o, err := oracle.DialEVMOracle(ctx, cfg.ChainConfig)
		if err != nil {
			return nil, func() {}, err
		}
		return o, o.Close, nil
	default:
		return nil, func() {}, fmt.Errorf("unknown oracle driver: %s", cfg.Driver)
	}
}

// OpenReplayStore opens the signature replay store named by the auth config.
func OpenReplayStore(ctx context.Context, cfg config.AuthConfig, storage config.StorageConfig) (auth.ReplayStore, error) {
	switch cfg.Replay {
	case "none":
		return nil, nil
	case "", "memory":
		return auth.NewMemoryReplayStore(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     storage.Redis.Address,
			Password: storage.Redis.Password,
			DB:       storage.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return auth.NewRedisReplayStore(client, ""), nil
	default:
		return nil, fmt.Errorf("unknown replay driver: %s", cfg.Replay)
	}
}

// NewAlerts combines the configured alert channels. The log channel is always on.
func NewAlerts(cfg config.AlertingConfig) alerting.Dispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.WebhookURL})
	}
	return alerting.NewFanout(notifiers...)
}
