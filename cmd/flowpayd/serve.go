package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"FlowPay-Chain/internal/api"
	"FlowPay-Chain/internal/auth"
	"FlowPay-Chain/internal/config"
	"FlowPay-Chain/internal/events"
	"FlowPay-Chain/internal/ledger"
	"FlowPay-Chain/internal/observability/metrics"
	"FlowPay-Chain/internal/platform"
	"FlowPay-Chain/pkg/logger"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
			Compress:   cfg.Logging.Audit.Compress,
		},
	}); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	return cfg, nil
}

// runtime 持有一个已完成创世的平台实例及其资源。
type runtime struct {
	platform *platform.Platform
	metrics  *metrics.Metrics
	close    func()
}

func openRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	backend, err := platform.OpenBackend(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	stream, err := platform.OpenStream(ctx, cfg.Events)
	if err != nil {
		backend.Close()
		return nil, err
	}
	pools, closePools, err := platform.OpenPools(ctx, cfg.Oracle)
	if err != nil {
		backend.Close()
		if stream != nil {
			stream.Close()
		}
		return nil, err
	}

	logger.L().Info("后端已连接",
		slog.String("storage", cfg.Storage.Driver),
		slog.String("dsn", cfg.Storage.DSN),
		slog.String("events", cfg.Events.Driver),
		slog.String("events_url", cfg.Events.RabbitMQ.URL),
		slog.String("oracle", cfg.Oracle.Driver),
	)

	opts := []ledger.Option{ledger.WithLogger(logger.Named("ledger"))}
	if stream != nil {
		opts = append(opts, ledger.WithSink(stream))
	}
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		opts = append(opts, ledger.WithObserver(m))
	}
	l := ledger.New(backend, opts...)

	platformOpts := []platform.Option{platform.WithAlerts(platform.NewAlerts(cfg.Alerting))}
	if pools != nil {
		platformOpts = append(platformOpts, platform.WithPools(pools))
	}
	p := platform.New(l, platformOpts...)

	rt := &runtime{
		platform: p,
		metrics:  m,
		close: func() {
			closePools()
			if err := l.Close(); err != nil {
				logger.L().Warn("关闭账本失败", slog.Any("error", err))
			}
		},
	}

	g, err := platform.GenesisFromConfig(cfg.Genesis)
	if err != nil {
		rt.close()
		return nil, err
	}
	applied, err := p.Bootstrap(ctx, g)
	if err != nil {
		rt.close()
		return nil, err
	}
	if applied {
		logger.L().Info("创世配置已写入账本", slog.String("admin", g.Admin.Hex()))
	}
	return rt, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			rt, err := openRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.close()

			replay, err := platform.OpenReplayStore(ctx, cfg.Auth, cfg.Storage)
			if err != nil {
				return err
			}
			svc, err := auth.NewService(auth.Config{
				Mode:    auth.Mode(cfg.Auth.Mode),
				MaxSkew: time.Duration(cfg.Auth.MaxSkewSeconds) * time.Second,
			}, replay)
			if err != nil {
				return err
			}

			opts := []api.Option{
				api.WithAuth(svc),
				api.WithRateLimiter(api.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateLimitBurst)),
			}
			if rt.metrics != nil {
				opts = append(opts, api.WithMetrics(rt.metrics))
				if cfg.Metrics.Address != "" && cfg.Metrics.Address != cfg.Server.Address {
					go func() {
						if err := rt.metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
							logger.L().Error("指标服务异常退出", slog.Any("error", err))
						}
					}()
				}
			}

			server := api.NewServer(cfg.Server.Address, rt.platform, opts...)
			if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func bootstrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Apply the genesis configuration and print the contract addresses",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			rt, err := openRuntime(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer rt.close()
			return printJSON(rt.platform.Addresses())
		},
	}
}

func watchCmd() *cobra.Command {
	var topics []string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print events from the configured event stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			stream, err := platform.OpenStream(ctx, cfg.Events)
			if err != nil {
				return err
			}
			if stream == nil {
				return errors.New("events.driver 为 none，无可订阅的事件流")
			}
			defer stream.Close()

			wanted := make(map[string]bool, len(topics))
			for _, t := range topics {
				wanted[t] = true
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			err = stream.Consume(ctx, func(_ context.Context, evt events.Event) error {
				if len(wanted) > 0 && !wanted[evt.Topic] {
					return nil
				}
				return enc.Encode(evt)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&topics, "topic", nil, "only print these topics")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
