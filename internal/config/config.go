package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix 是环境变量覆盖使用的前缀，例如 FLOWPAY_SERVER_ADDRESS。
const EnvPrefix = "FLOWPAY"

// Config 描述了 FlowPay 在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Events   EventsConfig   `mapstructure:"events"`
	Genesis  GenesisConfig  `mapstructure:"genesis"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Alerting AlertingConfig `mapstructure:"alerting"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `mapstructure:"address"`

	// RateLimit 为每个来源 IP 每秒允许的请求数，0 表示不限流。
	RateLimit      int `mapstructure:"rate_limit"`
	RateLimitBurst int `mapstructure:"rate_limit_burst"`
}

// AuthConfig 控制请求签名校验。
type AuthConfig struct {
	Mode           string `mapstructure:"mode"`
	MaxSkewSeconds int    `mapstructure:"max_skew_seconds"`

	// Replay 为 memory、redis 或 none。
	Replay string `mapstructure:"replay"`
}

// StorageConfig 描述账本状态的存储后端。
type StorageConfig struct {
	Driver                 string      `mapstructure:"driver"`
	DSN                    string      `mapstructure:"dsn"`
	MaxOpenConns           int         `mapstructure:"max_open_conns"`
	MaxIdleConns           int         `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int         `mapstructure:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int         `mapstructure:"conn_max_idle_time_seconds"`
	Redis                  RedisConfig `mapstructure:"redis"`
}

// RedisConfig 是 Redis 连接参数。
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// EventsConfig 描述事件投递通道。
type EventsConfig struct {
	Driver   string         `mapstructure:"driver"`
	Redis    RedisList      `mapstructure:"redis"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
}

// RedisList 配置基于 Redis 列表的事件通道。
type RedisList struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	List      string `mapstructure:"list"`
	BlockWait int    `mapstructure:"block_wait_seconds"`
}

// RabbitMQConfig 配置 RabbitMQ 事件通道。
type RabbitMQConfig struct {
	URL        string `mapstructure:"url"`
	Queue      string `mapstructure:"queue"`
	Prefetch   int    `mapstructure:"prefetch"`
	Durable    bool   `mapstructure:"durable"`
	AutoDelete bool   `mapstructure:"auto_delete"`
}

// GenesisConfig 描述首次启动时写入账本的初始状态。
type GenesisConfig struct {
	Admin             string         `mapstructure:"admin"`
	SettlementAsset   string         `mapstructure:"settlement_asset"`
	ReferenceAsset    string         `mapstructure:"reference_asset"`
	APYBps            uint32         `mapstructure:"apy_bps"`
	RedemptionRateBps uint32         `mapstructure:"redemption_rate_bps"`
	YieldReserve      string         `mapstructure:"yield_reserve"`
	Assets            []GenesisAsset `mapstructure:"assets"`
	Pools             []GenesisPool  `mapstructure:"pools"`
}

// GenesisAsset 注册一种资产并分配初始余额。
type GenesisAsset struct {
	Address  string            `mapstructure:"address"`
	Symbol   string            `mapstructure:"symbol"`
	Decimals uint8             `mapstructure:"decimals"`
	Issuer   string            `mapstructure:"issuer"`
	Balances map[string]string `mapstructure:"balances"`
}

// GenesisPool 为一对资产注入初始流动性。
type GenesisPool struct {
	Provider string `mapstructure:"provider"`
	AssetA   string `mapstructure:"asset_a"`
	AmountA  string `mapstructure:"amount_a"`
	AssetB   string `mapstructure:"asset_b"`
	AmountB  string `mapstructure:"amount_b"`
}

// OracleConfig 选择储备金来源。
type OracleConfig struct {
	// Driver 为 ledger 或 evm。
	Driver      string `mapstructure:"driver"`
	ChainConfig string `mapstructure:"chain_config"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level   string      `mapstructure:"level"`
	Format  string      `mapstructure:"format"`
	Outputs []string    `mapstructure:"outputs"`
	Audit   AuditConfig `mapstructure:"audit"`
}

// AuditConfig 控制审计日志滚动。
type AuditConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig 控制 Prometheus 指标暴露。
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// AlertingConfig 配置告警渠道。
type AlertingConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

// Load 负责解析指定路径的配置文件，文件格式由扩展名决定（.json/.yaml/.yml）。
// 路径为空时只使用环境变量与默认值。
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	baseDir := "."
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		baseDir = filepath.Dir(path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(baseDir)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// bindEnv 让 AutomaticEnv 对未出现在文件中的键也生效。
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"server.address", "server.rate_limit", "server.rate_limit_burst",
		"auth.mode", "auth.max_skew_seconds", "auth.replay",
		"storage.driver", "storage.dsn",
		"storage.redis.address", "storage.redis.password", "storage.redis.db", "storage.redis.prefix",
		"events.driver",
		"events.redis.address", "events.redis.password", "events.redis.list",
		"events.rabbitmq.url", "events.rabbitmq.queue",
		"genesis.admin", "genesis.settlement_asset", "genesis.reference_asset",
		"oracle.driver", "oracle.chain_config",
		"logging.level", "logging.format",
		"metrics.enabled", "metrics.address",
		"alerting.webhook_url",
	} {
		_ = v.BindEnv(key)
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.RateLimit > 0 && c.Server.RateLimitBurst <= 0 {
		c.Server.RateLimitBurst = c.Server.RateLimit * 2
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "signature"
	}
	if c.Auth.MaxSkewSeconds <= 0 {
		c.Auth.MaxSkewSeconds = 300
	}
	if c.Auth.Replay == "" {
		c.Auth.Replay = "memory"
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.Driver == "sqlite" && c.Storage.DSN == "" {
		c.Storage.DSN = filepath.Join(baseDir, "data", "flowpay.db")
	}
	if c.Storage.Redis.Prefix == "" {
		c.Storage.Redis.Prefix = "flowpay:state:"
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.Events.Redis.List == "" {
		c.Events.Redis.List = "flowpay:events"
	}
	if c.Events.RabbitMQ.Queue == "" {
		c.Events.RabbitMQ.Queue = "flowpay.events"
	}

	if c.Oracle.Driver == "" {
		c.Oracle.Driver = "ledger"
	}
	if c.Oracle.ChainConfig != "" && !filepath.IsAbs(c.Oracle.ChainConfig) {
		c.Oracle.ChainConfig = filepath.Join(baseDir, c.Oracle.ChainConfig)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(baseDir, "logs", "audit.log")
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite", "redis":
	case "mysql", "postgres", "postgresql":
		if c.Storage.DSN == "" {
			return fmt.Errorf("存储驱动 %s 需要配置 dsn", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("未知的存储驱动: %s", c.Storage.Driver)
	}
	switch c.Events.Driver {
	case "memory", "none", "redis":
	case "rabbitmq":
		if c.Events.RabbitMQ.URL == "" {
			return errors.New("rabbitmq 事件驱动需要配置 url")
		}
	default:
		return fmt.Errorf("未知的事件驱动: %s", c.Events.Driver)
	}
	switch c.Oracle.Driver {
	case "ledger":
	case "evm":
		if c.Oracle.ChainConfig == "" {
			return errors.New("evm oracle 需要配置 chain_config")
		}
	default:
		return fmt.Errorf("未知的 oracle 驱动: %s", c.Oracle.Driver)
	}
	return nil
}
