// Package config defines the top-level configuration for the premium
// arbitrage bot and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by PREMBOT_* environment
// variables. The configuration is read once at startup; there is no hot
// reload.
type Config struct {
	Upbit    UpbitConfig    `toml:"upbit"`
	Binance  BinanceConfig  `toml:"binance"`
	Trading  TradingConfig  `toml:"trading"`
	Risk     RiskConfig     `toml:"risk"`
	Saga     SagaConfig     `toml:"saga"`
	Paper    PaperConfig    `toml:"paper"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Notify   NotifyConfig   `toml:"notify"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// UpbitConfig holds credentials and endpoints for the KRW venue.
type UpbitConfig struct {
	AccessKey        string `toml:"access_key"`
	SecretKey        string `toml:"secret_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	BaseURL          string `toml:"base_url"`
	WsURL            string `toml:"ws_url"`
}

// BinanceConfig holds credentials and endpoints for the USDT venue.
type BinanceConfig struct {
	APIKey           string `toml:"api_key"`
	SecretKey        string `toml:"secret_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	BaseURL          string `toml:"base_url"`
	WsURL            string `toml:"ws_url"`
}

// AssetConfig seeds one tracked asset in the registry.
type AssetConfig struct {
	Symbol             string  `toml:"symbol"`
	MinQuantity        float64 `toml:"min_quantity"`
	WithdrawalFeeUpbit float64 `toml:"withdrawal_fee_upbit"`
	WithdrawalFeeBin   float64 `toml:"withdrawal_fee_binance"`
	ConfirmMinutes     int     `toml:"confirm_minutes"`

	// Deposit addresses for cross-venue transfers: the address a withdrawal
	// from the other venue is sent to. NetType selects the network where the
	// venues offer more than one.
	DepositAddrUpbit   string `toml:"deposit_address_upbit"`
	DepositAddrBinance string `toml:"deposit_address_binance"`
	NetType            string `toml:"net_type"`
}

// TradingConfig holds scan cadence, sizing, and fee parameters.
type TradingConfig struct {
	Assets          []AssetConfig `toml:"assets"`
	ScanInterval    duration      `toml:"scan_interval"`
	HealthInterval  duration      `toml:"health_interval"`
	QuoteMaxAge     duration      `toml:"quote_max_age"`
	OpportunityTTL  duration      `toml:"opportunity_ttl"`
	MinTradeKRW     float64       `toml:"min_trade_krw"`
	MaxTradeKRW     float64       `toml:"max_trade_krw"`
	DepthFraction   float64       `toml:"depth_fraction"`
	DepthLevels     int           `toml:"depth_levels"`
	FeeUpbit        float64       `toml:"fee_upbit"`
	FeeBinance      float64       `toml:"fee_binance"`
	ConversionFee   float64       `toml:"conversion_fee"`
	ReferencePair   string        `toml:"reference_pair"`

	// USDT travels between the venues on the repatriation leg; it needs its
	// own deposit addresses and withdrawal fee, distinct from the tracked
	// assets.
	UsdtDepositAddrUpbit   string  `toml:"usdt_deposit_address_upbit"`
	UsdtDepositAddrBinance string  `toml:"usdt_deposit_address_binance"`
	UsdtNetType            string  `toml:"usdt_net_type"`
	UsdtWithdrawalFee      float64 `toml:"usdt_withdrawal_fee"`

	RateCacheTTL    duration      `toml:"rate_cache_ttl"`
	RateStaleMax    duration      `toml:"rate_stale_max"`
	RegistryRefresh duration      `toml:"registry_refresh"`
}

// RiskConfig holds the admission-gate limits.
type RiskConfig struct {
	MinSafetyMargin      float64 `toml:"min_safety_margin"`
	MaxConcurrentSagas   int     `toml:"max_concurrent_sagas"`
	DailyVolumeCapKRW    float64 `toml:"daily_volume_cap_krw"`
	EmergencyStopLossKRW float64 `toml:"emergency_stop_loss_krw"`
	BookFailureCooldown  int     `toml:"book_failure_cooldown"`
}

// SagaConfig holds per-saga execution timing.
type SagaConfig struct {
	TransferTimeout   duration `toml:"transfer_timeout"`
	Deadline          duration `toml:"deadline"`
	MaxAttempts       int      `toml:"max_attempts"`
	PollInterval      duration `toml:"poll_interval"`
	StuckPollInterval duration `toml:"stuck_poll_interval"`
}

// PaperConfig holds paper-trading simulation parameters.
type PaperConfig struct {
	InitialKRW      float64  `toml:"initial_krw"`
	InitialUSDT     float64  `toml:"initial_usdt"`
	TransferLatency duration `toml:"transfer_latency"`
	PersistState    bool     `toml:"persist_state"`
}

// PostgresConfig holds PostgreSQL connection parameters for the saga record
// store.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the saga record
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// MetricsConfig holds the Prometheus listener address.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Upbit: UpbitConfig{
			BaseURL: "https://api.upbit.com",
			WsURL:   "wss://api.upbit.com/websocket/v1",
		},
		Binance: BinanceConfig{
			BaseURL: "https://api.binance.com",
			WsURL:   "wss://stream.binance.com:9443/ws",
		},
		Trading: TradingConfig{
			Assets: []AssetConfig{
				{Symbol: "BTC", MinQuantity: 0.0001, WithdrawalFeeUpbit: 0.0009, WithdrawalFeeBin: 0.0005, ConfirmMinutes: 20},
				{Symbol: "ETH", MinQuantity: 0.001, WithdrawalFeeUpbit: 0.01, WithdrawalFeeBin: 0.005, ConfirmMinutes: 10},
				{Symbol: "XRP", MinQuantity: 1, WithdrawalFeeUpbit: 1, WithdrawalFeeBin: 0.25, ConfirmMinutes: 2},
			},
			ScanInterval:      duration{2 * time.Second},
			HealthInterval:    duration{30 * time.Second},
			QuoteMaxAge:       duration{5 * time.Second},
			OpportunityTTL:    duration{30 * time.Second},
			MinTradeKRW:       100_000,
			MaxTradeKRW:       5_000_000,
			DepthFraction:     0.3,
			DepthLevels:       5,
			FeeUpbit:          0.0005,
			FeeBinance:        0.001,
			ConversionFee:     0.0005,
			ReferencePair:     "KRW-USDT",
			UsdtNetType:       "TRX",
			UsdtWithdrawalFee: 1.0,
			RateCacheTTL:      duration{5 * time.Minute},
			RateStaleMax:      duration{time.Hour},
			RegistryRefresh:   duration{30 * time.Minute},
		},
		Risk: RiskConfig{
			MinSafetyMargin:      0.004,
			MaxConcurrentSagas:   3,
			DailyVolumeCapKRW:    50_000_000,
			EmergencyStopLossKRW: 1_500_000,
			BookFailureCooldown:  5,
		},
		Saga: SagaConfig{
			TransferTimeout:   duration{30 * time.Minute},
			Deadline:          duration{2 * time.Hour},
			MaxAttempts:       3,
			PollInterval:      duration{10 * time.Second},
			StuckPollInterval: duration{2 * time.Minute},
		},
		Paper: PaperConfig{
			InitialKRW:      10_000_000,
			InitialUSDT:     10_000,
			TransferLatency: duration{time.Minute},
			PersistState:    true,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "premiumbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "premiumbot-data",
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events: []string{"saga_stuck", "global_halt", "saga_aborted"},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9184",
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"paper":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, paper, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Venue credentials are only required when real orders can be placed.
	if strings.ToLower(c.Mode) == "trade" {
		if c.Upbit.AccessKey == "" && c.Upbit.EncryptedKeyPath == "" {
			errs = append(errs, "upbit: either access_key or encrypted_key_path must be set for trade mode")
		}
		if c.Upbit.EncryptedKeyPath != "" && c.Upbit.KeyPassword == "" {
			errs = append(errs, "upbit: key_password is required when encrypted_key_path is set")
		}
		if c.Binance.APIKey == "" && c.Binance.EncryptedKeyPath == "" {
			errs = append(errs, "binance: either api_key or encrypted_key_path must be set for trade mode")
		}
		if c.Binance.EncryptedKeyPath != "" && c.Binance.KeyPassword == "" {
			errs = append(errs, "binance: key_password is required when encrypted_key_path is set")
		}
		if c.Trading.UsdtDepositAddrUpbit == "" || c.Trading.UsdtDepositAddrBinance == "" {
			errs = append(errs, "trading: usdt deposit addresses on both venues are required for trade mode")
		}
	}

	if len(c.Trading.Assets) == 0 {
		errs = append(errs, "trading: at least one asset must be configured")
	}
	for i, a := range c.Trading.Assets {
		if a.Symbol == "" {
			errs = append(errs, fmt.Sprintf("trading: assets[%d]: symbol must not be empty", i))
		}
		if a.MinQuantity <= 0 {
			errs = append(errs, fmt.Sprintf("trading: assets[%d] %s: min_quantity must be > 0", i, a.Symbol))
		}
	}
	if c.Trading.MinTradeKRW <= 0 {
		errs = append(errs, "trading: min_trade_krw must be > 0")
	}
	if c.Trading.MaxTradeKRW <= c.Trading.MinTradeKRW {
		errs = append(errs, "trading: max_trade_krw must exceed min_trade_krw")
	}
	if c.Trading.DepthFraction <= 0 || c.Trading.DepthFraction > 1 {
		errs = append(errs, "trading: depth_fraction must be in (0, 1]")
	}
	if c.Trading.QuoteMaxAge.Duration <= 0 {
		errs = append(errs, "trading: quote_max_age must be > 0")
	}
	if c.Trading.ReferencePair == "" {
		errs = append(errs, "trading: reference_pair must not be empty")
	}

	if c.Risk.MinSafetyMargin <= 0 {
		errs = append(errs, "risk: min_safety_margin must be > 0")
	}
	if c.Risk.MaxConcurrentSagas < 1 {
		errs = append(errs, "risk: max_concurrent_sagas must be >= 1")
	}
	if c.Risk.DailyVolumeCapKRW <= 0 {
		errs = append(errs, "risk: daily_volume_cap_krw must be > 0")
	}
	if c.Risk.EmergencyStopLossKRW <= 0 {
		errs = append(errs, "risk: emergency_stop_loss_krw must be > 0")
	}
	if c.Risk.BookFailureCooldown < 1 {
		errs = append(errs, "risk: book_failure_cooldown must be >= 1")
	}

	if c.Saga.TransferTimeout.Duration <= 0 {
		errs = append(errs, "saga: transfer_timeout must be > 0")
	}
	if c.Saga.Deadline.Duration <= c.Saga.TransferTimeout.Duration {
		errs = append(errs, "saga: deadline must exceed transfer_timeout")
	}
	if c.Saga.MaxAttempts < 1 {
		errs = append(errs, "saga: max_attempts must be >= 1")
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, "metrics: addr must not be empty when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
