package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PREMBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PREMBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Upbit ──
	setStr(&cfg.Upbit.AccessKey, "PREMBOT_UPBIT_ACCESS_KEY")
	setStr(&cfg.Upbit.SecretKey, "PREMBOT_UPBIT_SECRET_KEY")
	setStr(&cfg.Upbit.EncryptedKeyPath, "PREMBOT_UPBIT_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Upbit.KeyPassword, "PREMBOT_UPBIT_KEY_PASSWORD")
	setStr(&cfg.Upbit.BaseURL, "PREMBOT_UPBIT_BASE_URL")
	setStr(&cfg.Upbit.WsURL, "PREMBOT_UPBIT_WS_URL")

	// ── Binance ──
	setStr(&cfg.Binance.APIKey, "PREMBOT_BINANCE_API_KEY")
	setStr(&cfg.Binance.SecretKey, "PREMBOT_BINANCE_SECRET_KEY")
	setStr(&cfg.Binance.EncryptedKeyPath, "PREMBOT_BINANCE_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Binance.KeyPassword, "PREMBOT_BINANCE_KEY_PASSWORD")
	setStr(&cfg.Binance.BaseURL, "PREMBOT_BINANCE_BASE_URL")
	setStr(&cfg.Binance.WsURL, "PREMBOT_BINANCE_WS_URL")

	// ── Trading ──
	setDuration(&cfg.Trading.ScanInterval, "PREMBOT_TRADING_SCAN_INTERVAL")
	setDuration(&cfg.Trading.HealthInterval, "PREMBOT_TRADING_HEALTH_INTERVAL")
	setDuration(&cfg.Trading.QuoteMaxAge, "PREMBOT_TRADING_QUOTE_MAX_AGE")
	setDuration(&cfg.Trading.OpportunityTTL, "PREMBOT_TRADING_OPPORTUNITY_TTL")
	setFloat64(&cfg.Trading.MinTradeKRW, "PREMBOT_TRADING_MIN_TRADE_KRW")
	setFloat64(&cfg.Trading.MaxTradeKRW, "PREMBOT_TRADING_MAX_TRADE_KRW")
	setFloat64(&cfg.Trading.DepthFraction, "PREMBOT_TRADING_DEPTH_FRACTION")
	setInt(&cfg.Trading.DepthLevels, "PREMBOT_TRADING_DEPTH_LEVELS")
	setFloat64(&cfg.Trading.FeeUpbit, "PREMBOT_TRADING_FEE_UPBIT")
	setFloat64(&cfg.Trading.FeeBinance, "PREMBOT_TRADING_FEE_BINANCE")
	setFloat64(&cfg.Trading.ConversionFee, "PREMBOT_TRADING_CONVERSION_FEE")
	setStr(&cfg.Trading.ReferencePair, "PREMBOT_TRADING_REFERENCE_PAIR")
	setStr(&cfg.Trading.UsdtDepositAddrUpbit, "PREMBOT_TRADING_USDT_DEPOSIT_ADDRESS_UPBIT")
	setStr(&cfg.Trading.UsdtDepositAddrBinance, "PREMBOT_TRADING_USDT_DEPOSIT_ADDRESS_BINANCE")
	setStr(&cfg.Trading.UsdtNetType, "PREMBOT_TRADING_USDT_NET_TYPE")
	setFloat64(&cfg.Trading.UsdtWithdrawalFee, "PREMBOT_TRADING_USDT_WITHDRAWAL_FEE")
	setDuration(&cfg.Trading.RateCacheTTL, "PREMBOT_TRADING_RATE_CACHE_TTL")
	setDuration(&cfg.Trading.RateStaleMax, "PREMBOT_TRADING_RATE_STALE_MAX")
	setDuration(&cfg.Trading.RegistryRefresh, "PREMBOT_TRADING_REGISTRY_REFRESH")

	// ── Risk ──
	setFloat64(&cfg.Risk.MinSafetyMargin, "PREMBOT_RISK_MIN_SAFETY_MARGIN")
	setInt(&cfg.Risk.MaxConcurrentSagas, "PREMBOT_RISK_MAX_CONCURRENT_SAGAS")
	setFloat64(&cfg.Risk.DailyVolumeCapKRW, "PREMBOT_RISK_DAILY_VOLUME_CAP_KRW")
	setFloat64(&cfg.Risk.EmergencyStopLossKRW, "PREMBOT_RISK_EMERGENCY_STOP_LOSS_KRW")
	setInt(&cfg.Risk.BookFailureCooldown, "PREMBOT_RISK_BOOK_FAILURE_COOLDOWN")

	// ── Saga ──
	setDuration(&cfg.Saga.TransferTimeout, "PREMBOT_SAGA_TRANSFER_TIMEOUT")
	setDuration(&cfg.Saga.Deadline, "PREMBOT_SAGA_DEADLINE")
	setInt(&cfg.Saga.MaxAttempts, "PREMBOT_SAGA_MAX_ATTEMPTS")
	setDuration(&cfg.Saga.PollInterval, "PREMBOT_SAGA_POLL_INTERVAL")
	setDuration(&cfg.Saga.StuckPollInterval, "PREMBOT_SAGA_STUCK_POLL_INTERVAL")

	// ── Paper ──
	setFloat64(&cfg.Paper.InitialKRW, "PREMBOT_PAPER_INITIAL_KRW")
	setFloat64(&cfg.Paper.InitialUSDT, "PREMBOT_PAPER_INITIAL_USDT")
	setDuration(&cfg.Paper.TransferLatency, "PREMBOT_PAPER_TRANSFER_LATENCY")
	setBool(&cfg.Paper.PersistState, "PREMBOT_PAPER_PERSIST_STATE")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "PREMBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "PREMBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PREMBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PREMBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PREMBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PREMBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PREMBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PREMBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PREMBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PREMBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PREMBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PREMBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PREMBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PREMBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PREMBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PREMBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PREMBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PREMBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PREMBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PREMBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "PREMBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PREMBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PREMBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PREMBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PREMBOT_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PREMBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PREMBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PREMBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PREMBOT_NOTIFY_EVENTS")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "PREMBOT_METRICS_ENABLED")
	setStr(&cfg.Metrics.Addr, "PREMBOT_METRICS_ADDR")

	// ── Top-level ──
	setStr(&cfg.Mode, "PREMBOT_MODE")
	setStr(&cfg.LogLevel, "PREMBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
