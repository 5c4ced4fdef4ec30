package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/daehan-quant/premiumbot/internal/blob/s3"
	"github.com/daehan-quant/premiumbot/internal/cache/redis"
	"github.com/daehan-quant/premiumbot/internal/config"
	"github.com/daehan-quant/premiumbot/internal/crypto"
	"github.com/daehan-quant/premiumbot/internal/domain"
	"github.com/daehan-quant/premiumbot/internal/exchange/binance"
	"github.com/daehan-quant/premiumbot/internal/exchange/sim"
	"github.com/daehan-quant/premiumbot/internal/exchange/upbit"
	"github.com/daehan-quant/premiumbot/internal/ledger"
	"github.com/daehan-quant/premiumbot/internal/notify"
	"github.com/daehan-quant/premiumbot/internal/premium"
	"github.com/daehan-quant/premiumbot/internal/registry"
	"github.com/daehan-quant/premiumbot/internal/report"
	"github.com/daehan-quant/premiumbot/internal/risk"
	"github.com/daehan-quant/premiumbot/internal/store/postgres"
)

// paperLockTTL bounds how long a crashed paper process can keep the
// persisted-ledger lock.
const paperLockTTL = 24 * time.Hour

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Gateways   map[domain.Venue]domain.ExchangeGateway
	Ledger     domain.BalanceLedger
	Risk       *risk.Manager
	Rate       *premium.ReferenceRate
	Calculator *premium.Calculator
	Registry   *registry.Registry
	Report     domain.ReportSink
	Notifier   *notify.Notifier

	// Optional infrastructure, nil when not configured.
	QuoteCache  domain.QuoteCache
	LockManager domain.LockManager
	SagaStore   domain.SagaRecordStore

	// Streaming market data, nil in paper-only setups without live quotes.
	UpbitWS   *upbit.WSClient
	BinanceWS *binance.WSClient
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}
	mode := strings.ToLower(cfg.Mode)

	deps.Notifier = buildNotifier(cfg, logger)

	// --- Redis: quote cache, cross-process lock, paper-ledger snapshots ---
	var snapshots domain.SnapshotStore
	if cfg.Redis.Addr != "" {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = rc.Close() })

		deps.QuoteCache = redis.NewQuoteCache(rc)
		deps.LockManager = redis.NewLockManager(rc)
		snapshots = redis.NewSnapshotStore(rc)
	}

	// --- PostgreSQL: durable saga records ---
	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.SagaStore = postgres.NewSagaStore(pg.Pool())
	}

	// --- S3: saga record archive ---
	var archive domain.ReportSink
	if cfg.S3.Enabled {
		s3c, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		archive = s3blob.NewArchiver(s3blob.NewWriter(s3c))
	}

	deps.Report = report.NewFanout(logger, report.NewLogSink(logger), deps.SagaStore, archive)

	// --- Assets ---
	assets := registry.BuildAssets(cfg.Trading.Assets)
	deps.Registry = registry.New(assets, nil, cfg.Trading.RegistryRefresh.Duration, logger)

	// Persisted paper state must have a single writer.
	if mode == "paper" && cfg.Paper.PersistState && deps.LockManager != nil {
		unlock, err := deps.LockManager.Acquire(ctx, "paper-ledger", paperLockTTL)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: paper ledger lock: %w", err)
		}
		closers = append(closers, unlock)
	}

	// --- Gateways and ledger, per mode ---
	if err := wireVenues(ctx, cfg, mode, deps, snapshots, logger); err != nil {
		cleanup()
		return nil, nil, err
	}

	// --- Pricing and admission ---
	deps.Rate = premium.NewReferenceRate(
		deps.Gateways[domain.VenueKRW],
		cfg.Trading.ReferencePair,
		cfg.Trading.RateCacheTTL.Duration,
		cfg.Trading.RateStaleMax.Duration,
		logger,
	)
	deps.Calculator = premium.NewCalculator(deps.Gateways, deps.Rate, premium.Params{
		QuoteMaxAge:    cfg.Trading.QuoteMaxAge.Duration,
		OpportunityTTL: cfg.Trading.OpportunityTTL.Duration,
		MinTradeKRW:    cfg.Trading.MinTradeKRW,
		MaxTradeKRW:    cfg.Trading.MaxTradeKRW,
		DepthFraction:  cfg.Trading.DepthFraction,
		DepthLevels:    cfg.Trading.DepthLevels,
		Fees: map[domain.Venue]float64{
			domain.VenueKRW:  cfg.Trading.FeeUpbit,
			domain.VenueUSDT: cfg.Trading.FeeBinance,
		},
		ConversionFee: cfg.Trading.ConversionFee,
	}, logger)
	deps.Risk = risk.NewManager(deps.Ledger, risk.Limits{
		MinSafetyMargin:      cfg.Risk.MinSafetyMargin,
		MaxConcurrentSagas:   cfg.Risk.MaxConcurrentSagas,
		DailyVolumeCapKRW:    cfg.Risk.DailyVolumeCapKRW,
		EmergencyStopLossKRW: cfg.Risk.EmergencyStopLossKRW,
		BookFailureCooldown:  cfg.Risk.BookFailureCooldown,
	}, logger)

	return deps, cleanup, nil
}

// wireVenues selects the gateway implementations once, here: real adapters
// for trade and monitor, simulated ones over a virtual ledger for paper.
func wireVenues(ctx context.Context, cfg *config.Config, mode string, deps *Dependencies, snapshots domain.SnapshotStore, logger *slog.Logger) error {
	switch mode {
	case "trade", "monitor":
		upbitCreds, binanceCreds, err := loadCredentials(cfg, mode)
		if err != nil {
			return err
		}

		upbitGw := upbit.NewClient(upbit.Config{
			BaseURL:      cfg.Upbit.BaseURL,
			Destinations: upbitDestinations(cfg.Trading),
		}, upbitCreds, logger)
		binanceGw := binance.NewClient(binance.Config{
			BaseURL:      cfg.Binance.BaseURL,
			Destinations: binanceDestinations(cfg.Trading),
			DepthLimit:   cfg.Trading.DepthLevels,
		}, binanceCreds, logger)

		deps.Gateways = map[domain.Venue]domain.ExchangeGateway{
			domain.VenueKRW:  upbitGw,
			domain.VenueUSDT: binanceGw,
		}
		deps.Ledger = ledger.NewPassThrough(deps.Gateways, logger)
		deps.UpbitWS = upbit.NewWSClient(cfg.Upbit.WsURL, logger)
		deps.BinanceWS = binance.NewWSClient(cfg.Binance.WsURL, binancePairs(cfg.Trading.Assets), logger)
		return nil

	case "paper":
		v := ledger.NewVirtual(logger)
		if snapshots != nil && cfg.Paper.PersistState {
			if snap, err := snapshots.Load(ctx); err == nil {
				v.Restore(snap)
				logger.Info("paper ledger restored",
					slog.Time("saved_at", snap.SavedAt),
					slog.Int("entries", len(snap.Entries)),
				)
			} else {
				seedPaperLedger(ctx, v, cfg)
			}
			v.AttachSnapshotStore(snapshots)
		} else {
			seedPaperLedger(ctx, v, cfg)
		}
		deps.Ledger = v

		// Paper prices off the live public books and executes against
		// the virtual ledger.
		upbitQuotes := upbit.NewClient(upbit.Config{BaseURL: cfg.Upbit.BaseURL}, crypto.Credentials{}, logger)
		binanceQuotes := binance.NewClient(binance.Config{
			BaseURL:    cfg.Binance.BaseURL,
			DepthLimit: cfg.Trading.DepthLevels,
		}, crypto.Credentials{}, logger)

		deps.Gateways = map[domain.Venue]domain.ExchangeGateway{
			domain.VenueKRW: sim.New(domain.VenueKRW, v, upbitQuotes, sim.Config{
				Fee:             cfg.Trading.FeeUpbit,
				TransferLatency: cfg.Paper.TransferLatency.Duration,
				WithdrawalFees:  withdrawalFees(cfg.Trading, domain.VenueKRW),
			}, logger),
			domain.VenueUSDT: sim.New(domain.VenueUSDT, v, binanceQuotes, sim.Config{
				Fee:             cfg.Trading.FeeBinance,
				TransferLatency: cfg.Paper.TransferLatency.Duration,
				WithdrawalFees:  withdrawalFees(cfg.Trading, domain.VenueUSDT),
			}, logger),
		}
		return nil

	default:
		return fmt.Errorf("wire: unsupported mode %q", mode)
	}
}

// loadCredentials resolves venue credentials. Monitor mode runs unauthenticated.
func loadCredentials(cfg *config.Config, mode string) (crypto.Credentials, crypto.Credentials, error) {
	if mode == "monitor" {
		return crypto.Credentials{}, crypto.Credentials{}, nil
	}

	upbitCreds, err := crypto.LoadCredentials(crypto.CredentialConfig{
		AccessKey:     cfg.Upbit.AccessKey,
		SecretKey:     cfg.Upbit.SecretKey,
		EncryptedPath: cfg.Upbit.EncryptedKeyPath,
		Password:      cfg.Upbit.KeyPassword,
	})
	if err != nil {
		return crypto.Credentials{}, crypto.Credentials{}, fmt.Errorf("wire: upbit credentials: %w", err)
	}
	binanceCreds, err := crypto.LoadCredentials(crypto.CredentialConfig{
		AccessKey:     cfg.Binance.APIKey,
		SecretKey:     cfg.Binance.SecretKey,
		EncryptedPath: cfg.Binance.EncryptedKeyPath,
		Password:      cfg.Binance.KeyPassword,
	})
	if err != nil {
		return crypto.Credentials{}, crypto.Credentials{}, fmt.Errorf("wire: binance credentials: %w", err)
	}
	return upbitCreds, binanceCreds, nil
}

func buildNotifier(cfg *config.Config, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	return notify.NewNotifier(senders, cfg.Notify.Events, logger)
}

func seedPaperLedger(ctx context.Context, v *ledger.Virtual, cfg *config.Config) {
	_ = v.Credit(ctx, domain.VenueKRW, "KRW", cfg.Paper.InitialKRW)
	_ = v.Credit(ctx, domain.VenueUSDT, "USDT", cfg.Paper.InitialUSDT)
}

// upbitDestinations maps each withdrawable asset to its deposit address on
// the other venue. USDT rides along for the repatriation leg.
func upbitDestinations(t config.TradingConfig) map[string]upbit.TransferDest {
	out := make(map[string]upbit.TransferDest, len(t.Assets)+1)
	for _, a := range t.Assets {
		if a.DepositAddrBinance != "" {
			out[a.Symbol] = upbit.TransferDest{Address: a.DepositAddrBinance, NetType: a.NetType}
		}
	}
	if t.UsdtDepositAddrBinance != "" {
		out["USDT"] = upbit.TransferDest{Address: t.UsdtDepositAddrBinance, NetType: t.UsdtNetType}
	}
	return out
}

func binanceDestinations(t config.TradingConfig) map[string]binance.TransferDest {
	out := make(map[string]binance.TransferDest, len(t.Assets)+1)
	for _, a := range t.Assets {
		if a.DepositAddrUpbit != "" {
			out[a.Symbol] = binance.TransferDest{Address: a.DepositAddrUpbit, Network: a.NetType}
		}
	}
	if t.UsdtDepositAddrUpbit != "" {
		out["USDT"] = binance.TransferDest{Address: t.UsdtDepositAddrUpbit, Network: t.UsdtNetType}
	}
	return out
}

func withdrawalFees(t config.TradingConfig, venue domain.Venue) map[string]float64 {
	out := make(map[string]float64, len(t.Assets)+1)
	for _, a := range t.Assets {
		if venue == domain.VenueKRW {
			out[a.Symbol] = a.WithdrawalFeeUpbit
		} else {
			out[a.Symbol] = a.WithdrawalFeeBin
		}
	}
	out["USDT"] = t.UsdtWithdrawalFee
	return out
}

func binancePairs(assets []config.AssetConfig) []string {
	out := make([]string, 0, len(assets))
	for _, a := range assets {
		out = append(out, a.Symbol+"USDT")
	}
	return out
}
