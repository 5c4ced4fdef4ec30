package app

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/daehan-quant/premiumbot/internal/config"
	"github.com/daehan-quant/premiumbot/internal/domain"
	"github.com/daehan-quant/premiumbot/internal/engine"
	"github.com/daehan-quant/premiumbot/internal/metrics"
	"github.com/daehan-quant/premiumbot/internal/saga"
)

// TradeMode runs the full engine against the real venues with live orders
// and transfers.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")
	return a.runEngine(ctx, deps, false)
}

// PaperMode runs the full engine against simulated venues backed by the
// virtual ledger. Quotes still come from the real public books.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")
	return a.runEngine(ctx, deps, false)
}

// MonitorMode scans and logs opportunities without admitting or trading
// them.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	return a.runEngine(ctx, deps, true)
}

// runEngine starts the metrics listener, the registry refresh loop, the
// streaming quote feeds, and the scan engine, then blocks until the first
// component fails or the context is cancelled.
func (a *App) runEngine(ctx context.Context, deps *Dependencies, detectOnly bool) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Metrics.Enabled {
		metrics.Serve(ctx, a.cfg.Metrics.Addr, a.logger)
	}

	g.Go(func() error {
		return deps.Registry.Run(ctx)
	})

	a.startQuoteFeeds(ctx, deps)

	eng := engine.New(engine.Config{
		ScanInterval:   a.cfg.Trading.ScanInterval.Duration,
		HealthInterval: a.cfg.Trading.HealthInterval.Duration,
		DetectOnly:     detectOnly,
		Saga: saga.Config{
			TransferTimeout:   a.cfg.Saga.TransferTimeout.Duration,
			Deadline:          a.cfg.Saga.Deadline.Duration,
			MaxAttempts:       a.cfg.Saga.MaxAttempts,
			PollInterval:      a.cfg.Saga.PollInterval.Duration,
			StuckPollInterval: a.cfg.Saga.StuckPollInterval.Duration,
			ReferencePair:     a.cfg.Trading.ReferencePair,
		},
	}, deps.Registry, deps.Calculator, deps.Rate, deps.Risk, saga.Deps{
		Gateways: deps.Gateways,
		Ledger:   deps.Ledger,
		Risk:     deps.Risk,
		Alert:    deps.Notifier,
		Report:   deps.Report,
		Logger:   a.logger,
	}, a.logger)

	g.Go(func() error {
		return eng.Run(ctx)
	})

	return g.Wait()
}

// startQuoteFeeds connects the venue websocket streams and mirrors every
// update into the shared quote cache. Feeds are best effort: the engine
// falls back to REST quotes when a stream is down, so connection failures
// are logged rather than fatal.
func (a *App) startQuoteFeeds(ctx context.Context, deps *Dependencies) {
	if deps.QuoteCache == nil {
		return
	}

	if deps.UpbitWS != nil {
		deps.UpbitWS.OnQuote(func(q domain.Quote) {
			if err := deps.QuoteCache.SetQuote(ctx, q); err != nil {
				a.logger.WarnContext(ctx, "quote cache write failed",
					slog.String("venue", string(q.Venue)),
					slog.String("error", err.Error()),
				)
			}
		})
		if err := deps.UpbitWS.Connect(ctx); err != nil {
			a.logger.WarnContext(ctx, "upbit stream unavailable, using rest quotes",
				slog.String("error", err.Error()),
			)
		} else {
			if err := deps.UpbitWS.Subscribe(ctx, upbitCodes(a.cfg.Trading.Assets, a.cfg.Trading.ReferencePair)); err != nil {
				a.logger.WarnContext(ctx, "upbit subscribe failed",
					slog.String("error", err.Error()),
				)
			}
			a.closers = append(a.closers, func() { _ = deps.UpbitWS.Close() })
		}
	}

	if deps.BinanceWS != nil {
		deps.BinanceWS.OnQuote(func(q domain.Quote) {
			if err := deps.QuoteCache.SetQuote(ctx, q); err != nil {
				a.logger.WarnContext(ctx, "quote cache write failed",
					slog.String("venue", string(q.Venue)),
					slog.String("error", err.Error()),
				)
			}
		})
		if err := deps.BinanceWS.Connect(ctx); err != nil {
			a.logger.WarnContext(ctx, "binance stream unavailable, using rest quotes",
				slog.String("error", err.Error()),
			)
		} else {
			a.closers = append(a.closers, func() { _ = deps.BinanceWS.Close() })
		}
	}
}

// upbitCodes lists the KRW markets to stream: one per tracked asset plus the
// settlement conversion pair.
func upbitCodes(assets []config.AssetConfig, referencePair string) []string {
	codes := make([]string, 0, len(assets)+1)
	for _, a := range assets {
		codes = append(codes, "KRW-"+a.Symbol)
	}
	return append(codes, referencePair)
}
