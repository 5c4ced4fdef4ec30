// Package engine owns the scan and health loops: it polls the premium
// calculator per tracked asset, pushes candidates through risk admission,
// and spawns one trade saga per approved opportunity, never more than one
// per asset at a time.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/daehan-quant/premiumbot/internal/domain"
	"github.com/daehan-quant/premiumbot/internal/metrics"
	"github.com/daehan-quant/premiumbot/internal/premium"
	"github.com/daehan-quant/premiumbot/internal/risk"
	"github.com/daehan-quant/premiumbot/internal/saga"
)

// Config is the engine's loop cadence and per-saga policy.
type Config struct {
	ScanInterval   time.Duration
	HealthInterval time.Duration
	// DetectOnly logs opportunities without admitting or trading them.
	DetectOnly bool
	Saga       saga.Config
}

// Evaluator produces opportunity candidates. premium.Calculator implements
// it.
type Evaluator interface {
	Evaluate(ctx context.Context, asset domain.Asset) (*domain.Opportunity, error)
}

// AssetProvider supplies the tracked asset set. registry.Registry implements
// it.
type AssetProvider interface {
	Assets() []domain.Asset
}

// Engine wires the scan loop, the health loop, and saga spawning together.
// The loops communicate through the shared risk manager and ledger, not
// through each other.
type Engine struct {
	cfg      Config
	assets   AssetProvider
	calc     Evaluator
	rate     premium.RateSource
	riskMgr  *risk.Manager
	sagaDeps saga.Deps
	logger   *slog.Logger

	mu   sync.Mutex
	busy map[string]bool

	wg         sync.WaitGroup
	prevHalted bool
}

// New builds an engine.
func New(cfg Config, assets AssetProvider, calc Evaluator, rate premium.RateSource, riskMgr *risk.Manager, sagaDeps saga.Deps, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		assets:   assets,
		calc:     calc,
		rate:     rate,
		riskMgr:  riskMgr,
		sagaDeps: sagaDeps,
		logger:   logger.With(slog.String("component", "engine")),
		busy:     make(map[string]bool),
	}
}

// Run drives both loops until ctx is cancelled, then waits for every
// in-flight saga to reach a terminal or stuck state before returning.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine started",
		slog.Duration("scan_interval", e.cfg.ScanInterval),
		slog.Bool("detect_only", e.cfg.DetectOnly),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.scanLoop(gctx) })
	g.Go(func() error { return e.healthLoop(gctx) })
	err := g.Wait()

	e.logger.Info("engine stopping, draining in-flight sagas")
	e.wg.Wait()
	e.logger.Info("engine stopped")

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (e *Engine) scanLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.scanOnce(ctx)
		}
	}
}

// scanOnce evaluates every tracked asset. Premium computation needs no
// locking; only admission serializes.
func (e *Engine) scanOnce(ctx context.Context) {
	for _, asset := range e.assets.Assets() {
		opp, err := e.calc.Evaluate(ctx, asset)
		switch {
		case errors.Is(err, domain.ErrRateUnavailable):
			// Without a rate no asset in this pass can be priced.
			e.riskMgr.NoteRateUnavailable()
			return
		case err != nil:
			e.riskMgr.NoteBookFetch(asset.Symbol, false)
			metrics.BookFetchErrors.WithLabelValues(asset.Symbol).Inc()
			e.logger.Warn("evaluation failed",
				slog.String("asset", asset.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}

		e.riskMgr.NoteBookFetch(asset.Symbol, true)
		e.riskMgr.NoteRateRecovered()
		if opp == nil {
			continue
		}

		metrics.NetEdge.WithLabelValues(asset.Symbol, string(opp.Dir)).Set(opp.NetEdge)
		if e.cfg.DetectOnly {
			e.logger.Info("opportunity detected",
				slog.String("asset", asset.Symbol),
				slog.String("direction", string(opp.Dir)),
				slog.Float64("net_edge", opp.NetEdge),
				slog.Float64("notional_krw", opp.NotionalKRW),
			)
			continue
		}

		e.launch(ctx, opp)
	}
}

// launch admits an opportunity and spawns its saga. An asset with an active
// saga drops the new candidate: by the time the running saga finishes the
// prices behind this one are gone.
func (e *Engine) launch(ctx context.Context, opp *domain.Opportunity) {
	e.mu.Lock()
	if e.busy[opp.Asset.Symbol] {
		e.mu.Unlock()
		e.logger.Debug("dropping opportunity, saga already active",
			slog.String("asset", opp.Asset.Symbol),
			slog.String("opp_id", opp.ID),
		)
		return
	}
	e.busy[opp.Asset.Symbol] = true
	e.mu.Unlock()

	slot, err := e.riskMgr.AdmitAndReserve(ctx, opp)
	if err != nil {
		e.setBusy(opp.Asset.Symbol, false)
		reason := "rejected"
		if errors.Is(err, domain.ErrHalted) {
			reason = "halted"
		}
		metrics.Rejections.WithLabelValues(reason).Inc()
		e.logger.Info("opportunity rejected",
			slog.String("asset", opp.Asset.Symbol),
			slog.String("opp_id", opp.ID),
			slog.String("reason", err.Error()),
		)
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		rec := saga.New(opp, slot.BuyReservation, slot.SellReservation, e.sagaDeps, e.cfg.Saga).Run(ctx)

		metrics.SagasTotal.WithLabelValues(string(rec.State)).Inc()
		metrics.SagaDuration.Observe(rec.Duration.Seconds())
		if rec.RealizedPnLKRW >= 0 {
			metrics.RealizedPnL.Add(rec.RealizedPnLKRW)
		} else {
			metrics.RealizedLoss.Add(-rec.RealizedPnLKRW)
		}

		// A stuck saga keeps its asset blocked: its funds are still tied to
		// the route and a second saga on the same asset would race it.
		if rec.State != domain.SagaStuck {
			e.setBusy(opp.Asset.Symbol, false)
		}
	}()
}

func (e *Engine) setBusy(symbol string, b bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if b {
		e.busy[symbol] = true
	} else {
		delete(e.busy, symbol)
	}
}

// healthLoop checks conversion-rate availability and republishes the risk
// gauges on a slower cadence than the scan loop.
func (e *Engine) healthLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.healthPass(ctx)
		}
	}
}

func (e *Engine) healthPass(ctx context.Context) {
	rate, err := e.rate.KRWPerUSDT(ctx)
	if errors.Is(err, domain.ErrRateUnavailable) {
		e.riskMgr.NoteRateUnavailable()
	} else if err == nil {
		e.riskMgr.NoteRateRecovered()
		metrics.ConversionRate.Set(rate)
	}

	volume, _, active, halted := e.riskMgr.Snapshot()
	metrics.DailyVolume.Set(volume)
	metrics.ActiveSagas.Set(float64(active))
	if halted {
		metrics.Halted.Set(1)
	} else {
		metrics.Halted.Set(0)
	}

	if halted && !e.prevHalted && e.sagaDeps.Alert != nil {
		if aerr := e.sagaDeps.Alert.Notify(ctx, "global_halt", "Engine halted",
			"emergency stop-loss engaged; admissions are rejected until manual reset"); aerr != nil {
			e.logger.Warn("halt alert failed", slog.String("error", aerr.Error()))
		}
	}
	e.prevHalted = halted
}
