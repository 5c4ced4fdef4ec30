// Package saga drives one admitted opportunity through the multi-leg
// cross-venue trade: entry buy, asset transfer, exit sell, settlement
// conversion, with compensation on failure. The two venues share no atomic
// commit, so every step records what actually happened and the saga always
// ends in a terminal state or parks itself stuck with its holds visible.
package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/daehan-quant/premiumbot/internal/domain"
)

// Config is the per-saga timing and retry policy.
type Config struct {
	// TransferTimeout bounds each transfer-confirmation wait.
	TransferTimeout time.Duration
	// Deadline bounds the whole saga.
	Deadline time.Duration
	// MaxAttempts bounds retries of one venue request on transient failure.
	MaxAttempts int
	// PollInterval is the transfer poll and retry backoff interval.
	PollInterval time.Duration
	// StuckPollInterval is the slow poll cadence once a saga is stuck.
	StuckPollInterval time.Duration
	// ReferencePair is the KRW venue's settlement conversion pair.
	ReferencePair string
}

// RiskRecorder receives risk-relevant saga events.
type RiskRecorder interface {
	RecordCompensationLoss(lossKRW float64)
	Release(outcome domain.SagaRecord)
}

// Alerter surfaces operator alerts. notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Deps are the collaborators a saga calls out to.
type Deps struct {
	Gateways map[domain.Venue]domain.ExchangeGateway
	Ledger   domain.BalanceLedger
	Risk     RiskRecorder
	Alert    Alerter
	Report   domain.ReportSink
	Logger   *slog.Logger
}

// internal step signals
var (
	errTransferNotStarted = errors.New("transfer could not be initiated")
	errTransferFailed     = errors.New("transfer failed at venue")
	errStillStuck         = errors.New("transfer unresolved at shutdown")
)

// Saga executes one opportunity. Run is called exactly once.
type Saga struct {
	id      string
	opp     *domain.Opportunity
	buyRes  *domain.Reservation
	sellRes *domain.Reservation

	deps Deps
	cfg  Config

	logger *slog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	rec        domain.SagaRecord
	buySettled bool
	sellClosed bool
}

// New builds a saga for an admitted opportunity and its two reservations.
// buyRes holds the spend on the buy venue; sellRes holds the settlement
// float on the other venue.
func New(opp *domain.Opportunity, buyRes, sellRes *domain.Reservation, deps Deps, cfg Config) *Saga {
	id := uuid.NewString()
	return &Saga{
		id:      id,
		opp:     opp,
		buyRes:  buyRes,
		sellRes: sellRes,
		deps:    deps,
		cfg:     cfg,
		logger: deps.Logger.With(
			slog.String("component", "trade_saga"),
			slog.String("saga_id", id),
			slog.String("asset", opp.Asset.Symbol),
			slog.String("direction", string(opp.Dir)),
		),
		now:   time.Now,
		sleep: sleepCtx,
	}
}

// Run drives the saga to a terminal state, or to Stuck when it can neither
// progress nor safely compensate. It always returns a fully populated record
// and reports it before returning.
func (s *Saga) Run(ctx context.Context) domain.SagaRecord {
	start := s.now()
	s.rec = domain.SagaRecord{
		ID:          s.id,
		Opportunity: *s.opp,
		State:       domain.SagaCreated,
		StartedAt:   start,
	}
	s.logger.Info("saga started",
		slog.Float64("net_edge", s.opp.NetEdge),
		slog.Float64("notional_krw", s.opp.NotionalKRW),
	)

	runCtx, cancel := context.WithDeadline(ctx, start.Add(s.cfg.Deadline))
	defer cancel()

	buyVenue, sellVenue := s.opp.Dir.BuyVenue(), s.opp.Dir.SellVenue()
	buyGw, sellGw := s.deps.Gateways[buyVenue], s.deps.Gateways[sellVenue]
	asset := s.opp.Asset

	// ── Leg 1: entry buy on the buy venue, sized by quote spend. ──
	s.setState(domain.SagaLeg1Buying)
	fill1, err := s.runOrder(runCtx, buyGw, asset.Pair(buyVenue), domain.OrderSideBuy,
		domain.OrderSize{QuoteAmount: s.buyRes.Amount}, uuid.NewString(), "leg1_buy", domain.SagaLeg1Buying)
	if err != nil {
		// Nothing executed yet; flattening is just giving the holds back.
		return s.abort(ctx, err, 0, buyVenue, 0)
	}

	coin := fill1.Quantity
	spent := fill1.Notional()
	var buyFee float64
	if fill1.FeeCurrency == asset.Symbol {
		coin -= fill1.Fee
	} else {
		buyFee = fill1.Fee
	}
	s.settleSpend(ctx, s.buyRes, spent, buyFee)
	s.buySettled = true
	s.rec.TotalFeesKRW += s.toKRW(fill1.Fee, fill1.FeeCurrency, fill1.Price)
	spentKRW := s.toKRW(spent+buyFee, quoteCurrency(buyVenue), 0)
	s.setState(domain.SagaLeg1Confirmed)

	// ── Transfer 1: move the coin to the sell venue. ──
	s.setState(domain.SagaTransferring1)
	credited, err := s.runTransfer(ctx, runCtx, buyGw, asset.Symbol, coin, sellVenue, "transfer1")
	switch {
	case errors.Is(err, errTransferNotStarted), errors.Is(err, errTransferFailed):
		// The coin never left the buy venue; sell it back there.
		return s.abort(ctx, err, coin, buyVenue, spentKRW)
	case errors.Is(err, errStillStuck):
		return s.finishStuck(ctx, err)
	case err != nil:
		return s.finishStuck(ctx, err)
	}
	s.rec.TotalFeesKRW += s.toKRW(coin-credited, asset.Symbol, fill1.Price)
	coin = credited

	// ── Leg 2: exit sell on the sell venue. ──
	s.setState(domain.SagaLeg2Acting)
	fill2, err := s.runOrderUntilResolved(ctx, runCtx, sellGw, asset.Pair(sellVenue), domain.OrderSideSell,
		domain.OrderSize{Quantity: coin}, "leg2_sell", domain.SagaLeg2Acting)
	if err != nil {
		// The coin sits on the remote venue and cannot be flattened from
		// here; park and wait for the operator.
		return s.finishStuck(ctx, err)
	}
	proceeds := fill2.Notional()
	if fill2.FeeCurrency == quoteCurrency(sellVenue) {
		proceeds -= fill2.Fee
	}
	s.rec.TotalFeesKRW += s.toKRW(fill2.Fee, fill2.FeeCurrency, fill2.Price)

	if s.opp.Dir == domain.DirectionForward {
		// Forward: the KRW venue is where we bought, the USDT venue is
		// where the proceeds sit.
		return s.settleForward(ctx, runCtx, buyGw, sellGw, proceeds, spentKRW)
	}
	// Reverse: the KRW venue is where we sold.
	return s.settleReverse(ctx, runCtx, sellGw, proceeds, spent+buyFee)
}

// settleForward brings the USDT proceeds home and converts them to KRW.
func (s *Saga) settleForward(ctx, runCtx context.Context, krwGw, usdtGw domain.ExchangeGateway, proceedsUSDT, spentKRW float64) domain.SagaRecord {
	// ── Transfer 2: settlement currency back to the KRW venue. ──
	s.setState(domain.SagaTransferring2)
	credited, err := s.runTransfer(ctx, runCtx, usdtGw, "USDT", proceedsUSDT, domain.VenueKRW, "transfer2")
	if err != nil {
		// The coin leg is done and the exposure is flat; a failed or slow
		// settlement transfer is an operator problem, not a compensation
		// case.
		return s.finishStuck(ctx, err)
	}
	s.rec.TotalFeesKRW += (proceedsUSDT - credited) * s.opp.KRWPerUSDT

	// ── Leg 3: sell the USDT for KRW on the reference pair. ──
	s.setState(domain.SagaLeg3Settling)
	fill3, err := s.runOrderUntilResolved(ctx, runCtx, krwGw, s.referencePair(), domain.OrderSideSell,
		domain.OrderSize{Quantity: credited}, "leg3_convert", domain.SagaLeg3Settling)
	if err != nil {
		return s.finishStuck(ctx, err)
	}
	finalKRW := fill3.Notional()
	if fill3.FeeCurrency == "KRW" {
		finalKRW -= fill3.Fee
	}
	s.rec.TotalFeesKRW += s.toKRW(fill3.Fee, fill3.FeeCurrency, fill3.Price)

	return s.complete(ctx, finalKRW-spentKRW)
}

// settleReverse restores the USDT float spent in leg 1 by buying it back
// with the KRW proceeds.
func (s *Saga) settleReverse(ctx, runCtx context.Context, krwGw domain.ExchangeGateway, proceedsKRW, spentUSDT float64) domain.SagaRecord {
	s.setState(domain.SagaLeg3Settling)
	fill3, err := s.runOrderUntilResolved(ctx, runCtx, krwGw, s.referencePair(), domain.OrderSideBuy,
		domain.OrderSize{Quantity: spentUSDT}, "leg3_convert", domain.SagaLeg3Settling)
	if err != nil {
		return s.finishStuck(ctx, err)
	}
	costKRW := fill3.Notional()
	var convFee float64
	if fill3.FeeCurrency == "KRW" {
		convFee = fill3.Fee
	}
	s.rec.TotalFeesKRW += s.toKRW(fill3.Fee, fill3.FeeCurrency, fill3.Price)

	// The KRW hold funded the repurchase.
	s.settleSpend(ctx, s.sellRes, costKRW, convFee)
	s.sellClosed = true

	return s.complete(ctx, proceedsKRW-costKRW-convFee)
}

// ---------------------------------------------------------------------------
// Step runners
// ---------------------------------------------------------------------------

// runOrder places a market order under the given idempotency key, retrying
// only transient request failures up to MaxAttempts. Every attempt carries
// the same key so an ambiguous timeout can never execute twice at the
// venue. A confirmed fill is never re-sent.
func (s *Saga) runOrder(ctx context.Context, gw domain.ExchangeGateway, pair string, side domain.OrderSide, size domain.OrderSize, key, step string, state domain.SagaState) (domain.Fill, error) {
	out := domain.StepOutcome{Step: step, State: state, StartedAt: s.now()}

	var fill domain.Fill
	var err error
	for out.Attempts = 1; out.Attempts <= s.cfg.MaxAttempts; out.Attempts++ {
		fill, err = gw.PlaceMarketOrder(ctx, pair, side, size, key)
		if err == nil {
			break
		}
		if !domain.IsTransient(err) || out.Attempts == s.cfg.MaxAttempts {
			break
		}
		if serr := s.sleep(ctx, s.cfg.PollInterval); serr != nil {
			err = serr
			break
		}
	}
	out.FinishedAt = s.now()
	if err != nil {
		out.Err = err.Error()
		s.rec.Steps = append(s.rec.Steps, out)
		s.logger.Warn("order step failed",
			slog.String("step", step),
			slog.Int("attempts", out.Attempts),
			slog.String("error", err.Error()),
		)
		return domain.Fill{}, fmt.Errorf("%s: %w", step, err)
	}

	out.Fill = &fill
	s.rec.Steps = append(s.rec.Steps, out)
	s.logger.Info("order step filled",
		slog.String("step", step),
		slog.String("pair", pair),
		slog.String("side", string(side)),
		slog.Float64("price", fill.Price),
		slog.Float64("quantity", fill.Quantity),
		slog.Int("attempts", out.Attempts),
	)
	return fill, nil
}

// runOrderUntilResolved is runOrder for legs past the point of no return:
// after the bounded retries are exhausted on a transient failure the saga
// goes stuck and keeps re-trying slowly (same idempotency key) until the
// order lands or the process shuts down. A venue rejection stops retrying
// immediately; only manual intervention can resolve it.
func (s *Saga) runOrderUntilResolved(parent, runCtx context.Context, gw domain.ExchangeGateway, pair string, side domain.OrderSide, size domain.OrderSize, step string, state domain.SagaState) (domain.Fill, error) {
	key := uuid.NewString()
	fill, err := s.runOrder(runCtx, gw, pair, side, size, key, step, state)
	if err == nil {
		return fill, nil
	}
	if domain.IsVenueRejected(err) {
		return domain.Fill{}, err
	}

	s.enterStuck(parent, fmt.Sprintf("%s unresolved after %d attempts", step, s.cfg.MaxAttempts))
	for {
		if serr := s.sleep(parent, s.cfg.StuckPollInterval); serr != nil {
			return domain.Fill{}, fmt.Errorf("%s: %w", step, errStillStuck)
		}
		fill, err = gw.PlaceMarketOrder(parent, pair, side, size, key)
		if err == nil {
			s.resumeFromStuck(state, step)
			return fill, nil
		}
		if domain.IsVenueRejected(err) {
			return domain.Fill{}, fmt.Errorf("%s: %w", step, err)
		}
	}
}

// runTransfer initiates a withdrawal and polls it to resolution. Initiation
// retries only transient request failures; once a handle exists the transfer
// is irreversibly in flight and is polled, never re-initiated. A confirmation
// that outruns TransferTimeout parks the saga stuck on a slow poll.
func (s *Saga) runTransfer(parent, runCtx context.Context, gw domain.ExchangeGateway, assetSym string, amount float64, to domain.Venue, step string) (float64, error) {
	out := domain.StepOutcome{Step: step, State: s.rec.State, StartedAt: s.now()}

	var handle domain.TransferHandle
	var err error
	for out.Attempts = 1; out.Attempts <= s.cfg.MaxAttempts; out.Attempts++ {
		handle, err = gw.InitiateTransfer(runCtx, assetSym, amount, to)
		if err == nil {
			break
		}
		if !domain.IsTransient(err) || out.Attempts == s.cfg.MaxAttempts {
			break
		}
		if serr := s.sleep(runCtx, s.cfg.PollInterval); serr != nil {
			err = serr
			break
		}
	}
	if err != nil {
		out.Err = err.Error()
		out.FinishedAt = s.now()
		s.rec.Steps = append(s.rec.Steps, out)
		return 0, fmt.Errorf("%s: %v: %w", step, err, errTransferNotStarted)
	}
	out.Transfer = &handle
	s.logger.Info("transfer initiated",
		slog.String("step", step),
		slog.String("transfer_id", handle.ID),
		slog.String("asset", assetSym),
		slog.Float64("amount", amount),
		slog.String("to", string(to)),
	)

	deadline := s.now().Add(s.cfg.TransferTimeout)
	interval := s.cfg.PollInterval
	stuck := false
	for {
		// Polls run on the parent context: a stuck transfer must keep being
		// watched past the saga deadline, and shutdown is handled explicitly.
		if serr := s.sleep(parent, interval); serr != nil {
			out.Err = errStillStuck.Error()
			out.FinishedAt = s.now()
			s.rec.Steps = append(s.rec.Steps, out)
			return 0, fmt.Errorf("%s: %w", step, errStillStuck)
		}

		status, perr := gw.PollTransfer(parent, handle)
		if perr != nil {
			s.logger.Warn("transfer poll failed",
				slog.String("step", step),
				slog.String("transfer_id", handle.ID),
				slog.String("error", perr.Error()),
			)
			continue
		}

		switch status.State {
		case domain.TransferConfirmed:
			out.Credited = status.CreditedAmount
			out.FinishedAt = s.now()
			s.rec.Steps = append(s.rec.Steps, out)
			if stuck {
				s.resumeFromStuck(s.rec.State, step)
			}
			s.logger.Info("transfer confirmed",
				slog.String("step", step),
				slog.String("transfer_id", handle.ID),
				slog.Float64("credited", status.CreditedAmount),
			)
			return status.CreditedAmount, nil

		case domain.TransferFailed:
			out.Err = errTransferFailed.Error()
			out.FinishedAt = s.now()
			s.rec.Steps = append(s.rec.Steps, out)
			return 0, fmt.Errorf("%s: transfer %s: %w", step, handle.ID, errTransferFailed)
		}

		if !stuck && s.now().After(deadline) {
			stuck = true
			interval = s.cfg.StuckPollInterval
			s.enterStuck(parent, fmt.Sprintf("%s %s unconfirmed after %s", step, handle.ID, s.cfg.TransferTimeout))
		}
	}
}

// ---------------------------------------------------------------------------
// Outcomes
// ---------------------------------------------------------------------------

// complete finalizes a fully executed saga.
func (s *Saga) complete(ctx context.Context, pnlKRW float64) domain.SagaRecord {
	s.releaseOpenHolds(ctx)
	s.rec.RealizedPnLKRW = pnlKRW
	s.setState(domain.SagaCompleted)
	s.logger.Info("saga completed",
		slog.Float64("pnl_krw", pnlKRW),
		slog.Float64("fees_krw", s.rec.TotalFeesKRW),
		slog.Duration("took", s.now().Sub(s.rec.StartedAt)),
	)
	return s.finalize(ctx)
}

// abort flattens exposure after a failure on the buy venue's side of the
// route. coinHeld is what leg 1 bought and still sits on coinVenue; zero
// means nothing executed.
func (s *Saga) abort(ctx context.Context, cause error, coinHeld float64, coinVenue domain.Venue, spentKRW float64) domain.SagaRecord {
	s.setState(domain.SagaCompensating)
	s.logger.Warn("saga compensating", slog.String("cause", cause.Error()))

	// Compensation must run even when the surrounding context is already
	// cancelled by shutdown.
	compCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Minute)
	defer cancel()

	if coinHeld > 0 {
		gw := s.deps.Gateways[coinVenue]
		fill, err := s.runOrder(compCtx, gw, s.opp.Asset.Pair(coinVenue), domain.OrderSideSell,
			domain.OrderSize{Quantity: coinHeld}, uuid.NewString(), "compensate_sell", domain.SagaCompensating)
		if err != nil {
			if domain.IsVenueRejected(err) {
				// The venue refuses the flattening trade; nothing automatic
				// is left to try. The stranded coin is a venue balance, not
				// a hold, so the untouched settlement float goes back.
				s.setState(domain.SagaFailed)
				s.releaseOpenHolds(compCtx)
				s.alert(ctx, "saga_failed", "Saga compensation rejected",
					fmt.Sprintf("saga %s (%s %s): compensation sell rejected: %v", s.id, s.opp.Asset.Symbol, s.opp.Dir, err))
				return s.finalize(ctx)
			}
			return s.finishStuck(ctx, fmt.Errorf("compensation sell unresolved: %w", err))
		}

		recovered := fill.Notional()
		if fill.FeeCurrency == quoteCurrency(coinVenue) {
			recovered -= fill.Fee
		}
		recoveredKRW := s.toKRW(recovered, quoteCurrency(coinVenue), 0)
		loss := spentKRW - recoveredKRW
		if loss < 0 {
			loss = 0
		}
		s.rec.CompensationLossKRW = loss
		s.rec.RealizedPnLKRW = recoveredKRW - spentKRW
		s.rec.TotalFeesKRW += s.toKRW(fill.Fee, fill.FeeCurrency, fill.Price)
		s.deps.Risk.RecordCompensationLoss(loss)
	}

	s.releaseOpenHolds(compCtx)
	s.setState(domain.SagaAborted)
	s.alert(ctx, "saga_aborted", "Saga aborted",
		fmt.Sprintf("saga %s (%s %s): %v; compensation loss %.0f KRW",
			s.id, s.opp.Asset.Symbol, s.opp.Dir, cause, s.rec.CompensationLossKRW))
	return s.finalize(ctx)
}

// finishStuck parks the saga: the record is reported with its holds still in
// place so the funds stay accounted for across a restart.
func (s *Saga) finishStuck(ctx context.Context, cause error) domain.SagaRecord {
	if s.rec.State != domain.SagaStuck {
		s.enterStuck(ctx, cause.Error())
	}
	s.rec.FinishedAt = s.now()
	s.rec.Duration = s.rec.FinishedAt.Sub(s.rec.StartedAt)
	s.appendReport(ctx)
	s.logger.Error("saga parked stuck", slog.String("cause", cause.Error()))
	return s.rec
}

// finalize reports a terminal record and releases the risk slot.
func (s *Saga) finalize(ctx context.Context) domain.SagaRecord {
	s.rec.FinishedAt = s.now()
	s.rec.Duration = s.rec.FinishedAt.Sub(s.rec.StartedAt)
	s.appendReport(ctx)
	s.deps.Risk.Release(s.rec)
	return s.rec
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (s *Saga) setState(st domain.SagaState) {
	s.rec.State = st
	s.logger.Debug("saga state", slog.String("state", string(st)))
}

func (s *Saga) enterStuck(ctx context.Context, reason string) {
	s.setState(domain.SagaStuck)
	s.logger.Error("saga stuck", slog.String("reason", reason))
	s.alert(ctx, "saga_stuck", "Saga stuck",
		fmt.Sprintf("saga %s (%s %s): %s; holds remain reserved", s.id, s.opp.Asset.Symbol, s.opp.Dir, reason))
}

func (s *Saga) resumeFromStuck(st domain.SagaState, step string) {
	s.setState(st)
	s.logger.Info("saga resumed from stuck", slog.String("step", step))
}

// settleSpend consumes a reservation for what was actually spent. A fill
// that drifted past the hold consumes the whole hold; the overage is real
// and already reflected in the venue balance.
func (s *Saga) settleSpend(ctx context.Context, res *domain.Reservation, consumed, fee float64) {
	if consumed+fee > res.Amount {
		consumed = res.Amount - fee
		if consumed < 0 {
			consumed, fee = 0, res.Amount
		}
	}
	if err := s.deps.Ledger.Settle(ctx, res, consumed, fee); err != nil {
		s.logger.Error("reservation settle failed",
			slog.String("reservation_id", res.ID),
			slog.String("error", err.Error()),
		)
	}
}

// releaseOpenHolds gives back whichever reservations were never consumed.
func (s *Saga) releaseOpenHolds(ctx context.Context) {
	if !s.buySettled {
		if err := s.deps.Ledger.Release(ctx, s.buyRes); err != nil {
			s.logger.Error("buy reservation release failed", slog.String("error", err.Error()))
		}
		s.buySettled = true
	}
	if !s.sellClosed {
		if err := s.deps.Ledger.Release(ctx, s.sellRes); err != nil {
			s.logger.Error("sell reservation release failed", slog.String("error", err.Error()))
		}
		s.sellClosed = true
	}
}

func (s *Saga) appendReport(ctx context.Context) {
	if s.deps.Report == nil {
		return
	}
	if err := s.deps.Report.Append(context.WithoutCancel(ctx), s.rec); err != nil {
		s.logger.Warn("report append failed", slog.String("error", err.Error()))
	}
}

func (s *Saga) alert(ctx context.Context, event, title, message string) {
	if s.deps.Alert == nil {
		return
	}
	if err := s.deps.Alert.Notify(context.WithoutCancel(ctx), event, title, message); err != nil {
		s.logger.Warn("alert failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

// toKRW converts an amount in the given currency to KRW. price is the fill
// price used to value coin-denominated amounts in their venue's quote
// currency; it is ignored for KRW and USDT.
func (s *Saga) toKRW(amount float64, currency string, price float64) float64 {
	switch currency {
	case "", "KRW":
		return amount
	case "USDT":
		return amount * s.opp.KRWPerUSDT
	default:
		// Coin units: value at the fill price, which is KRW on the KRW venue
		// and USDT on the other.
		if s.opp.Dir.BuyVenue() == domain.VenueKRW {
			return amount * price
		}
		return amount * price * s.opp.KRWPerUSDT
	}
}

func (s *Saga) referencePair() string {
	if s.cfg.ReferencePair != "" {
		return s.cfg.ReferencePair
	}
	return "KRW-USDT"
}

func quoteCurrency(v domain.Venue) string {
	if v == domain.VenueKRW {
		return "KRW"
	}
	return "USDT"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
