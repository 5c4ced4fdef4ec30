// Package risk gates detected opportunities behind the engine's loss and
// concurrency limits and owns the rolling daily risk state.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/daehan-quant/premiumbot/internal/domain"
)

// Limits are the static admission limits, read once at construction.
type Limits struct {
	MinSafetyMargin      float64
	MaxConcurrentSagas   int
	DailyVolumeCapKRW    float64
	EmergencyStopLossKRW float64
	BookFailureCooldown  int
}

// SagaSlot is an admitted opportunity together with the funds held for it on
// both venues. The slot is handed to exactly one saga; the saga ends the
// slot by settling or releasing its reservations and calling Release.
type SagaSlot struct {
	Opportunity     *domain.Opportunity
	BuyReservation  *domain.Reservation
	SellReservation *domain.Reservation
}

// Manager evaluates the admission rules and tracks active sagas, daily
// volume, daily realized loss, book-failure cooldowns, and the global halt
// flag. All admissions and risk-state mutations serialize on one mutex so
// two opportunities can never be approved against the same unreserved
// balance.
type Manager struct {
	ledger domain.BalanceLedger
	limits Limits
	logger *slog.Logger
	now    func() time.Time

	mu              sync.Mutex
	active          int
	day             string
	dailyVolumeKRW  float64
	dailyLossKRW    float64
	rateUnavailable bool
	halted          bool
	bookFailures    map[string]int
}

// NewManager builds a risk manager over the given ledger.
func NewManager(ledger domain.BalanceLedger, limits Limits, logger *slog.Logger) *Manager {
	return &Manager{
		ledger:       ledger,
		limits:       limits,
		logger:       logger.With(slog.String("component", "risk_manager")),
		now:          time.Now,
		bookFailures: make(map[string]int),
	}
}

// AdmitAndReserve evaluates the admission rules in order and, on approval,
// reserves the trade's notional on both venues and increments the active
// saga count, all under one critical section. The first failing rule wins;
// rejections wrap domain.ErrRejected (domain.ErrHalted when the engine is
// halted) with the failing rule's reason.
func (m *Manager) AdmitAndReserve(ctx context.Context, opp *domain.Opportunity) (*SagaSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rollDayLocked()

	// A candidate that outlived its validity window is stale by the time it
	// reaches admission; funding it would trade on a dead quote.
	if opp.Expired(m.now()) {
		return nil, fmt.Errorf("%w: opportunity expired at %s", domain.ErrRejected, opp.ExpiresAt.Format(time.RFC3339))
	}

	// Rule 1: conversion-rate outage gates everything.
	if m.rateUnavailable {
		return nil, fmt.Errorf("%w: conversion rate unavailable", domain.ErrRejected)
	}

	// Rule 2: concurrency limit.
	if m.active >= m.limits.MaxConcurrentSagas {
		return nil, fmt.Errorf("%w: %d sagas already active (max %d)", domain.ErrRejected, m.active, m.limits.MaxConcurrentSagas)
	}

	// Rule 3: daily volume cap. The candidate's notional counts against the
	// cap at admission, not at completion.
	if m.dailyVolumeKRW+opp.NotionalKRW > m.limits.DailyVolumeCapKRW {
		return nil, fmt.Errorf("%w: daily volume %.0f + %.0f exceeds cap %.0f KRW",
			domain.ErrRejected, m.dailyVolumeKRW, opp.NotionalKRW, m.limits.DailyVolumeCapKRW)
	}

	// Rule 4: safety margin.
	if opp.NetEdge < m.limits.MinSafetyMargin {
		return nil, fmt.Errorf("%w: net edge %.4f%% below safety margin %.4f%%",
			domain.ErrRejected, opp.NetEdge*100, m.limits.MinSafetyMargin*100)
	}

	// Rule 5: orderbook-failure cooldown, cleared only by a successful fetch.
	if m.bookFailures[opp.Asset.Symbol] >= m.limits.BookFailureCooldown {
		return nil, fmt.Errorf("%w: %s in orderbook-failure cooldown (%d consecutive failures)",
			domain.ErrRejected, opp.Asset.Symbol, m.bookFailures[opp.Asset.Symbol])
	}

	// Rule 6: emergency stop-loss halts the engine until manual reset.
	if m.dailyLossKRW >= m.limits.EmergencyStopLossKRW {
		m.setHaltedLocked("daily loss reached emergency stop-loss")
	}
	if m.halted {
		return nil, fmt.Errorf("%w: emergency stop-loss engaged (daily loss %.0f KRW)", domain.ErrHalted, m.dailyLossKRW)
	}

	slot, err := m.reserveBothLocked(ctx, opp)
	if err != nil {
		return nil, err
	}

	m.active++
	m.dailyVolumeKRW += opp.NotionalKRW
	m.logger.Info("opportunity admitted",
		slog.String("opp_id", opp.ID),
		slog.String("asset", opp.Asset.Symbol),
		slog.String("direction", string(opp.Dir)),
		slog.Float64("net_edge", opp.NetEdge),
		slog.Float64("notional_krw", opp.NotionalKRW),
		slog.Int("active_sagas", m.active),
	)
	return slot, nil
}

// reserveBothLocked holds the buy-side spend on the buy venue and the
// settlement-currency equivalent on the sell venue. A failure on the second
// hold rolls back the first.
func (m *Manager) reserveBothLocked(ctx context.Context, opp *domain.Opportunity) (*SagaSlot, error) {
	buyVenue, sellVenue := opp.Dir.BuyVenue(), opp.Dir.SellVenue()

	buyRes, err := m.ledger.Reserve(ctx, buyVenue, quoteCurrency(buyVenue), venueNotional(opp, buyVenue), opp.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: reserving %s on %s: %w", domain.ErrRejected, quoteCurrency(buyVenue), buyVenue, err)
	}

	sellRes, err := m.ledger.Reserve(ctx, sellVenue, quoteCurrency(sellVenue), venueNotional(opp, sellVenue), opp.ID)
	if err != nil {
		if relErr := m.ledger.Release(ctx, buyRes); relErr != nil {
			m.logger.Error("rolling back buy-side reservation failed",
				slog.String("opp_id", opp.ID), slog.String("error", relErr.Error()))
		}
		return nil, fmt.Errorf("%w: reserving %s on %s: %w", domain.ErrRejected, quoteCurrency(sellVenue), sellVenue, err)
	}

	return &SagaSlot{Opportunity: opp, BuyReservation: buyRes, SellReservation: sellRes}, nil
}

// Release records a finished saga: the active count drops and any realized
// loss beyond the already-recorded compensation loss feeds the daily loss
// counter.
func (m *Manager) Release(outcome domain.SagaRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rollDayLocked()
	if m.active > 0 {
		m.active--
	}

	extraLoss := -outcome.RealizedPnLKRW - outcome.CompensationLossKRW
	if extraLoss > 0 {
		m.addLossLocked(extraLoss)
	}
}

// RecordCompensationLoss feeds a compensation loss into the daily loss
// counter the moment it is realized, so the stop-loss rule can fire before
// the saga finishes.
func (m *Manager) RecordCompensationLoss(lossKRW float64) {
	if lossKRW <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked()
	m.addLossLocked(lossKRW)
}

// NoteRateUnavailable flags the conversion-rate outage gate.
func (m *Manager) NoteRateUnavailable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.rateUnavailable {
		m.logger.Warn("conversion rate unavailable, gating all admissions")
	}
	m.rateUnavailable = true
}

// NoteRateRecovered clears the conversion-rate outage gate.
func (m *Manager) NoteRateRecovered() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rateUnavailable {
		m.logger.Info("conversion rate recovered")
	}
	m.rateUnavailable = false
}

// NoteBookFetch records an orderbook fetch result for an asset. Consecutive
// failures at or above the cooldown threshold reject the asset until a fetch
// succeeds again.
func (m *Manager) NoteBookFetch(symbol string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ok {
		delete(m.bookFailures, symbol)
		return
	}
	m.bookFailures[symbol]++
	if m.bookFailures[symbol] == m.limits.BookFailureCooldown {
		m.logger.Warn("asset entering orderbook-failure cooldown",
			slog.String("asset", symbol),
			slog.Int("consecutive_failures", m.bookFailures[symbol]),
		)
	}
}

// Halted reports whether the emergency stop-loss halt is engaged.
func (m *Manager) Halted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.halted
}

// ResetHalt clears the halt flag. Operator action only.
func (m *Manager) ResetHalt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.halted {
		m.logger.Warn("emergency halt manually reset")
	}
	m.halted = false
}

// ActiveSagas returns the current in-flight saga count.
func (m *Manager) ActiveSagas() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Snapshot returns the current daily counters for reporting.
func (m *Manager) Snapshot() (volumeKRW, lossKRW float64, active int, halted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked()
	return m.dailyVolumeKRW, m.dailyLossKRW, m.active, m.halted
}

// addLossLocked accumulates realized loss and engages the halt when the
// stop-loss threshold is crossed.
func (m *Manager) addLossLocked(lossKRW float64) {
	m.dailyLossKRW += lossKRW
	if m.dailyLossKRW >= m.limits.EmergencyStopLossKRW {
		m.setHaltedLocked("cumulative realized loss reached emergency stop-loss")
	}
}

func (m *Manager) setHaltedLocked(reason string) {
	if m.halted {
		return
	}
	m.halted = true
	m.logger.Error("engine halted",
		slog.String("reason", reason),
		slog.Float64("daily_loss_krw", m.dailyLossKRW),
		slog.Float64("stop_loss_krw", m.limits.EmergencyStopLossKRW),
	)
}

// rollDayLocked resets the daily counters when the local date changes. The
// halt flag survives the rollover; only a manual reset clears it.
func (m *Manager) rollDayLocked() {
	today := m.now().Format("2006-01-02")
	if m.day == today {
		return
	}
	if m.day != "" {
		m.logger.Info("daily risk counters reset",
			slog.String("day", today),
			slog.Float64("previous_volume_krw", m.dailyVolumeKRW),
			slog.Float64("previous_loss_krw", m.dailyLossKRW),
		)
	}
	m.day = today
	m.dailyVolumeKRW = 0
	m.dailyLossKRW = 0
}

// quoteCurrency is the settlement currency a venue trades against.
func quoteCurrency(v domain.Venue) string {
	if v == domain.VenueKRW {
		return "KRW"
	}
	return "USDT"
}

// venueNotional is the trade's size expressed in a venue's quote currency.
func venueNotional(opp *domain.Opportunity, v domain.Venue) float64 {
	if v == domain.VenueKRW {
		return opp.NotionalKRW
	}
	return opp.NotionalUSDT()
}
