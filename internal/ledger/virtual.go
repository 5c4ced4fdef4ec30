// Package ledger implements the balance ledger contract twice: a virtual
// in-memory ledger for simulation and paper trading, and a pass-through
// ledger over real venue balance queries.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/daehan-quant/premiumbot/internal/domain"
)

type balanceKey struct {
	venue    domain.Venue
	currency string
}

type balance struct {
	available float64
	reserved  float64
}

// Virtual is an in-memory ledger with hold semantics. Funds enter through
// Credit and leave through the consumed amount and fee at Settle or through
// Withdraw; every other mutation moves value between available and reserved
// without changing their sum.
//
// When a snapshot store is attached, the full state is persisted after every
// settling mutation so a paper-trading run can resume where it left off.
type Virtual struct {
	logger *slog.Logger
	now    func() time.Time

	mu           sync.Mutex
	balances     map[balanceKey]*balance
	reservations map[string]domain.Reservation
	snapshots    domain.SnapshotStore
}

// NewVirtual builds an empty virtual ledger. Seed it with Credit calls.
func NewVirtual(logger *slog.Logger) *Virtual {
	return &Virtual{
		logger:       logger.With(slog.String("component", "virtual_ledger")),
		now:          time.Now,
		balances:     make(map[balanceKey]*balance),
		reservations: make(map[string]domain.Reservation),
	}
}

// AttachSnapshotStore enables snapshot persistence.
func (v *Virtual) AttachSnapshotStore(store domain.SnapshotStore) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.snapshots = store
}

// Reserve implements domain.BalanceLedger.
func (v *Virtual) Reserve(ctx context.Context, venue domain.Venue, currency string, amount float64, owner string) (*domain.Reservation, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("ledger: reserve amount must be positive, got %f", amount)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	b := v.balanceLocked(venue, currency)
	if b.available < amount {
		return nil, fmt.Errorf("%w: %s %s available %.8f < %.8f", domain.ErrInsufficientFunds, venue, currency, b.available, amount)
	}
	b.available -= amount
	b.reserved += amount

	res := domain.Reservation{
		ID:        uuid.NewString(),
		Venue:     venue,
		Currency:  currency,
		Amount:    amount,
		Owner:     owner,
		CreatedAt: v.now(),
	}
	v.reservations[res.ID] = res
	v.persistLocked(ctx)
	return &res, nil
}

// Settle implements domain.BalanceLedger. consumed+fee leave the ledger and
// the unspent remainder of the hold returns to available.
func (v *Virtual) Settle(ctx context.Context, res *domain.Reservation, consumed, fee float64) error {
	if consumed < 0 || fee < 0 {
		return fmt.Errorf("ledger: settle amounts must be non-negative (consumed %f, fee %f)", consumed, fee)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	stored, ok := v.reservations[res.ID]
	if !ok {
		return fmt.Errorf("ledger: reservation %s: %w", res.ID, domain.ErrNotFound)
	}
	if consumed+fee > stored.Amount+1e-9 {
		return fmt.Errorf("ledger: settle %.8f+%.8f exceeds reservation %.8f", consumed, fee, stored.Amount)
	}

	b := v.balanceLocked(stored.Venue, stored.Currency)
	b.reserved -= stored.Amount
	b.available += stored.Amount - consumed - fee
	delete(v.reservations, res.ID)
	v.persistLocked(ctx)
	return nil
}

// Release implements domain.BalanceLedger.
func (v *Virtual) Release(ctx context.Context, res *domain.Reservation) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	stored, ok := v.reservations[res.ID]
	if !ok {
		return fmt.Errorf("ledger: reservation %s: %w", res.ID, domain.ErrNotFound)
	}
	b := v.balanceLocked(stored.Venue, stored.Currency)
	b.reserved -= stored.Amount
	b.available += stored.Amount
	delete(v.reservations, res.ID)
	v.persistLocked(ctx)
	return nil
}

// Credit implements domain.BalanceLedger.
func (v *Virtual) Credit(ctx context.Context, venue domain.Venue, currency string, amount float64) error {
	if amount < 0 {
		return fmt.Errorf("ledger: credit amount must be non-negative, got %f", amount)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balanceLocked(venue, currency).available += amount
	v.persistLocked(ctx)
	return nil
}

// Withdraw removes funds from available, modeling a venue withdrawal. The
// simulated gateways call it when a transfer leaves a venue.
func (v *Virtual) Withdraw(ctx context.Context, venue domain.Venue, currency string, amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("ledger: withdraw amount must be positive, got %f", amount)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	b := v.balanceLocked(venue, currency)
	if b.available < amount {
		return fmt.Errorf("%w: %s %s available %.8f < %.8f", domain.ErrInsufficientFunds, venue, currency, b.available, amount)
	}
	b.available -= amount
	v.persistLocked(ctx)
	return nil
}

// CreditAfter credits funds after a delay, modeling transfer latency in
// paper-trading runs.
func (v *Virtual) CreditAfter(venue domain.Venue, currency string, amount float64, delay time.Duration) {
	time.AfterFunc(delay, func() {
		if err := v.Credit(context.Background(), venue, currency, amount); err != nil {
			v.logger.Error("delayed credit failed",
				slog.String("venue", string(venue)),
				slog.String("currency", currency),
				slog.Float64("amount", amount),
				slog.String("error", err.Error()),
			)
		}
	})
}

// Balance implements domain.BalanceLedger.
func (v *Virtual) Balance(_ context.Context, venue domain.Venue, currency string) (float64, float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	b := v.balanceLocked(venue, currency)
	return b.available, b.reserved, nil
}

// OpenReservations implements domain.BalanceLedger.
func (v *Virtual) OpenReservations(context.Context) ([]domain.Reservation, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]domain.Reservation, 0, len(v.reservations))
	for _, r := range v.reservations {
		out = append(out, r)
	}
	return out, nil
}

// Snapshot returns a restorable copy of the full ledger state.
func (v *Virtual) Snapshot() domain.LedgerSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked()
}

// Restore replaces the ledger state with a previously saved snapshot.
func (v *Virtual) Restore(snap domain.LedgerSnapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.balances = make(map[balanceKey]*balance, len(snap.Entries))
	for _, e := range snap.Entries {
		v.balances[balanceKey{e.Venue, e.Currency}] = &balance{available: e.Available, reserved: e.Reserved}
	}
	v.reservations = make(map[string]domain.Reservation, len(snap.Reservations))
	for _, r := range snap.Reservations {
		v.reservations[r.ID] = r
	}
}

func (v *Virtual) balanceLocked(venue domain.Venue, currency string) *balance {
	k := balanceKey{venue, currency}
	b, ok := v.balances[k]
	if !ok {
		b = &balance{}
		v.balances[k] = b
	}
	return b
}

func (v *Virtual) snapshotLocked() domain.LedgerSnapshot {
	snap := domain.LedgerSnapshot{SavedAt: v.now()}
	for k, b := range v.balances {
		snap.Entries = append(snap.Entries, domain.LedgerEntry{
			Venue:     k.venue,
			Currency:  k.currency,
			Available: b.available,
			Reserved:  b.reserved,
		})
	}
	for _, r := range v.reservations {
		snap.Reservations = append(snap.Reservations, r)
	}
	return snap
}

// persistLocked writes the current snapshot if a store is attached. A store
// failure is logged, never propagated; simulation state loss is recoverable,
// a failed trade mutation is not.
func (v *Virtual) persistLocked(ctx context.Context) {
	if v.snapshots == nil {
		return
	}
	if err := v.snapshots.Save(ctx, v.snapshotLocked()); err != nil {
		v.logger.Warn("ledger snapshot save failed", slog.String("error", err.Error()))
	}
}
