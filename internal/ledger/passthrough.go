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

// PassThrough fronts real venue balances. The venues are the source of truth
// for available funds; only the holds live here, in memory, so concurrent
// sagas cannot double-spend a balance the venue still reports as free.
//
// Settle and Release both just drop the hold: the real balance already moved
// on the venue when the order filled or the transfer landed.
type PassThrough struct {
	gateways map[domain.Venue]domain.ExchangeGateway
	logger   *slog.Logger
	now      func() time.Time

	mu           sync.Mutex
	reservations map[string]domain.Reservation
}

// NewPassThrough builds a pass-through ledger over the venue gateways.
func NewPassThrough(gateways map[domain.Venue]domain.ExchangeGateway, logger *slog.Logger) *PassThrough {
	return &PassThrough{
		gateways:     gateways,
		logger:       logger.With(slog.String("component", "passthrough_ledger")),
		now:          time.Now,
		reservations: make(map[string]domain.Reservation),
	}
}

// Reserve implements domain.BalanceLedger. The venue's reported balance
// minus existing holds must cover the amount.
func (p *PassThrough) Reserve(ctx context.Context, venue domain.Venue, currency string, amount float64, owner string) (*domain.Reservation, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("ledger: reserve amount must be positive, got %f", amount)
	}
	gw, ok := p.gateways[venue]
	if !ok {
		return nil, fmt.Errorf("ledger: no gateway for venue %s: %w", venue, domain.ErrNotFound)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	reported, err := gw.GetBalance(ctx, currency)
	if err != nil {
		return nil, fmt.Errorf("ledger: querying %s %s balance: %w", venue, currency, err)
	}
	free := reported - p.reservedLocked(venue, currency)
	if free < amount {
		return nil, fmt.Errorf("%w: %s %s free %.8f < %.8f", domain.ErrInsufficientFunds, venue, currency, free, amount)
	}

	res := domain.Reservation{
		ID:        uuid.NewString(),
		Venue:     venue,
		Currency:  currency,
		Amount:    amount,
		Owner:     owner,
		CreatedAt: p.now(),
	}
	p.reservations[res.ID] = res
	return &res, nil
}

// Settle implements domain.BalanceLedger.
func (p *PassThrough) Settle(_ context.Context, res *domain.Reservation, _, _ float64) error {
	return p.drop(res)
}

// Release implements domain.BalanceLedger.
func (p *PassThrough) Release(_ context.Context, res *domain.Reservation) error {
	return p.drop(res)
}

func (p *PassThrough) drop(res *domain.Reservation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.reservations[res.ID]; !ok {
		return fmt.Errorf("ledger: reservation %s: %w", res.ID, domain.ErrNotFound)
	}
	delete(p.reservations, res.ID)
	return nil
}

// Credit implements domain.BalanceLedger. Real credits arrive on the venue;
// nothing to record here.
func (p *PassThrough) Credit(context.Context, domain.Venue, string, float64) error {
	return nil
}

// Balance implements domain.BalanceLedger.
func (p *PassThrough) Balance(ctx context.Context, venue domain.Venue, currency string) (float64, float64, error) {
	gw, ok := p.gateways[venue]
	if !ok {
		return 0, 0, fmt.Errorf("ledger: no gateway for venue %s: %w", venue, domain.ErrNotFound)
	}
	reported, err := gw.GetBalance(ctx, currency)
	if err != nil {
		return 0, 0, fmt.Errorf("ledger: querying %s %s balance: %w", venue, currency, err)
	}

	p.mu.Lock()
	reserved := p.reservedLocked(venue, currency)
	p.mu.Unlock()

	return reported - reserved, reserved, nil
}

// OpenReservations implements domain.BalanceLedger.
func (p *PassThrough) OpenReservations(context.Context) ([]domain.Reservation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Reservation, 0, len(p.reservations))
	for _, r := range p.reservations {
		out = append(out, r)
	}
	return out, nil
}

func (p *PassThrough) reservedLocked(venue domain.Venue, currency string) float64 {
	var total float64
	for _, r := range p.reservations {
		if r.Venue == venue && r.Currency == currency {
			total += r.Amount
		}
	}
	return total
}
