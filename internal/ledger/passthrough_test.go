package ledger

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daehan-quant/premiumbot/internal/domain"
)

// balanceStub is a gateway that only answers balance queries.
type balanceStub struct {
	venue    domain.Venue
	balances map[string]float64
	err      error
}

func (b *balanceStub) Venue() domain.Venue { return b.venue }

func (b *balanceStub) GetBalance(_ context.Context, currency string) (float64, error) {
	if b.err != nil {
		return 0, b.err
	}
	return b.balances[currency], nil
}

func (b *balanceStub) GetQuote(context.Context, string) (domain.Quote, error) {
	return domain.Quote{}, domain.ErrNotFound
}

func (b *balanceStub) PlaceMarketOrder(context.Context, string, domain.OrderSide, domain.OrderSize, string) (domain.Fill, error) {
	return domain.Fill{}, domain.ErrVenueRejected
}

func (b *balanceStub) InitiateTransfer(context.Context, string, float64, domain.Venue) (domain.TransferHandle, error) {
	return domain.TransferHandle{}, domain.ErrVenueRejected
}

func (b *balanceStub) PollTransfer(context.Context, domain.TransferHandle) (domain.TransferStatus, error) {
	return domain.TransferStatus{}, domain.ErrNotFound
}

func newPassThrough(krwBalance, usdtBalance float64) (*PassThrough, *balanceStub, *balanceStub) {
	krw := &balanceStub{venue: domain.VenueKRW, balances: map[string]float64{"KRW": krwBalance}}
	usdt := &balanceStub{venue: domain.VenueUSDT, balances: map[string]float64{"USDT": usdtBalance}}
	p := NewPassThrough(map[domain.Venue]domain.ExchangeGateway{
		domain.VenueKRW:  krw,
		domain.VenueUSDT: usdt,
	}, slog.New(slog.DiscardHandler))
	return p, krw, usdt
}

func TestPassThroughReserveAgainstVenueBalance(t *testing.T) {
	ctx := context.Background()
	p, _, _ := newPassThrough(1_000_000, 0)

	res1, err := p.Reserve(ctx, domain.VenueKRW, "KRW", 600_000, "saga-1")
	require.NoError(t, err)

	// The venue still reports the full balance; the hold lives here.
	avail, reserved, err := p.Balance(ctx, domain.VenueKRW, "KRW")
	require.NoError(t, err)
	assert.InDelta(t, 400_000, avail, 1e-9)
	assert.InDelta(t, 600_000, reserved, 1e-9)

	// A second hold cannot double-spend the same venue balance.
	_, err = p.Reserve(ctx, domain.VenueKRW, "KRW", 500_000, "saga-2")
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	// Settle drops the hold; the venue balance is authoritative.
	require.NoError(t, p.Settle(ctx, res1, 600_000, 300))
	open, _ := p.OpenReservations(ctx)
	assert.Empty(t, open)
}

func TestPassThroughPropagatesBalanceQueryError(t *testing.T) {
	ctx := context.Background()
	p, krw, _ := newPassThrough(1_000_000, 0)
	krw.err = domain.ErrTransient

	_, err := p.Reserve(ctx, domain.VenueKRW, "KRW", 1, "saga-3")
	assert.ErrorIs(t, err, domain.ErrTransient)
}

func TestPassThroughUnknownVenue(t *testing.T) {
	ctx := context.Background()
	p := NewPassThrough(nil, slog.New(slog.DiscardHandler))

	_, err := p.Reserve(ctx, domain.VenueKRW, "KRW", 1, "saga-4")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
