package premium

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daehan-quant/premiumbot/internal/domain"
)

// stubGateway serves canned quotes keyed by pair.
type stubGateway struct {
	venue  domain.Venue
	quotes map[string]domain.Quote
	err    error
}

func (s *stubGateway) Venue() domain.Venue { return s.venue }

func (s *stubGateway) GetQuote(_ context.Context, pair string) (domain.Quote, error) {
	if s.err != nil {
		return domain.Quote{}, s.err
	}
	q, ok := s.quotes[pair]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	return q, nil
}

func (s *stubGateway) GetBalance(context.Context, string) (float64, error) { return 0, nil }

func (s *stubGateway) PlaceMarketOrder(context.Context, string, domain.OrderSide, domain.OrderSize, string) (domain.Fill, error) {
	return domain.Fill{}, nil
}

func (s *stubGateway) InitiateTransfer(context.Context, string, float64, domain.Venue) (domain.TransferHandle, error) {
	return domain.TransferHandle{}, nil
}

func (s *stubGateway) PollTransfer(context.Context, domain.TransferHandle) (domain.TransferStatus, error) {
	return domain.TransferStatus{}, nil
}

type fixedRate struct {
	rate float64
	err  error
}

func (f fixedRate) KRWPerUSDT(context.Context) (float64, error) { return f.rate, f.err }

func testAsset() domain.Asset {
	return domain.Asset{
		Symbol: "TST",
		Pairs: map[domain.Venue]string{
			domain.VenueKRW:  "KRW-TST",
			domain.VenueUSDT: "TSTUSDT",
		},
		MinQuantity: 0.001,
		WithdrawalFee: map[domain.Venue]float64{
			domain.VenueKRW:  10, // 0.1% of the 10000-coin test size
			domain.VenueUSDT: 10,
		},
	}
}

func testParams() Params {
	return Params{
		QuoteMaxAge:    5 * time.Second,
		OpportunityTTL: 30 * time.Second,
		MinTradeKRW:    1_000,
		MaxTradeKRW:    1_000_000,
		DepthFraction:  1.0,
		DepthLevels:    5,
		Fees: map[domain.Venue]float64{
			domain.VenueKRW:  0.003,
			domain.VenueUSDT: 0.002,
		},
		ConversionFee: 0.001,
	}
}

func newTestCalculator(t *testing.T, krw, usdt *stubGateway, rate RateSource, params Params) *Calculator {
	t.Helper()
	gws := map[domain.Venue]domain.ExchangeGateway{
		domain.VenueKRW:  krw,
		domain.VenueUSDT: usdt,
	}
	c := NewCalculator(gws, rate, params, slog.New(slog.DiscardHandler))
	c.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return c
}

func TestEvaluateForwardNetEdge(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	// Buy side: best ask 100 KRW with half the size at 100.1, so the walk
	// at 10000 coins yields a 0.05% buy slippage.
	krw := &stubGateway{
		venue: domain.VenueKRW,
		quotes: map[string]domain.Quote{
			"KRW-TST": {
				Venue: domain.VenueKRW, Symbol: "KRW-TST",
				BestBid: 99.5, BestAsk: 100.0,
				Bids: []domain.PriceLevel{{Price: 99.5, Size: 1_000_000}},
				Asks: []domain.PriceLevel{
					{Price: 100.0, Size: 5_000},
					{Price: 100.1, Size: 1_000_000},
				},
				Timestamp: now,
			},
		},
	}
	// Sell side: deep bid at 101.2 USDT, rate pinned at 1 KRW/USDT.
	usdt := &stubGateway{
		venue: domain.VenueUSDT,
		quotes: map[string]domain.Quote{
			"TSTUSDT": {
				Venue: domain.VenueUSDT, Symbol: "TSTUSDT",
				BestBid: 101.2, BestAsk: 101.5,
				Bids:    []domain.PriceLevel{{Price: 101.2, Size: 1_000_000}},
				Asks:    []domain.PriceLevel{{Price: 101.5, Size: 1_000_000}},
				Timestamp: now,
			},
		},
	}

	c := newTestCalculator(t, krw, usdt, fixedRate{rate: 1.0}, testParams())

	opp, err := c.Evaluate(context.Background(), testAsset())
	require.NoError(t, err)
	require.NotNil(t, opp)

	assert.Equal(t, domain.DirectionForward, opp.Dir)
	assert.InDelta(t, 0.012, opp.GrossEdge, 1e-9)
	// Size clamps to MaxTradeKRW: 1,000,000 KRW at ask 100 is 10,000 coins.
	assert.InDelta(t, 1_000_000, opp.NotionalKRW, 1e-6)
	assert.InDelta(t, 10_000, opp.Quantity, 1e-6)
	// Fees 0.6%, transfer fee 10 coins / 10000 = 0.1%, slippage 0.05%.
	assert.InDelta(t, 0.007, opp.FeeFraction, 1e-9)
	assert.InDelta(t, 0.0005, opp.SlippageFraction, 1e-9)
	assert.InDelta(t, 0.0045, opp.NetEdge, 1e-9)
	assert.InDelta(t, 100.05, opp.BuyPrice, 1e-9)
	assert.Equal(t, 1.0, opp.KRWPerUSDT)
	assert.False(t, opp.Expired(now))
	assert.True(t, opp.Expired(now.Add(time.Minute)))
}

func TestEvaluateNoOpportunityWhenCostsSwallowEdge(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	flat := func(venue domain.Venue, pair string, bid, ask float64) *stubGateway {
		return &stubGateway{
			venue: venue,
			quotes: map[string]domain.Quote{
				pair: {
					Venue: venue, Symbol: pair,
					BestBid: bid, BestAsk: ask,
					Bids:    []domain.PriceLevel{{Price: bid, Size: 1_000_000}},
					Asks:    []domain.PriceLevel{{Price: ask, Size: 1_000_000}},
					Timestamp: now,
				},
			},
		}
	}
	// 0.2% gross gap, under the 0.7%+ cost stack in both directions.
	krw := flat(domain.VenueKRW, "KRW-TST", 99.9, 100.0)
	usdt := flat(domain.VenueUSDT, "TSTUSDT", 100.2, 100.3)

	c := newTestCalculator(t, krw, usdt, fixedRate{rate: 1.0}, testParams())

	opp, err := c.Evaluate(context.Background(), testAsset())
	require.NoError(t, err)
	assert.Nil(t, opp)
}

func TestEvaluateStaleQuote(t *testing.T) {
	old := time.Unix(1_700_000_000, 0).Add(-time.Minute)
	krw := &stubGateway{
		venue: domain.VenueKRW,
		quotes: map[string]domain.Quote{
			"KRW-TST": {BestBid: 99, BestAsk: 100, Timestamp: old},
		},
	}
	usdt := &stubGateway{
		venue: domain.VenueUSDT,
		quotes: map[string]domain.Quote{
			"TSTUSDT": {BestBid: 101, BestAsk: 102, Timestamp: old},
		},
	}

	c := newTestCalculator(t, krw, usdt, fixedRate{rate: 1.0}, testParams())

	_, err := c.Evaluate(context.Background(), testAsset())
	assert.ErrorIs(t, err, domain.ErrStaleQuote)
}

func TestEvaluateRateUnavailableIsHardStop(t *testing.T) {
	c := newTestCalculator(t,
		&stubGateway{venue: domain.VenueKRW},
		&stubGateway{venue: domain.VenueUSDT},
		fixedRate{err: domain.ErrRateUnavailable},
		testParams(),
	)

	opp, err := c.Evaluate(context.Background(), testAsset())
	assert.Nil(t, opp)
	assert.ErrorIs(t, err, domain.ErrRateUnavailable)
}

func TestReferenceRateCachingAndStaleFallback(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	gw := &stubGateway{
		venue: domain.VenueKRW,
		quotes: map[string]domain.Quote{
			"KRW-USDT": {BestBid: 1340, BestAsk: 1342, Timestamp: now},
		},
	}

	r := NewReferenceRate(gw, "KRW-USDT", 5*time.Minute, time.Hour, slog.New(slog.DiscardHandler))
	clock := now
	r.now = func() time.Time { return clock }

	rate, err := r.KRWPerUSDT(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1341, rate, 1e-9)

	// Inside the TTL the cached value is served even if the feed breaks.
	gw.err = domain.ErrTransient
	clock = clock.Add(time.Minute)
	rate, err = r.KRWPerUSDT(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1341, rate, 1e-9)

	// Past the TTL but inside the stale window the last value still serves.
	clock = clock.Add(30 * time.Minute)
	rate, err = r.KRWPerUSDT(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1341, rate, 1e-9)

	// Past the stale window the rate is reported unavailable.
	clock = clock.Add(2 * time.Hour)
	_, err = r.KRWPerUSDT(context.Background())
	assert.ErrorIs(t, err, domain.ErrRateUnavailable)
}
