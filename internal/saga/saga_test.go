package saga

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daehan-quant/premiumbot/internal/domain"
	"github.com/daehan-quant/premiumbot/internal/ledger"
)

// scriptGateway delegates to test-supplied hooks and records every call.
type scriptGateway struct {
	venue domain.Venue

	mu         sync.Mutex
	orderCalls []orderCall

	placeOrder func(call orderCall) (domain.Fill, error)
	initiate   func(asset string, amount float64, to domain.Venue) (domain.TransferHandle, error)
	poll       func(h domain.TransferHandle) (domain.TransferStatus, error)
}

type orderCall struct {
	Pair string
	Side domain.OrderSide
	Size domain.OrderSize
	Key  string
	N    int // 1-based call count for this gateway
}

func (g *scriptGateway) Venue() domain.Venue { return g.venue }

func (g *scriptGateway) GetQuote(context.Context, string) (domain.Quote, error) {
	return domain.Quote{}, domain.ErrNotFound
}

func (g *scriptGateway) GetBalance(context.Context, string) (float64, error) { return 0, nil }

func (g *scriptGateway) PlaceMarketOrder(_ context.Context, pair string, side domain.OrderSide, size domain.OrderSize, key string) (domain.Fill, error) {
	g.mu.Lock()
	call := orderCall{Pair: pair, Side: side, Size: size, Key: key, N: len(g.orderCalls) + 1}
	g.orderCalls = append(g.orderCalls, call)
	g.mu.Unlock()
	return g.placeOrder(call)
}

func (g *scriptGateway) InitiateTransfer(_ context.Context, asset string, amount float64, to domain.Venue) (domain.TransferHandle, error) {
	if g.initiate == nil {
		return domain.TransferHandle{}, domain.ErrVenueRejected
	}
	return g.initiate(asset, amount, to)
}

func (g *scriptGateway) PollTransfer(_ context.Context, h domain.TransferHandle) (domain.TransferStatus, error) {
	return g.poll(h)
}

func (g *scriptGateway) calls() []orderCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]orderCall, len(g.orderCalls))
	copy(out, g.orderCalls)
	return out
}

// recordingRisk captures compensation losses and released records.
type recordingRisk struct {
	mu       sync.Mutex
	losses   []float64
	released []domain.SagaRecord
}

func (r *recordingRisk) RecordCompensationLoss(loss float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.losses = append(r.losses, loss)
}

func (r *recordingRisk) Release(rec domain.SagaRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = append(r.released, rec)
}

// recordingAlerter captures alert events.
type recordingAlerter struct {
	mu     sync.Mutex
	events []string
}

func (a *recordingAlerter) Notify(_ context.Context, event, _, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *recordingAlerter) seen(event string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.events {
		if e == event {
			return true
		}
	}
	return false
}

// recordingSink captures appended records.
type recordingSink struct {
	mu   sync.Mutex
	recs []domain.SagaRecord
}

func (s *recordingSink) Append(_ context.Context, rec domain.SagaRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

type harness struct {
	krw    *scriptGateway
	usdt   *scriptGateway
	ledger *ledger.Virtual
	risk   *recordingRisk
	alert  *recordingAlerter
	sink   *recordingSink
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		krw:    &scriptGateway{venue: domain.VenueKRW},
		usdt:   &scriptGateway{venue: domain.VenueUSDT},
		ledger: ledger.NewVirtual(slog.New(slog.DiscardHandler)),
		risk:   &recordingRisk{},
		alert:  &recordingAlerter{},
		sink:   &recordingSink{},
	}
	ctx := context.Background()
	require.NoError(t, h.ledger.Credit(ctx, domain.VenueKRW, "KRW", 2_000_000))
	require.NoError(t, h.ledger.Credit(ctx, domain.VenueUSDT, "USDT", 2_000))
	return h
}

func (h *harness) deps() Deps {
	return Deps{
		Gateways: map[domain.Venue]domain.ExchangeGateway{
			domain.VenueKRW:  h.krw,
			domain.VenueUSDT: h.usdt,
		},
		Ledger: h.ledger,
		Risk:   h.risk,
		Alert:  h.alert,
		Report: h.sink,
		Logger: slog.New(slog.DiscardHandler),
	}
}

func (h *harness) reserve(t *testing.T, opp *domain.Opportunity) (buy, sell *domain.Reservation) {
	t.Helper()
	ctx := context.Background()
	var err error
	if opp.Dir == domain.DirectionForward {
		buy, err = h.ledger.Reserve(ctx, domain.VenueKRW, "KRW", opp.NotionalKRW, opp.ID)
		require.NoError(t, err)
		sell, err = h.ledger.Reserve(ctx, domain.VenueUSDT, "USDT", opp.NotionalUSDT(), opp.ID)
		require.NoError(t, err)
		return buy, sell
	}
	buy, err = h.ledger.Reserve(ctx, domain.VenueUSDT, "USDT", opp.NotionalUSDT(), opp.ID)
	require.NoError(t, err)
	sell, err = h.ledger.Reserve(ctx, domain.VenueKRW, "KRW", opp.NotionalKRW, opp.ID)
	require.NoError(t, err)
	return buy, sell
}

func testConfig() Config {
	return Config{
		TransferTimeout:   40 * time.Millisecond,
		Deadline:          5 * time.Second,
		MaxAttempts:       3,
		PollInterval:      time.Millisecond,
		StuckPollInterval: 2 * time.Millisecond,
		ReferencePair:     "KRW-USDT",
	}
}

func testOpp(dir domain.Direction) *domain.Opportunity {
	return &domain.Opportunity{
		ID: "opp-1",
		Asset: domain.Asset{
			Symbol: "XRP",
			Pairs: map[domain.Venue]string{
				domain.VenueKRW:  "KRW-XRP",
				domain.VenueUSDT: "XRPUSDT",
			},
		},
		Dir:         dir,
		NetEdge:     0.005,
		KRWPerUSDT:  1_000,
		NotionalKRW: 1_000_000,
		DetectedAt:  time.Now(),
	}
}

// confirmAfter returns a poll hook that reports pending n times, then
// confirms with the credited amount.
func confirmAfter(n int, credited float64) func(domain.TransferHandle) (domain.TransferStatus, error) {
	var mu sync.Mutex
	count := 0
	return func(domain.TransferHandle) (domain.TransferStatus, error) {
		mu.Lock()
		defer mu.Unlock()
		count++
		if count <= n {
			return domain.TransferStatus{State: domain.TransferPending}, nil
		}
		return domain.TransferStatus{State: domain.TransferConfirmed, CreditedAmount: credited}, nil
	}
}

func TestSagaForwardHappyPath(t *testing.T) {
	h := newHarness(t)
	opp := testOpp(domain.DirectionForward)

	// Leg 1: 1,000,000 KRW buys 9,995 coins at 100 with a 500 KRW fee.
	h.krw.placeOrder = func(c orderCall) (domain.Fill, error) {
		switch c.Pair {
		case "KRW-XRP":
			return domain.Fill{OrderID: "u1", Price: 100, Quantity: 9_995, Fee: 500, FeeCurrency: "KRW", Timestamp: time.Now()}, nil
		case "KRW-USDT":
			// Leg 3: sell 1,008.988 USDT at 1,000 KRW, 1,000 KRW fee.
			return domain.Fill{OrderID: "u2", Price: 1_000, Quantity: c.Size.Quantity, Fee: 1_000, FeeCurrency: "KRW", Timestamp: time.Now()}, nil
		}
		return domain.Fill{}, domain.ErrNotFound
	}
	h.krw.initiate = func(asset string, amount float64, to domain.Venue) (domain.TransferHandle, error) {
		assert.Equal(t, "XRP", asset)
		assert.InDelta(t, 9_995, amount, 1e-9)
		assert.Equal(t, domain.VenueUSDT, to)
		return domain.TransferHandle{ID: "t1", Asset: asset, Amount: amount, From: domain.VenueKRW, To: to}, nil
	}
	h.krw.poll = confirmAfter(2, 9_990) // 5-coin network fee

	// Leg 2: sell 9,990 coins at 0.1012 USDT with a 1 USDT fee.
	h.usdt.placeOrder = func(c orderCall) (domain.Fill, error) {
		assert.Equal(t, "XRPUSDT", c.Pair)
		assert.Equal(t, domain.OrderSideSell, c.Side)
		assert.InDelta(t, 9_990, c.Size.Quantity, 1e-9)
		return domain.Fill{OrderID: "b1", Price: 0.1012, Quantity: c.Size.Quantity, Fee: 1, FeeCurrency: "USDT", Timestamp: time.Now()}, nil
	}
	h.usdt.initiate = func(asset string, amount float64, to domain.Venue) (domain.TransferHandle, error) {
		assert.Equal(t, "USDT", asset)
		assert.Equal(t, domain.VenueKRW, to)
		return domain.TransferHandle{ID: "t2", Asset: asset, Amount: amount, From: domain.VenueUSDT, To: to}, nil
	}
	h.usdt.poll = confirmAfter(1, 1_008.988)

	buy, sell := h.reserve(t, opp)
	rec := New(opp, buy, sell, h.deps(), testConfig()).Run(context.Background())

	assert.Equal(t, domain.SagaCompleted, rec.State)
	assert.True(t, rec.Succeeded())
	// 9,990 * 0.1012 = 1,010.988 USDT, minus 1 fee, minus 1 transfer fee,
	// sold at 1,000 with a 1,000 KRW fee: 1,007,988 KRW home against
	// 1,000,000 spent.
	assert.InDelta(t, 7_988, rec.RealizedPnLKRW, 1e-6)
	require.Len(t, rec.Steps, 5)

	// Buy hold fully consumed, sell-side float hold returned.
	availKRW, reservedKRW, _ := h.ledger.Balance(context.Background(), domain.VenueKRW, "KRW")
	assert.InDelta(t, 1_000_000, availKRW, 1e-6)
	assert.Zero(t, reservedKRW)
	availUSDT, reservedUSDT, _ := h.ledger.Balance(context.Background(), domain.VenueUSDT, "USDT")
	assert.InDelta(t, 2_000, availUSDT, 1e-6)
	assert.Zero(t, reservedUSDT)

	require.Len(t, h.risk.released, 1)
	require.Len(t, h.sink.recs, 1)
	assert.Empty(t, h.alert.events)
}

func TestSagaLeg1TransientRetriesSameKey(t *testing.T) {
	h := newHarness(t)
	opp := testOpp(domain.DirectionForward)

	h.krw.placeOrder = func(c orderCall) (domain.Fill, error) {
		if c.N <= 2 {
			return domain.Fill{}, domain.ErrTransient
		}
		return domain.Fill{OrderID: "u1", Price: 100, Quantity: 9_995, Fee: 500, FeeCurrency: "KRW", Timestamp: time.Now()}, nil
	}
	// Transfer fails at the venue; the coin never left, so the saga sells
	// it back at a slightly worse price.
	h.krw.initiate = func(asset string, amount float64, to domain.Venue) (domain.TransferHandle, error) {
		return domain.TransferHandle{ID: "t1"}, nil
	}
	h.krw.poll = func(domain.TransferHandle) (domain.TransferStatus, error) {
		return domain.TransferStatus{State: domain.TransferFailed}, nil
	}

	buy, sell := h.reserve(t, opp)
	rec := New(opp, buy, sell, h.deps(), testConfig()).Run(context.Background())

	// The compensation sell recovers 9,995*100-500 = 999,000 KRW against
	// the 1,000,000 spent, a 1,000 KRW loss.
	assert.Equal(t, domain.SagaAborted, rec.State)
	assert.InDelta(t, 1_000, rec.CompensationLossKRW, 1e-6)
	assert.InDelta(t, -1_000, rec.RealizedPnLKRW, 1e-6)

	calls := h.krw.calls()
	require.Len(t, calls, 4)
	// Transient retries reuse one idempotency key.
	assert.Equal(t, calls[0].Key, calls[1].Key)
	assert.Equal(t, calls[1].Key, calls[2].Key)
	// The compensation order is a new submission with its own key.
	assert.NotEqual(t, calls[2].Key, calls[3].Key)
	assert.Equal(t, domain.OrderSideSell, calls[3].Side)

	require.Len(t, h.risk.losses, 1)
	assert.InDelta(t, 1_000, h.risk.losses[0], 1e-6)
	assert.True(t, h.alert.seen("saga_aborted"))

	// No holds left behind.
	open, _ := h.ledger.OpenReservations(context.Background())
	assert.Empty(t, open)
	require.Len(t, h.risk.released, 1)
}

func TestSagaLeg1RejectionReleasesEverything(t *testing.T) {
	h := newHarness(t)
	opp := testOpp(domain.DirectionForward)

	h.krw.placeOrder = func(orderCall) (domain.Fill, error) {
		return domain.Fill{}, domain.ErrVenueRejected
	}

	buy, sell := h.reserve(t, opp)
	rec := New(opp, buy, sell, h.deps(), testConfig()).Run(context.Background())

	assert.Equal(t, domain.SagaAborted, rec.State)
	assert.Zero(t, rec.CompensationLossKRW)
	assert.Zero(t, rec.RealizedPnLKRW)

	// A rejection is never retried.
	assert.Len(t, h.krw.calls(), 1)
	assert.Empty(t, h.risk.losses)

	availKRW, reservedKRW, _ := h.ledger.Balance(context.Background(), domain.VenueKRW, "KRW")
	assert.InDelta(t, 2_000_000, availKRW, 1e-9)
	assert.Zero(t, reservedKRW)
}

func TestSagaTransferTimeoutLateConfirmationResumes(t *testing.T) {
	h := newHarness(t)
	opp := testOpp(domain.DirectionForward)

	h.krw.placeOrder = func(c orderCall) (domain.Fill, error) {
		if c.Pair == "KRW-USDT" {
			return domain.Fill{OrderID: "u2", Price: 1_000, Quantity: c.Size.Quantity, Timestamp: time.Now()}, nil
		}
		return domain.Fill{OrderID: "u1", Price: 100, Quantity: 10_000, Timestamp: time.Now()}, nil
	}
	h.krw.initiate = func(asset string, amount float64, to domain.Venue) (domain.TransferHandle, error) {
		return domain.TransferHandle{ID: "t1"}, nil
	}
	// The transfer confirms only well past the 40ms timeout: the saga must
	// go stuck, alert, then resume forward on late confirmation.
	h.krw.poll = confirmAfter(60, 9_995)

	h.usdt.placeOrder = func(c orderCall) (domain.Fill, error) {
		return domain.Fill{OrderID: "b1", Price: 0.102, Quantity: c.Size.Quantity, Timestamp: time.Now()}, nil
	}
	h.usdt.initiate = func(asset string, amount float64, to domain.Venue) (domain.TransferHandle, error) {
		return domain.TransferHandle{ID: "t2"}, nil
	}
	h.usdt.poll = confirmAfter(0, 1_019.49)

	buy, sell := h.reserve(t, opp)
	rec := New(opp, buy, sell, h.deps(), testConfig()).Run(context.Background())

	assert.Equal(t, domain.SagaCompleted, rec.State)
	assert.True(t, h.alert.seen("saga_stuck"))
	assert.Positive(t, rec.RealizedPnLKRW)
}

func TestSagaShutdownDuringTransferParksStuck(t *testing.T) {
	h := newHarness(t)
	opp := testOpp(domain.DirectionForward)

	h.krw.placeOrder = func(orderCall) (domain.Fill, error) {
		return domain.Fill{OrderID: "u1", Price: 100, Quantity: 10_000, Timestamp: time.Now()}, nil
	}
	h.krw.initiate = func(asset string, amount float64, to domain.Venue) (domain.TransferHandle, error) {
		return domain.TransferHandle{ID: "t1"}, nil
	}
	h.krw.poll = func(domain.TransferHandle) (domain.TransferStatus, error) {
		return domain.TransferStatus{State: domain.TransferPending}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	buy, sell := h.reserve(t, opp)
	rec := New(opp, buy, sell, h.deps(), testConfig()).Run(ctx)

	assert.Equal(t, domain.SagaStuck, rec.State)
	assert.False(t, rec.State.Terminal())
	assert.True(t, h.alert.seen("saga_stuck"))

	// The stuck saga's record is reported but its slot is not released and
	// the sell-side hold stays visible.
	require.Len(t, h.sink.recs, 1)
	assert.Empty(t, h.risk.released)
	open, _ := h.ledger.OpenReservations(context.Background())
	require.Len(t, open, 1)
	assert.Equal(t, "USDT", open[0].Currency)
}

func TestSagaReverseHappyPath(t *testing.T) {
	h := newHarness(t)
	opp := testOpp(domain.DirectionReverse)

	// Leg 1: spend 1,000 USDT on 9,990 coins at 0.1, fee 1 USDT.
	h.usdt.placeOrder = func(c orderCall) (domain.Fill, error) {
		assert.Equal(t, domain.OrderSideBuy, c.Side)
		assert.InDelta(t, 1_000, c.Size.QuoteAmount, 1e-9)
		return domain.Fill{OrderID: "b1", Price: 0.1, Quantity: 9_990, Fee: 1, FeeCurrency: "USDT", Timestamp: time.Now()}, nil
	}
	h.usdt.initiate = func(asset string, amount float64, to domain.Venue) (domain.TransferHandle, error) {
		assert.Equal(t, "XRP", asset)
		assert.Equal(t, domain.VenueKRW, to)
		return domain.TransferHandle{ID: "t1"}, nil
	}
	h.usdt.poll = confirmAfter(1, 9_985)

	h.krw.placeOrder = func(c orderCall) (domain.Fill, error) {
		switch c.Pair {
		case "KRW-XRP":
			// Leg 2: sell 9,985 coins at 101 KRW, fee 500 KRW.
			assert.Equal(t, domain.OrderSideSell, c.Side)
			return domain.Fill{OrderID: "u1", Price: 101, Quantity: c.Size.Quantity, Fee: 500, FeeCurrency: "KRW", Timestamp: time.Now()}, nil
		case "KRW-USDT":
			// Leg 3: buy back the 1,000 USDT float at 999 KRW, fee 500 KRW.
			assert.Equal(t, domain.OrderSideBuy, c.Side)
			assert.InDelta(t, 1_000, c.Size.Quantity, 1e-9)
			return domain.Fill{OrderID: "u2", Price: 999, Quantity: c.Size.Quantity, Fee: 500, FeeCurrency: "KRW", Timestamp: time.Now()}, nil
		}
		return domain.Fill{}, domain.ErrNotFound
	}

	buy, sell := h.reserve(t, opp)
	rec := New(opp, buy, sell, h.deps(), testConfig()).Run(context.Background())

	assert.Equal(t, domain.SagaCompleted, rec.State)
	// Proceeds 9,985*101-500 = 1,007,985 KRW; repurchase 999,000+500 KRW.
	assert.InDelta(t, 8_485, rec.RealizedPnLKRW, 1e-6)

	// USDT hold fully consumed; KRW hold settled for the repurchase cost.
	availUSDT, reservedUSDT, _ := h.ledger.Balance(context.Background(), domain.VenueUSDT, "USDT")
	assert.InDelta(t, 1_000, availUSDT, 1e-6)
	assert.Zero(t, reservedUSDT)
	availKRW, reservedKRW, _ := h.ledger.Balance(context.Background(), domain.VenueKRW, "KRW")
	assert.InDelta(t, 2_000_000-999_500, availKRW, 1e-6)
	assert.Zero(t, reservedKRW)
}

func TestSagaLeg2StuckRetryKeepsIdempotencyKey(t *testing.T) {
	h := newHarness(t)
	opp := testOpp(domain.DirectionForward)

	h.krw.placeOrder = func(c orderCall) (domain.Fill, error) {
		if c.Pair == "KRW-USDT" {
			return domain.Fill{OrderID: "u2", Price: 1_000, Quantity: c.Size.Quantity, Timestamp: time.Now()}, nil
		}
		return domain.Fill{OrderID: "u1", Price: 100, Quantity: 10_000, Timestamp: time.Now()}, nil
	}
	h.krw.initiate = func(asset string, amount float64, to domain.Venue) (domain.TransferHandle, error) {
		return domain.TransferHandle{ID: "t1"}, nil
	}
	h.krw.poll = confirmAfter(0, 9_995)

	// The exit sell times out through the bounded attempts and once more in
	// the slow loop before landing.
	h.usdt.placeOrder = func(c orderCall) (domain.Fill, error) {
		if c.N <= 4 {
			return domain.Fill{}, domain.ErrTransient
		}
		return domain.Fill{OrderID: "b1", Price: 0.102, Quantity: c.Size.Quantity, Timestamp: time.Now()}, nil
	}
	h.usdt.initiate = func(asset string, amount float64, to domain.Venue) (domain.TransferHandle, error) {
		return domain.TransferHandle{ID: "t2"}, nil
	}
	h.usdt.poll = confirmAfter(0, 1_019.49)

	buy, sell := h.reserve(t, opp)
	rec := New(opp, buy, sell, h.deps(), testConfig()).Run(context.Background())

	assert.Equal(t, domain.SagaCompleted, rec.State)
	assert.True(t, h.alert.seen("saga_stuck"))

	// An ambiguous timeout may already sit filled at the venue: every
	// re-submission of the leg, slow loop included, must carry the key the
	// first attempt used so the venue can dedup it.
	calls := h.usdt.calls()
	require.Len(t, calls, 5)
	for _, c := range calls[1:] {
		assert.Equal(t, calls[0].Key, c.Key)
	}
}

func TestSagaCompensationRejectedReleasesSellHold(t *testing.T) {
	h := newHarness(t)
	opp := testOpp(domain.DirectionForward)

	h.krw.placeOrder = func(c orderCall) (domain.Fill, error) {
		if c.Side == domain.OrderSideSell {
			return domain.Fill{}, domain.ErrVenueRejected
		}
		return domain.Fill{OrderID: "u1", Price: 100, Quantity: 10_000, Timestamp: time.Now()}, nil
	}
	h.krw.initiate = func(asset string, amount float64, to domain.Venue) (domain.TransferHandle, error) {
		return domain.TransferHandle{ID: "t1"}, nil
	}
	h.krw.poll = func(domain.TransferHandle) (domain.TransferStatus, error) {
		return domain.TransferStatus{State: domain.TransferFailed}, nil
	}

	buy, sell := h.reserve(t, opp)
	rec := New(opp, buy, sell, h.deps(), testConfig()).Run(context.Background())

	assert.Equal(t, domain.SagaFailed, rec.State)
	assert.True(t, h.alert.seen("saga_failed"))

	// The stranded coin is a venue balance; the settlement float hold on the
	// other venue was never touched and must come back.
	open, _ := h.ledger.OpenReservations(context.Background())
	assert.Empty(t, open)
	availUSDT, reservedUSDT, _ := h.ledger.Balance(context.Background(), domain.VenueUSDT, "USDT")
	assert.InDelta(t, 2_000, availUSDT, 1e-9)
	assert.Zero(t, reservedUSDT)
	require.Len(t, h.risk.released, 1)
}

func TestSagaLeg2RejectionParksStuck(t *testing.T) {
	h := newHarness(t)
	opp := testOpp(domain.DirectionForward)

	h.krw.placeOrder = func(orderCall) (domain.Fill, error) {
		return domain.Fill{OrderID: "u1", Price: 100, Quantity: 10_000, Timestamp: time.Now()}, nil
	}
	h.krw.initiate = func(asset string, amount float64, to domain.Venue) (domain.TransferHandle, error) {
		return domain.TransferHandle{ID: "t1"}, nil
	}
	h.krw.poll = confirmAfter(0, 9_995)

	// The coin landed on the remote venue but the exit sell is refused:
	// there is nothing left to flatten automatically.
	h.usdt.placeOrder = func(orderCall) (domain.Fill, error) {
		return domain.Fill{}, domain.ErrVenueRejected
	}

	buy, sell := h.reserve(t, opp)
	rec := New(opp, buy, sell, h.deps(), testConfig()).Run(context.Background())

	assert.Equal(t, domain.SagaStuck, rec.State)
	assert.True(t, h.alert.seen("saga_stuck"))
	assert.Empty(t, h.risk.released)
}
