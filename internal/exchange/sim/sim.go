// Package sim provides the simulated exchange gateways used by paper-trading
// runs and tests. A sim gateway executes orders against an orderbook (live,
// via an optional quote source, or scripted) and mirrors the money movement
// in a shared virtual ledger.
//
// Balance ownership contract: a buy credits only the purchased base asset;
// the quote-currency spend is settled against the saga's reservation by the
// saga itself. A sell debits the base asset and credits the quote proceeds
// net of fee. Transfers withdraw at the origin and credit the destination
// after the configured latency, minus the withdrawal fee.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/daehan-quant/premiumbot/internal/domain"
	"github.com/daehan-quant/premiumbot/internal/ledger"
)

// QuoteSource supplies live orderbooks to a sim gateway, letting paper runs
// price against real markets while executing virtually. A real venue
// adapter's public (unauthenticated) surface satisfies it.
type QuoteSource interface {
	GetQuote(ctx context.Context, pair string) (domain.Quote, error)
}

// Config tunes one simulated venue.
type Config struct {
	// Fee is the taker fee fraction applied to every fill.
	Fee float64

	// TransferLatency is how long a withdrawal takes to be credited at the
	// destination venue.
	TransferLatency time.Duration

	// WithdrawalFees maps asset symbol to the flat network fee deducted
	// from every outgoing transfer, in asset units.
	WithdrawalFees map[string]float64
}

// Gateway is one simulated venue. Both venues' gateways share a single
// virtual ledger so a transfer leaving one shows up on the other.
type Gateway struct {
	venue  domain.Venue
	ledger *ledger.Virtual
	quotes QuoteSource
	cfg    Config
	logger *slog.Logger

	now func() time.Time

	mu        sync.Mutex
	books     map[string]domain.Quote
	fills     map[string]domain.Fill
	transfers map[string]simTransfer
	orderErrs []error
	xferErrs  []error
}

type simTransfer struct {
	handle   domain.TransferHandle
	credited float64
	doneAt   time.Time
	failed   bool
}

// New builds a simulated gateway for venue, executing against v. quotes may
// be nil, in which case orderbooks must be scripted with SetQuote.
func New(venue domain.Venue, v *ledger.Virtual, quotes QuoteSource, cfg Config, logger *slog.Logger) *Gateway {
	return &Gateway{
		venue:  venue,
		ledger: v,
		quotes: quotes,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "sim"), slog.String("venue", string(venue))),
		now:    time.Now,
		books:  make(map[string]domain.Quote),
		fills:  make(map[string]domain.Fill),

		transfers: make(map[string]simTransfer),
	}
}

// Venue implements domain.ExchangeGateway.
func (g *Gateway) Venue() domain.Venue { return g.venue }

// SetQuote scripts the orderbook for a pair. The quote's venue and timestamp
// are stamped on read so scripted books never go stale.
func (g *Gateway) SetQuote(pair string, q domain.Quote) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.books[pair] = q
}

// FailNextOrder queues an error for the next order placement.
func (g *Gateway) FailNextOrder(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orderErrs = append(g.orderErrs, err)
}

// FailNextTransfer queues an error for the next transfer initiation.
func (g *Gateway) FailNextTransfer(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.xferErrs = append(g.xferErrs, err)
}

// FailTransfer marks an in-flight transfer as failed at the venue.
func (g *Gateway) FailTransfer(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if tr, ok := g.transfers[id]; ok {
		tr.failed = true
		g.transfers[id] = tr
	}
}

// GetQuote implements domain.ExchangeGateway.
func (g *Gateway) GetQuote(ctx context.Context, pair string) (domain.Quote, error) {
	if g.quotes != nil {
		return g.quotes.GetQuote(ctx, pair)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	q, ok := g.books[pair]
	if !ok {
		return domain.Quote{}, fmt.Errorf("%w: no book for %s", domain.ErrNotFound, pair)
	}
	q.Venue = g.venue
	q.Symbol = pair
	q.Timestamp = g.now()
	return q, nil
}

// GetBalance implements domain.ExchangeGateway by reading the shared
// virtual ledger's available funds.
func (g *Gateway) GetBalance(ctx context.Context, currency string) (float64, error) {
	avail, _, err := g.ledger.Balance(ctx, g.venue, currency)
	return avail, err
}

// PlaceMarketOrder implements domain.ExchangeGateway. A repeated idempotency
// key returns the original fill without executing again.
func (g *Gateway) PlaceMarketOrder(ctx context.Context, pair string, side domain.OrderSide, size domain.OrderSize, idempotencyKey string) (domain.Fill, error) {
	book, err := g.GetQuote(ctx, pair)
	if err != nil {
		return domain.Fill{}, err
	}

	g.mu.Lock()
	if idempotencyKey != "" {
		if fill, ok := g.fills[idempotencyKey]; ok {
			g.mu.Unlock()
			return fill, nil
		}
	}
	if len(g.orderErrs) > 0 {
		err := g.orderErrs[0]
		g.orderErrs = g.orderErrs[1:]
		g.mu.Unlock()
		return domain.Fill{}, err
	}
	g.mu.Unlock()

	var fill domain.Fill
	switch side {
	case domain.OrderSideBuy:
		fill, err = g.executeBuy(ctx, book, size)
	case domain.OrderSideSell:
		fill, err = g.executeSell(ctx, book, size)
	default:
		return domain.Fill{}, fmt.Errorf("%w: unknown order side %q", domain.ErrVenueRejected, side)
	}
	if err != nil {
		return domain.Fill{}, err
	}

	fill.OrderID = uuid.NewString()
	fill.Timestamp = g.now()
	if idempotencyKey != "" {
		g.mu.Lock()
		g.fills[idempotencyKey] = fill
		g.mu.Unlock()
	}

	g.logger.Debug("simulated fill",
		slog.String("pair", pair),
		slog.String("side", string(side)),
		slog.Float64("price", fill.Price),
		slog.Float64("quantity", fill.Quantity),
		slog.Float64("fee", fill.Fee),
	)
	return fill, nil
}

// executeBuy walks the ask side. Cost-based buys (QuoteAmount) spend fee
// out of the budget; quantity buys charge the fee on top. Only the bought
// base asset is credited; the spend is settled by the saga's reservation.
func (g *Gateway) executeBuy(ctx context.Context, book domain.Quote, size domain.OrderSize) (domain.Fill, error) {
	var qty, cost float64
	switch {
	case size.QuoteAmount > 0:
		budget := size.QuoteAmount / (1 + g.cfg.Fee)
		var ok bool
		qty, cost, ok = walkAsksBySpend(book.Asks, budget)
		if !ok {
			return domain.Fill{}, fmt.Errorf("%w: ask depth too thin for %.2f", domain.ErrVenueRejected, size.QuoteAmount)
		}
	case size.Quantity > 0:
		var ok bool
		cost, ok = walkByQuantity(book.Asks, size.Quantity)
		if !ok {
			return domain.Fill{}, fmt.Errorf("%w: ask depth too thin for qty %.8f", domain.ErrVenueRejected, size.Quantity)
		}
		qty = size.Quantity
	default:
		return domain.Fill{}, fmt.Errorf("%w: empty order size", domain.ErrVenueRejected)
	}

	base := baseAsset(book.Symbol, g.venue)
	if err := g.ledger.Credit(ctx, g.venue, base, qty); err != nil {
		return domain.Fill{}, err
	}
	return domain.Fill{
		Price:       cost / qty,
		Quantity:    qty,
		Fee:         cost * g.cfg.Fee,
		FeeCurrency: quoteCurrency(g.venue),
	}, nil
}

// executeSell walks the bid side, debits the sold base asset, and credits
// the proceeds net of fee.
func (g *Gateway) executeSell(ctx context.Context, book domain.Quote, size domain.OrderSize) (domain.Fill, error) {
	if size.Quantity <= 0 {
		return domain.Fill{}, fmt.Errorf("%w: sells are quantity-sized", domain.ErrVenueRejected)
	}
	proceeds, ok := walkByQuantity(book.Bids, size.Quantity)
	if !ok {
		return domain.Fill{}, fmt.Errorf("%w: bid depth too thin for qty %.8f", domain.ErrVenueRejected, size.Quantity)
	}

	base := baseAsset(book.Symbol, g.venue)
	if err := g.ledger.Withdraw(ctx, g.venue, base, size.Quantity); err != nil {
		return domain.Fill{}, fmt.Errorf("%w: %v", domain.ErrVenueRejected, err)
	}
	fee := proceeds * g.cfg.Fee
	if err := g.ledger.Credit(ctx, g.venue, quoteCurrency(g.venue), proceeds-fee); err != nil {
		return domain.Fill{}, err
	}
	return domain.Fill{
		Price:       proceeds / size.Quantity,
		Quantity:    size.Quantity,
		Fee:         fee,
		FeeCurrency: quoteCurrency(g.venue),
	}, nil
}

// InitiateTransfer implements domain.ExchangeGateway. The full amount leaves
// the origin immediately; the destination is credited net of the withdrawal
// fee once the latency elapses.
func (g *Gateway) InitiateTransfer(ctx context.Context, asset string, amount float64, to domain.Venue) (domain.TransferHandle, error) {
	g.mu.Lock()
	if len(g.xferErrs) > 0 {
		err := g.xferErrs[0]
		g.xferErrs = g.xferErrs[1:]
		g.mu.Unlock()
		return domain.TransferHandle{}, err
	}
	g.mu.Unlock()

	fee := g.cfg.WithdrawalFees[asset]
	if amount <= fee {
		return domain.TransferHandle{}, fmt.Errorf("%w: transfer %.8f %s below withdrawal fee %.8f", domain.ErrVenueRejected, amount, asset, fee)
	}
	if err := g.ledger.Withdraw(ctx, g.venue, asset, amount); err != nil {
		return domain.TransferHandle{}, fmt.Errorf("%w: %v", domain.ErrVenueRejected, err)
	}

	now := g.now()
	h := domain.TransferHandle{
		ID:          uuid.NewString(),
		Asset:       asset,
		Amount:      amount,
		From:        g.venue,
		To:          to,
		InitiatedAt: now,
	}
	credited := amount - fee
	g.mu.Lock()
	g.transfers[h.ID] = simTransfer{
		handle:   h,
		credited: credited,
		doneAt:   now.Add(g.cfg.TransferLatency),
	}
	g.mu.Unlock()
	g.ledger.CreditAfter(to, asset, credited, g.cfg.TransferLatency)

	g.logger.Debug("simulated transfer initiated",
		slog.String("asset", asset),
		slog.Float64("amount", amount),
		slog.String("to", string(to)),
	)
	return h, nil
}

// PollTransfer implements domain.ExchangeGateway.
func (g *Gateway) PollTransfer(_ context.Context, h domain.TransferHandle) (domain.TransferStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	tr, ok := g.transfers[h.ID]
	if !ok {
		return domain.TransferStatus{}, fmt.Errorf("%w: transfer %s", domain.ErrNotFound, h.ID)
	}
	switch {
	case tr.failed:
		return domain.TransferStatus{State: domain.TransferFailed}, nil
	case g.now().Before(tr.doneAt):
		return domain.TransferStatus{State: domain.TransferPending}, nil
	default:
		return domain.TransferStatus{State: domain.TransferConfirmed, CreditedAmount: tr.credited}, nil
	}
}

// walkAsksBySpend consumes ask levels until spend is exhausted, returning
// the quantity bought and the exact cost.
func walkAsksBySpend(asks []domain.PriceLevel, spend float64) (qty, cost float64, ok bool) {
	remaining := spend
	for _, lvl := range asks {
		if remaining <= 0 {
			break
		}
		levelCost := lvl.Price * lvl.Size
		if levelCost >= remaining {
			qty += remaining / lvl.Price
			cost += remaining
			remaining = 0
			break
		}
		qty += lvl.Size
		cost += levelCost
		remaining -= levelCost
	}
	if remaining > 1e-9 || qty <= 0 {
		return 0, 0, false
	}
	return qty, cost, true
}

// walkByQuantity consumes levels until quantity is filled, returning the
// total notional.
func walkByQuantity(side []domain.PriceLevel, quantity float64) (notional float64, ok bool) {
	remaining := quantity
	for _, lvl := range side {
		if remaining <= 0 {
			break
		}
		take := lvl.Size
		if take > remaining {
			take = remaining
		}
		notional += take * lvl.Price
		remaining -= take
	}
	if remaining > 1e-9 {
		return 0, false
	}
	return notional, true
}

func quoteCurrency(v domain.Venue) string {
	if v == domain.VenueKRW {
		return "KRW"
	}
	return "USDT"
}

// baseAsset extracts the coin symbol from a pair in the venue's notation:
// "KRW-BTC" on the KRW venue, "BTCUSDT" on the USDT venue.
func baseAsset(pair string, v domain.Venue) string {
	if v == domain.VenueKRW {
		if len(pair) > 4 && pair[:4] == "KRW-" {
			return pair[4:]
		}
		return pair
	}
	if len(pair) > 4 && pair[len(pair)-4:] == "USDT" {
		return pair[:len(pair)-4]
	}
	return pair
}
