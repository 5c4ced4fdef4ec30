package domain

import (
	"context"
	"time"
)

// OrderSide is the direction of a market order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderSize specifies a market order's size in exactly one of two ways:
// Quantity (coin units, used for sells and quantity-buys) or QuoteAmount
// (spend this much of the quote currency, used for cost-based market buys).
type OrderSize struct {
	Quantity    float64
	QuoteAmount float64
}

// Fill is the realized result of a market order. Price and Quantity are what
// the venue actually executed; callers must never assume the requested size
// was exactly filled.
type Fill struct {
	OrderID     string
	Price       float64
	Quantity    float64
	Fee         float64
	FeeCurrency string
	Timestamp   time.Time
}

// Notional returns the quote-currency value of the fill before fees.
func (f Fill) Notional() float64 { return f.Price * f.Quantity }

// TransferHandle identifies an initiated cross-venue transfer. Once returned
// by InitiateTransfer the withdrawal may be irreversibly in flight; the
// handle must be polled, never re-initiated.
type TransferHandle struct {
	ID          string
	Asset       string
	Amount      float64
	From        Venue
	To          Venue
	InitiatedAt time.Time
}

// TransferState is the venue-observed progress of a transfer.
type TransferState string

const (
	TransferPending   TransferState = "pending"
	TransferConfirmed TransferState = "confirmed"
	TransferFailed    TransferState = "failed"
)

// TransferStatus is one poll result. CreditedAmount is only meaningful when
// State is TransferConfirmed and is the amount actually credited at the
// destination, net of network fees.
type TransferStatus struct {
	State          TransferState
	CreditedAmount float64
}

// ExchangeGateway normalizes the operations the engine needs from a venue:
// quotes, balances, market orders, and asset transfers. Two real adapters
// and two simulated variants implement it; the implementation is selected
// once at wire time and never branched on by type elsewhere.
//
// Errors follow the sentinel taxonomy in errors.go: ErrTransient and
// ErrRateLimited are retryable request failures, ErrVenueRejected is a
// confirmed refusal, ErrNotFound means the pair/currency is unknown.
type ExchangeGateway interface {
	// Venue returns which venue this gateway fronts.
	Venue() Venue

	// GetQuote returns the current orderbook snapshot for a trading pair.
	GetQuote(ctx context.Context, pair string) (Quote, error)

	// GetBalance returns the available balance of a currency.
	GetBalance(ctx context.Context, currency string) (float64, error)

	// PlaceMarketOrder submits a market order and waits for the venue to
	// report the fill. idempotencyKey is passed to venues that support
	// client order IDs so a retried request cannot execute twice.
	PlaceMarketOrder(ctx context.Context, pair string, side OrderSide, size OrderSize, idempotencyKey string) (Fill, error)

	// InitiateTransfer starts a withdrawal of asset toward the destination
	// venue and returns a handle for polling.
	InitiateTransfer(ctx context.Context, asset string, amount float64, to Venue) (TransferHandle, error)

	// PollTransfer reports the current state of a transfer.
	PollTransfer(ctx context.Context, h TransferHandle) (TransferStatus, error)
}
