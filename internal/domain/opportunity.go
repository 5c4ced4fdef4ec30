package domain

import "time"

// Opportunity is a detected, cost-adjusted price gap worth trading. It is
// immutable once created and consumed by at most one saga; the engine drops
// a second opportunity for an asset that already has an active saga.
type Opportunity struct {
	ID     string
	Asset  Asset
	Dir    Direction

	// GrossEdge is the raw fractional price gap between the venues before
	// costs, in the common (KRW) pricing.
	GrossEdge float64

	// FeeFraction is the sum of both venues' trading fees, the coin's
	// transfer fee expressed as a fraction of notional, and the settlement
	// conversion trade's fee.
	FeeFraction float64

	// SlippageFraction is the estimated execution degradation from walking
	// both books at the intended size.
	SlippageFraction float64

	// NetEdge = GrossEdge - FeeFraction - SlippageFraction. Always > 0 for
	// a returned Opportunity.
	NetEdge float64

	// KRWPerUSDT is the settlement conversion rate the edge was computed
	// with, taken from the reference pair's live price.
	KRWPerUSDT float64

	// NotionalKRW is the intended trade size in KRW.
	NotionalKRW float64

	// BuyPrice is the effective (depth-walked) entry price on the buy venue
	// in its own quote currency; Quantity is the coin amount it buys.
	BuyPrice float64
	Quantity float64

	DetectedAt time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the opportunity's validity window has passed.
func (o Opportunity) Expired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && now.After(o.ExpiresAt)
}

// NotionalUSDT converts the intended size to USDT at the captured rate.
func (o Opportunity) NotionalUSDT() float64 {
	if o.KRWPerUSDT <= 0 {
		return 0
	}
	return o.NotionalKRW / o.KRWPerUSDT
}
