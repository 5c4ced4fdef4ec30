package domain

import "time"

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64
	Size  float64
}

// Quote is an orderbook snapshot for one asset on one venue. Prices are in
// the venue's quote currency (KRW or USDT). A Quote always carries the time
// it was taken; consumers must reject quotes older than their freshness
// threshold rather than trade on them.
type Quote struct {
	Venue     Venue
	Symbol    string
	BestBid   float64
	BestAsk   float64
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// Fresh reports whether the quote is at most maxAge old at time now.
func (q Quote) Fresh(now time.Time, maxAge time.Duration) bool {
	return !q.Timestamp.IsZero() && now.Sub(q.Timestamp) <= maxAge
}

// AskDepth returns the total notional (price*size) consumable on the ask
// side across at most levels price levels.
func (q Quote) AskDepth(levels int) float64 {
	return depth(q.Asks, levels)
}

// BidDepth returns the total notional consumable on the bid side across at
// most levels price levels.
func (q Quote) BidDepth(levels int) float64 {
	return depth(q.Bids, levels)
}

func depth(side []PriceLevel, levels int) float64 {
	var total float64
	for i, lvl := range side {
		if i >= levels {
			break
		}
		total += lvl.Price * lvl.Size
	}
	return total
}
