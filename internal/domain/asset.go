// Package domain defines the core types and interfaces of the premium
// arbitrage engine: assets, quotes, opportunities, the saga lifecycle, the
// balance ledger, and the contracts implemented by the infrastructure layers.
package domain

import "time"

// Venue identifies one of the two trading venues. VenueKRW is the
// KRW-quoted venue; VenueUSDT is the USDT-quoted venue.
type Venue string

const (
	VenueKRW  Venue = "upbit"
	VenueUSDT Venue = "binance"
)

// Direction is the route a cross-venue trade takes.
//
// Forward buys on the KRW venue, moves the coin to the USDT venue, sells it
// there, and brings the proceeds home as USDT. Reverse mirrors it: buy on the
// USDT venue, sell on the KRW venue, convert and return the settlement
// currency.
type Direction string

const (
	DirectionForward Direction = "forward"
	DirectionReverse Direction = "reverse"
)

// BuyVenue returns the venue the first leg buys on.
func (d Direction) BuyVenue() Venue {
	if d == DirectionForward {
		return VenueKRW
	}
	return VenueUSDT
}

// SellVenue returns the venue the coin is sold on.
func (d Direction) SellVenue() Venue {
	if d == DirectionForward {
		return VenueUSDT
	}
	return VenueKRW
}

// Asset describes one coin tradable on both venues.
type Asset struct {
	// Symbol is the bare coin symbol, e.g. "BTC".
	Symbol string

	// Pairs maps each venue to its trading-pair notation for this coin,
	// e.g. VenueKRW -> "KRW-BTC", VenueUSDT -> "BTCUSDT".
	Pairs map[Venue]string

	// MinQuantity is the smallest tradable amount in coin units.
	MinQuantity float64

	// WithdrawalFee is the flat per-transfer network fee each venue charges,
	// in coin units.
	WithdrawalFee map[Venue]float64

	// ConfirmEstimate is the typical time for a transfer of this coin to be
	// credited on the destination venue.
	ConfirmEstimate time.Duration
}

// Pair returns the trading-pair symbol for v, or "" when unknown.
func (a Asset) Pair(v Venue) string {
	return a.Pairs[v]
}
