package premium

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/daehan-quant/premiumbot/internal/domain"
)

// Params are the cost and sizing inputs for premium computation. Fees are
// fractions of notional; DepthFraction caps the intended size at that share
// of the thinner book's consumable top-of-book liquidity.
type Params struct {
	QuoteMaxAge    time.Duration
	OpportunityTTL time.Duration
	MinTradeKRW    float64
	MaxTradeKRW    float64
	DepthFraction  float64
	DepthLevels    int
	Fees           map[domain.Venue]float64
	ConversionFee  float64
}

// Calculator computes the cost-adjusted price gap for one asset between the
// two venues. It is stateless apart from its inputs; concurrent Evaluate
// calls are safe.
type Calculator struct {
	gateways map[domain.Venue]domain.ExchangeGateway
	rate     RateSource
	params   Params
	logger   *slog.Logger
	now      func() time.Time
}

// NewCalculator builds a calculator over the two venue gateways.
func NewCalculator(gateways map[domain.Venue]domain.ExchangeGateway, rate RateSource, params Params, logger *slog.Logger) *Calculator {
	return &Calculator{
		gateways: gateways,
		rate:     rate,
		params:   params,
		logger:   logger.With(slog.String("component", "premium_calculator")),
		now:      time.Now,
	}
}

// Evaluate computes both directions for the asset and returns the one with
// the larger positive net edge, or nil when neither direction clears costs.
//
// A nil Opportunity with nil error means "no opportunity". Errors are hard
// stops: domain.ErrStaleQuote when either book is older than the freshness
// threshold, domain.ErrRateUnavailable when the conversion rate cannot be
// obtained, or the underlying fetch failure.
func (c *Calculator) Evaluate(ctx context.Context, asset domain.Asset) (*domain.Opportunity, error) {
	rate, err := c.rate.KRWPerUSDT(ctx)
	if err != nil {
		return nil, err
	}

	quotes := make(map[domain.Venue]domain.Quote, 2)
	now := c.now()
	for venue, gw := range c.gateways {
		pair := asset.Pair(venue)
		if pair == "" {
			return nil, fmt.Errorf("asset %s has no pair on %s: %w", asset.Symbol, venue, domain.ErrNotFound)
		}
		q, err := gw.GetQuote(ctx, pair)
		if err != nil {
			return nil, fmt.Errorf("fetching %s book on %s: %w", pair, venue, err)
		}
		if !q.Fresh(now, c.params.QuoteMaxAge) {
			return nil, fmt.Errorf("%s book on %s aged %s: %w", pair, venue, now.Sub(q.Timestamp), domain.ErrStaleQuote)
		}
		quotes[venue] = q
	}

	var best *domain.Opportunity
	for _, dir := range []domain.Direction{domain.DirectionForward, domain.DirectionReverse} {
		opp := c.evaluateDirection(asset, dir, quotes, rate, now)
		if opp == nil {
			continue
		}
		if best == nil || opp.NetEdge > best.NetEdge {
			best = opp
		}
	}
	return best, nil
}

// evaluateDirection prices one route. All comparisons happen in KRW; the
// USDT venue's prices are converted at the captured rate.
func (c *Calculator) evaluateDirection(asset domain.Asset, dir domain.Direction, quotes map[domain.Venue]domain.Quote, rate float64, now time.Time) *domain.Opportunity {
	buyVenue, sellVenue := dir.BuyVenue(), dir.SellVenue()
	buyQuote, sellQuote := quotes[buyVenue], quotes[sellVenue]

	if buyQuote.BestAsk <= 0 || sellQuote.BestBid <= 0 {
		return nil
	}

	buyBestKRW := c.toKRW(buyQuote.BestAsk, buyVenue, rate)
	sellBestKRW := c.toKRW(sellQuote.BestBid, sellVenue, rate)

	grossEdge := (sellBestKRW - buyBestKRW) / buyBestKRW
	if grossEdge <= 0 {
		return nil
	}

	// Size at a fraction of the thinner side's consumable liquidity, clamped
	// to the configured KRW bounds.
	buyDepthKRW := c.toKRW(buyQuote.AskDepth(c.params.DepthLevels), buyVenue, rate)
	sellDepthKRW := c.toKRW(sellQuote.BidDepth(c.params.DepthLevels), sellVenue, rate)
	notionalKRW := c.params.DepthFraction * min(buyDepthKRW, sellDepthKRW)
	if notionalKRW > c.params.MaxTradeKRW {
		notionalKRW = c.params.MaxTradeKRW
	}
	if notionalKRW < c.params.MinTradeKRW {
		return nil
	}

	quantity := notionalKRW / buyBestKRW
	if quantity < asset.MinQuantity {
		return nil
	}

	// Walk both books at the intended size. An unfillable book means the
	// depth moved out from under us; treat it as no opportunity.
	vwapBuy, ok := walkBook(buyQuote.Asks, quantity)
	if !ok {
		return nil
	}
	vwapSell, ok := walkBook(sellQuote.Bids, quantity)
	if !ok {
		return nil
	}
	slippage := (vwapBuy/buyQuote.BestAsk - 1) + (1 - vwapSell/sellQuote.BestBid)

	// The coin's network fee is charged in coin units by the buy venue on
	// withdrawal; express it as a fraction of the traded quantity.
	transferFeeFraction := asset.WithdrawalFee[buyVenue] / quantity

	feeFraction := c.params.Fees[buyVenue] + c.params.Fees[sellVenue] + c.params.ConversionFee + transferFeeFraction

	netEdge := grossEdge - feeFraction - slippage
	if netEdge <= 0 {
		return nil
	}

	return &domain.Opportunity{
		ID:               uuid.NewString(),
		Asset:            asset,
		Dir:              dir,
		GrossEdge:        grossEdge,
		FeeFraction:      feeFraction,
		SlippageFraction: slippage,
		NetEdge:          netEdge,
		KRWPerUSDT:       rate,
		NotionalKRW:      notionalKRW,
		BuyPrice:         vwapBuy,
		Quantity:         quantity,
		DetectedAt:       now,
		ExpiresAt:        now.Add(c.params.OpportunityTTL),
	}
}

// toKRW converts a price or notional from a venue's quote currency to KRW.
func (c *Calculator) toKRW(v float64, venue domain.Venue, rate float64) float64 {
	if venue == domain.VenueUSDT {
		return v * rate
	}
	return v
}

// walkBook consumes price levels until quantity is filled and returns the
// volume-weighted average price. ok is false when the book is too thin.
func walkBook(levels []domain.PriceLevel, quantity float64) (vwap float64, ok bool) {
	remaining := quantity
	var cost float64
	for _, lvl := range levels {
		take := lvl.Size
		if take > remaining {
			take = remaining
		}
		cost += take * lvl.Price
		remaining -= take
		if remaining <= 0 {
			return cost / quantity, true
		}
	}
	return 0, false
}
