// Package premium computes cost-adjusted cross-venue price gaps and the
// settlement conversion rate they are priced with.
package premium

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/daehan-quant/premiumbot/internal/domain"
)

// RateSource provides the live KRW-per-USDT settlement conversion rate.
type RateSource interface {
	KRWPerUSDT(ctx context.Context) (float64, error)
}

// ReferenceRate fetches the conversion rate from the KRW venue's reference
// pair (KRW-USDT) and caches it. A fresh fetch happens at most once per TTL;
// when the venue is unreachable the last known rate is served for up to
// staleMax past its fetch time, after which the rate is reported unavailable.
type ReferenceRate struct {
	gw       domain.ExchangeGateway
	pair     string
	ttl      time.Duration
	staleMax time.Duration
	logger   *slog.Logger

	now func() time.Time

	mu        sync.Mutex
	last      float64
	fetchedAt time.Time
}

// NewReferenceRate builds a rate source backed by the given KRW-venue
// gateway.
func NewReferenceRate(gw domain.ExchangeGateway, pair string, ttl, staleMax time.Duration, logger *slog.Logger) *ReferenceRate {
	return &ReferenceRate{
		gw:       gw,
		pair:     pair,
		ttl:      ttl,
		staleMax: staleMax,
		logger:   logger.With(slog.String("component", "reference_rate")),
		now:      time.Now,
	}
}

// KRWPerUSDT returns the conversion rate. It returns an error wrapping
// domain.ErrRateUnavailable when no sufficiently recent rate exists; callers
// must treat that as a hard stop, never as a zero rate.
func (r *ReferenceRate) KRWPerUSDT(ctx context.Context) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if r.last > 0 && now.Sub(r.fetchedAt) <= r.ttl {
		return r.last, nil
	}

	q, err := r.gw.GetQuote(ctx, r.pair)
	if err == nil && q.BestBid > 0 && q.BestAsk > 0 {
		r.last = (q.BestBid + q.BestAsk) / 2
		r.fetchedAt = now
		return r.last, nil
	}
	if err == nil {
		err = fmt.Errorf("reference pair %s returned empty book", r.pair)
	}

	// Fetch failed. Serve the stale rate inside the grace window.
	if r.last > 0 && now.Sub(r.fetchedAt) <= r.staleMax {
		r.logger.Warn("serving stale conversion rate",
			slog.Float64("rate", r.last),
			slog.Duration("age", now.Sub(r.fetchedAt)),
			slog.String("error", err.Error()),
		)
		return r.last, nil
	}

	return 0, fmt.Errorf("%w: %v", domain.ErrRateUnavailable, err)
}
