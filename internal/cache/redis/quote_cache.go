package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/daehan-quant/premiumbot/internal/domain"
)

// quoteTTL expires cached quotes well after any consumer would still accept
// them, keeping dead pairs from accumulating.
const quoteTTL = 5 * time.Minute

// QuoteCache implements domain.QuoteCache using Redis strings. Each quote is
// stored JSON-encoded at key "quote:{venue}:{pair}".
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(venue domain.Venue, pair string) string {
	return "quote:" + string(venue) + ":" + pair
}

// SetQuote stores the latest quote for its venue and pair.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.Quote) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("redis: encode quote %s: %w", q.Symbol, err)
	}
	if err := qc.rdb.Set(ctx, quoteKey(q.Venue, q.Symbol), data, quoteTTL).Err(); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.Symbol, err)
	}
	return nil
}

// GetQuote retrieves the latest quote for a venue and pair. It returns
// domain.ErrNotFound when no quote is cached.
func (qc *QuoteCache) GetQuote(ctx context.Context, venue domain.Venue, pair string) (domain.Quote, error) {
	data, err := qc.rdb.Get(ctx, quoteKey(venue, pair)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Quote{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", pair, err)
	}

	var q domain.Quote
	if err := json.Unmarshal(data, &q); err != nil {
		return domain.Quote{}, fmt.Errorf("redis: decode quote %s: %w", pair, err)
	}
	return q, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
