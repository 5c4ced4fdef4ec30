// Package registry holds the per-asset trading metadata: pair symbols,
// minimum sizes, and transfer fees. The table is mostly static; a refresh
// source may update it on a slow cadence, and readers always get an
// immutable snapshot.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/daehan-quant/premiumbot/internal/config"
	"github.com/daehan-quant/premiumbot/internal/domain"
)

// Source supplies refreshed asset metadata, typically from venue APIs.
type Source interface {
	FetchAssets(ctx context.Context) ([]domain.Asset, error)
}

// Registry is a read-mostly asset table.
type Registry struct {
	source   Source
	interval time.Duration
	logger   *slog.Logger

	mu     sync.RWMutex
	assets []domain.Asset
}

// New builds a registry seeded with the given assets. source may be nil for
// a fully static table.
func New(assets []domain.Asset, source Source, interval time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		source:   source,
		interval: interval,
		logger:   logger.With(slog.String("component", "asset_registry")),
		assets:   assets,
	}
}

// BuildAssets converts configured assets into domain assets, deriving each
// venue's pair notation from the symbol.
func BuildAssets(cfgs []config.AssetConfig) []domain.Asset {
	out := make([]domain.Asset, 0, len(cfgs))
	for _, c := range cfgs {
		out = append(out, domain.Asset{
			Symbol: c.Symbol,
			Pairs: map[domain.Venue]string{
				domain.VenueKRW:  "KRW-" + c.Symbol,
				domain.VenueUSDT: c.Symbol + "USDT",
			},
			MinQuantity: c.MinQuantity,
			WithdrawalFee: map[domain.Venue]float64{
				domain.VenueKRW:  c.WithdrawalFeeUpbit,
				domain.VenueUSDT: c.WithdrawalFeeBin,
			},
			ConfirmEstimate: time.Duration(c.ConfirmMinutes) * time.Minute,
		})
	}
	return out
}

// Run refreshes the table from the source until ctx is cancelled. With no
// source it returns immediately.
func (r *Registry) Run(ctx context.Context) error {
	if r.source == nil {
		return nil
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.refresh(ctx); err != nil {
				// A failed refresh keeps the previous snapshot; the table
				// degrades to static rather than empty.
				r.logger.Warn("asset refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Registry) refresh(ctx context.Context) error {
	fetched, err := r.source.FetchAssets(ctx)
	if err != nil {
		return err
	}
	if len(fetched) == 0 {
		return fmt.Errorf("source returned no assets")
	}

	r.mu.Lock()
	r.assets = fetched
	r.mu.Unlock()
	r.logger.Info("asset registry refreshed", slog.Int("assets", len(fetched)))
	return nil
}

// Assets returns a snapshot of the current table.
func (r *Registry) Assets() []domain.Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Asset, len(r.assets))
	copy(out, r.assets)
	return out
}

// Lookup returns the asset with the given symbol.
func (r *Registry) Lookup(symbol string) (domain.Asset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.assets {
		if a.Symbol == symbol {
			return a, true
		}
	}
	return domain.Asset{}, false
}
