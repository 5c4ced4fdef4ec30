package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/daehan-quant/premiumbot/internal/domain"
)

// snapshotKey holds the persisted virtual-ledger state between paper runs.
// It carries no TTL: a paper ledger survives restarts indefinitely.
const snapshotKey = "ledger:snapshot"

// SnapshotStore implements domain.SnapshotStore using one JSON-encoded Redis
// key.
type SnapshotStore struct {
	rdb *redis.Client
}

// NewSnapshotStore creates a SnapshotStore backed by the given Client.
func NewSnapshotStore(c *Client) *SnapshotStore {
	return &SnapshotStore{rdb: c.Underlying()}
}

// Save overwrites the persisted snapshot.
func (s *SnapshotStore) Save(ctx context.Context, snap domain.LedgerSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: encode snapshot: %w", err)
	}
	if err := s.rdb.Set(ctx, snapshotKey, data, 0).Err(); err != nil {
		return fmt.Errorf("redis: save snapshot: %w", err)
	}
	return nil
}

// Load returns the persisted snapshot, or domain.ErrNotFound when none has
// been saved yet.
func (s *SnapshotStore) Load(ctx context.Context) (domain.LedgerSnapshot, error) {
	data, err := s.rdb.Get(ctx, snapshotKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.LedgerSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.LedgerSnapshot{}, fmt.Errorf("redis: load snapshot: %w", err)
	}

	var snap domain.LedgerSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.LedgerSnapshot{}, fmt.Errorf("redis: decode snapshot: %w", err)
	}
	return snap, nil
}

// Compile-time interface check.
var _ domain.SnapshotStore = (*SnapshotStore)(nil)
