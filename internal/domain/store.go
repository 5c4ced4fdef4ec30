package domain

import (
	"context"
	"time"
)

// ReportSink receives completed-saga records. The contract is fire-and-forget
// append: a sink failure is logged by the caller but never fails a saga.
type ReportSink interface {
	Append(ctx context.Context, rec SagaRecord) error
}

// SagaRecordStore persists saga records durably for later aggregation.
type SagaRecordStore interface {
	ReportSink
	GetByID(ctx context.Context, id string) (SagaRecord, error)
	ListRecent(ctx context.Context, limit int) ([]SagaRecord, error)
	// SumPnL returns cumulative realized PnL in KRW since the given time.
	SumPnL(ctx context.Context, since time.Time) (float64, error)
}

// QuoteCache holds the most recent quote per venue and pair for consumers
// outside the trading path (monitoring, health checks).
type QuoteCache interface {
	SetQuote(ctx context.Context, q Quote) error
	GetQuote(ctx context.Context, venue Venue, pair string) (Quote, error)
}

// LockManager provides mutual exclusion across processes, used to keep two
// paper-trading runs from sharing one persisted ledger.
type LockManager interface {
	// Acquire returns ErrLockHeld when another holder owns the lock.
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// BlobWriter writes an object to blob storage under a key.
type BlobWriter interface {
	Write(ctx context.Context, key string, data []byte, contentType string) error
}
