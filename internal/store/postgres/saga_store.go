package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/daehan-quant/premiumbot/internal/domain"
)

// SagaStore implements domain.SagaRecordStore using PostgreSQL. The
// opportunity and step list are stored as JSONB alongside the flat columns
// the aggregation queries need.
type SagaStore struct {
	pool *pgxpool.Pool
}

// NewSagaStore creates a new SagaStore.
func NewSagaStore(pool *pgxpool.Pool) *SagaStore {
	return &SagaStore{pool: pool}
}

// Append implements domain.ReportSink. Re-appending the same saga ID
// overwrites the previous row, so a stuck saga's record can be superseded by
// its final one.
func (s *SagaStore) Append(ctx context.Context, rec domain.SagaRecord) error {
	opp, err := json.Marshal(rec.Opportunity)
	if err != nil {
		return fmt.Errorf("postgres: encode opportunity: %w", err)
	}
	steps, err := json.Marshal(rec.Steps)
	if err != nil {
		return fmt.Errorf("postgres: encode steps: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO saga_records (id, asset, direction, state, net_edge, notional_krw,
			realized_pnl_krw, total_fees_krw, compensation_loss_krw,
			opportunity, steps, started_at, finished_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			realized_pnl_krw = EXCLUDED.realized_pnl_krw,
			total_fees_krw = EXCLUDED.total_fees_krw,
			compensation_loss_krw = EXCLUDED.compensation_loss_krw,
			steps = EXCLUDED.steps,
			finished_at = EXCLUDED.finished_at,
			duration_ms = EXCLUDED.duration_ms`,
		rec.ID, rec.Opportunity.Asset.Symbol, string(rec.Opportunity.Dir), string(rec.State),
		rec.Opportunity.NetEdge, rec.Opportunity.NotionalKRW,
		rec.RealizedPnLKRW, rec.TotalFeesKRW, rec.CompensationLossKRW,
		opp, steps, rec.StartedAt, rec.FinishedAt, rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert saga_record %s: %w", rec.ID, err)
	}
	return nil
}

// GetByID returns one saga record.
func (s *SagaStore) GetByID(ctx context.Context, id string) (domain.SagaRecord, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, selectColumns+" FROM saga_records WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SagaRecord{}, domain.ErrNotFound
		}
		return domain.SagaRecord{}, fmt.Errorf("postgres: get saga_record %s: %w", id, err)
	}
	return rec, nil
}

// ListRecent returns the most recently finished records, newest first.
func (s *SagaStore) ListRecent(ctx context.Context, limit int) ([]domain.SagaRecord, error) {
	rows, err := s.pool.Query(ctx,
		selectColumns+" FROM saga_records ORDER BY finished_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list saga_records: %w", err)
	}
	defer rows.Close()

	var out []domain.SagaRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan saga_record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SumPnL returns cumulative realized PnL in KRW over sagas finished since
// the given time.
func (s *SagaStore) SumPnL(ctx context.Context, since time.Time) (float64, error) {
	var sum float64
	err := s.pool.QueryRow(ctx,
		"SELECT COALESCE(SUM(realized_pnl_krw), 0) FROM saga_records WHERE finished_at >= $1",
		since,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum pnl: %w", err)
	}
	return sum, nil
}

const selectColumns = `SELECT id, state, realized_pnl_krw, total_fees_krw,
	compensation_loss_krw, opportunity, steps, started_at, finished_at, duration_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (domain.SagaRecord, error) {
	var rec domain.SagaRecord
	var state string
	var opp, steps []byte
	var durationMS int64

	if err := row.Scan(&rec.ID, &state, &rec.RealizedPnLKRW, &rec.TotalFeesKRW,
		&rec.CompensationLossKRW, &opp, &steps, &rec.StartedAt, &rec.FinishedAt,
		&durationMS); err != nil {
		return domain.SagaRecord{}, err
	}
	rec.State = domain.SagaState(state)
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	if err := json.Unmarshal(opp, &rec.Opportunity); err != nil {
		return domain.SagaRecord{}, fmt.Errorf("decode opportunity: %w", err)
	}
	if err := json.Unmarshal(steps, &rec.Steps); err != nil {
		return domain.SagaRecord{}, fmt.Errorf("decode steps: %w", err)
	}
	return rec, nil
}

// Compile-time interface check.
var _ domain.SagaRecordStore = (*SagaStore)(nil)
