// Package report fans finished-saga records out to the configured sinks:
// the postgres store, the s3 archive, and the structured log.
package report

import (
	"context"
	"errors"
	"log/slog"

	"github.com/daehan-quant/premiumbot/internal/domain"
)

// Fanout appends each record to every sink. One sink's failure never stops
// the others; the joined error is returned for the caller to log.
type Fanout struct {
	sinks  []domain.ReportSink
	logger *slog.Logger
}

// NewFanout builds a fan-out over the given sinks. Nil sinks are skipped so
// callers can pass optional sinks unconditionally.
func NewFanout(logger *slog.Logger, sinks ...domain.ReportSink) *Fanout {
	kept := make([]domain.ReportSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &Fanout{
		sinks:  kept,
		logger: logger.With(slog.String("component", "report")),
	}
}

// Append implements domain.ReportSink.
func (f *Fanout) Append(ctx context.Context, rec domain.SagaRecord) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Append(ctx, rec); err != nil {
			f.logger.Warn("report sink failed",
				slog.String("saga_id", rec.ID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes a one-line summary of each record to the structured log.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With(slog.String("component", "report"))}
}

// Append implements domain.ReportSink.
func (s *LogSink) Append(_ context.Context, rec domain.SagaRecord) error {
	s.logger.Info("saga finished",
		slog.String("saga_id", rec.ID),
		slog.String("asset", rec.Opportunity.Asset.Symbol),
		slog.String("direction", string(rec.Opportunity.Dir)),
		slog.String("state", string(rec.State)),
		slog.Float64("realized_pnl_krw", rec.RealizedPnLKRW),
		slog.Float64("fees_krw", rec.TotalFeesKRW),
		slog.Float64("compensation_loss_krw", rec.CompensationLossKRW),
		slog.Duration("duration", rec.Duration),
	)
	return nil
}

// Compile-time interface checks.
var (
	_ domain.ReportSink = (*Fanout)(nil)
	_ domain.ReportSink = (*LogSink)(nil)
)
