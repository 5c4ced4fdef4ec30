package report

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daehan-quant/premiumbot/internal/domain"
)

type fakeSink struct {
	records []domain.SagaRecord
	err     error
}

func (s *fakeSink) Append(_ context.Context, rec domain.SagaRecord) error {
	s.records = append(s.records, rec)
	return s.err
}

func TestFanoutContinuesPastFailingSink(t *testing.T) {
	bad := &fakeSink{err: errors.New("db down")}
	good := &fakeSink{}
	f := NewFanout(slog.New(slog.DiscardHandler), bad, nil, good)

	rec := domain.SagaRecord{ID: "saga-1", State: domain.SagaCompleted}
	err := f.Append(context.Background(), rec)

	require.Error(t, err)
	assert.Len(t, bad.records, 1)
	assert.Len(t, good.records, 1)
}

func TestFanoutNoSinks(t *testing.T) {
	f := NewFanout(slog.New(slog.DiscardHandler))
	require.NoError(t, f.Append(context.Background(), domain.SagaRecord{ID: "saga-1"}))
}
