package s3blob

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/daehan-quant/premiumbot/internal/domain"
)

// Archiver implements domain.ReportSink by writing each finished saga as one
// JSON object under sagas/{date}/{id}.json. Records are immutable once a
// saga is terminal; a stuck saga's interim record is simply overwritten by
// its final upload.
type Archiver struct {
	writer domain.BlobWriter
}

// NewArchiver creates a new Archiver over the given blob writer.
func NewArchiver(writer domain.BlobWriter) *Archiver {
	return &Archiver{writer: writer}
}

// Append implements domain.ReportSink.
func (a *Archiver) Append(ctx context.Context, rec domain.SagaRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("s3blob: encode saga record %s: %w", rec.ID, err)
	}

	key := fmt.Sprintf("sagas/%s/%s.json", rec.FinishedAt.UTC().Format("2006-01-02"), rec.ID)
	if err := a.writer.Write(ctx, key, data, "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive saga record %s: %w", rec.ID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ReportSink = (*Archiver)(nil)
