package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"threatmap/internal/model"
)

// Send blocks until the batch is accepted or ctx ends, so a slow consumer throttles producers.
func Send(ctx context.Context, out chan<- model.Batch, b model.Batch) bool {
	select {
	case out <- b:
		return true
	case <-ctx.Done():
		return false
	}
}

// SendNonBlocking drops the batch when the receiver is full. Live subscribers use it so a
// lagging reader never holds up the pipeline.
func SendNonBlocking(ctx context.Context, out chan<- model.Batch, b model.Batch, logger *slog.Logger) bool {
	select {
	case out <- b:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("batch channel full, dropping batch", "source", b.Source, "count", b.Len())
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func NewBatch(source string, kind model.BatchKind, status model.BatchStatus) model.Batch {
	return model.Batch{
		ID:        uuid.NewString(),
		Source:    source,
		Kind:      kind,
		Status:    status,
		FetchedAt: time.Now().UTC(),
	}
}

func failedBatch(source string, kind model.BatchKind, err error) model.Batch {
	b := NewBatch(source, kind, model.StatusFailed)
	if err != nil {
		b.Error = err.Error()
	}
	return b
}
