// Package sink delivers pipeline batches to their destinations.
package sink

import (
	"context"
	"log/slog"

	"threatmap/internal/events"
	"threatmap/internal/model"
)

// Log writes a one-line summary of every batch.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Name() string { return "log" }

func (l *Log) Push(_ context.Context, b model.Batch) error {
	if l.logger == nil {
		return nil
	}
	attrs := []any{"source", b.Source, "kind", b.Kind, "status", b.Status, "count", b.Len(), "batch_id", b.ID}
	switch b.Status {
	case model.StatusFailed:
		l.logger.Warn("batch failed", append(attrs, "err", b.Error)...)
	case model.StatusUnchanged:
		if b.Error != "" {
			attrs = append(attrs, "err", b.Error)
		}
		l.logger.Debug("batch unchanged", attrs...)
	default:
		l.logger.Info("batch received", attrs...)
	}
	return nil
}

// Recent records batches into the in-memory store served by the API.
type Recent struct {
	store *events.Store
}

func NewRecent(store *events.Store) *Recent {
	return &Recent{store: store}
}

func (r *Recent) Name() string { return "recent" }

func (r *Recent) Push(_ context.Context, b model.Batch) error {
	if r.store != nil {
		r.store.Ingest(b)
	}
	return nil
}
