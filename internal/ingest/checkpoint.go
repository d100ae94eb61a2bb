package ingest

import (
	"errors"
	"fmt"
	"log/slog"

	"threatmap/internal/config"
	"threatmap/internal/metrics"
	"threatmap/internal/model"
	"threatmap/internal/normalize"
	"threatmap/internal/tracker"
)

const SourceCheckPoint = "checkpoint"

var checkPointHeaders = map[string]string{
	"Accept":        "text/event-stream",
	"Cache-Control": "no-cache",
	"Origin":        "https://threatmap.checkpoint.com",
	"Referer":       "https://threatmap.checkpoint.com/",
}

var errEmptyRecord = errors.New("record has no recognized fields")

func NewCheckPoint(cfg config.StreamSourceConfig, client *Client, out chan<- model.Batch, stats *metrics.Store, logger *slog.Logger) (*Stream, error) {
	tr, err := tracker.New[model.AttackEvent](cfg.Tracker, nil, cfg.MaxIdentities)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", SourceCheckPoint, err)
	}
	opts := StreamOptions{
		URL:            cfg.URL,
		Headers:        checkPointHeaders,
		Event:          cfg.Event,
		ReconnectDelay: cfg.ReconnectDelay,
		FlushInterval:  cfg.FlushInterval,
		IdleTimeout:    cfg.IdleTimeout,
	}
	return NewStream(SourceCheckPoint, opts, client, decodeCheckPoint, tr, out, stats, logger), nil
}

func decodeCheckPoint(data []byte) (model.AttackEvent, error) {
	var raw map[string]any
	if err := decodeJSON(data, &raw); err != nil {
		return model.AttackEvent{}, &ParseError{Source: SourceCheckPoint, Err: err}
	}
	ev, err := normalize.Normalize(normalize.SchemaCheckPoint, raw)
	if err != nil {
		return model.AttackEvent{}, err
	}
	if ev == (model.AttackEvent{}) {
		return model.AttackEvent{}, &ParseError{Source: SourceCheckPoint, Err: errEmptyRecord}
	}
	return ev, nil
}
