package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"threatmap/internal/config"
	"threatmap/internal/model"
	"threatmap/internal/normalize"
	"threatmap/internal/tracker"
)

// AttackPoller is the shared shape of the polled attack-map sources: fetch a URL, extract
// normalized events, pass them through the source's tracker.
type AttackPoller struct {
	name    string
	url     string
	headers map[string]string
	client  *Client
	extract func(body []byte) ([]model.AttackEvent, error)
	tracker tracker.Tracker[model.AttackEvent]
}

func newAttackPoller(name string, cfg config.PollSourceConfig, client *Client, headers map[string]string, extract func([]byte) ([]model.AttackEvent, error)) (*AttackPoller, error) {
	tr, err := tracker.New[model.AttackEvent](cfg.Tracker, nil, cfg.MaxIdentities)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &AttackPoller{
		name:    name,
		url:     cfg.URL,
		headers: headers,
		client:  client,
		extract: extract,
		tracker: tr,
	}, nil
}

func (p *AttackPoller) Name() string          { return p.name }
func (p *AttackPoller) Kind() model.BatchKind { return model.KindAttacks }
func (p *AttackPoller) SeenCount() int        { return p.tracker.Len() }

func (p *AttackPoller) Fetch(ctx context.Context) ([]byte, error) {
	return p.client.Get(ctx, p.url, p.headers)
}

func (p *AttackPoller) Parse(body []byte) (model.Batch, error) {
	events, err := p.extract(body)
	if err != nil {
		return model.Batch{}, &ParseError{Source: p.name, Err: err}
	}
	out, status := p.tracker.Filter(events)
	b := NewBatch(p.name, model.KindAttacks, status)
	b.Events = out
	return b, nil
}

// decodeJSON keeps numbers as json.Number so counts and fixed-point values survive intact.
func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// normalizeObjects maps every object in items and skips anything that is not an object.
func normalizeObjects(schema normalize.Schema, items []any) []model.AttackEvent {
	out := make([]model.AttackEvent, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		ev, err := normalize.Normalize(schema, obj)
		if err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out
}
