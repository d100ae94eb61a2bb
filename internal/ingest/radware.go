package ingest

import (
	"threatmap/internal/config"
	"threatmap/internal/model"
	"threatmap/internal/normalize"
)

const SourceRadware = "radware"

var radwareHeaders = map[string]string{
	"Accept":          "application/json, text/plain, */*",
	"Accept-Language": "en-US,en;q=0.5",
	"Origin":          "https://livethreatmap.radware.com",
	"Referer":         "https://livethreatmap.radware.com/",
}

func NewRadware(cfg config.PollSourceConfig, client *Client) (*AttackPoller, error) {
	return newAttackPoller(SourceRadware, cfg, client, radwareHeaders, radwareEvents)
}

// radwareEvents flattens the page list; pages that are not lists are skipped.
func radwareEvents(body []byte) ([]model.AttackEvent, error) {
	var pages []any
	if err := decodeJSON(body, &pages); err != nil {
		return nil, err
	}
	var events []model.AttackEvent
	for _, page := range pages {
		items, ok := page.([]any)
		if !ok {
			continue
		}
		events = append(events, normalizeObjects(normalize.SchemaRadware, items)...)
	}
	if events == nil {
		events = []model.AttackEvent{}
	}
	return events, nil
}
