package ingest

import (
	"errors"

	"threatmap/internal/config"
	"threatmap/internal/model"
	"threatmap/internal/normalize"
)

const SourceTalos = "talos"

var talosHeaders = map[string]string{
	"Accept":  "application/json, text/javascript, */*; q=0.01",
	"Referer": "https://talosintelligence.com/reputation_center",
}

func NewTalos(cfg config.PollSourceConfig, client *Client) (*AttackPoller, error) {
	return newAttackPoller(SourceTalos, cfg, client, talosHeaders, talosEvents)
}

// talosEvents leaves Timestamp missing: stamping fetch time would make every batch differ.
func talosEvents(body []byte) ([]model.AttackEvent, error) {
	var payload map[string]any
	if err := decodeJSON(body, &payload); err != nil {
		return nil, err
	}
	spam, ok := payload["spam"].([]any)
	if !ok {
		return nil, errors.New("payload has no spam list")
	}
	return normalizeObjects(normalize.SchemaTalos, spam), nil
}
