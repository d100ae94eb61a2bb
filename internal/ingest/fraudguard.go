package ingest

import (
	"errors"
	"regexp"

	"threatmap/internal/config"
	"threatmap/internal/model"
	"threatmap/internal/normalize"
)

const SourceFraudGuard = "fraudguard"

// The landing page embeds its map data as a JS literal.
var threatDataRe = regexp.MustCompile(`(?s)const threatData = (\[.*?\]);`)

var fraudGuardHeaders = map[string]string{
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.5",
}

func NewFraudGuard(cfg config.PollSourceConfig, client *Client) (*AttackPoller, error) {
	return newAttackPoller(SourceFraudGuard, cfg, client, fraudGuardHeaders, fraudGuardEvents)
}

func fraudGuardEvents(body []byte) ([]model.AttackEvent, error) {
	m := threatDataRe.FindSubmatch(body)
	if m == nil {
		return nil, errors.New("threatData not found in page")
	}
	var items []any
	if err := decodeJSON(m[1], &items); err != nil {
		return nil, err
	}
	return normalizeObjects(normalize.SchemaFraudGuard, items), nil
}
