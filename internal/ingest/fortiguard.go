package ingest

import (
	"errors"
	"sort"

	"threatmap/internal/config"
	"threatmap/internal/model"
	"threatmap/internal/normalize"
)

const SourceFortiGuard = "fortiguard"

var fortiGuardHeaders = map[string]string{
	"Accept":          "application/json, text/plain, */*",
	"Accept-Language": "en-US,en;q=0.5",
	"Referer":         "https://fortiguard.fortinet.com/threat-map",
}

func NewFortiGuard(cfg config.PollSourceConfig, client *Client) (*AttackPoller, error) {
	return newAttackPoller(SourceFortiGuard, cfg, client, fortiGuardHeaders, fortiGuardEvents)
}

// fortiGuardEvents accepts both payload shapes the outbreak map has served: a flat
// "attacks" list, or "ips" grouped by timestamp key.
func fortiGuardEvents(body []byte) ([]model.AttackEvent, error) {
	var payload map[string]any
	if err := decodeJSON(body, &payload); err != nil {
		return nil, err
	}
	attacks, hasAttacks := payload["attacks"].([]any)
	groups, hasGroups := payload["ips"].(map[string]any)
	if !hasAttacks && !hasGroups {
		return nil, errors.New("payload has neither attacks nor ips")
	}

	events := normalizeObjects(normalize.SchemaFortiGuard, attacks)

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		items, ok := groups[key].([]any)
		if !ok {
			continue
		}
		for _, item := range items {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if normalize.String(obj["timestamp"]) == nil {
				withTS := make(map[string]any, len(obj)+1)
				for k, v := range obj {
					withTS[k] = v
				}
				withTS["timestamp"] = key
				obj = withTS
			}
			ev, err := normalize.Normalize(normalize.SchemaFortiGuardIPS, obj)
			if err != nil {
				continue
			}
			events = append(events, ev)
		}
	}
	return events, nil
}
