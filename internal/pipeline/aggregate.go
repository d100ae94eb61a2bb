package pipeline

import "threatmap/internal/model"

type attackKey struct {
	name, src, dst string
}

type routeKey struct {
	src, dst string
}

// Aggregate reduces raw attack events to one summary per (source, destination) country pair.
// Events missing either country code are dropped, and only the first event per
// (attack name, source, destination) counts. A missing or zero attack count counts as one.
// Rows keep the order in which their route first appeared.
func Aggregate(events []model.AttackEvent) []model.ThreatSummary {
	unique := make(map[attackKey]struct{}, len(events))
	index := make(map[routeKey]int)
	types := make([]map[string]struct{}, 0)
	out := make([]model.ThreatSummary, 0)

	for _, ev := range events {
		src, dst := deref(ev.SourceCountryCode), deref(ev.DestinationCountryCode)
		if src == "" || dst == "" {
			continue
		}
		ak := attackKey{name: deref(ev.AttackName), src: src, dst: dst}
		if _, dup := unique[ak]; dup {
			continue
		}
		unique[ak] = struct{}{}

		rk := routeKey{src: src, dst: dst}
		i, ok := index[rk]
		if !ok {
			i = len(out)
			index[rk] = i
			out = append(out, model.ThreatSummary{
				SourceCountryCode:      src,
				SourceCountryName:      ev.SourceCountryName,
				SourceLatitude:         ev.SourceLatitude,
				SourceLongitude:        ev.SourceLongitude,
				DestinationCountryCode: dst,
				DestinationCountryName: ev.DestinationCountryName,
				DestinationLatitude:    ev.DestinationLatitude,
				DestinationLongitude:   ev.DestinationLongitude,
				AttackTypes:            []string{},
				Timestamp:              ev.Timestamp,
			})
			types = append(types, make(map[string]struct{}))
		}
		count := 1
		if ev.AttackCount != nil && *ev.AttackCount != 0 {
			count = *ev.AttackCount
		}
		out[i].AttackCount += count
		if t := deref(ev.AttackType); t != "" {
			if _, seen := types[i][t]; !seen {
				types[i][t] = struct{}{}
				out[i].AttackTypes = append(out[i].AttackTypes, t)
			}
		}
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
