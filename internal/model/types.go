package model

import "time"

// AttackEvent is the unified record every attack-map source is normalized into.
// A nil field means the upstream did not supply a usable value.
type AttackEvent struct {
	AttackCount *int    `json:"attack_count"`
	AttackName  *string `json:"attack_name"`
	AttackType  *string `json:"attack_type"`

	SourceCountryCode *string  `json:"source_country_code"`
	SourceCountryName *string  `json:"source_country_name"`
	SourceLatitude    *float64 `json:"source_latitude"`
	SourceLongitude   *float64 `json:"source_longitude"`
	SourceSeverity    *float64 `json:"source_severity"`

	DestinationCountryCode *string  `json:"destination_country_code"`
	DestinationCountryName *string  `json:"destination_country_name"`
	DestinationLatitude    *float64 `json:"destination_latitude"`
	DestinationLongitude   *float64 `json:"destination_longitude"`
	DestinationSeverity    *float64 `json:"destination_severity"`

	// Timestamp is passed through exactly as the source formats it.
	Timestamp *string `json:"timestamp"`
}

type Article struct {
	Title     string   `json:"title"`
	Link      string   `json:"link"`
	Timestamp *string  `json:"timestamp"`
	Feed      string   `json:"feed"`
	Keywords  []string `json:"keywords,omitempty"`
}

type BatchKind string

const (
	KindAttacks   BatchKind = "attacks"
	KindArticles  BatchKind = "articles"
	KindAddresses BatchKind = "addresses"
)

type BatchStatus string

const (
	// StatusOK carries new or changed records (possibly none after filtering).
	StatusOK BatchStatus = "ok"
	// StatusUnchanged means the fetch succeeded but nothing differed from the previous batch.
	StatusUnchanged BatchStatus = "unchanged"
	// StatusFailed is the no-data marker emitted after a failed cycle.
	StatusFailed BatchStatus = "failed"
)

type Batch struct {
	ID        string        `json:"id"`
	Source    string        `json:"source"`
	Kind      BatchKind     `json:"kind"`
	Status    BatchStatus   `json:"status"`
	FetchedAt time.Time     `json:"fetched_at"`
	Events    []AttackEvent `json:"events,omitempty"`
	Articles  []Article     `json:"articles,omitempty"`
	Addresses []string      `json:"addresses,omitempty"`
	Error     string        `json:"error,omitempty"`
}

func (b Batch) Len() int {
	return len(b.Events) + len(b.Articles) + len(b.Addresses)
}

func (b Batch) Empty() bool {
	return b.Len() == 0
}

// Clone returns a deep copy so fan-out consumers never share backing arrays.
func (b Batch) Clone() Batch {
	out := b
	if b.Events != nil {
		out.Events = make([]AttackEvent, len(b.Events))
		for i, ev := range b.Events {
			out.Events[i] = ev.Clone()
		}
	}
	if b.Articles != nil {
		out.Articles = make([]Article, len(b.Articles))
		for i, a := range b.Articles {
			out.Articles[i] = a.Clone()
		}
	}
	if b.Addresses != nil {
		out.Addresses = append([]string(nil), b.Addresses...)
	}
	return out
}

func (a Article) Clone() Article {
	out := a
	out.Timestamp = clonePtr(a.Timestamp)
	if a.Keywords != nil {
		out.Keywords = append([]string(nil), a.Keywords...)
	}
	return out
}

func (e AttackEvent) Clone() AttackEvent {
	return AttackEvent{
		AttackCount:            clonePtr(e.AttackCount),
		AttackName:             clonePtr(e.AttackName),
		AttackType:             clonePtr(e.AttackType),
		SourceCountryCode:      clonePtr(e.SourceCountryCode),
		SourceCountryName:      clonePtr(e.SourceCountryName),
		SourceLatitude:         clonePtr(e.SourceLatitude),
		SourceLongitude:        clonePtr(e.SourceLongitude),
		SourceSeverity:         clonePtr(e.SourceSeverity),
		DestinationCountryCode: clonePtr(e.DestinationCountryCode),
		DestinationCountryName: clonePtr(e.DestinationCountryName),
		DestinationLatitude:    clonePtr(e.DestinationLatitude),
		DestinationLongitude:   clonePtr(e.DestinationLongitude),
		DestinationSeverity:    clonePtr(e.DestinationSeverity),
		Timestamp:              clonePtr(e.Timestamp),
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// ThreatSummary is one (source country, destination country) row of the aggregated threat view.
type ThreatSummary struct {
	SourceCountryCode      string   `json:"source_country_code"`
	SourceCountryName      *string  `json:"source_country_name"`
	SourceLatitude         *float64 `json:"source_latitude"`
	SourceLongitude        *float64 `json:"source_longitude"`
	DestinationCountryCode string   `json:"destination_country_code"`
	DestinationCountryName *string  `json:"destination_country_name"`
	DestinationLatitude    *float64 `json:"destination_latitude"`
	DestinationLongitude   *float64 `json:"destination_longitude"`
	AttackCount            int      `json:"attack_count"`
	AttackTypes            []string `json:"attack_types"`
	Timestamp              *string  `json:"timestamp"`
}

// SourceStats is the observable state of one connector.
type SourceStats struct {
	Source              string        `json:"source"`
	Kind                BatchKind     `json:"kind"`
	State               string        `json:"state"`
	LastFetch           time.Time     `json:"last_fetch"`
	LastSuccess         time.Time     `json:"last_success"`
	LastError           string        `json:"last_error,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Backoff             time.Duration `json:"backoff"`
	Fetches             int           `json:"fetches"`
	Failures            int           `json:"failures"`
	RecordsEmitted      int           `json:"records_emitted"`
	SeenIdentities      int           `json:"seen_identities"`
}
