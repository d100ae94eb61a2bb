package normalize

import (
	"fmt"
	"sort"

	"threatmap/internal/country"
	"threatmap/internal/model"
)

type Schema string

const (
	SchemaCheckPoint    Schema = "checkpoint"
	SchemaFortiGuard    Schema = "fortiguard"
	SchemaFortiGuardIPS Schema = "fortiguard_ips"
	SchemaFraudGuard    Schema = "fraudguard"
	SchemaRadware       Schema = "radware"
	SchemaTalos         Schema = "talos"
)

// Mapper converts one decoded upstream record. Mappers never fail: unrecognized or
// unusable fields become missing.
type Mapper func(raw map[string]any) model.AttackEvent

var registry = map[Schema]Mapper{
	SchemaCheckPoint:    checkPoint,
	SchemaFortiGuard:    fortiGuard,
	SchemaFortiGuardIPS: fortiGuardIPS,
	SchemaFraudGuard:    fraudGuard,
	SchemaRadware:       radware,
	SchemaTalos:         talos,
}

func Normalize(schema Schema, raw map[string]any) (model.AttackEvent, error) {
	fn, ok := registry[schema]
	if !ok {
		return model.AttackEvent{}, fmt.Errorf("unknown schema %q", schema)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return fn(raw), nil
}

func Schemas() []Schema {
	out := make([]Schema, 0, len(registry))
	for s := range registry {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// resolveCountries fills missing names from codes and missing codes from names on both ends.
func resolveCountries(ev *model.AttackEvent) {
	ev.SourceCountryCode, ev.SourceCountryName = country.Resolve(ev.SourceCountryCode, ev.SourceCountryName)
	ev.DestinationCountryCode, ev.DestinationCountryName = country.Resolve(ev.DestinationCountryCode, ev.DestinationCountryName)
}

func checkPoint(raw map[string]any) model.AttackEvent {
	ev := model.AttackEvent{
		AttackCount:            Int(raw["a_c"]),
		AttackName:             String(raw["a_n"]),
		AttackType:             String(raw["a_t"]),
		DestinationCountryCode: Code(raw["d_co"]),
		DestinationLatitude:    Float(raw["d_la"]),
		DestinationLongitude:   Float(raw["d_lo"]),
		DestinationSeverity:    Float(raw["d_s"]),
		SourceCountryCode:      Code(raw["s_co"]),
		SourceLatitude:         Float(raw["s_la"]),
		SourceLongitude:        Float(raw["s_lo"]),
		SourceSeverity:         Float(raw["s_s"]),
		Timestamp:              String(raw["t"]),
	}
	resolveCountries(&ev)
	return ev
}

func fortiGuard(raw map[string]any) model.AttackEvent {
	ev := model.AttackEvent{
		AttackCount:            Int(raw["count"]),
		AttackName:             String(raw["name"]),
		AttackType:             String(raw["type"]),
		DestinationCountryCode: Code(raw["dst_country"]),
		DestinationLatitude:    Float(raw["dst_lat"]),
		DestinationLongitude:   Float(raw["dst_lon"]),
		DestinationSeverity:    Float(raw["dst_sev"]),
		SourceCountryCode:      Code(raw["src_country"]),
		SourceLatitude:         Float(raw["src_lat"]),
		SourceLongitude:        Float(raw["src_lon"]),
		SourceSeverity:         Float(raw["src_sev"]),
		Timestamp:              String(raw["timestamp"]),
	}
	resolveCountries(&ev)
	return ev
}

// fortiGuardIPS handles the per-timestamp grouped shape; the connector injects the group
// key as "timestamp" when an entry carries none.
func fortiGuardIPS(raw map[string]any) model.AttackEvent {
	ev := model.AttackEvent{
		AttackCount:            Int(raw["count"]),
		AttackName:             String(raw["vuln_name"]),
		AttackType:             String(raw["vuln_type"]),
		DestinationCountryCode: Code(raw["dest_country"]),
		DestinationLatitude:    Float(raw["dest_lat"]),
		DestinationLongitude:   Float(raw["dest_long"]),
		SourceCountryCode:      Code(raw["src_country"]),
		SourceLatitude:         Float(raw["src_lat"]),
		SourceLongitude:        Float(raw["src_long"]),
		Timestamp:              String(raw["timestamp"]),
	}
	resolveCountries(&ev)
	return ev
}

func fraudGuard(raw map[string]any) model.AttackEvent {
	threat := String(raw["threat"])
	ev := model.AttackEvent{
		AttackName:             threat,
		AttackType:             threat,
		DestinationCountryName: String(raw["country"]),
		DestinationLatitude:    Float(raw["latitude"]),
		DestinationLongitude:   Float(raw["longitude"]),
		DestinationSeverity:    Float(raw["risk"]),
	}
	if threat != nil {
		ev.AttackType = strPtr(*threat)
	}
	resolveCountries(&ev)
	return ev
}

func radware(raw map[string]any) model.AttackEvent {
	kind := String(raw["type"])
	ev := model.AttackEvent{
		AttackName:             kind,
		SourceCountryCode:      Code(raw["sourceCountry"]),
		DestinationCountryCode: Code(raw["destinationCountry"]),
		DestinationSeverity:    Float(raw["weight"]),
		Timestamp:              String(raw["attackTime"]),
	}
	if kind != nil {
		ev.AttackType = strPtr(*kind)
	}
	resolveCountries(&ev)
	return ev
}

const talosScale = 10000

// talos maps one top-senders entry. Coordinates arrive as fixed-point x10000 integers and
// the record has no timestamp of its own.
func talos(raw map[string]any) model.AttackEvent {
	coords := Map(raw["geo_coords"])
	info := Map(raw["country_info"])
	ev := model.AttackEvent{
		AttackCount:       Rounded(raw["day_magnitude_x10"]),
		AttackName:        strPtr("Spam"),
		AttackType:        strPtr("Spam"),
		SourceSeverity:    Float(raw["day_magnitude_x10"]),
		SourceCountryCode: Code(info["code"]),
		SourceCountryName: String(info["name"]),
		SourceLatitude:    Scaled(coords["latitude_x10000"], talosScale),
		SourceLongitude:   Scaled(coords["longitude_x10000"], talosScale),
	}
	resolveCountries(&ev)
	return ev
}
