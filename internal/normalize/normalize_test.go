package normalize

import (
	"bytes"
	"encoding/json"
	"math"
	"testing"
)

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	dec := json.NewDecoder(bytes.NewBufferString(s))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func TestTalosFixedPointCoordinates(t *testing.T) {
	raw := decode(t, `{"geo_coords":{"latitude_x10000":525200,"longitude_x10000":1234567},"country_info":{"code":"de"},"day_magnitude_x10":42,"ip":"1.2.3.4"}`)
	ev, err := Normalize(SchemaTalos, raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.SourceLongitude == nil || *ev.SourceLongitude != 123.4567 {
		t.Fatalf("longitude: %v", ev.SourceLongitude)
	}
	if ev.SourceLatitude == nil || *ev.SourceLatitude != 52.52 {
		t.Fatalf("latitude: %v", ev.SourceLatitude)
	}
	if ev.SourceCountryCode == nil || *ev.SourceCountryCode != "DE" {
		t.Fatalf("code: %v", ev.SourceCountryCode)
	}
	if ev.SourceCountryName == nil || *ev.SourceCountryName != "Germany" {
		t.Fatalf("name should be resolved from code: %v", ev.SourceCountryName)
	}
	if ev.AttackCount == nil || *ev.AttackCount != 42 {
		t.Fatalf("count: %v", ev.AttackCount)
	}
	if ev.AttackName == nil || *ev.AttackName != "Spam" || ev.AttackType == nil || *ev.AttackType != "Spam" {
		t.Fatalf("attack name/type")
	}
	if ev.Timestamp != nil || ev.DestinationCountryCode != nil {
		t.Fatalf("talos must not invent timestamp or destination")
	}
}

func TestTalosFractionalMagnitude(t *testing.T) {
	raw := decode(t, `{"country_info":{"code":"US"},"day_magnitude_x10":37.6}`)
	ev, err := Normalize(SchemaTalos, raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.AttackCount == nil || *ev.AttackCount != 38 {
		t.Fatalf("fractional magnitude should round, got %v", ev.AttackCount)
	}
	if ev.SourceSeverity == nil || *ev.SourceSeverity != 37.6 {
		t.Fatalf("severity keeps the raw magnitude: %v", ev.SourceSeverity)
	}
}

func TestTalosMissingCoordinate(t *testing.T) {
	raw := decode(t, `{"geo_coords":{"latitude_x10000":null},"country_info":{}}`)
	ev, _ := Normalize(SchemaTalos, raw)
	if ev.SourceLatitude != nil || ev.SourceLongitude != nil {
		t.Fatalf("missing raw coordinate must stay missing")
	}
	raw = decode(t, `{}`)
	ev, _ = Normalize(SchemaTalos, raw)
	if ev.SourceLatitude != nil || ev.AttackCount != nil {
		t.Fatalf("absent geo_coords must stay missing")
	}
}

func TestCheckPointNoneValuesAreMissing(t *testing.T) {
	raw := decode(t, `{"a_c":3,"a_n":"Zeus","a_t":"None","d_co":"FR","d_la":"NaN","d_lo":2.35,"s_co":null,"s_s":"","t":1718000000}`)
	ev, err := Normalize(SchemaCheckPoint, raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.AttackType != nil {
		t.Fatalf("None must normalize to missing")
	}
	if ev.DestinationLatitude != nil {
		t.Fatalf("NaN must normalize to missing")
	}
	if ev.SourceCountryCode != nil || ev.SourceCountryName != nil || ev.SourceSeverity != nil {
		t.Fatalf("null/empty source fields must be missing")
	}
	if ev.DestinationCountryName == nil || *ev.DestinationCountryName != "France" {
		t.Fatalf("destination name: %v", ev.DestinationCountryName)
	}
	if ev.Timestamp == nil || *ev.Timestamp != "1718000000" {
		t.Fatalf("timestamp should pass through unparsed: %v", ev.Timestamp)
	}
	if ev.AttackCount == nil || *ev.AttackCount != 3 {
		t.Fatalf("count")
	}
}

func TestFraudGuardResolvesCodeFromName(t *testing.T) {
	raw := decode(t, `{"country":"Japan","threat":"botnet","latitude":"35.6","longitude":139.7,"risk":4,"ip":"203.0.113.9"}`)
	ev, _ := Normalize(SchemaFraudGuard, raw)
	if ev.DestinationCountryCode == nil || *ev.DestinationCountryCode != "JP" {
		t.Fatalf("code: %v", ev.DestinationCountryCode)
	}
	if ev.DestinationLatitude == nil || *ev.DestinationLatitude != 35.6 {
		t.Fatalf("numeric string latitude")
	}
	if ev.AttackName == nil || ev.AttackType == nil || *ev.AttackType != "botnet" {
		t.Fatalf("threat mapping")
	}
	if ev.AttackName == ev.AttackType {
		t.Fatalf("name and type must not alias")
	}
	if ev.SourceCountryCode != nil || ev.AttackCount != nil {
		t.Fatalf("fraudguard has destination fields only")
	}
}

func TestRadwareMapping(t *testing.T) {
	raw := decode(t, `{"type":"DDoS","sourceCountry":" us ","destinationCountry":"","weight":7,"attackTime":"2024-06-01T10:00:00Z"}`)
	ev, _ := Normalize(SchemaRadware, raw)
	if ev.SourceCountryCode == nil || *ev.SourceCountryCode != "US" {
		t.Fatalf("source code trimmed/upper: %v", ev.SourceCountryCode)
	}
	if ev.DestinationCountryCode != nil {
		t.Fatalf("empty destination must be missing")
	}
	if ev.DestinationSeverity == nil || *ev.DestinationSeverity != 7 {
		t.Fatalf("weight -> destination severity")
	}
	if ev.Timestamp == nil || *ev.Timestamp != "2024-06-01T10:00:00Z" {
		t.Fatalf("timestamp passthrough")
	}
}

func TestFortiGuardShapes(t *testing.T) {
	raw := decode(t, `{"count":5,"name":"Mirai","type":"IoT","dst_country":"DE","dst_lat":51,"dst_lon":10,"src_country":"FR"}`)
	ev, _ := Normalize(SchemaFortiGuard, raw)
	if ev.SourceCountryName == nil || *ev.SourceCountryName != "France" || ev.DestinationCountryName == nil {
		t.Fatalf("country names should be resolved")
	}
	if ev.Timestamp != nil {
		t.Fatalf("no timestamp upstream")
	}
	raw = decode(t, `{"vuln_name":"CVE-1","vuln_type":"RCE","dest_country":"JP","dest_long":139.7,"src_long":2.3,"timestamp":"1718000000"}`)
	ev, _ = Normalize(SchemaFortiGuardIPS, raw)
	if ev.AttackName == nil || *ev.AttackName != "CVE-1" || ev.DestinationLongitude == nil || ev.SourceLongitude == nil {
		t.Fatalf("ips mapping")
	}
}

func TestUnknownSchema(t *testing.T) {
	if _, err := Normalize("nope", map[string]any{}); err == nil {
		t.Fatalf("expected error for unknown schema")
	}
}

func TestEverySchemaNormalizesEmptyRecord(t *testing.T) {
	schemas := Schemas()
	if len(schemas) != 6 {
		t.Fatalf("expected 6 schemas, got %v", schemas)
	}
	for _, schema := range schemas {
		ev, err := Normalize(schema, nil)
		if err != nil {
			t.Fatalf("%s: %v", schema, err)
		}
		if ev.SourceCountryCode != nil || ev.SourceLatitude != nil {
			t.Fatalf("%s: empty record produced source fields", schema)
		}
	}
}

func TestFieldHelpers(t *testing.T) {
	if Float(math.NaN()) != nil {
		t.Fatalf("NaN float")
	}
	if Int(json.Number("2.5")) != nil {
		t.Fatalf("fractional count must be missing")
	}
	if v := Int(float64(4)); v == nil || *v != 4 {
		t.Fatalf("integral float count")
	}
	if String("  null ") != nil {
		t.Fatalf("null placeholder")
	}
	if Scaled(json.Number("0"), 10000) != nil {
		t.Fatalf("zero raw fixed-point should be missing")
	}
}
