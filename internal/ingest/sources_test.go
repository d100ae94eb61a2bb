package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFortiGuardAttacksShape(t *testing.T) {
	events, err := fortiGuardEvents([]byte(`{"attacks":[
		{"count":5,"name":"Mirai","type":"IoT","dst_country":"DE","src_country":"FR","src_sev":2},
		"garbage",
		{"count":null,"name":"None","dst_country":"JP"}
	]}`))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 5, *events[0].AttackCount)
	assert.Equal(t, "Germany", *events[0].DestinationCountryName)
	assert.Nil(t, events[1].AttackCount)
	assert.Nil(t, events[1].AttackName)
}

func TestFortiGuardGroupedShapeUsesGroupKeyAsTimestamp(t *testing.T) {
	events, err := fortiGuardEvents([]byte(`{"ips":{
		"1718000060":[{"vuln_name":"CVE-2","dest_country":"FR"}],
		"1718000000":[{"vuln_name":"CVE-1","dest_country":"DE","timestamp":"explicit"}]
	}}`))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "CVE-1", *events[0].AttackName, "groups are ordered by key")
	assert.Equal(t, "explicit", *events[0].Timestamp)
	assert.Equal(t, "1718000060", *events[1].Timestamp)
}

func TestFortiGuardUnexpectedShape(t *testing.T) {
	_, err := fortiGuardEvents([]byte(`{"status":"ok"}`))
	assert.Error(t, err)
	_, err = fortiGuardEvents([]byte(`not json`))
	assert.Error(t, err)
}

func TestTalosEvents(t *testing.T) {
	events, err := talosEvents([]byte(`{"spam":[
		{"geo_coords":{"latitude_x10000":525200,"longitude_x10000":1234567},"country_info":{"code":"DE","name":"Germany"},"day_magnitude_x10":57,"ip":"192.0.2.1"},
		{"country_info":{"name":"France"}}
	]}`))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.InDelta(t, 123.4567, *events[0].SourceLongitude, 1e-9)
	assert.Nil(t, events[0].Timestamp)
	assert.Nil(t, events[1].SourceLatitude)
	require.NotNil(t, events[1].SourceCountryCode)
	assert.Equal(t, "FR", *events[1].SourceCountryCode)

	_, err = talosEvents([]byte(`{"ham":[]}`))
	assert.Error(t, err)
}

func TestRadwareSkipsMalformedPages(t *testing.T) {
	events, err := radwareEvents([]byte(`[
		[{"type":"DDoS","sourceCountry":"US","destinationCountry":"DE","weight":3,"attackTime":"t1"}, 7],
		{"not":"a page"},
		[{"type":"Scan","sourceCountry":"","destinationCountry":"JP"}]
	]`))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.NotEmpty(t, derefOr(events[0].SourceCountryName, ""), "name resolved from code")
	assert.Nil(t, events[1].SourceCountryCode)

	events, err = radwareEvents([]byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, events)
	_, err = radwareEvents([]byte(`{"pages":[]}`))
	assert.Error(t, err)
}

func TestFraudGuardRegexMiss(t *testing.T) {
	_, err := fraudGuardEvents([]byte(`<html>no data here</html>`))
	assert.Error(t, err)
	events, err := fraudGuardEvents([]byte("const threatData = [];"))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestDecodeCheckPoint(t *testing.T) {
	ev, err := decodeCheckPoint([]byte(`{"a_n":"Zeus","d_co":"DE","s_la":"None"}`))
	require.NoError(t, err)
	assert.Equal(t, "Zeus", *ev.AttackName)
	assert.Nil(t, ev.SourceLatitude)

	_, err = decodeCheckPoint([]byte(`{"unrelated":1}`))
	assert.Error(t, err)
	_, err = decodeCheckPoint([]byte(`{broken`))
	assert.Error(t, err)
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}
