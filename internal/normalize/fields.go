package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// String extracts a text value. Empty strings and the "None"/"null"/"NaN" placeholders some
// upstreams emit are treated as missing.
func String(v any) *string {
	var s string
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		s = strings.TrimSpace(val)
	case json.Number:
		s = val.String()
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil
		}
		s = strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		s = strconv.Itoa(val)
	case int64:
		s = strconv.FormatInt(val, 10)
	case bool:
		s = strconv.FormatBool(val)
	default:
		return nil
	}
	if isPlaceholder(s) {
		return nil
	}
	return &s
}

// Code is String upper-cased, for country codes.
func Code(v any) *string {
	s := String(v)
	if s == nil {
		return nil
	}
	up := strings.ToUpper(*s)
	return &up
}

func Float(v any) *float64 {
	var f float64
	switch val := v.(type) {
	case nil:
		return nil
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int64:
		f = float64(val)
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		s := strings.TrimSpace(val)
		if isPlaceholder(s) {
			return nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// Int accepts integral numbers only; fractional counts are rejected rather than truncated.
func Int(v any) *int {
	switch val := v.(type) {
	case int:
		return &val
	case int64:
		i := int(val)
		return &i
	case json.Number:
		if i, err := val.Int64(); err == nil {
			n := int(i)
			return &n
		}
	case string:
		s := strings.TrimSpace(val)
		if i, err := strconv.Atoi(s); err == nil {
			return &i
		}
	}
	f := Float(v)
	if f == nil || *f != math.Trunc(*f) || math.Abs(*f) > math.MaxInt32 {
		return nil
	}
	i := int(*f)
	return &i
}

// Rounded is Int for values where a fractional reading is still a count, such as
// magnitudes; it rounds to the nearest integer instead of dropping the value.
func Rounded(v any) *int {
	f := Float(v)
	if f == nil || math.Abs(*f) > math.MaxInt32 {
		return nil
	}
	i := int(math.Round(*f))
	return &i
}

// Scaled divides a fixed-point value by div. A missing or zero raw value yields missing.
func Scaled(v any, div float64) *float64 {
	f := Float(v)
	if f == nil || *f == 0 || div == 0 {
		return nil
	}
	out := *f / div
	return &out
}

func Map(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return nil
}

func isPlaceholder(s string) bool {
	switch strings.ToLower(s) {
	case "", "none", "null", "nan", "undefined":
		return true
	}
	return false
}

func strPtr(s string) *string {
	return &s
}
