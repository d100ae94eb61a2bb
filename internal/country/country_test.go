package country

import "testing"

func TestCodeToName(t *testing.T) {
	cases := map[string]string{"DE": "Germany", "fr": "France", " JP ": "Japan"}
	for code, want := range cases {
		got, ok := CodeToName(code)
		if !ok || got != want {
			t.Fatalf("CodeToName(%q) = %q, %v; want %q", code, got, ok, want)
		}
	}
}

func TestCodeToNameUsesISOShortNames(t *testing.T) {
	cases := map[string]string{
		"TR": "Türkiye",
		"MK": "North Macedonia",
		"TW": "Taiwan, Province of China",
		"PS": "Palestine, State of",
		"KR": "Korea, Republic of",
		"GB": "United Kingdom",
		"RU": "Russian Federation",
	}
	for code, want := range cases {
		got, ok := CodeToName(code)
		if !ok || got != want {
			t.Fatalf("CodeToName(%q) = %q, %v; want %q", code, got, ok, want)
		}
	}
	for _, name := range []string{"Türkiye", "Palestine, State of", "North Macedonia (Republic of North Macedonia)"} {
		if _, ok := NameToCode(name); !ok {
			t.Fatalf("NameToCode(%q) did not resolve", name)
		}
	}
}

func TestCodeToNameUnknown(t *testing.T) {
	if name, ok := CodeToName("ZZ"); ok || name != "" {
		t.Fatalf("expected miss for ZZ, got %q", name)
	}
	if _, ok := CodeToName(""); ok {
		t.Fatalf("expected miss for empty code")
	}
	if _, ok := CodeToName("DEU"); ok {
		t.Fatalf("alpha-3 must not resolve")
	}
}

func TestNameToCodeExactAndAlias(t *testing.T) {
	cases := map[string]string{
		"Germany":        "DE",
		"france":         "FR",
		"Turkey":         "TR",
		"Russia":         "RU",
		"South Korea":    "KR",
		"Czech Republic": "CZ",
		"Ivory Coast":    "CI",
		"Iran":           "IR",
	}
	for name, want := range cases {
		got, ok := NameToCode(name)
		if !ok || got != want {
			t.Fatalf("NameToCode(%q) = %q, %v; want %q", name, got, ok, want)
		}
	}
}

func TestNameToCodeFuzzy(t *testing.T) {
	got, ok := NameToCode("Germny")
	if !ok || got != "DE" {
		t.Fatalf("fuzzy Germny = %q, %v", got, ok)
	}
}

func TestNameToCodeMiss(t *testing.T) {
	for _, name := range []string{"", "   ", "xq"} {
		if code, ok := NameToCode(name); ok {
			t.Fatalf("NameToCode(%q) resolved to %q", name, code)
		}
	}
}

func TestResolveFillsMissingSide(t *testing.T) {
	code := "JP"
	c, n := Resolve(&code, nil)
	if c == nil || *c != "JP" || n == nil || *n != "Japan" {
		t.Fatalf("resolve by code failed")
	}
	name := "France"
	c, n = Resolve(nil, &name)
	if c == nil || *c != "FR" || n == nil || *n != "France" {
		t.Fatalf("resolve by name failed")
	}
	unknown := "ZZ"
	c, n = Resolve(&unknown, nil)
	if c == nil || *c != "ZZ" || n != nil {
		t.Fatalf("unknown code should keep code and leave name missing")
	}
}
