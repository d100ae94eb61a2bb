// Package country resolves ISO 3166-1 alpha-2 codes to English short names and back.
package country

import (
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
	"github.com/biter777/countries"
)

// maxDistance caps the fuzzy edit distance; short inputs get a proportionally smaller bound.
const maxDistance = 3

// Names that upstream maps use but the reference table spells differently.
var aliases = map[string]string{
	"turkey":                           "TR",
	"türkiye":                          "TR",
	"turkiye":                          "TR",
	"russia":                           "RU",
	"russian federation":               "RU",
	"south korea":                      "KR",
	"korea":                            "KR",
	"republic of korea":                "KR",
	"korea, republic of":               "KR",
	"north korea":                      "KP",
	"iran":                             "IR",
	"iran, islamic republic of":        "IR",
	"vietnam":                          "VN",
	"viet nam":                         "VN",
	"syria":                            "SY",
	"laos":                             "LA",
	"bolivia":                          "BO",
	"venezuela":                        "VE",
	"tanzania":                         "TZ",
	"moldova":                          "MD",
	"czech republic":                   "CZ",
	"czechia":                          "CZ",
	"macedonia":                        "MK",
	"north macedonia":                  "MK",
	"ivory coast":                      "CI",
	"cote d'ivoire":                    "CI",
	"côte d'ivoire":                    "CI",
	"taiwan":                           "TW",
	"palestine":                        "PS",
	"hong kong":                        "HK",
	"uk":                               "GB",
	"united kingdom":                   "GB",
	"great britain":                    "GB",
	"usa":                              "US",
	"us":                               "US",
	"united states":                    "US",
	"united states of america":         "US",
	"the netherlands":                  "NL",
	"netherlands":                      "NL",
	"brunei":                           "BN",
	"cape verde":                       "CV",
	"swaziland":                        "SZ",
	"burma":                            "MM",
	"democratic republic of the congo": "CD",
	"dr congo":                         "CD",
	"republic of the congo":            "CG",
	"vatican":                          "VA",
	"micronesia":                       "FM",
}

// ISO 3166-1 English short names for codes the library labels differently.
var isoShortNames = map[string]string{
	"AX": "Åland Islands",
	"BL": "Saint Barthélemy",
	"BO": "Bolivia, Plurinational State of",
	"BQ": "Bonaire, Sint Eustatius and Saba",
	"CD": "Congo, The Democratic Republic of the",
	"CI": "Côte d'Ivoire",
	"CV": "Cabo Verde",
	"CW": "Curaçao",
	"FM": "Micronesia, Federated States of",
	"GS": "South Georgia and the South Sandwich Islands",
	"HK": "Hong Kong",
	"IM": "Isle of Man",
	"IR": "Iran, Islamic Republic of",
	"KP": "Korea, Democratic People's Republic of",
	"KR": "Korea, Republic of",
	"LY": "Libya",
	"MD": "Moldova, Republic of",
	"MF": "Saint Martin (French part)",
	"MK": "North Macedonia",
	"MO": "Macao",
	"PS": "Palestine, State of",
	"RE": "Réunion",
	"SH": "Saint Helena, Ascension and Tristan da Cunha",
	"SJ": "Svalbard and Jan Mayen",
	"SX": "Sint Maarten (Dutch part)",
	"SZ": "Eswatini",
	"TL": "Timor-Leste",
	"TR": "Türkiye",
	"TW": "Taiwan, Province of China",
	"TZ": "Tanzania, United Republic of",
	"VE": "Venezuela, Bolivarian Republic of",
	"VG": "Virgin Islands, British",
	"VI": "Virgin Islands, U.S.",
	"VN": "Viet Nam",
	"WF": "Wallis and Futuna",
}

type table struct {
	byCode map[string]string
	byName map[string]string
	names  []string
}

var (
	once sync.Once
	ref  table
)

func load() table {
	once.Do(func() {
		ref = table{
			byCode: make(map[string]string, 256),
			byName: make(map[string]string, 256),
		}
		for _, c := range countries.All() {
			if !c.IsValid() {
				continue
			}
			code := c.Alpha2()
			name := c.String()
			if len(code) != 2 || name == "" {
				continue
			}
			labels := []string{name}
			if iso, ok := isoShortNames[code]; ok {
				labels = []string{iso, name}
			}
			ref.byCode[code] = labels[0]
			for _, label := range labels {
				key := fold(label)
				if _, ok := ref.byName[key]; !ok {
					ref.byName[key] = code
					ref.names = append(ref.names, key)
				}
			}
		}
	})
	return ref
}

func fold(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// CodeToName returns the English short name for an alpha-2 code.
func CodeToName(code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 2 {
		return "", false
	}
	name, ok := load().byCode[code]
	return name, ok
}

// NameToCode resolves a free-form country name. Exact table match wins, then the alias
// table, then the library's own name index, then a bounded fuzzy match.
func NameToCode(name string) (string, bool) {
	key := fold(name)
	if key == "" {
		return "", false
	}
	t := load()
	if code, ok := t.byName[key]; ok {
		return code, true
	}
	if code, ok := aliases[key]; ok {
		if _, known := t.byCode[code]; known {
			return code, true
		}
	}
	if c := countries.ByName(name); c.IsValid() {
		if code := c.Alpha2(); len(code) == 2 {
			if _, known := t.byCode[code]; known {
				return code, true
			}
		}
	}
	return fuzzy(t, key)
}

func fuzzy(t table, key string) (string, bool) {
	if len(key) >= 4 {
		// Prefer the shortest table name containing the input, or contained by it.
		best := ""
		for _, candidate := range t.names {
			if strings.Contains(candidate, key) || (len(candidate) >= 4 && strings.Contains(key, candidate)) {
				if best == "" || len(candidate) < len(best) {
					best = candidate
				}
			}
		}
		if best != "" {
			return t.byName[best], true
		}
	}
	limit := min(maxDistance, len([]rune(key))/3)
	bestDist := limit + 1
	best := ""
	for _, candidate := range t.names {
		d := levenshtein.ComputeDistance(key, candidate)
		if d < bestDist {
			bestDist = d
			best = candidate
		}
	}
	if best == "" {
		return "", false
	}
	return t.byName[best], true
}

// Resolve fills whichever of code and name is missing. Inputs are returned untouched when
// both are present or when the lookup fails.
func Resolve(code, name *string) (*string, *string) {
	if code != nil && name == nil {
		if n, ok := CodeToName(*code); ok {
			name = &n
		}
	}
	if name != nil && code == nil {
		if c, ok := NameToCode(*name); ok {
			code = &c
		}
	}
	return code, name
}
