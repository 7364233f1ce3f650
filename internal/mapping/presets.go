package mapping

import (
	"sort"
	"strings"
)

// Preset is a built-in bank-level default mapping
type Preset struct {
	Name        string
	Description string
	Mapping     ColumnMapping
}

var presets = map[string]Preset{
	"chase": {
		Name:        "chase",
		Description: "Chase checking CSV export",
		Mapping: ColumnMapping{
			Date:        "Posting Date",
			Description: "Description",
			Amount:      "Amount",
			Balance:     "Balance",
			Reference:   "Check or Slip #",
			DateFormat:  "1/2/2006",
		},
	},
	"generic": {
		Name:        "generic",
		Description: "No fixed columns; roles are inferred from the header row",
	},
}

// LookupPreset returns a built-in mapping by name
func LookupPreset(name string) (Preset, bool) {
	p, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// PresetNames lists the built-in mappings in sorted order
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
