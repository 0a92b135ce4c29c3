package results

import "sort"

// panelTests maps a panel name to the test codes it bundles. The mapping is
// static; panel membership changes ship as code changes, not data.
var panelTests = map[string][]string{
	"cbc":     {"WBC", "RBC", "HGB", "HCT", "PLT"},
	"bmp":     {"GLU", "CA", "NA", "K", "CO2", "CL", "BUN", "CREAT"},
	"cmp":     {"GLU", "CA", "NA", "K", "CO2", "CL", "BUN", "CREAT", "ALB", "TP", "ALP", "ALT", "AST", "BILI"},
	"lipid":   {"CHOL", "TRIG", "HDL", "LDL"},
	"thyroid": {"TSH", "FT4", "FT3"},
	"hepatic": {"ALB", "TP", "ALP", "ALT", "AST", "BILI", "DBILI"},
}

// KnownPanels returns the supported panel names, sorted.
func KnownPanels() []string {
	names := make([]string, 0, len(panelTests))
	for name := range panelTests {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TestCodesForPanels expands panel names into the union of their test codes.
// Unknown names are returned separately so the caller can report them
// without failing the whole lookup.
func TestCodesForPanels(panels []string) (codes []string, unknown []string) {
	seen := make(map[string]bool)
	for _, panel := range panels {
		tests, ok := panelTests[panel]
		if !ok {
			unknown = append(unknown, panel)
			continue
		}
		for _, code := range tests {
			if !seen[code] {
				seen[code] = true
				codes = append(codes, code)
			}
		}
	}
	return codes, unknown
}
