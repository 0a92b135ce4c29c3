package results

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/labcore/labcore/internal/domain/orders"
)

// testTemplate holds the reference data used to synthesize a result value
// for a test code until the real lab interface delivers observed values.
type testTemplate struct {
	name   string
	units  string
	rng    string
	normal string
	high   string
	low    string
}

var testCatalog = map[string]testTemplate{
	"WBC":   {"White Blood Cell Count", "10^3/uL", "4.5-11.0", "7.2", "14.8", "2.1"},
	"RBC":   {"Red Blood Cell Count", "10^6/uL", "4.2-5.9", "4.8", "6.4", "3.1"},
	"HGB":   {"Hemoglobin", "g/dL", "12.0-17.5", "14.1", "19.2", "6.8"},
	"HCT":   {"Hematocrit", "%", "36-52", "43", "58", "21"},
	"PLT":   {"Platelet Count", "10^3/uL", "150-400", "262", "610", "38"},
	"GLU":   {"Glucose", "mg/dL", "70-100", "88", "162", "44"},
	"CA":    {"Calcium", "mg/dL", "8.6-10.2", "9.4", "12.9", "6.1"},
	"NA":    {"Sodium", "mmol/L", "136-145", "140", "158", "119"},
	"K":     {"Potassium", "mmol/L", "3.5-5.1", "4.2", "6.8", "2.4"},
	"CO2":   {"Carbon Dioxide", "mmol/L", "22-29", "25", "34", "14"},
	"CL":    {"Chloride", "mmol/L", "98-107", "102", "116", "84"},
	"BUN":   {"Blood Urea Nitrogen", "mg/dL", "7-20", "14", "49", "3"},
	"CREAT": {"Creatinine", "mg/dL", "0.6-1.2", "0.9", "4.7", "0.2"},
	"ALB":   {"Albumin", "g/dL", "3.5-5.0", "4.3", "5.8", "1.9"},
	"TP":    {"Total Protein", "g/dL", "6.0-8.3", "7.1", "9.6", "4.0"},
	"ALP":   {"Alkaline Phosphatase", "U/L", "44-147", "78", "390", "18"},
	"ALT":   {"Alanine Aminotransferase", "U/L", "7-56", "28", "240", "2"},
	"AST":   {"Aspartate Aminotransferase", "U/L", "10-40", "24", "210", "4"},
	"BILI":  {"Total Bilirubin", "mg/dL", "0.1-1.2", "0.7", "4.9", "0.0"},
	"DBILI": {"Direct Bilirubin", "mg/dL", "0.0-0.3", "0.1", "1.4", "0.0"},
	"CHOL":  {"Total Cholesterol", "mg/dL", "0-200", "172", "312", "78"},
	"TRIG":  {"Triglycerides", "mg/dL", "0-150", "110", "480", "30"},
	"HDL":   {"HDL Cholesterol", "mg/dL", "40-90", "55", "104", "19"},
	"LDL":   {"LDL Cholesterol", "mg/dL", "0-100", "86", "215", "22"},
	"TSH":   {"Thyroid Stimulating Hormone", "uIU/mL", "0.4-4.0", "2.1", "14.6", "0.1"},
	"FT4":   {"Free Thyroxine", "ng/dL", "0.8-1.8", "1.2", "3.9", "0.2"},
	"FT3":   {"Free Triiodothyronine", "pg/mL", "2.3-4.2", "3.1", "8.8", "0.9"},
}

// defaultFlagFn draws an abnormal flag with a realistic skew toward normal.
func defaultFlagFn() string {
	switch roll := rand.Float64(); {
	case roll < 0.02:
		return FlagCriticalHigh
	case roll < 0.03:
		return FlagCriticalLow
	case roll < 0.10:
		return FlagHigh
	case roll < 0.15:
		return FlagLow
	default:
		return FlagNormal
	}
}

// GenerateForOrder creates result rows for an order whose dwell time has
// elapsed. A panel test code expands to one row per member test; anything
// else yields a single row. Orders that already have result rows are
// skipped, so a re-run after a partial failure inserts nothing.
func (s *Service) GenerateForOrder(ctx context.Context, o *orders.Order) (int, error) {
	existing, err := s.results.CountByOrder(ctx, o.ID)
	if err != nil {
		return 0, fmt.Errorf("count existing results: %w", err)
	}
	if existing > 0 {
		return 0, nil
	}

	codes := []string{o.TestCode}
	if panel, ok := panelTests[strings.ToLower(o.TestCode)]; ok {
		codes = panel
	}

	now := s.nowFunc()
	created := 0
	for _, code := range codes {
		res := s.synthesize(o, code, now)
		if err := s.results.Create(ctx, res); err != nil {
			return created, fmt.Errorf("create result for %s: %w", code, err)
		}
		created++
	}
	return created, nil
}

func (s *Service) synthesize(o *orders.Order, code string, now time.Time) *LabResult {
	tpl, ok := testCatalog[code]
	if !ok {
		tpl = testTemplate{name: o.TestName, normal: "See report"}
	}

	flag := s.flagFn()
	value := tpl.normal
	switch flag {
	case FlagHigh, FlagCriticalHigh:
		value = tpl.high
	case FlagLow, FlagCriticalLow:
		value = tpl.low
	}
	if value == "" {
		value = tpl.normal
	}

	res := &LabResult{
		OrderID:           o.ID,
		PatientID:         o.PatientID,
		TestCode:          code,
		TestName:          tpl.name,
		ResultValue:       value,
		AbnormalFlag:      flag,
		ResultAvailableAt: now,
	}
	if tpl.units != "" {
		res.Units = &tpl.units
	}
	if tpl.rng != "" {
		res.ReferenceRange = &tpl.rng
	}
	return res
}
