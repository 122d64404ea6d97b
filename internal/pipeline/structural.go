package pipeline

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/sells-group/deal-audit/internal/dealmath"
	"github.com/sells-group/deal-audit/internal/model"
)

var (
	currencyFields = []string{"price", "asking_price", "arv", "repair_estimate", "assignment_fee"}
	integerFields  = []string{"bedrooms", "sqft", "lot_size_sqft", "year_built"}

	leadingInt   = regexp.MustCompile(`^[+-]?\d+`)
	leadingFloat = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)`)
	separators   = regexp.MustCompile(`[-\s]+`)
)

var propertyTypeAliases = map[string]string{
	"house":        "single_family",
	"home":         "single_family",
	"sfr":          "single_family",
	"sfh":          "single_family",
	"duplex":       "multi_family",
	"triplex":      "multi_family",
	"quadplex":     "multi_family",
	"apartment":    "multi_family",
	"manufactured": "mobile_home",
	"lot":          "land",
	"vacant_land":  "land",
	"retail":       "commercial",
	"office":       "commercial",
	"industrial":   "commercial",
}

var conditionAliases = map[string]string{
	"new":           "excellent",
	"like_new":      "excellent",
	"move_in_ready": "good",
	"needs_work":    "fair",
	"fixer":         "poor",
	"fixer_upper":   "poor",
	"tear_down":     "distressed",
	"condemned":     "distressed",
}

// Coerce repairs common scraper formatting problems and returns a corrected
// copy of rec with one Correction per changed field. rec is never modified.
// Values that cannot be repaired are left as they are for validation to
// report. Coercing an already coerced record yields no corrections.
func Coerce(rec model.RawRecord) (model.RawRecord, []model.Correction) {
	out := rec.Clone()
	corrections := []model.Correction{}
	fix := func(field string, from, to any, reason string) {
		out[field] = to
		corrections = append(corrections, model.Correction{Field: field, From: from, To: to, Reason: reason})
	}

	keys := make([]string, 0, len(out))
	for k := range out {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if out[k] == nil {
			delete(out, k)
			corrections = append(corrections, model.Correction{Field: k, Reason: "Removed null value"})
		}
	}

	for _, field := range currencyFields {
		s, ok := out[field].(string)
		if !ok {
			continue
		}
		if f, parsed := dealmath.ParseAmount(s); parsed {
			fix(field, s, f, fmt.Sprintf("Converted string %q to number %v", s, f))
		}
	}

	for _, field := range integerFields {
		s, ok := out[field].(string)
		if !ok {
			continue
		}
		digits := leadingInt.FindString(stripSeparators(s))
		if n, err := strconv.ParseInt(digits, 10, 64); err == nil {
			fix(field, s, float64(n), fmt.Sprintf("Converted string %q to integer %d", s, n))
		}
	}

	if s, ok := out["bathrooms"].(string); ok {
		num := leadingFloat.FindString(stripSeparators(s))
		if f, err := strconv.ParseFloat(num, 64); err == nil {
			fix("bathrooms", s, f, fmt.Sprintf("Converted string %q to number %v", s, f))
		}
	}

	if s, ok := out["property_type"].(string); ok {
		if to, reason, changed := normalizeEnum(s, PropertyTypes, propertyTypeAliases); changed {
			fix("property_type", s, to, reason)
		}
	}
	if s, ok := out["deal_type"].(string); ok {
		if to, reason, changed := normalizeEnum(s, DealTypes, nil); changed {
			fix("deal_type", s, to, reason)
		}
	}
	if s, ok := out["condition"].(string); ok {
		if to, reason, changed := normalizeEnum(s, Conditions, conditionAliases); changed {
			fix("condition", s, to, reason)
		}
	}

	return out, corrections
}

// normalizeEnum lowercases s and turns hyphens and spaces into underscores.
// When that is not a valid value, aliases is consulted. changed is false when
// s is already canonical or nothing matched.
func normalizeEnum(s string, valid []string, aliases map[string]string) (string, string, bool) {
	if slices.Contains(valid, s) {
		return s, "", false
	}
	norm := separators.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "_")
	if slices.Contains(valid, norm) {
		return norm, fmt.Sprintf("Normalized %q to %q", s, norm), true
	}
	if mapped, ok := aliases[norm]; ok {
		return mapped, fmt.Sprintf("Mapped %q to %q", s, mapped), true
	}
	return s, "", false
}

func stripSeparators(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ',', ' ', '\t', '\n', '\u00a0':
			return -1
		}
		return r
	}, s)
}

// Structural coerces every record and validates the result against the
// listing schema. The report carries one validation per record in input
// order plus the corrected records downstream agents work from.
func Structural(records []model.RawRecord, maxYear int) (model.StructuralReport, error) {
	report := model.StructuralReport{
		TotalRecords:     len(records),
		Validations:      make([]model.RecordValidation, 0, len(records)),
		Corrections:      []model.Correction{},
		CorrectedRecords: make([]model.RawRecord, 0, len(records)),
	}

	schema, err := compiledSchema(maxYear)
	if err != nil {
		return report, err
	}

	for i, rec := range records {
		coerced, corrections := Coerce(rec)
		for _, c := range corrections {
			c.RecordIndex = i
			report.Corrections = append(report.Corrections, c)
		}

		errs := validateRecord(schema, coerced)
		report.Validations = append(report.Validations, model.RecordValidation{
			RecordIndex: i,
			Valid:       len(errs) == 0,
			Errors:      errs,
		})
		report.CorrectedRecords = append(report.CorrectedRecords, coerced)
		if len(errs) == 0 {
			report.ValidRecords++
		}
	}

	report.InvalidRecords = report.TotalRecords - report.ValidRecords
	report.ComplianceScore = 100
	if report.TotalRecords > 0 {
		report.ComplianceScore = roundPct(report.ValidRecords, report.TotalRecords)
	}
	return report, nil
}
