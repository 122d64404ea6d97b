package pipeline

import (
	"fmt"
	"math"
	"strconv"

	"github.com/sells-group/deal-audit/internal/model"
)

var enrichmentFields = []string{
	"address", "city", "state", "zip_code", "property_type",
	"arv", "sqft", "bedrooms", "bathrooms", "repair_estimate",
}

type bounds struct {
	min, max float64
}

// plausibleRanges returns the accepted bounds for each range-checked field,
// in check order.
func plausibleRanges(currentYear int) []struct {
	field string
	b     bounds
} {
	return []struct {
		field string
		b     bounds
	}{
		{"price", bounds{1_000, 50_000_000}},
		{"asking_price", bounds{1_000, 50_000_000}},
		{"arv", bounds{5_000, 100_000_000}},
		{"sqft", bounds{100, 100_000}},
		{"bedrooms", bounds{0, 20}},
		{"bathrooms", bounds{0, 15}},
		{"repair_estimate", bounds{0, 5_000_000}},
		{"year_built", bounds{1800, float64(currentYear + 1)}},
		{"equity_percentage", bounds{-100, 100}},
		{"ai_score", bounds{0, 100}},
	}
}

// recordTitle is the display title used in reports and alerts.
func recordTitle(l model.Listing, index int) string {
	if l.Title != "" {
		return l.Title
	}
	return fmt.Sprintf("Record #%d", index+1)
}

// Integrity scores each record for completeness and plausibility and flags
// exact in-batch repeats of an address. The first occurrence of an address
// is canonical; later ones point back to it.
func Integrity(records []model.RawRecord, listings []model.Listing, currentYear int) []model.IntegrityReport {
	ranges := plausibleRanges(currentYear)
	seen := make(map[string]int, len(records))
	reports := make([]model.IntegrityReport, 0, len(records))

	for i, rec := range records {
		l := listings[i]
		missing := []string{}
		violations := []model.FieldIssue{}

		requiredPresent := 0
		for _, f := range requiredFields {
			if rec.Has(f) {
				requiredPresent++
			} else {
				missing = append(missing, f)
			}
		}
		enrichmentPresent := 0
		for _, f := range enrichmentFields {
			if rec.Has(f) {
				enrichmentPresent++
			} else {
				missing = append(missing, f)
			}
		}

		for _, r := range ranges {
			v, ok := rec.Number(r.field)
			if !ok || (v >= r.b.min && v <= r.b.max) {
				continue
			}
			violations = append(violations, model.FieldIssue{
				Field:   r.field,
				Issue:   model.IssueOutOfRange,
				Message: fmt.Sprintf("%s value %s outside plausible range [%s, %s]",
					r.field, strconv.FormatFloat(v, 'f', -1, 64), formatNumber(r.b.min), formatNumber(r.b.max)),
				SuggestedFix: fmt.Sprintf("Verify %s value from source", r.field),
			})
		}

		if arv, price := model.Value(l.ARV), l.EffectivePrice(); arv > 0 && price > 0 && arv < price*0.5 {
			violations = append(violations, model.FieldIssue{
				Field:   "arv",
				Issue:   model.IssueSuspicious,
				Message: fmt.Sprintf("ARV ($%s) is less than 50%% of asking price ($%s)",
					formatNumber(arv), formatNumber(price)),
				SuggestedFix: "Verify ARV; for investment deals ARV is normally above the asking price",
			})
		}

		report := model.IntegrityReport{
			RecordIndex:     i,
			RecordTitle:     recordTitle(l, i),
			MissingFields:   missing,
			RangeViolations: violations,
		}

		hash := NormalizeAddress(l)
		if first, dup := seen[hash]; dup {
			report.DuplicateDetected = true
			report.DuplicateOfIndex = &first
		} else {
			seen[hash] = i
		}

		report.CompletenessScore = int(math.Round(
			float64(requiredPresent)/float64(len(requiredFields))*60 +
				float64(enrichmentPresent)/float64(len(enrichmentFields))*40))
		report.PlausibilityScore = max(0, 100-15*len(violations))
		report.OverallScore = int(math.Round(float64(report.CompletenessScore+report.PlausibilityScore) / 2))
		if report.DuplicateDetected {
			report.OverallScore = max(0, report.OverallScore-20)
		}

		reports = append(reports, report)
	}
	return reports
}

// roundPct returns n/total as a rounded percentage. total must be > 0.
func roundPct(n, total int) int {
	return int(math.Round(float64(n) / float64(total) * 100))
}
