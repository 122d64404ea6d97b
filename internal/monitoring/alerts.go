package monitoring

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sells-group/deal-audit/internal/model"
)

// GenerateAlerts derives the audit alerts from a report's sub-reports and
// returns them ordered critical, warning, info. Alerts of equal severity
// keep agent order and record order.
func GenerateAlerts(r *model.AuditReport) []model.AuditAlert {
	alerts := []model.AuditAlert{}
	title := func(i int) string {
		if i < len(r.Integrity) {
			return r.Integrity[i].RecordTitle
		}
		return fmt.Sprintf("Record #%d", i+1)
	}
	add := func(sev model.Severity, agent string, index *int, ttl, msg, fix string) {
		alerts = append(alerts, model.AuditAlert{
			Severity:     sev,
			Agent:        agent,
			RecordIndex:  index,
			Title:        ttl,
			Message:      msg,
			SuggestedFix: fix,
		})
	}

	for _, ir := range r.Integrity {
		idx := ir.RecordIndex
		switch {
		case ir.OverallScore < 50:
			fix := "Review range violations"
			if len(ir.MissingFields) > 0 {
				fix = "Missing fields: " + joinFirst(ir.MissingFields, 5)
			}
			add(model.SeverityCritical, model.AgentIntegrity, &idx, ir.RecordTitle,
				fmt.Sprintf("Record %q integrity score critically low (%d/100)", ir.RecordTitle, ir.OverallScore), fix)
		case ir.OverallScore < 70:
			add(model.SeverityWarning, model.AgentIntegrity, &idx, ir.RecordTitle,
				fmt.Sprintf("Record %q has incomplete data (score: %d/100)", ir.RecordTitle, ir.OverallScore),
				"Missing: "+joinFirst(ir.MissingFields, 3))
		}

		if ir.DuplicateDetected && ir.DuplicateOfIndex != nil {
			add(model.SeverityWarning, model.AgentIntegrity, &idx, ir.RecordTitle,
				fmt.Sprintf("Duplicate detected: %q matches record #%d", ir.RecordTitle, *ir.DuplicateOfIndex+1),
				"Remove duplicate or verify as distinct listing")
		}

		for _, v := range ir.RangeViolations {
			add(model.SeverityWarning, model.AgentIntegrity, &idx, ir.RecordTitle, v.Message, v.SuggestedFix)
		}
	}

	s := r.Structural
	if s.TotalRecords > 0 && s.ComplianceScore < 60 {
		add(model.SeverityCritical, model.AgentStructural, nil, "Schema compliance",
			fmt.Sprintf("Schema compliance critically low: %d%% (%d of %d invalid)", s.ComplianceScore, s.InvalidRecords, s.TotalRecords),
			"Review scraper output format; data may not match the expected schema")
	}
	corrected := map[int]int{}
	for _, c := range s.Corrections {
		corrected[c.RecordIndex]++
	}
	for _, v := range s.Validations {
		if v.Valid {
			continue
		}
		idx := v.RecordIndex
		fields := make([]string, 0, len(v.Errors))
		for f := range v.Errors {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		fix := "Manual correction required"
		if n := corrected[idx]; n > 0 {
			fix = fmt.Sprintf("Auto-corrected %d field(s)", n)
		}
		add(model.SeverityWarning, model.AgentStructural, &idx, title(idx),
			fmt.Sprintf("Schema violation in %q: fields [%s]", title(idx), joinFirst(fields, 3)), fix)
	}

	// Exact in-batch repeats are already reported by integrity.
	for _, d := range r.Dedup.Results {
		if !d.IsDuplicate || (d.DuplicateType == model.MatchExact && !d.CrossSession) {
			continue
		}
		idx := d.RecordIndex
		add(model.SeverityWarning, model.AgentDedup, &idx, title(idx),
			fmt.Sprintf("Duplicate listing %q (%s): %s", title(idx), d.DuplicateType, d.Details),
			"Skip the listing or verify it is a distinct property")
	}

	rel := r.Relevance
	if rel.TotalRecords > 0 && float64(rel.Irrelevant) > float64(rel.TotalRecords)*0.5 {
		add(model.SeverityWarning, model.AgentRelevance, nil, "Buy box alignment",
			fmt.Sprintf("%d of %d records don't match buy box criteria", rel.Irrelevant, rel.TotalRecords),
			"Refine search parameters or update buy box to match available inventory")
	}

	for _, cr := range r.CrossCheck.Results {
		idx := cr.RecordIndex
		for _, m := range cr.Mismatches {
			sev := model.SeverityWarning
			if m.Deviation > 20 {
				sev = model.SeverityCritical
			}
			add(sev, model.AgentCrossCheck, &idx, title(idx),
				fmt.Sprintf("%s deviation: reported %v, calculated %v (%v%% off)", m.Field, m.Reported, m.Calculated, m.Deviation),
				"Verify source data values against calculator formulas")
		}
		for _, flag := range cr.DriftFlags {
			add(model.SeverityInfo, model.AgentCrossCheck, &idx, title(idx), flag, "")
		}
	}
	for _, rec := range r.CrossCheck.Recommendations {
		add(model.SeverityInfo, model.AgentCrossCheck, nil, "Batch recommendation", rec, "")
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].Severity.Rank() < alerts[j].Severity.Rank()
	})
	return alerts
}

func joinFirst(items []string, n int) string {
	if len(items) > n {
		items = items[:n]
	}
	return strings.Join(items, ", ")
}
