package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"

	"github.com/sells-group/deal-audit/internal/dealmath"
	"github.com/sells-group/deal-audit/internal/model"
	"github.com/sells-group/deal-audit/internal/scorer"
)

// Output formats accepted by --format.
const (
	formatJSON = "json"
	formatText = "text"
)

// openOutput returns stdout for an empty path or "-", otherwise a created
// file. The returned close func is always safe to call.
func openOutput(path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "create output %s", path)
	}
	return f, f.Close, nil
}

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func checkFormat(format string) error {
	if format != formatJSON && format != formatText {
		return eris.Errorf("unknown format %q (json or text)", format)
	}
	return nil
}

// formatReport writes a human-readable summary of an audit report.
func formatReport(out io.Writer, r *model.AuditReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Verdict:\t%s\n", verdict(r.Pass))
	_, _ = fmt.Fprintf(w, "Overall score:\t%d\n", r.OverallScore)
	_, _ = fmt.Fprintf(w, "Records:\t%d\n", r.TotalRecords)
	_, _ = fmt.Fprintf(w, "Schema compliance:\t%d%% (%d invalid, %d corrections)\n",
		r.Structural.ComplianceScore, r.Structural.InvalidRecords, len(r.Structural.Corrections))
	_, _ = fmt.Fprintf(w, "Unique records:\t%d (%d duplicates, %d cross-session)\n",
		r.Dedup.UniqueRecords, r.Dedup.DuplicatesFound, r.Dedup.CrossSessionHits)
	_, _ = fmt.Fprintf(w, "Relevant records:\t%d (avg fit %.1f)\n", r.Relevance.Relevant, r.Relevance.AvgFitScore)
	_, _ = fmt.Fprintf(w, "Calculation mismatches:\t%d in %d records\n",
		r.CrossCheck.TotalMismatches, r.CrossCheck.MismatchedRecords)
	if r.CrossCheck.BaselineDeviation != nil {
		_, _ = fmt.Fprintf(w, "Baseline deviation:\t%.1f%%\n", *r.CrossCheck.BaselineDeviation)
	}
	_ = w.Flush()

	if len(r.Alerts) > 0 {
		_, _ = fmt.Fprintln(out)
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "SEVERITY\tAGENT\tRECORD\tTITLE\tMESSAGE")
		_, _ = fmt.Fprintln(w, "--------\t-----\t------\t-----\t-------")
		for _, a := range r.Alerts {
			record := "-"
			if a.RecordIndex != nil {
				record = fmt.Sprintf("%d", *a.RecordIndex)
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", a.Severity, a.Agent, record, a.Title, a.Message)
		}
		_ = w.Flush()
	}

	if len(r.Rejections) > 0 {
		_, _ = fmt.Fprintln(out)
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "REJECTED\tAGENT\tREASON")
		_, _ = fmt.Fprintln(w, "--------\t-----\t------")
		for _, rej := range r.Rejections {
			_, _ = fmt.Fprintf(w, "%d\t%s\t%s\n", rej.RecordIndex, rej.Agent, rej.Reason)
		}
		_ = w.Flush()
	}

	if len(r.CrossCheck.Recommendations) > 0 {
		_, _ = fmt.Fprintln(out)
		_, _ = fmt.Fprintln(out, "Recommendations:")
		for _, rec := range r.CrossCheck.Recommendations {
			_, _ = fmt.Fprintf(out, "  - %s\n", rec)
		}
	}
}

// recordMatches is the match output for one listing.
type recordMatches struct {
	RecordIndex int                  `json:"record_index"`
	Title       string               `json:"title,omitempty"`
	Matches     []scorer.MatchResult `json:"matches"`
}

// formatMatches writes a tabular list of buy-box matches per record.
func formatMatches(out io.Writer, results []recordMatches) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RECORD\tTITLE\tBUY_BOX\tSCORE\tMATCH\tNOTES")
	_, _ = fmt.Fprintln(w, "------\t-----\t-------\t-----\t-----\t-----")
	for _, rm := range results {
		title := rm.Title
		if len(title) > 30 {
			title = title[:27] + "..."
		}
		for _, m := range rm.Matches {
			box := m.BuyBoxName
			if box == "" {
				box = m.BuyBoxID
			}
			notes := ""
			switch {
			case len(m.Negative) > 0:
				notes = m.Negative[0]
			case len(m.Positive) > 0:
				notes = m.Positive[0]
			}
			_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%t\t%s\n", rm.RecordIndex, title, box, m.Score, m.IsMatch, notes)
		}
	}
	_ = w.Flush()
}

// formatGovernance writes a deal's metrics and governance findings.
func formatGovernance(out io.Writer, res dealmath.GovernanceResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", res.Status)
	_, _ = fmt.Fprintf(w, "Confidence:\t%d\n", res.Confidence)
	if m := res.Metrics; m != nil {
		_, _ = fmt.Fprintf(w, "Deal score:\t%d\n", m.Score)
		_, _ = fmt.Fprintf(w, "Gross equity:\t$%.0f\n", m.GrossEquity)
		_, _ = fmt.Fprintf(w, "Equity:\t%.1f%%\n", m.EquityPercentage)
		_, _ = fmt.Fprintf(w, "MAO:\t$%.0f\n", m.MAO)
		_, _ = fmt.Fprintf(w, "Projected profit:\t$%.0f\n", m.ProjectedProfit)
		_, _ = fmt.Fprintf(w, "ROI:\t%.1f%%\n", m.ROI)
		_, _ = fmt.Fprintf(w, "Total investment:\t$%.0f\n", m.TotalInvestment)
		for _, risk := range m.RiskFactors {
			_, _ = fmt.Fprintf(w, "Risk:\t%s\n", risk)
		}
	}
	for _, f := range res.Findings {
		_, _ = fmt.Fprintf(w, "%s:\t%s (%s)\n", f.Severity, f.Message, f.Field)
	}
	_ = w.Flush()
}
