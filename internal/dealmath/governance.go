package dealmath

import "fmt"

// Finding severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Finding is a single governance observation about a deal.
type Finding struct {
	Severity string `json:"severity"`
	Field    string `json:"field"`
	Message  string `json:"message"`
}

// GovernanceResult is the outcome of auditing one deal against the
// underwriting rules.
type GovernanceResult struct {
	Metrics    *DealMetrics `json:"metrics,omitempty"`
	Findings   []Finding    `json:"findings"`
	Confidence int          `json:"confidence"`
	Status     string       `json:"status"`
}

// Audit checks one deal for anomalies the math alone does not flag and rates
// confidence in the inputs.
func Audit(in DealInput, gov Governance) GovernanceResult {
	res := GovernanceResult{Findings: []Finding{}, Status: "ok"}

	m, ok := Calculate(in, gov)
	if !ok {
		res.Findings = append(res.Findings, Finding{
			Severity: SeverityCritical,
			Field:    "asking_price",
			Message:  "Asking price is missing; metrics cannot be calculated",
		})
		res.Status = SeverityCritical
		return res
	}
	res.Metrics = m

	if in.Sqft > 0 {
		ppsf := in.AskingPrice / in.Sqft
		if ppsf < 10 || ppsf > 2000 {
			res.Findings = append(res.Findings, Finding{
				Severity: SeverityWarning,
				Field:    "sqft",
				Message:  fmt.Sprintf("Price per sqft $%.2f is outside the plausible range [$10, $2000]", ppsf),
			})
		}
	}
	if m.ROI > gov.HighROIWarningThreshold {
		res.Findings = append(res.Findings, Finding{
			Severity: SeverityWarning,
			Field:    "roi",
			Message:  fmt.Sprintf("ROI of %.1f%% exceeds %.0f%%; verify ARV and repair inputs", m.ROI, gov.HighROIWarningThreshold),
		})
	}
	if m.GrossEquity < 0 {
		res.Findings = append(res.Findings, Finding{
			Severity: SeverityCritical,
			Field:    "equity",
			Message:  fmt.Sprintf("Negative equity of $%.0f; cost basis exceeds ARV", -m.GrossEquity),
		})
	}

	confidence := 100
	if in.ARV <= 0 {
		confidence -= 30
	}
	if in.RepairEstimate <= 0 {
		confidence -= 20
	}
	if in.Sqft <= 0 {
		confidence -= 10
	}
	var warn, crit bool
	for _, f := range res.Findings {
		switch f.Severity {
		case SeverityWarning:
			warn = true
		case SeverityCritical:
			crit = true
		}
	}
	if warn {
		confidence -= 10
		res.Status = SeverityWarning
	}
	if crit {
		confidence -= 30
		res.Status = SeverityCritical
	}
	res.Confidence = clampInt(confidence, 0, 100)
	return res
}
