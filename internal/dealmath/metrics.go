package dealmath

import (
	"fmt"
	"strings"
)

// Governance holds the cost and threshold assumptions applied to every deal.
type Governance struct {
	ClosingCostsPct         float64 `json:"closing_costs_pct" yaml:"closing_costs_pct" mapstructure:"closing_costs_pct"`
	HoldingCostsPct         float64 `json:"holding_costs_pct" yaml:"holding_costs_pct" mapstructure:"holding_costs_pct"`
	MAOFactor               float64 `json:"mao_factor" yaml:"mao_factor" mapstructure:"mao_factor"`
	HighROIWarningThreshold float64 `json:"high_roi_warning_threshold" yaml:"high_roi_warning_threshold" mapstructure:"high_roi_warning_threshold"`
	LowEquityThreshold      float64 `json:"low_equity_threshold" yaml:"low_equity_threshold" mapstructure:"low_equity_threshold"`
}

// DefaultGovernance returns the standard underwriting assumptions.
func DefaultGovernance() Governance {
	return Governance{
		ClosingCostsPct:         0.03,
		HoldingCostsPct:         0.02,
		MAOFactor:               0.70,
		HighROIWarningThreshold: 200,
		LowEquityThreshold:      10,
	}
}

// DealInput is the subset of a listing the math engine needs. Zero means
// absent for every numeric field.
type DealInput struct {
	AskingPrice    float64
	ARV            float64
	RepairEstimate float64
	AssignmentFee  float64
	Sqft           float64
	Condition      string
}

// DealMetrics is the derived financial view of a single deal.
type DealMetrics struct {
	GrossEquity      float64  `json:"gross_equity"`
	EquityPercentage float64  `json:"equity_percentage"`
	MAO              float64  `json:"mao"`
	ProjectedProfit  float64  `json:"projected_profit"`
	ROI              float64  `json:"roi"`
	TotalInvestment  float64  `json:"total_investment"`
	Score            int      `json:"score"`
	RiskFactors      []string `json:"risk_factors"`
}

// Calculate derives DealMetrics from input. It returns false when the asking
// price is missing, in which case nothing can be calculated.
func Calculate(in DealInput, gov Governance) (*DealMetrics, bool) {
	if in.AskingPrice <= 0 {
		return nil, false
	}

	risks := []string{}
	arv := in.ARV
	if arv <= 0 {
		arv = in.AskingPrice
		risks = append(risks, "ARV is missing; using asking price as proxy")
	}

	basis := CostBasis(in.AskingPrice, in.RepairEstimate, in.AssignmentFee)
	total := basis + arv*gov.ClosingCostsPct + arv*gov.HoldingCostsPct
	equity := EquityPercentage(arv, basis)
	roi := ROI(arv, total)

	if equity < gov.LowEquityThreshold {
		risks = append(risks, fmt.Sprintf("Low equity margin (%.1f%%)", equity))
	}
	if in.RepairEstimate <= 0 && !strings.EqualFold(in.Condition, "excellent") {
		risks = append(risks, "No repair estimate provided")
	}
	if roi < 0 {
		risks = append(risks, fmt.Sprintf("Negative projected ROI (%.1f%%)", roi))
	}

	return &DealMetrics{
		GrossEquity:      GrossEquity(arv, basis),
		EquityPercentage: equity,
		MAO:              MAO(arv, in.RepairEstimate, in.AssignmentFee, gov.MAOFactor),
		ProjectedProfit:  arv - total,
		ROI:              roi,
		TotalInvestment:  total,
		Score:            DealScore(equity, roi, in.Condition),
		RiskFactors:      risks,
	}, true
}
