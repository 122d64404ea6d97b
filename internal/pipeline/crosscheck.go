package pipeline

import (
	"fmt"
	"math"

	"github.com/sells-group/deal-audit/internal/dealmath"
	"github.com/sells-group/deal-audit/internal/model"
)

const (
	mismatchThreshold = 5.0
	maoDriftFactor    = 1.3
	baselineDriftPct  = 20.0
)

// PercentDeviation is |reported-calculated|/calculated as a percentage. A
// calculated value of 0 yields 100 unless reported is also 0.
func PercentDeviation(reported, calculated float64) float64 {
	if calculated == 0 {
		if reported == 0 {
			return 0
		}
		return 100
	}
	return math.Abs((reported - calculated) / calculated * 100)
}

// CrossCheck recalculates each record's metrics and compares them with the
// self-reported equity percentage and AI score. baseline may be nil.
func CrossCheck(listings []model.Listing, gov dealmath.Governance, baseline *model.Baseline) model.CrossCheckReport {
	report := model.CrossCheckReport{
		TotalRecords:    len(listings),
		Results:         make([]model.CrossCheckResult, 0, len(listings)),
		Recommendations: []string{},
	}

	for i, l := range listings {
		res := model.CrossCheckResult{RecordIndex: i, Mismatches: []model.Mismatch{}, DriftFlags: []string{}}

		m, ok := dealmath.Calculate(l.DealInput(), gov)
		if !ok {
			res.DriftFlags = append(res.DriftFlags, "Could not calculate metrics; insufficient data")
			report.Results = append(report.Results, res)
			continue
		}
		res.Metrics = m

		if l.AIScore != nil {
			if dev := PercentDeviation(*l.AIScore, float64(m.Score)); dev > mismatchThreshold {
				res.Mismatches = append(res.Mismatches, model.Mismatch{
					Field:      "deal_score",
					Reported:   *l.AIScore,
					Calculated: float64(m.Score),
					Deviation:  dealmath.Round1(dev),
				})
			}
		}
		if l.EquityPercentage != nil {
			if dev := PercentDeviation(*l.EquityPercentage, m.EquityPercentage); dev > mismatchThreshold {
				res.Mismatches = append(res.Mismatches, model.Mismatch{
					Field:      "equity_percentage",
					Reported:   *l.EquityPercentage,
					Calculated: dealmath.Round1(m.EquityPercentage),
					Deviation:  dealmath.Round1(dev),
				})
			}
		}

		if price := l.EffectivePrice(); m.MAO > 0 && price > m.MAO*maoDriftFactor {
			res.DriftFlags = append(res.DriftFlags, fmt.Sprintf(
				"Asking price ($%s) is %d%% above MAO ($%s); may not be a viable deal",
				formatNumber(price), int(math.Round((price/m.MAO-1)*100)), formatNumber(m.MAO)))
		}
		if m.ROI < 0 {
			res.DriftFlags = append(res.DriftFlags, fmt.Sprintf("Negative ROI (%.1f%%); deal may lose money", m.ROI))
		}

		report.TotalMismatches += len(res.Mismatches)
		if len(res.Mismatches) > 0 {
			report.MismatchedRecords++
		}
		report.Results = append(report.Results, res)
	}

	if baseline != nil && baseline.SessionCount > 0 {
		avgPrice, avgARV := batchAverages(listings)
		if avgPrice > 0 && baseline.AvgPrice > 0 {
			dev := PercentDeviation(avgPrice, baseline.AvgPrice)
			rounded := dealmath.Round1(dev)
			report.BaselineDeviation = &rounded
			if dev > baselineDriftPct {
				report.Recommendations = append(report.Recommendations, fmt.Sprintf(
					"Average price $%s deviates %.1f%% from the historical baseline $%s; check for market or source drift",
					formatNumber(avgPrice), dev, formatNumber(baseline.AvgPrice)))
			}
		}
		if avgARV > 0 && baseline.AvgARV > 0 {
			if dev := PercentDeviation(avgARV, baseline.AvgARV); dev > baselineDriftPct {
				report.Recommendations = append(report.Recommendations, fmt.Sprintf(
					"Average ARV $%s deviates %.1f%% from the historical baseline $%s; check for market or source drift",
					formatNumber(avgARV), dev, formatNumber(baseline.AvgARV)))
			}
		}
	}

	if len(listings) > 0 && float64(report.MismatchedRecords) > float64(len(listings))*0.5 {
		report.Recommendations = append(report.Recommendations,
			"More than 50% of records have calculation mismatches; review AI scoring logic or data source quality")
	}
	return report
}

// batchAverages returns the mean effective price and mean ARV over the
// records that carry them.
func batchAverages(listings []model.Listing) (avgPrice, avgARV float64) {
	var sumPrice, sumARV float64
	var nPrice, nARV int
	for _, l := range listings {
		if p := l.EffectivePrice(); p > 0 {
			sumPrice += p
			nPrice++
		}
		if a := model.Value(l.ARV); a > 0 {
			sumARV += a
			nARV++
		}
	}
	if nPrice > 0 {
		avgPrice = sumPrice / float64(nPrice)
	}
	if nARV > 0 {
		avgARV = sumARV / float64(nARV)
	}
	return avgPrice, avgARV
}
