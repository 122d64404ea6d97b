// Package dealmath is the single source of financial math for listing audits:
// equity, maximum allowable offer, ROI, and the rule-based deal score.
package dealmath

import (
	"math"
	"strconv"
	"strings"
)

// SanitizeNumber converts a loosely typed value into a float64. Numbers pass
// through, strings are stripped of currency symbols, commas and whitespace
// (a trailing k or m multiplies by a thousand or a million). Anything that
// cannot be read as a finite number yields 0.
func SanitizeNumber(v any) float64 {
	switch n := v.(type) {
	case nil:
		return 0
	case float64:
		return finite(n)
	case float32:
		return finite(float64(n))
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint64:
		return float64(n)
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		if err != nil {
			return 0
		}
		return finite(f)
	case string:
		f, _ := ParseAmount(n)
		return f
	default:
		return 0
	}
}

// ParseAmount parses a human-entered amount such as "$150,000", "1.2m" or
// "350k". The bool reports whether the string held a finite number.
func ParseAmount(s string) (float64, bool) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '$', ',', ' ', '\t', '\n', '\u00a0':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(s)))
	if clean == "" {
		return 0, false
	}

	mult := 1.0
	switch {
	case strings.HasSuffix(clean, "k"):
		mult = 1e3
		clean = strings.TrimSuffix(clean, "k")
	case strings.HasSuffix(clean, "m"):
		mult = 1e6
		clean = strings.TrimSuffix(clean, "m")
	}

	f, err := strconv.ParseFloat(clean, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f * mult, true
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// CostBasis is the total acquisition cost of a deal.
func CostBasis(price, repairs, assignment float64) float64 {
	return price + repairs + assignment
}

// EquityPercentage returns the equity margin as a percentage of ARV. Equity is
// always measured against the full cost basis (price + repairs + assignment);
// callers with no repairs or fee simply pass the price.
func EquityPercentage(arv, costBasis float64) float64 {
	if arv == 0 {
		return 0
	}
	return (arv - costBasis) / arv * 100
}

// GrossEquity is the dollar spread between ARV and cost basis.
func GrossEquity(arv, costBasis float64) float64 {
	return arv - costBasis
}

// MAO is the maximum allowable offer: ARV discounted by factor, less repairs
// and the assignment fee.
func MAO(arv, repairs, assignment, factor float64) float64 {
	return arv*factor - repairs - assignment
}

// ROI returns projected profit over total investment as a percentage.
func ROI(arv, totalInvestment float64) float64 {
	if totalInvestment == 0 {
		return 0
	}
	return (arv - totalInvestment) / totalInvestment * 100
}

// DealScore is the rule-based 0-100 quality score.
func DealScore(equityPct, roi float64, condition string) int {
	score := 50
	switch {
	case equityPct > 20:
		score += 20
	case equityPct > 10:
		score += 10
	}
	if roi > 15 {
		score += 10
	}
	if roi > 30 {
		score += 10
	}

	c := strings.ToLower(condition)
	if strings.Contains(c, "distressed") || strings.Contains(c, "poor") || strings.Contains(c, "tear") {
		score -= 10
	}
	return clampInt(score, 0, 100)
}

// Round1 rounds to one decimal place.
func Round1(f float64) float64 {
	return math.Round(f*10) / 10
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
