// Package scorer holds the scoring rules shared by the audit pipeline and
// the live matching engine: agent weighting, buy-box fit, and keyword
// relevance.
package scorer

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/deal-audit/internal/config"
)

// DefaultWeights returns the standard agent weighting. Weights sum to 1.
func DefaultWeights() config.WeightsConfig {
	return config.WeightsConfig{
		Integrity:  0.25,
		Structural: 0.20,
		Relevance:  0.20,
		CrossCheck: 0.20,
		Dedup:      0.15,
	}
}

// DefaultEntityWeights returns the standard relevance entity multipliers.
func DefaultEntityWeights() config.EntityWeightsConfig {
	return config.EntityWeightsConfig{
		Location:     2.0,
		DealType:     3.0,
		PropertyType: 2.5,
		Condition:    1.5,
		PriceRange:   2.0,
		Financial:    1.8,
	}
}

// ValidateWeights checks that w is a usable weighting.
func ValidateWeights(w config.WeightsConfig) error {
	var errs []string

	for _, c := range []struct {
		name string
		w    float64
	}{
		{"integrity", w.Integrity},
		{"structural", w.Structural},
		{"relevance", w.Relevance},
		{"crosscheck", w.CrossCheck},
		{"dedup", w.Dedup},
	} {
		if c.w < 0 {
			errs = append(errs, fmt.Sprintf("%s weight must be >= 0", c.name))
		}
	}

	if sum := w.Sum(); math.Abs(sum-1.0) > 1e-6 {
		errs = append(errs, fmt.Sprintf("weights should sum to 1.0, got %.3f", sum))
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: weights validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Components are the per-agent scores, each on a 0-100 scale.
type Components struct {
	Integrity  float64 `json:"integrity"`
	Structural float64 `json:"structural"`
	Relevance  float64 `json:"relevance"`
	CrossCheck float64 `json:"crosscheck"`
	Dedup      float64 `json:"dedup"`
}

// Overall combines component scores into the rounded weighted mean.
func Overall(c Components, w config.WeightsConfig) int {
	total := c.Integrity*w.Integrity +
		c.Structural*w.Structural +
		c.Relevance*w.Relevance +
		c.CrossCheck*w.CrossCheck +
		c.Dedup*w.Dedup
	return clamp(int(math.Round(total)), 0, 100)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
