package scorer

import (
	"fmt"
	"math"
	"sort"

	"github.com/sells-group/deal-audit/internal/config"
	"github.com/sells-group/deal-audit/internal/dealmath"
	"github.com/sells-group/deal-audit/internal/model"
)

// DealBreakers lists every hard mismatch between a listing and a buy box.
// With strict set, a listing that omits a constrained field also breaks the
// deal; otherwise only a present, disallowed value does.
func DealBreakers(l model.Listing, b model.BuyBox, strict bool) []string {
	var out []string
	check := func(value string) bool { return value != "" || strict }

	if len(b.PropertyTypes) > 0 && check(l.PropertyType) && !containsFold(b.PropertyTypes, l.PropertyType) {
		out = append(out, fmt.Sprintf("Property type '%s' not in buy box", l.PropertyType))
	}
	if len(b.DealTypes) > 0 && check(l.DealType) && !containsFold(b.DealTypes, l.DealType) {
		out = append(out, fmt.Sprintf("Deal type '%s' not in buy box", l.DealType))
	}
	if len(b.TargetStates) > 0 && check(l.State) && !containsState(b.TargetStates, l.State) {
		out = append(out, fmt.Sprintf("State '%s' outside target market", l.State))
	}
	return out
}

// ScoreBuyBox rates a listing's relevance to one buy box. Deductions and
// bonuses are fixed base points scaled by the entity weights. Equity is
// taken from m, never from the listing's self-reported value.
func ScoreBuyBox(l model.Listing, m *dealmath.DealMetrics, b model.BuyBox, ew config.EntityWeightsConfig) model.BuyBoxScore {
	res := model.BuyBoxScore{BuyBoxID: b.ID}

	if breakers := DealBreakers(l, b, false); len(breakers) > 0 {
		res.DealBreak = true
		res.Reasons = breakers
		return res
	}

	score := 100
	price := l.EffectivePrice()
	arv := model.Value(l.ARV)

	if lo := model.Value(b.MinPrice); lo > 0 && price > 0 && price < lo {
		score -= points(10, ew.PriceRange)
		res.Reasons = append(res.Reasons, fmt.Sprintf("Below min price ($%.0f)", lo))
	}
	if hi := model.Value(b.MaxPrice); hi > 0 && price > hi {
		score -= points(10, ew.PriceRange)
		res.Reasons = append(res.Reasons, fmt.Sprintf("Above max price ($%.0f)", hi))
	}
	if lo := model.Value(b.MinARV); lo > 0 && arv > 0 && arv < lo {
		score -= points(8, ew.Financial)
		res.Reasons = append(res.Reasons, fmt.Sprintf("ARV below target ($%.0f)", lo))
	}
	if hi := model.Value(b.MaxARV); hi > 0 && arv > hi {
		score -= points(5, ew.Financial)
		res.Reasons = append(res.Reasons, fmt.Sprintf("ARV above maximum ($%.0f)", hi))
	}
	if lo := model.Value(b.MinEquity); lo > 0 && m != nil && m.EquityPercentage < lo {
		score -= points(12, ew.Financial)
		res.Reasons = append(res.Reasons, fmt.Sprintf("Equity %.1f%% below target %.0f%%", m.EquityPercentage, lo))
	}

	if l.City != "" && containsFold(b.TargetCities, l.City) {
		score += points(5, ew.Location)
		res.Reasons = append(res.Reasons, "In target city")
	}
	if l.ZipCode != "" && containsFold(b.TargetZipCodes, l.ZipCode) {
		score += 5
		res.Reasons = append(res.Reasons, "In target zip code")
	}
	if l.Condition != "" && containsFold(b.PreferredConditions, l.Condition) {
		score += points(3, ew.Condition)
		res.Reasons = append(res.Reasons, "Matches preferred condition")
	}

	res.Score = clamp(score, 0, 100)
	return res
}

func points(base, weight float64) int {
	return int(math.Round(base * weight))
}

// MatchResult is a listing's live fit against one buy box.
type MatchResult struct {
	BuyBoxID   string                `json:"buy_box_id"`
	BuyBoxName string                `json:"buy_box_name,omitempty"`
	Score      int                   `json:"score"`
	IsMatch    bool                  `json:"is_match"`
	Positive   []string              `json:"positive"`
	Negative   []string              `json:"negative"`
	Metrics    *dealmath.DealMetrics `json:"metrics,omitempty"`
}

// MatchThreshold is the score a listing must exceed to count as a match.
const MatchThreshold = 60

// FitScore rates a listing against a buy box for marketplace display. Equity
// and ROI checks use m, the recalculated metrics, and are skipped when m is
// nil.
func FitScore(l model.Listing, m *dealmath.DealMetrics, b model.BuyBox) MatchResult {
	res := MatchResult{
		BuyBoxID:   b.ID,
		BuyBoxName: b.Name,
		Positive:   []string{},
		Negative:   []string{},
		Metrics:    m,
	}

	if breakers := DealBreakers(l, b, true); len(breakers) > 0 {
		res.Negative = append(res.Negative, breakers...)
		return res
	}

	score := 100
	price := l.EffectivePrice()

	if lo := model.Value(b.MinPrice); lo > 0 && price < lo {
		score -= 20
		res.Negative = append(res.Negative, fmt.Sprintf("Price below minimum ($%.0f)", lo))
	}
	if hi := model.Value(b.MaxPrice); hi > 0 && price > hi {
		score -= 20
		res.Negative = append(res.Negative, fmt.Sprintf("Price above maximum ($%.0f)", hi))
	}
	if lo := model.Value(b.MinARV); lo > 0 && model.Value(l.ARV) > 0 && model.Value(l.ARV) < lo {
		score -= 10
		res.Negative = append(res.Negative, "ARV below target")
	}

	if m != nil {
		minEquity := model.Value(b.MinEquity)
		switch {
		case minEquity > 0 && m.EquityPercentage < minEquity:
			score -= 30
			res.Negative = append(res.Negative, fmt.Sprintf("Equity (%.0f%%) below target (%.0f%%)", m.EquityPercentage, minEquity))
		case m.EquityPercentage >= orDefault(minEquity, 20):
			res.Positive = append(res.Positive, "Meets equity requirements")
		}
		if m.ROI > 15 {
			res.Positive = append(res.Positive, "Strong projected ROI")
		}
	}

	if l.ZipCode != "" && containsFold(b.TargetZipCodes, l.ZipCode) {
		score += 10
		res.Positive = append(res.Positive, "In target zip code")
	}

	res.Score = clamp(score, 0, 100)
	res.IsMatch = res.Score > MatchThreshold
	return res
}

// Match recalculates the listing's metrics under gov and scores it against
// the buy box.
func Match(l model.Listing, b model.BuyBox, gov dealmath.Governance) MatchResult {
	m, _ := dealmath.Calculate(l.DealInput(), gov)
	return FitScore(l, m, b)
}

// MatchAll scores a listing against every buy box, best fit first. Ties
// keep buy-box order.
func MatchAll(l model.Listing, boxes []model.BuyBox, gov dealmath.Governance) []MatchResult {
	m, _ := dealmath.Calculate(l.DealInput(), gov)
	out := make([]MatchResult, 0, len(boxes))
	for _, b := range boxes {
		out = append(out, FitScore(l, m, b))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func orDefault(v, def float64) float64 {
	if v > 0 {
		return v
	}
	return def
}
