package scorer

import (
	"fmt"
	"strings"
)

// KeywordCategory is a family of phrases that adjust relevance when found
// in a listing's title or description.
type KeywordCategory struct {
	Name     string
	Keywords []string
	Weight   int
}

// KeywordCategories are evaluated in order; only the first match in each
// category counts.
var KeywordCategories = []KeywordCategory{
	{
		Name:     "high_value",
		Keywords: []string{"motivated seller", "below market", "must sell", "price reduced", "distressed", "foreclosure", "short sale", "as-is"},
		Weight:   15,
	},
	{
		Name:     "investment",
		Keywords: []string{"investment", "investor", "cash flow", "rental income", "cap rate", "roi", "fixer", "rehab"},
		Weight:   10,
	},
	{
		Name:     "negative",
		Keywords: []string{"scam", "timeshare", "vacation", "fractional", "nft", "crypto"},
		Weight:   -30,
	},
}

// KeywordBonus scans texts for keyword categories and returns the summed
// bonus with one reason per matched category.
func KeywordBonus(texts ...string) (int, []string) {
	bonus := 0
	var reasons []string
	for _, cat := range KeywordCategories {
		matched := matchKeywords(cat.Keywords, texts...)
		if len(matched) == 0 {
			continue
		}
		bonus += cat.Weight
		if cat.Weight > 0 {
			reasons = append(reasons, fmt.Sprintf("Keyword match: %q (+%d)", matched[0], cat.Weight))
		} else {
			reasons = append(reasons, fmt.Sprintf("Negative keyword: %q (%d)", matched[0], cat.Weight))
		}
	}
	return bonus, reasons
}

// matchKeywords returns the keywords found (case-insensitive) in any of the
// given texts, in keyword order.
func matchKeywords(keywords []string, texts ...string) []string {
	var combined string
	for _, t := range texts {
		if t != "" {
			combined += " " + strings.ToLower(t)
		}
	}
	if combined == "" {
		return nil
	}

	var matched []string
	for _, kw := range keywords {
		if strings.Contains(combined, strings.ToLower(kw)) {
			matched = append(matched, kw)
		}
	}
	return matched
}
