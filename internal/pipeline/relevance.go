package pipeline

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sells-group/deal-audit/internal/config"
	"github.com/sells-group/deal-audit/internal/dealmath"
	"github.com/sells-group/deal-audit/internal/model"
	"github.com/sells-group/deal-audit/internal/scorer"
)

const noBuyBoxBaseline = 50

var criticalFields = []string{"title", "price", "location", "source", "address", "city", "state"}

// RelevanceOptions tunes the relevance agent.
type RelevanceOptions struct {
	Threshold            int
	MinDescriptionLength int
	MinRequiredFields    int
	EntityWeights        config.EntityWeightsConfig
	Governance           dealmath.Governance
}

type domainRules struct {
	whitelist []string
	blacklist []string
}

func splitDomainRules(rules []model.DomainRule) domainRules {
	var dr domainRules
	for _, r := range rules {
		d := strings.ToLower(strings.TrimSpace(r.Domain))
		if d == "" {
			continue
		}
		switch r.RuleType {
		case model.RuleWhitelist:
			dr.whitelist = append(dr.whitelist, d)
		case model.RuleBlacklist:
			dr.blacklist = append(dr.blacklist, d)
		}
	}
	return dr
}

// check returns a rejection reason when the record's link or source violates
// the domain rules.
func (dr domainRules) check(l model.Listing) string {
	link := strings.ToLower(l.Link)
	source := strings.ToLower(l.Source)
	for _, d := range dr.blacklist {
		if strings.Contains(link, d) || strings.Contains(source, d) {
			return fmt.Sprintf("Source domain %q is blacklisted", d)
		}
	}
	if len(dr.whitelist) > 0 && strings.HasPrefix(link, "http") {
		for _, d := range dr.whitelist {
			if strings.Contains(link, d) {
				return ""
			}
		}
		return "Source not in domain whitelist"
	}
	return ""
}

// thinContent returns a rejection reason for records too sparse to judge.
func thinContent(rec model.RawRecord, l model.Listing, opts RelevanceOptions) string {
	if n := utf8.RuneCountInString(l.Description); n > 0 && n < opts.MinDescriptionLength {
		return fmt.Sprintf("Description too thin (%d chars, min: %d)", n, opts.MinDescriptionLength)
	}
	missing := 0
	for _, f := range criticalFields {
		if !rec.Has(f) {
			missing++
		}
	}
	if missing > opts.MinRequiredFields {
		return fmt.Sprintf("Too many missing critical fields (%d missing, max allowed: %d)", missing, opts.MinRequiredFields)
	}
	return ""
}

// Relevance scores every record against the buy boxes. Records rejected by
// domain rules or thin content score 0. Otherwise the best buy-box score
// wins (50 when no buy boxes are configured) and the keyword bonus is added
// unless every buy box hit a deal breaker.
func Relevance(records []model.RawRecord, listings []model.Listing, boxes []model.BuyBox, rules []model.DomainRule, opts RelevanceOptions) model.RelevanceReport {
	report := model.RelevanceReport{
		TotalRecords: len(records),
		Results:      make([]model.RelevanceResult, 0, len(records)),
	}
	dr := splitDomainRules(rules)
	total := 0

	for i, rec := range records {
		l := listings[i]
		res := model.RelevanceResult{RecordIndex: i}

		reason := dr.check(l)
		if reason == "" {
			reason = thinContent(rec, l, opts)
		}
		if reason != "" {
			res.RejectionReason = reason
			res.Reasons = []string{reason}
			report.Results = append(report.Results, res)
			report.Irrelevant++
			continue
		}

		score, reasons, allBroken := bestBuyBox(l, boxes, opts, &res)
		if !allBroken {
			bonus, kw := scorer.KeywordBonus(l.Title, l.Description)
			res.KeywordBonus = bonus
			score += bonus
			reasons = append(reasons, kw...)
		}

		res.FitScore = min(100, max(0, score))
		res.IsRelevant = res.FitScore >= opts.Threshold
		res.Reasons = reasons
		if res.Reasons == nil {
			res.Reasons = []string{}
		}
		if res.IsRelevant {
			report.Relevant++
		} else {
			report.Irrelevant++
		}
		total += res.FitScore
		report.Results = append(report.Results, res)
	}

	if len(records) > 0 {
		report.AvgFitScore = dealmath.Round1(float64(total) / float64(len(records)))
	}
	return report
}

// bestBuyBox scores l against every buy box and records the per-box scores
// on res. allBroken reports that every buy box hit a deal breaker.
func bestBuyBox(l model.Listing, boxes []model.BuyBox, opts RelevanceOptions, res *model.RelevanceResult) (int, []string, bool) {
	if len(boxes) == 0 {
		return noBuyBoxBaseline, []string{"No buy box configured; base score"}, false
	}

	m, _ := dealmath.Calculate(l.DealInput(), opts.Governance)
	best := 0
	var reasons, breakers []string
	allBroken := true
	for _, b := range boxes {
		s := scorer.ScoreBuyBox(l, m, b, opts.EntityWeights)
		res.BuyBoxScores = append(res.BuyBoxScores, s)
		if s.DealBreak {
			breakers = append(breakers, s.Reasons...)
			continue
		}
		allBroken = false
		if s.Score > best {
			best = s.Score
			reasons = s.Reasons
			res.MatchedBuyBox = b.ID
		}
	}
	if allBroken {
		return 0, breakers, true
	}
	return best, append([]string{}, reasons...), false
}
