package pipeline

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/sells-group/deal-audit/internal/model"
)

const (
	fuzzyMinTitleLen = 10
	titleIndexMinLen = 5
	fuzzySimilarity  = 85
	unknownSource    = "unknown"
)

// Levenshtein returns the edit distance between a and b, counted in runes.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// Similarity is the case-insensitive edit similarity of a and b on a 0-100
// scale. Two empty strings are identical.
func Similarity(a, b string) int {
	a, b = strings.ToLower(a), strings.ToLower(b)
	maxLen := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if maxLen == 0 {
		return 100
	}
	return int(math.Round(float64(maxLen-Levenshtein(a, b)) / float64(maxLen) * 100))
}

// priceDeviation is the percent difference of price from reference. A
// missing reference counts as a full deviation.
func priceDeviation(price, reference float64) float64 {
	if reference <= 0 {
		return 100
	}
	return math.Abs(price-reference) / reference * 100
}

type seenTitle struct {
	title string
	index int
}

// Dedup judges every record against the cross-session hash set known and
// against earlier records in the batch. Checks run in order: cross-session
// hash, in-batch hash, fuzzy title with price proximity, then price
// proximity at an identical address. Only records judged unique enter the
// in-batch hash index and the returned NewHashes.
func Dedup(listings []model.Listing, known map[string]bool, priceVariance float64) model.DedupReport {
	report := model.DedupReport{
		TotalRecords: len(listings),
		Results:      make([]model.DedupResult, 0, len(listings)),
		NewHashes:    []model.DedupHashRecord{},
	}

	hashes := make([]string, len(listings))
	for i, l := range listings {
		hashes[i] = AddressHash(l)
	}

	index := make(map[string]int, len(listings))
	var titles []seenTitle
	titleSeen := map[string]bool{}

	for i, l := range listings {
		hash := hashes[i]
		price := l.EffectivePrice()
		title := strings.ToLower(strings.TrimSpace(l.Title))
		res := model.DedupResult{RecordIndex: i, AddressHash: hash}

		switch {
		case known[hash]:
			res.IsDuplicate = true
			res.DuplicateType = model.MatchExact
			res.CrossSession = true
			res.SimilarityScore = 100
			res.Details = "Address seen in a previous session"
			report.CrossSessionHits++
		case hasIndex(index, hash):
			j := index[hash]
			res.IsDuplicate = true
			res.DuplicateType = model.MatchExact
			res.MatchedIndex = &j
			res.SimilarityScore = 100
			res.Details = fmt.Sprintf("Same address as record #%d", j+1)
		}

		if !res.IsDuplicate && utf8.RuneCountInString(title) > fuzzyMinTitleLen {
			for _, t := range titles {
				sim := Similarity(title, t.title)
				if sim < fuzzySimilarity {
					continue
				}
				dev := priceDeviation(price, listings[t.index].EffectivePrice())
				if dev <= priceVariance {
					j := t.index
					res.IsDuplicate = true
					res.DuplicateType = model.MatchFuzzyTitle
					res.MatchedIndex = &j
					res.SimilarityScore = sim
					res.Details = fmt.Sprintf("Title %d%% similar to record #%d, price within %.1f%%", sim, j+1, dev)
					break
				}
			}
		}

		if !res.IsDuplicate {
			for j := 0; j < i; j++ {
				if hashes[j] != hash {
					continue
				}
				dev := priceDeviation(price, listings[j].EffectivePrice())
				if dev <= priceVariance {
					res.IsDuplicate = true
					res.DuplicateType = model.MatchPriceProximity
					res.MatchedIndex = &j
					res.SimilarityScore = int(math.Round(100 - dev))
					res.Details = fmt.Sprintf("Same address as record #%d, price within %.1f%%", j+1, dev)
					break
				}
			}
		}

		if utf8.RuneCountInString(title) > titleIndexMinLen && !titleSeen[title] {
			titleSeen[title] = true
			titles = append(titles, seenTitle{title: title, index: i})
		}

		if !hasIndex(index, hash) {
			index[hash] = i
		}

		if res.IsDuplicate {
			report.DuplicatesFound++
		} else {
			source := l.Source
			if source == "" {
				source = unknownSource
			}
			report.NewHashes = append(report.NewHashes, model.DedupHashRecord{
				AddressHash: hash,
				Price:       price,
				Source:      source,
			})
		}
		report.Results = append(report.Results, res)
	}

	report.UniqueRecords = report.TotalRecords - report.DuplicatesFound
	return report
}

func hasIndex(index map[string]int, hash string) bool {
	_, ok := index[hash]
	return ok
}
