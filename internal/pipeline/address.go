package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/deal-audit/internal/model"
	"github.com/sells-group/deal-audit/internal/scorer"
)

// foldKey strips diacritics, lowercases, and drops everything that is not a
// letter or digit: "Café St., #2" becomes "cafest2".
func foldKey(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeAddress returns the comparable address key "address|city|state".
// The title stands in for a missing street address; states are collapsed to
// their abbreviation so "Texas" and "TX" compare equal.
func NormalizeAddress(l model.Listing) string {
	street := l.Address
	if street == "" {
		street = l.Title
	}
	return foldKey(street) + "|" + foldKey(l.City) + "|" + foldKey(scorer.CanonicalState(l.State))
}

// AddressHash fingerprints a listing's normalized address. It is the key of
// the cross-session dedup store.
func AddressHash(l model.Listing) string {
	sum := sha256.Sum256([]byte(NormalizeAddress(l)))
	return hex.EncodeToString(sum[:16])
}

var printer = message.NewPrinter(language.English)

// formatNumber renders n with thousands separators and no decimals.
func formatNumber(n float64) string {
	return printer.Sprintf("%.0f", n)
}
