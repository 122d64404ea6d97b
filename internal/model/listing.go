// Package model holds the data types shared across the audit pipeline,
// stores, and transports.
package model

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/sells-group/deal-audit/internal/dealmath"
)

// RawRecord is an untrusted listing as received from a scraper: any subset
// of keys, values of any JSON type.
type RawRecord map[string]any

// Clone returns a shallow copy of the record.
func (r RawRecord) Clone() RawRecord {
	out := make(RawRecord, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String returns the trimmed string value for key, or "" when the key is
// absent or not a string.
func (r RawRecord) String(key string) string {
	s, _ := r[key].(string)
	return strings.TrimSpace(s)
}

// Number returns the numeric value for key. Strings are not parsed.
func (r RawRecord) Number(key string) (float64, bool) {
	switch n := r[key].(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Has reports whether key carries a non-empty value.
func (r RawRecord) Has(key string) bool {
	v, ok := r[key]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr {
		return strings.TrimSpace(s) != ""
	}
	return true
}

// Listing is the typed view of a coerced record. Nil pointers and empty
// strings mean the field is absent.
type Listing struct {
	Title        string `json:"title,omitempty"`
	Location     string `json:"location,omitempty"`
	Source       string `json:"source,omitempty"`
	Link         string `json:"link,omitempty"`
	Description  string `json:"description,omitempty"`
	Address      string `json:"address,omitempty"`
	City         string `json:"city,omitempty"`
	State        string `json:"state,omitempty"`
	ZipCode      string `json:"zip_code,omitempty"`
	PropertyType string `json:"property_type,omitempty"`
	DealType     string `json:"deal_type,omitempty"`
	Condition    string `json:"condition,omitempty"`

	Price            *float64 `json:"price,omitempty"`
	AskingPrice      *float64 `json:"asking_price,omitempty"`
	ARV              *float64 `json:"arv,omitempty"`
	RepairEstimate   *float64 `json:"repair_estimate,omitempty"`
	AssignmentFee    *float64 `json:"assignment_fee,omitempty"`
	Bedrooms         *float64 `json:"bedrooms,omitempty"`
	Bathrooms        *float64 `json:"bathrooms,omitempty"`
	Sqft             *float64 `json:"sqft,omitempty"`
	LotSizeSqft      *float64 `json:"lot_size_sqft,omitempty"`
	YearBuilt        *float64 `json:"year_built,omitempty"`
	EquityPercentage *float64 `json:"equity_percentage,omitempty"`
	AIScore          *float64 `json:"ai_score,omitempty"`
}

// DecodeListing builds the typed view of a record. Numeric fields holding
// anything other than a number decode as absent.
func DecodeListing(r RawRecord) Listing {
	num := func(key string) *float64 {
		if f, ok := r.Number(key); ok {
			return &f
		}
		return nil
	}
	return Listing{
		Title:            r.String("title"),
		Location:         r.String("location"),
		Source:           r.String("source"),
		Link:             r.String("link"),
		Description:      r.String("description"),
		Address:          r.String("address"),
		City:             r.String("city"),
		State:            r.String("state"),
		ZipCode:          r.String("zip_code"),
		PropertyType:     r.String("property_type"),
		DealType:         r.String("deal_type"),
		Condition:        r.String("condition"),
		Price:            num("price"),
		AskingPrice:      num("asking_price"),
		ARV:              num("arv"),
		RepairEstimate:   num("repair_estimate"),
		AssignmentFee:    num("assignment_fee"),
		Bedrooms:         num("bedrooms"),
		Bathrooms:        num("bathrooms"),
		Sqft:             num("sqft"),
		LotSizeSqft:      num("lot_size_sqft"),
		YearBuilt:        num("year_built"),
		EquityPercentage: num("equity_percentage"),
		AIScore:          num("ai_score"),
	}
}

// EffectivePrice is the asking price, falling back to the list price.
func (l Listing) EffectivePrice() float64 {
	if v := Value(l.AskingPrice); v > 0 {
		return v
	}
	return Value(l.Price)
}

// Value dereferences p, treating nil as 0.
func Value(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// Float returns a pointer to f.
func Float(f float64) *float64 {
	return &f
}

// DealInput extracts the fields the math engine needs.
func (l Listing) DealInput() dealmath.DealInput {
	return dealmath.DealInput{
		AskingPrice:    l.EffectivePrice(),
		ARV:            Value(l.ARV),
		RepairEstimate: Value(l.RepairEstimate),
		AssignmentFee:  Value(l.AssignmentFee),
		Sqft:           Value(l.Sqft),
		Condition:      l.Condition,
	}
}
