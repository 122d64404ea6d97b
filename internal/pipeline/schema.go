package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/sells-group/deal-audit/internal/model"
)

// Valid enum values for listing classification fields.
var (
	PropertyTypes = []string{"single_family", "multi_family", "condo", "townhouse", "commercial", "land", "mobile_home", "other"}
	DealTypes     = []string{"fix_and_flip", "buy_and_hold", "wholesale", "subject_to", "seller_finance", "other"}
	Conditions    = []string{"excellent", "good", "fair", "poor", "distressed"}
	Sources       = []string{"MLS", "Craigslist FSBO", "Probate Records", "Facebook Marketplace", "Other", "AI Market Analysis"}
)

var requiredFields = []string{"title", "price", "location", "source"}

// listingSchema builds the canonical listing schema. year_built is capped at
// maxYear, which moves with the audit clock.
func listingSchema(maxYear int) map[string]any {
	str := map[string]any{"type": "string"}
	return map[string]any{
		"$schema":  "http://json-schema.org/draft-07/schema#",
		"type":     "object",
		"required": requiredFields,
		"properties": map[string]any{
			"title":             map[string]any{"type": "string", "minLength": 1},
			"price":             map[string]any{"type": "number", "exclusiveMinimum": 0},
			"location":          map[string]any{"type": "string", "minLength": 1},
			"source":            map[string]any{"type": "string", "enum": Sources},
			"link":              map[string]any{"type": "string", "format": "uri"},
			"description":       str,
			"reasoning":         str,
			"address":           str,
			"city":              str,
			"state":             str,
			"zip_code":          str,
			"ai_score":          map[string]any{"type": "number", "minimum": 0, "maximum": 100},
			"asking_price":      map[string]any{"type": "number", "exclusiveMinimum": 0},
			"arv":               map[string]any{"type": "number", "exclusiveMinimum": 0},
			"repair_estimate":   map[string]any{"type": "number", "minimum": 0},
			"assignment_fee":    map[string]any{"type": "number", "minimum": 0},
			"equity_percentage": map[string]any{"type": "number"},
			"bedrooms":          map[string]any{"type": "integer", "minimum": 0},
			"bathrooms":         map[string]any{"type": "number", "minimum": 0},
			"sqft":              map[string]any{"type": "integer", "exclusiveMinimum": 0},
			"lot_size_sqft":     map[string]any{"type": "integer", "minimum": 0},
			"year_built":        map[string]any{"type": "integer", "minimum": 1800, "maximum": maxYear},
			"property_type":     map[string]any{"type": "string", "enum": PropertyTypes},
			"deal_type":         map[string]any{"type": "string", "enum": DealTypes},
			"condition":         map[string]any{"type": "string", "enum": Conditions},
		},
	}
}

var (
	schemaMu    sync.Mutex
	schemaCache = map[int]*jsonschema.Schema{}
)

// compiledSchema returns the listing schema for maxYear, compiling it once.
func compiledSchema(maxYear int) (*jsonschema.Schema, error) {
	schemaMu.Lock()
	defer schemaMu.Unlock()

	if s, ok := schemaCache[maxYear]; ok {
		return s, nil
	}

	b, err := json.Marshal(listingSchema(maxYear))
	if err != nil {
		return nil, eris.Wrap(err, "schema: marshal")
	}
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	compiler.AssertFormat = true
	if err := compiler.AddResource("listing.json", bytes.NewReader(b)); err != nil {
		return nil, eris.Wrap(err, "schema: add resource")
	}
	s, err := compiler.Compile("listing.json")
	if err != nil {
		return nil, eris.Wrap(err, "schema: compile")
	}
	schemaCache[maxYear] = s
	return s, nil
}

// validateRecord checks rec against the listing schema and returns the
// errors keyed by field. Root-level errors are keyed "general"; a missing
// required property is reported against the field itself.
func validateRecord(s *jsonschema.Schema, rec model.RawRecord) map[string][]string {
	err := s.Validate(map[string]any(rec))
	if err == nil {
		return nil
	}

	errs := map[string][]string{}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		errs["general"] = []string{err.Error()}
		return errs
	}

	for _, leaf := range leafErrors(verr) {
		field := strings.TrimPrefix(leaf.InstanceLocation, "/")
		if field == "" && strings.HasSuffix(leaf.KeywordLocation, "/required") {
			for _, f := range requiredFields {
				if _, ok := rec[f]; !ok {
					errs[f] = append(errs[f], f+" is required")
				}
			}
			continue
		}
		if field == "" {
			field = "general"
		}
		errs[field] = append(errs[field], leaf.Message)
	}
	for _, msgs := range errs {
		sort.Strings(msgs)
	}
	return errs
}

func leafErrors(e *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(e.Causes) == 0 {
		return []*jsonschema.ValidationError{e}
	}
	var out []*jsonschema.ValidationError
	for _, c := range e.Causes {
		out = append(out, leafErrors(c)...)
	}
	return out
}
