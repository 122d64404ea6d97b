package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deal-audit/internal/model"
)

func validRecord() model.RawRecord {
	return model.RawRecord{
		"title":    "Flip opportunity in Austin",
		"price":    150000.0,
		"location": "Austin, TX",
		"source":   "MLS",
		"link":     "https://example.com/listing/1",
	}
}

func TestCoerce_MessyRecord(t *testing.T) {
	rec := model.RawRecord{
		"price":         "$165,000",
		"bedrooms":      "3",
		"sqft":          "1,850",
		"year_built":    "1995",
		"bathrooms":     "2.5",
		"property_type": "Single Family",
		"condition":     "needs work",
	}

	out, corrections := Coerce(rec)

	assert.Equal(t, 165000.0, out["price"])
	assert.Equal(t, 3.0, out["bedrooms"])
	assert.Equal(t, 1850.0, out["sqft"])
	assert.Equal(t, 1995.0, out["year_built"])
	assert.Equal(t, 2.5, out["bathrooms"])
	assert.Equal(t, "single_family", out["property_type"])
	assert.Equal(t, "fair", out["condition"])
	require.Len(t, corrections, 7)
	assert.Equal(t, "price", corrections[0].Field)
	assert.Equal(t, "$165,000", corrections[0].From)
	assert.Equal(t, 165000.0, corrections[0].To)

	// Input is not modified.
	assert.Equal(t, "$165,000", rec["price"])
}

func TestCoerce_Idempotent(t *testing.T) {
	rec := model.RawRecord{
		"price":         "$1.2m",
		"arv":           "350k",
		"bedrooms":      "4 beds",
		"bathrooms":     "1.5 baths",
		"property_type": "duplex",
		"deal_type":     "Fix-And-Flip",
		"condition":     "Like New",
		"description":   nil,
	}

	once, first := Coerce(rec)
	require.NotEmpty(t, first)
	twice, second := Coerce(once)

	assert.Empty(t, second)
	assert.Equal(t, once, twice)
	assert.Equal(t, 1.2e6, once["price"])
	assert.Equal(t, 350000.0, once["arv"])
	assert.Equal(t, 4.0, once["bedrooms"])
	assert.Equal(t, 1.5, once["bathrooms"])
	assert.Equal(t, "multi_family", once["property_type"])
	assert.Equal(t, "fix_and_flip", once["deal_type"])
	assert.Equal(t, "excellent", once["condition"])
	assert.NotContains(t, once, "description")
}

func TestCoerce_Aliases(t *testing.T) {
	tests := []struct {
		field string
		in    string
		want  string
	}{
		{"property_type", "house", "single_family"},
		{"property_type", "Vacant Land", "land"},
		{"property_type", "office", "commercial"},
		{"property_type", "manufactured", "mobile_home"},
		{"property_type", "castle", "castle"},
		{"condition", "Tear-Down", "distressed"},
		{"condition", "move in ready", "good"},
		{"condition", " GOOD ", "good"},
		{"condition", "fixer upper", "poor"},
	}
	for _, tt := range tests {
		t.Run(tt.field+"/"+tt.in, func(t *testing.T) {
			out, _ := Coerce(model.RawRecord{tt.field: tt.in})
			assert.Equal(t, tt.want, out[tt.field])
		})
	}
}

func TestCoerce_UnparsableLeftAlone(t *testing.T) {
	rec := model.RawRecord{"price": "call for price", "sqft": "unknown", "bathrooms": "n/a"}
	out, corrections := Coerce(rec)
	assert.Empty(t, corrections)
	assert.Equal(t, "call for price", out["price"])
	assert.Equal(t, "unknown", out["sqft"])
}

func TestStructural_Compliance(t *testing.T) {
	invalid := model.RawRecord{
		"title":  "",
		"price":  -5.0,
		"source": "Zillow",
	}

	report, err := Structural([]model.RawRecord{validRecord(), invalid}, 2027)
	require.NoError(t, err)

	assert.Equal(t, 2, report.TotalRecords)
	assert.Equal(t, 1, report.ValidRecords)
	assert.Equal(t, 1, report.InvalidRecords)
	assert.Equal(t, 50, report.ComplianceScore)
	require.Len(t, report.Validations, 2)
	require.Len(t, report.CorrectedRecords, 2)

	assert.True(t, report.Validations[0].Valid)
	assert.Empty(t, report.Validations[0].Errors)

	errs := report.Validations[1].Errors
	assert.False(t, report.Validations[1].Valid)
	for _, field := range []string{"title", "price", "source", "location"} {
		assert.Contains(t, errs, field)
	}
	assert.Equal(t, []string{"location is required"}, errs["location"])
}

func TestStructural_CoercedRecordValidates(t *testing.T) {
	rec := validRecord()
	rec["price"] = "$150,000"
	rec["sqft"] = "1,200"
	rec["property_type"] = "House"

	report, err := Structural([]model.RawRecord{rec}, 2027)
	require.NoError(t, err)
	assert.True(t, report.Validations[0].Valid, "errors: %v", report.Validations[0].Errors)
	assert.Len(t, report.Corrections, 3)
	for _, c := range report.Corrections {
		assert.Equal(t, 0, c.RecordIndex)
	}
}

func TestStructural_FieldConstraints(t *testing.T) {
	tests := []struct {
		name  string
		field string
		value any
	}{
		{"fractional bedrooms", "bedrooms", 2.5},
		{"year in future", "year_built", 2031.0},
		{"year too old", "year_built", 1700.0},
		{"bad link", "link", "not a url"},
		{"unknown deal type", "deal_type", "timeshare"},
		{"ai score above range", "ai_score", 101.0},
		{"zero sqft", "sqft", 0.0},
		{"negative repairs", "repair_estimate", -1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validRecord()
			rec[tt.field] = tt.value
			report, err := Structural([]model.RawRecord{rec}, 2027)
			require.NoError(t, err)
			assert.False(t, report.Validations[0].Valid)
			assert.Contains(t, report.Validations[0].Errors, tt.field)
		})
	}
}

func TestStructural_EmptyBatch(t *testing.T) {
	report, err := Structural([]model.RawRecord{}, 2027)
	require.NoError(t, err)
	assert.Equal(t, 100, report.ComplianceScore)
	assert.Empty(t, report.Validations)
	assert.NotNil(t, report.Corrections)
}
