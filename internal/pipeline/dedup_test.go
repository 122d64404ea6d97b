package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deal-audit/internal/model"
)

func dedupListing(title, address string, price float64) model.Listing {
	return model.Listing{
		Title:   title,
		Address: address,
		City:    "Austin",
		State:   "TX",
		Source:  "MLS",
		Price:   model.Float(price),
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"kitten", "sitting", 3},
		{"flaw", "lawn", 2},
		{"café", "cafe", 1},
		{"", "abc", 3},
		{"abc", "", 3},
		{"same", "same", 0},
	}
	for _, tt := range tests {
		t.Run(tt.a+"/"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, Levenshtein(tt.a, tt.b))
		})
	}
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 57, Similarity("kitten", "sitting"))
	assert.Equal(t, 100, Similarity("", ""))
	assert.Equal(t, 100, Similarity("Austin", "AUSTIN"))
	assert.Equal(t, 0, Similarity("abc", ""))
}

func TestDedup_ExactHash(t *testing.T) {
	listings := []model.Listing{
		dedupListing("Ranch home", "12 Oak Ln", 100000),
		dedupListing("Ranch home, reduced", "12 oak ln.", 103000),
	}

	report := Dedup(listings, nil, 5)

	require.Len(t, report.Results, 2)
	assert.False(t, report.Results[0].IsDuplicate)
	r := report.Results[1]
	assert.True(t, r.IsDuplicate)
	assert.Equal(t, model.MatchExact, r.DuplicateType)
	require.NotNil(t, r.MatchedIndex)
	assert.Equal(t, 0, *r.MatchedIndex)
	assert.Equal(t, 100, r.SimilarityScore)
	assert.Equal(t, 1, report.UniqueRecords)
	assert.Equal(t, 1, report.DuplicatesFound)
	assert.Len(t, report.NewHashes, 1)
}

func TestDedup_FuzzyTitle(t *testing.T) {
	near := []model.Listing{
		dedupListing("Beautiful 3 bedroom home in Austin", "1 First St", 200000),
		dedupListing("Beautiful 3 bedroom home in Austen", "99 Other Rd", 204000),
	}
	report := Dedup(near, nil, 5)
	r := report.Results[1]
	assert.True(t, r.IsDuplicate)
	assert.Equal(t, model.MatchFuzzyTitle, r.DuplicateType)
	assert.Equal(t, 97, r.SimilarityScore)
	require.NotNil(t, r.MatchedIndex)
	assert.Equal(t, 0, *r.MatchedIndex)

	far := []model.Listing{
		dedupListing("Beautiful 3 bedroom home in Austin", "1 First St", 200000),
		dedupListing("Beautiful 3 bedroom home in Austen", "99 Other Rd", 230000),
	}
	report = Dedup(far, nil, 5)
	assert.False(t, report.Results[1].IsDuplicate)
	assert.Equal(t, 2, report.UniqueRecords)
}

func TestDedup_ShortTitlesSkipFuzzy(t *testing.T) {
	listings := []model.Listing{
		dedupListing("House", "1 First St", 100000),
		dedupListing("House", "2 Second St", 100000),
	}
	report := Dedup(listings, nil, 5)
	assert.Equal(t, 0, report.DuplicatesFound)
}

func TestDedup_SameAddressAsFuzzyDuplicate(t *testing.T) {
	listings := []model.Listing{
		dedupListing("Lovely ranch house on big lot", "10 Elm St", 100000),
		dedupListing("Lovely ranch house on big lot!", "20 Pine St", 101000),
		dedupListing("Completely different listing", "20 Pine St", 150000),
	}

	report := Dedup(listings, nil, 5)

	assert.Equal(t, model.MatchFuzzyTitle, report.Results[1].DuplicateType)
	r := report.Results[2]
	assert.True(t, r.IsDuplicate)
	assert.Equal(t, model.MatchExact, r.DuplicateType)
	require.NotNil(t, r.MatchedIndex)
	assert.Equal(t, 1, *r.MatchedIndex)
	assert.Equal(t, 100, r.SimilarityScore)
	assert.Equal(t, 1, report.UniqueRecords)
	require.Len(t, report.NewHashes, 1)
	assert.Equal(t, AddressHash(listings[0]), report.NewHashes[0].AddressHash)
}

func TestDedup_CrossSession(t *testing.T) {
	listings := []model.Listing{
		dedupListing("Ranch home", "12 Oak Ln", 100000),
		dedupListing("Craftsman bungalow", "40 Birch Ave", 150000),
	}
	known := map[string]bool{AddressHash(listings[0]): true}

	report := Dedup(listings, known, 5)

	r := report.Results[0]
	assert.True(t, r.IsDuplicate)
	assert.True(t, r.CrossSession)
	assert.Equal(t, model.MatchExact, r.DuplicateType)
	assert.Nil(t, r.MatchedIndex)
	assert.Equal(t, 1, report.CrossSessionHits)
	require.Len(t, report.NewHashes, 1)
	assert.Equal(t, AddressHash(listings[1]), report.NewHashes[0].AddressHash)
	assert.Equal(t, 150000.0, report.NewHashes[0].Price)
	assert.Equal(t, "MLS", report.NewHashes[0].Source)
}

func TestDedup_UnknownSource(t *testing.T) {
	l := dedupListing("Ranch home", "12 Oak Ln", 100000)
	l.Source = ""
	report := Dedup([]model.Listing{l}, nil, 5)
	require.Len(t, report.NewHashes, 1)
	assert.Equal(t, "unknown", report.NewHashes[0].Source)
}

func TestDedup_Empty(t *testing.T) {
	report := Dedup(nil, nil, 5)
	assert.Equal(t, 0, report.TotalRecords)
	assert.Empty(t, report.Results)
	assert.NotNil(t, report.NewHashes)
}
