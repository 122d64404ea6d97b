package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/deal-audit/internal/model"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func createTestXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				cell := row.AddCell()
				cell.SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "batch.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatCSV, DetectFormat("a/b/listings.CSV"))
	assert.Equal(t, FormatXLSX, DetectFormat("listings.xlsx"))
	assert.Equal(t, FormatJSON, DetectFormat("listings.json"))
	assert.Equal(t, FormatJSON, DetectFormat("listings"))
}

func TestReadRecords_JSONArray(t *testing.T) {
	in := `[{"title": "3BR Ranch", "price": 150000}, {"title": "Duplex", "price": "$210,000"}]`
	recs, err := ReadRecords(context.Background(), strings.NewReader(in), Options{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "3BR Ranch", recs[0]["title"])
	assert.Equal(t, 150000.0, recs[0]["price"])
	assert.Equal(t, "$210,000", recs[1]["price"])
}

func TestReadRecords_JSONObject(t *testing.T) {
	in := `  {"caller_id": "x", "records": [{"title": "A"}]}`
	recs, err := ReadRecords(context.Background(), strings.NewReader(in), Options{Format: FormatJSON})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "A", recs[0]["title"])
}

func TestReadRecords_JSONErrors(t *testing.T) {
	cases := map[string]string{
		"empty":       "   ",
		"scalar":      `"records"`,
		"no records":  `{"buy_boxes": []}`,
		"bad element": `[{"title": 1}, 7]`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ReadRecords(context.Background(), strings.NewReader(in), Options{})
			assert.Error(t, err)
		})
	}
}

func TestReadRecords_EmptyArray(t *testing.T) {
	recs, err := ReadRecords(context.Background(), strings.NewReader(`[]`), Options{})
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
}

func TestReadRecords_MaxResults(t *testing.T) {
	in := `[{"title": "A"}, {"title": "B"}, {"title": "C"}]`
	_, err := ReadRecords(context.Background(), strings.NewReader(in), Options{MaxResults: 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooManyRecords)

	recs, err := ReadRecords(context.Background(), strings.NewReader(in), Options{MaxResults: 3})
	require.NoError(t, err)
	assert.Len(t, recs, 3)

	_, err = ReadRecords(context.Background(), strings.NewReader(`{"records": [{}, {}]}`), Options{MaxResults: 1})
	assert.ErrorIs(t, err, ErrTooManyRecords)
}

func TestReadRecords_CSV(t *testing.T) {
	in := "Title,Price,Zip Code,Deal-Type\n" +
		"3BR Ranch,150000,78701,fix_and_flip\n" +
		",,,\n" +
		"Duplex, 210000 ,,\n"
	recs, err := ReadRecords(context.Background(), strings.NewReader(in), Options{Format: FormatCSV})
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, model.RawRecord{
		"title":     "3BR Ranch",
		"price":     "150000",
		"zip_code":  "78701",
		"deal_type": "fix_and_flip",
	}, recs[0])
	assert.Equal(t, model.RawRecord{"title": "Duplex", "price": "210000"}, recs[1])
}

func TestReadRecords_UnknownFormat(t *testing.T) {
	_, err := ReadRecords(context.Background(), strings.NewReader(""), Options{Format: "parquet"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}

func TestLoadRecords_Files(t *testing.T) {
	ctx := context.Background()

	jsonPath := writeFile(t, "batch.json", `[{"title": "A"}]`)
	recs, err := LoadRecords(ctx, jsonPath, Options{})
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	csvPath := writeFile(t, "batch.csv", "title,price\nA,1\nB,2\n")
	recs, err = LoadRecords(ctx, csvPath, Options{})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	_, err = LoadRecords(ctx, filepath.Join(t.TempDir(), "missing.json"), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingest: open batch")
}

func TestLoadRecords_XLSX(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Listings": {
			{"Title", "Price", "Source"},
			{"3BR Ranch", "150000", "MLS"},
			{"Lot", "", "Other"},
		},
	})

	recs, err := LoadRecords(context.Background(), path, Options{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "150000", recs[0]["price"])
	assert.Equal(t, "MLS", recs[0]["source"])
	assert.NotContains(t, recs[1], "price")

	_, err = LoadRecords(context.Background(), path, Options{SheetName: "Nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `sheet "Nope" not found`)

	_, err = LoadRecords(context.Background(), path, Options{MaxResults: 1})
	assert.ErrorIs(t, err, ErrTooManyRecords)
}

func TestNormalizeHeader(t *testing.T) {
	assert.Equal(t, "zip_code", normalizeHeader(" Zip Code "))
	assert.Equal(t, "lot_size_sqft", normalizeHeader("\ufeffLot-Size  SQFT"))
	assert.Equal(t, "", normalizeHeader("   "))
}
