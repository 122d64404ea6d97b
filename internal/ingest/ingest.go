// Package ingest loads listing batches and buy boxes from JSON, CSV, XLSX
// and YAML files.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/deal-audit/internal/model"
)

// Batch formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// ErrTooManyRecords is returned when a batch is larger than the configured
// maximum.
var ErrTooManyRecords = eris.New("ingest: batch exceeds max results")

// Options configures record loading.
type Options struct {
	Format     string // json, csv or xlsx; detected from the extension when empty
	MaxResults int    // 0 disables the cap
	SheetName  string // xlsx only; default is the first sheet
}

// LoadRecords reads a record batch from path. A path of "-" reads JSON from
// stdin.
func LoadRecords(ctx context.Context, path string, opts Options) ([]model.RawRecord, error) {
	if path == "-" {
		if opts.Format == "" {
			opts.Format = FormatJSON
		}
		return ReadRecords(ctx, os.Stdin, opts)
	}
	if opts.Format == "" {
		opts.Format = DetectFormat(path)
	}

	if opts.Format == FormatXLSX {
		rows, err := readXLSX(path, opts.SheetName)
		if err != nil {
			return nil, err
		}
		return rowsToRecords(rows, opts.MaxResults)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: open batch")
	}
	defer f.Close() //nolint:errcheck

	return ReadRecords(ctx, f, opts)
}

// ReadRecords reads a JSON or CSV batch from r.
func ReadRecords(ctx context.Context, r io.Reader, opts Options) ([]model.RawRecord, error) {
	switch opts.Format {
	case FormatJSON, "":
		return readJSON(ctx, r, opts.MaxResults)
	case FormatCSV:
		rows, err := readCSV(ctx, r)
		if err != nil {
			return nil, err
		}
		return rowsToRecords(rows, opts.MaxResults)
	case FormatXLSX:
		return nil, eris.New("ingest: xlsx must be read from a file")
	default:
		return nil, eris.Errorf("ingest: unknown format %q", opts.Format)
	}
}

// DetectFormat maps a file extension to a batch format, defaulting to JSON.
func DetectFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV
	case ".xlsx":
		return FormatXLSX
	default:
		return FormatJSON
	}
}

// readJSON accepts either a bare array of records or an object with a
// "records" array.
func readJSON(ctx context.Context, r io.Reader, limit int) ([]model.RawRecord, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err != nil {
		if err == io.EOF {
			return nil, eris.New("ingest: empty json input")
		}
		return nil, eris.Wrap(err, "ingest: read json")
	}

	if first == '{' {
		var wrapped struct {
			Records []model.RawRecord `json:"records"`
		}
		if err := json.NewDecoder(br).Decode(&wrapped); err != nil {
			return nil, eris.Wrap(err, "ingest: decode json object")
		}
		if wrapped.Records == nil {
			return nil, eris.New("ingest: json object has no records list")
		}
		if err := checkMax(len(wrapped.Records), limit); err != nil {
			return nil, err
		}
		return wrapped.Records, nil
	}

	dec := json.NewDecoder(br)
	tok, err := dec.Token()
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read opening token")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, eris.Errorf("ingest: expected '[' or '{', got %v", tok)
	}

	records := []model.RawRecord{}
	for dec.More() {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "ingest: context cancelled")
		}
		var rec model.RawRecord
		if err := dec.Decode(&rec); err != nil {
			return nil, eris.Wrapf(err, "ingest: decode record %d", len(records))
		}
		records = append(records, rec)
		if err := checkMax(len(records), limit); err != nil {
			return nil, err
		}
	}
	if _, err := dec.Token(); err != nil && err != io.EOF {
		return nil, eris.Wrap(err, "ingest: read closing token")
	}
	return records, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b, br.UnreadByte()
	}
}

// rowsToRecords turns a header row plus data rows into records keyed by the
// normalized header. Empty cells are left out so they read as missing.
func rowsToRecords(rows [][]string, limit int) ([]model.RawRecord, error) {
	if len(rows) == 0 {
		return []model.RawRecord{}, nil
	}
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = normalizeHeader(h)
	}

	records := make([]model.RawRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := model.RawRecord{}
		for i, cell := range row {
			if i >= len(header) || header[i] == "" {
				continue
			}
			if cell = strings.TrimSpace(cell); cell != "" {
				rec[header[i]] = cell
			}
		}
		if len(rec) == 0 {
			continue
		}
		records = append(records, rec)
		if err := checkMax(len(records), limit); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	return strings.Join(strings.Fields(strings.ReplaceAll(h, "-", " ")), "_")
}

func checkMax(n, limit int) error {
	if limit > 0 && n > limit {
		return eris.Wrapf(ErrTooManyRecords, "more than %d records", limit)
	}
	return nil
}
