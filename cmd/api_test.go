//go:build !integration

package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deal-audit/internal/dealmath"
	"github.com/sells-group/deal-audit/internal/model"
)

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestAPI_Health(t *testing.T) {
	env := newTestEnv(t, false)
	router := newRouter(env, routerOptions{})

	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody[map[string]string](t, rec)["status"])
}

func TestAPI_Audit(t *testing.T) {
	env := newTestEnv(t, false)
	router := newRouter(env, routerOptions{})

	rec := doJSON(t, router, http.MethodPost, "/v1/audits", map[string]any{
		"records": []model.RawRecord{
			sampleRecord("ranch", "123 Main St", 150000),
			sampleRecord("bungalow", "9 Oak Ave", 210000),
		},
		"caller_id":  "test-caller",
		"session_id": "session-1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	report := decodeBody[model.AuditReport](t, rec)
	assert.Equal(t, 2, report.TotalRecords)
	assert.Equal(t, "session-1", report.SessionID)
	assert.Len(t, report.Integrity, 2)
	assert.Equal(t, 2, report.Dedup.UniqueRecords)
}

func TestAPI_Audit_EmptyBatchPasses(t *testing.T) {
	env := newTestEnv(t, true)
	router := newRouter(env, routerOptions{})

	rec := doJSON(t, router, http.MethodPost, "/v1/audits", map[string]any{
		"records":   []any{},
		"caller_id": "test-caller",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	report := decodeBody[model.AuditReport](t, rec)
	assert.Equal(t, 100, report.OverallScore)
	assert.True(t, report.Pass)
}

func TestAPI_Audit_CallerFromHeader(t *testing.T) {
	env := newTestEnv(t, true)
	router := newRouter(env, routerOptions{})

	req := httptest.NewRequest(http.MethodPost, "/v1/audits", strings.NewReader(`{"records": []}`))
	req.Header.Set(callerHeader, "header-caller")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_Audit_BadRequests(t *testing.T) {
	env := newTestEnv(t, true)
	router := newRouter(env, routerOptions{})

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"records": [`},
		{"missing records", `{"caller_id": "c"}`},
		{"null records", `{"records": null, "caller_id": "c"}`},
		{"records not a list", `{"records": "nope", "caller_id": "c"}`},
		{"record not an object", `{"records": [1, 2], "caller_id": "c"}`},
		{"missing caller", `{"records": []}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/audits", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			body := decodeBody[map[string]string](t, rec)
			assert.Equal(t, "bad_request", body["error"])
		})
	}
}

func TestAPI_Audit_TooManyRecords(t *testing.T) {
	env := newTestEnv(t, true)
	router := newRouter(env, routerOptions{})

	records := make([]model.RawRecord, 4)
	for i := range records {
		records[i] = sampleRecord("r", "1 Main St", 100000)
	}
	rec := doJSON(t, router, http.MethodPost, "/v1/audits", map[string]any{
		"records":   records,
		"caller_id": "c",
	})

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "too_many_records", decodeBody[map[string]string](t, rec)["error"])
}

func TestAPI_Audit_BodyTooLarge(t *testing.T) {
	env := newTestEnv(t, true)
	router := newRouter(env, routerOptions{MaxBodyBytes: 64})

	rec := doJSON(t, router, http.MethodPost, "/v1/audits", map[string]any{
		"records":   []model.RawRecord{sampleRecord("ranch", "123 Main St", 150000)},
		"caller_id": "c",
	})

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "body_too_large", decodeBody[map[string]string](t, rec)["error"])
}

func TestAPI_Audit_RecordsHistory(t *testing.T) {
	env := newTestEnv(t, false)
	router := newRouter(env, routerOptions{})

	rec := doJSON(t, router, http.MethodPost, "/v1/audits", map[string]any{
		"records":    []model.RawRecord{sampleRecord("ranch", "123 Main St", 150000)},
		"caller_id":  "history-caller",
		"session_id": "history-session",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var audits []model.AuditLogEntry
	require.Eventually(t, func() bool {
		rec := doJSON(t, router, http.MethodGet, "/v1/audits?caller_id=history-caller", nil)
		if rec.Code != http.StatusOK {
			return false
		}
		audits = decodeBody[map[string][]model.AuditLogEntry](t, rec)["audits"]
		return len(audits) == 1
	}, 2*time.Second, 20*time.Millisecond)

	assert.Equal(t, "history-session", audits[0].SessionID)
	assert.NotEmpty(t, audits[0].ID)

	rec = doJSON(t, router, http.MethodGet, "/v1/audits/"+audits[0].ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entry := decodeBody[model.AuditLogEntry](t, rec)
	assert.Equal(t, audits[0].ID, entry.ID)
	assert.Equal(t, 1, entry.TotalRecords)
}

func TestAPI_GetAudit_NotFound(t *testing.T) {
	env := newTestEnv(t, false)
	router := newRouter(env, routerOptions{})

	rec := doJSON(t, router, http.MethodGet, "/v1/audits/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_ListRejections(t *testing.T) {
	env := newTestEnv(t, false)
	router := newRouter(env, routerOptions{})

	dup := sampleRecord("ranch", "123 Main St", 150000)
	rec := doJSON(t, router, http.MethodPost, "/v1/audits", map[string]any{
		"records":    []model.RawRecord{dup, dup},
		"caller_id":  "c",
		"session_id": "dup-session",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	report := decodeBody[model.AuditReport](t, rec)
	require.Equal(t, 1, report.Dedup.DuplicatesFound)

	require.Eventually(t, func() bool {
		rec := doJSON(t, router, http.MethodGet, "/v1/rejections?session_id=dup-session&agent=dedup", nil)
		if rec.Code != http.StatusOK {
			return false
		}
		return len(decodeBody[map[string][]model.RejectionLogEntry](t, rec)["rejections"]) == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestAPI_HistoryRequiresStore(t *testing.T) {
	env := newTestEnv(t, true)
	router := newRouter(env, routerOptions{})

	for _, path := range []string{"/v1/audits", "/v1/audits/abc", "/v1/rejections"} {
		rec := doJSON(t, router, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestAPI_Match(t *testing.T) {
	env := newTestEnv(t, true)
	router := newRouter(env, routerOptions{})

	maxPrice := 200000.0
	rec := doJSON(t, router, http.MethodPost, "/v1/match", map[string]any{
		"listing": sampleRecord("ranch", "123 Main St", 150000),
		"buy_boxes": []model.BuyBox{
			{ID: "tx", Name: "Texas flips", TargetStates: []string{"TX"}, MaxPrice: &maxPrice, TargetZipCodes: []string{"78701"}},
			{ID: "fl", Name: "Florida only", TargetStates: []string{"FL"}},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	results := decodeBody[map[string][]recordMatches](t, rec)["results"]
	require.Len(t, results, 1)
	require.Len(t, results[0].Matches, 2)
	assert.Equal(t, "tx", results[0].Matches[0].BuyBoxID)
	assert.True(t, results[0].Matches[0].IsMatch)
	assert.Equal(t, "fl", results[0].Matches[1].BuyBoxID)
	assert.Equal(t, 0, results[0].Matches[1].Score)
	assert.False(t, results[0].Matches[1].IsMatch)
}

func TestAPI_Match_RequiresListing(t *testing.T) {
	env := newTestEnv(t, true)
	router := newRouter(env, routerOptions{})

	rec := doJSON(t, router, http.MethodPost, "/v1/match", map[string]any{"buy_boxes": []model.BuyBox{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_Analyze(t *testing.T) {
	env := newTestEnv(t, true)
	router := newRouter(env, routerOptions{})

	rec := doJSON(t, router, http.MethodPost, "/v1/analyze", map[string]any{
		"asking_price":    100000,
		"arv":             200000,
		"repair_estimate": 30000,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	res := decodeBody[dealmath.GovernanceResult](t, rec)
	require.NotNil(t, res.Metrics)
	assert.InDelta(t, 70000.0, res.Metrics.GrossEquity, 0.01)
	assert.InDelta(t, 35.0, res.Metrics.EquityPercentage, 0.01)
	assert.InDelta(t, 110000.0, res.Metrics.MAO, 0.01)
}

func TestAPI_Analyze_Listing(t *testing.T) {
	env := newTestEnv(t, true)
	router := newRouter(env, routerOptions{})

	rec := doJSON(t, router, http.MethodPost, "/v1/analyze", map[string]any{
		"listing": map[string]any{"asking_price": "$100,000", "arv": "200k"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	res := decodeBody[dealmath.GovernanceResult](t, rec)
	require.NotNil(t, res.Metrics)
	assert.InDelta(t, 100000.0, res.Metrics.GrossEquity, 0.01)
}

func TestAPI_Analyze_MissingPrice(t *testing.T) {
	env := newTestEnv(t, true)
	router := newRouter(env, routerOptions{})

	rec := doJSON(t, router, http.MethodPost, "/v1/analyze", map[string]any{"arv": 200000})
	require.Equal(t, http.StatusOK, rec.Code)

	res := decodeBody[dealmath.GovernanceResult](t, rec)
	assert.Nil(t, res.Metrics)
	assert.Equal(t, dealmath.SeverityCritical, res.Status)
}

func TestAPI_Metrics(t *testing.T) {
	env := newTestEnv(t, true)
	router := newRouter(env, routerOptions{})

	rec := doJSON(t, router, http.MethodPost, "/v1/audits", map[string]any{
		"records":   []model.RawRecord{sampleRecord("ranch", "123 Main St", 150000)},
		"caller_id": "c",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "dealaudit_audits_total")
	assert.Contains(t, body, "dealaudit_records_total 1")
	assert.Contains(t, body, "go_goroutines")
}

func TestAPI_CORSPreflight(t *testing.T) {
	env := newTestEnv(t, true)
	router := newRouter(env, routerOptions{AllowedOrigins: []string{"https://app.example.com"}})

	req := httptest.NewRequest(http.MethodOptions, "/v1/audits", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/v1/audits", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestDecodeRecordList(t *testing.T) {
	recs, ok := decodeRecordList(json.RawMessage(`[{"title": "a"}]`))
	require.True(t, ok)
	assert.Len(t, recs, 1)

	recs, ok = decodeRecordList(json.RawMessage(`[]`))
	require.True(t, ok)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)

	for _, raw := range []string{``, `null`, `{}`, `"x"`, `[null]`} {
		_, ok := decodeRecordList(json.RawMessage(raw))
		assert.False(t, ok, raw)
	}
}
