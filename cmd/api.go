package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deal-audit/internal/dealmath"
	"github.com/sells-group/deal-audit/internal/model"
	"github.com/sells-group/deal-audit/internal/pipeline"
	"github.com/sells-group/deal-audit/internal/store"
)

// callerHeader identifies the caller when the body carries no caller_id.
const callerHeader = "X-Caller-ID"

// apiHandler wires the audit, match and analyze endpoints to the pipeline.
type apiHandler struct {
	pipeline *pipeline.Pipeline
	store    store.Store // nil when offline
	gatherer prometheus.Gatherer
	maxBody  int64
}

// routerOptions configures newRouter.
type routerOptions struct {
	AllowedOrigins []string
	MaxBodyBytes   int64
}

// newRouter builds the HTTP API.
func newRouter(env *auditEnv, opts routerOptions) http.Handler {
	h := &apiHandler{
		pipeline: env.Pipeline,
		store:    env.Store,
		gatherer: env.Registry,
		maxBody:  opts.MaxBodyBytes,
	}
	if h.maxBody <= 0 {
		h.maxBody = 10 << 20
	}
	if h.gatherer == nil {
		h.gatherer = prometheus.DefaultGatherer
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", callerHeader},
		MaxAge:         300,
	}))

	h.Register(r)
	return r
}

// Register mounts the API endpoints on the router.
func (h *apiHandler) Register(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/audits", h.handleAudit)
		r.Get("/audits", h.handleListAudits)
		r.Get("/audits/{id}", h.handleGetAudit)
		r.Get("/rejections", h.handleListRejections)
		r.Post("/match", h.handleMatch)
		r.Post("/analyze", h.handleAnalyze)
	})
}

// requestLogger logs each request through the global zap logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func (h *apiHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			zap.L().Warn("health: store ping failed", zap.Error(err))
			writeJSONResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "store": "unreachable"})
			return
		}
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auditRequest is the body of POST /v1/audits. Records is a raw message so
// a missing or non-list value can be told apart from an empty batch.
type auditRequest struct {
	Records   json.RawMessage `json:"records"`
	BuyBoxes  []model.BuyBox  `json:"buy_boxes"`
	CallerID  string          `json:"caller_id"`
	SessionID string          `json:"session_id"`
}

func (h *apiHandler) handleAudit(w http.ResponseWriter, r *http.Request) {
	var req auditRequest
	if !h.decode(w, r, &req) {
		return
	}

	records, ok := decodeRecordList(req.Records)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "records must be a list of objects")
		return
	}

	settings := h.pipeline.ResolveSettings(r.Context())
	if settings.MaxResults > 0 && len(records) > settings.MaxResults {
		writeError(w, http.StatusRequestEntityTooLarge, "too_many_records",
			"batch of "+strconv.Itoa(len(records))+" records exceeds max_results "+strconv.Itoa(settings.MaxResults))
		return
	}

	caller := req.CallerID
	if caller == "" {
		caller = r.Header.Get(callerHeader)
	}

	report, err := h.pipeline.Run(r.Context(), pipeline.Request{
		Records:   records,
		BuyBoxes:  req.BuyBoxes,
		CallerID:  caller,
		SessionID: req.SessionID,
		Settings:  &settings,
	})
	if err != nil {
		if eris.Is(err, pipeline.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		zap.L().Error("audit failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	writeJSONResponse(w, http.StatusOK, report)
}

// matchRequest is the body of POST /v1/match.
type matchRequest struct {
	Listing  model.RawRecord   `json:"listing"`
	Listings []model.RawRecord `json:"listings"`
	BuyBoxes []model.BuyBox    `json:"buy_boxes"`
}

func (h *apiHandler) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if !h.decode(w, r, &req) {
		return
	}

	records := req.Listings
	if req.Listing != nil {
		records = append([]model.RawRecord{req.Listing}, records...)
	}
	if len(records) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "listing or listings is required")
		return
	}

	settings := h.pipeline.ResolveSettings(r.Context())
	if settings.MaxResults > 0 && len(records) > settings.MaxResults {
		writeError(w, http.StatusRequestEntityTooLarge, "too_many_records",
			"batch of "+strconv.Itoa(len(records))+" listings exceeds max_results "+strconv.Itoa(settings.MaxResults))
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"results": matchRecords(records, req.BuyBoxes, settings.Governance),
	})
}

// analyzeRequest is the body of POST /v1/analyze: either a raw listing or
// the deal fields directly.
type analyzeRequest struct {
	Listing        model.RawRecord `json:"listing"`
	AskingPrice    float64         `json:"asking_price"`
	ARV            float64         `json:"arv"`
	RepairEstimate float64         `json:"repair_estimate"`
	AssignmentFee  float64         `json:"assignment_fee"`
	Sqft           float64         `json:"sqft"`
	Condition      string          `json:"condition"`
}

func (h *apiHandler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !h.decode(w, r, &req) {
		return
	}

	gov := h.pipeline.ResolveSettings(r.Context()).Governance

	var res dealmath.GovernanceResult
	if req.Listing != nil {
		res = analyzeRecord(req.Listing, gov)
	} else {
		res = dealmath.Audit(dealmath.DealInput{
			AskingPrice:    req.AskingPrice,
			ARV:            req.ARV,
			RepairEstimate: req.RepairEstimate,
			AssignmentFee:  req.AssignmentFee,
			Sqft:           req.Sqft,
			Condition:      req.Condition,
		}, gov)
	}
	writeJSONResponse(w, http.StatusOK, res)
}

func (h *apiHandler) handleListAudits(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	failed, _ := strconv.ParseBool(q.Get("failed"))

	logs, err := h.store.ListAuditLogs(r.Context(), store.AuditLogFilter{
		CallerID:   q.Get("caller_id"),
		SessionID:  q.Get("session_id"),
		FailedOnly: failed,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		zap.L().Error("list audits failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	if logs == nil {
		logs = []model.AuditLogEntry{}
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"audits": logs})
}

func (h *apiHandler) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	entry, err := h.store.GetAuditLog(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "audit not found")
			return
		}
		zap.L().Error("get audit failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	writeJSONResponse(w, http.StatusOK, entry)
}

func (h *apiHandler) handleListRejections(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	rejections, err := h.store.ListRejections(r.Context(), store.RejectionFilter{
		SessionID: q.Get("session_id"),
		Agent:     q.Get("agent"),
		Limit:     limit,
	})
	if err != nil {
		zap.L().Error("list rejections failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	if rejections == nil {
		rejections = []model.RejectionLogEntry{}
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"rejections": rejections})
}

func (h *apiHandler) requireStore(w http.ResponseWriter) bool {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "audit history requires a store")
		return false
	}
	return true
}

// decode reads a JSON body capped at maxBody. It writes the error response
// and returns false on failure.
func (h *apiHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, h.maxBody)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body exceeds "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes")
			return false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return false
	}
	return true
}

// decodeRecordList accepts only a JSON array of objects.
func decodeRecordList(raw json.RawMessage) ([]model.RawRecord, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var records []model.RawRecord
	if err := json.Unmarshal(raw, &records); err != nil || records == nil {
		return nil, false
	}
	for _, rec := range records {
		if rec == nil {
			return nil, false
		}
	}
	return records, true
}

func writeJSONResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {"error": code, "error_description": msg}. The
// description is omitted when empty.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	body := map[string]string{"error": code}
	if msg != "" {
		body["error_description"] = msg
	}
	writeJSONResponse(w, status, body)
}
