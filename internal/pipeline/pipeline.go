// Package pipeline runs the listing audit: structural coercion, integrity,
// dedup, relevance and cross-check agents, aggregated into one report.
package pipeline

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/deal-audit/internal/model"
	"github.com/sells-group/deal-audit/internal/monitoring"
	"github.com/sells-group/deal-audit/internal/scorer"
)

// ErrInvalidInput is returned when a request has no record list or no
// caller identity.
var ErrInvalidInput = eris.New("pipeline: invalid input")

// Repository is the read side of the audit store. Every method is a soft
// dependency: failures degrade to defaults.
type Repository interface {
	FetchConfig(ctx context.Context) (map[string]string, error)
	FetchDomainRules(ctx context.Context) ([]model.DomainRule, error)
	LookupHashes(ctx context.Context, hashes []string) (map[string]bool, error)
	FetchBaseline(ctx context.Context, window int) (*model.Baseline, error)
}

// Recorder accepts the audit's side effects. Implementations must not block
// the caller.
type Recorder interface {
	RecordAudit(entry model.AuditLogEntry)
	RecordRejections(entries []model.RejectionLogEntry)
	RecordHashes(hashes []model.DedupHashRecord)
}

// Observer is notified of every completed audit.
type Observer interface {
	ObserveAudit(report *model.AuditReport, elapsed time.Duration)
}

// Request is one audit invocation.
type Request struct {
	Records   []model.RawRecord `json:"records"`
	BuyBoxes  []model.BuyBox    `json:"buy_boxes"`
	CallerID  string            `json:"caller_id"`
	SessionID string            `json:"session_id,omitempty"`

	// Settings, when set, is used as is and the config store is not read.
	Settings *Settings `json:"-"`
}

// Pipeline orchestrates the audit agents.
type Pipeline struct {
	repo     Repository
	recorder Recorder
	observer Observer
	defaults Settings
	now      func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock sets the clock used for report timestamps and the current year.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithObserver registers an audit observer.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// New creates a Pipeline. repo and rec may be nil, in which case the
// pipeline runs on defaults and records nothing.
func New(repo Repository, rec Recorder, defaults Settings, opts ...Option) *Pipeline {
	p := &Pipeline{
		repo:     repo,
		recorder: rec,
		defaults: defaults,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) fetchTimeout() time.Duration {
	if p.defaults.FetchTimeout > 0 {
		return p.defaults.FetchTimeout
	}
	return 5 * time.Second
}

// softReads holds the results of the concurrent store reads.
type softReads struct {
	config   map[string]string
	rules    []model.DomainRule
	known    map[string]bool
	baseline *model.Baseline
}

// ResolveSettings returns the pipeline defaults overlaid with the config
// store values. A store failure yields the defaults.
func (p *Pipeline) ResolveSettings(ctx context.Context) Settings {
	if p.repo == nil {
		return p.defaults
	}
	ctx, cancel := context.WithTimeout(ctx, p.fetchTimeout())
	defer cancel()
	kv, err := p.repo.FetchConfig(ctx)
	if err != nil {
		zap.L().Warn("pipeline: config fetch failed, using defaults", zap.Error(err))
		return p.defaults
	}
	return p.defaults.Overlay(kv)
}

// Run audits one batch. The report is returned even when persistence of
// its side effects fails; the only error is invalid input.
func (p *Pipeline) Run(ctx context.Context, req Request) (*model.AuditReport, error) {
	if req.Records == nil {
		return nil, eris.Wrap(ErrInvalidInput, "records must be a list")
	}
	if req.CallerID == "" {
		return nil, eris.Wrap(ErrInvalidInput, "caller id is required")
	}

	start := p.now()
	log := zap.L().With(
		zap.String("caller", req.CallerID),
		zap.String("session", req.SessionID),
		zap.Int("records", len(req.Records)),
	)
	log.Info("pipeline: starting audit")

	structural, err := Structural(req.Records, start.Year()+1)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: structural")
	}
	records := structural.CorrectedRecords
	listings := make([]model.Listing, len(records))
	hashes := make([]string, len(records))
	for i, rec := range records {
		listings[i] = model.DecodeListing(rec)
		hashes[i] = AddressHash(listings[i])
	}

	reads := p.fetch(ctx, log, hashes, req.Settings == nil)
	settings := p.defaults
	if req.Settings != nil {
		settings = *req.Settings
	} else if reads.config != nil {
		settings = settings.Overlay(reads.config)
	}
	if err := scorer.ValidateWeights(settings.Weights); err != nil {
		log.Warn("pipeline: invalid weights, using defaults", zap.Error(err))
		settings.Weights = scorer.DefaultWeights()
	}

	report := &model.AuditReport{
		Timestamp:    start.UTC(),
		SessionID:    req.SessionID,
		TotalRecords: len(records),
		Structural:   structural,
	}
	report.Integrity = Integrity(records, listings, start.Year())
	report.Dedup = Dedup(listings, reads.known, settings.DedupPriceVariance)
	report.Relevance = Relevance(records, listings, req.BuyBoxes, reads.rules, settings.relevanceOptions())
	report.CrossCheck = CrossCheck(listings, settings.Governance, reads.baseline)

	components := componentScores(report)
	report.OverallScore = scorer.Overall(components, settings.Weights)
	report.Alerts = monitoring.GenerateAlerts(report)
	report.Pass = report.OverallScore >= settings.PassThreshold && report.CriticalAlerts() == 0
	report.Rejections = rejections(report)

	p.record(req, report, components, listings)

	elapsed := p.now().Sub(start)
	if p.observer != nil {
		p.observer.ObserveAudit(report, elapsed)
	}
	log.Info("pipeline: audit complete",
		zap.Int("overall_score", report.OverallScore),
		zap.Bool("pass", report.Pass),
		zap.Int("alerts", len(report.Alerts)),
		zap.Int("rejections", len(report.Rejections)),
		zap.Duration("elapsed", elapsed),
	)
	return report, nil
}

// fetch issues the soft store reads concurrently. Each read has its own
// timeout and falls back to an empty result on failure.
func (p *Pipeline) fetch(ctx context.Context, log *zap.Logger, hashes []string, withConfig bool) softReads {
	var out softReads
	if p.repo == nil {
		return out
	}

	timeout := p.fetchTimeout()
	soft := func(name string, fn func(context.Context) error) func() error {
		return func() error {
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if err := fn(cctx); err != nil {
				log.Warn("pipeline: soft read failed, continuing with defaults",
					zap.String("read", name),
					zap.Error(err),
				)
			}
			return nil
		}
	}

	var g errgroup.Group
	if withConfig {
		g.Go(soft("config", func(c context.Context) error {
			kv, err := p.repo.FetchConfig(c)
			if err == nil {
				out.config = kv
			}
			return err
		}))
	}
	g.Go(soft("domain_rules", func(c context.Context) error {
		rules, err := p.repo.FetchDomainRules(c)
		if err == nil {
			out.rules = rules
		}
		return err
	}))
	if len(hashes) > 0 {
		g.Go(soft("dedup_hashes", func(c context.Context) error {
			known, err := p.repo.LookupHashes(c, hashes)
			if err == nil {
				out.known = known
			}
			return err
		}))
	}
	g.Go(soft("baseline", func(c context.Context) error {
		b, err := p.repo.FetchBaseline(c, p.defaults.BaselineWindow)
		if err == nil {
			out.baseline = b
		}
		return err
	}))
	_ = g.Wait()
	return out
}

// componentScores returns the per-agent scores feeding the overall score.
// An empty batch scores 100 everywhere.
func componentScores(r *model.AuditReport) scorer.Components {
	n := r.TotalRecords
	if n == 0 {
		return scorer.Components{Integrity: 100, Structural: 100, Relevance: 100, CrossCheck: 100, Dedup: 100}
	}
	var integrity float64
	for _, ir := range r.Integrity {
		integrity += float64(ir.OverallScore)
	}
	total := float64(n)
	return scorer.Components{
		Integrity:  integrity / total,
		Structural: float64(r.Structural.ComplianceScore),
		Relevance:  float64(r.Relevance.Relevant) / total * 100,
		CrossCheck: float64(n-r.CrossCheck.MismatchedRecords) / total * 100,
		Dedup:      float64(r.Dedup.UniqueRecords) / total * 100,
	}
}

// rejections lists the advisory rejections: dedup duplicates first, then
// irrelevant records, each in record order.
func rejections(r *model.AuditReport) []model.Rejection {
	out := []model.Rejection{}
	for _, d := range r.Dedup.Results {
		if d.IsDuplicate {
			reason := d.Details
			if reason == "" {
				reason = "Duplicate listing (" + d.DuplicateType + ")"
			}
			out = append(out, model.Rejection{RecordIndex: d.RecordIndex, Agent: model.AgentDedup, Reason: reason})
		}
	}
	for _, rr := range r.Relevance.Results {
		if rr.IsRelevant {
			continue
		}
		reason := rr.RejectionReason
		if reason == "" {
			reason = "Below relevance threshold"
			if len(rr.Reasons) > 0 {
				reason = rr.Reasons[0]
			}
		}
		out = append(out, model.Rejection{RecordIndex: rr.RecordIndex, Agent: model.AgentRelevance, Reason: reason})
	}
	return out
}

// record hands the audit's side effects to the recorder.
func (p *Pipeline) record(req Request, r *model.AuditReport, c scorer.Components, listings []model.Listing) {
	if p.recorder == nil {
		return
	}

	if len(r.Dedup.NewHashes) > 0 {
		p.recorder.RecordHashes(r.Dedup.NewHashes)
	}

	avgPrice, avgARV := batchAverages(listings)
	p.recorder.RecordAudit(model.AuditLogEntry{
		SessionID:       req.SessionID,
		CallerID:        req.CallerID,
		OverallScore:    r.OverallScore,
		Pass:            r.Pass,
		TotalRecords:    r.TotalRecords,
		AlertsCount:     len(r.Alerts),
		CriticalCount:   r.CriticalAlerts(),
		IntegrityScore:  roundScore(c.Integrity),
		StructuralScore: roundScore(c.Structural),
		RelevanceScore:  roundScore(c.Relevance),
		CrossCheckScore: roundScore(c.CrossCheck),
		DedupScore:      roundScore(c.Dedup),
		AvgPrice:        avgPrice,
		AvgARV:          avgARV,
		Report:          r,
		CreatedAt:       r.Timestamp,
	})

	if len(r.Rejections) == 0 {
		return
	}
	entries := make([]model.RejectionLogEntry, 0, len(r.Rejections))
	for _, rej := range r.Rejections {
		var snapshot model.RawRecord
		if rej.RecordIndex < len(req.Records) {
			snapshot = req.Records[rej.RecordIndex]
		}
		entries = append(entries, model.RejectionLogEntry{
			SessionID:   req.SessionID,
			CallerID:    req.CallerID,
			RecordIndex: rej.RecordIndex,
			Record:      snapshot,
			Agent:       rej.Agent,
			Reason:      rej.Reason,
			CreatedAt:   r.Timestamp,
		})
	}
	p.recorder.RecordRejections(entries)
}

func roundScore(f float64) int {
	return int(math.Round(f))
}
