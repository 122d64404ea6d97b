package monitoring

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/deal-audit/internal/config"
	"github.com/sells-group/deal-audit/internal/model"
	"github.com/sells-group/deal-audit/internal/resilience"
)

// Background write tasks.
const (
	TaskAuditLog   = "audit_log"
	TaskRejections = "rejections"
	TaskHashes     = "hashes"
)

// maxParked bounds the in-memory dead letters kept while the store itself
// cannot accept them.
const maxParked = 1000

// ErrPersisterStopped is returned by Stop when called twice.
var ErrPersisterStopped = eris.New("monitoring: persister stopped")

// Sink is the write side of the audit store.
type Sink interface {
	AppendAuditLog(ctx context.Context, entry model.AuditLogEntry) error
	AppendRejections(ctx context.Context, entries []model.RejectionLogEntry) error
	UpsertHashes(ctx context.Context, records []model.DedupHashRecord) error

	EnqueueDeadLetter(ctx context.Context, entry resilience.DeadLetter) error
	DueDeadLetters(ctx context.Context, filter resilience.DeadLetterFilter) ([]resilience.DeadLetter, error)
	IncrementDeadLetterRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDeadLetter(ctx context.Context, id string) error
}

type persistTask struct {
	name    string
	payload any
}

// Persister writes audit side effects in the background so the audit
// caller never waits on the store. Writes are rate limited, retried on
// transient errors and guarded by a circuit breaker. A write that still
// fails becomes a dead letter for later replay.
type Persister struct {
	sink    Sink
	cfg     config.PersistConfig
	retry   resilience.RetryConfig
	breaker *resilience.Breaker
	limiter *rate.Limiter
	metrics *Metrics
	now     func() time.Time

	queue chan persistTask
	wg    sync.WaitGroup

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
	parked  []resilience.DeadLetter
}

// PersisterOption configures a Persister.
type PersisterOption func(*Persister)

// WithMetrics records write failures and drops on m.
func WithMetrics(m *Metrics) PersisterOption {
	return func(p *Persister) { p.metrics = m }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *resilience.Breaker) PersisterOption {
	return func(p *Persister) { p.breaker = b }
}

// NewPersister creates a Persister writing to sink. Call Start before
// recording anything.
func NewPersister(sink Sink, cfg config.PersistConfig, opts ...PersisterOption) *Persister {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.TimeoutSecs <= 0 {
		cfg.TimeoutSecs = 10
	}
	if cfg.ReplayMaxRetries <= 0 {
		cfg.ReplayMaxRetries = 5
	}

	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	p := &Persister{
		sink:    sink,
		cfg:     cfg,
		retry:   resilience.FromRetryConfig(cfg.MaxAttempts, cfg.InitialBackoffMs, cfg.MaxBackoffMs),
		limiter: rate.NewLimiter(limit, burst),
		now:     time.Now,
		queue:   make(chan persistTask, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.breaker == nil {
		bc := resilience.FromBreakerConfig(cfg.BreakerThreshold, cfg.BreakerResetSecs)
		bc.OnStateChange = func(from, to resilience.CircuitState) {
			zap.L().Warn("monitoring: persistence circuit changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}
		p.breaker = resilience.NewBreaker(bc)
	}
	return p
}

// Start launches the write worker. The worker runs until Stop.
func (p *Persister) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for task := range p.queue {
			if err := p.limiter.Wait(ctx); err != nil {
				p.fail(ctx, task, err)
				continue
			}
			p.run(ctx, task)
		}
	}()
}

// Stop closes the queue and waits for queued writes to drain. When ctx
// ends first the remaining writes are abandoned to the dead-letter list.
func (p *Persister) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrPersisterStopped
	}
	p.stopped = true
	close(p.queue)
	cancel := p.cancel
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if cancel != nil {
			cancel()
		}
		return nil
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		<-done
		return eris.Wrap(ctx.Err(), "monitoring: persister drain")
	}
}

// RecordAudit queues an audit log write.
func (p *Persister) RecordAudit(entry model.AuditLogEntry) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	p.enqueue(persistTask{name: TaskAuditLog, payload: entry})
}

// RecordRejections queues a rejection log write.
func (p *Persister) RecordRejections(entries []model.RejectionLogEntry) {
	if len(entries) == 0 {
		return
	}
	for i := range entries {
		if entries[i].ID == "" {
			entries[i].ID = uuid.New().String()
		}
	}
	p.enqueue(persistTask{name: TaskRejections, payload: entries})
}

// RecordHashes queues a dedup hash upsert.
func (p *Persister) RecordHashes(hashes []model.DedupHashRecord) {
	if len(hashes) == 0 {
		return
	}
	p.enqueue(persistTask{name: TaskHashes, payload: hashes})
}

func (p *Persister) enqueue(task persistTask) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		zap.L().Warn("monitoring: persister stopped, dropping write", zap.String("task", task.name))
		p.metrics.IncrementPersistDropped(task.name)
		return
	}
	select {
	case p.queue <- task:
	default:
		zap.L().Warn("monitoring: persist queue full, dropping write",
			zap.String("task", task.name),
			zap.Int("queue_size", cap(p.queue)),
		)
		p.metrics.IncrementPersistDropped(task.name)
	}
}

func (p *Persister) run(ctx context.Context, task persistTask) {
	retry := p.retry
	retry.OnRetry = resilience.RetryLogger("persister", task.name)

	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Do(ctx, retry, func(ctx context.Context) error {
			return p.write(ctx, task.name, task.payload)
		})
	})
	if err != nil {
		p.fail(ctx, task, err)
	}
}

func (p *Persister) write(ctx context.Context, name string, payload any) error {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(p.cfg.TimeoutSecs)*time.Second)
	defer cancel()

	switch v := payload.(type) {
	case model.AuditLogEntry:
		return p.sink.AppendAuditLog(ctx, v)
	case []model.RejectionLogEntry:
		return p.sink.AppendRejections(ctx, v)
	case []model.DedupHashRecord:
		return p.sink.UpsertHashes(ctx, v)
	default:
		return eris.Errorf("monitoring: unknown payload %T for task %s", payload, name)
	}
}

// fail turns a failed write into a dead letter. When the store rejects the
// dead letter too it is parked in memory.
func (p *Persister) fail(ctx context.Context, task persistTask, cause error) {
	p.metrics.IncrementPersistFailure(task.name)
	log := zap.L().With(zap.String("task", task.name))

	raw, err := json.Marshal(task.payload)
	if err != nil {
		log.Error("monitoring: cannot encode failed write, dropping", zap.Error(err), zap.NamedError("cause", cause))
		return
	}

	now := p.now().UTC()
	dl := resilience.DeadLetter{
		ID:           uuid.New().String(),
		Task:         task.name,
		Payload:      raw,
		Error:        cause.Error(),
		ErrorType:    resilience.ClassifyError(cause),
		MaxRetries:   p.cfg.ReplayMaxRetries,
		CreatedAt:    now,
		LastFailedAt: now,
	}
	dl.NextRetryAt = dl.NextBackoff(now)

	// The worker context may be the reason the write failed.
	enqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Duration(p.cfg.TimeoutSecs)*time.Second)
	defer cancel()
	if err := p.sink.EnqueueDeadLetter(enqCtx, dl); err != nil {
		log.Warn("monitoring: dead letter enqueue failed, parking in memory", zap.Error(err))
		p.park(dl)
		return
	}
	log.Warn("monitoring: write failed, dead lettered",
		zap.String("dead_letter_id", dl.ID),
		zap.String("error_type", dl.ErrorType),
		zap.Error(cause),
	)
}

func (p *Persister) park(dl resilience.DeadLetter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.parked) >= maxParked {
		zap.L().Error("monitoring: parked dead letters full, dropping oldest",
			zap.String("task", p.parked[0].Task),
			zap.String("dead_letter_id", p.parked[0].ID),
		)
		p.parked = p.parked[1:]
	}
	p.parked = append(p.parked, dl)
}

// Parked returns the number of dead letters held in memory.
func (p *Persister) Parked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.parked)
}

// ReplayResult summarizes one replay pass.
type ReplayResult struct {
	Replayed  int `json:"replayed"`
	Failed    int `json:"failed"`
	Abandoned int `json:"abandoned"`
}

// ReplayDeadLetters retries the parked in-memory dead letters, then the
// store's dead letters that are due. A replayed write is removed; a failed
// one is rescheduled with backoff until its retries run out.
func (p *Persister) ReplayDeadLetters(ctx context.Context, limit int) (ReplayResult, error) {
	var res ReplayResult
	log := zap.L().With(zap.String("component", "monitoring.replay"))

	p.mu.Lock()
	parked := p.parked
	p.parked = nil
	p.mu.Unlock()

	for _, dl := range parked {
		if err := p.replay(ctx, dl); err != nil {
			dl.RetryCount++
			dl.Error = err.Error()
			dl.LastFailedAt = p.now().UTC()
			if !dl.CanRetry() {
				log.Error("monitoring: dead letter abandoned", zap.String("task", dl.Task), zap.Error(err))
				res.Abandoned++
				continue
			}
			res.Failed++
			if err := p.sink.EnqueueDeadLetter(ctx, dl); err != nil {
				p.park(dl)
			}
			continue
		}
		res.Replayed++
	}

	due, err := p.sink.DueDeadLetters(ctx, resilience.DeadLetterFilter{Limit: limit})
	if err != nil {
		return res, eris.Wrap(err, "monitoring: list due dead letters")
	}
	for _, dl := range due {
		if err := p.replay(ctx, dl); err != nil {
			res.Failed++
			if dl.RetryCount+1 >= dl.MaxRetries {
				res.Abandoned++
			}
			if ierr := p.sink.IncrementDeadLetterRetry(ctx, dl.ID, dl.NextBackoff(p.now().UTC()), err.Error()); ierr != nil {
				return res, eris.Wrapf(ierr, "monitoring: reschedule dead letter %s", dl.ID)
			}
			log.Warn("monitoring: dead letter replay failed",
				zap.String("dead_letter_id", dl.ID),
				zap.String("task", dl.Task),
				zap.Int("retry_count", dl.RetryCount+1),
				zap.Error(err),
			)
			continue
		}
		if err := p.sink.RemoveDeadLetter(ctx, dl.ID); err != nil {
			return res, eris.Wrapf(err, "monitoring: remove dead letter %s", dl.ID)
		}
		res.Replayed++
	}

	log.Info("monitoring: replay complete",
		zap.Int("replayed", res.Replayed),
		zap.Int("failed", res.Failed),
		zap.Int("abandoned", res.Abandoned),
	)
	return res, nil
}

func (p *Persister) replay(ctx context.Context, dl resilience.DeadLetter) error {
	payload, err := decodePayload(dl.Task, dl.Payload)
	if err != nil {
		return err
	}
	return p.breaker.Execute(ctx, func(ctx context.Context) error {
		return p.write(ctx, dl.Task, payload)
	})
}

func decodePayload(task string, raw json.RawMessage) (any, error) {
	var (
		v   any
		err error
	)
	switch task {
	case TaskAuditLog:
		var e model.AuditLogEntry
		err = json.Unmarshal(raw, &e)
		v = e
	case TaskRejections:
		var e []model.RejectionLogEntry
		err = json.Unmarshal(raw, &e)
		v = e
	case TaskHashes:
		var e []model.DedupHashRecord
		err = json.Unmarshal(raw, &e)
		v = e
	default:
		return nil, eris.Errorf("monitoring: unknown dead letter task %q", task)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "monitoring: decode %s dead letter", task)
	}
	return v, nil
}
