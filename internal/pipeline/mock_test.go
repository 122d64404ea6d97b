package pipeline

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/deal-audit/internal/model"
)

// mockRepo implements Repository for testing.
type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) FetchConfig(ctx context.Context) (map[string]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]string), args.Error(1)
}

func (m *mockRepo) FetchDomainRules(ctx context.Context) ([]model.DomainRule, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.DomainRule), args.Error(1)
}

func (m *mockRepo) LookupHashes(ctx context.Context, hashes []string) (map[string]bool, error) {
	args := m.Called(ctx, hashes)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]bool), args.Error(1)
}

func (m *mockRepo) FetchBaseline(ctx context.Context, window int) (*model.Baseline, error) {
	args := m.Called(ctx, window)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Baseline), args.Error(1)
}

// fakeRecorder implements Recorder and keeps everything it is given.
type fakeRecorder struct {
	audits     []model.AuditLogEntry
	rejections []model.RejectionLogEntry
	hashes     []model.DedupHashRecord
}

func (f *fakeRecorder) RecordAudit(e model.AuditLogEntry) {
	f.audits = append(f.audits, e)
}

func (f *fakeRecorder) RecordRejections(entries []model.RejectionLogEntry) {
	f.rejections = append(f.rejections, entries...)
}

func (f *fakeRecorder) RecordHashes(h []model.DedupHashRecord) {
	f.hashes = append(f.hashes, h...)
}

// fakeObserver implements Observer.
type fakeObserver struct {
	reports []*model.AuditReport
	elapsed []time.Duration
}

func (f *fakeObserver) ObserveAudit(r *model.AuditReport, d time.Duration) {
	f.reports = append(f.reports, r)
	f.elapsed = append(f.elapsed, d)
}
