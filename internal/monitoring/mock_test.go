package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/sells-group/deal-audit/internal/model"
	"github.com/sells-group/deal-audit/internal/resilience"
	"github.com/sells-group/deal-audit/internal/store"
)

// mockStore implements HistorySource and Sink in memory.
type mockStore struct {
	mu sync.Mutex

	logs     []model.AuditLogEntry
	listErr  error
	countErr error

	written    []model.AuditLogEntry
	rejections []model.RejectionLogEntry
	hashes     []model.DedupHashRecord
	writeErr   error
	writeCalls int

	dead       map[string]resilience.DeadLetter
	enqueueErr error
	removed    []string
}

func newMockStore() *mockStore {
	return &mockStore{dead: make(map[string]resilience.DeadLetter)}
}

func (m *mockStore) ListAuditLogs(_ context.Context, filter store.AuditLogFilter) ([]model.AuditLogEntry, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []model.AuditLogEntry
	for _, l := range m.logs {
		if !filter.CreatedAfter.IsZero() && !l.CreatedAt.After(filter.CreatedAfter) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (m *mockStore) CountDeadLetters(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dead), m.countErr
}

func (m *mockStore) AppendAuditLog(_ context.Context, entry model.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeCalls++
	if m.writeErr != nil {
		return m.writeErr
	}
	m.written = append(m.written, entry)
	return nil
}

func (m *mockStore) AppendRejections(_ context.Context, entries []model.RejectionLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeCalls++
	if m.writeErr != nil {
		return m.writeErr
	}
	m.rejections = append(m.rejections, entries...)
	return nil
}

func (m *mockStore) UpsertHashes(_ context.Context, records []model.DedupHashRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeCalls++
	if m.writeErr != nil {
		return m.writeErr
	}
	m.hashes = append(m.hashes, records...)
	return nil
}

func (m *mockStore) EnqueueDeadLetter(_ context.Context, entry resilience.DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	m.dead[entry.ID] = entry
	return nil
}

func (m *mockStore) DueDeadLetters(_ context.Context, _ resilience.DeadLetterFilter) ([]resilience.DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []resilience.DeadLetter
	for _, d := range m.dead {
		if d.CanRetry() {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *mockStore) IncrementDeadLetterRetry(_ context.Context, id string, next time.Time, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dead[id]
	if !ok {
		return store.ErrNotFound
	}
	d.RetryCount++
	d.NextRetryAt = next
	d.Error = lastErr
	m.dead[id] = d
	return nil
}

func (m *mockStore) RemoveDeadLetter(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.dead, id)
	m.removed = append(m.removed, id)
	return nil
}

func (m *mockStore) setWriteErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

func (m *mockStore) deadLetters() []resilience.DeadLetter {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]resilience.DeadLetter, 0, len(m.dead))
	for _, d := range m.dead {
		out = append(out, d)
	}
	return out
}
