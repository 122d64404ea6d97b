package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deal-audit/internal/config"
	"github.com/sells-group/deal-audit/internal/model"
)

var fixedNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func healthyRepo() *mockRepo {
	repo := &mockRepo{}
	repo.On("FetchConfig", mock.Anything).Return(map[string]string{}, nil)
	repo.On("FetchDomainRules", mock.Anything).Return([]model.DomainRule{}, nil)
	repo.On("LookupHashes", mock.Anything, mock.Anything).Return(map[string]bool{}, nil)
	repo.On("FetchBaseline", mock.Anything, 20).Return(nil, nil)
	return repo
}

func scenarioRecords() []model.RawRecord {
	first := completeRecord()
	repeat := completeRecord()
	repeat["price"] = 152000.0
	junk := model.RawRecord{
		"title":    "Crypto timeshare",
		"price":    "$90,000",
		"location": "Austin, TX",
		"source":   "MLS",
	}
	return []model.RawRecord{first, repeat, junk}
}

func TestRun_InvalidInput(t *testing.T) {
	p := New(nil, nil, DefaultSettings())

	_, err := p.Run(context.Background(), Request{CallerID: "scraper"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = p.Run(context.Background(), Request{Records: []model.RawRecord{}})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRun_EmptyBatchPasses(t *testing.T) {
	p := New(nil, nil, DefaultSettings(), WithClock(fixedClock))

	report, err := p.Run(context.Background(), Request{Records: []model.RawRecord{}, CallerID: "scraper"})
	require.NoError(t, err)

	assert.Equal(t, 100, report.OverallScore)
	assert.True(t, report.Pass)
	assert.Empty(t, report.Alerts)
	assert.Empty(t, report.Rejections)
	assert.Equal(t, fixedNow, report.Timestamp)
}

func TestRun_Scenario(t *testing.T) {
	repo := healthyRepo()
	rec := &fakeRecorder{}
	obs := &fakeObserver{}
	p := New(repo, rec, DefaultSettings(), WithClock(fixedClock), WithObserver(obs))
	records := scenarioRecords()

	report, err := p.Run(context.Background(), Request{Records: records, CallerID: "scraper", SessionID: "s-1"})
	require.NoError(t, err)

	assert.Equal(t, 3, report.TotalRecords)
	assert.Len(t, report.Integrity, 3)
	assert.Len(t, report.Structural.Validations, 3)
	assert.Len(t, report.Dedup.Results, 3)
	assert.Len(t, report.Relevance.Results, 3)
	assert.Len(t, report.CrossCheck.Results, 3)

	assert.Equal(t, 100, report.Structural.ComplianceScore)
	assert.Equal(t, 1, report.Dedup.DuplicatesFound)
	assert.True(t, report.Integrity[1].DuplicateDetected)
	assert.Equal(t, 2, report.Relevance.Relevant)
	assert.Equal(t, 85, report.OverallScore)
	assert.True(t, report.Pass)
	assert.Equal(t, 0, report.CriticalAlerts())

	require.Len(t, report.Rejections, 2)
	assert.Equal(t, model.Rejection{RecordIndex: 1, Agent: model.AgentDedup, Reason: "Same address as record #1"}, report.Rejections[0])
	assert.Equal(t, 2, report.Rejections[1].RecordIndex)
	assert.Equal(t, model.AgentRelevance, report.Rejections[1].Agent)

	// Side effects.
	assert.Len(t, rec.hashes, 2)
	require.Len(t, rec.audits, 1)
	entry := rec.audits[0]
	assert.Equal(t, "scraper", entry.CallerID)
	assert.Equal(t, "s-1", entry.SessionID)
	assert.Equal(t, 85, entry.OverallScore)
	assert.Equal(t, 87, entry.IntegrityScore)
	assert.Equal(t, 67, entry.DedupScore)
	assert.Equal(t, 67, entry.RelevanceScore)
	assert.Equal(t, fixedNow, entry.CreatedAt)
	assert.Same(t, report, entry.Report)
	require.Len(t, rec.rejections, 2)
	assert.Equal(t, "$90,000", rec.rejections[1].Record["price"])

	require.Len(t, obs.reports, 1)
	assert.Same(t, report, obs.reports[0])
	repo.AssertExpectations(t)
}

func TestRun_Deterministic(t *testing.T) {
	p := New(nil, nil, DefaultSettings(), WithClock(fixedClock))
	req := Request{Records: scenarioRecords(), CallerID: "scraper"}

	a, err := p.Run(context.Background(), req)
	require.NoError(t, err)
	b, err := p.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestRun_SoftReadFailures(t *testing.T) {
	boom := errors.New("connection refused")
	repo := &mockRepo{}
	repo.On("FetchConfig", mock.Anything).Return(nil, boom)
	repo.On("FetchDomainRules", mock.Anything).Return(nil, boom)
	repo.On("LookupHashes", mock.Anything, mock.Anything).Return(nil, boom)
	repo.On("FetchBaseline", mock.Anything, mock.Anything).Return(nil, boom)
	p := New(repo, nil, DefaultSettings(), WithClock(fixedClock))

	report, err := p.Run(context.Background(), Request{Records: scenarioRecords(), CallerID: "scraper"})
	require.NoError(t, err)

	assert.Equal(t, 85, report.OverallScore)
	assert.Equal(t, 0, report.Dedup.CrossSessionHits)
	assert.Nil(t, report.CrossCheck.BaselineDeviation)
}

func TestRun_ConfigOverlay(t *testing.T) {
	repo := &mockRepo{}
	repo.On("FetchConfig", mock.Anything).Return(map[string]string{"pass_threshold": "101"}, nil)
	repo.On("FetchDomainRules", mock.Anything).Return([]model.DomainRule{}, nil)
	repo.On("FetchBaseline", mock.Anything, mock.Anything).Return(nil, nil)
	p := New(repo, nil, DefaultSettings())

	report, err := p.Run(context.Background(), Request{Records: []model.RawRecord{}, CallerID: "scraper"})
	require.NoError(t, err)

	assert.Equal(t, 100, report.OverallScore)
	assert.False(t, report.Pass)
	repo.AssertNotCalled(t, "LookupHashes", mock.Anything, mock.Anything)
}

func TestRun_ExplicitSettingsSkipConfigStore(t *testing.T) {
	repo := healthyRepo()
	p := New(repo, nil, DefaultSettings())
	s := DefaultSettings()
	s.PassThreshold = 101
	s.Weights = config.WeightsConfig{}

	report, err := p.Run(context.Background(), Request{Records: []model.RawRecord{}, CallerID: "scraper", Settings: &s})
	require.NoError(t, err)

	// Zero weights are rejected and replaced by the defaults.
	assert.Equal(t, 100, report.OverallScore)
	assert.False(t, report.Pass)
	repo.AssertNotCalled(t, "FetchConfig", mock.Anything)
}

func TestRun_CrossSessionDuplicate(t *testing.T) {
	records := scenarioRecords()
	known := map[string]bool{AddressHash(model.DecodeListing(records[0])): true}
	repo := &mockRepo{}
	repo.On("FetchConfig", mock.Anything).Return(map[string]string{}, nil)
	repo.On("FetchDomainRules", mock.Anything).Return([]model.DomainRule{}, nil)
	repo.On("LookupHashes", mock.Anything, mock.Anything).Return(known, nil)
	repo.On("FetchBaseline", mock.Anything, mock.Anything).Return(nil, nil)
	p := New(repo, nil, DefaultSettings(), WithClock(fixedClock))

	report, err := p.Run(context.Background(), Request{Records: records, CallerID: "scraper"})
	require.NoError(t, err)

	// The in-batch repeat carries the same known hash.
	assert.Equal(t, 2, report.Dedup.CrossSessionHits)
	assert.True(t, report.Dedup.Results[0].CrossSession)
	assert.True(t, report.Dedup.Results[1].CrossSession)
	assert.False(t, report.Dedup.Results[2].IsDuplicate)

	var dedupAlerts int
	for _, a := range report.Alerts {
		if a.Agent == model.AgentDedup {
			dedupAlerts++
		}
	}
	assert.Equal(t, 2, dedupAlerts)
}

func TestResolveSettings(t *testing.T) {
	repo := &mockRepo{}
	repo.On("FetchConfig", mock.Anything).Return(map[string]string{"max_results": "50"}, nil)
	p := New(repo, nil, DefaultSettings())
	assert.Equal(t, 50, p.ResolveSettings(context.Background()).MaxResults)

	failing := &mockRepo{}
	failing.On("FetchConfig", mock.Anything).Return(nil, errors.New("down"))
	p = New(failing, nil, DefaultSettings())
	assert.Equal(t, 500, p.ResolveSettings(context.Background()).MaxResults)
}
