//go:build !integration

package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/deal-audit/internal/config"
	"github.com/sells-group/deal-audit/internal/dealmath"
	"github.com/sells-group/deal-audit/internal/model"
	"github.com/sells-group/deal-audit/internal/scorer"
)

// setTestConfig points the global config at a temp SQLite database with the
// built-in thresholds and a small max_results.
func setTestConfig(t *testing.T) {
	t.Helper()
	cfg = &config.Config{
		Store: config.StoreConfig{
			Driver:      "sqlite",
			DatabaseURL: filepath.Join(t.TempDir(), "test.db"),
		},
		Audit: config.AuditConfig{
			PassThreshold:        60,
			DedupPriceVariance:   5,
			RelevanceThreshold:   30,
			MinDescriptionLength: 20,
			MinRequiredFields:    4,
			MaxResults:           3,
			FetchTimeoutSecs:     2,
			BaselineWindow:       20,
			Weights:              scorer.DefaultWeights(),
			EntityWeights:        scorer.DefaultEntityWeights(),
		},
		Governance: dealmath.DefaultGovernance(),
		Persist: config.PersistConfig{
			QueueSize:        16,
			MaxAttempts:      1,
			InitialBackoffMs: 1,
			MaxBackoffMs:     1,
			TimeoutSecs:      2,
		},
		Monitoring: config.MonitoringConfig{
			LookbackWindowHours: 24,
		},
	}
}

func newTestEnv(t *testing.T, offline bool) *auditEnv {
	t.Helper()
	setTestConfig(t)
	env, err := initAudit(context.Background(), offline)
	require.NoError(t, err)
	t.Cleanup(env.Close)
	return env
}

func sampleRecord(title, address string, price float64) model.RawRecord {
	return model.RawRecord{
		"title":           title,
		"address":         address,
		"city":            "Austin",
		"state":           "TX",
		"zip_code":        "78701",
		"price":           price,
		"arv":             price * 1.6,
		"repair_estimate": 25000.0,
		"property_type":   "single_family",
		"deal_type":       "wholesale",
		"condition":       "fair",
		"bedrooms":        3.0,
		"bathrooms":       2.0,
		"sqft":            1450.0,
		"year_built":      1978.0,
		"source":          "example",
		"link":            "https://example.com/listing/" + title,
		"description":     "Three bedroom ranch on a quiet street, needs cosmetic updates throughout.",
	}
}
