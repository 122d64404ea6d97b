package model

import "time"

// Domain rule types.
const (
	RuleWhitelist = "whitelist"
	RuleBlacklist = "blacklist"
)

// DomainRule allows or blocks listings by source domain.
type DomainRule struct {
	Domain   string `json:"domain"`
	RuleType string `json:"rule_type"`
}

// RejectionLogEntry is the persisted form of a rejection, with a snapshot of
// the record that was rejected.
type RejectionLogEntry struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	CallerID    string    `json:"caller_id"`
	RecordIndex int       `json:"record_index"`
	Record      RawRecord `json:"record"`
	Agent       string    `json:"agent"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
}

// AuditLogEntry is the persisted summary of one audit.
type AuditLogEntry struct {
	ID              string       `json:"id"`
	SessionID       string       `json:"session_id"`
	CallerID        string       `json:"caller_id"`
	OverallScore    int          `json:"overall_score"`
	Pass            bool         `json:"pass"`
	TotalRecords    int          `json:"total_records"`
	AlertsCount     int          `json:"alerts_count"`
	CriticalCount   int          `json:"critical_count"`
	IntegrityScore  int          `json:"integrity_score"`
	StructuralScore int          `json:"structural_score"`
	RelevanceScore  int          `json:"relevance_score"`
	CrossCheckScore int          `json:"crosscheck_score"`
	DedupScore      int          `json:"dedup_score"`
	AvgPrice        float64      `json:"avg_price"`
	AvgARV          float64      `json:"avg_arv"`
	Report          *AuditReport `json:"report,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// Baseline is the historical average over prior audits.
type Baseline struct {
	AvgPrice     float64 `json:"avg_price"`
	AvgARV       float64 `json:"avg_arv"`
	AvgScore     float64 `json:"avg_score"`
	SessionCount int     `json:"session_count"`
}
