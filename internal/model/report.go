package model

import (
	"time"

	"github.com/sells-group/deal-audit/internal/dealmath"
)

// Severity ranks an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from most to least urgent.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	default:
		return 2
	}
}

// Agent names used in alerts and rejections.
const (
	AgentIntegrity  = "integrity"
	AgentStructural = "structural"
	AgentDedup      = "dedup"
	AgentRelevance  = "relevance"
	AgentCrossCheck = "crosscheck"
)

// FieldIssue kinds.
const (
	IssueMissing    = "missing"
	IssueOutOfRange = "out_of_range"
	IssueSuspicious = "suspicious"
	IssueDuplicate  = "duplicate"
)

// FieldIssue describes a problem with a single field.
type FieldIssue struct {
	Field        string `json:"field"`
	Issue        string `json:"issue"`
	Message      string `json:"message"`
	SuggestedFix string `json:"suggested_fix,omitempty"`
}

// IntegrityReport scores one record's completeness and plausibility.
type IntegrityReport struct {
	RecordIndex       int          `json:"record_index"`
	RecordTitle       string       `json:"record_title"`
	CompletenessScore int          `json:"completeness_score"`
	PlausibilityScore int          `json:"plausibility_score"`
	OverallScore      int          `json:"overall_score"`
	MissingFields     []string     `json:"missing_fields"`
	RangeViolations   []FieldIssue `json:"range_violations"`
	DuplicateDetected bool         `json:"duplicate_detected"`
	DuplicateOfIndex  *int         `json:"duplicate_of_index,omitempty"`
}

// Correction records a single coercion applied by the structural agent.
type Correction struct {
	RecordIndex int    `json:"record_index"`
	Field       string `json:"field"`
	From        any    `json:"from"`
	To          any    `json:"to"`
	Reason      string `json:"reason"`
}

// RecordValidation is the structural verdict for one record.
type RecordValidation struct {
	RecordIndex int                 `json:"record_index"`
	Valid       bool                `json:"valid"`
	Errors      map[string][]string `json:"errors,omitempty"`
}

// StructuralReport summarizes schema compliance for a batch.
type StructuralReport struct {
	TotalRecords     int                `json:"total_records"`
	ValidRecords     int                `json:"valid_records"`
	InvalidRecords   int                `json:"invalid_records"`
	ComplianceScore  int                `json:"compliance_score"`
	Validations      []RecordValidation `json:"validations"`
	Corrections      []Correction       `json:"corrections"`
	CorrectedRecords []RawRecord        `json:"corrected_records"`
}

// Match types produced by the dedup engine.
const (
	MatchExact          = "exact_hash"
	MatchFuzzyTitle     = "fuzzy_title"
	MatchPriceProximity = "price_proximity"
)

// DedupResult is the duplicate verdict for one record.
type DedupResult struct {
	RecordIndex     int    `json:"record_index"`
	IsDuplicate     bool   `json:"is_duplicate"`
	DuplicateType   string `json:"duplicate_type,omitempty"`
	CrossSession    bool   `json:"cross_session,omitempty"`
	MatchedIndex    *int   `json:"matched_index,omitempty"`
	SimilarityScore int    `json:"similarity_score"`
	AddressHash     string `json:"address_hash"`
	Details         string `json:"details,omitempty"`
}

// DedupHashRecord is a cross-session fingerprint of a unique listing.
type DedupHashRecord struct {
	AddressHash string    `json:"address_hash"`
	Price       float64   `json:"price"`
	Source      string    `json:"source"`
	SeenAt      time.Time `json:"seen_at,omitempty"`
}

// DedupReport summarizes duplicate detection for a batch.
type DedupReport struct {
	TotalRecords     int               `json:"total_records"`
	UniqueRecords    int               `json:"unique_records"`
	DuplicatesFound  int               `json:"duplicates_found"`
	CrossSessionHits int               `json:"cross_session_hits"`
	Results          []DedupResult     `json:"results"`
	NewHashes        []DedupHashRecord `json:"new_hashes"`
}

// BuyBoxScore is a record's fit against one buy box.
type BuyBoxScore struct {
	BuyBoxID  string   `json:"buy_box_id"`
	Score     int      `json:"score"`
	DealBreak bool     `json:"deal_break"`
	Reasons   []string `json:"reasons,omitempty"`
}

// RelevanceResult is the relevance verdict for one record.
type RelevanceResult struct {
	RecordIndex     int           `json:"record_index"`
	FitScore        int           `json:"fit_score"`
	IsRelevant      bool          `json:"is_relevant"`
	RejectionReason string        `json:"rejection_reason,omitempty"`
	MatchedBuyBox   string        `json:"matched_buy_box,omitempty"`
	BuyBoxScores    []BuyBoxScore `json:"buy_box_scores,omitempty"`
	KeywordBonus    int           `json:"keyword_bonus"`
	Reasons         []string      `json:"reasons"`
}

// RelevanceReport summarizes relevance scoring for a batch.
type RelevanceReport struct {
	TotalRecords int               `json:"total_records"`
	Relevant     int               `json:"relevant"`
	Irrelevant   int               `json:"irrelevant"`
	AvgFitScore  float64           `json:"avg_fit_score"`
	Results      []RelevanceResult `json:"results"`
}

// Mismatch is a discrepancy between a self-reported and recalculated metric.
type Mismatch struct {
	Field      string  `json:"field"`
	Reported   float64 `json:"reported"`
	Calculated float64 `json:"calculated"`
	Deviation  float64 `json:"deviation"`
}

// CrossCheckResult compares one record's reported metrics to recalculation.
type CrossCheckResult struct {
	RecordIndex int                   `json:"record_index"`
	Metrics     *dealmath.DealMetrics `json:"metrics,omitempty"`
	Mismatches  []Mismatch            `json:"mismatches"`
	DriftFlags  []string              `json:"drift_flags"`
}

// CrossCheckReport summarizes calculation consistency and drift for a batch.
type CrossCheckReport struct {
	TotalRecords      int                `json:"total_records"`
	TotalMismatches   int                `json:"total_mismatches"`
	MismatchedRecords int                `json:"mismatched_records"`
	Results           []CrossCheckResult `json:"results"`
	BaselineDeviation *float64           `json:"baseline_deviation,omitempty"`
	Recommendations   []string           `json:"recommendations"`
}

// AuditAlert is a monitoring finding surfaced to operators.
type AuditAlert struct {
	Severity     Severity `json:"severity"`
	Agent        string   `json:"agent"`
	RecordIndex  *int     `json:"record_index,omitempty"`
	Title        string   `json:"title"`
	Message      string   `json:"message"`
	SuggestedFix string   `json:"suggested_fix,omitempty"`
}

// Rejection is an advisory flag that a record should not be surfaced.
type Rejection struct {
	RecordIndex int    `json:"record_index"`
	Agent       string `json:"agent"`
	Reason      string `json:"reason"`
}

// AuditReport is the aggregate verdict of one pipeline invocation.
type AuditReport struct {
	Timestamp    time.Time         `json:"timestamp"`
	SessionID    string            `json:"session_id,omitempty"`
	TotalRecords int               `json:"total_records"`
	OverallScore int               `json:"overall_score"`
	Pass         bool              `json:"pass"`
	Integrity    []IntegrityReport `json:"integrity"`
	Structural   StructuralReport  `json:"structural"`
	Dedup        DedupReport       `json:"dedup"`
	Relevance    RelevanceReport   `json:"relevance"`
	CrossCheck   CrossCheckReport  `json:"cross_check"`
	Alerts       []AuditAlert      `json:"alerts"`
	Rejections   []Rejection       `json:"rejections"`
}

// CriticalAlerts counts critical alerts in the report.
func (r *AuditReport) CriticalAlerts() int {
	n := 0
	for _, a := range r.Alerts {
		if a.Severity == SeverityCritical {
			n++
		}
	}
	return n
}
