package resilience

import (
	"encoding/json"
	"time"
)

// Error classes for dead letters.
const (
	ErrorTransient = "transient"
	ErrorPermanent = "permanent"
)

// DeadLetter is a background write that exhausted its retries. Payload holds
// the JSON-encoded arguments so the write can be replayed later.
type DeadLetter struct {
	ID           string          `json:"id"`
	Task         string          `json:"task"`
	Payload      json.RawMessage `json:"payload"`
	Error        string          `json:"error"`
	ErrorType    string          `json:"error_type"`
	RetryCount   int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`
	NextRetryAt  time.Time       `json:"next_retry_at"`
	CreatedAt    time.Time       `json:"created_at"`
	LastFailedAt time.Time       `json:"last_failed_at"`
}

// DeadLetterFilter selects dead letters due for replay.
type DeadLetterFilter struct {
	Task      string `json:"task,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// CanRetry reports whether the entry has replays left.
func (d *DeadLetter) CanRetry() bool {
	return d.RetryCount < d.MaxRetries
}

// NextBackoff returns when the entry should be replayed after its next
// failure: one minute doubled per prior replay, capped at one hour.
func (d *DeadLetter) NextBackoff(now time.Time) time.Time {
	delay := time.Minute << min(d.RetryCount, 6)
	if delay > time.Hour {
		delay = time.Hour
	}
	return now.Add(delay)
}

// ClassifyError labels err as transient or permanent.
func ClassifyError(err error) string {
	if IsTransient(err) {
		return ErrorTransient
	}
	return ErrorPermanent
}
