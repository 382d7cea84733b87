package audit

import (
	"time"

	"github.com/google/uuid"
)

// FetchOutcome classifies how a platform token fetch ended.
type FetchOutcome string

const (
	OutcomeSuccess      FetchOutcome = "success"
	OutcomeUnauthorized FetchOutcome = "unauthorized"
	OutcomeBadResponse  FetchOutcome = "bad_response"
	OutcomeMalformed    FetchOutcome = "malformed_payload"
	OutcomeTransport    FetchOutcome = "transport_failure"
	OutcomeStale        FetchOutcome = "stale_after_refresh"
)

// FetchRecord is one audit entry per platform round trip (not per cache hit).
type FetchRecord struct {
	ID         uuid.UUID     `json:"id" db:"id"`
	Product    string        `json:"product" db:"product"`
	Version    string        `json:"version" db:"version"`
	Outcome    FetchOutcome  `json:"outcome" db:"outcome"`
	StatusCode int           `json:"status_code" db:"status_code"`
	Attempts   int           `json:"attempts" db:"attempts"`
	Duration   time.Duration `json:"duration" db:"duration"`
	Timestamp  time.Time     `json:"timestamp" db:"timestamp"`
}

// FetchRecordFilter filters audit queries.
type FetchRecordFilter struct {
	Product   *string       `json:"product,omitempty"`
	Outcome   *FetchOutcome `json:"outcome,omitempty"`
	StartTime *time.Time    `json:"start_time,omitempty"`
	EndTime   *time.Time    `json:"end_time,omitempty"`
	Limit     int           `json:"limit"`
	Offset    int           `json:"offset"`
}
