package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	CertStatusPending = "pending"
	CertStatusRunning = "running"
	CertStatusPassed  = "passed"
	CertStatusFailed  = "failed"
	CertStatusError   = "error"
	CertStatusSkipped = "skipped"
)

// Badge labels derived from the certification score.
const (
	BadgeGold   = "gold"
	BadgeSilver = "silver"
	BadgeBronze = "bronze"
	BadgeNone   = "none"
)

// TerminalStatus reports whether a certification status admits no further
// automatic transition.
func TerminalStatus(status string) bool {
	switch status {
	case CertStatusPassed, CertStatusFailed, CertStatusError, CertStatusSkipped:
		return true
	}
	return false
}

// Certification is the persisted outcome of running the test battery against
// one deployment in one region. At most one row exists per
// (deployment_id, region); re-certification overwrites in place.
type Certification struct {
	ID            uuid.UUID       `db:"id"             json:"id"`
	DeploymentID  uuid.UUID       `db:"deployment_id"  json:"deployment_id"`
	Region        string          `db:"region"         json:"region"`
	Status        string          `db:"status"         json:"status"`
	Passed        *bool           `db:"passed"         json:"passed,omitempty"`
	Score         *float64        `db:"score"          json:"score,omitempty"`
	Rating        *float64        `db:"rating"         json:"rating,omitempty"`
	Badge         *string         `db:"badge"          json:"badge,omitempty"`
	TestResults   json.RawMessage `db:"test_results"   json:"test_results,omitempty"`
	ErrorMessage  *string         `db:"error_message"  json:"error_message,omitempty"`
	ErrorCategory *string         `db:"error_category" json:"error_category,omitempty"`
	JobID         *string         `db:"job_id"         json:"job_id,omitempty"`
	StartedAt     *time.Time      `db:"started_at"     json:"started_at,omitempty"`
	CompletedAt   *time.Time      `db:"completed_at"   json:"completed_at,omitempty"`
	DurationMS    *int64          `db:"duration_ms"    json:"duration_ms,omitempty"`
	CertifiedAt   *time.Time      `db:"certified_at"   json:"certified_at,omitempty"`
	CreatedBy     *string         `db:"created_by"     json:"created_by,omitempty"`
	CreatedAt     time.Time       `db:"created_at"     json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"     json:"updated_at"`
}

// BadgeForScore maps a 0-100 score to its categorical badge.
func BadgeForScore(score float64) string {
	switch {
	case score >= 90:
		return BadgeGold
	case score >= 75:
		return BadgeSilver
	case score >= 50:
		return BadgeBronze
	default:
		return BadgeNone
	}
}
