package models

import (
	"github.com/google/uuid"
)

// JobDescriptor is the broker payload for one certification job. It is not the
// source of truth for certification state; the Certification row is.
type JobDescriptor struct {
	CertificationID uuid.UUID `json:"certification_id"`
	DeploymentID    uuid.UUID `json:"deployment_id"`
	DeploymentRef   string    `json:"deployment_ref,omitempty"`
	Region          string    `json:"region"`
	BatchID         string    `json:"batch_id,omitempty"`
	CreatedBy       string    `json:"created_by,omitempty"`
}

// JobResult is echoed to the broker as the job return value for observability.
type JobResult struct {
	DeploymentID uuid.UUID `json:"deployment_id"`
	Region       string    `json:"region"`
	Status       string    `json:"status"`
	Passed       bool      `json:"passed"`
	Score        float64   `json:"score"`
	DurationMS   int64     `json:"duration_ms"`
}
