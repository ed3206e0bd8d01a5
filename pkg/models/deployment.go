// Package models contains shared data models used across the CertHub codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Deployment is a specific (base model x provider x inference mode) combination
// addressable on a cloud provider. Immutable after creation except for the
// active flag, which is owned by catalog administration.
type Deployment struct {
	ID            uuid.UUID `db:"id"             json:"id"`
	ModelName     string    `db:"model_name"     json:"model_name"`
	Provider      string    `db:"provider"       json:"provider"`
	DeploymentRef string    `db:"deployment_ref" json:"deployment_ref"`
	InferenceMode string    `db:"inference_mode" json:"inference_mode"`
	Active        bool      `db:"active"         json:"active"`
	CreatedAt     time.Time `db:"created_at"     json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"     json:"updated_at"`
}

// Credentials hold region-scoped access keys for a cloud provider account.
type Credentials struct {
	UserID    uuid.UUID `db:"user_id"    json:"user_id"`
	AccessKey string    `db:"access_key" json:"access_key"`
	SecretKey string    `db:"secret_key" json:"-"`
	Region    string    `db:"region"     json:"region"`
}
