// Package engine defines the contract for the external test-execution engine
// that runs the certification probe battery against a deployed model.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelforge/certhub/pkg/models"
)

// Sentinel errors for engine transport failures.
var (
	ErrEngineUnreachable = errors.New("test engine unreachable")
	ErrEngineTimeout     = errors.New("test engine timeout")
)

// Error categories attached to failed certification runs. The engine owns
// categorization; callers consume the category as-is.
const (
	CategoryTimeout     = "timeout"
	CategoryThrottled   = "throttled"
	CategoryCredentials = "credentials"
	CategoryUnsupported = "unsupported"
	CategoryUnavailable = "unavailable"
	CategoryUnknown     = "unknown"
)

// Transient reports whether a category is worth retrying. Credential and
// unsupported-model failures never heal on retry.
func Transient(category string) bool {
	switch category {
	case CategoryTimeout, CategoryThrottled, CategoryUnknown:
		return true
	}
	return false
}

// CategorizedError is a probe failure with its engine-assigned category.
type CategorizedError struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

func (e *CategorizedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

// Categorize extracts the engine category from err, defaulting to unknown.
func Categorize(err error) string {
	var ce *CategorizedError
	if errors.As(err, &ce) {
		return ce.Category
	}
	if errors.Is(err, ErrEngineTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	if errors.Is(err, ErrEngineUnreachable) {
		return CategoryUnavailable
	}
	return CategoryUnknown
}

// Request identifies the deployment under test and the credentials to use.
type Request struct {
	DeploymentRef string
	Region        string
	AccessKey     string
	SecretKey     string
}

// ProbeResult is the outcome of one functional/quality probe.
type ProbeResult struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	Passed    bool   `json:"passed"`
	LatencyMS int64  `json:"latency_ms,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Outcome is the full result of a certification run.
type Outcome struct {
	IsAvailable      bool              `json:"is_available"`
	Status           string            `json:"status"`
	SuccessRate      float64           `json:"success_rate"`
	Results          []ProbeResult     `json:"results"`
	CategorizedError *CategorizedError `json:"categorized_error,omitempty"`
}

// ProgressFunc receives per-probe progress while a run executes. Callbacks are
// invoked sequentially in probe-execution order.
type ProgressFunc func(models.ProgressEvent)

// Engine runs the fixed probe battery against one deployment in one region.
// Never call a vendor endpoint directly; always inject this interface.
type Engine interface {
	Certify(ctx context.Context, req Request, progress ProgressFunc) (*Outcome, error)
}
