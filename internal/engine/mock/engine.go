package mock

import (
	"context"

	"github.com/modelforge/certhub/internal/engine"
	"github.com/modelforge/certhub/pkg/models"
)

// MockEngine satisfies engine.Engine for testing.
type MockEngine struct {
	CertifyFunc func(ctx context.Context, req engine.Request, progress engine.ProgressFunc) (*engine.Outcome, error)
	Calls       int
}

func (m *MockEngine) Certify(ctx context.Context, req engine.Request, progress engine.ProgressFunc) (*engine.Outcome, error) {
	m.Calls++
	if m.CertifyFunc != nil {
		return m.CertifyFunc(ctx, req, progress)
	}
	return &engine.Outcome{IsAvailable: true, Status: "passed", SuccessRate: 1}, nil
}

// NewPassingEngine returns a MockEngine that emits numProbes progress events
// and reports the given success rate.
func NewPassingEngine(successRate float64, numProbes int) *MockEngine {
	return &MockEngine{
		CertifyFunc: func(_ context.Context, _ engine.Request, progress engine.ProgressFunc) (*engine.Outcome, error) {
			results := make([]engine.ProbeResult, 0, numProbes)
			for i := 1; i <= numProbes; i++ {
				if progress != nil {
					progress(models.ProgressEvent{
						Type:     models.EventProgress,
						TestName: probeName(i),
						Status:   "passed",
						Current:  i,
						Total:    numProbes,
					})
				}
				results = append(results, engine.ProbeResult{Name: probeName(i), Status: "passed", Passed: true})
			}
			return &engine.Outcome{
				IsAvailable: true,
				Status:      "passed",
				SuccessRate: successRate,
				Results:     results,
			}, nil
		},
	}
}

// NewFailingEngine returns a MockEngine that always returns the given error.
func NewFailingEngine(err error) *MockEngine {
	return &MockEngine{
		CertifyFunc: func(_ context.Context, _ engine.Request, _ engine.ProgressFunc) (*engine.Outcome, error) {
			return nil, err
		},
	}
}

// NewUnavailableEngine returns a MockEngine reporting the model as not
// deployable in the requested region.
func NewUnavailableEngine() *MockEngine {
	return &MockEngine{
		CertifyFunc: func(_ context.Context, _ engine.Request, _ engine.ProgressFunc) (*engine.Outcome, error) {
			return &engine.Outcome{
				IsAvailable: false,
				Status:      "unavailable",
				CategorizedError: &engine.CategorizedError{
					Category: engine.CategoryUnavailable,
					Message:  "deployment not reachable in region",
				},
			}, nil
		},
	}
}

// NewTimeoutEngine returns a MockEngine that blocks until context is cancelled.
func NewTimeoutEngine() *MockEngine {
	return &MockEngine{
		CertifyFunc: func(ctx context.Context, _ engine.Request, _ engine.ProgressFunc) (*engine.Outcome, error) {
			<-ctx.Done()
			return nil, engine.ErrEngineTimeout
		},
	}
}

func probeName(i int) string {
	names := []string{"availability", "latency", "token-streaming", "context-window", "output-quality"}
	return names[(i-1)%len(names)]
}

// Compile-time check that MockEngine implements Engine.
var _ engine.Engine = (*MockEngine)(nil)
