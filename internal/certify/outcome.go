package certify

import (
	"encoding/json"
	"fmt"

	"github.com/modelforge/certhub/internal/engine"
	"github.com/modelforge/certhub/pkg/models"
)

// Interpreted is the engine outcome translated into certification terms.
type Interpreted struct {
	Passed      bool
	Score       float64
	Rating      float64
	Badge       string
	TestResults json.RawMessage
	Warnings    []string
}

// interpretOutcome derives pass/fail, score (0-100), rating (0-5) and badge
// from a raw engine outcome. Probes that failed while the run still cleared
// the threshold become warnings.
func interpretOutcome(o *engine.Outcome, passThreshold float64) (Interpreted, error) {
	score := o.SuccessRate * 100
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	out := Interpreted{
		Passed: o.IsAvailable && score >= passThreshold,
		Score:  score,
		Rating: score / 20,
		Badge:  models.BadgeForScore(score),
	}

	if len(o.Results) > 0 {
		raw, err := json.Marshal(o.Results)
		if err != nil {
			return Interpreted{}, fmt.Errorf("encoding test results: %w", err)
		}
		out.TestResults = raw
	}

	if out.Passed {
		for _, r := range o.Results {
			if !r.Passed {
				out.Warnings = append(out.Warnings, fmt.Sprintf("probe %s: %s", r.Name, r.Status))
			}
		}
	}
	return out, nil
}
