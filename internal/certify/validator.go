package certify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/modelforge/certhub/internal/store"
	"github.com/modelforge/certhub/pkg/models"
)

// Validator resolves caller-supplied model references to canonical deployment
// records and checks regions against the fixed allow-list.
type Validator struct {
	store   store.Store
	allowed []string
	regions map[string]bool
}

func NewValidator(st store.Store, regions []string) *Validator {
	set := make(map[string]bool, len(regions))
	for _, r := range regions {
		set[r] = true
	}
	return &Validator{store: st, allowed: regions, regions: set}
}

// Regions returns the region allow-list.
func (v *Validator) Regions() []string {
	return v.allowed
}

// Resolve maps a model reference, either an internal UUID or a
// provider-facing deployment string, to its deployment record.
func (v *Validator) Resolve(ctx context.Context, ref string) (*models.Deployment, error) {
	if id, err := uuid.Parse(ref); err == nil {
		d, err := v.store.GetDeployment(ctx, id)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		// A UUID-shaped provider deployment string is unusual but legal;
		// fall through to the ref lookup.
	}

	d, err := v.store.GetDeploymentByRef(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrModelNotFound, ref)
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ValidateRegions checks regions against the allow-list. An empty input
// expands to the full allow-list.
func (v *Validator) ValidateRegions(regions []string) ([]string, error) {
	if len(regions) == 0 {
		out := make([]string, len(v.allowed))
		copy(out, v.allowed)
		return out, nil
	}
	for _, r := range regions {
		if !v.regions[r] {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRegion, r)
		}
	}
	return regions, nil
}

// Partition is the result of validating a list of model references. Every
// input reference lands in exactly one of the two lists.
type Partition struct {
	Valid   []*models.Deployment
	Invalid []string
}

// ValidateMultiple resolves each reference, dropping unknown ones with a
// warning so that one stale id never fails a whole batch.
func (v *Validator) ValidateMultiple(ctx context.Context, refs []string) (Partition, error) {
	var p Partition
	for _, ref := range refs {
		d, err := v.Resolve(ctx, ref)
		if errors.Is(err, ErrModelNotFound) {
			slog.Warn("dropping unknown model reference", "ref", ref)
			p.Invalid = append(p.Invalid, ref)
			continue
		}
		if err != nil {
			return Partition{}, fmt.Errorf("validating %q: %w", ref, err)
		}
		p.Valid = append(p.Valid, d)
	}
	return p, nil
}
