// Package credentials resolves a user to the cloud-provider access keys used
// by the test-execution engine.
package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/modelforge/certhub/internal/store"
	"github.com/modelforge/certhub/pkg/models"
)

// ErrNoCredentials is returned when no provider credentials exist for a user.
var ErrNoCredentials = errors.New("no provider credentials for user")

// Resolver looks up provider credentials for a user.
type Resolver interface {
	Resolve(ctx context.Context, userID uuid.UUID) (*models.Credentials, error)
}

// StoreResolver resolves credentials from the relational store.
type StoreResolver struct {
	store store.Store
}

func NewStoreResolver(st store.Store) *StoreResolver {
	return &StoreResolver{store: st}
}

func (r *StoreResolver) Resolve(ctx context.Context, userID uuid.UUID) (*models.Credentials, error) {
	creds, err := r.store.GetCredentials(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoCredentials, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving credentials: %w", err)
	}
	return creds, nil
}

var _ Resolver = (*StoreResolver)(nil)
