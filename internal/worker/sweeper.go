package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/mileusna/crontab"
	"github.com/modelforge/certhub/internal/certify"
	"github.com/modelforge/certhub/internal/queue"
	"github.com/modelforge/certhub/internal/store"
	"github.com/modelforge/certhub/pkg/models"
	"github.com/redis/go-redis/v9"
)

const (
	sweepSchedule = "*/5 * * * *"
	sweepLockName = "certhub:sweep"
	sweepLockTTL  = 4 * time.Minute
)

// Sweeper heals the crash window between record upsert and broker enqueue:
// pending records older than a threshold with no live broker job are marked
// error with category "orphaned". A redsync mutex keeps the sweep to one
// worker at a time.
type Sweeper struct {
	store   store.Store
	broker  queue.Broker
	updater *certify.StatusUpdater
	rs      *redsync.Redsync
	after   time.Duration
}

func NewSweeper(st store.Store, broker queue.Broker, updater *certify.StatusUpdater, client *redis.Client, after time.Duration) *Sweeper {
	return &Sweeper{
		store:   st,
		broker:  broker,
		updater: updater,
		rs:      redsync.New(goredis.NewPool(client)),
		after:   after,
	}
}

// Start registers the sweep on the crontab. Sweeps run under the worker's
// run context so shutdown cancels an in-flight pass.
func (s *Sweeper) Start(ctx context.Context, ctab *crontab.Crontab) error {
	return ctab.AddJob(sweepSchedule, func() {
		s.Sweep(ctx)
	})
}

// Sweep runs one reconciliation pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	mutex := s.rs.NewMutex(sweepLockName, redsync.WithExpiry(sweepLockTTL))
	if err := mutex.TryLockContext(ctx); err != nil {
		// Usually another worker holds the sweep; not an error.
		slog.Debug("sweep lock not acquired", "error", err)
		return
	}
	defer func() {
		if _, err := mutex.UnlockContext(ctx); err != nil {
			slog.Error("sweep unlock failed", "error", err)
		}
	}()

	stale, err := s.store.ListStalePending(ctx, time.Now().Add(-s.after))
	if err != nil {
		slog.Error("sweep query failed", "error", err)
		return
	}

	orphans := 0
	for _, rec := range stale {
		if s.hasLiveJob(ctx, rec) {
			continue
		}
		msg := fmt.Sprintf("pending for more than %s with no broker job", s.after)
		if _, err := s.updater.OnFailure(ctx, rec.DeploymentID, rec.Region, msg, "orphaned"); err != nil {
			slog.Error("sweep failed to mark orphan",
				"deployment_id", rec.DeploymentID,
				"region", rec.Region,
				"error", err,
			)
			continue
		}
		orphans++
		slog.Warn("orphaned pending certification marked error",
			"deployment_id", rec.DeploymentID,
			"region", rec.Region,
			"job_id", rec.JobID,
		)
	}
	if orphans > 0 || len(stale) > 0 {
		slog.Info("reconciliation sweep finished", "stale", len(stale), "orphaned", orphans)
	}
}

// hasLiveJob checks the broker under both id forms: the record's job id
// directly (single jobs) and `<jobID>-<certificationID>` (batch members).
func (s *Sweeper) hasLiveJob(ctx context.Context, rec *models.Certification) bool {
	if rec.JobID == nil {
		return false
	}
	candidates := []string{
		*rec.JobID,
		fmt.Sprintf("%s-%s", *rec.JobID, rec.ID),
	}
	for _, id := range candidates {
		state, err := s.broker.State(ctx, id)
		if errors.Is(err, queue.ErrJobNotFound) {
			continue
		}
		if err != nil {
			slog.Error("sweep broker lookup failed", "broker_job_id", id, "error", err)
			return true // fail safe: do not orphan on a broker error
		}
		switch state {
		case queue.StateWaiting, queue.StateDelayed, queue.StateActive:
			return true
		}
	}
	return false
}
