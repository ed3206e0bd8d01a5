// Package worker is the long-running queue consumer: it pulls certification
// jobs at a configured concurrency and rate, executes the job processor, and
// hooks the broker lifecycle to keep the relational store synchronized.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/modelforge/certhub/internal/cache"
	"github.com/modelforge/certhub/internal/certify"
	"github.com/modelforge/certhub/internal/config"
	"github.com/modelforge/certhub/internal/engine"
	"github.com/modelforge/certhub/internal/queue"
	"github.com/modelforge/certhub/internal/store"
	"github.com/modelforge/certhub/pkg/models"
	"golang.org/x/time/rate"
)

const (
	dequeueWait = 5 * time.Second

	// jobStatusTTL bounds the cached fast-path status so a lost worker cannot
	// leave a stale entry behind forever.
	jobStatusTTL = 30 * time.Minute
)

// JobProcessor executes the domain logic for one job descriptor.
type JobProcessor interface {
	Process(ctx context.Context, desc models.JobDescriptor) (*models.JobResult, error)
}

// Worker consumes the certification queue. Workers share no in-process state;
// all cross-job coordination goes through the broker and the store.
type Worker struct {
	broker    queue.Broker
	processor JobProcessor
	updater   *certify.StatusUpdater
	store     store.Store
	cache     cache.Cache
	limiter   *rate.Limiter
	cfg       config.QueueConfig
}

func New(broker queue.Broker, processor JobProcessor, updater *certify.StatusUpdater, st store.Store, c cache.Cache, cfg config.QueueConfig) *Worker {
	return &Worker{
		broker:    broker,
		processor: processor,
		updater:   updater,
		store:     st,
		cache:     c,
		limiter:   rate.NewLimiter(rate.Limit(cfg.JobsPerSecond), 1),
		cfg:       cfg,
	}
}

// Run blocks consuming jobs until ctx is cancelled. It starts the configured
// number of consumer goroutines plus the delayed-job promoter, stalled-job
// recovery and broker pruning loops.
func (w *Worker) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.consume(ctx, slot)
		}(i)
	}

	wg.Add(3)
	go func() {
		defer wg.Done()
		w.tick(ctx, time.Second, w.promoteDelayed)
	}()
	go func() {
		defer wg.Done()
		w.tick(ctx, w.cfg.StallTimeout/2, w.recoverStalled)
	}()
	go func() {
		defer wg.Done()
		w.tick(ctx, time.Hour, w.drain)
	}()

	wg.Wait()
	return ctx.Err()
}

func (w *Worker) consume(ctx context.Context, slot int) {
	for {
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}
		job, err := w.broker.Dequeue(ctx, dequeueWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("dequeue failed", "slot", slot, "error", err)
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}
		w.handle(ctx, job)
	}
}

// handle drives one job through the broker lifecycle. The active/completed/
// failed transitions each call the status updater; the processor writes the
// same row during execution, which is intentional redundancy against partial
// failures between the two stores.
func (w *Worker) handle(ctx context.Context, job *queue.Job) {
	var desc models.JobDescriptor
	if err := json.Unmarshal(job.Payload, &desc); err != nil {
		slog.Error("undecodable job payload", "job_id", job.ID, "error", err)
		if _, ferr := w.broker.Fail(ctx, job, err, false); ferr != nil {
			slog.Error("failed to fail job", "job_id", job.ID, "error", ferr)
		}
		_ = w.cache.SetJobStatus(ctx, job.ID, models.CertStatusError, jobStatusTTL)
		return
	}

	log := slog.With("job_id", job.ID, "deployment_id", desc.DeploymentID, "region", desc.Region)
	log.Info("job active", "attempt", job.Attempts)

	// active hook; the cache writes are best-effort fast-path publishes
	if _, err := w.updater.OnStart(ctx, desc.DeploymentID, desc.Region); err != nil {
		log.Error("active hook failed", "error", err)
	}
	_ = w.cache.SetJobStatus(ctx, job.ID, models.CertStatusRunning, jobStatusTTL)

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	result, err := w.processor.Process(jobCtx, desc)
	cancel()

	if err != nil {
		retryable := engine.Transient(engine.Categorize(err))
		retried, ferr := w.broker.Fail(ctx, job, err, retryable)
		if ferr != nil {
			log.Error("failed to record job failure", "error", ferr)
			return
		}
		if retried {
			_ = w.cache.SetJobStatus(ctx, job.ID, models.CertStatusPending, jobStatusTTL)
			log.Warn("job failed, retry scheduled", "attempt", job.Attempts, "error", err)
			return
		}
		// failed hook: retries exhausted or permanent error; the record must
		// end terminal even if the processor's own write was lost.
		if _, uerr := w.updater.OnFailure(ctx, desc.DeploymentID, desc.Region, err.Error(), engine.Categorize(err)); uerr != nil {
			log.Error("failed hook failed", "error", uerr)
		}
		_ = w.cache.SetJobStatus(ctx, job.ID, models.CertStatusError, jobStatusTTL)
		log.Error("job failed terminally", "attempt", job.Attempts, "error", err)
		return
	}

	payload, merr := json.Marshal(result)
	if merr != nil {
		log.Error("failed to encode job result", "error", merr)
	}
	if cerr := w.broker.Complete(ctx, job, payload); cerr != nil {
		log.Error("failed to complete job", "error", cerr)
		return
	}
	_ = w.cache.SetJobStatus(ctx, job.ID, result.Status, jobStatusTTL)
	log.Info("job completed", "status", result.Status, "score", result.Score)

	w.checkDesync(ctx, log, desc)
}

// checkDesync re-reads the record after a completed event. A non-terminal
// status means the broker and the store disagree; that is surfaced for
// operator attention, never auto-corrected, because the authoritative state
// is ambiguous.
func (w *Worker) checkDesync(ctx context.Context, log *slog.Logger, desc models.JobDescriptor) {
	rec, err := w.store.GetCertification(ctx, desc.DeploymentID, desc.Region)
	if err != nil {
		log.Error("desync check read failed", "error", err)
		return
	}
	if rec.Status != models.CertStatusPassed && rec.Status != models.CertStatusFailed {
		log.Warn("desync alert: broker completed but record not terminal",
			"record_status", rec.Status,
		)
	}
}

func (w *Worker) tick(ctx context.Context, every time.Duration, fn func(context.Context)) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn(ctx)
		}
	}
}

func (w *Worker) promoteDelayed(ctx context.Context) {
	n, err := w.broker.PromoteDelayed(ctx)
	if err != nil {
		slog.Error("promoting delayed jobs failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("promoted delayed jobs", "count", n)
	}
}

func (w *Worker) recoverStalled(ctx context.Context) {
	ids, err := w.broker.RecoverStalled(ctx, w.cfg.StallTimeout)
	if err != nil {
		slog.Error("stalled recovery failed", "error", err)
		return
	}
	// stalled hook is log-only; the broker's own re-delivery handles retry.
	for _, id := range ids {
		slog.Warn("stalled job recovered", "job_id", id)
	}
}

func (w *Worker) drain(ctx context.Context) {
	n, err := w.broker.Drain(ctx, w.cfg.Retention)
	if err != nil {
		slog.Error("broker drain failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("drained old job records", "count", n)
	}
}
