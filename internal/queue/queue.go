// Package queue is a generic durable job broker backed by redis. Jobs move
// through waiting -> active -> completed | failed, with a delayed set holding
// retries until their backoff elapses. Job state survives process restarts;
// delivery is at-least-once under retry.
package queue

import (
	"context"
	"errors"
	"time"
)

var ErrJobNotFound = errors.New("job not found")

// State is the broker-tracked lifecycle state of a job.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateDelayed   State = "delayed"
)

// Options control a single enqueue. A zero value falls back to the queue
// defaults; a caller-supplied JobID makes the enqueue idempotent per id.
type Options struct {
	JobID       string
	MaxAttempts int
	Backoff     time.Duration
}

// Job is one dequeued unit of work. Attempts counts deliveries including the
// current one.
type Job struct {
	ID          string
	Payload     []byte
	Attempts    int
	MaxAttempts int
	Backoff     time.Duration
}

// Counts are the aggregate per-state job counters for a queue.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}

// Broker is the durable queue contract consumed by the job creator, the
// worker, and the status query.
type Broker interface {
	// Enqueue adds a job. If opts.JobID names an existing job the call is a
	// no-op returning that id, so enqueue is at-most-once per logical id.
	Enqueue(ctx context.Context, payload []byte, opts Options) (string, error)
	// Dequeue blocks up to wait for a job; returns (nil, nil) on timeout or
	// while the queue is paused.
	Dequeue(ctx context.Context, wait time.Duration) (*Job, error)
	Complete(ctx context.Context, job *Job, result []byte) error
	// Fail records a failed attempt. When retryable and attempts remain, the
	// job is parked in the delayed set with exponential backoff and Fail
	// reports retried=true; otherwise the job goes terminal failed.
	Fail(ctx context.Context, job *Job, cause error, retryable bool) (retried bool, err error)
	State(ctx context.Context, jobID string) (State, error)
	Counts(ctx context.Context) (Counts, error)
	// Remove deletes a job that has not been picked up yet (waiting or
	// delayed). Active jobs cannot be interrupted.
	Remove(ctx context.Context, jobID string) (bool, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	// PromoteDelayed moves delayed jobs whose backoff has elapsed back to
	// waiting. Run periodically by the worker.
	PromoteDelayed(ctx context.Context) (int, error)
	// RecoverStalled re-queues (or fails, when attempts are exhausted) active
	// jobs started before now-olderThan, covering workers that died mid-job.
	RecoverStalled(ctx context.Context, olderThan time.Duration) ([]string, error)
	// Drain prunes completed/failed job records older than retention so the
	// broker keyspace stays bounded.
	Drain(ctx context.Context, retention time.Duration) (int, error)
}
