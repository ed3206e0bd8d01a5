package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Broker on a redis keyspace:
//
//	q:{name}:waiting   list of job ids, LPUSH/BLMOVE
//	q:{name}:active    list of job ids currently held by workers
//	q:{name}:delayed   zset id -> ready-at unix ms
//	q:{name}:completed zset id -> finished-at unix ms (pruned by Drain)
//	q:{name}:failed    zset id -> finished-at unix ms (pruned by Drain)
//	q:{name}:job:{id}  hash with payload, state, attempts and timestamps
//	q:{name}:paused    flag key
type RedisQueue struct {
	client      *redis.Client
	name        string
	maxAttempts int
	backoff     time.Duration
}

// Config carries the per-queue defaults applied when enqueue options are zero.
type Config struct {
	Name        string
	MaxAttempts int
	Backoff     time.Duration
}

// NewRedisQueue creates (or reattaches to) the named queue. Queues share the
// caller-owned redis client.
func NewRedisQueue(client *redis.Client, cfg Config) *RedisQueue {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 5 * time.Second
	}
	return &RedisQueue{
		client:      client,
		name:        cfg.Name,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
	}
}

func (q *RedisQueue) key(suffix string) string {
	return fmt.Sprintf("q:%s:%s", q.name, suffix)
}

func (q *RedisQueue) jobKey(id string) string {
	return fmt.Sprintf("q:%s:job:%s", q.name, id)
}

func (q *RedisQueue) Enqueue(ctx context.Context, payload []byte, opts Options) (string, error) {
	id := opts.JobID
	if id == "" {
		id = uuid.NewString()
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = q.maxAttempts
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = q.backoff
	}

	// The enqueued_at field is the existence marker: losing the HSETNX race
	// means the logical id was already enqueued. The state field is written
	// only by the pipeline that also makes the job visible in the waiting
	// list, so a crash in between leaves a hash that reads as not-found and
	// the orphaned record stays sweepable.
	created, err := q.client.HSetNX(ctx, q.jobKey(id), "enqueued_at", time.Now().UnixMilli()).Result()
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", id, err)
	}
	if !created {
		return id, nil
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.jobKey(id),
		"payload", payload,
		"attempts", 0,
		"max_attempts", maxAttempts,
		"backoff_ms", backoff.Milliseconds(),
		"state", string(StateWaiting),
	)
	pipe.LPush(ctx, q.key("waiting"), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", id, err)
	}
	return id, nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, wait time.Duration) (*Job, error) {
	paused, err := q.client.Exists(ctx, q.key("paused")).Result()
	if err != nil {
		return nil, fmt.Errorf("check paused: %w", err)
	}
	if paused > 0 {
		return nil, nil
	}

	id, err := q.client.BLMove(ctx, q.key("waiting"), q.key("active"), "RIGHT", "LEFT", wait).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}

	pipe := q.client.TxPipeline()
	attempts := pipe.HIncrBy(ctx, q.jobKey(id), "attempts", 1)
	pipe.HSet(ctx, q.jobKey(id), "state", string(StateActive), "started_at", time.Now().UnixMilli())
	fields := pipe.HMGet(ctx, q.jobKey(id), "payload", "max_attempts", "backoff_ms")
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("claim job %s: %w", id, err)
	}

	job := &Job{ID: id, Attempts: int(attempts.Val())}
	vals := fields.Val()
	if s, ok := vals[0].(string); ok {
		job.Payload = []byte(s)
	}
	if s, ok := vals[1].(string); ok {
		job.MaxAttempts, _ = strconv.Atoi(s)
	}
	if s, ok := vals[2].(string); ok {
		ms, _ := strconv.ParseInt(s, 10, 64)
		job.Backoff = time.Duration(ms) * time.Millisecond
	}
	return job, nil
}

func (q *RedisQueue) Complete(ctx context.Context, job *Job, result []byte) error {
	now := time.Now()
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.key("active"), 1, job.ID)
	pipe.HSet(ctx, q.jobKey(job.ID),
		"state", string(StateCompleted),
		"finished_at", now.UnixMilli(),
		"result", result,
	)
	pipe.ZAdd(ctx, q.key("completed"), redis.Z{Score: float64(now.UnixMilli()), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	return nil
}

func (q *RedisQueue) Fail(ctx context.Context, job *Job, cause error, retryable bool) (bool, error) {
	now := time.Now()
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	if retryable && job.Attempts < job.MaxAttempts {
		// Exponential backoff: base * 2^(attempts-1).
		delay := job.Backoff << (job.Attempts - 1)
		readyAt := now.Add(delay)

		pipe := q.client.TxPipeline()
		pipe.LRem(ctx, q.key("active"), 1, job.ID)
		pipe.HSet(ctx, q.jobKey(job.ID), "state", string(StateDelayed), "error", msg)
		pipe.ZAdd(ctx, q.key("delayed"), redis.Z{Score: float64(readyAt.UnixMilli()), Member: job.ID})
		if _, err := pipe.Exec(ctx); err != nil {
			return false, fmt.Errorf("delay job %s: %w", job.ID, err)
		}
		return true, nil
	}

	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.key("active"), 1, job.ID)
	pipe.HSet(ctx, q.jobKey(job.ID),
		"state", string(StateFailed),
		"finished_at", now.UnixMilli(),
		"error", msg,
	)
	pipe.ZAdd(ctx, q.key("failed"), redis.Z{Score: float64(now.UnixMilli()), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	return false, nil
}

func (q *RedisQueue) State(ctx context.Context, jobID string) (State, error) {
	val, err := q.client.HGet(ctx, q.jobKey(jobID), "state").Result()
	if err == redis.Nil {
		return "", ErrJobNotFound
	}
	if err != nil {
		return "", fmt.Errorf("job state %s: %w", jobID, err)
	}
	return State(val), nil
}

func (q *RedisQueue) Counts(ctx context.Context) (Counts, error) {
	pipe := q.client.TxPipeline()
	waiting := pipe.LLen(ctx, q.key("waiting"))
	active := pipe.LLen(ctx, q.key("active"))
	delayed := pipe.ZCard(ctx, q.key("delayed"))
	completed := pipe.ZCard(ctx, q.key("completed"))
	failed := pipe.ZCard(ctx, q.key("failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, fmt.Errorf("queue counts: %w", err)
	}
	return Counts{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Delayed:   delayed.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

func (q *RedisQueue) Remove(ctx context.Context, jobID string) (bool, error) {
	removed, err := q.client.LRem(ctx, q.key("waiting"), 1, jobID).Result()
	if err != nil {
		return false, fmt.Errorf("remove job %s: %w", jobID, err)
	}
	if removed == 0 {
		removed, err = q.client.ZRem(ctx, q.key("delayed"), jobID).Result()
		if err != nil {
			return false, fmt.Errorf("remove delayed job %s: %w", jobID, err)
		}
	}
	if removed == 0 {
		return false, nil
	}
	if err := q.client.Del(ctx, q.jobKey(jobID)).Err(); err != nil {
		return true, fmt.Errorf("delete job record %s: %w", jobID, err)
	}
	return true, nil
}

func (q *RedisQueue) Pause(ctx context.Context) error {
	return q.client.Set(ctx, q.key("paused"), "1", 0).Err()
}

func (q *RedisQueue) Resume(ctx context.Context) error {
	return q.client.Del(ctx, q.key("paused")).Err()
}

func (q *RedisQueue) PromoteDelayed(ctx context.Context) (int, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	ids, err := q.client.ZRangeByScore(ctx, q.key("delayed"), &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan delayed: %w", err)
	}
	promoted := 0
	for _, id := range ids {
		n, err := q.client.ZRem(ctx, q.key("delayed"), id).Result()
		if err != nil {
			return promoted, fmt.Errorf("promote %s: %w", id, err)
		}
		if n == 0 {
			continue // claimed by a concurrent promoter
		}
		pipe := q.client.TxPipeline()
		pipe.HSet(ctx, q.jobKey(id), "state", string(StateWaiting))
		pipe.LPush(ctx, q.key("waiting"), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return promoted, fmt.Errorf("promote %s: %w", id, err)
		}
		promoted++
	}
	return promoted, nil
}

func (q *RedisQueue) RecoverStalled(ctx context.Context, olderThan time.Duration) ([]string, error) {
	ids, err := q.client.LRange(ctx, q.key("active"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("scan active: %w", err)
	}
	cutoff := time.Now().Add(-olderThan).UnixMilli()

	var stalled []string
	for _, id := range ids {
		vals, err := q.client.HMGet(ctx, q.jobKey(id), "state", "started_at", "attempts", "max_attempts").Result()
		if err != nil {
			return stalled, fmt.Errorf("inspect job %s: %w", id, err)
		}
		state, _ := vals[0].(string)
		startedStr, _ := vals[1].(string)
		started, _ := strconv.ParseInt(startedStr, 10, 64)
		if state != string(StateActive) || started >= cutoff {
			continue
		}

		attemptsStr, _ := vals[2].(string)
		maxStr, _ := vals[3].(string)
		attempts, _ := strconv.Atoi(attemptsStr)
		maxAttempts, _ := strconv.Atoi(maxStr)

		pipe := q.client.TxPipeline()
		pipe.LRem(ctx, q.key("active"), 1, id)
		if attempts < maxAttempts {
			pipe.HSet(ctx, q.jobKey(id), "state", string(StateWaiting))
			pipe.LPush(ctx, q.key("waiting"), id)
		} else {
			pipe.HSet(ctx, q.jobKey(id),
				"state", string(StateFailed),
				"finished_at", time.Now().UnixMilli(),
				"error", "stalled: worker lost mid-job",
			)
			pipe.ZAdd(ctx, q.key("failed"), redis.Z{Score: float64(time.Now().UnixMilli()), Member: id})
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return stalled, fmt.Errorf("recover job %s: %w", id, err)
		}
		stalled = append(stalled, id)
	}
	return stalled, nil
}

func (q *RedisQueue) Drain(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := strconv.FormatInt(time.Now().Add(-retention).UnixMilli(), 10)
	drained := 0
	for _, set := range []string{"completed", "failed"} {
		ids, err := q.client.ZRangeByScore(ctx, q.key(set), &redis.ZRangeBy{Min: "-inf", Max: cutoff}).Result()
		if err != nil {
			return drained, fmt.Errorf("scan %s: %w", set, err)
		}
		for _, id := range ids {
			pipe := q.client.TxPipeline()
			pipe.ZRem(ctx, q.key(set), id)
			pipe.Del(ctx, q.jobKey(id))
			if _, err := pipe.Exec(ctx); err != nil {
				return drained, fmt.Errorf("drain %s: %w", id, err)
			}
			drained++
		}
	}
	return drained, nil
}

var _ Broker = (*RedisQueue)(nil)
