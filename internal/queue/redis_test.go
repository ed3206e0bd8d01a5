package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/modelforge/certhub/internal/queue"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestRedis spins up a redis container and returns a connected client.
func setupTestRedis(t *testing.T) *goredis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(ctx))
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := goredis.NewClient(&goredis.Options{Addr: endpoint})
	require.NoError(t, client.Ping(ctx).Err())
	t.Cleanup(func() { client.Close() })

	return client
}

func newTestQueue(t *testing.T) *queue.RedisQueue {
	t.Helper()
	return queue.NewRedisQueue(setupTestRedis(t), queue.Config{
		Name:        "test",
		MaxAttempts: 3,
		Backoff:     10 * time.Millisecond,
	})
}

func TestEnqueueDequeue_Roundtrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	q := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, []byte(`{"cert":"c1"}`), queue.Options{JobID: "job-1"})
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)

	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, []byte(`{"cert":"c1"}`), job.Payload)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, 3, job.MaxAttempts)

	state, err := q.State(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, queue.StateActive, state)
}

func TestEnqueue_IdempotentPerJobID(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, []byte("first"), queue.Options{JobID: "dup"})
	require.NoError(t, err)
	id, err := q.Enqueue(ctx, []byte("second"), queue.Options{JobID: "dup"})
	require.NoError(t, err)
	assert.Equal(t, "dup", id)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Waiting)

	// The duplicate enqueue must not clobber the original payload.
	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, []byte("first"), job.Payload)
}

func TestDequeue_TimesOutEmpty(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	q := newTestQueue(t)

	job, err := q.Dequeue(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestComplete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, []byte("p"), queue.Options{JobID: "job-1"})
	require.NoError(t, err)
	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	require.NoError(t, q.Complete(ctx, job, []byte(`{"ok":true}`)))

	state, err := q.State(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, queue.StateCompleted, state)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts.Active)
	assert.Equal(t, int64(1), counts.Completed)
}

func TestFail_RetryableDelaysThenPromotes(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, []byte("p"), queue.Options{JobID: "job-1", Backoff: 10 * time.Millisecond})
	require.NoError(t, err)
	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	retried, err := q.Fail(ctx, job, errors.New("engine timeout"), true)
	require.NoError(t, err)
	assert.True(t, retried)

	state, err := q.State(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, queue.StateDelayed, state)

	// Wait past the backoff, then promote back to waiting.
	time.Sleep(50 * time.Millisecond)
	n, err := q.PromoteDelayed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, 2, job.Attempts)
}

func TestFail_ExhaustedGoesTerminal(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, []byte("p"), queue.Options{JobID: "job-1", MaxAttempts: 1})
	require.NoError(t, err)
	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	retried, err := q.Fail(ctx, job, errors.New("engine timeout"), true)
	require.NoError(t, err)
	assert.False(t, retried)

	state, err := q.State(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, queue.StateFailed, state)
}

func TestFail_NonRetryableGoesTerminal(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, []byte("p"), queue.Options{JobID: "job-1"})
	require.NoError(t, err)
	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	retried, err := q.Fail(ctx, job, errors.New("bad credentials"), false)
	require.NoError(t, err)
	assert.False(t, retried)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Failed)
}

func TestState_UnknownJob(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	q := newTestQueue(t)

	_, err := q.State(context.Background(), "ghost")
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
}

func TestState_EnqueueCrashRemnantReadsNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	client := setupTestRedis(t)
	q := queue.NewRedisQueue(client, queue.Config{Name: "test"})
	ctx := context.Background()

	// Only the existence marker made it in, as when a producer dies between
	// claiming the id and publishing the job. Such a remnant must not report
	// a state, or the reconciliation sweep would treat it as live forever.
	require.NoError(t, client.HSetNX(ctx, "q:test:job:stuck", "enqueued_at", time.Now().UnixMilli()).Err())

	_, err := q.State(ctx, "stuck")
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
}

func TestRemove(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, []byte("p"), queue.Options{JobID: "job-1"})
	require.NoError(t, err)

	removed, err := q.Remove(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = q.State(ctx, "job-1")
	assert.ErrorIs(t, err, queue.ErrJobNotFound)

	removed, err = q.Remove(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestPauseResume(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, []byte("p"), queue.Options{JobID: "job-1"})
	require.NoError(t, err)

	require.NoError(t, q.Pause(ctx))
	job, err := q.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, job)

	require.NoError(t, q.Resume(ctx))
	job, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "job-1", job.ID)
}

func TestRecoverStalled(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, []byte("p"), queue.Options{JobID: "job-1"})
	require.NoError(t, err)
	_, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	// The job was started just now, so a zero threshold treats it as stalled.
	time.Sleep(10 * time.Millisecond)
	stalled, err := q.RecoverStalled(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"job-1"}, stalled)

	state, err := q.State(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, queue.StateWaiting, state)
}

func TestRecoverStalled_ExhaustedFails(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, []byte("p"), queue.Options{JobID: "job-1", MaxAttempts: 1})
	require.NoError(t, err)
	_, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	_, err = q.RecoverStalled(ctx, 0)
	require.NoError(t, err)

	state, err := q.State(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, queue.StateFailed, state)
}

func TestDrain(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, []byte("p"), queue.Options{JobID: "job-1"})
	require.NoError(t, err)
	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, job, nil))

	// Retention of zero prunes everything finished before now.
	time.Sleep(10 * time.Millisecond)
	n, err := q.Drain(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = q.State(ctx, "job-1")
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
}
