package certify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelforge/certhub/internal/cache"
	"github.com/modelforge/certhub/internal/queue"
	"github.com/modelforge/certhub/internal/store"
	"github.com/modelforge/certhub/pkg/models"
)

// --- in-memory store ---

type fakeStore struct {
	mu          sync.Mutex
	deployments map[uuid.UUID]*models.Deployment
	certs       map[string]*models.Certification
	creds       map[uuid.UUID]*models.Credentials
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		deployments: make(map[uuid.UUID]*models.Deployment),
		certs:       make(map[string]*models.Certification),
		creds:       make(map[uuid.UUID]*models.Credentials),
	}
}

func certKey(deploymentID uuid.UUID, region string) string {
	return deploymentID.String() + "|" + region
}

func (f *fakeStore) addDeployment(d *models.Deployment) *models.Deployment {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deployments[d.ID] = d
	return d
}

func testDeployment(ref string) *models.Deployment {
	return &models.Deployment{
		ID:            uuid.New(),
		ModelName:     "atlas-70b",
		Provider:      "acme",
		DeploymentRef: ref,
		InferenceMode: "on-demand",
		Active:        true,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) GetDeployment(_ context.Context, id uuid.UUID) (*models.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deployments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return d, nil
}

func (f *fakeStore) GetDeploymentByRef(_ context.Context, ref string) (*models.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.deployments {
		if d.DeploymentRef == ref {
			return d, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) ListDeployments(_ context.Context, filter store.DeploymentFilter) ([]*models.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Deployment
	for _, d := range f.deployments {
		if filter.Provider != "" && d.Provider != filter.Provider {
			continue
		}
		if filter.ActiveOnly && !d.Active {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeStore) UpsertCertification(_ context.Context, cert *models.Certification) (*models.Certification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *cert
	key := certKey(cert.DeploymentID, cert.Region)
	if existing, ok := f.certs[key]; ok {
		cp.ID = existing.ID
		cp.CreatedAt = existing.CreatedAt
	}
	cp.UpdatedAt = time.Now().UTC()
	f.certs[key] = &cp
	out := cp
	return &out, nil
}

func (f *fakeStore) GetCertification(_ context.Context, deploymentID uuid.UUID, region string) (*models.Certification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.certs[certKey(deploymentID, region)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) ListCertificationsByDeployment(_ context.Context, deploymentID uuid.UUID) ([]*models.Certification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Certification
	for _, c := range f.certs {
		if c.DeploymentID == deploymentID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) ListCertificationsByJobID(_ context.Context, jobID string) ([]*models.Certification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Certification
	for _, c := range f.certs {
		if c.JobID != nil && *c.JobID == jobID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) ListStalePending(_ context.Context, olderThan time.Time) ([]*models.Certification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Certification
	for _, c := range f.certs {
		if c.Status == models.CertStatusPending && c.UpdatedAt.Before(olderThan) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkSkippedByJobID(_ context.Context, jobID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	now := time.Now().UTC()
	for _, c := range f.certs {
		if c.JobID == nil || *c.JobID != jobID {
			continue
		}
		if c.Status != models.CertStatusPending && c.Status != models.CertStatusRunning {
			continue
		}
		c.Status = models.CertStatusSkipped
		c.CompletedAt = &now
		c.UpdatedAt = now
		n++
	}
	return n, nil
}

func (f *fakeStore) SetCertificationJobID(_ context.Context, deploymentID uuid.UUID, region, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.certs[certKey(deploymentID, region)]
	if !ok {
		return store.ErrNotFound
	}
	c.JobID = &jobID
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *fakeStore) GetCredentials(_ context.Context, userID uuid.UUID) (*models.Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.creds[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c, nil
}

var _ store.Store = (*fakeStore)(nil)

// --- in-memory broker ---

type fakeJob struct {
	id      string
	payload []byte
	state   queue.State
}

type fakeBroker struct {
	mu      sync.Mutex
	jobs    map[string]*fakeJob
	order   []string
	failErr error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{jobs: make(map[string]*fakeJob)}
}

func (b *fakeBroker) Enqueue(_ context.Context, payload []byte, opts queue.Options) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failErr != nil {
		return "", b.failErr
	}
	id := opts.JobID
	if id == "" {
		id = uuid.NewString()
	}
	if _, ok := b.jobs[id]; ok {
		return id, nil
	}
	b.jobs[id] = &fakeJob{id: id, payload: payload, state: queue.StateWaiting}
	b.order = append(b.order, id)
	return id, nil
}

func (b *fakeBroker) Dequeue(_ context.Context, _ time.Duration) (*queue.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range b.order {
		if j, ok := b.jobs[id]; ok && j.state == queue.StateWaiting {
			j.state = queue.StateActive
			return &queue.Job{ID: j.id, Payload: j.payload, Attempts: 1, MaxAttempts: 3}, nil
		}
	}
	return nil, nil
}

func (b *fakeBroker) Complete(_ context.Context, job *queue.Job, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if j, ok := b.jobs[job.ID]; ok {
		j.state = queue.StateCompleted
	}
	return nil
}

func (b *fakeBroker) Fail(_ context.Context, job *queue.Job, _ error, retryable bool) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.jobs[job.ID]
	if !ok {
		return false, queue.ErrJobNotFound
	}
	if retryable && job.Attempts < job.MaxAttempts {
		j.state = queue.StateDelayed
		return true, nil
	}
	j.state = queue.StateFailed
	return false, nil
}

func (b *fakeBroker) State(_ context.Context, jobID string) (queue.State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.jobs[jobID]
	if !ok {
		return "", queue.ErrJobNotFound
	}
	return j.state, nil
}

func (b *fakeBroker) Counts(context.Context) (queue.Counts, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var c queue.Counts
	for _, j := range b.jobs {
		switch j.state {
		case queue.StateWaiting:
			c.Waiting++
		case queue.StateActive:
			c.Active++
		case queue.StateCompleted:
			c.Completed++
		case queue.StateFailed:
			c.Failed++
		case queue.StateDelayed:
			c.Delayed++
		}
	}
	return c, nil
}

func (b *fakeBroker) Remove(_ context.Context, jobID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.jobs[jobID]
	if !ok {
		return false, nil
	}
	if j.state != queue.StateWaiting && j.state != queue.StateDelayed {
		return false, nil
	}
	delete(b.jobs, jobID)
	return true, nil
}

func (b *fakeBroker) Pause(context.Context) error  { return nil }
func (b *fakeBroker) Resume(context.Context) error { return nil }

func (b *fakeBroker) PromoteDelayed(context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, j := range b.jobs {
		if j.state == queue.StateDelayed {
			j.state = queue.StateWaiting
			n++
		}
	}
	return n, nil
}

func (b *fakeBroker) RecoverStalled(context.Context, time.Duration) ([]string, error) {
	return nil, nil
}

func (b *fakeBroker) Drain(context.Context, time.Duration) (int, error) { return 0, nil }

func (b *fakeBroker) jobIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}

func (b *fakeBroker) stateOf(id string) queue.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if j, ok := b.jobs[id]; ok {
		return j.state
	}
	return ""
}

var _ queue.Broker = (*fakeBroker)(nil)

// --- in-memory cache ---

type fakeCache struct {
	mu     sync.Mutex
	values map[string][]byte
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: make(map[string][]byte)}
}

func (f *fakeCache) Ping(context.Context) error { return nil }

func (f *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	return nil
}

func (f *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *fakeCache) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, key)
	return nil
}

func (f *fakeCache) SetJobStatus(ctx context.Context, jobID, status string, ttl time.Duration) error {
	return f.Set(ctx, cache.JobStatusKey(jobID), []byte(status), ttl)
}

func (f *fakeCache) GetJobStatus(ctx context.Context, jobID string) (string, bool, error) {
	v, ok, err := f.Get(ctx, cache.JobStatusKey(jobID))
	return string(v), ok, err
}

func (f *fakeCache) IncrWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 1, nil
}

var _ cache.Cache = (*fakeCache)(nil)

// --- credentials fake ---

type fakeCreds struct {
	creds map[uuid.UUID]*models.Credentials
	err   error
}

func (f *fakeCreds) Resolve(_ context.Context, userID uuid.UUID) (*models.Credentials, error) {
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.creds[userID]
	if !ok {
		return nil, fmt.Errorf("no credentials for %s", userID)
	}
	return c, nil
}
