package certify

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/modelforge/certhub/internal/credentials"
	"github.com/modelforge/certhub/internal/engine"
	"github.com/modelforge/certhub/internal/engine/mock"
	"github.com/modelforge/certhub/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProcessorFixture(eng engine.Engine) (*fakeStore, *Processor) {
	st := newFakeStore()
	v := NewValidator(st, testRegions)
	u := NewStatusUpdater(st)
	creds := credentials.NewStoreResolver(st)
	return st, NewProcessor(v, u, eng, creds, 70)
}

func descriptorFor(d *models.Deployment, region string) models.JobDescriptor {
	return models.JobDescriptor{
		CertificationID: uuid.New(),
		DeploymentID:    d.ID,
		DeploymentRef:   d.DeploymentRef,
		Region:          region,
	}
}

func TestProcessor_PassingRun(t *testing.T) {
	st, p := newProcessorFixture(mock.NewPassingEngine(0.95, 5))
	d := st.addDeployment(testDeployment("acme.atlas-70b.on-demand"))
	ctx := context.Background()

	res, err := p.Process(ctx, descriptorFor(d, "us-east-1"))
	require.NoError(t, err)
	assert.Equal(t, models.CertStatusPassed, res.Status)
	assert.True(t, res.Passed)
	assert.Equal(t, float64(95), res.Score)

	rec, err := st.GetCertification(ctx, d.ID, "us-east-1")
	require.NoError(t, err)
	assert.Equal(t, models.CertStatusPassed, rec.Status)
	require.NotNil(t, rec.Badge)
	assert.Equal(t, models.BadgeGold, *rec.Badge)
	assert.NotEmpty(t, rec.TestResults)
}

func TestProcessor_BelowThresholdFails(t *testing.T) {
	st, p := newProcessorFixture(mock.NewPassingEngine(0.5, 5))
	d := st.addDeployment(testDeployment("acme.atlas-70b.on-demand"))
	ctx := context.Background()

	res, err := p.Process(ctx, descriptorFor(d, "us-east-1"))
	require.NoError(t, err)
	assert.Equal(t, models.CertStatusFailed, res.Status)
	assert.False(t, res.Passed)

	rec, err := st.GetCertification(ctx, d.ID, "us-east-1")
	require.NoError(t, err)
	assert.Equal(t, models.CertStatusFailed, rec.Status)
	assert.Nil(t, rec.CertifiedAt)
}

func TestProcessor_EngineErrorWritesTerminalAndReturns(t *testing.T) {
	st, p := newProcessorFixture(mock.NewFailingEngine(engine.ErrEngineUnreachable))
	d := st.addDeployment(testDeployment("acme.atlas-70b.on-demand"))
	ctx := context.Background()

	_, err := p.Process(ctx, descriptorFor(d, "us-east-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrEngineUnreachable)

	// Terminal state was persisted before the error went back to the broker.
	rec, gerr := st.GetCertification(ctx, d.ID, "us-east-1")
	require.NoError(t, gerr)
	assert.Equal(t, models.CertStatusError, rec.Status)
	require.NotNil(t, rec.ErrorCategory)
	assert.Equal(t, engine.CategoryUnavailable, *rec.ErrorCategory)
}

func TestProcessor_CategorizedThrottleError(t *testing.T) {
	st, p := newProcessorFixture(mock.NewFailingEngine(&engine.CategorizedError{
		Category: engine.CategoryThrottled,
		Message:  "rate exceeded",
	}))
	d := st.addDeployment(testDeployment("acme.atlas-70b.on-demand"))
	ctx := context.Background()

	_, err := p.Process(ctx, descriptorFor(d, "us-east-1"))
	require.Error(t, err)

	rec, gerr := st.GetCertification(ctx, d.ID, "us-east-1")
	require.NoError(t, gerr)
	require.NotNil(t, rec.ErrorCategory)
	assert.Equal(t, engine.CategoryThrottled, *rec.ErrorCategory)
	assert.True(t, engine.Transient(*rec.ErrorCategory))
}

func TestProcessor_MissingCredentials(t *testing.T) {
	st, p := newProcessorFixture(mock.NewPassingEngine(1, 1))
	d := st.addDeployment(testDeployment("acme.atlas-70b.on-demand"))
	ctx := context.Background()

	desc := descriptorFor(d, "us-east-1")
	desc.CreatedBy = uuid.NewString() // a user with no stored credentials

	_, err := p.Process(ctx, desc)
	require.ErrorIs(t, err, credentials.ErrNoCredentials)

	rec, gerr := st.GetCertification(ctx, d.ID, "us-east-1")
	require.NoError(t, gerr)
	assert.Equal(t, models.CertStatusError, rec.Status)
	require.NotNil(t, rec.ErrorCategory)
	assert.Equal(t, engine.CategoryCredentials, *rec.ErrorCategory)
	assert.False(t, engine.Transient(*rec.ErrorCategory))
}

func TestProcessor_CredentialsPassedToEngine(t *testing.T) {
	var captured engine.Request
	eng := &mock.MockEngine{
		CertifyFunc: func(_ context.Context, req engine.Request, _ engine.ProgressFunc) (*engine.Outcome, error) {
			captured = req
			return &engine.Outcome{IsAvailable: true, SuccessRate: 1}, nil
		},
	}
	st, p := newProcessorFixture(eng)
	d := st.addDeployment(testDeployment("acme.atlas-70b.on-demand"))

	userID := uuid.New()
	st.creds[userID] = &models.Credentials{
		UserID: userID, AccessKey: "ak", SecretKey: "sk", Region: "us-east-1",
	}

	desc := descriptorFor(d, "us-east-1")
	desc.CreatedBy = userID.String()

	_, err := p.Process(context.Background(), desc)
	require.NoError(t, err)
	assert.Equal(t, "ak", captured.AccessKey)
	assert.Equal(t, "sk", captured.SecretKey)
	assert.Equal(t, d.DeploymentRef, captured.DeploymentRef)
}

func TestProcessor_UnknownDeployment(t *testing.T) {
	_, p := newProcessorFixture(mock.NewPassingEngine(1, 1))

	desc := models.JobDescriptor{
		CertificationID: uuid.New(),
		DeploymentID:    uuid.New(),
		DeploymentRef:   "ghost",
		Region:          "us-east-1",
	}
	_, err := p.Process(context.Background(), desc)
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestProcessor_RetryThenPassKeepsSingleTerminalRecord(t *testing.T) {
	// First delivery times out, second passes; the key must end with exactly
	// one record in the passed state.
	attempt := 0
	eng := &mock.MockEngine{
		CertifyFunc: func(_ context.Context, _ engine.Request, _ engine.ProgressFunc) (*engine.Outcome, error) {
			attempt++
			if attempt == 1 {
				return nil, engine.ErrEngineTimeout
			}
			return &engine.Outcome{IsAvailable: true, SuccessRate: 0.9}, nil
		},
	}
	st, p := newProcessorFixture(eng)
	d := st.addDeployment(testDeployment("acme.atlas-70b.on-demand"))
	ctx := context.Background()
	desc := descriptorFor(d, "us-east-1")

	_, err := p.Process(ctx, desc)
	require.Error(t, err)
	rec, gerr := st.GetCertification(ctx, d.ID, "us-east-1")
	require.NoError(t, gerr)
	assert.Equal(t, models.CertStatusError, rec.Status)

	res, err := p.Process(ctx, desc)
	require.NoError(t, err)
	assert.True(t, res.Passed)

	certs, err := st.ListCertificationsByDeployment(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, certs, 1)
	assert.Equal(t, models.CertStatusPassed, certs[0].Status)
}
