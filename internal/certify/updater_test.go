package certify

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelforge/certhub/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdater_OnStartInitializesRecord(t *testing.T) {
	st := newFakeStore()
	d := st.addDeployment(testDeployment("acme.atlas-70b.on-demand"))
	u := NewStatusUpdater(st)

	rec, err := u.OnStart(context.Background(), d.ID, "us-east-1")
	require.NoError(t, err)
	assert.Equal(t, models.CertStatusRunning, rec.Status)
	require.NotNil(t, rec.StartedAt)
	assert.Nil(t, rec.CompletedAt)
}

func TestUpdater_OnStartClearsPriorOutcome(t *testing.T) {
	st := newFakeStore()
	d := st.addDeployment(testDeployment("acme.atlas-70b.on-demand"))
	u := NewStatusUpdater(st)
	ctx := context.Background()

	_, err := u.OnStart(ctx, d.ID, "us-east-1")
	require.NoError(t, err)
	_, err = u.OnSuccess(ctx, d.ID, "us-east-1", SuccessResult{
		Passed: true, Score: 95, Rating: 4.75, Badge: models.BadgeGold,
		TestResults: json.RawMessage(`[{"name":"availability"}]`),
	})
	require.NoError(t, err)

	rec, err := u.OnStart(ctx, d.ID, "us-east-1")
	require.NoError(t, err)
	assert.Equal(t, models.CertStatusRunning, rec.Status)
	assert.Nil(t, rec.Passed)
	assert.Nil(t, rec.Score)
	assert.Nil(t, rec.Badge)
	assert.Nil(t, rec.TestResults)
	assert.Nil(t, rec.CertifiedAt)
	assert.Nil(t, rec.CompletedAt)
}

func TestUpdater_OnSuccessPassed(t *testing.T) {
	st := newFakeStore()
	d := st.addDeployment(testDeployment("acme.atlas-70b.on-demand"))
	u := NewStatusUpdater(st)
	ctx := context.Background()

	_, err := u.OnStart(ctx, d.ID, "us-east-1")
	require.NoError(t, err)

	rec, err := u.OnSuccess(ctx, d.ID, "us-east-1", SuccessResult{
		Passed: true, Score: 92, Rating: 4.6, Badge: models.BadgeGold,
	})
	require.NoError(t, err)
	assert.Equal(t, models.CertStatusPassed, rec.Status)
	require.NotNil(t, rec.Passed)
	assert.True(t, *rec.Passed)
	require.NotNil(t, rec.CertifiedAt)
	require.NotNil(t, rec.DurationMS)
	require.NotNil(t, rec.CompletedAt)
}

func TestUpdater_OnSuccessFailedHasNoCertifiedAt(t *testing.T) {
	st := newFakeStore()
	d := st.addDeployment(testDeployment("acme.atlas-70b.on-demand"))
	u := NewStatusUpdater(st)
	ctx := context.Background()

	_, err := u.OnStart(ctx, d.ID, "us-east-1")
	require.NoError(t, err)

	rec, err := u.OnSuccess(ctx, d.ID, "us-east-1", SuccessResult{
		Passed: false, Score: 40, Rating: 2, Badge: models.BadgeNone,
	})
	require.NoError(t, err)
	assert.Equal(t, models.CertStatusFailed, rec.Status)
	assert.Nil(t, rec.CertifiedAt)
}

func TestUpdater_OnFailure(t *testing.T) {
	st := newFakeStore()
	d := st.addDeployment(testDeployment("acme.atlas-70b.on-demand"))
	u := NewStatusUpdater(st)
	ctx := context.Background()

	_, err := u.OnStart(ctx, d.ID, "us-east-1")
	require.NoError(t, err)

	rec, err := u.OnFailure(ctx, d.ID, "us-east-1", "engine exploded", "unknown")
	require.NoError(t, err)
	assert.Equal(t, models.CertStatusError, rec.Status)
	require.NotNil(t, rec.ErrorMessage)
	assert.Equal(t, "engine exploded", *rec.ErrorMessage)
	require.NotNil(t, rec.ErrorCategory)
	assert.Equal(t, "unknown", *rec.ErrorCategory)
	assert.Nil(t, rec.CertifiedAt)
}

func TestUpdater_RecertificationKeepsOneRecord(t *testing.T) {
	st := newFakeStore()
	d := st.addDeployment(testDeployment("acme.atlas-70b.on-demand"))
	u := NewStatusUpdater(st)
	ctx := context.Background()

	first, err := u.OnStart(ctx, d.ID, "us-east-1")
	require.NoError(t, err)
	_, err = u.OnFailure(ctx, d.ID, "us-east-1", "flaky", "timeout")
	require.NoError(t, err)
	_, err = u.OnStart(ctx, d.ID, "us-east-1")
	require.NoError(t, err)
	second, err := u.OnSuccess(ctx, d.ID, "us-east-1", SuccessResult{
		Passed: true, Score: 88, Rating: 4.4, Badge: models.BadgeSilver,
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)

	certs, err := st.ListCertificationsByDeployment(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, certs, 1)
	assert.Equal(t, models.CertStatusPassed, certs[0].Status)
}
