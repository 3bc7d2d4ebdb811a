package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/release-distribution-api/internal/dto"
	"github.com/noah-isme/release-distribution-api/internal/models"
	appErrors "github.com/noah-isme/release-distribution-api/pkg/errors"
)

type fixedTelemetry struct {
	count int64
	err   error
	calls int
}

func (f *fixedTelemetry) CountInstallationsOnVersion(context.Context, models.VersionScope, string) (int64, error) {
	f.calls++
	return f.count, f.err
}

var extScope = models.VersionScope{ExtensionID: "ext-1"}

func newSafetyFixture(t *testing.T, telemetry InstallationTelemetry, opts ...SafetyCheckOption) (*SafetyCheckService, *VersionService, *memCompatStore, *memVersionStore) {
	t.Helper()
	versions, store, compat := newVersionFixture()
	registerVersions(t, versions, "ext-1", "1.0.0", "1.5.0", "2.0.0")
	clock := newTestClock()
	opts = append([]SafetyCheckOption{WithSafetyClock(clock.Now)}, opts...)
	return NewSafetyCheckService(versions, telemetry, nil, opts...), versions, compat, store
}

func checkByType(t *testing.T, results models.SafetyCheckResults, checkType models.SafetyCheckType) models.SafetyCheckResult {
	t.Helper()
	for _, r := range results {
		if r.Type == checkType {
			return r
		}
	}
	t.Fatalf("missing %s check", checkType)
	return models.SafetyCheckResult{}
}

func TestSafetyChecksAllPass(t *testing.T) {
	svc, _, _, _ := newSafetyFixture(t, &fixedTelemetry{count: 40})

	results, err := svc.Evaluate(context.Background(), extScope, "2.0.0", "1.5.0")
	require.NoError(t, err)
	require.Len(t, results, 4)
	for i, checkType := range models.SafetyCheckTypes {
		assert.Equal(t, checkType, results[i].Type, "checks keep a fixed order")
		assert.Equal(t, models.SafetyCheckPassed, results[i].Status, results[i].Message)
		assert.False(t, results[i].CheckedAt.IsZero())
	}
	impact := checkByType(t, results, models.SafetyCheckUserImpact)
	assert.Equal(t, models.ImpactLow, impact.Impact)
	assert.EqualValues(t, 40, *impact.AffectedUsers)
	assert.EqualValues(t, 40, results.AffectedUsers())
}

func TestSafetyChecksDetectDeclaredIncompatibility(t *testing.T) {
	svc, versions, _, _ := newSafetyFixture(t, &fixedTelemetry{})
	_, err := versions.DeclareCompatibility(context.Background(), dto.DeclareCompatibilityRequest{
		ExtensionID: "ext-1", Version: "2.0.0", Kind: "data", MinimumVersion: "2.0.0", Note: "schema v2",
	}, operator)
	require.NoError(t, err)
	_, err = versions.DeclareCompatibility(context.Background(), dto.DeclareCompatibilityRequest{
		ExtensionID: "ext-1", Version: "1.5.0", Kind: "dependency", MinimumVersion: "1.5.0",
	}, operator)
	require.NoError(t, err)

	results, err := svc.Evaluate(context.Background(), extScope, "2.0.0", "1.0.0")
	require.NoError(t, err)
	data := checkByType(t, results, models.SafetyCheckDataCompatibility)
	assert.Equal(t, models.SafetyCheckFailed, data.Status)
	assert.Contains(t, data.Message, "schema v2")
	assert.Equal(t, models.SafetyCheckPassed, checkByType(t, results, models.SafetyCheckAPICompatibility).Status)
	assert.Equal(t, models.SafetyCheckFailed, checkByType(t, results, models.SafetyCheckDependency).Status)
	assert.Len(t, results.Failed(), 2)

	// Declarations outside (to, from] do not apply.
	results, err = svc.Evaluate(context.Background(), extScope, "1.5.0", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, models.SafetyCheckPassed, checkByType(t, results, models.SafetyCheckDataCompatibility).Status)
}

func TestSafetyChecksFailClosedOnCatalogueErrors(t *testing.T) {
	svc, _, compat, _ := newSafetyFixture(t, &fixedTelemetry{})
	compat.listErr = errors.New("connection refused")

	results, err := svc.Evaluate(context.Background(), extScope, "2.0.0", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, models.SafetyCheckFailed, checkByType(t, results, models.SafetyCheckDataCompatibility).Status)
	assert.Equal(t, models.SafetyCheckFailed, checkByType(t, results, models.SafetyCheckAPICompatibility).Status)
	assert.Equal(t, models.SafetyCheckFailed, checkByType(t, results, models.SafetyCheckDependency).Status)
}

func TestSafetyChecksUnreadableDeclarationIsViolation(t *testing.T) {
	svc, _, compat, _ := newSafetyFixture(t, &fixedTelemetry{})
	compat.decls = append(compat.decls, models.CompatibilityDeclaration{
		ID: "bad", ExtensionID: extScope.ExtensionPtr(), Version: "2.0", Kind: models.CompatibilityAPI, MinimumVersion: "1.0.0",
	})

	results, err := svc.Evaluate(context.Background(), extScope, "2.0.0", "1.0.0")
	require.NoError(t, err)
	api := checkByType(t, results, models.SafetyCheckAPICompatibility)
	assert.Equal(t, models.SafetyCheckFailed, api.Status)
	assert.Contains(t, api.Message, "unreadable")
}

func TestSafetyChecksDependencyTarget(t *testing.T) {
	svc, _, _, store := newSafetyFixture(t, &fixedTelemetry{})

	results, err := svc.Evaluate(context.Background(), extScope, "2.0.0", "0.9.0")
	require.NoError(t, err)
	dep := checkByType(t, results, models.SafetyCheckDependency)
	assert.Equal(t, models.SafetyCheckFailed, dep.Status)
	assert.Contains(t, dep.Message, "not registered")

	require.NoError(t, store.SetDeprecated(context.Background(), store.versions[0].ID, true))
	results, err = svc.Evaluate(context.Background(), extScope, "2.0.0", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, models.SafetyCheckWarning, checkByType(t, results, models.SafetyCheckDependency).Status)
	assert.Empty(t, results.Failed())
}

func TestSafetyChecksUserImpactClassification(t *testing.T) {
	telemetry := &fixedTelemetry{}
	svc, _, _, _ := newSafetyFixture(t, telemetry, WithImpactThresholds(ImpactThresholds{Medium: 10, High: 50}))

	for _, tc := range []struct {
		count  int64
		impact models.ImpactLevel
		status models.SafetyCheckStatus
	}{
		{9, models.ImpactLow, models.SafetyCheckPassed},
		{10, models.ImpactMedium, models.SafetyCheckWarning},
		{50, models.ImpactHigh, models.SafetyCheckWarning},
	} {
		telemetry.count = tc.count
		results, err := svc.Evaluate(context.Background(), extScope, "2.0.0", "1.5.0")
		require.NoError(t, err)
		impact := checkByType(t, results, models.SafetyCheckUserImpact)
		assert.Equal(t, tc.impact, impact.Impact, "count %d", tc.count)
		assert.Equal(t, tc.status, impact.Status, "count %d", tc.count)
	}

	telemetry.err = errors.New("timeout")
	results, err := svc.Evaluate(context.Background(), extScope, "2.0.0", "1.5.0")
	require.NoError(t, err)
	impact := checkByType(t, results, models.SafetyCheckUserImpact)
	assert.Equal(t, models.SafetyCheckWarning, impact.Status)
	assert.Nil(t, impact.AffectedUsers)
}

func TestSafetyChecksRejectInvalidVersions(t *testing.T) {
	svc, _, _, _ := newSafetyFixture(t, nil)
	_, err := svc.Evaluate(context.Background(), extScope, "2.0", "1.0.0")
	require.ErrorIs(t, err, appErrors.ErrInvalidVersionFormat)
}

func TestBreakerTelemetryOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &fixedTelemetry{err: errors.New("db down")}
	breaker := NewBreakerTelemetry(inner, 2, time.Minute, nil)

	for i := 0; i < 2; i++ {
		_, err := breaker.CountInstallationsOnVersion(context.Background(), extScope, "1.0.0")
		require.Error(t, err)
	}
	_, err := breaker.CountInstallationsOnVersion(context.Background(), extScope, "1.0.0")
	require.ErrorIs(t, err, appErrors.ErrTelemetryUnavailable)
	assert.Equal(t, 2, inner.calls, "an open breaker short-circuits")

	healthy := NewBreakerTelemetry(&fixedTelemetry{count: 7}, 2, time.Minute, nil)
	count, err := healthy.CountInstallationsOnVersion(context.Background(), extScope, "1.0.0")
	require.NoError(t, err)
	assert.EqualValues(t, 7, count)
}
