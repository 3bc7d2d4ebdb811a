package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestVersionScope(t *testing.T) {
	require.True(t, VersionScope{}.Valid())
	require.True(t, VersionScope{}.IsGlobal())
	require.True(t, VersionScope{ExtensionID: "ext-1"}.Valid())
	require.False(t, VersionScope{ExtensionID: "ext-1", ProductID: "prod-1"}.Valid())
	require.Equal(t, "extension:ext-1", VersionScope{ExtensionID: " ext-1 "}.Key())
	require.Equal(t, "product:p", VersionScope{ProductID: "p"}.Key())
	require.Equal(t, "global", VersionScope{}.Key())
	require.Nil(t, VersionScope{}.ExtensionPtr())

	ext := "ext-1"
	require.Equal(t, VersionScope{ExtensionID: "ext-1"}, ScopeOf(&ext, nil))
}

func TestSafetyCheckResultsRoundTrip(t *testing.T) {
	affected := int64(42)
	checks := SafetyCheckResults{
		{Type: SafetyCheckDataCompatibility, Status: SafetyCheckPassed, CheckedAt: time.Unix(0, 0).UTC()},
		{Type: SafetyCheckDependency, Status: SafetyCheckFailed, Message: "missing", CheckedAt: time.Unix(0, 0).UTC()},
		{Type: SafetyCheckUserImpact, Status: SafetyCheckWarning, Impact: ImpactMedium, AffectedUsers: &affected, CheckedAt: time.Unix(0, 0).UTC()},
	}
	raw, err := checks.Value()
	require.NoError(t, err)

	var decoded SafetyCheckResults
	require.NoError(t, decoded.Scan(raw))
	require.Equal(t, checks, decoded)
	require.Len(t, decoded.Failed(), 1)
	require.Empty(t, decoded.Pending())
	require.Equal(t, int64(42), decoded.AffectedUsers())

	require.NoError(t, decoded.Scan(nil))
	require.Nil(t, decoded)
	require.Error(t, decoded.Scan(12))
}

func TestPrincipalCan(t *testing.T) {
	claims := &JWTClaims{UserID: "op-1", Permissions: []Permission{PermissionRollbacksApprove}}
	p := claims.Principal()
	require.Equal(t, "op-1", p.ID)
	require.True(t, p.Can(PermissionRollbacksApprove))
	require.False(t, p.Can(PermissionRollbacksExecute))
	require.Equal(t, Principal{}, (*JWTClaims)(nil).Principal())
}

func TestTerminalStates(t *testing.T) {
	require.True(t, DistributionFailed.IsTerminal())
	require.False(t, DistributionPaused.IsTerminal())
	require.True(t, RollbackCancelled.IsTerminal())
	require.False(t, RollbackApproved.IsTerminal())
	require.Equal(t, 100, UpdateDistribution{}.Target())
}
