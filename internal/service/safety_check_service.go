package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/release-distribution-api/internal/models"
	appErrors "github.com/noah-isme/release-distribution-api/pkg/errors"
	"github.com/noah-isme/release-distribution-api/pkg/semver"
)

type safetyCatalog interface {
	Resolve(ctx context.Context, scope models.VersionScope, text string) (*models.Version, error)
	ListCompatibility(ctx context.Context, scope models.VersionScope, kind models.CompatibilityKind) ([]models.CompatibilityDeclaration, error)
}

// InstallationTelemetry counts installations per version.
type InstallationTelemetry interface {
	CountInstallationsOnVersion(ctx context.Context, scope models.VersionScope, version string) (int64, error)
}

// ImpactThresholds classify the number of installations a rollback touches. Counts below Medium
// are low impact; counts at or above High are high impact.
type ImpactThresholds struct {
	Medium int64
	High   int64
}

// SafetyCheckService evaluates the fixed pre-rollback checks. It performs no writes.
type SafetyCheckService struct {
	catalog    safetyCatalog
	telemetry  InstallationTelemetry
	thresholds ImpactThresholds
	metrics    *MetricsService
	logger     *zap.Logger
	now        func() time.Time
}

// SafetyCheckOption configures optional collaborators.
type SafetyCheckOption func(*SafetyCheckService)

// WithImpactThresholds overrides the user impact classification.
func WithImpactThresholds(thresholds ImpactThresholds) SafetyCheckOption {
	return func(s *SafetyCheckService) {
		if thresholds.Medium > 0 {
			s.thresholds.Medium = thresholds.Medium
		}
		if thresholds.High > 0 {
			s.thresholds.High = thresholds.High
		}
	}
}

// WithSafetyMetrics records check outcomes.
func WithSafetyMetrics(metrics *MetricsService) SafetyCheckOption {
	return func(s *SafetyCheckService) {
		s.metrics = metrics
	}
}

// WithSafetyClock overrides the time source.
func WithSafetyClock(now func() time.Time) SafetyCheckOption {
	return func(s *SafetyCheckService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSafetyCheckService constructs the engine.
func NewSafetyCheckService(catalog safetyCatalog, telemetry InstallationTelemetry, logger *zap.Logger, opts ...SafetyCheckOption) *SafetyCheckService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &SafetyCheckService{
		catalog:    catalog,
		telemetry:  telemetry,
		thresholds: ImpactThresholds{Medium: 100, High: 1000},
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	if svc.thresholds.High < svc.thresholds.Medium {
		svc.thresholds.High = svc.thresholds.Medium
	}
	return svc
}

// Evaluate runs the four checks for moving scope from fromVersion down to toVersion and returns
// them as a complete batch in fixed order. Missing evidence sources fail the compatibility checks
// rather than passing them.
func (s *SafetyCheckService) Evaluate(ctx context.Context, scope models.VersionScope, fromVersion, toVersion string) (models.SafetyCheckResults, error) {
	from, err := parseVersion(fromVersion)
	if err != nil {
		return nil, err
	}
	to, err := parseVersion(toVersion)
	if err != nil {
		return nil, err
	}
	scope = scope.Normalize()

	results := make(models.SafetyCheckResults, len(models.SafetyCheckTypes))
	checks := []func(context.Context) models.SafetyCheckResult{
		func(ctx context.Context) models.SafetyCheckResult {
			return s.compatibilityCheck(ctx, models.SafetyCheckDataCompatibility, models.CompatibilityData, scope, from, to)
		},
		func(ctx context.Context) models.SafetyCheckResult {
			return s.compatibilityCheck(ctx, models.SafetyCheckAPICompatibility, models.CompatibilityAPI, scope, from, to)
		},
		func(ctx context.Context) models.SafetyCheckResult {
			return s.dependencyCheck(ctx, scope, from, to)
		},
		func(ctx context.Context) models.SafetyCheckResult {
			return s.userImpactCheck(ctx, scope, from)
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, check := range checks {
		i, check := i, check
		g.Go(func() error {
			results[i] = check(gctx)
			results[i].CheckedAt = s.now().UTC()
			return nil
		})
	}
	_ = g.Wait()

	s.metrics.RecordSafetyChecks(results)
	s.logger.Info("safety checks evaluated",
		zap.String("scope", scope.Key()),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Int("failed", len(results.Failed())))
	return results, nil
}

func (s *SafetyCheckService) compatibilityCheck(ctx context.Context, checkType models.SafetyCheckType, kind models.CompatibilityKind, scope models.VersionScope, from, to semver.Version) models.SafetyCheckResult {
	result := models.SafetyCheckResult{Type: checkType}
	violations, err := s.violations(ctx, kind, scope, from, to)
	if err != nil {
		result.Status = models.SafetyCheckFailed
		result.Message = fmt.Sprintf("%s compatibility metadata unavailable: %v", kind, err)
		return result
	}
	if len(violations) > 0 {
		result.Status = models.SafetyCheckFailed
		result.Message = strings.Join(violations, "; ")
		return result
	}
	result.Status = models.SafetyCheckPassed
	result.Message = fmt.Sprintf("no %s incompatibility declared between %s and %s", kind, to, from)
	return result
}

func (s *SafetyCheckService) dependencyCheck(ctx context.Context, scope models.VersionScope, from, to semver.Version) models.SafetyCheckResult {
	result := models.SafetyCheckResult{Type: models.SafetyCheckDependency}
	target, err := s.catalog.Resolve(ctx, scope, to.String())
	if err != nil {
		result.Status = models.SafetyCheckFailed
		if errors.Is(err, appErrors.ErrNotFound) {
			result.Message = fmt.Sprintf("target version %s is not registered in %s", to, scope.Key())
		} else {
			result.Message = fmt.Sprintf("version catalogue unavailable: %v", err)
		}
		return result
	}
	violations, err := s.violations(ctx, models.CompatibilityDependency, scope, from, to)
	if err != nil {
		result.Status = models.SafetyCheckFailed
		result.Message = fmt.Sprintf("dependency metadata unavailable: %v", err)
		return result
	}
	if len(violations) > 0 {
		result.Status = models.SafetyCheckFailed
		result.Message = strings.Join(violations, "; ")
		return result
	}
	if target.IsDeprecated {
		result.Status = models.SafetyCheckWarning
		result.Message = fmt.Sprintf("target version %s is deprecated", target.Version)
		return result
	}
	result.Status = models.SafetyCheckPassed
	result.Message = fmt.Sprintf("target version %s is available and no dependency conflicts are declared", target.Version)
	return result
}

func (s *SafetyCheckService) userImpactCheck(ctx context.Context, scope models.VersionScope, from semver.Version) models.SafetyCheckResult {
	result := models.SafetyCheckResult{Type: models.SafetyCheckUserImpact}
	if s.telemetry == nil {
		result.Status = models.SafetyCheckWarning
		result.Message = "installation telemetry not configured; impact unknown"
		return result
	}
	count, err := s.telemetry.CountInstallationsOnVersion(ctx, scope, from.String())
	if err != nil {
		s.logger.Warn("installation telemetry unavailable", zap.String("scope", scope.Key()), zap.Error(err))
		result.Status = models.SafetyCheckWarning
		result.Message = fmt.Sprintf("installation telemetry unavailable; impact unknown: %v", err)
		return result
	}
	result.AffectedUsers = &count
	switch {
	case count < s.thresholds.Medium:
		result.Impact = models.ImpactLow
		result.Status = models.SafetyCheckPassed
	case count < s.thresholds.High:
		result.Impact = models.ImpactMedium
		result.Status = models.SafetyCheckWarning
	default:
		result.Impact = models.ImpactHigh
		result.Status = models.SafetyCheckWarning
	}
	result.Message = fmt.Sprintf("%d installations on %s (%s impact)", count, from, result.Impact)
	return result
}

// violations lists declarations on versions in (to, from] whose minimum version is above to.
func (s *SafetyCheckService) violations(ctx context.Context, kind models.CompatibilityKind, scope models.VersionScope, from, to semver.Version) ([]string, error) {
	if s.catalog == nil {
		return nil, errors.New("no compatibility source configured")
	}
	decls, err := s.catalog.ListCompatibility(ctx, scope, kind)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, decl := range decls {
		declared, err := semver.Parse(decl.Version)
		if err != nil {
			out = append(out, fmt.Sprintf("unreadable %s declaration %s", kind, decl.ID))
			continue
		}
		if !declared.GreaterThan(to) || declared.GreaterThan(from) {
			continue
		}
		minimum, err := semver.Parse(decl.MinimumVersion)
		if err != nil {
			out = append(out, fmt.Sprintf("unreadable %s declaration %s", kind, decl.ID))
			continue
		}
		if minimum.GreaterThan(to) {
			msg := fmt.Sprintf("%s requires at least %s", declared, minimum)
			if decl.Note != "" {
				msg += " (" + decl.Note + ")"
			}
			out = append(out, msg)
		}
	}
	return out, nil
}

// BreakerTelemetry guards an InstallationTelemetry with a circuit breaker so a struggling
// telemetry store is not hammered during plan creation.
type BreakerTelemetry struct {
	next InstallationTelemetry
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerTelemetry wraps next. The breaker opens after maxFailures consecutive errors and
// lets a trial call through after timeout.
func NewBreakerTelemetry(next InstallationTelemetry, maxFailures uint32, timeout time.Duration, logger *zap.Logger) *BreakerTelemetry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxFailures == 0 {
		maxFailures = 5
	}
	settings := gobreaker.Settings{
		Name:    "installation-telemetry",
		Timeout: timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, appErrors.ErrInvalidVersionFormat)
		},
	}
	return &BreakerTelemetry{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

// CountInstallationsOnVersion implements InstallationTelemetry.
func (b *BreakerTelemetry) CountInstallationsOnVersion(ctx context.Context, scope models.VersionScope, version string) (int64, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.CountInstallationsOnVersion(ctx, scope, version)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return 0, appErrors.Wrap(err, appErrors.ErrTelemetryUnavailable.Code, appErrors.ErrTelemetryUnavailable.Status, "installation telemetry circuit open")
		}
		return 0, err
	}
	return out.(int64), nil
}
