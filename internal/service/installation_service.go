package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/release-distribution-api/internal/dto"
	"github.com/noah-isme/release-distribution-api/internal/models"
	appErrors "github.com/noah-isme/release-distribution-api/pkg/errors"
)

type installationStore interface {
	Upsert(ctx context.Context, inst *models.Installation) error
	CountOnVersion(ctx context.Context, scope models.VersionScope, version string) (int64, error)
}

// InstallationService ingests installation heartbeats and answers telemetry queries.
type InstallationService struct {
	repo      installationStore
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewInstallationService constructs the telemetry registry.
func NewInstallationService(repo installationStore, validate *validator.Validate, logger *zap.Logger) *InstallationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &InstallationService{repo: repo, validator: validate, logger: logger, now: time.Now}
}

// Report records the version a user's installation currently runs. Build metadata is dropped so
// installations of the same release count together.
func (s *InstallationService) Report(ctx context.Context, req dto.ReportInstallationRequest) (*models.Installation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid installation payload")
	}
	scope := req.Scope()
	if !scope.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "an installation belongs to an extension or a product, not both")
	}
	parsed, err := parseVersion(req.Version)
	if err != nil {
		return nil, err
	}
	inst := &models.Installation{
		UserID:      req.UserID,
		ExtensionID: scope.ExtensionPtr(),
		ProductID:   scope.ProductPtr(),
		Version:     parsed.WithoutBuild().String(),
		LastSeenAt:  s.now().UTC(),
	}
	if err := s.repo.Upsert(ctx, inst); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record installation")
	}
	return inst, nil
}

// CountInstallationsOnVersion counts installations of the scope currently reporting version.
func (s *InstallationService) CountInstallationsOnVersion(ctx context.Context, scope models.VersionScope, version string) (int64, error) {
	parsed, err := parseVersion(version)
	if err != nil {
		return 0, err
	}
	count, err := s.repo.CountOnVersion(ctx, scope.Normalize(), parsed.WithoutBuild().String())
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrTelemetryUnavailable.Code, appErrors.ErrTelemetryUnavailable.Status, "failed to count installations")
	}
	return count, nil
}
