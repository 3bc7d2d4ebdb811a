package service

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/release-distribution-api/internal/dto"
	"github.com/noah-isme/release-distribution-api/internal/models"
	appErrors "github.com/noah-isme/release-distribution-api/pkg/errors"
	"github.com/noah-isme/release-distribution-api/pkg/semver"
	"github.com/noah-isme/release-distribution-api/pkg/storage"
)

const (
	defaultPackageContentType = "application/octet-stream"
	invalidationPageSize      = 200
)

type packageStore interface {
	Create(ctx context.Context, pkg *models.UpdatePackage) error
	GetByID(ctx context.Context, id string) (*models.UpdatePackage, error)
	List(ctx context.Context, filter models.UpdatePackageFilter) ([]models.UpdatePackage, error)
}

type baselineResolver interface {
	LatestStableBelow(ctx context.Context, scope models.VersionScope, target semver.Version) (*models.Version, error)
}

type downloadSigner interface {
	Generate(packageID, key string) (string, time.Time, error)
	Parse(token string) (packageID, key string, expiresAt time.Time, err error)
}

// PackageBuilderService builds immutable update packages: it checksums and uploads the payload,
// then persists the package row.
type PackageBuilderService struct {
	repo         packageStore
	store        storage.ArtifactStore
	baselines    baselineResolver
	signer       downloadSigner
	downloadBase string
	cacheControl string
	maxPayload   int64
	metrics      *MetricsService
	audit        auditTrail
	validator    *validator.Validate
	logger       *zap.Logger
}

// PackageBuilderOption configures optional collaborators.
type PackageBuilderOption func(*PackageBuilderService)

// WithBaselineResolver lets Build default an omitted fromVersion to the latest stable version below the target.
func WithBaselineResolver(resolver baselineResolver) PackageBuilderOption {
	return func(s *PackageBuilderService) {
		s.baselines = resolver
	}
}

// WithDownloadSigner enables signed download links rooted at baseURL.
func WithDownloadSigner(signer downloadSigner, baseURL string) PackageBuilderOption {
	return func(s *PackageBuilderService) {
		s.signer = signer
		s.downloadBase = strings.TrimRight(baseURL, "/")
	}
}

// WithPayloadLimits sets the cache header stored with artifacts and the maximum payload size.
func WithPayloadLimits(cacheControl string, maxBytes int64) PackageBuilderOption {
	return func(s *PackageBuilderService) {
		s.cacheControl = cacheControl
		s.maxPayload = maxBytes
	}
}

// WithPackageMetrics records builds and uploads.
func WithPackageMetrics(metrics *MetricsService) PackageBuilderOption {
	return func(s *PackageBuilderService) {
		s.metrics = metrics
	}
}

// WithPackageAudit records builds in the audit trail.
func WithPackageAudit(writer auditWriter) PackageBuilderOption {
	return func(s *PackageBuilderService) {
		s.audit.writer = writer
	}
}

// NewPackageBuilderService constructs the builder.
func NewPackageBuilderService(repo packageStore, store storage.ArtifactStore, validate *validator.Validate, logger *zap.Logger, opts ...PackageBuilderOption) *PackageBuilderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	svc := &PackageBuilderService{
		repo:      repo,
		store:     store,
		validator: validate,
		logger:    logger,
		audit:     auditTrail{source: "package-builder", logger: logger},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

type packageDraft struct {
	scope            models.VersionScope
	from             semver.Version
	to               semver.Version
	direction        models.PackageDirection
	isDelta          bool
	deltaFromVersion string
	releaseNotes     string
	declaredSize     int64
	contentType      string
}

// Build creates a forward package. toVersion must be strictly greater than fromVersion; an omitted
// fromVersion defaults to the latest stable version below toVersion in the same scope.
func (s *PackageBuilderService) Build(ctx context.Context, req dto.BuildPackageRequest, payload io.Reader, actor models.Principal) (*models.UpdatePackage, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid package payload")
	}
	scope := req.Scope()
	if !scope.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a package belongs to an extension or a product, not both")
	}
	to, err := parseVersion(req.ToVersion)
	if err != nil {
		return nil, err
	}
	from, err := s.resolveFrom(ctx, scope, req.FromVersion, to)
	if err != nil {
		return nil, err
	}
	if semver.Compare(to, from) != semver.Greater {
		return nil, rangeError(appErrors.ErrInvalidVersionRange, from, to)
	}

	draft := packageDraft{
		scope:        scope,
		from:         from,
		to:           to,
		direction:    models.PackageDirectionForward,
		isDelta:      req.IsDelta,
		releaseNotes: req.ReleaseNotes,
		declaredSize: req.PayloadSize,
		contentType:  req.ContentType,
	}
	if err := s.checkDelta(&draft, req.DeltaFromVersion); err != nil {
		return nil, err
	}
	return s.assemble(ctx, draft, payload, actor)
}

// BuildRollback creates a downgrade package for a rollback plan. The caller passes the already
// reversed pair; toVersion must be strictly lower than fromVersion.
func (s *PackageBuilderService) BuildRollback(ctx context.Context, scope models.VersionScope, fromVersion, toVersion string, req dto.ExecuteRollbackRequest, payload io.Reader, actor models.Principal) (*models.UpdatePackage, error) {
	draft, err := s.rollbackDraft(scope, fromVersion, toVersion, req)
	if err != nil {
		return nil, err
	}
	return s.assemble(ctx, draft, payload, actor)
}

// ValidateRollback runs every check BuildRollback can make before reading the payload.
func (s *PackageBuilderService) ValidateRollback(scope models.VersionScope, fromVersion, toVersion string, req dto.ExecuteRollbackRequest) error {
	_, err := s.rollbackDraft(scope, fromVersion, toVersion, req)
	return err
}

func (s *PackageBuilderService) rollbackDraft(scope models.VersionScope, fromVersion, toVersion string, req dto.ExecuteRollbackRequest) (packageDraft, error) {
	if err := s.validator.Struct(req); err != nil {
		return packageDraft{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid rollback payload")
	}
	from, err := parseVersion(fromVersion)
	if err != nil {
		return packageDraft{}, err
	}
	to, err := parseVersion(toVersion)
	if err != nil {
		return packageDraft{}, err
	}
	if semver.Compare(to, from) != semver.Less {
		return packageDraft{}, rangeError(appErrors.ErrInvalidRollbackDirection, from, to)
	}
	draft := packageDraft{
		scope:        scope.Normalize(),
		from:         from,
		to:           to,
		direction:    models.PackageDirectionRollback,
		isDelta:      req.IsDelta,
		releaseNotes: req.ReleaseNotes,
		declaredSize: req.PayloadSize,
		contentType:  req.ContentType,
	}
	if err := s.checkDelta(&draft, req.DeltaFromVersion); err != nil {
		return packageDraft{}, err
	}
	if err := s.checkDeclaredSize(draft); err != nil {
		return packageDraft{}, err
	}
	return draft, nil
}

func (s *PackageBuilderService) resolveFrom(ctx context.Context, scope models.VersionScope, raw string, to semver.Version) (semver.Version, error) {
	if strings.TrimSpace(raw) != "" {
		return parseVersion(raw)
	}
	if s.baselines == nil {
		return semver.Version{}, appErrors.Clone(appErrors.ErrValidation, "fromVersion is required")
	}
	baseline, err := s.baselines.LatestStableBelow(ctx, scope, to)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			return semver.Version{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("fromVersion omitted and no stable version below %s in %s", to, scope.Key()))
		}
		return semver.Version{}, err
	}
	return parseVersion(baseline.Version)
}

func (s *PackageBuilderService) checkDelta(draft *packageDraft, deltaFrom string) error {
	if !draft.isDelta {
		if strings.TrimSpace(deltaFrom) != "" {
			return appErrors.Clone(appErrors.ErrValidation, "deltaFromVersion only applies to delta packages")
		}
		return nil
	}
	base, err := parseVersion(deltaFrom)
	if err != nil {
		return err
	}
	if base.Equal(draft.to) {
		return appErrors.Clone(appErrors.ErrValidation, "deltaFromVersion must differ from toVersion")
	}
	draft.deltaFromVersion = base.String()
	return nil
}

func (s *PackageBuilderService) checkDeclaredSize(draft packageDraft) error {
	if s.maxPayload > 0 && draft.declaredSize > s.maxPayload {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("payload exceeds %d bytes", s.maxPayload))
	}
	return nil
}

func (s *PackageBuilderService) assemble(ctx context.Context, draft packageDraft, payload io.Reader, actor models.Principal) (*models.UpdatePackage, error) {
	if payload == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "payload is required")
	}
	if err := s.checkDeclaredSize(draft); err != nil {
		return nil, err
	}

	reader := payload
	if s.maxPayload > 0 {
		reader = io.LimitReader(payload, s.maxPayload+1)
	}
	hash := sha256.New()
	tee := io.TeeReader(reader, hash)

	contentType := draft.contentType
	if contentType == "" {
		contentType = defaultPackageContentType
	}
	name := artifactName(draft.scope, draft.from, draft.to)
	start := time.Now()
	result, err := s.store.Put(ctx, tee, name, storage.PutOptions{
		ContentType:  contentType,
		CacheControl: s.cacheControl,
		Size:         draft.declaredSize,
		Metadata: map[string]string{
			"scope":        draft.scope.Key(),
			"from-version": draft.from.String(),
			"to-version":   draft.to.String(),
			"direction":    string(draft.direction),
		},
	})
	s.metrics.ObserveArtifactUpload(err == nil, time.Since(start))
	if err != nil {
		s.logger.Warn("artifact upload failed", zap.String("artifact", name), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrStorageUnavailable.Code, appErrors.ErrStorageUnavailable.Status, appErrors.ErrStorageUnavailable.Message)
	}

	switch {
	case result.Size == 0:
		s.discard(ctx, result.URL)
		return nil, appErrors.Clone(appErrors.ErrValidation, "payload is empty")
	case s.maxPayload > 0 && result.Size > s.maxPayload:
		s.discard(ctx, result.URL)
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("payload exceeds %d bytes", s.maxPayload))
	case draft.declaredSize > 0 && result.Size != draft.declaredSize:
		s.discard(ctx, result.URL)
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("payload length %d does not match declared size %d", result.Size, draft.declaredSize))
	}

	pkg := &models.UpdatePackage{
		ExtensionID: draft.scope.ExtensionPtr(),
		ProductID:   draft.scope.ProductPtr(),
		FromVersion: draft.from.String(),
		ToVersion:   draft.to.String(),
		Direction:   draft.direction,
		IsDelta:     draft.isDelta,
		PackageURL:  result.URL,
		ArtifactKey: result.Key,
		PackageSize: result.Size,
		Checksum:    "sha256:" + hex.EncodeToString(hash.Sum(nil)),
		CreatedBy:   actor.ID,
	}
	if draft.isDelta {
		pkg.DeltaFromVersion = &draft.deltaFromVersion
	}
	if notes := strings.TrimSpace(draft.releaseNotes); notes != "" {
		pkg.ReleaseNotes = &notes
	}
	if err := s.repo.Create(ctx, pkg); err != nil {
		s.discard(ctx, result.URL)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist update package")
	}

	s.metrics.RecordPackageBuilt(pkg.Direction, pkg.PackageSize)
	s.audit.emit(ctx, actor, models.AuditActionPackageBuild, "update_package", pkg.ID, nil, pkg)
	s.logger.Info("update package built",
		zap.String("package_id", pkg.ID),
		zap.String("from", pkg.FromVersion),
		zap.String("to", pkg.ToVersion),
		zap.String("direction", string(pkg.Direction)),
		zap.Int64("size", pkg.PackageSize))
	return pkg, nil
}

// InvalidateArtifacts marks the artifacts of every package in scope that upgrades or rolls back to
// target as stale, returning how many were invalidated. Store failures are joined and reported
// after every package has been tried.
func (s *PackageBuilderService) InvalidateArtifacts(ctx context.Context, scope models.VersionScope, target string) (int, error) {
	to, err := parseVersion(target)
	if err != nil {
		return 0, err
	}
	filter := models.UpdatePackageFilter{Scope: scope.Normalize(), Limit: invalidationPageSize}
	var (
		invalidated int
		failures    error
	)
	for {
		page, err := s.repo.List(ctx, filter)
		if err != nil {
			return invalidated, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list update packages")
		}
		for _, pkg := range page {
			if v, err := semver.Parse(pkg.ToVersion); err != nil || !v.Equal(to) {
				continue
			}
			if err := s.store.Invalidate(ctx, pkg.PackageURL); err != nil {
				s.logger.Warn("artifact invalidation failed", zap.String("package_id", pkg.ID), zap.String("url", pkg.PackageURL), zap.Error(err))
				failures = errors.Join(failures, err)
				continue
			}
			invalidated++
		}
		if len(page) < filter.Limit {
			break
		}
		filter.Offset += len(page)
	}
	if failures != nil {
		return invalidated, appErrors.Wrap(failures, appErrors.ErrStorageUnavailable.Code, appErrors.ErrStorageUnavailable.Status, "failed to invalidate package artifacts")
	}
	return invalidated, nil
}

func (s *PackageBuilderService) discard(ctx context.Context, url string) {
	if err := s.store.Delete(ctx, url); err != nil {
		s.logger.Warn("failed to delete orphaned artifact", zap.String("url", url), zap.Error(err))
	}
}

// Get fetches a package by id.
func (s *PackageBuilderService) Get(ctx context.Context, id string) (*models.UpdatePackage, error) {
	pkg, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "update package not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load update package")
	}
	return pkg, nil
}

// List returns packages matching the query, newest first.
func (s *PackageBuilderService) List(ctx context.Context, query dto.PackageQuery) ([]models.UpdatePackage, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid package query")
	}
	filter := models.UpdatePackageFilter{
		Scope:     query.VersionScope.Normalize(),
		Direction: models.PackageDirection(query.Direction),
		Limit:     query.Limit,
		Offset:    query.Offset,
	}
	if query.FromVersion != "" {
		from, err := parseVersion(query.FromVersion)
		if err != nil {
			return nil, err
		}
		filter.FromVersion = from.String()
	}
	if query.ToVersion != "" {
		to, err := parseVersion(query.ToVersion)
		if err != nil {
			return nil, err
		}
		filter.ToVersion = to.String()
	}
	pkgs, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list update packages")
	}
	return pkgs, nil
}

// DownloadLink returns a signed, expiring link to the package payload.
func (s *PackageBuilderService) DownloadLink(ctx context.Context, id string) (*dto.DownloadLinkResponse, error) {
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "signed downloads are not configured")
	}
	pkg, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	token, expiresAt, err := s.signer.Generate(pkg.ID, pkg.ArtifactKey)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download link")
	}
	return &dto.DownloadLinkResponse{URL: s.downloadBase + "/" + token, Checksum: pkg.Checksum, ExpiresAt: expiresAt}, nil
}

// ResolveDownload validates a signed token and returns the package it grants access to.
func (s *PackageBuilderService) ResolveDownload(ctx context.Context, token string) (*models.UpdatePackage, error) {
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "artifact not found")
	}
	packageID, key, _, err := s.signer.Parse(token)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "invalid or expired download link")
	}
	pkg, err := s.Get(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if pkg.ArtifactKey != key {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "download link does not match package")
	}
	return pkg, nil
}

func artifactName(scope models.VersionScope, from, to semver.Version) string {
	clean := strings.NewReplacer(":", "-", "/", "-", "+", "_")
	return fmt.Sprintf("packages/%s/%s_to_%s/%s.bin", clean.Replace(scope.Key()), clean.Replace(from.String()), clean.Replace(to.String()), uuid.NewString())
}

func rangeError(kind *appErrors.Error, from, to semver.Version) *appErrors.Error {
	err := appErrors.WithDetails(kind, "fromVersion", from.String())
	return appErrors.WithDetails(err, "toVersion", to.String())
}
