package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/release-distribution-api/internal/dto"
	"github.com/noah-isme/release-distribution-api/internal/models"
	appErrors "github.com/noah-isme/release-distribution-api/pkg/errors"
	"github.com/noah-isme/release-distribution-api/pkg/storage"
)

type packageFixture struct {
	svc      *PackageBuilderService
	repo     *memPackageStore
	store    *fakeArtifactStore
	versions *VersionService
}

func newPackageFixture(t *testing.T, opts ...PackageBuilderOption) packageFixture {
	t.Helper()
	versions, _, _ := newVersionFixture()
	repo := &memPackageStore{}
	store := newFakeArtifactStore()
	opts = append([]PackageBuilderOption{WithBaselineResolver(versions), WithPayloadLimits("public, max-age=60", 1024)}, opts...)
	return packageFixture{
		svc:      NewPackageBuilderService(repo, store, nil, nil, opts...),
		repo:     repo,
		store:    store,
		versions: versions,
	}
}

func TestPackageBuilderBuildForwardPackage(t *testing.T) {
	audit := &memAuditWriter{}
	f := newPackageFixture(t, WithPackageAudit(audit))
	payload := "binary-diff"

	pkg, err := f.svc.Build(context.Background(), dto.BuildPackageRequest{
		ExtensionID:  "ext-1",
		FromVersion:  "1.0.0",
		ToVersion:    "1.1.0",
		ReleaseNotes: "  faster sync ",
		PayloadSize:  int64(len(payload)),
	}, strings.NewReader(payload), operator)
	require.NoError(t, err)

	sum := sha256.Sum256([]byte(payload))
	assert.Equal(t, "sha256:"+hex.EncodeToString(sum[:]), pkg.Checksum)
	assert.EqualValues(t, len(payload), pkg.PackageSize)
	assert.Equal(t, models.PackageDirectionForward, pkg.Direction)
	assert.Equal(t, "faster sync", *pkg.ReleaseNotes)
	assert.Nil(t, pkg.DeltaFromVersion)
	assert.True(t, strings.HasPrefix(pkg.ArtifactKey, "packages/extension-ext-1/1.0.0_to_1.1.0/"))
	assert.Equal(t, "https://cdn.test/"+pkg.ArtifactKey, pkg.PackageURL)
	assert.Equal(t, "public, max-age=60", f.store.opts[pkg.ArtifactKey].CacheControl)
	assert.Equal(t, defaultPackageContentType, f.store.opts[pkg.ArtifactKey].ContentType)
	assert.Equal(t, []string{models.AuditActionPackageBuild}, audit.actions())
}

func TestPackageBuilderRejectsNonIncreasingRange(t *testing.T) {
	f := newPackageFixture(t)
	for _, tc := range []struct{ from, to string }{{"1.1.0", "1.1.0"}, {"1.2.0", "1.1.0"}, {"1.1.0", "1.1.0-rc.1"}} {
		_, err := f.svc.Build(context.Background(), dto.BuildPackageRequest{FromVersion: tc.from, ToVersion: tc.to}, strings.NewReader("x"), operator)
		require.ErrorIs(t, err, appErrors.ErrInvalidVersionRange, "%s -> %s", tc.from, tc.to)
		var appErr *appErrors.Error
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, tc.from, appErr.Details["fromVersion"])
	}
	assert.Zero(t, f.repo.count())
	assert.Zero(t, f.store.stored())
}

func TestPackageBuilderDefaultsFromVersion(t *testing.T) {
	f := newPackageFixture(t)
	registerVersions(t, f.versions, "ext-1", "1.0.0", "1.1.0", "1.2.0-rc.1")

	pkg, err := f.svc.Build(context.Background(), dto.BuildPackageRequest{ExtensionID: "ext-1", ToVersion: "1.2.0"}, strings.NewReader("x"), operator)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", pkg.FromVersion)

	_, err = f.svc.Build(context.Background(), dto.BuildPackageRequest{ExtensionID: "ext-1", ToVersion: "0.9.0"}, strings.NewReader("x"), operator)
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestPackageBuilderDeltaRules(t *testing.T) {
	f := newPackageFixture(t)

	pkg, err := f.svc.Build(context.Background(), dto.BuildPackageRequest{
		FromVersion: "1.0.0", ToVersion: "1.1.0", IsDelta: true, DeltaFromVersion: "1.0.0",
	}, strings.NewReader("delta"), operator)
	require.NoError(t, err)
	require.NotNil(t, pkg.DeltaFromVersion)
	assert.Equal(t, "1.0.0", *pkg.DeltaFromVersion)

	_, err = f.svc.Build(context.Background(), dto.BuildPackageRequest{
		FromVersion: "1.0.0", ToVersion: "1.1.0", IsDelta: true,
	}, strings.NewReader("delta"), operator)
	require.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.Build(context.Background(), dto.BuildPackageRequest{
		FromVersion: "1.0.0", ToVersion: "1.1.0", IsDelta: true, DeltaFromVersion: "1.1.0",
	}, strings.NewReader("delta"), operator)
	require.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.Build(context.Background(), dto.BuildPackageRequest{
		FromVersion: "1.0.0", ToVersion: "1.1.0", DeltaFromVersion: "1.0.0",
	}, strings.NewReader("full"), operator)
	require.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Equal(t, 1, f.repo.count())
}

func TestPackageBuilderPayloadFailuresLeaveNoArtifact(t *testing.T) {
	f := newPackageFixture(t)
	req := dto.BuildPackageRequest{FromVersion: "1.0.0", ToVersion: "1.1.0"}

	_, err := f.svc.Build(context.Background(), req, strings.NewReader(""), operator)
	require.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.Build(context.Background(), req, strings.NewReader(strings.Repeat("a", 2048)), operator)
	require.ErrorIs(t, err, appErrors.ErrValidation)

	sized := req
	sized.PayloadSize = 10
	_, err = f.svc.Build(context.Background(), sized, strings.NewReader("short"), operator)
	require.ErrorIs(t, err, appErrors.ErrValidation)

	f.repo.createErr = errors.New("insert failed")
	_, err = f.svc.Build(context.Background(), req, strings.NewReader("ok"), operator)
	require.ErrorIs(t, err, appErrors.ErrInternal)

	assert.Zero(t, f.store.stored())
	assert.Len(t, f.store.deleted, 4)
	assert.Zero(t, f.repo.count())
}

func TestPackageBuilderStorageUnavailable(t *testing.T) {
	f := newPackageFixture(t)
	f.store.putErr = storage.ErrUnavailable

	_, err := f.svc.Build(context.Background(), dto.BuildPackageRequest{FromVersion: "1.0.0", ToVersion: "1.1.0"}, strings.NewReader("x"), operator)
	require.ErrorIs(t, err, appErrors.ErrStorageUnavailable)
	assert.Zero(t, f.repo.count())
}

func TestPackageBuilderBuildRollback(t *testing.T) {
	f := newPackageFixture(t)
	scope := models.VersionScope{ProductID: "prod-1"}

	pkg, err := f.svc.BuildRollback(context.Background(), scope, "2.0.0", "1.9.0", dto.ExecuteRollbackRequest{}, strings.NewReader("downgrade"), operator)
	require.NoError(t, err)
	assert.Equal(t, models.PackageDirectionRollback, pkg.Direction)
	assert.Equal(t, "2.0.0", pkg.FromVersion)
	assert.Equal(t, "1.9.0", pkg.ToVersion)
	assert.Equal(t, "prod-1", *pkg.ProductID)

	_, err = f.svc.BuildRollback(context.Background(), scope, "1.9.0", "2.0.0", dto.ExecuteRollbackRequest{}, strings.NewReader("x"), operator)
	require.ErrorIs(t, err, appErrors.ErrInvalidRollbackDirection)

	rollbacks, err := f.svc.List(context.Background(), dto.PackageQuery{Direction: "rollback"})
	require.NoError(t, err)
	assert.Len(t, rollbacks, 1)
}

func TestPackageBuilderSignedDownloads(t *testing.T) {
	signer := storage.NewSignedURLSigner("secret", time.Minute)
	f := newPackageFixture(t, WithDownloadSigner(signer, "https://api.test/artifacts/"))

	pkg, err := f.svc.Build(context.Background(), dto.BuildPackageRequest{FromVersion: "1.0.0", ToVersion: "1.1.0"}, strings.NewReader("x"), operator)
	require.NoError(t, err)

	link, err := f.svc.DownloadLink(context.Background(), pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, pkg.Checksum, link.Checksum)
	require.True(t, strings.HasPrefix(link.URL, "https://api.test/artifacts/"))

	token := strings.TrimPrefix(link.URL, "https://api.test/artifacts/")
	resolved, err := f.svc.ResolveDownload(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, pkg.ID, resolved.ID)

	_, err = f.svc.ResolveDownload(context.Background(), token+"tampered")
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = f.svc.DownloadLink(context.Background(), "missing")
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestPackageBuilderValidateRollbackReadsNoPayload(t *testing.T) {
	f := newPackageFixture(t)
	scope := models.VersionScope{ExtensionID: "ext-1"}

	require.NoError(t, f.svc.ValidateRollback(scope, "2.0.0", "1.9.0", dto.ExecuteRollbackRequest{PayloadSize: 1024}))
	require.ErrorIs(t, f.svc.ValidateRollback(scope, "2.0.0", "1.9.0", dto.ExecuteRollbackRequest{PayloadSize: 1025}), appErrors.ErrValidation)
	require.ErrorIs(t, f.svc.ValidateRollback(scope, "2.0.0", "1.9.0", dto.ExecuteRollbackRequest{IsDelta: true}), appErrors.ErrValidation)
	require.ErrorIs(t, f.svc.ValidateRollback(scope, "1.9.0", "2.0.0", dto.ExecuteRollbackRequest{}), appErrors.ErrInvalidRollbackDirection)
	assert.Zero(t, f.store.stored())
}

func TestPackageBuilderInvalidateArtifactsForTarget(t *testing.T) {
	f := newPackageFixture(t)
	build := func(extension, from, to string) *models.UpdatePackage {
		pkg, err := f.svc.Build(context.Background(), dto.BuildPackageRequest{
			ExtensionID: extension, FromVersion: from, ToVersion: to,
		}, strings.NewReader("diff"), operator)
		require.NoError(t, err)
		return pkg
	}
	first := build("ext-1", "1.0.0", "1.1.0")
	second := build("ext-1", "1.0.5", "1.1.0+build.2")
	build("ext-1", "1.0.0", "1.2.0")
	build("ext-2", "1.0.0", "1.1.0")

	scope := models.VersionScope{ExtensionID: "ext-1"}
	count, err := f.svc.InvalidateArtifacts(context.Background(), scope, "1.1.0")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.ElementsMatch(t, []string{first.PackageURL, second.PackageURL}, f.store.invalidated)

	f.store.invalidated = nil
	f.store.invalidateErr = map[string]error{first.PackageURL: storage.ErrUnavailable}
	count, err = f.svc.InvalidateArtifacts(context.Background(), scope, "1.1.0")
	require.ErrorIs(t, err, appErrors.ErrStorageUnavailable)
	assert.Equal(t, 1, count)
	assert.Equal(t, []string{second.PackageURL}, f.store.invalidated)

	_, err = f.svc.InvalidateArtifacts(context.Background(), scope, "v1.1")
	require.ErrorIs(t, err, appErrors.ErrInvalidVersionFormat)
}

func TestPackageBuilderInvalidateArtifactsPagesThroughPackages(t *testing.T) {
	f := newPackageFixture(t)
	extension := "ext-1"
	for i := 0; i < invalidationPageSize+3; i++ {
		f.repo.packages = append(f.repo.packages, models.UpdatePackage{
			ID:          fmt.Sprintf("pkg-%d", i),
			ExtensionID: &extension,
			FromVersion: "1.0.0",
			ToVersion:   "2.0.0",
			PackageURL:  fmt.Sprintf("https://cdn.test/pkg-%d.bin", i),
		})
	}

	count, err := f.svc.InvalidateArtifacts(context.Background(), models.VersionScope{ExtensionID: "ext-1"}, "2.0.0")
	require.NoError(t, err)
	assert.Equal(t, invalidationPageSize+3, count)
	assert.Len(t, f.store.invalidated, invalidationPageSize+3)
}
