package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/release-distribution-api/internal/models"
)

func TestInstallationRepositoryUpsertAndCount(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewInstallationRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (user_id, (COALESCE(extension_id, '')), (COALESCE(product_id, '')))")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	ext := "ext-1"
	require.NoError(t, repo.Upsert(context.Background(), &models.Installation{UserID: "u1", ExtensionID: &ext, Version: "1.1.0"}))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM installations WHERE")).
		WithArgs("ext-1", "", "1.1.0").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1204))
	count, err := repo.CountOnVersion(context.Background(), models.VersionScope{ExtensionID: "ext-1"}, "1.1.0")
	require.NoError(t, err)
	require.Equal(t, int64(1204), count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompatibilityRepositoryListByKindUnscoped(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewCompatibilityRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("FROM version_compatibility WHERE COALESCE(extension_id, '') = $1 AND COALESCE(product_id, '') = $2 AND kind = $3")).
		WithArgs("", "", models.CompatibilityData).
		WillReturnRows(sqlmock.NewRows([]string{"id", "version", "kind", "minimum_version"}).AddRow("c-1", "1.1.0", "data", "1.1.0"))

	decls, err := repo.ListByScope(context.Background(), models.VersionScope{}, models.CompatibilityData)
	require.NoError(t, err)
	require.Len(t, decls, 1)
	require.Equal(t, "1.1.0", decls[0].MinimumVersion)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePackageRepositoryCreateAndList(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewUpdatePackageRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO update_packages")).WillReturnResult(sqlmock.NewResult(1, 1))
	pkg := &models.UpdatePackage{FromVersion: "1.0.0", ToVersion: "1.1.0", Direction: models.PackageDirectionForward, PackageURL: "http://a/b", ArtifactKey: "b", PackageSize: 3, Checksum: "abc", CreatedBy: "ops"}
	require.NoError(t, repo.Create(context.Background(), pkg))
	require.NotEmpty(t, pkg.ID)

	mock.ExpectQuery(regexp.QuoteMeta("AND direction = $3 ORDER BY created_at DESC LIMIT 50 OFFSET 0")).
		WithArgs("", "", models.PackageDirectionRollback).
		WillReturnRows(sqlmock.NewRows([]string{"id", "direction"}))
	list, err := repo.List(context.Background(), models.UpdatePackageFilter{Direction: models.PackageDirectionRollback})
	require.NoError(t, err)
	require.Empty(t, list)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, NewAuditRepository(db).Create(context.Background(), &models.AuditLog{Action: models.AuditActionPackageBuild, Resource: "update_package"}))
	require.NoError(t, mock.ExpectationsWereMet())
}
