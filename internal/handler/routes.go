package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/release-distribution-api/internal/middleware"
	"github.com/noah-isme/release-distribution-api/internal/models"
)

// Handlers groups the API handlers mounted by RegisterRoutes.
type Handlers struct {
	Versions      *VersionHandler
	Installations *InstallationHandler
	Packages      *PackageHandler
	Artifacts     *ArtifactHandler
	Distributions *DistributionHandler
	Rollbacks     *RollbackHandler
}

// RegisterRoutes mounts the operator API on r. auth authenticates the caller; audit may be nil.
func RegisterRoutes(r gin.IRouter, h Handlers, auth gin.HandlerFunc, audit middleware.AuditWriter) {
	perm := middleware.RequirePermission

	// Signed links carry their own authorization.
	r.GET("/artifacts/:token", h.Artifacts.Serve)

	api := r.Group("")
	api.Use(auth)

	api.POST("/installations/report", perm(models.PermissionTelemetryWrite), h.Installations.Report)

	versions := api.Group("/versions")
	versions.GET("", h.Versions.List)
	versions.GET("/latest", h.Versions.Latest)
	versions.GET("/next", h.Versions.Next)
	versions.GET("/compare", h.Versions.Compare)
	versions.GET("/compatibility", h.Versions.ListCompatibility)
	versions.GET("/:id", h.Versions.Get)
	versions.POST("", perm(models.PermissionVersionsWrite), h.Versions.Register)
	versions.POST("/compatibility", perm(models.PermissionVersionsWrite),
		middleware.Audit(audit, models.AuditActionCompatibilityDecl, "compatibility"), h.Versions.DeclareCompatibility)
	versions.POST("/:id/deprecate", perm(models.PermissionVersionsWrite), h.Versions.Deprecate)
	versions.POST("/:id/changelog", perm(models.PermissionVersionsWrite), h.Versions.AppendChangelog)

	packages := api.Group("/packages")
	packages.GET("", h.Packages.List)
	packages.GET("/:id", h.Packages.Get)
	packages.GET("/:id/download", h.Packages.Download)
	packages.POST("", perm(models.PermissionPackagesWrite), h.Packages.Build)

	distributions := api.Group("/distributions")
	distributions.GET("", h.Distributions.List)
	distributions.GET("/:id", h.Distributions.Get)
	distributions.GET("/:id/exposure", h.Distributions.Exposure)
	distributions.POST("", perm(models.PermissionDistributionsWrite), h.Distributions.Start)
	distributions.POST("/advance", perm(models.PermissionDistributionsWrite),
		middleware.Audit(audit, models.AuditActionRolloutAdvance, "distribution"), h.Distributions.Advance)
	distributions.POST("/:id/pause", perm(models.PermissionDistributionsWrite), h.Distributions.Pause)
	distributions.POST("/:id/resume", perm(models.PermissionDistributionsWrite), h.Distributions.Resume)
	distributions.POST("/:id/fail", perm(models.PermissionDistributionsWrite),
		middleware.Audit(audit, models.AuditActionDistributionFail, "distribution"), h.Distributions.Fail)

	rollbacks := api.Group("/rollbacks")
	rollbacks.GET("", h.Rollbacks.List)
	rollbacks.GET("/:id", h.Rollbacks.Get)
	rollbacks.GET("/:id/execution", h.Rollbacks.Execution)
	rollbacks.GET("/:id/report", h.Rollbacks.Report)
	rollbacks.POST("", perm(models.PermissionRollbacksCreate), h.Rollbacks.Create)
	rollbacks.POST("/:id/approve", perm(models.PermissionRollbacksApprove), h.Rollbacks.Approve)
	rollbacks.POST("/:id/execute", perm(models.PermissionRollbacksExecute), h.Rollbacks.Execute)
	rollbacks.POST("/:id/cancel", perm(models.PermissionRollbacksCreate, models.PermissionRollbacksApprove), h.Rollbacks.Cancel)
}
