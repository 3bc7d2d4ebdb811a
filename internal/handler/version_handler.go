package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/release-distribution-api/internal/dto"
	"github.com/noah-isme/release-distribution-api/internal/models"
	appErrors "github.com/noah-isme/release-distribution-api/pkg/errors"
	"github.com/noah-isme/release-distribution-api/pkg/response"
)

type versionService interface {
	Register(ctx context.Context, req dto.RegisterVersionRequest, actor models.Principal) (*models.Version, error)
	Get(ctx context.Context, id string) (*models.Version, error)
	List(ctx context.Context, query dto.VersionQuery) ([]models.Version, error)
	Latest(ctx context.Context, scope models.VersionScope, stableOnly bool) (*models.Version, error)
	Next(ctx context.Context, query dto.NextVersionQuery) (*dto.NextVersionResponse, error)
	Compare(query dto.CompareVersionsQuery) (*dto.CompareVersionsResponse, error)
	Deprecate(ctx context.Context, id string, req dto.DeprecateVersionRequest, actor models.Principal) (*models.Version, error)
	AppendChangelog(ctx context.Context, id string, req dto.AppendChangelogRequest, actor models.Principal) (*models.Version, error)
	DeclareCompatibility(ctx context.Context, req dto.DeclareCompatibilityRequest, actor models.Principal) (*models.CompatibilityDeclaration, error)
	ListCompatibility(ctx context.Context, scope models.VersionScope, kind models.CompatibilityKind) ([]models.CompatibilityDeclaration, error)
}

// VersionHandler exposes the version catalogue.
type VersionHandler struct {
	service versionService
}

// NewVersionHandler builds a version handler.
func NewVersionHandler(service versionService) *VersionHandler {
	return &VersionHandler{service: service}
}

// Register godoc
// @Summary Register a version
// @Tags Versions
// @Accept json
// @Produce json
// @Param payload body dto.RegisterVersionRequest true "Version payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /versions [post]
func (h *VersionHandler) Register(c *gin.Context) {
	actor, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.RegisterVersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid version payload"))
		return
	}
	version, err := h.service.Register(c.Request.Context(), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, version)
}

// List godoc
// @Summary List versions of a scope, newest first
// @Tags Versions
// @Produce json
// @Param extension_id query string false "Extension ID"
// @Param product_id query string false "Product ID"
// @Param stable_only query bool false "Exclude pre-releases"
// @Param include_deprecated query bool false "Include deprecated versions"
// @Success 200 {object} response.Envelope
// @Router /versions [get]
func (h *VersionHandler) List(c *gin.Context) {
	var query dto.VersionQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	versions, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, versions, nil, map[string]interface{}{"count": len(versions)})
}

// Latest godoc
// @Summary Latest version of a scope
// @Tags Versions
// @Produce json
// @Param extension_id query string false "Extension ID"
// @Param product_id query string false "Product ID"
// @Param stable_only query bool false "Exclude pre-releases"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /versions/latest [get]
func (h *VersionHandler) Latest(c *gin.Context) {
	var query dto.VersionQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	version, err := h.service.Latest(c.Request.Context(), query.VersionScope, query.StableOnly)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, version)
}

// Next godoc
// @Summary Propose the next version of a scope
// @Tags Versions
// @Produce json
// @Param extension_id query string false "Extension ID"
// @Param product_id query string false "Product ID"
// @Param field query string true "major, minor or patch"
// @Success 200 {object} response.Envelope
// @Router /versions/next [get]
func (h *VersionHandler) Next(c *gin.Context) {
	var query dto.NextVersionQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	next, err := h.service.Next(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, next)
}

// Compare godoc
// @Summary Compare two version strings
// @Tags Versions
// @Produce json
// @Param a query string true "Left version"
// @Param b query string true "Right version"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /versions/compare [get]
func (h *VersionHandler) Compare(c *gin.Context) {
	var query dto.CompareVersionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	result, err := h.service.Compare(query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// Get godoc
// @Summary Get a version
// @Tags Versions
// @Produce json
// @Param id path string true "Version ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /versions/{id} [get]
func (h *VersionHandler) Get(c *gin.Context) {
	version, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, version)
}

// Deprecate godoc
// @Summary Deprecate or restore a version
// @Tags Versions
// @Accept json
// @Produce json
// @Param id path string true "Version ID"
// @Param payload body dto.DeprecateVersionRequest false "Deprecation flag"
// @Success 200 {object} response.Envelope
// @Router /versions/{id}/deprecate [post]
func (h *VersionHandler) Deprecate(c *gin.Context) {
	actor, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.DeprecateVersionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid deprecate payload"))
			return
		}
	}
	version, err := h.service.Deprecate(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, version)
}

// AppendChangelog godoc
// @Summary Append changelog entries
// @Tags Versions
// @Accept json
// @Produce json
// @Param id path string true "Version ID"
// @Param payload body dto.AppendChangelogRequest true "Changelog entries"
// @Success 200 {object} response.Envelope
// @Router /versions/{id}/changelog [post]
func (h *VersionHandler) AppendChangelog(c *gin.Context) {
	actor, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.AppendChangelogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid changelog payload"))
		return
	}
	version, err := h.service.AppendChangelog(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, version)
}

// DeclareCompatibility godoc
// @Summary Declare the minimum version able to read state produced by a version
// @Tags Versions
// @Accept json
// @Produce json
// @Param payload body dto.DeclareCompatibilityRequest true "Compatibility declaration"
// @Success 201 {object} response.Envelope
// @Router /versions/compatibility [post]
func (h *VersionHandler) DeclareCompatibility(c *gin.Context) {
	actor, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.DeclareCompatibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid compatibility payload"))
		return
	}
	decl, err := h.service.DeclareCompatibility(c.Request.Context(), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, decl)
}

// ListCompatibility godoc
// @Summary List compatibility declarations of a scope
// @Tags Versions
// @Produce json
// @Param extension_id query string false "Extension ID"
// @Param product_id query string false "Product ID"
// @Param kind query string false "data, api or dependency"
// @Success 200 {object} response.Envelope
// @Router /versions/compatibility [get]
func (h *VersionHandler) ListCompatibility(c *gin.Context) {
	var scope models.VersionScope
	if err := c.ShouldBindQuery(&scope); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	kind := models.CompatibilityKind(c.Query("kind"))
	if kind != "" && !kind.Valid() {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "kind must be data, api or dependency"))
		return
	}
	decls, err := h.service.ListCompatibility(c.Request.Context(), scope, kind)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, decls)
}
