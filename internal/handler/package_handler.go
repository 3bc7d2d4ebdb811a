package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/release-distribution-api/internal/dto"
	"github.com/noah-isme/release-distribution-api/internal/models"
	appErrors "github.com/noah-isme/release-distribution-api/pkg/errors"
	"github.com/noah-isme/release-distribution-api/pkg/response"
)

type packageService interface {
	Build(ctx context.Context, req dto.BuildPackageRequest, payload io.Reader, actor models.Principal) (*models.UpdatePackage, error)
	Get(ctx context.Context, id string) (*models.UpdatePackage, error)
	List(ctx context.Context, query dto.PackageQuery) ([]models.UpdatePackage, error)
	DownloadLink(ctx context.Context, id string) (*dto.DownloadLinkResponse, error)
}

// PackageHandler exposes update package endpoints.
type PackageHandler struct {
	service packageService
}

// NewPackageHandler builds a package handler.
func NewPackageHandler(service packageService) *PackageHandler {
	return &PackageHandler{service: service}
}

// Build godoc
// @Summary Build an update package
// @Description Multipart body: a "metadata" JSON part (dto.BuildPackageRequest) followed by the "payload" part.
// @Tags Packages
// @Accept mpfd
// @Produce json
// @Param metadata formData string true "JSON encoded dto.BuildPackageRequest"
// @Param payload formData file true "Package payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /packages [post]
func (h *PackageHandler) Build(c *gin.Context) {
	actor, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.BuildPackageRequest
	payload, err := streamedUpload(c, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	pkg, err := h.service.Build(c.Request.Context(), req, payload, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, pkg)
}

// List godoc
// @Summary List update packages
// @Tags Packages
// @Produce json
// @Param extension_id query string false "Extension ID"
// @Param product_id query string false "Product ID"
// @Param from_version query string false "Source version"
// @Param to_version query string false "Target version"
// @Param direction query string false "forward or rollback"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Router /packages [get]
func (h *PackageHandler) List(c *gin.Context) {
	var query dto.PackageQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	pkgs, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, pkgs, &models.Pagination{Limit: query.Limit, Offset: query.Offset, Count: len(pkgs)})
}

// Get godoc
// @Summary Get an update package
// @Tags Packages
// @Produce json
// @Param id path string true "Package ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /packages/{id} [get]
func (h *PackageHandler) Get(c *gin.Context) {
	pkg, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, pkg)
}

// Download godoc
// @Summary Issue a signed, expiring download link
// @Tags Packages
// @Produce json
// @Param id path string true "Package ID"
// @Success 200 {object} response.Envelope
// @Router /packages/{id}/download [get]
func (h *PackageHandler) Download(c *gin.Context) {
	link, err := h.service.DownloadLink(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, link)
}
