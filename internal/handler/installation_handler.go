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

type installationService interface {
	Report(ctx context.Context, req dto.ReportInstallationRequest) (*models.Installation, error)
}

// InstallationHandler ingests installation heartbeats.
type InstallationHandler struct {
	service installationService
}

// NewInstallationHandler builds an installation handler.
func NewInstallationHandler(service installationService) *InstallationHandler {
	return &InstallationHandler{service: service}
}

// Report godoc
// @Summary Report the version an installation runs
// @Tags Installations
// @Accept json
// @Produce json
// @Param payload body dto.ReportInstallationRequest true "Heartbeat"
// @Success 200 {object} response.Envelope
// @Router /installations/report [post]
func (h *InstallationHandler) Report(c *gin.Context) {
	var req dto.ReportInstallationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid installation payload"))
		return
	}
	installation, err := h.service.Report(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, installation)
}
