package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/release-distribution-api/internal/dto"
	"github.com/noah-isme/release-distribution-api/internal/models"
	"github.com/noah-isme/release-distribution-api/internal/service"
	appErrors "github.com/noah-isme/release-distribution-api/pkg/errors"
	"github.com/noah-isme/release-distribution-api/pkg/response"
)

type rollbackService interface {
	CreatePlan(ctx context.Context, req dto.CreateRollbackPlanRequest, actor models.Principal) (*models.RollbackPlan, error)
	GetPlan(ctx context.Context, id string) (*models.RollbackPlan, error)
	ListPlans(ctx context.Context, query dto.RollbackPlanQuery) ([]models.RollbackPlan, error)
	Approve(ctx context.Context, id string, actor models.Principal) (*models.RollbackPlan, error)
	Execute(ctx context.Context, id string, req dto.ExecuteRollbackRequest, payload io.Reader, actor models.Principal) (*dto.RollbackExecuteResponse, error)
	Cancel(ctx context.Context, id string, actor models.Principal) (*models.RollbackPlan, error)
	GetExecution(ctx context.Context, planID string) (*models.RollbackExecution, error)
	Report(ctx context.Context, id string, format models.ReportFormat) (*service.ExportResult, error)
}

// RollbackHandler exposes the rollback controller.
type RollbackHandler struct {
	service rollbackService
}

// NewRollbackHandler builds a rollback handler.
func NewRollbackHandler(service rollbackService) *RollbackHandler {
	return &RollbackHandler{service: service}
}

// Create godoc
// @Summary Create a rollback plan
// @Description Runs the safety checks and records their results on the new pending plan.
// @Tags Rollbacks
// @Accept json
// @Produce json
// @Param payload body dto.CreateRollbackPlanRequest true "Rollback plan"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /rollbacks [post]
func (h *RollbackHandler) Create(c *gin.Context) {
	actor, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CreateRollbackPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid rollback payload"))
		return
	}
	plan, err := h.service.CreatePlan(c.Request.Context(), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, plan)
}

// List godoc
// @Summary List rollback plans
// @Tags Rollbacks
// @Produce json
// @Param extension_id query string false "Extension ID"
// @Param product_id query string false "Product ID"
// @Param status query []string false "Status filter"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Router /rollbacks [get]
func (h *RollbackHandler) List(c *gin.Context) {
	var query dto.RollbackPlanQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	plans, err := h.service.ListPlans(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, plans, &models.Pagination{Limit: query.Limit, Offset: query.Offset, Count: len(plans)})
}

// Get godoc
// @Summary Get a rollback plan
// @Tags Rollbacks
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /rollbacks/{id} [get]
func (h *RollbackHandler) Get(c *gin.Context) {
	plan, err := h.service.GetPlan(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, plan)
}

// Approve godoc
// @Summary Approve a rollback plan
// @Tags Rollbacks
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope "UNSAFE_ROLLBACK or INVALID_TRANSITION"
// @Router /rollbacks/{id}/approve [post]
func (h *RollbackHandler) Approve(c *gin.Context) {
	actor, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	plan, err := h.service.Approve(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, plan)
}

// Execute godoc
// @Summary Execute an approved rollback plan
// @Description Multipart body: a "metadata" JSON part (dto.ExecuteRollbackRequest) followed by the downgrade "payload" part.
// @Tags Rollbacks
// @Accept mpfd
// @Produce json
// @Param id path string true "Plan ID"
// @Param metadata formData string false "JSON encoded dto.ExecuteRollbackRequest"
// @Param payload formData file true "Downgrade payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope "NOT_APPROVED or ALREADY_EXECUTED"
// @Router /rollbacks/{id}/execute [post]
func (h *RollbackHandler) Execute(c *gin.Context) {
	actor, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ExecuteRollbackRequest
	payload, err := streamedUpload(c, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.service.Execute(c.Request.Context(), c.Param("id"), req, payload, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// Cancel godoc
// @Summary Cancel a pending or approved plan
// @Tags Rollbacks
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} response.Envelope
// @Router /rollbacks/{id}/cancel [post]
func (h *RollbackHandler) Cancel(c *gin.Context) {
	actor, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	plan, err := h.service.Cancel(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, plan)
}

// Execution godoc
// @Summary Get the execution record of a plan
// @Tags Rollbacks
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /rollbacks/{id}/execution [get]
func (h *RollbackHandler) Execution(c *gin.Context) {
	exec, err := h.service.GetExecution(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, exec)
}

// Report godoc
// @Summary Export a rollback audit report
// @Tags Rollbacks
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Plan ID"
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} file
// @Router /rollbacks/{id}/report [get]
func (h *RollbackHandler) Report(c *gin.Context) {
	var query dto.RollbackReportQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	format := models.ReportFormatCSV
	if query.Format != "" {
		format = models.ReportFormat(query.Format)
	}
	if !format.Valid() {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf"))
		return
	}
	result, err := h.service.Report(c.Request.Context(), c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", result.Filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, result.ContentType, result.Body)
}
