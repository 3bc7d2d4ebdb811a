package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/release-distribution-api/internal/dto"
	"github.com/noah-isme/release-distribution-api/internal/models"
	appErrors "github.com/noah-isme/release-distribution-api/pkg/errors"
	"github.com/noah-isme/release-distribution-api/pkg/response"
)

type distributionService interface {
	Start(ctx context.Context, req dto.StartDistributionRequest, actor models.Principal) (*models.UpdateDistribution, error)
	Get(ctx context.Context, id string) (*models.UpdateDistribution, error)
	List(ctx context.Context, query dto.DistributionQuery) ([]models.UpdateDistribution, error)
	Pause(ctx context.Context, id string, actor models.Principal) (*models.UpdateDistribution, error)
	Resume(ctx context.Context, id string, actor models.Principal) (*models.UpdateDistribution, error)
	Fail(ctx context.Context, id, reason string, actor models.Principal) (*models.UpdateDistribution, error)
	Advance(ctx context.Context, id string) (*models.UpdateDistribution, bool, error)
	AdvanceDue(ctx context.Context) (*dto.AdvanceSummary, error)
	Exposure(ctx context.Context, id, userID string) (*dto.ExposureResponse, error)
}

type advanceQueue interface {
	EnqueueAdvance(distributionID string) error
}

// DistributionHandler exposes rollout scheduling endpoints.
type DistributionHandler struct {
	service distributionService
	queue   advanceQueue
}

// DistributionHandlerOption configures optional collaborators.
type DistributionHandlerOption func(*DistributionHandler)

// WithAdvanceQueue re-evaluates rollouts right after they start or resume instead of waiting for
// the next trigger.
func WithAdvanceQueue(queue advanceQueue) DistributionHandlerOption {
	return func(h *DistributionHandler) {
		h.queue = queue
	}
}

// NewDistributionHandler builds a distribution handler.
func NewDistributionHandler(service distributionService, opts ...DistributionHandlerOption) *DistributionHandler {
	h := &DistributionHandler{service: service}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start godoc
// @Summary Start distributing an update package
// @Tags Distributions
// @Accept json
// @Produce json
// @Param payload body dto.StartDistributionRequest true "Distribution payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /distributions [post]
func (h *DistributionHandler) Start(c *gin.Context) {
	actor, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.StartDistributionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid distribution payload"))
		return
	}
	dist, err := h.service.Start(c.Request.Context(), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.enqueue(c, dist)
	response.Created(c, dist)
}

// List godoc
// @Summary List distributions
// @Tags Distributions
// @Produce json
// @Param update_package_id query string false "Package ID"
// @Param status query []string false "Status filter"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /distributions [get]
func (h *DistributionHandler) List(c *gin.Context) {
	var query dto.DistributionQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	items, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil, map[string]interface{}{"count": len(items)})
}

// Get godoc
// @Summary Get a distribution
// @Tags Distributions
// @Produce json
// @Param id path string true "Distribution ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /distributions/{id} [get]
func (h *DistributionHandler) Get(c *gin.Context) {
	dist, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dist)
}

// Pause godoc
// @Summary Pause a rollout
// @Tags Distributions
// @Produce json
// @Param id path string true "Distribution ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /distributions/{id}/pause [post]
func (h *DistributionHandler) Pause(c *gin.Context) {
	h.transition(c, h.service.Pause)
}

// Resume godoc
// @Summary Resume a paused rollout
// @Tags Distributions
// @Produce json
// @Param id path string true "Distribution ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /distributions/{id}/resume [post]
func (h *DistributionHandler) Resume(c *gin.Context) {
	h.transition(c, h.service.Resume)
}

func (h *DistributionHandler) transition(c *gin.Context, apply func(context.Context, string, models.Principal) (*models.UpdateDistribution, error)) {
	actor, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	dist, err := apply(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.enqueue(c, dist)
	response.OK(c, dist)
}

// enqueue is best effort; the recurring trigger still covers the rollout if the queue is full.
func (h *DistributionHandler) enqueue(c *gin.Context, dist *models.UpdateDistribution) {
	if h.queue == nil || dist.Status != models.DistributionDistributing {
		return
	}
	if err := h.queue.EnqueueAdvance(dist.ID); err != nil {
		_ = c.Error(err)
	}
}

// Fail godoc
// @Summary Mark a rollout failed
// @Tags Distributions
// @Accept json
// @Produce json
// @Param id path string true "Distribution ID"
// @Param payload body dto.FailDistributionRequest true "Failure reason"
// @Success 200 {object} response.Envelope
// @Router /distributions/{id}/fail [post]
func (h *DistributionHandler) Fail(c *gin.Context) {
	actor, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.FailDistributionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid fail payload"))
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "reason is required"))
		return
	}
	dist, err := h.service.Fail(c.Request.Context(), c.Param("id"), req.Reason, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dist)
}

// Advance godoc
// @Summary Re-evaluate rollout progress
// @Description Advances a single distribution when distributionId is set, otherwise every due rollout.
// @Tags Distributions
// @Accept json
// @Produce json
// @Param payload body dto.AdvanceDistributionsRequest false "Optional distribution"
// @Success 200 {object} response.Envelope
// @Router /distributions/advance [post]
func (h *DistributionHandler) Advance(c *gin.Context) {
	var req dto.AdvanceDistributionsRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid advance payload"))
			return
		}
	}
	if req.DistributionID == "" {
		summary, err := h.service.AdvanceDue(c.Request.Context())
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, summary)
		return
	}
	dist, changed, err := h.service.Advance(c.Request.Context(), req.DistributionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dist, nil, map[string]interface{}{"changed": changed})
}

// Exposure godoc
// @Summary Check whether a user receives a distribution
// @Tags Distributions
// @Produce json
// @Param id path string true "Distribution ID"
// @Param user_id query string true "User ID"
// @Success 200 {object} response.Envelope
// @Router /distributions/{id}/exposure [get]
func (h *DistributionHandler) Exposure(c *gin.Context) {
	exposure, err := h.service.Exposure(c.Request.Context(), c.Param("id"), c.Query("user_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, exposure)
}
