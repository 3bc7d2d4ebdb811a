package dto

import (
	"time"

	"github.com/noah-isme/release-distribution-api/internal/models"
)

// CreateRollbackPlanRequest captures POST /rollbacks.
type CreateRollbackPlanRequest struct {
	ExtensionID      string     `json:"extensionId"`
	ProductID        string     `json:"productId"`
	FromVersion      string     `json:"fromVersion" validate:"required"`
	ToVersion        string     `json:"toVersion" validate:"required"`
	Reason           string     `json:"reason" validate:"required,max=2000"`
	Strategy         string     `json:"rollbackStrategy" validate:"omitempty,oneof=immediate gradual scheduled"`
	TargetPercentage *int       `json:"targetPercentage" validate:"omitempty,min=0,max=100"`
	ScheduledAt      *time.Time `json:"scheduledAt" validate:"required_if=Strategy scheduled"`
}

// Scope returns the owning scope of the request.
func (r CreateRollbackPlanRequest) Scope() models.VersionScope {
	return models.VersionScope{ExtensionID: r.ExtensionID, ProductID: r.ProductID}.Normalize()
}

// ExecuteRollbackRequest carries the metadata of the downgrade payload streamed with POST /rollbacks/:id/execute.
type ExecuteRollbackRequest struct {
	IsDelta          bool   `json:"isDelta"`
	DeltaFromVersion string `json:"deltaFromVersion" validate:"required_if=IsDelta true"`
	ReleaseNotes     string `json:"releaseNotes" validate:"max=10000"`
	PayloadSize      int64  `json:"payloadSize" validate:"gte=0"`
	ContentType      string `json:"contentType"`
}

// RollbackPlanQuery mirrors GET /rollbacks filters.
type RollbackPlanQuery struct {
	models.VersionScope
	Status []string `form:"status" validate:"omitempty,dive,oneof=pending approved executing completed failed cancelled"`
	Limit  int      `form:"limit"`
	Offset int      `form:"offset"`
}

// RollbackExecuteResponse returns the plan and its execution record.
type RollbackExecuteResponse struct {
	Plan      *models.RollbackPlan      `json:"plan"`
	Execution *models.RollbackExecution `json:"execution"`
}

// RollbackReportQuery mirrors GET /rollbacks/:id/report.
type RollbackReportQuery struct {
	Format string `form:"format" validate:"omitempty,oneof=csv pdf"`
}
