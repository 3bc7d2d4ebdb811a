package dto

import (
	"time"

	"github.com/noah-isme/release-distribution-api/internal/models"
)

// StartDistributionRequest captures POST /distributions.
type StartDistributionRequest struct {
	UpdatePackageID  string     `json:"updatePackageId" validate:"required"`
	Strategy         string     `json:"strategy" validate:"required,oneof=immediate gradual scheduled"`
	TargetUsers      []string   `json:"targetUsers" validate:"omitempty,dive,required"`
	TargetPercentage *int       `json:"targetPercentage" validate:"omitempty,min=0,max=100"`
	StartDate        *time.Time `json:"startDate"`
	EndDate          *time.Time `json:"endDate"`
	NotificationKind string     `json:"notificationKind" validate:"omitempty,oneof=available required optional"`
}

// FailDistributionRequest captures POST /distributions/:id/fail.
type FailDistributionRequest struct {
	Reason string `json:"reason" validate:"required,max=2000"`
}

// AdvanceDistributionsRequest captures POST /distributions/advance. An empty ID advances every due rollout.
type AdvanceDistributionsRequest struct {
	DistributionID string `json:"distributionId"`
}

// AdvanceSummary reports one advance pass.
type AdvanceSummary struct {
	Evaluated int                         `json:"evaluated"`
	Changed   int                         `json:"changed"`
	Completed int                         `json:"completed"`
	Failed    int                         `json:"failed"`
	Conflicts int                         `json:"conflicts"`
	Items     []models.UpdateDistribution `json:"items"`
}

// DistributionQuery mirrors GET /distributions filters.
type DistributionQuery struct {
	UpdatePackageID string   `form:"update_package_id"`
	Status          []string `form:"status" validate:"omitempty,dive,oneof=pending distributing paused completed failed"`
	Limit           int      `form:"limit"`
}

// ExposureResponse answers whether a user currently receives a distribution.
type ExposureResponse struct {
	DistributionID     string                    `json:"distributionId"`
	UserID             string                    `json:"userId"`
	Exposed            bool                      `json:"exposed"`
	Bucket             *int                      `json:"bucket,omitempty"`
	ExposurePercentage float64                   `json:"exposurePercentage"`
	Status             models.DistributionStatus `json:"status"`
}
