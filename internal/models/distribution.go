package models

import (
	"time"

	"github.com/lib/pq"
)

// RolloutStrategy selects how a distribution or rollback exposes its population.
type RolloutStrategy string

const (
	StrategyImmediate RolloutStrategy = "immediate"
	StrategyGradual   RolloutStrategy = "gradual"
	StrategyScheduled RolloutStrategy = "scheduled"
)

// Valid reports whether s is a known strategy.
func (s RolloutStrategy) Valid() bool {
	switch s {
	case StrategyImmediate, StrategyGradual, StrategyScheduled:
		return true
	}
	return false
}

// DistributionStatus captures the rollout state machine.
type DistributionStatus string

const (
	DistributionPending      DistributionStatus = "pending"
	DistributionDistributing DistributionStatus = "distributing"
	DistributionPaused       DistributionStatus = "paused"
	DistributionCompleted    DistributionStatus = "completed"
	DistributionFailed       DistributionStatus = "failed"
)

// IsTerminal reports states from which no transition is defined.
func (s DistributionStatus) IsTerminal() bool {
	return s == DistributionCompleted || s == DistributionFailed
}

// NotificationKind is the notice sent to newly exposed installations.
type NotificationKind string

const (
	NotificationAvailable NotificationKind = "available"
	NotificationRequired  NotificationKind = "required"
	NotificationOptional  NotificationKind = "optional"
)

// Valid reports whether k is a known notification kind.
func (k NotificationKind) Valid() bool {
	switch k {
	case NotificationAvailable, NotificationRequired, NotificationOptional:
		return true
	}
	return false
}

// FailureReasonWindowExpired is recorded when a scheduled window closes before completion.
const FailureReasonWindowExpired = "window expired"

// UpdateDistribution is one rollout attempt of an UpdatePackage.
//
// Progress is the share of the target population reached (0-100). ExposurePercentage is the
// share of the whole population currently exposed, used for bucketing when no explicit
// TargetUsers list exists.
type UpdateDistribution struct {
	ID                 string             `db:"id" json:"id"`
	UpdatePackageID    string             `db:"update_package_id" json:"updatePackageId"`
	Strategy           RolloutStrategy    `db:"strategy" json:"strategy"`
	TargetUsers        pq.StringArray     `db:"target_users" json:"targetUsers,omitempty"`
	TargetPercentage   *int               `db:"target_percentage" json:"targetPercentage,omitempty"`
	StartDate          *time.Time         `db:"start_date" json:"startDate,omitempty"`
	EndDate            *time.Time         `db:"end_date" json:"endDate,omitempty"`
	Status             DistributionStatus `db:"status" json:"status"`
	Progress           int                `db:"progress" json:"progress"`
	ExposurePercentage float64            `db:"exposure_percentage" json:"exposurePercentage"`
	NotifiedCount      int                `db:"notified_count" json:"notifiedCount"`
	NotificationKind   NotificationKind   `db:"notification_kind" json:"notificationKind"`
	FailureReason      *string            `db:"failure_reason" json:"failureReason,omitempty"`
	RollbackPlanID     *string            `db:"rollback_plan_id" json:"rollbackPlanId,omitempty"`
	CreatedBy          string             `db:"created_by" json:"createdBy"`
	RowVersion         int64              `db:"row_version" json:"rowVersion"`
	CreatedAt          time.Time          `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time          `db:"updated_at" json:"updatedAt"`
	LastProgressAt     *time.Time         `db:"last_progress_at" json:"lastProgressAt,omitempty"`
	CompletedAt        *time.Time         `db:"completed_at" json:"completedAt,omitempty"`
}

// Target returns the percentage of the total population the rollout aims at.
func (d UpdateDistribution) Target() int {
	if d.TargetPercentage == nil {
		return 100
	}
	return *d.TargetPercentage
}

// DistributionFilter constrains distribution listings.
type DistributionFilter struct {
	UpdatePackageID string
	Status          []DistributionStatus
	Limit           int
	// OldestFirst orders by (created_at, id) ascending and resumes strictly after After when set.
	OldestFirst bool
	After       *DistributionCursor
}

// DistributionCursor is the keyset position of the last row of a page.
type DistributionCursor struct {
	CreatedAt time.Time
	ID        string
}

// CursorOf returns the keyset position of d.
func CursorOf(d UpdateDistribution) *DistributionCursor {
	return &DistributionCursor{CreatedAt: d.CreatedAt, ID: d.ID}
}
