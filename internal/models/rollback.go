package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// RollbackStatus captures the rollback plan state machine.
type RollbackStatus string

const (
	RollbackPending   RollbackStatus = "pending"
	RollbackApproved  RollbackStatus = "approved"
	RollbackExecuting RollbackStatus = "executing"
	RollbackCompleted RollbackStatus = "completed"
	RollbackFailed    RollbackStatus = "failed"
	RollbackCancelled RollbackStatus = "cancelled"
)

// IsTerminal reports states from which no transition is defined.
func (s RollbackStatus) IsTerminal() bool {
	switch s {
	case RollbackCompleted, RollbackFailed, RollbackCancelled:
		return true
	}
	return false
}

// SafetyCheckType enumerates the fixed pre-rollback checks.
type SafetyCheckType string

const (
	SafetyCheckDataCompatibility SafetyCheckType = "data_compatibility"
	SafetyCheckAPICompatibility  SafetyCheckType = "api_compatibility"
	SafetyCheckDependency        SafetyCheckType = "dependency_check"
	SafetyCheckUserImpact        SafetyCheckType = "user_impact"
)

// SafetyCheckTypes lists the checks in evaluation order.
var SafetyCheckTypes = []SafetyCheckType{
	SafetyCheckDataCompatibility,
	SafetyCheckAPICompatibility,
	SafetyCheckDependency,
	SafetyCheckUserImpact,
}

// SafetyCheckStatus is the outcome of a single check.
type SafetyCheckStatus string

const (
	SafetyCheckPending SafetyCheckStatus = "pending"
	SafetyCheckPassed  SafetyCheckStatus = "passed"
	SafetyCheckFailed  SafetyCheckStatus = "failed"
	SafetyCheckWarning SafetyCheckStatus = "warning"
)

// ImpactLevel classifies the estimated number of affected installations.
type ImpactLevel string

const (
	ImpactLow    ImpactLevel = "low"
	ImpactMedium ImpactLevel = "medium"
	ImpactHigh   ImpactLevel = "high"
)

// SafetyCheckResult is one evaluation within a rollback plan.
type SafetyCheckResult struct {
	Type          SafetyCheckType   `json:"type"`
	Status        SafetyCheckStatus `json:"status"`
	Message       string            `json:"message"`
	Impact        ImpactLevel       `json:"impact,omitempty"`
	AffectedUsers *int64            `json:"affectedUsers,omitempty"`
	CheckedAt     time.Time         `json:"checkedAt"`
}

// SafetyCheckResults is the ordered batch stored on a plan as JSONB.
type SafetyCheckResults []SafetyCheckResult

// Value implements driver.Valuer.
func (r SafetyCheckResults) Value() (driver.Value, error) {
	if r == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r)
}

// Scan implements sql.Scanner.
func (r *SafetyCheckResults) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*r = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("safety checks: unsupported column type")
	}
	return json.Unmarshal(raw, r)
}

// Failed returns checks with status failed.
func (r SafetyCheckResults) Failed() []SafetyCheckResult {
	return r.withStatus(SafetyCheckFailed)
}

// Pending returns checks that were never evaluated.
func (r SafetyCheckResults) Pending() []SafetyCheckResult {
	return r.withStatus(SafetyCheckPending)
}

func (r SafetyCheckResults) withStatus(status SafetyCheckStatus) []SafetyCheckResult {
	var out []SafetyCheckResult
	for _, check := range r {
		if check.Status == status {
			out = append(out, check)
		}
	}
	return out
}

// AffectedUsers returns the user impact estimate, if the batch carries one.
func (r SafetyCheckResults) AffectedUsers() int64 {
	for _, check := range r {
		if check.Type == SafetyCheckUserImpact && check.AffectedUsers != nil {
			return *check.AffectedUsers
		}
	}
	return 0
}

// RollbackPlan is a proposal to move a population backward in version space. Plans are kept as
// audit records and never deleted.
type RollbackPlan struct {
	ID               string             `db:"id" json:"id"`
	ExtensionID      *string            `db:"extension_id" json:"extensionId,omitempty"`
	ProductID        *string            `db:"product_id" json:"productId,omitempty"`
	FromVersion      string             `db:"from_version" json:"fromVersion"`
	ToVersion        string             `db:"to_version" json:"toVersion"`
	Reason           string             `db:"reason" json:"reason"`
	SafetyChecks     SafetyCheckResults `db:"safety_checks" json:"safetyChecks"`
	RollbackStrategy RolloutStrategy    `db:"rollback_strategy" json:"rollbackStrategy"`
	TargetPercentage *int               `db:"target_percentage" json:"targetPercentage,omitempty"`
	ScheduledAt      *time.Time         `db:"scheduled_at" json:"scheduledAt,omitempty"`
	Status           RollbackStatus     `db:"status" json:"status"`
	Error            *string            `db:"error" json:"error,omitempty"`
	CreatedBy        string             `db:"created_by" json:"createdBy"`
	ApprovedBy       *string            `db:"approved_by" json:"approvedBy,omitempty"`
	ApprovedAt       *time.Time         `db:"approved_at" json:"approvedAt,omitempty"`
	CancelledBy      *string            `db:"cancelled_by" json:"cancelledBy,omitempty"`
	UpdatePackageID  *string            `db:"update_package_id" json:"updatePackageId,omitempty"`
	DistributionID   *string            `db:"distribution_id" json:"distributionId,omitempty"`
	RowVersion       int64              `db:"row_version" json:"rowVersion"`
	CreatedAt        time.Time          `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time          `db:"updated_at" json:"updatedAt"`
}

// Scope returns the owning scope.
func (p RollbackPlan) Scope() VersionScope {
	return ScopeOf(p.ExtensionID, p.ProductID)
}

// RollbackPlanFilter constrains plan listings.
type RollbackPlanFilter struct {
	Scope  VersionScope
	Status []RollbackStatus
	Limit  int
	Offset int
}

// ExecutionStatus tracks a rollback execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionExecuting ExecutionStatus = "executing"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// RollbackExecution is the runtime record of executing an approved plan; one per plan.
type RollbackExecution struct {
	ID                  string          `db:"id" json:"id"`
	RollbackPlanID      string          `db:"rollback_plan_id" json:"rollbackPlanId"`
	Status              ExecutionStatus `db:"status" json:"status"`
	Progress            int             `db:"progress" json:"progress"`
	AffectedUsers       int64           `db:"affected_users" json:"affectedUsers"`
	SuccessfulRollbacks int64           `db:"successful_rollbacks" json:"successfulRollbacks"`
	FailedRollbacks     int64           `db:"failed_rollbacks" json:"failedRollbacks"`
	Error               *string         `db:"error" json:"error,omitempty"`
	RowVersion          int64           `db:"row_version" json:"rowVersion"`
	StartedAt           time.Time       `db:"started_at" json:"startedAt"`
	FinishedAt          *time.Time      `db:"finished_at" json:"finishedAt,omitempty"`
}
