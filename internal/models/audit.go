package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionVersionRegister    = "VERSION_REGISTER"
	AuditActionVersionDeprecate   = "VERSION_DEPRECATE"
	AuditActionVersionChangelog   = "VERSION_CHANGELOG"
	AuditActionPackageBuild       = "PACKAGE_BUILD"
	AuditActionDistributionStart  = "DISTRIBUTION_START"
	AuditActionDistributionPause  = "DISTRIBUTION_PAUSE"
	AuditActionDistributionResume = "DISTRIBUTION_RESUME"
	AuditActionRollbackCreate     = "ROLLBACK_CREATE"
	AuditActionRollbackApprove    = "ROLLBACK_APPROVE"
	AuditActionRollbackExecute    = "ROLLBACK_EXECUTE"
	AuditActionRollbackCancel     = "ROLLBACK_CANCEL"
	AuditActionCompatibilityDecl  = "COMPATIBILITY_DECLARE"
	AuditActionDistributionFail   = "DISTRIBUTION_FAIL"
	AuditActionRolloutAdvance     = "ROLLOUT_ADVANCE"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
