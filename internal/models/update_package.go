package models

import "time"

// PackageDirection distinguishes upgrade packages from downgrade payloads built for rollbacks.
type PackageDirection string

const (
	PackageDirectionForward  PackageDirection = "forward"
	PackageDirectionRollback PackageDirection = "rollback"
)

// UpdatePackage is an immutable directed edge between two versions carrying a payload.
type UpdatePackage struct {
	ID               string           `db:"id" json:"id"`
	ExtensionID      *string          `db:"extension_id" json:"extensionId,omitempty"`
	ProductID        *string          `db:"product_id" json:"productId,omitempty"`
	FromVersion      string           `db:"from_version" json:"fromVersion"`
	ToVersion        string           `db:"to_version" json:"toVersion"`
	Direction        PackageDirection `db:"direction" json:"direction"`
	IsDelta          bool             `db:"is_delta" json:"isDelta"`
	DeltaFromVersion *string          `db:"delta_from_version" json:"deltaFromVersion,omitempty"`
	PackageURL       string           `db:"package_url" json:"packageUrl"`
	ArtifactKey      string           `db:"artifact_key" json:"-"`
	PackageSize      int64            `db:"package_size" json:"packageSize"`
	Checksum         string           `db:"checksum" json:"checksum"`
	ReleaseNotes     *string          `db:"release_notes" json:"releaseNotes,omitempty"`
	CreatedBy        string           `db:"created_by" json:"createdBy"`
	CreatedAt        time.Time        `db:"created_at" json:"createdAt"`
}

// Scope returns the owning scope.
func (p UpdatePackage) Scope() VersionScope {
	return ScopeOf(p.ExtensionID, p.ProductID)
}

// UpdatePackageFilter constrains package listings.
type UpdatePackageFilter struct {
	Scope       VersionScope
	FromVersion string
	ToVersion   string
	Direction   PackageDirection
	Limit       int
	Offset      int
}
