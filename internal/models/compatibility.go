package models

import "time"

// CompatibilityKind names the kind of evidence a declaration carries.
type CompatibilityKind string

const (
	CompatibilityData       CompatibilityKind = "data"
	CompatibilityAPI        CompatibilityKind = "api"
	CompatibilityDependency CompatibilityKind = "dependency"
)

// Valid reports whether k is a known kind.
func (k CompatibilityKind) Valid() bool {
	switch k {
	case CompatibilityData, CompatibilityAPI, CompatibilityDependency:
		return true
	}
	return false
}

// CompatibilityDeclaration states that installations moved below MinimumVersion can no longer use
// state (data, API contracts, dependencies) introduced by Version.
type CompatibilityDeclaration struct {
	ID             string            `db:"id" json:"id"`
	ExtensionID    *string           `db:"extension_id" json:"extensionId,omitempty"`
	ProductID      *string           `db:"product_id" json:"productId,omitempty"`
	Version        string            `db:"version" json:"version"`
	Kind           CompatibilityKind `db:"kind" json:"kind"`
	MinimumVersion string            `db:"minimum_version" json:"minimumVersion"`
	Note           string            `db:"note" json:"note"`
	DeclaredBy     string            `db:"declared_by" json:"declaredBy"`
	CreatedAt      time.Time         `db:"created_at" json:"createdAt"`
}
