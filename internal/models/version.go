package models

import (
	"strings"
	"time"

	"github.com/lib/pq"
)

// VersionScope identifies who owns a version: an extension, a product, or neither (global).
type VersionScope struct {
	ExtensionID string `json:"extensionId,omitempty" form:"extension_id"`
	ProductID   string `json:"productId,omitempty" form:"product_id"`
}

// Normalize trims identifiers.
func (s VersionScope) Normalize() VersionScope {
	return VersionScope{ExtensionID: strings.TrimSpace(s.ExtensionID), ProductID: strings.TrimSpace(s.ProductID)}
}

// Valid reports whether at most one of the two owners is set.
func (s VersionScope) Valid() bool {
	n := s.Normalize()
	return n.ExtensionID == "" || n.ProductID == ""
}

// IsGlobal reports a scope with no owner.
func (s VersionScope) IsGlobal() bool {
	n := s.Normalize()
	return n.ExtensionID == "" && n.ProductID == ""
}

// Key renders a stable identifier used for cache keys and artifact names.
func (s VersionScope) Key() string {
	n := s.Normalize()
	switch {
	case n.ExtensionID != "":
		return "extension:" + n.ExtensionID
	case n.ProductID != "":
		return "product:" + n.ProductID
	default:
		return "global"
	}
}

// ExtensionPtr returns the extension id as a nullable column value.
func (s VersionScope) ExtensionPtr() *string { return nullable(s.Normalize().ExtensionID) }

// ProductPtr returns the product id as a nullable column value.
func (s VersionScope) ProductPtr() *string { return nullable(s.Normalize().ProductID) }

// ScopeOf rebuilds a scope from nullable columns.
func ScopeOf(extensionID, productID *string) VersionScope {
	var scope VersionScope
	if extensionID != nil {
		scope.ExtensionID = *extensionID
	}
	if productID != nil {
		scope.ProductID = *productID
	}
	return scope
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// Version is a released build in the catalogue. Rows are never deleted; only IsDeprecated and
// Changelog change after release.
type Version struct {
	ID           string         `db:"id" json:"id"`
	ExtensionID  *string        `db:"extension_id" json:"extensionId,omitempty"`
	ProductID    *string        `db:"product_id" json:"productId,omitempty"`
	Version      string         `db:"version" json:"version"`
	Major        int64          `db:"major" json:"major"`
	Minor        int64          `db:"minor" json:"minor"`
	Patch        int64          `db:"patch" json:"patch"`
	Prerelease   string         `db:"prerelease" json:"prerelease,omitempty"`
	Build        string         `db:"build" json:"build,omitempty"`
	IsStable     bool           `db:"is_stable" json:"isStable"`
	IsDeprecated bool           `db:"is_deprecated" json:"isDeprecated"`
	Changelog    pq.StringArray `db:"changelog" json:"changelog"`
	ReleasedBy   string         `db:"released_by" json:"releasedBy"`
	ReleasedAt   time.Time      `db:"released_at" json:"releasedAt"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updatedAt"`
}

// Scope returns the owning scope.
func (v Version) Scope() VersionScope {
	return ScopeOf(v.ExtensionID, v.ProductID)
}

// VersionFilter constrains catalogue listings.
type VersionFilter struct {
	Scope             VersionScope
	StableOnly        bool
	IncludeDeprecated bool
}
