package dto

import "github.com/noah-isme/release-distribution-api/internal/models"

// RegisterVersionRequest captures POST /versions.
type RegisterVersionRequest struct {
	ExtensionID string   `json:"extensionId"`
	ProductID   string   `json:"productId"`
	Version     string   `json:"version" validate:"required,max=128"`
	Changelog   []string `json:"changelog" validate:"omitempty,dive,required,max=2000"`
}

// Scope returns the owning scope of the request.
func (r RegisterVersionRequest) Scope() models.VersionScope {
	return models.VersionScope{ExtensionID: r.ExtensionID, ProductID: r.ProductID}.Normalize()
}

// VersionQuery mirrors GET /versions filters.
type VersionQuery struct {
	models.VersionScope
	StableOnly        bool `form:"stable_only"`
	IncludeDeprecated bool `form:"include_deprecated"`
}

// NextVersionQuery mirrors GET /versions/next.
type NextVersionQuery struct {
	models.VersionScope
	Field string `form:"field" validate:"required,oneof=major minor patch"`
}

// NextVersionResponse proposes the next version of a scope.
type NextVersionResponse struct {
	Current string `json:"current"`
	Next    string `json:"next"`
	Field   string `json:"field"`
}

// CompareVersionsQuery mirrors GET /versions/compare.
type CompareVersionsQuery struct {
	A string `form:"a" validate:"required"`
	B string `form:"b" validate:"required"`
}

// CompareVersionsResponse reports the ordering of A relative to B.
type CompareVersionsResponse struct {
	A        string `json:"a"`
	B        string `json:"b"`
	Ordering string `json:"ordering"`
}

// DeprecateVersionRequest captures POST /versions/:id/deprecate. Omitting the flag deprecates.
type DeprecateVersionRequest struct {
	Deprecated *bool `json:"deprecated"`
}

// AppendChangelogRequest captures POST /versions/:id/changelog.
type AppendChangelogRequest struct {
	Entries []string `json:"entries" validate:"required,min=1,dive,required,max=2000"`
}

// DeclareCompatibilityRequest captures POST /versions/compatibility.
type DeclareCompatibilityRequest struct {
	ExtensionID    string `json:"extensionId"`
	ProductID      string `json:"productId"`
	Version        string `json:"version" validate:"required"`
	Kind           string `json:"kind" validate:"required,oneof=data api dependency"`
	MinimumVersion string `json:"minimumVersion" validate:"required"`
	Note           string `json:"note" validate:"max=2000"`
}
