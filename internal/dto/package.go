package dto

import (
	"time"

	"github.com/noah-isme/release-distribution-api/internal/models"
)

// BuildPackageRequest carries the metadata fields of POST /packages. The payload itself is streamed
// separately from the trailing multipart part.
type BuildPackageRequest struct {
	ExtensionID      string `json:"extensionId"`
	ProductID        string `json:"productId"`
	FromVersion      string `json:"fromVersion"`
	ToVersion        string `json:"toVersion" validate:"required"`
	IsDelta          bool   `json:"isDelta"`
	DeltaFromVersion string `json:"deltaFromVersion" validate:"required_if=IsDelta true"`
	ReleaseNotes     string `json:"releaseNotes" validate:"max=10000"`
	PayloadSize      int64  `json:"payloadSize" validate:"gte=0"`
	ContentType      string `json:"contentType"`
}

// Scope returns the owning scope of the request.
func (r BuildPackageRequest) Scope() models.VersionScope {
	return models.VersionScope{ExtensionID: r.ExtensionID, ProductID: r.ProductID}.Normalize()
}

// PackageQuery mirrors GET /packages filters.
type PackageQuery struct {
	models.VersionScope
	FromVersion string `form:"from_version"`
	ToVersion   string `form:"to_version"`
	Direction   string `form:"direction" validate:"omitempty,oneof=forward rollback"`
	Limit       int    `form:"limit"`
	Offset      int    `form:"offset"`
}

// DownloadLinkResponse is a signed, expiring package download link.
type DownloadLinkResponse struct {
	URL       string    `json:"url"`
	Checksum  string    `json:"checksum"`
	ExpiresAt time.Time `json:"expiresAt"`
}
