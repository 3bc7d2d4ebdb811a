package dto

import "github.com/noah-isme/release-distribution-api/internal/models"

// ReportInstallationRequest captures POST /installations/report heartbeats.
type ReportInstallationRequest struct {
	UserID      string `json:"userId" validate:"required,max=256"`
	ExtensionID string `json:"extensionId"`
	ProductID   string `json:"productId"`
	Version     string `json:"version" validate:"required"`
}

// Scope returns the owning scope of the request.
func (r ReportInstallationRequest) Scope() models.VersionScope {
	return models.VersionScope{ExtensionID: r.ExtensionID, ProductID: r.ProductID}.Normalize()
}
