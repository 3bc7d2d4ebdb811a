package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/release-distribution-api/internal/models"
	appErrors "github.com/noah-isme/release-distribution-api/pkg/errors"
	"github.com/noah-isme/release-distribution-api/pkg/response"
	"github.com/noah-isme/release-distribution-api/pkg/storage"
)

type downloadResolver interface {
	ResolveDownload(ctx context.Context, token string) (*models.UpdatePackage, error)
}

// ArtifactOpener reads artifacts kept on local disk.
type ArtifactOpener interface {
	Open(key string) (*os.File, storage.ObjectMeta, error)
}

// ArtifactHandler serves package payloads behind signed links.
type ArtifactHandler struct {
	resolver downloadResolver
	local    ArtifactOpener
}

// NewArtifactHandler builds an artifact handler. Without a local store every request is redirected to the
// package URL.
func NewArtifactHandler(resolver downloadResolver, local ArtifactOpener) *ArtifactHandler {
	return &ArtifactHandler{resolver: resolver, local: local}
}

// Serve godoc
// @Summary Download a package payload
// @Tags Packages
// @Produce octet-stream
// @Param token path string true "Signed download token"
// @Success 200 {file} file
// @Success 302
// @Failure 403 {object} response.Envelope
// @Router /artifacts/{token} [get]
func (h *ArtifactHandler) Serve(c *gin.Context) {
	pkg, err := h.resolver.ResolveDownload(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if h.local == nil {
		c.Redirect(http.StatusFound, pkg.PackageURL)
		return
	}
	c.Header("Digest", pkg.Checksum)
	h.stream(c, pkg.ArtifactKey)
}

// ServeFile streams a locally stored artifact addressed by its public URL path.
func (h *ArtifactHandler) ServeFile(c *gin.Context) {
	if h.local == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "artifact not found"))
		return
	}
	h.stream(c, strings.TrimPrefix(c.Param("key"), "/"))
}

func (h *ArtifactHandler) stream(c *gin.Context, key string) {
	file, meta, err := h.local.Open(key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "artifact not found"))
			return
		}
		response.Error(c, appErrors.Wrap(err, appErrors.ErrStorageUnavailable.Code, appErrors.ErrStorageUnavailable.Status, "failed to open artifact"))
		return
	}
	defer file.Close() //nolint:errcheck

	contentType := meta.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	size := meta.Size
	if size == 0 {
		if info, statErr := file.Stat(); statErr == nil {
			size = info.Size()
		}
	}
	switch {
	case meta.Invalidated != nil:
		c.Header("Cache-Control", "no-cache")
	case meta.CacheControl != "":
		c.Header("Cache-Control", meta.CacheControl)
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", path.Base(key)))
	c.DataFromReader(http.StatusOK, size, contentType, file, nil)
}
