package handler

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/release-distribution-api/internal/middleware"
	"github.com/noah-isme/release-distribution-api/internal/models"
	appErrors "github.com/noah-isme/release-distribution-api/pkg/errors"
)

const (
	metadataPart = "metadata"
	payloadPart  = "payload"
)

func principalFromContext(c *gin.Context) (models.Principal, bool) {
	principal, ok := middleware.Principal(c)
	if !ok || principal.ID == "" {
		return models.Principal{}, false
	}
	return principal, true
}

// streamedUpload reads the "metadata" JSON part into dest and returns the trailing "payload" part
// without buffering it. The caller must consume the returned reader before the request ends.
func streamedUpload(c *gin.Context, dest interface{}) (io.Reader, error) {
	mediaType, _, err := mime.ParseMediaType(c.GetHeader("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return nil, appErrors.Clone(appErrors.ErrValidation, "multipart/form-data body required")
	}
	reader, err := c.Request.MultipartReader()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid multipart body")
	}
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return nil, appErrors.Clone(appErrors.ErrValidation, "payload part is required")
		}
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid multipart body")
		}
		switch part.FormName() {
		case metadataPart:
			if err := json.NewDecoder(io.LimitReader(part, 64<<10)).Decode(dest); err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid metadata part")
			}
		case payloadPart:
			return part, nil
		}
	}
}
