package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/release-distribution-api/internal/models"
	appErrors "github.com/noah-isme/release-distribution-api/pkg/errors"
	"github.com/noah-isme/release-distribution-api/pkg/response"
)

// RequirePermission lets the request through when the caller holds any of perms.
func RequirePermission(perms ...models.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := Principal(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		for _, perm := range perms {
			if principal.Can(perm) {
				c.Next()
				return
			}
		}
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "missing permission"))
		c.Abort()
	}
}
