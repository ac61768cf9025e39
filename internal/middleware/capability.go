package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/college-events-api/internal/models"
	appErrors "github.com/noah-isme/college-events-api/pkg/errors"
	"github.com/noah-isme/college-events-api/pkg/response"
)

// RequireCapability admits callers whose role grants at least one of caps.
// Services repeat the check, so this only rejects early.
func RequireCapability(caps ...models.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := Claims(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !claims.Principal().CanAny(caps...) {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "role "+string(claims.Role)+" cannot perform this action"))
			c.Abort()
			return
		}
		c.Next()
	}
}
