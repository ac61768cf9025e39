package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/college-events-api/internal/middleware"
	"github.com/noah-isme/college-events-api/internal/models"
	appErrors "github.com/noah-isme/college-events-api/pkg/errors"
	"github.com/noah-isme/college-events-api/pkg/response"
)

// principalFromContext returns the caller set by the JWT middleware. It writes
// a 401 and returns false when the request is unauthenticated.
func principalFromContext(c *gin.Context) (models.Principal, bool) {
	claims, ok := middleware.Claims(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return models.Principal{}, false
	}
	return claims.Principal(), true
}

func bindJSON(c *gin.Context, dest interface{}, message string) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message))
		return false
	}
	return true
}
