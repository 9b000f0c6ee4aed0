package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-sync/internal/middleware"
	"github.com/noah-isme/course-sync/internal/models"
	appErrors "github.com/noah-isme/course-sync/pkg/errors"
	"github.com/noah-isme/course-sync/pkg/response"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// requireClaims writes a 401 and returns nil when the route was reached
// without authentication.
func requireClaims(c *gin.Context) *models.JWTClaims {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return nil
	}
	return claims
}

// actingStudent resolves whose progress a request touches. Students act for
// themselves; instructors may name a student explicitly.
func actingStudent(claims *models.JWTClaims, requested string) (string, error) {
	if requested == "" || requested == claims.UserID {
		return claims.UserID, nil
	}
	if claims.Role == models.RoleInstructor {
		return requested, nil
	}
	return "", appErrors.Clone(appErrors.ErrForbidden, "cannot act for another student")
}

func bindError(err error) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
}
