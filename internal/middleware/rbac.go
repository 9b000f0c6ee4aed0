package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-sync/internal/models"
	appErrors "github.com/noah-isme/course-sync/pkg/errors"
	"github.com/noah-isme/course-sync/pkg/response"
)

// Self lets a caller through when the named route parameter equals their user id.
const Self = "SELF"

// RBAC enforces role-based access control for routes. Entries are role names
// or Self, optionally followed by ":param" to compare a parameter other than
// "id" (for example "SELF:studentId").
func RBAC(allowed ...string) gin.HandlerFunc {
	allowedRoles := make(map[models.UserRole]struct{})
	var selfParams []string
	for _, a := range allowed {
		switch {
		case a == Self:
			selfParams = append(selfParams, "id")
		case len(a) > len(Self)+1 && a[:len(Self)+1] == Self+":":
			selfParams = append(selfParams, a[len(Self)+1:])
		default:
			allowedRoles[models.UserRole(a)] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims, ok := claimsValue.(*models.JWTClaims)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		if _, ok := allowedRoles[claims.Role]; ok {
			c.Next()
			return
		}

		for _, param := range selfParams {
			if target := c.Param(param); target != "" && target == claims.UserID {
				c.Next()
				return
			}
		}

		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}

// RequireRoles is a helper that accepts a list of roles.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make([]string, len(roles))
	for i, r := range roles {
		allowed[i] = string(r)
	}
	return RBAC(allowed...)
}
