// README: Caller identity middleware. The upstream gateway authenticates and forwards X-Caller-ID / X-Caller-Role.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	HeaderCallerID   = "X-Caller-ID"
	HeaderCallerRole = "X-Caller-Role"

	RoleCustomer = "customer"
	RoleDriver   = "driver"
	RoleAdmin    = "admin"

	ctxCallerUID  = "caller_uid"
	ctxCallerRole = "caller_role"
)

// Auth rejects requests without a caller id or with an unknown role.
func Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := strings.TrimSpace(c.GetHeader(HeaderCallerID))
		role := strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderCallerRole)))
		if uid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity"})
			return
		}
		switch role {
		case RoleCustomer, RoleDriver, RoleAdmin:
		case "":
			role = RoleCustomer
		default:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown caller role"})
			return
		}
		c.Set(ctxCallerUID, uid)
		c.Set(ctxCallerRole, role)
		c.Next()
	}
}

// RequireRole must run after Auth.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := CallerRole(c)
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "role not permitted"})
	}
}

func CallerUID(c *gin.Context) string {
	return c.GetString(ctxCallerUID)
}

func CallerRole(c *gin.Context) string {
	return c.GetString(ctxCallerRole)
}
