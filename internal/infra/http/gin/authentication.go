package ginserver

import (
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"rentalcore/internal/app/policies"
)

const (
	userIDHeader        = "X-User-ID"
	userRolesHeader     = "X-User-Roles"
	principalContextKey = "rentalcore.principal"
)

// Principal trusts the identity headers set by the gateway in front of the
// service and puts the caller on both the gin and the request context.
func Principal() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(userIDHeader))
		if id == "" {
			c.Next()
			return
		}
		p := policies.Principal{ID: id}
		for _, role := range strings.Split(c.GetHeader(userRolesHeader), ",") {
			if role = strings.TrimSpace(role); role != "" {
				p.Roles = append(p.Roles, role)
			}
		}
		c.Set(principalContextKey, p)
		c.Request = c.Request.WithContext(policies.ContextWithPrincipal(c.Request.Context(), p))
		c.Next()
	}
}

func currentPrincipal(c *gin.Context) (policies.Principal, bool) {
	val, exists := c.Get(principalContextKey)
	if !exists {
		return policies.Principal{}, false
	}
	p, ok := val.(policies.Principal)
	return p, ok
}

func requirePrincipal(c *gin.Context) (policies.Principal, bool) {
	p, ok := currentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
		return policies.Principal{}, false
	}
	return p, true
}
