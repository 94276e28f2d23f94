package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lumahealth/scangate/internal/identity"
	"github.com/lumahealth/scangate/internal/tier"
)

// Restricts a route group to authenticated operators on the admin tier.
func RequireAdmin(identities *identity.Resolver, tiers *tier.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header required",
			})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid authorization header format. Use: Bearer <token>",
			})
			c.Abort()
			return
		}

		id := identities.Resolve(identity.RequestContext{BearerToken: parts[1]})
		if !id.Authenticated {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired token",
			})
			c.Abort()
			return
		}

		if tiers.Resolve(c.Request.Context(), id) != tier.Admin {
			c.JSON(http.StatusForbidden, gin.H{
				"error": "Admin access required",
			})
			c.Abort()
			return
		}

		c.Set("user_id", id.UserID)
		c.Next()
	}
}
