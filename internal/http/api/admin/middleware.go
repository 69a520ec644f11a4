package admin

import (
	"net/http"
	"strings"

	"github.com/lootmore/lootmore-server/internal/config"
	"github.com/lootmore/lootmore-server/internal/http/api/admin/handlers"
	"github.com/lootmore/lootmore-server/internal/security"

	"github.com/gin-gonic/gin"
)

// RequireAdmin guards privileged routes. It accepts the shared admin secret
// in the X-Admin-Key header or a session cookie issued by login.
func RequireAdmin(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := strings.TrimSpace(c.GetHeader("X-Admin-Key")); key != "" {
			if handlers.VerifyAdminSecret(cfg, key) {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		if cookie, errCookie := c.Cookie(handlers.SessionCookieName); errCookie == nil && cookie != "" {
			if _, errParse := security.ParseSessionToken(cfg.Admin.JWTSecret, cookie); errParse == nil {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
}
