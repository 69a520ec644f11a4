package handlers

import (
	"net/http"
	"strings"

	"github.com/lootmore/lootmore-server/internal/config"
	"github.com/lootmore/lootmore-server/internal/security"

	"github.com/gin-gonic/gin"
)

// SessionCookieName is the cookie carrying the admin session JWT.
const SessionCookieName = "admin_session"

// VerifyAdminSecret compares a supplied credential against the configured
// admin secret. The bcrypt hash takes precedence when configured; the
// plaintext fallback is compared in constant time.
func VerifyAdminSecret(cfg *config.Config, provided string) bool {
	provided = strings.TrimSpace(provided)
	if provided == "" {
		return false
	}
	if hash := strings.TrimSpace(cfg.Admin.PasswordHash); hash != "" {
		return security.CheckPassword(hash, provided)
	}
	return security.SecureCompare(cfg.Admin.Password, provided)
}

// AuthHandler handles admin session endpoints.
type AuthHandler struct {
	cfg *config.Config
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(cfg *config.Config) *AuthHandler {
	return &AuthHandler{cfg: cfg}
}

// loginRequest defines the request body for admin login.
type loginRequest struct {
	Password string `json:"password"`
}

// Login verifies the admin secret and issues a session cookie.
func (h *AuthHandler) Login(c *gin.Context) {
	var body loginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	if !VerifyAdminSecret(h.cfg, body.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	session, errSign := security.GenerateSessionToken(h.cfg.Admin.JWTSecret, h.cfg.SessionTTL())
	if errSign != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session signing failed"})
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookieName, session, int(h.cfg.SessionTTL().Seconds()), "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
