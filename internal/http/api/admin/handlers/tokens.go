package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/lootmore/lootmore-server/internal/models"
	"github.com/lootmore/lootmore-server/internal/tokens"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// TokenHandler handles admin token lifecycle endpoints.
type TokenHandler struct {
	svc *tokens.Service
}

// NewTokenHandler constructs a TokenHandler.
func NewTokenHandler(svc *tokens.Service) *TokenHandler {
	return &TokenHandler{svc: svc}
}

// tokenPayload is the JSON view of a token row. The hash never leaves the
// server; quota state is what operators act on.
type tokenPayload struct {
	ID           uint64     `json:"id"`
	Tier         string     `json:"tier"`
	Active       bool       `json:"active"`
	DailyQuota   int        `json:"daily_quota"`
	UsedToday    int        `json:"used_today"`
	QuotaResetAt *time.Time `json:"quota_reset_at,omitempty"`
	LastSeenAt   *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func formatToken(token models.Token) tokenPayload {
	return tokenPayload{
		ID:           token.ID,
		Tier:         string(token.Tier),
		Active:       token.Active,
		DailyQuota:   token.DailyQuota,
		UsedToday:    token.UsedToday,
		QuotaResetAt: token.QuotaResetAt,
		LastSeenAt:   token.LastSeenAt,
		CreatedAt:    token.CreatedAt,
	}
}

// createTokenRequest defines the request body for token creation.
type createTokenRequest struct {
	DailyQuota int    `json:"daily_quota"`
	Tier       string `json:"tier"`
}

// Create issues a new token and returns the raw value exactly once.
func (h *TokenHandler) Create(c *gin.Context) {
	var body createTokenRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	token, raw, errIssue := h.svc.Issue(c.Request.Context(), tokens.IssueOptions{
		DailyQuota: body.DailyQuota,
		Tier:       models.Tier(body.Tier),
	})
	if errIssue != nil {
		log.WithError(errIssue).Error("admin: token issue failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":  raw,
		"record": formatToken(token),
	})
}

// List returns all tokens with their quota state.
func (h *TokenHandler) List(c *gin.Context) {
	all, errList := h.svc.List(c.Request.Context())
	if errList != nil {
		log.WithError(errList).Error("admin: token list failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token list failed"})
		return
	}
	payloads := make([]tokenPayload, 0, len(all))
	for _, token := range all {
		payloads = append(payloads, formatToken(token))
	}
	c.JSON(http.StatusOK, gin.H{"tokens": payloads})
}

// tokenIDRequest defines a request body addressing one token by id.
type tokenIDRequest struct {
	ID uint64 `json:"id"`
}

// Revoke hard-deletes a token.
func (h *TokenHandler) Revoke(c *gin.Context) {
	var body tokenIDRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil || body.ID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	errRevoke := h.svc.Revoke(c.Request.Context(), body.ID)
	switch {
	case errRevoke == nil:
		c.JSON(http.StatusOK, gin.H{"status": "revoked"})
	case errors.Is(errRevoke, tokens.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "token not found"})
	default:
		log.WithError(errRevoke).Error("admin: token revoke failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token revoke failed"})
	}
}

// Rotate swaps the token hash and returns the new raw token.
func (h *TokenHandler) Rotate(c *gin.Context) {
	var body tokenIDRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil || body.ID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	raw, errRotate := h.svc.Rotate(c.Request.Context(), body.ID)
	switch {
	case errRotate == nil:
		c.JSON(http.StatusOK, gin.H{"status": "rotated", "token": raw})
	case errors.Is(errRotate, tokens.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "token not found"})
	default:
		log.WithError(errRotate).Error("admin: token rotate failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token rotate failed"})
	}
}

// updateQuotaRequest defines the request body for quota updates.
type updateQuotaRequest struct {
	ID         uint64 `json:"id"`
	DailyQuota *int   `json:"daily_quota"`
}

// UpdateQuota sets a token's daily quota without touching used_today.
func (h *TokenHandler) UpdateQuota(c *gin.Context) {
	var body updateQuotaRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil || body.ID == 0 || body.DailyQuota == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	errUpdate := h.svc.UpdateQuota(c.Request.Context(), body.ID, *body.DailyQuota)
	switch {
	case errUpdate == nil:
		c.JSON(http.StatusOK, gin.H{"status": "updated"})
	case errors.Is(errUpdate, tokens.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "token not found"})
	default:
		log.WithError(errUpdate).Error("admin: token quota update failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token update failed"})
	}
}

// Ban disables a token while keeping its history.
func (h *TokenHandler) Ban(c *gin.Context) {
	var body tokenIDRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil || body.ID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	errBan := h.svc.Ban(c.Request.Context(), body.ID)
	switch {
	case errBan == nil:
		c.JSON(http.StatusOK, gin.H{"status": "banned"})
	case errors.Is(errBan, tokens.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "token not found"})
	default:
		log.WithError(errBan).Error("admin: token ban failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token ban failed"})
	}
}
