package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/lootmore/lootmore-server/internal/generator"
	"github.com/lootmore/lootmore-server/internal/models"
	"github.com/lootmore/lootmore-server/internal/quota"
	"github.com/lootmore/lootmore-server/internal/usage"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// CalloutHandler serves the main request path: admit, generate, respond.
type CalloutHandler struct {
	ledger    *quota.Ledger
	generator generator.Generator
	recorder  *usage.Recorder
}

// NewCalloutHandler constructs a CalloutHandler.
func NewCalloutHandler(ledger *quota.Ledger, gen generator.Generator, recorder *usage.Recorder) *CalloutHandler {
	return &CalloutHandler{ledger: ledger, generator: gen, recorder: recorder}
}

// calloutRequest defines the request body for POST /callout.
type calloutRequest struct {
	ImageB64      string `json:"image_b64"`
	Game          string `json:"game"`
	ClientVersion string `json:"client_version"`
	Timestamp     int64  `json:"timestamp"`
}

// calloutResponse defines the response body for POST /callout.
type calloutResponse struct {
	Text     string `json:"text"`
	AudioB64 string `json:"audio_b64,omitempty"`
}

// BearerToken extracts the raw token from an Authorization header. A missing
// or non-Bearer header yields the empty string; no store lookup happens then.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	const scheme = "bearer "
	if len(header) <= len(scheme) || !strings.EqualFold(header[:len(scheme)], scheme) {
		return ""
	}
	return strings.TrimSpace(header[len(scheme):])
}

// Callout handles POST /callout. Exactly one usage event is recorded per
// request, whichever branch decides the outcome.
func (h *CalloutHandler) Callout(c *gin.Context) {
	start := time.Now()

	event := usage.Event{
		RequestedAt: start.UTC(),
		RequestIP:   c.ClientIP(),
		Status:      models.StatusError,
		LatencyMs:   -1,
		TextLength:  -1,
	}
	defer func() {
		event.LatencyMs = int(time.Since(start).Milliseconds())
		h.recorder.Record(c.Request.Context(), event)
	}()

	var body calloutRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		event.ErrorCode = "400"
		event.ErrorMsg = "malformed request body"
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	event.Game = strings.TrimSpace(body.Game)
	event.ClientVersion = strings.TrimSpace(body.ClientVersion)

	raw := BearerToken(c.GetHeader("Authorization"))
	if raw == "" {
		event.Status = models.StatusUnauthorized
		event.ErrorCode = "401"
		event.ErrorMsg = "missing bearer token"
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	token, errAdmit := h.ledger.Admit(c.Request.Context(), raw)
	switch {
	case errAdmit == nil:
	case errors.Is(errAdmit, quota.ErrUnauthorized):
		event.Status = models.StatusUnauthorized
		event.ErrorCode = "401"
		event.ErrorMsg = "invalid or inactive token"
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	case errors.Is(errAdmit, quota.ErrOverQuota):
		if token.ID != 0 {
			tokenID := token.ID
			event.TokenID = &tokenID
		}
		event.Status = models.StatusOverQuota
		event.ErrorCode = "429"
		event.ErrorMsg = "daily quota exceeded"
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "daily quota exceeded"})
		return
	default:
		log.WithError(errAdmit).Error("callout: admit failed")
		event.ErrorCode = "500"
		event.ErrorMsg = "storage failure during admission"
		c.JSON(http.StatusInternalServerError, gin.H{"error": "backend error"})
		return
	}

	tokenID := token.ID
	event.TokenID = &tokenID

	callout, errGen := h.generator.Generate(c.Request.Context(), generator.Request{
		ImageB64: body.ImageB64,
		Game:     body.Game,
	})
	if errGen != nil {
		// Quota stays consumed for admitted-but-failed requests; refunding
		// would invite retry storms.
		log.WithError(errGen).Warn("callout: generator failed")
		event.ErrorCode = "502"
		event.ErrorMsg = errGen.Error()
		c.JSON(http.StatusBadGateway, gin.H{"error": "backend error"})
		return
	}

	event.Status = models.StatusOK
	event.ErrorCode = ""
	event.TextLength = len(callout.Text)
	c.JSON(http.StatusOK, calloutResponse{Text: callout.Text, AudioB64: callout.AudioB64})
}
