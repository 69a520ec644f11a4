package handlers

import (
	"net/http"
	"strings"
	"time"

	dbutil "github.com/lootmore/lootmore-server/internal/db"
	"github.com/lootmore/lootmore-server/internal/models"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// LogsHandler handles the admin usage log endpoint.
type LogsHandler struct {
	db *gorm.DB
}

// NewLogsHandler constructs a LogsHandler.
func NewLogsHandler(db *gorm.DB) *LogsHandler {
	return &LogsHandler{db: db}
}

// logsQuery defines filters for the usage log view.
type logsQuery struct {
	Limit  int    `form:"limit,default=100"` // Max rows returned.
	Status string `form:"status"`            // Status filter.
	Game   string `form:"game"`              // Game label substring filter.
}

// logPayload is the JSON view of one usage event.
type logPayload struct {
	ID            uint64    `json:"id"`
	TokenID       *uint64   `json:"token_id"`
	Game          string    `json:"game,omitempty"`
	ClientVersion string    `json:"client_version,omitempty"`
	RequestIP     string    `json:"request_ip,omitempty"`
	RequestedAt   time.Time `json:"requested_at"`
	Status        string    `json:"status"`
	ErrorCode     string    `json:"error_code,omitempty"`
	LatencyMs     *int      `json:"latency_ms,omitempty"`
	TextLength    *int      `json:"text_length,omitempty"`
}

// List returns recent usage events, newest first.
func (h *LogsHandler) List(c *gin.Context) {
	var q logsQuery
	if errBind := c.ShouldBindQuery(&q); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}
	if q.Limit < 1 || q.Limit > 1000 {
		q.Limit = 100
	}

	query := h.db.WithContext(c.Request.Context()).Model(&models.UsageEvent{})
	if status := strings.TrimSpace(q.Status); status != "" {
		query = query.Where("status = ?", status)
	}
	if game := strings.TrimSpace(q.Game); game != "" {
		pattern := dbutil.NormalizeLikePattern(h.db, "%"+game+"%")
		query = query.Where(dbutil.CaseInsensitiveLikeExpr(h.db, "game"), pattern)
	}

	var events []models.UsageEvent
	if errFind := query.Order("requested_at DESC").Limit(q.Limit).Find(&events).Error; errFind != nil {
		log.WithError(errFind).Error("admin: usage log query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "usage log query failed"})
		return
	}

	payloads := make([]logPayload, 0, len(events))
	for _, event := range events {
		payloads = append(payloads, logPayload{
			ID:            event.ID,
			TokenID:       event.TokenID,
			Game:          event.Game,
			ClientVersion: event.ClientVersion,
			RequestIP:     event.RequestIP,
			RequestedAt:   event.RequestedAt,
			Status:        event.Status,
			ErrorCode:     event.ErrorCode,
			LatencyMs:     event.LatencyMs,
			TextLength:    event.TextLength,
		})
	}
	c.JSON(http.StatusOK, gin.H{"logs": payloads})
}
