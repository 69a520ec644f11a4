package handlers

import (
	"math"
	"net/http"

	"github.com/lootmore/lootmore-server/internal/models"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DashboardHandler handles the admin stats endpoint.
type DashboardHandler struct {
	db *gorm.DB
}

// NewDashboardHandler constructs a DashboardHandler.
func NewDashboardHandler(db *gorm.DB) *DashboardHandler {
	return &DashboardHandler{db: db}
}

// Stats returns aggregate counters for the admin dashboard.
func (h *DashboardHandler) Stats(c *gin.Context) {
	ctx := c.Request.Context()

	var totalTokens int64
	if errCount := h.db.WithContext(ctx).Model(&models.Token{}).Count(&totalTokens).Error; errCount != nil {
		log.WithError(errCount).Error("admin: token count failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats query failed"})
		return
	}

	var totalRequests int64
	if errCount := h.db.WithContext(ctx).Model(&models.UsageEvent{}).Count(&totalRequests).Error; errCount != nil {
		log.WithError(errCount).Error("admin: usage count failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats query failed"})
		return
	}

	var okRequests int64
	if errCount := h.db.WithContext(ctx).Model(&models.UsageEvent{}).
		Where("status = ?", models.StatusOK).
		Count(&okRequests).Error; errCount != nil {
		log.WithError(errCount).Error("admin: usage ok count failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats query failed"})
		return
	}

	var successRate *float64
	if totalRequests > 0 {
		rate := math.Round(float64(okRequests)/float64(totalRequests)*10000) / 100
		successRate = &rate
	}

	c.JSON(http.StatusOK, gin.H{
		"total_tokens":   totalTokens,
		"total_requests": totalRequests,
		"success_rate":   successRate,
	})
}
