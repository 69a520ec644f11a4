package admin

import (
	"github.com/lootmore/lootmore-server/internal/config"
	"github.com/lootmore/lootmore-server/internal/http/api/admin/handlers"
	"github.com/lootmore/lootmore-server/internal/tokens"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// RegisterAdminRoutes mounts the privileged admin surface under /admin.
func RegisterAdminRoutes(engine *gin.Engine, conn *gorm.DB, cfg *config.Config, svc *tokens.Service) {
	authHandler := handlers.NewAuthHandler(cfg)
	tokenHandler := handlers.NewTokenHandler(svc)
	logsHandler := handlers.NewLogsHandler(conn)
	dashboardHandler := handlers.NewDashboardHandler(conn)

	group := engine.Group("/admin")
	group.POST("/login", authHandler.Login)

	guarded := group.Group("", RequireAdmin(cfg))
	guarded.GET("/dashboard", dashboardHandler.Stats)
	guarded.GET("/logs", logsHandler.List)

	guarded.POST("/tokens", tokenHandler.Create)
	guarded.GET("/tokens", tokenHandler.List)
	guarded.POST("/tokens/revoke", tokenHandler.Revoke)
	guarded.POST("/tokens/rotate", tokenHandler.Rotate)
	guarded.POST("/tokens/update", tokenHandler.UpdateQuota)
	guarded.POST("/tokens/ban", tokenHandler.Ban)
}
