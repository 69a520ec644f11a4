package http

import (
	"net/http"

	"github.com/lootmore/lootmore-server/internal/config"
	"github.com/lootmore/lootmore-server/internal/generator"
	adminapi "github.com/lootmore/lootmore-server/internal/http/api/admin"
	"github.com/lootmore/lootmore-server/internal/quota"
	"github.com/lootmore/lootmore-server/internal/tokens"
	"github.com/lootmore/lootmore-server/internal/usage"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// NewEngine builds the gin engine with the public request path and the admin
// surface mounted.
func NewEngine(
	cfg *config.Config,
	conn *gorm.DB,
	svc *tokens.Service,
	ledger *quota.Ledger,
	gen generator.Generator,
	recorder *usage.Recorder,
) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	calloutHandler := NewCalloutHandler(ledger, gen, recorder)
	engine.POST("/callout", calloutHandler.Callout)

	adminapi.RegisterAdminRoutes(engine, conn, cfg, svc)

	return engine
}
