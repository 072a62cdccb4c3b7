package router

import (
	"net/http"

	apphttp "orderbot_backend/internal/http"
	"orderbot_backend/internal/http/middleware"
	"orderbot_backend/platform/config"
	"orderbot_backend/platform/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// New builds the Gin engine and mounts every module under /api/v1.
func New(cfg config.HTTPConfig, log *logger.Logger, modules ...apphttp.Module) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestTimer(log))

	corsConfig := cors.DefaultConfig()
	if cfg.GetCORSAllowAll() {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.GetCORSOrigins()
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "X-API-Key")
	engine.Use(cors.New(corsConfig))

	engine.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := engine.Group("/api/v1")
	v1.Use(middleware.APIKeyAuth(cfg.GetAPIKey()))

	ctx := &apphttp.RouterContext{Engine: engine, V1: v1}
	for _, module := range modules {
		module.RegisterRoutes(ctx)
		log.Debug("module routes registered", "module", module.Name())
	}

	return engine
}
