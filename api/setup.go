package api

import (
	"docbrain/internal/config"
	"docbrain/internal/metrics"
	middlewarepkg "docbrain/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter 创建 Gin 路由并注册全部接口
func SetupRouter(cfg *config.Config, container *AppContainer) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		middlewarepkg.RequestIDMiddleware(),
		RequestLogger(),
		CORS(CORSOptionsFromEnv()),
		metrics.PrometheusMiddleware(),
	)

	router.GET("/health", HealthCheck())
	router.GET("/ready", ReadinessCheck(container.DB, container.Redis))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	RegisterRoutes(router, container, NewHandlers(container))
	return router
}
