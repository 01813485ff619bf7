// Package api HTTP 路由装配
package api

import (
	_ "zeno/api/docs"
	"zeno/api/handlers/chat"
	"zeno/api/handlers/upload"
	"zeno/internal/config"
	"zeno/internal/metrics"
	"zeno/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Deps 路由依赖，由 main 组装后注入
type Deps struct {
	Config   *config.Config
	Chat     chat.Answerer
	Ingester upload.Ingester
	Backend  Pinger
	Limiter  *middleware.RateLimiter // 为空时不限流
}

// SetupRouter 设置并返回 Gin 路由
func SetupRouter(deps Deps) *gin.Engine {
	cfg := deps.Config
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Tracing.Enabled {
		router.Use(otelgin.Middleware(cfg.Tracing.ProjectName))
	}
	router.Use(middleware.RequestIDMiddleware())
	router.Use(RequestLogger())
	router.Use(CORS())
	router.Use(metrics.PrometheusMiddleware("/metrics", "/swagger/*any"))

	router.GET("/health", HealthCheck())
	router.GET("/ready", ReadinessCheck(deps.Backend))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	maxBody := cfg.Server.MaxBodyMB << 20
	router.MaxMultipartMemory = 32 << 20

	apiGroup := router.Group("/api")
	if deps.Limiter != nil {
		apiGroup.Use(middleware.RateLimitMiddleware(deps.Limiter))
	}
	apiGroup.Use(BodyLimit(maxBody))
	{
		chatHandler := chat.NewHandler(deps.Chat)
		apiGroup.POST("/chat", chatHandler.Chat)

		uploadHandler := upload.NewHandler(deps.Ingester)
		apiGroup.POST("/upload", uploadHandler.Upload)
		apiGroup.GET("/upload", uploadHandler.Ready)
	}

	return router
}
