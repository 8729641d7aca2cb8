package api

import (
	"logwatch/internal/metrics"
	"logwatch/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SetupRouter 创建 Gin 引擎并注册全部路由
func SetupRouter(c *Components, log *zap.Logger) *gin.Engine {
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(RequestLogger(log))
	r.Use(CORS())
	r.Use(metrics.PrometheusMiddleware())

	r.GET("/health", HealthCheck())
	r.GET("/ready", ReadinessCheck(c.Store))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	registerRoutes(r.Group("/api"), c, log)
	return r
}
