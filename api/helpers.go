package api

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	response "zeno/api/handlers/common"

	"github.com/gin-gonic/gin"
)

const serviceName = "zeno"

// Pinger 可探活的后端
type Pinger interface {
	Ping(ctx context.Context) error
	Backend() string
}

// HealthCheck 健康检查
// @Summary 服务健康检查
// @Description 返回基础健康状态，可供监控探针使用
// @Tags System
// @Produce json
// @Success 200 {object} response.HealthResponse
// @Router /health [get]
func HealthCheck() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, response.HealthResponse{Status: "healthy", Service: serviceName})
	}
}

// ReadinessCheck 就绪检查
// @Summary 服务就绪检查
// @Description 探测当前向量库后端，用于判断可接收请求
// @Tags System
// @Produce json
// @Success 200 {object} response.ReadinessResponse
// @Failure 503 {object} response.ReadinessResponse
// @Router /ready [get]
func ReadinessCheck(backend Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		if err := backend.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, response.ReadinessResponse{
				Status:  "not_ready",
				Backend: backend.Backend(),
				Reason:  "vector store ping failed",
			})
			return
		}
		c.JSON(http.StatusOK, response.ReadinessResponse{Status: "ready", Backend: backend.Backend()})
	}
}

// getEnvList 读取逗号分隔的环境变量列表
func getEnvList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	var res []string
	for _, p := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(p); v != "" {
			res = append(res, v)
		}
	}
	return res
}

// defaultIfEmpty 返回非空列表或默认值
func defaultIfEmpty(list []string, def []string) []string {
	if len(list) == 0 {
		return def
	}
	return list
}
