package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// PrometheusMiddleware 记录请求数、耗时和请求体大小
// 标签使用路由模板，未匹配的路由归为 unmatched；skip 中的路由模板不记录
func PrometheusMiddleware(skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, route := range skip {
		skipped[route] = struct{}{}
	}

	return func(c *gin.Context) {
		route := c.FullPath()
		if _, ok := skipped[route]; ok && route != "" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		// 流式回答的耗时包含整个生成过程
		APIRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		if size := c.Request.ContentLength; size > 0 {
			APIRequestSize.WithLabelValues(method, route).Observe(float64(size))
		}
	}
}
