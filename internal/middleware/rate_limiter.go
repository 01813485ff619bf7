package middleware

import (
	"net/http"
	"sync"
	"time"

	"zeno/internal/config"

	"github.com/gin-gonic/gin"
)

const (
	defaultCleanupInterval = 5 * time.Minute
	clientIdleTimeout      = 10 * time.Minute
)

// clientState 单个客户端的令牌桶与分钟计数
type clientState struct {
	tokens      float64
	lastUpdate  time.Time
	requests    int64
	minuteStart time.Time
}

// RateLimiter 按客户端 IP 限流：令牌桶控制突发，分钟计数控制总量
type RateLimiter struct {
	cfg     config.RateLimitConfig
	clients map[string]*clientState
	mu      sync.Mutex
	now     func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter 创建限流器并启动过期清理协程，用完需 Stop
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 1
	}
	rl := &RateLimiter{
		cfg:     cfg,
		clients: make(map[string]*clientState),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	go rl.cleanup(defaultCleanupInterval)
	return rl
}

// Allow 检查是否允许请求
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	state, ok := rl.clients[key]
	if !ok {
		rl.clients[key] = &clientState{
			tokens:      float64(rl.cfg.BurstSize - 1),
			lastUpdate:  now,
			requests:    1,
			minuteStart: now,
		}
		return true
	}

	// 补充令牌
	state.tokens += now.Sub(state.lastUpdate).Seconds() * float64(rl.cfg.RequestsPerSecond)
	if state.tokens > float64(rl.cfg.BurstSize) {
		state.tokens = float64(rl.cfg.BurstSize)
	}
	state.lastUpdate = now

	if now.Sub(state.minuteStart) > time.Minute {
		state.requests = 0
		state.minuteStart = now
	}
	if rl.cfg.RequestsPerMinute > 0 && state.requests >= int64(rl.cfg.RequestsPerMinute) {
		return false
	}
	if state.tokens < 1 {
		return false
	}

	state.tokens--
	state.requests++
	return true
}

func (rl *RateLimiter) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for key, state := range rl.clients {
				if now.Sub(state.lastUpdate) > clientIdleTimeout {
					delete(rl.clients, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop 停止清理协程，可重复调用
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// RateLimitMiddleware 限流中间件，超限返回 429
func RateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"message": "Too many requests",
				"error":   "rate_limited",
			})
			return
		}
		c.Next()
	}
}
