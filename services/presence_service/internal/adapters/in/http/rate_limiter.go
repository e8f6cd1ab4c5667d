package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// tokenBucket 令牌桶，令牌按浮点累积，避免高频调用时补充量被截断
type tokenBucket struct {
	capacity   float64
	tokens     float64
	rate       float64 // 每秒补充
	lastRefill time.Time
	mu         sync.Mutex
}

func newTokenBucket(capacity, rate float64, now time.Time) *tokenBucket {
	return &tokenBucket{capacity: capacity, tokens: capacity, rate: rate, lastRefill: now}
}

func (tb *tokenBucket) allow(now time.Time) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if elapsed := now.Sub(tb.lastRefill).Seconds(); elapsed > 0 {
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastRefill = now
	}
	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

func (tb *tokenBucket) idleSince(now time.Time, d time.Duration) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return now.Sub(tb.lastRefill) > d
}

// RateLimiterConfig 令牌签发和 ws 握手的限流参数
type RateLimiterConfig struct {
	GlobalQPS    float64 `mapstructure:"global_qps"`
	IPQPSLimit   float64 `mapstructure:"ip_qps"`
	UserQPSLimit float64 `mapstructure:"user_qps"`
	BurstSize    float64 `mapstructure:"burst"`
}

func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GlobalQPS:    1000,
		IPQPSLimit:   50,
		UserQPSLimit: 20,
		BurstSize:    10,
	}
}

// RateLimiter 全局、IP、用户三级限流
type RateLimiter struct {
	cfg    RateLimiterConfig
	now    func() time.Time
	global *tokenBucket
	ips    sync.Map // ip -> *tokenBucket
	users  sync.Map // userID -> *tokenBucket
}

func NewRateLimiter(cfg RateLimiterConfig, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		cfg:    cfg,
		now:    now,
		global: newTokenBucket(cfg.GlobalQPS+cfg.BurstSize, cfg.GlobalQPS, now()),
	}
}

func (rl *RateLimiter) bucket(m *sync.Map, key string, qps float64) *tokenBucket {
	if b, ok := m.Load(key); ok {
		return b.(*tokenBucket)
	}
	b, _ := m.LoadOrStore(key, newTokenBucket(qps+rl.cfg.BurstSize, qps, rl.now()))
	return b.(*tokenBucket)
}

// Allow userID 为空时只检查全局和 IP
func (rl *RateLimiter) Allow(ip, userID string) bool {
	now := rl.now()
	if !rl.global.allow(now) {
		return false
	}
	if !rl.bucket(&rl.ips, ip, rl.cfg.IPQPSLimit).allow(now) {
		return false
	}
	if userID != "" && !rl.bucket(&rl.users, userID, rl.cfg.UserQPSLimit).allow(now) {
		return false
	}
	return true
}

// Middleware 放在认证之后时会同时按用户限流
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP(), c.GetString(ctxUserID)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// Cleanup 清理闲置超过 idle 的桶
func (rl *RateLimiter) Cleanup(idle time.Duration) {
	now := rl.now()
	for _, m := range []*sync.Map{&rl.ips, &rl.users} {
		m.Range(func(key, value interface{}) bool {
			if value.(*tokenBucket).idleSince(now, idle) {
				m.Delete(key)
			}
			return true
		})
	}
}

// RunCleanup 周期清理，ctx 结束时返回
func (rl *RateLimiter) RunCleanup(ctx context.Context, every, idle time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rl.Cleanup(idle)
		}
	}
}
