package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	perrors "github.com/EthanQC/canvas-collab/pkg/errors"
	"github.com/EthanQC/canvas-collab/pkg/jwt"
	"github.com/EthanQC/canvas-collab/pkg/zlog"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/ports/in"
)

const (
	ctxUserID     = "user_id"
	ctxUserName   = "user_name"
	ctxSessionExp = "session_exp"
)

// Deps 路由依赖
type Deps struct {
	Tokens    in.TokenUseCase
	Sessions  in.SessionUseCase
	WS        http.Handler
	WebSecret string // Web 会话 Bearer 的签名密钥
	Gatherer  prometheus.Gatherer
	Limiter   *RateLimiter
	Now       func() time.Time
}

type handler struct {
	deps Deps
}

// NewRouter 注册所有 HTTP 路由
func NewRouter(deps Deps) *gin.Engine {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	h := &handler{deps: deps}

	r := gin.New()
	r.Use(gin.Recovery(), zlog.GinLogger())

	var limit gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if deps.Limiter != nil {
		limit = deps.Limiter.Middleware()
	}

	// 运维接口
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/stats", h.handleStats)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	r.GET("/log/level", gin.WrapF(zlog.LevelHTTPHandler()))
	r.PUT("/log/level", gin.WrapF(zlog.LevelHTTPHandler()))

	// ws 自带令牌认证
	if deps.WS != nil {
		r.GET("/ws", limit, gin.WrapH(deps.WS))
	}

	api := r.Group("/api/collab")
	api.Use(h.authMiddleware())
	{
		api.POST("/token", limit, h.handleMintToken)
		api.GET("/canvases/:id/presence", h.handlePresence)
		api.GET("/canvases/:id/locks", h.handleLocks)
	}
	return r
}

// authMiddleware 校验 Web 会话 Bearer
func (h *handler) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortRefusal(c, http.StatusUnauthorized, perrors.ReasonAuthFailed, "missing authorization header")
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			abortRefusal(c, http.StatusUnauthorized, perrors.ReasonAuthFailed, "invalid authorization format")
			return
		}

		ws, err := jwt.ParseWebSession(parts[1], []byte(h.deps.WebSecret), h.deps.Now)
		if err != nil {
			zlog.C(c.Request.Context()).Debug("web session rejected", zap.Error(err))
			abortRefusal(c, http.StatusUnauthorized, perrors.ReasonAuthFailed, "invalid token")
			return
		}

		c.Set(ctxUserID, ws.UserID)
		c.Set(ctxUserName, ws.UserName)
		c.Set(ctxSessionExp, ws.ExpiresAt)
		c.Next()
	}
}

func abortRefusal(c *gin.Context, status int, reason, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"reason": reason, "error": msg})
}

// writeError 拒绝类错误带上 reason，便于前端区分刷新凭证和无权限
func writeError(c *gin.Context, err error) {
	switch reason := perrors.RefusalReason(err); reason {
	case perrors.ReasonAuthFailed:
		abortRefusal(c, http.StatusUnauthorized, reason, err.Error())
	case perrors.ReasonPermissionDenied:
		abortRefusal(c, http.StatusForbidden, reason, "permission denied")
	default:
		if errors.Is(err, perrors.ErrCanvasNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "canvas not found"})
			return
		}
		zlog.C(c.Request.Context()).Error("request failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
