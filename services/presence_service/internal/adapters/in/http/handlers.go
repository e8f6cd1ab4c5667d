package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type mintRequest struct {
	CanvasID string `json:"canvas_id" binding:"required"`
}

// handleMintToken 校验入会资格后签发画布会话令牌
func (h *handler) handleMintToken(c *gin.Context) {
	var req mintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	exp, _ := c.Get(ctxSessionExp)
	notAfter, _ := exp.(time.Time)
	grant, err := h.deps.Tokens.Mint(c.Request.Context(), c.GetString(ctxUserID), c.GetString(ctxUserName), req.CanvasID, notAfter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, grant)
}

func (h *handler) handlePresence(c *gin.Context) {
	views, err := h.deps.Sessions.Presence(c.Request.Context(), c.Param("id"), c.GetString(ctxUserID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"canvas_id": c.Param("id"), "clients": views})
}

func (h *handler) handleLocks(c *gin.Context) {
	locks, err := h.deps.Sessions.Locks(c.Request.Context(), c.Param("id"), c.GetString(ctxUserID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"canvas_id": c.Param("id"), "locks": locks})
}

func (h *handler) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Sessions.Stats())
}
