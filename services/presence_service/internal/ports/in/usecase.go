package in

import (
	"context"
	"time"

	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/arbiter"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/entity"
)

// JoinRequest 已验证令牌的连接请求
type JoinRequest struct {
	CanvasID      string // 要加入的画布
	TokenCanvasID string // 令牌里绑定的画布，必须和 CanvasID 一致
	ClientID      string
	UserID        string
	UserName      string
	Tab           string // 非空时只看该 tab 上的协作者
}

// JoinResult Self 用于 welcome 消息
type JoinResult struct {
	Self         entity.ClientPresence
	Subscription Subscription
}

// Subscription 单个订阅者的过滤后事件流
type Subscription interface {
	Events() <-chan entity.Outbound
	// SetLayout 布局变化后立即重新锚定占用者
	SetLayout(layout arbiter.Layout, vp *arbiter.Viewport)
	SetTabFilter(tab string)
	// Err 事件流关闭的原因，正常关闭为 nil
	Err() error
	Close()
}

// SessionUseCase 画布在线会话用例
type SessionUseCase interface {
	Join(ctx context.Context, req JoinRequest) (*JoinResult, error)
	Update(ctx context.Context, canvasID, clientID string, patch entity.Patch) error
	Touch(ctx context.Context, canvasID, clientID string) error
	Leave(ctx context.Context, canvasID, clientID string) error
	// Presence 按 viewer 的权限过滤后的在线列表
	Presence(ctx context.Context, canvasID, viewerUserID string) ([]entity.PresenceView, error)
	// Locks 按 viewer 的权限过滤后的字段占用
	Locks(ctx context.Context, canvasID, viewerUserID string) (map[string][]string, error)
	Stats() Stats
}

type Stats struct {
	Sessions int `json:"sessions"`
	Clients  int `json:"clients"`
}

// PermissionChangeHandler 权限变更通知，userID 为空表示整个画布
type PermissionChangeHandler interface {
	OnPermissionChanged(ctx context.Context, canvasID, userID string)
}

// TokenGrant 签发结果
type TokenGrant struct {
	Token     string    `json:"token"`
	CanvasID  string    `json:"canvas_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Node      string    `json:"node"`
}

// TokenUseCase 给已登录的 Web 会话签发画布会话令牌
type TokenUseCase interface {
	Mint(ctx context.Context, userID, userName, canvasID string, notAfter time.Time) (*TokenGrant, error)
}
