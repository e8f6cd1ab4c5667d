package entity

import (
	"time"

	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/vo"
)

// Point 页面坐标，不随滚动变化
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ClientPresence 单个连接在画布会话里的临时状态
type ClientPresence struct {
	ClientID    string    `json:"client_id"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Color       string    `json:"color"`
	Cursor      *Point    `json:"cursor,omitempty"`
	ActiveField string    `json:"active_field,omitempty"`
	Action      vo.Action `json:"action"`
	CurrentTab  string    `json:"current_tab,omitempty"`
	JoinedAt    time.Time `json:"joined_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// Clone 深拷贝，快照和事件里只放副本
func (p ClientPresence) Clone() ClientPresence {
	if p.Cursor != nil {
		c := *p.Cursor
		p.Cursor = &c
	}
	return p
}

// Holding 当前是否占用 ActiveField
func (p ClientPresence) Holding() bool {
	return p.Action.Holding() && p.ActiveField != ""
}

// SameState 比较可见状态，忽略 LastSeenAt
func (p ClientPresence) SameState(o ClientPresence) bool {
	if p.ActiveField != o.ActiveField || p.Action != o.Action || p.CurrentTab != o.CurrentTab {
		return false
	}
	switch {
	case p.Cursor == nil && o.Cursor == nil:
		return true
	case p.Cursor == nil || o.Cursor == nil:
		return false
	default:
		return *p.Cursor == *o.Cursor
	}
}

// Patch 客户端增量更新，nil 表示不修改
type Patch struct {
	Cursor      *Point
	ClearCursor bool
	ActiveField *string // 空串表示清空
	Action      *vo.Action
	CurrentTab  *string
}

// Empty 不含任何字段，只刷新存活
func (p Patch) Empty() bool {
	return p.Cursor == nil && !p.ClearCursor && p.ActiveField == nil && p.Action == nil && p.CurrentTab == nil
}
