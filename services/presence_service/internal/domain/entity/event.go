package entity

import "time"

// EventType 事件类型
type EventType string

const (
	EventWelcome  EventType = "welcome"
	EventJoin     EventType = "join"
	EventUpdate   EventType = "update"
	EventLeave    EventType = "leave"
	EventSnapshot EventType = "snapshot"
)

// LockMap fieldKey -> 占用该字段的 clientID 集合
type LockMap map[string]map[string]struct{}

// Event 会话内部事件，Seq 在单个会话内单调递增
// 快照事件的 Seq 等于生成快照时的最新序号
type Event struct {
	Type     EventType        `json:"type"`
	CanvasID string           `json:"canvas_id"`
	Seq      uint64           `json:"seq"`
	Client   *ClientPresence  `json:"client,omitempty"`
	Clients  []ClientPresence `json:"clients,omitempty"`
	Locks    LockMap          `json:"-"`
	At       time.Time        `json:"at"`
}

// LockOp 软锁变化类型
type LockOp string

const (
	LockAcquired LockOp = "acquired"
	LockReleased LockOp = "released"
)

// LockChange 推给内容同步引擎的软锁变化
type LockChange struct {
	CanvasID string    `json:"canvas_id"`
	FieldKey string    `json:"field_key"`
	ClientID string    `json:"client_id"`
	UserID   string    `json:"user_id"`
	Op       LockOp    `json:"op"`
	At       time.Time `json:"at"`
}
