package ws

import (
	"encoding/json"

	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/arbiter"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/entity"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/vo"
)

// WSMessageType WebSocket消息类型
type WSMessageType string

const (
	// 客户端消息类型
	MsgTypeAuth      WSMessageType = "auth"
	MsgTypePing      WSMessageType = "ping"
	MsgTypeHeartbeat WSMessageType = "heartbeat"
	MsgTypeUpdate    WSMessageType = "update"
	MsgTypeLayout    WSMessageType = "layout"
	MsgTypeTabFilter WSMessageType = "tab_filter"
	MsgTypeLeave     WSMessageType = "leave"

	// 服务端消息类型
	MsgTypeWelcome       WSMessageType = "welcome"
	MsgTypePong          WSMessageType = "pong"
	MsgTypeLayoutRequest WSMessageType = "layout_request"
	MsgTypeError         WSMessageType = "error"
)

// 关闭码，4xxx 留给应用自定义
const (
	CloseAuthFailed       = 4001
	ClosePermissionDenied = 4003
	CloseUnknownClient    = 4004
)

// WSMessage WebSocket消息
type WSMessage struct {
	Type WSMessageType   `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
	Ts   int64           `json:"ts,omitempty"` // 毫秒时间戳
}

// AuthData 连接后的第一条消息
type AuthData struct {
	Token    string `json:"token"`
	CanvasID string `json:"canvas_id,omitempty"` // 为空时使用令牌里的画布
	Tab      string `json:"tab,omitempty"`
}

// WelcomeData 入会成功后返回自己的状态
type WelcomeData struct {
	CanvasID   string              `json:"canvas_id"`
	Client     entity.PresenceView `json:"client"`
	ServerTime int64               `json:"server_time"`
}

// UpdateData 缺省字段不修改；cursor 显式传 null 表示清除
type UpdateData struct {
	Cursor      json.RawMessage `json:"cursor,omitempty"`
	ActiveField *string         `json:"active_field,omitempty"`
	Action      *string         `json:"action,omitempty"`
	CurrentTab  *string         `json:"current_tab,omitempty"`
}

// Patch 转成领域层的增量
func (d UpdateData) Patch() (entity.Patch, error) {
	var p entity.Patch
	if len(d.Cursor) > 0 {
		if string(d.Cursor) == "null" {
			p.ClearCursor = true
		} else {
			var pt entity.Point
			if err := json.Unmarshal(d.Cursor, &pt); err != nil {
				return p, err
			}
			p.Cursor = &pt
		}
	}
	if d.Action != nil {
		a, err := vo.ParseAction(*d.Action)
		if err != nil {
			return p, err
		}
		p.Action = &a
	}
	p.ActiveField = d.ActiveField
	p.CurrentTab = d.CurrentTab
	return p, nil
}

// LayoutData 客户端自己页面里的字段锚点
type LayoutData struct {
	Fields   map[string]entity.Point `json:"fields"`
	Viewport *arbiter.Viewport       `json:"viewport,omitempty"`
}

type TabFilterData struct {
	Tab string `json:"tab"`
}

type ErrorData struct {
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}
