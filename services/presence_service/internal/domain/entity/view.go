package entity

import "github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/vo"

// PresenceView 某个观察者看到的协作者状态
// 占用字段时 Cursor 是观察者自己布局里的锚点，Locked 为 true
type PresenceView struct {
	ClientID       string    `json:"client_id"`
	UserID         string    `json:"user_id"`
	DisplayName    string    `json:"display_name"`
	Color          string    `json:"color"`
	Cursor         *Point    `json:"cursor"`
	ViewportCursor *Point    `json:"viewport_cursor,omitempty"`
	Locked         bool      `json:"locked"`
	ActiveField    string    `json:"active_field,omitempty"`
	Action         vo.Action `json:"action"`
	CurrentTab     string    `json:"current_tab,omitempty"`
}

// Outbound 发给客户端的消息体
type Outbound struct {
	Type    EventType      `json:"type"`
	Seq     uint64         `json:"seq"`
	Client  *PresenceView  `json:"client,omitempty"`
	Clients []PresenceView `json:"clients,omitempty"`
}

// SelfView 自己的状态不做锚定
func SelfView(p ClientPresence) PresenceView {
	v := PresenceView{
		ClientID:    p.ClientID,
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		Color:       p.Color,
		ActiveField: p.ActiveField,
		Action:      p.Action,
		CurrentTab:  p.CurrentTab,
	}
	if p.Cursor != nil {
		c := *p.Cursor
		v.Cursor = &c
	}
	return v
}
