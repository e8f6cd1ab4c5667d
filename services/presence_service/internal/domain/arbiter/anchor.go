package arbiter

import "github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/entity"

// Layout 观察者自己页面里各字段的锚点位置（页面坐标）
type Layout map[string]entity.Point

// Viewport 观察者当前滚动偏移
type Viewport struct {
	ScrollX float64 `json:"scroll_x"`
	ScrollY float64 `json:"scroll_y"`
}

// CursorAnchorFor 占用者在观察者布局里的锚点
// 不是占用者，或观察者布局里没有这个字段时返回 nil
func CursorAnchorFor(c entity.ClientPresence, locks entity.LockMap, layout Layout) *entity.Point {
	if !Holds(locks, c) {
		return nil
	}
	p, ok := layout[c.ActiveField]
	if !ok {
		return nil
	}
	return &p
}

// ToViewport 页面坐标转视口坐标，唯一的换算入口
func ToViewport(p entity.Point, vp Viewport) entity.Point {
	return entity.Point{X: p.X - vp.ScrollX, Y: p.Y - vp.ScrollY}
}
