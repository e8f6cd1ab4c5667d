package broadcast

import (
	"context"

	"go.uber.org/zap"

	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/arbiter"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/entity"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/vo"
)

// Filter 单个观察者视角下的可见性与锚定，不缓存可见性结论
type Filter struct {
	Policy   Policy
	CanvasID string
	ViewerID string // 观察者 userID
	Tab      string
	Layout   arbiter.Layout
	Viewport *arbiter.Viewport
}

// View ok 为 false 时该事件对观察者完全不可见
func (f *Filter) View(ctx context.Context, c entity.ClientPresence, locks entity.LockMap) (entity.PresenceView, bool) {
	if f.Tab != "" && c.CurrentTab != f.Tab {
		return entity.PresenceView{}, false
	}

	v := entity.SelfView(c)
	if c.ActiveField != "" {
		known, err := f.Policy.KnownField(ctx, f.CanvasID, c.ActiveField)
		if err != nil {
			zap.L().Warn("known field lookup failed", zap.String("canvas_id", f.CanvasID), zap.Error(err))
			return entity.PresenceView{}, false
		}
		if !known {
			// 过期字段不参与锚定，有原始光标就照常显示
			if c.Cursor == nil {
				return entity.PresenceView{}, false
			}
			f.project(&v)
			return v, true
		}

		access, err := f.Policy.FieldVisibility(ctx, f.ViewerID, f.CanvasID, c.ActiveField)
		if err != nil {
			zap.L().Warn("field visibility lookup failed",
				zap.String("canvas_id", f.CanvasID),
				zap.String("viewer_id", f.ViewerID),
				zap.Error(err))
			return entity.PresenceView{}, false
		}
		if access == vo.FieldHidden {
			return entity.PresenceView{}, false
		}

		if arbiter.Holds(locks, c) {
			// 占用者的原始光标对观察者不可见
			v.Locked = true
			v.Cursor = arbiter.CursorAnchorFor(c, locks, f.Layout)
		}
	}
	f.project(&v)
	return v, true
}

func (f *Filter) project(v *entity.PresenceView) {
	v.ViewportCursor = nil
	if f.Viewport != nil && v.Cursor != nil {
		p := arbiter.ToViewport(*v.Cursor, *f.Viewport)
		v.ViewportCursor = &p
	}
}
