// Package registry 单个画布会话的在线表，只由会话 actor 访问，不加锁
package registry

import (
	"fmt"
	"time"

	perrors "github.com/EthanQC/canvas-collab/pkg/errors"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/entity"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/vo"
)

type Registry struct {
	canvasID string
	order    []string // 加入顺序
	clients  map[string]*entity.ClientPresence
}

func New(canvasID string) *Registry {
	return &Registry{
		canvasID: canvasID,
		clients:  make(map[string]*entity.ClientPresence),
	}
}

func (r *Registry) CanvasID() string { return r.canvasID }

func (r *Registry) Len() int { return len(r.order) }

// Join 新连接入表，clientID 重复直接拒绝
func (r *Registry) Join(clientID, userID, userName string, now time.Time) (entity.ClientPresence, error) {
	if clientID == "" || userID == "" {
		return entity.ClientPresence{}, fmt.Errorf("client id and user id are required")
	}
	if _, ok := r.clients[clientID]; ok {
		return entity.ClientPresence{}, fmt.Errorf("%w: %s", perrors.ErrDuplicateClient, clientID)
	}
	p := &entity.ClientPresence{
		ClientID:    clientID,
		UserID:      userID,
		DisplayName: userName,
		Color:       vo.ColorFor(userID),
		Action:      vo.ActionViewing,
		JoinedAt:    now,
		LastSeenAt:  now,
	}
	r.clients[clientID] = p
	r.order = append(r.order, clientID)
	return p.Clone(), nil
}

// Update 合并增量并刷新存活时间，changed 为 false 时不需要广播
func (r *Registry) Update(clientID string, patch entity.Patch, now time.Time) (entity.ClientPresence, bool, error) {
	p, ok := r.clients[clientID]
	if !ok {
		return entity.ClientPresence{}, false, perrors.ErrUnknownClient
	}
	if patch.Action != nil && !patch.Action.Valid() {
		return p.Clone(), false, perrors.ErrInvalidAction
	}

	before := p.Clone()
	applyPatch(p, patch)
	p.LastSeenAt = now
	return p.Clone(), !before.SameState(*p), nil
}

// applyPatch 先合并字段，再按迁移规则决定 action
func applyPatch(p *entity.ClientPresence, patch entity.Patch) {
	if patch.ClearCursor {
		p.Cursor = nil
	}
	if patch.Cursor != nil {
		c := *patch.Cursor
		p.Cursor = &c
	}
	if patch.CurrentTab != nil {
		p.CurrentTab = *patch.CurrentTab
	}

	prevField, prevAction := p.ActiveField, p.Action
	fieldSet := patch.ActiveField != nil
	if fieldSet {
		p.ActiveField = *patch.ActiveField
	}

	next := prevAction
	if patch.Action != nil {
		want := *patch.Action
		switch {
		case want == prevAction:
		case !vo.CanTransition(prevAction, want):
			// editing <-> refining 直接切换忽略
		case want.Holding():
			// 进入占用必须在同一次更新里带上 activeField
			if fieldSet && p.ActiveField != "" {
				next = want
			}
		default:
			next = want
		}
	}

	// 占用中清空或切换字段，释放占用
	if prevAction.Holding() && next.Holding() && fieldSet && p.ActiveField != prevField {
		next = vo.ActionViewing
	}
	if p.ActiveField == "" {
		next = vo.ActionViewing
	}
	p.Action = next
}

// Touch 心跳
func (r *Registry) Touch(clientID string, now time.Time) error {
	p, ok := r.clients[clientID]
	if !ok {
		return perrors.ErrUnknownClient
	}
	p.LastSeenAt = now
	return nil
}

func (r *Registry) Leave(clientID string) (entity.ClientPresence, error) {
	p, ok := r.clients[clientID]
	if !ok {
		return entity.ClientPresence{}, perrors.ErrUnknownClient
	}
	delete(r.clients, clientID)
	for i, id := range r.order {
		if id == clientID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return p.Clone(), nil
}

func (r *Registry) Get(clientID string) (entity.ClientPresence, bool) {
	p, ok := r.clients[clientID]
	if !ok {
		return entity.ClientPresence{}, false
	}
	return p.Clone(), true
}

// Snapshot 按加入顺序返回副本
func (r *Registry) Snapshot() []entity.ClientPresence {
	out := make([]entity.ClientPresence, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.clients[id].Clone())
	}
	return out
}

// SweepStale 驱逐超过 timeout 没有心跳的连接，返回被驱逐的条目
func (r *Registry) SweepStale(now time.Time, timeout time.Duration) []entity.ClientPresence {
	var evicted []entity.ClientPresence
	for _, id := range append([]string(nil), r.order...) {
		p := r.clients[id]
		if now.Sub(p.LastSeenAt) > timeout {
			gone, _ := r.Leave(id)
			evicted = append(evicted, gone)
		}
	}
	return evicted
}
