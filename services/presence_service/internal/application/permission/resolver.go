// Package permission 画布角色与字段可见性解析，结果按画布/用户缓存
package permission

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	perrors "github.com/EthanQC/canvas-collab/pkg/errors"
	"github.com/EthanQC/canvas-collab/pkg/metrics"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/entity"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/vo"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/ports/out"
)

type userAccess struct {
	role  vo.Role
	teams map[string]struct{}
}

type canvasCache struct {
	access *entity.CanvasAccess
	users  map[string]*userAccess
}

// Resolver 只读无副作用，缓存的是配置，不缓存可见性结论
type Resolver struct {
	repo  out.PermissionRepository
	group singleflight.Group

	mu       sync.Mutex
	canvases map[string]*canvasCache
	gen      uint64 // 每次失效递增，回源期间发生过失效的结果不写回
}

func NewResolver(repo out.PermissionRepository) *Resolver {
	return &Resolver{
		repo:     repo,
		canvases: make(map[string]*canvasCache),
	}
}

// CanAccess min 为空时按 viewer 处理；画布不存在视为无权限
func (r *Resolver) CanAccess(ctx context.Context, userID, canvasID string, min vo.Role) (bool, error) {
	if min == vo.RoleNone {
		min = vo.RoleViewer
	}
	role, err := r.EffectiveRole(ctx, userID, canvasID)
	if err != nil {
		if errors.Is(err, perrors.ErrCanvasNotFound) {
			return false, nil
		}
		return false, err
	}
	return role.AtLeast(min), nil
}

// EffectiveRole 属主 > 授权角色 > 管理员视为属主 > 无权限
func (r *Resolver) EffectiveRole(ctx context.Context, userID, canvasID string) (vo.Role, error) {
	ua, err := r.user(ctx, canvasID, userID)
	if err != nil {
		return vo.RoleNone, err
	}
	return ua.role, nil
}

// FieldVisibility 团队覆盖 > 角色覆盖 > 默认 edit，viewer 最多 read，无权限为 hidden
func (r *Resolver) FieldVisibility(ctx context.Context, userID, canvasID, fieldKey string) (vo.FieldAccess, error) {
	access, err := r.canvas(ctx, canvasID)
	if err != nil {
		if errors.Is(err, perrors.ErrCanvasNotFound) {
			return vo.FieldHidden, nil
		}
		return vo.FieldHidden, err
	}
	ua, err := r.user(ctx, canvasID, userID)
	if err != nil {
		return vo.FieldHidden, err
	}
	return decide(access, ua, fieldKey), nil
}

func decide(access *entity.CanvasAccess, ua *userAccess, fieldKey string) vo.FieldAccess {
	switch ua.role {
	case vo.RoleNone:
		return vo.FieldHidden
	case vo.RoleOwner:
		return vo.FieldEdit
	}

	var (
		teamAccess vo.FieldAccess
		teamHit    bool
		roleAccess vo.FieldAccess
		roleHit    bool
	)
	for _, rule := range access.Rules {
		if rule.FieldKey != fieldKey {
			continue
		}
		if rule.TeamID != "" {
			if _, ok := ua.teams[rule.TeamID]; !ok {
				continue
			}
			// 多个团队覆盖取最宽松的
			if !teamHit {
				teamAccess, teamHit = rule.Access, true
			} else {
				teamAccess = vo.MorePermissive(teamAccess, rule.Access)
			}
			continue
		}
		if rule.Role == ua.role {
			roleAccess, roleHit = rule.Access, true
		}
	}

	result := vo.FieldEdit
	switch {
	case teamHit:
		result = teamAccess
	case roleHit:
		result = roleAccess
	}
	if ua.role == vo.RoleViewer {
		result = vo.CapAt(result, vo.FieldRead)
	}
	return result
}

// KnownField 字段是否在画布配置里，未配置时按默认字段判断
func (r *Resolver) KnownField(ctx context.Context, canvasID, fieldKey string) (bool, error) {
	access, err := r.canvas(ctx, canvasID)
	if err != nil {
		return false, err
	}
	return access.HasField(fieldKey), nil
}

// Invalidate userID 为空时清掉整个画布
func (r *Resolver) Invalidate(canvasID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	cc, ok := r.canvases[canvasID]
	if !ok {
		return
	}
	if userID == "" {
		delete(r.canvases, canvasID)
		return
	}
	delete(cc.users, userID)
}

func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	r.canvases = make(map[string]*canvasCache)
}

func (r *Resolver) canvas(ctx context.Context, canvasID string) (*entity.CanvasAccess, error) {
	r.mu.Lock()
	if cc, ok := r.canvases[canvasID]; ok && cc.access != nil {
		r.mu.Unlock()
		metrics.PermissionLookups.WithLabelValues("hit").Inc()
		return cc.access, nil
	}
	gen := r.gen
	r.mu.Unlock()
	metrics.PermissionLookups.WithLabelValues("miss").Inc()

	v, err, _ := r.group.Do("canvas:"+canvasID, func() (interface{}, error) {
		return r.repo.GetCanvas(ctx, canvasID)
	})
	if err != nil {
		return nil, fmt.Errorf("load canvas %s: %w", canvasID, err)
	}
	access := v.(*entity.CanvasAccess)

	r.mu.Lock()
	if r.gen == gen {
		r.entry(canvasID).access = access
	}
	r.mu.Unlock()
	return access, nil
}

func (r *Resolver) user(ctx context.Context, canvasID, userID string) (*userAccess, error) {
	r.mu.Lock()
	if cc, ok := r.canvases[canvasID]; ok {
		if ua, ok := cc.users[userID]; ok {
			r.mu.Unlock()
			metrics.PermissionLookups.WithLabelValues("hit").Inc()
			return ua, nil
		}
	}
	gen := r.gen
	r.mu.Unlock()

	access, err := r.canvas(ctx, canvasID)
	if err != nil {
		return nil, err
	}
	metrics.PermissionLookups.WithLabelValues("miss").Inc()

	v, err, _ := r.group.Do("user:"+canvasID+"\x00"+userID, func() (interface{}, error) {
		return r.loadUser(ctx, access, userID)
	})
	if err != nil {
		return nil, err
	}
	ua := v.(*userAccess)

	r.mu.Lock()
	if r.gen == gen {
		r.entry(canvasID).users[userID] = ua
	}
	r.mu.Unlock()
	return ua, nil
}

func (r *Resolver) loadUser(ctx context.Context, access *entity.CanvasAccess, userID string) (*userAccess, error) {
	ua := &userAccess{teams: make(map[string]struct{})}

	switch {
	case access.OwnerID == userID:
		ua.role = vo.RoleOwner
	default:
		role, err := r.repo.GetGrant(ctx, access.CanvasID, userID)
		if err != nil {
			return nil, fmt.Errorf("load grant %s/%s: %w", access.CanvasID, userID, err)
		}
		ua.role = role
		if role == vo.RoleNone {
			admin, err := r.repo.IsAdmin(ctx, userID)
			if err != nil {
				return nil, fmt.Errorf("load admin flag %s: %w", userID, err)
			}
			if admin {
				ua.role = vo.RoleOwner
			}
		}
	}

	if ua.role != vo.RoleNone && ua.role != vo.RoleOwner {
		teams, err := r.repo.GetUserTeams(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("load teams %s: %w", userID, err)
		}
		for _, t := range teams {
			ua.teams[t] = struct{}{}
		}
	}

	zap.L().Debug("permission loaded",
		zap.String("canvas_id", access.CanvasID),
		zap.String("user_id", userID),
		zap.String("role", ua.role.String()))
	return ua, nil
}

// entry 调用方持有 r.mu
func (r *Resolver) entry(canvasID string) *canvasCache {
	cc, ok := r.canvases[canvasID]
	if !ok {
		cc = &canvasCache{users: make(map[string]*userAccess)}
		r.canvases[canvasID] = cc
	}
	return cc
}
