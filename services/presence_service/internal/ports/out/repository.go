package out

import (
	"context"
	"time"

	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/entity"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/vo"
)

// PermissionRepository 权限系统的只读查询接口，本服务从不写权限数据
type PermissionRepository interface {
	// GetCanvas 画布属主与字段配置，不存在返回 ErrCanvasNotFound
	GetCanvas(ctx context.Context, canvasID string) (*entity.CanvasAccess, error)
	// GetGrant 用户在画布上被授予的角色，没有授权返回 RoleNone
	GetGrant(ctx context.Context, canvasID, userID string) (vo.Role, error)
	// IsAdmin 是否系统管理员
	IsAdmin(ctx context.Context, userID string) (bool, error)
	// GetUserTeams 用户所属团队
	GetUserTeams(ctx context.Context, userID string) ([]string, error)
}

// LockEventPublisher 向内容同步引擎发布软锁变化
type LockEventPublisher interface {
	PublishLockChanges(ctx context.Context, changes []entity.LockChange) error
}

// SessionDirectory 画布会话所在节点的目录，带 TTL
type SessionDirectory interface {
	// Register 登记或续期
	Register(ctx context.Context, canvasID, nodeID string, ttl time.Duration) error
	// Unregister 只删除属于 nodeID 的登记
	Unregister(ctx context.Context, canvasID, nodeID string) error
	// Lookup 没有登记时返回空串
	Lookup(ctx context.Context, canvasID string) (string, error)
}

// NodeRouter 没有活跃会话时按一致性哈希选节点
type NodeRouter interface {
	GetNode(key string) string
}
