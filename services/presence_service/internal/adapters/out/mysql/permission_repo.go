package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	mysqlDriver "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	perrors "github.com/EthanQC/canvas-collab/pkg/errors"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/entity"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/vo"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/ports/out"
)

// Config 权限库连接配置
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"` // 只在开发环境打开
}

// Open 打开 MySQL 连接并设置连接池
func Open(cfg Config) (*gorm.DB, error) {
	db, err := gorm.Open(mysqlDriver.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.AutoMigrate {
		if err := db.AutoMigrate(Models()...); err != nil {
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
	}
	return db, nil
}

// PermissionRepositoryMySQL 权限数据只读查询
type PermissionRepositoryMySQL struct {
	db *gorm.DB
}

func NewPermissionRepositoryMySQL(db *gorm.DB) out.PermissionRepository {
	return &PermissionRepositoryMySQL{db: db}
}

func (r *PermissionRepositoryMySQL) GetCanvas(ctx context.Context, canvasID string) (*entity.CanvasAccess, error) {
	db := r.db.WithContext(ctx)

	var canvas CanvasModel
	if err := db.Where("canvas_id = ?", canvasID).First(&canvas).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", perrors.ErrCanvasNotFound, canvasID)
		}
		return nil, err
	}

	var fields []CanvasFieldModel
	if err := db.Where("canvas_id = ?", canvasID).Order("position ASC, id ASC").Find(&fields).Error; err != nil {
		return nil, err
	}
	var rules []FieldRuleModel
	if err := db.Where("canvas_id = ?", canvasID).Order("id ASC").Find(&rules).Error; err != nil {
		return nil, err
	}

	access := &entity.CanvasAccess{
		CanvasID: canvas.CanvasID,
		OwnerID:  canvas.OwnerID,
		Fields:   make([]string, 0, len(fields)),
		Rules:    make([]entity.FieldRule, 0, len(rules)),
	}
	for _, f := range fields {
		access.Fields = append(access.Fields, f.FieldKey)
	}
	for _, m := range rules {
		rule, ok := m.toEntity()
		if !ok {
			continue
		}
		access.Rules = append(access.Rules, rule)
	}
	return access, nil
}

// toEntity 无法识别的访问级别按 hidden 处理；既没有团队也没有合法角色的规则丢弃
func (m *FieldRuleModel) toEntity() (entity.FieldRule, bool) {
	accessLvl, err := vo.ParseFieldAccess(m.Access)
	if err != nil {
		zap.L().Warn("unknown field access in rule, treating as hidden",
			zap.String("canvas_id", m.CanvasID),
			zap.Uint64("rule_id", m.ID),
			zap.String("access", m.Access))
	}
	rule := entity.FieldRule{FieldKey: m.FieldKey, TeamID: m.TeamID, Access: accessLvl}
	if m.TeamID != "" {
		return rule, true
	}
	role, err := vo.ParseRole(m.Role)
	if err != nil {
		zap.L().Warn("field rule without team or valid role ignored",
			zap.String("canvas_id", m.CanvasID),
			zap.Uint64("rule_id", m.ID))
		return rule, false
	}
	rule.Role = role
	return rule, true
}

func (r *PermissionRepositoryMySQL) GetGrant(ctx context.Context, canvasID, userID string) (vo.Role, error) {
	var grant CanvasGrantModel
	err := r.db.WithContext(ctx).
		Where("canvas_id = ? AND user_id = ?", canvasID, userID).
		First(&grant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return vo.RoleNone, nil
		}
		return vo.RoleNone, err
	}
	role, err := vo.ParseRole(grant.Role)
	if err != nil {
		zap.L().Warn("unknown grant role ignored",
			zap.String("canvas_id", canvasID),
			zap.String("user_id", userID),
			zap.String("role", grant.Role))
		return vo.RoleNone, nil
	}
	return role, nil
}

func (r *PermissionRepositoryMySQL) IsAdmin(ctx context.Context, userID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&UserModel{}).
		Where("user_id = ? AND is_admin = ?", userID, true).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *PermissionRepositoryMySQL) GetUserTeams(ctx context.Context, userID string) ([]string, error) {
	var teams []string
	err := r.db.WithContext(ctx).Model(&TeamMemberModel{}).
		Where("user_id = ?", userID).
		Order("team_id ASC").
		Pluck("team_id", &teams).Error
	if err != nil {
		return nil, err
	}
	return teams, nil
}
