package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	perrors "github.com/EthanQC/canvas-collab/pkg/errors"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/entity"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/vo"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/ports/out"
)

// SeedRule 配置文件里的字段覆盖
type SeedRule struct {
	Field  string `mapstructure:"field"`
	Role   string `mapstructure:"role"`
	Team   string `mapstructure:"team"`
	Access string `mapstructure:"access"`
}

// SeedGrant 用列表而不是 map，viper 会把 map 的 key 转成小写
type SeedGrant struct {
	User string `mapstructure:"user"`
	Role string `mapstructure:"role"`
}

type SeedCanvas struct {
	ID     string      `mapstructure:"id"`
	Owner  string      `mapstructure:"owner"`
	Fields []string    `mapstructure:"fields"`
	Grants []SeedGrant `mapstructure:"grants"`
	Rules  []SeedRule  `mapstructure:"rules"`
}

type SeedTeam struct {
	ID      string   `mapstructure:"id"`
	Members []string `mapstructure:"members"`
}

// Seed 开发环境的权限数据，来自 storage.seed 配置段
type Seed struct {
	Canvases []SeedCanvas `mapstructure:"canvases"`
	Admins   []string     `mapstructure:"admins"`
	Teams    []SeedTeam   `mapstructure:"teams"`
}

// PermissionRepository 内存实现，开发和测试用
type PermissionRepository struct {
	mu       sync.RWMutex
	canvases map[string]*entity.CanvasAccess
	grants   map[string]map[string]vo.Role // canvasID -> userID -> role
	admins   map[string]bool
	teams    map[string]map[string]bool // userID -> teamIDs
}

var _ out.PermissionRepository = (*PermissionRepository)(nil)

func NewPermissionRepository() *PermissionRepository {
	return &PermissionRepository{
		canvases: make(map[string]*entity.CanvasAccess),
		grants:   make(map[string]map[string]vo.Role),
		admins:   make(map[string]bool),
		teams:    make(map[string]map[string]bool),
	}
}

// FromSeed 校验失败时返回错误，不会留下半份数据
func FromSeed(seed Seed) (*PermissionRepository, error) {
	r := NewPermissionRepository()
	for _, c := range seed.Canvases {
		if c.ID == "" || c.Owner == "" {
			return nil, fmt.Errorf("seed canvas needs id and owner: %+v", c)
		}
		access := &entity.CanvasAccess{CanvasID: c.ID, OwnerID: c.Owner, Fields: c.Fields}
		for _, sr := range c.Rules {
			rule, err := sr.toEntity()
			if err != nil {
				return nil, fmt.Errorf("canvas %s: %w", c.ID, err)
			}
			access.Rules = append(access.Rules, rule)
		}
		r.PutCanvas(access)
		for _, g := range c.Grants {
			role, err := vo.ParseRole(g.Role)
			if err != nil {
				return nil, fmt.Errorf("canvas %s grant %s: %w", c.ID, g.User, err)
			}
			r.Grant(c.ID, g.User, role)
		}
	}
	for _, a := range seed.Admins {
		r.SetAdmin(a, true)
	}
	for _, t := range seed.Teams {
		for _, u := range t.Members {
			r.AddTeamMember(t.ID, u)
		}
	}
	return r, nil
}

func (sr SeedRule) toEntity() (entity.FieldRule, error) {
	access, err := vo.ParseFieldAccess(sr.Access)
	if err != nil {
		return entity.FieldRule{}, err
	}
	rule := entity.FieldRule{FieldKey: sr.Field, TeamID: sr.Team, Access: access}
	if sr.Team == "" {
		if rule.Role, err = vo.ParseRole(sr.Role); err != nil {
			return entity.FieldRule{}, err
		}
	}
	return rule, nil
}

func (r *PermissionRepository) PutCanvas(c *entity.CanvasAccess) {
	cp := *c
	cp.Fields = append([]string(nil), c.Fields...)
	cp.Rules = append([]entity.FieldRule(nil), c.Rules...)
	r.mu.Lock()
	r.canvases[c.CanvasID] = &cp
	r.mu.Unlock()
}

// Grant role 为 RoleNone 时撤销授权
func (r *PermissionRepository) Grant(canvasID, userID string, role vo.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if role == vo.RoleNone {
		delete(r.grants[canvasID], userID)
		return
	}
	if r.grants[canvasID] == nil {
		r.grants[canvasID] = make(map[string]vo.Role)
	}
	r.grants[canvasID][userID] = role
}

func (r *PermissionRepository) SetAdmin(userID string, admin bool) {
	r.mu.Lock()
	r.admins[userID] = admin
	r.mu.Unlock()
}

func (r *PermissionRepository) AddTeamMember(teamID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.teams[userID] == nil {
		r.teams[userID] = make(map[string]bool)
	}
	r.teams[userID][teamID] = true
}

func (r *PermissionRepository) GetCanvas(_ context.Context, canvasID string) (*entity.CanvasAccess, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.canvases[canvasID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", perrors.ErrCanvasNotFound, canvasID)
	}
	cp := *c
	cp.Fields = append([]string(nil), c.Fields...)
	cp.Rules = append([]entity.FieldRule(nil), c.Rules...)
	return &cp, nil
}

func (r *PermissionRepository) GetGrant(_ context.Context, canvasID, userID string) (vo.Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.grants[canvasID][userID], nil
}

func (r *PermissionRepository) IsAdmin(_ context.Context, userID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.admins[userID], nil
}

func (r *PermissionRepository) GetUserTeams(_ context.Context, userID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	teams := make([]string, 0, len(r.teams[userID]))
	for t := range r.teams[userID] {
		teams = append(teams, t)
	}
	sort.Strings(teams)
	return teams, nil
}
