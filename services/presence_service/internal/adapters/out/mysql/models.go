package mysql

import "time"

// CanvasModel 画布，owner_id 即创建者
type CanvasModel struct {
	CanvasID  string    `gorm:"column:canvas_id;primaryKey;size:64"`
	OwnerID   string    `gorm:"column:owner_id;size:64;not null;index"`
	Name      string    `gorm:"column:name;size:255"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (CanvasModel) TableName() string {
	return "canvases"
}

// CanvasFieldModel 画布字段，未配置时使用默认字段集
type CanvasFieldModel struct {
	ID       uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	CanvasID string `gorm:"column:canvas_id;size:64;not null;uniqueIndex:uk_canvas_field"`
	FieldKey string `gorm:"column:field_key;size:128;not null;uniqueIndex:uk_canvas_field"`
	Position int    `gorm:"column:position;default:0"`
}

func (CanvasFieldModel) TableName() string {
	return "canvas_fields"
}

// CanvasGrantModel 显式授权
type CanvasGrantModel struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	CanvasID  string    `gorm:"column:canvas_id;size:64;not null;uniqueIndex:uk_canvas_user"`
	UserID    string    `gorm:"column:user_id;size:64;not null;uniqueIndex:uk_canvas_user"`
	Role      string    `gorm:"column:role;size:16;not null"` // viewer|editor|owner
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (CanvasGrantModel) TableName() string {
	return "canvas_grants"
}

// FieldRuleModel 字段可见性覆盖，team_id 非空是团队覆盖
type FieldRuleModel struct {
	ID       uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	CanvasID string `gorm:"column:canvas_id;size:64;not null;index"`
	FieldKey string `gorm:"column:field_key;size:128;not null"`
	Role     string `gorm:"column:role;size:16"`
	TeamID   string `gorm:"column:team_id;size:64"`
	Access   string `gorm:"column:access;size:16;not null"` // hidden|read|edit
}

func (FieldRuleModel) TableName() string {
	return "canvas_field_rules"
}

// UserModel 只关心管理员标记
type UserModel struct {
	UserID  string `gorm:"column:user_id;primaryKey;size:64"`
	Name    string `gorm:"column:name;size:128"`
	IsAdmin bool   `gorm:"column:is_admin;default:false"`
}

func (UserModel) TableName() string {
	return "users"
}

type TeamMemberModel struct {
	TeamID string `gorm:"column:team_id;primaryKey;size:64"`
	UserID string `gorm:"column:user_id;primaryKey;size:64;index"`
}

func (TeamMemberModel) TableName() string {
	return "team_members"
}

// Models 迁移和测试建表用
func Models() []interface{} {
	return []interface{}{
		&CanvasModel{},
		&CanvasFieldModel{},
		&CanvasGrantModel{},
		&FieldRuleModel{},
		&UserModel{},
		&TeamMemberModel{},
	}
}
