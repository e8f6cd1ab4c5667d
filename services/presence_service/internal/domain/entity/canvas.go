package entity

import "github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/vo"

// DefaultCanvasFields 画布未配置字段时使用的默认字段
var DefaultCanvasFields = []string{
	"Title",
	"Problem Statement",
	"Objectives",
	"KPIs",
	"Success Criteria",
	"Key Features",
	"Risks",
	"Assumptions",
	"Non Functional Requirements",
	"Use Cases",
}

// FieldRule 字段可见性覆盖，TeamID 非空时是团队覆盖，否则按角色覆盖
type FieldRule struct {
	FieldKey string
	Role     vo.Role
	TeamID   string
	Access   vo.FieldAccess
}

// CanvasAccess 画布的权限配置，只读
type CanvasAccess struct {
	CanvasID string
	OwnerID  string
	Fields   []string
	Rules    []FieldRule
}

// FieldKeys 未配置时回落到默认字段
func (c *CanvasAccess) FieldKeys() []string {
	if len(c.Fields) == 0 {
		return DefaultCanvasFields
	}
	return c.Fields
}

func (c *CanvasAccess) HasField(key string) bool {
	for _, f := range c.FieldKeys() {
		if f == key {
			return true
		}
	}
	return false
}
