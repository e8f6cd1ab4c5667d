package vo

import (
	perrors "github.com/EthanQC/canvas-collab/pkg/errors"
)

// Action 客户端当前的编辑意图
type Action string

const (
	ActionViewing  Action = "viewing"  // 浏览
	ActionEditing  Action = "editing"  // 手动编辑
	ActionRefining Action = "refining" // AI 润色
)

// 合法迁移：viewing -> editing|refining -> viewing
var actionTransitions = map[Action]map[Action]bool{
	ActionViewing:  {ActionEditing: true, ActionRefining: true},
	ActionEditing:  {ActionViewing: true},
	ActionRefining: {ActionViewing: true},
}

func ParseAction(s string) (Action, error) {
	a := Action(s)
	if _, ok := actionTransitions[a]; !ok {
		return "", perrors.ErrInvalidAction
	}
	return a, nil
}

func (a Action) Valid() bool {
	_, ok := actionTransitions[a]
	return ok
}

// Holding editing/refining 视为占用字段
func (a Action) Holding() bool {
	return a == ActionEditing || a == ActionRefining
}

// CanTransition 同状态视为合法
func CanTransition(from, to Action) bool {
	if from == to {
		return true
	}
	return actionTransitions[from][to]
}
