// Package arbiter 从在线表推导字段软锁，以及观察者视角下的光标锚点
package arbiter

import (
	"sort"
	"time"

	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/entity"
)

// LockedFieldsFor 收集 editing/refining 且 activeField 非空的客户端
func LockedFieldsFor(clients []entity.ClientPresence) entity.LockMap {
	locks := make(entity.LockMap)
	for _, c := range clients {
		if !c.Holding() {
			continue
		}
		set, ok := locks[c.ActiveField]
		if !ok {
			set = make(map[string]struct{})
			locks[c.ActiveField] = set
		}
		set[c.ClientID] = struct{}{}
	}
	return locks
}

// Holds client 是否在 locks 里占用自己的 activeField
func Holds(locks entity.LockMap, c entity.ClientPresence) bool {
	if c.ActiveField == "" {
		return false
	}
	_, ok := locks[c.ActiveField][c.ClientID]
	return ok
}

// Holders 某个字段的占用者，按 clientID 排序
func Holders(locks entity.LockMap, fieldKey string) []string {
	set := locks[fieldKey]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Diff 计算两次锁表之间的获取/释放，users 用于补全 userID
func Diff(canvasID string, before, after entity.LockMap, users map[string]string, at time.Time) []entity.LockChange {
	var changes []entity.LockChange
	for field, set := range before {
		for id := range set {
			if _, ok := after[field][id]; !ok {
				changes = append(changes, entity.LockChange{
					CanvasID: canvasID, FieldKey: field, ClientID: id, UserID: users[id], Op: entity.LockReleased, At: at,
				})
			}
		}
	}
	for field, set := range after {
		for id := range set {
			if _, ok := before[field][id]; !ok {
				changes = append(changes, entity.LockChange{
					CanvasID: canvasID, FieldKey: field, ClientID: id, UserID: users[id], Op: entity.LockAcquired, At: at,
				})
			}
		}
	}
	// 先释放后获取，同类按字段和客户端排序
	sort.Slice(changes, func(i, j int) bool {
		a, b := changes[i], changes[j]
		if a.Op != b.Op {
			return a.Op == entity.LockReleased
		}
		if a.FieldKey != b.FieldKey {
			return a.FieldKey < b.FieldKey
		}
		return a.ClientID < b.ClientID
	})
	return changes
}
