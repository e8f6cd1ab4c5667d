package vo

import "fmt"

// FieldAccess 字段可见性
type FieldAccess string

const (
	FieldHidden FieldAccess = "hidden"
	FieldRead   FieldAccess = "read"
	FieldEdit   FieldAccess = "edit"
)

var accessRank = map[FieldAccess]int{
	FieldHidden: 0,
	FieldRead:   1,
	FieldEdit:   2,
}

func ParseFieldAccess(s string) (FieldAccess, error) {
	a := FieldAccess(s)
	if _, ok := accessRank[a]; !ok {
		return FieldHidden, fmt.Errorf("unknown field access %q", s)
	}
	return a, nil
}

// Visible hidden 以外都可见
func (a FieldAccess) Visible() bool { return accessRank[a] > 0 }

// MorePermissive 取两者中更宽松的一个
func MorePermissive(a, b FieldAccess) FieldAccess {
	if accessRank[b] > accessRank[a] {
		return b
	}
	return a
}

// CapAt 把 a 限制在 limit 以内
func CapAt(a, limit FieldAccess) FieldAccess {
	if accessRank[a] > accessRank[limit] {
		return limit
	}
	return a
}
