package vo

import "fmt"

// Role 用户在画布上的角色
type Role string

const (
	RoleNone   Role = ""
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleOwner  Role = "owner"
)

var roleRank = map[Role]int{
	RoleNone:   0,
	RoleViewer: 1,
	RoleEditor: 2,
	RoleOwner:  3,
}

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if _, ok := roleRank[r]; !ok || r == RoleNone {
		return RoleNone, fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// AtLeast 角色是否不低于 min，RoleNone 永远不满足
func (r Role) AtLeast(min Role) bool {
	if r == RoleNone {
		return false
	}
	return roleRank[r] >= roleRank[min]
}

func (r Role) String() string {
	if r == RoleNone {
		return "none"
	}
	return string(r)
}
