package authz

import "strings"

// Role is the account role stored on every user record.
type Role string

const (
	RoleStudent             Role = "student"
	RoleClassRepresentative Role = "class_representative"
	RoleTeacher             Role = "teacher"
	RoleAdministrator       Role = "administrator"
)

// Roles lists every role in display order.
var Roles = []Role{RoleStudent, RoleClassRepresentative, RoleTeacher, RoleAdministrator}

func (r Role) String() string { return string(r) }

// Valid reports whether r is one of the four portal roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleClassRepresentative, RoleTeacher, RoleAdministrator:
		return true
	}
	return false
}

// InGroup reports whether the role carries a group affiliation of its own.
func (r Role) InGroup() bool {
	return r == RoleStudent || r == RoleClassRepresentative
}

// ParseRole maps user input to a Role. The legacy portal names "starosta"
// and "admin" are accepted as aliases.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "student":
		return RoleStudent, true
	case "class_representative", "class-representative", "starosta":
		return RoleClassRepresentative, true
	case "teacher":
		return RoleTeacher, true
	case "administrator", "admin":
		return RoleAdministrator, true
	}
	return "", false
}
