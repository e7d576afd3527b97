package permission

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Role is totally ordered: a higher role may do everything a lower one may.
type Role int

const (
	RoleNone Role = iota
	RoleViewer
	RoleAnalyst
	RoleEngineer
	RoleLead
	RoleAdmin
)

var roleNames = map[Role]string{
	RoleViewer:   "viewer",
	RoleAnalyst:  "analyst",
	RoleEngineer: "engineer",
	RoleLead:     "lead",
	RoleAdmin:    "admin",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "none"
}

// AtLeast reports whether r meets min.
func (r Role) AtLeast(min Role) bool {
	return r >= min && r != RoleNone
}

// ParseRole accepts a role name in any case.
func ParseRole(raw string) (Role, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	for role, n := range roleNames {
		if n == name {
			return role, nil
		}
	}
	return RoleNone, fmt.Errorf("unknown role %q", raw)
}

// MarshalText renders the role name.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText parses a role name.
func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// UnmarshalYAML parses a role name scalar.
func (r *Role) UnmarshalYAML(node *yaml.Node) error {
	return r.UnmarshalText([]byte(node.Value))
}

// Actor is the resolved principal performing an operation.
type Actor struct {
	ID   string
	Role Role
}
