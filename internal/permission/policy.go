// Package permission decides whether a role may perform an operation on an
// entity type. Decisions are pure lookups over a Policy.
package permission

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"pmhub/internal/records/models"
	dErrors "pmhub/pkg/domain-errors"
)

// Operation is read, create, update, delete, transition or transition:<action>.
type Operation string

const (
	OpRead       Operation = "read"
	OpCreate     Operation = "create"
	OpUpdate     Operation = "update"
	OpDelete     Operation = "delete"
	OpTransition Operation = "transition"
)

// TransitionOp names the operation guarding a specific transition action.
func TransitionOp(action string) Operation {
	return Operation(string(OpTransition) + ":" + action)
}

// fallback returns the operation consulted when op has no explicit rule.
func (op Operation) fallback() (Operation, bool) {
	if strings.HasPrefix(string(op), string(OpTransition)+":") {
		return OpTransition, true
	}
	return "", false
}

// Rule is the tier required for one operation. When OwnerField is set, OwnerRole
// (a lower role) is also granted on records whose OwnerField equals the actor.
type Rule struct {
	Role       Role   `yaml:"role"`
	OwnerField string `yaml:"owner_field,omitempty"`
	OwnerRole  Role   `yaml:"owner_role,omitempty"`
}

// UnmarshalYAML accepts either a bare role name or a mapping.
func (r *Rule) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return r.Role.UnmarshalText([]byte(node.Value))
	}
	type plain Rule
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*r = Rule(p)
	return nil
}

// Policy holds default tiers and per-entity overrides.
type Policy struct {
	Defaults  map[Operation]Rule                      `yaml:"defaults"`
	Overrides map[models.EntityType]map[Operation]Rule `yaml:"overrides"`
}

// DefaultPolicy returns the built-in tiers.
func DefaultPolicy() *Policy {
	ownedBy := func(field string) map[Operation]Rule {
		return map[Operation]Rule{
			OpCreate: {Role: RoleEngineer, OwnerField: field, OwnerRole: RoleAnalyst},
			OpUpdate: {Role: RoleEngineer, OwnerField: field, OwnerRole: RoleAnalyst},
			OpDelete: {Role: RoleLead, OwnerField: field, OwnerRole: RoleAnalyst},
		}
	}
	return &Policy{
		Defaults: map[Operation]Rule{
			OpRead:       {Role: RoleViewer},
			OpCreate:     {Role: RoleEngineer},
			OpUpdate:     {Role: RoleEngineer},
			OpDelete:     {Role: RoleLead},
			OpTransition: {Role: RoleEngineer},
		},
		Overrides: map[models.EntityType]map[Operation]Rule{
			models.EntityCharter: {
				TransitionOp("review"):  {Role: RoleLead},
				TransitionOp("approve"): {Role: RoleLead},
				TransitionOp("reject"):  {Role: RoleLead},
			},
			models.EntityGate: {
				TransitionOp("approve"): {Role: RoleLead},
				TransitionOp("reject"):  {Role: RoleLead},
				TransitionOp("defer"):   {Role: RoleLead},
			},
			models.EntityTask: {
				TransitionOp("reopen"): {Role: RoleLead},
			},
			models.EntityRisk: {
				TransitionOp("close"): {Role: RoleLead},
			},
			models.EntityProject: {
				TransitionOp("cancel"): {Role: RoleLead},
			},
			models.EntityPortfolio: {
				TransitionOp("archive"): {Role: RoleAdmin},
			},
			models.EntityDeliverable: {
				TransitionOp("approve"): {Role: RoleLead},
			},
			models.EntityDependency: {
				TransitionOp("accept"): {Role: RoleLead},
			},
			models.EntityTimeEntry: ownedBy("user_id"),
			models.EntityComment:   ownedBy("author"),
		},
	}
}

// LoadPolicy reads YAML overrides from path and layers them over the defaults.
// An empty path yields the defaults.
func LoadPolicy(path string) (*Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	if err := p.Merge(raw); err != nil {
		return nil, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	return p, nil
}

// Merge layers a YAML document over p.
func (p *Policy) Merge(doc []byte) error {
	var in Policy
	if err := yaml.Unmarshal(doc, &in); err != nil {
		return err
	}
	for op, rule := range in.Defaults {
		if rule.Role == RoleNone {
			return fmt.Errorf("default %s: role is required", op)
		}
		p.Defaults[op] = rule
	}
	for et, ops := range in.Overrides {
		if _, ok := models.ParseEntityType(string(et)); !ok {
			return fmt.Errorf("unknown entity type %q", et)
		}
		if p.Overrides[et] == nil {
			p.Overrides[et] = map[Operation]Rule{}
		}
		for op, rule := range ops {
			if rule.Role == RoleNone {
				return fmt.Errorf("%s %s: role is required", et, op)
			}
			p.Overrides[et][op] = rule
		}
	}
	return nil
}

// RuleFor resolves the rule for op: entity override, then the entity's generic
// transition rule, then the defaults in the same order. Unknown operations
// resolve to admin-only.
func (p *Policy) RuleFor(entityType models.EntityType, op Operation) Rule {
	if r, ok := p.Overrides[entityType][op]; ok {
		return r
	}
	if fb, ok := op.fallback(); ok {
		if r, ok := p.Overrides[entityType][fb]; ok {
			return r
		}
	}
	if r, ok := p.Defaults[op]; ok {
		return r
	}
	if fb, ok := op.fallback(); ok {
		if r, ok := p.Defaults[fb]; ok {
			return r
		}
	}
	return Rule{Role: RoleAdmin}
}

// YAML renders the effective policy.
func (p *Policy) YAML() ([]byte, error) {
	return yaml.Marshal(p)
}

// Describe lists every override as "entity op role" lines, sorted.
func (p *Policy) Describe() []string {
	var lines []string
	for et, ops := range p.Overrides {
		for op, r := range ops {
			line := fmt.Sprintf("%s %s %s", et, op, r.Role)
			if r.OwnerField != "" {
				line += fmt.Sprintf(" (%s when %s matches)", r.OwnerRole, r.OwnerField)
			}
			lines = append(lines, line)
		}
	}
	sort.Strings(lines)
	return lines
}

// Gate answers permission questions against a Policy.
type Gate struct {
	policy *Policy
}

func NewGate(policy *Policy) *Gate {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Gate{policy: policy}
}

// Policy exposes the effective policy.
func (g *Gate) Policy() *Policy { return g.policy }

// Can reports whether role may perform op on entityType regardless of ownership.
func (g *Gate) Can(role Role, entityType models.EntityType, op Operation) bool {
	return role.AtLeast(g.policy.RuleFor(entityType, op).Role)
}

// CanOnRecord also honours owner-scoped grants against the given fields.
func (g *Gate) CanOnRecord(actor Actor, entityType models.EntityType, op Operation, fields models.Fields) bool {
	rule := g.policy.RuleFor(entityType, op)
	if actor.Role.AtLeast(rule.Role) {
		return true
	}
	if rule.OwnerField == "" || !actor.Role.AtLeast(rule.OwnerRole) || actor.ID == "" {
		return false
	}
	return fields.String(rule.OwnerField) == actor.ID
}

// Check returns a Forbidden error when CanOnRecord denies the actor.
func (g *Gate) Check(actor Actor, entityType models.EntityType, op Operation, fields models.Fields) error {
	if g.CanOnRecord(actor, entityType, op, fields) {
		return nil
	}
	return Forbidden(actor.Role, entityType, op)
}

// Forbidden builds the denial error.
func Forbidden(role Role, entityType models.EntityType, op Operation) error {
	return dErrors.Newf(dErrors.CodeForbidden, "role %s may not %s %s", role, op, entityType).
		WithMeta("role", role.String()).
		WithMeta("entity_type", string(entityType)).
		WithMeta("operation", string(op))
}
