// Package lifecycle holds the per-entity status machines: which status pairs
// are legal, which action (and so which permission) each pair needs, the guards
// that must hold and the fields stamped once a transition is written.
package lifecycle

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"pmhub/internal/permission"
	"pmhub/internal/records/models"
	dErrors "pmhub/pkg/domain-errors"
)

// Rule is one legal edge, or a family of edges sharing a target.
type Rule struct {
	From []string
	// FromAny expands to every non-terminal status other than To.
	FromAny bool
	To      string
	// Action names the permission transition:<Action>; defaults to To.
	Action     string
	Guards     []Guard
	SideEffect SideEffect
}

// SideEffect computes the fields stamped after a transition has been written.
type SideEffect func(s Stamp) models.Fields

// Stamp is the input handed to side effects.
type Stamp struct {
	Actor  string
	Now    time.Time
	Fields models.Fields
}

// Transition is a resolved edge.
type Transition struct {
	EntityType models.EntityType
	From, To   string
	Action     string
	rule       *Rule
}

// Effects returns the stamp fields for this transition, or nil.
func (t *Transition) Effects(actor string, now time.Time, fields models.Fields) models.Fields {
	if t == nil || t.rule.SideEffect == nil {
		return nil
	}
	return t.rule.SideEffect(Stamp{Actor: actor, Now: now.UTC(), Fields: fields})
}

// Machine is the status machine for one entity type.
type Machine struct {
	EntityType models.EntityType
	Initial    []string
	Terminal   []string
	Rules      []Rule
}

type pair struct{ from, to string }

type compiled struct {
	machine  Machine
	statuses []string
	edges    map[pair]*Rule
}

// Registry resolves transitions and checks them against a permission gate.
type Registry struct {
	gate     *permission.Gate
	machines map[models.EntityType]*compiled
}

// NewRegistry builds an empty registry; use Default for the built-in machines.
func NewRegistry(gate *permission.Gate) *Registry {
	if gate == nil {
		gate = permission.NewGate(nil)
	}
	return &Registry{gate: gate, machines: make(map[models.EntityType]*compiled)}
}

// Default returns a registry holding every built-in machine.
func Default(gate *permission.Gate) *Registry {
	r := NewRegistry(gate)
	for _, m := range Machines() {
		if err := r.Register(m); err != nil {
			panic(fmt.Sprintf("lifecycle: built-in machine %s: %v", m.EntityType, err))
		}
	}
	return r
}

// Register compiles m. Two rules resolving to the same (from, to) pair are
// rejected, as is a second machine for the same entity type.
func (r *Registry) Register(m Machine) error {
	if _, exists := r.machines[m.EntityType]; exists {
		return fmt.Errorf("machine for %s already registered", m.EntityType)
	}
	if len(m.Initial) == 0 {
		return fmt.Errorf("machine for %s has no initial status", m.EntityType)
	}
	terminal := toSet(m.Terminal)
	known := toSet(m.Initial)
	for s := range terminal {
		known[s] = true
	}
	for _, rule := range m.Rules {
		if rule.To == "" {
			return fmt.Errorf("rule without target status")
		}
		known[rule.To] = true
		for _, f := range rule.From {
			known[f] = true
		}
	}
	statuses := sortedSet(known)

	c := &compiled{machine: m, statuses: statuses, edges: make(map[pair]*Rule)}
	for i := range m.Rules {
		rule := &m.Rules[i]
		if rule.Action == "" {
			rule.Action = rule.To
		}
		from := rule.From
		if rule.FromAny {
			from = nil
			for _, s := range statuses {
				if !terminal[s] && s != rule.To {
					from = append(from, s)
				}
			}
		}
		if len(from) == 0 {
			return fmt.Errorf("rule to %s has no source status", rule.To)
		}
		for _, f := range from {
			if f == rule.To {
				return fmt.Errorf("rule %s -> %s is a self loop", f, rule.To)
			}
			if terminal[f] {
				return fmt.Errorf("rule %s -> %s leaves terminal status", f, rule.To)
			}
			p := pair{from: f, to: rule.To}
			if _, dup := c.edges[p]; dup {
				return fmt.Errorf("duplicate rule %s -> %s", f, rule.To)
			}
			c.edges[p] = rule
		}
	}
	r.machines[m.EntityType] = c
	return nil
}

// Has reports whether entityType has a lifecycle.
func (r *Registry) Has(entityType models.EntityType) bool {
	_, ok := r.machines[entityType]
	return ok
}

// Statuses lists every status the machine knows, sorted.
func (r *Registry) Statuses(entityType models.EntityType) []string {
	c, ok := r.machines[entityType]
	if !ok {
		return nil
	}
	return append([]string(nil), c.statuses...)
}

// Lookup returns the edge for (from, to) if one exists.
func (r *Registry) Lookup(entityType models.EntityType, from, to string) (*Transition, bool) {
	c, ok := r.machines[entityType]
	if !ok {
		return nil, false
	}
	rule, ok := c.edges[pair{from: from, to: to}]
	if !ok {
		return nil, false
	}
	return &Transition{EntityType: entityType, From: from, To: to, Action: rule.Action, rule: rule}, true
}

// Next lists the statuses reachable from `from`, sorted.
func (r *Registry) Next(entityType models.EntityType, from string) []string {
	c, ok := r.machines[entityType]
	if !ok {
		return nil
	}
	var out []string
	for p := range c.edges {
		if p.from == from {
			out = append(out, p.to)
		}
	}
	sort.Strings(out)
	return out
}

// InitialStatus resolves the status for a new record. An empty requested status
// picks the machine's first initial status; types without a machine keep "".
func (r *Registry) InitialStatus(entityType models.EntityType, requested string) (string, error) {
	c, ok := r.machines[entityType]
	if !ok {
		if requested != "" {
			return "", dErrors.Validation(models.FieldStatus, fmt.Sprintf("%s has no lifecycle", entityType))
		}
		return "", nil
	}
	if requested == "" {
		return c.machine.Initial[0], nil
	}
	for _, s := range c.machine.Initial {
		if s == requested {
			return s, nil
		}
	}
	return "", dErrors.Validation(models.FieldStatus,
		fmt.Sprintf("must be one of %v for a new %s, got '%s'", c.machine.Initial, entityType, requested))
}

// ValidateTransition checks a move from `from` to `to`. A nil Transition with a
// nil error means to == from and nothing needs to happen. fields is the record
// as it would look once the request's extra fields are applied; guards and
// owner-scoped permissions read it.
func (r *Registry) ValidateTransition(entityType models.EntityType, from, to string, actor permission.Actor, fields models.Fields) (*Transition, error) {
	if to == from {
		return nil, nil
	}
	t, ok := r.Lookup(entityType, from, to)
	if !ok {
		return nil, IllegalTransition(entityType, from, to, r.Next(entityType, from))
	}
	if err := r.gate.Check(actor, entityType, permission.TransitionOp(t.Action), fields); err != nil {
		return nil, err
	}
	for _, g := range t.rule.Guards {
		if reason := g.Check(fields); reason != "" {
			return nil, GuardFailed(entityType, g.Name, reason)
		}
	}
	return t, nil
}

// IllegalTransition builds the error for a pair no rule covers.
func IllegalTransition(entityType models.EntityType, from, to string, allowed []string) error {
	e := dErrors.Newf(dErrors.CodeIllegalTransition, "cannot transition %s from '%s' to '%s'", entityType, from, to).
		WithMeta("entity_type", string(entityType)).
		WithMeta("from", from).
		WithMeta("to", to)
	if len(allowed) > 0 {
		e = e.WithMeta("allowed", strings.Join(allowed, ","))
	}
	return e
}

// GuardFailed builds the error for an unmet precondition.
func GuardFailed(entityType models.EntityType, guard, reason string) error {
	return dErrors.Newf(dErrors.CodeGuardFailed, "%s: %s", guard, reason).
		WithMeta("entity_type", string(entityType)).
		WithMeta("guard", guard)
}

func toSet(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[v] = true
	}
	return out
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
