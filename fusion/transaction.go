package fusion

import (
	"time"

	"github.com/google/uuid"
)

// Transaction bundles the new variables and constraints submitted together to
// the optimizer. It is a value object: the engine hands it to the caller and
// keeps no reference back into it.
type Transaction struct {
	stamp       time.Time
	variables   []Variable
	constraints []Constraint
	seen        map[uuid.UUID]struct{}
}

// NewTransaction returns an empty transaction stamped with the time of the
// newest state it will carry.
func NewTransaction(stamp time.Time) *Transaction {
	return &Transaction{stamp: stamp, seen: map[uuid.UUID]struct{}{}}
}

// Stamp returns the transaction timestamp.
func (t *Transaction) Stamp() time.Time {
	return t.stamp
}

// AddVariable records a new variable. Adding the same logical variable twice
// (same identity) is a no-op, which keeps identity continuity when two
// constraints in one transaction share an endpoint.
func (t *Transaction) AddVariable(v Variable) {
	id := v.UUID()
	if _, ok := t.seen[id]; ok {
		return
	}
	t.seen[id] = struct{}{}
	t.variables = append(t.variables, v)
}

// AddConstraint records a constraint.
func (t *Transaction) AddConstraint(c Constraint) {
	t.constraints = append(t.constraints, c)
}

// Variables returns the added variables in insertion order.
func (t *Transaction) Variables() []Variable {
	out := make([]Variable, len(t.variables))
	copy(out, t.variables)
	return out
}

// Constraints returns the added constraints in insertion order.
func (t *Transaction) Constraints() []Constraint {
	out := make([]Constraint, len(t.constraints))
	copy(out, t.constraints)
	return out
}
