// Package fusion defines the value objects exchanged with an external
// factor-graph optimizer: estimation variables, the constraints relating them,
// the transactions that bundle both, and the solutions the optimizer returns.
// Nothing in this package performs numerical integration; it is packaging with
// stable variable identity.
package fusion

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// VariableKind enumerates the closed set of state variable types. Adding a
// kind requires updating every switch in this package; the default branches
// panic so an unhandled kind cannot pass silently.
type VariableKind int

// The five variable kinds making up one full inertial state.
const (
	Orientation VariableKind = iota
	Position
	Velocity
	GyroBias
	AccelBias
)

// AllVariableKinds lists every kind in canonical state order.
var AllVariableKinds = []VariableKind{Orientation, Position, Velocity, GyroBias, AccelBias}

// String implements fmt.Stringer.
func (k VariableKind) String() string {
	switch k {
	case Orientation:
		return "orientation"
	case Position:
		return "position"
	case Velocity:
		return "velocity"
	case GyroBias:
		return "gyro_bias"
	case AccelBias:
		return "accel_bias"
	default:
		panic(fmt.Sprintf("unknown variable kind %d", int(k)))
	}
}

// Dim returns the number of scalars the kind carries.
func (k VariableKind) Dim() int {
	switch k {
	case Orientation:
		return 4
	case Position, Velocity, GyroBias, AccelBias:
		return 3
	default:
		panic(fmt.Sprintf("unknown variable kind %d", int(k)))
	}
}

// StateDim is the total scalar count of one full state (4+3+3+3+3).
const StateDim = 16

// identity namespace for deterministic variable ids.
var variableNamespace = uuid.MustParse("9a1c7f76-1b8e-4e62-8e0f-5f6f2f3a9b21")

// Variable is one estimation unknown: a kind, the timestamp it is attached to,
// the source (device) it belongs to, and its current numeric value.
type Variable struct {
	Kind   VariableKind
	Stamp  time.Time
	Source string
	Values []float64
}

// NewVariable constructs a variable, copying values. The value length must
// match the kind's dimension.
func NewVariable(kind VariableKind, stamp time.Time, source string, values []float64) (Variable, error) {
	if len(values) != kind.Dim() {
		return Variable{}, errors.Errorf("%s variable needs %d values, got %d", kind, kind.Dim(), len(values))
	}
	vals := make([]float64, len(values))
	copy(vals, values)
	return Variable{Kind: kind, Stamp: stamp, Source: source, Values: vals}, nil
}

// UUID returns the deterministic identity of the variable. Identity is a pure
// function of kind, source, and stamp, so two transactions that share an
// endpoint state refer to the same optimizer unknowns.
func (v Variable) UUID() uuid.UUID {
	name := fmt.Sprintf("%s/%s/%d", v.Source, v.Kind, v.Stamp.UnixNano())
	return uuid.NewSHA1(variableNamespace, []byte(name))
}
