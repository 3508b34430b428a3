package fusion

import (
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ConstraintKind enumerates the closed set of constraint types.
type ConstraintKind int

// A relative constraint relates two full states through a preintegrated motion
// delta; an absolute constraint pins a single state to a prior mean.
const (
	Relative ConstraintKind = iota
	Absolute
)

// String implements fmt.Stringer.
func (k ConstraintKind) String() string {
	switch k {
	case Relative:
		return "relative"
	case Absolute:
		return "absolute"
	default:
		panic(fmt.Sprintf("unknown constraint kind %d", int(k)))
	}
}

// variableCount returns how many full states the constraint kind spans.
func (k ConstraintKind) variableCount() int {
	switch k {
	case Relative:
		return 2 * len(AllVariableKinds)
	case Absolute:
		return len(AllVariableKinds)
	default:
		panic(fmt.Sprintf("unknown constraint kind %d", int(k)))
	}
}

// ErrorDim is the dimension of a constraint's error-state covariance. The
// orientation contributes three degrees of freedom, not four, because its
// uncertainty lives on the rotation manifold.
const ErrorDim = 15

// Constraint relates one or two full states. Mean is the 16-d stacked value
// [qw qx qy qz, p, v, bg, ba] and Covariance the 15x15 error-state covariance
// in [theta p v bg ba] order.
type Constraint struct {
	Kind       ConstraintKind
	Source     string
	Variables  []uuid.UUID
	Mean       []float64
	Covariance *mat.SymDense
}

// NewConstraint validates dimensions and finiteness and copies the inputs. The
// variables must be ordered start state first (orientation, position,
// velocity, gyro bias, accel bias), then the end state for relative
// constraints.
func NewConstraint(
	kind ConstraintKind,
	source string,
	variables []Variable,
	mean []float64,
	covariance *mat.SymDense,
) (Constraint, error) {
	if len(variables) != kind.variableCount() {
		return Constraint{}, errors.Errorf(
			"%s constraint needs %d variables, got %d", kind, kind.variableCount(), len(variables))
	}
	if len(mean) != StateDim {
		return Constraint{}, errors.Errorf("%s constraint needs a %d-d mean, got %d", kind, StateDim, len(mean))
	}
	if r, c := covariance.Dims(); r != ErrorDim || c != ErrorDim {
		return Constraint{}, errors.Errorf("%s constraint needs a %dx%d covariance, got %dx%d",
			kind, ErrorDim, ErrorDim, r, c)
	}
	for i, m := range mean {
		if math.IsNaN(m) || math.IsInf(m, 0) {
			return Constraint{}, errors.Errorf("%s constraint mean[%d] is not finite", kind, i)
		}
	}
	for i := 0; i < ErrorDim; i++ {
		d := covariance.At(i, i)
		if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
			return Constraint{}, errors.Errorf("%s constraint covariance diagonal [%d]=%v is invalid", kind, i, d)
		}
	}
	ids := make([]uuid.UUID, len(variables))
	for i, v := range variables {
		ids[i] = v.UUID()
	}
	m := make([]float64, len(mean))
	copy(m, mean)
	cov := mat.NewSymDense(ErrorDim, nil)
	cov.CopySym(covariance)
	return Constraint{Kind: kind, Source: source, Variables: ids, Mean: m, Covariance: cov}, nil
}
