package fusion

import (
	"math"
	"testing"
	"time"

	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func stateVariables(t *testing.T, stamp time.Time, source string) []Variable {
	t.Helper()
	out := make([]Variable, 0, len(AllVariableKinds))
	for _, kind := range AllVariableKinds {
		vals := make([]float64, kind.Dim())
		if kind == Orientation {
			vals[0] = 1
		}
		v, err := NewVariable(kind, stamp, source, vals)
		test.That(t, err, test.ShouldBeNil)
		out = append(out, v)
	}
	return out
}

func identityMean() []float64 {
	mean := make([]float64, StateDim)
	mean[0] = 1
	return mean
}

func TestConstraintKindString(t *testing.T) {
	test.That(t, Relative.String(), test.ShouldEqual, "relative")
	test.That(t, Absolute.String(), test.ShouldEqual, "absolute")
	test.That(t, func() { _ = ConstraintKind(99).String() }, test.ShouldPanic)
}

func TestNewConstraint(t *testing.T) {
	t0 := time.Unix(0, 0)
	t1 := t0.Add(time.Second)
	startVars := stateVariables(t, t0, "imu0")
	endVars := stateVariables(t, t1, "imu0")
	both := append(append([]Variable{}, startVars...), endVars...)
	cov := mat.NewSymDense(ErrorDim, nil)

	abs, err := NewConstraint(Absolute, "imu0", startVars, identityMean(), cov)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, abs.Variables, test.ShouldHaveLength, 5)
	test.That(t, abs.Variables[0], test.ShouldResemble, startVars[0].UUID())

	rel, err := NewConstraint(Relative, "imu0", both, identityMean(), cov)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rel.Variables, test.ShouldHaveLength, 10)

	// the constraint owns copies of its mean and covariance
	mean := identityMean()
	src := mat.NewSymDense(ErrorDim, nil)
	c, err := NewConstraint(Absolute, "imu0", startVars, mean, src)
	test.That(t, err, test.ShouldBeNil)
	mean[0] = 42
	src.SetSym(0, 0, 42)
	test.That(t, c.Mean[0], test.ShouldEqual, 1)
	test.That(t, c.Covariance.At(0, 0), test.ShouldEqual, 0)
}

func TestNewConstraintRejectsBadInput(t *testing.T) {
	t0 := time.Unix(0, 0)
	vars := stateVariables(t, t0, "imu0")
	cov := mat.NewSymDense(ErrorDim, nil)

	// variable count must match the kind
	_, err := NewConstraint(Relative, "imu0", vars, identityMean(), cov)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewConstraint(Absolute, "imu0", vars[:4], identityMean(), cov)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewConstraint(Absolute, "imu0", vars, make([]float64, StateDim-1), cov)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewConstraint(Absolute, "imu0", vars, identityMean(), mat.NewSymDense(ErrorDim-1, nil))
	test.That(t, err, test.ShouldNotBeNil)

	nanMean := identityMean()
	nanMean[5] = math.NaN()
	_, err = NewConstraint(Absolute, "imu0", vars, nanMean, cov)
	test.That(t, err, test.ShouldNotBeNil)

	negCov := mat.NewSymDense(ErrorDim, nil)
	negCov.SetSym(3, 3, -1)
	_, err = NewConstraint(Absolute, "imu0", vars, identityMean(), negCov)
	test.That(t, err, test.ShouldNotBeNil)

	infCov := mat.NewSymDense(ErrorDim, nil)
	infCov.SetSym(0, 0, math.Inf(1))
	_, err = NewConstraint(Absolute, "imu0", vars, identityMean(), infCov)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestTransactionDedupsVariables(t *testing.T) {
	t0 := time.Unix(0, 0)
	t1 := t0.Add(time.Second)
	txn := NewTransaction(t1)
	test.That(t, txn.Stamp().Equal(t1), test.ShouldBeTrue)

	vars := stateVariables(t, t0, "imu0")
	for _, v := range vars {
		txn.AddVariable(v)
	}
	// a second add of the same identities is a no-op
	for _, v := range stateVariables(t, t0, "imu0") {
		txn.AddVariable(v)
	}
	txn.AddVariable(stateVariables(t, t1, "imu0")[0])
	test.That(t, txn.Variables(), test.ShouldHaveLength, 6)

	cov := mat.NewSymDense(ErrorDim, nil)
	c, err := NewConstraint(Absolute, "imu0", vars, identityMean(), cov)
	test.That(t, err, test.ShouldBeNil)
	txn.AddConstraint(c)
	txn.AddConstraint(c)
	test.That(t, txn.Constraints(), test.ShouldHaveLength, 2)
}

func TestSolutionLookupAndContains(t *testing.T) {
	vars := stateVariables(t, time.Unix(5, 0), "imu0")
	sol := Solution{
		vars[0].UUID(): {1, 0, 0, 0},
		vars[1].UUID(): {1, 2, 3},
	}

	got, ok := sol.Lookup(vars[0].UUID())
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, got, test.ShouldResemble, []float64{1, 0, 0, 0})
	_, ok = sol.Lookup(vars[2].UUID())
	test.That(t, ok, test.ShouldBeFalse)

	test.That(t, sol.Contains(vars[0].UUID(), vars[1].UUID()), test.ShouldBeTrue)
	test.That(t, sol.Contains(vars[0].UUID(), vars[4].UUID()), test.ShouldBeFalse)
	test.That(t, sol.Contains(), test.ShouldBeTrue)
}
