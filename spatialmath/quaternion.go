// Package spatialmath provides the quaternion and SO(3) primitives used by the
// inertial preintegration packages: exponential map, right Jacobian, skew
// matrices, and rigid transforms.
package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// Below this rotation angle (radians) the closed-form exponential map is
// replaced by its series expansion to avoid dividing by a vanishing norm.
const smallAngle = 1e-8

// NewZeroRotation returns the identity quaternion.
func NewZeroRotation() quat.Number {
	return quat.Number{Real: 1}
}

// Norm returns the euclidean norm of q viewed as a 4-vector.
func Norm(q quat.Number) float64 {
	return math.Sqrt(q.Real*q.Real + q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
}

// Normalize scales q to unit norm. A zero quaternion normalizes to identity.
func Normalize(q quat.Number) quat.Number {
	n := Norm(q)
	if n == 0 {
		return NewZeroRotation()
	}
	return quat.Scale(1/n, q)
}

// Exp maps a rotation vector (axis times angle, radians) to a unit quaternion.
func Exp(v r3.Vector) quat.Number {
	theta := v.Norm()
	if theta < smallAngle {
		return Normalize(quat.Number{Real: 1, Imag: v.X / 2, Jmag: v.Y / 2, Kmag: v.Z / 2})
	}
	s := math.Sin(theta/2) / theta
	return quat.Number{Real: math.Cos(theta / 2), Imag: v.X * s, Jmag: v.Y * s, Kmag: v.Z * s}
}

// RotateVec rotates v by the unit quaternion q.
func RotateVec(q quat.Number, v r3.Vector) r3.Vector {
	qv := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(q, qv), quat.Conj(q))
	return r3.Vector{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// RotationMatrix returns the 3x3 rotation matrix of the unit quaternion q.
func RotationMatrix(q quat.Number) *mat.Dense {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	})
}

// Skew returns the 3x3 skew-symmetric (cross product) matrix of v.
func Skew(v r3.Vector) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		0, -v.Z, v.Y,
		v.Z, 0, -v.X,
		-v.Y, v.X, 0,
	})
}

// RightJacobian returns the right Jacobian of SO(3) at the rotation vector v.
// It maps additive perturbations of the rotation vector to local perturbations
// of the rotated frame and appears throughout error-state propagation.
func RightJacobian(v r3.Vector) *mat.Dense {
	theta := v.Norm()
	k := Skew(v)
	var k2 mat.Dense
	k2.Mul(k, k)
	out := identity3()
	var c1, c2 float64
	if theta < smallAngle {
		c1, c2 = 0.5, 1.0/6.0
	} else {
		c1 = (1 - math.Cos(theta)) / (theta * theta)
		c2 = (theta - math.Sin(theta)) / (theta * theta * theta)
	}
	var t1, t2 mat.Dense
	t1.Scale(c1, k)
	t2.Scale(c2, &k2)
	out.Sub(out, &t1)
	out.Add(out, &t2)
	return out
}

// QuaternionAlmostEqual reports whether two unit quaternions represent nearly
// the same rotation, accounting for the double cover (q and -q are equal).
func QuaternionAlmostEqual(a, b quat.Number, tol float64) bool {
	if quatDistance(a, b) <= tol {
		return true
	}
	return quatDistance(a, quat.Scale(-1, b)) <= tol
}

func quatDistance(a, b quat.Number) float64 {
	d := quat.Sub(a, b)
	return math.Max(math.Max(math.Abs(d.Real), math.Abs(d.Imag)), math.Max(math.Abs(d.Jmag), math.Abs(d.Kmag)))
}

// QuaternionFinite reports whether every component of q is finite.
func QuaternionFinite(q quat.Number) bool {
	for _, c := range []float64{q.Real, q.Imag, q.Jmag, q.Kmag} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// VectorFinite reports whether every component of v is finite.
func VectorFinite(v r3.Vector) bool {
	for _, c := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

func identity3() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}
