package spatialmath

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// Pose is a rigid transform: a rotation followed by a translation. The zero
// value is not a valid pose; use NewZeroPose for the identity transform.
type Pose struct {
	Rotation    quat.Number
	Translation r3.Vector
}

// NewZeroPose returns the identity transform.
func NewZeroPose() Pose {
	return Pose{Rotation: NewZeroRotation()}
}

// NewPose returns the pose with the given translation and rotation. The
// rotation is normalized.
func NewPose(translation r3.Vector, rotation quat.Number) Pose {
	return Pose{Rotation: Normalize(rotation), Translation: translation}
}

// Compose returns the pose equivalent to applying b first and then a.
func Compose(a, b Pose) Pose {
	return Pose{
		Rotation:    Normalize(quat.Mul(a.Rotation, b.Rotation)),
		Translation: a.Translation.Add(RotateVec(a.Rotation, b.Translation)),
	}
}

// TransformPoint applies the pose to a point.
func (p Pose) TransformPoint(pt r3.Vector) r3.Vector {
	return RotateVec(p.Rotation, pt).Add(p.Translation)
}

// Matrix returns the 4x4 homogeneous transform matrix of the pose.
func (p Pose) Matrix() *mat.Dense {
	r := RotationMatrix(p.Rotation)
	out := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.Set(i, j, r.At(i, j))
		}
	}
	out.Set(0, 3, p.Translation.X)
	out.Set(1, 3, p.Translation.Y)
	out.Set(2, 3, p.Translation.Z)
	out.Set(3, 3, 1)
	return out
}

// PoseAlmostEqual reports whether two poses agree within tol in every rotation
// component and translation coordinate.
func PoseAlmostEqual(a, b Pose, tol float64) bool {
	if !QuaternionAlmostEqual(a.Rotation, b.Rotation, tol) {
		return false
	}
	d := a.Translation.Sub(b.Translation)
	return d.Norm() <= tol
}
