package imu

import (
	"math"
	"time"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"github.com/fieldsense/inertial/spatialmath"
)

// synthTrajectory is a smooth closed-form trajectory with analytic inertial
// readings: sinusoidal position per axis and a rotation of time-varying angle
// about a fixed axis. Because the axis is fixed, the body angular velocity
// equals the world angular velocity.
type synthTrajectory struct {
	posAmp  r3.Vector
	posFreq r3.Vector
	axis    r3.Vector
	angAmp  float64
	angFreq float64
	gravMag float64
	base    time.Time
	source  string
}

func newSynthTrajectory() *synthTrajectory {
	s := 1 / math.Sqrt(3)
	return &synthTrajectory{
		posAmp:  r3.Vector{X: 0.8, Y: 0.6, Z: 0.4},
		posFreq: r3.Vector{X: 0.5, Y: 0.4, Z: 0.7},
		axis:    r3.Vector{X: s, Y: s, Z: s},
		angAmp:  0.5,
		angFreq: 0.5,
		gravMag: 9.81,
		base:    time.Unix(0, 0),
		source:  "synth",
	}
}

func (st *synthTrajectory) gravity() r3.Vector {
	return r3.Vector{Z: -st.gravMag}
}

func (st *synthTrajectory) stampAt(sec float64) time.Time {
	return st.base.Add(time.Duration(math.Round(sec * float64(time.Second))))
}

func (st *synthTrajectory) position(t float64) r3.Vector {
	return r3.Vector{
		X: st.posAmp.X * math.Sin(st.posFreq.X*t),
		Y: st.posAmp.Y * math.Sin(st.posFreq.Y*t),
		Z: st.posAmp.Z * math.Sin(st.posFreq.Z*t),
	}
}

func (st *synthTrajectory) velocity(t float64) r3.Vector {
	return r3.Vector{
		X: st.posAmp.X * st.posFreq.X * math.Cos(st.posFreq.X*t),
		Y: st.posAmp.Y * st.posFreq.Y * math.Cos(st.posFreq.Y*t),
		Z: st.posAmp.Z * st.posFreq.Z * math.Cos(st.posFreq.Z*t),
	}
}

func (st *synthTrajectory) accelWorld(t float64) r3.Vector {
	return r3.Vector{
		X: -st.posAmp.X * st.posFreq.X * st.posFreq.X * math.Sin(st.posFreq.X*t),
		Y: -st.posAmp.Y * st.posFreq.Y * st.posFreq.Y * math.Sin(st.posFreq.Y*t),
		Z: -st.posAmp.Z * st.posFreq.Z * st.posFreq.Z * math.Sin(st.posFreq.Z*t),
	}
}

func (st *synthTrajectory) orientation(t float64) quat.Number {
	return spatialmath.Exp(st.axis.Mul(st.angAmp * math.Sin(st.angFreq*t)))
}

func (st *synthTrajectory) angularVelocityBody(t float64) r3.Vector {
	return st.axis.Mul(st.angAmp * st.angFreq * math.Cos(st.angFreq*t))
}

// accelBody is the specific force the accelerometer reads: the world
// acceleration minus gravity, rotated into the body frame.
func (st *synthTrajectory) accelBody(t float64) r3.Vector {
	q := st.orientation(t)
	return spatialmath.RotateVec(quat.Conj(q), st.accelWorld(t).Sub(st.gravity()))
}

// state returns the ground-truth state at t seconds with zero biases.
func (st *synthTrajectory) state(t float64) State {
	return NewStateWithKinematics(st.stampAt(t), st.source, st.orientation(t), st.position(t), st.velocity(t))
}

// priorAt returns the ground-truth kinematics at t seconds as a start prior.
func (st *synthTrajectory) priorAt(t float64) *Prior {
	return &Prior{
		Orientation: st.orientation(t),
		Position:    st.position(t),
		Velocity:    st.velocity(t),
	}
}

// samples generates inertial readings over [t0, t1] at the given period. Each
// sample is stamped at the start of its holding interval but carries the
// mid-interval reading, matching how a real driver timestamps integration
// windows.
func (st *synthTrajectory) samples(t0, t1, dt float64) []Sample {
	var out []Sample
	n := int(math.Round((t1 - t0) / dt))
	for k := 0; k <= n; k++ {
		t := t0 + float64(k)*dt
		mid := t + dt/2
		out = append(out, Sample{
			Stamp:              st.stampAt(t),
			AngularVelocity:    st.angularVelocityBody(mid),
			LinearAcceleration: st.accelBody(mid),
		})
	}
	return out
}

// delta returns the analytic ground-truth relative motion between t0 and t1,
// computed directly from the trajectory rather than by integration.
func (st *synthTrajectory) delta(t0, t1 float64) Delta {
	dt := t1 - t0
	q1 := st.orientation(t0)
	q1inv := quat.Conj(q1)
	g := st.gravity()

	d := NewIdentityDelta(Bias{})
	d.Dur = st.stampAt(t1).Sub(st.stampAt(t0))
	d.Rot = spatialmath.Normalize(quat.Mul(q1inv, st.orientation(t1)))
	d.Vel = spatialmath.RotateVec(q1inv, st.velocity(t1).Sub(st.velocity(t0)).Sub(g.Mul(dt)))
	d.Pos = spatialmath.RotateVec(q1inv,
		st.position(t1).Sub(st.position(t0)).Sub(st.velocity(t0).Mul(dt)).Sub(g.Mul(0.5*dt*dt)))
	return d
}

// params returns zero-noise engine params matching the trajectory's gravity.
func (st *synthTrajectory) params() Params {
	return Params{Source: st.source, Gravity: st.gravMag}
}

func expectStateNear(t testingT, got, want State, qTol, posTol, velTol float64) {
	t.Helper()
	if !spatialmath.QuaternionAlmostEqual(got.Orientation(), want.Orientation(), qTol) {
		t.Errorf("orientation %v differs from %v beyond %v", got.Orientation(), want.Orientation(), qTol)
	}
	if d := got.Position().Sub(want.Position()); d.Norm() > posTol {
		t.Errorf("position %v differs from %v by %v", got.Position(), want.Position(), d.Norm())
	}
	if d := got.Velocity().Sub(want.Velocity()); d.Norm() > velTol {
		t.Errorf("velocity %v differs from %v by %v", got.Velocity(), want.Velocity(), d.Norm())
	}
}

// testingT is the subset of *testing.T the helpers need.
type testingT interface {
	Helper()
	Errorf(format string, args ...interface{})
}
