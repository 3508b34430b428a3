package imu

import (
	"math"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"github.com/fieldsense/inertial/fusion"
	"github.com/fieldsense/inertial/spatialmath"
)

// Offsets of the error-state blocks inside the 15-d covariance, in
// [theta p v bg ba] order.
const (
	thetaOff = 0
	posOff   = 3
	velOff   = 6
	bgOff    = 9
	baOff    = 12
)

// Floor on the sub-interval length when converting continuous noise densities
// to a discrete step, so a degenerate zero-duration step cannot inject an
// unbounded covariance increment.
const minNoiseDt = 1e-7

// Jacobian holds the first-order sensitivities of a Delta's mean to the bias
// values it was integrated with. They let a later bias correction repair the
// delta without replaying raw samples.
type Jacobian struct {
	RotGyro  *mat.Dense
	PosGyro  *mat.Dense
	PosAccel *mat.Dense
	VelGyro  *mat.Dense
	VelAccel *mat.Dense
}

func newZeroJacobian() Jacobian {
	return Jacobian{
		RotGyro:  mat.NewDense(3, 3, nil),
		PosGyro:  mat.NewDense(3, 3, nil),
		PosAccel: mat.NewDense(3, 3, nil),
		VelGyro:  mat.NewDense(3, 3, nil),
		VelAccel: mat.NewDense(3, 3, nil),
	}
}

// Delta summarizes the relative motion integrated over a contiguous sample
// run: rotation, translation, and velocity change in the start frame, with
// the interval's error-state covariance and bias Jacobians. Gravity is not
// part of a Delta; it is applied at prediction time, so deltas are reusable
// under different gravity compensation.
type Delta struct {
	Dur        time.Duration
	Rot        quat.Number
	Pos        r3.Vector
	Vel        r3.Vector
	Covariance *mat.SymDense
	Jacobian   Jacobian

	// BiasRef is the bias the delta was linearized around.
	BiasRef Bias
}

// NewIdentityDelta returns the delta of an empty run: identity rotation, zero
// translation and velocity change, zero covariance.
func NewIdentityDelta(bias Bias) Delta {
	return Delta{
		Rot:        spatialmath.NewZeroRotation(),
		Covariance: mat.NewSymDense(fusion.ErrorDim, nil),
		Jacobian:   newZeroJacobian(),
		BiasRef:    bias,
	}
}

// Corrected returns the delta's mean repaired to first order for a new bias
// estimate, using the stored Jacobians instead of reintegrating samples.
func (d Delta) Corrected(bias Bias) (quat.Number, r3.Vector, r3.Vector) {
	db := bias.Sub(d.BiasRef)
	rot := spatialmath.Normalize(quat.Mul(d.Rot, spatialmath.Exp(mulVec(d.Jacobian.RotGyro, db.Gyro))))
	pos := d.Pos.Add(mulVec(d.Jacobian.PosGyro, db.Gyro)).Add(mulVec(d.Jacobian.PosAccel, db.Accel))
	vel := d.Vel.Add(mulVec(d.Jacobian.VelGyro, db.Gyro)).Add(mulVec(d.Jacobian.VelAccel, db.Accel))
	return rot, pos, vel
}

// MeanValues returns the 16-d relative constraint mean [dq dp dv dbg dba] for
// the given end-minus-start bias difference.
func (d Delta) MeanValues(biasDiff Bias) []float64 {
	out := make([]float64, 0, fusion.StateDim)
	out = append(out, d.Rot.Real, d.Rot.Imag, d.Rot.Jmag, d.Rot.Kmag)
	out = append(out, d.Pos.X, d.Pos.Y, d.Pos.Z)
	out = append(out, d.Vel.X, d.Vel.Y, d.Vel.Z)
	out = append(out, biasDiff.Gyro.X, biasDiff.Gyro.Y, biasDiff.Gyro.Z)
	out = append(out, biasDiff.Accel.X, biasDiff.Accel.Y, biasDiff.Accel.Z)
	return out
}

// Preintegrator folds chronologically ordered sample runs into Deltas. Biases
// are frozen at their interval-start values; the covariance is advanced every
// step from the configured continuous-time noise densities.
type Preintegrator struct {
	logger     golog.Logger
	gyroNoise  r3.Vector
	accelNoise r3.Vector
	gyroWalk   r3.Vector
	accelWalk  r3.Vector
}

// NewPreintegrator returns a preintegrator seeded with the noise densities in
// params.
func NewPreintegrator(params Params, logger golog.Logger) *Preintegrator {
	return &Preintegrator{
		logger:     logger,
		gyroNoise:  params.GyroNoise,
		accelNoise: params.AccelNoise,
		gyroWalk:   params.GyroBiasWalk,
		accelWalk:  params.AccelBiasWalk,
	}
}

// Integrate folds the run of samples covering [start, end] into a Delta. The
// run must be chronological; a sample that does not advance time is dropped
// and logged, never integrated. An empty run over a zero-length interval
// yields the identity delta with zero covariance.
func (p *Preintegrator) Integrate(run []Sample, bias Bias, start, end time.Time) (Delta, error) {
	d := NewIdentityDelta(bias)
	if len(run) == 0 {
		return d, nil
	}
	cur := start
	for i, s := range run {
		stamp := s.Stamp
		if i == 0 {
			// the first sample's reading covers the stretch from the interval
			// start, which SetStart aligned with the buffer front
			stamp = start
		}
		if stamp.Before(cur) {
			p.logger.Debugw("dropping non-monotonic sample", "stamp", s.Stamp.UnixNano())
			continue
		}
		// each reading holds until the next strictly newer sample, or the
		// interval end for the last one
		next := end
		for k := i + 1; k < len(run); k++ {
			if run[k].Stamp.After(stamp) {
				next = run[k].Stamp
				break
			}
		}
		if next.After(end) {
			next = end
		}
		dt := next.Sub(stamp).Seconds()
		if dt < 0 {
			p.logger.Debugw("dropping sample past the interval end", "stamp", s.Stamp.UnixNano())
			continue
		}
		p.step(&d, s, bias, dt)
		cur = next
	}
	// the delta spans the full interval even when sample stamps carry
	// sub-nanosecond rounding
	d.Dur = end.Sub(start)
	if err := checkDeltaFinite(&d); err != nil {
		return Delta{}, err
	}
	return d, nil
}

// step advances the delta mean, covariance, and bias Jacobians by one sample
// held over dt seconds.
func (p *Preintegrator) step(d *Delta, s Sample, bias Bias, dt float64) {
	if dt == 0 {
		return
	}
	w := s.AngularVelocity.Sub(bias.Gyro)
	a := s.LinearAcceleration.Sub(bias.Accel)
	wdt := w.Mul(dt)
	dq := spatialmath.Exp(wdt)
	rot := spatialmath.RotationMatrix(d.Rot)
	var rotDqT mat.Dense
	rotDqT.CloneFrom(spatialmath.RotationMatrix(dq).T())
	jr := spatialmath.RightJacobian(wdt)
	var rotSkewA mat.Dense
	rotSkewA.Mul(rot, spatialmath.Skew(a))

	p.propagateCovariance(d, &rotDqT, rot, &rotSkewA, jr, dt)
	propagateJacobian(d, &rotDqT, rot, &rotSkewA, jr, dt)

	// rotate the specific force with the half-step attitude; the midpoint
	// frame keeps the velocity and position sums second-order accurate
	qHalf := spatialmath.Normalize(quat.Mul(d.Rot, spatialmath.Exp(w.Mul(dt/2))))
	ra := spatialmath.RotateVec(qHalf, a)
	d.Pos = d.Pos.Add(d.Vel.Mul(dt)).Add(ra.Mul(0.5 * dt * dt))
	d.Vel = d.Vel.Add(ra.Mul(dt))
	d.Rot = spatialmath.Normalize(quat.Mul(d.Rot, dq))
}

// propagateCovariance advances the 15-d error-state covariance through the
// linearized step dynamics: cov = A cov A^T + B Q B^T, plus the additive bias
// random walk blocks.
func (p *Preintegrator) propagateCovariance(d *Delta, rotDqT, rot, rotSkewA, jr *mat.Dense, dt float64) {
	a15 := identityDense(fusion.ErrorDim)
	setBlock(a15, thetaOff, thetaOff, rotDqT)
	setScaledBlock(a15, thetaOff, bgOff, jr, -dt)
	setScaledBlock(a15, posOff, thetaOff, rotSkewA, -0.5*dt*dt)
	setScaledBlock(a15, posOff, velOff, identityDense(3), dt)
	setScaledBlock(a15, posOff, baOff, rot, -0.5*dt*dt)
	setScaledBlock(a15, velOff, thetaOff, rotSkewA, -dt)
	setScaledBlock(a15, velOff, baOff, rot, -dt)

	b := mat.NewDense(fusion.ErrorDim, 6, nil)
	setScaledBlock(b, thetaOff, 0, jr, dt)
	setScaledBlock(b, posOff, 3, rot, 0.5*dt*dt)
	setScaledBlock(b, velOff, 3, rot, dt)

	// continuous noise densities over a discrete step
	dtn := math.Max(dt, minNoiseDt)
	q := mat.NewDense(6, 6, nil)
	q.Set(0, 0, p.gyroNoise.X/dtn)
	q.Set(1, 1, p.gyroNoise.Y/dtn)
	q.Set(2, 2, p.gyroNoise.Z/dtn)
	q.Set(3, 3, p.accelNoise.X/dtn)
	q.Set(4, 4, p.accelNoise.Y/dtn)
	q.Set(5, 5, p.accelNoise.Z/dtn)

	var ac, acat, bq, bqbt mat.Dense
	ac.Mul(a15, d.Covariance)
	acat.Mul(&ac, a15.T())
	bq.Mul(b, q)
	bqbt.Mul(&bq, b.T())

	next := mat.NewSymDense(fusion.ErrorDim, nil)
	for i := 0; i < fusion.ErrorDim; i++ {
		for j := i; j < fusion.ErrorDim; j++ {
			// average the off-diagonal pair so roundoff cannot break symmetry
			v := 0.5 * (acat.At(i, j) + acat.At(j, i) + bqbt.At(i, j) + bqbt.At(j, i))
			next.SetSym(i, j, v)
		}
	}
	next.SetSym(bgOff, bgOff, next.At(bgOff, bgOff)+p.gyroWalk.X*dt)
	next.SetSym(bgOff+1, bgOff+1, next.At(bgOff+1, bgOff+1)+p.gyroWalk.Y*dt)
	next.SetSym(bgOff+2, bgOff+2, next.At(bgOff+2, bgOff+2)+p.gyroWalk.Z*dt)
	next.SetSym(baOff, baOff, next.At(baOff, baOff)+p.accelWalk.X*dt)
	next.SetSym(baOff+1, baOff+1, next.At(baOff+1, baOff+1)+p.accelWalk.Y*dt)
	next.SetSym(baOff+2, baOff+2, next.At(baOff+2, baOff+2)+p.accelWalk.Z*dt)
	d.Covariance = next
}

// propagateJacobian advances the bias Jacobians one step. The position and
// velocity rows must update before the rotation row, which they read.
func propagateJacobian(d *Delta, rotDqT, rot, rotSkewA *mat.Dense, jr *mat.Dense, dt float64) {
	j := &d.Jacobian

	var rsJq mat.Dense
	rsJq.Mul(rotSkewA, j.RotGyro)

	addScaled(j.PosGyro, j.VelGyro, dt)
	addScaled(j.PosGyro, &rsJq, -0.5*dt*dt)
	addScaled(j.PosAccel, j.VelAccel, dt)
	addScaled(j.PosAccel, rot, -0.5*dt*dt)
	addScaled(j.VelGyro, &rsJq, -dt)
	addScaled(j.VelAccel, rot, -dt)

	var rotated mat.Dense
	rotated.Mul(rotDqT, j.RotGyro)
	var next mat.Dense
	next.Scale(-dt, jr)
	next.Add(&next, &rotated)
	j.RotGyro.CloneFrom(&next)
}

func checkDeltaFinite(d *Delta) error {
	if !spatialmath.QuaternionFinite(d.Rot) {
		return &NumericError{Op: "preintegration", Detail: "delta rotation is not finite"}
	}
	if !spatialmath.VectorFinite(d.Pos) || !spatialmath.VectorFinite(d.Vel) {
		return &NumericError{Op: "preintegration", Detail: "delta translation or velocity is not finite"}
	}
	for i := 0; i < fusion.ErrorDim; i++ {
		v := d.Covariance.At(i, i)
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return &NumericError{Op: "preintegration", Detail: "covariance diagonal is not positive semidefinite"}
		}
	}
	return nil
}

func identityDense(n int) *mat.Dense {
	out := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		out.Set(i, i, 1)
	}
	return out
}

// setBlock copies a 3x3 block into dst at the given offsets.
func setBlock(dst *mat.Dense, row, col int, block mat.Matrix) {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			dst.Set(row+i, col+j, block.At(i, j))
		}
	}
}

// setScaledBlock copies scale*block into dst at the given offsets.
func setScaledBlock(dst *mat.Dense, row, col int, block mat.Matrix, scale float64) {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			dst.Set(row+i, col+j, scale*block.At(i, j))
		}
	}
}

// addScaled accumulates dst += scale*src for 3x3 matrices.
func addScaled(dst *mat.Dense, src mat.Matrix, scale float64) {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			dst.Set(i, j, dst.At(i, j)+scale*src.At(i, j))
		}
	}
}

// mulVec returns the 3x3 matrix m applied to v.
func mulVec(m *mat.Dense, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m.At(0, 0)*v.X + m.At(0, 1)*v.Y + m.At(0, 2)*v.Z,
		Y: m.At(1, 0)*v.X + m.At(1, 1)*v.Y + m.At(1, 2)*v.Z,
		Z: m.At(2, 0)*v.X + m.At(2, 1)*v.Y + m.At(2, 2)*v.Z,
	}
}
