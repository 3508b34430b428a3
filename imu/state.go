package imu

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"github.com/fieldsense/inertial/fusion"
	"github.com/fieldsense/inertial/spatialmath"
)

// State is the full kinematic and bias snapshot at one instant: orientation,
// position, velocity, and the two inertial biases. The orientation is kept
// unit-norm at all times. States are created at SetStart and at each factor
// registration and are mutated only through setters or Update.
type State struct {
	stamp       time.Time
	source      string
	orientation quat.Number
	position    r3.Vector
	velocity    r3.Vector
	gyroBias    r3.Vector
	accelBias   r3.Vector
	updates     int
}

// NewState returns a state at the given stamp with identity orientation and
// zero position, velocity, and biases.
func NewState(stamp time.Time, source string) State {
	return State{stamp: stamp, source: source, orientation: spatialmath.NewZeroRotation()}
}

// NewStateWithKinematics returns a state with the given orientation, position,
// and velocity and zero biases.
func NewStateWithKinematics(
	stamp time.Time,
	source string,
	orientation quat.Number,
	position, velocity r3.Vector,
) State {
	s := NewState(stamp, source)
	s.SetOrientation(orientation)
	s.SetPosition(position)
	s.SetVelocity(velocity)
	return s
}

// Stamp returns the state timestamp.
func (s *State) Stamp() time.Time { return s.stamp }

// Source returns the source tag the state's variables belong to.
func (s *State) Source() string { return s.source }

// Updates returns how many times an optimizer solution has overwritten this
// state.
func (s *State) Updates() int { return s.updates }

// Orientation returns the unit orientation quaternion.
func (s *State) Orientation() quat.Number { return s.orientation }

// Position returns the position vector.
func (s *State) Position() r3.Vector { return s.position }

// Velocity returns the velocity vector.
func (s *State) Velocity() r3.Vector { return s.velocity }

// GyroBias returns the gyroscope bias vector.
func (s *State) GyroBias() r3.Vector { return s.gyroBias }

// AccelBias returns the accelerometer bias vector.
func (s *State) AccelBias() r3.Vector { return s.accelBias }

// Bias returns both bias estimates.
func (s *State) Bias() Bias { return Bias{Gyro: s.gyroBias, Accel: s.accelBias} }

// OrientationValues returns the orientation as [w x y z].
func (s *State) OrientationValues() []float64 {
	return []float64{s.orientation.Real, s.orientation.Imag, s.orientation.Jmag, s.orientation.Kmag}
}

// PositionValues returns the position as [x y z].
func (s *State) PositionValues() []float64 { return vectorValues(s.position) }

// VelocityValues returns the velocity as [x y z].
func (s *State) VelocityValues() []float64 { return vectorValues(s.velocity) }

// GyroBiasValues returns the gyroscope bias as [x y z].
func (s *State) GyroBiasValues() []float64 { return vectorValues(s.gyroBias) }

// AccelBiasValues returns the accelerometer bias as [x y z].
func (s *State) AccelBiasValues() []float64 { return vectorValues(s.accelBias) }

// SetOrientation sets the orientation, renormalizing it.
func (s *State) SetOrientation(q quat.Number) {
	s.orientation = spatialmath.Normalize(q)
}

// SetOrientationScalars sets the orientation from w, x, y, z components.
func (s *State) SetOrientationScalars(w, x, y, z float64) {
	s.SetOrientation(quat.Number{Real: w, Imag: x, Jmag: y, Kmag: z})
}

// SetOrientationValues sets the orientation from a [w x y z] slice.
func (s *State) SetOrientationValues(values []float64) error {
	if len(values) != 4 {
		return fmt.Errorf("orientation needs 4 values, got %d", len(values))
	}
	s.SetOrientationScalars(values[0], values[1], values[2], values[3])
	return nil
}

// SetPosition sets the position.
func (s *State) SetPosition(v r3.Vector) { s.position = v }

// SetPositionScalars sets the position from x, y, z components.
func (s *State) SetPositionScalars(x, y, z float64) { s.position = r3.Vector{X: x, Y: y, Z: z} }

// SetPositionValues sets the position from a [x y z] slice.
func (s *State) SetPositionValues(values []float64) error {
	return setVectorValues(&s.position, "position", values)
}

// SetVelocity sets the velocity.
func (s *State) SetVelocity(v r3.Vector) { s.velocity = v }

// SetVelocityScalars sets the velocity from x, y, z components.
func (s *State) SetVelocityScalars(x, y, z float64) { s.velocity = r3.Vector{X: x, Y: y, Z: z} }

// SetVelocityValues sets the velocity from a [x y z] slice.
func (s *State) SetVelocityValues(values []float64) error {
	return setVectorValues(&s.velocity, "velocity", values)
}

// SetGyroBias sets the gyroscope bias.
func (s *State) SetGyroBias(v r3.Vector) { s.gyroBias = v }

// SetGyroBiasScalars sets the gyroscope bias from x, y, z components.
func (s *State) SetGyroBiasScalars(x, y, z float64) { s.gyroBias = r3.Vector{X: x, Y: y, Z: z} }

// SetGyroBiasValues sets the gyroscope bias from a [x y z] slice.
func (s *State) SetGyroBiasValues(values []float64) error {
	return setVectorValues(&s.gyroBias, "gyro bias", values)
}

// SetAccelBias sets the accelerometer bias.
func (s *State) SetAccelBias(v r3.Vector) { s.accelBias = v }

// SetAccelBiasScalars sets the accelerometer bias from x, y, z components.
func (s *State) SetAccelBiasScalars(x, y, z float64) { s.accelBias = r3.Vector{X: x, Y: y, Z: z} }

// SetAccelBiasValues sets the accelerometer bias from a [x y z] slice.
func (s *State) SetAccelBiasValues(values []float64) error {
	return setVectorValues(&s.accelBias, "accel bias", values)
}

// Variable returns the fusion variable of the given kind for this state.
func (s *State) Variable(kind fusion.VariableKind) fusion.Variable {
	var values []float64
	switch kind {
	case fusion.Orientation:
		values = s.OrientationValues()
	case fusion.Position:
		values = s.PositionValues()
	case fusion.Velocity:
		values = s.VelocityValues()
	case fusion.GyroBias:
		values = s.GyroBiasValues()
	case fusion.AccelBias:
		values = s.AccelBiasValues()
	default:
		panic(fmt.Sprintf("unknown variable kind %d", int(kind)))
	}
	v, err := fusion.NewVariable(kind, s.stamp, s.source, values)
	if err != nil {
		panic(err) // dimensions are fixed above
	}
	return v
}

// Variables returns all five fusion variables in canonical state order.
func (s *State) Variables() []fusion.Variable {
	out := make([]fusion.Variable, 0, len(fusion.AllVariableKinds))
	for _, kind := range fusion.AllVariableKinds {
		out = append(out, s.Variable(kind))
	}
	return out
}

// MeanValues returns the 16-d stacked state value [q p v bg ba].
func (s *State) MeanValues() []float64 {
	out := make([]float64, 0, fusion.StateDim)
	out = append(out, s.OrientationValues()...)
	out = append(out, s.PositionValues()...)
	out = append(out, s.VelocityValues()...)
	out = append(out, s.GyroBiasValues()...)
	out = append(out, s.AccelBiasValues()...)
	return out
}

// Update looks up this state's variables in an optimizer solution and
// overwrites the local values. If any of the five identities is missing, the
// state is left untouched and Update returns false; callers keep the prior
// estimate. On success the update counter increments.
func (s *State) Update(solution fusion.Solution) bool {
	ids := make([]struct {
		kind fusion.VariableKind
		vals []float64
	}, 0, len(fusion.AllVariableKinds))
	for _, kind := range fusion.AllVariableKinds {
		vals, ok := solution.Lookup(s.Variable(kind).UUID())
		if !ok || len(vals) != kind.Dim() {
			return false
		}
		ids = append(ids, struct {
			kind fusion.VariableKind
			vals []float64
		}{kind, vals})
	}
	for _, entry := range ids {
		switch entry.kind {
		case fusion.Orientation:
			s.SetOrientationScalars(entry.vals[0], entry.vals[1], entry.vals[2], entry.vals[3])
		case fusion.Position:
			s.SetPositionScalars(entry.vals[0], entry.vals[1], entry.vals[2])
		case fusion.Velocity:
			s.SetVelocityScalars(entry.vals[0], entry.vals[1], entry.vals[2])
		case fusion.GyroBias:
			s.SetGyroBiasScalars(entry.vals[0], entry.vals[1], entry.vals[2])
		case fusion.AccelBias:
			s.SetAccelBiasScalars(entry.vals[0], entry.vals[1], entry.vals[2])
		default:
			panic(fmt.Sprintf("unknown variable kind %d", int(entry.kind)))
		}
	}
	s.updates++
	return true
}

// String renders the state for diagnostics.
func (s *State) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "state[%s] t=%v updates=%d\n", s.source, s.stamp.UnixNano(), s.updates)
	fmt.Fprintf(&b, "  orientation: [%.6f %.6f %.6f %.6f]\n",
		s.orientation.Real, s.orientation.Imag, s.orientation.Jmag, s.orientation.Kmag)
	fmt.Fprintf(&b, "  position:    [%.6f %.6f %.6f]\n", s.position.X, s.position.Y, s.position.Z)
	fmt.Fprintf(&b, "  velocity:    [%.6f %.6f %.6f]\n", s.velocity.X, s.velocity.Y, s.velocity.Z)
	fmt.Fprintf(&b, "  gyro bias:   [%.6f %.6f %.6f]\n", s.gyroBias.X, s.gyroBias.Y, s.gyroBias.Z)
	fmt.Fprintf(&b, "  accel bias:  [%.6f %.6f %.6f]", s.accelBias.X, s.accelBias.Y, s.accelBias.Z)
	return b.String()
}

func vectorValues(v r3.Vector) []float64 {
	return []float64{v.X, v.Y, v.Z}
}

func setVectorValues(dst *r3.Vector, what string, values []float64) error {
	if len(values) != 3 {
		return fmt.Errorf("%s needs 3 values, got %d", what, len(values))
	}
	*dst = r3.Vector{X: values[0], Y: values[1], Z: values[2]}
	return nil
}
