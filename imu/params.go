package imu

import (
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/fieldsense/inertial/spatialmath"
)

// DefaultGravity is the standard gravitational acceleration in m/s^2, used
// when a Params does not override it.
const DefaultGravity = 9.80665

// defaultHistorySize bounds the window of retained registered states.
const defaultHistorySize = 10

// Params is the immutable configuration of an Engine, fixed at construction.
// Noise fields are continuous-time noise variance densities per axis; they
// seed the error-state covariance propagation.
type Params struct {
	// Source tags every variable and constraint the engine emits and feeds
	// variable identity. Required.
	Source string `yaml:"source"`

	GyroNoise     r3.Vector `yaml:"gyro_noise"`
	AccelNoise    r3.Vector `yaml:"accel_noise"`
	GyroBiasWalk  r3.Vector `yaml:"gyro_bias_walk"`
	AccelBiasWalk r3.Vector `yaml:"accel_bias_walk"`

	// Gravity is the gravitational acceleration magnitude. Zero means
	// DefaultGravity; gravity always points along -Z in the world frame.
	Gravity float64 `yaml:"gravity"`

	// MaxBufferSpan bounds the time span of buffered samples. Zero disables
	// the bound and leaves backpressure entirely to the caller.
	MaxBufferSpan time.Duration `yaml:"max_buffer_span"`

	// HistorySize caps the window of recently registered states retained for
	// diagnostics. Zero means defaultHistorySize.
	HistorySize int `yaml:"history_size"`

	// Extrinsic maps the sensor frame into the body frame reported by
	// GetPose. Nil means identity.
	Extrinsic *spatialmath.Pose `yaml:"-"`

	// StateHook, if set, observes each state the engine registers. It is an
	// external side effect only; the engine ignores anything it does.
	StateHook func(State) `yaml:"-"`
}

// Validate checks the configuration, combining all problems found.
func (p Params) Validate(path string) error {
	var err error
	if p.Source == "" {
		err = multierr.Append(err, goutils.NewConfigValidationFieldRequiredError(path, "source"))
	}
	if p.Gravity < 0 {
		err = multierr.Append(err, goutils.NewConfigValidationError(path, errors.New("gravity must be non-negative")))
	}
	if p.MaxBufferSpan < 0 {
		err = multierr.Append(err, goutils.NewConfigValidationError(path, errors.New("max_buffer_span must be non-negative")))
	}
	if p.HistorySize < 0 {
		err = multierr.Append(err, goutils.NewConfigValidationError(path, errors.New("history_size must be non-negative")))
	}
	for _, noise := range []struct {
		name string
		vec  r3.Vector
	}{
		{"gyro_noise", p.GyroNoise},
		{"accel_noise", p.AccelNoise},
		{"gyro_bias_walk", p.GyroBiasWalk},
		{"accel_bias_walk", p.AccelBiasWalk},
	} {
		if noise.vec.X < 0 || noise.vec.Y < 0 || noise.vec.Z < 0 {
			err = multierr.Append(err, goutils.NewConfigValidationError(path,
				errors.Errorf("%s densities must be non-negative", noise.name)))
		}
	}
	return err
}

// gravity returns the world-frame gravity vector.
func (p Params) gravity() r3.Vector {
	g := p.Gravity
	if g == 0 {
		g = DefaultGravity
	}
	return r3.Vector{Z: -g}
}
