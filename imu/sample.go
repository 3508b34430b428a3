// Package imu implements inertial state estimation by preintegration: it
// folds a high-rate stream of raw inertial samples into compact relative
// motion deltas with calibrated uncertainty, predicts full kinematic states at
// query times, and emits the variable/constraint transactions a factor-graph
// optimizer consumes.
package imu

import (
	"time"

	"github.com/golang/geo/r3"
)

// Sample is one raw inertial measurement. Angular velocity is in rad/s and
// linear acceleration in m/s^2, both in the sensor body frame; the
// acceleration is specific force, so gravity is included. Samples are
// immutable once recorded.
type Sample struct {
	Stamp              time.Time
	AngularVelocity    r3.Vector
	LinearAcceleration r3.Vector
}

// Bias pairs the gyroscope and accelerometer bias estimates carried by a
// state and frozen over one preintegration interval.
type Bias struct {
	Gyro  r3.Vector
	Accel r3.Vector
}

// Sub returns the component-wise difference b - o.
func (b Bias) Sub(o Bias) Bias {
	return Bias{Gyro: b.Gyro.Sub(o.Gyro), Accel: b.Accel.Sub(o.Accel)}
}
