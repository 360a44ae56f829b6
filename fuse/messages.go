package fuse

import (
	"time"

	"github.com/darshanj95/PiDrone/quat"
)

// IMUReading is one inertial measurement delivered by the transport layer.
type IMUReading struct {
	// Stamp is the time at which the reading was recorded
	Stamp time.Time
	// Accel is linear acceleration along the body frame axes [m/s^2]
	Accel [3]float64
	// Orientation is the sensed attitude as a unit quaternion
	Orientation quat.Quat
}

// FlowReading is one planar velocity estimate derived from optical flow.
type FlowReading struct {
	// Stamp is the time at which the reading was recorded
	Stamp time.Time
	// VX is velocity along the x axis [m/s]
	VX float64
	// VY is velocity along the y axis [m/s]
	VY float64
	// YawRate is angular velocity about the z axis [rad/s]
	YawRate float64
}

// RangeReading is one slant range reading from the downward facing
// infrared rangefinder.
type RangeReading struct {
	// Stamp is the time at which the reading was recorded
	Stamp time.Time
	// Range is the distance to the ground along the sensor beam [m]
	Range float64
}

// StateEstimate is the published vehicle state. Orientation is derived from
// the internal roll/pitch/yaw estimate. The estimate covariance is not part
// of the message; consumers must not assume it is populated.
type StateEstimate struct {
	// Stamp is the timestamp of the most recently fused reading
	Stamp time.Time
	// Position is x, y, z in the global frame [m]
	Position [3]float64
	// Velocity is linear velocity in the global frame [m/s]
	Velocity [3]float64
	// Orientation is the estimated attitude as a unit quaternion
	Orientation quat.Quat
	// AngularVelocity is roll, pitch and yaw rates [deg/s]
	AngularVelocity [3]float64
}
