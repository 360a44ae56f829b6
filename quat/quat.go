// Package quat converts between unit quaternions and the Tait-Bryan Euler
// angles (Z-Y-X order) used by the vehicle state vector. Angles cross this
// package boundary in degrees, matching the state vector convention.
package quat

import "math"

// Quat is a rotation quaternion with scalar part W.
type Quat struct {
	W float64
	X float64
	Y float64
	Z float64
}

// FromEuler calculates the quaternion corresponding to the Tait-Bryan angles
// roll, pitch and yaw given in degrees.
func FromEuler(rollDeg, pitchDeg, yawDeg float64) Quat {
	phi := rollDeg * math.Pi / 180
	theta := pitchDeg * math.Pi / 180
	psi := yawDeg * math.Pi / 180

	cphi := math.Cos(phi / 2)
	sphi := math.Sin(phi / 2)
	ctheta := math.Cos(theta / 2)
	stheta := math.Sin(theta / 2)
	cpsi := math.Cos(psi / 2)
	spsi := math.Sin(psi / 2)

	return Quat{
		W: cphi*ctheta*cpsi + sphi*stheta*spsi,
		X: sphi*ctheta*cpsi - cphi*stheta*spsi,
		Y: cphi*stheta*cpsi + sphi*ctheta*spsi,
		Z: cphi*ctheta*spsi - sphi*stheta*cpsi,
	}
}

// Euler calculates the Tait-Bryan angles roll, pitch and yaw in degrees
// corresponding to the quaternion.
func (q Quat) Euler() (rollDeg, pitchDeg, yawDeg float64) {
	phi := math.Atan2(2*(q.W*q.X+q.Y*q.Z), 1-2*(q.X*q.X+q.Y*q.Y))

	// clamp to keep Asin defined in the presence of rounding error
	s := 2 * (q.W*q.Y - q.Z*q.X)
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	theta := math.Asin(s)

	psi := math.Atan2(2*(q.W*q.Z+q.X*q.Y), 1-2*(q.Y*q.Y+q.Z*q.Z))

	return phi * 180 / math.Pi, theta * 180 / math.Pi, psi * 180 / math.Pi
}

// Norm returns the quaternion norm.
func (q Quat) Norm() float64 {
	return math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
}

// Normalize returns q scaled to unit norm. The zero quaternion is returned
// unchanged.
func (q Quat) Normalize() Quat {
	n := q.Norm()
	if n == 0 {
		return q
	}

	return Quat{W: q.W / n, X: q.X / n, Y: q.Y / n, Z: q.Z / n}
}

// IsZero reports whether all quaternion components are zero.
func (q Quat) IsZero() bool {
	return q.W == 0 && q.X == 0 && q.Y == 0 && q.Z == 0
}
