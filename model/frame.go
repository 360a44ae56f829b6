package model

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// RotateToGlobal rotates body frame vector v into the global frame given the
// vehicle attitude as roll, pitch and yaw in degrees.
// The rotation is the composition Rz(yaw) * Ry(pitch) * Rx(roll) applied to
// v; the composition order carries the physical meaning and must not change.
func RotateToGlobal(v mat.Vector, rollDeg, pitchDeg, yawDeg float64) mat.Vector {
	phi := degToRad(rollDeg)
	theta := degToRad(pitchDeg)
	psi := degToRad(yawDeg)

	rx := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, math.Cos(phi), -math.Sin(phi),
		0, math.Sin(phi), math.Cos(phi),
	})
	ry := mat.NewDense(3, 3, []float64{
		math.Cos(theta), 0, math.Sin(theta),
		0, 1, 0,
		-math.Sin(theta), 0, math.Cos(theta),
	})
	rz := mat.NewDense(3, 3, []float64{
		math.Cos(psi), -math.Sin(psi), 0,
		math.Sin(psi), math.Cos(psi), 0,
		0, 0, 1,
	})

	zy := new(mat.Dense)
	zy.Mul(rz, ry)
	zyx := new(mat.Dense)
	zyx.Mul(zy, rx)

	out := new(mat.Dense)
	out.Mul(zyx, v)

	return mat.VecDenseCopyOf(out.ColView(0))
}

func degToRad(deg float64) float64 {
	return deg * math.Pi / 180
}
