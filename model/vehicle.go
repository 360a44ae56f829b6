package model

import (
	"fmt"

	"github.com/milosgajdos/matrix"
	"gonum.org/v1/gonum/mat"
)

// State vector component indices. Orientation components hold Euler angles
// in degrees throughout; conversion to radians happens only inside the
// functions that need trigonometry.
const (
	X = iota
	Y
	Z
	VX
	VY
	VZ
	Roll
	Pitch
	Yaw
	RollRate
	PitchRate
	YawRate
)

// Dim is the dimension of the vehicle state vector
const Dim = 12

// CtlDim is the dimension of the control input vector: specific force along
// the three body frame axes.
const CtlDim = 3

// Vehicle is the nonlinear process model of a small aerial vehicle tracking
// position, linear velocity, orientation and angular velocity.
// It implements filter.Propagator.
type Vehicle struct{}

// NewVehicle creates new Vehicle model and returns it
func NewVehicle() *Vehicle {
	return &Vehicle{}
}

// Propagate advances state x by dt seconds given control input u, the last
// known specific force in the body frame, and returns the propagated state.
// Position is advanced by velocity, orientation by angular velocity; the
// control input is rotated into the global frame and displaces linear
// velocity only. This is a first-order Euler integration step: it trades
// accuracy for compute cost at the target sensor rates.
// It returns error if x or u have invalid dimensions.
func (v *Vehicle) Propagate(x, u mat.Vector, dt float64) (mat.Vector, error) {
	if x == nil || x.Len() != Dim {
		return nil, fmt.Errorf("invalid state vector: %v", x)
	}

	if u != nil && u.Len() != CtlDim {
		return nil, fmt.Errorf("invalid control input vector: %v", u)
	}

	// transition matrix: identity plus dt on the (position, velocity) and
	// (orientation, angular velocity) coupling entries
	f, err := matrix.NewDenseValIdentity(Dim, 1.0)
	if err != nil {
		return nil, fmt.Errorf("failed to create transition matrix: %v", err)
	}
	f.Set(X, VX, dt)
	f.Set(Y, VY, dt)
	f.Set(Z, VZ, dt)
	f.Set(Roll, RollRate, dt)
	f.Set(Pitch, PitchRate, dt)
	f.Set(Yaw, YawRate, dt)

	out := new(mat.Dense)
	out.Mul(f, x)

	next := mat.VecDenseCopyOf(out.ColView(0))

	if u != nil {
		// the control input acts in the body frame: rotate it into the
		// global frame using the current attitude estimate
		accel := RotateToGlobal(u, x.AtVec(Roll), x.AtVec(Pitch), x.AtVec(Yaw))
		next.SetVec(VX, next.AtVec(VX)+accel.AtVec(0)*dt)
		next.SetVec(VY, next.AtVec(VY)+accel.AtVec(1)*dt)
		next.SetVec(VZ, next.AtVec(VZ)+accel.AtVec(2)*dt)
	}

	return next, nil
}
