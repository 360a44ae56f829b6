package model

import (
	"gonum.org/v1/gonum/mat"
)

// InitCond implements filter.InitCond
type InitCond struct {
	state *mat.VecDense
	cov   *mat.SymDense
}

// NewInitCond creates new InitCond and returns it
func NewInitCond(state mat.Vector, cov mat.Symmetric) *InitCond {
	s := &mat.VecDense{}
	s.CloneFromVec(state)

	c := mat.NewSymDense(cov.SymmetricDim(), nil)
	c.CopySym(cov)

	return &InitCond{
		state: s,
		cov:   c,
	}
}

// NewZeroInitCond creates an InitCond with a zero state vector of the vehicle
// state dimension and the diagonal covariance given by diag. The estimator
// starts from a zero state at startup; diag expresses how uncertain each
// state component is before any sensor has been fused.
func NewZeroInitCond(diag []float64) *InitCond {
	cov := mat.NewSymDense(Dim, nil)
	for i := 0; i < Dim && i < len(diag); i++ {
		cov.SetSym(i, i, diag[i])
	}

	return NewInitCond(mat.NewVecDense(Dim, nil), cov)
}

// State returns initial state
func (c *InitCond) State() mat.Vector {
	state := mat.NewVecDense(c.state.Len(), nil)
	state.CopyVec(c.state)

	return state
}

// Cov returns initial covariance
func (c *InitCond) Cov() mat.Symmetric {
	cov := mat.NewSymDense(c.cov.SymmetricDim(), nil)
	cov.CopySym(c.cov)

	return cov
}
