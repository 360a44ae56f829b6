package filter

import "gonum.org/v1/gonum/mat"

// Filter is a recursive state filter driven by asynchronous sensor arrivals.
type Filter interface {
	// Predict propagates the filter state dt seconds forward given control input u
	Predict(dt float64, u mat.Vector) (Estimate, error)
	// Update corrects the filter state with measurement z observed through model m
	Update(z mat.Vector, m MeasurementModel) (Estimate, error)
}

// Propagator propagates internal state of the system to the next step
type Propagator interface {
	// Propagate propagates state x to the next step given control input u and elapsed time dt
	Propagate(x, u mat.Vector, dt float64) (mat.Vector, error)
}

// MeasurementModel maps the full system state into the observation space of a
// single sensor modality. The observation function and its fixed measurement
// noise covariance travel together so the estimator can be handed one value
// per sensor arrival.
type MeasurementModel interface {
	// Observe returns the expected measurement for state x
	Observe(x mat.Vector) (mat.Vector, error)
	// Cov returns measurement noise covariance
	Cov() mat.Symmetric
	// Dims returns the dimension of the observation vector
	Dims() int
}

// InitCond is initial state condition of the filter
type InitCond interface {
	// State returns initial filter state
	State() mat.Vector
	// Cov returns initial state covariance
	Cov() mat.Symmetric
}

// Estimate is dynamical system filter estimate
type Estimate interface {
	// Val returns estimate value
	Val() mat.Vector
	// Cov returns estimate covariance
	Cov() mat.Symmetric
}

// Noise is dynamical system noise
type Noise interface {
	// Mean returns noise mean
	Mean() []float64
	// Cov returns covariance matrix of the noise
	Cov() mat.Symmetric
	// Sample returns a sample of the noise
	Sample() mat.Vector
	// Reset resets the noise
	Reset()
}
