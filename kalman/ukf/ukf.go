package ukf

import (
	"errors"
	"fmt"
	"math"

	filter "github.com/darshanj95/PiDrone"
	"github.com/darshanj95/PiDrone/estimate"
	"github.com/darshanj95/PiDrone/noise"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrNoPrior is returned when Update is called before any prediction
	// has been made: the filter has no prior to correct.
	ErrNoPrior = errors.New("no prior computed: Update called before Predict")
	// ErrBadInterval is returned when Predict is called with a negative or
	// non-finite time interval.
	ErrBadInterval = errors.New("invalid prediction time interval")
)

// covJitter is added to the covariance diagonal when recovering from a
// failed matrix decomposition.
const covJitter = 1e-9

// status tracks the filter control state: Update requires that at least one
// prior has been computed by Predict.
type status int

const (
	statusInitial status = iota
	statusPriorComputed
)

// Config contains UKF [unitless] sigma point spread configuration parameters
type Config struct {
	// Alpha is alpha parameter (0,1]
	Alpha float64
	// Beta is beta parameter (2 is optimal choice for Gaussian)
	Beta float64
	// Kappa is kappa parameter (must be non-negative)
	Kappa float64
}

// UKF is an Unscented (aka Sigma Point) Kalman Filter.
// It owns the state mean, the state covariance and the process noise
// covariance; both mean and covariance are mutated exclusively by Predict
// and Update.
type UKF struct {
	// prop propagates state through the nonlinear process model
	prop filter.Propagator
	// q is process noise
	q filter.Noise
	// gamma is the square root sigma point covariance scaling factor
	gamma float64
	// Wm0 is mean sigma point weight
	Wm0 float64
	// Wc0 is mean sigma point covariance weight
	Wc0 float64
	// W is weight of the remaining sigma points and covariances
	W float64
	// x is the state mean
	x *mat.VecDense
	// p is the state covariance matrix
	p *mat.SymDense
	// pGood is the last known good covariance, used to recover from
	// decomposition failures
	pGood *mat.SymDense
	// inn is the most recent innovation vector
	inn *mat.VecDense
	// k is the most recent Kalman gain
	k *mat.Dense
	// status records whether a prior has been computed
	status status
}

// New creates new UKF and returns it.
// It accepts the following arguments:
//   - prop:  nonlinear state transition a.k.a. process model
//   - init:  initial condition of the filter
//   - q:     process noise; if nil, zero process noise is assumed
//   - c:     sigma point spread configuration
//
// It returns error if the initial condition or the configuration is invalid
// or if the process noise dimension does not match the state dimension.
func New(prop filter.Propagator, init filter.InitCond, q filter.Noise, c *Config) (*UKF, error) {
	if prop == nil {
		return nil, fmt.Errorf("invalid propagator: %v", prop)
	}

	n := init.State().Len()
	if n <= 0 || init.Cov().SymmetricDim() != n {
		return nil, fmt.Errorf("invalid initial condition dimensions: state %d, cov %d", n, init.Cov().SymmetricDim())
	}

	if c.Alpha <= 0 || c.Beta < 0 || c.Kappa < 0 {
		return nil, fmt.Errorf("invalid config supplied: %+v", c)
	}

	if q != nil {
		if q.Cov().SymmetricDim() != n {
			return nil, fmt.Errorf("invalid process noise dimension: %d != %d", q.Cov().SymmetricDim(), n)
		}
	} else {
		q, _ = noise.NewZero(n)
	}

	// lambda is another unitless UKF parameter calculated from the config ones
	lambda := c.Alpha*c.Alpha*(float64(n)+c.Kappa) - float64(n)
	gamma := math.Sqrt(float64(n) + lambda)

	// weight of the mean sigma point
	Wm0 := lambda / (float64(n) + lambda)
	// weight of the mean sigma point covariance
	Wc0 := Wm0 + (1 - c.Alpha*c.Alpha + c.Beta)
	// weight of the rest of the sigma points and covariances
	W := 1 / (2 * (float64(n) + lambda))

	x := mat.NewVecDense(n, nil)
	x.CopyVec(init.State())

	p := mat.NewSymDense(n, nil)
	p.CopySym(init.Cov())

	pGood := mat.NewSymDense(n, nil)
	pGood.CopySym(init.Cov())

	return &UKF{
		prop:   prop,
		q:      q,
		gamma:  gamma,
		Wm0:    Wm0,
		Wc0:    Wc0,
		W:      W,
		x:      x,
		p:      p,
		pGood:  pGood,
		inn:    mat.NewVecDense(n, nil),
		k:      mat.NewDense(n, n, nil),
		status: statusInitial,
	}, nil
}

// genSigmaPoints generates a minimal deterministic set of 2n+1 sigma points
// around mean x with spread given by covariance p and returns them stored in
// matrix columns. If the covariance decomposition fails it falls back to the
// last known good covariance, re-symmetrized and slightly inflated, and
// overwrites p with the recovered value.
// It returns error if no usable decomposition can be obtained.
func (u *UKF) genSigmaPoints(x *mat.VecDense, p *mat.SymDense) (*mat.Dense, error) {
	sqrtCov, err := scaledSqrt(p, u.gamma)
	if err != nil {
		recovered := u.recoverCov()
		sqrtCov, err = scaledSqrt(recovered, u.gamma)
		if err != nil {
			return nil, fmt.Errorf("sigma point generation failed: %v", err)
		}
		p.CopySym(recovered)
	}

	n := x.Len()
	sp := mat.NewDense(n, 2*n+1, nil)
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			sp.Set(i, 0, x.AtVec(i))
			sp.Set(i, j+1, x.AtVec(i)+sqrtCov.At(i, j))
			sp.Set(i, j+1+n, x.AtVec(i)-sqrtCov.At(i, j))
		}
	}

	return sp, nil
}

// recoverCov returns the last known good covariance with its diagonal
// slightly inflated so that a subsequent decomposition attempt can succeed.
func (u *UKF) recoverCov() *mat.SymDense {
	n := u.pGood.SymmetricDim()
	recovered := mat.NewSymDense(n, nil)
	recovered.CopySym(u.pGood)
	for i := 0; i < n; i++ {
		recovered.SetSym(i, i, recovered.At(i, i)+covJitter)
	}

	return recovered
}

// scaledSqrt calculates the square root of covariance matrix p scaled by
// gamma and returns it.
// SVD is used instead of Cholesky as Cholesky can be numerically unstable
// when p is (almost) singular.
func scaledSqrt(p mat.Symmetric, gamma float64) (*mat.Dense, error) {
	var svd mat.SVD
	if ok := svd.Factorize(p, mat.SVDFull); !ok {
		return nil, fmt.Errorf("SVD factorization failed")
	}

	sqrt := &mat.Dense{}
	svd.UTo(sqrt)

	vals := svd.Values(nil)
	for i := range vals {
		if vals[i] < 0 {
			vals[i] = 0
		}
		vals[i] = math.Sqrt(vals[i])
	}
	diag := mat.NewDiagDense(len(vals), vals)

	sqrt.Mul(sqrt, diag)
	sqrt.Scale(gamma, sqrt)

	if hasNaN(sqrt) {
		return nil, fmt.Errorf("covariance square root is not finite")
	}

	return sqrt, nil
}

// Predict computes the prior state estimate by propagating the sigma points
// dt seconds forward through the process model given control input u and
// recombining them with the unscented weights. The process noise covariance
// is added to the recombined covariance.
// Predict overwrites the stored filter mean and covariance with the prior.
// It returns error if dt is negative or non-finite, or if sigma points fail
// to be generated or propagated; the stored state is left unchanged on error.
func (u *UKF) Predict(dt float64, ctl mat.Vector) (filter.Estimate, error) {
	if dt < 0 || math.IsNaN(dt) || math.IsInf(dt, 0) {
		return nil, fmt.Errorf("%w: %v", ErrBadInterval, dt)
	}

	sp, err := u.genSigmaPoints(u.x, u.p)
	if err != nil {
		return nil, err
	}

	n := u.x.Len()
	cols := 2*n + 1

	// propagate all sigma points through the process model
	xPred := mat.NewDense(n, cols, nil)
	xMean := mat.NewVecDense(n, nil)
	for c := 0; c < cols; c++ {
		next, err := u.prop.Propagate(sp.ColView(c), ctl, dt)
		if err != nil {
			return nil, fmt.Errorf("failed to propagate sigma point: %v", err)
		}
		for i := 0; i < n; i++ {
			xPred.Set(i, c, next.AtVec(i))
		}
		if c == 0 {
			xMean.AddScaledVec(xMean, u.Wm0, next)
		} else {
			xMean.AddScaledVec(xMean, u.W, next)
		}
	}

	cov := u.recombine(xPred, xMean)
	if qCov := u.q.Cov(); qCov.SymmetricDim() == n {
		cov.Add(cov, qCov)
	}

	if hasNaN(cov) {
		return nil, fmt.Errorf("predicted covariance is not finite")
	}

	// commit the prior
	u.x.CopyVec(xMean)
	copySym(u.p, cov)
	u.pGood.CopySym(u.p)
	u.status = statusPriorComputed

	return estimate.NewBaseWithCov(u.State(), u.Cov())
}

// Update corrects the prior state estimate using measurement z observed
// through measurement model m and returns the posterior estimate.
// It regenerates the sigma points from the prior, maps them into the
// measurement space, computes the predicted measurement mean and covariance
// together with the state-measurement cross covariance, forms the Kalman
// gain and corrects the stored mean and covariance using the innovation.
// It returns ErrNoPrior if no prediction has been made yet and an error if
// the measurement covariance turns out singular; the stored state is left
// unchanged on error.
func (u *UKF) Update(z mat.Vector, m filter.MeasurementModel) (filter.Estimate, error) {
	if u.status != statusPriorComputed {
		return nil, ErrNoPrior
	}

	if m == nil {
		return nil, fmt.Errorf("invalid measurement model: %v", m)
	}

	out := m.Dims()
	if z == nil || z.Len() != out {
		return nil, fmt.Errorf("invalid measurement supplied: %v", z)
	}

	sp, err := u.genSigmaPoints(u.x, u.p)
	if err != nil {
		return nil, err
	}

	n := u.x.Len()
	cols := 2*n + 1

	// map sigma points into the measurement space
	y := mat.NewDense(out, cols, nil)
	yMean := mat.NewVecDense(out, nil)
	for c := 0; c < cols; c++ {
		obs, err := m.Observe(sp.ColView(c))
		if err != nil {
			return nil, fmt.Errorf("failed to observe sigma point: %v", err)
		}
		for i := 0; i < out; i++ {
			y.Set(i, c, obs.AtVec(i))
		}
		if c == 0 {
			yMean.AddScaledVec(yMean, u.Wm0, obs)
		} else {
			yMean.AddScaledVec(yMean, u.W, obs)
		}
	}

	// pxy is the cross covariance of state and measurement,
	// pyy is the predicted measurement covariance
	pxy := mat.NewDense(n, out, nil)
	pyy := mat.NewDense(out, out, nil)

	sigmaVec := mat.NewVecDense(n, nil)
	sigmaOutVec := mat.NewVecDense(out, nil)
	covxy := mat.NewDense(n, out, nil)
	covyy := mat.NewDense(out, out, nil)

	for c := 0; c < cols; c++ {
		sigmaVec.SubVec(sp.ColView(c), u.x)
		sigmaOutVec.SubVec(y.ColView(c), yMean)

		covxy.Mul(sigmaVec, sigmaOutVec.T())
		covyy.Mul(sigmaOutVec, sigmaOutVec.T())

		if c == 0 {
			covxy.Scale(u.Wc0, covxy)
			covyy.Scale(u.Wc0, covyy)
		} else {
			covxy.Scale(u.W, covxy)
			covyy.Scale(u.W, covyy)
		}

		pxy.Add(pxy, covxy)
		pyy.Add(pyy, covyy)
	}

	pyy.Add(pyy, m.Cov())

	// calculate Kalman gain; a singular measurement covariance must surface
	// as an error rather than NaNs propagating into the state
	pyyInv := &mat.Dense{}
	if err := pyyInv.Inverse(pyy); err != nil {
		return nil, fmt.Errorf("failed to invert measurement covariance: %v", err)
	}
	gain := &mat.Dense{}
	gain.Mul(pxy, pyyInv)

	// innovation vector
	inn := &mat.VecDense{}
	inn.SubVec(z, yMean)

	// correct the prior mean
	corr := &mat.Dense{}
	corr.Mul(gain, inn)

	// correct the prior covariance: P = P - K*Pyy*K'
	kp := &mat.Dense{}
	kp.Mul(pyy, gain.T())
	pCorr := &mat.Dense{}
	pCorr.Mul(gain, kp)
	pCorr.Sub(symToDense(u.p), pCorr)

	if hasNaN(pCorr) {
		return nil, fmt.Errorf("corrected covariance is not finite")
	}

	// commit the posterior
	u.x.AddVec(u.x, corr.ColView(0))
	copySym(u.p, pCorr)
	u.pGood.CopySym(u.p)
	u.inn = mat.VecDenseCopyOf(inn)
	u.k = mat.DenseCopyOf(gain)

	return estimate.NewBaseWithCov(u.State(), u.Cov())
}

// State returns a copy of the current state mean
func (u *UKF) State() mat.Vector {
	x := mat.NewVecDense(u.x.Len(), nil)
	x.CopyVec(u.x)

	return x
}

// Cov returns a copy of the current state covariance
func (u *UKF) Cov() mat.Symmetric {
	cov := mat.NewSymDense(u.p.SymmetricDim(), nil)
	cov.CopySym(u.p)

	return cov
}

// Gain returns the most recent Kalman gain
func (u *UKF) Gain() mat.Matrix {
	gain := &mat.Dense{}
	gain.CloneFrom(u.k)

	return gain
}

// Innovation returns the most recent innovation vector
func (u *UKF) Innovation() mat.Vector {
	return mat.VecDenseCopyOf(u.inn)
}

// recombine combines propagated sigma points stored in pts columns into a
// covariance around mean using the unscented covariance weights.
func (u *UKF) recombine(pts *mat.Dense, mean *mat.VecDense) *mat.Dense {
	n, cols := pts.Dims()

	cov := mat.NewDense(n, n, nil)
	diff := mat.NewVecDense(n, nil)
	outer := mat.NewDense(n, n, nil)

	for c := 0; c < cols; c++ {
		diff.SubVec(pts.ColView(c), mean)
		outer.Mul(diff, diff.T())

		if c == 0 {
			outer.Scale(u.Wc0, outer)
		} else {
			outer.Scale(u.W, outer)
		}

		cov.Add(cov, outer)
	}

	return cov
}

// copySym copies src into dst averaging off-diagonal pairs so that dst stays
// exactly symmetric regardless of floating point drift in src.
func copySym(dst *mat.SymDense, src mat.Matrix) {
	n := dst.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			dst.SetSym(i, j, 0.5*(src.At(i, j)+src.At(j, i)))
		}
	}
}

func symToDense(s mat.Symmetric) *mat.Dense {
	n := s.SymmetricDim()
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			d.Set(i, j, s.At(i, j))
		}
	}

	return d
}

func hasNaN(m mat.Matrix) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if math.IsNaN(m.At(i, j)) || math.IsInf(m.At(i, j), 0) {
				return true
			}
		}
	}

	return false
}
