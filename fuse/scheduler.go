// Package fuse serializes asynchronous sensor arrivals into time ordered
// predict and correct steps of the unscented estimator. Each arrival first
// propagates the state forward by the elapsed time since the previous fusion
// step using the most recent control input and is then fused through the
// measurement model matching its modality.
package fuse

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	filter "github.com/darshanj95/PiDrone"
	"github.com/darshanj95/PiDrone/kalman/ukf"
	"github.com/darshanj95/PiDrone/model"
	"github.com/darshanj95/PiDrone/noise"
	"github.com/darshanj95/PiDrone/quat"
	"gonum.org/v1/gonum/mat"
)

// Config contains the estimator tuning parameters. All noise values are
// hand-tuned constants with recognized effects: the process noise scale
// trades prediction confidence for responsiveness, per-modality measurement
// variances trade trust in that sensor against the prior, and the sigma
// spread parameters control sigma point dispersion.
type Config struct {
	// Sigma is the sigma point spread configuration
	Sigma ukf.Config
	// InitCovDiag is the diagonal of the initial state covariance
	InitCovDiag []float64
	// ProcessNoiseScale scales the identity process noise covariance
	ProcessNoiseScale float64
	// RangeVar is the slant range measurement variance
	RangeVar float64
	// FlowVarDiag is the optical flow measurement variance diagonal
	FlowVarDiag [3]float64
	// AttitudeVarDiag is the roll/pitch/yaw measurement variance diagonal
	AttitudeVarDiag [3]float64
}

// DefaultConfig returns the tuning used on the vehicle.
func DefaultConfig() Config {
	return Config{
		Sigma: ukf.Config{
			Alpha: 0.1,
			Beta:  2.0,
			Kappa: 0.0,
		},
		InitCovDiag:       []float64{0.1, 0.1, 0.1, 0.2, 0.2, 0.2, 1, 1, 1, 1, 1, 1},
		ProcessNoiseScale: 0.001,
		RangeVar:          0.1,
		FlowVarDiag:       [3]float64{0.1, 0.1, 0.1},
		AttitudeVarDiag:   [3]float64{0.1, 0.1, 0.1},
	}
}

// Scheduler owns a single estimator instance and applies one sensor arrival
// at a time to it. Sensor callbacks may be delivered on independent
// goroutines: the mean, covariance, last fusion timestamp and last control
// input are guarded by a mutex so one arrival's predict and correct pair
// always completes before the next begins.
type Scheduler struct {
	mu sync.Mutex

	f        *ukf.UKF
	attitude *model.AttitudeModel
	flow     *model.FlowModel
	rng      *model.RangeModel

	// lastU is the most recent control input: body frame specific force
	// from the last inertial reading, held between predictions
	lastU *mat.VecDense
	// lastStamp is the timestamp of the most recently fused reading
	lastStamp time.Time
	// hasStamp records whether any reading has been received yet
	hasStamp bool

	log *slog.Logger
}

// NewScheduler creates new Scheduler with configuration c and returns it.
// A nil logger falls back to slog.Default.
// It returns error if the configuration yields malformed covariance
// matrices; such errors are unrecoverable and detected here at startup.
func NewScheduler(c Config, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if len(c.InitCovDiag) != model.Dim {
		return nil, fmt.Errorf("invalid initial covariance diagonal: %v", c.InitCovDiag)
	}

	var q filter.Noise
	if c.ProcessNoiseScale > 0 {
		qCov := mat.NewSymDense(model.Dim, nil)
		for i := 0; i < model.Dim; i++ {
			qCov.SetSym(i, i, c.ProcessNoiseScale)
		}
		var err error
		q, err = noise.NewGaussian(make([]float64, model.Dim), qCov)
		if err != nil {
			return nil, fmt.Errorf("failed to create process noise: %v", err)
		}
	} else {
		q, _ = noise.NewZero(model.Dim)
	}

	attitude, err := model.NewAttitudeModel(diagSym(c.AttitudeVarDiag[:]))
	if err != nil {
		return nil, fmt.Errorf("failed to create attitude model: %v", err)
	}

	flow, err := model.NewFlowModel(diagSym(c.FlowVarDiag[:]))
	if err != nil {
		return nil, fmt.Errorf("failed to create flow model: %v", err)
	}

	rng, err := model.NewRangeModel(diagSym([]float64{c.RangeVar}))
	if err != nil {
		return nil, fmt.Errorf("failed to create range model: %v", err)
	}

	f, err := ukf.New(model.NewVehicle(), model.NewZeroInitCond(c.InitCovDiag), q, &c.Sigma)
	if err != nil {
		return nil, fmt.Errorf("failed to create estimator: %v", err)
	}

	return &Scheduler{
		f:        f,
		attitude: attitude,
		flow:     flow,
		rng:      rng,
		lastU:    mat.NewVecDense(model.CtlDim, nil),
		log:      logger,
	}, nil
}

// HandleIMU fuses one inertial reading. The linear acceleration replaces the
// stored control input before prediction; the attitude quaternion is then
// fused through the attitude measurement model.
// Malformed readings are dropped. It returns error only on numerical
// failures inside the estimator; the stored state stays intact either way.
func (s *Scheduler) HandleIMU(r IMUReading) error {
	if !finite(r.Accel[:]...) || !finite(r.Orientation.W, r.Orientation.X, r.Orientation.Y, r.Orientation.Z) || r.Orientation.IsZero() {
		s.log.Warn("dropping malformed imu reading", "accel", r.Accel, "quat", r.Orientation)
		return nil
	}

	roll, pitch, yaw := r.Orientation.Normalize().Euler()
	z := mat.NewVecDense(3, []float64{roll, pitch, yaw})

	s.mu.Lock()
	defer s.mu.Unlock()

	// the control input is the last known value: it is replaced here and
	// held constant until the next inertial reading arrives
	s.lastU.SetVec(0, r.Accel[0])
	s.lastU.SetVec(1, r.Accel[1])
	s.lastU.SetVec(2, r.Accel[2])

	return s.fuse(r.Stamp, z, s.attitude)
}

// HandleFlow fuses one optical flow reading using the control input held
// from the most recent inertial reading.
// Malformed readings are dropped. It returns error only on numerical
// failures inside the estimator.
func (s *Scheduler) HandleFlow(r FlowReading) error {
	if !finite(r.VX, r.VY, r.YawRate) {
		s.log.Warn("dropping malformed flow reading", "vx", r.VX, "vy", r.VY, "yawRate", r.YawRate)
		return nil
	}

	z := mat.NewVecDense(3, []float64{r.VX, r.VY, r.YawRate})

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.fuse(r.Stamp, z, s.flow)
}

// HandleRange fuses one slant range reading using the control input held
// from the most recent inertial reading.
// Malformed readings are dropped. It returns error only on numerical
// failures inside the estimator.
func (s *Scheduler) HandleRange(r RangeReading) error {
	if !finite(r.Range) {
		s.log.Warn("dropping malformed range reading", "range", r.Range)
		return nil
	}

	z := mat.NewVecDense(1, []float64{r.Range})

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.fuse(r.Stamp, z, s.rng)
}

// fuse runs one predict and correct pair for a reading with timestamp stamp,
// measurement z and measurement model m. The caller must hold s.mu.
//
// The very first reading has no prior timestamp and so no elapsed interval:
// it only records its timestamp. Readings with timestamps behind the last
// fused one are expected operational noise and are skipped with a warning,
// leaving the stored state unchanged. The fusion timestamp advances only
// after a successful predict and correct pair.
func (s *Scheduler) fuse(stamp time.Time, z mat.Vector, m filter.MeasurementModel) error {
	if !s.hasStamp {
		s.lastStamp = stamp
		s.hasStamp = true
		s.log.Debug("first sensor reading", "modality", modalityOf(m), "stamp", stamp)
		return nil
	}

	dt := stamp.Sub(s.lastStamp).Seconds()
	if dt < 0 || math.IsNaN(dt) {
		s.log.Warn("skipping reading with non-monotonic timestamp",
			"modality", modalityOf(m), "dt", dt)
		return nil
	}

	if _, err := s.f.Predict(dt, s.lastU); err != nil {
		s.log.Error("prediction failed", "modality", modalityOf(m), "dt", dt, "error", err)
		return err
	}

	if _, err := s.f.Update(z, m); err != nil {
		s.log.Error("correction failed", "modality", modalityOf(m), "error", err)
		return err
	}

	s.lastStamp = stamp

	return nil
}

// State returns the current published state estimate.
func (s *Scheduler) State() StateEstimate {
	s.mu.Lock()
	defer s.mu.Unlock()

	x := s.f.State()

	return StateEstimate{
		Stamp: s.lastStamp,
		Position: [3]float64{
			x.AtVec(model.X),
			x.AtVec(model.Y),
			x.AtVec(model.Z),
		},
		Velocity: [3]float64{
			x.AtVec(model.VX),
			x.AtVec(model.VY),
			x.AtVec(model.VZ),
		},
		Orientation: quat.FromEuler(
			x.AtVec(model.Roll),
			x.AtVec(model.Pitch),
			x.AtVec(model.Yaw),
		),
		AngularVelocity: [3]float64{
			x.AtVec(model.RollRate),
			x.AtVec(model.PitchRate),
			x.AtVec(model.YawRate),
		},
	}
}

// Cov returns a copy of the current state covariance.
func (s *Scheduler) Cov() mat.Symmetric {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.f.Cov()
}

func diagSym(diag []float64) mat.Symmetric {
	c := mat.NewSymDense(len(diag), nil)
	for i, v := range diag {
		c.SetSym(i, i, v)
	}

	return c
}

func modalityOf(m filter.MeasurementModel) string {
	if t, ok := m.(interface{ Modality() model.Modality }); ok {
		return t.Modality().String()
	}

	return "unknown"
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}

	return true
}
