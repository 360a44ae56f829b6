// Package sim generates synthetic flights for exercising the state
// estimator offline: a truth trajectory propagated through the vehicle
// process model plus noisy sensor readings replayed in time order.
package sim

import (
	"fmt"
	"time"

	"github.com/darshanj95/PiDrone/fuse"
	"github.com/darshanj95/PiDrone/model"
	"github.com/darshanj95/PiDrone/noise"
	"github.com/darshanj95/PiDrone/quat"
	"gonum.org/v1/gonum/mat"
)

// Sensors configures the synthetic sensor streams: how many simulation
// steps pass between readings of each modality and the standard deviation
// of the noise added to each.
type Sensors struct {
	// IMUEvery is the number of steps between inertial readings
	IMUEvery int
	// FlowEvery is the number of steps between optical flow readings
	FlowEvery int
	// RangeEvery is the number of steps between range readings
	RangeEvery int
	// AccelSigma is accelerometer noise standard deviation [m/s^2]
	AccelSigma float64
	// AttitudeSigma is attitude noise standard deviation [deg]
	AttitudeSigma float64
	// FlowSigma is flow velocity noise standard deviation [m/s]
	FlowSigma float64
	// RangeSigma is slant range noise standard deviation [m]
	RangeSigma float64
}

// DefaultSensors returns sensor rates and noise levels resembling the ones
// observed on the vehicle.
func DefaultSensors() Sensors {
	return Sensors{
		IMUEvery:      1,
		FlowEvery:     3,
		RangeEvery:    2,
		AccelSigma:    0.05,
		AttitudeSigma: 0.5,
		FlowSigma:     0.05,
		RangeSigma:    0.03,
	}
}

// event is one sensor arrival of the flight, time ordered
type event struct {
	imu   *fuse.IMUReading
	flow  *fuse.FlowReading
	rng   *fuse.RangeReading
	stamp time.Time
}

// Flight is a synthetic flight: the truth trajectory and the noisy sensor
// readings generated from it.
type Flight struct {
	// Truth stores one true state vector per simulation step in its rows
	Truth *mat.Dense
	// Stamps holds the timestamp of every simulation step
	Stamps []time.Time

	events []event
}

// Hover generates a flight of the given number of steps of dt seconds each:
// the vehicle climbs gently for the first half of the flight and descends
// for the second half, with sensors sampled per s.
// It returns error if the parameters are invalid or noise synthesis fails.
func Hover(steps int, dt float64, s Sensors) (*Flight, error) {
	if steps <= 0 || dt <= 0 {
		return nil, fmt.Errorf("invalid flight parameters: steps %d, dt %v", steps, dt)
	}
	if s.IMUEvery <= 0 || s.FlowEvery <= 0 || s.RangeEvery <= 0 {
		return nil, fmt.Errorf("invalid sensor rates: %+v", s)
	}

	accelNoise, err := noise.NewGaussian(make([]float64, 3), diag(3, s.AccelSigma*s.AccelSigma))
	if err != nil {
		return nil, fmt.Errorf("failed to create accelerometer noise: %v", err)
	}
	attNoise, err := noise.NewGaussian(make([]float64, 3), diag(3, s.AttitudeSigma*s.AttitudeSigma))
	if err != nil {
		return nil, fmt.Errorf("failed to create attitude noise: %v", err)
	}
	flowNoise, err := noise.NewGaussian(make([]float64, 3), diag(3, s.FlowSigma*s.FlowSigma))
	if err != nil {
		return nil, fmt.Errorf("failed to create flow noise: %v", err)
	}
	rangeNoise, err := noise.NewGaussian(make([]float64, 1), diag(1, s.RangeSigma*s.RangeSigma))
	if err != nil {
		return nil, fmt.Errorf("failed to create range noise: %v", err)
	}

	vehicle := model.NewVehicle()
	start := time.Now()

	truth := mat.NewDense(steps, model.Dim, nil)
	stamps := make([]time.Time, steps)
	var events []event

	x := mat.NewVecDense(model.Dim, nil)
	for i := 0; i < steps; i++ {
		// gentle climb, then gentle descent
		climb := 0.2
		if i >= steps/2 {
			climb = -0.2
		}
		u := mat.NewVecDense(3, []float64{0, 0, climb})

		next, err := vehicle.Propagate(x, u, dt)
		if err != nil {
			return nil, fmt.Errorf("failed to propagate truth state: %v", err)
		}
		x = mat.VecDenseCopyOf(next)

		stamp := start.Add(time.Duration(float64(i+1) * dt * float64(time.Second)))
		stamps[i] = stamp
		for j := 0; j < model.Dim; j++ {
			truth.Set(i, j, x.AtVec(j))
		}

		if i%s.IMUEvery == 0 {
			an := accelNoise.Sample()
			en := attNoise.Sample()
			events = append(events, event{
				stamp: stamp,
				imu: &fuse.IMUReading{
					Stamp: stamp,
					Accel: [3]float64{
						u.AtVec(0) + an.AtVec(0),
						u.AtVec(1) + an.AtVec(1),
						u.AtVec(2) + an.AtVec(2),
					},
					Orientation: quat.FromEuler(
						x.AtVec(model.Roll)+en.AtVec(0),
						x.AtVec(model.Pitch)+en.AtVec(1),
						x.AtVec(model.Yaw)+en.AtVec(2),
					),
				},
			})
		}

		if i%s.FlowEvery == 0 {
			fn := flowNoise.Sample()
			events = append(events, event{
				stamp: stamp,
				flow: &fuse.FlowReading{
					Stamp:   stamp,
					VX:      x.AtVec(model.VX) + fn.AtVec(0),
					VY:      x.AtVec(model.VY) + fn.AtVec(1),
					YawRate: x.AtVec(model.YawRate) + fn.AtVec(2),
				},
			})
		}

		if i%s.RangeEvery == 0 {
			rn := rangeNoise.Sample()
			events = append(events, event{
				stamp: stamp,
				rng: &fuse.RangeReading{
					Stamp: stamp,
					Range: x.AtVec(model.Z) + rn.AtVec(0),
				},
			})
		}
	}

	return &Flight{
		Truth:  truth,
		Stamps: stamps,
		events: events,
	}, nil
}

// Replay feeds the flight's sensor readings to the scheduler in time order.
// If each is not nil it is called with the published state estimate after
// every fused reading.
// It returns error if the scheduler fails to fuse a reading.
func (f *Flight) Replay(sched *fuse.Scheduler, each func(fuse.StateEstimate)) error {
	for _, e := range f.events {
		var err error
		switch {
		case e.imu != nil:
			err = sched.HandleIMU(*e.imu)
		case e.flow != nil:
			err = sched.HandleFlow(*e.flow)
		case e.rng != nil:
			err = sched.HandleRange(*e.rng)
		}
		if err != nil {
			return fmt.Errorf("failed to fuse reading at %v: %v", e.stamp, err)
		}

		if each != nil {
			each(sched.State())
		}
	}

	return nil
}

// Readings returns the number of generated sensor readings.
func (f *Flight) Readings() int {
	return len(f.events)
}

func diag(n int, v float64) mat.Symmetric {
	c := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		c.SetSym(i, i, v)
	}

	return c
}
