package fuse

import (
	"io"
	"log/slog"
	"math"
	"os"
	"testing"
	"time"

	"github.com/darshanj95/PiDrone/model"
	"github.com/darshanj95/PiDrone/quat"
	"github.com/stretchr/testify/assert"
)

var (
	testLog *slog.Logger
	t0      time.Time
)

func setup() {
	testLog = slog.New(slog.NewTextHandler(io.Discard, nil))
	t0 = time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC)
}

func TestMain(m *testing.M) {
	setup()
	os.Exit(m.Run())
}

func newTestScheduler(t *testing.T, c Config) *Scheduler {
	s, err := NewScheduler(c, testLog)
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}

	return s
}

func identityIMU(stamp time.Time) IMUReading {
	return IMUReading{
		Stamp:       stamp,
		Accel:       [3]float64{0, 0, 9.8},
		Orientation: quat.FromEuler(0, 0, 0),
	}
}

func TestNewScheduler(t *testing.T) {
	assert := assert.New(t)

	s, err := NewScheduler(DefaultConfig(), testLog)
	assert.NotNil(s)
	assert.NoError(err)

	// nil logger falls back to the default logger
	s, err = NewScheduler(DefaultConfig(), nil)
	assert.NotNil(s)
	assert.NoError(err)

	// malformed initial covariance is a startup error
	c := DefaultConfig()
	c.InitCovDiag = []float64{0.1, 0.1}
	s, err = NewScheduler(c, testLog)
	assert.Nil(s)
	assert.Error(err)
}

func TestFirstReading(t *testing.T) {
	assert := assert.New(t)

	s := newTestScheduler(t, DefaultConfig())

	// the first reading has no prior timestamp: no elapsed interval is
	// defined, so it must only record its timestamp
	err := s.HandleIMU(identityIMU(t0))
	assert.NoError(err)

	est := s.State()
	assert.Equal(t0, est.Stamp)
	for i := 0; i < 3; i++ {
		assert.Equal(0.0, est.Position[i])
		assert.Equal(0.0, est.Velocity[i])
		assert.Equal(0.0, est.AngularVelocity[i])
	}
}

func TestIMUThenRange(t *testing.T) {
	assert := assert.New(t)

	s := newTestScheduler(t, DefaultConfig())

	assert.NoError(s.HandleIMU(identityIMU(t0)))
	assert.NoError(s.HandleRange(RangeReading{
		Stamp: t0.Add(100 * time.Millisecond),
		Range: 1.0,
	}))

	est := s.State()

	// the altitude estimate moves from zero toward the measured range:
	// at zero tilt the altitude-to-range scale factor is exactly 1
	assert.True(est.Position[2] > 0, "altitude did not move toward the measurement: %v", est.Position[2])
	assert.True(est.Position[2] < 1, "altitude overshot the measurement: %v", est.Position[2])

	// the held control input displaced vertical velocity during prediction
	assert.True(est.Velocity[2] > 0)

	assert.Equal(t0.Add(100*time.Millisecond), est.Stamp)
}

func TestAttitudeUpdateDecoupled(t *testing.T) {
	assert := assert.New(t)

	c := DefaultConfig()
	// no process noise so that the covariance stays exactly diagonal over
	// a zero interval prediction
	c.ProcessNoiseScale = 0

	s := newTestScheduler(t, c)

	assert.NoError(s.HandleIMU(IMUReading{
		Stamp:       t0,
		Accel:       [3]float64{0, 0, 0},
		Orientation: quat.FromEuler(0, 0, 0),
	}))

	// same timestamp: dt = 0, so the prediction is the identity and the
	// attitude update must leave position and velocity exactly alone
	assert.NoError(s.HandleIMU(IMUReading{
		Stamp:       t0,
		Accel:       [3]float64{0, 0, 0},
		Orientation: quat.FromEuler(10, 0, 0),
	}))

	est := s.State()

	roll, _, _ := est.Orientation.Euler()
	assert.True(roll > 0, "roll did not move toward the measurement: %v", roll)

	for i := 0; i < 3; i++ {
		assert.InDelta(0.0, est.Position[i], 1e-9)
		assert.InDelta(0.0, est.Velocity[i], 1e-9)
	}
}

func TestFlowReadingFused(t *testing.T) {
	assert := assert.New(t)

	s := newTestScheduler(t, DefaultConfig())

	assert.NoError(s.HandleIMU(IMUReading{
		Stamp:       t0,
		Accel:       [3]float64{0, 0, 0},
		Orientation: quat.FromEuler(0, 0, 0),
	}))
	assert.NoError(s.HandleFlow(FlowReading{
		Stamp:   t0.Add(50 * time.Millisecond),
		VX:      0.5,
		VY:      -0.5,
		YawRate: 0.1,
	}))

	est := s.State()
	assert.True(est.Velocity[0] > 0)
	assert.True(est.Velocity[1] < 0)
}

func TestMalformedReadingsDropped(t *testing.T) {
	assert := assert.New(t)

	s := newTestScheduler(t, DefaultConfig())

	// none of these may be fused or recorded
	assert.NoError(s.HandleIMU(IMUReading{
		Stamp:       t0,
		Accel:       [3]float64{math.NaN(), 0, 0},
		Orientation: quat.FromEuler(0, 0, 0),
	}))
	assert.NoError(s.HandleIMU(IMUReading{
		Stamp: t0,
		Accel: [3]float64{0, 0, 0},
		// zero quaternion carries no attitude
		Orientation: quat.Quat{},
	}))
	assert.NoError(s.HandleFlow(FlowReading{Stamp: t0, VX: math.Inf(1)}))
	assert.NoError(s.HandleRange(RangeReading{Stamp: t0, Range: math.NaN()}))

	est := s.State()
	assert.True(est.Stamp.IsZero())
	assert.Equal(0.0, est.Position[2])
}

func TestNonMonotonicTimestampSkipped(t *testing.T) {
	assert := assert.New(t)

	s := newTestScheduler(t, DefaultConfig())

	assert.NoError(s.HandleIMU(identityIMU(t0)))

	// a timestamp behind the last fused one is expected operational noise:
	// the reading is skipped and the state stays unchanged
	assert.NoError(s.HandleRange(RangeReading{
		Stamp: t0.Add(-time.Second),
		Range: 5.0,
	}))

	est := s.State()
	assert.Equal(t0, est.Stamp)
	assert.Equal(0.0, est.Position[2])
}

func TestRangeNoiseTrust(t *testing.T) {
	assert := assert.New(t)

	// the same measurements fused with a smaller range variance must leave
	// the altitude estimate more certain
	variances := []float64{0.5, 0.05}
	posts := make([]float64, len(variances))

	for i, v := range variances {
		c := DefaultConfig()
		c.RangeVar = v

		s := newTestScheduler(t, c)
		assert.NoError(s.HandleIMU(identityIMU(t0)))
		assert.NoError(s.HandleRange(RangeReading{
			Stamp: t0.Add(100 * time.Millisecond),
			Range: 1.0,
		}))

		posts[i] = s.Cov().At(model.Z, model.Z)
	}

	assert.True(posts[1] < posts[0], "smaller measurement noise did not shrink the posterior: %v", posts)
}

func TestSuccessiveRangeReadingsShrinkCovariance(t *testing.T) {
	assert := assert.New(t)

	s := newTestScheduler(t, DefaultConfig())

	assert.NoError(s.HandleIMU(identityIMU(t0)))

	assert.NoError(s.HandleRange(RangeReading{Stamp: t0.Add(100 * time.Millisecond), Range: 1.0}))
	first := s.Cov().At(model.Z, model.Z)

	assert.NoError(s.HandleRange(RangeReading{Stamp: t0.Add(200 * time.Millisecond), Range: 1.0}))
	second := s.Cov().At(model.Z, model.Z)

	assert.True(second < first, "second posterior not more certain: %v >= %v", second, first)
}

func TestPublishedOrientation(t *testing.T) {
	assert := assert.New(t)

	s := newTestScheduler(t, DefaultConfig())

	assert.NoError(s.HandleIMU(identityIMU(t0)))
	assert.NoError(s.HandleIMU(IMUReading{
		Stamp:       t0.Add(10 * time.Millisecond),
		Accel:       [3]float64{0, 0, 0},
		Orientation: quat.FromEuler(0, 0, 90),
	}))

	est := s.State()
	assert.InDelta(1.0, est.Orientation.Norm(), 1e-9)

	_, _, yaw := est.Orientation.Euler()
	assert.True(yaw > 0, "yaw did not move toward the measurement: %v", yaw)
}
