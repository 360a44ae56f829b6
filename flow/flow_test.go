package flow

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

var (
	width  = 64
	height = 48
)

func setup() {
	width, height = 64, 48
}

func TestMain(m *testing.M) {
	setup()
	os.Exit(m.Run())
}

func newGrids(a *Analyzer, val float64) (*mat.Dense, *mat.Dense) {
	x := mat.NewDense(a.rows, a.cols+1, nil)
	y := mat.NewDense(a.rows, a.cols+1, nil)
	for j := 0; j < a.rows; j++ {
		// the buffer column stays zero like the camera delivers it
		for i := 0; i < a.cols; i++ {
			x.Set(j, i, val)
			y.Set(j, i, val)
		}
	}

	return x, y
}

func TestNewAnalyzer(t *testing.T) {
	assert := assert.New(t)

	a, err := NewAnalyzer(width, height)
	assert.NotNil(a)
	assert.NoError(err)
	assert.Equal(height/16, a.rows)
	assert.Equal(width/16, a.cols)

	invalid := [][2]int{
		{0, 48},
		{64, 0},
		{-64, 48},
		{60, 48},
		{64, 50},
	}
	for _, res := range invalid {
		a, err = NewAnalyzer(res[0], res[1])
		assert.Nil(a)
		assert.Error(err)
	}
}

func TestFilterNormalization(t *testing.T) {
	assert := assert.New(t)

	a, err := NewAnalyzer(width, height)
	assert.NoError(err)

	assert.InDelta(1.0, mat.Norm(a.zX, 2), 1e-9)
	assert.InDelta(1.0, mat.Norm(a.zY, 2), 1e-9)
	assert.InDelta(1.0, mat.Norm(a.yawX, 2), 1e-9)
	assert.InDelta(1.0, mat.Norm(a.yawY, 2), 1e-9)
}

func TestFilterOrthogonality(t *testing.T) {
	assert := assert.New(t)

	a, err := NewAnalyzer(width, height)
	assert.NoError(err)

	// the yaw filter is the divergence filter rotated by 90 degrees, so a
	// pure divergence field must produce no yaw response and vice versa
	var dot float64
	for j := 0; j < a.rows; j++ {
		for i := 0; i < a.cols+1; i++ {
			dot += a.zX.At(j, i)*a.yawX.At(j, i) + a.zY.At(j, i)*a.yawY.At(j, i)
		}
	}
	assert.InDelta(0.0, dot, 1e-9)
}

func TestAnalyzeUniformField(t *testing.T) {
	assert := assert.New(t)

	a, err := NewAnalyzer(width, height)
	assert.NoError(err)

	// a uniform motion field is pure translation: the radial and rotation
	// filters are zero mean over the active columns, so divergence and yaw
	// must both vanish
	x, y := newGrids(a, 2.0)

	m, err := a.Analyze(x, y, 0.1)
	assert.NoError(err)
	assert.InDelta(2.0*float64(a.rows*a.cols), m.X, 1e-9)
	assert.InDelta(2.0*float64(a.rows*a.cols), m.Y, 1e-9)
	assert.InDelta(0.0, m.Z, 1e-9)
	assert.InDelta(0.0, m.Yaw, 1e-9)
}

func TestAnalyzeDivergentField(t *testing.T) {
	assert := assert.New(t)

	a, err := NewAnalyzer(width, height)
	assert.NoError(err)

	// a field expanding away from the image center matches the divergence
	// filter itself: expect a positive Z and no yaw
	x := mat.DenseCopyOf(a.zX)
	y := mat.DenseCopyOf(a.zY)

	m, err := a.Analyze(x, y, 0.1)
	assert.NoError(err)
	assert.True(m.Z > 0, "no divergence response: %v", m.Z)
	assert.InDelta(0.0, m.Yaw, 1e-9)
}

func TestAnalyzeRotatingField(t *testing.T) {
	assert := assert.New(t)

	a, err := NewAnalyzer(width, height)
	assert.NoError(err)

	// a field circulating about the image center matches the yaw filter:
	// expect a positive Yaw and no divergence
	x := mat.DenseCopyOf(a.yawX)
	y := mat.DenseCopyOf(a.yawY)

	m, err := a.Analyze(x, y, 0.1)
	assert.NoError(err)
	assert.True(m.Yaw > 0, "no yaw response: %v", m.Yaw)
	assert.InDelta(0.0, m.Z, 1e-9)
}

func TestAnalyzeRotationCompensation(t *testing.T) {
	assert := assert.New(t)

	a, err := NewAnalyzer(width, height)
	assert.NoError(err)

	x, y := newGrids(a, 0.0)

	// with a zero motion field the planar sums are exactly the angular
	// compensation terms
	a.SetAngularVelocity(0.5, -0.5)

	m, err := a.Analyze(x, y, 0.1)
	assert.NoError(err)
	assert.True(m.X > 0, "no compensation along x: %v", m.X)
	assert.True(m.Y < 0, "no compensation along y: %v", m.Y)
	assert.InDelta(m.X, -m.Y, 1e-9)
}

func TestAnalyzeInvalidGrids(t *testing.T) {
	assert := assert.New(t)

	a, err := NewAnalyzer(width, height)
	assert.NoError(err)

	_, err = a.Analyze(nil, nil, 0.1)
	assert.Error(err)

	x, _ := newGrids(a, 1.0)
	bad := mat.NewDense(a.rows, a.cols, nil)

	_, err = a.Analyze(x, bad, 0.1)
	assert.Error(err)

	_, err = a.Analyze(bad, x, 0.1)
	assert.Error(err)
}
