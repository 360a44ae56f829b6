// Package flow turns raw optical flow motion-vector fields into aggregate
// planar, vertical and yaw motion estimates. The camera produces one x/y
// motion vector per 16x16 pixel macroblock plus one buffer column per frame;
// the analyzer applies fixed divergence and rotation filter grids to that
// field. Camera capture itself stays outside this package.
package flow

import (
	"fmt"
	"math"

	"github.com/darshanj95/PiDrone/matrix"
	"gonum.org/v1/gonum/mat"
)

// angCoefficient compensates the planar motion sums for camera rotation:
// the apparent image shift caused by body angular rate over the frame
// interval is subtracted in vector-sum units.
const angCoefficient = 45000.0

// blockSize is the macroblock edge length in pixels
const blockSize = 16

// Motion is the aggregate image motion measured over one frame, in raw
// motion-vector sum units.
type Motion struct {
	// X is motion along the image x axis
	X float64
	// Y is motion along the image y axis
	Y float64
	// Z is divergence: motion towards or away from the ground
	Z float64
	// Yaw is rotation about the camera axis
	Yaw float64
}

// Analyzer computes aggregate motion from macroblock motion-vector grids.
// It is not safe for concurrent use.
type Analyzer struct {
	rows int
	cols int

	// divergence filter grids: radial unit field used to project the
	// motion field onto expansion/contraction
	zX *mat.Dense
	zY *mat.Dense
	// yaw filter grids: the divergence field rotated 90 degrees
	yawX *mat.Dense
	yawY *mat.Dense

	// body angular velocity about the x and y axes [rad/s], set from the
	// most recent attitude readings
	angVX float64
	angVY float64
}

// NewAnalyzer creates an Analyzer for a camera of the given resolution and
// returns it.
// It returns error if either dimension is not a positive multiple of the
// macroblock size.
func NewAnalyzer(width, height int) (*Analyzer, error) {
	if width <= 0 || height <= 0 || width%blockSize != 0 || height%blockSize != 0 {
		return nil, fmt.Errorf("invalid camera resolution: %dx%d", width, height)
	}

	rows := height / blockSize
	cols := width / blockSize

	a := &Analyzer{
		rows: rows,
		cols: cols,
	}
	a.buildFilters()

	return a, nil
}

// buildFilters computes the divergence filter, a radial field centered on
// the image, and the yaw filter, which is the divergence field rotated by 90
// degrees. Both are normalized to unit Frobenius norm. The grids carry one
// extra column matching the buffer column the camera appends to each frame.
func (a *Analyzer) buildFilters() {
	midRow := float64(a.rows-1) / 2.0
	midCol := float64(a.cols-1) / 2.0

	a.zX = mat.NewDense(a.rows, a.cols+1, nil)
	a.zY = mat.NewDense(a.rows, a.cols+1, nil)
	for i := 0; i < a.cols; i++ {
		for j := 0; j < a.rows; j++ {
			a.zX.Set(j, i, float64(i)-midCol)
			a.zY.Set(j, i, float64(j)-midRow)
		}
	}
	a.zX.Scale(1/mat.Norm(a.zX, 2), a.zX)
	a.zY.Scale(1/mat.Norm(a.zY, 2), a.zY)

	a.yawX = mat.DenseCopyOf(a.zY)
	a.yawY = mat.DenseCopyOf(a.zX)
	a.yawY.Scale(-1, a.yawY)
}

// SetAngularVelocity records the current body angular velocity about the x
// and y axes [rad/s] for rotation compensation of the next frame.
func (a *Analyzer) SetAngularVelocity(wx, wy float64) {
	a.angVX = wx
	a.angVY = wy
}

// Analyze computes the aggregate motion of one frame from the x and y
// motion-vector grids and the elapsed time dt since the previous frame.
// It returns error if the grid dimensions do not match the camera
// resolution the analyzer was created for.
func (a *Analyzer) Analyze(x, y *mat.Dense, dt float64) (Motion, error) {
	if x == nil || y == nil {
		return Motion{}, fmt.Errorf("invalid motion vector grids: %v, %v", x, y)
	}

	xr, xc := x.Dims()
	yr, yc := y.Dims()
	if xr != a.rows || xc != a.cols+1 || yr != a.rows || yc != a.cols+1 {
		return Motion{}, fmt.Errorf("mismatched motion vector grid dimensions: [%d x %d], [%d x %d]", xr, xc, yr, yc)
	}

	zx, err := matrix.WeightedSum(x, a.zX)
	if err != nil {
		return Motion{}, err
	}
	zy, err := matrix.WeightedSum(y, a.zY)
	if err != nil {
		return Motion{}, err
	}
	yawx, err := matrix.WeightedSum(x, a.yawX)
	if err != nil {
		return Motion{}, err
	}
	yawy, err := matrix.WeightedSum(y, a.yawY)
	if err != nil {
		return Motion{}, err
	}

	return Motion{
		X:   matrix.Sum(x) + math.Atan(a.angVX*dt)*angCoefficient,
		Y:   matrix.Sum(y) + math.Atan(a.angVY*dt)*angCoefficient,
		Z:   zx + zy,
		Yaw: yawx + yawy,
	}, nil
}
