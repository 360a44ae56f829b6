package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Modality identifies the sensor modality a measurement model belongs to.
type Modality int

const (
	// ModalityAttitude is roll, pitch and yaw from the inertial unit
	ModalityAttitude Modality = iota
	// ModalityFlow is planar velocity and yaw rate from optical flow
	ModalityFlow
	// ModalityRange is the slant range from the infrared rangefinder
	ModalityRange
	// ModalityFull is the combined observation of all modalities
	ModalityFull
)

// String implements the Stringer interface.
func (m Modality) String() string {
	switch m {
	case ModalityAttitude:
		return "attitude"
	case ModalityFlow:
		return "flow"
	case ModalityRange:
		return "range"
	case ModalityFull:
		return "full"
	}
	return "unknown"
}

// AttitudeModel observes roll, pitch and yaw (degrees) directly from the
// state vector. It implements filter.MeasurementModel.
type AttitudeModel struct {
	cov *mat.SymDense
}

// NewAttitudeModel creates new AttitudeModel with measurement noise
// covariance cov and returns it.
// It returns error if cov is not a 3x3 matrix.
func NewAttitudeModel(cov mat.Symmetric) (*AttitudeModel, error) {
	c, err := copyCov(cov, 3)
	if err != nil {
		return nil, err
	}

	return &AttitudeModel{cov: c}, nil
}

// Observe returns the attitude components of state x
func (m *AttitudeModel) Observe(x mat.Vector) (mat.Vector, error) {
	if x == nil || x.Len() != Dim {
		return nil, fmt.Errorf("invalid state vector: %v", x)
	}

	return mat.NewVecDense(3, []float64{
		x.AtVec(Roll),
		x.AtVec(Pitch),
		x.AtVec(Yaw),
	}), nil
}

// Cov returns measurement noise covariance
func (m *AttitudeModel) Cov() mat.Symmetric { return covCopy(m.cov) }

// Dims returns the observation vector dimension
func (m *AttitudeModel) Dims() int { return 3 }

// Modality returns the sensor modality tag
func (m *AttitudeModel) Modality() Modality { return ModalityAttitude }

// FlowModel observes planar velocity and yaw rate directly from the state
// vector. It implements filter.MeasurementModel.
type FlowModel struct {
	cov *mat.SymDense
}

// NewFlowModel creates new FlowModel with measurement noise covariance cov
// and returns it.
// It returns error if cov is not a 3x3 matrix.
func NewFlowModel(cov mat.Symmetric) (*FlowModel, error) {
	c, err := copyCov(cov, 3)
	if err != nil {
		return nil, err
	}

	return &FlowModel{cov: c}, nil
}

// Observe returns the x velocity, y velocity and yaw rate components of
// state x
func (m *FlowModel) Observe(x mat.Vector) (mat.Vector, error) {
	if x == nil || x.Len() != Dim {
		return nil, fmt.Errorf("invalid state vector: %v", x)
	}

	return mat.NewVecDense(3, []float64{
		x.AtVec(VX),
		x.AtVec(VY),
		x.AtVec(YawRate),
	}), nil
}

// Cov returns measurement noise covariance
func (m *FlowModel) Cov() mat.Symmetric { return covCopy(m.cov) }

// Dims returns the observation vector dimension
func (m *FlowModel) Dims() int { return 3 }

// Modality returns the sensor modality tag
func (m *FlowModel) Modality() Modality { return ModalityFlow }

// RangeModel observes the slant range measured by a downward facing
// rangefinder: the altitude divided by cos(pitch)*cos(roll), which corrects
// for vehicle tilt. It implements filter.MeasurementModel.
type RangeModel struct {
	cov *mat.SymDense
}

// NewRangeModel creates new RangeModel with measurement noise covariance cov
// and returns it.
// It returns error if cov is not a 1x1 matrix.
func NewRangeModel(cov mat.Symmetric) (*RangeModel, error) {
	c, err := copyCov(cov, 1)
	if err != nil {
		return nil, err
	}

	return &RangeModel{cov: c}, nil
}

// Observe returns the slant range predicted for state x.
// The altitude-to-range scale factor is recomputed from the roll and pitch
// of the supplied state on every call, never cached.
func (m *RangeModel) Observe(x mat.Vector) (mat.Vector, error) {
	if x == nil || x.Len() != Dim {
		return nil, fmt.Errorf("invalid state vector: %v", x)
	}

	return mat.NewVecDense(1, []float64{x.AtVec(Z) * altToRange(x)}), nil
}

// Cov returns measurement noise covariance
func (m *RangeModel) Cov() mat.Symmetric { return covCopy(m.cov) }

// Dims returns the observation vector dimension
func (m *RangeModel) Dims() int { return 1 }

// Modality returns the sensor modality tag
func (m *RangeModel) Modality() Modality { return ModalityRange }

// FullModel is the combined observation of every measurement variable:
// x velocity, y velocity, yaw rate, slant range, roll, pitch and yaw.
// Sensors arrive at distinct rates so fusion always uses one of the
// per-modality models; FullModel only serves as the estimator default and
// is never invoked during fusion.
type FullModel struct {
	cov *mat.SymDense
}

// NewFullModel creates new FullModel with measurement noise covariance cov
// and returns it.
// It returns error if cov is not a 7x7 matrix.
func NewFullModel(cov mat.Symmetric) (*FullModel, error) {
	c, err := copyCov(cov, 7)
	if err != nil {
		return nil, err
	}

	return &FullModel{cov: c}, nil
}

// Observe returns the combined observation vector for state x
func (m *FullModel) Observe(x mat.Vector) (mat.Vector, error) {
	if x == nil || x.Len() != Dim {
		return nil, fmt.Errorf("invalid state vector: %v", x)
	}

	return mat.NewVecDense(7, []float64{
		x.AtVec(VX),
		x.AtVec(VY),
		x.AtVec(YawRate),
		x.AtVec(Z) * altToRange(x),
		x.AtVec(Roll),
		x.AtVec(Pitch),
		x.AtVec(Yaw),
	}), nil
}

// Cov returns measurement noise covariance
func (m *FullModel) Cov() mat.Symmetric { return covCopy(m.cov) }

// Dims returns the observation vector dimension
func (m *FullModel) Dims() int { return 7 }

// Modality returns the sensor modality tag
func (m *FullModel) Modality() Modality { return ModalityFull }

// altToRange returns the altitude to slant range conversion factor
// 1/(cos(pitch)*cos(roll)) for the attitude stored in state x.
func altToRange(x mat.Vector) float64 {
	phi := degToRad(x.AtVec(Roll))
	theta := degToRad(x.AtVec(Pitch))

	return 1 / (math.Cos(theta) * math.Cos(phi))
}

func copyCov(cov mat.Symmetric, dim int) (*mat.SymDense, error) {
	if cov == nil || cov.SymmetricDim() != dim {
		return nil, fmt.Errorf("invalid measurement noise covariance: %v", cov)
	}

	c := mat.NewSymDense(dim, nil)
	c.CopySym(cov)

	return c, nil
}

func covCopy(cov *mat.SymDense) mat.Symmetric {
	c := mat.NewSymDense(cov.SymmetricDim(), nil)
	c.CopySym(cov)

	return c
}
