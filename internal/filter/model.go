package filter

import "gonum.org/v1/gonum/mat"

// Default noise scales for a per-frame constant-velocity model.
const (
	// DefaultProcessNoise is the expected per-frame model uncertainty.
	DefaultProcessNoise = 0.03
	// DefaultMeasurementNoise is the expected per-frame sensor jitter.
	DefaultMeasurementNoise = 0.5
)

// Model holds the fixed matrices of a linear Kalman filter.
//
//	Transition       F  n×n
//	Measurement      H  m×n
//	ProcessNoise     Q  n×n
//	MeasurementNoise R  m×m
type Model struct {
	Transition       *mat.Dense
	Measurement      *mat.Dense
	ProcessNoise     *mat.Dense
	MeasurementNoise *mat.Dense
}

// Dims returns the state and measurement dimensions.
func (m Model) Dims() (state, measurement int) {
	measurement, state = m.Measurement.Dims()
	return state, measurement
}

// ConstantVelocity builds a model tracking channels independent scalar
// positions. The state is laid out as [pos0, vel0, pos1, vel1, ...] with
// position advanced by velocity once per frame, and each measurement row
// observes one channel's position.
func ConstantVelocity(channels int, processNoise, measurementNoise float64) Model {
	if channels < 1 {
		channels = 1
	}
	n := 2 * channels

	f := mat.NewDense(n, n, nil)
	h := mat.NewDense(channels, n, nil)
	for c := 0; c < channels; c++ {
		p, v := 2*c, 2*c+1
		f.Set(p, p, 1)
		f.Set(p, v, 1)
		f.Set(v, v, 1)
		h.Set(c, p, 1)
	}

	return Model{
		Transition:       f,
		Measurement:      h,
		ProcessNoise:     scaledIdentity(n, processNoise),
		MeasurementNoise: scaledIdentity(channels, measurementNoise),
	}
}

// CoupledPair builds the two-input model where one filter smooths a pair of
// scalar inputs jointly. The transition is the two-channel constant-velocity
// block, but the measurement matrix observes the first two state entries, so
// the second input is read against the first channel's velocity. Only
// position 0 is consumed downstream.
func CoupledPair(processNoise, measurementNoise float64) Model {
	m := ConstantVelocity(2, processNoise, measurementNoise)
	m.Measurement = mat.NewDense(2, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
	})
	return m
}

func scaledIdentity(n int, scale float64) *mat.Dense {
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		d.Set(i, i, scale)
	}
	return d
}
