// Package filter implements the linear constant-velocity Kalman filter used
// to smooth per-frame landmark positions.
package filter

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrNonFiniteMeasurement is returned by Correct when a measurement contains
// NaN or Inf. The filter keeps its predicted state for that frame.
var ErrNonFiniteMeasurement = errors.New("non-finite measurement")

// Estimate is a copy of the filter state vector.
type Estimate []float64

// Position returns the position entry of the given channel.
func (e Estimate) Position(channel int) float64 {
	return e[2*channel]
}

// Velocity returns the velocity entry of the given channel.
func (e Estimate) Velocity(channel int) float64 {
	return e[2*channel+1]
}

// Filter is a discrete linear Kalman filter. Predict and Correct are meant to
// be called once each per frame, in that order. The filter is not safe for
// concurrent use; each tracked entity owns its own instances.
type Filter struct {
	model Model
	n, m  int

	statePre  *mat.VecDense
	statePost *mat.VecDense
	covPre    *mat.Dense
	covPost   *mat.Dense

	seedFromFirst bool
	seeded        bool
}

// Option configures a Filter.
type Option func(*Filter)

// WithSeedFromFirst makes the first accepted measurement initialize the
// observed state entries directly instead of being blended with the zero
// initial state.
func WithSeedFromFirst() Option {
	return func(f *Filter) {
		f.seedFromFirst = true
	}
}

// New creates a filter for the given model. State and covariance start at
// zero.
func New(model Model, opts ...Option) *Filter {
	n, m := model.Dims()
	f := &Filter{
		model:     model,
		n:         n,
		m:         m,
		statePre:  mat.NewVecDense(n, nil),
		statePost: mat.NewVecDense(n, nil),
		covPre:    mat.NewDense(n, n, nil),
		covPost:   mat.NewDense(n, n, nil),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Predict advances the state one frame and returns the prior estimate.
// The prior is also copied into the posterior so that a skipped correction
// leaves the prediction in place.
func (f *Filter) Predict() Estimate {
	F := f.model.Transition

	// x' = F x
	f.statePre.MulVec(F, f.statePost)

	// P' = F P F^T + Q
	var fp mat.Dense
	fp.Mul(F, f.covPost)
	f.covPre.Mul(&fp, F.T())
	f.covPre.Add(f.covPre, f.model.ProcessNoise)

	f.statePost.CopyVec(f.statePre)
	f.covPost.Copy(f.covPre)

	return f.snapshot(f.statePre)
}

// Correct folds a measurement into the predicted state and returns the
// posterior estimate. A measurement with a non-finite value is rejected with
// ErrNonFiniteMeasurement and the posterior stays equal to the prior.
func (f *Filter) Correct(z []float64) (Estimate, error) {
	if len(z) != f.m {
		return f.snapshot(f.statePost), fmt.Errorf("measurement has %d values, want %d", len(z), f.m)
	}
	for _, v := range z {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return f.snapshot(f.statePost), ErrNonFiniteMeasurement
		}
	}

	if f.seedFromFirst && !f.seeded {
		f.seed(z)
		return f.snapshot(f.statePost), nil
	}

	H := f.model.Measurement
	measurement := mat.NewVecDense(f.m, append([]float64(nil), z...))

	// S = H P' H^T + R
	var hp, s mat.Dense
	hp.Mul(H, f.covPre)
	s.Mul(&hp, H.T())
	s.Add(&s, f.model.MeasurementNoise)

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		return f.snapshot(f.statePost), fmt.Errorf("invert innovation covariance: %w", err)
	}

	// K = P' H^T S^-1
	var pht, gain mat.Dense
	pht.Mul(f.covPre, H.T())
	gain.Mul(&pht, &sInv)

	// x = x' + K (z - H x')
	var predicted, innovation, step mat.VecDense
	predicted.MulVec(H, f.statePre)
	innovation.SubVec(measurement, &predicted)
	step.MulVec(&gain, &innovation)
	f.statePost.AddVec(f.statePre, &step)

	// P = (I - K H) P'
	var kh, khp mat.Dense
	kh.Mul(&gain, H)
	khp.Mul(&kh, f.covPre)
	f.covPost.Sub(f.covPre, &khp)

	f.seeded = true
	return f.snapshot(f.statePost), nil
}

// State returns the current posterior estimate.
func (f *Filter) State() Estimate {
	return f.snapshot(f.statePost)
}

// Position returns the smoothed position of the given channel.
func (f *Filter) Position(channel int) float64 {
	return f.statePost.AtVec(2 * channel)
}

// PositionVariance returns the posterior variance of a channel's position.
func (f *Filter) PositionVariance(channel int) float64 {
	i := 2 * channel
	return f.covPost.At(i, i)
}

// seed writes each measurement into the state entry its measurement row
// selects.
func (f *Filter) seed(z []float64) {
	H := f.model.Measurement
	for row := 0; row < f.m; row++ {
		for col := 0; col < f.n; col++ {
			if h := H.At(row, col); h != 0 {
				f.statePost.SetVec(col, z[row]/h)
				break
			}
		}
	}
	f.statePre.CopyVec(f.statePost)
	f.seeded = true
}

func (f *Filter) snapshot(v *mat.VecDense) Estimate {
	out := make(Estimate, f.n)
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out
}
