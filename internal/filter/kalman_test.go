package filter

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func variance(values []float64) float64 {
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return sum / float64(len(values))
}

func TestFilter_SmoothsStationaryNoise(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(7, 11))
	f := New(ConstantVelocity(1, DefaultProcessNoise, DefaultMeasurementNoise))

	const frames = 600
	const warmup = 100
	inputs := make([]float64, 0, frames)
	outputs := make([]float64, 0, frames)
	for i := 0; i < frames; i++ {
		z := 320 + rng.NormFloat64()*5
		f.Predict()
		est, err := f.Correct([]float64{z})
		require.NoError(t, err)
		if i >= warmup {
			inputs = append(inputs, z)
			outputs = append(outputs, est.Position(0))
		}
	}

	assert.Less(t, variance(outputs), variance(inputs))
}

func TestFilter_ConvergesOnConstantInput(t *testing.T) {
	t.Parallel()

	f := New(ConstantVelocity(1, DefaultProcessNoise, DefaultMeasurementNoise))
	for i := 0; i < 300; i++ {
		f.Predict()
		_, err := f.Correct([]float64{50})
		require.NoError(t, err)
	}

	assert.InDelta(t, 50, f.Position(0), 1e-3)
	assert.InDelta(t, 0, f.State().Velocity(0), 1e-3)
}

func TestFilter_StartsFromZeroState(t *testing.T) {
	t.Parallel()

	f := New(ConstantVelocity(1, DefaultProcessNoise, DefaultMeasurementNoise))
	prior := f.Predict()
	assert.Equal(t, Estimate{0, 0}, prior)

	post, err := f.Correct([]float64{100})
	require.NoError(t, err)

	// First gain is q/(q+r) with zero initial covariance.
	want := 100 * DefaultProcessNoise / (DefaultProcessNoise + DefaultMeasurementNoise)
	assert.InDelta(t, want, post.Position(0), 1e-9)
}

func TestFilter_RejectsNonFiniteMeasurement(t *testing.T) {
	t.Parallel()

	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		f := New(ConstantVelocity(1, DefaultProcessNoise, DefaultMeasurementNoise))
		for i := 0; i < 20; i++ {
			f.Predict()
			_, err := f.Correct([]float64{10})
			require.NoError(t, err)
		}

		prior := f.Predict()
		post, err := f.Correct([]float64{bad})
		require.ErrorIs(t, err, ErrNonFiniteMeasurement)
		assert.Equal(t, prior, post)
		assert.Equal(t, prior, f.State())

		// The next frame proceeds normally.
		f.Predict()
		_, err = f.Correct([]float64{10})
		assert.NoError(t, err)
		assert.False(t, math.IsNaN(f.Position(0)))
	}
}

func TestFilter_RejectsWrongMeasurementLength(t *testing.T) {
	t.Parallel()

	f := New(CoupledPair(DefaultProcessNoise, DefaultMeasurementNoise))
	f.Predict()
	_, err := f.Correct([]float64{1})
	assert.Error(t, err)
}

func TestFilter_SeedFromFirst(t *testing.T) {
	t.Parallel()

	f := New(ConstantVelocity(1, DefaultProcessNoise, DefaultMeasurementNoise), WithSeedFromFirst())
	f.Predict()
	est, err := f.Correct([]float64{240})
	require.NoError(t, err)
	assert.Equal(t, 240.0, est.Position(0))

	f.Predict()
	est, err = f.Correct([]float64{240})
	require.NoError(t, err)
	assert.InDelta(t, 240, est.Position(0), 1e-9)
}

func TestFilter_ChannelsDoNotInterfere(t *testing.T) {
	t.Parallel()

	joint := New(ConstantVelocity(2, DefaultProcessNoise, DefaultMeasurementNoise))
	a := New(ConstantVelocity(1, DefaultProcessNoise, DefaultMeasurementNoise))
	b := New(ConstantVelocity(1, DefaultProcessNoise, DefaultMeasurementNoise))

	rng := rand.New(rand.NewPCG(3, 5))
	for i := 0; i < 50; i++ {
		x := 100 + rng.NormFloat64()
		y := -40 + rng.NormFloat64()

		joint.Predict()
		a.Predict()
		b.Predict()
		_, err := joint.Correct([]float64{x, y})
		require.NoError(t, err)
		_, err = a.Correct([]float64{x})
		require.NoError(t, err)
		_, err = b.Correct([]float64{y})
		require.NoError(t, err)
	}

	assert.InDelta(t, a.Position(0), joint.Position(0), 1e-9)
	assert.InDelta(t, b.Position(0), joint.Position(1), 1e-9)
}

func TestFilter_CoupledPairTracksFirstInput(t *testing.T) {
	t.Parallel()

	f := New(CoupledPair(DefaultProcessNoise, DefaultMeasurementNoise))
	n, m := f.model.Dims()
	assert.Equal(t, 4, n)
	assert.Equal(t, 2, m)

	// With the second input pinned to zero the velocity stays near zero and
	// position 0 converges on the first input.
	for i := 0; i < 300; i++ {
		f.Predict()
		_, err := f.Correct([]float64{75, 0})
		require.NoError(t, err)
	}
	assert.InDelta(t, 75, f.Position(0), 0.5)
}

func TestFilter_PositionVarianceShrinksBelowMeasurementNoise(t *testing.T) {
	t.Parallel()

	f := New(ConstantVelocity(1, DefaultProcessNoise, DefaultMeasurementNoise))
	for i := 0; i < 100; i++ {
		f.Predict()
		_, err := f.Correct([]float64{1})
		require.NoError(t, err)
	}
	assert.Less(t, f.PositionVariance(0), DefaultMeasurementNoise)
	assert.Greater(t, f.PositionVariance(0), 0.0)
}
