package flow

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

func trainingCloud(n, dims int, seed uint64) [][]float64 {
	u := distuv.Uniform{Min: -2, Max: 2, Src: rand.NewSource(seed)}
	pts := make([][]float64, n)
	for i := range pts {
		x := make([]float64, dims)
		for j := range x {
			x[j] = u.Rand()
		}
		pts[i] = x
	}
	return pts
}

func TestAffineGaussian_FitSampleLogProb(t *testing.T) {
	d := NewAffineGaussian(2, rand.NewSource(1))
	assert.False(t, d.Trained())
	assert.True(t, math.IsNaN(d.LogProb([]float64{0, 0})), "untrained LogProb is NaN")

	require.NoError(t, d.Fit(trainingCloud(200, 2, 7), nil))
	assert.True(t, d.Trained())

	samples := d.Sample(50)
	require.Len(t, samples, 50)
	for _, x := range samples {
		require.Len(t, x, 2)
		for _, v := range x {
			assert.False(t, math.IsNaN(v))
			assert.False(t, math.IsInf(v, 0))
		}
		lp := d.LogProb(x)
		assert.False(t, math.IsNaN(lp))
	}
}

func TestAffineGaussian_FitWeighted(t *testing.T) {
	pts := trainingCloud(100, 2, 11)
	w := make([]float64, len(pts))
	for i := range w {
		w[i] = float64(i + 1)
	}
	d := NewAffineGaussian(2, rand.NewSource(2))
	require.NoError(t, d.Fit(pts, w))
	assert.True(t, d.Trained())
}

func TestAffineGaussian_TooFewPoints(t *testing.T) {
	d := NewAffineGaussian(3, rand.NewSource(3))
	err := d.Fit(trainingCloud(3, 3, 5), nil)
	require.Error(t, err)
	assert.True(t, IsTrainingDivergence(err))
}

func TestAffineGaussian_NonFinitePoint(t *testing.T) {
	pts := trainingCloud(20, 2, 9)
	pts[4][1] = math.NaN()
	d := NewAffineGaussian(2, rand.NewSource(4))
	err := d.Fit(pts, nil)
	require.Error(t, err)
	assert.True(t, IsTrainingDivergence(err))
	assert.False(t, d.Trained(), "failed fit must not leave a model behind")
}

func TestAffineGaussian_BadWeights(t *testing.T) {
	pts := trainingCloud(20, 2, 13)
	d := NewAffineGaussian(2, rand.NewSource(5))

	w := make([]float64, 20)
	w[0] = -1
	require.True(t, IsTrainingDivergence(d.Fit(pts, w)))

	require.True(t, IsTrainingDivergence(d.Fit(pts, make([]float64, 20))), "all-zero weights diverge")
	require.True(t, IsTrainingDivergence(d.Fit(pts, w[:3])), "length mismatch diverges")
}

func TestAffineGaussian_FailedFitKeepsPreviousModel(t *testing.T) {
	d := NewAffineGaussian(2, rand.NewSource(6))
	require.NoError(t, d.Fit(trainingCloud(100, 2, 17), nil))
	before := d.LogProb([]float64{0.5, -0.5})

	bad := trainingCloud(20, 2, 19)
	bad[0][0] = math.Inf(1)
	require.Error(t, d.Fit(bad, nil))

	assert.True(t, d.Trained())
	assert.Equal(t, before, d.LogProb([]float64{0.5, -0.5}), "previous model survives a diverged fit")
}

func TestAffineGaussian_StateRoundTrip(t *testing.T) {
	d1 := NewAffineGaussian(2, rand.NewSource(31))
	require.NoError(t, d1.Fit(trainingCloud(150, 2, 29), nil))

	sd1, ok := d1.(StatefulDensity)
	require.True(t, ok)
	blob, err := sd1.MarshalState()
	require.NoError(t, err)
	require.NotEmpty(t, blob)

	d2 := NewAffineGaussian(2, rand.NewSource(31))
	sd2 := d2.(StatefulDensity)
	require.NoError(t, sd2.UnmarshalState(blob))
	require.True(t, d2.Trained())

	// identical parameters plus identically-seeded sources give identical
	// densities and identical draws
	for _, x := range [][]float64{{0, 0}, {1, -1}, {-1.8, 0.3}} {
		assert.Equal(t, d1.LogProb(x), d2.LogProb(x))
	}
	assert.Equal(t, d1.Sample(10), d2.Sample(10))
}

func TestAffineGaussian_StateUntrainedAndReset(t *testing.T) {
	d := NewAffineGaussian(2, rand.NewSource(37)).(StatefulDensity)
	blob, err := d.MarshalState()
	require.NoError(t, err)
	assert.Empty(t, blob, "untrained density serializes to nothing")

	require.NoError(t, d.Fit(trainingCloud(100, 2, 41), nil))
	require.True(t, d.Trained())
	require.NoError(t, d.UnmarshalState(nil))
	assert.False(t, d.Trained(), "empty state resets to untrained")
}

func TestAffineGaussian_StateRejectsWrongDimension(t *testing.T) {
	d1 := NewAffineGaussian(3, rand.NewSource(43)).(StatefulDensity)
	require.NoError(t, d1.Fit(trainingCloud(100, 3, 47), nil))
	blob, err := d1.MarshalState()
	require.NoError(t, err)

	d2 := NewAffineGaussian(2, rand.NewSource(43)).(StatefulDensity)
	require.Error(t, d2.UnmarshalState(blob))
}

func TestAffineGaussian_Deterministic(t *testing.T) {
	pts := trainingCloud(100, 2, 23)

	d1 := NewAffineGaussian(2, rand.NewSource(99))
	require.NoError(t, d1.Fit(pts, nil))
	d2 := NewAffineGaussian(2, rand.NewSource(99))
	require.NoError(t, d2.Fit(pts, nil))

	assert.Equal(t, d1.Sample(10), d2.Sample(10), "same seed, same fit, same draws")
}
