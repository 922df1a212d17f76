package live

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"github.com/CChapmanbird/nessai/internal/model"
)

type gaussModel struct {
	model.UniformBox
}

func (gaussModel) LogLikelihood(x []float64) float64 {
	s := 0.0
	for _, v := range x {
		s += v * v
	}
	return -0.5 * s
}

// nanModel returns NaN likelihoods everywhere: initialization must fail.
type nanModel struct {
	model.UniformBox
}

func (nanModel) LogLikelihood(x []float64) float64 { return math.NaN() }

func newGaussModel(t *testing.T) gaussModel {
	t.Helper()
	b, err := model.NewBounds([]float64{-5, -5}, []float64{5, 5})
	require.NoError(t, err)
	return gaussModel{model.NewUniformBox(b)}
}

func TestInitialize_FillsAndSorts(t *testing.T) {
	m := newGaussModel(t)
	pop, err := Initialize(50, m, rand.NewSource(1), 0)
	require.NoError(t, err)
	require.Equal(t, 50, pop.Len())

	pts := pop.Points()
	for i := 1; i < len(pts); i++ {
		assert.LessOrEqual(t, pts[i-1].LogL, pts[i].LogL, "population must be sorted by logL")
	}
	assert.True(t, math.IsInf(pop.Threshold(), -1), "threshold starts at -Inf")
	for _, pt := range pts {
		assert.False(t, math.IsNaN(pt.LogL))
		assert.True(t, math.IsInf(pt.LogLBirth, -1), "initial points are born at -Inf threshold")
	}
}

func TestInitialize_FailsOnNonFiniteLikelihood(t *testing.T) {
	b, err := model.NewBounds([]float64{-1}, []float64{1})
	require.NoError(t, err)
	m := nanModel{model.NewUniformBox(b)}

	_, err = Initialize(10, m, rand.NewSource(1), 2)
	require.Error(t, err)
	assert.True(t, IsInitializationError(err))
}

func TestPopWorst_RemovesMinimumAndRaisesThreshold(t *testing.T) {
	m := newGaussModel(t)
	pop, err := Initialize(20, m, rand.NewSource(2), 0)
	require.NoError(t, err)

	min0, err := pop.MinLogL()
	require.NoError(t, err)

	worst, err := pop.PopWorst()
	require.NoError(t, err)
	assert.Equal(t, min0, worst.LogL)
	assert.Equal(t, worst.LogL, pop.Threshold())
	assert.Equal(t, 19, pop.Len())

	min1, err := pop.MinLogL()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, min1, worst.LogL)
}

func TestPopWorst_Empty(t *testing.T) {
	pop := Restore(nil, math.Inf(-1))
	_, err := pop.PopWorst()
	require.Error(t, err)
	assert.True(t, IsEmptyPopulation(err))
}

func TestInsert_MaintainsOrderAndSize(t *testing.T) {
	m := newGaussModel(t)
	pop, err := Initialize(30, m, rand.NewSource(3), 0)
	require.NoError(t, err)

	for iter := 0; iter < 100; iter++ {
		worst, err := pop.PopWorst()
		require.NoError(t, err)

		// Replacement strictly above the new threshold.
		repl := NewPoint(worst.Params, worst.LogP, worst.LogL+0.1, worst.LogL)
		idx, err := pop.Insert(repl)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, idx, 0)
		assert.Less(t, idx, 30)
		assert.Equal(t, 30, pop.Len(), "size conserved at iteration %d", iter)

		pts := pop.Points()
		for i := 1; i < len(pts); i++ {
			require.LessOrEqual(t, pts[i-1].LogL, pts[i].LogL)
		}
	}
}

func TestInsert_OrderingViolation(t *testing.T) {
	m := newGaussModel(t)
	pop, err := Initialize(10, m, rand.NewSource(4), 0)
	require.NoError(t, err)

	worst, err := pop.PopWorst()
	require.NoError(t, err)

	// Equal to the threshold is a violation too: the contract is strict.
	_, err = pop.Insert(NewPoint(worst.Params, worst.LogP, worst.LogL, worst.LogL))
	require.Error(t, err)
	assert.True(t, IsOrderingViolation(err))

	_, err = pop.Insert(NewPoint(worst.Params, worst.LogP, worst.LogL-1, worst.LogL))
	require.Error(t, err)
	assert.True(t, IsOrderingViolation(err))

	// NaN never passes a strict comparison.
	_, err = pop.Insert(NewPoint(worst.Params, worst.LogP, math.NaN(), worst.LogL))
	require.Error(t, err)
	assert.True(t, IsOrderingViolation(err))
}

func TestRestore_RoundTrip(t *testing.T) {
	m := newGaussModel(t)
	pop, err := Initialize(15, m, rand.NewSource(5), 0)
	require.NoError(t, err)
	_, err = pop.PopWorst()
	require.NoError(t, err)

	clone := Restore(pop.Points(), pop.Threshold())
	assert.Equal(t, pop.Len(), clone.Len())
	assert.Equal(t, pop.Threshold(), clone.Threshold())
	assert.Equal(t, pop.Points(), clone.Points())
}

func TestNewPoint_CopiesParams(t *testing.T) {
	x := []float64{1, 2}
	pt := NewPoint(x, 0, -1, math.Inf(-1))
	x[0] = 99
	assert.Equal(t, 1.0, pt.Params[0], "point must own its parameter vector")
}
