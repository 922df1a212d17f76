package sampler

import (
	"context"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"github.com/CChapmanbird/nessai/internal/diagnostics"
	"github.com/CChapmanbird/nessai/internal/live"
	"github.com/CChapmanbird/nessai/internal/model"
	"github.com/CChapmanbird/nessai/internal/proposal"
	"github.com/CChapmanbird/nessai/internal/testutil"
)

// priorRejectionFactory builds the unbiased reference proposal, which keeps
// accuracy and uniformity assertions free of model-approximation error.
func priorRejectionFactory(m model.Model, src rand.Source, _ *diagnostics.Monitor, logger *slog.Logger) Proposer {
	return proposal.NewRejectionProposal(m, src, 100, 1, logger)
}

func runGaussian(t *testing.T, cfg Config, opts ...Option) *Result {
	t.Helper()
	m := testutil.NewGaussianModel(2, 5)
	opts = append([]Option{WithLogger(testLogger())}, opts...)
	s, err := New(cfg, m, opts...)
	require.NoError(t, err)
	res, err := s.Run(context.Background())
	require.NoError(t, err)
	return res
}

func TestSampler_GaussianEvidenceAccuracy(t *testing.T) {
	// 2-D unit Gaussian over [-10,10]^2 at a tight tolerance; the prior
	// volume at termination is ~1e-5, hence the large attempt budget
	m := testutil.NewGaussianModel(2, 10)
	s, err := New(Config{NLive: 50, Tolerance: 1e-3, MaxAttempts: 500000, Seed: 42}, m,
		WithLogger(testLogger()), WithProposerFactory(priorRejectionFactory))
	require.NoError(t, err)
	res, err := s.Run(context.Background())
	require.NoError(t, err)

	require.Greater(t, res.LogZErr, 0.0)
	assert.InDelta(t, m.AnalyticLogZ(), res.LogZ, 3*res.LogZErr+0.1)
	assert.Greater(t, res.Iterations, 100)
	assert.Greater(t, res.Information, 0.0)
}

func TestSampler_DeadPointRecordIsOrdered(t *testing.T) {
	res := runGaussian(t, Config{NLive: 50, Tolerance: 0.5, Seed: 3},
		WithProposerFactory(priorRejectionFactory))

	logt := math.Log(50.0 / 51.0)
	prevL := math.Inf(-1)
	for i, dp := range res.Dead {
		require.GreaterOrEqual(t, dp.Point.LogL, prevL, "dead point %d out of order", i)
		prevL = dp.Point.LogL
		if !dp.Final {
			// during the main loop the volume shrinks geometrically
			assert.InDelta(t, float64(i+1)*logt, dp.LogX, 1e-9)
		}
	}
	// the final consumption empties the live population exactly
	finals := 0
	for _, dp := range res.Dead {
		if dp.Final {
			finals++
		}
	}
	assert.Equal(t, 50, finals)
	assert.Equal(t, res.Iterations+50, len(res.Dead))
}

func TestSampler_PosteriorWeightsNormalized(t *testing.T) {
	res := runGaussian(t, Config{NLive: 50, Tolerance: 0.5, Seed: 3},
		WithProposerFactory(priorRejectionFactory))

	w := res.PosteriorWeights()
	require.Len(t, w, len(res.Dead))
	sum := 0.0
	for _, v := range w {
		require.GreaterOrEqual(t, v, 0.0)
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)

	// posterior mean of a centred Gaussian is near the origin
	mean := res.PosteriorMean()
	require.Len(t, mean, 2)
	assert.InDelta(t, 0.0, mean[0], 0.3)
	assert.InDelta(t, 0.0, mean[1], 0.3)
}

func TestSampler_InsertionIndicesAreUniform(t *testing.T) {
	res := runGaussian(t, Config{NLive: 100, Tolerance: 0.1, Seed: 11},
		WithProposerFactory(priorRejectionFactory))

	require.Equal(t, res.Iterations, len(res.InsertionIndices))
	for _, idx := range res.InsertionIndices {
		require.GreaterOrEqual(t, idx, 0)
		require.Less(t, idx, 100)
	}
	assert.Greater(t, res.FinalKSPValue, 0.01,
		"unbiased proposal should not fail the uniformity test (D=%v)", res.FinalKS)
}

func TestSampler_SeedReproducibility(t *testing.T) {
	cfg := Config{NLive: 50, Tolerance: 0.5, Seed: 99}
	a := runGaussian(t, cfg, WithProposerFactory(priorRejectionFactory))
	b := runGaussian(t, cfg, WithProposerFactory(priorRejectionFactory))

	require.Equal(t, a.Iterations, b.Iterations)
	require.Equal(t, a.LogZ, b.LogZ)
	require.Equal(t, a.InsertionIndices, b.InsertionIndices)
}

func TestSampler_FlowProposalEndToEnd(t *testing.T) {
	m := testutil.NewGaussianModel(2, 5)
	s, err := New(Config{
		NLive:     100,
		Tolerance: 0.1,
		Seed:      7,
		Proposal:  proposal.Config{TrainingInterval: 200, Cooldown: 50},
	}, m, WithLogger(testLogger()))
	require.NoError(t, err)

	res, err := s.Run(context.Background())
	require.NoError(t, err)

	rt, ok := s.prop.(Retrainer)
	require.True(t, ok)
	assert.Greater(t, rt.TrainingCount(), 0)
	assert.False(t, rt.Degraded())

	retrains := 0
	for _, ev := range res.Events {
		if ev.Kind == diagnostics.EventRetrain {
			retrains++
		}
	}
	assert.Equal(t, rt.TrainingCount(), retrains)
	assert.False(t, math.IsInf(res.LogZ, 0))
	assert.InDelta(t, m.AnalyticLogZ(), res.LogZ, 2.0)
}

func TestSampler_DegradedModeCompletesRun(t *testing.T) {
	m := testutil.NewGaussianModel(1, 5)
	divergingFactory := func(m model.Model, src rand.Source, monitor *diagnostics.Monitor, logger *slog.Logger) Proposer {
		return proposal.NewFlowProposal(m, testutil.DivergingFactory, src,
			proposal.Config{TrainingInterval: 50}, monitor, logger)
	}
	s, err := New(Config{NLive: 50, Tolerance: 0.5, Seed: 5}, m,
		WithLogger(testLogger()), WithProposerFactory(divergingFactory))
	require.NoError(t, err)

	res, err := s.Run(context.Background())
	require.NoError(t, err, "training divergence must never abort a run")
	assert.False(t, math.IsInf(res.LogZ, 0))

	degraded := 0
	for _, ev := range res.Events {
		if ev.Kind == diagnostics.EventDegraded {
			degraded++
		}
	}
	assert.Greater(t, degraded, 0)
}

func TestSampler_OrderingViolationAborts(t *testing.T) {
	m := testutil.NewGaussianModel(1, 5)
	bad := live.NewPoint([]float64{0.1}, -math.Log(10), math.Inf(-1), math.Inf(-1))
	s, err := New(Config{NLive: 10, Tolerance: 0.1, Seed: 1}, m,
		WithLogger(testLogger()),
		WithProposer(&testutil.StubProposal{Points: []live.Point{bad}}))
	require.NoError(t, err)

	_, err = s.Run(context.Background())
	require.Error(t, err)
	require.True(t, live.IsOrderingViolation(err), "got %v", err)

	// state must remain inspectable after the abort
	assert.NotEqual(t, StatusTerminated, s.Status())
	assert.Len(t, s.DeadPoints(), 1)
	assert.Equal(t, 0, s.Iteration())
}

type alwaysExhausted struct {
	calls int
}

func (p *alwaysExhausted) Propose(context.Context, float64, int) (live.Point, error) {
	p.calls++
	return live.Point{}, &proposal.ExhaustedError{Threshold: 0, Attempts: 1}
}

func TestSampler_ExhaustionRetriesOnceThenFails(t *testing.T) {
	m := testutil.NewGaussianModel(1, 5)
	prop := &alwaysExhausted{}
	s, err := New(Config{NLive: 10, Tolerance: 0.1, Seed: 1}, m,
		WithLogger(testLogger()), WithProposer(prop))
	require.NoError(t, err)

	_, err = s.Run(context.Background())
	require.Error(t, err)
	require.True(t, proposal.IsExhausted(err))
	assert.Equal(t, 2, prop.calls, "one retry with a larger budget, then fatal")
}

func TestSampler_MaxIterationsCapFinalises(t *testing.T) {
	res := runGaussian(t, Config{NLive: 20, Tolerance: 1e-6, MaxIterations: 40, Seed: 2},
		WithProposerFactory(priorRejectionFactory))
	assert.Equal(t, 40, res.Iterations)
	assert.Len(t, res.Dead, 60)
	assert.False(t, math.IsInf(res.LogZ, 0))
}

func TestSampler_ContextCancellation(t *testing.T) {
	m := testutil.NewGaussianModel(2, 5)
	s, err := New(Config{NLive: 20, Tolerance: 0.1, Seed: 4}, m,
		WithLogger(testLogger()), WithProposerFactory(priorRejectionFactory))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	// a cancelled run is paused, not terminated: it can still checkpoint
	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Iteration)
	assert.Len(t, snap.Live, 20)
}

func TestSampler_CancelledProposeStillCompletesIteration(t *testing.T) {
	m := testutil.NewGaussianModel(2, 5)
	s, err := New(Config{NLive: 50, Tolerance: 0.5, Seed: 13}, m,
		WithLogger(testLogger()), WithProposerFactory(priorRejectionFactory))
	require.NoError(t, err)
	require.NoError(t, s.ensureInitialized())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// once a removal has committed the replacement must still be drawn,
	// even though the proposal checks the context inside its draw loop
	require.NoError(t, s.step(ctx))
	require.Len(t, s.DeadPoints(), 1)
	require.Equal(t, 1, s.Iteration())

	// the population is whole again, so the checkpoint is sound
	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Len(t, snap.Live, 50)
}

func TestSampler_RejectsInvalidConfig(t *testing.T) {
	m := testutil.NewGaussianModel(1, 5)
	_, err := New(Config{NLive: 1}, m)
	require.Error(t, err)
}

func TestSampler_RejectsBrokenModel(t *testing.T) {
	_, err := New(Config{NLive: 10}, testutil.NewNaNModel(2))
	require.Error(t, err)
}
