package sampler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/CChapmanbird/nessai/internal/proposal"
	"github.com/CChapmanbird/nessai/internal/testutil"
)

func TestSnapshot_RequiresInitializedRun(t *testing.T) {
	m := testutil.NewGaussianModel(1, 5)
	s, err := New(Config{NLive: 10, Seed: 1}, m,
		WithLogger(testLogger()), WithProposerFactory(priorRejectionFactory))
	require.NoError(t, err)

	_, err = s.Snapshot()
	require.Error(t, err)
}

func TestSnapshot_RoundTripResumesIdentically(t *testing.T) {
	cfg := Config{NLive: 50, Tolerance: 0.5, Seed: 7}
	m := testutil.NewGaussianModel(2, 5)

	s1, err := New(cfg, m, WithLogger(testLogger()), WithProposerFactory(priorRejectionFactory))
	require.NoError(t, err)
	require.NoError(t, s1.ensureInitialized())
	ctx := context.Background()
	for i := 0; i < 40; i++ {
		require.NoError(t, s1.step(ctx))
	}

	snap, err := s1.Snapshot()
	require.NoError(t, err)
	require.Equal(t, 40, snap.Iteration)
	require.Len(t, snap.Live, 50)
	require.Len(t, snap.Dead, 40)
	require.NotEmpty(t, snap.RNG)

	// serialize through YAML exactly as the trace store persists it,
	// including the -Inf birth thresholds and the binary source state
	blob, err := yaml.Marshal(snap)
	require.NoError(t, err)
	var restored Snapshot
	require.NoError(t, yaml.Unmarshal(blob, &restored))

	res1, err := s1.Run(ctx)
	require.NoError(t, err)

	s2, err := Resume(cfg, m, &restored,
		WithLogger(testLogger()), WithProposerFactory(priorRejectionFactory))
	require.NoError(t, err)
	require.Equal(t, s1.RunID(), s2.RunID())
	res2, err := s2.Run(ctx)
	require.NoError(t, err)

	// resuming mid-run must be indistinguishable from never stopping
	require.Equal(t, res1.Iterations, res2.Iterations)
	assert.InDelta(t, res1.LogZ, res2.LogZ, 1e-9)
	assert.InDelta(t, res1.LogZErr, res2.LogZErr, 1e-9)
	require.Equal(t, res1.InsertionIndices, res2.InsertionIndices)
	require.Equal(t, len(res1.Dead), len(res2.Dead))
	for i := range res1.Dead {
		assert.Equal(t, res1.Dead[i].Point.Params, res2.Dead[i].Point.Params, "dead point %d", i)
	}
}

func TestResume_RejectsMismatchedPopulationSize(t *testing.T) {
	m := testutil.NewGaussianModel(1, 5)
	s, err := New(Config{NLive: 10, Tolerance: 1, Seed: 2}, m,
		WithLogger(testLogger()), WithProposerFactory(priorRejectionFactory))
	require.NoError(t, err)
	require.NoError(t, s.ensureInitialized())
	snap, err := s.Snapshot()
	require.NoError(t, err)

	_, err = Resume(Config{NLive: 20}, m, snap, WithLogger(testLogger()))
	require.Error(t, err)
}

func TestSnapshot_TerminatedRunRefuses(t *testing.T) {
	m := testutil.NewGaussianModel(1, 5)
	s, err := New(Config{NLive: 10, Tolerance: 1, Seed: 3}, m,
		WithLogger(testLogger()), WithProposerFactory(priorRejectionFactory))
	require.NoError(t, err)
	_, err = s.Run(context.Background())
	require.NoError(t, err)

	_, err = s.Snapshot()
	require.Error(t, err)
}

func TestSampler_PeriodicCheckpoints(t *testing.T) {
	m := testutil.NewGaussianModel(2, 5)
	var snaps []*Snapshot
	s, err := New(Config{NLive: 20, Tolerance: 1e-6, MaxIterations: 30, Seed: 9}, m,
		WithLogger(testLogger()),
		WithProposerFactory(priorRejectionFactory),
		WithCheckpoint(10, func(snap *Snapshot) error {
			snaps = append(snaps, snap)
			return nil
		}))
	require.NoError(t, err)

	_, err = s.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, snaps, 3)
	assert.Equal(t, 10, snaps[0].Iteration)
	assert.Equal(t, 20, snaps[1].Iteration)
	assert.Equal(t, 30, snaps[2].Iteration)
}

func TestSnapshot_RoundTripWithFlowProposal(t *testing.T) {
	cfg := Config{
		NLive:     100,
		Tolerance: 0.5,
		Seed:      17,
		Proposal:  proposal.Config{TrainingInterval: 50, Cooldown: 25},
	}
	m := testutil.NewGaussianModel(2, 5)

	var first *Snapshot
	s1, err := New(cfg, m, WithLogger(testLogger()),
		WithCheckpoint(60, func(snap *Snapshot) error {
			if first == nil {
				first = snap
			}
			return nil
		}))
	require.NoError(t, err)
	res1, err := s1.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, first, "run finished before the first checkpoint")
	require.NotEmpty(t, first.Proposal, "snapshot must carry the proposal engine state")

	blob, err := yaml.Marshal(first)
	require.NoError(t, err)
	var restored Snapshot
	require.NoError(t, yaml.Unmarshal(blob, &restored))

	s2, err := Resume(cfg, m, &restored, WithLogger(testLogger()))
	require.NoError(t, err)
	res2, err := s2.Run(context.Background())
	require.NoError(t, err)

	// with the trained density and retraining bookkeeping restored, the
	// resumed run is indistinguishable from one that never stopped
	require.Equal(t, res1.Iterations, res2.Iterations)
	assert.InDelta(t, res1.LogZ, res2.LogZ, 1e-9)
	require.Equal(t, res1.InsertionIndices, res2.InsertionIndices)
}

func TestSnapshot_RefusesShortPopulation(t *testing.T) {
	m := testutil.NewGaussianModel(1, 5)
	s, err := New(Config{NLive: 10, Tolerance: 1, Seed: 6}, m,
		WithLogger(testLogger()), WithProposerFactory(priorRejectionFactory))
	require.NoError(t, err)
	require.NoError(t, s.ensureInitialized())
	_, err = s.pop.PopWorst()
	require.NoError(t, err)

	// a removal without its insertion must never become a checkpoint
	_, err = s.Snapshot()
	require.Error(t, err)
}
