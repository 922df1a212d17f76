package sampler

import (
	"fmt"
	"log/slog"
	"math"

	"golang.org/x/exp/rand"

	"github.com/CChapmanbird/nessai/internal/diagnostics"
	"github.com/CChapmanbird/nessai/internal/live"
	"github.com/CChapmanbird/nessai/internal/model"
)

// Snapshot captures everything needed to resume a run from between two
// iterations: the integration history, both point populations, the
// diagnostics record, the serialized random-source state, and the proposer
// state (trained model parameters plus retraining bookkeeping) when the
// proposer supports it.
type Snapshot struct {
	RunID     string  `yaml:"run_id"`
	Iteration int     `yaml:"iteration"`
	NLive     int     `yaml:"nlive"`
	Seed      uint64  `yaml:"seed"`
	Threshold float64 `yaml:"threshold"`
	LogLMax   float64 `yaml:"logl_max"`

	LogZ  float64   `yaml:"logz"`
	LogX  float64   `yaml:"logx"`
	Info  float64   `yaml:"information"`
	LogLs []float64 `yaml:"logl_history,flow"`
	LogXs []float64 `yaml:"logx_history,flow"`

	Live    []live.Point `yaml:"live_points"`
	Dead    []DeadPoint  `yaml:"dead_points"`
	Indices []int        `yaml:"insertion_indices,flow"`

	RNG      []byte `yaml:"rng_state"`
	Proposal []byte `yaml:"proposal_state,omitempty"`
}

// Snapshot captures the sampler's current state. It is only valid between
// iterations (the sampler never exposes mid-iteration state), and only
// before termination.
func (s *Sampler) Snapshot() (*Snapshot, error) {
	if s.status == StatusTerminated {
		return nil, fmt.Errorf("sampler: cannot snapshot a terminated run")
	}
	if s.pop == nil {
		return nil, fmt.Errorf("sampler: cannot snapshot before initialization")
	}
	if s.pop.Len() != s.cfg.NLive {
		// a short population means an iteration died between removal and
		// insertion; restoring it would shrink volume as if it were full
		return nil, fmt.Errorf("sampler: cannot snapshot mid-iteration: %d live points, want %d",
			s.pop.Len(), s.cfg.NLive)
	}
	rng, err := s.src.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("sampler: marshal rng state: %w", err)
	}
	var propState []byte
	if sp, ok := s.prop.(StatefulProposer); ok {
		propState, err = sp.MarshalState()
		if err != nil {
			return nil, fmt.Errorf("sampler: marshal proposer state: %w", err)
		}
	}
	logLs, logXs := s.integ.History()
	return &Snapshot{
		RunID:     s.runID,
		Iteration: s.iteration,
		NLive:     s.cfg.NLive,
		Seed:      s.cfg.Seed,
		Threshold: s.pop.Threshold(),
		LogLMax:   s.logLMax,
		LogZ:      s.integ.LogZ(),
		LogX:      s.integ.LogX(),
		Info:      s.integ.Info(),
		LogLs:     logLs,
		LogXs:     logXs,
		Live:      s.pop.Points(),
		Dead:      s.DeadPoints(),
		Indices:   s.monitor.Indices(),
		RNG:       rng,
		Proposal:  propState,
	}, nil
}

// Resume reconstructs a sampler from a snapshot. The model and config must
// match the original run; only NLive is cross-checked because a mismatch
// there silently corrupts the volume-shrinkage sequence.
//
// The restored random source continues the original stream, so resuming a
// run and letting it finish gives the same output as a run that was never
// interrupted, provided the proposer is deterministic given the source.
func Resume(cfg Config, m model.Model, snap *Snapshot, opts ...Option) (*Sampler, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if cfg.NLive != snap.NLive {
		return nil, fmt.Errorf("sampler: snapshot has nlive=%d, config has nlive=%d", snap.NLive, cfg.NLive)
	}

	s := &Sampler{
		cfg:       cfg,
		model:     m,
		runID:     snap.RunID,
		status:    StatusSampling,
		iteration: snap.Iteration,
		logLMax:   snap.LogLMax,
	}
	s.src = &rand.PCGSource{}
	if err := s.src.UnmarshalBinary(snap.RNG); err != nil {
		return nil, fmt.Errorf("sampler: restore rng state: %w", err)
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("run", s.runID)
	if s.monitor == nil {
		s.monitor = diagnostics.NewMonitor(cfg.NLive, cfg.Significance, s.logger)
	}
	s.monitor.RestoreIndices(snap.Indices)
	s.integ = RestoreIntegrator(cfg.NLive, s.logger, snap.Iteration, snap.LogZ, snap.LogX, snap.Info, snap.LogLs, snap.LogXs)
	s.pop = live.Restore(snap.Live, snap.Threshold)
	s.dead = make([]DeadPoint, len(snap.Dead))
	copy(s.dead, snap.Dead)
	if math.IsInf(s.logLMax, -1) {
		if max, err := s.pop.MaxLogL(); err == nil {
			s.logLMax = max
		}
	}

	if s.prop == nil {
		if s.propFac == nil {
			s.propFac = defaultProposerFactory(cfg.Proposal)
		}
		s.prop = s.propFac(m, s.src, s.monitor, s.logger)
	}
	if len(snap.Proposal) > 0 {
		sp, ok := s.prop.(StatefulProposer)
		if !ok {
			return nil, fmt.Errorf("sampler: snapshot carries proposer state but the proposer cannot restore it")
		}
		if err := sp.RestoreState(snap.Proposal); err != nil {
			return nil, fmt.Errorf("sampler: restore proposer state: %w", err)
		}
	}
	if s.rec == nil && s.recFac != nil {
		rec, err := s.recFac(s.runID)
		if err != nil {
			return nil, fmt.Errorf("sampler: build recorder: %w", err)
		}
		s.rec = rec
	}

	s.logger.Info("resumed from snapshot",
		"iteration", s.iteration,
		"logZ", s.integ.LogZ(),
		"nlive", cfg.NLive,
	)
	return s, nil
}
