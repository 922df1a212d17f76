package proposal

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"golang.org/x/exp/rand"
	"gopkg.in/yaml.v3"

	"github.com/CChapmanbird/nessai/internal/diagnostics"
	"github.com/CChapmanbird/nessai/internal/flow"
	"github.com/CChapmanbird/nessai/internal/live"
	"github.com/CChapmanbird/nessai/internal/model"
)

// Config holds the tunable parameters of the flow proposal.
//
// The retraining thresholds are deliberately configuration, not constants:
// sensible values depend on the problem, and the policy is a threshold
// policy, not a hard real-time constraint. Training may be deferred by the
// cooldown but the interval guarantees it is never skipped indefinitely.
type Config struct {
	// TrainingInterval retrains after this many iterations since the last
	// fit regardless of acceptance. Default 1000.
	TrainingInterval int

	// AcceptanceFloor retrains when the rolling acceptance estimate drops
	// below this value. Default 0.05.
	AcceptanceFloor float64

	// Cooldown is the minimum number of iterations between fits. Default 100.
	Cooldown int

	// AcceptanceWindow is the number of accepted replacements the rolling
	// acceptance estimate averages over. Default 100.
	AcceptanceWindow int

	// BatchSize is the number of candidates drawn per rejection round.
	// Default 100.
	BatchSize int

	// FallbackRounds is the number of direct prior-rejection rounds (each of
	// the caller's attempt budget) tried after flow draws are exhausted,
	// before giving up. Default 2.
	FallbackRounds int

	// Workers bounds concurrent likelihood evaluations within one batch.
	// Values <= 1 evaluate sequentially. Results are merged by submission
	// order either way, so the outcome is identical. Default 1.
	Workers int

	// WeightByLikelihood reweights training points by exp(logL - max logL)
	// to emphasize high-likelihood structure in the fit. Default off.
	WeightByLikelihood bool
}

func (c Config) withDefaults() Config {
	if c.TrainingInterval <= 0 {
		c.TrainingInterval = 1000
	}
	if c.AcceptanceFloor <= 0 {
		c.AcceptanceFloor = 0.05
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 100
	}
	if c.AcceptanceWindow <= 0 {
		c.AcceptanceWindow = 100
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FallbackRounds <= 0 {
		c.FallbackRounds = 2
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	return c
}

// FlowProposal produces replacement points above a likelihood threshold by
// rejection sampling from a trained density model, with direct prior
// rejection as the fallback.
//
// Lifecycle: created once at loop initialization. Each retrain builds a new
// model instance through the Factory and swaps it in wholesale; a failed fit
// keeps the previous instance (or no instance) and flags degraded mode.
// Mutated only by the sampling loop goroutine.
type FlowProposal struct {
	model   model.Model
	factory flow.Factory
	density flow.Density
	src     rand.Source
	cfg     Config
	logger  *slog.Logger
	monitor *diagnostics.Monitor

	acc           *acceptanceTracker
	iteration     int
	lastTrained   int
	trainingCount int
	degraded      bool
}

// NewFlowProposal creates a proposal engine for the given model. monitor may
// be nil to drop events; logger nil uses slog.Default.
func NewFlowProposal(m model.Model, factory flow.Factory, src rand.Source, cfg Config, monitor *diagnostics.Monitor, logger *slog.Logger) *FlowProposal {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &FlowProposal{
		model:   m,
		factory: factory,
		src:     src,
		cfg:     cfg,
		logger:  logger,
		monitor: monitor,
		acc:     newAcceptanceTracker(cfg.AcceptanceWindow),
	}
}

// ShouldRetrain reports whether a retrain is due at the given iteration:
// no usable model yet, the training interval elapsed, or the rolling
// acceptance dropped below the floor. The cooldown suppresses back-to-back
// fits in all cases except the very first.
func (p *FlowProposal) ShouldRetrain(iteration int) bool {
	// the loop asks once per iteration, so this also stamps events raised
	// inside the following Propose call
	p.iteration = iteration
	if p.density == nil || !p.density.Trained() {
		return true
	}
	since := iteration - p.lastTrained
	if since < p.cfg.Cooldown {
		return false
	}
	if since >= p.cfg.TrainingInterval {
		return true
	}
	return p.acc.Mean() < p.cfg.AcceptanceFloor
}

// Train fits a fresh model instance to the population snapshot. On a
// training divergence the previous model is kept, the engine switches to
// degraded mode, and the divergence is returned for the caller to log; the
// run continues either way.
func (p *FlowProposal) Train(iteration int, points []live.Point) error {
	params := make([][]float64, len(points))
	for i, pt := range points {
		params[i] = pt.Params
	}
	var weights []float64
	if p.cfg.WeightByLikelihood && len(points) > 0 {
		maxL := math.Inf(-1)
		for _, pt := range points {
			if pt.LogL > maxL {
				maxL = pt.LogL
			}
		}
		weights = make([]float64, len(points))
		for i, pt := range points {
			weights[i] = math.Exp(pt.LogL - maxL)
		}
	}

	fresh := p.factory(p.model.Dims(), p.src)
	if err := fresh.Fit(params, weights); err != nil {
		p.degraded = true
		p.recordEvent(iteration, diagnostics.EventDegraded, err.Error())
		p.logger.Warn("proposal training failed; continuing in degraded mode",
			"iteration", iteration,
			"error", err,
			"has_previous_model", p.density != nil && p.density.Trained(),
		)
		return err
	}

	// Wholesale swap: the new instance fully replaces the old one.
	p.density = fresh
	p.degraded = false
	p.lastTrained = iteration
	p.trainingCount++
	p.acc.Reset()
	p.recordEvent(iteration, diagnostics.EventRetrain, "")
	p.logger.Info("proposal retrained",
		"iteration", iteration,
		"training_count", p.trainingCount,
		"points", len(points),
	)
	return nil
}

// Propose draws a replacement point with log likelihood strictly above
// threshold. Candidates come from the trained model when one exists, from
// the prior otherwise; after maxAttempts flow draws it falls back to
// FallbackRounds rounds of direct prior rejection before failing with an
// *ExhaustedError.
func (p *FlowProposal) Propose(ctx context.Context, threshold float64, maxAttempts int) (live.Point, error) {
	if maxAttempts <= 0 {
		maxAttempts = p.cfg.BatchSize
	}

	useFlow := p.density != nil && p.density.Trained()
	attempts := 0
	for attempts < maxAttempts {
		if err := ctx.Err(); err != nil {
			return live.Point{}, err
		}
		n := p.cfg.BatchSize
		if attempts+n > maxAttempts {
			n = maxAttempts - attempts
		}
		var xs [][]float64
		if useFlow {
			xs = p.density.Sample(n)
		} else {
			xs = p.model.SamplePrior(n, p.src)
		}
		pt, used, ok := evaluateBatch(p.model, xs, threshold, p.cfg.Workers, p.logger)
		attempts += used
		if ok {
			p.acc.Record(1 / float64(attempts))
			return pt, nil
		}
	}

	// Flow draws exhausted: fall back to direct prior-constrained rejection.
	if useFlow {
		p.recordEvent(p.iteration, diagnostics.EventFallback, "flow draws exhausted, using prior rejection")
		p.logger.Debug("proposal falling back to prior rejection",
			"threshold", threshold,
			"flow_attempts", attempts,
		)
	}
	for round := 0; round < p.cfg.FallbackRounds; round++ {
		roundAttempts := 0
		for roundAttempts < maxAttempts {
			if err := ctx.Err(); err != nil {
				return live.Point{}, err
			}
			n := p.cfg.BatchSize
			if roundAttempts+n > maxAttempts {
				n = maxAttempts - roundAttempts
			}
			xs := p.model.SamplePrior(n, p.src)
			pt, used, ok := evaluateBatch(p.model, xs, threshold, p.cfg.Workers, p.logger)
			roundAttempts += used
			attempts += used
			if ok {
				p.acc.Record(1 / float64(attempts))
				return pt, nil
			}
		}
	}

	return live.Point{}, &ExhaustedError{Threshold: threshold, Attempts: attempts}
}

// Acceptance returns the rolling acceptance estimate.
func (p *FlowProposal) Acceptance() float64 { return p.acc.Mean() }

// Degraded reports whether the engine is running without a fresh fit after
// a training failure.
func (p *FlowProposal) Degraded() bool { return p.degraded }

// TrainingCount returns the number of successful fits so far.
func (p *FlowProposal) TrainingCount() int { return p.trainingCount }

// LastTrained returns the iteration of the last successful fit.
func (p *FlowProposal) LastTrained() int { return p.lastTrained }

// flowState is the serialized engine state carried in snapshots: the
// retraining bookkeeping plus the fitted density parameters when the density
// supports export.
type flowState struct {
	LastTrained   int             `yaml:"last_trained"`
	TrainingCount int             `yaml:"training_count"`
	Degraded      bool            `yaml:"degraded"`
	Acceptance    acceptanceState `yaml:"acceptance"`
	Density       []byte          `yaml:"density,omitempty"`
}

// MarshalState serializes the engine state so a resumed run continues with
// the same model and retraining schedule as the original.
func (p *FlowProposal) MarshalState() ([]byte, error) {
	st := flowState{
		LastTrained:   p.lastTrained,
		TrainingCount: p.trainingCount,
		Degraded:      p.degraded,
		Acceptance:    p.acc.state(),
	}
	if sd, ok := p.density.(flow.StatefulDensity); ok && p.density.Trained() {
		blob, err := sd.MarshalState()
		if err != nil {
			return nil, fmt.Errorf("proposal: marshal density state: %w", err)
		}
		st.Density = blob
	}
	return yaml.Marshal(st)
}

// RestoreState replaces the engine state with a serialized one. A density
// blob requires the configured factory to produce a StatefulDensity.
func (p *FlowProposal) RestoreState(data []byte) error {
	var st flowState
	if err := yaml.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("proposal: unmarshal engine state: %w", err)
	}
	p.lastTrained = st.LastTrained
	p.trainingCount = st.TrainingCount
	p.degraded = st.Degraded
	p.acc.restore(st.Acceptance)
	if len(st.Density) > 0 {
		fresh := p.factory(p.model.Dims(), p.src)
		sd, ok := fresh.(flow.StatefulDensity)
		if !ok {
			return fmt.Errorf("proposal: density model cannot restore serialized state")
		}
		if err := sd.UnmarshalState(st.Density); err != nil {
			return fmt.Errorf("proposal: restore density state: %w", err)
		}
		p.density = fresh
	}
	return nil
}

func (p *FlowProposal) recordEvent(iteration int, kind diagnostics.EventKind, detail string) {
	if p.monitor == nil {
		return
	}
	p.monitor.RecordEvent(diagnostics.Event{Iteration: iteration, Kind: kind, Detail: detail})
}
