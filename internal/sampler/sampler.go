package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"
	"golang.org/x/exp/rand"

	"github.com/CChapmanbird/nessai/internal/diagnostics"
	"github.com/CChapmanbird/nessai/internal/flow"
	"github.com/CChapmanbird/nessai/internal/live"
	"github.com/CChapmanbird/nessai/internal/model"
	"github.com/CChapmanbird/nessai/internal/proposal"
)

// Status is the sampler's lifecycle state.
type Status string

const (
	// StatusInitializing covers the initial prior fill.
	StatusInitializing Status = "initializing"
	// StatusSampling is the normal per-iteration removal/replacement cycle.
	StatusSampling Status = "sampling"
	// StatusRetraining is entered while the proposal model is being refit.
	// It only gates which model the next Propose call uses; it never blocks
	// removal/insertion logic.
	StatusRetraining Status = "retraining"
	// StatusTerminated means the run converged or hit the iteration cap.
	StatusTerminated Status = "terminated"
)

// exhaustedRetryFactor scales the attempt budget for the single retry after
// a proposal-exhausted error. The second exhaustion is fatal.
const exhaustedRetryFactor = 10

// Proposer produces replacement points above a likelihood threshold.
type Proposer interface {
	Propose(ctx context.Context, threshold float64, maxAttempts int) (live.Point, error)
}

// Retrainer is a Proposer with a trainable model. When the sampler's
// proposer implements it, retraining is scheduled by ShouldRetrain between
// iterations; otherwise the proposer is used as-is.
type Retrainer interface {
	Proposer
	ShouldRetrain(iteration int) bool
	Train(iteration int, points []live.Point) error
	Acceptance() float64
	Degraded() bool
	TrainingCount() int
	LastTrained() int
}

// StatefulProposer is a Proposer whose internal state (trained model
// parameters, retraining bookkeeping) can be carried through a snapshot, so
// a resumed run continues with the same model instead of waiting for the
// next scheduled fit.
type StatefulProposer interface {
	MarshalState() ([]byte, error)
	RestoreState(data []byte) error
}

// ProposerFactory builds the proposer for a run from the sampler's model and
// random source. Using a factory (rather than a pre-built proposer) lets
// Resume reconnect the proposer to the restored source.
type ProposerFactory func(m model.Model, src rand.Source, monitor *diagnostics.Monitor, logger *slog.Logger) Proposer

// Config holds the run parameters.
type Config struct {
	// NLive is the live population size. Required, at least 2.
	NLive int

	// Tolerance stops the run once the estimated remaining log evidence
	// drops below this value. Default 0.1.
	Tolerance float64

	// MaxIterations caps the number of iterations; 0 means unbounded.
	MaxIterations int

	// MaxAttempts is the proposal attempt budget per replacement. The first
	// exhaustion is retried once with exhaustedRetryFactor times the budget;
	// the second is fatal. Default 5000.
	MaxAttempts int

	// RetryFactor bounds the initial prior fill (see live.Initialize).
	RetryFactor int

	// Seed seeds the run's single random source. Every random draw in the
	// run (initial fill, proposals, training) flows from this source, so a
	// seed fully determines a run given a deterministic model.
	Seed uint64

	// Significance is the level for the rolling insertion-index uniformity
	// test. Default diagnostics.DefaultSignificance.
	Significance float64

	// Proposal configures the default flow proposal.
	Proposal proposal.Config
}

func (c Config) validate() error {
	if c.NLive < 2 {
		return fmt.Errorf("sampler: nlive must be at least 2, got %d", c.NLive)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Tolerance <= 0 {
		c.Tolerance = 0.1
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5000
	}
	return c
}

// Sampler drives the nested sampling loop.
//
// The loop is strictly sequential: no two iterations are ever in flight at
// once, because the removal/insertion order determines the volume-shrinkage
// sequence the evidence estimate depends on. Parallelism lives inside a
// single Propose call, where candidate draws are independent.
//
// After a fatal error the sampler's state (State, DeadPoints, Iteration)
// remains inspectable; partial evidence accumulation is never lost.
type Sampler struct {
	cfg     Config
	model   model.Model
	logger  *slog.Logger
	monitor *diagnostics.Monitor
	rec     Recorder

	runID     string
	src       *rand.PCGSource
	recFac    RecorderFactory
	propFac   ProposerFactory
	prop      Proposer
	pop       *live.Population
	integ     *Integrator
	dead      []DeadPoint
	status    Status
	iteration int
	logLMax   float64

	checkpointEvery int
	checkpointFn    func(*Snapshot) error
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithLogger sets the logger. Default slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sampler) { s.logger = l }
}

// WithRecorder attaches a trace recorder. Default none.
func WithRecorder(r Recorder) Option {
	return func(s *Sampler) { s.rec = r }
}

// RecorderFactory builds a recorder once the run ID is known.
type RecorderFactory func(runID string) (Recorder, error)

// WithRecorderFactory attaches a trace recorder built from the run ID.
// The run ID is minted inside New (and restored by Resume), so callers that
// persist by run cannot construct the recorder up front.
func WithRecorderFactory(f RecorderFactory) Option {
	return func(s *Sampler) { s.recFac = f }
}

// WithProposer overrides the proposer with a pre-built instance. Intended
// for tests; prefer WithProposerFactory so Resume can rewire the source.
func WithProposer(p Proposer) Option {
	return func(s *Sampler) { s.prop = p }
}

// WithProposerFactory overrides how the proposer is built from the model and
// the run's random source.
func WithProposerFactory(f ProposerFactory) Option {
	return func(s *Sampler) { s.propFac = f }
}

// WithCheckpoint calls fn with a fresh snapshot every `every` completed
// iterations. Snapshot failures are logged and the run continues.
func WithCheckpoint(every int, fn func(*Snapshot) error) Option {
	return func(s *Sampler) {
		s.checkpointEvery = every
		s.checkpointFn = fn
	}
}

// New creates a sampler for the given model. The default proposer is a
// FlowProposal over the affine-Gaussian density.
func New(cfg Config, m model.Model, opts ...Option) (*Sampler, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	s := &Sampler{
		cfg:     cfg,
		model:   m,
		runID:   uuid.Must(uuid.NewV7()).String(),
		status:  StatusInitializing,
		logLMax: math.Inf(-1),
	}
	s.src = &rand.PCGSource{}
	s.src.Seed(cfg.Seed)

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
	if s.integ == nil {
		s.integ = NewIntegrator(cfg.NLive, s.logger)
	}
	if s.prop == nil {
		if s.propFac == nil {
			s.propFac = defaultProposerFactory(cfg.Proposal)
		}
		s.prop = s.propFac(m, s.src, s.monitor, s.logger)
	}
	if s.rec == nil && s.recFac != nil {
		rec, err := s.recFac(s.runID)
		if err != nil {
			return nil, fmt.Errorf("sampler: build recorder: %w", err)
		}
		s.rec = rec
	}

	if err := model.Verify(m, s.src); err != nil {
		return nil, fmt.Errorf("sampler: %w", err)
	}
	return s, nil
}

// defaultProposerFactory builds the standard flow proposal.
func defaultProposerFactory(cfg proposal.Config) ProposerFactory {
	return func(m model.Model, src rand.Source, monitor *diagnostics.Monitor, logger *slog.Logger) Proposer {
		return proposal.NewFlowProposal(m, flow.NewAffineGaussian, src, cfg, monitor, logger)
	}
}

// RunID returns the unique identifier of this run.
func (s *Sampler) RunID() string { return s.runID }

// Status returns the current lifecycle state.
func (s *Sampler) Status() Status { return s.status }

// Iteration returns the number of completed iterations.
func (s *Sampler) Iteration() int { return s.iteration }

// DeadPoints returns a copy of the dead-point record so far.
func (s *Sampler) DeadPoints() []DeadPoint {
	out := make([]DeadPoint, len(s.dead))
	copy(out, s.dead)
	return out
}

// State returns the current sampler state.
func (s *Sampler) State() State {
	return State{
		Iteration:  s.iteration,
		LogZ:       s.integ.LogZ(),
		LogZVar:    s.integ.Info() / float64(s.cfg.NLive),
		LogX:       s.integ.LogX(),
		Terminated: s.status == StatusTerminated,
	}
}

// Monitor exposes the diagnostics monitor.
func (s *Sampler) Monitor() *diagnostics.Monitor { return s.monitor }

// condition estimates the remaining log-evidence contribution: the gap
// between logZ with and without the best remaining live point filling the
// leftover prior volume.
func (s *Sampler) condition() float64 {
	logZ := s.integ.LogZ()
	if math.IsInf(logZ, -1) {
		return math.Inf(1)
	}
	return logAddExp(logZ, s.logLMax+s.integ.LogX()) - logZ
}

// Run executes the loop until convergence, the iteration cap, a fatal
// error, or context cancellation. Cancellation is honored only between
// iterations: once a removal has committed, the iteration completes, so the
// dead-point record never holds a half-finished iteration.
func (s *Sampler) Run(ctx context.Context) (*Result, error) {
	if s.status == StatusTerminated {
		return nil, fmt.Errorf("sampler: run already terminated")
	}

	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			s.logger.Info("run cancelled between iterations", "iteration", s.iteration)
			return nil, err
		}
		if s.condition() <= s.cfg.Tolerance {
			s.logger.Info("converged",
				"iteration", s.iteration,
				"remaining", s.condition(),
				"tolerance", s.cfg.Tolerance,
			)
			break
		}
		if s.cfg.MaxIterations > 0 && s.iteration >= s.cfg.MaxIterations {
			s.logger.Warn("iteration cap reached", "max_iterations", s.cfg.MaxIterations)
			break
		}

		if rt, ok := s.prop.(Retrainer); ok && rt.ShouldRetrain(s.iteration) {
			s.status = StatusRetraining
			// Training failures are recovered locally: the engine keeps its
			// previous model or falls back to prior sampling. Anything else
			// is a bug and aborts.
			if err := rt.Train(s.iteration, s.pop.Points()); err != nil && !flow.IsTrainingDivergence(err) {
				s.status = StatusSampling
				return nil, fmt.Errorf("sampler: train at iteration %d: %w", s.iteration, err)
			}
			s.status = StatusSampling
		}

		if err := s.step(ctx); err != nil {
			return nil, err
		}

		if s.checkpointEvery > 0 && s.iteration%s.checkpointEvery == 0 {
			s.checkpoint()
		}
	}

	return s.finalise()
}

// ensureInitialized draws the initial live population on the first call.
func (s *Sampler) ensureInitialized() error {
	if s.pop == nil {
		s.logger.Info("drawing initial live points", "nlive", s.cfg.NLive)
		pop, err := live.Initialize(s.cfg.NLive, s.model, s.src, s.cfg.RetryFactor)
		if err != nil {
			return fmt.Errorf("sampler: initialize: %w", err)
		}
		s.pop = pop
	}
	if max, err := s.pop.MaxLogL(); err == nil && max > s.logLMax {
		s.logLMax = max
	}
	s.status = StatusSampling
	return nil
}

func (s *Sampler) checkpoint() {
	snap, err := s.Snapshot()
	if err != nil {
		s.logger.Warn("checkpoint skipped", "error", err)
		return
	}
	if err := s.checkpointFn(snap); err != nil {
		s.logger.Warn("checkpoint write failed", "iteration", s.iteration, "error", err)
	}
}

// step runs one removal/replacement iteration. Once the removal commits the
// iteration must complete; errors after that point are fatal rather than
// retryable because the volume shrinkage has already been accounted.
func (s *Sampler) step(ctx context.Context) error {
	// The removal below commits volume shrinkage that cannot be rolled
	// back, so the rest of the iteration must survive caller cancellation;
	// Run checks the caller's context between iterations.
	ctx = context.WithoutCancel(ctx)

	worst, err := s.pop.PopWorst()
	if err != nil {
		return fmt.Errorf("sampler: iteration %d: %w", s.iteration, err)
	}
	logW := s.integ.Increment(worst.LogL, 0)
	dp := DeadPoint{
		Point:     worst,
		Iteration: s.iteration,
		LogX:      s.integ.LogX(),
		LogW:      logW,
	}
	s.dead = append(s.dead, dp)
	s.record(func(r Recorder) error { return r.RecordDeadPoint(ctx, dp) })

	threshold := s.pop.Threshold()
	pt, err := s.prop.Propose(ctx, threshold, s.cfg.MaxAttempts)
	if err != nil && proposal.IsExhausted(err) {
		budget := s.cfg.MaxAttempts * exhaustedRetryFactor
		s.logger.Warn("proposal exhausted, retrying once with larger budget",
			"iteration", s.iteration,
			"threshold", threshold,
			"budget", budget,
		)
		s.monitor.RecordEvent(diagnostics.Event{
			Iteration: s.iteration,
			Kind:      diagnostics.EventFallback,
			Detail:    "attempt budget increased after exhaustion",
		})
		pt, err = s.prop.Propose(ctx, threshold, budget)
	}
	if err != nil {
		return fmt.Errorf("sampler: iteration %d: replace point: %w", s.iteration, err)
	}

	idx, err := s.pop.Insert(pt)
	if err != nil {
		return fmt.Errorf("sampler: iteration %d: %w", s.iteration, err)
	}

	s.iteration++
	s.monitor.RecordIndex(s.iteration, idx)
	s.record(func(r Recorder) error { return r.RecordInsertion(ctx, s.iteration, idx) })

	if pt.LogL > s.logLMax {
		s.logLMax = pt.LogL
	}

	if s.iteration%s.progressEvery() == 0 {
		fields := []any{
			"iteration", s.iteration,
			"logZ", s.integ.LogZ(),
			"logZ_err", s.integ.Uncertainty(),
			"logL_min", threshold,
			"logL_max", s.logLMax,
			"remaining", s.condition(),
		}
		if rt, ok := s.prop.(Retrainer); ok {
			fields = append(fields, "acceptance", rt.Acceptance(), "degraded", rt.Degraded())
		}
		s.logger.Info("progress", fields...)
	}
	return nil
}

func (s *Sampler) progressEvery() int {
	n := s.cfg.NLive / 10
	if n < 1 {
		n = 1
	}
	return n
}

// finalise consumes the remaining live points with a population that
// shrinks by one per removal, refines logZ with the trapezoidal rule, and
// assembles the result.
func (s *Sampler) finalise() (*Result, error) {
	s.status = StatusTerminated

	n := s.pop.Len()
	for i := 0; i < n; i++ {
		worst, err := s.pop.PopWorst()
		if err != nil {
			return nil, fmt.Errorf("sampler: finalise: %w", err)
		}
		logW := s.integ.Increment(worst.LogL, n-i)
		dp := DeadPoint{
			Point:     worst,
			Iteration: s.iteration,
			LogX:      s.integ.LogX(),
			LogW:      logW,
			Final:     true,
		}
		s.dead = append(s.dead, dp)
		s.record(func(r Recorder) error { return r.RecordDeadPoint(context.Background(), dp) })
	}

	logZ := s.integ.Finalise()
	ksD, ksP := s.monitor.FinalCheck()

	res := &Result{
		RunID:            s.runID,
		LogZ:             logZ,
		LogZErr:          s.integ.Uncertainty(),
		Information:      s.integ.Info(),
		Iterations:       s.iteration,
		Dead:             s.DeadPoints(),
		InsertionIndices: s.monitor.Indices(),
		RollingP:         s.monitor.RollingP(),
		Events:           s.monitor.Events(),
		FinalKS:          ksD,
		FinalKSPValue:    ksP,
	}
	s.logger.Info("run finished",
		"iterations", res.Iterations,
		"logZ", res.LogZ,
		"logZ_err", res.LogZErr,
		"information", res.Information,
	)
	return res, nil
}

// record invokes a recorder call, downgrading failures to log warnings: the
// trace is an observability surface, not a correctness dependency.
func (s *Sampler) record(fn func(Recorder) error) {
	if s.rec == nil {
		return
	}
	if err := fn(s.rec); err != nil {
		s.logger.Warn("trace recording failed", "error", err)
	}
}
