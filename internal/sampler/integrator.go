package sampler

import (
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Integrator accumulates the nested sampling evidence integral in log space.
//
// Each removed point contributes a weight logW = logX + logL + log(1 - t)
// where t = n/(n+1) is the analytic expected shrinkage for a population of n
// points. Shrinkage is accumulated analytically rather than sampled; that is
// the variance-reduction choice this implementation makes, and it keeps runs
// deterministic given deterministic inputs.
//
// The running logZ uses the rectangle rule; Finalise refines it with the
// trapezoidal rule over the full (logX, logL) history. The information
// estimate feeds the logZ uncertainty sqrt(info/nlive).
type Integrator struct {
	nlive     int
	logger    *slog.Logger
	iteration int
	logZ      float64
	logX      float64
	info      float64

	// Full contour history, seeded with a dummy sample enclosing the whole
	// prior. Needed for the trapezoidal finalisation and for resume.
	logLs []float64
	logXs []float64
}

// NewIntegrator creates an integrator for a population of nlive points.
// A nil logger uses slog.Default.
func NewIntegrator(nlive int, logger *slog.Logger) *Integrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Integrator{
		nlive:  nlive,
		logger: logger,
		logZ:   math.Inf(-1),
		logX:   0,
		logLs:  []float64{math.Inf(-1)},
		logXs:  []float64{0},
	}
}

// Increment consumes one dead point with the given log likelihood.
// n overrides the population size for the shrinkage factor; n <= 0 uses the
// configured nlive. The override is used during final live-point consumption
// where the population shrinks by one per step.
//
// Returns the log weight assigned to the consumed point.
func (s *Integrator) Increment(logL float64, n int) float64 {
	if n <= 0 {
		n = s.nlive
	}
	if logL < s.logLs[len(s.logLs)-1] {
		s.logger.Warn("integrator received non-monotonic logL",
			"previous", s.logLs[len(s.logLs)-1],
			"received", logL,
		)
	}

	logt := math.Log(float64(n) / float64(n+1))
	logW := s.logX + logL + logSubExp(0, logt)

	oldZ := s.logZ
	s.logZ = logAddExp(s.logZ, logW)

	if !math.IsInf(oldZ, 0) && !math.IsInf(s.logZ, 0) && !math.IsInf(logL, 0) &&
		!math.IsNaN(oldZ) && !math.IsNaN(s.logZ) && !math.IsNaN(logL) {
		info := math.Exp(logW-s.logZ)*logL +
			math.Exp(oldZ-s.logZ)*(s.info+oldZ) -
			s.logZ
		if !math.IsNaN(info) {
			s.info = info
		}
	}

	s.logX += logt
	s.iteration++
	s.logLs = append(s.logLs, logL)
	s.logXs = append(s.logXs, s.logX)
	return logW
}

// Finalise recomputes logZ with the trapezoidal rule over the accumulated
// (logX, logL) contours and returns it. Call once after sampling ends.
func (s *Integrator) Finalise() float64 {
	n := len(s.logLs)
	if n < 2 {
		return s.logZ
	}
	terms := make([]float64, n-1)
	for i := 0; i < n-1; i++ {
		logMeanL := logAddExp(s.logLs[i], s.logLs[i+1]) - math.Ln2
		logDX := logSubExp(s.logXs[i], s.logXs[i+1])
		terms[i] = logMeanL + logDX
	}
	s.logZ = floats.LogSumExp(terms)
	return s.logZ
}

// LogZ returns the current accumulated log evidence.
func (s *Integrator) LogZ() float64 { return s.logZ }

// LogX returns the current log prior-volume estimate.
func (s *Integrator) LogX() float64 { return s.logX }

// Info returns the current information (relative entropy) estimate.
func (s *Integrator) Info() float64 { return s.info }

// Iteration returns the number of consumed points.
func (s *Integrator) Iteration() int { return s.iteration }

// Uncertainty returns the logZ error estimate sqrt(info/nlive).
func (s *Integrator) Uncertainty() float64 {
	if s.info < 0 {
		return 0
	}
	return math.Sqrt(s.info / float64(s.nlive))
}

// History returns copies of the (logL, logX) contour histories, including
// the leading dummy entry. Used for snapshots.
func (s *Integrator) History() (logLs, logXs []float64) {
	logLs = make([]float64, len(s.logLs))
	copy(logLs, s.logLs)
	logXs = make([]float64, len(s.logXs))
	copy(logXs, s.logXs)
	return logLs, logXs
}

// RestoreIntegrator rebuilds an integrator from snapshot fields.
func RestoreIntegrator(nlive int, logger *slog.Logger, iteration int, logZ, logX, info float64, logLs, logXs []float64) *Integrator {
	s := NewIntegrator(nlive, logger)
	s.iteration = iteration
	s.logZ = logZ
	s.logX = logX
	s.info = info
	if len(logLs) > 0 {
		s.logLs = make([]float64, len(logLs))
		copy(s.logLs, logLs)
	}
	if len(logXs) > 0 {
		s.logXs = make([]float64, len(logXs))
		copy(s.logXs, logXs)
	}
	return s
}
