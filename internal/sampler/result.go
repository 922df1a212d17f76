package sampler

import (
	"context"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/CChapmanbird/nessai/internal/diagnostics"
	"github.com/CChapmanbird/nessai/internal/live"
)

// DeadPoint is a removed live point together with the integration state at
// its removal. Final marks points consumed from the live population after
// the loop terminated.
type DeadPoint struct {
	Point     live.Point `yaml:"point"`
	Iteration int        `yaml:"iteration"`
	LogX      float64    `yaml:"logx"`
	LogW      float64    `yaml:"logw"`
	Final     bool       `yaml:"final,omitempty"`
}

// State is a point-in-time view of the sampler.
type State struct {
	Iteration  int
	LogZ       float64
	LogZVar    float64
	LogX       float64
	Terminated bool
}

// Recorder receives the append-only trace of a run. Implementations must
// tolerate being called once per iteration in loop order; the sampler never
// calls a Recorder concurrently. Recorder errors are logged, not fatal.
type Recorder interface {
	RecordDeadPoint(ctx context.Context, dp DeadPoint) error
	RecordInsertion(ctx context.Context, iteration, index int) error
}

// Result holds the outputs of a completed run.
type Result struct {
	RunID string `yaml:"run_id"`

	// LogZ is the trapezoid-refined log-evidence estimate and LogZErr its
	// sqrt(H/nlive) uncertainty.
	LogZ        float64 `yaml:"logz"`
	LogZErr     float64 `yaml:"logz_err"`
	Information float64 `yaml:"information"`
	Iterations  int     `yaml:"iterations"`

	Dead []DeadPoint `yaml:"dead_points"`

	InsertionIndices []int               `yaml:"insertion_indices,flow"`
	RollingP         []float64           `yaml:"rolling_p,flow"`
	Events           []diagnostics.Event `yaml:"events"`

	// FinalKS and FinalKSPValue are the whole-run insertion-index
	// uniformity statistics.
	FinalKS       float64 `yaml:"final_ks"`
	FinalKSPValue float64 `yaml:"final_ks_p"`
}

// PosteriorWeights returns the normalized posterior weight of each dead
// point, exp(logW_i - logZ) rescaled to sum to one. The weights are the raw
// evidence increments; no reweighting or resampling is applied.
func (r *Result) PosteriorWeights() []float64 {
	if len(r.Dead) == 0 {
		return nil
	}
	logWs := make([]float64, len(r.Dead))
	for i, dp := range r.Dead {
		logWs[i] = dp.LogW
	}
	norm := floats.LogSumExp(logWs)
	w := make([]float64, len(logWs))
	for i, lw := range logWs {
		w[i] = math.Exp(lw - norm)
	}
	return w
}

// PosteriorMean returns the posterior-weighted mean of each parameter.
func (r *Result) PosteriorMean() []float64 {
	w := r.PosteriorWeights()
	if w == nil {
		return nil
	}
	dims := len(r.Dead[0].Point.Params)
	mean := make([]float64, dims)
	for i, dp := range r.Dead {
		for j, x := range dp.Point.Params {
			mean[j] += w[i] * x
		}
	}
	return mean
}
