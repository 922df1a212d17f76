// Package testutil provides deterministic models and test doubles shared by
// the sampler test suites: analytic likelihoods with known evidence, broken
// models for contract-violation tests, and stub proposals/trainers for
// forcing specific failure paths.
package testutil

import (
	"context"
	"math"

	"golang.org/x/exp/rand"

	"github.com/CChapmanbird/nessai/internal/flow"
	"github.com/CChapmanbird/nessai/internal/live"
	"github.com/CChapmanbird/nessai/internal/model"
)

// GaussianModel is an isotropic unit Gaussian likelihood centred at the
// origin with a uniform prior over a symmetric box. With a half-width large
// enough that the truncation is negligible, the evidence is analytic:
//
//	logZ = (dims/2) log(2 pi) - dims log(2 halfWidth)
//
// which makes it the standard end-to-end accuracy check.
type GaussianModel struct {
	model.UniformBox
	dims int
}

// NewGaussianModel builds a dims-dimensional Gaussian model over
// [-halfWidth, halfWidth]^dims.
func NewGaussianModel(dims int, halfWidth float64) GaussianModel {
	lower := make([]float64, dims)
	upper := make([]float64, dims)
	for i := range lower {
		lower[i] = -halfWidth
		upper[i] = halfWidth
	}
	b, err := model.NewBounds(lower, upper)
	if err != nil {
		panic(err) // static inputs, cannot fail
	}
	return GaussianModel{UniformBox: model.NewUniformBox(b), dims: dims}
}

// LogLikelihood is a standard normal log density up to its normalization,
// including the (2 pi)^(-dims/2) factor so the analytic evidence holds.
func (g GaussianModel) LogLikelihood(x []float64) float64 {
	s := 0.0
	for _, v := range x {
		s += v * v
	}
	return -0.5*s - 0.5*float64(g.dims)*math.Log(2*math.Pi)
}

// AnalyticLogZ returns the exact log evidence, ignoring the (negligible)
// truncation of the Gaussian by the prior box.
func (g GaussianModel) AnalyticLogZ() float64 {
	b := g.Bounds()
	logVol := 0.0
	for i := range b.Lower {
		logVol += math.Log(b.Upper[i] - b.Lower[i])
	}
	return -logVol
}

// NaNModel violates the likelihood contract by returning NaN everywhere.
type NaNModel struct {
	model.UniformBox
}

// NewNaNModel builds a NaN-likelihood model over [-1,1]^dims.
func NewNaNModel(dims int) NaNModel {
	lower := make([]float64, dims)
	upper := make([]float64, dims)
	for i := range lower {
		lower[i] = -1
		upper[i] = 1
	}
	b, err := model.NewBounds(lower, upper)
	if err != nil {
		panic(err)
	}
	return NaNModel{model.NewUniformBox(b)}
}

// LogLikelihood returns NaN unconditionally.
func (NaNModel) LogLikelihood([]float64) float64 { return math.NaN() }

// StubProposal returns predetermined points in order, regardless of the
// threshold it is asked for. It exists to force invariant violations and
// exhaustion paths in loop tests.
type StubProposal struct {
	Points []live.Point
	Err    error
	next   int
}

// Propose returns the next predetermined point, or Err once the points are
// consumed (or immediately if no points were configured).
func (s *StubProposal) Propose(_ context.Context, _ float64, _ int) (live.Point, error) {
	if s.next >= len(s.Points) {
		if s.Err != nil {
			return live.Point{}, s.Err
		}
		return live.Point{}, context.Canceled
	}
	pt := s.Points[s.next]
	s.next++
	return pt, nil
}

// DivergingFactory is a flow.Factory whose densities fail every Fit with a
// training divergence. Used to prove degraded mode completes runs.
func DivergingFactory(dims int, src rand.Source) flow.Density {
	return &divergingDensity{}
}

type divergingDensity struct{}

func (*divergingDensity) Fit([][]float64, []float64) error {
	return &flow.TrainingDivergenceError{Reason: "forced divergence"}
}
func (*divergingDensity) Sample(int) [][]float64    { panic("sample on diverged density") }
func (*divergingDensity) LogProb([]float64) float64 { return math.NaN() }
func (*divergingDensity) Trained() bool             { return false }
