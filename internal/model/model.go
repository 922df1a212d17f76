package model

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
)

// Model is the boundary between the sampler core and a user-defined problem.
//
// Implementations must satisfy the log-space contract:
//   - LogPrior returns math.Inf(-1) for any point outside the prior support
//     (including points outside Bounds).
//   - LogLikelihood must be finite for any point with finite prior density.
//     Returning NaN for such a point is a contract violation; the core
//     rejects the point and resamples rather than silently accepting it.
//   - SamplePrior draws independent points from the prior. It is used at
//     initialization and as the fallback when the learned proposal is
//     unavailable or inefficient.
//
// All randomness flows through the rand.Source passed by the caller; models
// must not hold hidden global random state. This keeps full runs reproducible
// from a single seed.
type Model interface {
	// Dims returns the number of sampled parameters.
	Dims() int

	// LogPrior returns the log prior density at x, or -Inf outside support.
	LogPrior(x []float64) float64

	// LogLikelihood returns the log likelihood at x.
	LogLikelihood(x []float64) float64

	// SamplePrior draws n independent points from the prior into a slice of
	// length-Dims vectors using the provided source.
	SamplePrior(n int, src rand.Source) [][]float64

	// Bounds returns the per-dimension inclusive parameter ranges.
	Bounds() Bounds
}

// Bounds holds per-dimension inclusive parameter ranges.
// Lower and Upper have equal length; Lower[i] <= Upper[i] for every i.
type Bounds struct {
	Lower []float64
	Upper []float64
}

// NewBounds builds bounds from parallel lower/upper slices.
// Returns an error on length mismatch or an inverted range.
func NewBounds(lower, upper []float64) (Bounds, error) {
	if len(lower) != len(upper) {
		return Bounds{}, fmt.Errorf("bounds: length mismatch: %d lower vs %d upper", len(lower), len(upper))
	}
	for i := range lower {
		if !(lower[i] <= upper[i]) {
			return Bounds{}, fmt.Errorf("bounds: dimension %d: lower %v > upper %v", i, lower[i], upper[i])
		}
	}
	b := Bounds{
		Lower: make([]float64, len(lower)),
		Upper: make([]float64, len(upper)),
	}
	copy(b.Lower, lower)
	copy(b.Upper, upper)
	return b, nil
}

// Dims returns the number of bounded dimensions.
func (b Bounds) Dims() int { return len(b.Lower) }

// Contains reports whether x lies inside the bounds (inclusive) and is
// finite in every dimension.
func (b Bounds) Contains(x []float64) bool {
	if len(x) != len(b.Lower) {
		return false
	}
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
		if v < b.Lower[i] || v > b.Upper[i] {
			return false
		}
	}
	return true
}

// Clip clamps x in place to the bounds and returns it.
func (b Bounds) Clip(x []float64) []float64 {
	for i := range x {
		if x[i] < b.Lower[i] {
			x[i] = b.Lower[i]
		} else if x[i] > b.Upper[i] {
			x[i] = b.Upper[i]
		}
	}
	return x
}

// Verify performs a cheap sanity check on a model: it draws a single prior
// point and confirms the contract holds for it (finite prior, finite
// likelihood, point inside bounds). Run it once before starting a sampler.
func Verify(m Model, src rand.Source) error {
	if m.Dims() <= 0 {
		return fmt.Errorf("model: non-positive dimension %d", m.Dims())
	}
	if m.Bounds().Dims() != m.Dims() {
		return fmt.Errorf("model: bounds dimension %d does not match model dimension %d", m.Bounds().Dims(), m.Dims())
	}
	pts := m.SamplePrior(1, src)
	if len(pts) != 1 || len(pts[0]) != m.Dims() {
		return fmt.Errorf("model: SamplePrior(1) returned wrong shape")
	}
	x := pts[0]
	if !m.Bounds().Contains(x) {
		return fmt.Errorf("model: prior sample %v outside bounds", x)
	}
	logP := m.LogPrior(x)
	if math.IsNaN(logP) {
		return fmt.Errorf("model: LogPrior returned NaN for prior sample %v", x)
	}
	if !math.IsInf(logP, -1) {
		logL := m.LogLikelihood(x)
		if math.IsNaN(logL) || math.IsInf(logL, 1) {
			return fmt.Errorf("model: LogLikelihood returned %v for point with finite prior", logL)
		}
	}
	return nil
}
