package flow

import (
	"errors"
	"fmt"

	"golang.org/x/exp/rand"
)

// Density is the trainable density model behind the proposal engine.
//
// The proposal engine treats the model as opaque: anything that can be fitted
// to a set of points, sampled from, and queried for a log density satisfies
// the contract. The concrete network architecture is a pluggable strategy;
// the engine never depends on it.
//
// Implementations are not required to be safe for concurrent mutation. The
// engine replaces a model wholesale on retrain rather than mutating it in
// place, so samplers holding the previous instance remain valid until the
// swap.
type Density interface {
	// Fit trains the model on the given points. weights may be nil for a
	// uniform fit; otherwise it has one non-negative entry per point.
	// A non-finite training loss fails with *TrainingDivergenceError.
	Fit(points [][]float64, weights []float64) error

	// Sample draws n points in parameter space from the trained model.
	Sample(n int) [][]float64

	// LogProb returns the model log density at x. Used for diagnostics
	// only; the rejection step never importance-corrects with it.
	LogProb(x []float64) float64

	// Trained reports whether Fit has succeeded at least once.
	Trained() bool
}

// StatefulDensity is a Density whose fitted parameters can be exported and
// restored. Restoring must reproduce the fitted model exactly: a restored
// density draws the same samples as the original given the same source.
type StatefulDensity interface {
	Density

	// MarshalState serializes the fitted parameters, or returns nil when
	// the density is untrained.
	MarshalState() ([]byte, error)

	// UnmarshalState replaces the fitted parameters with the serialized
	// ones. Empty data resets the density to untrained.
	UnmarshalState(data []byte) error
}

// Factory builds a fresh untrained Density. The proposal engine calls it on
// every retrain: new fits fully replace the previous model instance, never
// update it partially.
type Factory func(dims int, src rand.Source) Density

// TrainingDivergenceError indicates a fit produced a non-finite loss or an
// otherwise unusable model. The engine recovers locally: it keeps the
// previous trained model (or falls back to prior sampling) and continues the
// run in degraded mode.
type TrainingDivergenceError struct {
	Reason string
}

// Error implements the error interface.
func (e *TrainingDivergenceError) Error() string {
	return fmt.Sprintf("training diverged: %s", e.Reason)
}

// IsTrainingDivergence reports whether err is a training divergence.
// Uses errors.As to handle wrapped errors.
func IsTrainingDivergence(err error) bool {
	var te *TrainingDivergenceError
	return errors.As(err, &te)
}
