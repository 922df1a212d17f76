package proposal

import (
	"log/slog"
	"math"
	"sync"

	"github.com/CChapmanbird/nessai/internal/live"
	"github.com/CChapmanbird/nessai/internal/model"
)

// candidate is one proposed point during a batch evaluation.
type candidate struct {
	x     []float64
	logP  float64
	logL  float64
	valid bool // inside bounds with finite prior density
}

// evaluateBatch checks a batch of candidate points against the likelihood
// constraint and returns the first acceptable one in submission order,
// together with the number of candidates consumed (index of the accepted
// point plus one, or the full batch size on failure).
//
// Bounds and prior checks run sequentially; likelihood evaluations may run
// across workers goroutines. The merge is by submission index, so the
// outcome is identical for any worker count given the same batch.
//
// NaN likelihoods are a model-contract violation: the candidate is rejected
// with a warning, never accepted and never silently dropped from the attempt
// count.
func evaluateBatch(m model.Model, xs [][]float64, threshold float64, workers int, logger *slog.Logger) (live.Point, int, bool) {
	cands := make([]candidate, len(xs))
	for i, x := range xs {
		c := candidate{x: x}
		if m.Bounds().Contains(x) {
			c.logP = m.LogPrior(x)
			c.valid = !math.IsInf(c.logP, -1) && !math.IsNaN(c.logP)
		}
		cands[i] = c
	}

	if workers <= 1 {
		for i := range cands {
			if !cands[i].valid {
				continue
			}
			cands[i].logL = m.LogLikelihood(cands[i].x)
			if accepted(&cands[i], threshold, logger) {
				return live.NewPoint(cands[i].x, cands[i].logP, cands[i].logL, threshold), i + 1, true
			}
		}
		return live.Point{}, len(xs), false
	}

	// Parallel likelihood evaluation: candidates are independent and the
	// model contract requires LogLikelihood to be safe for concurrent calls.
	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	for i := range cands {
		if !cands[i].valid {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(c *candidate) {
			defer wg.Done()
			c.logL = m.LogLikelihood(c.x)
			<-sem
		}(&cands[i])
	}
	wg.Wait()

	for i := range cands {
		if !cands[i].valid {
			continue
		}
		if accepted(&cands[i], threshold, logger) {
			return live.NewPoint(cands[i].x, cands[i].logP, cands[i].logL, threshold), i + 1, true
		}
	}
	return live.Point{}, len(xs), false
}

// accepted applies the exact rejection rule: strictly above threshold, finite
// everywhere. No importance-weight correction is applied; unbiased draws
// above the constraint are all nested sampling needs.
func accepted(c *candidate, threshold float64, logger *slog.Logger) bool {
	if math.IsNaN(c.logL) {
		logger.Warn("likelihood returned NaN for point with finite prior; rejecting",
			"point", c.x,
		)
		return false
	}
	if math.IsInf(c.logL, 0) {
		return false
	}
	return c.logL > threshold
}
