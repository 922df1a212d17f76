package live

import (
	"math"
	"sort"

	"golang.org/x/exp/rand"

	"github.com/CChapmanbird/nessai/internal/model"
)

// DefaultRetryFactor bounds the initial fill: at most RetryFactor*n prior
// draws are attempted before initialization fails.
const DefaultRetryFactor = 100

// Population is the ordered live-point store.
//
// INVARIANTS:
//   - points are sorted ascending by LogL at all times
//   - every member satisfies LogL > threshold, where threshold is the LogL
//     of the most recently removed worst point
//   - the sampler mutates the population with exactly one PopWorst and one
//     Insert per iteration, so the size is conserved between iterations
//
// Population is not safe for concurrent use; it is owned by the single
// sampling loop goroutine.
type Population struct {
	points    []Point
	threshold float64 // logL of the last popped worst point, -Inf initially
}

// Initialize draws n independent finite-likelihood points from the model's
// prior. Points with non-finite prior or likelihood are discarded and redrawn;
// after retryFactor*n total draws the fill fails with an initialization error.
// A retryFactor <= 0 uses DefaultRetryFactor.
func Initialize(n int, m model.Model, src rand.Source, retryFactor int) (*Population, error) {
	if retryFactor <= 0 {
		retryFactor = DefaultRetryFactor
	}
	maxAttempts := retryFactor * n

	points := make([]Point, 0, n)
	attempts := 0
	for len(points) < n && attempts < maxAttempts {
		// Draw in small batches to amortize SamplePrior overhead without
		// overshooting the attempt budget.
		batch := n - len(points)
		if attempts+batch > maxAttempts {
			batch = maxAttempts - attempts
		}
		for _, x := range m.SamplePrior(batch, src) {
			attempts++
			logP := m.LogPrior(x)
			if math.IsInf(logP, -1) || math.IsNaN(logP) {
				continue
			}
			logL := m.LogLikelihood(x)
			if math.IsNaN(logL) || math.IsInf(logL, 0) {
				continue
			}
			points = append(points, NewPoint(x, logP, logL, math.Inf(-1)))
			if len(points) == n {
				break
			}
		}
	}
	if len(points) < n {
		return nil, newInitializationError(len(points), n, attempts)
	}

	sort.Slice(points, func(i, j int) bool { return points[i].LogL < points[j].LogL })
	return &Population{points: points, threshold: math.Inf(-1)}, nil
}

// Restore rebuilds a population from previously captured points, e.g. when
// resuming from a snapshot. The points are sorted; the threshold is restored
// to the given value.
func Restore(points []Point, threshold float64) *Population {
	pts := make([]Point, len(points))
	copy(pts, points)
	sort.Slice(pts, func(i, j int) bool { return pts[i].LogL < pts[j].LogL })
	return &Population{points: pts, threshold: threshold}
}

// Len returns the current population size.
func (p *Population) Len() int { return len(p.points) }

// Threshold returns the current likelihood constraint: the LogL of the most
// recently removed worst point. -Inf before the first removal.
func (p *Population) Threshold() float64 { return p.threshold }

// MinLogL returns the minimum log likelihood among current members.
func (p *Population) MinLogL() (float64, error) {
	if len(p.points) == 0 {
		return 0, &StoreError{Code: ErrCodeEmptyPopulation, Message: "MinLogL on empty population"}
	}
	return p.points[0].LogL, nil
}

// MaxLogL returns the maximum log likelihood among current members.
func (p *Population) MaxLogL() (float64, error) {
	if len(p.points) == 0 {
		return 0, &StoreError{Code: ErrCodeEmptyPopulation, Message: "MaxLogL on empty population"}
	}
	return p.points[len(p.points)-1].LogL, nil
}

// PopWorst removes and returns the point with minimum log likelihood and
// raises the threshold to that point's LogL.
func (p *Population) PopWorst() (Point, error) {
	if len(p.points) == 0 {
		return Point{}, &StoreError{Code: ErrCodeEmptyPopulation, Message: "PopWorst on empty population"}
	}
	worst := p.points[0]
	p.points = p.points[1:]
	p.threshold = worst.LogL
	return worst, nil
}

// Insert adds a point, maintaining sort order, and returns its insertion
// index: the rank the point takes among the members present at insertion
// time. The index lies in [0, Len()] before insertion, i.e. [0, nlive) for a
// population that just lost its worst member.
//
// The point must strictly exceed the current threshold. A violation means
// the proposal (or the likelihood itself) is broken and is returned as an
// ordering violation, never silently corrected.
func (p *Population) Insert(pt Point) (int, error) {
	if !(pt.LogL > p.threshold) {
		return 0, newOrderingViolation(pt.LogL, p.threshold)
	}
	idx := sort.Search(len(p.points), func(i int) bool { return p.points[i].LogL >= pt.LogL })
	p.points = append(p.points, Point{})
	copy(p.points[idx+1:], p.points[idx:])
	p.points[idx] = pt
	return idx, nil
}

// Points returns a copy of the current members in ascending LogL order.
// The copy is safe to hand to a trainer while the loop keeps mutating the
// population.
func (p *Population) Points() []Point {
	out := make([]Point, len(p.points))
	copy(out, p.points)
	return out
}

// ParamMatrix returns the member parameter vectors as a freshly allocated
// [n][dims] slice, ascending LogL order. Used as flow training input.
func (p *Population) ParamMatrix() [][]float64 {
	out := make([][]float64, len(p.points))
	for i, pt := range p.points {
		row := make([]float64, len(pt.Params))
		copy(row, pt.Params)
		out[i] = row
	}
	return out
}
