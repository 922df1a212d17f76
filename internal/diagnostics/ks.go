package diagnostics

import (
	"math"
	"sort"
)

// KSUniform computes the one-sample Kolmogorov-Smirnov statistic of the given
// insertion indices against the uniform distribution on [0, nlive), together
// with the asymptotic p-value.
//
// Under correct constrained sampling the insertion index of each accepted
// replacement is uniform on [0, nlive), so a small p-value is evidence the
// proposal is biased. The p-value uses the standard asymptotic Kolmogorov
// distribution with the small-sample correction sqrt(n)+0.12+0.11/sqrt(n).
//
// Returns (0, 1) for an empty input.
func KSUniform(indices []int, nlive int) (d, p float64) {
	n := len(indices)
	if n == 0 || nlive <= 0 {
		return 0, 1
	}

	sorted := make([]float64, n)
	for i, idx := range indices {
		sorted[i] = float64(idx)
	}
	sort.Float64s(sorted)

	fn := float64(n)
	for i, x := range sorted {
		cdf := x / float64(nlive) // uniform CDF on [0, nlive)
		lo := cdf - float64(i)/fn
		hi := float64(i+1)/fn - cdf
		if lo > d {
			d = lo
		}
		if hi > d {
			d = hi
		}
	}

	sqrtN := math.Sqrt(fn)
	p = kolmogorovQ((sqrtN + 0.12 + 0.11/sqrtN) * d)
	return d, p
}

// kolmogorovQ is the survival function of the Kolmogorov distribution,
// Q(lambda) = 2 * sum_{k>=1} (-1)^{k-1} exp(-2 k^2 lambda^2).
func kolmogorovQ(lambda float64) float64 {
	if lambda <= 0 {
		return 1
	}
	const (
		maxTerms = 101
		eps      = 1e-12
	)
	a2 := -2 * lambda * lambda
	sum := 0.0
	sign := 1.0
	prev := 0.0
	for k := 1; k < maxTerms; k++ {
		term := sign * math.Exp(a2*float64(k)*float64(k))
		sum += term
		if math.Abs(term) <= eps*prev || math.Abs(term) <= eps {
			break
		}
		prev = math.Abs(term)
		sign = -sign
	}
	q := 2 * sum
	if q < 0 {
		return 0
	}
	if q > 1 {
		return 1
	}
	return q
}
