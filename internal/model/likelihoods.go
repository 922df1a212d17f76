package model

import (
	"fmt"
	"math"
	"sort"
)

// Gaussian is an isotropic unit-variance Gaussian likelihood centred at the
// origin over a uniform box prior.
type Gaussian struct {
	UniformBox
	dims int
}

// NewGaussian builds a Gaussian model over the given bounds.
func NewGaussian(b Bounds) Gaussian {
	return Gaussian{UniformBox: NewUniformBox(b), dims: b.Dims()}
}

// LogLikelihood is the standard normal log density including normalization.
func (g Gaussian) LogLikelihood(x []float64) float64 {
	s := 0.0
	for _, v := range x {
		s += v * v
	}
	return -0.5*s - 0.5*float64(g.dims)*math.Log(2*math.Pi)
}

// Rosenbrock is the canonical banana-shaped likelihood, a standard stress
// test for proposals that assume elliptical level sets.
type Rosenbrock struct {
	UniformBox
}

// NewRosenbrock builds a Rosenbrock model over the given bounds. Needs at
// least two dimensions.
func NewRosenbrock(b Bounds) (Rosenbrock, error) {
	if b.Dims() < 2 {
		return Rosenbrock{}, fmt.Errorf("model: rosenbrock needs at least 2 dimensions, got %d", b.Dims())
	}
	return Rosenbrock{UniformBox: NewUniformBox(b)}, nil
}

// LogLikelihood is the negative Rosenbrock function.
func (r Rosenbrock) LogLikelihood(x []float64) float64 {
	s := 0.0
	for i := 0; i < len(x)-1; i++ {
		a := x[i+1] - x[i]*x[i]
		b := 1 - x[i]
		s += 100*a*a + b*b
	}
	return -s
}

// GaussianMixture is a pair of equal-weight isotropic Gaussians separated
// along the first axis, a standard multimodal test case.
type GaussianMixture struct {
	UniformBox
	separation float64
	dims       int
}

// NewGaussianMixture builds a two-mode mixture with modes at
// (±separation/2, 0, ..., 0).
func NewGaussianMixture(b Bounds, separation float64) GaussianMixture {
	return GaussianMixture{
		UniformBox: NewUniformBox(b),
		separation: separation,
		dims:       b.Dims(),
	}
}

// LogLikelihood is the log of the two-component mixture density.
func (g GaussianMixture) LogLikelihood(x []float64) float64 {
	tail := 0.0
	for _, v := range x[1:] {
		tail += v * v
	}
	half := g.separation / 2
	a := x[0] - half
	b := x[0] + half
	norm := -0.5*float64(g.dims)*math.Log(2*math.Pi) - math.Ln2
	la := -0.5 * (a*a + tail)
	lb := -0.5 * (b*b + tail)
	// logsumexp of the two modes
	m := math.Max(la, lb)
	return norm + m + math.Log(math.Exp(la-m)+math.Exp(lb-m))
}

// Builtin constructs a model from the catalog by name. The names are
// what run specs refer to.
func Builtin(name string, b Bounds) (Model, error) {
	switch name {
	case "gaussian":
		return NewGaussian(b), nil
	case "rosenbrock":
		return NewRosenbrock(b)
	case "gaussian_mixture":
		return NewGaussianMixture(b, 8), nil
	default:
		return nil, fmt.Errorf("model: unknown likelihood %q (available: %v)", name, BuiltinNames())
	}
}

// BuiltinNames lists the catalog in stable order.
func BuiltinNames() []string {
	names := []string{"gaussian", "gaussian_mixture", "rosenbrock"}
	sort.Strings(names)
	return names
}
