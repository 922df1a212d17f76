package flow

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distmv"
	"gopkg.in/yaml.v3"
)

// defaultJitter is added to the covariance diagonal before factorization to
// keep near-degenerate populations factorizable.
const defaultJitter = 1e-9

// AffineGaussian is the default Density: a standard-normal latent mapped to
// parameter space through a learned affine transform (mean vector plus the
// Cholesky factor of a weighted sample covariance). It is the simplest
// invertible latent-to-parameter map that tracks the scale and correlations
// of the live population, and it is cheap enough to refit every retrain.
//
// The latent draw, transform, and log density are all delegated to
// distmv.Normal; Fit only estimates the moments.
type AffineGaussian struct {
	dims   int
	src    rand.Source
	jitter float64
	mu     []float64
	sigma  *mat.SymDense
	dist   *distmv.Normal
}

// NewAffineGaussian returns an untrained affine-Gaussian density of the given
// dimension drawing from src. It satisfies Factory.
func NewAffineGaussian(dims int, src rand.Source) Density {
	return &AffineGaussian{dims: dims, src: src, jitter: defaultJitter}
}

// Trained reports whether a successful Fit has happened.
func (a *AffineGaussian) Trained() bool { return a.dist != nil }

// Fit estimates a weighted mean and covariance from points and replaces the
// internal distribution. On failure the previous distribution is left in
// place untouched so the caller can keep sampling from it.
func (a *AffineGaussian) Fit(points [][]float64, weights []float64) error {
	n := len(points)
	if n < a.dims+1 {
		return &TrainingDivergenceError{
			Reason: "not enough training points for a full-rank covariance",
		}
	}
	if weights != nil && len(weights) != n {
		return &TrainingDivergenceError{Reason: "weights length does not match points"}
	}

	data := mat.NewDense(n, a.dims, nil)
	for i, p := range points {
		if len(p) != a.dims {
			return &TrainingDivergenceError{Reason: "training point has wrong dimension"}
		}
		for j, v := range p {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return &TrainingDivergenceError{Reason: "non-finite training point"}
			}
			data.Set(i, j, v)
		}
	}
	if weights != nil {
		total := 0.0
		for _, w := range weights {
			if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
				return &TrainingDivergenceError{Reason: "non-finite or negative training weight"}
			}
			total += w
		}
		if total <= 0 {
			return &TrainingDivergenceError{Reason: "training weights sum to zero"}
		}
	}

	mu := make([]float64, a.dims)
	col := make([]float64, n)
	for j := 0; j < a.dims; j++ {
		mat.Col(col, j, data)
		mu[j] = stat.Mean(col, weights)
	}

	sigma := mat.NewSymDense(a.dims, nil)
	stat.CovarianceMatrix(sigma, data, weights)
	for j := 0; j < a.dims; j++ {
		sigma.SetSym(j, j, sigma.At(j, j)+a.jitter)
	}
	for i := 0; i < a.dims; i++ {
		for j := i; j < a.dims; j++ {
			if v := sigma.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return &TrainingDivergenceError{Reason: "non-finite covariance estimate"}
			}
		}
	}

	dist, ok := distmv.NewNormal(mu, sigma, a.src)
	if !ok {
		// Retry once with an inflated diagonal before giving up; tightly
		// clustered populations produce numerically singular covariances.
		for j := 0; j < a.dims; j++ {
			sigma.SetSym(j, j, sigma.At(j, j)*(1+1e-6)+1e-6)
		}
		dist, ok = distmv.NewNormal(mu, sigma, a.src)
		if !ok {
			return &TrainingDivergenceError{Reason: "covariance is not positive definite"}
		}
	}

	a.mu = mu
	a.sigma = sigma
	a.dist = dist
	return nil
}

// affineState is the serialized form of a fitted AffineGaussian: the exact
// moments Fit handed to the distribution, so restoring refactorizes the same
// covariance and reproduces the original draws bit for bit.
type affineState struct {
	Mean       []float64   `yaml:"mean,flow"`
	Covariance [][]float64 `yaml:"covariance"`
}

// MarshalState serializes the fitted mean and covariance, or returns nil
// when untrained.
func (a *AffineGaussian) MarshalState() ([]byte, error) {
	if a.dist == nil {
		return nil, nil
	}
	st := affineState{Mean: a.mu, Covariance: make([][]float64, a.dims)}
	for i := range st.Covariance {
		row := make([]float64, a.dims)
		for j := range row {
			row[j] = a.sigma.At(i, j)
		}
		st.Covariance[i] = row
	}
	return yaml.Marshal(st)
}

// UnmarshalState restores a fitted distribution from serialized moments.
// Empty data resets the density to untrained.
func (a *AffineGaussian) UnmarshalState(data []byte) error {
	if len(data) == 0 {
		a.mu, a.sigma, a.dist = nil, nil, nil
		return nil
	}
	var st affineState
	if err := yaml.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("flow: unmarshal affine state: %w", err)
	}
	if len(st.Mean) != a.dims || len(st.Covariance) != a.dims {
		return fmt.Errorf("flow: affine state has dimension %d, want %d", len(st.Mean), a.dims)
	}
	sigma := mat.NewSymDense(a.dims, nil)
	for i, row := range st.Covariance {
		if len(row) != a.dims {
			return fmt.Errorf("flow: affine state covariance row %d has length %d, want %d", i, len(row), a.dims)
		}
		for j := i; j < a.dims; j++ {
			sigma.SetSym(i, j, row[j])
		}
	}
	dist, ok := distmv.NewNormal(st.Mean, sigma, a.src)
	if !ok {
		return fmt.Errorf("flow: affine state covariance is not positive definite")
	}
	a.mu = st.Mean
	a.sigma = sigma
	a.dist = dist
	return nil
}

// Sample draws n parameter-space points from the trained distribution.
// Panics if called before a successful Fit; the engine guards this.
func (a *AffineGaussian) Sample(n int) [][]float64 {
	if a.dist == nil {
		panic("flow: Sample on untrained AffineGaussian")
	}
	out := make([][]float64, n)
	for i := range out {
		out[i] = a.dist.Rand(make([]float64, a.dims))
	}
	return out
}

// LogProb returns the model log density at x, or NaN if untrained.
func (a *AffineGaussian) LogProb(x []float64) float64 {
	if a.dist == nil {
		return math.NaN()
	}
	return a.dist.LogProb(x)
}
