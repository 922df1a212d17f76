package model

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// UniformBox provides the prior half of a Model for the common case of a
// uniform prior over a rectangular box. Concrete models embed it and add
// their LogLikelihood.
type UniformBox struct {
	bounds   Bounds
	logDens  float64 // log(1/volume), constant inside the box
	perDimLo []float64
	perDimW  []float64 // upper-lower per dimension
}

// NewUniformBox builds a uniform prior over the given bounds.
// Zero-width dimensions are allowed; they contribute nothing to the volume.
func NewUniformBox(b Bounds) UniformBox {
	logVol := 0.0
	widths := make([]float64, b.Dims())
	for i := range b.Lower {
		w := b.Upper[i] - b.Lower[i]
		widths[i] = w
		if w > 0 {
			logVol += math.Log(w)
		}
	}
	return UniformBox{
		bounds:   b,
		logDens:  -logVol,
		perDimLo: b.Lower,
		perDimW:  widths,
	}
}

// Dims returns the box dimension.
func (u UniformBox) Dims() int { return u.bounds.Dims() }

// Bounds returns the box bounds.
func (u UniformBox) Bounds() Bounds { return u.bounds }

// LogPrior returns log(1/volume) inside the box and -Inf outside.
func (u UniformBox) LogPrior(x []float64) float64 {
	if !u.bounds.Contains(x) {
		return math.Inf(-1)
	}
	return u.logDens
}

// SamplePrior draws n points uniformly inside the box.
func (u UniformBox) SamplePrior(n int, src rand.Source) [][]float64 {
	dim := u.Dims()
	unit := distuv.Uniform{Min: 0, Max: 1, Src: src}
	pts := make([][]float64, n)
	for i := range pts {
		x := make([]float64, dim)
		for j := 0; j < dim; j++ {
			x[j] = u.perDimLo[j] + u.perDimW[j]*unit.Rand()
		}
		pts[i] = x
	}
	return pts
}
