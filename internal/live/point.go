package live

// Point is a single live point: a parameter vector with its log prior and
// log likelihood, plus the likelihood threshold that was active when the
// point was born.
//
// Points are immutable once created and owned by exactly one collection at a
// time (the live population or the dead list). Ownership transfers on
// removal/insertion; nothing ever shares a point.
type Point struct {
	// Params is the parameter vector. Never mutated after construction.
	Params []float64

	// LogP is the log prior density at Params.
	LogP float64

	// LogL is the log likelihood at Params.
	LogL float64

	// LogLBirth is the likelihood threshold active when the point was drawn.
	// -Inf for points drawn directly from the prior at initialization.
	LogLBirth float64
}

// NewPoint copies params into a fresh Point. The copy keeps the immutability
// contract cheap to uphold: callers may reuse their scratch slices.
func NewPoint(params []float64, logP, logL, logLBirth float64) Point {
	p := make([]float64, len(params))
	copy(p, params)
	return Point{Params: p, LogP: logP, LogL: logL, LogLBirth: logLBirth}
}
