// Package model defines the boundary between the nested sampler core and a
// user-supplied inference problem.
//
// The core only ever talks to a problem through the Model interface: a log
// prior, a log likelihood, a prior sampler, and per-dimension bounds. The
// interface is deliberately log-space throughout; densities in interesting
// problems underflow float64 long before their logs do.
//
// Convention: -Inf from LogPrior means "outside support" and is expected.
// NaN from either callable is a contract violation and is surfaced, never
// silently dropped.
package model
