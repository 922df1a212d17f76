// Package proposal implements the replacement-point engines for nested
// sampling: likelihood-constrained rejection sampling from a trained density
// model, with direct prior rejection as both fallback and unbiased
// reference.
//
// The acceptance step is exact. A candidate is accepted iff it lies inside
// the bounds, has finite prior density, and its log likelihood strictly
// exceeds the constraint; no importance-weight correction is ever applied.
// The trained model only buys efficiency, never correctness.
package proposal
