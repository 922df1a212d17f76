// Package flow defines the trainable density model contract used by the
// proposal engine, and provides the default affine latent-Gaussian
// implementation.
//
// The contract is fit/sample/log-prob. Correctness of the evidence estimate
// never depends on how well a Density approximates the live population; only
// sampling efficiency does. Any trainable density satisfying the interface
// is substitutable.
package flow
