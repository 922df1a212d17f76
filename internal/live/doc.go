// Package live implements the live-point store: the population of points
// currently satisfying the sampler's likelihood constraint.
//
// The population is a sorted-by-logL collection mutated only by the sampling
// loop, one removal plus one insertion per iteration. The minimum member
// defines the current likelihood threshold; inserts below it are rejected as
// ordering violations because they would corrupt the volume-shrinkage
// sequence the evidence estimate depends on.
package live
