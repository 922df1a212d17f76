// Package sampler implements the nested sampling loop: a live population is
// repeatedly contracted by removing its worst point and replacing it with a
// draw from the prior constrained to higher likelihood, while the evidence
// integral is accumulated over the shrinking prior volume.
//
// The loop is single-threaded by construction. Every statistical guarantee
// (the geometric volume shrinkage, the insertion-index uniformity test, the
// reproducibility of a run from its seed) depends on a strict removal and
// insertion order, so concurrency is confined to candidate evaluation inside
// the proposal layer.
//
// A run can be checkpointed between iterations with Snapshot and continued
// with Resume; the serialized random-source state makes the resumed run
// identical to an uninterrupted one.
package sampler
