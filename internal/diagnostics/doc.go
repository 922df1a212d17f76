// Package diagnostics implements proposal-health monitoring for nested
// sampling runs: insertion-index tracking with rolling Kolmogorov-Smirnov
// uniformity tests, and the event history for retraining, degradation, and
// fallback occurrences.
//
// Everything here is advisory. A biased proposal produces a warning that
// operators and the retraining policy can react to; it never auto-corrects
// the evidence estimate.
package diagnostics
