package diagnostics

import (
	"log/slog"
)

// EventKind labels a diagnostic event.
type EventKind string

const (
	// EventRetrain records a proposal retraining.
	EventRetrain EventKind = "retrain"

	// EventDegraded records a retraining failure: the engine kept the
	// previous model (or fell back to prior sampling) and continued.
	EventDegraded EventKind = "degraded"

	// EventFallback records a proposal falling back to direct prior
	// rejection after exhausting flow draws.
	EventFallback EventKind = "fallback"

	// EventBiasWarning records a failed insertion-index uniformity check.
	EventBiasWarning EventKind = "bias_warning"
)

// Event is a single diagnostic occurrence, stamped with the sampler
// iteration it happened at. Read-only after creation.
type Event struct {
	Iteration int
	Kind      EventKind
	Detail    string
}

// DefaultSignificance is the significance level for the rolling
// insertion-index uniformity test.
const DefaultSignificance = 0.05

// Monitor tracks insertion indices and proposal-health events for a run.
//
// The monitor is advisory: a failed uniformity test raises a warning event
// (surfaced for logging and retraining decisions), never an error, and never
// touches the evidence estimate. Mutated only by the sampling loop goroutine.
type Monitor struct {
	nlive        int
	significance float64
	logger       *slog.Logger

	indices  []int
	rollingP []float64
	events   []Event
}

// NewMonitor creates a monitor for a run with the given live-point count.
// significance <= 0 uses DefaultSignificance. A nil logger uses slog.Default.
func NewMonitor(nlive int, significance float64, logger *slog.Logger) *Monitor {
	if significance <= 0 {
		significance = DefaultSignificance
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{nlive: nlive, significance: significance, logger: logger}
}

// RecordIndex records the insertion index of the point accepted at the given
// iteration and runs the rolling uniformity test every nlive records.
func (m *Monitor) RecordIndex(iteration, index int) {
	m.indices = append(m.indices, index)
	if len(m.indices)%m.nlive == 0 {
		m.checkRolling(iteration)
	}
}

// checkRolling tests the last nlive indices for uniformity.
func (m *Monitor) checkRolling(iteration int) {
	window := m.indices[len(m.indices)-m.nlive:]
	d, p := KSUniform(window, m.nlive)
	m.rollingP = append(m.rollingP, p)
	if p < m.significance {
		m.logger.Warn("insertion indices deviate from uniform",
			"iteration", iteration,
			"ks_statistic", d,
			"p_value", p,
			"significance", m.significance,
		)
		m.RecordEvent(Event{
			Iteration: iteration,
			Kind:      EventBiasWarning,
			Detail:    "rolling insertion-index uniformity test failed",
		})
	} else {
		m.logger.Debug("rolling insertion-index test",
			"iteration", iteration,
			"ks_statistic", d,
			"p_value", p,
		)
	}
}

// FinalCheck tests the full insertion-index history for uniformity and
// returns the statistic and p-value. Call once after the run terminates.
func (m *Monitor) FinalCheck() (d, p float64) {
	d, p = KSUniform(m.indices, m.nlive)
	m.logger.Info("final insertion-index test", "ks_statistic", d, "p_value", p)
	return d, p
}

// RecordEvent appends an event to the history.
func (m *Monitor) RecordEvent(ev Event) {
	m.events = append(m.events, ev)
}

// Indices returns a copy of all recorded insertion indices.
func (m *Monitor) Indices() []int {
	out := make([]int, len(m.indices))
	copy(out, m.indices)
	return out
}

// RollingP returns a copy of the rolling-test p-value history.
func (m *Monitor) RollingP() []float64 {
	out := make([]float64, len(m.rollingP))
	copy(out, m.rollingP)
	return out
}

// Events returns a copy of the event history.
func (m *Monitor) Events() []Event {
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// RestoreIndices replaces the recorded index history, e.g. when resuming a
// run from a snapshot.
func (m *Monitor) RestoreIndices(indices []int) {
	m.indices = make([]int, len(indices))
	copy(m.indices, indices)
}
