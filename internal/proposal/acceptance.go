package proposal

// acceptanceTracker keeps a rolling estimate of per-replacement acceptance
// rates. Each accepted replacement contributes 1/attempts; the rolling mean
// over the window drives the retraining policy.
type acceptanceTracker struct {
	window []float64
	size   int
	next   int
	filled int
}

func newAcceptanceTracker(size int) *acceptanceTracker {
	if size <= 0 {
		size = 1
	}
	return &acceptanceTracker{window: make([]float64, size), size: size}
}

// Record adds one acceptance observation (1/attempts for the accepted draw).
func (a *acceptanceTracker) Record(rate float64) {
	a.window[a.next] = rate
	a.next = (a.next + 1) % a.size
	if a.filled < a.size {
		a.filled++
	}
}

// Mean returns the rolling mean acceptance, or 1 when no observations have
// been recorded yet (an empty tracker must not trigger retraining).
func (a *acceptanceTracker) Mean() float64 {
	if a.filled == 0 {
		return 1
	}
	sum := 0.0
	for i := 0; i < a.filled; i++ {
		sum += a.window[i]
	}
	return sum / float64(a.filled)
}

// Reset clears the window, e.g. after a retrain.
func (a *acceptanceTracker) Reset() {
	a.next = 0
	a.filled = 0
}

// acceptanceState is the serialized tracker state carried in snapshots.
type acceptanceState struct {
	Window []float64 `yaml:"window,flow"`
	Next   int       `yaml:"next"`
	Filled int       `yaml:"filled"`
}

func (a *acceptanceTracker) state() acceptanceState {
	window := make([]float64, a.size)
	copy(window, a.window)
	return acceptanceState{Window: window, Next: a.next, Filled: a.filled}
}

func (a *acceptanceTracker) restore(st acceptanceState) {
	a.Reset()
	if len(st.Window) != a.size {
		// window size changed between runs; start the estimate fresh
		return
	}
	copy(a.window, st.Window)
	a.next = st.Next % a.size
	a.filled = st.Filled
	if a.filled > a.size {
		a.filled = a.size
	}
}
