package export

import "sync"

// Checkpoints reported before convergence starts.
const (
	progressTrimStarted  = 10
	progressTrimmed      = 40
	progressProbed       = 45
	progressBudgeted     = 50
	progressInitialDone  = 75
	progressConvergeSpan = 25
	progressCeiling      = 99
	progressComplete     = 100
)

// Event is one progress observation of an export.
type Event struct {
	Phase     Phase  `json:"phase"`
	Percent   int    `json:"percent"`
	Pass      int    `json:"pass"`
	VideoKbps int    `json:"video_kbps,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Reporter forwards events to a sink while guaranteeing that percentages
// never decrease, stay below 100 until Complete, and that nothing is emitted
// after a terminal event.
type Reporter struct {
	mu       sync.Mutex
	sink     func(Event)
	last     int
	finished bool
}

// NewReporter creates a Reporter. A nil sink discards events.
func NewReporter(sink func(Event)) *Reporter {
	if sink == nil {
		sink = func(Event) {}
	}
	return &Reporter{sink: sink}
}

// Report emits ev with its percent clamped into [last, 99].
func (r *Reporter) Report(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return
	}
	if ev.Percent > progressCeiling {
		ev.Percent = progressCeiling
	}
	if ev.Percent < r.last {
		ev.Percent = r.last
	}
	r.last = ev.Percent
	r.sink(ev)
}

// Complete emits the single 100% event.
func (r *Reporter) Complete(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return
	}
	r.finished = true
	ev.Phase = PhaseDone
	ev.Percent = progressComplete
	r.last = progressComplete
	r.sink(ev)
}

// Fail emits the terminal failure event at the last reported percent.
func (r *Reporter) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return
	}
	r.finished = true
	ev := Event{Phase: PhaseFailed, Percent: r.last}
	if err != nil {
		ev.Error = err.Error()
	}
	r.sink(ev)
}

// Last returns the most recently emitted percent.
func (r *Reporter) Last() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// convergencePercent maps the size of a convergence pass onto the 75-99 band
// by how much of the first overshoot (firstSize - ceiling) has been removed.
func convergencePercent(firstSize, size, ceiling int64) int {
	overshoot := float64(firstSize - ceiling)
	if overshoot <= 0 {
		return progressCeiling
	}
	remaining := float64(size-ceiling) / overshoot
	pct := progressInitialDone + int((1-remaining)*progressConvergeSpan)
	if pct > progressCeiling {
		pct = progressCeiling
	}
	if pct < progressInitialDone {
		pct = progressInitialDone
	}
	return pct
}
