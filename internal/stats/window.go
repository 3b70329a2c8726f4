package stats

import (
	"sync"
	"time"

	"dialer-platform/internal/clock"
)

// Outcome is the result of one outbound attempt as fed back to pacing.
type Outcome string

const (
	OutcomeAnswered  Outcome = "answered"
	OutcomeAbandoned Outcome = "abandoned"
	OutcomeFailed    Outcome = "failed"
	OutcomeNoAnswer  Outcome = "no_answer"
	OutcomeBusy      Outcome = "busy"
)

func (o Outcome) Valid() bool {
	switch o {
	case OutcomeAnswered, OutcomeAbandoned, OutcomeFailed, OutcomeNoAnswer, OutcomeBusy:
		return true
	default:
		return false
	}
}

// Counts is a point-in-time view of the window.
type Counts struct {
	Connected int `json:"connected"`
	Abandoned int `json:"abandoned"`
	Failed    int `json:"failed"`
	NoAnswer  int `json:"no_answer"`
	Busy      int `json:"busy"`
}

// Total is the number of samples in the window.
func (c Counts) Total() int {
	return c.Connected + c.Abandoned + c.Failed + c.NoAnswer + c.Busy
}

// Contacts is the drop-rate denominator: attempts that reached a live party.
func (c Counts) Contacts() int {
	return c.Connected + c.Abandoned
}

// DropRate is abandoned / max(1, connected+abandoned).
func (c Counts) DropRate() float64 {
	d := c.Contacts()
	if d < 1 {
		d = 1
	}
	return float64(c.Abandoned) / float64(d)
}

type sample struct {
	at      time.Time
	outcome Outcome
}

// Window keeps outcomes from the last Duration, optionally capped at the last MaxSamples.
//
// Record is synchronous: a sample is visible to the next Snapshot as soon as Record returns.
type Window struct {
	clock      clock.Clock
	duration   time.Duration
	maxSamples int

	mu      sync.Mutex
	samples []sample
	counts  Counts
}

// NewWindow returns a window of the given duration. maxSamples <= 0 means no count cap.
func NewWindow(c clock.Clock, duration time.Duration, maxSamples int) *Window {
	if duration <= 0 {
		duration = time.Minute
	}
	return &Window{clock: clock.OrReal(c), duration: duration, maxSamples: maxSamples}
}

// Record appends an outcome. Unknown outcomes are ignored.
func (w *Window) Record(o Outcome) {
	if !o.Valid() {
		return
	}
	now := w.clock.Now()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = append(w.samples, sample{at: now, outcome: o})
	w.counts.add(o, 1)
	w.pruneLocked(now)
}

// Snapshot returns counts for samples still inside the window.
func (w *Window) Snapshot() Counts {
	now := w.clock.Now()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
	return w.counts
}

// Reset drops every sample.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = nil
	w.counts = Counts{}
}

func (w *Window) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.duration)
	drop := 0
	for drop < len(w.samples) && !w.samples[drop].at.After(cutoff) {
		drop++
	}
	if w.maxSamples > 0 && len(w.samples)-drop > w.maxSamples {
		drop = len(w.samples) - w.maxSamples
	}
	if drop == 0 {
		return
	}
	for _, s := range w.samples[:drop] {
		w.counts.add(s.outcome, -1)
	}
	w.samples = append(w.samples[:0], w.samples[drop:]...)
}

func (c *Counts) add(o Outcome, n int) {
	switch o {
	case OutcomeAnswered:
		c.Connected += n
	case OutcomeAbandoned:
		c.Abandoned += n
	case OutcomeFailed:
		c.Failed += n
	case OutcomeNoAnswer:
		c.NoAnswer += n
	case OutcomeBusy:
		c.Busy += n
	}
}
