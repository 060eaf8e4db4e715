// Package progress tracks per-unit completion for a report run, collects
// failures without aborting, and turns both into an ordered event stream.
package progress

import (
	"sync"
)

// Snapshot is the progress state after an advance.
type Snapshot struct {
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
}

// Tracker counts completed units against a total fixed by the pre-pass.
// Percent never decreases and the final advance reports exactly 100.
type Tracker struct {
	mu        sync.Mutex
	total     int
	completed int
	last      float64
	obs       Observer
}

// NewTracker returns a tracker for total units. obs may be nil.
func NewTracker(total int, obs Observer) *Tracker {
	if total < 0 {
		total = 0
	}
	return &Tracker{total: total, obs: obs}
}

// Advance marks one unit processed, successful or not, and notifies the observer.
func (t *Tracker) Advance() Snapshot {
	t.mu.Lock()
	t.completed++
	snap := t.snapshotLocked()
	obs := t.obs
	t.mu.Unlock()

	if obs != nil {
		obs.Observe(Event{Type: EventProgress, Progress: snap.Percent})
	}
	return snap
}

// Finish forces 100 for runs that had zero units or stopped short.
func (t *Tracker) Finish() Snapshot {
	t.mu.Lock()
	if t.last >= 100 {
		snap := Snapshot{Completed: t.completed, Total: t.total, Percent: 100}
		t.mu.Unlock()
		return snap
	}
	t.last = 100
	snap := Snapshot{Completed: t.completed, Total: t.total, Percent: 100}
	obs := t.obs
	t.mu.Unlock()

	if obs != nil {
		obs.Observe(Event{Type: EventProgress, Progress: 100})
	}
	return snap
}

// Snapshot returns the current state without advancing.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{Completed: t.completed, Total: t.total, Percent: t.last}
}

func (t *Tracker) snapshotLocked() Snapshot {
	denom := t.total
	if denom < 1 {
		denom = 1
	}
	pct := float64(t.completed) / float64(denom) * 100
	if t.completed >= t.total && t.total > 0 {
		pct = 100
	}
	if pct > 100 {
		pct = 100
	}
	if pct < t.last {
		pct = t.last
	}
	t.last = pct
	return Snapshot{Completed: t.completed, Total: t.total, Percent: pct}
}
