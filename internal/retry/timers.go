package retry

import (
	"sync"
	"time"
)

// Timers holds the pending retry delays of a workflow run, one per task.
type Timers struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

// NewTimers creates an empty timer set.
func NewTimers() *Timers {
	return &Timers{timers: make(map[string]*time.Timer)}
}

// Schedule runs fn once d has elapsed unless the timer is stopped first.
// A task can have at most one pending timer; scheduling again replaces it.
// A timer counts as pending until fn has returned.
// It returns false after StopAll has been called.
func (t *Timers) Schedule(id string, d time.Duration, fn func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return false
	}
	if old, ok := t.timers[id]; ok {
		old.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		current, ok := t.timers[id]
		t.mu.Unlock()
		if !ok || current != timer {
			return
		}

		// The timer stays counted by Pending until fn has returned.
		fn()

		t.mu.Lock()
		if current, ok := t.timers[id]; ok && current == timer {
			delete(t.timers, id)
		}
		t.mu.Unlock()
	})
	t.timers[id] = timer
	return true
}

// StopAll stops every pending timer and refuses new ones for good.
// It returns the ids whose timers were stopped.
func (t *Timers) StopAll() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopped = true
	ids := make([]string, 0, len(t.timers))
	for id, timer := range t.timers {
		timer.Stop()
		ids = append(ids, id)
	}
	t.timers = make(map[string]*time.Timer)
	return ids
}

// Pending returns the number of timers that have not fired yet.
func (t *Timers) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}
