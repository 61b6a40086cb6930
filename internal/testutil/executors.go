package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ExecutionRecord holds the start and end times of one attempt.
type ExecutionRecord struct {
	Start time.Time
	End   time.Time
}

// Recorder is an executor for engine tests. Payloads are task ids. It
// records every attempt, tracks peak concurrency and can be scripted to
// fail, block or sleep per task.
type Recorder struct {
	// Sleep is how long each attempt takes unless Delays overrides it.
	Sleep time.Duration
	// Delays overrides Sleep per task id.
	Delays map[string]time.Duration
	// Failures is how many leading attempts of a task return an error.
	// A negative value fails every attempt.
	Failures map[string]int
	// Gate, when set, blocks every attempt until it is closed or the
	// attempt's context ends.
	Gate chan struct{}

	mu       sync.Mutex
	attempts map[string]int
	records  map[string][]ExecutionRecord
	order    []string
	log      []string
	upstream map[string]map[string]any

	current atomic.Int64
	peak    atomic.Int64
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		Delays:   make(map[string]time.Duration),
		Failures: make(map[string]int),
	}
}

// ErrScripted is returned by attempts the Recorder was told to fail.
var ErrScripted = errors.New("scripted failure")

// Execute implements executor.Executor.
func (r *Recorder) Execute(ctx context.Context, payload any, upstream map[string]any) (any, error) {
	id := fmt.Sprint(payload)

	n := r.current.Add(1)
	defer r.current.Add(-1)
	for {
		peak := r.peak.Load()
		if n <= peak || r.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	r.mu.Lock()
	if r.attempts == nil {
		r.attempts = make(map[string]int)
		r.records = make(map[string][]ExecutionRecord)
		r.upstream = make(map[string]map[string]any)
	}
	r.attempts[id]++
	attempt := r.attempts[id]
	fail := r.Failures[id]
	delay, ok := r.Delays[id]
	if !ok {
		delay = r.Sleep
	}
	r.upstream[id] = upstream
	r.log = append(r.log, "start:"+id)
	r.mu.Unlock()

	start := time.Now()
	if r.Gate != nil {
		select {
		case <-r.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	end := time.Now()

	failed := fail < 0 || attempt <= fail

	r.mu.Lock()
	r.records[id] = append(r.records[id], ExecutionRecord{Start: start, End: end})
	if failed {
		r.log = append(r.log, "fail:"+id)
	} else {
		r.log = append(r.log, "ok:"+id)
		r.order = append(r.order, id)
	}
	r.mu.Unlock()

	if failed {
		return nil, fmt.Errorf("%s attempt %d: %w", id, attempt, ErrScripted)
	}
	return "out:" + id, nil
}

// Attempts returns how many times id was executed.
func (r *Recorder) Attempts(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts[id]
}

// Records returns the attempts of id that ran to completion.
func (r *Recorder) Records(id string) []ExecutionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ExecutionRecord(nil), r.records[id]...)
}

// Order returns task ids in the order their successful attempt returned.
func (r *Recorder) Order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Log returns the global event log: "start:<id>" when an attempt begins,
// then "ok:<id>" or "fail:<id>" when it returns.
func (r *Recorder) Log() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}

// Upstream returns the upstream map the last attempt of id received.
func (r *Recorder) Upstream(id string) map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upstream[id]
}

// Peak returns the highest number of attempts observed running at once.
func (r *Recorder) Peak() int {
	return int(r.peak.Load())
}

// Current returns the number of attempts running right now.
func (r *Recorder) Current() int {
	return int(r.current.Load())
}
