// Package metrics carries the counters and gauges emitted by the stages. The
// sink is constructed explicitly and injected; nothing registers itself
// globally.
package metrics

import "sync"

// Attempt outcomes.
const (
	OutcomeOK   = "OK"
	OutcomeFail = "FAIL"
)

// Sink receives stage measurements.
type Sink interface {
	// RecordAttempt counts one execution of a unit of work.
	RecordAttempt(stage, outcome string)
	// RecordSkipped counts an entry dropped by the stage filter.
	RecordSkipped(stage, reason string)
	// RecordState publishes the current lifecycle state of a stage.
	RecordState(stage, state string)
	// RecordFault counts a fault reported to the lifecycle manager.
	RecordFault(stage, kind string)
}

type nop struct{}

// Nop discards every measurement.
func Nop() Sink { return nop{} }

func (nop) RecordAttempt(string, string) {}
func (nop) RecordSkipped(string, string) {}
func (nop) RecordState(string, string)   {}
func (nop) RecordFault(string, string)   {}

type tee []Sink

// Tee fans measurements out to every non-nil sink.
func Tee(sinks ...Sink) Sink {
	out := make(tee, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (t tee) RecordAttempt(stage, outcome string) {
	for _, s := range t {
		s.RecordAttempt(stage, outcome)
	}
}

func (t tee) RecordSkipped(stage, reason string) {
	for _, s := range t {
		s.RecordSkipped(stage, reason)
	}
}

func (t tee) RecordState(stage, state string) {
	for _, s := range t {
		s.RecordState(stage, state)
	}
}

func (t tee) RecordFault(stage, kind string) {
	for _, s := range t {
		s.RecordFault(stage, kind)
	}
}

// OrNop returns s, or a discarding sink when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop()
	}
	return s
}

// Recorder keeps measurements in memory. It backs the status endpoint and the
// tests.
type Recorder struct {
	mu       sync.RWMutex
	attempts map[string]map[string]uint64
	skipped  map[string]map[string]uint64
	faults   map[string]map[string]uint64
	states   map[string]string
	history  map[string][]string
}

func NewRecorder() *Recorder {
	return &Recorder{
		attempts: make(map[string]map[string]uint64),
		skipped:  make(map[string]map[string]uint64),
		faults:   make(map[string]map[string]uint64),
		states:   make(map[string]string),
		history:  make(map[string][]string),
	}
}

func (r *Recorder) RecordAttempt(stage, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	increment(r.attempts, stage, outcome)
}

func (r *Recorder) RecordSkipped(stage, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	increment(r.skipped, stage, reason)
}

func (r *Recorder) RecordFault(stage, kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	increment(r.faults, stage, kind)
}

func (r *Recorder) RecordState(stage, state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[stage] = state
	r.history[stage] = append(r.history[stage], state)
}

// Attempts returns the attempt count of stage for outcome.
func (r *Recorder) Attempts(stage, outcome string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.attempts[stage][outcome]
}

// Skipped returns the skip count of stage for reason.
func (r *Recorder) Skipped(stage, reason string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.skipped[stage][reason]
}

// Faults returns the fault count of stage for kind.
func (r *Recorder) Faults(stage, kind string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.faults[stage][kind]
}

// StateHistory lists every state recorded for stage in order.
func (r *Recorder) StateHistory(stage string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.history[stage]...)
}

// StageSnapshot is the per-stage view returned by Snapshot.
type StageSnapshot struct {
	State    string            `json:"state,omitempty"`
	Attempts map[string]uint64 `json:"attempts,omitempty"`
	Skipped  map[string]uint64 `json:"skipped,omitempty"`
	Faults   map[string]uint64 `json:"faults,omitempty"`
}

// Snapshot returns a copy of every measurement keyed by stage.
func (r *Recorder) Snapshot() map[string]StageSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]StageSnapshot)
	stage := func(name string) StageSnapshot { return out[name] }
	for name, counts := range r.attempts {
		s := stage(name)
		s.Attempts = copyCounts(counts)
		out[name] = s
	}
	for name, counts := range r.skipped {
		s := stage(name)
		s.Skipped = copyCounts(counts)
		out[name] = s
	}
	for name, counts := range r.faults {
		s := stage(name)
		s.Faults = copyCounts(counts)
		out[name] = s
	}
	for name, state := range r.states {
		s := stage(name)
		s.State = state
		out[name] = s
	}
	return out
}

func increment(m map[string]map[string]uint64, stage, label string) {
	counts, ok := m[stage]
	if !ok {
		counts = make(map[string]uint64)
		m[stage] = counts
	}
	counts[label]++
}

func copyCounts(in map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
