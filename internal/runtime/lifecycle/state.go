package lifecycle

import (
	"fmt"
	"strings"
)

// State is the lifecycle state of one stage.
type State int

const (
	Initialized State = iota
	Started
	Paused
	Stopped
)

var states = []State{Initialized, Started, Paused, Stopped}

// String returns the upper-case name of the state, or STATE(n) for an
// unknown value.
func (s State) String() string {
	switch s {
	case Initialized:
		return "INITIALIZED"
	case Started:
		return "STARTED"
	case Paused:
		return "PAUSED"
	case Stopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("STATE(%d)", int(s))
	}
}

// MarshalText encodes the state as its String form.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts a state name in any case.
func (s *State) UnmarshalText(text []byte) error {
	for _, candidate := range states {
		if strings.EqualFold(string(text), candidate.String()) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("lifecycle: unknown state %q", text)
}

// Health is the liveness verdict of a stage.
type Health int

const (
	Healthy Health = iota
	Unhealthy
)

// String returns HEALTHY or UNHEALTHY.
func (h Health) String() string {
	if h == Healthy {
		return "HEALTHY"
	}
	return "UNHEALTHY"
}

// MarshalText encodes the verdict as its String form.
func (h Health) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText accepts HEALTHY or UNHEALTHY in any case.
func (h *Health) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case Healthy.String():
		*h = Healthy
	case Unhealthy.String():
		*h = Unhealthy
	default:
		return fmt.Errorf("lifecycle: unknown health %q", text)
	}
	return nil
}

// Readiness is the readiness verdict of a stage.
type Readiness int

const (
	NotReady Readiness = iota
	Ready
)

// String returns READY or NOT_READY.
func (r Readiness) String() string {
	if r == Ready {
		return "READY"
	}
	return "NOT_READY"
}

// MarshalText encodes the verdict as its String form.
func (r Readiness) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText accepts READY or NOT_READY in any case.
func (r *Readiness) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case Ready.String():
		*r = Ready
	case NotReady.String():
		*r = NotReady
	default:
		return fmt.Errorf("lifecycle: unknown readiness %q", text)
	}
	return nil
}
