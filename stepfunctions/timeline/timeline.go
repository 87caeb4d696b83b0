// Package timeline replays execution history events into per-state status.
package timeline

import (
	"time"

	"stepfunction-inspector/stepfunctions/asl"
)

type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// EventKind distinguishes state entry from state exit. The zero value is an
// event the reconstructor does not understand and skips.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventEntered
	EventExited
)

func (k EventKind) String() string {
	switch k {
	case EventEntered:
		return "Entered"
	case EventExited:
		return "Exited"
	default:
		return "Unknown"
	}
}

// Event is one state transition from an execution's history.
type Event struct {
	Kind      EventKind
	StateType asl.StateType
	StateName string
	Timestamp time.Time
}

// StateStatus is the reconstructed status of one state.
type StateStatus struct {
	StateName   string     `json:"stateName"`
	Status      Status     `json:"status"`
	StartTime   *time.Time `json:"startTime,omitempty"`
	EndTime     *time.Time `json:"endTime,omitempty"`
	LastUpdated *time.Time `json:"lastUpdated,omitempty"`
}

// Timeline is the set of state statuses of one execution, in the order the
// states were first seen.
type Timeline struct {
	order  []string
	states map[string]*StateStatus
	// LastEntered is the state entered but not exited when the events ran
	// out, if any.
	LastEntered string
}

// Get returns a copy of the status of name.
func (t *Timeline) Get(name string) (StateStatus, bool) {
	if t == nil {
		return StateStatus{}, false
	}
	s, ok := t.states[name]
	if !ok {
		return StateStatus{}, false
	}
	return *s, true
}

// List returns copies of all statuses in first-seen order.
func (t *Timeline) List() []StateStatus {
	if t == nil {
		return []StateStatus{}
	}
	out := make([]StateStatus, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, *t.states[name])
	}
	return out
}

// Len returns the number of tracked states.
func (t *Timeline) Len() int {
	if t == nil {
		return 0
	}
	return len(t.order)
}

func (t *Timeline) ensure(name string) *StateStatus {
	if s, ok := t.states[name]; ok {
		return s
	}
	s := &StateStatus{StateName: name}
	t.states[name] = s
	t.order = append(t.order, name)
	return s
}

// IsFailureStatus reports whether an execution status is failure-class.
func IsFailureStatus(status string) bool {
	switch status {
	case "FAILED", "TIMED_OUT", "ABORTED":
		return true
	default:
		return false
	}
}
