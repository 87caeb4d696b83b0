package timeline

import (
	"time"

	"stepfunction-inspector/stepfunctions/asl"
)

// Reconstruct replays events in order and returns the status of every state
// they mention. executionStatus is the status of the whole execution; when
// it is failure-class, the state that was entered last and never exited is
// marked failed.
//
// A truncated event stream leaves states at their last known status.
func Reconstruct(events []Event, executionStatus string) *Timeline {
	t := &Timeline{states: map[string]*StateStatus{}}

	for _, ev := range events {
		if ev.StateName == "" {
			continue
		}
		switch ev.Kind {
		case EventEntered:
			status, ok := entryStatus(ev.StateType)
			if !ok {
				continue
			}
			t.LastEntered = ev.StateName
			s := t.mark(ev.StateName, status, ev.Timestamp)
			if s.StartTime == nil && !ev.Timestamp.IsZero() {
				s.StartTime = stamp(ev.Timestamp)
			}
		case EventExited:
			if !tracksExit(ev.StateType) {
				continue
			}
			if ev.StateName == t.LastEntered {
				t.LastEntered = ""
			}
			s := t.ensure(ev.StateName)
			if s.Status == "" || s.Status == StatusRunning {
				s.Status = StatusSucceeded
			}
			if !ev.Timestamp.IsZero() {
				s.EndTime = stamp(ev.Timestamp)
				s.LastUpdated = stamp(ev.Timestamp)
			}
		}
	}

	if IsFailureStatus(executionStatus) && t.LastEntered != "" {
		t.ensure(t.LastEntered).Status = StatusFailed
	}
	return t
}

func (t *Timeline) mark(name string, status Status, ts time.Time) *StateStatus {
	s := t.ensure(name)
	s.Status = status
	if !ts.IsZero() {
		s.LastUpdated = stamp(ts)
	}
	return s
}

// entryStatus maps the kind of an entered state to the status it starts in.
// Succeed and Fail states have no exit event, so entering them is final.
func entryStatus(kind asl.StateType) (Status, bool) {
	switch kind {
	case asl.TypeTask, asl.TypeChoice, asl.TypeParallel, asl.TypeMap, asl.TypePass, asl.TypeWait:
		return StatusRunning, true
	case asl.TypeSucceed:
		return StatusSucceeded, true
	case asl.TypeFail:
		return StatusFailed, true
	default:
		return "", false
	}
}

func tracksExit(kind asl.StateType) bool {
	switch kind {
	case asl.TypeTask, asl.TypeChoice, asl.TypeParallel, asl.TypeMap, asl.TypePass, asl.TypeWait:
		return true
	default:
		return false
	}
}

func stamp(ts time.Time) *time.Time {
	v := ts
	return &v
}
