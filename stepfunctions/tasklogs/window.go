package tasklogs

import (
	"time"

	"stepfunction-inspector/stepfunctions/timeline"
)

// DefaultPadding widens every query window on both sides to absorb clock
// skew and delivery delay between Step Functions and CloudWatch Logs.
const DefaultPadding = 2 * time.Minute

var epoch = time.Unix(0, 0).UTC()

// PerNodeBudget splits a total line budget evenly across n task nodes. Each
// node gets at least one line and never more than the total.
func PerNodeBudget(total, n int) int {
	share := total / max(1, n)
	return max(1, min(total, share))
}

// Window returns the padded query window of a state. The state's own start
// and end are preferred; the execution's bounds fill in whatever the state
// lacks. A zero end means the window is open.
func Window(status *timeline.StateStatus, execStart, execStop time.Time, padding time.Duration) (time.Time, time.Time) {
	start, end := execStart, execStop
	if status != nil {
		if status.StartTime != nil {
			start = *status.StartTime
		}
		if status.EndTime != nil {
			end = *status.EndTime
		}
	}
	if !start.IsZero() {
		start = start.Add(-padding)
		if start.Before(epoch) {
			start = epoch
		}
	}
	if !end.IsZero() {
		end = end.Add(padding)
	}
	return start, end
}
