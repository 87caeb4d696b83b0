// Package tasklogs correlates the Task states of an execution with the
// CloudWatch Logs written by the functions and containers they ran.
//
// Each task node gets its own time window (the state's start and end, or
// the execution's when the state was never seen) and an even share of the
// caller's line budget. A failure for one node is recorded on that node's
// bundle and never affects the others.
package tasklogs

import (
	"context"
	"errors"
	"time"

	"stepfunction-inspector/stepfunctions/timeline"
)

// ErrUnresolvedLogLocation is returned when a task's log group cannot be
// determined.
var ErrUnresolvedLogLocation = errors.New("unresolved log location")

type Line struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Locator identifies where a resource writes its logs.
type Locator struct {
	Group        string
	StreamPrefix string
	// Region overrides the correlator's region for console links.
	Region string
}

// Query is one bounded, time-windowed log query. Zero Start or End leaves
// that side of the window open.
type Query struct {
	Group         string
	StreamPrefix  string
	FilterPattern string
	Start         time.Time
	End           time.Time
	Limit         int
}

// Querier runs log queries.
type Querier interface {
	FilterLogs(ctx context.Context, q Query) ([]Line, error)
}

// ContainerLocator looks up the log configuration of a container task
// definition.
type ContainerLocator interface {
	ContainerLogLocator(ctx context.Context, taskDefinition string) (Locator, error)
}

// Bundle holds the logs of one task node.
type Bundle struct {
	StateName    string          `json:"stateName"`
	Status       timeline.Status `json:"status,omitempty"`
	ResourceKind string          `json:"resourceType"`
	Resource     string          `json:"resource"`
	ResourceLink string          `json:"resourceUrl,omitempty"`
	LaunchType   string          `json:"launchType,omitempty"`
	LogGroup     string          `json:"logGroup,omitempty"`
	LogStream    string          `json:"logStream,omitempty"`
	LogQueryLink string          `json:"logUrl,omitempty"`
	Limit        int             `json:"limit"`
	Entries      []Line          `json:"logs"`
	Error        string          `json:"logsError,omitempty"`
}

// ExecutionLogs holds the entries an execution wrote to its state machine's
// own log group.
type ExecutionLogs struct {
	Entries []Line `json:"logs"`
	Link    string `json:"logsUrl,omitempty"`
	Error   string `json:"logsError,omitempty"`
}
