package inspector

import (
	"time"

	"stepfunction-inspector/stepfunctions"
	"stepfunction-inspector/stepfunctions/graph"
	"stepfunction-inspector/stepfunctions/tasklogs"
	"stepfunction-inspector/stepfunctions/timeline"
)

// Every response carries an Error string for failures that leave the rest
// of the response usable.

type OverviewResponse struct {
	Provider       Provider           `json:"provider"`
	Region         string             `json:"region,omitempty"`
	GeneratedAt    time.Time          `json:"generatedAt"`
	ExecutionLimit int                `json:"executionLimit"`
	TotalWorkflows int                `json:"totalWorkflows"`
	Error          string             `json:"error,omitempty"`
	Workflows      []WorkflowOverview `json:"workflows"`
}

type WorkflowOverview struct {
	Provider   Provider           `json:"provider"`
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Status     string             `json:"status,omitempty"`
	Type       string             `json:"type,omitempty"`
	CreatedAt  *time.Time         `json:"createdAt,omitempty"`
	Error      string             `json:"error,omitempty"`
	Executions []ExecutionSummary `json:"executions"`
}

type ExecutionSummary struct {
	ARN        string     `json:"arn"`
	Name       string     `json:"name,omitempty"`
	Status     string     `json:"status,omitempty"`
	StartTime  *time.Time `json:"startTime,omitempty"`
	StopTime   *time.Time `json:"stopTime,omitempty"`
	DurationMs *int64     `json:"durationMs,omitempty"`
	Error      string     `json:"error,omitempty"`
	Cause      string     `json:"cause,omitempty"`
}

type WorkflowDetail struct {
	Provider   Provider           `json:"provider"`
	ID         string             `json:"id"`
	Name       string             `json:"name,omitempty"`
	Status     string             `json:"status,omitempty"`
	Type       string             `json:"type,omitempty"`
	CreatedAt  *time.Time         `json:"createdAt,omitempty"`
	Definition string             `json:"definition,omitempty"`
	Graph      graph.Graph        `json:"graph"`
	Executions []ExecutionSummary `json:"executions"`
	Error      string             `json:"error,omitempty"`
}

type ExecutionOptions struct {
	MaxEvents   int
	IncludeLogs bool
	LogLimit    int
}

type ExecutionDetail struct {
	Provider           Provider               `json:"provider"`
	ExecutionARN       string                 `json:"executionArn"`
	StateMachineARN    string                 `json:"stateMachineArn,omitempty"`
	Status             string                 `json:"status,omitempty"`
	StartTime          *time.Time             `json:"startTime,omitempty"`
	StopTime           *time.Time             `json:"stopTime,omitempty"`
	DurationMs         *int64                 `json:"durationMs,omitempty"`
	Error              string                 `json:"error,omitempty"`
	Cause              string                 `json:"cause,omitempty"`
	StateStatuses      []timeline.StateStatus `json:"stateStatuses"`
	StateStatusesError string                 `json:"stateStatusesError,omitempty"`
	Graph              *graph.Graph           `json:"graph,omitempty"`
	Logs               []tasklogs.Line        `json:"logs"`
	LogsError          string                 `json:"logsError,omitempty"`
	LogsURL            string                 `json:"logsUrl,omitempty"`
	TaskLogs           []tasklogs.Bundle      `json:"taskLogs"`
}

type RunRequest struct {
	Provider   string `json:"provider"`
	WorkflowID string `json:"workflowId"`
	Name       string `json:"name,omitempty"`
	Input      string `json:"input,omitempty"`
}

const (
	RunStarted = "started"
	RunFailed  = "failed"
)

type RunResponse struct {
	RunID   string `json:"runId,omitempty"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func summarize(e stepfunctions.Execution) ExecutionSummary {
	s := ExecutionSummary{
		ARN:       e.ARN,
		Name:      e.Name,
		Status:    e.Status,
		StartTime: timePtr(e.StartTime),
		StopTime:  timePtr(e.StopTime),
		Error:     e.Error,
		Cause:     e.Cause,
	}
	if e.Finished() && !e.StartTime.IsZero() {
		ms := e.Duration().Milliseconds()
		s.DurationMs = &ms
	}
	return s
}

func summarizeAll(executions []stepfunctions.Execution) []ExecutionSummary {
	out := make([]ExecutionSummary, 0, len(executions))
	for _, e := range executions {
		out = append(out, summarize(e))
	}
	return out
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Failed reports whether the response carries no data beyond its error.
func (r OverviewResponse) Failed() bool { return r.Error != "" }

// Failed reports whether the workflow itself could not be loaded. An error
// with the workflow present only concerns its executions.
func (r WorkflowDetail) Failed() bool { return r.Error != "" && r.Name == "" }

// Failed reports whether the execution could not be described. Error also
// carries the execution's own failure, which is data rather than a failure
// of the request.
func (r ExecutionDetail) Failed() bool { return r.Error != "" && r.Status == "" }
