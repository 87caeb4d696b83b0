package stepfunctions

import "time"

// Machine types as reported by Step Functions.
const (
	TypeStandard = "STANDARD"
	TypeExpress  = "EXPRESS"
)

// StateMachine represents a Step Functions state machine
type StateMachine struct {
	Name        string      `json:"name"`
	ARN         string      `json:"arn"`
	Type        string      `json:"type,omitempty"`
	Status      string      `json:"status,omitempty"`
	RoleARN     string      `json:"roleArn,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	Definition  string      `json:"definition,omitempty"`
	LogGroupARN string      `json:"logGroupArn,omitempty"`
	Executions  []Execution `json:"executions"`
	// Error is set when the machine was listed but its executions could
	// not be loaded.
	Error string `json:"error,omitempty"`
}

// Execution represents an execution of a state machine
type Execution struct {
	ARN             string    `json:"arn"`
	Name            string    `json:"name,omitempty"`
	StateMachineARN string    `json:"stateMachineArn,omitempty"`
	Status          string    `json:"status,omitempty"`
	StartTime       time.Time `json:"startTime"`
	StopTime        time.Time `json:"stopTime,omitempty"`
	Error           string    `json:"error,omitempty"`
	Cause           string    `json:"cause,omitempty"`
}

// Duration is zero until the execution has stopped.
func (e Execution) Duration() time.Duration {
	if e.StartTime.IsZero() || e.StopTime.IsZero() {
		return 0
	}
	return e.StopTime.Sub(e.StartTime)
}

func (e Execution) Finished() bool { return !e.StopTime.IsZero() }
