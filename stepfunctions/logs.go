package stepfunctions

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"go.uber.org/zap"

	"stepfunction-inspector/stepfunctions/tasklogs"
)

// expressLookback is how far back express executions are searched for in
// the machine's execution log.
const expressLookback = 24 * time.Hour

const expressFilterPattern = `{ $.type = "ExecutionStarted" || $.type = "ExecutionSucceeded" || $.type = "ExecutionFailed" || $.type = "ExecutionTimedOut" || $.type = "ExecutionAborted" }`

// FilterLogs runs a single bounded FilterLogEvents call.
func (f *Fetcher) FilterLogs(ctx context.Context, q tasklogs.Query) ([]tasklogs.Line, error) {
	input := &cloudwatchlogs.FilterLogEventsInput{
		LogGroupName: aws.String(q.Group),
	}
	if q.Limit > 0 {
		input.Limit = aws.Int32(int32(q.Limit))
	}
	if !q.Start.IsZero() {
		input.StartTime = aws.Int64(q.Start.UnixMilli())
	}
	if !q.End.IsZero() {
		input.EndTime = aws.Int64(q.End.UnixMilli())
	}
	if q.StreamPrefix != "" {
		input.LogStreamNamePrefix = aws.String(q.StreamPrefix)
	}
	if q.FilterPattern != "" {
		input.FilterPattern = aws.String(q.FilterPattern)
	}

	result, err := f.logsClient.FilterLogEvents(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to filter log events in %s: %w", q.Group, err)
	}
	lines := make([]tasklogs.Line, 0, len(result.Events))
	for _, event := range result.Events {
		lines = append(lines, tasklogs.Line{
			Timestamp: time.UnixMilli(aws.ToInt64(event.Timestamp)).UTC(),
			Message:   aws.ToString(event.Message),
		})
	}
	return lines, nil
}

// ContainerLogLocator reads the awslogs driver options of a task
// definition. The first container with a log group wins. A task definition
// without one yields a zero Locator.
func (f *Fetcher) ContainerLogLocator(ctx context.Context, taskDefinition string) (tasklogs.Locator, error) {
	if f.ecsClient == nil {
		return tasklogs.Locator{}, errors.New("ECS client not configured")
	}
	result, err := f.ecsClient.DescribeTaskDefinition(ctx, &ecs.DescribeTaskDefinitionInput{
		TaskDefinition: aws.String(taskDefinition),
	})
	if err != nil {
		return tasklogs.Locator{}, fmt.Errorf("failed to describe task definition %s: %w", taskDefinition, err)
	}
	if result.TaskDefinition == nil {
		return tasklogs.Locator{}, nil
	}
	for _, container := range result.TaskDefinition.ContainerDefinitions {
		if container.LogConfiguration == nil {
			continue
		}
		opts := container.LogConfiguration.Options
		if group := opts["awslogs-group"]; group != "" {
			return tasklogs.Locator{
				Group:        group,
				StreamPrefix: opts["awslogs-stream-prefix"],
				Region:       opts["awslogs-region"],
			}, nil
		}
	}
	return tasklogs.Locator{}, nil
}

// expressLogEvent covers the fields of a Step Functions execution log
// record that identify an execution transition.
type expressLogEvent struct {
	Type           string      `json:"type"`
	ExecutionARN   string      `json:"execution_arn"`
	EventTimestamp json.Number `json:"event_timestamp"`
}

// expressExecutions rebuilds recent executions of an express machine from
// its execution log, since express executions are not listed by the API.
func (f *Fetcher) expressExecutions(ctx context.Context, sm StateMachine, limit int) ([]Execution, error) {
	if sm.LogGroupARN == "" {
		return nil, fmt.Errorf("logging not enabled for express workflow %s", sm.Name)
	}
	logGroupName := tasklogs.LogGroupFromARN(sm.LogGroupARN)
	if logGroupName == "" {
		return nil, fmt.Errorf("no CloudWatch log group configured for %s", sm.Name)
	}
	f.logger.Debug("querying execution log for express workflow",
		zap.String("log_group", logGroupName), zap.String("state_machine", sm.Name))

	result, err := f.logsClient.FilterLogEvents(ctx, &cloudwatchlogs.FilterLogEventsInput{
		LogGroupName:  aws.String(logGroupName),
		FilterPattern: aws.String(expressFilterPattern),
		StartTime:     aws.Int64(f.now().Add(-expressLookback).UnixMilli()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query CloudWatch Logs for %s: %w", sm.Name, err)
	}

	byARN := map[string]*Execution{}
	for _, event := range result.Events {
		var record expressLogEvent
		if err := json.Unmarshal([]byte(aws.ToString(event.Message)), &record); err != nil {
			f.logger.Debug("skipping unparsable execution log event",
				zap.String("state_machine", sm.Name), zap.Error(err))
			continue
		}
		if record.ExecutionARN == "" {
			continue
		}
		ts := time.UnixMilli(aws.ToInt64(event.Timestamp)).UTC()
		if ms, err := strconv.ParseInt(record.EventTimestamp.String(), 10, 64); err == nil {
			ts = time.UnixMilli(ms).UTC()
		}

		exec, seen := byARN[record.ExecutionARN]
		if record.Type == "ExecutionStarted" {
			if !seen {
				exec = &Execution{
					ARN:             record.ExecutionARN,
					Name:            executionName(record.ExecutionARN),
					StateMachineARN: sm.ARN,
					Status:          "RUNNING",
				}
				byARN[record.ExecutionARN] = exec
			}
			exec.StartTime = ts
			continue
		}
		status := terminalStatus(record.Type)
		if status == "" {
			continue
		}
		if !seen {
			exec = &Execution{
				ARN:             record.ExecutionARN,
				Name:            executionName(record.ExecutionARN),
				StateMachineARN: sm.ARN,
			}
			byARN[record.ExecutionARN] = exec
		}
		exec.Status = status
		exec.StopTime = ts
	}

	executions := make([]Execution, 0, len(byARN))
	for _, exec := range byARN {
		executions = append(executions, *exec)
	}
	slices.SortFunc(executions, func(a, b Execution) int {
		if c := b.StartTime.Compare(a.StartTime); c != 0 {
			return c
		}
		return cmp.Compare(a.ARN, b.ARN)
	})
	if limit > 0 && len(executions) > limit {
		executions = executions[:limit]
	}
	return executions, nil
}

func terminalStatus(eventType string) string {
	switch eventType {
	case "ExecutionSucceeded":
		return "SUCCEEDED"
	case "ExecutionFailed":
		return "FAILED"
	case "ExecutionTimedOut":
		return "TIMED_OUT"
	case "ExecutionAborted":
		return "ABORTED"
	}
	return ""
}

// executionName extracts the execution name from a standard
// ("execution:<machine>:<name>") or express
// ("express:<machine>:<name>:<id>") execution ARN.
func executionName(executionARN string) string {
	parsed, err := arn.Parse(executionARN)
	if err != nil {
		return executionARN
	}
	parts := strings.Split(parsed.Resource, ":")
	if len(parts) >= 3 {
		return parts[2]
	}
	return parsed.Resource
}
