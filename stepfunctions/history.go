package stepfunctions

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	sfntypes "github.com/aws/aws-sdk-go-v2/service/sfn/types"

	"stepfunction-inspector/stepfunctions/asl"
	"stepfunction-inspector/stepfunctions/timeline"
)

// ExecutionHistory returns up to maxEvents history events of an execution,
// oldest first, converted to timeline events. Events that do not describe a
// state entry or exit are returned as EventUnknown so the caller sees the
// full, truncated stream.
func (f *Fetcher) ExecutionHistory(ctx context.Context, executionARN string, maxEvents int) ([]timeline.Event, error) {
	events := []timeline.Event{}
	var nextToken *string
	for {
		remaining := maxEvents - len(events)
		if remaining <= 0 {
			break
		}
		page, err := f.sfnClient.GetExecutionHistory(ctx, &sfn.GetExecutionHistoryInput{
			ExecutionArn: aws.String(executionARN),
			MaxResults:   int32(min(remaining, maxHistoryPage)),
			NextToken:    nextToken,
			ReverseOrder: false,
			// Inputs and outputs are not needed to replay state transitions.
			IncludeExecutionData: aws.Bool(false),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get execution history for %s: %w", executionARN, err)
		}
		for _, ev := range page.Events {
			if len(events) == maxEvents {
				break
			}
			events = append(events, convertHistoryEvent(ev))
		}
		nextToken = page.NextToken
		if nextToken == nil {
			break
		}
	}
	return events, nil
}

// convertHistoryEvent maps "<Kind>StateEntered" and "<Kind>StateExited"
// events onto timeline events.
func convertHistoryEvent(ev sfntypes.HistoryEvent) timeline.Event {
	out := timeline.Event{Timestamp: aws.ToTime(ev.Timestamp)}
	typ := string(ev.Type)

	if kind, ok := strings.CutSuffix(typ, "StateEntered"); ok && ev.StateEnteredEventDetails != nil {
		out.Kind = timeline.EventEntered
		out.StateType = asl.StateType(kind)
		out.StateName = aws.ToString(ev.StateEnteredEventDetails.Name)
		return out
	}
	if kind, ok := strings.CutSuffix(typ, "StateExited"); ok && ev.StateExitedEventDetails != nil {
		out.Kind = timeline.EventExited
		out.StateType = asl.StateType(kind)
		out.StateName = aws.ToString(ev.StateExitedEventDetails.Name)
		return out
	}
	out.Kind = timeline.EventUnknown
	return out
}
