package stepfunctions

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	logtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	sfntypes "github.com/aws/aws-sdk-go-v2/service/sfn/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"stepfunction-inspector/stepfunctions/asl"
	"stepfunction-inspector/stepfunctions/tasklogs"
	"stepfunction-inspector/stepfunctions/timeline"
)

const (
	standardARN = "arn:aws:states:us-east-1:123456789012:stateMachine:orders"
	expressARN  = "arn:aws:states:us-east-1:123456789012:stateMachine:clicks"
	brokenARN   = "arn:aws:states:us-east-1:123456789012:stateMachine:broken"
	groupARN    = "arn:aws:logs:us-east-1:123456789012:log-group:/aws/vendedlogs/states/clicks:*"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeSFN struct {
	machines       []sfntypes.StateMachineListItem
	described      map[string]*sfn.DescribeStateMachineOutput
	executions     map[string][]sfntypes.ExecutionListItem
	listErr        map[string]error
	executionInfo  map[string]*sfn.DescribeExecutionOutput
	history        []sfntypes.HistoryEvent
	historyPages   []*sfn.GetExecutionHistoryInput
	started        *sfn.StartExecutionInput
	listExecInputs []*sfn.ListExecutionsInput
	missing        bool
}

func (f *fakeSFN) ListStateMachines(_ context.Context, _ *sfn.ListStateMachinesInput, _ ...func(*sfn.Options)) (*sfn.ListStateMachinesOutput, error) {
	return &sfn.ListStateMachinesOutput{StateMachines: f.machines}, nil
}

func (f *fakeSFN) DescribeStateMachine(_ context.Context, in *sfn.DescribeStateMachineInput, _ ...func(*sfn.Options)) (*sfn.DescribeStateMachineOutput, error) {
	out, ok := f.described[aws.ToString(in.StateMachineArn)]
	if !ok && f.missing {
		return nil, &sfntypes.StateMachineDoesNotExist{Message: aws.String("State Machine Does Not Exist")}
	}
	if !ok {
		return nil, errors.New("service unavailable")
	}
	return out, nil
}

func (f *fakeSFN) ListExecutions(_ context.Context, in *sfn.ListExecutionsInput, _ ...func(*sfn.Options)) (*sfn.ListExecutionsOutput, error) {
	f.listExecInputs = append(f.listExecInputs, in)
	arn := aws.ToString(in.StateMachineArn)
	if err := f.listErr[arn]; err != nil {
		return nil, err
	}
	return &sfn.ListExecutionsOutput{Executions: f.executions[arn]}, nil
}

func (f *fakeSFN) DescribeExecution(_ context.Context, in *sfn.DescribeExecutionInput, _ ...func(*sfn.Options)) (*sfn.DescribeExecutionOutput, error) {
	out, ok := f.executionInfo[aws.ToString(in.ExecutionArn)]
	if !ok && f.missing {
		return nil, &sfntypes.ExecutionDoesNotExist{Message: aws.String("Execution Does Not Exist")}
	}
	if !ok {
		return nil, errors.New("service unavailable")
	}
	return out, nil
}

// GetExecutionHistory serves f.history in pages of at most MaxResults, using
// the offset as the page token.
func (f *fakeSFN) GetExecutionHistory(_ context.Context, in *sfn.GetExecutionHistoryInput, _ ...func(*sfn.Options)) (*sfn.GetExecutionHistoryOutput, error) {
	f.historyPages = append(f.historyPages, in)
	offset := 0
	if in.NextToken != nil {
		offset = len(aws.ToString(in.NextToken))
	}
	end := min(len(f.history), offset+int(in.MaxResults))
	out := &sfn.GetExecutionHistoryOutput{Events: f.history[offset:end]}
	if end < len(f.history) {
		token := make([]byte, end)
		for i := range token {
			token[i] = 'x'
		}
		out.NextToken = aws.String(string(token))
	}
	return out, nil
}

func (f *fakeSFN) StartExecution(_ context.Context, in *sfn.StartExecutionInput, _ ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error) {
	f.started = in
	return &sfn.StartExecutionOutput{ExecutionArn: aws.String(standardARN + ":run-1")}, nil
}

type fakeLogs struct {
	events []logtypes.FilteredLogEvent
	inputs []*cloudwatchlogs.FilterLogEventsInput
	err    error
}

func (f *fakeLogs) FilterLogEvents(_ context.Context, in *cloudwatchlogs.FilterLogEventsInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.FilterLogEventsOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &cloudwatchlogs.FilterLogEventsOutput{Events: f.events}, nil
}

type fakeECS struct {
	definition *ecstypes.TaskDefinition
}

func (f *fakeECS) DescribeTaskDefinition(_ context.Context, _ *ecs.DescribeTaskDefinitionInput, _ ...func(*ecs.Options)) (*ecs.DescribeTaskDefinitionOutput, error) {
	if f.definition == nil {
		return nil, errors.New("unable to describe task definition")
	}
	return &ecs.DescribeTaskDefinitionOutput{TaskDefinition: f.definition}, nil
}

func logEvent(ts time.Time, message string) logtypes.FilteredLogEvent {
	return logtypes.FilteredLogEvent{Timestamp: aws.Int64(ts.UnixMilli()), Message: aws.String(message)}
}

func TestListStateMachines(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	execARN := "arn:aws:states:us-east-1:123456789012:express:clicks:batch-7:0f1e"
	client := &fakeSFN{
		machines: []sfntypes.StateMachineListItem{
			{Name: aws.String("orders"), StateMachineArn: aws.String(standardARN), Type: sfntypes.StateMachineTypeStandard, CreationDate: aws.Time(t0)},
			{Name: aws.String("clicks"), StateMachineArn: aws.String(expressARN), Type: sfntypes.StateMachineTypeExpress},
			{Name: aws.String("broken"), StateMachineArn: aws.String(brokenARN), Type: sfntypes.StateMachineTypeStandard},
		},
		described: map[string]*sfn.DescribeStateMachineOutput{
			expressARN: {
				Name:            aws.String("clicks"),
				StateMachineArn: aws.String(expressARN),
				Type:            sfntypes.StateMachineTypeExpress,
				LoggingConfiguration: &sfntypes.LoggingConfiguration{Destinations: []sfntypes.LogDestination{
					{CloudWatchLogsLogGroup: &sfntypes.CloudWatchLogsLogGroup{LogGroupArn: aws.String(groupARN)}},
				}},
			},
		},
		executions: map[string][]sfntypes.ExecutionListItem{
			standardARN: {{ExecutionArn: aws.String(standardARN + ":a"), Name: aws.String("a"), Status: sfntypes.ExecutionStatusSucceeded, StartDate: aws.Time(t0), StopDate: aws.Time(t0.Add(time.Minute))}},
		},
		listErr: map[string]error{brokenARN: errors.New("access denied")},
	}
	logsClient := &fakeLogs{events: []logtypes.FilteredLogEvent{
		logEvent(t0, `{"type":"ExecutionStarted","execution_arn":"`+execARN+`","event_timestamp":"`+strconv.FormatInt(t0.UnixMilli(), 10)+`"}`),
		logEvent(t0.Add(3*time.Second), `{"type":"ExecutionFailed","execution_arn":"`+execARN+`"}`),
		logEvent(t0, `not json`),
	}}

	f := New(client, logsClient, nil, WithLogger(zap.New(core)))
	f.now = func() time.Time { return t0.Add(time.Hour) }

	machines, err := f.ListStateMachines(context.Background(), 15)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(machines) != 3 {
		t.Fatalf("expected 3 machines, got %d", len(machines))
	}

	orders := machines[0]
	if orders.Error != "" || len(orders.Executions) != 1 || orders.Executions[0].Duration() != time.Minute {
		t.Fatalf("unexpected standard machine %+v", orders)
	}
	if in := client.listExecInputs[0]; in.MaxResults != 15 {
		t.Fatalf("expected execution limit 15, got %d", in.MaxResults)
	}

	clicks := machines[1]
	if len(clicks.Executions) != 1 {
		t.Fatalf("expected one express execution, got %+v", clicks.Executions)
	}
	exec := clicks.Executions[0]
	if exec.Status != "FAILED" || exec.Name != "batch-7" || !exec.StartTime.Equal(t0) || exec.Duration() != 3*time.Second {
		t.Fatalf("unexpected express execution %+v", exec)
	}
	if group := aws.ToString(logsClient.inputs[0].LogGroupName); group != "/aws/vendedlogs/states/clicks" {
		t.Fatalf("unexpected log group %q", group)
	}
	if start := aws.ToInt64(logsClient.inputs[0].StartTime); start != t0.Add(-23*time.Hour).UnixMilli() {
		t.Fatalf("unexpected lookback start %d", start)
	}

	broken := machines[2]
	if broken.Error != "Failed to load executions" || broken.Executions == nil || len(broken.Executions) != 0 {
		t.Fatalf("unexpected broken machine %+v", broken)
	}
	if logs.FilterMessage("failed to load executions").Len() != 1 {
		t.Fatalf("expected a warning for the broken machine")
	}
}

func TestListExecutionsEnrichesFailures(t *testing.T) {
	failedARN := standardARN + ":b"
	client := &fakeSFN{
		executions: map[string][]sfntypes.ExecutionListItem{
			standardARN: {
				{ExecutionArn: aws.String(failedARN), Status: sfntypes.ExecutionStatusFailed, StartDate: aws.Time(t0)},
				{ExecutionArn: aws.String(standardARN + ":c"), Status: sfntypes.ExecutionStatusRunning, StartDate: aws.Time(t0)},
			},
		},
		executionInfo: map[string]*sfn.DescribeExecutionOutput{
			failedARN: {ExecutionArn: aws.String(failedARN), Error: aws.String("States.TaskFailed"), Cause: aws.String("boom")},
		},
	}
	executions, err := New(client, &fakeLogs{}, nil).ListExecutions(context.Background(), standardARN, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if executions[0].Error != "States.TaskFailed" || executions[0].Cause != "boom" {
		t.Fatalf("expected failure details, got %+v", executions[0])
	}
	if executions[1].Error != "" || executions[1].Finished() {
		t.Fatalf("unexpected running execution %+v", executions[1])
	}
}

func TestDescribeStateMachine(t *testing.T) {
	client := &fakeSFN{described: map[string]*sfn.DescribeStateMachineOutput{
		standardARN: {
			Name:            aws.String("orders"),
			StateMachineArn: aws.String(standardARN),
			Definition:      aws.String(`{"StartAt":"A","States":{"A":{"Type":"Pass","End":true}}}`),
			Status:          sfntypes.StateMachineStatusActive,
			LoggingConfiguration: &sfntypes.LoggingConfiguration{Destinations: []sfntypes.LogDestination{
				{},
				{CloudWatchLogsLogGroup: &sfntypes.CloudWatchLogsLogGroup{LogGroupArn: aws.String(groupARN)}},
			}},
		},
	}}
	f := New(client, &fakeLogs{}, nil)

	sm, err := f.DescribeStateMachine(context.Background(), standardARN)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sm.LogGroupARN != groupARN || sm.Status != "ACTIVE" || sm.Definition == "" {
		t.Fatalf("unexpected machine %+v", sm)
	}
	if _, err := f.DescribeStateMachine(context.Background(), brokenARN); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected a plain error for a failed describe, got %v", err)
	}

	client.missing = true
	if _, err := f.DescribeStateMachine(context.Background(), brokenARN); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestExecutionHistoryPagesUntilCap(t *testing.T) {
	client := &fakeSFN{}
	for i := 0; i < 1500; i++ {
		client.history = append(client.history, sfntypes.HistoryEvent{
			Type:                     sfntypes.HistoryEventTypePassStateEntered,
			Timestamp:                aws.Time(t0.Add(time.Duration(i) * time.Millisecond)),
			StateEnteredEventDetails: &sfntypes.StateEnteredEventDetails{Name: aws.String("P")},
		})
	}
	f := New(client, &fakeLogs{}, nil)

	events, err := f.ExecutionHistory(context.Background(), standardARN+":a", 1200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1200 {
		t.Fatalf("expected 1200 events, got %d", len(events))
	}
	if len(client.historyPages) != 2 || client.historyPages[0].MaxResults != 1000 || client.historyPages[1].MaxResults != 200 {
		t.Fatalf("unexpected paging %d pages", len(client.historyPages))
	}
	if client.historyPages[0].ReverseOrder {
		t.Fatalf("history must be read oldest first")
	}

	client.historyPages = nil
	events, _ = f.ExecutionHistory(context.Background(), standardARN+":a", 10)
	if len(events) != 10 || len(client.historyPages) != 1 {
		t.Fatalf("expected a single short page, got %d events over %d pages", len(events), len(client.historyPages))
	}
}

func TestConvertHistoryEvent(t *testing.T) {
	entered := convertHistoryEvent(sfntypes.HistoryEvent{
		Type:                     sfntypes.HistoryEventTypeTaskStateEntered,
		Timestamp:                aws.Time(t0),
		StateEnteredEventDetails: &sfntypes.StateEnteredEventDetails{Name: aws.String("Fetch")},
	})
	if entered.Kind != timeline.EventEntered || entered.StateType != asl.TypeTask || entered.StateName != "Fetch" || !entered.Timestamp.Equal(t0) {
		t.Fatalf("unexpected entered event %+v", entered)
	}

	exited := convertHistoryEvent(sfntypes.HistoryEvent{
		Type:                    sfntypes.HistoryEventTypeMapStateExited,
		StateExitedEventDetails: &sfntypes.StateExitedEventDetails{Name: aws.String("Each")},
	})
	if exited.Kind != timeline.EventExited || exited.StateType != asl.TypeMap || exited.StateName != "Each" {
		t.Fatalf("unexpected exited event %+v", exited)
	}

	other := convertHistoryEvent(sfntypes.HistoryEvent{Type: sfntypes.HistoryEventTypeLambdaFunctionFailed})
	if other.Kind != timeline.EventUnknown {
		t.Fatalf("expected unknown event, got %+v", other)
	}
}

func TestStartExecution(t *testing.T) {
	client := &fakeSFN{}
	f := New(client, &fakeLogs{}, nil)

	arn, err := f.StartExecution(context.Background(), standardARN, "", `{"k":1}`)
	if err != nil || arn != standardARN+":run-1" {
		t.Fatalf("unexpected result %q, %v", arn, err)
	}
	if client.started.Name != nil || aws.ToString(client.started.Input) != `{"k":1}` {
		t.Fatalf("unexpected start input %+v", client.started)
	}

	_, _ = f.StartExecution(context.Background(), standardARN, "nightly", "{}")
	if aws.ToString(client.started.Name) != "nightly" {
		t.Fatalf("expected execution name to be sent")
	}
}

func TestFilterLogs(t *testing.T) {
	logsClient := &fakeLogs{events: []logtypes.FilteredLogEvent{logEvent(t0, "hello")}}
	f := New(&fakeSFN{}, logsClient, nil)

	lines, err := f.FilterLogs(context.Background(), tasklogs.Query{
		Group:        "/ecs/render",
		StreamPrefix: "render",
		Start:        t0,
		Limit:        25,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lines) != 1 || lines[0].Message != "hello" || !lines[0].Timestamp.Equal(t0) {
		t.Fatalf("unexpected lines %+v", lines)
	}
	in := logsClient.inputs[0]
	if aws.ToInt32(in.Limit) != 25 || aws.ToString(in.LogStreamNamePrefix) != "render" || in.EndTime != nil || in.FilterPattern != nil {
		t.Fatalf("unexpected input %+v", in)
	}

	logsClient.err = errors.New("throttled")
	if _, err := f.FilterLogs(context.Background(), tasklogs.Query{Group: "/ecs/render"}); err == nil {
		t.Fatalf("expected an error")
	}
}

func TestContainerLogLocator(t *testing.T) {
	ecsClient := &fakeECS{definition: &ecstypes.TaskDefinition{ContainerDefinitions: []ecstypes.ContainerDefinition{
		{Name: aws.String("sidecar")},
		{Name: aws.String("app"), LogConfiguration: &ecstypes.LogConfiguration{
			LogDriver: ecstypes.LogDriverAwslogs,
			Options: map[string]string{
				"awslogs-group":         "/ecs/render",
				"awslogs-stream-prefix": "render",
				"awslogs-region":        "eu-west-1",
			},
		}},
	}}}
	f := New(&fakeSFN{}, &fakeLogs{}, ecsClient)

	loc, err := f.ContainerLogLocator(context.Background(), "render:4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loc.Group != "/ecs/render" || loc.StreamPrefix != "render" || loc.Region != "eu-west-1" {
		t.Fatalf("unexpected locator %+v", loc)
	}

	ecsClient.definition = &ecstypes.TaskDefinition{}
	if loc, err := f.ContainerLogLocator(context.Background(), "plain:1"); err != nil || loc.Group != "" {
		t.Fatalf("expected empty locator, got %+v, %v", loc, err)
	}

	if _, err := New(&fakeSFN{}, &fakeLogs{}, nil).ContainerLogLocator(context.Background(), "x"); err == nil {
		t.Fatalf("expected an error without an ECS client")
	}
}

func TestExecutionName(t *testing.T) {
	tests := map[string]string{
		"arn:aws:states:us-east-1:1:execution:orders:run-1":      "run-1",
		"arn:aws:states:us-east-1:1:express:clicks:batch-7:0f1e": "batch-7",
		"not-an-arn": "not-an-arn",
	}
	for in, want := range tests {
		if got := executionName(in); got != want {
			t.Errorf("executionName(%q) = %q, want %q", in, got, want)
		}
	}
}
