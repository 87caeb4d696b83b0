// Package stepfunctions talks to AWS Step Functions, CloudWatch Logs and ECS
// on behalf of the inspector.
package stepfunctions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	sfntypes "github.com/aws/aws-sdk-go-v2/service/sfn/types"
	"go.uber.org/zap"
)

// Page size caps imposed by the Step Functions API.
const (
	maxListPage    = 1000
	maxHistoryPage = 1000
)

// ErrNotFound is returned when a state machine or execution does not exist.
var ErrNotFound = errors.New("not found")

// SFNAPI is the subset of the Step Functions client the fetcher uses.
type SFNAPI interface {
	ListStateMachines(ctx context.Context, in *sfn.ListStateMachinesInput, optFns ...func(*sfn.Options)) (*sfn.ListStateMachinesOutput, error)
	DescribeStateMachine(ctx context.Context, in *sfn.DescribeStateMachineInput, optFns ...func(*sfn.Options)) (*sfn.DescribeStateMachineOutput, error)
	ListExecutions(ctx context.Context, in *sfn.ListExecutionsInput, optFns ...func(*sfn.Options)) (*sfn.ListExecutionsOutput, error)
	DescribeExecution(ctx context.Context, in *sfn.DescribeExecutionInput, optFns ...func(*sfn.Options)) (*sfn.DescribeExecutionOutput, error)
	GetExecutionHistory(ctx context.Context, in *sfn.GetExecutionHistoryInput, optFns ...func(*sfn.Options)) (*sfn.GetExecutionHistoryOutput, error)
	StartExecution(ctx context.Context, in *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
}

// LogsAPI is the subset of the CloudWatch Logs client the fetcher uses.
type LogsAPI interface {
	FilterLogEvents(ctx context.Context, in *cloudwatchlogs.FilterLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.FilterLogEventsOutput, error)
}

// ECSAPI is the subset of the ECS client the fetcher uses.
type ECSAPI interface {
	DescribeTaskDefinition(ctx context.Context, in *ecs.DescribeTaskDefinitionInput, optFns ...func(*ecs.Options)) (*ecs.DescribeTaskDefinitionOutput, error)
}

type Fetcher struct {
	sfnClient  SFNAPI
	logsClient LogsAPI
	ecsClient  ECSAPI
	region     string
	logger     *zap.Logger
	now        func() time.Time
}

type Option func(*Fetcher)

func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithRegion records the region the clients talk to. NewFetcher sets it
// from the resolved AWS config.
func WithRegion(region string) Option {
	return func(f *Fetcher) { f.region = region }
}

// NewFetcher loads the default AWS config for region and builds the
// service clients. An empty region leaves resolution to the SDK.
func NewFetcher(ctx context.Context, region string, opts ...Option) (*Fetcher, error) {
	var loadOpts []func(*config.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	opts = append([]Option{WithRegion(cfg.Region)}, opts...)
	return New(sfn.NewFromConfig(cfg), cloudwatchlogs.NewFromConfig(cfg), ecs.NewFromConfig(cfg), opts...), nil
}

// New builds a fetcher on top of existing clients. ecsClient may be nil, in
// which case container log lookups fail.
func New(sfnClient SFNAPI, logsClient LogsAPI, ecsClient ECSAPI, opts ...Option) *Fetcher {
	f := &Fetcher{
		sfnClient:  sfnClient,
		logsClient: logsClient,
		ecsClient:  ecsClient,
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fetcher) Region() string { return f.region }

// ListStateMachines lists every state machine with up to executionLimit
// recent executions each. A machine whose executions cannot be loaded is
// still listed, with Error set.
func (f *Fetcher) ListStateMachines(ctx context.Context, executionLimit int) ([]StateMachine, error) {
	stateMachines := []StateMachine{}
	input := &sfn.ListStateMachinesInput{MaxResults: maxListPage}

	paginator := sfn.NewListStateMachinesPaginator(f.sfnClient, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list state machines: %w", err)
		}

		for _, item := range page.StateMachines {
			sm := StateMachine{
				Name:       aws.ToString(item.Name),
				ARN:        aws.ToString(item.StateMachineArn),
				Type:       string(item.Type),
				CreatedAt:  aws.ToTime(item.CreationDate),
				Executions: []Execution{},
			}
			executions, err := f.machineExecutions(ctx, sm, executionLimit)
			if err != nil {
				f.logger.Warn("failed to load executions",
					zap.String("state_machine_arn", sm.ARN), zap.Error(err))
				sm.Error = "Failed to load executions"
			} else {
				sm.Executions = executions
			}
			stateMachines = append(stateMachines, sm)
		}
	}

	return stateMachines, nil
}

// machineExecutions lists executions the way the machine type allows:
// through the API for standard machines, through the execution log for
// express ones.
func (f *Fetcher) machineExecutions(ctx context.Context, sm StateMachine, limit int) ([]Execution, error) {
	if sm.Type != TypeExpress {
		return f.listExecutions(ctx, sm.ARN, limit, false)
	}
	described, err := f.DescribeStateMachine(ctx, sm.ARN)
	if err != nil {
		return nil, err
	}
	return f.expressExecutions(ctx, described, limit)
}

// DescribeStateMachine returns the machine with its definition and logging
// destination.
func (f *Fetcher) DescribeStateMachine(ctx context.Context, arn string) (StateMachine, error) {
	result, err := f.sfnClient.DescribeStateMachine(ctx, &sfn.DescribeStateMachineInput{
		StateMachineArn: aws.String(arn),
	})
	if err != nil {
		var missing *sfntypes.StateMachineDoesNotExist
		if errors.As(err, &missing) {
			return StateMachine{}, fmt.Errorf("state machine %s: %w", arn, ErrNotFound)
		}
		return StateMachine{}, fmt.Errorf("failed to describe state machine %s: %w", arn, err)
	}

	return StateMachine{
		Name:        aws.ToString(result.Name),
		ARN:         aws.ToString(result.StateMachineArn),
		Type:        string(result.Type),
		Status:      string(result.Status),
		RoleARN:     aws.ToString(result.RoleArn),
		CreatedAt:   aws.ToTime(result.CreationDate),
		Definition:  aws.ToString(result.Definition),
		LogGroupARN: logGroupARN(result.LoggingConfiguration),
		Executions:  []Execution{},
	}, nil
}

func logGroupARN(cfg *sfntypes.LoggingConfiguration) string {
	if cfg == nil {
		return ""
	}
	for _, dest := range cfg.Destinations {
		if dest.CloudWatchLogsLogGroup == nil {
			continue
		}
		if arn := aws.ToString(dest.CloudWatchLogsLogGroup.LogGroupArn); arn != "" {
			return arn
		}
	}
	return ""
}

// ListExecutions returns up to limit recent executions of a machine.
// Failure-class executions carry the error and cause of the failure.
func (f *Fetcher) ListExecutions(ctx context.Context, stateMachineARN string, limit int) ([]Execution, error) {
	return f.listExecutions(ctx, stateMachineARN, limit, true)
}

func (f *Fetcher) listExecutions(ctx context.Context, stateMachineARN string, limit int, withCause bool) ([]Execution, error) {
	result, err := f.sfnClient.ListExecutions(ctx, &sfn.ListExecutionsInput{
		StateMachineArn: aws.String(stateMachineARN),
		MaxResults:      int32(max(1, limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	executions := make([]Execution, 0, len(result.Executions))
	for _, item := range result.Executions {
		exec := Execution{
			ARN:             aws.ToString(item.ExecutionArn),
			Name:            aws.ToString(item.Name),
			StateMachineARN: aws.ToString(item.StateMachineArn),
			Status:          string(item.Status),
			StartTime:       aws.ToTime(item.StartDate),
			StopTime:        aws.ToTime(item.StopDate),
		}
		if withCause && isFailure(exec.Status) {
			described, err := f.DescribeExecution(ctx, exec.ARN)
			if err != nil {
				f.logger.Warn("failed to describe execution",
					zap.String("execution_arn", exec.ARN), zap.Error(err))
			} else {
				exec.Error, exec.Cause = described.Error, described.Cause
			}
		}
		executions = append(executions, exec)
	}
	return executions, nil
}

func (f *Fetcher) DescribeExecution(ctx context.Context, arn string) (Execution, error) {
	result, err := f.sfnClient.DescribeExecution(ctx, &sfn.DescribeExecutionInput{
		ExecutionArn: aws.String(arn),
	})
	if err != nil {
		var missing *sfntypes.ExecutionDoesNotExist
		if errors.As(err, &missing) {
			return Execution{}, fmt.Errorf("execution %s: %w", arn, ErrNotFound)
		}
		return Execution{}, fmt.Errorf("failed to describe execution %s: %w", arn, err)
	}
	return Execution{
		ARN:             aws.ToString(result.ExecutionArn),
		Name:            aws.ToString(result.Name),
		StateMachineARN: aws.ToString(result.StateMachineArn),
		Status:          string(result.Status),
		StartTime:       aws.ToTime(result.StartDate),
		StopTime:        aws.ToTime(result.StopDate),
		Error:           aws.ToString(result.Error),
		Cause:           aws.ToString(result.Cause),
	}, nil
}

// StartExecution starts a new execution and returns its ARN. An empty name
// lets Step Functions generate one.
func (f *Fetcher) StartExecution(ctx context.Context, stateMachineARN, name, input string) (string, error) {
	in := &sfn.StartExecutionInput{
		StateMachineArn: aws.String(stateMachineARN),
		Input:           aws.String(input),
	}
	if name != "" {
		in.Name = aws.String(name)
	}
	result, err := f.sfnClient.StartExecution(ctx, in)
	if err != nil {
		return "", fmt.Errorf("failed to start execution of %s: %w", stateMachineARN, err)
	}
	arn := aws.ToString(result.ExecutionArn)
	if arn == "" {
		return "", errors.New("start execution returned no execution ARN")
	}
	return arn, nil
}

func isFailure(status string) bool {
	switch sfntypes.ExecutionStatus(status) {
	case sfntypes.ExecutionStatusFailed, sfntypes.ExecutionStatusTimedOut, sfntypes.ExecutionStatusAborted:
		return true
	}
	return false
}
