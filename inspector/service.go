// Package inspector answers workflow questions by combining the definition
// graph, the execution timeline and task logs into one response.
//
// Responses are always structurally complete. Failures of one part are
// reported in that part's error field and never discard the others; only a
// failure of the first, mandatory lookup fails the whole response.
package inspector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"stepfunction-inspector/internal/cache"
	"stepfunction-inspector/internal/config"
	"stepfunction-inspector/stepfunctions"
	"stepfunction-inspector/stepfunctions/asl"
	"stepfunction-inspector/stepfunctions/graph"
	"stepfunction-inspector/stepfunctions/tasklogs"
	"stepfunction-inspector/stepfunctions/timeline"
)

// ErrNotFound is returned when the requested workflow or execution does not
// exist.
var ErrNotFound = stepfunctions.ErrNotFound

const (
	msgOverviewFailed   = "Failed to load workflow overview"
	msgDetailFailed     = "Failed to load workflow detail"
	msgExecutionFailed  = "Failed to load workflow execution detail"
	msgHistoryFailed    = "Failed to load execution history"
	msgDefinitionFailed = "Failed to load workflow definition"
	msgMalformed        = "Workflow definition could not be parsed"
	msgCancelled        = "Request cancelled"
	msgRunFailed        = "Workflow invocation failed"
	msgNotFound         = "Workflow or execution not found"
)

// Backend is the workflow provider the service reads from.
type Backend interface {
	Region() string
	ListStateMachines(ctx context.Context, executionLimit int) ([]stepfunctions.StateMachine, error)
	DescribeStateMachine(ctx context.Context, arn string) (stepfunctions.StateMachine, error)
	ListExecutions(ctx context.Context, stateMachineARN string, limit int) ([]stepfunctions.Execution, error)
	DescribeExecution(ctx context.Context, arn string) (stepfunctions.Execution, error)
	ExecutionHistory(ctx context.Context, executionARN string, maxEvents int) ([]timeline.Event, error)
	StartExecution(ctx context.Context, stateMachineARN, name, input string) (string, error)
}

type Service struct {
	backend  Backend
	logs     *tasklogs.Correlator
	overview *cache.TTL[OverviewResponse]
	limits   config.Limits
	resolver graph.Resolver
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

type Option func(*Service)

// WithCache injects the overview cache.
func WithCache(c *cache.TTL[OverviewResponse]) Option {
	return func(s *Service) { s.overview = c }
}

func WithLimits(l config.Limits) Option {
	return func(s *Service) { s.limits = l }
}

// WithResolver replaces the task resource resolver used for graphs.
func WithResolver(r graph.Resolver) Option {
	return func(s *Service) { s.resolver = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New builds a service reading from backend. logs must not be nil.
func New(backend Backend, logs *tasklogs.Correlator, opts ...Option) *Service {
	s := &Service{
		backend: backend,
		logs:    logs,
		limits:  config.Default().Limits,
		logger:  zap.NewNop(),
		tracer:  otel.Tracer("stepfunction-inspector/inspector"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.overview == nil {
		s.overview = cache.New[OverviewResponse](cache.DefaultTTL)
	}
	if s.resolver == nil {
		s.resolver = graph.DefaultResolvers(backend.Region())
	}
	s.logger = s.logger.Named("inspector")
	return s
}

// Overview lists workflows with their recent executions. Responses are
// cached per provider and execution limit; refresh skips the cached copy
// but still stores the new response.
func (s *Service) Overview(ctx context.Context, providerName string, limit int, refresh bool) (OverviewResponse, error) {
	provider, reason, err := resolveProvider(providerName)
	executionLimit := s.limits.Executions(limit)
	if err != nil {
		return OverviewResponse{Provider: provider, ExecutionLimit: executionLimit, Error: reason, Workflows: []WorkflowOverview{}}, err
	}

	key := fmt.Sprintf("%s:%d", provider, executionLimit)
	if !refresh {
		if cached, ok := s.overview.Get(key); ok {
			cached.Workflows = slices.Clone(cached.Workflows)
			return cached, nil
		}
	}

	now := s.now()
	resp := OverviewResponse{
		Provider:       provider,
		Region:         s.backend.Region(),
		GeneratedAt:    now,
		ExecutionLimit: executionLimit,
		Workflows:      []WorkflowOverview{},
	}
	machines, err := s.backend.ListStateMachines(ctx, executionLimit)
	if err != nil {
		if ctx.Err() != nil {
			resp.Error = msgCancelled
			return resp, ctx.Err()
		}
		s.logger.Warn("failed to load workflow overview", zap.String("provider", string(provider)), zap.Error(err))
		resp.Error = msgOverviewFailed
		return resp, nil
	}
	for _, sm := range machines {
		resp.Workflows = append(resp.Workflows, WorkflowOverview{
			Provider:   provider,
			ID:         sm.ARN,
			Name:       sm.Name,
			Status:     sm.Status,
			Type:       sm.Type,
			CreatedAt:  timePtr(sm.CreatedAt),
			Error:      sm.Error,
			Executions: summarizeAll(sm.Executions),
		})
	}
	resp.TotalWorkflows = len(resp.Workflows)
	// A backend may swallow cancellation into per-workflow errors.
	if err := ctx.Err(); err != nil {
		resp.Error = msgCancelled
		resp.Workflows = []WorkflowOverview{}
		resp.TotalWorkflows = 0
		return resp, err
	}
	s.overview.Put(key, resp, now)
	resp.Workflows = slices.Clone(resp.Workflows)
	return resp, nil
}

// WorkflowDetail describes one workflow: its definition, graph and recent
// executions.
func (s *Service) WorkflowDetail(ctx context.Context, providerName, workflowID string, limit int) (WorkflowDetail, error) {
	provider, reason, err := resolveProvider(providerName)
	resp := WorkflowDetail{Provider: provider, ID: workflowID, Graph: graph.Empty(), Executions: []ExecutionSummary{}}
	if err != nil {
		resp.Error = reason
		return resp, err
	}
	if strings.TrimSpace(workflowID) == "" {
		resp.Error = "workflowId is required"
		return resp, ErrInvalidArgument
	}

	sm, err := s.backend.DescribeStateMachine(ctx, workflowID)
	if err != nil {
		s.logger.Warn("failed to load workflow detail", zap.String("state_machine_arn", workflowID), zap.Error(err))
		return s.failDetail(resp, err)
	}
	resp.Name = sm.Name
	resp.Status = sm.Status
	resp.Type = sm.Type
	resp.CreatedAt = timePtr(sm.CreatedAt)
	resp.Definition = sm.Definition
	resp.Graph = s.buildGraph(sm)

	executions, err := s.backend.ListExecutions(ctx, workflowID, s.limits.Executions(limit))
	if err != nil {
		s.logger.Warn("failed to list executions", zap.String("state_machine_arn", workflowID), zap.Error(err))
		resp.Error = msgDetailFailed
		return resp, nil
	}
	resp.Executions = summarizeAll(executions)
	return resp, nil
}

func (s *Service) failDetail(resp WorkflowDetail, err error) (WorkflowDetail, error) {
	if errors.Is(err, ErrNotFound) {
		resp.Error = msgNotFound
		return resp, ErrNotFound
	}
	resp.Error = msgDetailFailed
	return resp, nil
}

// buildGraph parses a machine's definition. A malformed definition yields
// an empty graph with Error set.
func (s *Service) buildGraph(sm stepfunctions.StateMachine) graph.Graph {
	def, err := asl.ParseString(sm.Definition)
	if err != nil {
		s.logger.Debug("unparsable definition", zap.String("state_machine_arn", sm.ARN), zap.Error(err))
		g := graph.Empty()
		g.Error = msgMalformed
		return g
	}
	return graph.Build(def, s.resolver)
}

// ExecutionDetail reconstructs one execution. The execution itself must be
// described first; history, definition and logs are then loaded with their
// failures confined to their own fields.
func (s *Service) ExecutionDetail(ctx context.Context, providerName, executionARN string, opts ExecutionOptions) (ExecutionDetail, error) {
	provider, reason, err := resolveProvider(providerName)
	resp := ExecutionDetail{
		Provider:      provider,
		ExecutionARN:  executionARN,
		StateStatuses: []timeline.StateStatus{},
		Logs:          []tasklogs.Line{},
		TaskLogs:      []tasklogs.Bundle{},
	}
	if err != nil {
		resp.Error = reason
		return resp, err
	}
	if strings.TrimSpace(executionARN) == "" {
		resp.Error = "executionArn is required"
		return resp, ErrInvalidArgument
	}
	maxEvents := s.limits.Events(opts.MaxEvents)
	logLimit := s.limits.LogLines(opts.LogLimit)

	ctx, span := s.tracer.Start(ctx, "inspector.ExecutionDetail", trace.WithAttributes(
		attribute.String("execution_arn", executionARN),
		attribute.Bool("include_logs", opts.IncludeLogs),
	))
	defer span.End()

	exec, err := s.backend.DescribeExecution(ctx, executionARN)
	if err != nil {
		s.logger.Warn("failed to load workflow execution detail", zap.String("execution_arn", executionARN), zap.Error(err))
		span.SetStatus(codes.Error, msgExecutionFailed)
		if errors.Is(err, ErrNotFound) {
			resp.Error = msgNotFound
			return resp, ErrNotFound
		}
		resp.Error = msgExecutionFailed
		return resp, nil
	}
	resp.StateMachineARN = exec.StateMachineARN
	resp.Status = exec.Status
	resp.StartTime = timePtr(exec.StartTime)
	resp.StopTime = timePtr(exec.StopTime)
	resp.Error = exec.Error
	resp.Cause = exec.Cause
	if exec.Finished() && !exec.StartTime.IsZero() {
		ms := exec.Duration().Milliseconds()
		resp.DurationMs = &ms
	}

	// History and definition are independent; neither failure cancels the
	// other.
	var (
		events     []timeline.Event
		historyErr error
		machine    stepfunctions.StateMachine
		machineErr error
		g          errgroup.Group
	)
	g.Go(func() error {
		events, historyErr = s.backend.ExecutionHistory(ctx, executionARN, maxEvents)
		return nil
	})
	if opts.IncludeLogs {
		g.Go(func() error {
			machine, machineErr = s.backend.DescribeStateMachine(ctx, exec.StateMachineARN)
			return nil
		})
	}
	_ = g.Wait()

	var tl *timeline.Timeline
	if historyErr != nil {
		s.logger.Warn("failed to load execution history", zap.String("execution_arn", executionARN), zap.Error(historyErr))
		resp.StateStatusesError = msgHistoryFailed
	} else {
		tl = timeline.Reconstruct(events, exec.Status)
		resp.StateStatuses = tl.List()
	}

	if opts.IncludeLogs {
		s.attachLogs(ctx, &resp, exec, tl, machine, machineErr, logLimit)
	}

	if err := ctx.Err(); err != nil {
		return ExecutionDetail{
			Provider:      provider,
			ExecutionARN:  executionARN,
			Error:         msgCancelled,
			StateStatuses: []timeline.StateStatus{},
			Logs:          []tasklogs.Line{},
			TaskLogs:      []tasklogs.Bundle{},
		}, err
	}
	return resp, nil
}

func (s *Service) attachLogs(ctx context.Context, resp *ExecutionDetail, exec stepfunctions.Execution, tl *timeline.Timeline, machine stepfunctions.StateMachine, machineErr error, logLimit int) {
	if machineErr != nil {
		s.logger.Warn("failed to load workflow definition",
			zap.String("state_machine_arn", exec.StateMachineARN), zap.Error(machineErr))
		g := graph.Empty()
		g.Error = msgDefinitionFailed
		resp.Graph = &g
		resp.LogsError = msgDefinitionFailed
		return
	}
	g := s.buildGraph(machine)
	resp.Graph = &g

	var (
		execLogs tasklogs.ExecutionLogs
		bundles  []tasklogs.Bundle
		group    errgroup.Group
	)
	group.Go(func() error {
		execLogs = s.logs.ExecutionLogs(ctx, machine.LogGroupARN, exec.ARN, exec.StartTime, exec.StopTime, logLimit)
		return nil
	})
	group.Go(func() error {
		bundles = s.logs.Correlate(ctx, tasklogs.Request{
			Nodes:          g.Nodes,
			Timeline:       tl,
			ExecutionStart: exec.StartTime,
			ExecutionStop:  exec.StopTime,
			Budget:         logLimit,
		})
		return nil
	})
	_ = group.Wait()

	resp.Logs = execLogs.Entries
	resp.LogsError = execLogs.Error
	resp.LogsURL = execLogs.Link
	resp.TaskLogs = bundles
}

// Run starts a new execution of a workflow. Empty input sends a default
// payload naming a manual run.
func (s *Service) Run(ctx context.Context, req RunRequest) (RunResponse, error) {
	_, reason, err := resolveProvider(req.Provider)
	if err != nil {
		return RunResponse{Status: RunFailed, Message: reason}, err
	}
	if strings.TrimSpace(req.WorkflowID) == "" {
		return RunResponse{Status: RunFailed, Message: "workflowId is required"}, ErrInvalidArgument
	}

	input := req.Input
	if strings.TrimSpace(input) == "" {
		payload, err := json.Marshal(map[string]string{"reason": "manual run"})
		if err != nil {
			return RunResponse{Status: RunFailed, Message: "Failed to serialize workflow payload"}, err
		}
		input = string(payload)
	}

	runID, err := s.backend.StartExecution(ctx, req.WorkflowID, req.Name, input)
	if err != nil {
		s.logger.Warn("failed to start workflow", zap.String("state_machine_arn", req.WorkflowID), zap.Error(err))
		return RunResponse{Status: RunFailed, Message: msgRunFailed}, fmt.Errorf("start %s: %w", req.WorkflowID, err)
	}
	return RunResponse{RunID: runID, Status: RunStarted}, nil
}
