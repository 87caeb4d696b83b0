package tasklogs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"stepfunction-inspector/stepfunctions/graph"
	"stepfunction-inspector/stepfunctions/timeline"
)

const instrumentationName = "stepfunction-inspector/tasklogs"

const (
	msgNoFunctionGroup  = "No Lambda log group found"
	msgNoContainerGroup = "No ECS log configuration found"
	msgUnsupported      = "Unsupported resource type"
	msgFetchFailed      = "Failed to fetch logs"
	msgNoExecutionGroup = "No CloudWatch Logs group configured"
)

// Correlator fetches the logs of task nodes. It is safe for concurrent use.
type Correlator struct {
	querier     Querier
	containers  ContainerLocator
	region      string
	padding     time.Duration
	concurrency int
	limiter     *rate.Limiter
	logger      *zap.Logger
	tracer      trace.Tracer
	queries     metric.Int64Counter
}

type Option func(*Correlator)

// WithContainerLocator enables log lookup for container tasks.
func WithContainerLocator(l ContainerLocator) Option {
	return func(c *Correlator) { c.containers = l }
}

// WithRegion sets the region used in console links when a locator does not
// carry its own.
func WithRegion(region string) Option {
	return func(c *Correlator) { c.region = region }
}

func WithPadding(d time.Duration) Option {
	return func(c *Correlator) {
		if d >= 0 {
			c.padding = d
		}
	}
}

// WithConcurrency bounds the number of log queries in flight.
func WithConcurrency(n int) Option {
	return func(c *Correlator) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithRateLimit throttles log queries to perSecond, allowing bursts of
// burst. A non-positive rate disables throttling.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Correlator) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), max(1, burst))
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Correlator) {
		if l != nil {
			c.logger = l
		}
	}
}

func New(querier Querier, opts ...Option) *Correlator {
	c := &Correlator{
		querier:     querier,
		padding:     DefaultPadding,
		concurrency: 4,
		logger:      zap.NewNop(),
		tracer:      otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("tasklogs")

	counter, err := otel.Meter(instrumentationName).Int64Counter("tasklogs.queries",
		metric.WithDescription("Log queries issued for task nodes"))
	if err != nil {
		c.logger.Warn("failed to create query counter", zap.Error(err))
	}
	c.queries = counter
	return c
}

// Request describes one correlation run.
type Request struct {
	Nodes          []graph.Node
	Timeline       *timeline.Timeline
	ExecutionStart time.Time
	ExecutionStop  time.Time
	// Budget is the total number of lines shared by all task nodes.
	Budget int
}

// Correlate returns one bundle per task node of req, in node order. Nodes
// without a resolved resource are skipped. Every failure is confined to the
// bundle of the node it happened for.
func (c *Correlator) Correlate(ctx context.Context, req Request) []Bundle {
	tasks := make([]graph.Node, 0, len(req.Nodes))
	for _, n := range req.Nodes {
		if n.IsTask() {
			tasks = append(tasks, n)
		}
	}
	bundles := make([]Bundle, len(tasks))
	if len(tasks) == 0 {
		return bundles
	}
	limit := PerNodeBudget(req.Budget, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, node := range tasks {
		g.Go(func() error {
			bundles[i] = c.bundle(gctx, node, req, limit)
			return nil
		})
	}
	_ = g.Wait()
	return bundles
}

func (c *Correlator) bundle(ctx context.Context, node graph.Node, req Request, limit int) Bundle {
	b := Bundle{
		StateName:    node.ID,
		ResourceKind: node.ResourceKind,
		Resource:     node.Resource,
		ResourceLink: node.ResourceLink,
		LaunchType:   node.LaunchType,
		Limit:        limit,
		Entries:      []Line{},
	}
	var status *timeline.StateStatus
	if s, ok := req.Timeline.Get(node.ID); ok {
		b.Status = s.Status
		status = &s
	}
	start, end := Window(status, req.ExecutionStart, req.ExecutionStop, c.padding)

	ctx, span := c.tracer.Start(ctx, "tasklogs.query", trace.WithAttributes(
		attribute.String("state", node.ID),
		attribute.String("resource.kind", node.ResourceKind),
	))
	defer span.End()

	loc, err := c.locate(ctx, node)
	if err != nil {
		b.Error = reason(err)
		c.count(ctx, node.ResourceKind, "unresolved")
		span.SetStatus(codes.Error, b.Error)
		c.logger.Debug("log location unresolved",
			zap.String("state", node.ID), zap.String("resource", node.Resource), zap.Error(err))
		return b
	}
	b.LogGroup = loc.Group
	b.LogStream = loc.StreamPrefix
	b.LogQueryLink = ConsoleURL(c.regionFor(loc), loc.Group, start, end, "", loc.StreamPrefix)

	lines, err := c.query(ctx, Query{
		Group:        loc.Group,
		StreamPrefix: loc.StreamPrefix,
		Start:        start,
		End:          end,
		Limit:        limit,
	})
	if err != nil {
		b.Error = msgFetchFailed
		c.count(ctx, node.ResourceKind, "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, msgFetchFailed)
		c.logger.Warn("failed to fetch task logs",
			zap.String("state", node.ID), zap.String("log_group", loc.Group), zap.Error(err))
		return b
	}
	if len(lines) > limit {
		lines = lines[:limit]
	}
	b.Entries = lines
	c.count(ctx, node.ResourceKind, "ok")
	span.SetAttributes(attribute.Int("lines", len(lines)))
	return b
}

// locateError carries the user-facing reason a log location is missing.
type locateError struct {
	reason string
	err    error
}

func (e *locateError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.reason, e.err)
	}
	return e.reason
}

func (e *locateError) Unwrap() []error {
	if e.err != nil {
		return []error{ErrUnresolvedLogLocation, e.err}
	}
	return []error{ErrUnresolvedLogLocation}
}

func reason(err error) string {
	var le *locateError
	if errors.As(err, &le) {
		return le.reason
	}
	return err.Error()
}

func (c *Correlator) locate(ctx context.Context, node graph.Node) (Locator, error) {
	switch node.ResourceKind {
	case graph.KindFunction:
		group := FunctionLogGroup(graph.FunctionName(node.Resource))
		if group == "" {
			return Locator{}, &locateError{reason: msgNoFunctionGroup}
		}
		return Locator{Group: group}, nil
	case graph.KindContainerTask:
		if c.containers == nil {
			return Locator{}, &locateError{reason: msgNoContainerGroup}
		}
		loc, err := c.containers.ContainerLogLocator(ctx, node.Resource)
		if err != nil {
			return Locator{}, &locateError{reason: msgNoContainerGroup, err: err}
		}
		if loc.Group == "" {
			return Locator{}, &locateError{reason: msgNoContainerGroup}
		}
		return loc, nil
	default:
		return Locator{}, &locateError{reason: msgUnsupported}
	}
}

func (c *Correlator) query(ctx context.Context, q Query) ([]Line, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return c.querier.FilterLogs(ctx, q)
}

func (c *Correlator) regionFor(loc Locator) string {
	if loc.Region != "" {
		return loc.Region
	}
	return c.region
}

func (c *Correlator) count(ctx context.Context, kind, outcome string) {
	if c.queries == nil {
		return
	}
	c.queries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("resource_kind", kind),
		attribute.String("outcome", outcome),
	))
}

// ExecutionLogs fetches the entries an execution wrote to its state
// machine's log group, identified by groupARN. Entries are matched on the
// execution ARN within [start, stop].
func (c *Correlator) ExecutionLogs(ctx context.Context, groupARN, executionARN string, start, stop time.Time, limit int) ExecutionLogs {
	out := ExecutionLogs{Entries: []Line{}}
	group := LogGroupFromARN(groupARN)
	if group == "" {
		out.Error = msgNoExecutionGroup
		return out
	}
	pattern := fmt.Sprintf("%q", executionARN)
	out.Link = ConsoleURL(c.region, group, start, stop, pattern, "")

	ctx, span := c.tracer.Start(ctx, "tasklogs.execution", trace.WithAttributes(
		attribute.String("log_group", group),
	))
	defer span.End()

	lines, err := c.query(ctx, Query{
		Group:         group,
		FilterPattern: pattern,
		Start:         start,
		End:           stop,
		Limit:         max(1, limit),
	})
	if err != nil {
		out.Error = msgFetchFailed
		c.count(ctx, "execution", "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, msgFetchFailed)
		c.logger.Warn("failed to fetch execution logs", zap.String("log_group", group), zap.Error(err))
		return out
	}
	if limit > 0 && len(lines) > limit {
		lines = lines[:limit]
	}
	out.Entries = lines
	c.count(ctx, "execution", "ok")
	return out
}
