package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stepfunction-inspector/inspector"
	"stepfunction-inspector/internal/cache"
	"stepfunction-inspector/internal/config"
	"stepfunction-inspector/internal/logging"
	"stepfunction-inspector/stepfunctions"
	"stepfunction-inspector/stepfunctions/graph"
	"stepfunction-inspector/stepfunctions/tasklogs"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

// Backend is everything the commands need from a workflow provider.
type Backend interface {
	inspector.Backend
	tasklogs.Querier
	tasklogs.ContainerLocator
}

// BackendFactory connects to the provider described by cfg.
type BackendFactory func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Backend, error)

type app struct {
	configPath string
	region     string
	provider   string
	output     string
	outputDir  string

	cfg        config.Config
	logger     *zap.Logger
	newBackend BackendFactory
}

func NewRootCommand() *cobra.Command {
	return newRootCommand(connectAWS)
}

func newRootCommand(factory BackendFactory) *cobra.Command {
	a := &app{newBackend: factory}

	cmd := &cobra.Command{
		Use:          "stepfunction-inspector",
		Short:        "Inspect Step Functions workflows, execution timelines and task logs",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "config.yaml", "Path to config file")
	flags.StringVar(&a.region, "region", "", "AWS region (overrides config)")
	flags.StringVar(&a.provider, "provider", "", "Workflow provider (overrides config)")
	flags.StringVarP(&a.output, "output", "o", outputTable, "Output format: table or json")
	flags.StringVar(&a.outputDir, "output-dir", "", "Directory to also save results to as JSON")

	cmd.AddCommand(
		newListCommand(a),
		newGraphCommand(a),
		newExecutionCommand(a),
		newValidateCommand(a),
		newRunCommand(a),
		newServeCommand(a),
	)
	return cmd
}

func (a *app) init() error {
	switch a.output {
	case outputTable, outputJSON:
	default:
		return fmt.Errorf("unsupported output format %q", a.output)
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a.cfg = a.applyFlags(cfg)

	logger, err := logging.New(a.cfg.Logging.Level, a.cfg.Logging.Format)
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

// applyFlags layers command-line overrides on top of cfg.
func (a *app) applyFlags(cfg config.Config) config.Config {
	if v := strings.TrimSpace(a.region); v != "" {
		cfg.Region = v
	}
	if v := strings.TrimSpace(a.provider); v != "" {
		cfg.Provider = v
	}
	return cfg
}

// service wires a backend into an inspector service.
func (a *app) service(ctx context.Context) (*inspector.Service, error) {
	backend, err := a.newBackend(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	return newService(a.cfg, a.logger, backend), nil
}

func connectAWS(ctx context.Context, cfg config.Config, logger *zap.Logger) (Backend, error) {
	fetcher, err := stepfunctions.NewFetcher(ctx, cfg.Region, stepfunctions.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return fetcher, nil
}

func newCorrelator(cfg config.Config, logger *zap.Logger, backend Backend) *tasklogs.Correlator {
	return tasklogs.New(backend,
		tasklogs.WithContainerLocator(backend),
		tasklogs.WithRegion(backend.Region()),
		tasklogs.WithPadding(cfg.Logs.Padding),
		tasklogs.WithConcurrency(cfg.Logs.Concurrency),
		tasklogs.WithRateLimit(cfg.Logs.RatePerSecond, cfg.Logs.Burst),
		tasklogs.WithLogger(logger),
	)
}

func newService(cfg config.Config, logger *zap.Logger, backend Backend) *inspector.Service {
	return inspector.New(backend, newCorrelator(cfg, logger, backend),
		inspector.WithCache(cache.New[inspector.OverviewResponse](cfg.Cache.TTL)),
		inspector.WithLimits(cfg.Limits),
		inspector.WithResolver(graph.DefaultResolvers(backend.Region())),
		inspector.WithLogger(logger),
	)
}
