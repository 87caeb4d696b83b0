package cli

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"stepfunction-inspector/inspector"
	"stepfunction-inspector/internal/config"
	"stepfunction-inspector/internal/httpserver"
	"stepfunction-inspector/internal/logging"
	"stepfunction-inspector/internal/telemetry"
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the inspector over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			server := fx.New(a.serverOptions())
			if err := server.Err(); err != nil {
				return err
			}
			server.Run()
			return nil
		},
	}
}

// serverOptions assembles the HTTP server application. Flags given on the
// command line win over the config file.
func (a *app) serverOptions() fx.Option {
	return fx.Options(
		config.Module(a.configPath),
		fx.Decorate(a.applyFlags),
		logging.Module(),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
		telemetry.Module(),
		fx.Provide(
			func(cfg config.Config, logger *zap.Logger) (Backend, error) {
				return a.newBackend(context.Background(), cfg, logger)
			},
			func(cfg config.Config, logger *zap.Logger, backend Backend) *inspector.Service {
				return newService(cfg, logger, backend)
			},
		),
		httpserver.Module(),
	)
}
