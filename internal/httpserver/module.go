package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"stepfunction-inspector/inspector"
	"stepfunction-inspector/internal/config"
)

// Inspector is the query surface the server exposes.
type Inspector interface {
	Overview(ctx context.Context, provider string, limit int, refresh bool) (inspector.OverviewResponse, error)
	WorkflowDetail(ctx context.Context, provider, workflowID string, limit int) (inspector.WorkflowDetail, error)
	ExecutionDetail(ctx context.Context, provider, executionARN string, opts inspector.ExecutionOptions) (inspector.ExecutionDetail, error)
	Run(ctx context.Context, req inspector.RunRequest) (inspector.RunResponse, error)
}

type Server struct {
	cfg    config.Config
	logger *zap.Logger
	svc    Inspector
	srv    *http.Server
}

func Module() fx.Option {
	return fx.Options(
		fx.Provide(func(cfg config.Config, logger *zap.Logger, svc *inspector.Service) *Server {
			return NewServer(cfg, logger, svc)
		}),
		fx.Invoke(RegisterHooks),
	)
}

func NewServer(cfg config.Config, logger *zap.Logger, svc Inspector) *Server {
	s := &Server{cfg: cfg, logger: logger.Named("http"), svc: svc}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/workflows", s.handleOverview)
	mux.HandleFunc("/api/workflows/detail", s.handleWorkflowDetail)
	mux.HandleFunc("/api/workflows/execution", s.handleExecutionDetail)
	mux.HandleFunc("/api/workflows/run", s.handleRun)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(s.withRequestID(mux), "stepfunction-inspector"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func RegisterHooks(lc fx.Lifecycle, server *Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			server.logger.Info("http server starting", zap.String("addr", server.srv.Addr))
			go func() {
				if err := server.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					server.logger.Error("http server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			server.logger.Info("http server stopping")
			return server.srv.Shutdown(shutdownCtx)
		},
	})
}
