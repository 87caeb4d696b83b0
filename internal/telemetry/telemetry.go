package telemetry

import (
	"context"
	"errors"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"stepfunction-inspector/internal/config"
)

// Shutdown flushes and stops the installed providers.
type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

type exporters struct {
	trace  func(ctx context.Context, endpoint string) (trace.SpanExporter, error)
	metric func(ctx context.Context, endpoint string) (metric.Exporter, error)
}

var otlpExporters = exporters{
	trace: func(ctx context.Context, endpoint string) (trace.SpanExporter, error) {
		return otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	},
	metric: func(ctx context.Context, endpoint string) (metric.Exporter, error) {
		return otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(endpoint), otlpmetricgrpc.WithInsecure())
	},
}

var hostDetectors = []resource.Option{
	resource.WithFromEnv(),
	resource.WithProcess(),
	resource.WithHost(),
}

// Init installs OTLP/gRPC trace and metric providers exporting to endpoint.
// With an empty endpoint the global no-op providers are left in place.
func Init(ctx context.Context, serviceName, endpoint string, logger *zap.Logger) (Shutdown, error) {
	return install(ctx, serviceName, endpoint, logger, otlpExporters)
}

func install(ctx context.Context, serviceName, endpoint string, logger *zap.Logger, exp exporters) (Shutdown, error) {
	if endpoint == "" {
		return noop, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	traceExp, err := exp.trace(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	metricExp, err := exp.metric(ctx, endpoint)
	if err != nil {
		return nil, errors.Join(err, traceExp.Shutdown(ctx))
	}

	res, err := newResource(ctx, serviceName, hostDetectors...)
	if err != nil {
		logger.Warn("incomplete telemetry resource", zap.Error(err))
	}

	tp := trace.NewTracerProvider(trace.WithBatcher(traceExp), trace.WithResource(res))
	mp := metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(metricExp, metric.WithInterval(15*time.Second))),
		metric.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return func(ctx context.Context) error {
		return errors.Join(mp.Shutdown(ctx), tp.Shutdown(ctx))
	}, nil
}

// newResource describes this service. Detector failures are returned, but
// the service attributes are always present on the result.
func newResource(ctx context.Context, serviceName string, detectors ...resource.Option) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{attribute.String("service.name", serviceName)}
	if version := os.Getenv("APP_VERSION"); version != "" {
		attrs = append(attrs, attribute.String("service.version", version))
	}
	if instance := os.Getenv("HOSTNAME"); instance != "" {
		attrs = append(attrs, attribute.String("service.instance.id", instance))
	}

	res, err := resource.New(ctx, append(detectors, resource.WithAttributes(attrs...))...)
	if err != nil {
		fallback := resource.NewSchemaless(attrs...)
		if res == nil {
			return fallback, err
		}
		if merged, mergeErr := resource.Merge(res, fallback); mergeErr == nil {
			return merged, err
		}
		return fallback, err
	}
	return res, nil
}

// Module installs telemetry for the lifetime of an fx app.
func Module() fx.Option {
	return fx.Invoke(func(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) {
		var shutdown Shutdown = noop
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				s, err := Init(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.Endpoint, logger)
				if err != nil {
					logger.Warn("telemetry disabled", zap.Error(err))
					return nil
				}
				shutdown = s
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return shutdown(ctx)
			},
		})
	})
}
