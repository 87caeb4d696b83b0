package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

func TestInitWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), "test", "", zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}
}

type spanExporter struct {
	stopped bool
}

func (e *spanExporter) ExportSpans(context.Context, []trace.ReadOnlySpan) error { return nil }

func (e *spanExporter) Shutdown(context.Context) error {
	e.stopped = true
	return nil
}

func TestMetricExporterFailureStopsTraceExporter(t *testing.T) {
	traceExp := &spanExporter{}
	exp := exporters{
		trace: func(context.Context, string) (trace.SpanExporter, error) { return traceExp, nil },
		metric: func(context.Context, string) (metric.Exporter, error) {
			return nil, errors.New("dial failed")
		},
	}

	shutdown, err := install(context.Background(), "test", "localhost:4317", zap.NewNop(), exp)
	if err == nil || shutdown != nil {
		t.Fatalf("expected install to fail, got err=%v", err)
	}
	if !traceExp.stopped {
		t.Fatal("expected the trace exporter to be shut down")
	}
}

type failingDetector struct{}

func (failingDetector) Detect(context.Context) (*resource.Resource, error) {
	return nil, errors.New("no host info")
}

func TestNewResourceKeepsServiceNameOnDetectorFailure(t *testing.T) {
	res, err := newResource(context.Background(), "inspector", resource.WithDetectors(failingDetector{}))
	if err == nil {
		t.Fatal("expected the detector error to be reported")
	}
	if res == nil {
		t.Fatal("expected a fallback resource")
	}
	name, ok := res.Set().Value(attribute.Key("service.name"))
	if !ok || name.AsString() != "inspector" {
		t.Fatalf("expected service.name on resource, got %v", res.Attributes())
	}
}
