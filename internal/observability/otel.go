package observability

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"

	"github.com/yungbote/feedback-annotator/internal/platform/envutil"
	"github.com/yungbote/feedback-annotator/internal/platform/logger"
)

const DefaultServiceName = "feedback-annotator"

const (
	ExporterOTLP   = "otlp"
	ExporterStderr = "stderr"
)

type OtelConfig struct {
	ServiceName string
	Environment string
	Version     string
}

// tracing is what the environment asks for. The OTLP exporter reads its own
// OTEL_EXPORTER_OTLP_* variables for endpoint, headers and TLS.
type tracing struct {
	Enabled  bool
	Exporter string
	Ratio    float64
}

// tracingFromEnv reads OTEL_ENABLED, OTEL_TRACES_EXPORTER and
// OTEL_SAMPLER_RATIO. Without an explicit exporter, OTLP is used when an
// endpoint is configured and stderr otherwise; stdout carries command output.
func tracingFromEnv() (tracing, error) {
	t := tracing{
		Enabled: envutil.Bool("OTEL_ENABLED", false),
		Ratio:   min(max(envutil.Float("OTEL_SAMPLER_RATIO", 1), 0), 1),
	}
	t.Exporter = strings.ToLower(envutil.String("OTEL_TRACES_EXPORTER", ""))
	if t.Exporter == "" {
		t.Exporter = ExporterStderr
		if envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", "") != "" {
			t.Exporter = ExporterOTLP
		}
	}
	switch t.Exporter {
	case ExporterOTLP, ExporterStderr:
		return t, nil
	default:
		return t, fmt.Errorf("OTEL_TRACES_EXPORTER: unsupported exporter %q", t.Exporter)
	}
}

var (
	otelOnce     sync.Once
	otelShutdown func(context.Context) error
)

// InitOTel installs the global tracer provider once per process. Tracing
// problems are logged and never stop a command; the returned shutdown
// flushes pending spans.
func InitOTel(ctx context.Context, log *logger.Logger, cfg OtelConfig) func(context.Context) error {
	otelOnce.Do(func() {
		t, err := tracingFromEnv()
		if err != nil {
			log.Warn("Tracing disabled", "error", err)
			return
		}
		if !t.Enabled {
			return
		}
		serviceName := strings.TrimSpace(cfg.ServiceName)
		if serviceName == "" {
			serviceName = DefaultServiceName
		}
		res, err := resource.New(ctx, resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(strings.TrimSpace(cfg.Version)),
			attribute.String("deployment.environment", strings.TrimSpace(cfg.Environment)),
		))
		if err != nil {
			log.Warn("Tracing resource incomplete", "error", err)
		}

		opts := []sdktrace.TracerProviderOption{
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(t.Ratio))),
			sdktrace.WithResource(res),
		}
		exporter, err := newTraceExporter(ctx, t.Exporter)
		if err != nil {
			log.Warn("Trace exporter unavailable; spans are dropped", "exporter", t.Exporter, "error", err)
		} else {
			opts = append(opts, sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)))
		}
		tp := sdktrace.NewTracerProvider(opts...)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		otelShutdown = tp.Shutdown
		log.Info("Tracing initialized", "service", serviceName, "exporter", t.Exporter, "sample_ratio", t.Ratio)
	})
	if otelShutdown == nil {
		return func(context.Context) error { return nil }
	}
	return otelShutdown
}

func newTraceExporter(ctx context.Context, kind string) (sdktrace.SpanExporter, error) {
	if kind == ExporterOTLP {
		return otlptracehttp.New(ctx)
	}
	return stdouttrace.New(stdouttrace.WithPrettyPrint(), stdouttrace.WithWriter(os.Stderr))
}
