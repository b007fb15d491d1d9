package observability

import (
	"context"
	"testing"
)

func TestTracingFromEnv(t *testing.T) {
	cases := []struct {
		name     string
		env      map[string]string
		exporter string
		ratio    float64
		wantErr  bool
	}{
		{name: "defaults", exporter: ExporterStderr, ratio: 1},
		{name: "endpoint selects otlp", env: map[string]string{"OTEL_EXPORTER_OTLP_ENDPOINT": "collector:4318"}, exporter: ExporterOTLP, ratio: 1},
		{name: "explicit stderr wins", env: map[string]string{"OTEL_EXPORTER_OTLP_ENDPOINT": "collector:4318", "OTEL_TRACES_EXPORTER": "STDERR"}, exporter: ExporterStderr, ratio: 1},
		{name: "ratio clamped", env: map[string]string{"OTEL_SAMPLER_RATIO": "3"}, exporter: ExporterStderr, ratio: 1},
		{name: "negative ratio", env: map[string]string{"OTEL_SAMPLER_RATIO": "-1"}, exporter: ExporterStderr, ratio: 0},
		{name: "unknown exporter", env: map[string]string{"OTEL_TRACES_EXPORTER": "zipkin"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for _, k := range []string{"OTEL_ENABLED", "OTEL_TRACES_EXPORTER", "OTEL_SAMPLER_RATIO", "OTEL_EXPORTER_OTLP_ENDPOINT"} {
				t.Setenv(k, "")
			}
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			got, err := tracingFromEnv()
			if tc.wantErr {
				if err == nil {
					t.Fatalf("tracingFromEnv: want error got=%+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("tracingFromEnv: %v", err)
			}
			if got.Enabled {
				t.Fatalf("enabled: want=false got=true")
			}
			if got.Exporter != tc.exporter || got.Ratio != tc.ratio {
				t.Fatalf("tracing: want=%s/%v got=%s/%v", tc.exporter, tc.ratio, got.Exporter, got.Ratio)
			}
		})
	}
}

func TestNewTraceExporterStderr(t *testing.T) {
	exp, err := newTraceExporter(context.Background(), ExporterStderr)
	if err != nil {
		t.Fatalf("newTraceExporter: %v", err)
	}
	if err := exp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
