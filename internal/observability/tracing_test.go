package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
)

func resetTracing(t *testing.T) {
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })
}

func TestInitTracingStdoutExporter(t *testing.T) {
	resetTracing(t)
	ctx := context.Background()
	var buf bytes.Buffer
	shutdown, err := InitTracing(ctx, TracingConfig{
		Enabled:     true,
		ServiceName: "ephemeris-test",
		Exporter:    "STDOUT",
		SampleRatio: 1,
		Writer:      &buf,
	}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}

	_, span := Tracer().Start(ctx, "ephemeris.request")
	if !span.SpanContext().IsSampled() {
		t.Fatalf("span not sampled at ratio 1")
	}
	span.End()

	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"ephemeris.request", "ephemeris-test"} {
		if !strings.Contains(out, want) {
			t.Fatalf("exported spans missing %q:\n%s", want, out)
		}
	}
}

func TestInitTracingDisabled(t *testing.T) {
	resetTracing(t)
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := Tracer().Start(context.Background(), "dataset.cycle")
	if span.IsRecording() {
		t.Fatalf("span recorded with tracing disabled")
	}
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestUnsupportedExporter(t *testing.T) {
	resetTracing(t)
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil)
	if err == nil || !strings.Contains(err.Error(), "zipkin") {
		t.Fatalf("InitTracing error = %v, want unsupported exporter", err)
	}
}

func TestExporterName(t *testing.T) {
	cases := map[string]string{
		"":          "stdout",
		" Stdout ":  "stdout",
		"otlpgrpc":  "otlp",
		"OTLP":      "otlp",
		"something": "something",
	}
	for in, want := range cases {
		if got := exporterName(in); got != want {
			t.Errorf("exporterName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestShutdownWithTimeoutNil(t *testing.T) {
	ShutdownWithTimeout(context.Background(), nil, nil)
	called := false
	ShutdownWithTimeout(context.Background(), func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Errorf("shutdown context has no deadline")
		}
		called = true
		return nil
	}, nil)
	if !called {
		t.Fatalf("shutdown function not called")
	}
}
