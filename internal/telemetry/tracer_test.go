package telemetry

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitTracer_ExportsOnShutdown(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	shutdown, err := InitTracer("tradeflow-test", logger, WithWriter(&buf))
	if err != nil {
		t.Fatalf("InitTracer() error = %v", err)
	}

	_, span := otel.Tracer("telemetry-test").Start(context.Background(), "reconcile.ApplyAction")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "reconcile.ApplyAction") {
		t.Errorf("exported output missing span name: %s", out)
	}
	if !strings.Contains(out, "tradeflow-test") {
		t.Errorf("exported output missing service name: %s", out)
	}
}

func TestInitTracer_NeverSample(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	shutdown, err := InitTracer("tradeflow-test", logger, WithWriter(&buf), WithSampler(sdktrace.NeverSample()))
	if err != nil {
		t.Fatalf("InitTracer() error = %v", err)
	}

	_, span := otel.Tracer("telemetry-test").Start(context.Background(), "dropped")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("exported %d bytes, want none", buf.Len())
	}
}
