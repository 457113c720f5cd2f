package telemetry

import (
	"bytes"
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"
)

func TestInit(t *testing.T) {
	shutdown, err := Init("test-service", "v0.0.1")
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if shutdown == nil {
		t.Fatal("Shutdown function should not be nil")
	}

	if err := shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestInitUnknownExporter(t *testing.T) {
	if _, err := InitWithConfig("test-service", "v0.0.1", Config{Exporter: "bogus"}); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestConfigureSlog(t *testing.T) {
	var buf bytes.Buffer
	logger := ConfigureSlog(&buf, "debug", "json")

	logger.InfoContext(context.Background(), "hello", "key", "value")
	if !bytes.Contains(buf.Bytes(), []byte(`"msg":"hello"`)) {
		t.Errorf("log output = %s", buf.String())
	}
}

func TestConfigureSlogSpanCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := ConfigureSlog(&buf, "info", "json")

	tid, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	sid, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid})

	logger.InfoContext(trace.ContextWithSpanContext(context.Background(), sc), "with span")
	if !bytes.Contains(buf.Bytes(), []byte(`"trace_id":"0102030405060708090a0b0c0d0e0f10"`)) {
		t.Errorf("missing trace correlation: %s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"span_id":"0102030405060708"`)) {
		t.Errorf("missing span correlation: %s", buf.String())
	}
}

func TestTurnMetricsNilSafe(t *testing.T) {
	var m *TurnMetrics
	ctx := context.Background()

	// Must not panic.
	m.RecordToolCall(ctx, "get_current_price", false, time.Millisecond)
	m.RecordModelCall(ctx, "decision", nil)
	m.RecordTurn(ctx, time.Second)
}

func TestTurnMetricsRecord(t *testing.T) {
	m, err := NewTurnMetrics()
	if err != nil {
		t.Fatalf("NewTurnMetrics failed: %v", err)
	}

	ctx := context.Background()
	m.RecordToolCall(ctx, "calculate", true, 2*time.Millisecond)
	m.RecordModelCall(ctx, "answer", nil)
	m.RecordTurn(ctx, 500*time.Millisecond)
}
