package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// TurnMetrics tracks tool and model activity per conversational turn. A nil
// receiver is a no-op, so callers never need to guard for disabled telemetry.
type TurnMetrics struct {
	toolCounter  metric.Int64Counter
	toolDuration metric.Float64Histogram
	modelCounter metric.Int64Counter
	turnDuration metric.Float64Histogram
}

// NewTurnMetrics creates a turn metrics tracker with OTEL meters.
func NewTurnMetrics() (*TurnMetrics, error) {
	meter := otel.Meter("stockagent/agent")

	toolCounter, err := meter.Int64Counter(
		"stockagent.tools.invocations",
		metric.WithDescription("Tool invocations by name and outcome"),
	)
	if err != nil {
		return nil, err
	}

	toolDuration, err := meter.Float64Histogram(
		"stockagent.tools.duration",
		metric.WithDescription("Tool invocation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	modelCounter, err := meter.Int64Counter(
		"stockagent.model.calls",
		metric.WithDescription("Model calls by phase and outcome"),
	)
	if err != nil {
		return nil, err
	}

	turnDuration, err := meter.Float64Histogram(
		"stockagent.turn.duration",
		metric.WithDescription("End-to-end turn duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &TurnMetrics{
		toolCounter:  toolCounter,
		toolDuration: toolDuration,
		modelCounter: modelCounter,
		turnDuration: turnDuration,
	}, nil
}

// RecordToolCall records one tool invocation.
func (m *TurnMetrics) RecordToolCall(ctx context.Context, tool string, isError bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.Bool("error", isError),
	)
	m.toolCounter.Add(ctx, 1, attrs)
	m.toolDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordModelCall records one model call. Phase is "decision" or "answer".
func (m *TurnMetrics) RecordModelCall(ctx context.Context, phase string, err error) {
	if m == nil {
		return
	}
	m.modelCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("phase", phase),
		attribute.Bool("error", err != nil),
	))
}

// RecordTurn records the duration of a full turn.
func (m *TurnMetrics) RecordTurn(ctx context.Context, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.turnDuration.Record(ctx, elapsed.Seconds())
}
