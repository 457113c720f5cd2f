// Package agent implements the turn orchestrator: the two-phase protocol
// that turns one user message into a stream of progress, tool-outcome and
// answer-text events.
package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/everme/stockagent/pkg/llm"
	"github.com/everme/stockagent/pkg/marketdata"
	"github.com/everme/stockagent/pkg/telemetry"
	"github.com/everme/stockagent/pkg/tools"
	"github.com/everme/stockagent/pkg/validate"
)

// DefaultSystemPrompt frames the assistant for market-data questions and
// steers the model toward the tool contract.
const DefaultSystemPrompt = `You are a helpful financial assistant with access to real-time stock market data.
Use the available tools to answer questions about stock prices, trends and comparisons.
Always fetch live data with tools instead of answering from memory.
When reporting prices, include the currency. Be concise and factual.
If a tool returns an error, explain the problem to the user in plain language.`

// maxUserInputLen caps a single user message before it enters the
// conversation.
const maxUserInputLen = 4000

// Orchestrator drives one conversational turn: a non-streaming decision
// call, sequential tool dispatch, and a streaming answer call, surfaced to
// the caller as an ordered event stream.
type Orchestrator struct {
	gateway      *Gateway
	registry     *tools.Registry
	systemPrompt string
	metrics      *telemetry.TurnMetrics
}

// OrchestratorOption configures the Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithSystemPrompt replaces the default system prompt.
func WithSystemPrompt(prompt string) OrchestratorOption {
	return func(o *Orchestrator) {
		if prompt != "" {
			o.systemPrompt = prompt
		}
	}
}

// WithMetrics attaches a turn metrics tracker. Nil disables recording.
func WithMetrics(m *telemetry.TurnMetrics) OrchestratorOption {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// NewOrchestrator wires a gateway and a tool registry into an orchestrator.
func NewOrchestrator(gateway *Gateway, registry *tools.Registry, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		gateway:      gateway,
		registry:     registry,
		systemPrompt: DefaultSystemPrompt,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one turn and returns its event stream. The channel is closed
// after the terminal event (DoneEvent on success, ErrorEvent on gateway
// failure). Tool-local failures are reported as ToolOutcomeEvents and fed
// back to the model; they never terminate the turn. Cancelling ctx stops
// emission; no terminal event is guaranteed after cancellation.
func (o *Orchestrator) Run(ctx context.Context, history []llm.Message, userMessage string) <-chan TurnEvent {
	events := make(chan TurnEvent)
	go func() {
		defer close(events)
		o.run(ctx, history, userMessage, events)
	}()
	return events
}

func (o *Orchestrator) run(ctx context.Context, history []llm.Message, userMessage string, events chan<- TurnEvent) {
	turnStart := time.Now()
	defer func() { o.metrics.RecordTurn(ctx, time.Since(turnStart)) }()

	userMessage = validate.UserInput(userMessage, maxUserInputLen)

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: o.systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userMessage})

	if !emit(ctx, events, StatusEvent{Message: "Analyzing your question..."}) {
		return
	}

	defs := o.registry.Definitions()
	decision, err := o.gateway.Decide(ctx, messages, defs)
	o.metrics.RecordModelCall(ctx, "decision", err)
	if err != nil {
		emit(ctx, events, ErrorEvent{Err: err})
		return
	}

	// No tools requested: the decision content is already the answer, so
	// skip the second model call entirely. The progress status still fires
	// so the UI sees the same sequence on both paths.
	if len(decision.ToolCalls) == 0 {
		if !emit(ctx, events, StatusEvent{Message: "Generating response..."}) {
			return
		}
		if !emit(ctx, events, TextChunkEvent{Text: decision.Content}) {
			return
		}
		final := appendTurn(history, userMessage, decision.Content)
		emit(ctx, events, DoneEvent{History: final})
		return
	}

	messages = append(messages, llm.Message{
		Role:      llm.RoleAssistant,
		Content:   decision.Content,
		ToolCalls: decision.ToolCalls,
	})

	for _, call := range decision.ToolCalls {
		name := call.Function.Name
		args := decodeArgs(call.Function.Arguments)

		if !emit(ctx, events, StatusEvent{Message: statusLine(o.registry.Label(name), args)}) {
			return
		}

		dispatchStart := time.Now()
		result := o.registry.Dispatch(ctx, name, args)
		o.metrics.RecordToolCall(ctx, name, result.IsError(), time.Since(dispatchStart))
		if !emit(ctx, events, ToolOutcomeEvent{Tool: name, Args: args, Result: result}) {
			return
		}

		messages = append(messages, llm.Message{
			Role:       llm.RoleTool,
			Content:    encodeResult(result),
			ToolCallID: call.ID,
		})
	}

	if !emit(ctx, events, StatusEvent{Message: "Generating response..."}) {
		return
	}

	chunks, err := o.gateway.StreamAnswer(ctx, messages, defs)
	o.metrics.RecordModelCall(ctx, "answer", err)
	if err != nil {
		emit(ctx, events, ErrorEvent{Err: err})
		return
	}

	var answer strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			emit(ctx, events, ErrorEvent{Err: chunk.Error})
			return
		}
		if chunk.Content != "" {
			answer.WriteString(chunk.Content)
			if !emit(ctx, events, TextChunkEvent{Text: chunk.Content}) {
				return
			}
		}
		if chunk.Done {
			break
		}
	}

	final := appendTurn(history, userMessage, answer.String())
	emit(ctx, events, DoneEvent{History: final})
}

// emit sends an event unless the context is already cancelled. It reports
// whether the turn should continue.
func emit(ctx context.Context, events chan<- TurnEvent, ev TurnEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// appendTurn builds the post-turn history: the prior history plus the user
// message and the assistant answer. Tool traffic stays out of it; replaying
// tool-role messages without their assistant anchors confuses providers.
func appendTurn(history []llm.Message, userMessage, answer string) []llm.Message {
	out := make([]llm.Message, 0, len(history)+2)
	out = append(out, history...)
	out = append(out, llm.Message{Role: llm.RoleUser, Content: userMessage})
	out = append(out, llm.Message{Role: llm.RoleAssistant, Content: answer})
	return out
}

// decodeArgs parses the provider's JSON argument string. Malformed payloads
// degrade to an empty map and let the handler's own validation produce the
// user-visible error.
func decodeArgs(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		slog.Warn("malformed tool arguments", "raw", raw, "error", err)
		return map[string]any{}
	}
	return args
}

// encodeResult serializes a tool result for the tool-role message the model
// reads back.
func encodeResult(result tools.Result) string {
	data, err := json.Marshal(result)
	if err != nil {
		return `{"error": "tool result could not be serialized"}`
	}
	return string(data)
}

// statusLine builds the progress message for one tool invocation, e.g.
// "Fetching current price: TSLA".
func statusLine(label string, args map[string]any) string {
	if detail := statusDetail(args); detail != "" {
		return label + ": " + detail
	}
	return label + "..."
}

func statusDetail(args map[string]any) string {
	if v, ok := args["ticker"].(string); ok && v != "" {
		return marketdata.NormalizeTicker(v)
	}
	if v, ok := args["symbols"]; ok {
		switch list := v.(type) {
		case []any:
			parts := make([]string, 0, len(list))
			for _, item := range list {
				if s, ok := item.(string); ok {
					parts = append(parts, marketdata.NormalizeTicker(s))
				}
			}
			return strings.Join(parts, ", ")
		case []string:
			parts := make([]string, 0, len(list))
			for _, s := range list {
				parts = append(parts, marketdata.NormalizeTicker(s))
			}
			return strings.Join(parts, ", ")
		}
	}
	if v, ok := args["expression"].(string); ok && v != "" {
		return v
	}
	return ""
}
