package agent

import (
	"context"

	"github.com/everme/stockagent/pkg/errors"
	"github.com/everme/stockagent/pkg/llm"
	"github.com/everme/stockagent/pkg/ratelimit"
)

const (
	defaultModel       = "openai/gpt-4o-mini"
	defaultTemperature = 0.7
	defaultMaxTokens   = 1024
)

// Gateway issues decision and answer calls against the model provider.
// Every call consumes one rate-limit admission for the llm resource before
// the request goes out. The gateway never interprets tool results; it only
// forwards the message sequence it is given.
type Gateway struct {
	provider    llm.StreamingProvider
	limiter     *ratelimit.Registry
	model       string
	temperature float64
	maxTokens   int
}

// GatewayOption configures the Gateway.
type GatewayOption func(*Gateway)

// WithModel sets the model identifier sent to the provider.
func WithModel(model string) GatewayOption {
	return func(g *Gateway) {
		if model != "" {
			g.model = model
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) GatewayOption {
	return func(g *Gateway) {
		g.temperature = t
	}
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) GatewayOption {
	return func(g *Gateway) {
		if n > 0 {
			g.maxTokens = n
		}
	}
}

// NewGateway creates a Gateway over a streaming-capable provider.
func NewGateway(provider llm.StreamingProvider, limiter *ratelimit.Registry, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		provider:    provider,
		limiter:     limiter,
		model:       defaultModel,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Decide makes the non-streaming decision call with the full tool definition
// list attached. The caller needs the complete response, including every
// requested tool invocation, before it can proceed.
func (g *Gateway) Decide(ctx context.Context, messages []llm.Message, defs []llm.Tool) (*llm.ChatResponse, error) {
	if err := g.limiter.Acquire(ctx, ratelimit.ResourceLLM); err != nil {
		return nil, err
	}
	resp, err := g.provider.Chat(ctx, g.request(messages, defs))
	if err != nil {
		return nil, asGatewayError(err, "decision call failed")
	}
	return resp, nil
}

// StreamAnswer makes the streaming answer call and returns the chunk
// sequence. The sequence is forward-only and non-restartable.
func (g *Gateway) StreamAnswer(ctx context.Context, messages []llm.Message, defs []llm.Tool) (<-chan llm.StreamChunk, error) {
	if err := g.limiter.Acquire(ctx, ratelimit.ResourceLLM); err != nil {
		return nil, err
	}
	chunks, err := g.provider.ChatStream(ctx, g.request(messages, defs))
	if err != nil {
		return nil, asGatewayError(err, "answer call failed")
	}
	return chunks, nil
}

func (g *Gateway) request(messages []llm.Message, defs []llm.Tool) llm.ChatRequest {
	return llm.ChatRequest{
		Model:       g.model,
		Messages:    messages,
		Tools:       defs,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	}
}

func asGatewayError(err error, msg string) error {
	if ae, ok := err.(*errors.AgentError); ok && ae.Code == errors.CodeLLMError {
		return ae
	}
	if ae, ok := err.(*errors.AgentError); ok && ae.Code == errors.CodeRateLimit {
		return ae
	}
	return errors.New(errors.CodeLLMError, msg, err)
}
