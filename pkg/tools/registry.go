package tools

import (
	"context"
	"log/slog"

	"github.com/everme/stockagent/pkg/cache"
	"github.com/everme/stockagent/pkg/errors"
	"github.com/everme/stockagent/pkg/llm"
	"github.com/everme/stockagent/pkg/ratelimit"
)

// Registry maps tool names to handlers and dispatches invocations through
// the policy stack. The tool set is fixed at process start.
type Registry struct {
	limiter  *ratelimit.Registry
	cache    *cache.TTLCache[Result]
	handlers map[string]Handler
	order    []string
}

// NewRegistry creates a registry sharing the given limiter and cache.
func NewRegistry(limiter *ratelimit.Registry, c *cache.TTLCache[Result]) *Registry {
	return &Registry{
		limiter:  limiter,
		cache:    c,
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler. Duplicate names are a programming error and fail.
func (r *Registry) Register(h Handler) error {
	name := h.Name()
	if name == "" {
		return errors.Newf(errors.CodeInternal, "tool handler has no name")
	}
	if _, exists := r.handlers[name]; exists {
		return errors.Newf(errors.CodeInternal, "tool %q already registered", name)
	}
	r.handlers[name] = h
	r.order = append(r.order, name)
	return nil
}

// MustRegister registers a handler and panics on conflict. Intended for the
// static tool set wired at startup.
func (r *Registry) MustRegister(h Handler) {
	if err := r.Register(h); err != nil {
		panic(err)
	}
}

// Definitions returns the tool specs in registration order, the contract
// exposed to the model provider.
func (r *Registry) Definitions() []llm.Tool {
	defs := make([]llm.Tool, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.handlers[name].Definition())
	}
	return defs
}

// Label returns the human-readable progress label for a tool, or a generic
// fallback for unknown names.
func (r *Registry) Label(name string) string {
	if h, ok := r.handlers[name]; ok {
		return h.Label()
	}
	return "Processing"
}

// Dispatch executes a tool by name. Policies apply in fixed order: one
// rate-limit admission for the handler's resource, then cache lookup or
// compute, then the handler itself (which validates before computing).
// Dispatch never returns a Go error: every failure becomes an error result.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) Result {
	handler, ok := r.handlers[name]
	if !ok {
		return Errorf("unknown tool: %s", name)
	}

	if resource := handler.Resource(); resource != "" {
		if err := r.limiter.Acquire(ctx, resource); err != nil {
			return toErrorResult(err)
		}
	}

	ttl := handler.TTL()
	if ttl <= 0 || r.cache == nil {
		return r.call(ctx, handler, args)
	}

	key := cache.Key(name, handler.Key(args)...)
	result, err := r.cache.GetOrCompute(key, ttl, func() (Result, error) {
		out := r.call(ctx, handler, args)
		if out.IsError() {
			// Error results pass through uncached so transient upstream
			// failures retry on the next invocation.
			return nil, resultError{out}
		}
		return out, nil
	})
	if err != nil {
		if re, ok := err.(resultError); ok {
			return re.result
		}
		return toErrorResult(err)
	}
	return result
}

// call runs the handler and converts panics and errors to error results.
func (r *Registry) call(ctx context.Context, handler Handler, args map[string]any) (result Result) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("tool panicked", "tool", handler.Name(), "panic", rec)
			result = Errorf("tool %s failed unexpectedly", handler.Name())
		}
	}()

	result, err := handler.Call(ctx, args)
	if err != nil {
		return toErrorResult(err)
	}
	if result == nil {
		result = Result{}
	}
	return result
}

// resultError smuggles an error result through the cache's error path so it
// is never stored.
type resultError struct {
	result Result
}

func (e resultError) Error() string {
	if msg, ok := e.result["error"].(string); ok {
		return msg
	}
	return "tool error"
}

func toErrorResult(err error) Result {
	if ae, ok := err.(*errors.AgentError); ok {
		msg := ae.Message
		if ae.Err != nil {
			msg += ": " + ae.Err.Error()
		}
		return Errorf("%s", msg)
	}
	return Errorf("%s", err.Error())
}
