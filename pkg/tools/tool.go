// Package tools holds the tool registry and the market-data and arithmetic
// tools the model may invoke. Every handler is dispatched through a fixed
// policy stack: rate-limit admission, TTL cache, then argument validation
// immediately before the underlying computation.
package tools

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/everme/stockagent/pkg/llm"
	"github.com/everme/stockagent/pkg/ratelimit"
)

// Result is the outcome of one tool invocation: either a structured success
// payload or an {"error": reason} descriptor. Results never raise past the
// dispatch boundary.
type Result map[string]any

// Errorf builds an error result.
func Errorf(format string, args ...any) Result {
	return Result{"error": fmt.Sprintf(format, args...)}
}

// IsError reports whether a result carries an error descriptor.
func (r Result) IsError() bool {
	_, ok := r["error"]
	return ok
}

// Handler is one registered tool. Implementations validate their own
// arguments inside Call; Resource and TTL declare the policies dispatch
// wraps around it.
type Handler interface {
	// Name is the public tool name the model contracts on.
	Name() string

	// Label is the human-readable progress description shown to users.
	Label() string

	// Definition is the schema descriptor exposed to the model.
	Definition() llm.Tool

	// Resource names the rate-limited upstream this tool consumes, or ""
	// for purely local tools.
	Resource() ratelimit.Resource

	// TTL is the cache lifetime for this tool's results; 0 disables caching.
	TTL() time.Duration

	// Key returns the normalized argument values that determine the cache
	// key. Normalization here is best-effort; full validation happens in Call.
	Key(args map[string]any) []string

	// Call executes the tool with raw arguments.
	Call(ctx context.Context, args map[string]any) (Result, error)
}

// TTL classes shared by the market tools: live point-in-time quantities use
// the short TTL, aggregates and series the long one.
const (
	QuoteTTL      = 30 * time.Second
	HistoricalTTL = 300 * time.Second
)

// stringArg extracts a string argument, tolerating missing keys.
func stringArg(args map[string]any, key string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", v)
	}
	return ""
}

// stringsArg extracts a list-of-strings argument.
func stringsArg(args map[string]any, key string) []string {
	v, ok := args[key]
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	case string:
		// Some models send comma-separated lists instead of arrays.
		parts := strings.Split(list, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	default:
		return nil
	}
}

// round2 rounds to two decimal places, the precision quoted to users.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// round4 rounds to four decimal places, used for calculation results.
func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// objectSchema builds a JSON-Schema object for a tool parameter list.
func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func functionDef(name, description string, schema map[string]any) llm.Tool {
	return llm.Tool{
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionDef{
			Name:        name,
			Description: description,
			Parameters:  schema,
		},
	}
}
