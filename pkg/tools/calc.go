package tools

import (
	"context"
	"math"
	"time"

	"github.com/Knetic/govaluate"

	"github.com/everme/stockagent/pkg/errors"
	"github.com/everme/stockagent/pkg/llm"
	"github.com/everme/stockagent/pkg/ratelimit"
	"github.com/everme/stockagent/pkg/validate"
)

// CalculateTool evaluates restricted arithmetic expressions. It has no
// external resource and is never cached. The evaluator only ever receives
// strings that passed the character-class and parenthesis checks.
type CalculateTool struct {
	def llm.Tool
}

// NewCalculateTool builds the calculate handler.
func NewCalculateTool() *CalculateTool {
	return &CalculateTool{
		def: functionDef("calculate",
			"Perform mathematical calculations. Use for percentage calculations, averages, or any math operations.",
			objectSchema(map[string]any{
				"expression": map[string]any{
					"type":        "string",
					"description": "Mathematical expression to evaluate (e.g., '100 * 1.05', '(720 - 700) / 700 * 100')",
				},
			}, "expression")),
	}
}

func (t *CalculateTool) Name() string                 { return "calculate" }
func (t *CalculateTool) Label() string                { return "Performing calculation" }
func (t *CalculateTool) Definition() llm.Tool         { return t.def }
func (t *CalculateTool) Resource() ratelimit.Resource { return "" }
func (t *CalculateTool) TTL() time.Duration           { return 0 }
func (t *CalculateTool) Key(map[string]any) []string  { return nil }

func (t *CalculateTool) Call(_ context.Context, args map[string]any) (Result, error) {
	expression, err := validate.Expression(stringArg(args, "expression"))
	if err != nil {
		return nil, err
	}

	evaluable, err := govaluate.NewEvaluableExpression(expression)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "expression could not be parsed", err)
	}

	value, err := evaluable.Evaluate(nil)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "calculation failed", err)
	}

	result, ok := value.(float64)
	if !ok {
		return nil, errors.Newf(errors.CodeInvalidInput, "expression did not produce a number")
	}
	if math.IsInf(result, 0) || math.IsNaN(result) {
		return nil, errors.Newf(errors.CodeInvalidInput, "calculation produced an undefined result")
	}

	return Result{
		"expression": expression,
		"result":     round4(result),
	}, nil
}
