package tools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
)

func Calculator() Tool {
	return Tool{
		Name:        "calculator",
		Description: "Evaluates an arithmetic expression with + - * / % and ^ (or **) for powers.",
		Example:     "100 * 0.15",
		Run: func(_ context.Context, input string) (string, error) {
			v, err := Evaluate(input)
			if err != nil {
				return "", err
			}
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		},
	}
}

// Evaluate computes an arithmetic expression. Nothing outside plain
// arithmetic is reachable: there is no environment and no builtins.
// Powers bind tighter than unary minus and associate to the right, so
// -2^2 is -4.
func Evaluate(input string) (float64, error) {
	src := strings.TrimSpace(strings.ReplaceAll(input, "**", "^"))
	if src == "" {
		return 0, errors.New("empty expression")
	}

	program, err := expr.Compile(src, expr.DisableAllBuiltins(), expr.AsFloat64())
	if err != nil {
		return 0, fmt.Errorf("invalid expression: %w", err)
	}
	out, err := expr.Run(program, nil)
	if err != nil {
		return 0, fmt.Errorf("evaluation failed: %w", err)
	}
	v, ok := out.(float64)
	if !ok {
		return 0, fmt.Errorf("expression produced %T, not a number", out)
	}
	// x/0 yields an infinity rather than an error
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, errors.New("result is not a finite number")
	}
	return v, nil
}
