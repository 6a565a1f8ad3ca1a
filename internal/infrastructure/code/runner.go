// Package code evaluates the program text of code and fixed-program cells
// against a snapshot of the row, using expr-lang programs.
package code

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/expr-lang/expr"

	"github.com/gridify/gentable/internal/domain"
)

// ExprRunner executes cell programs as expr-lang expressions. The row
// snapshot is the program environment: every column is addressable by id.
type ExprRunner struct{}

// NewExprRunner creates a runner.
func NewExprRunner() *ExprRunner {
	return &ExprRunner{}
}

// Run compiles and evaluates the program, then coerces the result to the
// output column's dtype.
func (r *ExprRunner) Run(ctx context.Context, source string, rowData map[string]any, outputColumn string, dtype domain.Dtype) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	program, err := expr.Compile(source, expr.Env(rowData), expr.AllowUndefinedVariables())
	if err != nil {
		// Column ids with spaces or punctuation cannot appear in a typed
		// environment; retry untyped.
		program, err = expr.Compile(source, expr.AllowUndefinedVariables())
		if err != nil {
			return nil, fmt.Errorf("failed to compile program for column %q: %w", outputColumn, err)
		}
	}
	result, err := expr.Run(program, rowData)
	if err != nil {
		return nil, fmt.Errorf("failed to run program for column %q: %w", outputColumn, err)
	}
	return coerce(result, dtype)
}

// coerce converts the program result to the column dtype.
func coerce(v any, dtype domain.Dtype) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch dtype {
	case domain.DtypeStr, domain.DtypeImage, domain.DtypeAudio, domain.DtypeDocument:
		return domain.CellString(v), nil
	case domain.DtypeInt:
		switch x := v.(type) {
		case int:
			return x, nil
		case int64:
			return int(x), nil
		case float64:
			return int(math.Round(x)), nil
		case string:
			n, err := strconv.Atoi(x)
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to int: %w", x, err)
			}
			return n, nil
		}
	case domain.DtypeFloat:
		switch x := v.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		case int:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case string:
			f, err := strconv.ParseFloat(x, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to float: %w", x, err)
			}
			return f, nil
		}
	case domain.DtypeBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			b, err := strconv.ParseBool(x)
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to bool: %w", x, err)
			}
			return b, nil
		}
	default:
		return v, nil
	}
	return nil, fmt.Errorf("cannot coerce %T to %s", v, dtype)
}
