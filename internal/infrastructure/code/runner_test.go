package code

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridify/gentable/internal/domain"
)

func TestExprRunner(t *testing.T) {
	runner := NewExprRunner()
	ctx := context.Background()
	row := map[string]any{"text": "hello", "count": 3}

	tests := []struct {
		name   string
		source string
		dtype  domain.Dtype
		want   any
	}{
		{"string length as str", "len(text)", domain.DtypeStr, "5"},
		{"int arithmetic", "count * 2", domain.DtypeInt, 6},
		{"float coercion", "count", domain.DtypeFloat, 3.0},
		{"bool expression", `text == "hello"`, domain.DtypeBool, true},
		{"string concat", `text + "!"`, domain.DtypeStr, "hello!"},
		{"upper builtin", "upper(text)", domain.DtypeStr, "HELLO"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := runner.Run(ctx, tt.source, row, "out", tt.dtype)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExprRunnerErrors(t *testing.T) {
	runner := NewExprRunner()
	ctx := context.Background()

	_, err := runner.Run(ctx, "this is not ( valid", map[string]any{"x": 1}, "out", domain.DtypeStr)
	assert.Error(t, err)

	_, err = runner.Run(ctx, `"abc"`, map[string]any{"x": 1}, "out", domain.DtypeInt)
	assert.Error(t, err)
}

func TestExprRunnerNilResult(t *testing.T) {
	runner := NewExprRunner()
	got, err := runner.Run(context.Background(), "nil", map[string]any{"x": 1}, "out", domain.DtypeStr)
	require.NoError(t, err)
	assert.Nil(t, got)
}
