package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInterpolate(t *testing.T) {
	row := Row{"input": "hi", "count": 3, "empty": nil}

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"simple", "S:${input}", "S:hi"},
		{"multiple", "${input}-${count}", "hi-3"},
		{"escaped", `\${input}`, "${input}"},
		{"escaped then real", `\${input} ${input}`, "${input} hi"},
		{"missing column left as-is", "${nope}", "${nope}"},
		{"nil value becomes empty", "x${empty}y", "xy"},
		{"unterminated reference", "${input", "${input"},
		{"lone backslash", `a\b`, `a\b`},
		{"backslash before text", `\$x`, `\$x`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Interpolate(tt.template, row))
		})
	}
}

func TestPromptReferences(t *testing.T) {
	refs := PromptReferences(`A:${x} B:${y} again:${x} escaped:\${z}`)
	assert.Equal(t, []string{"x", "y"}, refs)

	assert.Empty(t, PromptReferences("no references here"))
	assert.Empty(t, PromptReferences(""))
}

func TestLastUserIndex(t *testing.T) {
	assert.Equal(t, -1, LastUserIndex(nil))
	assert.Equal(t, 0, LastUserIndex([]ChatMessage{UserMessage("q")}))
	assert.Equal(t, 1, LastUserIndex([]ChatMessage{
		SystemMessage("s"), UserMessage("q"),
	}))
	assert.Equal(t, 1, LastUserIndex([]ChatMessage{
		SystemMessage("s"), UserMessage("q"), AssistantMessage("a"),
	}))
	assert.Equal(t, -1, LastUserIndex([]ChatMessage{
		SystemMessage("s"), AssistantMessage("a"),
	}))
}

func TestCellString(t *testing.T) {
	assert.Equal(t, "", CellString(nil))
	assert.Equal(t, "hi", CellString("hi"))
	assert.Equal(t, "3", CellString(3))
	assert.Equal(t, "3.5", CellString(3.5))
	assert.Equal(t, "true", CellString(true))
}
