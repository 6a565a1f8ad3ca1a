package domain

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contentChunk(id, content string) *CellCompletionChunk {
	return &CellCompletionChunk{
		Object:  ObjectCellChunk,
		ID:      id,
		Model:   "stub-model",
		Choices: []ChunkChoice{{Delta: ChunkDelta{Content: content}}},
	}
}

func TestAppendDeltaFoldsChunks(t *testing.T) {
	var resp CellCompletionResponse
	resp.AppendDelta(contentChunk("c-1", "hel"))
	resp.AppendDelta(contentChunk("c-1", "lo"))

	final := contentChunk("c-1", "")
	final.Choices[0].FinishReason = "stop"
	final.Usage = &ChatUsage{PromptTokens: 2, CompletionTokens: 3, TotalTokens: 5}
	resp.AppendDelta(final)

	assert.Equal(t, "c-1", resp.ID)
	assert.Equal(t, "stub-model", resp.Model)
	assert.Equal(t, "hello", resp.Content())
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
}

func TestChunkAccessors(t *testing.T) {
	chunk := contentChunk("c-1", "hi")
	assert.Equal(t, "hi", chunk.Content())
	assert.Empty(t, chunk.FinishReason())

	empty := &CellCompletionChunk{}
	assert.Empty(t, empty.Content())
	assert.Empty(t, empty.FinishReason())
}

func TestErrorContent(t *testing.T) {
	assert.Equal(t, "[ERROR] boom", ErrorContent(fmt.Errorf("  boom ")))
}
