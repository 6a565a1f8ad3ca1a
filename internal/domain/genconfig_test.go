package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaJSONRoundTrip(t *testing.T) {
	schema := Schema{
		{ID: ColumnRowID, Dtype: DtypeStr, Order: 0},
		{ID: "input", Dtype: DtypeStr, Order: 1},
		{ID: "summary", Dtype: DtypeStr, Order: 2, Gen: &LLMGenConfig{
			Model:        "gpt-4o-mini",
			SystemPrompt: "You summarize.",
			UserPrompt:   "S:${input}",
			MultiTurn:    true,
			RAGParams:    &RAGParams{TableID: "kb", K: 2, InlineCitations: true},
		}},
		{ID: "vec", Dtype: VectorDtype("f32", 2), Order: 3, Gen: &EmbedGenConfig{
			EmbeddingModel: "text-embedding-3-small",
			SourceColumn:   "summary",
		}},
		{ID: "script_out", Dtype: DtypeStr, Order: 4, Gen: &CodeGenConfig{SourceColumn: "input"}},
		{ID: "derived", Dtype: DtypeInt, Order: 5, Gen: &PythonGenConfig{Code: "len(input)"}},
	}

	data, err := json.Marshal(schema)
	require.NoError(t, err)

	var decoded Schema
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, len(schema))

	llm, ok := decoded[2].Gen.(*LLMGenConfig)
	require.True(t, ok)
	assert.Equal(t, "S:${input}", llm.UserPrompt)
	assert.True(t, llm.MultiTurn)
	require.NotNil(t, llm.RAGParams)
	assert.Equal(t, "kb", llm.RAGParams.TableID)
	assert.True(t, llm.RAGParams.InlineCitations)

	embed, ok := decoded[3].Gen.(*EmbedGenConfig)
	require.True(t, ok)
	assert.Equal(t, "summary", embed.SourceColumn)

	code, ok := decoded[4].Gen.(*CodeGenConfig)
	require.True(t, ok)
	assert.Equal(t, "input", code.SourceColumn)

	python, ok := decoded[5].Gen.(*PythonGenConfig)
	require.True(t, ok)
	assert.Equal(t, "len(input)", python.Code)
}

func TestUnmarshalGenConfigUnknownObject(t *testing.T) {
	_, err := UnmarshalGenConfig([]byte(`{"object":"gen_config.bogus"}`))
	assert.Error(t, err)
}

func TestColumnFlags(t *testing.T) {
	assert.True(t, ColumnMeta{ID: ColumnRowID}.IsInfo())
	assert.True(t, ColumnMeta{ID: ColumnUpdatedAt}.IsInfo())
	assert.True(t, ColumnMeta{ID: "summary_"}.IsState())
	assert.True(t, ColumnMeta{ID: "v", Dtype: VectorDtype("f32", 8)}.IsVector())
	assert.False(t, ColumnMeta{ID: "summary_", Gen: &CodeGenConfig{}}.IsOutput())
	assert.True(t, ColumnMeta{ID: "out", Gen: &CodeGenConfig{}}.IsOutput())

	elem, dim, ok := VectorDtype("f16", 768).VectorSpec()
	assert.True(t, ok)
	assert.Equal(t, "f16", elem)
	assert.Equal(t, 768, dim)
}

func TestLeftOfColumns(t *testing.T) {
	schema := Schema{
		{ID: ColumnRowID, Dtype: DtypeStr},
		{ID: "a", Dtype: DtypeStr},
		{ID: "a_", Dtype: DtypeStr},
		{ID: "v", Dtype: VectorDtype("f32", 2)},
		{ID: "b", Dtype: DtypeStr},
		{ID: "c", Dtype: DtypeStr, Gen: &PythonGenConfig{Code: "1"}},
	}
	assert.Equal(t, []string{"a", "b"}, schema.LeftOfColumns("c"))
	assert.Nil(t, schema.LeftOfColumns("missing"))
}
