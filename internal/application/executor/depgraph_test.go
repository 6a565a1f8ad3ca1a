package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridify/gentable/internal/domain"
)

func llmCol(id, prompt string) domain.ColumnMeta {
	return domain.ColumnMeta{ID: id, Dtype: domain.DtypeStr, Gen: &domain.LLMGenConfig{UserPrompt: prompt}}
}

func inputCol(id string) domain.ColumnMeta {
	return domain.ColumnMeta{ID: id, Dtype: domain.DtypeStr}
}

func TestAnalyzeDependenciesStraightLine(t *testing.T) {
	schema := domain.Schema{
		inputCol("input"),
		llmCol("summary", "S:${input}"),
	}
	a := AnalyzeDependencies(schema)

	assert.Equal(t, []string{"input"}, a.Dependencies("summary"))
	assert.Equal(t, [][]string{{"summary"}}, a.Levels())
	assert.Equal(t, 1, a.MaxWidth())
}

func TestAnalyzeDependenciesDiamond(t *testing.T) {
	schema := domain.Schema{
		inputCol("x"),
		llmCol("a", "A:${x}"),
		llmCol("b", "B:${x}"),
		llmCol("c", "C:${a}|${b}"),
	}
	a := AnalyzeDependencies(schema)

	assert.ElementsMatch(t, []string{"a", "b"}, a.Dependencies("c"))
	levels := a.Levels()
	require.Len(t, levels, 2)
	assert.ElementsMatch(t, []string{"a", "b"}, levels[0])
	assert.Equal(t, []string{"c"}, levels[1])
	assert.Equal(t, 2, a.MaxWidth())
}

// Every output column appears in exactly one level, and no column depends on
// a column at its own or a later level.
func TestLevelsCoverAndRespectTopology(t *testing.T) {
	schema := domain.Schema{
		inputCol("x"),
		llmCol("a", "A:${x}"),
		llmCol("b", "B:${a}"),
		llmCol("c", "C:${a}|${b}"),
		llmCol("d", "D:${x}"),
	}
	a := AnalyzeDependencies(schema)

	seen := make(map[string]int)
	levelOf := make(map[string]int)
	total := 0
	for i, level := range a.Levels() {
		for _, id := range level {
			seen[id]++
			levelOf[id] = i
			total++
		}
	}
	assert.Equal(t, len(schema.OutputColumns()), total)
	for id, n := range seen {
		assert.Equalf(t, 1, n, "column %s appears %d times", id, n)
	}
	for _, col := range schema.OutputColumns() {
		for _, dep := range a.Dependencies(col.ID) {
			if _, isOutput := levelOf[dep]; isOutput {
				assert.Lessf(t, levelOf[dep], levelOf[col.ID],
					"column %s at level %d depends on %s at level %d",
					col.ID, levelOf[col.ID], dep, levelOf[dep])
			}
		}
	}
}

func TestUnknownReferencesIgnored(t *testing.T) {
	schema := domain.Schema{
		inputCol("input"),
		llmCol("out", "uses ${missing} and ${input}"),
	}
	a := AnalyzeDependencies(schema)
	assert.Equal(t, []string{"input"}, a.Dependencies("out"))
}

func TestEscapedReferencesNotDependencies(t *testing.T) {
	schema := domain.Schema{
		inputCol("input"),
		llmCol("out", `literal \${input}`),
	}
	a := AnalyzeDependencies(schema)
	assert.Empty(t, a.Dependencies("out"))
}

func TestSystemPromptReferencesCount(t *testing.T) {
	schema := domain.Schema{
		inputCol("tone"),
		domain.ColumnMeta{ID: "out", Dtype: domain.DtypeStr, Gen: &domain.LLMGenConfig{
			SystemPrompt: "Respond in a ${tone} tone.",
			UserPrompt:   "hello",
		}},
	}
	a := AnalyzeDependencies(schema)
	assert.Equal(t, []string{"tone"}, a.Dependencies("out"))
}

func TestPythonFixedDependsOnLeftColumns(t *testing.T) {
	schema := domain.Schema{
		inputCol(domain.ColumnRowID),
		inputCol("a"),
		llmCol("b", "B:${a}"),
		domain.ColumnMeta{ID: "p", Dtype: domain.DtypeStr, Gen: &domain.PythonGenConfig{Code: "a"}},
		inputCol("after"),
	}
	a := AnalyzeDependencies(schema)
	assert.Equal(t, []string{"a", "b"}, a.Dependencies("p"))

	levels := a.Levels()
	require.Len(t, levels, 2)
	assert.Equal(t, []string{"b"}, levels[0])
	assert.Equal(t, []string{"p"}, levels[1])
}

func TestEmbedAndCodeDependencies(t *testing.T) {
	schema := domain.Schema{
		inputCol("src"),
		domain.ColumnMeta{ID: "vec", Dtype: domain.VectorDtype("f32", 2), Gen: &domain.EmbedGenConfig{SourceColumn: "src"}},
		domain.ColumnMeta{ID: "run", Dtype: domain.DtypeStr, Gen: &domain.CodeGenConfig{SourceColumn: "src"}},
	}
	a := AnalyzeDependencies(schema)
	assert.Equal(t, []string{"src"}, a.Dependencies("vec"))
	assert.Equal(t, []string{"src"}, a.Dependencies("run"))
}

func TestPlanConcurrency(t *testing.T) {
	// Serial when not concurrent.
	plan := PlanConcurrency(20, 4, false, false, 64, 1000)
	assert.Equal(t, 1, plan.ColBatch)
	assert.Equal(t, 1, plan.RowBatch)

	// Concurrent: product stays under the ceiling.
	plan = PlanConcurrency(100, 4, true, false, 64, 1000)
	assert.Equal(t, 4, plan.ColBatch)
	assert.Equal(t, 16, plan.RowBatch)
	assert.LessOrEqual(t, plan.ColBatch*plan.RowBatch, 64)
	assert.Equal(t, 10, plan.WriteBatch)

	// Multi-turn forces serial rows and per-row writes.
	plan = PlanConcurrency(100, 4, true, true, 64, 1000)
	assert.Equal(t, 1, plan.RowBatch)
	assert.Equal(t, 1, plan.WriteBatch)

	// Wide tables are clamped by the ceiling.
	plan = PlanConcurrency(10, 200, true, false, 64, 1000)
	assert.Equal(t, 64, plan.ColBatch)
	assert.Equal(t, 1, plan.RowBatch)

	// Write batch is bounded above by the configured maximum, except that
	// the floor of 10 wins over a smaller maximum.
	plan = PlanConcurrency(100, 1, true, false, 64, 5)
	assert.Equal(t, 10, plan.WriteBatch)
	plan = PlanConcurrency(10000, 1, true, false, 64, 500)
	assert.Equal(t, 500, plan.WriteBatch)
}
