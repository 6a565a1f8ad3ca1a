package executor

import (
	"github.com/gridify/gentable/internal/domain"
)

// DependencyAnalysis holds the per-table dependency structure derived from
// the column schema: the upstream set of every output column, the Kahn-style
// topological levels over output columns, and the widest level.
//
// The graph is acyclic by construction: an output column may only reference
// columns ordered strictly before it, which schema validation enforces
// upstream of this package. No cycle detection is performed here.
type DependencyAnalysis struct {
	schema domain.Schema
	cols   map[string]domain.ColumnMeta
	deps   map[string][]string
	levels [][]string
}

// AnalyzeDependencies parses every output column's generation configuration
// and builds the table's dependency structure.
func AnalyzeDependencies(schema domain.Schema) *DependencyAnalysis {
	a := &DependencyAnalysis{
		schema: schema,
		cols:   schema.ColumnMap(),
		deps:   make(map[string][]string),
	}
	for _, col := range schema.OutputColumns() {
		a.deps[col.ID] = a.extract(col)
	}
	a.levels = a.buildLevels()
	return a
}

// extract returns the upstream column ids of an output column, restricted to
// columns present in the table. References to unknown columns are ignored so
// execution never waits on them.
func (a *DependencyAnalysis) extract(col domain.ColumnMeta) []string {
	var refs []string
	switch cfg := col.Gen.(type) {
	case *domain.LLMGenConfig:
		seen := make(map[string]bool)
		for _, ref := range domain.PromptReferences(cfg.SystemPrompt) {
			if !seen[ref] {
				seen[ref] = true
				refs = append(refs, ref)
			}
		}
		for _, ref := range domain.PromptReferences(cfg.UserPrompt) {
			if !seen[ref] {
				seen[ref] = true
				refs = append(refs, ref)
			}
		}
	case *domain.EmbedGenConfig:
		refs = []string{cfg.SourceColumn}
	case *domain.CodeGenConfig:
		refs = []string{cfg.SourceColumn}
	case *domain.PythonGenConfig:
		refs = a.schema.LeftOfColumns(col.ID)
	}
	out := refs[:0]
	for _, ref := range refs {
		if _, ok := a.cols[ref]; ok {
			out = append(out, ref)
		}
	}
	return out
}

// Dependencies returns the upstream column ids of the given output column.
func (a *DependencyAnalysis) Dependencies(columnID string) []string {
	return a.deps[columnID]
}

// Levels returns the topological partition of output columns: every column
// in level k depends only on columns in levels < k.
func (a *DependencyAnalysis) Levels() [][]string {
	return a.levels
}

// MaxWidth returns the cardinality of the widest level, used to size column
// concurrency. At least 1.
func (a *DependencyAnalysis) MaxWidth() int {
	width := 1
	for _, level := range a.levels {
		if len(level) > width {
			width = len(level)
		}
	}
	return width
}

// buildLevels runs a Kahn-style BFS over the output columns. Only edges
// between output columns matter for leveling; input columns are always
// available.
func (a *DependencyAnalysis) buildLevels() [][]string {
	outputs := a.schema.OutputColumns()
	if len(outputs) == 0 {
		return nil
	}
	outputIDs := make(map[string]bool, len(outputs))
	for _, col := range outputs {
		outputIDs[col.ID] = true
	}

	adjacency := make(map[string][]string)
	inDegree := make(map[string]int, len(outputs))
	for _, col := range outputs {
		inDegree[col.ID] = 0
	}
	for _, col := range outputs {
		for _, dep := range a.deps[col.ID] {
			if !outputIDs[dep] {
				continue
			}
			adjacency[dep] = append(adjacency[dep], col.ID)
			inDegree[col.ID]++
		}
	}

	var queue []string
	for _, col := range outputs {
		if inDegree[col.ID] == 0 {
			queue = append(queue, col.ID)
		}
	}

	var levels [][]string
	for len(queue) > 0 {
		level := queue
		queue = nil
		for _, id := range level {
			for _, dependent := range adjacency[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					queue = append(queue, dependent)
				}
			}
		}
		levels = append(levels, level)
	}
	return levels
}

// TaskDependencies returns the columns a task must wait for: its extracted
// upstream set restricted to columns that exist in the schema, whether they
// are inputs or outputs.
func (a *DependencyAnalysis) TaskDependencies(task *domain.Task) []string {
	return a.deps[task.OutputColumnID]
}
