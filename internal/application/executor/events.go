package executor

import "github.com/gridify/gentable/internal/domain"

// Result is an item on the orchestrator's shared output queue: either a
// cell-level event or a row-final record.
type Result interface {
	isResult()
}

// TaskResult carries one cell-level event tagged with its row and output
// column. Response is a *domain.CellCompletionChunk or
// *domain.CellReferences when streaming, or a *domain.CellCompletionResponse
// for non-streaming requests.
type TaskResult struct {
	RowID            string
	OutputColumnName string
	Response         any
}

func (TaskResult) isResult() {}

// RowResult is the row-final record: the full row dict after every task of
// the row completed. Data is nil when the row could not be prepared at all
// (e.g. the underlying row of a regen request is gone); such rows are not
// persisted.
type RowResult struct {
	RowID string
	Data  domain.Row
}

func (RowResult) isResult() {}
