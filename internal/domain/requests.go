package domain

import (
	"github.com/gridify/gentable/internal/domain/errors"
)

// RegenStrategy selects which existing cells to preserve versus recompute
// during a regenerate request.
type RegenStrategy string

const (
	// RegenRunAll regenerates every output column.
	RegenRunAll RegenStrategy = "run_all"
	// RegenRunSelected regenerates only the target output column.
	RegenRunSelected RegenStrategy = "run_selected"
	// RegenRunBefore regenerates the target and every output before it.
	RegenRunBefore RegenStrategy = "run_before"
	// RegenRunAfter regenerates every output strictly after the target.
	RegenRunAfter RegenStrategy = "run_after"
)

// Valid reports whether the strategy is one of the known values.
func (s RegenStrategy) Valid() bool {
	switch s {
	case RegenRunAll, RegenRunSelected, RegenRunBefore, RegenRunAfter:
		return true
	}
	return false
}

// MaxRowsPerRequest bounds the batch size of add and regen requests.
const MaxRowsPerRequest = 100

// AddRowsRequest asks the orchestrator to add and generate a batch of rows.
type AddRowsRequest struct {
	TableID    string           `json:"table_id"`
	Data       []map[string]any `json:"data"`
	Stream     bool             `json:"stream"`
	Concurrent bool             `json:"concurrent"`
}

// Validate checks request-level constraints. Violations abort the batch
// before any row runs.
func (r *AddRowsRequest) Validate() error {
	if r.TableID == "" {
		return errors.BadInput("`table_id` is required.")
	}
	if len(r.Data) < 1 || len(r.Data) > MaxRowsPerRequest {
		return errors.BadInput(
			"`data` must contain between 1 and %d rows, got %d.", MaxRowsPerRequest, len(r.Data))
	}
	return nil
}

// RegenRowsRequest asks the orchestrator to regenerate a batch of existing
// rows.
type RegenRowsRequest struct {
	TableID        string        `json:"table_id"`
	RowIDs         []string      `json:"row_ids"`
	RegenStrategy  RegenStrategy `json:"regen_strategy"`
	OutputColumnID string        `json:"output_column_id,omitempty"`
	Stream         bool          `json:"stream"`
	Concurrent     bool          `json:"concurrent"`
}

// Validate checks request-level constraints.
func (r *RegenRowsRequest) Validate() error {
	if r.TableID == "" {
		return errors.BadInput("`table_id` is required.")
	}
	if len(r.RowIDs) < 1 || len(r.RowIDs) > MaxRowsPerRequest {
		return errors.BadInput(
			"`row_ids` must contain between 1 and %d ids, got %d.", MaxRowsPerRequest, len(r.RowIDs))
	}
	if r.RegenStrategy == "" {
		r.RegenStrategy = RegenRunAll
	}
	if !r.RegenStrategy.Valid() {
		return errors.BadInput("Invalid regen strategy: %q.", string(r.RegenStrategy))
	}
	if r.RegenStrategy != RegenRunAll && r.OutputColumnID == "" {
		return errors.BadInput(
			"`output_column_id` is required when `regen_strategy` is not %q.", string(RegenRunAll))
	}
	return nil
}
