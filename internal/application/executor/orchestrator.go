package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/gridify/gentable/internal/domain"
	"github.com/gridify/gentable/internal/domain/errors"
	"github.com/gridify/gentable/internal/utils"
)

// OrchestratorConfig carries the constructor-injected execution ceilings.
type OrchestratorConfig struct {
	// CellCeiling caps the product of concurrent cells across a batch.
	CellCeiling int
	// MaxWriteBatch caps how many finalized rows one durable write may carry.
	MaxWriteBatch int
}

// DefaultOrchestratorConfig returns the default ceilings.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{CellCeiling: 64, MaxWriteBatch: 1000}
}

// streamTerminator ends every SSE stream.
const streamTerminator = "data: [DONE]\n\n"

// Orchestrator drives a batch of rows with bounded row concurrency, funnels
// their streamed events into a single output, and batches finalized rows
// into durable writes.
type Orchestrator struct {
	caps      Capabilities
	table     *domain.Table
	plan      ConcurrencyPlan
	stream    bool
	isRegen   bool
	requestID string
	projectID string

	executors []*RowExecutor
	queue     chan Result
	batchRows []domain.Row
	egress    int64
}

// NewAddOrchestrator validates an add-rows request against the open table
// and prepares one row executor per input row. Validation failures abort the
// batch before any row runs.
func NewAddOrchestrator(caps Capabilities, cfg OrchestratorConfig, table *domain.Table, projectID, requestID string, req *domain.AddRowsRequest) (*Orchestrator, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.TableID != table.ID {
		return nil, errors.BadInput("Request table id %q does not match open table %q.", req.TableID, table.ID)
	}
	specs := make([]RowSpec, len(req.Data))
	for i, data := range req.Data {
		specs[i] = RowSpec{Data: data}
	}
	return newOrchestrator(caps, cfg, table, projectID, requestID, specs, req.Stream, req.Concurrent, false)
}

// NewRegenOrchestrator validates a regen-rows request against the open table
// and prepares one row executor per row id.
func NewRegenOrchestrator(caps Capabilities, cfg OrchestratorConfig, table *domain.Table, projectID, requestID string, req *domain.RegenRowsRequest) (*Orchestrator, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.TableID != table.ID {
		return nil, errors.BadInput("Request table id %q does not match open table %q.", req.TableID, table.ID)
	}
	specs := make([]RowSpec, len(req.RowIDs))
	for i, rowID := range req.RowIDs {
		specs[i] = RowSpec{
			IsRegen:        true,
			RowID:          rowID,
			Strategy:       req.RegenStrategy,
			OutputColumnID: req.OutputColumnID,
		}
	}
	return newOrchestrator(caps, cfg, table, projectID, requestID, specs, req.Stream, req.Concurrent, true)
}

func newOrchestrator(caps Capabilities, cfg OrchestratorConfig, table *domain.Table, projectID, requestID string, specs []RowSpec, stream, concurrent, isRegen bool) (*Orchestrator, error) {
	analysis := AnalyzeDependencies(table.Columns)

	multiTurn := false
	for _, col := range table.Columns.OutputColumns() {
		if llm, ok := col.Gen.(*domain.LLMGenConfig); ok && llm.MultiTurn {
			multiTurn = true
			break
		}
	}
	plan := PlanConcurrency(len(specs), analysis.MaxWidth(), concurrent, multiTurn, cfg.CellCeiling, cfg.MaxWriteBatch)
	log.Debug().
		Str("request_id", requestID).
		Str("table", table.ID).
		Int("columns", plan.ColBatch).
		Int("rows", plan.RowBatch).
		Int("write_batch", plan.WriteBatch).
		Bool("multi_turn", multiTurn).
		Bool("concurrent", concurrent).
		Msg("Concurrency plan determined")

	cells := NewCellExecutor(caps, table, analysis, requestID, projectID, stream, isRegen)
	o := &Orchestrator{
		caps:      caps,
		table:     table,
		plan:      plan,
		stream:    stream,
		isRegen:   isRegen,
		requestID: requestID,
		projectID: projectID,
		queue:     make(chan Result),
	}
	for _, spec := range specs {
		exe, err := NewRowExecutor(caps, table, analysis, cells, spec, plan.ColBatch, requestID, projectID)
		if err != nil {
			return nil, err
		}
		o.executors = append(o.executors, exe)
	}
	return o, nil
}

// RowIDs returns the row ids of the batch in request order.
func (o *Orchestrator) RowIDs() []string {
	ids := make([]string, len(o.executors))
	for i, exe := range o.executors {
		ids[i] = exe.RowID()
	}
	return ids
}

// run drives the batch: rows are spawned in windows of RowBatch, the shared
// queue is consumed until every row of the window finalized, and finalized
// rows are flushed in groups of WriteBatch. onEvent receives every cell
// event; its first error is remembered and returned, but consumption and
// persistence continue so in-flight rows still land durably.
func (o *Orchestrator) run(ctx context.Context, onEvent func(Result) error) error {
	var eventErr error
	pending := o.executors
	for len(pending) > 0 {
		// Cooperative cancellation: stop dispatching new rows, let the
		// current window drain.
		if err := ctx.Err(); err != nil {
			break
		}
		window := pending
		if len(window) > o.plan.RowBatch {
			window = window[:o.plan.RowBatch]
		}

		var wg sync.WaitGroup
		for _, exe := range window {
			wg.Add(1)
			go func(exe *RowExecutor) {
				defer wg.Done()
				exe.Run(ctx, o.emit)
			}(exe)
		}

		doneRows := 0
		for doneRows < len(window) {
			res := <-o.queue
			switch r := res.(type) {
			case TaskResult:
				if eventErr == nil {
					eventErr = onEvent(r)
				}
			case RowResult:
				doneRows++
				if r.Data != nil {
					o.batchRows = append(o.batchRows, r.Data)
					if o.caps.Metrics != nil {
						o.caps.Metrics.RecordRow()
					}
					o.caps.Observers.NotifyRowCompleted(o.table.ID, r.RowID)
					if len(o.batchRows) >= o.plan.WriteBatch {
						o.flush(ctx)
					}
				}
			}
		}
		wg.Wait()
		pending = pending[len(window):]
	}
	o.flush(ctx)
	return eventErr
}

func (o *Orchestrator) emit(r Result) {
	o.queue <- r
}

// flush writes the accumulated rows to the store. Persistence failures are
// logged with the rows' summarized shape and the batch continues.
func (o *Orchestrator) flush(ctx context.Context) {
	if len(o.batchRows) == 0 {
		return
	}
	var err error
	if o.isRegen {
		log.Info().
			Str("table", o.table.ID).
			Int("rows", len(o.batchRows)).
			Msg("Updating rows")
		updates := make(map[string]domain.Row, len(o.batchRows))
		for _, row := range o.batchRows {
			updates[row.ID()] = row
		}
		err = o.caps.Store.UpdateRows(ctx, o.projectID, o.table.ID, updates)
	} else {
		log.Info().
			Str("table", o.table.ID).
			Int("rows", len(o.batchRows)).
			Msg("Writing rows")
		err = o.caps.Store.AddRows(ctx, o.projectID, o.table.ID, o.batchRows)
	}
	if err != nil {
		shapes := make([]map[string]string, len(o.batchRows))
		for i, row := range o.batchRows {
			shape := make(map[string]string, len(row))
			for k, v := range row {
				shape[k] = utils.LogItem(v)
			}
			shapes[i] = shape
		}
		log.Error().
			Err(err).
			Str("table", o.table.ID).
			Interface("rows", shapes).
			Msg("Failed to persist rows")
	}
	o.batchRows = o.batchRows[:0]
}

// Run executes the batch for a non-streaming request and returns the
// aggregated response.
func (o *Orchestrator) Run(ctx context.Context) (*domain.MultiRowCompletionResponse, error) {
	rows := make(map[string]*domain.RowCompletionResponse, len(o.executors))
	order := make([]string, 0, len(o.executors))
	for _, exe := range o.executors {
		rows[exe.RowID()] = &domain.RowCompletionResponse{
			RowID:   exe.RowID(),
			Columns: make(map[string]*domain.CellCompletionResponse),
		}
		order = append(order, exe.RowID())
	}

	err := o.run(ctx, func(r Result) error {
		tr, ok := r.(TaskResult)
		if !ok {
			return nil
		}
		resp, ok := tr.Response.(*domain.CellCompletionResponse)
		if !ok {
			return nil
		}
		if row := rows[tr.RowID]; row != nil {
			row.Columns[tr.OutputColumnName] = resp
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := &domain.MultiRowCompletionResponse{Object: domain.ObjectMultiRow}
	for _, id := range order {
		out.Rows = append(out.Rows, *rows[id])
	}
	return out, nil
}

// Stream executes the batch for a streaming request, writing one
// `data: <json>\n\n` line per event to w and terminating with
// `data: [DONE]\n\n`. Total egress bytes are reported to the billing
// collector when one is configured.
func (o *Orchestrator) Stream(ctx context.Context, w io.Writer) error {
	flusher, _ := w.(http.Flusher)
	err := o.run(ctx, func(r Result) error {
		tr, ok := r.(TaskResult)
		if !ok {
			return nil
		}
		switch ev := tr.Response.(type) {
		case *domain.CellCompletionChunk:
			o.caps.Observers.NotifyCellChunk(o.table.ID, ev)
		case *domain.CellReferences:
			o.caps.Observers.NotifyCellReferences(o.table.ID, ev)
		}
		payload, merr := json.Marshal(tr.Response)
		if merr != nil {
			return fmt.Errorf("failed to encode stream event: %w", merr)
		}
		n, werr := fmt.Fprintf(w, "data: %s\n\n", payload)
		o.egress += int64(n)
		if werr != nil {
			return werr
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})

	if err == nil {
		n, werr := io.WriteString(w, streamTerminator)
		o.egress += int64(n)
		if werr == nil && flusher != nil {
			flusher.Flush()
		}
		err = werr
	}
	if o.caps.Metrics != nil {
		o.caps.Metrics.RecordEgress(o.egress)
	}
	if o.caps.Billing != nil {
		o.caps.Billing.CreateEgressEvents(float64(o.egress) / (1 << 30))
	}
	return err
}
