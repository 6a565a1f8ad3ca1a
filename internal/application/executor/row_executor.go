package executor

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/gridify/gentable/internal/domain"
	"github.com/gridify/gentable/internal/domain/errors"
)

// RowSpec describes one row of a batch: either fresh data to add, or an
// existing row to regenerate under a strategy.
type RowSpec struct {
	IsRegen        bool
	Data           map[string]any
	RowID          string
	Strategy       domain.RegenStrategy
	OutputColumnID string
}

// taskCompletion funnels a finished cell task back into the scheduler loop,
// which is the row dict's single writer.
type taskCompletion struct {
	task    *domain.Task
	outcome cellOutcome
}

// RowExecutor holds the state of one row and schedules its cell tasks with
// bounded column concurrency, respecting dependencies and propagating
// upstream errors.
type RowExecutor struct {
	caps     Capabilities
	table    *domain.Table
	cols     map[string]domain.ColumnMeta
	analysis *DependencyAnalysis
	cells    *CellExecutor
	spec     RowSpec

	colBatch  int
	requestID string
	projectID string

	rowID       string
	columnDict  domain.Row
	tasks       []*domain.Task
	errored     map[string]bool
	completions chan taskCompletion
}

// NewRowExecutor creates an executor for one row. Regen target validation
// happens here so a bad target aborts the batch before any row runs.
func NewRowExecutor(caps Capabilities, table *domain.Table, analysis *DependencyAnalysis, cells *CellExecutor, spec RowSpec, colBatch int, requestID, projectID string) (*RowExecutor, error) {
	x := &RowExecutor{
		caps:        caps,
		table:       table,
		cols:        table.Columns.ColumnMap(),
		analysis:    analysis,
		cells:       cells,
		spec:        spec,
		colBatch:    colBatch,
		requestID:   requestID,
		projectID:   projectID,
		errored:     make(map[string]bool),
		completions: make(chan taskCompletion),
	}
	if x.colBatch < 1 {
		x.colBatch = 1
	}
	if !spec.IsRegen {
		x.rowID = domain.NewRowID()
		return x, nil
	}

	x.rowID = spec.RowID
	if spec.Strategy != domain.RegenRunAll {
		if spec.OutputColumnID == "" {
			return nil, errors.BadInput(
				"`output_column_id` is required when `regen_strategy` is not %q.", string(domain.RegenRunAll))
		}
		col, ok := table.Columns.Column(spec.OutputColumnID)
		if !ok || !col.IsOutput() {
			return nil, errors.NotFound(
				"Output column %q not found in table %q.", spec.OutputColumnID, table.ID)
		}
	}
	return x, nil
}

// RowID returns the row identifier, assigned at construction for add
// requests.
func (x *RowExecutor) RowID() string {
	return x.rowID
}

// prepare initializes the row dict from the request and builds one task per
// output column whose value is not already present.
func (x *RowExecutor) prepare(ctx context.Context) error {
	if x.spec.IsRegen {
		if err := x.prepareRegen(ctx); err != nil {
			return err
		}
	} else {
		x.prepareAdd()
	}

	x.tasks = x.tasks[:0]
	for _, col := range x.table.Columns {
		if col.IsInfo() || col.IsState() {
			continue
		}
		if col.Gen == nil {
			// Default missing inputs so dependent tasks never wait forever.
			if _, ok := x.columnDict[col.ID]; !ok {
				x.columnDict[col.ID] = nil
			}
			continue
		}
		if _, ok := x.columnDict[col.ID]; ok {
			log.Debug().
				Str("row_id", x.rowID).
				Str("column", col.ID).
				Msg("Skipped generation for pre-filled column")
			continue
		}
		x.tasks = append(x.tasks, domain.NewTask(col))
	}
	log.Debug().
		Str("request_id", x.requestID).
		Str("row_id", x.rowID).
		Int("tasks", len(x.tasks)).
		Msg("Prepared row tasks")
	return nil
}

// prepareAdd seeds the row dict from caller-supplied data, keeping only
// known non-state columns, generating the row id, and dropping any
// caller-supplied update timestamp.
func (x *RowExecutor) prepareAdd() {
	x.columnDict = make(domain.Row, len(x.spec.Data)+2)
	for k, v := range x.spec.Data {
		col, ok := x.cols[k]
		if !ok || col.IsState() || k == domain.ColumnUpdatedAt {
			continue
		}
		x.columnDict[k] = v
	}
	x.columnDict[domain.ColumnRowID] = x.rowID
}

// prepareRegen fetches the current row and drops the cells the strategy
// wants regenerated.
func (x *RowExecutor) prepareRegen(ctx context.Context) error {
	row, err := x.caps.Store.GetRow(ctx, x.projectID, x.table.ID, x.rowID)
	if err != nil {
		return err
	}

	keep := func(string) bool { return true }
	switch x.spec.Strategy {
	case domain.RegenRunAll:
		keep = func(k string) bool {
			col, ok := x.cols[k]
			if !ok {
				return false
			}
			if col.IsState() {
				data, ok := x.cols[col.DataColumnID()]
				return ok && !data.IsOutput()
			}
			return !col.IsOutput()
		}
	case domain.RegenRunSelected:
		target := x.spec.OutputColumnID
		keep = func(k string) bool {
			return k != target && k != target+domain.StateSuffix
		}
	case domain.RegenRunBefore, domain.RegenRunAfter:
		outputs := x.table.Columns.OutputColumns()
		idx := -1
		for i, col := range outputs {
			if col.ID == x.spec.OutputColumnID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return errors.BadInput(
				"Column %q not found in table %q.", x.spec.OutputColumnID, x.table.ID)
		}
		// Outputs the strategy preserves: strictly after the target for
		// RUN_BEFORE, at or before it for RUN_AFTER.
		kept := make(map[string]bool)
		var preserved []domain.ColumnMeta
		if x.spec.Strategy == domain.RegenRunBefore {
			preserved = outputs[idx+1:]
		} else {
			preserved = outputs[:idx+1]
		}
		for _, col := range preserved {
			kept[col.ID] = true
			kept[col.StateColumnID()] = true
		}
		for _, col := range x.table.Columns {
			if !col.IsOutput() && !col.IsState() {
				kept[col.ID] = true
			}
		}
		keep = func(k string) bool {
			return kept[k] || k == domain.ColumnRowID
		}
	default:
		return errors.BadInput("Invalid regen strategy: %q.", string(x.spec.Strategy))
	}

	x.columnDict = make(domain.Row, len(row))
	for k, v := range row {
		if k == domain.ColumnUpdatedAt {
			continue
		}
		if keep(k) {
			x.columnDict[k] = v
		}
	}
	x.columnDict[domain.ColumnRowID] = x.rowID
	return nil
}

// Run executes the row's tasks and pushes every cell event plus the final
// row record through emit. Per-row failures are contained: the row record is
// always emitted, with nil data when the row could not be prepared.
func (x *RowExecutor) Run(ctx context.Context, emit func(Result)) {
	if err := x.prepare(ctx); err != nil {
		log.Error().
			Err(err).
			Str("request_id", x.requestID).
			Str("table", x.table.ID).
			Str("row_id", x.rowID).
			Msg("Failed to prepare row")
		emit(RowResult{RowID: x.rowID})
		return
	}

	running := 0
	for {
		pending := x.pendingTasks()
		if len(pending) == 0 && running == 0 {
			break
		}
		for _, task := range pending {
			if running >= x.colBatch {
				break
			}
			if !x.isTaskReady(task) {
				continue
			}
			task.Status = domain.TaskRunning
			running++
			snapshot := x.columnDict.Clone()
			erroredNow := make(map[string]bool, len(x.errored))
			for k := range x.errored {
				erroredNow[k] = true
			}
			go func(task *domain.Task) {
				outcome := x.cells.Execute(ctx, task, x.rowID, snapshot, erroredNow, emit)
				x.completions <- taskCompletion{task: task, outcome: outcome}
			}(task)
		}
		if running == 0 {
			// Nothing ready and nothing in flight. Unreachable when the
			// left-of-self rule holds, but never wait forever.
			x.failStalled(pending, emit)
			break
		}
		// One signal per cell completion, then re-scan readiness.
		c := <-x.completions
		x.applyCompletion(c)
		running--
	}
	log.Debug().
		Str("request_id", x.requestID).
		Str("row_id", x.rowID).
		Msg("All tasks completed")
	emit(RowResult{RowID: x.rowID, Data: x.columnDict})
}

func (x *RowExecutor) pendingTasks() []*domain.Task {
	var pending []*domain.Task
	for _, t := range x.tasks {
		if t.Status == domain.TaskPending {
			pending = append(pending, t)
		}
	}
	return pending
}

// isTaskReady reports whether every dependency of the task is present in the
// row dict. Dependencies are restricted to columns that exist in the table.
func (x *RowExecutor) isTaskReady(task *domain.Task) bool {
	for _, dep := range x.analysis.TaskDependencies(task) {
		if _, ok := x.columnDict[dep]; !ok {
			return false
		}
	}
	return true
}

// applyCompletion writes the task's value into the row dict, folds its state
// into the state column, and records errors. Runs only on the scheduler
// goroutine, keeping the row dict single-writer.
func (x *RowExecutor) applyCompletion(c taskCompletion) {
	colID := c.task.OutputColumnID
	x.columnDict[colID] = c.outcome.value
	if len(c.outcome.state) > 0 {
		stateCol := colID + domain.StateSuffix
		state, _ := x.columnDict[stateCol].(map[string]any)
		if state == nil {
			state = make(map[string]any, len(c.outcome.state))
		}
		for k, v := range c.outcome.state {
			state[k] = v
		}
		x.columnDict[stateCol] = state
	}
	if c.outcome.errored {
		x.errored[colID] = true
	}
	if x.caps.Metrics != nil {
		x.caps.Metrics.RecordCell(c.outcome.errored)
	}
	c.task.Status = domain.TaskDone
}

// failStalled contains tasks whose dependencies can never be satisfied,
// emitting an error terminal event for each.
func (x *RowExecutor) failStalled(pending []*domain.Task, emit func(Result)) {
	for _, task := range pending {
		err := errors.Upstream(
			"Dependencies of column %q can never be satisfied.", task.OutputColumnID)
		outcome := x.cells.errorOutcome(task, x.rowID, "", emit, err)
		x.applyCompletion(taskCompletion{task: task, outcome: outcome})
	}
}
