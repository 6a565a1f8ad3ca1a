package executor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gridify/gentable/internal/application/rag"
	"github.com/gridify/gentable/internal/domain"
	"github.com/gridify/gentable/internal/domain/errors"
	"github.com/gridify/gentable/internal/infrastructure/files"
	"github.com/gridify/gentable/internal/infrastructure/monitoring"
	"github.com/gridify/gentable/internal/utils"
)

// Capabilities bundles the external collaborators the execution core drives.
// Billing and Observers are optional.
type Capabilities struct {
	Store     domain.TableStore
	Router    domain.Router
	Knowledge domain.KnowledgeProvider
	Files     domain.URIReader
	Docs      domain.DocLoader
	Code      domain.CodeRunner
	Billing   domain.BillingCollector
	Observers *monitoring.ObserverManager
	Metrics   *monitoring.UsageCollector
}

// CellExecutor executes exactly one cell task against the external
// capabilities, translating provider outcomes into a uniform result or a
// contained cell error.
type CellExecutor struct {
	caps      Capabilities
	table     *domain.Table
	cols      map[string]domain.ColumnMeta
	analysis  *DependencyAnalysis
	assembler *rag.Assembler
	requestID string
	projectID string
	stream    bool
	isRegen   bool
}

// NewCellExecutor creates a cell executor for one request against one table.
func NewCellExecutor(caps Capabilities, table *domain.Table, analysis *DependencyAnalysis, requestID, projectID string, stream, isRegen bool) *CellExecutor {
	return &CellExecutor{
		caps:      caps,
		table:     table,
		cols:      table.Columns.ColumnMap(),
		analysis:  analysis,
		assembler: rag.NewAssembler(caps.Router, caps.Knowledge, projectID),
		requestID: requestID,
		projectID: projectID,
		stream:    stream,
		isRegen:   isRegen,
	}
}

// cellOutcome is what the row executor folds back into its row dict after a
// task completes.
type cellOutcome struct {
	value   any
	state   map[string]any
	errored bool
}

// Execute runs one cell task. snapshot is an immutable copy of the row dict
// taken at dispatch; errored is the set of columns that had failed by then.
// Events are pushed through emit; the returned outcome carries the value to
// write back.
func (e *CellExecutor) Execute(ctx context.Context, task *domain.Task, rowID string, snapshot domain.Row, errored map[string]bool, emit func(Result)) cellOutcome {
	log.Debug().
		Str("request_id", e.requestID).
		Str("row_id", rowID).
		Str("column", task.OutputColumnID).
		Msg("Processing column")
	switch cfg := task.Config.(type) {
	case *domain.LLMGenConfig:
		return e.executeChat(ctx, task, cfg, rowID, snapshot, errored, emit)
	case *domain.EmbedGenConfig:
		return e.executeEmbed(ctx, task, cfg, rowID, snapshot, errored)
	case *domain.CodeGenConfig:
		source := domain.CellString(snapshot[cfg.SourceColumn])
		gate := []string{cfg.SourceColumn}
		return e.executeProgram(ctx, task, rowID, snapshot, errored, emit, source, gate, domain.ModelCodeExecution)
	case *domain.PythonGenConfig:
		gate := e.table.Columns.LeftOfColumns(task.OutputColumnID)
		return e.executeProgram(ctx, task, rowID, snapshot, errored, emit, cfg.Code, gate, domain.ModelPythonFixed)
	default:
		return e.errorOutcome(task, rowID, "", emit,
			fmt.Errorf("unexpected task config type %T", task.Config))
	}
}

// checkUpstream fails fast when any dependency column already errored,
// before any external capability is invoked.
func (e *CellExecutor) checkUpstream(upstream []string, errored map[string]bool) error {
	var failed []string
	for _, col := range upstream {
		if errored[col] {
			failed = append(failed, fmt.Sprintf("%q", col))
		}
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		return errors.Upstream("Upstream columns errored out: %s", strings.Join(failed, ", "))
	}
	return nil
}

// executeChat runs an LLM chat cell, streaming token deltas when the request
// streams.
func (e *CellExecutor) executeChat(ctx context.Context, task *domain.Task, cfg *domain.LLMGenConfig, rowID string, snapshot domain.Row, errored map[string]bool, emit func(Result)) cellOutcome {
	outputColumn := task.OutputColumnID
	// Pre-filled cells skip generation entirely and emit no events.
	if value, ok := snapshot[outputColumn]; ok {
		log.Debug().Str("column", outputColumn).Msg("Skipped completion for pre-filled column")
		return cellOutcome{value: value}
	}

	if err := e.checkUpstream(e.analysis.Dependencies(outputColumn), errored); err != nil {
		return e.errorOutcome(task, rowID, "", emit, err)
	}

	var messages []domain.ChatMessage
	if cfg.MultiTurn {
		beforeRowID := ""
		if e.isRegen {
			beforeRowID = rowID
		}
		thread, err := ConversationThread(ctx, e.caps.Store, e.projectID, e.table, outputColumn, beforeRowID, false)
		if err != nil {
			return e.errorOutcome(task, rowID, "", emit, err)
		}
		messages = thread
	} else {
		messages = []domain.ChatMessage{domain.SystemMessage(cfg.SystemPrompt)}
	}

	userMsg, err := e.buildUserMessage(ctx, cfg.UserPrompt, snapshot)
	if err != nil {
		return e.errorOutcome(task, rowID, "", emit, err)
	}
	messages = append(messages, userMsg)

	req := &domain.ChatRequest{
		ID:              e.requestID,
		Model:           cfg.Model,
		Messages:        messages,
		RAGParams:       cfg.RAGParams,
		Temperature:     cfg.Temperature,
		TopP:            cfg.TopP,
		MaxTokens:       cfg.MaxTokens,
		ReasoningEffort: cfg.ReasoningEffort,
		Stream:          e.stream,
	}
	req, references, err := e.assembler.Apply(ctx, req)
	if err != nil {
		return e.errorOutcome(task, rowID, "", emit, err)
	}

	state := make(map[string]any)
	if references != nil {
		state["references"] = references
	}

	if e.stream {
		if references != nil {
			emit(TaskResult{
				RowID:            rowID,
				OutputColumnName: outputColumn,
				Response: &domain.CellReferences{
					Object:           domain.ObjectCellReferences,
					RowID:            rowID,
					OutputColumnName: outputColumn,
					SearchQuery:      references.SearchQuery,
					Chunks:           references.Chunks,
				},
			})
		}
		return e.streamChat(ctx, task, req, rowID, state, emit)
	}

	resp, err := e.caps.Router.Chat(ctx, req)
	if err != nil {
		return e.errorOutcome(task, rowID, "", emit, err)
	}
	if resp.ReasoningContent != "" {
		state["reasoning_content"] = resp.ReasoningContent
	}
	emit(TaskResult{
		RowID:            rowID,
		OutputColumnName: outputColumn,
		Response: &domain.CellCompletionResponse{
			Object:  domain.ObjectCellCompletion,
			ID:      resp.ID,
			Created: time.Now().Unix(),
			Model:   resp.Model,
			Usage:   resp.Usage,
			Choices: []domain.CompletionChoice{{
				Message:      domain.CompletionMessage{Role: domain.RoleAssistant, Content: resp.Content},
				FinishReason: resp.FinishReason,
			}},
			References: references,
		},
	})
	log.Debug().
		Str("column", outputColumn).
		Str("content", utils.MaskString(resp.Content)).
		Msg("Generated completion")
	return cellOutcome{value: resp.Content, state: state}
}

// streamChat forwards every delta of a streaming completion, tracking the
// accumulated content, reasoning trace and time to first content token.
func (e *CellExecutor) streamChat(ctx context.Context, task *domain.Task, req *domain.ChatRequest, rowID string, state map[string]any, emit func(Result)) cellOutcome {
	outputColumn := task.OutputColumnID
	var content, reasoning strings.Builder
	var reasoningTime float64 = -1

	t0 := time.Now()
	deltas, errs := e.caps.Router.ChatStream(ctx, req)
	for delta := range deltas {
		content.WriteString(delta.Content)
		reasoning.WriteString(delta.ReasoningContent)
		if delta.Content != "" && reasoningTime < 0 {
			reasoningTime = time.Since(t0).Seconds()
		}
		emit(TaskResult{
			RowID:            rowID,
			OutputColumnName: outputColumn,
			Response: &domain.CellCompletionChunk{
				Object:           domain.ObjectCellChunk,
				RowID:            rowID,
				OutputColumnName: outputColumn,
				ID:               delta.ID,
				Created:          time.Now().Unix(),
				Model:            delta.Model,
				Usage:            delta.Usage,
				Choices: []domain.ChunkChoice{{
					Delta: domain.ChunkDelta{
						Content:          delta.Content,
						ReasoningContent: delta.ReasoningContent,
					},
					FinishReason: delta.FinishReason,
				}},
			},
		})
	}
	if reasoning.Len() > 0 {
		state["reasoning_content"] = reasoning.String()
	}
	if reasoningTime >= 0 {
		state["reasoning_time"] = reasoningTime
	}
	if err := <-errs; err != nil {
		return e.errorOutcome(task, rowID, "", emit, err, withState(state))
	}
	log.Debug().
		Str("column", outputColumn).
		Str("content", utils.MaskString(content.String())).
		Msg("Streamed completion")
	return cellOutcome{value: content.String(), state: state}
}

// executeEmbed embeds the source cell value into a unit-norm vector. Embed
// cells emit no token events; failures leave the cell empty without marking
// the column errored.
func (e *CellExecutor) executeEmbed(ctx context.Context, task *domain.Task, cfg *domain.EmbedGenConfig, rowID string, snapshot domain.Row, errored map[string]bool) cellOutcome {
	if value, ok := snapshot[task.OutputColumnID]; ok && value != nil {
		return cellOutcome{value: value}
	}
	if err := e.checkUpstream([]string{cfg.SourceColumn}, errored); err != nil {
		log.Info().
			Err(err).
			Str("column", task.OutputColumnID).
			Msg("Skipping embedding due to upstream error")
		return cellOutcome{}
	}
	source := domain.CellString(snapshot[cfg.SourceColumn])
	if strings.TrimSpace(source) == "" {
		source = "."
	}
	vecs, err := e.caps.Router.Embed(ctx, cfg.EmbeddingModel, []string{source})
	if err != nil || len(vecs) == 0 {
		log.Error().
			Err(err).
			Str("table", e.table.ID).
			Str("column", task.OutputColumnID).
			Msg("Failed to embed cell")
		return cellOutcome{}
	}
	return cellOutcome{value: normalizeVector(vecs[0])}
}

// normalizeVector L2-normalizes the vector in place and returns it.
func normalizeVector(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// executeProgram runs a code or fixed-program cell: the program text is
// dispatched to the code executor against a byte-loaded snapshot of the row.
func (e *CellExecutor) executeProgram(ctx context.Context, task *domain.Task, rowID string, snapshot domain.Row, errored map[string]bool, emit func(Result), source string, gate []string, model string) cellOutcome {
	outputColumn := task.OutputColumnID
	if value, ok := snapshot[outputColumn]; ok {
		log.Debug().Str("column", outputColumn).Msg("Skipped code execution for pre-filled column")
		return cellOutcome{value: value}
	}
	if err := e.checkUpstream(gate, errored); err != nil {
		return e.errorOutcome(task, rowID, model, emit, err)
	}

	rowData := e.codeSnapshot(ctx, snapshot)
	var result any
	if source != "" && len(rowData) > 0 {
		var err error
		result, err = e.caps.Code.Run(ctx, source, rowData, outputColumn, task.Dtype)
		if err != nil {
			return e.errorOutcome(task, rowID, model, emit, err)
		}
	}
	content := domain.CellString(result)
	e.emitFinal(task, rowID, model, content, "", emit)
	log.Debug().
		Str("column", outputColumn).
		Str("content", utils.MaskString(content)).
		Msg("Executed code")
	return cellOutcome{value: result}
}

// codeSnapshot builds the byte-keyed row view handed to the code executor:
// image and audio URIs are loaded into bytes, documents remain URIs, state
// columns are dropped.
func (e *CellExecutor) codeSnapshot(ctx context.Context, snapshot domain.Row) map[string]any {
	rowData := make(map[string]any, len(snapshot))
	for k, v := range snapshot {
		col, ok := e.cols[k]
		if !ok || col.IsState() {
			continue
		}
		if (col.Dtype == domain.DtypeImage || col.Dtype == domain.DtypeAudio) && !domain.IsEmptyCell(v) {
			data, err := e.caps.Files.ReadURI(ctx, domain.CellString(v))
			if err != nil {
				log.Warn().Err(err).Str("column", k).Msg("Failed to load file for code execution")
				rowData[k] = nil
				continue
			}
			rowData[k] = data
			continue
		}
		rowData[k] = v
	}
	return rowData
}

// buildUserMessage substitutes ${col} references into the user prompt. File
// references are replaced by parsed document text (documents) or an empty
// string (image/audio, which become multimodal content parts). The result is
// stripped; an empty prompt becomes a single period.
func (e *CellExecutor) buildUserMessage(ctx context.Context, prompt string, snapshot domain.Row) (domain.ChatMessage, error) {
	if prompt == "" {
		prompt = "."
	}
	replacements := make(map[string]string)
	var extraParts []domain.ContentPart
	for _, ref := range domain.PromptReferences(prompt) {
		value, present := snapshot[ref]
		if !present {
			continue
		}
		col, known := e.cols[ref]
		if known && col.IsFile() && !domain.IsEmptyCell(value) {
			text, part, err := files.LoadForPrompt(ctx, e.caps.Files, e.caps.Docs, domain.CellString(value), col.IsDocument())
			if err != nil {
				return domain.ChatMessage{}, err
			}
			replacements[ref] = text
			if part != nil {
				extraParts = append(extraParts, *part)
			}
			continue
		}
		replacements[ref] = domain.CellString(value)
	}

	text := domain.ExpandPrompt(prompt, func(name string) (string, bool) {
		v, ok := replacements[name]
		return v, ok
	})
	text = strings.TrimSpace(text)

	if len(extraParts) == 0 {
		if text == "" {
			text = "."
		}
		return domain.UserMessage(text), nil
	}
	var parts []domain.ContentPart
	if text != "" {
		parts = append(parts, domain.TextPart(text))
	}
	parts = append(parts, extraParts...)
	return domain.UserParts(parts), nil
}

// outcomeOption tweaks an error outcome.
type outcomeOption func(*cellOutcome)

func withState(state map[string]any) outcomeOption {
	return func(o *cellOutcome) {
		for k, v := range state {
			o.state[k] = v
		}
	}
}

// errorOutcome contains a cell failure: it emits a terminal event with
// finish_reason "error" and the error message as content, and records the
// error in the cell's state. The row executor marks the column errored.
func (e *CellExecutor) errorOutcome(task *domain.Task, rowID, model string, emit func(Result), err error, opts ...outcomeOption) cellOutcome {
	content := domain.ErrorContent(err)
	logEvent := log.Error()
	if errors.IsUpstream(err) || errors.IsBadInput(err) || errors.IsNotFound(err) {
		logEvent = log.Info()
	}
	logEvent.
		Err(err).
		Str("request_id", e.requestID).
		Str("table", e.table.ID).
		Str("row_id", rowID).
		Str("column", task.OutputColumnID).
		Msg("Cell generation failed")

	e.emitFinal(task, rowID, model, content, domain.FinishReasonError, emit)
	outcome := cellOutcome{
		errored: true,
		state:   map[string]any{"error": err.Error()},
	}
	for _, opt := range opts {
		opt(&outcome)
	}
	return outcome
}

// emitFinal emits the terminal event of a non-streaming-model cell (code,
// fixed program, or any error path): one chunk in streaming mode, one
// aggregate completion otherwise.
func (e *CellExecutor) emitFinal(task *domain.Task, rowID, model, content, finishReason string, emit func(Result)) {
	if e.stream {
		emit(TaskResult{
			RowID:            rowID,
			OutputColumnName: task.OutputColumnID,
			Response: &domain.CellCompletionChunk{
				Object:           domain.ObjectCellChunk,
				RowID:            rowID,
				OutputColumnName: task.OutputColumnID,
				ID:               e.requestID,
				Created:          time.Now().Unix(),
				Model:            model,
				Choices: []domain.ChunkChoice{{
					Delta:        domain.ChunkDelta{Content: content},
					FinishReason: finishReason,
				}},
			},
		})
		return
	}
	emit(TaskResult{
		RowID:            rowID,
		OutputColumnName: task.OutputColumnID,
		Response: &domain.CellCompletionResponse{
			Object:  domain.ObjectCellCompletion,
			ID:      e.requestID,
			Created: time.Now().Unix(),
			Model:   model,
			Choices: []domain.CompletionChoice{{
				Message:      domain.CompletionMessage{Role: domain.RoleAssistant, Content: content},
				FinishReason: finishReason,
			}},
		},
	})
}
