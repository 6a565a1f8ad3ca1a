package domain

import "strings"

// Wire object discriminators for streamed and aggregate responses.
const (
	ObjectCellChunk      = "gen_table.completion.chunk"
	ObjectCellReferences = "gen_table.references"
	ObjectCellCompletion = "gen_table.completion"
	ObjectMultiRow       = "gen_table.rows.completion"
)

// Models reported for non-chat cells.
const (
	ModelCodeExecution = "code_execution"
	ModelPythonFixed   = "python_fixed_function"
)

// FinishReasonError marks a failed cell's terminal event.
const FinishReasonError = "error"

// ChatUsage is token accounting attached to a chunk or completion.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChunkDelta is the incremental payload of a streamed chunk.
type ChunkDelta struct {
	Content          string `json:"content,omitempty"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

// ChunkChoice is one choice of a streamed chunk.
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason string     `json:"finish_reason,omitempty"`
}

// CellCompletionChunk is a streamed token-level event for one cell,
// tagged with its row and output column.
type CellCompletionChunk struct {
	Object           string        `json:"object"`
	RowID            string        `json:"row_id"`
	OutputColumnName string        `json:"output_column_name"`
	ID               string        `json:"id"`
	Created          int64         `json:"created"`
	Model            string        `json:"model"`
	Usage            *ChatUsage    `json:"usage,omitempty"`
	Choices          []ChunkChoice `json:"choices"`
}

// Content returns the chunk's content delta.
func (c *CellCompletionChunk) Content() string {
	if len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Delta.Content
}

// FinishReason returns the chunk's finish reason, empty for non-terminal
// chunks.
func (c *CellCompletionChunk) FinishReason() string {
	if len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].FinishReason
}

// CellReferences is the retrieval event emitted once for a RAG-enabled chat
// cell, before any content chunk.
type CellReferences struct {
	Object           string  `json:"object"`
	RowID            string  `json:"row_id"`
	OutputColumnName string  `json:"output_column_name"`
	SearchQuery      string  `json:"search_query"`
	Chunks           []Chunk `json:"chunks"`
}

// CompletionMessage is the message of a finished cell.
type CompletionMessage struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
}

// CompletionChoice is one choice of a finished cell.
type CompletionChoice struct {
	Index        int               `json:"index"`
	Message      CompletionMessage `json:"message"`
	FinishReason string            `json:"finish_reason,omitempty"`
}

// CellCompletionResponse is the aggregate (non-streaming) result of one cell.
type CellCompletionResponse struct {
	Object     string             `json:"object"`
	ID         string             `json:"id"`
	Created    int64              `json:"created"`
	Model      string             `json:"model"`
	Usage      ChatUsage          `json:"usage"`
	Choices    []CompletionChoice `json:"choices"`
	References *References        `json:"references,omitempty"`
}

// Content returns the completion's message content.
func (r *CellCompletionResponse) Content() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// AppendDelta folds a streamed chunk into the aggregate, used when a
// non-streaming caller consumes a streaming producer.
func (r *CellCompletionResponse) AppendDelta(chunk *CellCompletionChunk) {
	if r.ID == "" {
		r.ID = chunk.ID
	}
	if r.Model == "" {
		r.Model = chunk.Model
	}
	if r.Created == 0 {
		r.Created = chunk.Created
	}
	if len(r.Choices) == 0 {
		r.Choices = []CompletionChoice{{Message: CompletionMessage{Role: RoleAssistant}}}
	}
	if len(chunk.Choices) > 0 {
		r.Choices[0].Message.Content += chunk.Choices[0].Delta.Content
		if fr := chunk.Choices[0].FinishReason; fr != "" {
			r.Choices[0].FinishReason = fr
		}
	}
	if chunk.Usage != nil {
		r.Usage = *chunk.Usage
	}
}

// ErrorContent renders a failed cell's user-visible content.
func ErrorContent(err error) string {
	msg := strings.TrimSpace(err.Error())
	return "[ERROR] " + msg
}

// RowCompletionResponse aggregates the generated cells of one row.
type RowCompletionResponse struct {
	RowID   string                             `json:"row_id"`
	Columns map[string]*CellCompletionResponse `json:"columns"`
}

// MultiRowCompletionResponse is the non-streaming response of a batch.
type MultiRowCompletionResponse struct {
	Object string                  `json:"object"`
	Rows   []RowCompletionResponse `json:"rows"`
}
