package domain

import "context"

// StreamDelta is one increment of a streaming chat completion as surfaced by
// the model router.
type StreamDelta struct {
	ID               string
	Model            string
	Content          string
	ReasoningContent string
	Usage            *ChatUsage
	FinishReason     string
}

// ChatResponse is the result of a unary chat completion.
type ChatResponse struct {
	ID               string
	Model            string
	Content          string
	ReasoningContent string
	FinishReason     string
	Usage            ChatUsage
}

// RerankResult orders one document of a rerank call.
type RerankResult struct {
	Index int
	Score float64
}

// Router is the language-model provider router. Implementations own retry,
// backoff and deployment cooldown; the core treats surfaced errors as
// per-cell errors.
type Router interface {
	// Chat performs a unary chat completion.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	// ChatStream performs a streaming chat completion. The delta channel is
	// closed at end of stream; a terminal error arrives on the error channel.
	ChatStream(ctx context.Context, req *ChatRequest) (<-chan StreamDelta, <-chan error)
	// Embed embeds the given texts with the named model.
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)
	// Rerank reorders documents by relevance to the query.
	Rerank(ctx context.Context, model, query string, documents []string) ([]RerankResult, error)
}

// TableStore is the durable table metadata and row store. A batch write is
// atomic: either every row in the call lands with all its cells, or none.
type TableStore interface {
	OpenTable(ctx context.Context, projectID, tableID string) (*Table, error)
	AddRows(ctx context.Context, projectID, tableID string, rows []Row) error
	UpdateRows(ctx context.Context, projectID, tableID string, rows map[string]Row) error
	GetRow(ctx context.Context, projectID, tableID, rowID string) (Row, error)
	// ListRows returns rows ordered by row id ascending.
	ListRows(ctx context.Context, projectID, tableID string) ([]Row, error)
}

// EmbedFunc embeds a single query text, used by hybrid search.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// KnowledgeTable is a searchable table of chunked documents with FTS and
// vector indexes.
type KnowledgeTable interface {
	ID() string
	Columns() Schema
	// HybridSearch runs FTS and vector search, fuses them with reciprocal
	// rank fusion, and returns at most limit rows.
	HybridSearch(ctx context.Context, ftsQuery, vsQuery string, embed EmbedFunc, limit, offset int) ([]Row, error)
}

// KnowledgeProvider opens knowledge tables by id.
type KnowledgeProvider interface {
	OpenKnowledgeTable(ctx context.Context, projectID, tableID string) (KnowledgeTable, error)
}

// Fixed columns of a knowledge table; everything else is treated as context.
var KnowledgeFixedColumns = map[string]bool{
	ColumnRowID:     true,
	ColumnUpdatedAt: true,
	"Text":          true,
	"Title":         true,
	"Page":          true,
	"File ID":       true,
}

// URIReader loads a file referenced by URI into memory.
type URIReader interface {
	ReadURI(ctx context.Context, uri string) ([]byte, error)
}

// DocLoader extracts text from a document file.
type DocLoader interface {
	LoadDocument(ctx context.Context, name string, data []byte) (string, error)
}

// CodeRunner executes the program text of a code or fixed-program cell
// against a snapshot of the row.
type CodeRunner interface {
	Run(ctx context.Context, source string, rowData map[string]any, outputColumn string, dtype Dtype) (any, error)
}

// BillingCollector receives egress accounting for streamed responses.
type BillingCollector interface {
	CreateEgressEvents(gib float64)
}
