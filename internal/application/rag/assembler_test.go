package rag

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridify/gentable/internal/domain"
	"github.com/gridify/gentable/internal/domain/errors"
)

type scriptedRouter struct {
	rewriteErr   error
	rerankErr    error
	rerankOrder  []int
	chatCalls    int
	lastMessages []domain.ChatMessage
}

func (r *scriptedRouter) Chat(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
	r.chatCalls++
	r.lastMessages = req.Messages
	if r.rewriteErr != nil {
		return nil, r.rewriteErr
	}
	// The rewritten query is quoted, exercising the unquoting path.
	return &domain.ChatResponse{Content: `"rewritten query"`}, nil
}

func (r *scriptedRouter) ChatStream(ctx context.Context, req *domain.ChatRequest) (<-chan domain.StreamDelta, <-chan error) {
	deltas := make(chan domain.StreamDelta)
	errs := make(chan error, 1)
	close(deltas)
	close(errs)
	return deltas, errs
}

func (r *scriptedRouter) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (r *scriptedRouter) Rerank(ctx context.Context, model, query string, documents []string) ([]domain.RerankResult, error) {
	if r.rerankErr != nil {
		return nil, r.rerankErr
	}
	order := r.rerankOrder
	if order == nil {
		for i := range documents {
			order = append(order, i)
		}
	}
	out := make([]domain.RerankResult, len(order))
	for i, idx := range order {
		out[i] = domain.RerankResult{Index: idx, Score: float64(len(order) - i)}
	}
	return out, nil
}

type stubKnowledgeTable struct {
	id   string
	cols domain.Schema
	rows []domain.Row
}

func (t *stubKnowledgeTable) ID() string             { return t.id }
func (t *stubKnowledgeTable) Columns() domain.Schema { return t.cols }
func (t *stubKnowledgeTable) HybridSearch(ctx context.Context, ftsQuery, vsQuery string, embed domain.EmbedFunc, limit, offset int) ([]domain.Row, error) {
	if limit < len(t.rows) {
		return t.rows[:limit], nil
	}
	return t.rows, nil
}

type stubKnowledge struct {
	table *stubKnowledgeTable
}

func (k *stubKnowledge) OpenKnowledgeTable(ctx context.Context, projectID, tableID string) (domain.KnowledgeTable, error) {
	if k.table == nil || k.table.id != tableID {
		return nil, errors.NotFound("Table %q not found.", tableID)
	}
	return k.table, nil
}

func knowledgeFixture() *stubKnowledgeTable {
	return &stubKnowledgeTable{
		id: "kb",
		cols: domain.Schema{
			{ID: domain.ColumnRowID, Dtype: domain.DtypeStr},
			{ID: "Text", Dtype: domain.DtypeStr},
			{ID: "Title", Dtype: domain.DtypeStr},
			{ID: "Page", Dtype: domain.DtypeInt},
			{ID: "File ID", Dtype: domain.DtypeStr},
		},
		rows: []domain.Row{
			{domain.ColumnRowID: "r0", "Text": "C0", "Title": "Doc A", "Page": 1, "File ID": "f0"},
			{domain.ColumnRowID: "r1", "Text": "C1", "Title": "Doc B", "Page": 2, "File ID": "f1"},
		},
	}
}

func ragRequest(params *domain.RAGParams) *domain.ChatRequest {
	return &domain.ChatRequest{
		ID:        "req",
		Model:     "stub-model",
		Messages:  []domain.ChatMessage{domain.SystemMessage("sys"), domain.UserMessage("what is C?")},
		RAGParams: params,
	}
}

func TestApplyWithoutParamsIsNoop(t *testing.T) {
	a := NewAssembler(&scriptedRouter{}, &stubKnowledge{}, "proj")
	req := &domain.ChatRequest{Messages: []domain.ChatMessage{domain.UserMessage("q")}}
	out, refs, err := a.Apply(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, refs)
	assert.Equal(t, req, out)
}

func TestApplyGroundsPromptWithCitations(t *testing.T) {
	router := &scriptedRouter{}
	a := NewAssembler(router, &stubKnowledge{table: knowledgeFixture()}, "proj")
	req := ragRequest(&domain.RAGParams{TableID: "kb", K: 2, InlineCitations: true})

	out, refs, err := a.Apply(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, refs)
	require.Len(t, refs.Chunks, 2)
	assert.Equal(t, "C0", refs.Chunks[0].Text)
	assert.Equal(t, "proj", refs.Chunks[0].Metadata["project_id"])
	assert.Equal(t, "kb", refs.Chunks[0].Metadata["table_id"])

	// Both rewrite calls ran (fts + vs).
	assert.Equal(t, 2, router.chatCalls)
	assert.Equal(t, "rewritten query", refs.SearchQuery)

	prompt := out.Messages[len(out.Messages)-1]
	text := prompt.Text()
	assert.Contains(t, text, "<up-to-date-context>")
	assert.Contains(t, text, "<id> 0 </id>")
	assert.Contains(t, text, "<id> 1 </id>")
	assert.Contains(t, text, "C0")
	assert.Contains(t, text, "C1")
	assert.Contains(t, text, "[@<id-1>; @<id-2>]")
	assert.Contains(t, text, "what is C?")
}

func TestApplyWithoutCitationInstruction(t *testing.T) {
	a := NewAssembler(&scriptedRouter{}, &stubKnowledge{table: knowledgeFixture()}, "proj")
	req := ragRequest(&domain.RAGParams{TableID: "kb", K: 2})
	out, _, err := a.Apply(context.Background(), req)
	require.NoError(t, err)
	assert.NotContains(t, out.Messages[len(out.Messages)-1].Text(), "[@<id-1>; @<id-2>]")
}

func TestApplyRewriteFallback(t *testing.T) {
	router := &scriptedRouter{rewriteErr: fmt.Errorf("model down")}
	a := NewAssembler(router, &stubKnowledge{table: knowledgeFixture()}, "proj")
	req := ragRequest(&domain.RAGParams{TableID: "kb", K: 2})

	_, refs, err := a.Apply(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "what is C?", refs.SearchQuery)
}

func TestApplyPresetQueriesSkipRewrite(t *testing.T) {
	router := &scriptedRouter{}
	a := NewAssembler(router, &stubKnowledge{table: knowledgeFixture()}, "proj")
	req := ragRequest(&domain.RAGParams{TableID: "kb", K: 2, FTSQuery: "fts q", VSQuery: "vs q"})

	_, refs, err := a.Apply(context.Background(), req)
	require.NoError(t, err)
	assert.Zero(t, router.chatCalls)
	assert.Equal(t, "vs q", refs.SearchQuery)
}

func TestApplyRerank(t *testing.T) {
	router := &scriptedRouter{rerankOrder: []int{1, 0}}
	a := NewAssembler(router, &stubKnowledge{table: knowledgeFixture()}, "proj")
	req := ragRequest(&domain.RAGParams{TableID: "kb", K: 2, RerankingModel: "rerank-1", FTSQuery: "q", VSQuery: "q"})

	_, refs, err := a.Apply(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, refs.Chunks, 2)
	assert.Equal(t, "C1", refs.Chunks[0].Text)
	assert.Equal(t, "C0", refs.Chunks[1].Text)
}

func TestApplyRerankFailureKeepsFusedOrder(t *testing.T) {
	router := &scriptedRouter{rerankErr: fmt.Errorf("reranker down")}
	a := NewAssembler(router, &stubKnowledge{table: knowledgeFixture()}, "proj")
	req := ragRequest(&domain.RAGParams{TableID: "kb", K: 2, RerankingModel: "rerank-1", FTSQuery: "q", VSQuery: "q"})

	_, refs, err := a.Apply(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "C0", refs.Chunks[0].Text)
}

func TestApplyErrors(t *testing.T) {
	a := NewAssembler(&scriptedRouter{}, &stubKnowledge{table: knowledgeFixture()}, "proj")

	// Missing knowledge table id.
	_, _, err := a.Apply(context.Background(), ragRequest(&domain.RAGParams{TableID: "  ", K: 2}))
	assert.True(t, errors.IsBadInput(err))

	// Unknown knowledge table.
	_, _, err = a.Apply(context.Background(), ragRequest(&domain.RAGParams{TableID: "nope", K: 2}))
	assert.Error(t, err)

	// No user message at the tail of the list.
	req := &domain.ChatRequest{
		Messages:  []domain.ChatMessage{domain.SystemMessage("s"), domain.AssistantMessage("a")},
		RAGParams: &domain.RAGParams{TableID: "kb", K: 2},
	}
	_, _, err = a.Apply(context.Background(), req)
	assert.True(t, errors.IsBadInput(err))
}

func TestReplaceSecondToLastUserMessage(t *testing.T) {
	a := NewAssembler(&scriptedRouter{}, &stubKnowledge{table: knowledgeFixture()}, "proj")
	req := &domain.ChatRequest{
		Messages: []domain.ChatMessage{
			domain.SystemMessage("s"),
			domain.UserMessage("question"),
			domain.AssistantMessage("partial answer"),
		},
		RAGParams: &domain.RAGParams{TableID: "kb", K: 1, FTSQuery: "q", VSQuery: "q"},
	}
	out, _, err := a.Apply(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, strings.Contains(out.Messages[1].Text(), "<up-to-date-context>"))
	assert.Equal(t, "partial answer", out.Messages[2].Content)
}
