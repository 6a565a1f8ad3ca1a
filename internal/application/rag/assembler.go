// Package rag rewrites the user turn of a retrieval-enabled chat cell into a
// grounded prompt: it synthesizes FTS and vector search queries, runs hybrid
// search against a knowledge table, optionally reranks, and splices the
// retrieved chunks into the prompt.
package rag

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gridify/gentable/internal/domain"
	"github.com/gridify/gentable/internal/domain/errors"
)

// Assembler builds grounded prompts for chat cells configured with
// retrieval.
type Assembler struct {
	router    domain.Router
	knowledge domain.KnowledgeProvider
	projectID string
	now       func() time.Time
}

// NewAssembler creates a prompt assembler for one project.
func NewAssembler(router domain.Router, knowledge domain.KnowledgeProvider, projectID string) *Assembler {
	return &Assembler{
		router:    router,
		knowledge: knowledge,
		projectID: projectID,
		now:       time.Now,
	}
}

// Apply rewrites the request's user turn into a grounded prompt. It returns
// the modified request and the retrieval references, or (req, nil, nil) when
// the request has no RAG parameters.
func (a *Assembler) Apply(ctx context.Context, req *domain.ChatRequest) (*domain.ChatRequest, *domain.References, error) {
	params := req.RAGParams
	if params == nil {
		return req, nil, nil
	}
	tableID := strings.TrimSpace(params.TableID)
	if tableID == "" {
		return nil, nil, errors.BadInput("`rag_params.knowledge_table_id` is required when `rag_params` is specified.")
	}
	kt, err := a.knowledge.OpenKnowledgeTable(ctx, a.projectID, tableID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open knowledge table %q: %w", tableID, err)
	}

	replaceIdx := domain.LastUserIndex(req.Messages)
	if replaceIdx < 0 {
		return nil, nil, errors.BadInput("The message list should end with a user message, optionally followed by one assistant message.")
	}

	ftsQuery, vsQuery := a.searchQueries(ctx, req)

	rows, err := kt.HybridSearch(ctx, ftsQuery, vsQuery, a.embedQuery, params.K, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("hybrid search over %q failed: %w", tableID, err)
	}
	chunks := a.rowsToChunks(rows, kt, tableID)

	if len(chunks) > 0 && params.RerankingModel != "" {
		chunks = a.rerank(ctx, params.RerankingModel, vsQuery, chunks)
	}
	if len(chunks) > params.K {
		chunks = chunks[:params.K]
	}

	references := &domain.References{Chunks: chunks, SearchQuery: vsQuery}
	prompt := a.buildPrompt(req.Messages[replaceIdx], references, params.InlineCitations)
	req.Messages[replaceIdx] = prompt
	return req, references, nil
}

// searchQueries fills in missing FTS / VS queries by asking the router to
// rewrite the user turn, two calls in parallel. On rewrite failure both fall
// back to the text of the last user message.
func (a *Assembler) searchQueries(ctx context.Context, req *domain.ChatRequest) (string, string) {
	params := req.RAGParams
	ftsQuery := strings.TrimSpace(params.FTSQuery)
	vsQuery := strings.TrimSpace(params.VSQuery)
	if ftsQuery != "" && vsQuery != "" {
		return ftsQuery, vsQuery
	}

	userText := ""
	if idx := domain.LastUserIndex(req.Messages); idx >= 0 {
		userText = req.Messages[idx].Text()
	}

	var wg sync.WaitGroup
	results := make([]string, 2)
	rewriteErrs := make([]error, 2)
	kinds := []string{"fts", "vs"}
	for i, kind := range kinds {
		if (kind == "fts" && ftsQuery != "") || (kind == "vs" && vsQuery != "") {
			continue
		}
		wg.Add(1)
		go func(i int, kind string) {
			defer wg.Done()
			results[i], rewriteErrs[i] = a.rewriteQuery(ctx, req, kind, userText)
		}(i, kind)
	}
	wg.Wait()

	for i, kind := range kinds {
		if rewriteErrs[i] != nil {
			log.Info().
				Err(rewriteErrs[i]).
				Str("kind", kind).
				Msg("Query rewrite failed, using last user message as query")
			results[i] = userText
		}
	}
	if ftsQuery == "" {
		ftsQuery = results[0]
	}
	if vsQuery == "" {
		vsQuery = results[1]
	}
	return ftsQuery, vsQuery
}

// rewriteQuery asks the router to rewrite the user turn into one search
// query of the given kind.
func (a *Assembler) rewriteQuery(ctx context.Context, req *domain.ChatRequest, kind, userText string) (string, error) {
	var system, user string
	switch kind {
	case "fts":
		system = ftsRewriteSystemPrompt
		user = ftsRewriteUserPrompt(userText, a.now())
	case "vs":
		system = vsRewriteSystemPrompt
		user = vsRewriteUserPrompt(userText, a.now())
	default:
		return "", errors.BadInput("Rewrite prompt only works for type FTS or VS, got %q.", kind)
	}

	messages := make([]domain.ChatMessage, 0, len(req.Messages)+1)
	if len(req.Messages) > 0 && req.Messages[0].Role == domain.RoleSystem {
		messages = append(messages, domain.SystemMessage(system))
		messages = append(messages, req.Messages[1:]...)
	} else {
		messages = append(messages, domain.SystemMessage(system))
		messages = append(messages, req.Messages...)
	}
	// Replace the user turn with the rewrite instruction.
	if idx := domain.LastUserIndex(messages); idx >= 0 {
		messages = messages[:idx+1]
		messages[idx] = domain.UserMessage(user)
	} else {
		messages = append(messages, domain.UserMessage(user))
	}

	resp, err := a.router.Chat(ctx, &domain.ChatRequest{
		ID:          req.ID,
		Model:       req.Model,
		Messages:    messages,
		Temperature: 0.01,
		TopP:        0.01,
		MaxTokens:   1000,
	})
	if err != nil {
		return "", err
	}
	query := strings.TrimSpace(resp.Content)
	if query == "" {
		return userText, nil
	}
	// Some models wrap the query in quotes despite the instruction.
	if strings.HasPrefix(query, `"`) && strings.HasSuffix(query, `"`) && len(query) > 1 {
		query = query[1 : len(query)-1]
	}
	return query, nil
}

// embedQuery embeds one query text through the router.
func (a *Assembler) embedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := a.router.Embed(ctx, "", []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embedding returned no vectors")
	}
	return vecs[0], nil
}

// rowsToChunks converts retrieved knowledge rows into chunks, splitting the
// remaining columns into context (declared in the knowledge schema) and
// metadata (search artifacts such as the fusion score).
func (a *Assembler) rowsToChunks(rows []domain.Row, kt domain.KnowledgeTable, tableID string) []domain.Chunk {
	ktCols := make(map[string]bool)
	for _, c := range kt.Columns() {
		if !c.IsState() {
			ktCols[c.ID] = true
		}
	}
	chunks := make([]domain.Chunk, 0, len(rows))
	for _, row := range rows {
		chunk := domain.Chunk{
			Text:       domain.CellString(row["Text"]),
			Title:      domain.CellString(row["Title"]),
			DocumentID: domain.CellString(row["File ID"]),
			ChunkID:    domain.CellString(row[domain.ColumnRowID]),
			Context:    map[string]string{},
			Metadata:   map[string]string{},
		}
		if page, ok := row["Page"]; ok {
			chunk.Page = asInt(page)
		}
		for k, v := range row {
			if domain.KnowledgeFixedColumns[k] || strings.HasSuffix(k, domain.StateSuffix) {
				continue
			}
			if ktCols[k] {
				chunk.Context[k] = domain.CellString(v)
			} else {
				chunk.Metadata[k] = domain.CellString(v)
			}
		}
		chunk.Metadata["project_id"] = a.projectID
		chunk.Metadata["table_id"] = tableID
		chunks = append(chunks, chunk)
	}
	return chunks
}

// rerank reorders chunks with the configured reranking model. On failure the
// fused order is kept; a reranker returning fewer items than requested is
// used as returned.
func (a *Assembler) rerank(ctx context.Context, model, query string, chunks []domain.Chunk) []domain.Chunk {
	docs := make([]string, len(chunks))
	for i, c := range chunks {
		docs[i] = c.Title + "\n" + c.Text
	}
	order, err := a.router.Rerank(ctx, model, query, docs)
	if err != nil {
		log.Info().Err(err).Str("model", model).Msg("Reranking failed, proceeding with fused order")
		return chunks
	}
	out := make([]domain.Chunk, 0, len(order))
	for _, r := range order {
		if r.Index >= 0 && r.Index < len(chunks) {
			out = append(out, chunks[r.Index])
		}
	}
	if len(out) == 0 {
		return chunks
	}
	return out
}

// buildPrompt renders the replacement user message: the grounded context
// block, then the original user text (plus the citation instruction when
// requested), then any preserved multimodal parts.
func (a *Assembler) buildPrompt(original domain.ChatMessage, references *domain.References, inlineCitations bool) domain.ChatMessage {
	views := make([]chunkView, len(references.Chunks))
	for i, c := range references.Chunks {
		view := chunkView{Title: c.Title, Page: c.Page, Text: c.Text}
		keys := make([]string, 0, len(c.Context))
		for k := range c.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			view.Context = append(view.Context, [2]string{k, c.Context[k]})
		}
		views[i] = view
	}

	text := original.Text()
	if inlineCitations {
		text += citationInstruction
	}
	parts := []domain.ContentPart{
		domain.TextPart(renderContext(views)),
		domain.TextPart(text),
	}
	parts = append(parts, original.MultimodalParts()...)
	return domain.UserParts(parts)
}

func asInt(v any) int {
	switch x := v.(type) {
	case int:
		return x
	case int64:
		return int(x)
	case float64:
		return int(x)
	case string:
		n, _ := strconv.Atoi(x)
		return n
	default:
		return 0
	}
}
