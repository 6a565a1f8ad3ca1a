package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gridify/gentable/internal/domain"
)

// rerankRequest is the wire request of the reranking endpoint
// (Jina/Cohere-compatible).
type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank reorders documents by relevance to the query via the configured
// reranking endpoint.
func (r *OpenAIRouter) Rerank(ctx context.Context, model, query string, documents []string) ([]domain.RerankResult, error) {
	if r.cfg.RerankURL == "" {
		return nil, fmt.Errorf("no reranking endpoint configured")
	}
	payload, err := json.Marshal(rerankRequest{
		Model:     model,
		Query:     query,
		Documents: documents,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.RerankURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("reranking endpoint returned status %d: %s", resp.StatusCode, body)
	}

	var decoded rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}
	out := make([]domain.RerankResult, len(decoded.Results))
	for i, res := range decoded.Results {
		out[i] = domain.RerankResult{Index: res.Index, Score: res.RelevanceScore}
	}
	return out, nil
}
