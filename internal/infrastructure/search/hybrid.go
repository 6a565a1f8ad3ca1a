// Package search implements hybrid retrieval over knowledge tables: a
// keyword full-text scan and a vector similarity scan, fused with reciprocal
// rank fusion.
package search

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/gridify/gentable/internal/domain"
)

// rrfK is the standard reciprocal-rank-fusion smoothing constant.
const rrfK = 60

// Provider opens knowledge tables backed by a TableStore.
type Provider struct {
	store domain.TableStore
}

// NewProvider creates a knowledge provider.
func NewProvider(store domain.TableStore) *Provider {
	return &Provider{store: store}
}

// OpenKnowledgeTable opens a knowledge table by id.
func (p *Provider) OpenKnowledgeTable(ctx context.Context, projectID, tableID string) (domain.KnowledgeTable, error) {
	table, err := p.store.OpenTable(ctx, projectID, tableID)
	if err != nil {
		return nil, err
	}
	return &knowledgeTable{store: p.store, table: table, projectID: projectID}, nil
}

type knowledgeTable struct {
	store     domain.TableStore
	table     *domain.Table
	projectID string
}

func (t *knowledgeTable) ID() string {
	return t.table.ID
}

func (t *knowledgeTable) Columns() domain.Schema {
	return t.table.Columns
}

// HybridSearch ranks rows by FTS score and by vector cosine similarity, then
// fuses both rankings with reciprocal rank fusion, returning at most limit
// rows after offset. The fused score is attached to each row under "Score".
func (t *knowledgeTable) HybridSearch(ctx context.Context, ftsQuery, vsQuery string, embed domain.EmbedFunc, limit, offset int) ([]domain.Row, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("`limit` must be a positive non-zero integer, got %d", limit)
	}
	rows, err := t.store.ListRows(ctx, t.projectID, t.table.ID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ftsRanked := t.ftsRank(ftsQuery, rows)
	vsRanked := t.vsRank(ctx, vsQuery, embed, rows)

	fused := make(map[int]float64)
	for rank, idx := range ftsRanked {
		fused[idx] += 1.0 / float64(rrfK+rank+1)
	}
	for rank, idx := range vsRanked {
		fused[idx] += 1.0 / float64(rrfK+rank+1)
	}

	order := make([]int, 0, len(fused))
	for idx := range fused {
		order = append(order, idx)
	}
	sort.Slice(order, func(i, j int) bool {
		if fused[order[i]] != fused[order[j]] {
			return fused[order[i]] > fused[order[j]]
		}
		return order[i] < order[j]
	})

	if offset > len(order) {
		offset = len(order)
	}
	order = order[offset:]
	if len(order) > limit {
		order = order[:limit]
	}

	out := make([]domain.Row, len(order))
	for i, idx := range order {
		row := rows[idx].Clone()
		row["Score"] = fused[idx]
		out[i] = row
	}
	return out, nil
}

var nonWordPattern = regexp.MustCompile(`[^\p{L}\p{N}\s]`)

// ftsRank scores rows by term overlap with the query over their text
// columns and returns row indices in descending score order.
func (t *knowledgeTable) ftsRank(query string, rows []domain.Row) []int {
	query = nonWordPattern.ReplaceAllString(strings.ReplaceAll(query, "\n", " "), " ")
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil
	}
	type scored struct {
		idx   int
		score float64
	}
	var hits []scored
	for i, row := range rows {
		text := strings.ToLower(
			domain.CellString(row["Title"]) + " " + domain.CellString(row["Text"]))
		var score float64
		for _, term := range terms {
			score += float64(strings.Count(text, term))
		}
		if score > 0 {
			hits = append(hits, scored{idx: i, score: score})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].idx < hits[j].idx
	})
	out := make([]int, len(hits))
	for i, h := range hits {
		out[i] = h.idx
	}
	return out
}

// vsRank scores rows by cosine similarity between the embedded query and the
// rows' vector columns, returning row indices in descending order. Rows
// without a vector cell are skipped; embedding failures degrade to FTS-only
// retrieval.
func (t *knowledgeTable) vsRank(ctx context.Context, query string, embed domain.EmbedFunc, rows []domain.Row) []int {
	if embed == nil || strings.TrimSpace(query) == "" {
		return nil
	}
	queryVec, err := embed(ctx, query)
	if err != nil {
		log.Warn().Err(err).Str("table", t.table.ID).Msg("Query embedding failed, falling back to FTS only")
		return nil
	}

	var vectorCols []string
	for _, col := range t.table.Columns {
		if col.IsVector() {
			vectorCols = append(vectorCols, col.ID)
		}
	}
	type scored struct {
		idx   int
		score float64
	}
	var hits []scored
	for i, row := range rows {
		best := math.Inf(-1)
		for _, colID := range vectorCols {
			vec := asVector(row[colID])
			if vec == nil {
				continue
			}
			if sim := cosine(queryVec, vec); sim > best {
				best = sim
			}
		}
		if !math.IsInf(best, -1) {
			hits = append(hits, scored{idx: i, score: best})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].idx < hits[j].idx
	})
	out := make([]int, len(hits))
	for i, h := range hits {
		out[i] = h.idx
	}
	return out
}

func asVector(v any) []float32 {
	switch x := v.(type) {
	case []float32:
		return x
	case []float64:
		out := make([]float32, len(x))
		for i, f := range x {
			out[i] = float32(f)
		}
		return out
	case []any:
		out := make([]float32, len(x))
		for i, e := range x {
			f, ok := e.(float64)
			if !ok {
				return nil
			}
			out[i] = float32(f)
		}
		return out
	default:
		return nil
	}
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
