package search

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridify/gentable/internal/domain"
	"github.com/gridify/gentable/internal/infrastructure/storage"
)

func searchFixture(t *testing.T) (domain.KnowledgeTable, context.Context) {
	t.Helper()
	store := storage.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.CreateTable(ctx, &domain.Table{
		ID:        "kb",
		ProjectID: "proj",
		Columns: domain.Schema{
			{ID: domain.ColumnRowID, Dtype: domain.DtypeStr},
			{ID: "Text", Dtype: domain.DtypeStr},
			{ID: "Title", Dtype: domain.DtypeStr},
			{ID: "emb", Dtype: domain.VectorDtype("f32", 2)},
		},
	}))
	require.NoError(t, store.AddRows(ctx, "proj", "kb", []domain.Row{
		{domain.ColumnRowID: "r1", "Text": "postgres connection pool tuning", "Title": "db", "emb": []float32{1, 0}},
		{domain.ColumnRowID: "r2", "Text": "redis cache eviction", "Title": "cache", "emb": []float32{0, 1}},
		{domain.ColumnRowID: "r3", "Text": "postgres index bloat", "Title": "db", "emb": []float32{0.9, 0.1}},
	}))

	kt, err := NewProvider(store).OpenKnowledgeTable(ctx, "proj", "kb")
	require.NoError(t, err)
	return kt, ctx
}

func embedAlong(vec []float32) domain.EmbedFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return vec, nil
	}
}

func TestHybridSearchFusesRankings(t *testing.T) {
	kt, ctx := searchFixture(t)

	// FTS favors the postgres rows, the vector query favors r1's direction;
	// r1 leads both lists so fusion must rank it first.
	rows, err := kt.HybridSearch(ctx, "postgres connection pool", "q", embedAlong([]float32{1, 0}), 3, 0)
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, "r1", rows[0].ID())
	for _, row := range rows {
		score, ok := row["Score"].(float64)
		assert.True(t, ok)
		assert.Positive(t, score)
	}
}

func TestHybridSearchLimitAndOffset(t *testing.T) {
	kt, ctx := searchFixture(t)

	rows, err := kt.HybridSearch(ctx, "postgres", "q", embedAlong([]float32{1, 0}), 1, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	offsetRows, err := kt.HybridSearch(ctx, "postgres", "q", embedAlong([]float32{1, 0}), 1, 1)
	require.NoError(t, err)
	require.Len(t, offsetRows, 1)
	assert.NotEqual(t, rows[0].ID(), offsetRows[0].ID())

	_, err = kt.HybridSearch(ctx, "postgres", "q", nil, 0, 0)
	assert.Error(t, err)
}

func TestHybridSearchEmbeddingFailureFallsBackToFTS(t *testing.T) {
	kt, ctx := searchFixture(t)
	failing := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("embedder down")
	}
	rows, err := kt.HybridSearch(ctx, "redis cache", "q", failing, 3, 0)
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, "r2", rows[0].ID())
}

func TestHybridSearchEmptyTable(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.CreateTable(ctx, &domain.Table{ID: "empty", ProjectID: "proj"}))
	kt, err := NewProvider(store).OpenKnowledgeTable(ctx, "proj", "empty")
	require.NoError(t, err)

	rows, err := kt.HybridSearch(ctx, "anything", "q", embedAlong([]float32{1}), 5, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
