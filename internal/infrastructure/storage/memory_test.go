package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridify/gentable/internal/domain"
	"github.com/gridify/gentable/internal/domain/errors"
)

func memoryFixture(t *testing.T) (*MemoryStore, context.Context) {
	t.Helper()
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.CreateTable(ctx, &domain.Table{
		ID:        "tbl",
		ProjectID: "proj",
		Columns: domain.Schema{
			{ID: domain.ColumnRowID, Dtype: domain.DtypeStr},
			{ID: "input", Dtype: domain.DtypeStr},
		},
	}))
	return store, ctx
}

func TestMemoryStoreAddGetList(t *testing.T) {
	store, ctx := memoryFixture(t)

	id1, id2 := domain.NewRowID(), domain.NewRowID()
	require.NoError(t, store.AddRows(ctx, "proj", "tbl", []domain.Row{
		{domain.ColumnRowID: id2, "input": "b"},
		{domain.ColumnRowID: id1, "input": "a"},
	}))

	row, err := store.GetRow(ctx, "proj", "tbl", id1)
	require.NoError(t, err)
	assert.Equal(t, "a", row["input"])
	assert.NotNil(t, row[domain.ColumnUpdatedAt])

	// List is ordered by row id; v7 ids sort by creation time.
	rows, err := store.ListRows(ctx, "proj", "tbl")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, id1, rows[0].ID())
	assert.Equal(t, id2, rows[1].ID())

	_, err = store.GetRow(ctx, "proj", "tbl", "missing")
	assert.True(t, errors.IsNotFound(err))
	_, err = store.OpenTable(ctx, "proj", "missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestMemoryStoreUpdateRows(t *testing.T) {
	store, ctx := memoryFixture(t)
	id := domain.NewRowID()
	require.NoError(t, store.AddRows(ctx, "proj", "tbl", []domain.Row{
		{domain.ColumnRowID: id, "input": "a", "extra": 1},
	}))

	require.NoError(t, store.UpdateRows(ctx, "proj", "tbl", map[string]domain.Row{
		id: {"input": "updated"},
	}))
	row, err := store.GetRow(ctx, "proj", "tbl", id)
	require.NoError(t, err)
	assert.Equal(t, "updated", row["input"])
	assert.Equal(t, 1, row["extra"])

	// An unknown id fails the whole batch before any mutation.
	err = store.UpdateRows(ctx, "proj", "tbl", map[string]domain.Row{
		id:        {"input": "again"},
		"missing": {"input": "x"},
	})
	assert.True(t, errors.IsNotFound(err))
	row, err = store.GetRow(ctx, "proj", "tbl", id)
	require.NoError(t, err)
	assert.Equal(t, "updated", row["input"], "failed batch must not partially apply")
}

func TestMemoryStoreRowsAreCopies(t *testing.T) {
	store, ctx := memoryFixture(t)
	id := domain.NewRowID()
	require.NoError(t, store.AddRows(ctx, "proj", "tbl", []domain.Row{
		{domain.ColumnRowID: id, "input": "a"},
	}))
	row, err := store.GetRow(ctx, "proj", "tbl", id)
	require.NoError(t, err)
	row["input"] = "mutated"

	again, err := store.GetRow(ctx, "proj", "tbl", id)
	require.NoError(t, err)
	assert.Equal(t, "a", again["input"])
}
