package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gridify/gentable/internal/domain"
	"github.com/gridify/gentable/internal/domain/errors"
)

// MemoryStore is an in-memory TableStore used by tests and embedded mode.
// Batch writes are all-or-nothing under one lock acquisition.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]*memoryTable
}

type memoryTable struct {
	meta *domain.Table
	rows map[string]domain.Row
}

func memoryKey(projectID, tableID string) string {
	return projectID + "/" + tableID
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string]*memoryTable)}
}

// CreateTable registers a table's metadata.
func (s *MemoryStore) CreateTable(ctx context.Context, table *domain.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[memoryKey(table.ProjectID, table.ID)] = &memoryTable{
		meta: table,
		rows: make(map[string]domain.Row),
	}
	return nil
}

func (s *MemoryStore) table(projectID, tableID string) (*memoryTable, error) {
	t, ok := s.tables[memoryKey(projectID, tableID)]
	if !ok {
		return nil, errors.NotFound("Table %q not found.", tableID)
	}
	return t, nil
}

// OpenTable returns the table's metadata handle.
func (s *MemoryStore) OpenTable(ctx context.Context, projectID, tableID string) (*domain.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.table(projectID, tableID)
	if err != nil {
		return nil, err
	}
	return t.meta, nil
}

// AddRows inserts the batch atomically, stamping update timestamps.
func (s *MemoryStore) AddRows(ctx context.Context, projectID, tableID string, rows []domain.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(projectID, tableID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, row := range rows {
		if row.ID() == "" {
			return errors.BadInput("Row is missing an %q cell.", domain.ColumnRowID)
		}
	}
	for _, row := range rows {
		stored := row.Clone()
		stored[domain.ColumnUpdatedAt] = now
		t.rows[row.ID()] = stored
	}
	return nil
}

// UpdateRows merges the given cells into existing rows, atomically. Unknown
// row ids fail the whole batch.
func (s *MemoryStore) UpdateRows(ctx context.Context, projectID, tableID string, rows map[string]domain.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(projectID, tableID)
	if err != nil {
		return err
	}
	for id := range rows {
		if _, ok := t.rows[id]; !ok {
			return errors.NotFound("Row %q not found in table %q.", id, tableID)
		}
	}
	now := time.Now().UTC()
	for id, row := range rows {
		stored := t.rows[id]
		for k, v := range row {
			if k == domain.ColumnRowID || k == domain.ColumnUpdatedAt {
				continue
			}
			stored[k] = v
		}
		stored[domain.ColumnUpdatedAt] = now
	}
	return nil
}

// GetRow returns a copy of one row.
func (s *MemoryStore) GetRow(ctx context.Context, projectID, tableID, rowID string) (domain.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.table(projectID, tableID)
	if err != nil {
		return nil, err
	}
	row, ok := t.rows[rowID]
	if !ok {
		return nil, errors.NotFound("Row %q not found in table %q.", rowID, tableID)
	}
	return row.Clone(), nil
}

// ListRows returns copies of all rows ordered by row id ascending.
func (s *MemoryStore) ListRows(ctx context.Context, projectID, tableID string) ([]domain.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.table(projectID, tableID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Row, 0, len(t.rows))
	for _, row := range t.rows {
		out = append(out, row.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}
