package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/gridify/gentable/internal/domain"
	"github.com/gridify/gentable/internal/domain/errors"
)

// BunStore is the Postgres-backed TableStore. Cells live as one JSONB
// payload per row; batch writes run in a single transaction so a row either
// lands with all its cells and state, or not at all.
type BunStore struct {
	db *bun.DB
}

// NewBunStore connects to Postgres with the given DSN.
func NewBunStore(dsn string) *BunStore {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	return &BunStore{db: db}
}

// InitSchema creates the backing tables when missing.
func (s *BunStore) InitSchema(ctx context.Context) error {
	models := []any{
		(*TableModel)(nil),
		(*RowModel)(nil),
	}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// TableModel persists table metadata including the column schema.
type TableModel struct {
	bun.BaseModel `bun:"table:gen_tables,alias:t"`

	ProjectID string          `bun:"project_id,pk"`
	ID        string          `bun:"id,pk"`
	Columns   json.RawMessage `bun:"columns,type:jsonb"`
	UpdatedAt time.Time       `bun:"updated_at"`
}

// RowModel persists one row with its cells and state as JSONB.
type RowModel struct {
	bun.BaseModel `bun:"table:gen_table_rows,alias:r"`

	ProjectID string         `bun:"project_id,pk"`
	TableID   string         `bun:"table_id,pk"`
	ID        string         `bun:"id,pk"`
	Cells     map[string]any `bun:"cells,type:jsonb"`
	UpdatedAt time.Time      `bun:"updated_at"`
}

func (m *RowModel) toRow() domain.Row {
	row := make(domain.Row, len(m.Cells)+2)
	for k, v := range m.Cells {
		row[k] = v
	}
	row[domain.ColumnRowID] = m.ID
	row[domain.ColumnUpdatedAt] = m.UpdatedAt
	return row
}

func newRowModel(projectID, tableID string, row domain.Row, now time.Time) *RowModel {
	cells := make(map[string]any, len(row))
	for k, v := range row {
		if k == domain.ColumnRowID || k == domain.ColumnUpdatedAt {
			continue
		}
		cells[k] = v
	}
	return &RowModel{
		ProjectID: projectID,
		TableID:   tableID,
		ID:        row.ID(),
		Cells:     cells,
		UpdatedAt: now,
	}
}

// CreateTable persists a table's metadata.
func (s *BunStore) CreateTable(ctx context.Context, table *domain.Table) error {
	columns, err := json.Marshal(table.Columns)
	if err != nil {
		return err
	}
	model := &TableModel{
		ProjectID: table.ProjectID,
		ID:        table.ID,
		Columns:   columns,
		UpdatedAt: time.Now().UTC(),
	}
	_, err = s.db.NewInsert().Model(model).On("CONFLICT (project_id, id) DO UPDATE").
		Set("columns = EXCLUDED.columns, updated_at = EXCLUDED.updated_at").Exec(ctx)
	return err
}

// OpenTable loads the table's metadata handle.
func (s *BunStore) OpenTable(ctx context.Context, projectID, tableID string) (*domain.Table, error) {
	model := new(TableModel)
	err := s.db.NewSelect().Model(model).
		Where("project_id = ?", projectID).
		Where("id = ?", tableID).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("Table %q not found.", tableID)
		}
		return nil, err
	}
	var schema domain.Schema
	if err := json.Unmarshal(model.Columns, &schema); err != nil {
		return nil, err
	}
	return &domain.Table{ID: model.ID, ProjectID: model.ProjectID, Columns: schema}, nil
}

// AddRows inserts the batch in one transaction and touches the table's
// update timestamp.
func (s *BunStore) AddRows(ctx context.Context, projectID, tableID string, rows []domain.Row) error {
	if len(rows) == 0 {
		return nil
	}
	now := time.Now().UTC()
	models := make([]*RowModel, len(rows))
	for i, row := range rows {
		if row.ID() == "" {
			return errors.BadInput("Row is missing an %q cell.", domain.ColumnRowID)
		}
		models[i] = newRowModel(projectID, tableID, row, now)
	}
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&models).Exec(ctx); err != nil {
			return err
		}
		return touchTable(ctx, tx, projectID, tableID, now)
	})
}

// UpdateRows merges cells into existing rows, keyed by row id, in one
// transaction.
func (s *BunStore) UpdateRows(ctx context.Context, projectID, tableID string, rows map[string]domain.Row) error {
	if len(rows) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		for id, row := range rows {
			existing := new(RowModel)
			err := tx.NewSelect().Model(existing).
				Where("project_id = ?", projectID).
				Where("table_id = ?", tableID).
				Where("id = ?", id).
				For("UPDATE").
				Scan(ctx)
			if err != nil {
				if err == sql.ErrNoRows {
					return errors.NotFound("Row %q not found in table %q.", id, tableID)
				}
				return err
			}
			if existing.Cells == nil {
				existing.Cells = make(map[string]any, len(row))
			}
			for k, v := range row {
				if k == domain.ColumnRowID || k == domain.ColumnUpdatedAt {
					continue
				}
				existing.Cells[k] = v
			}
			existing.UpdatedAt = now
			if _, err := tx.NewUpdate().Model(existing).WherePK().Exec(ctx); err != nil {
				return err
			}
		}
		return touchTable(ctx, tx, projectID, tableID, now)
	})
}

func touchTable(ctx context.Context, tx bun.Tx, projectID, tableID string, now time.Time) error {
	_, err := tx.NewUpdate().Model((*TableModel)(nil)).
		Set("updated_at = ?", now).
		Where("project_id = ?", projectID).
		Where("id = ?", tableID).
		Exec(ctx)
	return err
}

// GetRow loads one row.
func (s *BunStore) GetRow(ctx context.Context, projectID, tableID, rowID string) (domain.Row, error) {
	model := new(RowModel)
	err := s.db.NewSelect().Model(model).
		Where("project_id = ?", projectID).
		Where("table_id = ?", tableID).
		Where("id = ?", rowID).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("Row %q not found in table %q.", rowID, tableID)
		}
		return nil, err
	}
	return model.toRow(), nil
}

// ListRows loads all rows of a table ordered by row id ascending.
func (s *BunStore) ListRows(ctx context.Context, projectID, tableID string) ([]domain.Row, error) {
	var models []RowModel
	err := s.db.NewSelect().Model(&models).
		Where("project_id = ?", projectID).
		Where("table_id = ?", tableID).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]domain.Row, len(models))
	for i := range models {
		rows[i] = models[i].toRow()
	}
	return rows, nil
}
