package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Dtype is the data type of a column.
type Dtype string

const (
	DtypeInt      Dtype = "int"
	DtypeFloat    Dtype = "float"
	DtypeBool     Dtype = "bool"
	DtypeStr      Dtype = "str"
	DtypeImage    Dtype = "image"
	DtypeAudio    Dtype = "audio"
	DtypeDocument Dtype = "document"
)

// VectorDtype builds a vector dtype string, e.g. "vector<f32,1536>".
func VectorDtype(elem string, dim int) Dtype {
	return Dtype(fmt.Sprintf("vector<%s,%d>", elem, dim))
}

// IsVector reports whether the dtype is a vector type.
func (d Dtype) IsVector() bool {
	return strings.HasPrefix(string(d), "vector<")
}

// VectorSpec parses a vector dtype into its element type and dimension.
func (d Dtype) VectorSpec() (elem string, dim int, ok bool) {
	s := string(d)
	if !strings.HasPrefix(s, "vector<") || !strings.HasSuffix(s, ">") {
		return "", 0, false
	}
	parts := strings.SplitN(strings.TrimSuffix(strings.TrimPrefix(s, "vector<"), ">"), ",", 2)
	if len(parts) != 2 {
		return "", 0, false
	}
	dim, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || dim <= 0 {
		return "", 0, false
	}
	return strings.TrimSpace(parts[0]), dim, true
}

const (
	// ColumnRowID is the info column holding the row identifier.
	ColumnRowID = "ID"
	// ColumnUpdatedAt is the info column holding the row update timestamp.
	ColumnUpdatedAt = "Updated at"
	// StateSuffix marks a state column, the "<id>_" sibling of a data column.
	StateSuffix = "_"
)

// ColumnMeta describes one column of a generative table. Schema is read-only
// during execution.
type ColumnMeta struct {
	ID    string    `json:"id"`
	Dtype Dtype     `json:"dtype"`
	Order int       `json:"column_order"`
	Gen   GenConfig `json:"-"`
}

// IsInfo reports whether the column is an info column (ID / Updated at).
func (c ColumnMeta) IsInfo() bool {
	return c.ID == ColumnRowID || c.ID == ColumnUpdatedAt
}

// IsState reports whether the column is a state column.
func (c ColumnMeta) IsState() bool {
	return strings.HasSuffix(c.ID, StateSuffix)
}

// IsVector reports whether the column holds a vector.
func (c ColumnMeta) IsVector() bool {
	return c.Dtype.IsVector()
}

// IsOutput reports whether the column is generated. Info and state columns
// are never generated.
func (c ColumnMeta) IsOutput() bool {
	return c.Gen != nil && !c.IsInfo() && !c.IsState()
}

// IsDocument reports whether the column holds a document URI.
func (c ColumnMeta) IsDocument() bool {
	return c.Dtype == DtypeDocument
}

// IsFile reports whether the column holds a file URI of any kind.
func (c ColumnMeta) IsFile() bool {
	return c.Dtype == DtypeImage || c.Dtype == DtypeAudio || c.Dtype == DtypeDocument
}

// StateColumnID returns the id of this column's state sibling.
func (c ColumnMeta) StateColumnID() string {
	return c.ID + StateSuffix
}

// DataColumnID returns the id of the data column backing a state column.
func (c ColumnMeta) DataColumnID() string {
	return strings.TrimSuffix(c.ID, StateSuffix)
}

// Schema is the ordered column list of a table.
type Schema []ColumnMeta

// ColumnMap indexes the schema by column id.
func (s Schema) ColumnMap() map[string]ColumnMeta {
	m := make(map[string]ColumnMeta, len(s))
	for _, c := range s {
		m[c.ID] = c
	}
	return m
}

// OutputColumns returns the output columns in schema order.
func (s Schema) OutputColumns() []ColumnMeta {
	var out []ColumnMeta
	for _, c := range s {
		if c.IsOutput() {
			out = append(out, c)
		}
	}
	return out
}

// Column returns the column with the given id.
func (s Schema) Column(id string) (ColumnMeta, bool) {
	for _, c := range s {
		if c.ID == id {
			return c, true
		}
	}
	return ColumnMeta{}, false
}

// LeftOfColumns returns every non-info, non-state, non-vector column strictly
// to the left of the named column, in schema order.
func (s Schema) LeftOfColumns(columnID string) []string {
	idx := -1
	for i, c := range s {
		if c.ID == columnID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	var out []string
	for _, c := range s[:idx] {
		if c.IsInfo() || c.IsState() || c.IsVector() {
			continue
		}
		out = append(out, c.ID)
	}
	return out
}

// Table is the metadata handle of an open generative table.
type Table struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Columns   Schema `json:"columns"`
}
