package domain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Row is a mapping from column id to cell value. A value written during
// execution is immutable for the remainder of that row's run.
type Row map[string]any

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ID returns the row identifier, empty when unset.
func (r Row) ID() string {
	id, _ := r[ColumnRowID].(string)
	return id
}

// State returns the state payload of the given data column, or nil.
func (r Row) State(columnID string) map[string]any {
	state, _ := r[columnID+StateSuffix].(map[string]any)
	return state
}

// NewRowID generates a sortable row identifier, monotonically increasing
// with creation time.
func NewRowID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the entropy source does; fall back to v4
		// rather than propagating an error nobody can act on.
		return uuid.NewString()
	}
	return id.String()
}

// CellString renders a cell value for prompt substitution and code input.
func CellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	default:
		return fmt.Sprint(x)
	}
}

// IsEmptyCell reports whether the value is nil or an empty / blank string.
func IsEmptyCell(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}
