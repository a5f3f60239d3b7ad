package expression

import (
	"fmt"
	"sort"
)

// CellTable is per-cell metadata keyed by cell identifier, typically loaded
// from a CSV whose first column is the barcode. Row ids are not required to be
// unique: barcodes only have to be unique once normalized against a matrix.
type CellTable struct {
	ids     []string
	columns map[string][]string
}

// NewCellTable builds a table from ids and named columns of equal length.
func NewCellTable(ids []string, columns map[string][]string) (*CellTable, error) {
	t := &CellTable{ids: append([]string(nil), ids...), columns: make(map[string][]string, len(columns))}
	for name, col := range columns {
		if len(col) != len(ids) {
			return nil, fmt.Errorf("column %q has %d values, expected %d", name, len(col), len(ids))
		}
		t.columns[name] = append([]string(nil), col...)
	}
	return t, nil
}

// Len returns the number of rows.
func (t *CellTable) Len() int { return len(t.ids) }

// IDs returns a copy of the row identifiers.
func (t *CellTable) IDs() []string { return append([]string(nil), t.ids...) }

// Column returns a copy of the named column.
func (t *CellTable) Column(name string) ([]string, bool) {
	col, ok := t.columns[name]
	if !ok {
		return nil, false
	}
	return append([]string(nil), col...), true
}

// ColumnNames lists the column names in sorted order.
func (t *CellTable) ColumnNames() []string { return sortedKeys(t.columns) }

// WithIDs returns a copy of t whose row identifiers are mapped through fn.
func (t *CellTable) WithIDs(fn func(string) string) *CellTable {
	ids := make([]string, len(t.ids))
	for i, id := range t.ids {
		ids[i] = fn(id)
	}
	return &CellTable{ids: ids, columns: t.columns}
}

// Filter returns the rows for which keep reports true, preserving order.
func (t *CellTable) Filter(keep func(row int) bool) *CellTable {
	var idx []int
	for i := range t.ids {
		if keep(i) {
			idx = append(idx, i)
		}
	}
	out := &CellTable{ids: pick(t.ids, idx), columns: make(map[string][]string, len(t.columns))}
	for name, col := range t.columns {
		out.columns[name] = pick(col, idx)
	}
	return out
}

// Value returns the value of column name at row i.
func (t *CellTable) Value(name string, i int) (string, bool) {
	col, ok := t.columns[name]
	if !ok || i < 0 || i >= len(col) {
		return "", false
	}
	return col[i], true
}

// Distinct returns the distinct values of a column, sorted.
func (t *CellTable) Distinct(name string) []string {
	seen := map[string]struct{}{}
	for _, v := range t.columns[name] {
		seen[v] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
