// Package table defines the in-memory tabular value exchanged between pure
// assets during a single engine run.
package table

import (
	"fmt"
	"slices"
)

// Table is a named-column, row-oriented value. It is the only data shape a
// pure asset may produce, and the shape its dependents receive. A Table is
// owned by the run that materialized it and is never shared across runs.
type Table struct {
	columns []string
	rows    [][]any
}

// New creates an empty Table with the given column names. Column names must
// be non-empty and unique.
func New(columns ...string) (*Table, error) {
	seen := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		if c == "" {
			return nil, fmt.Errorf("table: empty column name")
		}
		if _, dup := seen[c]; dup {
			return nil, fmt.Errorf("table: duplicate column %q", c)
		}
		seen[c] = struct{}{}
	}
	return &Table{columns: slices.Clone(columns)}, nil
}

// MustNew is New for statically known column sets; it panics on invalid input.
func MustNew(columns ...string) *Table {
	t, err := New(columns...)
	if err != nil {
		panic(err)
	}
	return t
}

// Columns returns a copy of the column names in declaration order.
func (t *Table) Columns() []string {
	return slices.Clone(t.columns)
}

// NumRows returns the number of rows.
func (t *Table) NumRows() int {
	return len(t.rows)
}

// AppendRow adds a row. The row width must match the column count.
func (t *Table) AppendRow(values ...any) error {
	if len(values) != len(t.columns) {
		return fmt.Errorf("table: row width %d does not match %d columns", len(values), len(t.columns))
	}
	t.rows = append(t.rows, slices.Clone(values))
	return nil
}

// Row returns the values of row i in column order.
func (t *Table) Row(i int) []any {
	return slices.Clone(t.rows[i])
}

// ColumnIndex returns the position of the named column, or -1 if absent.
func (t *Table) ColumnIndex(name string) int {
	return slices.Index(t.columns, name)
}

// Value returns the cell at (row, column name).
func (t *Table) Value(row int, column string) (any, error) {
	idx := t.ColumnIndex(column)
	if idx < 0 {
		return nil, fmt.Errorf("table: unknown column %q", column)
	}
	return t.rows[row][idx], nil
}

// FilterEqual returns a new Table containing only the rows whose value in
// the named column equals want.
func (t *Table) FilterEqual(column string, want any) (*Table, error) {
	idx := t.ColumnIndex(column)
	if idx < 0 {
		return nil, fmt.Errorf("table: unknown column %q", column)
	}
	out := &Table{columns: slices.Clone(t.columns)}
	for _, row := range t.rows {
		if row[idx] == want {
			out.rows = append(out.rows, slices.Clone(row))
		}
	}
	return out, nil
}
