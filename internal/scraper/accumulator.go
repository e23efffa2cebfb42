package scraper

import (
	"time"

	"github.com/idxdata/statement-sync/internal/statement"
)

// RowKey identifies one reporting period for one company.
type RowKey struct {
	Symbol string
	Date   time.Time
}

// Table accumulates scraped line items into a rectangular result. Columns
// are registered append-only; rows never observe a column disappearing, and
// a cell that was never set reads back as null.
type Table struct {
	columns []string
	colSet  map[string]struct{}
	rows    map[RowKey]map[string]statement.Value
	order   []RowKey
}

func NewTable() *Table {
	return &Table{
		colSet: make(map[string]struct{}),
		rows:   make(map[RowKey]map[string]statement.Value),
	}
}

// EnsureColumns registers columns that are not yet part of the table.
// Registration order is preserved.
func (t *Table) EnsureColumns(names ...string) {
	for _, name := range names {
		if _, ok := t.colSet[name]; ok {
			continue
		}
		t.colSet[name] = struct{}{}
		t.columns = append(t.columns, name)
	}
}

// Set stores one cell, registering the column and the row as needed.
func (t *Table) Set(key RowKey, column string, v statement.Value) {
	t.EnsureColumns(column)
	row, ok := t.rows[key]
	if !ok {
		row = make(map[string]statement.Value)
		t.rows[key] = row
		t.order = append(t.order, key)
	}
	row[column] = v
}

// Get reads one cell; unset cells are null.
func (t *Table) Get(key RowKey, column string) statement.Value {
	if row, ok := t.rows[key]; ok {
		return row[column]
	}
	return statement.Null()
}

// Has reports whether the row exists at all.
func (t *Table) Has(key RowKey) bool {
	_, ok := t.rows[key]
	return ok
}

// Columns returns the registered columns in registration order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// Keys returns the row keys in first-seen order.
func (t *Table) Keys() []RowKey {
	out := make([]RowKey, len(t.order))
	copy(out, t.order)
	return out
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.order) }

// Symbols returns the distinct symbols in first-seen order.
func (t *Table) Symbols() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, k := range t.order {
		if _, ok := seen[k.Symbol]; ok {
			continue
		}
		seen[k.Symbol] = struct{}{}
		out = append(out, k.Symbol)
	}
	return out
}

// SymbolKeys returns the row keys for one symbol sorted by date descending.
func (t *Table) SymbolKeys(symbol string) []RowKey {
	var out []RowKey
	for _, k := range t.order {
		if k.Symbol == symbol {
			out = append(out, k)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Date.After(out[j-1].Date); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
