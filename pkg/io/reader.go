// Package io provides input/output utilities for data ingestion.
package io

// Reader is the interface for reading tabular log data from a source.
type Reader interface {
	// Read returns the complete table.
	Read() (*Table, error)
}

// Table is a raw, untyped tabular dataset: one header row plus records.
// Cells are kept as text; typing happens in the schema package.
type Table struct {
	Header  []string
	Records [][]string
}

// Column returns the position of the named column, or -1.
func (t *Table) Column(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// Cell returns the cell at (row, col). Cells past the end of a short
// record are reported as empty.
func (t *Table) Cell(row, col int) string {
	rec := t.Records[row]
	if col < 0 || col >= len(rec) {
		return ""
	}
	return rec[col]
}

// Len returns the number of data records.
func (t *Table) Len() int {
	return len(t.Records)
}
