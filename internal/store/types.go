package store

import (
	"context"
	"strings"
)

// Row is an ordered sequence of scalar values aligned with the owning
// table's column order.
type Row []interface{}

// Column is a named, typed table column.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TableInfo describes a table's schema. The destination schema for a table
// is always identical to the source schema.
type TableInfo struct {
	Name       string   `json:"name"`
	Columns    []Column `json:"columns"`
	RowCount   int64    `json:"row_count"`
	PrimaryKey string   `json:"primary_key,omitempty"`
}

// ColumnNames returns the column names in declared order.
func (t *TableInfo) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, column := range t.Columns {
		names[i] = column.Name
	}
	return names
}

// Source exposes table names, column schemas, and a paginated row reader.
// ReadBatch is driven by a single cursor that never rewinds: callers request
// strictly increasing offsets.
type Source interface {
	ListTables(ctx context.Context) ([]string, error)
	TableInfo(ctx context.Context, table string) (*TableInfo, error)
	ReadBatch(ctx context.Context, table string, offset, limit int64) ([]Row, error)
	Close() error
}

// Destination accepts a schema and ordered batches of rows. WriteBatch must
// be called in strictly increasing batch-index order per table. Discard
// removes a partially written table after an aborted run.
type Destination interface {
	CreateTable(ctx context.Context, info *TableInfo) error
	WriteBatch(ctx context.Context, table string, rows []Row) error
	Discard(ctx context.Context, table string) error
	Close() error
}

// textTypes are column types whose values run through PII detection.
var textTypes = map[string]bool{
	"TEXT": true, "VARCHAR": true, "CHAR": true, "STRING": true,
	"CHARACTER VARYING": true, "CHARACTER": true, "UTF8": true,
	"BYTE_ARRAY": true,
}

// IsTextType reports whether a declared column type is text-bearing.
func IsTextType(columnType string) bool {
	base := strings.ToUpper(columnType)
	if idx := strings.Index(base, "("); idx > 0 {
		base = base[:idx]
	}
	return textTypes[strings.TrimSpace(base)]
}
