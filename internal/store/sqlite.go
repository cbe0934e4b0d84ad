package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteSource implements Source over a SQLite database file, the format the
// Query Engine delivers results in.
type SQLiteSource struct {
	db     *sqlx.DB
	path   string
	logger *zap.Logger

	mu        sync.Mutex
	infoCache map[string]*TableInfo
}

var _ Source = (*SQLiteSource)(nil)

// NewSQLiteSource opens a SQLite database file read-only.
func NewSQLiteSource(path string, logger *zap.Logger) (*SQLiteSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("database file not readable: %w", err)
	}

	db, err := sqlx.Connect("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	logger.Info("SQLite source initialized", zap.String("path", path))
	return &SQLiteSource{db: db, path: path, logger: logger, infoCache: make(map[string]*TableInfo)}, nil
}

// ListTables returns all user tables in the database.
func (s *SQLiteSource) ListTables(ctx context.Context) ([]string, error) {
	var tables []string
	query := `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`
	if err := s.db.SelectContext(ctx, &tables, query); err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	return tables, nil
}

// TableInfo introspects a table via PRAGMA table_info. Results are cached
// for the lifetime of the source.
func (s *SQLiteSource) TableInfo(ctx context.Context, table string) (*TableInfo, error) {
	s.mu.Lock()
	if cached, ok := s.infoCache[table]; ok {
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	rows, err := s.db.QueryxContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteSQLite(table)))
	if err != nil {
		return nil, fmt.Errorf("failed to read schema for %s: %w", table, err)
	}
	defer rows.Close()

	info := &TableInfo{Name: table}
	for rows.Next() {
		var (
			cid        int
			name       string
			columnType string
			notNull    int
			dflt       sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &columnType, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan schema row for %s: %w", table, err)
		}
		if columnType == "" {
			columnType = "TEXT"
		}
		info.Columns = append(info.Columns, Column{Name: name, Type: columnType})
		if pk == 1 {
			info.PrimaryKey = name
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read schema for %s: %w", table, err)
	}
	if len(info.Columns) == 0 {
		return nil, fmt.Errorf("table not found: %s", table)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteSQLite(table))
	if err := s.db.GetContext(ctx, &info.RowCount, countQuery); err != nil {
		return nil, fmt.Errorf("failed to count rows in %s: %w", table, err)
	}

	s.logger.Debug("Table introspected",
		zap.String("table", table),
		zap.Int("columns", len(info.Columns)),
		zap.Int64("rows", info.RowCount))

	s.mu.Lock()
	s.infoCache[table] = info
	s.mu.Unlock()

	return info, nil
}

// ReadBatch pages through the table in rowid order, which is stable for the
// read-only result databases this source consumes.
func (s *SQLiteSource) ReadBatch(ctx context.Context, table string, offset, limit int64) ([]Row, error) {
	query := fmt.Sprintf("SELECT * FROM %s ORDER BY rowid LIMIT %d OFFSET %d",
		quoteSQLite(table), limit, offset)

	rows, err := s.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch from %s: %w", table, err)
	}
	defer rows.Close()

	batch := make([]Row, 0, limit)
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return nil, fmt.Errorf("failed to scan row from %s: %w", table, err)
		}
		batch = append(batch, Row(values))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read batch from %s: %w", table, err)
	}

	return batch, nil
}

// Close closes the database.
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

// SQLiteDestination implements Destination over a fresh SQLite database file.
type SQLiteDestination struct {
	db     *sqlx.DB
	path   string
	logger *zap.Logger
}

var _ Destination = (*SQLiteDestination)(nil)

// NewSQLiteDestination creates (or opens) the output database file.
func NewSQLiteDestination(path string, logger *zap.Logger) (*SQLiteDestination, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open output database: %w", err)
	}

	logger.Info("SQLite destination initialized", zap.String("path", path))
	return &SQLiteDestination{db: db, path: path, logger: logger}, nil
}

// CreateTable creates the output table with the source schema.
func (d *SQLiteDestination) CreateTable(ctx context.Context, info *TableInfo) error {
	definitions := make([]string, len(info.Columns))
	for i, column := range info.Columns {
		definition := quoteSQLite(column.Name) + " " + column.Type
		if column.Name == info.PrimaryKey {
			definition += " PRIMARY KEY"
		}
		definitions[i] = definition
	}

	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		quoteSQLite(info.Name), strings.Join(definitions, ", "))

	if _, err := d.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", info.Name, err)
	}

	d.logger.Info("Destination table created",
		zap.String("table", info.Name),
		zap.Int("columns", len(info.Columns)))
	return nil
}

// WriteBatch inserts rows inside a single transaction.
func (d *SQLiteDestination) WriteBatch(ctx context.Context, table string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	width := len(rows[0])
	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?,", width), ",") + ")"
	query := fmt.Sprintf("INSERT INTO %s VALUES %s", quoteSQLite(table), placeholders)

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin insert transaction: %w", err)
	}

	for i, row := range rows {
		if len(row) != width {
			tx.Rollback()
			return fmt.Errorf("row %d has %d values, want %d", i, len(row), width)
		}
		if _, err := tx.ExecContext(ctx, query, []interface{}(row)...); err != nil {
			tx.Rollback()
			return fmt.Errorf("batch insert into %s failed: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch into %s: %w", table, err)
	}

	d.logger.Debug("Batch written", zap.String("table", table), zap.Int("rows", len(rows)))
	return nil
}

// Discard drops a partially written table after an aborted run.
func (d *SQLiteDestination) Discard(ctx context.Context, table string) error {
	query := fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteSQLite(table))
	if _, err := d.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to discard table %s: %w", table, err)
	}
	d.logger.Warn("Partial destination table discarded", zap.String("table", table))
	return nil
}

// Close closes the output database.
func (d *SQLiteDestination) Close() error {
	return d.db.Close()
}

// quoteSQLite quotes an identifier for SQLite.
func quoteSQLite(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
