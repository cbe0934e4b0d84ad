package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// SQLConfig contains database connection configuration.
type SQLConfig struct {
	DatabaseURL     string        `json:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `json:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// SQLStore implements Source and Destination over a PostgreSQL database.
type SQLStore struct {
	db     *sqlx.DB
	logger *zap.Logger

	mu        sync.Mutex
	infoCache map[string]*TableInfo
}

var (
	_ Source      = (*SQLStore)(nil)
	_ Destination = (*SQLStore)(nil)
)

// NewSQLStore connects to the database and verifies the connection.
func NewSQLStore(config *SQLConfig, logger *zap.Logger) (*SQLStore, error) {
	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	logger.Info("SQL store initialized",
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)))

	return &SQLStore{db: db, logger: logger, infoCache: make(map[string]*TableInfo)}, nil
}

// ListTables returns all tables in the public schema.
func (s *SQLStore) ListTables(ctx context.Context) ([]string, error) {
	var tables []string
	query := `SELECT tablename FROM pg_tables WHERE schemaname = 'public' ORDER BY tablename`
	if err := s.db.SelectContext(ctx, &tables, query); err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	return tables, nil
}

// TableInfo introspects a table's columns, primary key, and row count.
// Results are cached for the lifetime of the store.
func (s *SQLStore) TableInfo(ctx context.Context, table string) (*TableInfo, error) {
	s.mu.Lock()
	if cached, ok := s.infoCache[table]; ok {
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	type columnRow struct {
		Name string `db:"column_name"`
		Type string `db:"data_type"`
	}

	var columns []columnRow
	query := `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
		ORDER BY ordinal_position`
	if err := s.db.SelectContext(ctx, &columns, query, table); err != nil {
		return nil, fmt.Errorf("failed to read schema for %s: %w", table, err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table not found: %s", table)
	}

	info := &TableInfo{Name: table}
	for _, column := range columns {
		info.Columns = append(info.Columns, Column{Name: column.Name, Type: column.Type})
	}

	pkQuery := `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		WHERE tc.table_schema = 'public'
		  AND tc.table_name = $1
		  AND tc.constraint_type = 'PRIMARY KEY'
		ORDER BY kcu.ordinal_position
		LIMIT 1`
	var primaryKey string
	err := s.db.GetContext(ctx, &primaryKey, pkQuery, table)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to read primary key for %s: %w", table, err)
	}
	info.PrimaryKey = primaryKey

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s", pq.QuoteIdentifier(table))
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

// ReadBatch reads one page of rows in a stable order. The primary key drives
// pagination order when present; otherwise every column in declared order
// keeps the cursor deterministic.
func (s *SQLStore) ReadBatch(ctx context.Context, table string, offset, limit int64) ([]Row, error) {
	info, err := s.TableInfo(ctx, table)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT * FROM %s ORDER BY %s LIMIT %d OFFSET %d",
		pq.QuoteIdentifier(table), orderByClause(info), limit, offset)

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

// CreateTable creates the destination table with the source schema.
func (s *SQLStore) CreateTable(ctx context.Context, info *TableInfo) error {
	definitions := make([]string, len(info.Columns))
	for i, column := range info.Columns {
		definition := pq.QuoteIdentifier(column.Name) + " " + column.Type
		if column.Name == info.PrimaryKey {
			definition += " PRIMARY KEY"
		}
		definitions[i] = definition
	}

	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		pq.QuoteIdentifier(info.Name), strings.Join(definitions, ", "))

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", info.Name, err)
	}

	s.logger.Info("Destination table created",
		zap.String("table", info.Name),
		zap.Int("columns", len(info.Columns)))

	return nil
}

// WriteBatch inserts rows with a single multi-row statement.
func (s *SQLStore) WriteBatch(ctx context.Context, table string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	width := len(rows[0])
	valueArgs := make([]interface{}, 0, len(rows)*width)
	for i, row := range rows {
		if len(row) != width {
			return fmt.Errorf("row %d has %d values, want %d", i, len(row), width)
		}
		valueArgs = append(valueArgs, row...)
	}

	query := insertStatement(table, len(rows), width)

	if _, err := s.db.ExecContext(ctx, query, valueArgs...); err != nil {
		return fmt.Errorf("batch insert into %s failed: %w", table, err)
	}

	s.logger.Debug("Batch written", zap.String("table", table), zap.Int("rows", len(rows)))
	return nil
}

// Discard drops a partially written table after an aborted run.
func (s *SQLStore) Discard(ctx context.Context, table string) error {
	query := fmt.Sprintf("DROP TABLE IF EXISTS %s", pq.QuoteIdentifier(table))
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to discard table %s: %w", table, err)
	}
	s.logger.Warn("Partial destination table discarded", zap.String("table", table))
	return nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// orderByClause returns the deterministic pagination order for a table: the
// primary key when one exists, otherwise every column in declared order.
func orderByClause(info *TableInfo) string {
	if info.PrimaryKey != "" {
		return pq.QuoteIdentifier(info.PrimaryKey)
	}
	quoted := make([]string, len(info.Columns))
	for i, column := range info.Columns {
		quoted[i] = pq.QuoteIdentifier(column.Name)
	}
	return strings.Join(quoted, ", ")
}

// insertStatement builds a single multi-row INSERT with numbered
// placeholders for rowCount rows of width columns.
func insertStatement(table string, rowCount, width int) string {
	valueStrings := make([]string, rowCount)
	for i := 0; i < rowCount; i++ {
		placeholders := make([]string, width)
		for j := 0; j < width; j++ {
			placeholders[j] = fmt.Sprintf("$%d", i*width+j+1)
		}
		valueStrings[i] = "(" + strings.Join(placeholders, ", ") + ")"
	}
	return fmt.Sprintf("INSERT INTO %s VALUES %s",
		pq.QuoteIdentifier(table), strings.Join(valueStrings, ","))
}

// maskDatabaseURL masks sensitive information in database URL for logging
func maskDatabaseURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
