package store

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"
)

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
)

// DetectFileFormat detects file format from extension
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return FormatParquet
	case ".json", ".jsonl":
		return FormatJSON
	default:
		return FormatCSV
	}
}

// FileSource implements Source over a single CSV, Parquet, or JSON dataset
// file. The file appears as one logical table named after the file. Reads
// are strictly sequential: the cursor never rewinds.
type FileSource struct {
	path   string
	format FileFormat
	table  string
	logger *zap.Logger

	mu       sync.Mutex
	info     *TableInfo
	position int64

	file       *os.File
	csvReader  *csv.Reader
	jsonReader *json.Decoder
	parquetRdr *parquet.Reader
	jsonKeys   []string
}

var _ Source = (*FileSource)(nil)

// NewFileSource creates a file-backed source for the given dataset file.
func NewFileSource(path string, logger *zap.Logger) (*FileSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("input file not readable: %w", err)
	}

	format := DetectFileFormat(path)
	table := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	logger.Info("File source initialized",
		zap.String("path", path),
		zap.String("format", string(format)),
		zap.String("table", table))

	return &FileSource{path: path, format: format, table: table, logger: logger}, nil
}

// ListTables returns the single logical table backed by the file.
func (s *FileSource) ListTables(ctx context.Context) ([]string, error) {
	return []string{s.table}, nil
}

// TableInfo scans the file once to derive the schema and row count.
func (s *FileSource) TableInfo(ctx context.Context, table string) (*TableInfo, error) {
	if table != s.table {
		return nil, fmt.Errorf("table not found: %s", table)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.info != nil {
		return s.info, nil
	}

	info, err := s.scanSchema()
	if err != nil {
		return nil, err
	}
	s.info = info
	return info, nil
}

func (s *FileSource) scanSchema() (*TableInfo, error) {
	file, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer file.Close()

	info := &TableInfo{Name: s.table}

	switch s.format {
	case FormatCSV:
		reader := csv.NewReader(file)
		header, err := reader.Read()
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV header: %w", err)
		}
		for _, name := range header {
			info.Columns = append(info.Columns, Column{Name: strings.TrimSpace(name), Type: "TEXT"})
		}
		for {
			if _, err := reader.Read(); err == io.EOF {
				break
			} else if err != nil {
				return nil, fmt.Errorf("failed to scan CSV rows: %w", err)
			}
			info.RowCount++
		}

	case FormatJSON:
		decoder := json.NewDecoder(file)
		first := true
		for {
			var record map[string]interface{}
			if err := decoder.Decode(&record); err == io.EOF {
				break
			} else if err != nil {
				return nil, fmt.Errorf("failed to scan JSON rows: %w", err)
			}
			if first {
				keys := make([]string, 0, len(record))
				for key := range record {
					keys = append(keys, key)
				}
				sort.Strings(keys)
				for _, key := range keys {
					info.Columns = append(info.Columns, Column{Name: key, Type: "TEXT"})
				}
				first = false
			}
			info.RowCount++
		}

	case FormatParquet:
		reader := parquet.NewReader(file)
		defer reader.Close()
		for _, field := range reader.Schema().Fields() {
			info.Columns = append(info.Columns, Column{
				Name: field.Name(),
				Type: parquetColumnType(field),
			})
		}
		info.RowCount = reader.NumRows()

	default:
		return nil, fmt.Errorf("unsupported file format: %s", s.format)
	}

	return info, nil
}

// ReadBatch reads the next page. Offsets must be monotonically increasing;
// a rewind is a caller bug.
func (s *FileSource) ReadBatch(ctx context.Context, table string, offset, limit int64) ([]Row, error) {
	if table != s.table {
		return nil, fmt.Errorf("table not found: %s", table)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		if err := s.openReader(); err != nil {
			return nil, err
		}
	}

	if offset < s.position {
		return nil, fmt.Errorf("cursor rewind requested: offset %d below position %d", offset, s.position)
	}
	for s.position < offset {
		if _, err := s.readRow(); err == io.EOF {
			return []Row{}, nil
		} else if err != nil {
			return nil, err
		}
		s.position++
	}

	batch := make([]Row, 0, limit)
	for int64(len(batch)) < limit {
		row, err := s.readRow()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		batch = append(batch, row)
		s.position++
	}

	return batch, nil
}

func (s *FileSource) openReader() error {
	file, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("failed to open input file: %w", err)
	}
	s.file = file
	s.position = 0

	switch s.format {
	case FormatCSV:
		s.csvReader = csv.NewReader(file)
		if _, err := s.csvReader.Read(); err != nil { // skip header
			file.Close()
			s.file = nil
			return fmt.Errorf("failed to read CSV header: %w", err)
		}
	case FormatJSON:
		s.jsonReader = json.NewDecoder(file)
		if s.info != nil {
			s.jsonKeys = s.info.ColumnNames()
		}
	case FormatParquet:
		s.parquetRdr = parquet.NewReader(file)
	}
	return nil
}

func (s *FileSource) readRow() (Row, error) {
	switch s.format {
	case FormatCSV:
		record, err := s.csvReader.Read()
		if err != nil {
			return nil, err
		}
		row := make(Row, len(record))
		for i, value := range record {
			row[i] = value
		}
		return row, nil

	case FormatJSON:
		var record map[string]interface{}
		if err := s.jsonReader.Decode(&record); err != nil {
			return nil, err
		}
		row := make(Row, len(s.jsonKeys))
		for i, key := range s.jsonKeys {
			row[i] = record[key]
		}
		return row, nil

	case FormatParquet:
		rows := make([]parquet.Row, 1)
		n, err := s.parquetRdr.ReadRows(rows)
		if n == 0 {
			if err != nil && err != io.EOF {
				return nil, err
			}
			return nil, io.EOF
		}
		row := make(Row, len(rows[0]))
		for i, value := range rows[0] {
			row[i] = parquetScalar(value)
		}
		return row, nil
	}
	return nil, fmt.Errorf("unsupported file format: %s", s.format)
}

// Close releases the underlying file.
func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.parquetRdr != nil {
		s.parquetRdr.Close()
		s.parquetRdr = nil
	}
	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}

// parquetScalar converts a leaf parquet value to a Go scalar.
func parquetScalar(value parquet.Value) interface{} {
	if value.IsNull() {
		return nil
	}
	switch value.Kind() {
	case parquet.Boolean:
		return value.Boolean()
	case parquet.Int32:
		return int64(value.Int32())
	case parquet.Int64:
		return value.Int64()
	case parquet.Float:
		return float64(value.Float())
	case parquet.Double:
		return value.Double()
	default:
		return string(value.ByteArray())
	}
}

// parquetColumnType maps a parquet leaf node to a declared column type.
func parquetColumnType(field parquet.Field) string {
	if field.Type() == nil {
		return "TEXT"
	}
	switch field.Type().Kind() {
	case parquet.Boolean:
		return "BOOLEAN"
	case parquet.Int32, parquet.Int64:
		return "BIGINT"
	case parquet.Float, parquet.Double:
		return "DOUBLE"
	default:
		return "TEXT"
	}
}

// FileDestination implements Destination by exporting tables to Parquet or
// CSV files under a directory. All values are serialized as text.
type FileDestination struct {
	dir    string
	format FileFormat
	logger *zap.Logger

	mu     sync.Mutex
	tables map[string]*fileTable
}

type fileTable struct {
	info    *TableInfo
	path    string
	file    *os.File
	csv     *csv.Writer
	parquet *parquet.GenericWriter[map[string]interface{}]
}

var _ Destination = (*FileDestination)(nil)

// NewFileDestination creates a file-backed destination writing one file per
// table under dir.
func NewFileDestination(dir string, format FileFormat, logger *zap.Logger) (*FileDestination, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &FileDestination{dir: dir, format: format, logger: logger, tables: make(map[string]*fileTable)}, nil
}

// CreateTable opens the output file and writes the schema header.
func (d *FileDestination) CreateTable(ctx context.Context, info *TableInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.tables[info.Name]; exists {
		return nil
	}

	path := filepath.Join(d.dir, info.Name+"."+string(d.format))
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	table := &fileTable{info: info, path: path, file: file}

	switch d.format {
	case FormatCSV:
		table.csv = csv.NewWriter(file)
		if err := table.csv.Write(info.ColumnNames()); err != nil {
			file.Close()
			return fmt.Errorf("failed to write CSV header: %w", err)
		}
	case FormatParquet:
		group := parquet.Group{}
		for _, column := range info.Columns {
			group[column.Name] = parquet.Optional(parquet.String())
		}
		schema := parquet.NewSchema(info.Name, group)
		table.parquet = parquet.NewGenericWriter[map[string]interface{}](file, schema)
	default:
		file.Close()
		return fmt.Errorf("unsupported output format: %s", d.format)
	}

	d.tables[info.Name] = table
	d.logger.Info("Destination file created", zap.String("table", info.Name), zap.String("path", path))
	return nil
}

// WriteBatch appends rows to the table's output file.
func (d *FileDestination) WriteBatch(ctx context.Context, table string, rows []Row) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	out, ok := d.tables[table]
	if !ok {
		return fmt.Errorf("table not created: %s", table)
	}

	switch d.format {
	case FormatCSV:
		for _, row := range rows {
			record := make([]string, len(row))
			for i, value := range row {
				record[i] = scalarString(value)
			}
			if err := out.csv.Write(record); err != nil {
				return fmt.Errorf("failed to write CSV row: %w", err)
			}
		}
		out.csv.Flush()
		if err := out.csv.Error(); err != nil {
			return fmt.Errorf("failed to flush CSV rows: %w", err)
		}

	case FormatParquet:
		records := make([]map[string]interface{}, len(rows))
		names := out.info.ColumnNames()
		for i, row := range rows {
			record := make(map[string]interface{}, len(row))
			for j, value := range row {
				if j < len(names) {
					record[names[j]] = scalarString(value)
				}
			}
			records[i] = record
		}
		if _, err := out.parquet.Write(records); err != nil {
			return fmt.Errorf("failed to write parquet rows: %w", err)
		}
	}

	return nil
}

// Discard removes a partially written output file after an aborted run.
func (d *FileDestination) Discard(ctx context.Context, table string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	out, ok := d.tables[table]
	if !ok {
		return nil
	}
	delete(d.tables, table)

	out.file.Close()
	if err := os.Remove(out.path); err != nil {
		return fmt.Errorf("failed to discard output file: %w", err)
	}
	d.logger.Warn("Partial destination file discarded", zap.String("table", table))
	return nil
}

// Close flushes and closes all output files.
func (d *FileDestination) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error
	for name, out := range d.tables {
		if out.parquet != nil {
			if err := out.parquet.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("failed to close parquet writer for %s: %w", name, err)
			}
		}
		if out.csv != nil {
			out.csv.Flush()
		}
		if err := out.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.tables = make(map[string]*fileTable)
	return firstErr
}

// scalarString renders any scalar as text for export.
func scalarString(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
