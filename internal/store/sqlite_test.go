package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func writeSQLiteFixture(t *testing.T, path string) {
	t.Helper()
	logger := zap.NewNop()
	ctx := context.Background()

	dest, err := NewSQLiteDestination(path, logger)
	if err != nil {
		t.Fatalf("Failed to create destination: %v", err)
	}

	info := &TableInfo{
		Name: "results",
		Columns: []Column{
			{Name: "id", Type: "INTEGER"},
			{Name: "name", Type: "TEXT"},
			{Name: "note", Type: "TEXT"},
		},
		PrimaryKey: "id",
	}
	if err := dest.CreateTable(ctx, info); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		row := Row{int64(i), fmt.Sprintf("name-%d", i), fmt.Sprintf("note-%d", i)}
		if err := dest.WriteBatch(ctx, "results", []Row{row}); err != nil {
			t.Fatalf("WriteBatch failed: %v", err)
		}
	}

	// A second table written and then discarded must leave no trace.
	scratch := &TableInfo{Name: "scratch", Columns: []Column{{Name: "note", Type: "TEXT"}}}
	if err := dest.CreateTable(ctx, scratch); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	if err := dest.WriteBatch(ctx, "scratch", []Row{{"partial"}}); err != nil {
		t.Fatalf("WriteBatch failed: %v", err)
	}
	if err := dest.Discard(ctx, "scratch"); err != nil {
		t.Fatalf("Discard failed: %v", err)
	}

	if err := dest.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "query_results.db")
	writeSQLiteFixture(t, path)

	ctx := context.Background()
	source, err := NewSQLiteSource(path, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to open source: %v", err)
	}
	defer source.Close()

	t.Run("ListTablesOmitsDiscarded", func(t *testing.T) {
		tables, err := source.ListTables(ctx)
		if err != nil {
			t.Fatalf("ListTables failed: %v", err)
		}
		if len(tables) != 1 || tables[0] != "results" {
			t.Errorf("Tables = %v, want [results]", tables)
		}
	})

	t.Run("TableInfo", func(t *testing.T) {
		info, err := source.TableInfo(ctx, "results")
		if err != nil {
			t.Fatalf("TableInfo failed: %v", err)
		}
		if len(info.Columns) != 3 {
			t.Fatalf("Columns = %d, want 3", len(info.Columns))
		}
		if info.Columns[1].Name != "name" || info.Columns[1].Type != "TEXT" {
			t.Errorf("Column 1 = %+v, want name TEXT", info.Columns[1])
		}
		if info.PrimaryKey != "id" {
			t.Errorf("PrimaryKey = %q, want id", info.PrimaryKey)
		}
		if info.RowCount != 5 {
			t.Errorf("RowCount = %d, want 5", info.RowCount)
		}
	})

	t.Run("PagedReadsInRowOrder", func(t *testing.T) {
		var got []string
		for offset := int64(0); ; {
			batch, err := source.ReadBatch(ctx, "results", offset, 2)
			if err != nil {
				t.Fatalf("ReadBatch at offset %d failed: %v", offset, err)
			}
			if len(batch) == 0 {
				break
			}
			for _, row := range batch {
				got = append(got, fmt.Sprintf("%v", row[1]))
			}
			offset += int64(len(batch))
		}
		if len(got) != 5 {
			t.Fatalf("Read %d rows, want 5", len(got))
		}
		for i, name := range got {
			if want := fmt.Sprintf("name-%d", i); name != want {
				t.Errorf("Row %d name = %q, want %q", i, name, want)
			}
		}
	})

	t.Run("UnknownTable", func(t *testing.T) {
		if _, err := source.TableInfo(ctx, "missing"); err == nil {
			t.Error("TableInfo succeeded for missing table")
		}
	})
}

func TestSQLiteSourceMissingFile(t *testing.T) {
	if _, err := NewSQLiteSource(filepath.Join(t.TempDir(), "absent.db"), zap.NewNop()); err == nil {
		t.Error("NewSQLiteSource succeeded for a missing file")
	}
}
