package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vana-com/pii-anonymizer/internal/pipeline"
	"github.com/vana-com/pii-anonymizer/internal/store"
)

// nopDest is a destination whose Close can be made to fail.
type nopDest struct {
	closeErr error
}

func (d *nopDest) CreateTable(ctx context.Context, info *store.TableInfo) error { return nil }

func (d *nopDest) WriteBatch(ctx context.Context, table string, rows []store.Row) error {
	return nil
}

func (d *nopDest) Discard(ctx context.Context, table string) error { return nil }

func (d *nopDest) Close() error { return d.closeErr }

func TestFinalizeOutput(t *testing.T) {
	report := pipeline.NewStats().BuildReport([]string{"results"}, time.Now(), time.Now())

	t.Run("CloseFailureSuppressesReport", func(t *testing.T) {
		statsPath := filepath.Join(t.TempDir(), "stats.json")
		dest := &nopDest{closeErr: errors.New("disk full")}

		if err := finalizeOutput(dest, report, statsPath); err == nil {
			t.Fatal("finalizeOutput succeeded despite destination close failure")
		}
		if _, err := os.Stat(statsPath); !os.IsNotExist(err) {
			t.Errorf("Report written despite close failure: stat err = %v", err)
		}
	})

	t.Run("ReportWrittenAfterClose", func(t *testing.T) {
		statsPath := filepath.Join(t.TempDir(), "stats.json")

		if err := finalizeOutput(&nopDest{}, report, statsPath); err != nil {
			t.Fatalf("finalizeOutput failed: %v", err)
		}
		if _, err := os.Stat(statsPath); err != nil {
			t.Errorf("Report not written: %v", err)
		}
	})
}
