// Package pipeline streams tables from a source store through PII detection
// and anonymization into a destination store, with bounded memory and a
// deterministic output independent of worker count.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vana-com/pii-anonymizer/internal/config"
	"github.com/vana-com/pii-anonymizer/internal/store"
)

// Pipeline runs a full anonymization pass over every allowed source table.
type Pipeline struct {
	cfg         *config.Config
	source      store.Source
	dest        store.Destination
	transformer rowTransformer
	stats       *Stats
	logger      *zap.Logger
}

// New assembles a pipeline over the given stores.
func New(cfg *config.Config, source store.Source, dest store.Destination, transformer *Transformer, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		source:      source,
		dest:        dest,
		transformer: transformer,
		stats:       NewStats(),
		logger:      logger,
	}
}

// Run processes every table on the allow list and returns the run report.
// Under the abort policy any batch failure stops the run, the partial table
// is discarded, and no report is produced.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	startedAt := time.Now()

	tables, err := p.source.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list source tables: %w", err)
	}

	allowed := make([]string, 0, len(tables))
	for _, table := range tables {
		if !p.cfg.TableAllowed(table) {
			p.logger.Info("Table not on allow list, skipping", zap.String("table", table))
			continue
		}
		allowed = append(allowed, table)
	}
	if len(allowed) == 0 {
		p.logger.Warn("No tables to process", zap.Int("discovered", len(tables)))
	}

	processor := &tableProcessor{
		cfg:         p.cfg,
		source:      p.source,
		dest:        p.dest,
		transformer: p.transformer,
		stats:       p.stats,
		logger:      p.logger,
	}

	for _, table := range allowed {
		if err := processor.process(ctx, table); err != nil {
			return nil, err
		}
	}

	report := p.stats.BuildReport(allowed, startedAt, time.Now())
	p.logger.Info("Anonymization run complete",
		zap.Int("tables", len(allowed)),
		zap.Int64("rows", report.ProcessingStats.ProcessedRows),
		zap.Int64("values_anonymized", report.AnonymizationStats.TotalValuesAnonymized),
		zap.Float64("anonymization_rate", report.ProcessingStats.AnonymizationRate))

	return report, nil
}
