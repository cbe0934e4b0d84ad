package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/vana-com/pii-anonymizer/internal/config"
	"github.com/vana-com/pii-anonymizer/internal/store"
)

// batchJob is one source page, tagged with its position in the stream.
type batchJob struct {
	index int64
	rows  []store.Row
}

// batchResult is a transformed page. original is kept so a failed batch can
// be written unmodified under the skip policy.
type batchResult struct {
	index       int64
	rows        []store.Row
	original    []store.Row
	anonymized  int64
	valueErrors int64
	entities    map[string]int64
	err         error
}

// tableProcessor streams one table from source to destination: a single
// dispatcher pages through the source cursor, a worker pool transforms
// batches concurrently, and a single writer reorders results by batch index
// so output row order matches input row order.
type tableProcessor struct {
	cfg         *config.Config
	source      store.Source
	dest        store.Destination
	transformer rowTransformer
	stats       *Stats
	logger      *zap.Logger
}

func (p *tableProcessor) process(ctx context.Context, table string) error {
	info, err := p.source.TableInfo(ctx, table)
	if err != nil {
		return fmt.Errorf("failed to inspect table %s: %w", table, err)
	}
	p.stats.AddTotal(info.RowCount)

	if err := p.dest.CreateTable(ctx, info); err != nil {
		return err
	}

	batchSize := int64(p.cfg.BatchProcessing.BatchSize)
	workers := p.cfg.BatchProcessing.NumWorkers
	if !p.cfg.BatchProcessing.EnableParallelProcessing || workers < 1 {
		workers = 1
	}

	p.logger.Info("Processing table",
		zap.String("table", table),
		zap.Int64("rows", info.RowCount),
		zap.Int64("batch_size", batchSize),
		zap.Int("workers", workers))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan batchJob, workers)
	results := make(chan batchResult, workers)
	readErr := make(chan error, 1)

	// Dispatcher: the only reader of the source cursor, so offsets only
	// ever move forward.
	go func() {
		defer close(jobs)
		var index, offset int64
		for {
			rows, err := p.source.ReadBatch(ctx, table, offset, batchSize)
			if err != nil {
				readErr <- fmt.Errorf("failed to read batch %d of %s: %w", index, table, err)
				return
			}
			if len(rows) == 0 {
				readErr <- nil
				return
			}
			select {
			case jobs <- batchJob{index: index, rows: rows}:
			case <-ctx.Done():
				readErr <- ctx.Err()
				return
			}
			index++
			offset += int64(len(rows))
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				results <- p.transformBatch(ctx, info, job)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	// Writer: holds out-of-order results until their predecessors land.
	pending := make(map[int64]batchResult)
	var next int64
	var runErr error
	for result := range results {
		pending[result.index] = result
		for {
			ready, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++

			if runErr != nil {
				continue // drain only
			}

			rows := ready.rows
			if ready.err != nil {
				if p.cfg.Processing.ErrorPolicy == config.ErrorPolicySkip {
					p.logger.Warn("Batch failed, writing rows unmodified",
						zap.String("table", table),
						zap.Int64("batch", ready.index),
						zap.Error(ready.err))
					p.stats.AddSkipped(int64(len(ready.original)))
					rows = ready.original
				} else {
					runErr = fmt.Errorf("batch %d of %s failed: %w", ready.index, table, ready.err)
					cancel()
					continue
				}
			} else {
				p.commitBatch(ready)
			}

			if err := p.dest.WriteBatch(ctx, table, rows); err != nil {
				runErr = fmt.Errorf("failed to write batch %d of %s: %w", ready.index, table, err)
				cancel()
			}
		}
	}

	if err := <-readErr; err != nil && runErr == nil && !errors.Is(err, context.Canceled) {
		runErr = err
	}

	if runErr != nil {
		// A partial table must never look like a finished run.
		if err := p.dest.Discard(context.Background(), table); err != nil {
			p.logger.Error("Failed to discard partial table",
				zap.String("table", table), zap.Error(err))
		}
		return runErr
	}

	p.logger.Info("Table processed", zap.String("table", table))
	return nil
}

// transformBatch anonymizes one page. Counters are accumulated locally and
// committed only when the whole batch succeeds, so a batch that later fails
// leaves no trace in the stats.
func (p *tableProcessor) transformBatch(ctx context.Context, info *store.TableInfo, job batchJob) batchResult {
	result := batchResult{
		index:    job.index,
		original: job.rows,
		entities: make(map[string]int64),
	}

	rows := make([]store.Row, len(job.rows))
	for i, row := range job.rows {
		transformed, outcome, err := p.transformer.TransformRow(ctx, info, row)
		if err != nil {
			result.err = err
			return result
		}
		rows[i] = transformed
		if outcome.anonymized {
			result.anonymized++
		}
		result.valueErrors += outcome.valueErrors
		for entityType, count := range outcome.entities {
			result.entities[entityType] += count
		}
	}

	result.rows = rows
	return result
}

func (p *tableProcessor) commitBatch(result batchResult) {
	p.stats.AddProcessed(int64(len(result.rows)))
	p.stats.AddAnonymizedRows(result.anonymized)
	p.stats.AddValueErrors(result.valueErrors)
	if len(result.entities) > 0 {
		p.stats.AddEntities(result.entities)
	}
}
