package pipeline

import (
	"encoding/json"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Stats accumulates run counters. All methods are safe for concurrent use
// by workers; merging per-value counts is associative, so totals do not
// depend on worker scheduling.
type Stats struct {
	totalRows        atomic.Int64
	processedRows    atomic.Int64
	anonymizedRows   atomic.Int64
	valuesAnonymized atomic.Int64
	valueErrors      atomic.Int64
	skippedBatches   atomic.Int64
	skippedRows      atomic.Int64

	mu       sync.Mutex
	entities map[string]int64
}

// NewStats creates an empty counter set.
func NewStats() *Stats {
	return &Stats{entities: make(map[string]int64)}
}

// AddTotal records rows discovered in a source table.
func (s *Stats) AddTotal(rows int64) { s.totalRows.Add(rows) }

// AddProcessed records rows that passed through a worker.
func (s *Stats) AddProcessed(rows int64) { s.processedRows.Add(rows) }

// AddAnonymizedRows records rows in which at least one value changed.
func (s *Stats) AddAnonymizedRows(rows int64) { s.anonymizedRows.Add(rows) }

// AddValueErrors records values the backend failed on and that passed
// through unmodified.
func (s *Stats) AddValueErrors(values int64) { s.valueErrors.Add(values) }

// AddSkipped records a batch written unmodified under the skip policy.
func (s *Stats) AddSkipped(rows int64) {
	s.skippedBatches.Add(1)
	s.skippedRows.Add(rows)
}

// AddEntities records anonymized values per entity type.
func (s *Stats) AddEntities(counts map[string]int64) {
	var values int64
	s.mu.Lock()
	for entityType, count := range counts {
		s.entities[entityType] += count
		values += count
	}
	s.mu.Unlock()
	s.valuesAnonymized.Add(values)
}

// EntityCounts returns a copy of the per-entity counters.
func (s *Stats) EntityCounts() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.entities))
	for entityType, count := range s.entities {
		out[entityType] = count
	}
	return out
}

// ProcessingStats summarizes row throughput for the report.
type ProcessingStats struct {
	TotalRows         int64   `json:"total_rows"`
	ProcessedRows     int64   `json:"processed_rows"`
	AnonymizedRows    int64   `json:"anonymized_rows"`
	ValueErrors       int64   `json:"value_errors,omitempty"`
	SkippedBatches    int64   `json:"skipped_batches,omitempty"`
	SkippedRows       int64   `json:"skipped_rows,omitempty"`
	ProcessingTime    string  `json:"processing_time"`
	RowsPerSecond     float64 `json:"rows_per_second"`
	AnonymizationRate float64 `json:"anonymization_rate"`
}

// AnonymizationStats summarizes what was anonymized.
type AnonymizationStats struct {
	TotalValuesAnonymized int64            `json:"total_values_anonymized"`
	EntitiesFound         map[string]int64 `json:"entities_found"`
}

// Report is the machine-readable run summary written alongside the output.
type Report struct {
	StartedAt          time.Time          `json:"started_at"`
	CompletedAt        time.Time          `json:"completed_at"`
	Tables             []string           `json:"tables"`
	ProcessingStats    ProcessingStats    `json:"processing_stats"`
	AnonymizationStats AnonymizationStats `json:"anonymization_stats"`
}

// BuildReport snapshots the counters into a report for a run over the named
// tables.
func (s *Stats) BuildReport(tables []string, startedAt, completedAt time.Time) *Report {
	elapsed := completedAt.Sub(startedAt)
	processed := s.processedRows.Load()
	anonymized := s.anonymizedRows.Load()

	var rowsPerSecond float64
	if seconds := elapsed.Seconds(); seconds > 0 {
		rowsPerSecond = float64(processed) / seconds
	}
	// Percentage of processed rows with at least one anonymized value.
	var rate float64
	if processed > 0 {
		rate = float64(anonymized) / float64(processed) * 100
	}

	sorted := append([]string(nil), tables...)
	sort.Strings(sorted)

	return &Report{
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		Tables:      sorted,
		ProcessingStats: ProcessingStats{
			TotalRows:         s.totalRows.Load(),
			ProcessedRows:     processed,
			AnonymizedRows:    anonymized,
			ValueErrors:       s.valueErrors.Load(),
			SkippedBatches:    s.skippedBatches.Load(),
			SkippedRows:       s.skippedRows.Load(),
			ProcessingTime:    elapsed.Round(time.Millisecond).String(),
			RowsPerSecond:     rowsPerSecond,
			AnonymizationRate: rate,
		},
		AnonymizationStats: AnonymizationStats{
			TotalValuesAnonymized: s.valuesAnonymized.Load(),
			EntitiesFound:         s.EntityCounts(),
		},
	}
}

// Write serializes the report as indented JSON to path.
func (r *Report) Write(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
