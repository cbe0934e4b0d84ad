package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/vana-com/pii-anonymizer/internal/anonymize"
	"github.com/vana-com/pii-anonymizer/internal/detect"
	"github.com/vana-com/pii-anonymizer/internal/store"
)

// Transformer anonymizes individual rows: detection over each text value,
// then strategy application over the detected spans. It is stateless across
// rows and safe for concurrent use by workers.
type Transformer struct {
	detector   *detect.Engine
	anonymizer *anonymize.Engine
	logger     *zap.Logger
}

// NewTransformer wires a detection engine to an anonymization engine.
func NewTransformer(detector *detect.Engine, anonymizer *anonymize.Engine, logger *zap.Logger) *Transformer {
	return &Transformer{detector: detector, anonymizer: anonymizer, logger: logger}
}

// rowOutcome carries per-row counters back to the batch worker.
type rowOutcome struct {
	anonymized  bool
	valueErrors int64
	entities    map[string]int64
}

// rowTransformer lets the processor run with any per-row transformation.
type rowTransformer interface {
	TransformRow(ctx context.Context, info *store.TableInfo, row store.Row) (store.Row, rowOutcome, error)
}

// TransformRow returns an anonymized copy of row. Only text-typed columns
// and string values are inspected; other values pass through untouched.
func (t *Transformer) TransformRow(ctx context.Context, info *store.TableInfo, row store.Row) (store.Row, rowOutcome, error) {
	outcome := rowOutcome{}
	result := make(store.Row, len(row))
	copy(result, row)

	for i, value := range row {
		if i >= len(info.Columns) {
			break
		}
		column := info.Columns[i]

		text, ok := textValue(column, value)
		if !ok {
			continue
		}

		entities, err := t.detector.DetectValue(ctx, column.Name, text)
		if err != nil {
			// A backend failure on one value is recoverable: the value
			// passes through unmodified and only the counter records it.
			if errors.Is(err, detect.ErrBackend) {
				t.logger.Warn("Backend failed on value, passing through",
					zap.String("column", column.Name),
					zap.Error(err))
				outcome.valueErrors++
				continue
			}
			return nil, outcome, fmt.Errorf("column %s: %w", column.Name, err)
		}
		if len(entities) == 0 {
			continue
		}

		anonymized, err := t.anonymizer.Apply(text, entities)
		if err != nil {
			return nil, outcome, fmt.Errorf("column %s: %w", column.Name, err)
		}

		result[i] = anonymized
		outcome.anonymized = true
		if outcome.entities == nil {
			outcome.entities = make(map[string]int64)
		}
		for _, entity := range entities {
			outcome.entities[entity.EntityType]++
		}
	}

	return result, outcome, nil
}

// textValue extracts the string content of a cell when the column or the
// value itself is text-bearing.
func textValue(column store.Column, value interface{}) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case []byte:
		if store.IsTextType(column.Type) {
			return string(v), true
		}
	}
	return "", false
}
