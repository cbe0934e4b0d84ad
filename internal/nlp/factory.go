package nlp

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/vana-com/pii-anonymizer/internal/config"
)

// Engine names accepted in nlp configuration.
const (
	EnginePattern = "pattern"
	EngineONNX    = "onnx"
)

// NewBackend creates a detection backend based on the configuration. An
// unknown engine name or a backend that fails to initialize is fatal.
func NewBackend(cfg config.NLPConfig, logger *zap.Logger) (Backend, error) {
	switch cfg.EngineName {
	case "", EnginePattern:
		backend := NewPatternBackend(logger)
		logger.Info("Created pattern detection backend")
		return backend, nil
	case EngineONNX:
		backend := newNERBackend(logger, cfg.ModelPath)
		if backend == nil || !backend.Ready() {
			return nil, fmt.Errorf("%w: onnx engine requires the onnx build tag and a loadable model at %q", ErrBackendUnavailable, cfg.ModelPath)
		}
		logger.Info("Created ONNX NER detection backend",
			zap.String("model_path", cfg.ModelPath),
			zap.String("model_name", cfg.ModelName))
		return backend, nil
	default:
		return nil, fmt.Errorf("%w: unknown engine: %s", ErrBackendUnavailable, cfg.EngineName)
	}
}
