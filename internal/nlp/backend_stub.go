//go:build !onnx
// +build !onnx

package nlp

import (
	"go.uber.org/zap"
)

// Stub implementation used when the 'onnx' build tag is not set.
func newNERBackend(logger *zap.Logger, modelPath string) Backend {
	return nil
}
