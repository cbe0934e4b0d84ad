package nlp

import (
	"context"
	"errors"
)

// ErrBackendUnavailable indicates the detection backend could not be
// initialized. Fatal at startup.
var ErrBackendUnavailable = errors.New("detection backend unavailable")

// Match is a raw entity match returned by a detection backend. Scores carry
// the backend's native confidence and are not filtered by any threshold.
// Offsets are byte offsets into the analyzed text with Start < End <= len(text).
type Match struct {
	EntityType string
	Start      int
	End        int
	Score      float64
}

// Backend defines a pluggable detection backend for PII entity matches.
// Implementations may use regex recognizers, ONNX NER models, or other
// engines.
type Backend interface {
	// Analyze returns raw entity matches for the text. When entityTypes is
	// non-empty only those types are reported.
	Analyze(ctx context.Context, text string, entityTypes []string) ([]Match, error)
	// Ready returns whether the backend is initialized and ready.
	Ready() bool
	// Close releases any native resources.
	Close() error
}
