//go:build onnx
// +build onnx

package nlp

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// BIO label order expected from the token-classification head. Models
// exported from CoNLL-style fine-tunes use this layout.
var nerLabels = []string{
	"O",
	"B-PERSON", "I-PERSON",
	"B-LOCATION", "I-LOCATION",
	"B-ORGANIZATION", "I-ORGANIZATION",
	"B-DATE_TIME", "I-DATE_TIME",
}

const unkTokenID = 100

// nerBackend implements Backend with an ONNX token-classification model
// (via yalue/onnxruntime_go). Requires build tag 'onnx'.
type nerBackend struct {
	session *ort.DynamicAdvancedSession
	vocab   map[string]int64
	logger  *zap.Logger
	ready   bool
	mu      sync.RWMutex
}

// newNERBackend initializes the ONNX Runtime NER backend. A vocab.txt file
// is expected next to the model.
func newNERBackend(logger *zap.Logger, modelPath string) Backend {
	// Allow user to provide shared library path via environment variable.
	if shlib := os.Getenv("ONNXRUNTIME_SHARED_LIB"); shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		logger.Error("ONNX Runtime environment init failed", zap.Error(err))
		return nil
	}

	vocab, err := loadVocab(filepath.Join(filepath.Dir(modelPath), "vocab.txt"))
	if err != nil {
		logger.Error("Failed to load vocab", zap.Error(err))
		return nil
	}

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"logits"},
		nil,
	)
	if err != nil {
		logger.Error("ONNX Runtime session creation failed", zap.Error(err), zap.String("model", modelPath))
		return nil
	}

	logger.Info("ONNX NER backend ready", zap.String("model", modelPath), zap.Int("vocab_size", len(vocab)))
	return &nerBackend{session: session, vocab: vocab, logger: logger, ready: true}
}

func loadVocab(path string) (map[string]int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vocab file: %w", err)
	}
	defer file.Close()

	vocab := make(map[string]int64)
	scanner := bufio.NewScanner(file)
	var id int64
	for scanner.Scan() {
		vocab[scanner.Text()] = id
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vocab file: %w", err)
	}
	return vocab, nil
}

// Ready reports whether the backend is initialized.
func (b *nerBackend) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ready && b.session != nil
}

// Close releases session and environment resources.
func (b *nerBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session != nil {
		b.session.Destroy()
		b.session = nil
	}
	ort.DestroyEnvironment()
	b.ready = false
	return nil
}

// token is a whitespace/punctuation token with its byte span in the source.
type token struct {
	text  string
	start int
	end   int
}

// Analyze tokenizes the text, runs the model, and converts BIO tags to
// entity spans.
func (b *nerBackend) Analyze(ctx context.Context, text string, entityTypes []string) ([]Match, error) {
	if !b.Ready() {
		return nil, ErrBackendUnavailable
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	tokens := tokenize(text)
	if len(tokens) == 0 {
		return []Match{}, nil
	}

	inputIDs := make([]int64, len(tokens))
	attention := make([]int64, len(tokens))
	for i, t := range tokens {
		id, ok := b.vocab[strings.ToLower(t.text)]
		if !ok {
			id = unkTokenID
		}
		inputIDs[i] = id
		attention[i] = 1
	}

	shape := ort.NewShape(1, int64(len(tokens)))
	idsTensor, err := ort.NewTensor[int64](shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor[int64](shape, attention)
	if err != nil {
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	outputs := make([]ort.Value, 1)
	if err := b.session.Run([]ort.Value{idsTensor, maskTensor}, outputs); err != nil {
		return nil, fmt.Errorf("onnx run failed: %w", err)
	}
	defer func() {
		if outputs[0] != nil {
			_ = outputs[0].Destroy()
		}
	}()

	logits, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type (want float32 tensor)")
	}
	outShape := logits.GetShape()
	if len(outShape) != 3 || int(outShape[1]) != len(tokens) {
		return nil, fmt.Errorf("unsupported output shape %v", outShape)
	}
	numLabels := int(outShape[2])
	data := logits.GetData()

	tags := make([]string, len(tokens))
	scores := make([]float64, len(tokens))
	for i := range tokens {
		offset := i * numLabels
		best, bestIdx := data[offset], 0
		var sum float64
		for j := 0; j < numLabels; j++ {
			sum += math.Exp(float64(data[offset+j]))
			if data[offset+j] > best {
				best, bestIdx = data[offset+j], j
			}
		}
		if bestIdx < len(nerLabels) {
			tags[i] = nerLabels[bestIdx]
		} else {
			tags[i] = "O"
		}
		if sum > 0 {
			scores[i] = math.Exp(float64(best)) / sum
		}
	}

	wanted := make(map[string]bool, len(entityTypes))
	for _, et := range entityTypes {
		wanted[et] = true
	}

	return spansFromBIO(tokens, tags, scores, wanted), nil
}

// spansFromBIO merges consecutive B-/I- tags into entity spans, averaging
// token scores over each span.
func spansFromBIO(tokens []token, tags []string, scores []float64, wanted map[string]bool) []Match {
	matches := make([]Match, 0)
	i := 0
	for i < len(tokens) {
		tag := tags[i]
		if !strings.HasPrefix(tag, "B-") {
			i++
			continue
		}
		entityType := strings.TrimPrefix(tag, "B-")
		start := tokens[i].start
		end := tokens[i].end
		total := scores[i]
		count := 1
		j := i + 1
		for j < len(tokens) && tags[j] == "I-"+entityType {
			end = tokens[j].end
			total += scores[j]
			count++
			j++
		}
		if len(wanted) == 0 || wanted[entityType] {
			matches = append(matches, Match{
				EntityType: entityType,
				Start:      start,
				End:        end,
				Score:      total / float64(count),
			})
		}
		i = j
	}
	return matches
}

// tokenize splits on whitespace and punctuation, tracking byte offsets.
func tokenize(text string) []token {
	tokens := make([]token, 0)
	start := -1
	for i, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			tokens = append(tokens, token{text: text[start:i], start: start, end: i})
			start = -1
		}
	}
	if start >= 0 {
		tokens = append(tokens, token{text: text[start:], start: start, end: len(text)})
	}
	return tokens
}
