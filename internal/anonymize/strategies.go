package anonymize

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"unicode"

	"go.uber.org/zap"

	"github.com/vana-com/pii-anonymizer/internal/config"
	"github.com/vana-com/pii-anonymizer/internal/detect"
)

// operator is the resolved transformation for one entity type.
type operator struct {
	strategy string
	params   map[string]interface{}
}

// Engine applies the configured anonymization strategy to each detected
// entity span. Entities are applied right-to-left so earlier offsets stay
// valid while the string is rebuilt.
type Engine struct {
	operators map[string]operator
	defaults  config.AnonymizationDefaults
	aead      cipher.AEAD
	logger    *zap.Logger
}

// NewEngine resolves per-entity operators from configuration. Unknown custom
// lambda names and unusable encryption keys are fatal here, before any row
// is processed.
func NewEngine(cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	engine := &Engine{
		operators: make(map[string]operator),
		defaults:  cfg.Anonymization,
		logger:    logger,
	}

	needsEncryption := cfg.Anonymization.DefaultStrategy == config.StrategyEncrypt

	for key, entity := range cfg.Entities {
		if !entity.Enabled {
			continue
		}

		strategy := entity.Strategy
		if strategy == "" {
			strategy = cfg.Anonymization.DefaultStrategy
		}

		if strategy == config.StrategyCustom {
			name, _ := entity.StrategyParams["lambda"].(string)
			if !KnownTransform(name) {
				return nil, fmt.Errorf("entity %q: unknown custom lambda: %q", key, name)
			}
		}
		if strategy == config.StrategyEncrypt {
			needsEncryption = true
		}

		engine.operators[entity.EntityType] = operator{
			strategy: strategy,
			params:   entity.StrategyParams,
		}
	}

	if needsEncryption {
		if cfg.Anonymization.EncryptionKey == "" {
			return nil, fmt.Errorf("encrypt strategy configured without encryption_key")
		}
		aead, err := newAEAD(cfg.Anonymization.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize encryption: %w", err)
		}
		engine.aead = aead
	}

	return engine, nil
}

// Apply transforms every entity span in text, right-to-left, and returns the
// rebuilt string. The entity list must be non-overlapping and start-ordered.
func (e *Engine) Apply(text string, entities []detect.Entity) (string, error) {
	result := text
	for i := len(entities) - 1; i >= 0; i-- {
		entity := entities[i]
		if entity.Start < 0 || entity.End > len(text) || entity.Start >= entity.End {
			return "", fmt.Errorf("entity span [%d,%d) out of range for value of length %d", entity.Start, entity.End, len(text))
		}

		replacement, err := e.transform(entity.EntityType, result[entity.Start:entity.End])
		if err != nil {
			return "", err
		}
		result = result[:entity.Start] + replacement + result[entity.End:]
	}
	return result, nil
}

// transform applies the entity type's operator to a single span.
func (e *Engine) transform(entityType, value string) (string, error) {
	op, ok := e.operators[entityType]
	if !ok {
		op = operator{strategy: e.defaults.DefaultStrategy}
	}

	switch op.strategy {
	case config.StrategyReplace:
		if newValue := paramString(op.params, "new_value", ""); newValue != "" {
			return newValue, nil
		}
		if e.defaults.DefaultReplacement != "" {
			return e.defaults.DefaultReplacement, nil
		}
		return "<" + entityType + ">", nil

	case config.StrategyMask:
		charsToMask := paramInt(op.params, "chars_to_mask", len(value))
		maskChar := paramString(op.params, "masking_char", e.defaults.MaskChar)
		fromEnd := paramBool(op.params, "from_end", e.defaults.MaskFromEnd)
		preserveFormat := paramBool(op.params, "preserve_format", e.defaults.PreserveFormat)
		return maskValue(value, charsToMask, maskChar, fromEnd, preserveFormat), nil

	case config.StrategyRedact:
		return "", nil

	case config.StrategyHash:
		hashType := paramString(op.params, "hash_type", e.defaults.HashType)
		return hashValue(value, hashType)

	case config.StrategyEncrypt:
		return e.encryptValue(value)

	case config.StrategyCustom:
		name := paramString(op.params, "lambda", "")
		transform, ok := customTransforms[name]
		if !ok {
			return "", fmt.Errorf("unknown custom lambda: %q", name)
		}
		return transform(value), nil

	default:
		return "", fmt.Errorf("unknown strategy: %s", op.strategy)
	}
}

// maskValue masks charsToMask characters of value with maskChar, anchored at
// the tail when fromEnd is set. With preserveFormat, separator characters
// inside the masked run keep their original character and do not count
// toward charsToMask, so output length always equals input length.
func maskValue(value string, charsToMask int, maskChar string, fromEnd, preserveFormat bool) string {
	runes := []rune(value)
	mask := '*'
	if maskChar != "" {
		mask = []rune(maskChar)[0]
	}
	if charsToMask <= 0 || charsToMask > len(runes) {
		charsToMask = len(runes)
	}

	indexes := make([]int, len(runes))
	for i := range runes {
		if fromEnd {
			indexes[i] = len(runes) - 1 - i
		} else {
			indexes[i] = i
		}
	}

	masked := 0
	for _, idx := range indexes {
		if masked >= charsToMask {
			break
		}
		if preserveFormat && !unicode.IsLetter(runes[idx]) && !unicode.IsDigit(runes[idx]) {
			continue
		}
		runes[idx] = mask
		masked++
	}

	return string(runes)
}

func hashValue(value, hashType string) (string, error) {
	switch hashType {
	case "", "sha256":
		sum := sha256.Sum256([]byte(value))
		return hex.EncodeToString(sum[:]), nil
	case "sha512":
		sum := sha512.Sum512([]byte(value))
		return hex.EncodeToString(sum[:]), nil
	case "md5":
		sum := md5.Sum([]byte(value))
		return hex.EncodeToString(sum[:]), nil
	default:
		return "", fmt.Errorf("unknown hash type: %s", hashType)
	}
}

// encryptValue produces deterministic AES-256-GCM ciphertext with a
// plaintext-derived nonce, so identical inputs yield identical outputs and
// runs stay reproducible. No decryption path exists in this module.
func (e *Engine) encryptValue(value string) (string, error) {
	if e.aead == nil {
		return "", fmt.Errorf("encrypt strategy configured without encryption_key")
	}

	digest := sha256.Sum256([]byte(value))
	nonce := digest[:e.aead.NonceSize()]
	sealed := e.aead.Seal(nil, nonce, []byte(value), nil)

	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// newAEAD derives a 256-bit AES-GCM key from the configured key string.
func newAEAD(key string) (cipher.AEAD, error) {
	derived := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(derived[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Strategy params arrive from JSON where numbers decode as float64; these
// helpers normalize the common shapes.

func paramString(params map[string]interface{}, key, fallback string) string {
	if params == nil {
		return fallback
	}
	if value, ok := params[key].(string); ok && value != "" {
		return value
	}
	return fallback
}

func paramInt(params map[string]interface{}, key string, fallback int) int {
	if params == nil {
		return fallback
	}
	switch value := params[key].(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	default:
		return fallback
	}
}

func paramBool(params map[string]interface{}, key string, fallback bool) bool {
	if params == nil {
		return fallback
	}
	if value, ok := params[key].(bool); ok {
		return value
	}
	return fallback
}
