package anonymize

import (
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/vana-com/pii-anonymizer/internal/config"
	"github.com/vana-com/pii-anonymizer/internal/detect"
)

func newTestEngine(t *testing.T, cfg *config.Config) *Engine {
	t.Helper()
	engine, err := NewEngine(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return engine
}

func entitySpan(entityType, text, span string) detect.Entity {
	start := strings.Index(text, span)
	return detect.Entity{EntityType: entityType, Start: start, End: start + len(span), Score: 1.0}
}

func TestApply(t *testing.T) {
	t.Run("MaskPhonePreservesFormat", func(t *testing.T) {
		cfg := config.GetDefaults()
		engine := newTestEngine(t, cfg)

		text := "call 555-123-4567 now"
		got, err := engine.Apply(text, []detect.Entity{entitySpan("PHONE_NUMBER", text, "555-123-4567")})
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if got != "call 555-***-**** now" {
			t.Errorf("Got %q, want call 555-***-**** now", got)
		}
	})

	t.Run("MaskKeepsLength", func(t *testing.T) {
		cfg := config.GetDefaults()
		engine := newTestEngine(t, cfg)

		text := "555-123-4567"
		got, err := engine.Apply(text, []detect.Entity{entitySpan("PHONE_NUMBER", text, text)})
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if len(got) != len(text) {
			t.Errorf("Masked length %d != original %d (%q)", len(got), len(text), got)
		}
	})

	t.Run("RedactRemovesSpan", func(t *testing.T) {
		cfg := config.GetDefaults()
		cfg.Entities["ssn"] = config.EntityConfig{
			EntityType: "US_SSN",
			Enabled:    true,
			Strategy:   config.StrategyRedact,
		}
		engine := newTestEngine(t, cfg)

		text := "ssn 123-45-6789 end"
		got, err := engine.Apply(text, []detect.Entity{entitySpan("US_SSN", text, "123-45-6789")})
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if got != "ssn  end" {
			t.Errorf("Got %q, want span removed", got)
		}
	})

	t.Run("ReplaceUsesConfiguredValue", func(t *testing.T) {
		cfg := config.GetDefaults()
		cfg.Entities["email"] = config.EntityConfig{
			EntityType:     "EMAIL_ADDRESS",
			Enabled:        true,
			Strategy:       config.StrategyReplace,
			StrategyParams: map[string]interface{}{"new_value": "<EMAIL>"},
		}
		engine := newTestEngine(t, cfg)

		text := "mail bob@example.com ok"
		got, err := engine.Apply(text, []detect.Entity{entitySpan("EMAIL_ADDRESS", text, "bob@example.com")})
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if got != "mail <EMAIL> ok" {
			t.Errorf("Got %q", got)
		}
	})

	t.Run("ReplaceFallsBackToEntityTag", func(t *testing.T) {
		cfg := config.GetDefaults()
		cfg.Anonymization.DefaultReplacement = ""
		cfg.Entities["email"] = config.EntityConfig{
			EntityType: "EMAIL_ADDRESS",
			Enabled:    true,
			Strategy:   config.StrategyReplace,
		}
		engine := newTestEngine(t, cfg)

		text := "bob@example.com"
		got, err := engine.Apply(text, []detect.Entity{entitySpan("EMAIL_ADDRESS", text, text)})
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if got != "<EMAIL_ADDRESS>" {
			t.Errorf("Got %q, want <EMAIL_ADDRESS>", got)
		}
	})

	t.Run("HashIsStable", func(t *testing.T) {
		cfg := config.GetDefaults()
		cfg.Entities["email"] = config.EntityConfig{
			EntityType: "EMAIL_ADDRESS",
			Enabled:    true,
			Strategy:   config.StrategyHash,
		}
		engine := newTestEngine(t, cfg)

		text := "bob@example.com"
		entities := []detect.Entity{entitySpan("EMAIL_ADDRESS", text, text)}
		first, err := engine.Apply(text, entities)
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		second, _ := engine.Apply(text, entities)
		if first != second {
			t.Error("Hash output not deterministic")
		}
		if len(first) != 64 {
			t.Errorf("sha256 hex length = %d, want 64", len(first))
		}
	})

	t.Run("EncryptIsDeterministicAndReversibleNever", func(t *testing.T) {
		cfg := config.GetDefaults()
		cfg.Anonymization.EncryptionKey = "unit-test-key"
		cfg.Entities["email"] = config.EntityConfig{
			EntityType: "EMAIL_ADDRESS",
			Enabled:    true,
			Strategy:   config.StrategyEncrypt,
		}
		engine := newTestEngine(t, cfg)

		text := "bob@example.com"
		entities := []detect.Entity{entitySpan("EMAIL_ADDRESS", text, text)}
		first, err := engine.Apply(text, entities)
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		second, _ := engine.Apply(text, entities)
		if first != second {
			t.Error("Encrypt output not deterministic across identical inputs")
		}
		if strings.Contains(first, text) {
			t.Error("Ciphertext contains plaintext")
		}
	})

	t.Run("EncryptWithoutKeyIsFatal", func(t *testing.T) {
		cfg := config.GetDefaults()
		cfg.Anonymization.EncryptionKey = ""
		cfg.Entities["email"] = config.EntityConfig{
			EntityType: "EMAIL_ADDRESS",
			Enabled:    true,
			Strategy:   config.StrategyEncrypt,
		}
		if _, err := NewEngine(cfg, zap.NewNop()); err == nil {
			t.Error("Missing encryption key not rejected at construction")
		}
	})

	t.Run("UnknownLambdaIsFatal", func(t *testing.T) {
		cfg := config.GetDefaults()
		cfg.Entities["email"] = config.EntityConfig{
			EntityType:     "EMAIL_ADDRESS",
			Enabled:        true,
			Strategy:       config.StrategyCustom,
			StrategyParams: map[string]interface{}{"lambda": "mask_everything"},
		}
		if _, err := NewEngine(cfg, zap.NewNop()); err == nil {
			t.Error("Unknown lambda not rejected at construction")
		}
	})

	t.Run("RightToLeftKeepsOffsetsValid", func(t *testing.T) {
		cfg := config.GetDefaults()
		engine := newTestEngine(t, cfg)

		text := "bob@example.com met John Doe"
		entities := []detect.Entity{
			entitySpan("EMAIL_ADDRESS", text, "bob@example.com"),
			entitySpan("PERSON", text, "John Doe"),
		}
		got, err := engine.Apply(text, entities)
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if got != "bo*@e******.com met Jo** Do*" {
			t.Errorf("Got %q", got)
		}
	})

	t.Run("OutOfRangeSpanErrors", func(t *testing.T) {
		cfg := config.GetDefaults()
		engine := newTestEngine(t, cfg)

		_, err := engine.Apply("short", []detect.Entity{{EntityType: "PERSON", Start: 2, End: 99}})
		if err == nil {
			t.Error("Out-of-range span not rejected")
		}
	})
}

func TestMaskValue(t *testing.T) {
	cases := []struct {
		name           string
		value          string
		charsToMask    int
		fromEnd        bool
		preserveFormat bool
		want           string
	}{
		{"FromEndPreserve", "555-123-4567", 7, true, true, "555-***-****"},
		{"FromStart", "abcdef", 3, false, false, "***def"},
		{"WholeValue", "abc", 0, false, false, "***"},
		{"MoreThanLength", "ab", 10, false, false, "**"},
		{"SeparatorsMaskedWithoutPreserve", "12-34", 3, true, false, "12***"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := maskValue(tc.value, tc.charsToMask, "*", tc.fromEnd, tc.preserveFormat)
			if got != tc.want {
				t.Errorf("maskValue(%q) = %q, want %q", tc.value, got, tc.want)
			}
		})
	}
}
