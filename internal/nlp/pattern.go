package nlp

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// recognizer is a single built-in pattern recognizer.
type recognizer struct {
	entityType string
	name       string
	pattern    *regexp.Regexp
	score      float64
	// validate, when set, must accept the matched text for the match to be
	// reported.
	validate func(string) bool
}

// PatternBackend is the default detection backend. It recognizes common PII
// entity types with deterministic regular expressions and lightweight
// checksum validation, so the engine is fully testable without a model.
type PatternBackend struct {
	recognizers []recognizer
	logger      *zap.Logger
}

// NewPatternBackend creates the built-in pattern backend.
func NewPatternBackend(logger *zap.Logger) *PatternBackend {
	return &PatternBackend{
		recognizers: defaultRecognizers(),
		logger:      logger,
	}
}

func defaultRecognizers() []recognizer {
	return []recognizer{
		{
			entityType: "EMAIL_ADDRESS",
			name:       "email",
			pattern:    regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`),
			score:      0.9,
		},
		{
			entityType: "PHONE_NUMBER",
			name:       "phone_separated",
			pattern:    regexp.MustCompile(`\(?\d{3}\)?[-.\s]\d{3}[-.\s]\d{4}\b`),
			score:      0.75,
		},
		{
			entityType: "PHONE_NUMBER",
			name:       "phone_plain",
			pattern:    regexp.MustCompile(`\b\d{10}\b`),
			score:      0.55,
		},
		{
			entityType: "US_SSN",
			name:       "ssn",
			pattern:    regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			score:      0.85,
		},
		{
			entityType: "CREDIT_CARD",
			name:       "credit_card",
			pattern:    regexp.MustCompile(`\b\d(?:[\d \-]{11,17}\d)\b`),
			score:      1.0,
			validate:   luhnValid,
		},
		{
			entityType: "IP_ADDRESS",
			name:       "ipv4",
			pattern:    regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
			score:      0.95,
			validate:   ipv4Valid,
		},
		{
			entityType: "URL",
			name:       "url",
			pattern:    regexp.MustCompile(`\bhttps?://[^\s"']+`),
			score:      0.6,
		},
		{
			entityType: "DATE_TIME",
			name:       "date_iso",
			pattern:    regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
			score:      0.6,
		},
		{
			entityType: "DATE_TIME",
			name:       "date_slash",
			pattern:    regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`),
			score:      0.6,
		},
		{
			// Heuristic: two or more capitalized words. Weak on its own;
			// ambiguous matches are expected to be resolved by context words
			// and thresholds upstream.
			entityType: "PERSON",
			name:       "person_capitalized",
			pattern:    regexp.MustCompile(`\b[A-Z][a-z]+(?: [A-Z][a-z]+)+\b`),
			score:      0.85,
		},
		{
			entityType: "LOCATION",
			name:       "street_address",
			pattern:    regexp.MustCompile(`\b\d+\s+[A-Za-z]+(?:\s+[A-Za-z]+)*\s+(?:St|Ave|Rd|Dr|Ln|Blvd|Way|Ct|Pl|Street|Avenue|Road|Drive|Lane|Boulevard)\b(?:,\s*[A-Za-z ]+)*`),
			score:      0.8,
		},
	}
}

// Analyze runs every recognizer over the text and returns raw matches.
func (b *PatternBackend) Analyze(ctx context.Context, text string, entityTypes []string) ([]Match, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	wanted := make(map[string]bool, len(entityTypes))
	for _, et := range entityTypes {
		wanted[et] = true
	}

	matches := make([]Match, 0)
	for _, rec := range b.recognizers {
		if len(wanted) > 0 && !wanted[rec.entityType] {
			continue
		}

		for _, loc := range rec.pattern.FindAllStringIndex(text, -1) {
			matched := text[loc[0]:loc[1]]
			if rec.validate != nil && !rec.validate(matched) {
				continue
			}
			matches = append(matches, Match{
				EntityType: rec.entityType,
				Start:      loc[0],
				End:        loc[1],
				Score:      rec.score,
			})
		}
	}

	return matches, nil
}

// Ready always reports true; the pattern backend has no model to load.
func (b *PatternBackend) Ready() bool { return true }

// Close is a no-op for the pattern backend.
func (b *PatternBackend) Close() error { return nil }

// luhnValid checks a candidate card number with the Luhn algorithm after
// stripping separators.
func luhnValid(candidate string) bool {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, candidate)

	if len(digits) < 13 || len(digits) > 19 {
		return false
	}

	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// ipv4Valid rejects dotted quads with out-of-range octets.
func ipv4Valid(candidate string) bool {
	parts := strings.Split(candidate, ".")
	if len(parts) != 4 {
		return false
	}
	for _, part := range parts {
		if len(part) > 1 && part[0] == '0' {
			return false
		}
		value := 0
		for _, c := range part {
			value = value*10 + int(c-'0')
		}
		if value > 255 {
			return false
		}
	}
	return true
}
