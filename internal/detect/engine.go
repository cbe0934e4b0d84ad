package detect

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/vana-com/pii-anonymizer/internal/config"
	"github.com/vana-com/pii-anonymizer/internal/nlp"
)

// ErrBackend marks a backend failure on a specific value. Callers treat it
// as recoverable: the value passes through unmodified and the run continues.
var ErrBackend = errors.New("detection backend failure")

// compiledPattern is a regex pattern ready to run, carrying its score.
type compiledPattern struct {
	name  string
	regex *regexp.Regexp
	score float64
}

// entityRule is the per-entity detection state derived from configuration.
type entityRule struct {
	entityType   string
	threshold    float64
	denyList     []string
	patterns     []compiledPattern
	contextWords []string
}

// Engine runs the three detection passes (deny-list, regex, backend) for a
// single value and resolves overlaps into a final non-overlapping,
// start-ordered entity list.
type Engine struct {
	cfg     *config.Config
	backend nlp.Backend
	rules   []entityRule // stable order: sorted by entity type
	logger  *zap.Logger
}

// NewEngine creates a detection engine from validated configuration.
func NewEngine(cfg *config.Config, backend nlp.Backend, logger *zap.Logger) (*Engine, error) {
	rules := make([]entityRule, 0, len(cfg.Entities))
	for key, entity := range cfg.Entities {
		if !entity.Enabled {
			continue
		}

		rule := entityRule{
			entityType:   entity.EntityType,
			threshold:    entity.ConfidenceThreshold,
			denyList:     entity.DenyList,
			contextWords: entity.ContextWords,
		}
		for _, pattern := range entity.RegexPatterns {
			compiled, err := regexp.Compile(pattern.Pattern)
			if err != nil {
				return nil, fmt.Errorf("entity %q: regex pattern %q does not compile: %w", key, pattern.Name, err)
			}
			rule.patterns = append(rule.patterns, compiledPattern{
				name:  pattern.Name,
				regex: compiled,
				score: pattern.Score,
			})
		}
		rules = append(rules, rule)
	}

	// Stable rule order keeps detection deterministic regardless of config
	// map iteration.
	sort.Slice(rules, func(i, j int) bool { return rules[i].entityType < rules[j].entityType })

	logger.Info("Detection engine initialized",
		zap.Int("enabled_entities", len(rules)),
		zap.Float64("context_boost", cfg.Detection.ContextBoost))

	return &Engine{cfg: cfg, backend: backend, rules: rules, logger: logger}, nil
}

// DetectValue analyzes one cell value for the given column and returns the
// resolved entity list.
func (e *Engine) DetectValue(ctx context.Context, column, text string) ([]Entity, error) {
	if !e.cfg.Enabled || text == "" {
		return nil, nil
	}

	suppressed := e.suppressedTypes(column)

	candidates := make([]Entity, 0)
	backendTypes := make([]string, 0, len(e.rules))

	for _, rule := range e.rules {
		if suppressed[rule.entityType] {
			continue
		}
		backendTypes = append(backendTypes, rule.entityType)

		// Deny-list pass: literals always match at full confidence.
		for _, literal := range rule.denyList {
			for _, span := range substringSpans(text, literal) {
				candidates = append(candidates, Entity{
					EntityType: rule.entityType,
					Start:      span[0],
					End:        span[1],
					Score:      1.0,
					Origin:     OriginDenyList,
				})
			}
		}

		// Regex pass: all matches of every pattern, in listed order.
		for _, pattern := range rule.patterns {
			for _, loc := range pattern.regex.FindAllStringIndex(text, -1) {
				candidates = append(candidates, Entity{
					EntityType: rule.entityType,
					Start:      loc[0],
					End:        loc[1],
					Score:      pattern.score,
					Origin:     OriginRegex,
				})
			}
		}
	}

	if len(backendTypes) > 0 {
		matches, err := e.backend.Analyze(ctx, text, backendTypes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackend, err)
		}

		tokens := tokenizeWords(text)
		for _, match := range matches {
			score := match.Score
			if rule, ok := e.ruleFor(match.EntityType); ok && len(rule.contextWords) > 0 {
				if e.hasContextWord(tokens, rule.contextWords, match.Start, match.End) {
					score += e.cfg.Detection.ContextBoost
					if score > 1.0 {
						score = 1.0
					}
				}
			}
			candidates = append(candidates, Entity{
				EntityType: match.EntityType,
				Start:      match.Start,
				End:        match.End,
				Score:      score,
				Origin:     OriginNLP,
			})
		}
	}

	// Threshold filter.
	filtered := candidates[:0]
	for _, candidate := range candidates {
		rule, ok := e.ruleFor(candidate.EntityType)
		if !ok {
			continue
		}
		if candidate.Score >= rule.threshold {
			filtered = append(filtered, candidate)
		}
	}

	return resolveOverlaps(filtered), nil
}

// suppressedTypes returns entity types excluded on this column.
func (e *Engine) suppressedTypes(column string) map[string]bool {
	suppressed := make(map[string]bool)
	lower := strings.ToLower(column)

	for _, entityType := range e.cfg.Detection.ColumnExclusions[lower] {
		suppressed[entityType] = true
	}

	// Opaque identifier columns are not names.
	if e.cfg.Detection.SuppressIDSuffix && strings.HasSuffix(lower, "_id") {
		suppressed["PERSON"] = true
	}

	return suppressed
}

func (e *Engine) ruleFor(entityType string) (entityRule, bool) {
	for _, rule := range e.rules {
		if rule.entityType == entityType {
			return rule, true
		}
	}
	return entityRule{}, false
}

// hasContextWord reports whether any context word occurs within the
// configured token window around the match span.
func (e *Engine) hasContextWord(tokens []wordToken, contextWords []string, start, end int) bool {
	window := e.cfg.Detection.ContextWindowTokens

	// Locate token indices bounding the match.
	first, last := -1, -1
	for i, tok := range tokens {
		if tok.end > start && first < 0 {
			first = i
		}
		if tok.start < end {
			last = i
		}
	}
	if first < 0 {
		return false
	}

	lo := first - window
	if lo < 0 {
		lo = 0
	}
	hi := last + window
	if hi >= len(tokens) {
		hi = len(tokens) - 1
	}

	for i := lo; i <= hi; i++ {
		if i >= first && i <= last {
			continue
		}
		for _, word := range contextWords {
			if strings.EqualFold(tokens[i].text, word) {
				return true
			}
		}
	}
	return false
}

// resolveOverlaps keeps, among intersecting entities, the one with the
// highest score, tie-broken by longer span, then earliest start. The result
// is non-overlapping and start-ordered.
func resolveOverlaps(entities []Entity) []Entity {
	if len(entities) == 0 {
		return nil
	}

	ranked := make([]Entity, len(entities))
	copy(ranked, entities)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if ranked[i].Length() != ranked[j].Length() {
			return ranked[i].Length() > ranked[j].Length()
		}
		if ranked[i].Start != ranked[j].Start {
			return ranked[i].Start < ranked[j].Start
		}
		// Full ordering for determinism when spans coincide exactly.
		return ranked[i].EntityType < ranked[j].EntityType
	})

	kept := make([]Entity, 0, len(ranked))
	for _, candidate := range ranked {
		conflict := false
		for _, winner := range kept {
			if candidate.overlaps(winner) {
				conflict = true
				break
			}
		}
		if !conflict {
			kept = append(kept, candidate)
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}

// substringSpans returns every non-overlapping occurrence of literal in text.
func substringSpans(text, literal string) [][2]int {
	if literal == "" {
		return nil
	}
	spans := make([][2]int, 0)
	offset := 0
	for {
		idx := strings.Index(text[offset:], literal)
		if idx < 0 {
			break
		}
		start := offset + idx
		spans = append(spans, [2]int{start, start + len(literal)})
		offset = start + len(literal)
	}
	return spans
}

// wordToken is a word with its byte span, used for context windows.
type wordToken struct {
	text  string
	start int
	end   int
}

func tokenizeWords(text string) []wordToken {
	tokens := make([]wordToken, 0)
	start := -1
	for i, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			tokens = append(tokens, wordToken{text: text[start:i], start: start, end: i})
			start = -1
		}
	}
	if start >= 0 {
		tokens = append(tokens, wordToken{text: text[start:], start: start, end: len(text)})
	}
	return tokens
}
