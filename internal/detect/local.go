package detect

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dativo-io/aegis/internal/entity"
	"github.com/dativo-io/aegis/patterns"
)

const (
	// DefaultMinScore is the minimum confidence threshold applied when the
	// caller passes a non-positive threshold.
	DefaultMinScore = 0.5

	// ContextSimilarityFactor is the score boost applied when context words
	// are found near a match.
	ContextSimilarityFactor = 0.35

	// ContextWindowChars is the number of code points searched before and
	// after a match when looking for context words.
	ContextWindowChars = 100
)

// SourceLocal is the provenance tag on spans produced by the local detector.
const SourceLocal = "local"

// LocalDetector detects PII with configurable regex recognizers, entirely
// offline. It is the engine's always-available backend.
type LocalDetector struct {
	patterns []compiledPattern
}

// LocalOption configures a LocalDetector via the functional options pattern.
type LocalOption func(*localConfig)

type localConfig struct {
	patternFile       string
	enabledEntities   []string
	disabledEntities  []string
	customRecognizers []RecognizerConfig
}

// WithPatternFile loads additional recognizers from a recognizers YAML file.
// If the file does not exist, it is silently skipped.
func WithPatternFile(path string) LocalOption {
	return func(c *localConfig) { c.patternFile = path }
}

// WithEnabledEntities sets a whitelist of entity types. When non-empty, only
// recognizers with a matching supported_entity are active.
func WithEnabledEntities(entities []string) LocalOption {
	return func(c *localConfig) { c.enabledEntities = entities }
}

// WithDisabledEntities sets a blacklist of entity types to exclude.
func WithDisabledEntities(entities []string) LocalOption {
	return func(c *localConfig) { c.disabledEntities = entities }
}

// WithCustomRecognizers adds caller-defined recognizer definitions on top of
// the embedded defaults.
func WithCustomRecognizers(recognizers []RecognizerConfig) LocalOption {
	return func(c *localConfig) { c.customRecognizers = recognizers }
}

// NewLocalDetector creates a local pattern detector. Without options it uses
// the embedded defaults (Latin-script recognizers plus the Korean set).
// Options layer a global pattern file and custom recognizers on top.
func NewLocalDetector(opts ...LocalOption) (*LocalDetector, error) {
	var cfg localConfig
	for _, o := range opts {
		o(&cfg)
	}

	defaults, err := defaultRecognizers()
	if err != nil {
		return nil, err
	}

	var globalRecs []RecognizerConfig
	if cfg.patternFile != "" {
		rf, err := LoadRecognizerFile(cfg.patternFile)
		if err != nil {
			return nil, fmt.Errorf("loading global pattern file: %w", err)
		}
		if rf != nil {
			globalRecs = rf.Recognizers
		}
	}

	merged := MergeRecognizers(defaults, globalRecs, cfg.customRecognizers)
	merged = FilterByEntities(merged, cfg.enabledEntities, cfg.disabledEntities)

	compiled, err := compilePatterns(merged)
	if err != nil {
		return nil, fmt.Errorf("compiling patterns: %w", err)
	}

	return &LocalDetector{patterns: compiled}, nil
}

// MustNewLocalDetector is like NewLocalDetector but panics on error. Useful
// for zero-config startup where the embedded defaults always compile.
func MustNewLocalDetector(opts ...LocalOption) *LocalDetector {
	d, err := NewLocalDetector(opts...)
	if err != nil {
		panic(fmt.Sprintf("detect.NewLocalDetector: %v", err))
	}
	return d
}

// defaultRecognizers parses the embedded recognizer YAML files.
func defaultRecognizers() ([]RecognizerConfig, error) {
	var recs []RecognizerConfig
	for _, data := range [][]byte{patterns.DefaultYAML(), patterns.KoreanYAML()} {
		rf, err := ParseRecognizerFile(data)
		if err != nil {
			return nil, fmt.Errorf("parsing embedded recognizers: %w", err)
		}
		recs = append(recs, rf.Recognizers...)
	}
	return recs, nil
}

// Name implements Detector.
func (d *LocalDetector) Name() string { return SourceLocal }

// Detect scans text with every recognizer active for language. Matches pass
// through their hard validation gate first, then score-based context
// filtering: the pattern's base score is boosted when one of its context
// words appears within ContextWindowChars of the match.
func (d *LocalDetector) Detect(ctx context.Context, text, language string, scoreThreshold float64) ([]entity.Span, error) {
	_, span := tracer.Start(ctx, "detect.local")
	defer span.End()

	if scoreThreshold <= 0 {
		scoreThreshold = DefaultMinScore
	}

	spans := []entity.Span{}
	for i := range d.patterns {
		p := &d.patterns[i]
		if !p.supportsLanguage(language) {
			continue
		}

		matches := p.regex.FindAllStringIndex(text, -1)
		if len(matches) == 0 {
			continue
		}
		contextWords := p.contextFor(language)

		for _, m := range matches {
			value := text[m[0]:m[1]]

			if p.validator != nil && !p.validator(value) {
				continue
			}

			score := enhanceScoreWithContext(text, m[0], p.score, contextWords)
			if score > 1 {
				score = 1
			}
			if score < scoreThreshold {
				continue
			}

			spans = append(spans, entity.Span{
				Start:      utf8.RuneCountInString(text[:m[0]]),
				End:        utf8.RuneCountInString(text[:m[1]]),
				EntityType: p.entityType,
				Score:      score,
				Source:     SourceLocal,
			})
		}
	}

	span.SetAttributes(
		attribute.Int("detect.span_count", len(spans)),
		attribute.String("detect.language", language),
	)

	return spans, nil
}

// enhanceScoreWithContext boosts a match's base score if one of its context
// words appears within +/- ContextWindowChars code points of the match
// position (a byte offset into text).
func enhanceScoreWithContext(text string, position int, baseScore float64, contextWords []string) float64 {
	if len(contextWords) == 0 {
		return baseScore
	}
	window := strings.ToLower(contextWindow(text, position))

	for _, cw := range contextWords {
		if strings.Contains(window, strings.ToLower(cw)) {
			return baseScore + ContextSimilarityFactor
		}
	}
	return baseScore
}

// contextWindow slices text ContextWindowChars code points either side of
// the given byte position, never splitting a rune. The window must not
// shrink for multi-byte scripts, so it is measured in runes, not bytes.
func contextWindow(text string, position int) string {
	start := position
	for i := 0; i < ContextWindowChars && start > 0; i++ {
		_, size := utf8.DecodeLastRuneInString(text[:start])
		start -= size
	}
	end := position
	for i := 0; i < ContextWindowChars && end < len(text); i++ {
		_, size := utf8.DecodeRuneInString(text[end:])
		end += size
	}
	return text[start:end]
}
