// Package mask rewrites text according to a reconciled span set and a named
// masking strategy.
//
// All span offsets refer to the original text in code points. The masker
// splices replacements back-to-front so earlier splices never invalidate
// the offsets of spans still to be processed.
package mask

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/dativo-io/aegis/internal/entity"
)

// Strategy names for the built-in transforms.
const (
	StrategyReplace = "replace"
	StrategyRedact  = "redact"
	StrategyHash    = "hash"
	StrategyMask    = "mask"
)

// DefaultMaskLength is the fixed replacement length for the mask strategy.
// The length is capped rather than proportional to the original span so the
// masked output leaks no length information.
const DefaultMaskLength = 8

// DefaultMaskChar is the character used by the mask strategy.
const DefaultMaskChar = '*'

// ErrOverlappingSpans is returned when Apply receives a span set that is not
// reconciled. This is a programming-contract violation: callers must pass
// reconcile.Merge output, never raw detector output.
var ErrOverlappingSpans = errors.New("mask: span set contains overlapping spans")

// ErrUnknownStrategy is returned when the requested strategy is not registered.
var ErrUnknownStrategy = errors.New("mask: unknown strategy")

// Transform converts a span's original text into its replacement.
// Transforms must be pure: same input, same output, no side effects.
type Transform func(original, entityType string) string

// Masker applies named masking strategies to reconciled span sets.
type Masker struct {
	strategies map[string]Transform
}

// Option configures a Masker.
type Option func(*maskerConfig)

type maskerConfig struct {
	hashAlgorithm string
	maskChar      rune
	maskLength    int
}

// WithHashAlgorithm selects the digest for the hash strategy.
// Supported: "sha256" (default), "sha512", "blake2b".
func WithHashAlgorithm(name string) Option {
	return func(c *maskerConfig) { c.hashAlgorithm = name }
}

// WithMaskChar overrides the mask strategy's fill character.
func WithMaskChar(ch rune) Option {
	return func(c *maskerConfig) { c.maskChar = ch }
}

// WithMaskLength overrides the mask strategy's fixed replacement length.
func WithMaskLength(n int) Option {
	return func(c *maskerConfig) { c.maskLength = n }
}

// NewMasker builds a Masker with the four built-in strategies.
func NewMasker(opts ...Option) (*Masker, error) {
	cfg := maskerConfig{
		hashAlgorithm: "sha256",
		maskChar:      DefaultMaskChar,
		maskLength:    DefaultMaskLength,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.maskLength <= 0 {
		return nil, fmt.Errorf("mask length must be positive, got %d", cfg.maskLength)
	}

	digest, err := hashFunc(cfg.hashAlgorithm)
	if err != nil {
		return nil, err
	}

	maskRun := strings.Repeat(string(cfg.maskChar), cfg.maskLength)

	m := &Masker{strategies: map[string]Transform{
		StrategyReplace: func(_, entityType string) string {
			return "<" + entityType + ">"
		},
		StrategyRedact: func(_, _ string) string {
			return ""
		},
		StrategyHash: func(original, _ string) string {
			return digest(original)
		},
		StrategyMask: func(_, _ string) string {
			return maskRun
		},
	}}
	return m, nil
}

// MustNewMasker is like NewMasker but panics on error. Useful where the
// default configuration is known to be valid.
func MustNewMasker(opts ...Option) *Masker {
	m, err := NewMasker(opts...)
	if err != nil {
		panic(fmt.Sprintf("mask.NewMasker: %v", err))
	}
	return m
}

// Register adds or replaces a named strategy. Custom strategies plug in
// without any change to reconciliation or orchestration code.
func (m *Masker) Register(name string, t Transform) {
	m.strategies[name] = t
}

// Strategies returns the registered strategy names, sorted.
func (m *Masker) Strategies() []string {
	names := make([]string, 0, len(m.strategies))
	for name := range m.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply rewrites text by replacing each span with its strategy-computed
// replacement and returns the masked text plus per-entity-type counts.
//
// spans must be a reconciled set: pairwise non-overlapping, sorted by start,
// with offsets valid for text. Overlap is detected with a cheap ordered
// adjacent check and surfaced as ErrOverlappingSpans rather than producing
// silently corrupted output.
func (m *Masker) Apply(text string, spans []entity.Span, strategy string) (string, map[string]int, error) {
	transform, ok := m.strategies[strategy]
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}

	counts := make(map[string]int, len(spans))
	if len(spans) == 0 {
		return text, counts, nil
	}

	runes := []rune(text)
	for i, s := range spans {
		if !s.Valid(len(runes)) {
			return "", nil, fmt.Errorf("mask: span %d [%d,%d) out of range for text of %d code points",
				i, s.Start, s.End, len(runes))
		}
		if i > 0 && s.Start < spans[i-1].End {
			return "", nil, fmt.Errorf("%w: [%d,%d) and [%d,%d)",
				ErrOverlappingSpans, spans[i-1].Start, spans[i-1].End, s.Start, s.End)
		}
	}

	// Back-to-front splice keeps all remaining offsets valid in the
	// original coordinate space.
	for i := len(spans) - 1; i >= 0; i-- {
		s := spans[i]
		replacement := []rune(transform(string(runes[s.Start:s.End]), s.EntityType))
		runes = append(runes[:s.Start], append(replacement, runes[s.End:]...)...)
	}

	for _, s := range spans {
		counts[s.EntityType]++
	}

	return string(runes), counts, nil
}

// hashFunc resolves a digest name to a hex-encoding hash function.
// Digests are deliberately unsalted so repeated runs over the same document
// are idempotent.
func hashFunc(name string) (func(string) string, error) {
	switch name {
	case "", "sha256":
		return func(s string) string {
			sum := sha256.Sum256([]byte(s))
			return hex.EncodeToString(sum[:])
		}, nil
	case "sha512":
		return func(s string) string {
			sum := sha512.Sum512([]byte(s))
			return hex.EncodeToString(sum[:])
		}, nil
	case "blake2b":
		return func(s string) string {
			sum := blake2b.Sum256([]byte(s))
			return hex.EncodeToString(sum[:])
		}, nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", name)
	}
}
