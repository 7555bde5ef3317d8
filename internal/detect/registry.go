package detect

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// RecognizerFile is the top-level YAML structure for a recognizer config file.
// Mirrors the Presidio recognizer registry YAML format.
type RecognizerFile struct {
	Recognizers []RecognizerConfig `yaml:"recognizers"`
}

// RecognizerConfig describes one pattern recognizer.
type RecognizerConfig struct {
	Name               string            `yaml:"name" json:"name"`
	SupportedEntity    string            `yaml:"supported_entity" json:"supported_entity"`
	Enabled            *bool             `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Patterns           []PatternConfig   `yaml:"patterns,omitempty" json:"patterns,omitempty"`
	SupportedLanguages []LanguageContext `yaml:"supported_languages,omitempty" json:"supported_languages,omitempty"`
	// Validator names a hard validation gate applied to every match:
	// "luhn", "iban", or "kr_rrn". Empty means no gate.
	Validator string `yaml:"validator,omitempty" json:"validator,omitempty"`
}

// PatternConfig is a single regex pattern within a recognizer.
type PatternConfig struct {
	Name  string  `yaml:"name" json:"name"`
	Regex string  `yaml:"regex" json:"regex"`
	Score float64 `yaml:"score" json:"score"`
}

// LanguageContext holds context words for a specific language.
type LanguageContext struct {
	Language string   `yaml:"language" json:"language"`
	Context  []string `yaml:"context,omitempty" json:"context,omitempty"`
}

// isEnabled returns true if the recognizer is enabled (defaults to true when nil).
func (r *RecognizerConfig) isEnabled() bool {
	if r.Enabled == nil {
		return true
	}
	return *r.Enabled
}

// supportsLanguage reports whether the recognizer applies to lang.
// A recognizer with no supported_languages entry applies to every language.
func (r *RecognizerConfig) supportsLanguage(lang string) bool {
	if len(r.SupportedLanguages) == 0 {
		return true
	}
	for _, lc := range r.SupportedLanguages {
		if lc.Language == lang {
			return true
		}
	}
	return false
}

// contextFor returns the context words declared for lang, if any.
func (r *RecognizerConfig) contextFor(lang string) []string {
	for _, lc := range r.SupportedLanguages {
		if lc.Language == lang {
			return lc.Context
		}
	}
	return nil
}

// ParseRecognizerFile parses recognizer YAML bytes into a RecognizerFile.
func ParseRecognizerFile(data []byte) (*RecognizerFile, error) {
	var rf RecognizerFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing recognizer YAML: %w", err)
	}
	return &rf, nil
}

// LoadRecognizerFile reads and parses a recognizer YAML file from disk.
// Returns nil (not an error) if the file does not exist, so callers can
// treat a missing global config as a no-op.
func LoadRecognizerFile(path string) (*RecognizerFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading recognizer file %s: %w", path, err)
	}
	return ParseRecognizerFile(data)
}

// MergeRecognizers performs a layered merge: embedded defaults, then global
// overrides, then custom recognizers. Later layers override earlier ones by
// matching on the recognizer Name field. New recognizers are appended.
func MergeRecognizers(layers ...[]RecognizerConfig) []RecognizerConfig {
	index := make(map[string]int)
	var merged []RecognizerConfig

	for _, layer := range layers {
		for _, rc := range layer {
			if idx, exists := index[rc.Name]; exists {
				merged[idx] = rc
			} else {
				index[rc.Name] = len(merged)
				merged = append(merged, rc)
			}
		}
	}

	return merged
}

// FilterByEntities applies enabled/disabled entity filters to a recognizer
// list. If enabledEntities is non-empty, only recognizers with a matching
// supported_entity are kept (whitelist). Then any recognizer whose entity is
// in disabledEntities is removed (blacklist).
func FilterByEntities(recognizers []RecognizerConfig, enabledEntities, disabledEntities []string) []RecognizerConfig {
	result := recognizers

	if len(enabledEntities) > 0 {
		allowed := make(map[string]bool, len(enabledEntities))
		for _, e := range enabledEntities {
			allowed[e] = true
		}
		var filtered []RecognizerConfig
		for _, r := range result {
			if allowed[r.SupportedEntity] {
				filtered = append(filtered, r)
			}
		}
		result = filtered
	}

	if len(disabledEntities) > 0 {
		blocked := make(map[string]bool, len(disabledEntities))
		for _, e := range disabledEntities {
			blocked[e] = true
		}
		var filtered []RecognizerConfig
		for _, r := range result {
			if !blocked[r.SupportedEntity] {
				filtered = append(filtered, r)
			}
		}
		result = filtered
	}

	return result
}

// compiledPattern is a ready-to-run recognizer pattern.
type compiledPattern struct {
	recognizer string
	entityType string
	regex      *regexp.Regexp
	score      float64
	validator  validatorFunc
	languages  []LanguageContext
}

// compilePatterns converts recognizer configs into runtime patterns.
// Disabled recognizers are skipped; each regex in a recognizer produces one
// compiledPattern entry carrying the recognizer's validator and languages.
func compilePatterns(recognizers []RecognizerConfig) ([]compiledPattern, error) {
	var patterns []compiledPattern

	for _, rec := range recognizers {
		if !rec.isEnabled() {
			continue
		}
		validator, err := resolveValidator(rec.Validator)
		if err != nil {
			return nil, fmt.Errorf("recognizer %q: %w", rec.Name, err)
		}
		for _, p := range rec.Patterns {
			compiled, err := regexp.Compile(p.Regex)
			if err != nil {
				return nil, fmt.Errorf("compiling pattern %q in recognizer %q: %w", p.Name, rec.Name, err)
			}
			patterns = append(patterns, compiledPattern{
				recognizer: rec.Name,
				entityType: rec.SupportedEntity,
				regex:      compiled,
				score:      p.Score,
				validator:  validator,
				languages:  rec.SupportedLanguages,
			})
		}
	}

	return patterns, nil
}

// patternSupportsLanguage mirrors RecognizerConfig.supportsLanguage for a
// compiled pattern.
func (p *compiledPattern) supportsLanguage(lang string) bool {
	if len(p.languages) == 0 {
		return true
	}
	for _, lc := range p.languages {
		if lc.Language == lang {
			return true
		}
	}
	return false
}

// contextFor returns context words for lang on a compiled pattern.
func (p *compiledPattern) contextFor(lang string) []string {
	for _, lc := range p.languages {
		if lc.Language == lang {
			return lc.Context
		}
	}
	return nil
}
