// Package patterns provides embedded default recognizer definitions.
// YAML files in this directory use the Presidio-compatible recognizer
// format with the validator extension for checksum gates.
package patterns

import _ "embed"

//go:embed pii_default.yaml
var defaultYAML []byte

//go:embed pii_kr.yaml
var koreanYAML []byte

// DefaultYAML returns the embedded Latin-script PII recognizer definitions.
func DefaultYAML() []byte { return defaultYAML }

// KoreanYAML returns the embedded Korean PII recognizer definitions.
func KoreanYAML() []byte { return koreanYAML }
