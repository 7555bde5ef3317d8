// Package config holds operator-level configuration for an Aegis process.
//
// Everything here is deployment infrastructure: data directory, detector
// endpoints and credentials, orchestration mode, masking defaults. Values
// merge from env vars (AEGIS_*), an optional aegis.config.yaml and baked-in
// defaults, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Viper keys. Each maps to an env var with the AEGIS_ prefix
// (e.g. "azure_endpoint" → AEGIS_AZURE_ENDPOINT) and to a YAML field
// in aegis.config.yaml.
const (
	KeyDataDir        = "data_dir"
	KeyMode           = "mode"
	KeyLanguage       = "language"
	KeyStrategy       = "strategy"
	KeyScoreThreshold = "score_threshold"
	KeyAdapterTimeout = "adapter_timeout"
	KeyMaskChar       = "mask_char"
	KeyMaskLength     = "mask_length"
	KeyHashAlgorithm  = "hash_algorithm"
	KeyPatternFile    = "pattern_file"
	KeyAzureEndpoint  = "azure_endpoint"
	KeyAzureKey       = "azure_key"
	KeyAzureRateLimit = "azure_rate_limit"
	KeyListenAddr     = "listen_addr"
	KeyOtelEnabled    = "otel_enabled"
	KeyAuditEnabled   = "audit_enabled"
)

// Defaults. The Azure credential pair deliberately has none: cloud
// detection stays off until the operator provides both values.
const (
	DefaultMode           = "single"
	DefaultLanguage       = "en"
	DefaultStrategy       = "replace"
	DefaultScoreThreshold = 0.5
	DefaultAdapterTimeout = 10 * time.Second
	DefaultMaskChar       = "*"
	DefaultMaskLength     = 8
	DefaultHashAlgorithm  = "sha256"
	DefaultAzureRateLimit = 10
	DefaultListenAddr     = ":8180"
)

// Config holds resolved configuration for an Aegis process.
type Config struct {
	DataDir        string        // Base directory for all state (~/.aegis)
	Mode           string        // Orchestration mode: single, primary-fallback, dual-merge
	Language       string        // Default detection language (ISO 639-1)
	Strategy       string        // Default masking strategy
	ScoreThreshold float64       // Minimum detection confidence
	AdapterTimeout time.Duration // Per-adapter call deadline
	MaskChar       string        // Character for the mask strategy
	MaskLength     int           // Fixed replacement length for the mask strategy
	HashAlgorithm  string        // Digest for the hash strategy
	PatternFile    string        // Optional recognizer YAML overriding the embedded set
	AzureEndpoint  string        // Azure Language endpoint; empty disables the cloud adapter
	AzureKey       string        // Azure subscription key
	AzureRateLimit int           // Azure requests per second
	ListenAddr     string        // HTTP server bind address
	OtelEnabled    bool          // Emit traces to stdout
	AuditEnabled   bool          // Persist run summaries to SQLite
}

// AzureConfigured reports whether the cloud adapter can be built.
func (c *Config) AzureConfigured() bool {
	return c.AzureEndpoint != "" && c.AzureKey != ""
}

// AuditDBPath returns the full path to the audit SQLite database.
func (c *Config) AuditDBPath() string {
	return filepath.Join(c.DataDir, "audit.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

func init() {
	viper.SetEnvPrefix("AEGIS")
	viper.AutomaticEnv()
	viper.SetDefault(KeyMode, DefaultMode)
	viper.SetDefault(KeyLanguage, DefaultLanguage)
	viper.SetDefault(KeyStrategy, DefaultStrategy)
	viper.SetDefault(KeyScoreThreshold, DefaultScoreThreshold)
	viper.SetDefault(KeyAdapterTimeout, DefaultAdapterTimeout)
	viper.SetDefault(KeyMaskChar, DefaultMaskChar)
	viper.SetDefault(KeyMaskLength, DefaultMaskLength)
	viper.SetDefault(KeyHashAlgorithm, DefaultHashAlgorithm)
	viper.SetDefault(KeyAzureRateLimit, DefaultAzureRateLimit)
	viper.SetDefault(KeyListenAddr, DefaultListenAddr)
	viper.SetDefault(KeyAuditEnabled, true)
}

// Load reads configuration from Viper (which merges env vars, config
// file, and defaults) and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:        resolveDataDir(),
		Mode:           viper.GetString(KeyMode),
		Language:       viper.GetString(KeyLanguage),
		Strategy:       viper.GetString(KeyStrategy),
		ScoreThreshold: viper.GetFloat64(KeyScoreThreshold),
		AdapterTimeout: viper.GetDuration(KeyAdapterTimeout),
		MaskChar:       viper.GetString(KeyMaskChar),
		MaskLength:     viper.GetInt(KeyMaskLength),
		HashAlgorithm:  viper.GetString(KeyHashAlgorithm),
		PatternFile:    viper.GetString(KeyPatternFile),
		AzureEndpoint:  viper.GetString(KeyAzureEndpoint),
		AzureKey:       viper.GetString(KeyAzureKey),
		AzureRateLimit: viper.GetInt(KeyAzureRateLimit),
		ListenAddr:     viper.GetString(KeyListenAddr),
		OtelEnabled:    viper.GetBool(KeyOtelEnabled),
		AuditEnabled:   viper.GetBool(KeyAuditEnabled),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func resolveDataDir() string {
	if dir := viper.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".aegis"
	}
	return filepath.Join(home, ".aegis")
}

func (c *Config) validate() error {
	switch c.Mode {
	case "single", "primary-fallback", "dual-merge":
	default:
		return fmt.Errorf("mode must be single, primary-fallback or dual-merge (got %q)", c.Mode)
	}
	if c.Mode != "single" && !c.AzureConfigured() {
		return fmt.Errorf("mode %q needs the azure adapter; set AEGIS_AZURE_ENDPOINT and AEGIS_AZURE_KEY", c.Mode)
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return fmt.Errorf("score_threshold must be in [0,1] (got %v)", c.ScoreThreshold)
	}
	if c.AdapterTimeout <= 0 {
		return fmt.Errorf("adapter_timeout must be positive")
	}
	if n := len([]rune(c.MaskChar)); n != 1 {
		return fmt.Errorf("mask_char must be a single character (got %d)", n)
	}
	if c.MaskLength <= 0 {
		return fmt.Errorf("mask_length must be positive")
	}
	switch c.HashAlgorithm {
	case "sha256", "sha512", "blake2b":
	default:
		return fmt.Errorf("hash_algorithm must be sha256, sha512 or blake2b (got %q)", c.HashAlgorithm)
	}
	if c.AzureRateLimit <= 0 {
		return fmt.Errorf("azure_rate_limit must be positive")
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	return nil
}
