package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper(t *testing.T) {
	t.Helper()
	t.Setenv("AEGIS_DATA_DIR", "")
	t.Setenv("AEGIS_MODE", "")
	t.Setenv("AEGIS_LANGUAGE", "")
	t.Setenv("AEGIS_STRATEGY", "")
	t.Setenv("AEGIS_SCORE_THRESHOLD", "")
	t.Setenv("AEGIS_AZURE_ENDPOINT", "")
	t.Setenv("AEGIS_AZURE_KEY", "")
	t.Setenv("AEGIS_HASH_ALGORITHM", "")
	t.Setenv("AEGIS_MASK_CHAR", "")
	t.Setenv("AEGIS_LISTEN_ADDR", "")
	viper.Reset()
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

func TestLoad_Defaults(t *testing.T) {
	resetViper(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultMode, cfg.Mode)
	assert.Equal(t, DefaultLanguage, cfg.Language)
	assert.Equal(t, DefaultStrategy, cfg.Strategy)
	assert.Equal(t, DefaultScoreThreshold, cfg.ScoreThreshold)
	assert.Equal(t, DefaultAdapterTimeout, cfg.AdapterTimeout)
	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.True(t, cfg.AuditEnabled)
	assert.False(t, cfg.AzureConfigured())
}

func TestLoad_AzureConfigured(t *testing.T) {
	resetViper(t)
	t.Setenv("AEGIS_AZURE_ENDPOINT", "https://example.cognitiveservices.azure.com")
	t.Setenv("AEGIS_AZURE_KEY", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.AzureConfigured())
}

func TestLoad_NonSingleModeNeedsAzure(t *testing.T) {
	resetViper(t)
	t.Setenv("AEGIS_MODE", "dual-merge")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "azure adapter")

	t.Setenv("AEGIS_AZURE_ENDPOINT", "https://example.cognitiveservices.azure.com")
	t.Setenv("AEGIS_AZURE_KEY", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "dual-merge", cfg.Mode)
}

func TestLoad_InvalidMode(t *testing.T) {
	resetViper(t)
	t.Setenv("AEGIS_MODE", "quorum")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mode must be")
}

func TestLoad_InvalidScoreThreshold(t *testing.T) {
	resetViper(t)
	t.Setenv("AEGIS_SCORE_THRESHOLD", "1.5")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "score_threshold")
}

func TestLoad_InvalidHashAlgorithm(t *testing.T) {
	resetViper(t)
	t.Setenv("AEGIS_HASH_ALGORITHM", "md5")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash_algorithm")
}

func TestLoad_MultiRuneMaskChar(t *testing.T) {
	resetViper(t)
	t.Setenv("AEGIS_MASK_CHAR", "**")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mask_char")
}

func TestLoad_HangulMaskCharIsOneCharacter(t *testing.T) {
	resetViper(t)
	t.Setenv("AEGIS_MASK_CHAR", "별")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "별", cfg.MaskChar)
}

func TestLoad_CustomDataDir(t *testing.T) {
	resetViper(t)
	dir := t.TempDir()
	t.Setenv("AEGIS_DATA_DIR", dir)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.DataDir)
}

func TestLoad_CustomAdapterTimeout(t *testing.T) {
	resetViper(t)
	t.Setenv("AEGIS_ADAPTER_TIMEOUT", "2s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.AdapterTimeout)
}

func TestConfig_AuditDBPath(t *testing.T) {
	cfg := &Config{DataDir: "/data/aegis"}
	assert.Equal(t, "/data/aegis/audit.db", cfg.AuditDBPath())
}

func TestConfig_EnsureDataDir(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{DataDir: dir + "/nested/deep"}
	require.NoError(t, cfg.EnsureDataDir())
}
