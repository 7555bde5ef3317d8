package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/aegis/internal/audit"
	"github.com/dativo-io/aegis/internal/config"
	"github.com/dativo-io/aegis/internal/entity"
	"github.com/dativo-io/aegis/internal/eval"
	"github.com/dativo-io/aegis/internal/shield"
)

func TestRootCmd_HasSubcommands(t *testing.T) {
	expected := []string{"protect", "detect", "evaluate", "serve", "audit", "version"}
	registered := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		registered[cmd.Name()] = true
	}
	for _, name := range expected {
		assert.True(t, registered[name], "subcommand %q should be registered", name)
	}
}

func TestAuditCmd_HasSubcommands(t *testing.T) {
	expected := []string{"list", "totals"}
	registered := make(map[string]bool)
	for _, cmd := range auditCmd.Commands() {
		registered[cmd.Name()] = true
	}
	for _, name := range expected {
		assert.True(t, registered[name], "audit subcommand %q should be registered", name)
	}
}

func TestProtectCmd_Flags(t *testing.T) {
	for _, name := range []string{"language", "strategy", "file", "json"} {
		flag := protectCmd.Flags().Lookup(name)
		assert.NotNil(t, flag, "protect flag %q should be registered", name)
	}
}

func TestEvaluateCmd_RequiresOneArg(t *testing.T) {
	require.NotNil(t, evaluateCmd.Args)
	assert.Error(t, evaluateCmd.Args(evaluateCmd, []string{}))
	assert.NoError(t, evaluateCmd.Args(evaluateCmd, []string{"dataset.json"}))
}

func TestReadInput(t *testing.T) {
	got, err := readInput([]string{"inline text"}, "")
	require.NoError(t, err)
	assert.Equal(t, "inline text", got)

	path := filepath.Join(t.TempDir(), "input.txt")
	require.NoError(t, os.WriteFile(path, []byte("from file"), 0o600))
	got, err = readInput(nil, path)
	require.NoError(t, err)
	assert.Equal(t, "from file", got)

	_, err = readInput([]string{"text"}, path)
	require.Error(t, err, "arg and --file are mutually exclusive")

	_, err = readInput(nil, filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}

func TestBuildShield_LocalOnly(t *testing.T) {
	cfg := &config.Config{
		Mode:           "single",
		Language:       "en",
		Strategy:       "replace",
		ScoreThreshold: 0.5,
		AdapterTimeout: 10 * time.Second,
		MaskChar:       "*",
		MaskLength:     8,
		HashAlgorithm:  "sha256",
	}
	sh, err := buildShield(cfg)
	require.NoError(t, err)
	require.NotNil(t, sh)
}

func TestBuildShield_InvalidHashAlgorithm(t *testing.T) {
	cfg := &config.Config{
		Mode:           "single",
		MaskChar:       "*",
		MaskLength:     8,
		HashAlgorithm:  "md5",
		AdapterTimeout: time.Second,
	}
	_, err := buildShield(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "masker")
}

func TestBuildShield_DualMergeNeedsAzure(t *testing.T) {
	cfg := &config.Config{
		Mode:           "dual-merge",
		MaskChar:       "*",
		MaskLength:     8,
		HashAlgorithm:  "sha256",
		AdapterTimeout: time.Second,
		AzureEndpoint:  "https://example.cognitiveservices.azure.com",
		AzureKey:       "key",
		AzureRateLimit: 10,
	}
	sh, err := buildShield(cfg)
	require.NoError(t, err)
	require.NotNil(t, sh)
}

func TestRenderSpans(t *testing.T) {
	var buf bytes.Buffer
	text := "Email john@x.com end"
	spans := []entity.Span{
		{Start: 6, End: 16, EntityType: "EMAIL_ADDRESS", Score: 0.85, Source: "local"},
	}
	failures := []shield.AdapterFailure{{Adapter: "azure", Error: "rate limited"}}

	renderSpans(&buf, text, spans, failures)
	out := buf.String()
	assert.Contains(t, out, "Detected 1 span(s)")
	assert.Contains(t, out, "EMAIL_ADDRESS")
	assert.Contains(t, out, "john@x.com")
	assert.Contains(t, out, "adapter azure failed")

	buf.Reset()
	renderSpans(&buf, "clean", nil, nil)
	assert.Contains(t, buf.String(), "No PII detected.")
}

func TestRenderReport(t *testing.T) {
	var buf bytes.Buffer
	report := &eval.Report{
		Samples: 3,
		PerType: map[string]eval.TypeMetrics{
			"EMAIL_ADDRESS": {Counts: eval.Counts{TP: 2, FP: 1}, Precision: 0.667, Recall: 1, F1: 0.8},
		},
		Overall: eval.TypeMetrics{Counts: eval.Counts{TP: 2, FP: 1}, Precision: 0.667, Recall: 1, F1: 0.8},
	}
	renderReport(&buf, report)
	out := buf.String()
	assert.Contains(t, out, "Evaluated 3 sample(s)")
	assert.Contains(t, out, "EMAIL_ADDRESS")
	assert.Contains(t, out, "OVERALL")
}

func TestRenderAuditList(t *testing.T) {
	var buf bytes.Buffer
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	records := []audit.Record{
		{ID: "run_1", Timestamp: ts, Operation: "protect", Mode: "single", Strategy: "replace", SpanCount: 2, DurationMS: 12},
		{ID: "run_2", Timestamp: ts, Operation: "detect", Mode: "dual-merge", Strategy: "replace", SpanCount: 0, DurationMS: 30,
			AdapterFailures: []shield.AdapterFailure{{Adapter: "azure", Error: "503"}}},
	}
	renderAuditList(&buf, records)
	out := buf.String()
	assert.Contains(t, out, "Audit Records (showing 2)")
	assert.Contains(t, out, "run_1")
	assert.Contains(t, out, "run_2")
	assert.Contains(t, out, "[1 adapter failure(s)]")
}

func TestRenderAuditTotals(t *testing.T) {
	var buf bytes.Buffer
	renderAuditTotals(&buf, map[string]int{"EMAIL_ADDRESS": 3, "KR_SSN": 1})
	out := buf.String()
	assert.Contains(t, out, "EMAIL_ADDRESS")
	assert.Contains(t, out, "KR_SSN")

	buf.Reset()
	renderAuditTotals(&buf, nil)
	assert.Contains(t, buf.String(), "No entities recorded.")
}
