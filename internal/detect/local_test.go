package detect

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalDetectorBasics(t *testing.T) {
	d := MustNewLocalDetector()
	ctx := context.Background()

	tests := []struct {
		name      string
		text      string
		language  string
		wantTypes []string
	}{
		{
			name:     "no PII",
			text:     "Hello world, this is a test",
			language: "en",
		},
		{
			name:      "email address",
			text:      "Contact me at user@example.com",
			language:  "en",
			wantTypes: []string{"EMAIL_ADDRESS"},
		},
		{
			name:      "e164 phone",
			text:      "Call me at +14155550123",
			language:  "en",
			wantTypes: []string{"PHONE_NUMBER"},
		},
		{
			name:      "credit card passing luhn",
			text:      "Card: 4111111111111111",
			language:  "en",
			wantTypes: []string{"CREDIT_CARD"},
		},
		{
			name:     "credit card failing luhn",
			text:     "Card: 4111111111111112",
			language: "en",
		},
		{
			name:      "iban with valid checksum",
			text:      "My IBAN is DE89370400440532013000",
			language:  "en",
			wantTypes: []string{"IBAN_CODE"},
		},
		{
			name:     "iban with broken checksum",
			text:     "My IBAN is DE89370400440532013001",
			language: "en",
		},
		{
			name:      "ipv4",
			text:      "Server at 192.168.1.100",
			language:  "en",
			wantTypes: []string{"IP_ADDRESS"},
		},
		{
			name:      "us ssn",
			text:      "SSN: 078-05-1120",
			language:  "en",
			wantTypes: []string{"US_SSN"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spans, err := d.Detect(ctx, tt.text, tt.language, 0.5)
			require.NoError(t, err)

			var gotTypes []string
			for _, s := range spans {
				gotTypes = append(gotTypes, s.EntityType)
			}
			if len(tt.wantTypes) == 0 {
				assert.Empty(t, spans)
			} else {
				for _, want := range tt.wantTypes {
					assert.Contains(t, gotTypes, want)
				}
			}
		})
	}
}

func TestLocalDetectorKoreanRRN(t *testing.T) {
	d := MustNewLocalDetector()
	ctx := context.Background()

	// 900101-1234568 carries a valid check digit; ...567 does not.
	spans, err := d.Detect(ctx, "주민등록번호는 900101-1234568 입니다", "ko", 0.5)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, "KR_SSN", spans[0].EntityType)
	assert.Equal(t, SourceLocal, spans[0].Source)

	spans, err = d.Detect(ctx, "주민등록번호는 900101-1234567 입니다", "ko", 0.5)
	require.NoError(t, err)
	assert.Empty(t, spans, "invalid checksum must be rejected")
}

func TestLocalDetectorRuneOffsets(t *testing.T) {
	d := MustNewLocalDetector()
	ctx := context.Background()

	text := "이메일 user@example.com 끝"
	spans, err := d.Detect(ctx, text, "ko", 0.5)
	require.NoError(t, err)
	require.Len(t, spans, 1)

	// Offsets count code points: 이메일 + space = 4.
	assert.Equal(t, 4, spans[0].Start)
	assert.Equal(t, 4+len("user@example.com"), spans[0].End)

	runes := []rune(text)
	assert.Equal(t, "user@example.com", string(runes[spans[0].Start:spans[0].End]))
}

func TestLocalDetectorContextBoost(t *testing.T) {
	d := MustNewLocalDetector()
	ctx := context.Background()

	// rrn-plain scores 0.3 alone; the 주민번호 context word boosts it past 0.5.
	bare := "숫자 9001011234568 기록"
	spans, err := d.Detect(ctx, bare, "ko", 0.5)
	require.NoError(t, err)
	assert.Empty(t, spans)

	boosted := "주민번호 9001011234568 기록"
	spans, err = d.Detect(ctx, boosted, "ko", 0.5)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, "KR_SSN", spans[0].EntityType)
	assert.InDelta(t, 0.65, spans[0].Score, 1e-9)
}

func TestLocalDetectorContextWindowCountsRunes(t *testing.T) {
	d := MustNewLocalDetector()

	// 45 Hangul code points (135 bytes) sit between the context word and
	// the match. The window is measured in code points, so the boost still
	// applies even though the gap exceeds 100 bytes.
	text := "주민번호 " + strings.Repeat("가", 40) + " 9001011234568"
	spans, err := d.Detect(context.Background(), text, "ko", 0.5)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, "KR_SSN", spans[0].EntityType)
	assert.InDelta(t, 0.65, spans[0].Score, 1e-9)
}

func TestLocalDetectorLanguageFilter(t *testing.T) {
	d := MustNewLocalDetector()
	ctx := context.Background()

	// KrPhoneRecognizer declares ko and en only.
	spans, err := d.Detect(ctx, "연락처 010-1234-5678", "ko", 0.5)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, "KR_PHONE_NUMBER", spans[0].EntityType)

	spans, err = d.Detect(ctx, "numéro 010-1234-5678", "fr", 0.5)
	require.NoError(t, err)
	assert.Empty(t, spans)
}

func TestLocalDetectorScoreThreshold(t *testing.T) {
	d := MustNewLocalDetector()
	ctx := context.Background()

	spans, err := d.Detect(ctx, "Reach me at user@example.com", "en", 0.9)
	require.NoError(t, err)
	assert.Empty(t, spans, "0.85 base score is below a 0.9 threshold")

	// A context word boosts 0.85 past the threshold (capped at 1.0).
	spans, err = d.Detect(ctx, "Email me at user@example.com", "en", 0.9)
	require.NoError(t, err)
	require.Len(t, spans, 1)
}

func TestLocalDetectorCustomRecognizer(t *testing.T) {
	custom := RecognizerConfig{
		Name:            "EmployeeIDRecognizer",
		SupportedEntity: "EMPLOYEE_ID",
		Patterns: []PatternConfig{
			{Name: "emp-id", Regex: `\bEMP-\d{6}\b`, Score: 0.9},
		},
	}

	d, err := NewLocalDetector(WithCustomRecognizers([]RecognizerConfig{custom}))
	require.NoError(t, err)

	spans, err := d.Detect(context.Background(), "badge EMP-123456", "en", 0.5)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, "EMPLOYEE_ID", spans[0].EntityType)
}

func TestLocalDetectorEntityFilters(t *testing.T) {
	d, err := NewLocalDetector(WithDisabledEntities([]string{"EMAIL_ADDRESS"}))
	require.NoError(t, err)

	spans, err := d.Detect(context.Background(), "mail user@example.com", "en", 0.5)
	require.NoError(t, err)
	assert.Empty(t, spans)

	d, err = NewLocalDetector(WithEnabledEntities([]string{"EMAIL_ADDRESS"}))
	require.NoError(t, err)

	spans, err = d.Detect(context.Background(), "user@example.com and 4111111111111111", "en", 0.5)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, "EMAIL_ADDRESS", spans[0].EntityType)
}
