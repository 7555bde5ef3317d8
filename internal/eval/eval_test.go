package eval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/aegis/internal/entity"
)

func pred(start, end int, entityType string) entity.Span {
	return entity.Span{Start: start, End: end, EntityType: entityType, Score: 0.9, Source: "local"}
}

func label(start, end int, entityType string) entity.GroundTruth {
	return entity.GroundTruth{Start: start, End: end, EntityType: entityType}
}

func TestMatchExact(t *testing.T) {
	got := Match(
		[]entity.Span{pred(0, 10, "EMAIL_ADDRESS")},
		[]entity.GroundTruth{label(0, 10, "EMAIL_ADDRESS")},
		0.5,
	)
	assert.Equal(t, Counts{TP: 1}, got["EMAIL_ADDRESS"])
}

func TestMatchPartialOverlap(t *testing.T) {
	// [0,10) vs [5,15): intersection 5, union 15, IoU 1/3.
	labels := []entity.GroundTruth{label(5, 15, "PERSON")}

	got := Match([]entity.Span{pred(0, 10, "PERSON")}, labels, 0.5)
	assert.Equal(t, Counts{FP: 1, FN: 1}, got["PERSON"], "IoU below threshold is a miss both ways")

	got = Match([]entity.Span{pred(0, 10, "PERSON")}, labels, 0.3)
	assert.Equal(t, Counts{TP: 1}, got["PERSON"], "lower threshold accepts the same overlap")
}

func TestMatchTypeMismatch(t *testing.T) {
	got := Match(
		[]entity.Span{pred(0, 10, "PHONE_NUMBER")},
		[]entity.GroundTruth{label(0, 10, "KR_PHONE_NUMBER")},
		0.5,
	)
	assert.Equal(t, Counts{FP: 1}, got["PHONE_NUMBER"])
	assert.Equal(t, Counts{FN: 1}, got["KR_PHONE_NUMBER"])
}

func TestMatchLabelConsumedOnce(t *testing.T) {
	// Two predictions over one label: one TP, one FP.
	got := Match(
		[]entity.Span{pred(0, 10, "PERSON"), pred(0, 10, "PERSON")},
		[]entity.GroundTruth{label(0, 10, "PERSON")},
		0.5,
	)
	assert.Equal(t, Counts{TP: 1, FP: 1}, got["PERSON"])
}

func TestMatchMissedLabel(t *testing.T) {
	got := Match(nil, []entity.GroundTruth{label(0, 10, "US_SSN")}, 0.5)
	assert.Equal(t, Counts{FN: 1}, got["US_SSN"])
}

func TestCountsMetrics(t *testing.T) {
	c := Counts{TP: 8, FP: 2, FN: 2}
	assert.InDelta(t, 0.8, c.Precision(), 1e-9)
	assert.InDelta(t, 0.8, c.Recall(), 1e-9)
	assert.InDelta(t, 0.8, c.F1(), 1e-9)
	assert.InDelta(t, float64(8)/12, c.Accuracy(), 1e-9)

	// Zero denominators never divide by zero.
	zero := Counts{}
	assert.Zero(t, zero.Precision())
	assert.Zero(t, zero.Recall())
	assert.Zero(t, zero.F1())
	assert.Zero(t, zero.Accuracy())

	onlyFN := Counts{FN: 3}
	assert.Zero(t, onlyFN.Precision())
	assert.Zero(t, onlyFN.Recall())
	assert.Zero(t, onlyFN.F1())
}

func TestDatasetFromJSON(t *testing.T) {
	data := []byte(`{
		"samples": [
			{
				"text": "mail me at a@b.com",
				"language": "en",
				"labels": [{"start": 11, "end": 18, "entity_type": "EMAIL_ADDRESS", "text": "a@b.com"}]
			},
			{"text": "nothing here", "labels": []}
		]
	}`)

	ds, err := FromJSON(data)
	require.NoError(t, err)
	require.Len(t, ds.Samples, 2)
	assert.Equal(t, "EMAIL_ADDRESS", ds.Samples[0].Labels[0].EntityType)

	_, err = FromJSON([]byte("{broken"))
	require.Error(t, err)
}

func TestDatasetFilterAndStatistics(t *testing.T) {
	ds := &Dataset{Samples: []LabeledSample{
		{Text: "a", Language: "en", Labels: []entity.GroundTruth{label(0, 1, "PERSON")}},
		{Text: "b", Language: "ko", Labels: []entity.GroundTruth{label(0, 1, "KR_SSN")}},
		{Text: "c", Labels: []entity.GroundTruth{label(0, 1, "PERSON")}},
	}}

	en := ds.FilterByLanguage("en")
	require.Len(t, en.Samples, 2, "unannotated samples are kept")

	stats := ds.Statistics()
	assert.Equal(t, 2, stats["PERSON"])
	assert.Equal(t, 1, stats["KR_SSN"])
}

func TestEvaluatorPerfectDetection(t *testing.T) {
	ds := &Dataset{Samples: []LabeledSample{
		{Text: "x", Labels: []entity.GroundTruth{label(0, 5, "EMAIL_ADDRESS")}},
		{Text: "y", Labels: []entity.GroundTruth{label(3, 9, "PERSON")}},
	}}

	byText := map[string][]entity.Span{
		"x": {pred(0, 5, "EMAIL_ADDRESS")},
		"y": {pred(3, 9, "PERSON")},
	}
	e, err := NewEvaluator(func(_ context.Context, text, _ string) ([]entity.Span, error) {
		return byText[text], nil
	})
	require.NoError(t, err)

	report, err := e.Evaluate(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Samples)
	assert.InDelta(t, 1.0, report.Overall.Precision, 1e-9)
	assert.InDelta(t, 1.0, report.Overall.Recall, 1e-9)
	assert.InDelta(t, 1.0, report.Overall.F1, 1e-9)
	assert.ElementsMatch(t, []string{"EMAIL_ADDRESS", "PERSON"}, report.EntityTypes())
}

func TestEvaluatorMicroAverage(t *testing.T) {
	ds := &Dataset{Samples: []LabeledSample{
		{Text: "x", Labels: []entity.GroundTruth{label(0, 5, "EMAIL_ADDRESS"), label(10, 15, "PERSON")}},
	}}

	// EMAIL found, PERSON missed, plus one spurious SSN.
	e, err := NewEvaluator(func(_ context.Context, _, _ string) ([]entity.Span, error) {
		return []entity.Span{pred(0, 5, "EMAIL_ADDRESS"), pred(20, 25, "US_SSN")}, nil
	})
	require.NoError(t, err)

	report, err := e.Evaluate(context.Background(), ds)
	require.NoError(t, err)

	// Overall: TP=1, FP=1, FN=1.
	assert.Equal(t, Counts{TP: 1, FP: 1, FN: 1}, report.Overall.Counts)
	assert.InDelta(t, 0.5, report.Overall.Precision, 1e-9)
	assert.InDelta(t, 0.5, report.Overall.Recall, 1e-9)
	assert.InDelta(t, 0.5, report.Overall.F1, 1e-9)

	assert.InDelta(t, 1.0, report.PerType["EMAIL_ADDRESS"].F1, 1e-9)
	assert.Zero(t, report.PerType["PERSON"].F1)
	assert.Zero(t, report.PerType["US_SSN"].Precision)
}

func TestEvaluatorDetectionErrorAborts(t *testing.T) {
	ds := &Dataset{Samples: []LabeledSample{{Text: "x"}}}

	e, err := NewEvaluator(func(_ context.Context, _, _ string) ([]entity.Span, error) {
		return nil, errors.New("adapter down")
	})
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), ds)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adapter down")
}

func TestNewEvaluatorValidation(t *testing.T) {
	_, err := NewEvaluator(nil)
	require.Error(t, err)

	detect := func(_ context.Context, _, _ string) ([]entity.Span, error) { return nil, nil }
	_, err = NewEvaluator(detect, WithIoUThreshold(1.5))
	require.Error(t, err)
}
