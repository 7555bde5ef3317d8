// Package eval measures detection quality against labeled ground truth.
//
// Predictions and labels are matched per sample: a prediction counts as a
// true positive when its entity type equals a label's and their span
// intersection-over-union reaches the configured threshold. Matching is
// greedy first-fit in label order; each label is consumed at most once.
package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dativo-io/aegis/internal/entity"
)

// DefaultIoUThreshold is the minimum span overlap for a prediction to
// count as a true positive.
const DefaultIoUThreshold = 0.5

// Counts accumulates match outcomes for one entity type or overall.
type Counts struct {
	TP int `json:"tp"`
	FP int `json:"fp"`
	FN int `json:"fn"`
}

// Precision is TP / (TP + FP), or 0 when nothing was predicted.
func (c Counts) Precision() float64 {
	if c.TP+c.FP == 0 {
		return 0
	}
	return float64(c.TP) / float64(c.TP+c.FP)
}

// Recall is TP / (TP + FN), or 0 when nothing was labeled.
func (c Counts) Recall() float64 {
	if c.TP+c.FN == 0 {
		return 0
	}
	return float64(c.TP) / float64(c.TP+c.FN)
}

// F1 is the harmonic mean of precision and recall, or 0 when both are 0.
func (c Counts) F1() float64 {
	p, r := c.Precision(), c.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Accuracy is TP / (TP + FP + FN), or 0 when nothing was scored. There
// are no true negatives in span detection, so this is the Jaccard form.
func (c Counts) Accuracy() float64 {
	if c.TP+c.FP+c.FN == 0 {
		return 0
	}
	return float64(c.TP) / float64(c.TP+c.FP+c.FN)
}

func (c *Counts) add(other Counts) {
	c.TP += other.TP
	c.FP += other.FP
	c.FN += other.FN
}

// Match scores one sample's predictions against its labels.
func Match(predicted []entity.Span, labels []entity.GroundTruth, iouThreshold float64) map[string]Counts {
	if iouThreshold <= 0 {
		iouThreshold = DefaultIoUThreshold
	}

	perType := make(map[string]Counts)
	consumed := make([]bool, len(labels))

	for _, p := range predicted {
		matched := false
		for i, l := range labels {
			if consumed[i] || l.EntityType != p.EntityType {
				continue
			}
			if entity.IoU(p.Start, p.End, l.Start, l.End) >= iouThreshold {
				consumed[i] = true
				matched = true
				break
			}
		}
		c := perType[p.EntityType]
		if matched {
			c.TP++
		} else {
			c.FP++
		}
		perType[p.EntityType] = c
	}

	for i, l := range labels {
		if !consumed[i] {
			c := perType[l.EntityType]
			c.FN++
			perType[l.EntityType] = c
		}
	}

	return perType
}

// TypeMetrics is the scored outcome for one entity type.
type TypeMetrics struct {
	Counts
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Accuracy  float64 `json:"accuracy"`
}

// Report aggregates match outcomes across samples. Overall is
// micro-averaged: counts are summed before the ratios are taken.
type Report struct {
	PerType map[string]TypeMetrics `json:"per_type"`
	Overall TypeMetrics            `json:"overall"`
	Samples int                    `json:"samples"`
}

// EntityTypes lists the scored entity types in sorted order.
func (r *Report) EntityTypes() []string {
	types := make([]string, 0, len(r.PerType))
	for et := range r.PerType {
		types = append(types, et)
	}
	sort.Strings(types)
	return types
}

// LabeledSample is one evaluation record: a text and its gold annotations.
type LabeledSample struct {
	Text     string               `json:"text"`
	Language string               `json:"language,omitempty"`
	Labels   []entity.GroundTruth `json:"labels"`
}

// Dataset is an ordered collection of labeled samples.
type Dataset struct {
	Samples []LabeledSample `json:"samples"`
}

// FromJSON parses a dataset from its JSON encoding.
func FromJSON(data []byte) (*Dataset, error) {
	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("parsing dataset: %w", err)
	}
	return &ds, nil
}

// FilterByLanguage keeps only samples in the given language. Samples with
// no language annotation are kept.
func (ds *Dataset) FilterByLanguage(language string) *Dataset {
	out := &Dataset{}
	for _, s := range ds.Samples {
		if s.Language == "" || s.Language == language {
			out.Samples = append(out.Samples, s)
		}
	}
	return out
}

// Statistics reports label counts per entity type across the dataset.
func (ds *Dataset) Statistics() map[string]int {
	stats := make(map[string]int)
	for _, s := range ds.Samples {
		for _, l := range s.Labels {
			stats[l.EntityType]++
		}
	}
	return stats
}

// DetectFunc produces predictions for one sample. It matches the shape of
// shield.Shield.Detect closures and raw detectors alike.
type DetectFunc func(ctx context.Context, text, language string) ([]entity.Span, error)

// Evaluator runs a detection function over a dataset and aggregates the
// per-sample scores into a Report.
type Evaluator struct {
	detect       DetectFunc
	iouThreshold float64
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithIoUThreshold overrides the true-positive overlap threshold.
func WithIoUThreshold(threshold float64) Option {
	return func(e *Evaluator) { e.iouThreshold = threshold }
}

// NewEvaluator builds an Evaluator over the given detection function.
func NewEvaluator(detect DetectFunc, opts ...Option) (*Evaluator, error) {
	if detect == nil {
		return nil, fmt.Errorf("eval: detect function is required")
	}
	e := &Evaluator{detect: detect, iouThreshold: DefaultIoUThreshold}
	for _, o := range opts {
		o(e)
	}
	if e.iouThreshold <= 0 || e.iouThreshold > 1 {
		return nil, fmt.Errorf("eval: iou threshold %v out of (0,1]", e.iouThreshold)
	}
	return e, nil
}

// Evaluate scores the detection function over every sample. A detection
// error aborts the run; partial reports are never returned.
func (e *Evaluator) Evaluate(ctx context.Context, ds *Dataset) (*Report, error) {
	totals := make(map[string]Counts)

	for i, sample := range ds.Samples {
		predicted, err := e.detect(ctx, sample.Text, sample.Language)
		if err != nil {
			return nil, fmt.Errorf("detecting sample %d: %w", i, err)
		}
		for et, c := range Match(predicted, sample.Labels, e.iouThreshold) {
			t := totals[et]
			t.add(c)
			totals[et] = t
		}
	}

	report := &Report{
		PerType: make(map[string]TypeMetrics, len(totals)),
		Samples: len(ds.Samples),
	}
	var overall Counts
	for et, c := range totals {
		report.PerType[et] = metricsFor(c)
		overall.add(c)
	}
	report.Overall = metricsFor(overall)
	return report, nil
}

func metricsFor(c Counts) TypeMetrics {
	return TypeMetrics{
		Counts:    c,
		Precision: c.Precision(),
		Recall:    c.Recall(),
		F1:        c.F1(),
		Accuracy:  c.Accuracy(),
	}
}
