// Package testutil holds shared test doubles.
package testutil

import (
	"context"
	"sync/atomic"

	"github.com/dativo-io/aegis/internal/entity"
)

// ScriptedDetector is a detect.Detector that returns canned spans or a
// canned error. It counts calls so tests can assert orchestration paths.
type ScriptedDetector struct {
	DetectorName string
	Spans        []entity.Span
	Err          error
	// Block, when non-nil, is closed by the test to release Detect;
	// until then Detect waits on it or on ctx.
	Block chan struct{}

	calls atomic.Int64
}

func (d *ScriptedDetector) Name() string {
	if d.DetectorName == "" {
		return "scripted"
	}
	return d.DetectorName
}

func (d *ScriptedDetector) Detect(ctx context.Context, text, language string, scoreThreshold float64) ([]entity.Span, error) {
	d.calls.Add(1)
	if d.Block != nil {
		select {
		case <-d.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.Err != nil {
		return nil, d.Err
	}
	out := make([]entity.Span, len(d.Spans))
	copy(out, d.Spans)
	return out, nil
}

// Calls reports how many times Detect ran.
func (d *ScriptedDetector) Calls() int {
	return int(d.calls.Load())
}
