// Package detect provides the detector adapter interface and the two
// built-in backends: a local regex/recognizer engine and a cloud client
// for the Azure Language Service PII endpoint.
//
// Detectors normalize every backend's output into entity.Span values with
// code-point offsets so downstream reconciliation and masking never see
// backend-specific coordinates.
package detect

import (
	"context"

	"github.com/dativo-io/aegis/internal/entity"
	aegisotel "github.com/dativo-io/aegis/internal/otel"
)

var tracer = aegisotel.Tracer("github.com/dativo-io/aegis/internal/detect")

// Detector is the capability interface every detection backend satisfies.
//
// Implementations must return spans in code-point offsets for the given
// text, must return an empty slice (not an error) when no PII is found,
// and must reserve errors for true operational failure: network, auth,
// malformed configuration.
type Detector interface {
	// Name identifies the backend; it becomes the Source tag on spans.
	Name() string

	// Detect analyzes text and returns spans scoring at or above
	// scoreThreshold.
	Detect(ctx context.Context, text, language string, scoreThreshold float64) ([]entity.Span, error)
}
