// Package entity defines the shared span model for detected PII occurrences.
//
// Offsets are half-open [Start, End) and measured in Unicode code points,
// not bytes, so the same coordinate space works for Latin and Hangul text.
// Every downstream component (reconciliation, masking, evaluation) operates
// in this coordinate space.
package entity

// Span is one detected PII occurrence in a text.
type Span struct {
	Start      int     `json:"start"`
	End        int     `json:"end"`
	EntityType string  `json:"entity_type"`
	Score      float64 `json:"score"`
	Source     string  `json:"source,omitempty"`
}

// Width returns the span length in code points.
func (s Span) Width() int { return s.End - s.Start }

// Valid reports whether the span satisfies the Start < End invariant
// within a text of n code points.
func (s Span) Valid(n int) bool {
	return s.Start >= 0 && s.Start < s.End && s.End <= n
}

// Overlaps reports whether two spans intersect. The check is
// intersection-based, not inclusion-based: touching spans ([0,2) and
// [2,4)) do not overlap.
func (s Span) Overlaps(other Span) bool {
	return s.Start < other.End && other.Start < s.End
}

// GroundTruth is a labeled expected span used only for evaluation.
type GroundTruth struct {
	Start      int    `json:"start"`
	End        int    `json:"end"`
	EntityType string `json:"entity_type"`
	Text       string `json:"text,omitempty"`
}

// IoU returns the intersection-over-union of two offset ranges.
// Ranges with an empty union yield 0.
func IoU(aStart, aEnd, bStart, bEnd int) float64 {
	interStart := max(aStart, bStart)
	interEnd := min(aEnd, bEnd)
	inter := interEnd - interStart
	if inter < 0 {
		inter = 0
	}
	union := (aEnd - aStart) + (bEnd - bStart) - inter
	if union <= 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
