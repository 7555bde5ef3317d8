// Package reconcile merges possibly-overlapping span sets from multiple
// detectors into one consistent, non-overlapping, ordered set.
//
// When two detectors disagree about the boundary of the same PII instance
// (one matches a given name, the other the full name) the wider span always
// wins. The bias is deliberate: over-redacting a few adjacent characters is
// acceptable, leaving part of a detected PII region exposed is not.
package reconcile

import (
	"sort"

	"github.com/dativo-io/aegis/internal/entity"
)

// Merge reconciles candidate spans from any number of detectors into a
// non-overlapping set ordered by start offset.
//
// The result is independent of input order: every candidate is compared
// against all currently accepted spans, and each overlap is resolved purely
// by span geometry (wider wins, equal width keeps the span that sorts
// first). Input is never mutated; the returned slice is freshly allocated.
func Merge(spans []entity.Span) []entity.Span {
	if len(spans) == 0 {
		return []entity.Span{}
	}

	candidates := make([]entity.Span, len(spans))
	copy(candidates, spans)

	// Sort by (start asc, width desc). The merge loop below is correct for
	// any order; sorting makes the equal-width tie-break deterministic.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Start != candidates[j].Start {
			return candidates[i].Start < candidates[j].Start
		}
		return candidates[i].Width() > candidates[j].Width()
	})

	var accepted []entity.Span
	for _, cand := range candidates {
		keep := true
		survivors := accepted[:0:0]

		for _, exist := range accepted {
			if !cand.Overlaps(exist) {
				survivors = append(survivors, exist)
				continue
			}
			if cand.Width() > exist.Width() {
				// Candidate is strictly wider: the accepted span is evicted.
				// A candidate wider than several accepted spans evicts all
				// of them before being accepted itself.
				continue
			}
			// Accepted span is wider or equal: candidate loses and the
			// accepted set stays untouched.
			keep = false
			break
		}

		if keep {
			accepted = append(survivors, cand)
		}
	}

	sort.Slice(accepted, func(i, j int) bool {
		return accepted[i].Start < accepted[j].Start
	})

	return accepted
}
