package ingest

import (
	"fmt"

	"statement-ingestion-service/pkg/errors"
)

// SkipTally counts rejected rows per skip category. Individual row errors
// are never reported; only the per-category totals reach the outcome.
type SkipTally struct {
	counts map[errors.SkipReason]int
	first  map[errors.SkipReason]*errors.RowError
}

// NewSkipTally creates an empty tally
func NewSkipTally() *SkipTally {
	return &SkipTally{
		counts: make(map[errors.SkipReason]int),
		first:  make(map[errors.SkipReason]*errors.RowError),
	}
}

// Record adds one rejected row
func (t *SkipTally) Record(rowErr *errors.RowError) {
	t.counts[rowErr.Reason]++
	if _, ok := t.first[rowErr.Reason]; !ok {
		t.first[rowErr.Reason] = rowErr
	}
}

// Count returns the number of rows skipped for a reason
func (t *SkipTally) Count(reason errors.SkipReason) int {
	return t.counts[reason]
}

// Total returns the number of skipped rows across all reasons
func (t *SkipTally) Total() int {
	total := 0
	for _, n := range t.counts {
		total += n
	}
	return total
}

// First returns the first row rejected for a reason, if any
func (t *SkipTally) First(reason errors.SkipReason) *errors.RowError {
	return t.first[reason]
}

// Reasons renders one summary line per non-empty category in the fixed
// reporting order, e.g. "skipped 3 row(s): invalid date".
func (t *SkipTally) Reasons() []string {
	reasons := []string{}
	for _, reason := range errors.SkipReasonOrder {
		if n := t.counts[reason]; n > 0 {
			reasons = append(reasons, fmt.Sprintf("skipped %d row(s): %s", n, reason))
		}
	}
	return reasons
}
