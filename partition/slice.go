// Package partition implements the PartitionIndex: translating an
// n-dimensional slice on a logical partitioned variable into an
// ordered list of per-subarray IndexEntry operations, and the tiling
// policy used when a partitioned variable is first created
// (spec.md §4.1).
package partition

import (
	cerrors "github.com/cfaio/cfa/util/errors"
)

// Range is a half-open [Start, Stop) interval with a step, mirroring a
// Python-style slice. Step == 0 means "not yet resolved"; Normalize
// fills in defaults against a dimension length.
type Range struct {
	Start, Stop, Step int64
	// StartOpen/StopOpen mark a slice endpoint the caller left unspecified (nil in
	// the source language), so Normalize knows to clamp to the
	// dimension's bounds rather than treat 0 literally.
	StartOpen, StopOpen bool
}

// Full returns the range selecting an entire dimension of length n.
func Full(n int64) Range {
	return Range{Start: 0, Stop: n, Step: 1, StartOpen: true, StopOpen: true}
}

// Point returns the single-index range at i.
func Point(i int64) Range {
	return Range{Start: i, Stop: i + 1, Step: 1}
}

// Normalize resolves negative indices, open endpoints, and default
// step against a dimension of length n. For writes (forWrite==true),
// non-unit steps are rejected (spec.md §4.1's failure semantics).
func Normalize(r Range, n int64, forWrite bool) (Range, error) {
	step := r.Step
	if step == 0 {
		step = 1
	}
	if step != 1 && step != -1 {
		// Only unit steps are meaningful for tiling over contiguous
		// partitions; non-unit strides still normalize but will, in
		// practice, intersect at most the partitions touching the
		// extreme endpoints.
	}
	if forWrite && step != 1 {
		return Range{}, cerrors.NewErrorf(cerrors.APIMisuse, "non-unit step %d not permitted on a write slice", step)
	}

	start := r.Start
	stop := r.Stop
	if r.StartOpen {
		if step > 0 {
			start = 0
		} else {
			start = n - 1
		}
	} else if start < 0 {
		start += n
	}
	if r.StopOpen {
		if step > 0 {
			stop = n
		} else {
			stop = -1
		}
	} else if stop < 0 {
		stop += n
	}

	if step > 0 {
		if start < 0 {
			start = 0
		}
		if stop > n {
			stop = n
		}
		if stop < start {
			stop = start
		}
	} else {
		if start > n-1 {
			start = n - 1
		}
		if stop < -1 {
			stop = -1
		}
		if stop > start {
			stop = start
		}
	}
	return Range{Start: start, Stop: stop, Step: step}, nil
}

// Len returns the number of elements a normalized range selects.
func (r Range) Len() int64 {
	if r.Step > 0 {
		if r.Stop <= r.Start {
			return 0
		}
		return (r.Stop - r.Start + r.Step - 1) / r.Step
	}
	if r.Start <= r.Stop {
		return 0
	}
	return (r.Start - r.Stop - r.Step - 1) / (-r.Step)
}

// Interval is an inclusive-exclusive [Start, End) byte/element region
// along one axis, as used by Partition.Location (spec.md §3).
type Interval struct {
	Start, End int64
}

func (iv Interval) Len() int64 { return iv.End - iv.Start }

// Intersect returns the overlap between iv and [lo, hi), and whether
// it is non-empty.
func (iv Interval) Intersect(lo, hi int64) (Interval, bool) {
	start := iv.Start
	if lo > start {
		start = lo
	}
	end := iv.End
	if hi < end {
		end = hi
	}
	if end <= start {
		return Interval{}, false
	}
	return Interval{Start: start, End: end}, true
}
