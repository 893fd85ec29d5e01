package partition

import (
	cerrors "github.com/cfaio/cfa/util/errors"
)

// Axis classifies a dimension for the purposes of the tiling policy's
// "favor splitting along time" rule (spec.md §4.1, mirroring
// spec.md §3's axis classification on Dimension).
type Axis int

const (
	AxisUnknown Axis = iota
	AxisX
	AxisY
	AxisZ
	AxisT
)

// Plan computes per-axis tile edge boundaries (spec.md §4.1's
// partitioning policy): honor an explicit subarrayShape exactly if
// given, else choose per-axis tile counts so that elemSize *
// product(tileShape) <= maxSubarraySize, spending remaining freedom on
// keeping tiles as near-cubical as possible while preferring to split
// along the time axis first. Shape lengths not evenly divisible by the
// chosen tile length produce a legal shorter terminal tile
// (spec.md §9 Open Question (a)).
func Plan(shape []int64, axes []Axis, subarrayShape []int64, maxSubarraySize int64, elemSize int) ([]int64, [][]int64, error) {
	n := len(shape)
	if subarrayShape != nil {
		if len(subarrayShape) != n {
			return nil, nil, cerrors.NewErrorf(cerrors.PartitioningFailure, "subarray_shape rank %d != variable rank %d", len(subarrayShape), n)
		}
		for d, ts := range subarrayShape {
			if ts <= 0 || ts > shape[d] {
				return nil, nil, cerrors.NewErrorf(cerrors.PartitioningFailure, "subarray_shape[%d]=%d does not evenly bound dimension of length %d", d, ts, shape[d])
			}
		}
		return edgesFromTileShape(shape, subarrayShape)
	}

	if maxSubarraySize <= 0 {
		return nil, nil, cerrors.NewErrorf(cerrors.PartitioningFailure, "either subarray_shape or a positive max_subarray_size is required")
	}

	tileShape := append([]int64{}, shape...)
	maxElems := maxSubarraySize / int64(elemSize)
	if maxElems <= 0 {
		return nil, nil, cerrors.NewErrorf(cerrors.PartitioningFailure, "max_subarray_size %d too small for element size %d", maxSubarraySize, elemSize)
	}

	// Order axes to split: time first, then remaining axes from
	// longest to shortest, keeping the result near-cubical.
	order := splitOrder(axes, shape)

	for elemCount(tileShape) > maxElems {
		progressed := false
		for _, d := range order {
			if tileShape[d] <= 1 {
				continue
			}
			tileShape[d] = halve(tileShape[d])
			progressed = true
			if elemCount(tileShape) <= maxElems {
				break
			}
		}
		if !progressed {
			break
		}
	}
	return edgesFromTileShape(shape, tileShape)
}

func elemCount(shape []int64) int64 {
	n := int64(1)
	for _, s := range shape {
		n *= s
	}
	return n
}

func halve(n int64) int64 {
	h := n / 2
	if h < 1 {
		h = 1
	}
	return h
}

// splitOrder returns dimension indices in the order the policy should
// shrink them: the time axis first (if any), then the remaining axes
// longest-first, so the shrink keeps tiles near-cubical while favoring
// the time axis per spec.md §4.1.
func splitOrder(axes []Axis, shape []int64) []int64 {
	var timeAxes, others []int64
	for d := range shape {
		axis := AxisUnknown
		if d < len(axes) {
			axis = axes[d]
		}
		if axis == AxisT {
			timeAxes = append(timeAxes, int64(d))
		} else {
			others = append(others, int64(d))
		}
	}
	// Sort `others` longest-first (simple insertion sort; dimensionality
	// is always small).
	for i := 1; i < len(others); i++ {
		for j := i; j > 0 && shape[others[j]] > shape[others[j-1]]; j-- {
			others[j], others[j-1] = others[j-1], others[j]
		}
	}
	return append(timeAxes, others...)
}

// edgesFromTileShape produces, for each dimension, the cumulative tile
// edges given a uniform tile length (with a shorter terminal tile when
// the dimension length isn't a multiple of it).
func edgesFromTileShape(shape, tileShape []int64) ([]int64, [][]int64, error) {
	n := len(shape)
	counts := make([]int64, n)
	edges := make([][]int64, n)
	for d := 0; d < n; d++ {
		tile := tileShape[d]
		if tile <= 0 {
			return nil, nil, cerrors.NewErrorf(cerrors.PartitioningFailure, "tile length for dimension %d must be positive", d)
		}
		count := (shape[d] + tile - 1) / tile
		counts[d] = count
		e := make([]int64, count+1)
		for i := int64(0); i <= count; i++ {
			edge := i * tile
			if edge > shape[d] {
				edge = shape[d]
			}
			e[i] = edge
		}
		edges[d] = e
	}
	return counts, edges, nil
}
