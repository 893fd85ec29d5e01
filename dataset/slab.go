package dataset

import "github.com/cfaio/cfa/partition"

// extractSlab copies the rectangular region described by target out
// of full (shaped fullShape), returning a tightly packed buffer in the
// same row-major order a StructuredFileProvider.WriteSlab expects.
func extractSlab(full []byte, fullShape []int64, target []partition.Interval, elemSize int) []byte {
	count := make([]int64, len(target))
	for d, t := range target {
		count[d] = t.Len()
	}
	out := make([]byte, product(count)*int64(elemSize))
	walkRegion(fullShape, target, elemSize, func(fullOff, sidePos int64) {
		copy(out[sidePos:sidePos+int64(elemSize)], full[fullOff:fullOff+int64(elemSize)])
	})
	return out
}

// insertSlab copies a tightly packed slab into the rectangular region
// described by target within full (shaped fullShape).
func insertSlab(full []byte, fullShape []int64, target []partition.Interval, elemSize int, slab []byte) {
	walkRegion(fullShape, target, elemSize, func(fullOff, sidePos int64) {
		copy(full[fullOff:fullOff+int64(elemSize)], slab[sidePos:sidePos+int64(elemSize)])
	})
}

// fillSlab writes the fill-value pattern (or zero, if fill is empty)
// into the rectangular region described by target within full.
func fillSlab(full []byte, fullShape []int64, target []partition.Interval, elemSize int, fill []byte) {
	if len(fill) != elemSize {
		return // zero-initialized buffers already read as zero
	}
	walkRegion(fullShape, target, elemSize, func(fullOff, _ int64) {
		copy(full[fullOff:fullOff+int64(elemSize)], fill)
	})
}

func product(dims []int64) int64 {
	n := int64(1)
	for _, d := range dims {
		n *= d
	}
	return n
}

// walkRegion visits every element of the rectangular region described
// by region (one Interval per dimension) within a row-major buffer
// shaped fullShape, invoking visit(fullByteOffset, sidePackedOffset)
// in row-major order.
func walkRegion(fullShape []int64, region []partition.Interval, elemSize int, visit func(fullOff, sidePos int64)) {
	n := len(fullShape)
	if n == 0 {
		visit(0, 0)
		return
	}
	strides := make([]int64, n)
	stride := int64(1)
	for d := n - 1; d >= 0; d-- {
		strides[d] = stride
		stride *= fullShape[d]
	}
	idx := make([]int64, n)
	var sidePos int64
	var walk func(d int)
	walk = func(d int) {
		if d == n {
			var off int64
			for i := 0; i < n; i++ {
				off += (region[i].Start + idx[i]) * strides[i]
			}
			visit(off*int64(elemSize), sidePos)
			sidePos += int64(elemSize)
			return
		}
		for i := int64(0); i < region[d].Len(); i++ {
			idx[d] = i
			walk(d + 1)
		}
	}
	walk(0)
}
