package partition

import (
	"fmt"

	"github.com/cfaio/cfa/storage"
	cerrors "github.com/cfaio/cfa/util/errors"
)

// Partition is a single tile descriptor of a partitioned variable
// (spec.md §3). Index is the tile's position in the PartitionMatrix,
// one entry per dimension; Location is the tile's inclusive-exclusive
// region of the logical variable, one Interval per dimension; Shape
// must equal Location[d].Len() for every d.
type Partition struct {
	Index    []int64
	Location []Interval
	Shape    []int64
	// File is empty until the tile is first written (spec.md §3's
	// lifecycle: "created lazily when a write first touches a tile").
	File            string
	Format          storage.Format
	InMasterVariable string
}

// Validate checks the per-Partition invariant shape[d] == location[d].Len().
func (p *Partition) Validate() error {
	if len(p.Shape) != len(p.Location) {
		return cerrors.NewErrorf(cerrors.InternalInvariant, "partition %v: shape/location rank mismatch", p.Index)
	}
	for d, loc := range p.Location {
		if loc.Len() != p.Shape[d] {
			return cerrors.NewErrorf(cerrors.InternalInvariant, "partition %v: shape[%d]=%d != location.Len()=%d", p.Index, d, p.Shape[d], loc.Len())
		}
	}
	return nil
}

// Matrix is the n-dimensional grid of Partition descriptors tiling a
// partitioned variable's logical shape (spec.md §3's PartitionMatrix).
type Matrix struct {
	// Counts[d] is the number of tiles along dimension d.
	Counts []int64
	// Tiles is addressed row-major by Index; len(Tiles) == product(Counts).
	Tiles []*Partition
}

func (m *Matrix) flatOffset(index []int64) int64 {
	var off int64
	stride := int64(1)
	for d := len(m.Counts) - 1; d >= 0; d-- {
		off += index[d] * stride
		stride *= m.Counts[d]
	}
	return off
}

// At returns the tile at the given multi-index.
func (m *Matrix) At(index []int64) *Partition {
	return m.Tiles[m.flatOffset(index)]
}

// Set stores p at the given multi-index.
func (m *Matrix) Set(index []int64, p *Partition) {
	m.Tiles[m.flatOffset(index)] = p
}

// All returns every tile in row-major order.
func (m *Matrix) All() []*Partition {
	return m.Tiles
}

// NewMatrix builds an empty matrix with the given tile counts per
// dimension, populating every cell's Index/Location/Shape from the
// supplied per-axis tile boundaries (one []int64 of length Counts[d]+1
// per dimension, the cumulative tile edges along that axis).
func NewMatrix(counts []int64, edges [][]int64) (*Matrix, error) {
	n := len(counts)
	total := int64(1)
	for _, c := range counts {
		total *= c
	}
	m := &Matrix{Counts: append([]int64{}, counts...), Tiles: make([]*Partition, total)}
	index := make([]int64, n)
	var walk func(d int) error
	walk = func(d int) error {
		if d == n {
			loc := make([]Interval, n)
			shape := make([]int64, n)
			for i := 0; i < n; i++ {
				loc[i] = Interval{Start: edges[i][index[i]], End: edges[i][index[i]+1]}
				shape[i] = loc[i].Len()
			}
			p := &Partition{Index: append([]int64{}, index...), Location: loc, Shape: shape}
			m.Set(index, p)
			return nil
		}
		for i := int64(0); i < counts[d]; i++ {
			index[d] = i
			if err := walk(d + 1); err != nil {
				return err
			}
		}
		return nil
	}
	if n == 0 {
		m.Tiles[0] = &Partition{Index: []int64{}, Location: []Interval{}, Shape: []int64{}}
		return m, nil
	}
	if err := walk(0); err != nil {
		return nil, err
	}
	return m, nil
}

// NewMatrixFromPartitions builds a Matrix of the given per-axis tile
// counts, populating cells from an explicit list of already-known
// Partition descriptors rather than computing edges from a tiling
// policy — used when reconstructing a PartitionMatrix from serialized
// convention metadata on dataset open. Cells with no corresponding
// descriptor are left nil (an untouched tile, per spec.md §3's
// "absent tiles read as fill value").
//
// Resolve's candidate scan learns each axis index's Location from any
// non-nil tile carrying that index; a matrix
// reconstructed this way resolves slices correctly only when every
// axis index has at least one written (non-nil) tile. A variable whose
// entire row or column along some axis was never written cannot have
// that axis's tile boundaries recovered from the convention metadata
// alone, since subarray_shape/max_subarray_size are not themselves
// persisted — spec.md §4.5 only requires the per-partition record.
func NewMatrixFromPartitions(counts []int64, tiles []*Partition) *Matrix {
	total := int64(1)
	for _, c := range counts {
		total *= c
	}
	m := &Matrix{Counts: append([]int64{}, counts...), Tiles: make([]*Partition, total)}
	for _, p := range tiles {
		m.Set(p.Index, p)
	}
	return m
}

// IndexEntry maps one candidate partition against a logical slice:
// Source is the local slice into the subarray's own element grid,
// Target is the local slice into the user-facing result array
// (spec.md §4.1).
type IndexEntry struct {
	Partition *Partition
	Source    []Interval
	Target    []Interval
}

// Resolve implements the PartitionIndex algorithm of spec.md §4.1: given
// a normalized slice S (one Range per dimension, already resolved
// against shape L by the caller) and a Matrix, return the ordered list
// of IndexEntry records whose targets exactly tile S without gaps or
// overlap.
func Resolve(m *Matrix, slice []Range) ([]IndexEntry, error) {
	n := len(m.Counts)
	if len(slice) != n {
		return nil, cerrors.NewErrorf(cerrors.InternalInvariant, "slice rank %d != variable rank %d", len(slice), n)
	}

	// Step 2: per-dimension candidate tile indices whose location
	// intersects the slice's range along that axis.
	candidates := make([][]int64, n)
	for d := 0; d < n; d++ {
		lo, hi := sliceBounds(slice[d])
		var axis []int64
		for i := int64(0); i < m.Counts[d]; i++ {
			// probe any tile at index i along axis d (row-major layout
			// means tiles sharing the same index[d] share Location[d]).
			probe := m.probeAxis(d, i)
			if probe == nil {
				continue
			}
			if _, ok := probe.Intersect(lo, hi); ok {
				axis = append(axis, i)
			}
		}
		candidates[d] = axis
	}

	var entries []IndexEntry
	index := make([]int64, n)
	var walk func(d int) error
	walk = func(d int) error {
		if d == n {
			p := m.At(index)
			if p == nil {
				return nil // untouched tile: no overlap to report
			}
			source := make([]Interval, n)
			target := make([]Interval, n)
			for i := 0; i < n; i++ {
				lo, hi := sliceBounds(slice[i])
				overlap, ok := p.Location[i].Intersect(lo, hi)
				if !ok {
					return nil // empty along this axis: reject candidate
				}
				source[i] = Interval{Start: overlap.Start - p.Location[i].Start, End: overlap.End - p.Location[i].Start}
				step := slice[i].Step
				if step == 0 {
					step = 1
				}
				tStart := (overlap.Start - slice[i].Start) / absInt64(step)
				tEnd := tStart + overlap.Len()/absInt64(step)
				target[i] = Interval{Start: tStart, End: tEnd}
			}
			entries = append(entries, IndexEntry{Partition: p, Source: source, Target: target})
			return nil
		}
		for _, ci := range candidates[d] {
			index[d] = ci
			if err := walk(d + 1); err != nil {
				return err
			}
		}
		return nil
	}
	if n == 0 {
		entries = append(entries, IndexEntry{Partition: m.At(nil), Source: nil, Target: nil})
		return entries, nil
	}
	if err := walk(0); err != nil {
		return nil, err
	}
	return entries, nil
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func sliceBounds(r Range) (int64, int64) {
	if r.Step >= 0 {
		return r.Start, r.Stop
	}
	return r.Stop + 1, r.Start + 1
}

// probeAxis returns the Location[d] of any non-nil tile whose
// Index[d] == i, scanning tiles in row-major order (the grid is uniform
// along each axis by construction, spec.md §3's tiling invariant), or
// nil if no such tile exists.
func (m *Matrix) probeAxis(d int, i int64) *Interval {
	for _, p := range m.Tiles {
		if p != nil && p.Index[d] == i {
			return &p.Location[d]
		}
	}
	return nil
}

// TargetShape returns the bounding-box shape of the result array a
// slice operation produces.
func TargetShape(slice []Range) []int64 {
	shape := make([]int64, len(slice))
	for i, r := range slice {
		shape[i] = r.Len()
	}
	return shape
}

func (p Partition) String() string {
	return fmt.Sprintf("Partition%v@%s", p.Index, p.File)
}
