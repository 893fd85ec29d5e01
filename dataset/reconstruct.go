package dataset

import (
	"github.com/cfaio/cfa/convention"
	"github.com/cfaio/cfa/partition"
	"github.com/cfaio/cfa/storage"
)

// matrixFromRecord rebuilds a PartitionMatrix from a decoded convention
// record on dataset open. Per-axis tile counts are inferred as
// max(index[d])+1 across the persisted partitions, so a variable with
// an entirely unwritten row or column along some axis reconstructs with
// that axis under-counted — see NewMatrixFromPartitions's doc comment.
func matrixFromRecord(rec convention.VariableRecord) (*partition.Matrix, error) {
	n := len(rec.Shape)
	counts := make([]int64, n)
	tiles := make([]*partition.Partition, 0, len(rec.Partitions))
	for _, pr := range rec.Partitions {
		loc := make([]partition.Interval, len(pr.Location))
		for d, span := range pr.Location {
			loc[d] = partition.Interval{Start: span[0], End: span[1]}
			if pr.Index[d]+1 > counts[d] {
				counts[d] = pr.Index[d] + 1
			}
		}
		tiles = append(tiles, &partition.Partition{
			Index:            append([]int64{}, pr.Index...),
			Location:         loc,
			Shape:            append([]int64{}, pr.Shape...),
			File:             pr.File,
			Format:           storage.Format(pr.Format),
			InMasterVariable: pr.InVariable,
		})
	}
	for d := range counts {
		if counts[d] == 0 {
			counts[d] = 1
		}
	}
	return partition.NewMatrixFromPartitions(counts, tiles), nil
}

// recordFromPartitioned is the write-side counterpart of
// matrixFromRecord: it walks every touched tile of v's PartitionMatrix
// (skipping cells never written to a backing file) into the
// convention.VariableRecord the ConventionSerializer persists at close.
func recordFromPartitioned(v *Variable) convention.VariableRecord {
	pv := v.Partitioned
	var prs []convention.PartitionRecord
	for _, p := range pv.matrix.All() {
		if p == nil || p.File == "" {
			continue
		}
		loc := make([][2]int64, len(p.Location))
		for d, iv := range p.Location {
			loc[d] = [2]int64{iv.Start, iv.End}
		}
		prs = append(prs, convention.PartitionRecord{
			Index:      append([]int64{}, p.Index...),
			Location:   loc,
			Shape:      append([]int64{}, p.Shape...),
			File:       p.File,
			Format:     string(p.Format),
			InVariable: p.InMasterVariable,
		})
	}
	return convention.VariableRecord{
		Dimensions: v.DimNames,
		Shape:      pv.Shape,
		Partitions: prs,
		ElemType:   v.ElemType,
	}
}
