package dataset

import (
	"github.com/cfaio/cfa/partition"
	"github.com/cfaio/cfa/storage"
)

// Dimension is a named axis of a Group (spec.md §3): a declared length
// (or unlimited marker), an axis classification used by the tiling
// policy, and an attribute map. A dimension variable exists iff a
// Variable of the same name has been created in the same group, whose
// sole dimension is itself.
type Dimension struct {
	Name       string
	Length     int64
	Unlimited  bool
	Axis       partition.Axis
	Attributes map[string]storage.AttrValue

	hasVariable bool
}

func newDimension(name string, length int64, unlimited bool, axis partition.Axis) *Dimension {
	return &Dimension{
		Name:       name,
		Length:     length,
		Unlimited:  unlimited,
		Axis:       axis,
		Attributes: map[string]storage.AttrValue{},
	}
}

// HasVariable reports whether a coordinate (dimension) variable exists
// for this dimension.
func (d *Dimension) HasVariable() bool { return d.hasVariable }
