package dataset

import (
	"fmt"
	"strings"

	"github.com/cfaio/cfa/filemanager"
	"github.com/cfaio/cfa/partition"
	"github.com/cfaio/cfa/storage"
	cerrors "github.com/cfaio/cfa/util/errors"
)

// Variable is a named, typed array over a list of dimensions
// (spec.md §3). Partitioned is non-nil iff the variable is
// partitioned; otherwise the variable is classical and stored inline
// in the dataset's master structured file.
type Variable struct {
	Name       string
	ElemType   storage.ElementType
	DimNames   []string
	Attributes map[string]storage.AttrValue
	Partitioned *PartitionedVariable

	group *Group
}

// SetAttribute, GetAttribute, DeleteAttribute, ListAttributes operate
// on the in-memory overlay and never touch the backing file until
// dataset close (spec.md §4.2).
func (v *Variable) SetAttribute(key string, value storage.AttrValue) {
	v.Attributes[key] = value
}

// GetAttribute returns the in-memory overlay value if present, else
// falls back to the backing file's stored attribute (spec.md §7's
// propagation policy: "attribute-lookup failures fall back from the
// in-memory overlay to the backing file before raising").
func (v *Variable) GetAttribute(key string) (storage.AttrValue, bool, error) {
	if val, ok := v.Attributes[key]; ok {
		return val, true, nil
	}
	if v.group.dataset.master == nil {
		return storage.AttrValue{}, false, nil
	}
	return v.group.dataset.master.GetAttribute(v.group.path, v.Name, key)
}

func (v *Variable) DeleteAttribute(key string) error {
	if _, ok := v.Attributes[key]; ok {
		delete(v.Attributes, key)
		return nil
	}
	return cerrors.NewErrorf(cerrors.APIMisuse, "attribute %q not present on variable %q", key, v.Name)
}

func (v *Variable) ListAttributes() map[string]storage.AttrValue {
	out := make(map[string]storage.AttrValue, len(v.Attributes))
	for k, val := range v.Attributes {
		out[k] = val
	}
	return out
}

// Rename updates only in-memory state; the actual file rename is
// serialized on close for a partitioned variable, or delegated to the
// structured file provider for a classical one (spec.md §4.2).
func (v *Variable) Rename(newName string) error {
	g := v.group
	if _, exists := g.Variables[newName]; exists {
		return cerrors.NewErrorf(cerrors.APIMisuse, "variable %q already exists", newName)
	}
	delete(g.Variables, v.Name)
	v.Name = newName
	g.Variables[newName] = v
	return nil
}

// PartitionedVariable owns the PartitionMatrix tiling a variable's
// logical shape across many subarray files (spec.md §3/§4.2).
type PartitionedVariable struct {
	Shape     []int64
	Axes      []partition.Axis
	Format    storage.Format
	FillValue []byte

	matrix *partition.Matrix
	owner  *Variable
	ds     *Dataset
}

func newPartitionedVariable(ds *Dataset, v *Variable, shape []int64, opts VariableOptions) (*PartitionedVariable, error) {
	elemSize := v.ElemType.Size()
	axes := opts.Axes
	if len(axes) != len(shape) {
		axes = make([]partition.Axis, len(shape))
	}
	counts, edges, err := partition.Plan(shape, axes, opts.SubarrayShape, opts.MaxSubarraySize, elemSize)
	if err != nil {
		return nil, err
	}
	matrix, err := partition.NewMatrix(counts, edges)
	if err != nil {
		return nil, err
	}
	return &PartitionedVariable{
		Shape:     shape,
		Axes:      axes,
		Format:    ds.format,
		FillValue: opts.FillValue,
		matrix:    matrix,
		owner:     v,
		ds:        ds,
	}, nil
}

// Matrix exposes the backing PartitionMatrix (read-only use: tests and
// the ConventionSerializer at dataset close).
func (pv *PartitionedVariable) Matrix() *partition.Matrix { return pv.matrix }

// subarrayURI names a tile's subarray file
// "{variable_name}.{index_joined_by_dot}.{format_extension}" and places
// it directly in the master's directory/prefix. The master's base name
// is not part of the path.
func (pv *PartitionedVariable) subarrayURI(index []int64) string {
	joined := make([]string, len(index))
	for i, x := range index {
		joined[i] = fmt.Sprintf("%d", x)
	}
	name := fmt.Sprintf("%s.%s.%s", pv.owner.Name, strings.Join(joined, "."), formatExtension(pv.Format))
	return pv.ds.subarrayURI(name)
}

// Write partitions data according to PartitionIndex and writes the
// corresponding slab into each affected subarray, obtaining the target
// file from the dataset's FileManager and lazily creating its internal
// structure on first touch (spec.md §4.2).
func (pv *PartitionedVariable) Write(slice []partition.Range, data []byte) error {
	normalized := make([]partition.Range, len(slice))
	for d, r := range slice {
		nr, err := partition.Normalize(r, pv.Shape[d], true)
		if err != nil {
			return err
		}
		normalized[d] = nr
	}
	entries, err := partition.Resolve(pv.matrix, normalized)
	if err != nil {
		return err
	}

	elemSize := pv.owner.ElemType.Size()
	targetShape := partition.TargetShape(normalized)

	for _, entry := range entries {
		p := entry.Partition
		if p.File == "" {
			p.File = pv.subarrayURI(p.Index)
			p.Format = pv.Format
			p.InMasterVariable = pv.owner.Name
		}
		rec, err := pv.ds.fileManager.RequestFile(p.File, projectedSize(p.Shape, elemSize), filemanager.ModeWrite)
		if err != nil {
			return err
		}
		firstTouch := rec.State == filemanager.NewInMemory || rec.State == filemanager.NewOnDisk
		provider, err := pv.ds.subarrayProvider(rec, pv.Format, firstTouch)
		if err != nil {
			return err
		}
		if firstTouch {
			if err := ensureSubarrayStructure(provider, pv.owner, p.Shape); err != nil {
				return err
			}
		}
		start := make([]int64, len(p.Shape))
		count := make([]int64, len(p.Shape))
		for d := range p.Shape {
			start[d] = entry.Source[d].Start
			count[d] = entry.Source[d].Len()
		}
		slab := extractSlab(data, targetShape, entry.Target, elemSize)
		if err := provider.WriteSlab("", pv.owner.Name, start, count, slab); err != nil {
			return err
		}
		pv.ds.fileManager.MarkDirty(rec)
	}
	return nil
}

// Read obtains a fresh target buffer sized to the request's output
// shape, iterates entries, and copies each subarray's slab into the
// target; partitions absent on the backing store fill with FillValue
// (spec.md §4.2, §8's fill-value law).
func (pv *PartitionedVariable) Read(slice []partition.Range) ([]byte, []int64, error) {
	normalized := make([]partition.Range, len(slice))
	for d, r := range slice {
		nr, err := partition.Normalize(r, pv.Shape[d], false)
		if err != nil {
			return nil, nil, err
		}
		normalized[d] = nr
	}
	entries, err := partition.Resolve(pv.matrix, normalized)
	if err != nil {
		return nil, nil, err
	}

	elemSize := pv.owner.ElemType.Size()
	targetShape := partition.TargetShape(normalized)
	target := pv.ds.fileManager.RequestArray(targetShape, pv.owner.ElemType, pv.FillValue)

	for _, entry := range entries {
		p := entry.Partition
		if p.File == "" {
			fillSlab(target, targetShape, entry.Target, elemSize, pv.FillValue)
			continue
		}
		rec, err := pv.ds.fileManager.RequestFile(p.File, projectedSize(p.Shape, elemSize), filemanager.ModeRead)
		if err != nil {
			return nil, nil, err
		}
		if rec.State == filemanager.DoesNotExist {
			fillSlab(target, targetShape, entry.Target, elemSize, pv.FillValue)
			continue
		}
		provider, err := pv.ds.subarrayProvider(rec, pv.Format, false)
		if err != nil {
			return nil, nil, err
		}
		start := make([]int64, len(p.Shape))
		count := make([]int64, len(p.Shape))
		for d := range p.Shape {
			start[d] = entry.Source[d].Start
			count[d] = entry.Source[d].Len()
		}
		slab, err := provider.ReadSlab("", pv.owner.Name, start, count)
		if err != nil {
			return nil, nil, err
		}
		insertSlab(target, targetShape, entry.Target, elemSize, slab)
	}
	return target, targetShape, nil
}

func formatExtension(format storage.Format) string {
	switch format {
	case storage.FormatHDFBasedV4, storage.FormatHDFBasedV5:
		return "h5"
	default:
		return "nc"
	}
}

func projectedSize(shape []int64, elemSize int) int64 {
	n := int64(1)
	for _, s := range shape {
		n *= s
	}
	return n * int64(elemSize)
}

// ensureSubarrayStructure creates a freshly-opened subarray's
// dimensions and field variable, called only on first touch of the
// tile (spec.md §4.2).
func ensureSubarrayStructure(provider storage.StructuredFileProvider, v *Variable, shape []int64) error {
	dimNames := make([]string, len(shape))
	for d, length := range shape {
		dimNames[d] = fmt.Sprintf("dim%d", d)
		if err := provider.CreateDimension("", dimNames[d], length, false); err != nil {
			return err
		}
	}
	return provider.CreateVariable("", v.Name, v.ElemType, dimNames)
}
