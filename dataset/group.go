package dataset

import (
	"github.com/cfaio/cfa/partition"
	"github.com/cfaio/cfa/storage"
	cerrors "github.com/cfaio/cfa/util/errors"
)

// Group holds child dimensions, variables, and nested groups
// (spec.md §3). A synthetic group named "root" always exists on an
// AggregationDataset.
type Group struct {
	Name       string
	Attributes map[string]storage.AttrValue
	Dimensions map[string]*Dimension
	Variables  map[string]*Variable
	Groups     map[string]*Group

	parent  *Group
	dataset *Dataset
	path    string // "/"-joined path from root, "" for root itself
}

func newGroup(name, path string, parent *Group, ds *Dataset) *Group {
	return &Group{
		Name:       name,
		Attributes: map[string]storage.AttrValue{},
		Dimensions: map[string]*Dimension{},
		Variables:  map[string]*Variable{},
		Groups:     map[string]*Group{},
		parent:     parent,
		dataset:    ds,
		path:       path,
	}
}

// CreateGroup creates and returns a child group. It is an error if a
// group of that name already exists (spec.md §7's APIMisuse: "name collision").
func (g *Group) CreateGroup(name string) (*Group, error) {
	if _, exists := g.Groups[name]; exists {
		return nil, cerrors.NewErrorf(cerrors.APIMisuse, "group %q already exists", name)
	}
	childPath := name
	if g.path != "" {
		childPath = g.path + "/" + name
	}
	child := newGroup(name, childPath, g, g.dataset)
	g.Groups[name] = child
	if g.dataset.mode == ModeWrite {
		if err := g.dataset.master.CreateGroup(childPath); err != nil {
			return nil, err
		}
	}
	return child, nil
}

// CreateDimension declares a new dimension in g.
func (g *Group) CreateDimension(name string, length int64, unlimited bool, axis partition.Axis) (*Dimension, error) {
	if _, exists := g.Dimensions[name]; exists {
		return nil, cerrors.NewErrorf(cerrors.APIMisuse, "dimension %q already exists", name)
	}
	if g.dataset.mode == ModeWrite {
		if err := g.dataset.master.CreateDimension(g.path, name, length, unlimited); err != nil {
			return nil, err
		}
	}
	d := newDimension(name, length, unlimited, axis)
	g.Dimensions[name] = d
	return d, nil
}

// VariableOptions describes how CreateVariable should classify and
// shape a new partitioned variable; a zero value with SubarrayShape
// nil and MaxSubarraySize 0 produces a classical variable.
type VariableOptions struct {
	SubarrayShape   []int64
	MaxSubarraySize int64
	FillValue       []byte
	Axes            []partition.Axis
}

// CreateVariable declares a variable over the named dimensions
// (already created in g), classifying it as partitioned iff the
// caller supplied SubarrayShape or a positive MaxSubarraySize
// (spec.md §4.4), else classical.
func (g *Group) CreateVariable(name string, elemType storage.ElementType, dimNames []string, opts VariableOptions) (*Variable, error) {
	if _, exists := g.Variables[name]; exists {
		return nil, cerrors.NewErrorf(cerrors.APIMisuse, "variable %q already exists", name)
	}
	shape := make([]int64, len(dimNames))
	for i, dn := range dimNames {
		d, ok := g.Dimensions[dn]
		if !ok {
			return nil, cerrors.NewErrorf(cerrors.APIMisuse, "dimension %q not declared in group %q", dn, g.Name)
		}
		shape[i] = d.Length
	}

	v := &Variable{
		Name:       name,
		ElemType:   elemType,
		DimNames:   append([]string{}, dimNames...),
		Attributes: map[string]storage.AttrValue{},
		group:      g,
	}

	partitioned := len(opts.SubarrayShape) > 0 || opts.MaxSubarraySize > 0
	if partitioned {
		for _, dn := range dimNames {
			if g.Dimensions[dn].Unlimited {
				return nil, cerrors.NewErrorf(cerrors.APIMisuse, "unlimited dimensions are not supported on partitioned variables (dimension %q)", dn)
			}
		}
		pv, err := newPartitionedVariable(g.dataset, v, shape, opts)
		if err != nil {
			return nil, err
		}
		v.Partitioned = pv
		// The aggregation variable itself stays a scalar field in the
		// master (spec.md §4.5): a home for the cfa_* partition-table
		// attributes, and what makes the variable enumerable via
		// ListVariables on a later read-mode open.
		if g.dataset.mode == ModeWrite {
			if err := g.dataset.master.CreateVariable(g.path, name, elemType, nil); err != nil {
				return nil, err
			}
		}
	} else {
		if g.dataset.mode == ModeWrite {
			if err := g.dataset.master.CreateVariable(g.path, name, elemType, dimNames); err != nil {
				return nil, err
			}
		}
	}

	g.Variables[name] = v
	if dim, ok := g.Dimensions[name]; ok && len(dimNames) == 1 && dimNames[0] == name {
		dim.hasVariable = true
	}
	return v, nil
}
