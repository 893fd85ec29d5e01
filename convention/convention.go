// Package convention implements the aggregation-convention
// ConventionSerializer: detecting and decoding/encoding partition
// metadata in the master file, and the magic-number sniff that
// classifies a byte stream's array-file format before anything else
// touches it (spec.md §4.5, §6). Grounded on the JSON-marshal-based
// metadata persistence idiom in metanode/partition_store.go.
package convention

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cfaio/cfa/storage"
	cerrors "github.com/cfaio/cfa/util/errors"
)

// Version is a supported aggregation-convention version string.
type Version string

const (
	V04 Version = "0.4"
	V05 Version = "0.5"
)

// Sniff classifies a byte stream's array-file format from its leading
// bytes, per spec.md §6's magic-number table.
func Sniff(header []byte) (storage.Format, error) {
	switch {
	case len(header) >= 4 && header[0] == 0x89 && string(header[1:4]) == "HDF":
		return storage.FormatHDFBasedV5, nil
	case len(header) >= 4 && header[0] == 0x0e && header[1] == 0x03 && header[2] == 0x13 && header[3] == 0x01:
		return storage.FormatHDFBasedV4, nil
	case len(header) >= 4 && string(header[0:3]) == "CDF" && header[3] == 0x01:
		return storage.FormatClassic, nil
	case len(header) >= 4 && string(header[0:3]) == "CDF" && header[3] == 0x02:
		return storage.Format64BitOffset, nil
	case len(header) >= 4 && string(header[0:3]) == "CDF" && header[3] == 0x05:
		return storage.Format64BitData, nil
	default:
		return "", cerrors.NewErrorf(cerrors.NotARecognizedFile, "unrecognized magic number % x", header)
	}
}

// ValidateCombination rejects a format/convention pairing that spec.md
// §6 disallows: v0.5 is incompatible with any classical (pre-hierarchical)
// format variant.
func ValidateCombination(format storage.Format, version Version) error {
	if version == V05 {
		switch format {
		case storage.FormatClassic, storage.Format64BitOffset, storage.Format64BitData:
			return cerrors.NewErrorf(cerrors.FormatMismatch, "convention 0.5 is not compatible with classical format %q", format)
		}
	}
	return nil
}

// PartitionRecord is one Partition descriptor as persisted in the
// master file (spec.md §4.5's v0.4 `cfa_partitioning` record and
// v0.5's structured equivalent share this shape).
type PartitionRecord struct {
	Index      []int64    `json:"index"`
	Location   [][2]int64 `json:"location"`
	Shape      []int64    `json:"shape"`
	File       string     `json:"file"`
	Format     string     `json:"format"`
	InVariable string     `json:"in_variable"`
}

// VariableRecord is the full serialized partition table of one
// partitioned variable.
type VariableRecord struct {
	Dimensions []string            `json:"cfa_dimensions"`
	Shape      []int64             `json:"cfa_array_shape"`
	Partitions []PartitionRecord   `json:"cfa_partitioning"`
	// ElemType is the field variable's element type. Real CF
	// conventions get this for free from the scalar variable's own
	// declared netCDF type; since storage.StructuredFileProvider's
	// narrow contract exposes no variable-type getter, it is carried as
	// its own attribute instead so a read-mode open can recover it.
	ElemType storage.ElementType `json:"cfa_elem_type"`
}

// EncodeV04 renders a VariableRecord as the stringified-JSON attribute
// value spec.md §4.5 describes for convention 0.4: the variable itself
// stays a scalar field, and `cfa_array`/`cfa_dimensions`/
// `cfa_array_shape`/`cfa_partitioning` carry the partition table as
// plain attributes on it.
func EncodeV04(rec VariableRecord) (map[string]storage.AttrValue, error) {
	partitioning, err := json.Marshal(rec.Partitions)
	if err != nil {
		return nil, cerrors.NewErrorf(cerrors.InternalInvariant, "encode cfa_partitioning").WithCause(err)
	}
	return map[string]storage.AttrValue{
		"cfa_array":        {Kind: storage.Int32, Value: int32(1)},
		"cfa_dimensions":   {Kind: storage.String, Value: strings.Join(rec.Dimensions, " ")},
		"cfa_array_shape":  {Kind: storage.Int64, Value: rec.Shape},
		"cfa_partitioning": {Kind: storage.String, Value: string(partitioning)},
		"cfa_elem_type":    {Kind: storage.Int32, Value: int32(rec.ElemType)},
	}, nil
}

// DecodeV04 parses a v0.4 attribute set back into a VariableRecord. It
// returns ok==false if the attributes do not carry `cfa_array == 1`
// (i.e. this is not a partitioned variable under this convention).
func DecodeV04(attrs map[string]storage.AttrValue) (VariableRecord, bool, error) {
	marker, ok := attrs["cfa_array"]
	if !ok {
		return VariableRecord{}, false, nil
	}
	if n, ok := coerceInt(marker.Value); !ok || n != 1 {
		return VariableRecord{}, false, nil
	}

	var rec VariableRecord
	if dims, ok := attrs["cfa_dimensions"]; ok {
		if s, ok := coerceString(dims.Value); ok {
			rec.Dimensions = strings.Fields(s)
		}
	}
	if shape, ok := attrs["cfa_array_shape"]; ok {
		rec.Shape = coerceInt64Slice(shape.Value)
	}
	if et, ok := attrs["cfa_elem_type"]; ok {
		if n, ok := coerceInt(et.Value); ok {
			rec.ElemType = storage.ElementType(n)
		}
	}
	partitioning, ok := attrs["cfa_partitioning"]
	if !ok {
		return rec, true, nil
	}
	s, ok := coerceString(partitioning.Value)
	if !ok {
		return VariableRecord{}, false, cerrors.NewErrorf(cerrors.FormatMismatch, "cfa_partitioning attribute is not a string")
	}
	if err := json.Unmarshal([]byte(s), &rec.Partitions); err != nil {
		return VariableRecord{}, false, cerrors.NewErrorf(cerrors.FormatMismatch, "decode cfa_partitioning").WithCause(err)
	}
	return rec, true, nil
}

// coerceInt accepts either a native Go integer type or a JSON-decoded
// float64.
func coerceInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// coerceString accepts either a native Go string or (after a
// StructuredFileProvider's own JSON round trip, as storage/classic
// does) an interface{} that unmarshaled to string.
func coerceString(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// coerceInt64Slice accepts either a native []int64 or a generic
// []interface{} of JSON numbers (float64), as produced by decoding an
// attribute value through encoding/json without a concrete target type.
func coerceInt64Slice(v interface{}) []int64 {
	switch t := v.(type) {
	case []int64:
		return t
	case []interface{}:
		out := make([]int64, len(t))
		for i, e := range t {
			switch n := e.(type) {
			case float64:
				out[i] = int64(n)
			case int64:
				out[i] = n
			}
		}
		return out
	default:
		return nil
	}
}

// V05GroupName is the name of the structured sub-group v0.5 stores a
// partitioned variable's metadata under, per spec.md §4.5.
func V05GroupName(variableName string) string {
	return fmt.Sprintf("cfa_%s", variableName)
}

// EncodeV05 writes rec's partition table as attributes of the sub-group
// V05GroupName(variableName) returns, rather than on the field
// variable. The partition list itself is still one JSON-encoded string
// attribute (cfa_partitioning), as in v0.4; no auxiliary variables are
// written. The field variable itself stays scalar, as in v0.4.
func EncodeV05(w StructuredGroupWriter, variableName string, rec VariableRecord) error {
	group := V05GroupName(variableName)
	if err := w.CreateGroup(group); err != nil {
		return err
	}
	if err := w.SetAttribute(group, "", "cfa_dimensions", storage.AttrValue{Kind: storage.String, Value: strings.Join(rec.Dimensions, " ")}); err != nil {
		return err
	}
	if err := w.SetAttribute(group, "", "cfa_array_shape", storage.AttrValue{Kind: storage.Int64, Value: rec.Shape}); err != nil {
		return err
	}
	if err := w.SetAttribute(group, "", "cfa_elem_type", storage.AttrValue{Kind: storage.Int32, Value: int32(rec.ElemType)}); err != nil {
		return err
	}
	partitioning, err := json.Marshal(rec.Partitions)
	if err != nil {
		return cerrors.NewErrorf(cerrors.InternalInvariant, "encode v0.5 partition table").WithCause(err)
	}
	return w.SetAttribute(group, "", "cfa_partitioning", storage.AttrValue{Kind: storage.String, Value: string(partitioning)})
}

// DecodeV05 is the read-side counterpart of EncodeV05.
func DecodeV05(r StructuredGroupReader, variableName string) (VariableRecord, bool, error) {
	group := V05GroupName(variableName)
	exists, err := r.OpenGroup(group)
	if err != nil {
		return VariableRecord{}, false, err
	}
	if !exists {
		return VariableRecord{}, false, nil
	}
	var rec VariableRecord
	if dims, ok, err := r.GetAttribute(group, "", "cfa_dimensions"); err != nil {
		return VariableRecord{}, false, err
	} else if ok {
		if s, ok := coerceString(dims.Value); ok {
			rec.Dimensions = strings.Fields(s)
		}
	}
	if shape, ok, err := r.GetAttribute(group, "", "cfa_array_shape"); err != nil {
		return VariableRecord{}, false, err
	} else if ok {
		rec.Shape = coerceInt64Slice(shape.Value)
	}
	if et, ok, err := r.GetAttribute(group, "", "cfa_elem_type"); err != nil {
		return VariableRecord{}, false, err
	} else if ok {
		if n, ok := coerceInt(et.Value); ok {
			rec.ElemType = storage.ElementType(n)
		}
	}
	partitioning, ok, err := r.GetAttribute(group, "", "cfa_partitioning")
	if err != nil {
		return VariableRecord{}, false, err
	}
	if !ok {
		return rec, true, nil
	}
	s, ok := coerceString(partitioning.Value)
	if !ok {
		return VariableRecord{}, false, cerrors.NewErrorf(cerrors.FormatMismatch, "cfa_partitioning attribute is not a string")
	}
	if err := json.Unmarshal([]byte(s), &rec.Partitions); err != nil {
		return VariableRecord{}, false, cerrors.NewErrorf(cerrors.FormatMismatch, "decode v0.5 partition table").WithCause(err)
	}
	return rec, true, nil
}

// StructuredGroupWriter and StructuredGroupReader are the narrow
// slices of storage.StructuredFileProvider the v0.5 encoder/decoder
// needs; storage.StructuredFileProvider satisfies both.
type StructuredGroupWriter interface {
	CreateGroup(path string) error
	SetAttribute(groupPath, target, key string, value storage.AttrValue) error
}

type StructuredGroupReader interface {
	OpenGroup(path string) (bool, error)
	GetAttribute(groupPath, target, key string) (storage.AttrValue, bool, error)
}

// DetectVersion inspects a master's root attributes to determine which
// convention it was written with (spec.md §4.5's "detect the
// convention from the master's root attributes" read-path rule).
func DetectVersion(rootAttrs map[string]storage.AttrValue) (Version, bool) {
	v, ok := rootAttrs["Conventions"]
	if !ok {
		return "", false
	}
	s, ok := v.Value.(string)
	if !ok {
		return "", false
	}
	switch {
	case strings.Contains(s, "CFA-0.5"):
		return V05, true
	case strings.Contains(s, "CFA-0.4"):
		return V04, true
	default:
		return "", false
	}
}

// ConventionsAttr builds the root `Conventions` attribute value for a
// freshly created master at the given convention version.
func ConventionsAttr(version Version) storage.AttrValue {
	return storage.AttrValue{Kind: storage.String, Value: fmt.Sprintf("CFA-%s", version)}
}

// EncodeConventionsOnly builds the root attribute set a freshly created
// master needs before any group/variable has been written: just the
// `Conventions` marker DetectVersion reads back on a later open.
func EncodeConventionsOnly(version Version) (map[string]storage.AttrValue, error) {
	return map[string]storage.AttrValue{
		"Conventions": ConventionsAttr(version),
	}, nil
}
