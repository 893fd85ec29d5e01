// Package storage defines the two narrow interfaces the partitioning
// core depends on but never implements the internals of: a byte-stream
// transport and a structured array-file reader/writer. Concrete
// implementations live in storage/localfs (local disk),
// storage/blobstore (remote object store), and storage/classic (a
// minimal in-process array-file codec used by tests and as the
// default format).
package storage

import "io"

// Format tags the on-disk layout of a structured array file.
type Format string

const (
	FormatClassic        Format = "classic"
	Format64BitOffset     Format = "64bit-offset"
	Format64BitData       Format = "64bit-data"
	FormatHDFBasedV4      Format = "hdf-based-v4"
	FormatHDFBasedV5      Format = "hdf-based-v5"
)

// ByteStreamProvider is the uniform read/write/seek/close surface over
// local or remote storage the core requires (spec.md §4.6).
type ByteStreamProvider interface {
	io.Closer
	// Read returns length bytes starting at offset.
	Read(offset int64, length int) ([]byte, error)
	// ReadAll returns the full contents of the stream.
	ReadAll() ([]byte, error)
	// Write appends bytes at the stream's current write position.
	Write(p []byte) (int, error)
	// Seek repositions the stream per io.Seeker semantics (whence is
	// io.SeekStart/Current/End).
	Seek(offset int64, whence int) (int64, error)
	// Remote reports whether this stream talks to a remote object
	// store (as opposed to the local filesystem).
	Remote() bool
	// URI is the location this stream was opened against.
	URI() string
	// Size returns the current length of the stream's backing object,
	// or (0, ErrNotExist)-equivalent behavior is left to callers: a
	// provider may return an error if the object has never been written.
	Size() (int64, error)
}

// CloseWithPayload is implemented by providers whose Close can take a
// final in-memory payload to upload, matching the in-memory
// NEW_IN_MEMORY/EXISTS_IN_MEMORY FileManager states (spec.md §4.3):
// the payload accumulated in RAM is flushed to the backing store only
// at Close time.
type CloseWithPayload interface {
	CloseWithPayload(payload []byte) error
}

// AttrValue is the dynamic value type stored in an attribute map: a
// scalar or a homogeneous array of one of the structured-file format's
// element types.
type AttrValue struct {
	Kind  ElementType
	Value interface{} // scalar of the matching Go type, or a slice thereof
}

// ElementType enumerates the array element types the structured-file
// provider understands.
type ElementType int

const (
	Int8 ElementType = iota
	UInt8
	Int16
	UInt16
	Int32
	UInt32
	Int64
	UInt64
	Float32
	Float64
	String
)

func (t ElementType) String() string {
	switch t {
	case Int8:
		return "int8"
	case UInt8:
		return "uint8"
	case Int16:
		return "int16"
	case UInt16:
		return "uint16"
	case Int32:
		return "int32"
	case UInt32:
		return "uint32"
	case Int64:
		return "int64"
	case UInt64:
		return "uint64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case String:
		return "string"
	default:
		return "unknown"
	}
}

func (t ElementType) Size() int {
	switch t {
	case Int8, UInt8:
		return 1
	case Int16, UInt16:
		return 2
	case Int32, UInt32, Float32:
		return 4
	case Int64, UInt64, Float64:
		return 8
	default:
		return 0
	}
}

// StructuredFileProvider opens a byte stream as a structured array
// file: it can create/open groups, dimensions, and variables, read and
// write contiguous slabs by slice, and get/set/delete attributes
// (spec.md §4.6). The core never inspects the underlying byte layout.
type StructuredFileProvider interface {
	io.Closer

	Format() Format

	// CreateGroup/OpenGroup operate relative to the file's root; nested
	// groups are addressed by "/"-joined path.
	CreateGroup(path string) error
	OpenGroup(path string) (bool, error)

	CreateDimension(groupPath, name string, length int64, unlimited bool) error
	DimensionLength(groupPath, name string) (int64, bool, error)

	// CreateVariable declares a variable with the given element type and
	// ordered dimension names (resolved within groupPath).
	CreateVariable(groupPath, name string, elemType ElementType, dimNames []string) error
	VariableExists(groupPath, name string) (bool, error)

	// WriteSlab writes data into the rectangular region described by
	// start/count (one entry per dimension) of the named variable.
	WriteSlab(groupPath, varName string, start, count []int64, data []byte) error
	// ReadSlab reads the rectangular region described by start/count.
	ReadSlab(groupPath, varName string, start, count []int64) ([]byte, error)

	SetAttribute(groupPath, target string, key string, value AttrValue) error
	GetAttribute(groupPath, target string, key string) (AttrValue, bool, error)
	DeleteAttribute(groupPath, target string, key string) error
	ListAttributes(groupPath, target string) (map[string]AttrValue, error)
}

// Opener constructs a StructuredFileProvider bound to an already-open
// ByteStreamProvider, for a given format and creation flag.
type Opener func(stream ByteStreamProvider, format Format, create bool) (StructuredFileProvider, error)
