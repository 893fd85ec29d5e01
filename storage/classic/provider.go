// Package classic implements a minimal, self-contained
// storage.StructuredFileProvider. No array-format parsing library
// exists anywhere in the retrieved reference corpus (the core
// explicitly treats the structured-file codec as an out-of-scope
// external collaborator, spec.md §1/§4.6), so this provider is a
// deliberately small reference codec — a JSON directory of
// groups/dimensions/variables/attributes followed by the concatenated
// raw variable buffers — good enough to make the library runnable
// end-to-end and to exercise every core operation in tests.
package classic

import (
	"bytes"
	"encoding/binary"
	"encoding/json"

	cerrors "github.com/cfaio/cfa/util/errors"
	"github.com/cfaio/cfa/storage"
)

// MagicClassic is the first bytes written to a classic-format stream,
// matching the "CDF\x01" magic number spec.md §6 checks for on open.
var MagicClassic = []byte{'C', 'D', 'F', 0x01}

// magicFor returns the leading magic-number bytes this provider writes
// for a given format, mirroring convention.Sniff's table so a file this
// package writes is recognized as the same format on the next open.
func magicFor(format storage.Format) []byte {
	switch format {
	case storage.FormatHDFBasedV5:
		return []byte{0x89, 'H', 'D', 'F'}
	case storage.FormatHDFBasedV4:
		return []byte{0x0e, 0x03, 0x13, 0x01}
	case storage.Format64BitOffset:
		return []byte{'C', 'D', 'F', 0x02}
	case storage.Format64BitData:
		return []byte{'C', 'D', 'F', 0x05}
	default:
		return MagicClassic
	}
}

type dimDef struct {
	Name      string `json:"name"`
	Length    int64  `json:"length"`
	Unlimited bool   `json:"unlimited"`
}

type varDef struct {
	Name     string              `json:"name"`
	ElemType storage.ElementType  `json:"elemType"`
	DimNames []string            `json:"dimNames"`
	Offset   int64               `json:"offset"` // byte offset into the trailing data region
	Length   int64               `json:"length"` // byte length of the variable's buffer
}

type attrEntry struct {
	Kind  storage.ElementType `json:"kind"`
	Value json.RawMessage     `json:"value"`
}

type groupDef struct {
	Dimensions map[string]*dimDef    `json:"dimensions"`
	Variables  map[string]*varDef    `json:"variables"`
	Attributes map[string]attrEntry  `json:"attributes"`
	// VarAttributes holds per-variable attribute maps, keyed by variable name.
	VarAttributes map[string]map[string]attrEntry `json:"varAttributes"`
	Groups        map[string]*groupDef            `json:"groups"`
}

func newGroupDef() *groupDef {
	return &groupDef{
		Dimensions:    map[string]*dimDef{},
		Variables:     map[string]*varDef{},
		Attributes:    map[string]attrEntry{},
		VarAttributes: map[string]map[string]attrEntry{},
		Groups:        map[string]*groupDef{},
	}
}

type directory struct {
	Root *groupDef `json:"root"`
}

// Provider is the concrete classic StructuredFileProvider.
type Provider struct {
	stream storage.ByteStreamProvider
	format storage.Format
	root   *groupDef
	data   []byte // concatenated variable buffers
	dirty  bool
}

// Open reads (or, if create, initializes) a classic structured file
// bound to the given byte stream.
func Open(stream storage.ByteStreamProvider, format storage.Format, create bool) (storage.StructuredFileProvider, error) {
	p := &Provider{stream: stream, format: format}
	if create {
		p.root = newGroupDef()
		p.data = nil
		p.dirty = true
		return p, nil
	}
	raw, err := stream.ReadAll()
	if err != nil {
		return nil, cerrors.NewErrorf(cerrors.TransportFailure, "classic: read %s", stream.URI()).WithCause(err).WithURI(stream.URI())
	}
	if len(raw) < 12 {
		return nil, cerrors.NewErrorf(cerrors.NotARecognizedFile, "classic: %s too short to contain a header", stream.URI())
	}
	if !bytes.Equal(raw[:4], magicFor(format)) {
		return nil, cerrors.NewErrorf(cerrors.NotARecognizedFile, "classic: %s missing magic number", stream.URI())
	}
	headerLen := binary.BigEndian.Uint64(raw[4:12])
	if uint64(len(raw)) < 12+headerLen {
		return nil, cerrors.NewErrorf(cerrors.NotARecognizedFile, "classic: %s truncated header", stream.URI())
	}
	var dir directory
	if err := json.Unmarshal(raw[12:12+headerLen], &dir); err != nil {
		return nil, cerrors.NewErrorf(cerrors.NotARecognizedFile, "classic: %s bad header json", stream.URI()).WithCause(err)
	}
	p.root = dir.Root
	p.data = raw[12+headerLen:]
	return p, nil
}

func (p *Provider) Format() storage.Format { return p.format }

func (p *Provider) resolve(groupPath string) (*groupDef, error) {
	g := p.root
	if groupPath == "" || groupPath == "/" || groupPath == "root" {
		return g, nil
	}
	for _, seg := range splitPath(groupPath) {
		child, ok := g.Groups[seg]
		if !ok {
			return nil, cerrors.NewErrorf(cerrors.APIMisuse, "classic: group %q does not exist", groupPath)
		}
		g = child
	}
	return g, nil
}

func splitPath(p string) []string {
	var out []string
	cur := ""
	for _, r := range p {
		if r == '/' {
			if cur != "" {
				out = append(out, cur)
				cur = ""
			}
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

func (p *Provider) CreateGroup(path string) error {
	segs := splitPath(path)
	g := p.root
	for _, seg := range segs {
		child, ok := g.Groups[seg]
		if !ok {
			child = newGroupDef()
			g.Groups[seg] = child
		}
		g = child
	}
	p.dirty = true
	return nil
}

func (p *Provider) OpenGroup(path string) (bool, error) {
	_, err := p.resolve(path)
	if err != nil {
		return false, nil
	}
	return true, nil
}

// ListGroups, ListDimensions, and ListVariables expose the classic
// format's own directory structure for read-mode tree reconstruction.
// They are not part of storage.StructuredFileProvider (the core's
// narrow contract never enumerates structure blindly) but a caller
// that knows it is talking to this concrete provider may use them —
// the dataset package's Open path does exactly that via a type
// assertion, since the core's own convention metadata already tells it
// every partitioned variable's shape and dimensions.
func (p *Provider) ListGroups(groupPath string) ([]string, error) {
	g, err := p.resolve(groupPath)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(g.Groups))
	for name := range g.Groups {
		names = append(names, name)
	}
	return names, nil
}

func (p *Provider) ListDimensions(groupPath string) ([]string, error) {
	g, err := p.resolve(groupPath)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(g.Dimensions))
	for name := range g.Dimensions {
		names = append(names, name)
	}
	return names, nil
}

func (p *Provider) ListVariables(groupPath string) ([]string, error) {
	g, err := p.resolve(groupPath)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(g.Variables))
	for name := range g.Variables {
		names = append(names, name)
	}
	return names, nil
}

func (p *Provider) CreateDimension(groupPath, name string, length int64, unlimited bool) error {
	g, err := p.resolve(groupPath)
	if err != nil {
		return err
	}
	if _, exists := g.Dimensions[name]; exists {
		return cerrors.NewErrorf(cerrors.APIMisuse, "classic: dimension %q already exists", name)
	}
	g.Dimensions[name] = &dimDef{Name: name, Length: length, Unlimited: unlimited}
	p.dirty = true
	return nil
}

func (p *Provider) DimensionLength(groupPath, name string) (int64, bool, error) {
	g, err := p.resolve(groupPath)
	if err != nil {
		return 0, false, err
	}
	d, ok := g.Dimensions[name]
	if !ok {
		return 0, false, nil
	}
	return d.Length, d.Unlimited, nil
}

func (p *Provider) CreateVariable(groupPath, name string, elemType storage.ElementType, dimNames []string) error {
	g, err := p.resolve(groupPath)
	if err != nil {
		return err
	}
	if _, exists := g.Variables[name]; exists {
		return cerrors.NewErrorf(cerrors.APIMisuse, "classic: variable %q already exists", name)
	}
	count := int64(1)
	for _, dn := range dimNames {
		d, ok := g.Dimensions[dn]
		if !ok {
			return cerrors.NewErrorf(cerrors.APIMisuse, "classic: dimension %q not declared", dn)
		}
		count *= d.Length
	}
	length := count * int64(elemType.Size())
	offset := int64(len(p.data))
	p.data = append(p.data, make([]byte, length)...)
	g.Variables[name] = &varDef{Name: name, ElemType: elemType, DimNames: append([]string{}, dimNames...), Offset: offset, Length: length}
	p.dirty = true
	return nil
}

func (p *Provider) VariableExists(groupPath, name string) (bool, error) {
	g, err := p.resolve(groupPath)
	if err != nil {
		return false, err
	}
	_, ok := g.Variables[name]
	return ok, nil
}

func (p *Provider) shape(g *groupDef, v *varDef) ([]int64, error) {
	shape := make([]int64, len(v.DimNames))
	for i, dn := range v.DimNames {
		d, ok := g.Dimensions[dn]
		if !ok {
			return nil, cerrors.NewErrorf(cerrors.InternalInvariant, "classic: variable %q references missing dimension %q", v.Name, dn)
		}
		shape[i] = d.Length
	}
	return shape, nil
}

// WriteSlab copies data into the rectangular [start, start+count) region
// of the named variable's flat buffer, honoring row-major strides.
func (p *Provider) WriteSlab(groupPath, varName string, start, count []int64, data []byte) error {
	g, err := p.resolve(groupPath)
	if err != nil {
		return err
	}
	v, ok := g.Variables[varName]
	if !ok {
		return cerrors.NewErrorf(cerrors.APIMisuse, "classic: variable %q does not exist", varName)
	}
	shape, err := p.shape(g, v)
	if err != nil {
		return err
	}
	elemSize := v.ElemType.Size()
	buf := p.data[v.Offset : v.Offset+v.Length]
	if err := ndCopy(shape, start, count, elemSize, data, buf, true); err != nil {
		return err
	}
	p.dirty = true
	return nil
}

func (p *Provider) ReadSlab(groupPath, varName string, start, count []int64) ([]byte, error) {
	g, err := p.resolve(groupPath)
	if err != nil {
		return nil, err
	}
	v, ok := g.Variables[varName]
	if !ok {
		return nil, cerrors.NewErrorf(cerrors.APIMisuse, "classic: variable %q does not exist", varName)
	}
	shape, err := p.shape(g, v)
	if err != nil {
		return nil, err
	}
	elemSize := v.ElemType.Size()
	out := make([]byte, product(count)*int64(elemSize))
	buf := p.data[v.Offset : v.Offset+v.Length]
	if err := ndCopy(shape, start, count, elemSize, out, buf, false); err != nil {
		return nil, err
	}
	return out, nil
}

func product(dims []int64) int64 {
	n := int64(1)
	for _, d := range dims {
		n *= d
	}
	return n
}

// ndCopy copies a rectangular region between a caller-supplied flat
// buffer `side` and the variable's full flat buffer `full`, whose shape
// is `shape`. If toFull, side -> full (write); else full -> side (read).
func ndCopy(shape, start, count []int64, elemSize int, side, full []byte, toFull bool) error {
	n := len(shape)
	if len(start) != n || len(count) != n {
		return cerrors.NewErrorf(cerrors.InternalInvariant, "ndCopy: dimensionality mismatch")
	}
	strides := make([]int64, n)
	stride := int64(1)
	for d := n - 1; d >= 0; d-- {
		strides[d] = stride
		stride *= shape[d]
	}
	idx := make([]int64, n)
	var sidePos int64
	var walk func(d int) error
	walk = func(d int) error {
		if d == n {
			var fullOffset int64
			for i := 0; i < n; i++ {
				fullOffset += (start[i] + idx[i]) * strides[i]
			}
			fullByteOff := fullOffset * int64(elemSize)
			if fullByteOff < 0 || fullByteOff+int64(elemSize) > int64(len(full)) {
				return cerrors.NewErrorf(cerrors.InternalInvariant, "ndCopy: offset out of range")
			}
			if toFull {
				copy(full[fullByteOff:fullByteOff+int64(elemSize)], side[sidePos:sidePos+int64(elemSize)])
			} else {
				copy(side[sidePos:sidePos+int64(elemSize)], full[fullByteOff:fullByteOff+int64(elemSize)])
			}
			sidePos += int64(elemSize)
			return nil
		}
		for i := int64(0); i < count[d]; i++ {
			idx[d] = i
			if err := walk(d + 1); err != nil {
				return err
			}
		}
		return nil
	}
	if n == 0 {
		return nil
	}
	return walk(0)
}

func attrEntryFromValue(v storage.AttrValue) (attrEntry, error) {
	raw, err := json.Marshal(v.Value)
	if err != nil {
		return attrEntry{}, err
	}
	return attrEntry{Kind: v.Kind, Value: raw}, nil
}

func (p *Provider) attrMap(groupPath, target string) (map[string]attrEntry, error) {
	g, err := p.resolve(groupPath)
	if err != nil {
		return nil, err
	}
	if target == "" {
		return g.Attributes, nil
	}
	m, ok := g.VarAttributes[target]
	if !ok {
		m = map[string]attrEntry{}
		g.VarAttributes[target] = m
	}
	return m, nil
}

func (p *Provider) SetAttribute(groupPath, target, key string, value storage.AttrValue) error {
	m, err := p.attrMap(groupPath, target)
	if err != nil {
		return err
	}
	entry, err := attrEntryFromValue(value)
	if err != nil {
		return cerrors.NewErrorf(cerrors.APIMisuse, "classic: attribute %q not serializable", key).WithCause(err)
	}
	m[key] = entry
	p.dirty = true
	return nil
}

func (p *Provider) GetAttribute(groupPath, target, key string) (storage.AttrValue, bool, error) {
	m, err := p.attrMap(groupPath, target)
	if err != nil {
		return storage.AttrValue{}, false, err
	}
	entry, ok := m[key]
	if !ok {
		return storage.AttrValue{}, false, nil
	}
	var v interface{}
	if err := json.Unmarshal(entry.Value, &v); err != nil {
		return storage.AttrValue{}, false, cerrors.NewErrorf(cerrors.InternalInvariant, "classic: attribute %q corrupt", key).WithCause(err)
	}
	return storage.AttrValue{Kind: entry.Kind, Value: v}, true, nil
}

func (p *Provider) DeleteAttribute(groupPath, target, key string) error {
	m, err := p.attrMap(groupPath, target)
	if err != nil {
		return err
	}
	if _, ok := m[key]; !ok {
		return cerrors.NewErrorf(cerrors.APIMisuse, "classic: attribute %q not present", key)
	}
	delete(m, key)
	p.dirty = true
	return nil
}

func (p *Provider) ListAttributes(groupPath, target string) (map[string]storage.AttrValue, error) {
	m, err := p.attrMap(groupPath, target)
	if err != nil {
		return nil, err
	}
	out := make(map[string]storage.AttrValue, len(m))
	for k, entry := range m {
		var v interface{}
		if err := json.Unmarshal(entry.Value, &v); err != nil {
			return nil, cerrors.NewErrorf(cerrors.InternalInvariant, "classic: attribute %q corrupt", k).WithCause(err)
		}
		out[k] = storage.AttrValue{Kind: entry.Kind, Value: v}
	}
	return out, nil
}

func (p *Provider) Close() error {
	if !p.dirty {
		return nil
	}
	header, err := json.Marshal(directory{Root: p.root})
	if err != nil {
		return cerrors.NewErrorf(cerrors.InternalInvariant, "classic: marshal header").WithCause(err)
	}
	out := make([]byte, 0, 12+len(header)+len(p.data))
	out = append(out, magicFor(p.format)...)
	lenBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(lenBuf, uint64(len(header)))
	out = append(out, lenBuf...)
	out = append(out, header...)
	out = append(out, p.data...)

	if cw, ok := p.stream.(storage.CloseWithPayload); ok {
		return cw.CloseWithPayload(out)
	}
	if _, err := p.stream.Write(out); err != nil {
		return cerrors.NewErrorf(cerrors.TransportFailure, "classic: write %s", p.stream.URI()).WithCause(err).WithURI(p.stream.URI())
	}
	return p.stream.Close()
}
