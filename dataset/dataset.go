// Package dataset implements the AggregationDataset: the master-file
// level object owning groups, dimensions, partitioned/classical
// variables, and the open/close lifecycle that wires the
// ConventionSerializer and FileManager together (spec.md §4.4).
// Grounded on datanode.CreateDataPartition/LoadDataPartition's
// create-vs-load split.
package dataset

import (
	"context"
	"path"
	"sync"

	"github.com/cfaio/cfa/convention"
	"github.com/cfaio/cfa/filemanager"
	"github.com/cfaio/cfa/storage"
	"github.com/cfaio/cfa/storage/blobstore"
	"github.com/cfaio/cfa/storage/classic"
	"github.com/cfaio/cfa/storage/localfs"
	cerrors "github.com/cfaio/cfa/util/errors"
	"github.com/cfaio/cfa/util/log"
	cfauri "github.com/cfaio/cfa/uri"
)

// Mode is the Dataset open mode; append is rejected per spec.md §6.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

// Dataset is the master-file-level object: groups, dimensions,
// partitioned variables, and convention metadata (spec.md §3).
type Dataset struct {
	mode       Mode
	format     storage.Format
	convention convention.Version
	masterURI  cfauri.URI
	opts       Options

	Root *Group

	master          storage.StructuredFileProvider
	masterStream    storage.ByteStreamProvider
	fileManager     *filemanager.FileManager
	structuredOpener func(stream storage.ByteStreamProvider, format storage.Format, create bool) (storage.StructuredFileProvider, error)
	s3Client        *blobstore.Client
	ctx             context.Context

	// providers caches the structured provider opened over each
	// subarray's FileManager record, keyed by URI. A classic.Provider
	// (and any structured provider with similar internal buffering)
	// only serializes its directory and data into the underlying
	// ByteStreamProvider on its own Close — reopening a fresh provider
	// on every Write/Read call would silently discard every write made
	// through the previous instance, so the same provider is reused for
	// a subarray for as long as the FileManager keeps its record open.
	// The FileManager's evict listener (onEvictProvider) flushes and
	// drops a subarray's entry the moment its record is evicted, so the
	// tile's buffered bytes are reclaimed with the rest of the record
	// rather than pinned for the whole session; flushSubarrayProviders
	// closes whatever remains at Dataset.Close, before the FileManager
	// drains the raw streams.
	providersMu sync.Mutex
	providers   map[string]storage.StructuredFileProvider
}

// OpenOptions bundles the recognized Dataset.Open arguments of
// spec.md §6: `open(uri, mode, format, convention_version, options)`.
type OpenOptions struct {
	Format           storage.Format // "" (default) maps to FormatHDFBasedV5 per spec.md §6
	ConventionVersion convention.Version
	Options          map[string]interface{}
	// S3Endpoint/S3Region/S3PathStyle configure the remote client when
	// the URI scheme indicates an object store; unused for local paths.
	S3Endpoint  string
	S3Region    string
	S3PathStyle bool
}

// Open implements spec.md §6's `open(uri, mode, format,
// convention_version, options)`. Read mode detects the master's
// format from its magic number and its convention from its root
// attributes; write mode validates the caller's chosen combination.
func Open(ctx context.Context, raw string, mode Mode, oo OpenOptions) (*Dataset, error) {
	opts, err := DecodeOptions(oo.Options)
	if err != nil {
		return nil, cerrors.NewErrorf(cerrors.APIMisuse, "decode options").WithCause(err)
	}

	parsed := cfauri.Parse(raw)
	ds := &Dataset{
		mode:      mode,
		masterURI: parsed,
		opts:      opts,
		ctx:       ctx,
		structuredOpener: classicOpener,
		providers: map[string]storage.StructuredFileProvider{},
	}

	if parsed.Remote {
		client, err := blobstore.NewClient(ctx, oo.S3Endpoint, oo.S3Region, oo.S3PathStyle)
		if err != nil {
			return nil, err
		}
		ds.s3Client = client
	}

	ds.fileManager = filemanager.New(ds.openStream, ds.isLocal, ds.exists, opts.MemoryLimit)
	ds.fileManager.SetEvictListener(ds.onEvictProvider)

	masterCreate := mode == ModeWrite
	masterStream, err := ds.openStream(parsed.String(), masterCreate)
	if err != nil {
		return nil, err
	}
	ds.masterStream = masterStream

	format := oo.Format
	convVersion := oo.ConventionVersion

	if mode == ModeRead {
		header, err := masterStream.Read(0, 8)
		if err != nil {
			return nil, err
		}
		detected, err := convention.Sniff(header)
		if err != nil {
			return nil, err
		}
		format = detected
	} else {
		if format == "" {
			format = storage.FormatHDFBasedV5
		}
	}
	if convVersion == "" {
		convVersion = convention.V04
	}
	if err := convention.ValidateCombination(format, convVersion); err != nil {
		return nil, err
	}
	ds.format = format
	ds.convention = convVersion

	master, err := classic.Open(masterStream, format, masterCreate)
	if err != nil {
		return nil, err
	}
	ds.master = master

	ds.Root = newGroup("root", "", nil, ds)
	if mode == ModeWrite {
		attrs, err := convention.EncodeConventionsOnly(convVersion)
		if err != nil {
			return nil, err
		}
		for k, v := range attrs {
			if err := master.SetAttribute("", "", k, v); err != nil {
				return nil, err
			}
		}
		return ds, nil
	}

	if rootAttrs, err := master.ListAttributes("", ""); err == nil {
		if v, ok := convention.DetectVersion(rootAttrs); ok {
			ds.convention = v
		}
	}
	if err := ds.reconstructTree(ds.Root, ""); err != nil {
		return nil, err
	}
	return ds, nil
}

// Enumerate implements spec.md §6's read-only wildcard listing:
// pattern is a URI whose final path segment may contain '*'/'?' glob
// characters; Enumerate lists the pattern's containing directory
// (local) or key prefix (remote) and returns every URI whose final
// segment matches the pattern. It takes no Dataset, since listing a
// prefix never requires a master file to already be open.
func Enumerate(ctx context.Context, pattern string, oo OpenOptions) ([]string, error) {
	parsed := cfauri.Parse(pattern)
	if !parsed.HasWildcard() {
		return nil, cerrors.NewErrorf(cerrors.APIMisuse, "enumerate: pattern %q has no wildcard", pattern)
	}

	if !parsed.Remote {
		dir := path.Dir(parsed.Path)
		base := path.Base(parsed.Path)
		entries, err := localfs.List(dir)
		if err != nil {
			return nil, err
		}
		var out []string
		for _, full := range entries {
			if cfauri.MatchesGlob(base, path.Base(full)) {
				out = append(out, full)
			}
		}
		return out, nil
	}

	client, err := blobstore.NewClient(ctx, oo.S3Endpoint, oo.S3Region, oo.S3PathStyle)
	if err != nil {
		return nil, err
	}
	dirKey := path.Dir(parsed.Key)
	base := path.Base(parsed.Key)
	prefix := ""
	if dirKey != "." {
		prefix = dirKey + "/"
	}
	keys, err := blobstore.List(ctx, client, parsed.Bucket, prefix)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, key := range keys {
		if cfauri.MatchesGlob(base, path.Base(key)) {
			out = append(out, parsed.Scheme+"://"+parsed.Host+"/"+parsed.Bucket+"/"+key)
		}
	}
	return out, nil
}

// subarrayURI colocates a subarray file under the master's
// directory/prefix (spec.md §4.2).
func (ds *Dataset) subarrayURI(name string) string {
	return cfauri.Join(ds.masterURI, name)
}

func (ds *Dataset) isLocal(uri string) bool {
	return !cfauri.Parse(uri).Remote
}

func (ds *Dataset) exists(uriStr string) bool {
	parsed := cfauri.Parse(uriStr)
	if !parsed.Remote {
		return localfs.Exists(parsed.Path)
	}
	return blobstore.Exists(ds.ctx, ds.s3Client, parsed.Bucket, parsed.Key)
}

func (ds *Dataset) openStream(uriStr string, create bool) (storage.ByteStreamProvider, error) {
	parsed := cfauri.Parse(uriStr)
	if !parsed.Remote {
		s, err := localfs.Open(parsed.Path, create)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return blobstore.Open(ds.ctx, ds.s3Client, parsed.Bucket, parsed.Key), nil
}

func classicOpener(stream storage.ByteStreamProvider, format storage.Format, create bool) (storage.StructuredFileProvider, error) {
	return classic.Open(stream, format, create)
}

// subarrayProvider returns the cached structured provider for rec's
// URI, opening it (with create==firstTouch) on first use and reusing
// it for every later Write/Read against the same subarray until the
// FileManager evicts rec, at which point onEvictProvider drops the
// cache entry and the next call here opens a fresh provider bound to
// whatever stream the FileManager hands back for that URI (see the
// Dataset.providers doc comment).
func (ds *Dataset) subarrayProvider(rec *filemanager.OpenFileRecord, format storage.Format, firstTouch bool) (storage.StructuredFileProvider, error) {
	ds.providersMu.Lock()
	defer ds.providersMu.Unlock()
	if p, ok := ds.providers[rec.URI]; ok {
		return p, nil
	}
	p, err := ds.structuredOpener(rec.Stream, format, firstTouch)
	if err != nil {
		return nil, err
	}
	ds.providers[rec.URI] = p
	return p, nil
}

// flushSubarrayProviders closes every cached structured provider,
// publishing its buffered directory/data into the FileManager-owned
// stream beneath it. Must run before FileManager.Drain, which closes
// those raw streams (and, for remote providers, performs the actual
// network upload).
func (ds *Dataset) flushSubarrayProviders() error {
	ds.providersMu.Lock()
	providers := ds.providers
	ds.providers = map[string]storage.StructuredFileProvider{}
	ds.providersMu.Unlock()
	for uri, p := range providers {
		if err := p.Close(); err != nil {
			return cerrors.NewErrorf(cerrors.TransportFailure, "dataset: flush subarray provider %s", uri).WithCause(err).WithURI(uri)
		}
	}
	return nil
}

// onEvictProvider is the FileManager eviction listener: it pops and
// closes uri's cached structured provider, if any, while the
// FileManager's own stream for uri is still open. The provider's
// Close writes its buffered directory/data through that stream (via
// CloseWithPayload where the stream supports it), so the tile's real
// memory is released at eviction instead of staying pinned in
// ds.providers for the rest of the session.
func (ds *Dataset) onEvictProvider(uri string) error {
	ds.providersMu.Lock()
	p, ok := ds.providers[uri]
	if ok {
		delete(ds.providers, uri)
	}
	ds.providersMu.Unlock()
	if !ok {
		return nil
	}
	return p.Close()
}

// enumerator is the optional introspection capability the classic
// provider exposes for read-mode tree reconstruction (not part of the
// core's narrow StructuredFileProvider contract — see classic.Provider's
// ListGroups/ListDimensions/ListVariables doc comment).
type enumerator interface {
	ListGroups(groupPath string) ([]string, error)
	ListDimensions(groupPath string) ([]string, error)
	ListVariables(groupPath string) ([]string, error)
}

// reconstructTree populates g from the master structured file,
// recursing into child groups. Partitioned variables are recognized by
// their convention-serialized metadata; everything else is classical.
func (ds *Dataset) reconstructTree(g *Group, groupPath string) error {
	enum, ok := ds.master.(enumerator)
	if !ok {
		log.LogWarnf("dataset: master provider does not support structural enumeration; no groups, dimensions or variables will be reconstructed")
		return nil
	}

	dimNames, err := enum.ListDimensions(groupPath)
	if err != nil {
		return err
	}
	for _, name := range dimNames {
		length, unlimited, err := ds.master.DimensionLength(groupPath, name)
		if err != nil {
			return err
		}
		g.Dimensions[name] = newDimension(name, length, unlimited, 0)
	}

	varNames, err := enum.ListVariables(groupPath)
	if err != nil {
		return err
	}
	for _, name := range varNames {
		attrs, err := ds.master.ListAttributes(groupPath, name)
		if err != nil {
			return err
		}
		v := &Variable{Name: name, Attributes: attrs, group: g}
		if rec, ok, err := convention.DecodeV04(attrs); err != nil {
			return err
		} else if ok {
			if err := ds.hydratePartitioned(v, rec); err != nil {
				return err
			}
		} else if rec, ok, err := convention.DecodeV05(ds.master, name); err != nil {
			return err
		} else if ok {
			if err := ds.hydratePartitioned(v, rec); err != nil {
				return err
			}
		}
		g.Variables[name] = v
	}

	childNames, err := enum.ListGroups(groupPath)
	if err != nil {
		return err
	}
	for _, name := range childNames {
		childPath := name
		if groupPath != "" {
			childPath = groupPath + "/" + name
		}
		child := newGroup(name, childPath, g, ds)
		g.Groups[name] = child
		if err := ds.reconstructTree(child, childPath); err != nil {
			return err
		}
	}
	return nil
}

func (ds *Dataset) hydratePartitioned(v *Variable, rec convention.VariableRecord) error {
	v.DimNames = rec.Dimensions
	v.ElemType = rec.ElemType
	matrix, err := matrixFromRecord(rec)
	if err != nil {
		return err
	}
	v.Partitioned = &PartitionedVariable{
		Shape:  rec.Shape,
		Format: ds.format,
		matrix: matrix,
		owner:  v,
		ds:     ds,
	}
	return nil
}

// Close flushes partition metadata into the master (write mode) and
// drains the FileManager, per spec.md §4.4.
func (ds *Dataset) Close() error {
	if ds.mode == ModeWrite {
		if err := ds.serializePartitionTables(ds.Root); err != nil {
			return err
		}
	}
	if err := ds.flushSubarrayProviders(); err != nil {
		return err
	}
	if err := ds.fileManager.Drain(); err != nil {
		return err
	}
	if err := ds.master.Close(); err != nil {
		return err
	}
	return nil
}

func (ds *Dataset) serializePartitionTables(g *Group) error {
	for _, v := range g.Variables {
		if v.Partitioned == nil {
			continue
		}
		rec := recordFromPartitioned(v)
		switch ds.convention {
		case convention.V05:
			if err := convention.EncodeV05(ds.master, v.Name, rec); err != nil {
				return err
			}
		default:
			attrs, err := convention.EncodeV04(rec)
			if err != nil {
				return err
			}
			for k, val := range attrs {
				if err := ds.master.SetAttribute(g.path, v.Name, k, val); err != nil {
					return err
				}
			}
		}
		for k, val := range v.Attributes {
			if err := ds.master.SetAttribute(g.path, v.Name, k, val); err != nil {
				return err
			}
		}
	}
	for _, child := range g.Groups {
		if err := ds.serializePartitionTables(child); err != nil {
			return err
		}
	}
	return nil
}
