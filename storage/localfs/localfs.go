// Package localfs implements storage.ByteStreamProvider over the local
// filesystem, grounded on the teacher's on-disk subarray/master-file
// lifecycle (datanode/partition.go's persistMetaDataOnly pattern:
// write a fresh temp file, then atomically replace). Close uses
// github.com/google/renameio so a crash mid-write never leaves a
// truncated master or subarray file in place (distr1/distri
// internal/install/install.go's renameio.TempFile usage).
package localfs

import (
	"io"
	"os"
	"path"

	"github.com/google/renameio"

	cerrors "github.com/cfaio/cfa/util/errors"
)

// Stream is a local-disk ByteStreamProvider.
type Stream struct {
	path string
	f    *os.File
	buf  []byte // accumulated writes, flushed atomically on Close
}

// Open opens path for reading (must exist) or, if create, prepares a
// fresh in-memory buffer that Close will atomically publish.
func Open(path string, create bool) (*Stream, error) {
	s := &Stream{path: path}
	if create {
		return s, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, cerrors.NewErrorf(cerrors.TransportFailure, "localfs: open %s", path).WithCause(err).WithURI(path)
	}
	s.f = f
	return s, nil
}

// Exists reports whether path is present on the local filesystem.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// List returns the full paths of dir's direct file entries (directories
// are skipped), for the read-only wildcard enumeration of spec.md §6.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, cerrors.NewErrorf(cerrors.TransportFailure, "localfs: list %s", dir).WithCause(err).WithURI(dir)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		out = append(out, path.Join(dir, e.Name()))
	}
	return out, nil
}

func (s *Stream) Read(offset int64, length int) ([]byte, error) {
	if s.f == nil {
		return nil, cerrors.NewErrorf(cerrors.TransportFailure, "localfs: %s not open for reading", s.path).WithURI(s.path)
	}
	buf := make([]byte, length)
	n, err := s.f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, cerrors.NewErrorf(cerrors.TransportFailure, "localfs: read %s", s.path).WithCause(err).WithURI(s.path)
	}
	return buf[:n], nil
}

func (s *Stream) ReadAll() ([]byte, error) {
	if s.f == nil {
		return nil, cerrors.NewErrorf(cerrors.TransportFailure, "localfs: %s not open for reading", s.path).WithURI(s.path)
	}
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return nil, cerrors.NewErrorf(cerrors.TransportFailure, "localfs: seek %s", s.path).WithCause(err).WithURI(s.path)
	}
	data, err := io.ReadAll(s.f)
	if err != nil {
		return nil, cerrors.NewErrorf(cerrors.TransportFailure, "localfs: read %s", s.path).WithCause(err).WithURI(s.path)
	}
	return data, nil
}

func (s *Stream) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	return len(p), nil
}

func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	if s.f == nil {
		return 0, cerrors.NewErrorf(cerrors.TransportFailure, "localfs: %s not open for reading", s.path).WithURI(s.path)
	}
	return s.f.Seek(offset, whence)
}

func (s *Stream) Remote() bool { return false }
func (s *Stream) URI() string  { return s.path }

func (s *Stream) Size() (int64, error) {
	if s.f != nil {
		info, err := s.f.Stat()
		if err != nil {
			return 0, cerrors.NewErrorf(cerrors.TransportFailure, "localfs: stat %s", s.path).WithCause(err).WithURI(s.path)
		}
		return info.Size(), nil
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return 0, cerrors.NewErrorf(cerrors.TransportFailure, "localfs: stat %s", s.path).WithCause(err).WithURI(s.path)
	}
	return info.Size(), nil
}

// Close publishes any buffered writes atomically and releases the
// read handle, if any.
func (s *Stream) Close() error {
	if s.f != nil {
		_ = s.f.Close()
		s.f = nil
	}
	if s.buf == nil {
		return nil
	}
	return s.CloseWithPayload(s.buf)
}

// CloseWithPayload atomically replaces path's contents with payload.
func (s *Stream) CloseWithPayload(payload []byte) error {
	t, err := renameio.TempFile("", s.path)
	if err != nil {
		return cerrors.NewErrorf(cerrors.TransportFailure, "localfs: create temp file for %s", s.path).WithCause(err).WithURI(s.path)
	}
	defer t.Cleanup()
	if _, err := t.Write(payload); err != nil {
		return cerrors.NewErrorf(cerrors.TransportFailure, "localfs: write %s", s.path).WithCause(err).WithURI(s.path)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return cerrors.NewErrorf(cerrors.TransportFailure, "localfs: publish %s", s.path).WithCause(err).WithURI(s.path)
	}
	s.buf = nil
	return nil
}
