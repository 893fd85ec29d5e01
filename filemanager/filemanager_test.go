package filemanager

import (
	"testing"

	"github.com/cfaio/cfa/storage"
	cerrors "github.com/cfaio/cfa/util/errors"
)

type fakeStream struct {
	uri    string
	closed bool
	data   []byte
}

func (f *fakeStream) Read(offset int64, length int) ([]byte, error) { return f.data, nil }
func (f *fakeStream) ReadAll() ([]byte, error)                       { return f.data, nil }
func (f *fakeStream) Write(p []byte) (int, error)                    { f.data = append(f.data, p...); return len(p), nil }
func (f *fakeStream) Seek(offset int64, whence int) (int64, error)   { return offset, nil }
func (f *fakeStream) Remote() bool                                   { return true }
func (f *fakeStream) URI() string                                    { return f.uri }
func (f *fakeStream) Size() (int64, error)                           { return int64(len(f.data)), nil }
func (f *fakeStream) Close() error                                   { f.closed = true; return nil }

func fakeOpener(opened map[string]*fakeStream) Opener {
	return func(uri string, create bool) (storage.ByteStreamProvider, error) {
		s := &fakeStream{uri: uri}
		opened[uri] = s
		return s, nil
	}
}

func TestRequestFileDoesNotExistOnAbsentRead(t *testing.T) {
	opened := map[string]*fakeStream{}
	fm := New(fakeOpener(opened), func(string) bool { return true }, func(string) bool { return false }, 0)
	rec, err := fm.RequestFile("s3://bucket/missing.nc", 100, ModeRead)
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != DoesNotExist {
		t.Fatalf("state = %v, want DoesNotExist", rec.State)
	}
	if len(opened) != 0 {
		t.Fatal("opener should not be called for an absent read target")
	}
}

func TestRequestFilePromotesInLRU(t *testing.T) {
	opened := map[string]*fakeStream{}
	fm := New(fakeOpener(opened), func(string) bool { return true }, func(string) bool { return true }, 0)
	rec1, err := fm.RequestFile("local:///a.nc", 10, ModeRead)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fm.RequestFile("local:///b.nc", 10, ModeRead); err != nil {
		t.Fatal(err)
	}
	rec2, err := fm.RequestFile("local:///a.nc", 10, ModeRead)
	if err != nil {
		t.Fatal(err)
	}
	if rec1 != rec2 {
		t.Fatal("expected the same record to be returned on a second request")
	}
	if front := fm.lru.Front().Value.(*OpenFileRecord); front != rec1 {
		t.Fatalf("LRU front = %s, want %s after re-request", front.URI, rec1.URI)
	}
}

func TestEnsureBudgetEvictsLeastRecentlyUsed(t *testing.T) {
	opened := map[string]*fakeStream{}
	fm := New(fakeOpener(opened), func(string) bool { return false }, func(string) bool { return true }, 20)

	recA, err := fm.RequestFile("s3://b/a", 10, ModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fm.RequestFile("s3://b/b", 10, ModeWrite); err != nil {
		t.Fatal(err)
	}
	// Budget now full at 20; requesting a third in-memory record must
	// evict "a" (least recently used) to make room.
	if _, err := fm.RequestFile("s3://b/c", 10, ModeWrite); err != nil {
		t.Fatal(err)
	}
	if _, ok := fm.records["s3://b/a"]; ok {
		t.Fatal("expected s3://b/a to have been evicted")
	}
	if !opened["s3://b/a"].closed {
		t.Fatal("evicted record's stream should have been closed (write-back)")
	}
	_ = recA
}

func TestEnsureBudgetFailsResourceExhaustedWhenNothingEvictable(t *testing.T) {
	opened := map[string]*fakeStream{}
	fm := New(fakeOpener(opened), func(string) bool { return false }, func(string) bool { return true }, 5)
	_, err := fm.RequestFile("s3://b/big", 100, ModeWrite)
	if err == nil {
		t.Fatal("expected ResourceExhausted")
	}
	if cerrors.KindOf(err) != cerrors.ResourceExhausted {
		t.Fatalf("kind = %v, want ResourceExhausted", cerrors.KindOf(err))
	}
}

func TestRequestArrayFillsValue(t *testing.T) {
	fm := New(nil, nil, nil, 0)
	buf := fm.RequestArray([]int64{2, 2}, storage.Int32, []byte{0xff, 0xff, 0xff, 0xff})
	for _, b := range buf {
		if b != 0xff {
			t.Fatalf("expected fill byte 0xff, got %x", b)
		}
	}
	if len(buf) != 16 {
		t.Fatalf("len(buf) = %d, want 16", len(buf))
	}
}

func TestDrainClosesEveryRecord(t *testing.T) {
	opened := map[string]*fakeStream{}
	fm := New(fakeOpener(opened), func(string) bool { return false }, func(string) bool { return true }, 0)
	if _, err := fm.RequestFile("s3://b/a", 10, ModeWrite); err != nil {
		t.Fatal(err)
	}
	if _, err := fm.RequestFile("s3://b/b", 10, ModeWrite); err != nil {
		t.Fatal(err)
	}
	if err := fm.Drain(); err != nil {
		t.Fatal(err)
	}
	for uri, s := range opened {
		if !s.closed {
			t.Fatalf("%s not closed after Drain", uri)
		}
	}
	if fm.MemoryUsed() != 0 {
		t.Fatalf("MemoryUsed() = %d, want 0 after drain", fm.MemoryUsed())
	}
}
