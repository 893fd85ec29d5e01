package dataset

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cfaio/cfa/partition"
	"github.com/cfaio/cfa/storage"
	cerrors "github.com/cfaio/cfa/util/errors"
)

// TestWriteReadRoundTripFourSubarrays exercises spec.md §8's scalar
// round-trip scenario: a 2x2 partition matrix written across 4 named
// subarray files, closed, reopened, and read back whole.
func TestWriteReadRoundTripFourSubarrays(t *testing.T) {
	ctx := context.Background()
	master := filepath.Join(t.TempDir(), "master.nc")

	ds, err := Open(ctx, master, ModeWrite, OpenOptions{})
	if err != nil {
		t.Fatal(err)
	}
	g := ds.Root
	if _, err := g.CreateDimension("x", 10, false, partition.AxisUnknown); err != nil {
		t.Fatal(err)
	}
	if _, err := g.CreateDimension("y", 10, false, partition.AxisUnknown); err != nil {
		t.Fatal(err)
	}
	v, err := g.CreateVariable("temp", storage.Float64, []string{"x", "y"}, VariableOptions{
		SubarrayShape: []int64{5, 5},
	})
	if err != nil {
		t.Fatal(err)
	}

	elemSize := storage.Float64.Size()
	full := make([]byte, 100*int64(elemSize))
	for i := range full {
		full[i] = byte(i % 7)
	}
	if err := v.Partitioned.Write([]partition.Range{partition.Full(10), partition.Full(10)}, full); err != nil {
		t.Fatal(err)
	}

	touched := 0
	for _, p := range v.Partitioned.Matrix().All() {
		if p.File != "" {
			touched++
		}
	}
	if touched != 4 {
		t.Fatalf("expected 4 touched subarrays, got %d", touched)
	}

	if err := ds.Close(); err != nil {
		t.Fatal(err)
	}

	ds2, err := Open(ctx, master, ModeRead, OpenOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer ds2.Close()

	v2, ok := ds2.Root.Variables["temp"]
	if !ok {
		t.Fatal("variable temp not reconstructed on read")
	}
	if v2.Partitioned == nil {
		t.Fatal("variable temp did not reconstruct as partitioned")
	}
	got, shape, err := v2.Partitioned.Read([]partition.Range{partition.Full(10), partition.Full(10)})
	if err != nil {
		t.Fatal(err)
	}
	if shape[0] != 10 || shape[1] != 10 {
		t.Fatalf("unexpected shape %v", shape)
	}
	if len(got) != len(full) {
		t.Fatalf("round-tripped buffer length %d != %d", len(got), len(full))
	}
	for i := range full {
		if got[i] != full[i] {
			t.Fatalf("byte %d mismatch: got %d want %d", i, got[i], full[i])
		}
	}
}

// TestReadSparseWriteFillsGaps exercises spec.md §8's fill-value rule:
// a write touching only the first of a 1-D variable's two tiles leaves
// the untouched tile reading back as the fill value.
func TestReadSparseWriteFillsGaps(t *testing.T) {
	ctx := context.Background()
	master := filepath.Join(t.TempDir(), "master.nc")

	ds, err := Open(ctx, master, ModeWrite, OpenOptions{})
	if err != nil {
		t.Fatal(err)
	}
	g := ds.Root
	if _, err := g.CreateDimension("x", 4, false, partition.AxisUnknown); err != nil {
		t.Fatal(err)
	}
	fill := []byte{0xff, 0xff, 0xff, 0xff}
	v, err := g.CreateVariable("v", storage.Int32, []string{"x"}, VariableOptions{
		SubarrayShape: []int64{2},
		FillValue:     fill,
	})
	if err != nil {
		t.Fatal(err)
	}

	elemSize := storage.Int32.Size()
	data := make([]byte, 2*elemSize)
	for i := range data {
		data[i] = 0x11
	}
	if err := v.Partitioned.Write([]partition.Range{{Start: 0, Stop: 2, Step: 1}}, data); err != nil {
		t.Fatal(err)
	}

	got, shape, err := v.Partitioned.Read([]partition.Range{partition.Full(4)})
	if err != nil {
		t.Fatal(err)
	}
	if shape[0] != 4 {
		t.Fatalf("unexpected shape %v", shape)
	}
	for i := 0; i < 2*elemSize; i++ {
		if got[i] != 0x11 {
			t.Fatalf("touched region byte %d = %x, want 0x11", i, got[i])
		}
	}
	for i := 2 * elemSize; i < 4*elemSize; i++ {
		if got[i] != 0xff {
			t.Fatalf("untouched region byte %d = %x, want fill 0xff", i, got[i])
		}
	}

	if err := ds.Close(); err != nil {
		t.Fatal(err)
	}
}

// TestOpenRejectsV05WithClassicFormat exercises spec.md §6's convention
// guard through the Dataset.Open entry point, not just
// convention.ValidateCombination directly.
func TestOpenRejectsV05WithClassicFormat(t *testing.T) {
	ctx := context.Background()
	master := filepath.Join(t.TempDir(), "master.nc")

	_, err := Open(ctx, master, ModeWrite, OpenOptions{
		Format:            storage.FormatClassic,
		ConventionVersion: "0.5",
	})
	if err == nil {
		t.Fatal("expected an error opening convention 0.5 against a classical format")
	}
	if cerrors.KindOf(err) != cerrors.FormatMismatch {
		t.Fatalf("expected FormatMismatch, got %v", cerrors.KindOf(err))
	}
}

// TestOpenRejectsUnrecognizedMagicOnRead exercises spec.md §6's
// magic-number guard: opening a file whose leading bytes match no
// known format fails with NotARecognizedFile rather than panicking or
// silently defaulting.
func TestOpenRejectsUnrecognizedMagicOnRead(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "garbage.nc")
	if err := os.WriteFile(path, []byte("not a real structured file header"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Open(ctx, path, ModeRead, OpenOptions{})
	if err == nil {
		t.Fatal("expected an error opening a file with an unrecognized magic number")
	}
	if cerrors.KindOf(err) != cerrors.NotARecognizedFile {
		t.Fatalf("expected NotARecognizedFile, got %v", cerrors.KindOf(err))
	}
}
