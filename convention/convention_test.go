package convention

import (
	"testing"

	"github.com/cfaio/cfa/storage"
	cerrors "github.com/cfaio/cfa/util/errors"
	"github.com/google/go-cmp/cmp"
)

func TestSniffMagicNumbers(t *testing.T) {
	cases := []struct {
		name   string
		header []byte
		want   storage.Format
	}{
		{"classic", []byte{'C', 'D', 'F', 0x01, 0, 0}, storage.FormatClassic},
		{"64bit-offset", []byte{'C', 'D', 'F', 0x02, 0, 0}, storage.Format64BitOffset},
		{"64bit-data", []byte{'C', 'D', 'F', 0x05, 0, 0}, storage.Format64BitData},
		{"hdf-v4", []byte{0x0e, 0x03, 0x13, 0x01, 0, 0}, storage.FormatHDFBasedV4},
		{"hdf-v5", []byte{0x89, 'H', 'D', 'F', 0, 0}, storage.FormatHDFBasedV5},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := Sniff(c.header)
			if err != nil {
				t.Fatal(err)
			}
			if got != c.want {
				t.Fatalf("Sniff() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestSniffRejectsUnrecognizedMagic(t *testing.T) {
	_, err := Sniff([]byte{0, 1, 2, 3})
	if err == nil {
		t.Fatal("expected NotARecognizedFile")
	}
	if cerrors.KindOf(err) != cerrors.NotARecognizedFile {
		t.Fatalf("kind = %v, want NotARecognizedFile", cerrors.KindOf(err))
	}
}

func TestValidateCombinationRejectsV05Classical(t *testing.T) {
	err := ValidateCombination(storage.FormatClassic, V05)
	if err == nil {
		t.Fatal("expected FormatMismatch")
	}
	if cerrors.KindOf(err) != cerrors.FormatMismatch {
		t.Fatalf("kind = %v, want FormatMismatch", cerrors.KindOf(err))
	}
	if err := ValidateCombination(storage.FormatHDFBasedV5, V05); err != nil {
		t.Fatalf("v0.5 + hdf-based-v5 should be allowed: %v", err)
	}
	if err := ValidateCombination(storage.FormatClassic, V04); err != nil {
		t.Fatalf("v0.4 + classical should be allowed: %v", err)
	}
}

func TestEncodeDecodeV04RoundTrip(t *testing.T) {
	rec := VariableRecord{
		Dimensions: []string{"time", "lat", "lon"},
		Shape:      []int64{10, 10},
		Partitions: []PartitionRecord{
			{Index: []int64{0, 0}, Location: [][2]int64{{0, 3}, {0, 3}}, Shape: []int64{3, 3}, File: "master/temp.0.0.nc", Format: "classic", InVariable: "temp"},
		},
	}
	attrs, err := EncodeV04(rec)
	if err != nil {
		t.Fatal(err)
	}
	got, ok, err := DecodeV04(attrs)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected cfa_array marker to be recognized")
	}
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeV04RejectsNonPartitioned(t *testing.T) {
	_, ok, err := DecodeV04(map[string]storage.AttrValue{})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected ok=false for attrs lacking cfa_array")
	}
}

func TestDetectVersion(t *testing.T) {
	v, ok := DetectVersion(map[string]storage.AttrValue{"Conventions": {Kind: storage.String, Value: "CFA-0.5"}})
	if !ok || v != V05 {
		t.Fatalf("DetectVersion() = %v, %v, want 0.5, true", v, ok)
	}
	v, ok = DetectVersion(map[string]storage.AttrValue{"Conventions": {Kind: storage.String, Value: "CFA-0.4"}})
	if !ok || v != V04 {
		t.Fatalf("DetectVersion() = %v, %v, want 0.4, true", v, ok)
	}
	if _, ok := DetectVersion(map[string]storage.AttrValue{}); ok {
		t.Fatal("expected ok=false when Conventions attribute is absent")
	}
}
