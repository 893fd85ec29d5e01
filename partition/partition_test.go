package partition

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func buildMatrix(t *testing.T, shape []int64, tile []int64) *Matrix {
	t.Helper()
	_, edges, err := edgesFromTileShape(shape, tile)
	if err != nil {
		t.Fatalf("edgesFromTileShape: %v", err)
	}
	counts := make([]int64, len(shape))
	for d, e := range edges {
		counts[d] = int64(len(e) - 1)
	}
	m, err := NewMatrix(counts, edges)
	if err != nil {
		t.Fatalf("NewMatrix: %v", err)
	}
	return m
}

// Boundary scenario 6 (spec.md §8): shape (10,10), tile (3,3) -> 4x4
// matrix with terminal tiles of shape (1,*) and (*,1); read[2:8,2:8]
// returns 9 IndexEntry records covering a 6x6 region without gaps or overlap.
func TestSliceMathBoundaryScenario(t *testing.T) {
	m := buildMatrix(t, []int64{10, 10}, []int64{3, 3})
	if got := m.Counts; !cmp.Equal(got, []int64{4, 4}) {
		t.Fatalf("Counts = %v, want [4 4]", got)
	}
	terminal := m.At([]int64{3, 3})
	if terminal.Shape[0] != 1 || terminal.Shape[1] != 1 {
		t.Fatalf("terminal tile shape = %v, want [1 1]", terminal.Shape)
	}
	cornerRow := m.At([]int64{3, 0})
	if cornerRow.Shape[0] != 1 || cornerRow.Shape[1] != 3 {
		t.Fatalf("terminal row tile shape = %v, want [1 3]", cornerRow.Shape)
	}

	slice := []Range{{Start: 2, Stop: 8, Step: 1}, {Start: 2, Stop: 8, Step: 1}}
	entries, err := Resolve(m, slice)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(entries) != 9 {
		t.Fatalf("len(entries) = %d, want 9", len(entries))
	}

	covered := map[[2]int64]bool{}
	for _, e := range entries {
		for r := e.Target[0].Start; r < e.Target[0].End; r++ {
			for c := e.Target[1].Start; c < e.Target[1].End; c++ {
				key := [2]int64{r, c}
				if covered[key] {
					t.Fatalf("target cell %v covered by more than one entry", key)
				}
				covered[key] = true
			}
		}
	}
	if len(covered) != 36 {
		t.Fatalf("covered %d cells, want 36 (6x6)", len(covered))
	}
	for r := int64(0); r < 6; r++ {
		for c := int64(0); c < 6; c++ {
			if !covered[[2]int64{r, c}] {
				t.Fatalf("cell %v not covered", [2]int64{r, c})
			}
		}
	}
}

func TestNormalizeNegativeAndOpenEndpoints(t *testing.T) {
	r, err := Normalize(Range{StartOpen: true, StopOpen: true}, 10, false)
	if err != nil {
		t.Fatal(err)
	}
	if r.Start != 0 || r.Stop != 10 {
		t.Fatalf("full range = %+v", r)
	}

	r, err = Normalize(Range{Start: -3, StopOpen: true}, 10, false)
	if err != nil {
		t.Fatal(err)
	}
	if r.Start != 7 || r.Stop != 10 {
		t.Fatalf("negative start range = %+v", r)
	}
}

func TestNormalizeRejectsNonUnitStepOnWrite(t *testing.T) {
	_, err := Normalize(Range{Start: 0, Stop: 10, Step: 2}, 10, true)
	if err == nil {
		t.Fatal("expected error for non-unit step on write")
	}
}

func TestPlanHonorsExplicitSubarrayShape(t *testing.T) {
	counts, edges, err := Plan([]int64{10, 10}, nil, []int64{3, 3}, 0, 4)
	if err != nil {
		t.Fatal(err)
	}
	if counts[0] != 4 || counts[1] != 4 {
		t.Fatalf("counts = %v, want [4 4]", counts)
	}
	if edges[0][4] != 10 {
		t.Fatalf("last edge = %d, want 10", edges[0][4])
	}
}

func TestPlanRejectsOversizedSubarrayShape(t *testing.T) {
	_, _, err := Plan([]int64{10, 10}, nil, []int64{20, 3}, 0, 4)
	if err == nil {
		t.Fatal("expected PartitioningFailure for oversized subarray_shape")
	}
}

func TestPlanByMaxSubarraySizeFavorsTimeAxis(t *testing.T) {
	// shape (100 time, 4, 4), float32 elements; max 64 bytes => 16 elements.
	counts, _, err := Plan([]int64{100, 4, 4}, []Axis{AxisT, AxisY, AxisX}, nil, 64, 4)
	if err != nil {
		t.Fatal(err)
	}
	if counts[0] <= 1 {
		t.Fatalf("expected the time axis to be split first, counts = %v", counts)
	}
}
