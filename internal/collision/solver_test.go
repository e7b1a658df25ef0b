package collision

import (
	"math"
	"testing"

	"github.com/gogpu/particles/internal/grid"
	"github.com/gogpu/particles/internal/radix"
	"github.com/gogpu/particles/internal/scan"
)

// buildStreams runs grid build + sort + extraction for a particle set and
// returns everything the solver consumes.
func buildStreams(t *testing.T, positions, radii []float32, cellSize float32) (keys, ids, cells []uint32, total int) {
	t.Helper()
	n := len(radii)
	keys = make([]uint32, 4*n)
	ids = make([]uint32, 4*n)
	grid.BuildCellIDs(keys, ids, positions, radii, n, cellSize, 1<<16-1, 1<<16-1)
	radix.Sort(keys, ids)

	counts := make([]uint32, NumChunks(len(keys)))
	CountChunks(counts, keys)
	tot := scan.Exclusive(counts)
	cells = make([]uint32, tot)
	EmitCollisionCells(cells, counts, keys)
	return keys, ids, cells, int(tot)
}

func solveAllColors(positions, radii []float32, keys, ids, cells []uint32, total int) {
	for color := uint32(1); color <= 4; color++ {
		Solve(positions, radii, keys, ids, cells, total, color, Stiffness)
	}
}

func dist(positions []float32, a, b int) float64 {
	dx := float64(positions[2*a] - positions[2*b])
	dy := float64(positions[2*a+1] - positions[2*b+1])
	return math.Hypot(dx, dy)
}

func TestCellColor(t *testing.T) {
	tests := []struct {
		x, y uint32
		want uint32
	}{
		{0, 0, 1}, {1, 0, 2}, {0, 1, 3}, {1, 1, 4},
		{2, 2, 1}, {3, 2, 2}, {2, 3, 3}, {3, 3, 4},
	}
	for _, tt := range tests {
		if got := CellColor(grid.Morton(tt.x, tt.y)); got != tt.want {
			t.Errorf("CellColor(%d,%d) = %d, want %d", tt.x, tt.y, got, tt.want)
		}
	}
}

func TestHeadOnPair(t *testing.T) {
	// Two unit disks at distance 1.5 on the y=10 line: one pass moves
	// them symmetrically to distance 2 - (1-Stiffness)*overlap = 1.8.
	positions := []float32{10, 10, 11.5, 10}
	radii := []float32{1, 1}
	cellSize := grid.CellSize(1)

	keys, ids, cells, total := buildStreams(t, positions, radii, cellSize)
	if total == 0 {
		t.Fatal("overlapping pair produced no collision cell")
	}

	solveAllColors(positions, radii, keys, ids, cells, total)

	wantMin := 2 - (1-Stiffness)*0.5 - 1e-4
	if d := dist(positions, 0, 1); d < float64(wantMin) {
		t.Errorf("distance after pass = %f, want >= %f", d, wantMin)
	}
	if positions[1] != 10 || positions[3] != 10 {
		t.Errorf("pair left the y=10 line: %v", positions)
	}
	// Symmetric correction: both pushed apart along x by the same amount.
	if math.Abs(float64(10-positions[0])-float64(positions[2]-11.5)) > 1e-5 {
		t.Errorf("asymmetric correction: %v", positions)
	}
}

func TestUnequalRadiiWeighting(t *testing.T) {
	// Inverse-radius weighting: w = 1/r, and each particle moves in
	// proportion to its own weight's share, so the displacement ratio
	// equals w_a/w_b: the smaller disk moves more.
	positions := []float32{10, 10, 12, 10}
	radii := []float32{1, 2} // overlap: 3 - 2 = 1

	keysLen := 8
	keys := make([]uint32, keysLen)
	ids := make([]uint32, keysLen)
	grid.BuildCellIDs(keys, ids, positions, radii, 2, grid.CellSize(2), 1<<15, 1<<15)
	radix.Sort(keys, ids)
	counts := make([]uint32, NumChunks(keysLen))
	CountChunks(counts, keys)
	total := scan.Exclusive(counts)
	cells := make([]uint32, total)
	EmitCollisionCells(cells, counts, keys)

	before := append([]float32(nil), positions...)
	solveAllColors(positions, radii, keys, ids, cells, int(total))

	moveA := math.Abs(float64(positions[0] - before[0]))
	moveB := math.Abs(float64(positions[2] - before[2]))
	if moveA == 0 || moveB == 0 {
		t.Fatalf("pair did not move: %v", positions)
	}
	// w_a = 1, w_b = 0.5: particle a receives w_a/(w_a+w_b) of its
	// correction, particle b receives w_b/(w_a+w_b).
	if ratio := moveA / moveB; math.Abs(ratio-2) > 1e-3 {
		t.Errorf("move ratio = %f, want 2", ratio)
	}
}

func TestCoincidentCentersSkipped(t *testing.T) {
	// r = 0 pairs are skipped rather than emitting NaN.
	positions := []float32{10, 10, 10, 10}
	radii := []float32{1, 1}
	cellSize := grid.CellSize(1)

	keys, ids, cells, total := buildStreams(t, positions, radii, cellSize)
	solveAllColors(positions, radii, keys, ids, cells, total)

	for i, v := range positions {
		if math.IsNaN(float64(v)) {
			t.Fatalf("position %d is NaN", i)
		}
	}
	if positions[0] != 10 || positions[2] != 10 {
		t.Errorf("coincident pair moved: %v", positions)
	}
}

func TestColorPassesDisjoint(t *testing.T) {
	// Within one color pass, no particle is touched by two cells.
	// Run each color serially and record write sets per cell.
	positions := []float32{
		5, 5, 5.8, 5, // cell (2,2) region, overlapping pair
		27, 5, 27.8, 5, // far cell, overlapping pair
		5, 27, 5.8, 27, // another far cell
	}
	radii := []float32{1, 1, 1, 1, 1, 1}
	cellSize := grid.CellSize(1)

	keys, ids, cells, total := buildStreams(t, positions, radii, cellSize)

	for color := uint32(1); color <= 4; color++ {
		touched := make(map[uint32]int)
		for t0 := 0; t0 < total; t0++ {
			s := int(cells[t0])
			if CellColor(keys[s]) != color {
				continue
			}
			e := s + 1
			for e < len(keys) && keys[e] == keys[s] {
				e++
			}
			for i := s; i < e; i++ {
				touched[ids[i]]++
				if touched[ids[i]] > 1 {
					t.Fatalf("color %d: particle %d claimed by two cells", color, ids[i])
				}
			}
		}
	}
}

func TestCornerConvergence(t *testing.T) {
	// Scenario 6: four particles meeting at a 2x2 cell corner converge,
	// over repeated full color sweeps, to pairwise distance >= sum of
	// radii minus epsilon.
	cellSize := grid.CellSize(1)
	corner := 2 * cellSize
	positions := []float32{
		corner - 0.5, corner - 0.5,
		corner + 0.5, corner - 0.5,
		corner - 0.5, corner + 0.5,
		corner + 0.5, corner + 0.5,
	}
	radii := []float32{1, 1, 1, 1}

	for iter := 0; iter < 200; iter++ {
		keys, ids, cells, total := buildStreams(t, positions, radii, cellSize)
		solveAllColors(positions, radii, keys, ids, cells, total)
	}

	const eps = 1e-2
	for a := 0; a < 4; a++ {
		for b := a + 1; b < 4; b++ {
			if d := dist(positions, a, b); d < 2-eps {
				t.Errorf("pair (%d,%d) distance %f < %f", a, b, d, 2-eps)
			}
		}
	}
}
