package collision

import (
	"math/rand"
	"testing"

	"github.com/gogpu/particles/internal/radix"
	"github.com/gogpu/particles/internal/scan"
)

// extract runs the full extractor sequence on a sorted key stream and
// returns the collision-cell list.
func extract(t *testing.T, keys []uint32) []uint32 {
	t.Helper()
	counts := make([]uint32, NumChunks(len(keys)))
	CountChunks(counts, keys)
	total := scan.Exclusive(counts)

	cells := make([]uint32, total)
	EmitCollisionCells(cells, counts, keys)
	return cells
}

// referenceCells computes the expected result directly: the start index
// of every run of length >= 2 among non-sentinel keys.
func referenceCells(keys []uint32) []uint32 {
	var cells []uint32
	i := 0
	for i < len(keys) {
		if keys[i] == UnusedKey {
			break
		}
		j := i + 1
		for j < len(keys) && keys[j] == keys[i] {
			j++
		}
		if j-i >= 2 {
			cells = append(cells, uint32(i))
		}
		i = j
	}
	return cells
}

func equalU32(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestExtractorBasic(t *testing.T) {
	tests := []struct {
		name string
		keys []uint32
		want []uint32
	}{
		{"empty", nil, nil},
		{"no repeats", []uint32{1, 2, 3, 4, 5, 6, 7, 8}, nil},
		{"one pair", []uint32{1, 1, 2, 3}, []uint32{0}},
		{"pair mid chunk", []uint32{1, 2, 2, 3}, []uint32{1}},
		{"two cells", []uint32{1, 1, 2, 2}, []uint32{0, 2}},
		{"run of four", []uint32{5, 5, 5, 5}, []uint32{0}},
		{"trailing sentinels", []uint32{1, 1, UnusedKey, UnusedKey}, []uint32{0}},
		{"all sentinels", []uint32{UnusedKey, UnusedKey, UnusedKey, UnusedKey}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extract(t, tt.keys)
			if !equalU32(got, tt.want) {
				t.Errorf("cells = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractorChunkBoundaries(t *testing.T) {
	// Adversarial cases for the chunk-walk exit conditions: runs that
	// span exactly one chunk boundary, and chunks whose first key equals
	// the previous chunk's last key. Count and emit share one walk, so
	// the accounting must land in the chunk holding the run's start.
	tests := []struct {
		name string
		keys []uint32
	}{
		{"run across boundary", []uint32{1, 2, 3, 7, 7, 8, 9, 10}},
		{"run ends at boundary", []uint32{1, 2, 7, 7, 8, 9, 10, 11}},
		{"run fills chunk", []uint32{7, 7, 7, 7, 8, 9, 10, 11}},
		{"run spans whole second chunk", []uint32{1, 2, 3, 7, 7, 7, 7, 7, 9, 10, 11, 12}},
		{"back to back runs at boundary", []uint32{1, 2, 7, 7, 9, 9, 10, 11}},
		{"run starts at chunk start", []uint32{1, 2, 3, 4, 7, 7, 8, 9}},
		{"long run through three chunks", []uint32{7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 8, 9}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extract(t, tt.keys)
			want := referenceCells(tt.keys)
			if !equalU32(got, want) {
				t.Errorf("cells = %v, want %v (keys %v)", got, want, tt.keys)
			}
		})
	}
}

func TestExtractorTotalsMatchDistinctCells(t *testing.T) {
	// The extractor total equals the number of distinct multiply-
	// occupied cells, under adversarial random streams.
	rng := rand.New(rand.NewSource(23))

	for trial := 0; trial < 100; trial++ {
		n := 4 * (1 + rng.Intn(64))
		keys := make([]uint32, n)
		for i := range keys {
			keys[i] = uint32(rng.Intn(12)) // dense duplication
		}
		radix.Sort(keys, make([]uint32, n))

		counts := make([]uint32, NumChunks(n))
		CountChunks(counts, keys)
		total := scan.Exclusive(counts)

		if want := uint32(len(referenceCells(keys))); total != want {
			t.Fatalf("trial %d: total = %d, want %d (keys %v)", trial, total, want, keys)
		}
	}
}

func TestExtractorPostcondition(t *testing.T) {
	// For every multiply-occupied cell there is exactly one emitted index,
	// it points at the run start, and its key is the cell's key.
	rng := rand.New(rand.NewSource(31))
	n := 4 * 256
	keys := make([]uint32, n)
	for i := range keys {
		keys[i] = uint32(rng.Intn(100))
	}
	radix.Sort(keys, make([]uint32, n))

	cells := extract(t, keys)
	seen := make(map[uint32]bool)
	for _, s := range cells {
		key := keys[s]
		if seen[key] {
			t.Fatalf("cell key %#x emitted twice", key)
		}
		seen[key] = true
		if s > 0 && keys[s-1] == key {
			t.Fatalf("index %d is not a run start", s)
		}
		if int(s+1) >= len(keys) || keys[s+1] != key {
			t.Fatalf("index %d is not a multi-occupancy run", s)
		}
	}
}

func TestExtractorDeterminism(t *testing.T) {
	// Identical inputs produce identical collision-cell buffers.
	rng := rand.New(rand.NewSource(123))
	n := 4 * 512
	keys := make([]uint32, n)
	for i := range keys {
		keys[i] = uint32(rng.Intn(64))
	}
	radix.Sort(keys, make([]uint32, n))

	a := extract(t, keys)
	b := extract(t, keys)
	if !equalU32(a, b) {
		t.Fatal("extractor output differs across identical runs")
	}
}

func TestDispatchArgs(t *testing.T) {
	tests := []struct {
		total uint32
		want  uint32
	}{
		{0, 0}, {1, 1}, {63, 1}, {64, 1}, {65, 2}, {1000, 16},
	}
	for _, tt := range tests {
		args := DispatchArgs(tt.total)
		if args[0] != tt.want || args[1] != 1 || args[2] != 1 {
			t.Errorf("DispatchArgs(%d) = %v, want {%d 1 1}", tt.total, args, tt.want)
		}
	}
}
