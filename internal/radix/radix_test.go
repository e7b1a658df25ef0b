package radix

import (
	"math/rand"
	"sort"
	"testing"
)

func TestSortSmall(t *testing.T) {
	tests := []struct {
		name string
		keys []uint32
	}{
		{"empty", nil},
		{"single", []uint32{42}},
		{"sorted", []uint32{1, 2, 3, 4}},
		{"reversed", []uint32{9, 7, 5, 3, 1}},
		{"duplicates", []uint32{5, 5, 5, 1, 1, 9}},
		{"high bits", []uint32{0xFFFFFFFF, 0, 0x80000000, 0x7FFFFFFF}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys := append([]uint32(nil), tt.keys...)
			payload := make([]uint32, len(keys))
			for i := range payload {
				payload[i] = uint32(i)
			}

			Sort(keys, payload)

			for i := 1; i < len(keys); i++ {
				if keys[i-1] > keys[i] {
					t.Fatalf("keys not sorted at %d: %d > %d", i, keys[i-1], keys[i])
				}
			}
			// Payload must still pair with its original key.
			for i := range keys {
				if tt.keys[payload[i]] != keys[i] {
					t.Errorf("payload %d carries key %d, want %d", payload[i], keys[i], tt.keys[payload[i]])
				}
			}
		})
	}
}

func TestSortLargeRandom(t *testing.T) {
	const n = 100_000
	rng := rand.New(rand.NewSource(99))

	original := make([]uint32, n)
	for i := range original {
		original[i] = rng.Uint32()
	}

	keys := append([]uint32(nil), original...)
	payload := make([]uint32, n)
	for i := range payload {
		payload[i] = uint32(i)
	}

	Sort(keys, payload)

	want := append([]uint32(nil), original...)
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })

	for i := range keys {
		if keys[i] != want[i] {
			t.Fatalf("keys[%d] = %d, want %d", i, keys[i], want[i])
		}
		if original[payload[i]] != keys[i] {
			t.Fatalf("payload bijection broken at %d", i)
		}
	}

	// Every payload appears exactly once.
	seen := make([]bool, n)
	for _, p := range payload {
		if seen[p] {
			t.Fatalf("payload %d appears twice", p)
		}
		seen[p] = true
	}
}

func TestSortDeterministicEqualKeys(t *testing.T) {
	// Within one frame the scatter's equal-key order is fully determined;
	// two runs over the same input must agree payload for payload.
	const n = 4 * ElemsPerWorkgroup
	rng := rand.New(rand.NewSource(3))

	keys := make([]uint32, n)
	for i := range keys {
		keys[i] = uint32(rng.Intn(64)) // heavy duplication
	}

	run := func() []uint32 {
		k := append([]uint32(nil), keys...)
		p := make([]uint32, n)
		for i := range p {
			p[i] = uint32(i)
		}
		Sort(k, p)
		return p
	}

	p1 := run()
	p2 := run()
	for i := range p1 {
		if p1[i] != p2[i] {
			t.Fatalf("equal-key order differs at %d: %d vs %d", i, p1[i], p2[i])
		}
	}
}

func TestSortUnusedSentinelLast(t *testing.T) {
	// UNUSED slots (all bits set) must sort to the end of the stream.
	keys := []uint32{0xFFFFFFFF, 3, 0xFFFFFFFF, 1, 2}
	payload := []uint32{0, 1, 2, 3, 4}

	Sort(keys, payload)

	if keys[0] != 1 || keys[1] != 2 || keys[2] != 3 {
		t.Fatalf("live keys misplaced: %v", keys)
	}
	if keys[3] != 0xFFFFFFFF || keys[4] != 0xFFFFFFFF {
		t.Fatalf("sentinels not last: %v", keys)
	}
}

func TestSortWorkgroupBoundary(t *testing.T) {
	// Lengths straddling the per-workgroup element count exercise the
	// multi-workgroup scatter base derivation.
	for _, n := range []int{ElemsPerWorkgroup - 1, ElemsPerWorkgroup, ElemsPerWorkgroup + 1, 2*ElemsPerWorkgroup + 7} {
		rng := rand.New(rand.NewSource(int64(n)))
		keys := make([]uint32, n)
		for i := range keys {
			keys[i] = rng.Uint32()
		}
		payload := make([]uint32, n)
		for i := range payload {
			payload[i] = uint32(i)
		}

		Sort(keys, payload)

		for i := 1; i < n; i++ {
			if keys[i-1] > keys[i] {
				t.Fatalf("n=%d: not sorted at %d", n, i)
			}
		}
	}
}

func BenchmarkSort(b *testing.B) {
	const n = 1 << 20
	rng := rand.New(rand.NewSource(1))
	keys := make([]uint32, n)
	for i := range keys {
		keys[i] = rng.Uint32()
	}
	payload := make([]uint32, n)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		k := append([]uint32(nil), keys...)
		Sort(k, payload)
	}
}
