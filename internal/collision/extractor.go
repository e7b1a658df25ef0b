// Package collision turns the sorted cell-key stream into the frame's
// collision-cell work list and resolves the pairwise overlaps it names.
//
// The extractor partitions the sorted stream into fixed chunks of four
// keys. Each multiply-occupied cell is accounted to exactly one chunk —
// the chunk holding the first element of its run — so the per-chunk
// counts partition cleanly and their prefix sum assigns disjoint output
// ranges.
package collision

const (
	// ChunkSize is the number of sorted keys per counting chunk.
	ChunkSize = 4

	// WorkgroupSize is the thread count for the extractor kernels.
	WorkgroupSize = 64

	// SolverWorkgroupSize sizes the indirect dispatch for the solver.
	SolverWorkgroupSize = 64

	// UnusedKey is the empty-slot sentinel; it terminates every walk.
	UnusedKey = ^uint32(0)
)

// NumChunks returns the chunk count covering a key stream of length n.
func NumChunks(n int) int {
	return (n + ChunkSize - 1) / ChunkSize
}

// walkChunk visits every maximal run of equal keys whose first element
// lies in chunk c, calling fn(start, length) for runs of length >= 2.
//
// Both the count and the emit kernels use this one walk, which keeps the
// two passes symmetric by construction: a run spanning a chunk boundary
// is visited only by the chunk holding its first element, and a chunk
// whose first key continues the previous chunk's run skips that run
// entirely before counting.
func walkChunk(keys []uint32, c int, fn func(start, length int)) {
	lo := c * ChunkSize
	hi := lo + ChunkSize
	if hi > len(keys) {
		hi = len(keys)
	}

	i := lo
	// A chunk that starts mid-run belongs to an earlier chunk's walk;
	// skip to the run's end before accounting anything.
	if lo > 0 && keys[lo] == keys[lo-1] {
		carried := keys[lo-1]
		for i < len(keys) && keys[i] == carried {
			i++
		}
	}

	// Runs are accounted where they start; the walk may extend past the
	// chunk's own keys to measure a run's full length.
	for i < hi {
		k := keys[i]
		if k == UnusedKey {
			return
		}
		j := i + 1
		for j < len(keys) && keys[j] == k {
			j++
		}
		if j-i >= 2 {
			fn(i, j-i)
		}
		i = j
	}
}

// CountChunks writes, for each chunk, the number of multiply-occupied
// cells whose run begins in that chunk. counts must have NumChunks(len(keys))
// elements.
func CountChunks(counts []uint32, keys []uint32) {
	CountChunksRange(counts, keys, 0, len(counts))
}

// CountChunksRange is the kernel body over a chunk index range; used by
// the range-parallel executor. Chunk walks only read the key stream, so
// ranges are safe to run concurrently.
func CountChunksRange(counts []uint32, keys []uint32, lo, hi int) {
	for c := lo; c < hi; c++ {
		var n uint32
		walkChunk(keys, c, func(int, int) { n++ })
		counts[c] = n
	}
}

// EmitCollisionCells re-walks every chunk and writes the sorted-stream
// index of each qualifying run's first element into cells at the offsets
// assigned by the scanned chunk counts. chunkPrefix must hold the
// exclusive prefix sum of the chunk counts.
func EmitCollisionCells(cells []uint32, chunkPrefix []uint32, keys []uint32) {
	for c := range chunkPrefix {
		out := int(chunkPrefix[c])
		walkChunk(keys, c, func(start, _ int) {
			cells[out] = uint32(start)
			out++
		})
	}
}

// DispatchArgs builds the indirect dispatch arguments for the solver:
// one workgroup per SolverWorkgroupSize collision cells.
func DispatchArgs(total uint32) [3]uint32 {
	return [3]uint32{(total + SolverWorkgroupSize - 1) / SolverWorkgroupSize, 1, 1}
}
