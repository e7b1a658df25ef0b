// Package particles is a real-time 2D particle simulation engine. Each
// frame an unsorted particle array is turned into a conflict-free set of
// pairwise collision resolutions: a uniform spatial grid emits Morton cell
// keys, a keyed radix sort clusters them, a segmented extractor finds
// every multiply-occupied cell, and a graph-colored solver applies
// Verlet-consistent positional corrections without data races.
//
// The engine is hybrid: when a GPU adapter is available the full pipeline
// is compiled to WGSL compute kernels and dispatched every frame; the CPU
// reference kernels implement the identical algorithms and carry the
// observable state while HAL buffer readback matures.
package particles

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"time"

	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/particles/internal/collision"
	"github.com/gogpu/particles/internal/grid"
	"github.com/gogpu/particles/internal/radix"
	"github.com/gogpu/particles/internal/reorder"
	"github.com/gogpu/particles/internal/scan"
	"github.com/gogpu/particles/internal/verlet"
	"github.com/gogpu/particles/telemetry"
)

// Engine errors.
var (
	// ErrEngineClosed is returned when using an engine after Close.
	ErrEngineClosed = errors.New("particles: engine is closed")

	// ErrInvalidSpawn is returned when a spawn radius is out of range.
	ErrInvalidSpawn = errors.New("particles: spawn radius out of range")

	// ErrWorldTooLarge is returned when the grid exceeds the 16-bit cell
	// coordinate range of the Morton encoding.
	ErrWorldTooLarge = errors.New("particles: world too large for cell size")
)

// maxGridDim is the cell-coordinate bound of the 16-bit Morton interleave.
const maxGridDim = 1 << 16

// FrameInput carries the host-to-core per-frame inputs.
type FrameInput struct {
	// DeltaTime is the frame step in seconds.
	DeltaTime float32

	// MousePos is the pointer position in world units.
	MousePos [2]float32

	// AttractPressed enables pointer attraction this frame.
	AttractPressed bool
}

// Engine owns the particle state, the buffer pool, and the per-frame
// dispatch sequence. It is not safe for concurrent use; one goroutine
// drives the frame loop.
type Engine struct {
	cfg  Config
	opts engineOptions

	n        int
	capacity int

	// Active and shadow particle arrays; the Morton reorder swaps roles.
	positions, prev, radii             []float32
	shadowPos, shadowPrev, shadowRadii []float32

	// Transient per-frame streams, sized 4*capacity / capacity.
	cellKeys, objectIDs   []uint32
	chunkCounts           []uint32
	collisionCells        []uint32
	homeKeys, particleIDs []uint32

	cellSize     float32
	gridW, gridH uint32

	simTime     float32
	lastReorder float32

	rng     *rand.Rand
	workers int

	perf  *telemetry.PerfCollector
	trace *telemetry.TraceWriter

	dev    *deviceState
	closed bool
}

// New creates an engine from a validated configuration. GPU bootstrap is
// attempted unless WithCPUOnly is given; failure falls back to the CPU
// reference path with a warning.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := defaultEngineOptions()
	for _, opt := range opts {
		opt(&o)
	}

	cellSize := cfg.CellSize()
	gridW := uint32(math.Ceil(float64(cfg.WorldSize[0] / cellSize)))
	gridH := uint32(math.Ceil(float64(cfg.WorldSize[1] / cellSize)))
	// Cell coordinates stay below 0xFFFF so no live key can equal
	// Morton(0xFFFF, 0xFFFF), the unused-slot sentinel.
	if gridW >= maxGridDim || gridH >= maxGridDim {
		return nil, fmt.Errorf("%w: grid %dx%d exceeds %d", ErrWorldTooLarge, gridW, gridH, maxGridDim-1)
	}

	workers := o.workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	e := &Engine{
		cfg:      cfg,
		opts:     o,
		cellSize: cellSize,
		gridW:    gridW,
		gridH:    gridH,
		rng:      rand.New(rand.NewSource(o.seed)),
		workers:  workers,
		perf:     telemetry.NewPerfCollector(cfg.PerfWindow),
	}
	if o.tracing {
		e.trace = telemetry.NewTraceWriter()
	}
	e.alloc(cfg.Capacity)

	if !o.cpuOnly {
		dev, err := newDeviceState(cfg.Capacity)
		if err != nil {
			slogger().Warn("particles: GPU unavailable, using CPU reference path", "error", err)
		} else {
			e.dev = dev
			slogger().Info("particles: GPU pipeline ready", "adapter", dev.ctx.AdapterName())
		}
	}

	return e, nil
}

// alloc sizes every array for the given particle capacity, preserving the
// live prefix.
func (e *Engine) alloc(capacity int) {
	grow := func(s []float32, size int) []float32 {
		out := make([]float32, size)
		copy(out, s)
		return out
	}
	e.positions = grow(e.positions, 2*capacity)
	e.prev = grow(e.prev, 2*capacity)
	e.radii = grow(e.radii, capacity)
	e.shadowPos = make([]float32, 2*capacity)
	e.shadowPrev = make([]float32, 2*capacity)
	e.shadowRadii = make([]float32, capacity)

	e.cellKeys = make([]uint32, 4*capacity)
	e.objectIDs = make([]uint32, 4*capacity)
	e.chunkCounts = make([]uint32, capacity)
	e.collisionCells = make([]uint32, 4*capacity)
	e.homeKeys = make([]uint32, capacity)
	e.particleIDs = make([]uint32, capacity)

	e.capacity = capacity
}

// Len returns the live particle count.
func (e *Engine) Len() int { return e.n }

// SimTime returns the accumulated simulated seconds.
func (e *Engine) SimTime() float32 { return e.simTime }

// Perf returns the engine's telemetry collector.
func (e *Engine) Perf() *telemetry.PerfCollector { return e.perf }

// Trace returns the chrome-trace recorder, or nil without WithTracing.
func (e *Engine) Trace() *telemetry.TraceWriter { return e.trace }

// GPUReady reports whether the GPU pipeline is live.
func (e *Engine) GPUReady() bool { return e.dev != nil }

// Step advances the simulation by one frame: integrate, build cell keys,
// sort, extract collision cells, then resolve per color, with the
// periodic Morton reorder at its configured interval. Per-frame GPU
// submission failures are logged and the GPU frame dropped; device state
// stays consistent because every transient buffer is rewritten by its
// producer next frame.
func (e *Engine) Step(in FrameInput) error {
	if e.closed {
		return ErrEngineClosed
	}

	frameStart := time.Now()
	e.perf.StartFrame()

	didReorder := false

	if e.n > 0 {
		e.stepKernels(in)

		e.simTime += in.DeltaTime
		if e.cfg.ReorderInterval > 0 && e.simTime-e.lastReorder >= e.cfg.ReorderInterval {
			e.perf.StartStage(telemetry.StageReorder)
			e.reorderNow()
			e.lastReorder = e.simTime
			didReorder = true
		}
	} else {
		e.simTime += in.DeltaTime
	}

	if e.dev != nil && e.n > 0 {
		if err := e.dev.encodeFrame(e, in, didReorder); err != nil {
			slogger().Warn("particles: GPU frame dropped", "error", err, "frame", e.perf.FrameIndex())
		}
	}

	e.perf.EndFrame()
	if e.trace != nil {
		e.recordTrace(frameStart)
	}
	return nil
}

// stepKernels runs the CPU reference pipeline for one frame and returns
// the collision-cell total.
func (e *Engine) stepKernels(in FrameInput) uint32 {
	n := e.n
	totalKeys := 4 * n

	e.perf.StartStage(telemetry.StageIntegrate)
	params := verlet.Params{
		Dt:              in.DeltaTime,
		WorldW:          e.cfg.WorldSize[0],
		WorldH:          e.cfg.WorldSize[1],
		GravityX:        e.cfg.Gravity[0],
		GravityY:        e.cfg.Gravity[1],
		MouseX:          in.MousePos[0],
		MouseY:          in.MousePos[1],
		Attract:         in.AttractPressed,
		AttractStrength: e.cfg.AttractStrength,
	}
	e.parallelRange(n, func(lo, hi int) {
		verlet.IntegrateRange(e.positions, e.prev, e.radii, lo, hi, params)
	})

	e.perf.StartStage(telemetry.StageCellIDs)
	e.parallelRange(n, func(lo, hi int) {
		grid.BuildCellIDsRange(e.cellKeys, e.objectIDs, e.positions, e.radii, lo, hi, e.cellSize, e.gridW, e.gridH)
	})

	e.perf.StartStage(telemetry.StageSort)
	radix.Sort(e.cellKeys[:totalKeys], e.objectIDs[:totalKeys])

	e.perf.StartStage(telemetry.StageCountChunks)
	keys := e.cellKeys[:totalKeys]
	counts := e.chunkCounts[:collision.NumChunks(totalKeys)]
	e.parallelRange(len(counts), func(lo, hi int) {
		collision.CountChunksRange(counts, keys, lo, hi)
	})

	e.perf.StartStage(telemetry.StageScan)
	total := scan.Exclusive(counts)

	e.perf.StartStage(telemetry.StageBuildCells)
	collision.EmitCollisionCells(e.collisionCells, counts, keys)

	e.perf.StartStage(telemetry.StageSolve)
	for color := uint32(1); color <= 4; color++ {
		collision.Solve(e.positions, e.radii, keys, e.objectIDs[:totalKeys], e.collisionCells, int(total), color, e.cfg.Stiffness)
	}

	return total
}

// reorderNow permutes the particle arrays into home-cell Morton order and
// swaps the active and shadow roles. Observable state is unchanged up to
// permutation.
func (e *Engine) reorderNow() {
	n := e.n
	grid.HomeKeys(e.homeKeys[:n], e.particleIDs[:n], e.positions, n, e.cellSize)
	radix.Sort(e.homeKeys[:n], e.particleIDs[:n])

	ids := e.particleIDs[:n]
	e.parallelRange(n, func(lo, hi int) {
		reorder.RearrangeRange(e.shadowPos, e.shadowPrev, e.shadowRadii,
			e.positions, e.prev, e.radii, ids, lo, hi)
	})

	e.positions, e.shadowPos = e.shadowPos, e.positions
	e.prev, e.shadowPrev = e.shadowPrev, e.prev
	e.radii, e.shadowRadii = e.shadowRadii, e.radii
}

// Spawn appends count particles at center plus a small jitter, with zero
// velocity and the given radius. Capacity grows to the next power of two
// when exceeded; existing data is preserved.
func (e *Engine) Spawn(count int, center [2]float32, radius float32) error {
	if e.closed {
		return ErrEngineClosed
	}
	if count <= 0 {
		return nil
	}
	if radius <= 0 || radius > e.cfg.MaxRadius {
		return fmt.Errorf("%w: %v (max %v)", ErrInvalidSpawn, radius, e.cfg.MaxRadius)
	}

	if err := e.ensureCapacity(e.n + count); err != nil {
		return err
	}

	for i := 0; i < count; i++ {
		k := e.n + i
		jx := (e.rng.Float32() - 0.5) * radius
		jy := (e.rng.Float32() - 0.5) * radius
		x := clampf(center[0]+jx, radius, e.cfg.WorldSize[0]-radius)
		y := clampf(center[1]+jy, radius, e.cfg.WorldSize[1]-radius)
		e.positions[2*k] = x
		e.positions[2*k+1] = y
		e.prev[2*k] = x
		e.prev[2*k+1] = y
		e.radii[k] = radius
	}
	e.n += count

	if e.dev != nil {
		e.dev.uploadParticles(e)
	}

	slogger().Debug("particles: spawned", "count", count, "total", e.n)
	return nil
}

// SpawnRandom scatters count particles uniformly over the world with the
// given radius, matching the engine's startup population.
func (e *Engine) SpawnRandom(count int, radius float32) error {
	if e.closed {
		return ErrEngineClosed
	}
	if radius <= 0 || radius > e.cfg.MaxRadius {
		return fmt.Errorf("%w: %v (max %v)", ErrInvalidSpawn, radius, e.cfg.MaxRadius)
	}
	if err := e.ensureCapacity(e.n + count); err != nil {
		return err
	}

	for i := 0; i < count; i++ {
		k := e.n + i
		x := radius + e.rng.Float32()*(e.cfg.WorldSize[0]-2*radius)
		y := radius + e.rng.Float32()*(e.cfg.WorldSize[1]-2*radius)
		e.positions[2*k] = x
		e.positions[2*k+1] = y
		e.prev[2*k] = x
		e.prev[2*k+1] = y
		e.radii[k] = radius
	}
	e.n += count

	if e.dev != nil {
		e.dev.uploadParticles(e)
	}
	return nil
}

// ensureCapacity grows the buffer pool to the next power of two covering
// need. Recovered growth is never surfaced to the caller.
func (e *Engine) ensureCapacity(need int) error {
	if need <= e.capacity {
		return nil
	}
	capacity := e.capacity
	for capacity < need {
		capacity *= 2
	}

	slogger().Info("particles: growing buffer pool", "from", e.capacity, "to", capacity)
	e.alloc(capacity)

	if e.dev != nil {
		if err := e.dev.grow(capacity); err != nil {
			// The GPU pool could not follow; drop to the CPU path rather
			// than fail the spawn.
			slogger().Warn("particles: GPU pool growth failed, disabling GPU path", "error", err)
			e.dev.destroy()
			e.dev = nil
		}
	}
	return nil
}

// StateDigest hashes the live particle state (positions, previous
// positions, radii). Identical runs produce identical digests.
func (e *Engine) StateDigest() uint64 {
	n := e.n
	buf := make([]byte, 0, 4*(2*n+2*n+n))
	buf = appendF32s(buf, e.positions[:2*n])
	buf = appendF32s(buf, e.prev[:2*n])
	buf = appendF32s(buf, e.radii[:n])
	return xxh3.Hash(buf)
}

// Close releases all engine resources. Idempotent.
func (e *Engine) Close() {
	if e.closed {
		return
	}
	e.closed = true
	if e.dev != nil {
		e.dev.destroy()
		e.dev = nil
	}
}

// parallelRange splits [0, n) across the worker pool. Ranges are
// disjoint, so the kernels stay deterministic.
func (e *Engine) parallelRange(n int, fn func(lo, hi int)) {
	const minPerWorker = 2048
	if e.workers == 1 || n < 2*minPerWorker {
		fn(0, n)
		return
	}

	workers := e.workers
	if limit := n / minPerWorker; workers > limit {
		workers = limit
	}

	var g errgroup.Group
	chunk := (n + workers - 1) / workers
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := min(lo+chunk, n)
		if lo >= hi {
			break
		}
		g.Go(func() error {
			fn(lo, hi)
			return nil
		})
	}
	_ = g.Wait() // kernels do not fail
}

func (e *Engine) recordTrace(frameStart time.Time) {
	sample, ok := e.perf.LastSample()
	if !ok {
		return
	}
	e.trace.RecordFrame(frameStart, sample)
}

func appendF32s(buf []byte, xs []float32) []byte {
	for _, x := range xs {
		bits := math.Float32bits(x)
		buf = append(buf, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
	}
	return buf
}

func clampf(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
