package particles

import (
	"github.com/gogpu/particles/internal/collision"
	"github.com/gogpu/particles/internal/gpu"
	"github.com/gogpu/particles/internal/grid"
	"github.com/gogpu/particles/internal/radix"
	"github.com/gogpu/particles/internal/reorder"
	"github.com/gogpu/particles/internal/scan"
	"github.com/gogpu/particles/internal/verlet"
)

// deviceState composes the GPU side of the engine: the device context,
// one pipeline object per subsystem, and the buffer pool mirroring the
// particle arrays. Every storage buffer has exactly one writer per stage;
// each stage is its own compute pass, so writes of stage k are visible to
// stage k+1.
type deviceState struct {
	ctx *gpu.Context

	verletPipe  *verlet.Pipeline
	gridPipe    *grid.Pipeline
	collPipe    *collision.Pipeline
	scanPipe    *scan.Pipeline
	reorderPipe *reorder.Pipeline

	sorter        *radix.Sorter // 4N cell-key stream
	reorderSorter *radix.Sorter // N home-key stream

	positions, prev, radii             *gpu.Buffer
	shadowPos, shadowPrev, shadowRadii *gpu.Buffer
	cellKeys, objectIDs                *gpu.Buffer
	chunkCounts                        *gpu.Buffer
	collisionCells                     *gpu.Buffer
	dispatchArgs                       *gpu.Buffer

	scanBufs *scan.Buffers

	capacity int
}

// newDeviceState bootstraps the device and builds every pipeline and
// buffer for the given capacity.
func newDeviceState(capacity int) (*deviceState, error) {
	ctx, err := gpu.NewContext()
	if err != nil {
		return nil, err
	}

	d := &deviceState{ctx: ctx}
	device := ctx.Device()

	if d.verletPipe, err = verlet.NewPipeline(device); err != nil {
		d.destroy()
		return nil, err
	}
	if d.gridPipe, err = grid.NewPipeline(device); err != nil {
		d.destroy()
		return nil, err
	}
	if d.collPipe, err = collision.NewPipeline(device); err != nil {
		d.destroy()
		return nil, err
	}
	if d.scanPipe, err = scan.NewPipeline(device); err != nil {
		d.destroy()
		return nil, err
	}
	if d.reorderPipe, err = reorder.NewPipeline(device); err != nil {
		d.destroy()
		return nil, err
	}
	if d.sorter, err = radix.NewSorter(device, 4*capacity); err != nil {
		d.destroy()
		return nil, err
	}
	if d.reorderSorter, err = radix.NewSorter(device, capacity); err != nil {
		d.destroy()
		return nil, err
	}

	if err = d.allocBuffers(capacity); err != nil {
		d.destroy()
		return nil, err
	}

	return d, nil
}

func (d *deviceState) allocBuffers(capacity int) error {
	device := d.ctx.Device()
	c := uint64(capacity)

	var err error
	if d.positions, err = gpu.NewBuffer(device, "positions", 8*c, gpu.UsageStorageUpload); err != nil {
		return err
	}
	if d.prev, err = gpu.NewBuffer(device, "prev_positions", 8*c, gpu.UsageStorageUpload); err != nil {
		return err
	}
	if d.radii, err = gpu.NewBuffer(device, "radii", 4*c, gpu.UsageStorageUpload); err != nil {
		return err
	}
	// Shadow buffers swap into the active role after a reorder, so they
	// carry the same upload usage as their primaries.
	if d.shadowPos, err = gpu.NewBuffer(device, "shadow_positions", 8*c, gpu.UsageStorageUpload); err != nil {
		return err
	}
	if d.shadowPrev, err = gpu.NewBuffer(device, "shadow_prev_positions", 8*c, gpu.UsageStorageUpload); err != nil {
		return err
	}
	if d.shadowRadii, err = gpu.NewBuffer(device, "shadow_radii", 4*c, gpu.UsageStorageUpload); err != nil {
		return err
	}
	if d.cellKeys, err = gpu.NewBuffer(device, "cell_keys", 16*c, gpu.UsageStorage); err != nil {
		return err
	}
	if d.objectIDs, err = gpu.NewBuffer(device, "object_ids", 16*c, gpu.UsageStorage); err != nil {
		return err
	}
	if d.chunkCounts, err = gpu.NewBuffer(device, "chunk_counts", 4*c, gpu.UsageStorage); err != nil {
		return err
	}
	if d.collisionCells, err = gpu.NewBuffer(device, "collision_cells", 16*c, gpu.UsageStorage); err != nil {
		return err
	}
	if d.dispatchArgs, err = gpu.NewBuffer(device, "solver_dispatch_args", 16, gpu.UsageIndirect); err != nil {
		return err
	}

	if d.scanBufs, err = scan.NewBuffers(device, d.chunkCounts, capacity); err != nil {
		return err
	}

	d.capacity = capacity
	return nil
}

func (d *deviceState) destroyBuffers() {
	for _, b := range []*gpu.Buffer{
		d.positions, d.prev, d.radii,
		d.shadowPos, d.shadowPrev, d.shadowRadii,
		d.cellKeys, d.objectIDs,
		d.chunkCounts, d.collisionCells, d.dispatchArgs,
	} {
		if b != nil {
			b.Destroy()
		}
	}
	d.positions, d.prev, d.radii = nil, nil, nil
	d.shadowPos, d.shadowPrev, d.shadowRadii = nil, nil, nil
	d.cellKeys, d.objectIDs = nil, nil
	d.chunkCounts, d.collisionCells, d.dispatchArgs = nil, nil, nil

	if d.scanBufs != nil {
		d.scanBufs.Destroy()
		d.scanBufs = nil
	}
}

// grow reallocates the buffer pool for a larger capacity. Particle state
// is re-uploaded by the caller via uploadParticles.
func (d *deviceState) grow(capacity int) error {
	if capacity <= d.capacity {
		return nil
	}
	d.destroyBuffers()
	if err := d.allocBuffers(capacity); err != nil {
		return err
	}
	if err := d.sorter.Grow(4 * capacity); err != nil {
		return err
	}
	return d.reorderSorter.Grow(capacity)
}

// uploadParticles writes the engine's live particle arrays to the device.
// Called after spawn events, never mid-frame.
func (d *deviceState) uploadParticles(e *Engine) {
	queue := d.ctx.Queue()
	n := e.n
	d.positions.Upload(queue, 0, f32Bytes(e.positions[:2*n]))
	d.prev.Upload(queue, 0, f32Bytes(e.prev[:2*n]))
	d.radii.Upload(queue, 0, f32Bytes(e.radii[:n]))
}

// encodeFrame records and submits the full frame pipeline:
//
//	integrate -> build_cell_ids -> radix_sort -> count_per_chunk
//	-> prefix_sum -> build_collision_cells -> 4x solve(color)
//	-> (periodic) home_keys -> radix_sort -> rearrange
func (d *deviceState) encodeFrame(e *Engine, in FrameInput, didReorder bool) error {
	device := d.ctx.Device()
	queue := d.ctx.Queue()
	n := uint32(e.n)
	totalKeys := 4 * n
	numChunks := uint32(collision.NumChunks(int(totalKeys)))

	fe, err := gpu.BeginFrame(device, queue, "particles_frame")
	if err != nil {
		return err
	}

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
	if err := d.verletPipe.Encode(fe, queue, d.positions, d.prev, d.radii, n, params); err != nil {
		return err
	}

	if err := d.gridPipe.EncodeCellIDs(fe, queue, d.positions, d.radii, d.cellKeys, d.objectIDs, n, e.gridW, e.gridH, e.cellSize); err != nil {
		return err
	}

	if err := d.sorter.Encode(fe, queue, d.cellKeys, d.objectIDs, totalKeys); err != nil {
		return err
	}

	collBufs := &collision.Buffers{
		Positions:      d.positions,
		Radii:          d.radii,
		CellKeys:       d.cellKeys,
		ObjectIDs:      d.objectIDs,
		ChunkCounts:    d.chunkCounts,
		CollisionCells: d.collisionCells,
		DispatchArgs:   d.dispatchArgs,
	}

	if err := d.collPipe.EncodeCount(fe, queue, collBufs, numChunks, totalKeys); err != nil {
		return err
	}
	if err := d.scanPipe.Encode(fe, queue, d.scanBufs, numChunks); err != nil {
		return err
	}
	if err := d.collPipe.EncodeBuild(fe, collBufs, numChunks); err != nil {
		return err
	}

	bound := gpu.WorkgroupCount(totalKeys, collision.SolverWorkgroupSize)
	if err := d.collPipe.EncodeSolve(fe, queue, collBufs, totalKeys, bound, e.cfg.Stiffness); err != nil {
		return err
	}

	if didReorder {
		if err := d.gridPipe.EncodeHomeKeys(fe, queue, d.positions, d.radii, d.cellKeys, d.objectIDs, n, e.cellSize); err != nil {
			return err
		}
		if err := d.reorderSorter.Encode(fe, queue, d.cellKeys, d.objectIDs, n); err != nil {
			return err
		}
		if err := d.reorderPipe.Encode(fe, queue, d.positions, d.prev, d.radii, d.objectIDs, d.shadowPos, d.shadowPrev, d.shadowRadii, n); err != nil {
			return err
		}
		// The rearranged arrays become the active set, mirroring the
		// CPU-side swap.
		d.positions, d.shadowPos = d.shadowPos, d.positions
		d.prev, d.shadowPrev = d.shadowPrev, d.prev
		d.radii, d.shadowRadii = d.shadowRadii, d.radii
	}

	return fe.Submit()
}

func (d *deviceState) destroy() {
	d.destroyBuffers()

	if d.verletPipe != nil {
		d.verletPipe.Destroy()
		d.verletPipe = nil
	}
	if d.gridPipe != nil {
		d.gridPipe.Destroy()
		d.gridPipe = nil
	}
	if d.collPipe != nil {
		d.collPipe.Destroy()
		d.collPipe = nil
	}
	if d.scanPipe != nil {
		d.scanPipe.Destroy()
		d.scanPipe = nil
	}
	if d.reorderPipe != nil {
		d.reorderPipe.Destroy()
		d.reorderPipe = nil
	}
	if d.sorter != nil {
		d.sorter.Destroy()
		d.sorter = nil
	}
	if d.reorderSorter != nil {
		d.reorderSorter.Destroy()
		d.reorderSorter = nil
	}
	if d.ctx != nil {
		d.ctx.Close()
		d.ctx = nil
	}
}

// f32Bytes serializes a float32 slice little-endian for buffer upload.
func f32Bytes(xs []float32) []byte {
	return appendF32s(make([]byte, 0, 4*len(xs)), xs)
}
