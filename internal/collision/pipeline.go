package collision

import (
	_ "embed"
	"encoding/binary"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/particles/internal/gpu"
)

//go:embed shaders/collision_cells.wgsl
var cellsShaderSource string

//go:embed shaders/collision_solver.wgsl
var solverShaderSource string

// Pipeline holds the extractor and solver pipelines.
type Pipeline struct {
	device hal.Device

	cellsModule  hal.ShaderModule
	solverModule hal.ShaderModule

	countChunks *gpu.Pipeline
	buildCells  *gpu.Pipeline
	solver      *gpu.Pipeline

	cellsParams *gpu.Buffer
	// One params buffer per color pass; all passes live in one command
	// buffer, so they cannot share a uniform.
	solverParams [4]*gpu.Buffer
}

// NewPipeline compiles both shaders and builds the three pipelines.
func NewPipeline(device hal.Device) (*Pipeline, error) {
	p := &Pipeline{device: device}

	var err error
	if p.cellsModule, err = gpu.CreateShaderModule(device, "collision_cells", cellsShaderSource); err != nil {
		return nil, err
	}
	if p.solverModule, err = gpu.CreateShaderModule(device, "collision_solver", solverShaderSource); err != nil {
		p.Destroy()
		return nil, err
	}

	cellsEntries := []gputypes.BindGroupLayoutEntry{
		gpu.StorageEntry(0),
		gpu.StorageEntry(1),
		gpu.StorageEntry(2),
		gpu.UniformEntry(3),
		gpu.ReadOnlyEntry(4),
	}
	solverEntries := []gputypes.BindGroupLayoutEntry{
		gpu.StorageEntry(0),
		gpu.ReadOnlyEntry(1),
		gpu.ReadOnlyEntry(2),
		gpu.ReadOnlyEntry(3),
		gpu.ReadOnlyEntry(4),
		gpu.ReadOnlyEntry(5),
		gpu.UniformEntry(6),
	}

	if p.countChunks, err = gpu.NewPipeline(device, p.cellsModule, "count_chunks", "count_chunks", cellsEntries); err != nil {
		p.Destroy()
		return nil, err
	}
	if p.buildCells, err = gpu.NewPipeline(device, p.cellsModule, "build_collision_cells", "build_collision_cells", cellsEntries); err != nil {
		p.Destroy()
		return nil, err
	}
	if p.solver, err = gpu.NewPipeline(device, p.solverModule, "solve_collisions", "solve_collisions", solverEntries); err != nil {
		p.Destroy()
		return nil, err
	}

	if p.cellsParams, err = gpu.NewBuffer(device, "collision_cells_params", 8, gpu.UsageUniform); err != nil {
		p.Destroy()
		return nil, err
	}
	for i := range p.solverParams {
		if p.solverParams[i], err = gpu.NewBuffer(device, "collision_solver_params", 16, gpu.UsageUniform); err != nil {
			p.Destroy()
			return nil, err
		}
	}

	return p, nil
}

// Buffers names the GPU resources the extractor and solver read and write.
type Buffers struct {
	Positions      *gpu.Buffer
	Radii          *gpu.Buffer
	CellKeys       *gpu.Buffer
	ObjectIDs      *gpu.Buffer
	ChunkCounts    *gpu.Buffer
	CollisionCells *gpu.Buffer
	DispatchArgs   *gpu.Buffer
}

// EncodeCount records the count-per-chunk dispatch.
func (p *Pipeline) EncodeCount(fe *gpu.FrameEncoder, queue hal.Queue, bufs *Buffers, numChunks, totalKeys uint32) error {
	var raw [8]byte
	binary.LittleEndian.PutUint32(raw[0:4], numChunks)
	binary.LittleEndian.PutUint32(raw[4:8], totalKeys)
	p.cellsParams.Upload(queue, 0, raw[:])

	return fe.Compute(p.countChunks, p.cellsEntries(bufs), gpu.WorkgroupCount(numChunks, WorkgroupSize))
}

// EncodeBuild records the emit-and-dispatch pass. The prefix scan over
// chunk counts must have been encoded between EncodeCount and this call.
func (p *Pipeline) EncodeBuild(fe *gpu.FrameEncoder, bufs *Buffers, numChunks uint32) error {
	return fe.Compute(p.buildCells, p.cellsEntries(bufs), gpu.WorkgroupCount(numChunks, WorkgroupSize))
}

// EncodeSolve records the four color passes. Each pass is sized by the
// extractor's argument buffer; boundWorkgroups is the conservative upper
// bound used until the HAL exposes native indirect dispatch (the kernel
// early-outs on the recorded total, executing exactly the indirect set).
func (p *Pipeline) EncodeSolve(fe *gpu.FrameEncoder, queue hal.Queue, bufs *Buffers, totalKeys, boundWorkgroups uint32, stiffness float32) error {
	for color := uint32(1); color <= 4; color++ {
		var raw [16]byte
		binary.LittleEndian.PutUint32(raw[0:4], color)
		binary.LittleEndian.PutUint32(raw[4:8], math.Float32bits(stiffness))
		binary.LittleEndian.PutUint32(raw[8:12], totalKeys)
		p.solverParams[color-1].Upload(queue, 0, raw[:])

		entries := []gputypes.BindGroupEntry{
			bufs.Positions.Entry(0),
			bufs.Radii.Entry(1),
			bufs.CellKeys.Entry(2),
			bufs.ObjectIDs.Entry(3),
			bufs.CollisionCells.Entry(4),
			bufs.DispatchArgs.Entry(5),
			p.solverParams[color-1].Entry(6),
		}
		if err := fe.ComputeIndirect(p.solver, entries, bufs.DispatchArgs, 0, boundWorkgroups); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) cellsEntries(bufs *Buffers) []gputypes.BindGroupEntry {
	return []gputypes.BindGroupEntry{
		bufs.ChunkCounts.Entry(0),
		bufs.CollisionCells.Entry(1),
		bufs.DispatchArgs.Entry(2),
		p.cellsParams.Entry(3),
		bufs.CellKeys.Entry(4),
	}
}

// Destroy releases all pipeline resources.
func (p *Pipeline) Destroy() {
	for _, pl := range []*gpu.Pipeline{p.countChunks, p.buildCells, p.solver} {
		if pl != nil {
			pl.Destroy()
		}
	}
	p.countChunks, p.buildCells, p.solver = nil, nil, nil

	if p.cellsParams != nil {
		p.cellsParams.Destroy()
		p.cellsParams = nil
	}
	for i, b := range p.solverParams {
		if b != nil {
			b.Destroy()
			p.solverParams[i] = nil
		}
	}
	if p.cellsModule != nil {
		p.device.DestroyShaderModule(p.cellsModule)
		p.cellsModule = nil
	}
	if p.solverModule != nil {
		p.device.DestroyShaderModule(p.solverModule)
		p.solverModule = nil
	}
}
