package grid

import (
	_ "embed"
	"encoding/binary"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/particles/internal/gpu"
)

//go:embed shaders/cell_ids.wgsl
var shaderSource string

// Pipeline holds the cell-id builder pipelines.
type Pipeline struct {
	device hal.Device

	module    hal.ShaderModule
	cellIDs   *gpu.Pipeline
	homeKeys  *gpu.Pipeline
	params    *gpu.Buffer
	homeParam *gpu.Buffer
}

// NewPipeline compiles the grid shader and builds its pipelines.
func NewPipeline(device hal.Device) (*Pipeline, error) {
	module, err := gpu.CreateShaderModule(device, "cell_ids", shaderSource)
	if err != nil {
		return nil, err
	}

	entries := []gputypes.BindGroupLayoutEntry{
		gpu.ReadOnlyEntry(0),
		gpu.ReadOnlyEntry(1),
		gpu.StorageEntry(2),
		gpu.StorageEntry(3),
		gpu.UniformEntry(4),
	}

	p := &Pipeline{device: device, module: module}

	if p.cellIDs, err = gpu.NewPipeline(device, module, "build_cell_ids", "build_cell_ids", entries); err != nil {
		p.Destroy()
		return nil, err
	}
	if p.homeKeys, err = gpu.NewPipeline(device, module, "build_home_keys", "build_home_keys", entries); err != nil {
		p.Destroy()
		return nil, err
	}
	if p.params, err = gpu.NewBuffer(device, "grid_params", 16, gpu.UsageUniform); err != nil {
		p.Destroy()
		return nil, err
	}
	if p.homeParam, err = gpu.NewBuffer(device, "grid_home_params", 16, gpu.UsageUniform); err != nil {
		p.Destroy()
		return nil, err
	}

	return p, nil
}

func packParams(n, gridW, gridH uint32, cellSize float32) []byte {
	raw := make([]byte, 16)
	binary.LittleEndian.PutUint32(raw[0:4], n)
	binary.LittleEndian.PutUint32(raw[4:8], gridW)
	binary.LittleEndian.PutUint32(raw[8:12], gridH)
	binary.LittleEndian.PutUint32(raw[12:16], math.Float32bits(cellSize))
	return raw
}

// EncodeCellIDs records the per-frame key emission dispatch.
func (p *Pipeline) EncodeCellIDs(fe *gpu.FrameEncoder, queue hal.Queue, positions, radii, keys, objectIDs *gpu.Buffer, n, gridW, gridH uint32, cellSize float32) error {
	p.params.Upload(queue, 0, packParams(n, gridW, gridH, cellSize))

	entries := []gputypes.BindGroupEntry{
		positions.Entry(0),
		radii.Entry(1),
		keys.Entry(2),
		objectIDs.Entry(3),
		p.params.Entry(4),
	}
	return fe.Compute(p.cellIDs, entries, gpu.WorkgroupCount(n, WorkgroupSize))
}

// EncodeHomeKeys records the reorder key emission dispatch.
func (p *Pipeline) EncodeHomeKeys(fe *gpu.FrameEncoder, queue hal.Queue, positions, radii, keys, ids *gpu.Buffer, n uint32, cellSize float32) error {
	p.homeParam.Upload(queue, 0, packParams(n, 0, 0, cellSize))

	entries := []gputypes.BindGroupEntry{
		positions.Entry(0),
		radii.Entry(1),
		keys.Entry(2),
		ids.Entry(3),
		p.homeParam.Entry(4),
	}
	return fe.Compute(p.homeKeys, entries, gpu.WorkgroupCount(n, WorkgroupSize))
}

// Destroy releases all pipeline resources.
func (p *Pipeline) Destroy() {
	if p.cellIDs != nil {
		p.cellIDs.Destroy()
		p.cellIDs = nil
	}
	if p.homeKeys != nil {
		p.homeKeys.Destroy()
		p.homeKeys = nil
	}
	if p.params != nil {
		p.params.Destroy()
		p.params = nil
	}
	if p.homeParam != nil {
		p.homeParam.Destroy()
		p.homeParam = nil
	}
	if p.module != nil {
		p.device.DestroyShaderModule(p.module)
		p.module = nil
	}
}
