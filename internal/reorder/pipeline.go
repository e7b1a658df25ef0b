package reorder

import (
	_ "embed"
	"encoding/binary"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/particles/internal/gpu"
)

//go:embed shaders/rearrange.wgsl
var shaderSource string

// Pipeline holds the rearrange pipeline and its uniform buffer.
type Pipeline struct {
	device hal.Device

	module   hal.ShaderModule
	pipeline *gpu.Pipeline
	params   *gpu.Buffer
}

// NewPipeline compiles the rearrange shader.
func NewPipeline(device hal.Device) (*Pipeline, error) {
	module, err := gpu.CreateShaderModule(device, "rearrange", shaderSource)
	if err != nil {
		return nil, err
	}

	entries := []gputypes.BindGroupLayoutEntry{
		gpu.ReadOnlyEntry(0),
		gpu.ReadOnlyEntry(1),
		gpu.ReadOnlyEntry(2),
		gpu.ReadOnlyEntry(3),
		gpu.StorageEntry(4),
		gpu.StorageEntry(5),
		gpu.StorageEntry(6),
		gpu.UniformEntry(7),
	}

	p := &Pipeline{device: device, module: module}
	if p.pipeline, err = gpu.NewPipeline(device, module, "rearrange", "rearrange", entries); err != nil {
		p.Destroy()
		return nil, err
	}
	if p.params, err = gpu.NewBuffer(device, "rearrange_params", 4, gpu.UsageUniform); err != nil {
		p.Destroy()
		return nil, err
	}
	return p, nil
}

// Encode records the gather dispatch for n particles.
func (p *Pipeline) Encode(fe *gpu.FrameEncoder, queue hal.Queue, srcPos, srcPrev, srcRadii, ids, dstPos, dstPrev, dstRadii *gpu.Buffer, n uint32) error {
	var raw [4]byte
	binary.LittleEndian.PutUint32(raw[:], n)
	p.params.Upload(queue, 0, raw[:])

	entries := []gputypes.BindGroupEntry{
		srcPos.Entry(0),
		srcPrev.Entry(1),
		srcRadii.Entry(2),
		ids.Entry(3),
		dstPos.Entry(4),
		dstPrev.Entry(5),
		dstRadii.Entry(6),
		p.params.Entry(7),
	}
	return fe.Compute(p.pipeline, entries, gpu.WorkgroupCount(n, WorkgroupSize))
}

// Destroy releases all pipeline resources.
func (p *Pipeline) Destroy() {
	if p.pipeline != nil {
		p.pipeline.Destroy()
		p.pipeline = nil
	}
	if p.params != nil {
		p.params.Destroy()
		p.params = nil
	}
	if p.module != nil {
		p.device.DestroyShaderModule(p.module)
		p.module = nil
	}
}
