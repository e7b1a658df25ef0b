package verlet

import (
	_ "embed"
	"encoding/binary"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/particles/internal/gpu"
)

//go:embed shaders/integrate.wgsl
var shaderSource string

// Pipeline holds the integrator pipeline and its uniform buffer.
type Pipeline struct {
	device hal.Device

	module   hal.ShaderModule
	pipeline *gpu.Pipeline
	params   *gpu.Buffer
}

// NewPipeline compiles the integrator shader.
func NewPipeline(device hal.Device) (*Pipeline, error) {
	module, err := gpu.CreateShaderModule(device, "verlet_integration", shaderSource)
	if err != nil {
		return nil, err
	}

	entries := []gputypes.BindGroupLayoutEntry{
		gpu.StorageEntry(0),
		gpu.StorageEntry(1),
		gpu.ReadOnlyEntry(2),
		gpu.UniformEntry(3),
	}

	p := &Pipeline{device: device, module: module}
	if p.pipeline, err = gpu.NewPipeline(device, module, "verlet_integration", "verlet_integration", entries); err != nil {
		p.Destroy()
		return nil, err
	}
	if p.params, err = gpu.NewBuffer(device, "verlet_params", 48, gpu.UsageUniform); err != nil {
		p.Destroy()
		return nil, err
	}
	return p, nil
}

// Encode records the integration dispatch for n particles.
func (p *Pipeline) Encode(fe *gpu.FrameEncoder, queue hal.Queue, positions, prev, radii *gpu.Buffer, n uint32, params Params) error {
	raw := make([]byte, 48)
	le := binary.LittleEndian
	le.PutUint32(raw[0:4], math.Float32bits(params.Dt))
	le.PutUint32(raw[4:8], math.Float32bits(params.WorldW))
	le.PutUint32(raw[8:12], math.Float32bits(params.WorldH))
	var attract uint32
	if params.Attract {
		attract = 1
	}
	le.PutUint32(raw[12:16], attract)
	le.PutUint32(raw[16:20], math.Float32bits(params.MouseX))
	le.PutUint32(raw[20:24], math.Float32bits(params.MouseY))
	le.PutUint32(raw[24:28], math.Float32bits(params.GravityX))
	le.PutUint32(raw[28:32], math.Float32bits(params.GravityY))
	le.PutUint32(raw[32:36], math.Float32bits(params.AttractStrength))
	le.PutUint32(raw[36:40], n)
	p.params.Upload(queue, 0, raw)

	entries := []gputypes.BindGroupEntry{
		positions.Entry(0),
		prev.Entry(1),
		radii.Entry(2),
		p.params.Entry(3),
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
