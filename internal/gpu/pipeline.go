package gpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// UniformEntry returns a bind group layout entry for a uniform buffer.
func UniformEntry(binding uint32) gputypes.BindGroupLayoutEntry {
	return gputypes.BindGroupLayoutEntry{
		Binding:    binding,
		Visibility: gputypes.ShaderStageCompute,
		Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
	}
}

// StorageEntry returns a bind group layout entry for a read-write storage buffer.
func StorageEntry(binding uint32) gputypes.BindGroupLayoutEntry {
	return gputypes.BindGroupLayoutEntry{
		Binding:    binding,
		Visibility: gputypes.ShaderStageCompute,
		Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
	}
}

// ReadOnlyEntry returns a bind group layout entry for a read-only storage buffer.
func ReadOnlyEntry(binding uint32) gputypes.BindGroupLayoutEntry {
	return gputypes.BindGroupLayoutEntry{
		Binding:    binding,
		Visibility: gputypes.ShaderStageCompute,
		Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage},
	}
}

// Pipeline is one compiled compute entry point with its bind group layout.
// Several pipelines may share a shader module (multi-entry-point WGSL
// sources, like the radix sort's histogram and scatter kernels).
type Pipeline struct {
	device hal.Device

	bgLayout hal.BindGroupLayout
	layout   hal.PipelineLayout
	pipeline hal.ComputePipeline

	label string
}

// NewPipeline creates a compute pipeline for one entry point of a module.
// The entries must match the @group(0) @binding(N) annotations in the
// WGSL source exactly.
func NewPipeline(device hal.Device, module hal.ShaderModule, label, entryPoint string, entries []gputypes.BindGroupLayoutEntry) (*Pipeline, error) {
	bgLayout, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   label + "_bgl",
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create bind group layout %s: %w", label, err)
	}

	pipelineLayout, err := device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            label + "_pl",
		BindGroupLayouts: []hal.BindGroupLayout{bgLayout},
	})
	if err != nil {
		device.DestroyBindGroupLayout(bgLayout)
		return nil, fmt.Errorf("gpu: create pipeline layout %s: %w", label, err)
	}

	pipeline, err := device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  label,
		Layout: pipelineLayout,
		Compute: hal.ComputeState{
			Module:     module,
			EntryPoint: entryPoint,
		},
	})
	if err != nil {
		device.DestroyPipelineLayout(pipelineLayout)
		device.DestroyBindGroupLayout(bgLayout)
		return nil, fmt.Errorf("gpu: create compute pipeline %s: %w", label, err)
	}

	Logger().Debug("gpu: pipeline created",
		"label", label,
		"entry_point", entryPoint,
		"bindings", len(entries))

	return &Pipeline{
		device:   device,
		bgLayout: bgLayout,
		layout:   pipelineLayout,
		pipeline: pipeline,
		label:    label,
	}, nil
}

// BindGroup creates a bind group for this pipeline's layout.
// The caller owns the returned group and must destroy it after submission.
func (p *Pipeline) BindGroup(entries []gputypes.BindGroupEntry) (hal.BindGroup, error) {
	bg, err := p.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   p.label + "_bg",
		Layout:  p.bgLayout,
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create bind group %s: %w", p.label, err)
	}
	return bg, nil
}

// Label returns the pipeline's debug label.
func (p *Pipeline) Label() string { return p.label }

// Destroy releases pipeline resources. Idempotent.
func (p *Pipeline) Destroy() {
	if p.pipeline != nil {
		p.device.DestroyComputePipeline(p.pipeline)
		p.pipeline = nil
	}
	if p.layout != nil {
		p.device.DestroyPipelineLayout(p.layout)
		p.layout = nil
	}
	if p.bgLayout != nil {
		p.device.DestroyBindGroupLayout(p.bgLayout)
		p.bgLayout = nil
	}
}

// WorkgroupCount performs the ceiling division used to size dispatches:
// (elements + workgroupSize - 1) / workgroupSize.
func WorkgroupCount(elements, workgroupSize uint32) uint32 {
	if elements == 0 {
		return 0
	}
	return (elements + workgroupSize - 1) / workgroupSize
}
