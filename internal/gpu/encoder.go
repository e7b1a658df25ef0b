package gpu

import (
	"errors"
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// fenceTimeout is the maximum time to wait for submitted GPU work.
const fenceTimeout = 5 * time.Second

// Encoder errors.
var (
	// ErrIndirectOffsetUnaligned is returned when an indirect dispatch
	// offset is not 4-byte aligned.
	ErrIndirectOffsetUnaligned = errors.New("gpu: indirect offset must be 4-byte aligned")

	// ErrNilIndirectBuffer is returned when an indirect dispatch references
	// a nil buffer.
	ErrNilIndirectBuffer = errors.New("gpu: indirect buffer is nil")
)

// FrameEncoder records the per-frame compute passes into one command buffer.
// Every pipeline stage is encoded as its own compute pass, which gives the
// stage barrier of the frame pipeline: writes of pass k are visible to
// reads of pass k+1.
//
// Usage:
//
//	fe, _ := BeginFrame(device, queue, "frame")
//	fe.Compute(pipeline, entries, workgroups)
//	...
//	err := fe.Submit()
type FrameEncoder struct {
	device  hal.Device
	queue   hal.Queue
	encoder hal.CommandEncoder

	bindGroups []hal.BindGroup
	passCount  int
	label      string
}

// BeginFrame creates a command encoder and starts recording.
func BeginFrame(device hal.Device, queue hal.Queue, label string) (*FrameEncoder, error) {
	encoder, err := device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: label,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create command encoder: %w", err)
	}

	if err := encoder.BeginEncoding(label); err != nil {
		return nil, fmt.Errorf("gpu: begin encoding: %w", err)
	}

	return &FrameEncoder{
		device:  device,
		queue:   queue,
		encoder: encoder,
		label:   label,
	}, nil
}

// Compute encodes one compute pass dispatching the pipeline over the
// given number of workgroups. A zero workgroup count encodes nothing.
func (f *FrameEncoder) Compute(p *Pipeline, entries []gputypes.BindGroupEntry, workgroups uint32) error {
	if workgroups == 0 {
		return nil
	}

	bg, err := p.BindGroup(entries)
	if err != nil {
		f.Discard()
		return err
	}
	f.bindGroups = append(f.bindGroups, bg)

	pass := f.encoder.BeginComputePass(&hal.ComputePassDescriptor{
		Label: p.Label(),
	})
	pass.SetPipeline(p.pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.Dispatch(workgroups, 1, 1)
	pass.End()
	f.passCount++

	Logger().Debug("gpu: pass encoded", "pipeline", p.Label(), "workgroups", workgroups)
	return nil
}

// ComputeIndirect encodes a compute pass whose dispatch size lives in the
// indirect argument buffer written by an earlier pass.
//
// The HAL compute pass does not expose indirect dispatch yet, so the pass
// is encoded with the conservative upper bound in boundWorkgroups; the
// kernel reads the element total stored after the three workgroup counts
// (word 3 of the argument buffer) and returns early for threads at or
// beyond it, which executes exactly the threads an indirect
// dispatch would. The offset is still validated against the WebGPU
// 4-byte alignment rule so callers stay honest.
func (f *FrameEncoder) ComputeIndirect(p *Pipeline, entries []gputypes.BindGroupEntry, indirect *Buffer, offset uint64, boundWorkgroups uint32) error {
	if indirect == nil || indirect.Raw() == nil {
		f.Discard()
		return ErrNilIndirectBuffer
	}
	if offset%4 != 0 {
		f.Discard()
		return fmt.Errorf("%w: offset %d", ErrIndirectOffsetUnaligned, offset)
	}

	return f.Compute(p, entries, boundWorkgroups)
}

// CopyBuffer encodes a buffer-to-buffer copy of size bytes.
// Must not be called while a pass is open (passes are closed by Compute).
func (f *FrameEncoder) CopyBuffer(src, dst *Buffer, size uint64) {
	f.encoder.CopyBufferToBuffer(src.Raw(), dst.Raw(), []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: size},
	})
}

// Submit finishes encoding, submits the command buffer with a fence, and
// blocks until the GPU signals completion or the timeout elapses.
// All per-frame resources are released before returning.
func (f *FrameEncoder) Submit() error {
	cmdBuf, err := f.encoder.EndEncoding()
	if err != nil {
		f.releaseBindGroups()
		return fmt.Errorf("gpu: end encoding: %w", err)
	}
	defer f.device.FreeCommandBuffer(cmdBuf)
	defer f.releaseBindGroups()

	fence, err := f.device.CreateFence()
	if err != nil {
		return fmt.Errorf("gpu: create fence: %w", err)
	}
	defer f.device.DestroyFence(fence)

	if err := f.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("gpu: submit: %w", err)
	}

	ok, err := f.device.Wait(fence, 1, fenceTimeout)
	if err != nil {
		return fmt.Errorf("gpu: wait for GPU: %w", err)
	}
	if !ok {
		return fmt.Errorf("gpu: timeout after %v", fenceTimeout)
	}

	Logger().Debug("gpu: frame submitted", "label", f.label, "passes", f.passCount)
	return nil
}

// Discard abandons the recording and releases per-frame resources.
func (f *FrameEncoder) Discard() {
	if f.encoder != nil {
		f.encoder.DiscardEncoding()
		f.encoder = nil
	}
	f.releaseBindGroups()
}

func (f *FrameEncoder) releaseBindGroups() {
	for _, bg := range f.bindGroups {
		f.device.DestroyBindGroup(bg)
	}
	f.bindGroups = nil
}
