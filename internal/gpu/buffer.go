package gpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Buffer errors.
var (
	// ErrInvalidBufferSize is returned when buffer size is zero.
	ErrInvalidBufferSize = errors.New("gpu: invalid buffer size")

	// ErrBufferDestroyed is returned when operating on a destroyed buffer.
	ErrBufferDestroyed = errors.New("gpu: buffer has been destroyed")
)

// Common usage combinations for simulation buffers.
const (
	// UsageStorage is GPU-only storage, fully overwritten by its producer
	// stage each frame.
	UsageStorage = gputypes.BufferUsageStorage

	// UsageStorageUpload is GPU storage the host writes into (spawn uploads,
	// zero fills for atomics).
	UsageStorageUpload = gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst

	// UsageStorageReadback is GPU storage with CPU read access.
	UsageStorageReadback = gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst

	// UsageUniform is a uniform buffer updated by the host each frame.
	UsageUniform = gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst

	// UsageIndirect is storage written by the extractor and consumed as
	// indirect dispatch arguments by the solver.
	UsageIndirect = gputypes.BufferUsageStorage | gputypes.BufferUsageIndirect | gputypes.BufferUsageCopyDst
)

// Buffer wraps a hal.Buffer with its size and label. Creation aligns the
// byte size up to 4 so copy operations stay legal.
type Buffer struct {
	raw    hal.Buffer
	device hal.Device
	size   uint64
	usage  gputypes.BufferUsage
	label  string
}

// NewBuffer creates a GPU buffer. A zero size is an error; sizes are
// rounded up to 4-byte alignment.
func NewBuffer(device hal.Device, label string, size uint64, usage gputypes.BufferUsage) (*Buffer, error) {
	if size == 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidBufferSize, label)
	}

	const copyAlignment uint64 = 4
	aligned := (size + copyAlignment - 1) &^ (copyAlignment - 1)

	raw, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  aligned,
		Usage: usage,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create buffer %s: %w", label, err)
	}

	return &Buffer{
		raw:    raw,
		device: device,
		size:   aligned,
		usage:  usage,
		label:  label,
	}, nil
}

// Raw returns the underlying HAL buffer, or nil after Destroy.
func (b *Buffer) Raw() hal.Buffer { return b.raw }

// Size returns the aligned size in bytes.
func (b *Buffer) Size() uint64 { return b.size }

// Label returns the debug label.
func (b *Buffer) Label() string { return b.label }

// Entry returns a bind group entry binding the entire buffer.
func (b *Buffer) Entry(binding uint32) gputypes.BindGroupEntry {
	return gputypes.BindGroupEntry{
		Binding: binding,
		Resource: gputypes.BufferBinding{
			Buffer: b.raw.NativeHandle(),
			Offset: 0,
			Size:   0, // 0 = entire buffer
		},
	}
}

// Destroy releases the buffer. Idempotent.
func (b *Buffer) Destroy() {
	if b.raw != nil {
		b.device.DestroyBuffer(b.raw)
		b.raw = nil
	}
}

// ZeroFill writes zeros over the whole buffer. Required before dispatches
// that accumulate with atomics.
func (b *Buffer) ZeroFill(queue hal.Queue) {
	if b.raw == nil {
		return
	}
	queue.WriteBuffer(b.raw, 0, make([]byte, b.size))
}

// Upload writes data at the given byte offset.
func (b *Buffer) Upload(queue hal.Queue, offset uint64, data []byte) {
	if b.raw == nil || len(data) == 0 {
		return
	}
	queue.WriteBuffer(b.raw, offset, data)
}
