package radix

import (
	_ "embed"
	"encoding/binary"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/particles/internal/gpu"
)

//go:embed shaders/radix_sort.wgsl
var shaderSource string

// Sorter owns the GPU resources for sorting one (keys, payload) pair.
// The primary buffers belong to the caller; the Sorter allocates the
// ping-pong partners, the histogram table, and one params buffer per pass
// (the shift differs per pass and all passes are recorded into a single
// command buffer).
type Sorter struct {
	device hal.Device

	module    hal.ShaderModule
	histogram *gpu.Pipeline
	scatter   *gpu.Pipeline

	keysB    *gpu.Buffer
	payloadB *gpu.Buffer
	histBuf  *gpu.Buffer
	params   [Passes]*gpu.Buffer

	capacity int
}

// NewSorter compiles the sort shader and allocates scratch for capacity
// elements.
func NewSorter(device hal.Device, capacity int) (*Sorter, error) {
	module, err := gpu.CreateShaderModule(device, "radix_sort", shaderSource)
	if err != nil {
		return nil, err
	}

	entries := []gputypes.BindGroupLayoutEntry{
		gpu.ReadOnlyEntry(0),
		gpu.ReadOnlyEntry(1),
		gpu.StorageEntry(2),
		gpu.StorageEntry(3),
		gpu.StorageEntry(4),
		gpu.UniformEntry(5),
	}

	s := &Sorter{device: device, module: module, capacity: capacity}

	if s.histogram, err = gpu.NewPipeline(device, module, "radix_histogram", "build_histogram", entries); err != nil {
		s.Destroy()
		return nil, err
	}
	if s.scatter, err = gpu.NewPipeline(device, module, "radix_scatter", "scatter_keys", entries); err != nil {
		s.Destroy()
		return nil, err
	}

	if s.keysB, err = gpu.NewBuffer(device, "radix_keys_b", uint64(capacity)*4, gpu.UsageStorage); err != nil {
		s.Destroy()
		return nil, err
	}
	if s.payloadB, err = gpu.NewBuffer(device, "radix_payload_b", uint64(capacity)*4, gpu.UsageStorage); err != nil {
		s.Destroy()
		return nil, err
	}

	histSize := uint64(NumWorkgroups(capacity)) * Buckets * 4
	if s.histBuf, err = gpu.NewBuffer(device, "radix_histograms", histSize, gpu.UsageStorage); err != nil {
		s.Destroy()
		return nil, err
	}

	for i := range s.params {
		if s.params[i], err = gpu.NewBuffer(device, "radix_params", 16, gpu.UsageUniform); err != nil {
			s.Destroy()
			return nil, err
		}
	}

	return s, nil
}

// Grow reallocates scratch for a larger capacity. Contents are transient
// per frame, so nothing is preserved.
func (s *Sorter) Grow(capacity int) error {
	if capacity <= s.capacity {
		return nil
	}
	s.keysB.Destroy()
	s.payloadB.Destroy()
	s.histBuf.Destroy()

	var err error
	if s.keysB, err = gpu.NewBuffer(s.device, "radix_keys_b", uint64(capacity)*4, gpu.UsageStorage); err != nil {
		return err
	}
	if s.payloadB, err = gpu.NewBuffer(s.device, "radix_payload_b", uint64(capacity)*4, gpu.UsageStorage); err != nil {
		return err
	}
	histSize := uint64(NumWorkgroups(capacity)) * Buckets * 4
	if s.histBuf, err = gpu.NewBuffer(s.device, "radix_histograms", histSize, gpu.UsageStorage); err != nil {
		return err
	}
	s.capacity = capacity
	return nil
}

// Encode records the four histogram+scatter pass pairs sorting count
// elements of (keys, payload). The even pass count returns the sorted
// stream to the caller's buffers.
func (s *Sorter) Encode(fe *gpu.FrameEncoder, queue hal.Queue, keys, payload *gpu.Buffer, count uint32) error {
	if count == 0 {
		return nil
	}

	numWG := uint32(NumWorkgroups(int(count)))

	srcK, srcP := keys, payload
	dstK, dstP := s.keysB, s.payloadB

	for pass := 0; pass < Passes; pass++ {
		var raw [16]byte
		binary.LittleEndian.PutUint32(raw[0:4], count)
		binary.LittleEndian.PutUint32(raw[4:8], uint32(pass*BitsPerPass))
		binary.LittleEndian.PutUint32(raw[8:12], numWG)
		s.params[pass].Upload(queue, 0, raw[:])

		entries := []gputypes.BindGroupEntry{
			srcK.Entry(0),
			srcP.Entry(1),
			dstK.Entry(2),
			dstP.Entry(3),
			s.histBuf.Entry(4),
			s.params[pass].Entry(5),
		}

		if err := fe.Compute(s.histogram, entries, numWG); err != nil {
			return err
		}
		if err := fe.Compute(s.scatter, entries, numWG); err != nil {
			return err
		}

		srcK, dstK = dstK, srcK
		srcP, dstP = dstP, srcP
	}
	return nil
}

// Destroy releases all GPU resources.
func (s *Sorter) Destroy() {
	if s.histogram != nil {
		s.histogram.Destroy()
		s.histogram = nil
	}
	if s.scatter != nil {
		s.scatter.Destroy()
		s.scatter = nil
	}
	for _, b := range []*gpu.Buffer{s.keysB, s.payloadB, s.histBuf} {
		if b != nil {
			b.Destroy()
		}
	}
	s.keysB, s.payloadB, s.histBuf = nil, nil, nil
	for i, p := range s.params {
		if p != nil {
			p.Destroy()
			s.params[i] = nil
		}
	}
	if s.module != nil {
		s.device.DestroyShaderModule(s.module)
		s.module = nil
	}
}
