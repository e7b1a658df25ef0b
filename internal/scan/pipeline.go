package scan

import (
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/particles/internal/gpu"
)

//go:embed shaders/prefix_sum.wgsl
var shaderSource string

// MaxElements bounds the GPU scan path: the block-sums array must itself
// fit in a single block so the second dispatch is one workgroup. The CPU
// implementation recurses and has no such bound.
const MaxElements = BlockSize * BlockSize

// ErrTooLarge is returned when a GPU scan instance exceeds MaxElements.
var ErrTooLarge = errors.New("scan: input too large for GPU prefix sum")

// Pipeline holds the three scan pipelines over a shared shader module.
type Pipeline struct {
	device hal.Device

	module        hal.ShaderModule
	scanBlocks    *gpu.Pipeline
	scanBlockSums *gpu.Pipeline
	addBlockSums  *gpu.Pipeline
}

// NewPipeline compiles the scan shader and builds its pipelines.
func NewPipeline(device hal.Device) (*Pipeline, error) {
	module, err := gpu.CreateShaderModule(device, "prefix_sum", shaderSource)
	if err != nil {
		return nil, err
	}

	// All three entry points share one layout:
	// @binding(0) storage data, @binding(1) uniform params,
	// @binding(2) storage block_sums.
	entries := []gputypes.BindGroupLayoutEntry{
		gpu.StorageEntry(0),
		gpu.UniformEntry(1),
		gpu.StorageEntry(2),
	}

	p := &Pipeline{device: device, module: module}

	if p.scanBlocks, err = gpu.NewPipeline(device, module, "scan_blocks", "scan_blocks", entries); err != nil {
		p.Destroy()
		return nil, err
	}
	if p.scanBlockSums, err = gpu.NewPipeline(device, module, "scan_block_sums", "scan_block_sums", entries); err != nil {
		p.Destroy()
		return nil, err
	}
	if p.addBlockSums, err = gpu.NewPipeline(device, module, "add_block_sums", "add_block_sums", entries); err != nil {
		p.Destroy()
		return nil, err
	}

	return p, nil
}

// Buffers holds the GPU resources one scan instance operates on.
type Buffers struct {
	// Data is the array being scanned in place.
	Data *gpu.Buffer

	// Params is the uniform buffer holding the element count.
	Params *gpu.Buffer

	// BlockSums holds per-block totals between dispatches.
	BlockSums *gpu.Buffer
}

// NewBuffers allocates the params and block-sums buffers for scanning a
// data buffer of up to capacity elements. The data buffer itself is owned
// by the caller (the extractor's chunk-count array).
func NewBuffers(device hal.Device, data *gpu.Buffer, capacity int) (*Buffers, error) {
	if capacity > MaxElements {
		return nil, fmt.Errorf("%w: capacity %d", ErrTooLarge, capacity)
	}

	params, err := gpu.NewBuffer(device, "scan_params", 4, gpu.UsageUniform)
	if err != nil {
		return nil, err
	}

	numBlocks := (capacity + BlockSize - 1) / BlockSize
	if numBlocks == 0 {
		numBlocks = 1
	}
	blockSums, err := gpu.NewBuffer(device, "scan_block_sums", uint64(numBlocks)*4, gpu.UsageStorage)
	if err != nil {
		params.Destroy()
		return nil, err
	}

	return &Buffers{Data: data, Params: params, BlockSums: blockSums}, nil
}

// Destroy releases the buffers owned by this scan instance.
func (b *Buffers) Destroy() {
	if b.Params != nil {
		b.Params.Destroy()
		b.Params = nil
	}
	if b.BlockSums != nil {
		b.BlockSums.Destroy()
		b.BlockSums = nil
	}
}

// Encode records the three scan dispatches for count elements.
func (p *Pipeline) Encode(fe *gpu.FrameEncoder, queue hal.Queue, bufs *Buffers, count uint32) error {
	if count == 0 {
		return nil
	}

	var params [4]byte
	binary.LittleEndian.PutUint32(params[:], count)
	bufs.Params.Upload(queue, 0, params[:])

	entries := []gputypes.BindGroupEntry{
		bufs.Data.Entry(0),
		bufs.Params.Entry(1),
		bufs.BlockSums.Entry(2),
	}

	numBlocks := gpu.WorkgroupCount(count, BlockSize)
	if err := fe.Compute(p.scanBlocks, entries, numBlocks); err != nil {
		return err
	}
	if numBlocks > 1 {
		if err := fe.Compute(p.scanBlockSums, entries, 1); err != nil {
			return err
		}
		if err := fe.Compute(p.addBlockSums, entries, numBlocks); err != nil {
			return err
		}
	}
	return nil
}

// Destroy releases all pipeline resources.
func (p *Pipeline) Destroy() {
	if p.scanBlocks != nil {
		p.scanBlocks.Destroy()
		p.scanBlocks = nil
	}
	if p.scanBlockSums != nil {
		p.scanBlockSums.Destroy()
		p.scanBlockSums = nil
	}
	if p.addBlockSums != nil {
		p.addBlockSums.Destroy()
		p.addBlockSums = nil
	}
	if p.module != nil {
		p.device.DestroyShaderModule(p.module)
		p.module = nil
	}
}
