// Package gpu provides the WebGPU plumbing shared by every simulation
// kernel: device bootstrap, buffer management, WGSL shader compilation,
// and compute-pass command encoding.
package gpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// Context errors.
var (
	// ErrNoBackend is returned when no HAL backend is registered.
	ErrNoBackend = errors.New("gpu: no HAL backend available")

	// ErrNoAdapter is returned when no GPU adapter is found.
	ErrNoAdapter = errors.New("gpu: no GPU adapters found")
)

// Context owns the HAL instance, device, and queue used by all compute
// pipelines. It is created once per engine and shared by every subsystem.
type Context struct {
	instance hal.Instance
	device   hal.Device
	queue    hal.Queue

	adapterName string
}

// NewContext creates a standalone compute-only device on the first
// available adapter, preferring discrete and integrated GPUs.
func NewContext() (*Context, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, ErrNoBackend
	}

	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("gpu: create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}

	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("gpu: open device: %w", err)
	}

	ctx := &Context{
		instance:    instance,
		device:      openDev.Device,
		queue:       openDev.Queue,
		adapterName: selected.Info.Name,
	}

	Logger().Info("gpu: device initialized", "adapter", ctx.adapterName)
	return ctx, nil
}

// Device returns the HAL device.
func (c *Context) Device() hal.Device { return c.device }

// Queue returns the HAL queue.
func (c *Context) Queue() hal.Queue { return c.queue }

// AdapterName returns the name of the selected adapter.
func (c *Context) AdapterName() string { return c.adapterName }

// Close releases the device and instance.
func (c *Context) Close() {
	if c.device != nil {
		c.device.Destroy()
		c.device = nil
	}
	if c.instance != nil {
		c.instance.Destroy()
		c.instance = nil
	}
	c.queue = nil
}
