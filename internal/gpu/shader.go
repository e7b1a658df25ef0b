package gpu

import (
	"fmt"

	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
)

// CompileWGSL compiles a WGSL source to SPIR-V words.
func CompileWGSL(source string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("gpu: shader compilation failed: %w", err)
	}

	code := make([]uint32, len(spirvBytes)/4)
	for i := range code {
		code[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return code, nil
}

// CreateShaderModule compiles a WGSL source and creates a shader module
// from the resulting SPIR-V.
func CreateShaderModule(device hal.Device, label, source string) (hal.ShaderModule, error) {
	spirv, err := CompileWGSL(source)
	if err != nil {
		return nil, fmt.Errorf("gpu: %s: %w", label, err)
	}

	module, err := device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label: label,
		Source: hal.ShaderSource{
			SPIRV: spirv,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create shader module %s: %w", label, err)
	}
	return module, nil
}
