package dieselrhi

import (
	"encoding/binary"
	"fmt"

	"github.com/andewx/dieselrhi/hal"
	"github.com/gogpu/naga"
)

type ShaderStage = hal.ShaderStage

const (
	VertexStage   = hal.ShaderStageVertex
	FragmentStage = hal.ShaderStageFragment
	ComputeStage  = hal.ShaderStageCompute
)

const spirvMagic = 0x07230203

// Shader is a shader module plus the entry point and stage it is used with.
type Shader struct {
	dev   *Device
	h     hal.ShaderModule
	entry string
	stage ShaderStage
}

// CreateShader wraps pre-compiled SPIR-V. The code must be a non-empty
// multiple of four bytes starting with the SPIR-V magic number; its content
// is otherwise left to the driver.
func (d *Device) CreateShader(code []byte, entry string, stage ShaderStage) (*Shader, error) {
	const op = "create shader"
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, &Error{Op: op, Kind: KindCreate, Err: fmt.Errorf("bytecode length %d is not a multiple of 4", len(code)), Caller: caller(1)}
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	if words[0] != spirvMagic {
		return nil, &Error{Op: op, Kind: KindCreate, Err: fmt.Errorf("bad SPIR-V magic %#08x", words[0]), Caller: caller(1)}
	}
	if entry == "" {
		entry = "main"
	}
	h, r := d.raw.CreateShaderModule(words)
	if err := check(op, KindCreate, r); err != nil {
		return nil, err
	}
	return &Shader{dev: d, h: h, entry: entry, stage: stage}, nil
}

// CompileShader translates WGSL source to SPIR-V and creates the module.
func (d *Device) CompileShader(wgsl, entry string, stage ShaderStage) (*Shader, error) {
	code, err := naga.Compile(wgsl)
	if err != nil {
		return nil, &Error{Op: "compile shader", Kind: KindCreate, Err: err, Caller: caller(1)}
	}
	return d.CreateShader(code, entry, stage)
}

func (s *Shader) Handle() hal.ShaderModule { return s.h }

func (s *Shader) Entry() string { return s.entry }

func (s *Shader) Stage() ShaderStage { return s.stage }

// Destroy releases the module. Pipelines created from it stay valid.
func (s *Shader) Destroy() {
	if s.h != 0 {
		s.dev.raw.DestroyShaderModule(s.h)
		s.h = 0
	}
}
