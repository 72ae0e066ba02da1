package shader

import (
	"fmt"
	"io/fs"
	"path"

	"github.com/cogentcore/webgpu/wgpu"
)

// ShaderType is the pipeline stage whose entry point a Shader exposes.
type ShaderType int

const (
	ShaderTypeCompute ShaderType = iota
	ShaderTypeVertex
	ShaderTypeFragment
)

// String returns the WGSL attribute name of the stage.
func (t ShaderType) String() string {
	switch t {
	case ShaderTypeCompute:
		return "compute"
	case ShaderTypeVertex:
		return "vertex"
	case ShaderTypeFragment:
		return "fragment"
	}
	return fmt.Sprintf("ShaderType(%d)", int(t))
}

// visibility is the wgpu stage flag for bindings reflected from a shader of this stage.
func (t ShaderType) visibility() wgpu.ShaderStage {
	switch t {
	case ShaderTypeVertex:
		return wgpu.ShaderStageVertex
	case ShaderTypeFragment:
		return wgpu.ShaderStageFragment
	default:
		return wgpu.ShaderStageCompute
	}
}

// includeDir holds include files, next to the shader that includes them.
const includeDir = "include"

// Shader is a loaded WGSL shader after directive expansion and reflection. Both backends
// build pipelines from it: wgpu from the module and layouts, the software device from
// the entry point and workgroup size.
type Shader interface {
	// Key is the cache key the shader was loaded under. It labels the wgpu module.
	Key() string

	// Stage returns the stage the entry point was reflected for.
	Stage() ShaderType

	// Source returns the expanded WGSL.
	Source() string

	// EntryPoint returns the name of the stage's entry point function.
	EntryPoint() string

	// WorkgroupSize returns the @workgroup_size of a compute entry point, with omitted
	// dimensions set to 1. It is zero for other stages.
	WorkgroupSize() [3]uint32

	// Module returns the descriptor wgpu compiles the expanded source from.
	Module() *wgpu.ShaderModuleDescriptor

	// BindGroupLayoutDescriptor returns the reflected layout of one bind group.
	//
	// Parameters:
	//   - group: the @group index
	//
	// Returns:
	//   - wgpu.BindGroupLayoutDescriptor: the layout, empty if the group is not used
	BindGroupLayoutDescriptor(group int) wgpu.BindGroupLayoutDescriptor

	// BindGroupLayoutDescriptors returns every reflected layout keyed by @group index.
	BindGroupLayoutDescriptors() map[int]wgpu.BindGroupLayoutDescriptor

	// BindGroupVarName returns the WGSL variable bound at a slot, or "".
	BindGroupVarName(group, binding int) string

	// Binding finds the slot a group or provider directive declared for role.
	//
	// Parameters:
	//   - role: a struct key or a provider binding role
	//
	// Returns:
	//   - int, int: the group and binding, -1 when undeclared
	//   - bool: whether the shader declares role
	Binding(role AnnotationArg) (int, int, bool)

	// StructSize returns the WGSL host-shareable size of a struct the shader declares.
	StructSize(name string) (uint64, bool)

	// Declarations returns the group and provider directives in source order.
	Declarations() []Annotation
}

type shader struct {
	key   string
	stage ShaderType
	pp    PreProcessor

	source       string
	module       *wgpu.ShaderModuleDescriptor
	declarations []Annotation

	entryPoint    string
	workgroupSize [3]uint32
	structs       map[string]typeLayout
	layouts       map[int]wgpu.BindGroupLayoutDescriptor
	varNames      map[int]map[int]string
}

var _ Shader = &shader{}

// LoadShader reads sourcePath from fsys, expands its directives against the include
// directory beside it and reflects the entry point of stage.
//
// Parameters:
//   - fsys: the shader file system
//   - key: cache key and module label
//   - stage: the stage to reflect
//   - sourcePath: slash-separated path within fsys
//
// Returns:
//   - Shader: the loaded shader
//   - error: read, directive or reflection failure, including a missing entry point
func LoadShader(fsys fs.FS, key string, stage ShaderType, sourcePath string) (Shader, error) {
	raw, err := fs.ReadFile(fsys, sourcePath)
	if err != nil {
		return nil, fmt.Errorf("shader: %w", err)
	}
	includeFS, err := fs.Sub(fsys, path.Join(path.Dir(sourcePath), includeDir))
	if err != nil {
		return nil, fmt.Errorf("shader: %s: %w", sourcePath, err)
	}
	s := &shader{key: key, stage: stage, pp: NewPreProcessor(includeFS)}
	if err := s.compile(string(raw)); err != nil {
		return nil, fmt.Errorf("shader: %s: %w", sourcePath, err)
	}
	return s, nil
}

// compile expands raw and fills in everything reflected from the result.
func (s *shader) compile(raw string) error {
	var err error
	if s.source, s.declarations, err = s.pp.Process(raw); err != nil {
		return err
	}
	s.module = &wgpu.ShaderModuleDescriptor{
		Label:          s.key,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: s.source},
	}

	r, err := reflectSource(s.source, s.stage)
	if err != nil {
		return err
	}
	s.entryPoint, s.workgroupSize, s.structs = r.entryPoint, r.workgroupSize, r.structs
	s.layouts, s.varNames, err = r.bindGroupLayouts(s.stage.visibility())
	return err
}

func (s *shader) Key() string              { return s.key }
func (s *shader) Stage() ShaderType        { return s.stage }
func (s *shader) Source() string           { return s.source }
func (s *shader) EntryPoint() string       { return s.entryPoint }
func (s *shader) WorkgroupSize() [3]uint32 { return s.workgroupSize }

func (s *shader) Module() *wgpu.ShaderModuleDescriptor {
	return s.module
}

func (s *shader) BindGroupLayoutDescriptor(group int) wgpu.BindGroupLayoutDescriptor {
	return s.layouts[group]
}

func (s *shader) BindGroupLayoutDescriptors() map[int]wgpu.BindGroupLayoutDescriptor {
	return s.layouts
}

func (s *shader) BindGroupVarName(group, binding int) string {
	return s.varNames[group][binding]
}

func (s *shader) Binding(role AnnotationArg) (int, int, bool) {
	for _, d := range s.declarations {
		if d.Role == role {
			return d.Group, d.Binding, true
		}
	}
	return -1, -1, false
}

func (s *shader) StructSize(name string) (uint64, bool) {
	l, ok := s.structs[name]
	return l.size, ok
}

func (s *shader) Declarations() []Annotation {
	return s.declarations
}
