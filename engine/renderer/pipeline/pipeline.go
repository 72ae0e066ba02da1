package pipeline

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer/shader"
)

// ErrIncomplete is returned by Validate when a pipeline lacks a program for its type.
var ErrIncomplete = errors.New("pipeline: incomplete pipeline")

// PipelineType selects between a workgroup dispatch and a full-viewport draw.
type PipelineType int

const (
	// PipelineTypeCompute runs a compute shader, or its kernel, over workgroups.
	PipelineTypeCompute PipelineType = iota

	// PipelineTypeRender draws one full-viewport triangle through vertex and fragment
	// shaders, or a fragment kernel.
	PipelineTypeRender
)

func (t PipelineType) String() string {
	switch t {
	case PipelineTypeCompute:
		return "compute"
	case PipelineTypeRender:
		return "render"
	}
	return fmt.Sprintf("PipelineType(%d)", int(t))
}

// DepthState is the depth configuration of a render pipeline. Overlays drawn over a
// finished frame turn both off.
type DepthState struct {
	// Test discards fragments that are not nearer than the stored depth.
	Test bool
	// Write stores the depth of fragments that pass.
	Write bool
}

// Pipeline pairs the WGSL programs of a pass with the Go programs the software device
// runs in their place, plus the little fixed-function state a full-viewport pass needs.
type Pipeline interface {
	// Type returns the type of the pipeline.
	Type() PipelineType

	// Key is the name the renderer registers and caches the pipeline under.
	Key() string

	// Shader returns the shader bound to stage, or nil.
	Shader(stage shader.ShaderType) shader.Shader

	// Kernel returns the software compute kernel, or nil.
	Kernel() Kernel

	// FragmentKernel returns the software fragment kernel, or nil.
	FragmentKernel() FragmentKernel

	// Depth returns the depth test and write configuration.
	Depth() DepthState

	// Blend reports whether fragments are alpha blended over the colour target.
	Blend() bool

	// Validate checks that the pipeline has a program for its type. A compute pipeline
	// needs a compute shader or a kernel. A render pipeline needs both or neither of its
	// vertex and fragment shaders, and a fragment shader or a fragment kernel.
	//
	// Returns:
	//   - error: ErrIncomplete naming what is missing
	Validate() error

	// Handle returns the compiled backend state attached at registration, or nil.
	Handle() any

	// SetHandle attaches compiled backend state. Backends call it during registration.
	SetHandle(h any)
}

type pipeline struct {
	key    string
	kind   PipelineType
	stages map[shader.ShaderType]shader.Shader

	kernel         Kernel
	fragmentKernel FragmentKernel

	depth DepthState
	blend bool

	handle any
}

var _ Pipeline = &pipeline{}

// NewPipeline creates a pipeline. Depth test and write default to on, blending to off.
//
// Parameters:
//   - key: the registration key
//   - kind: compute or render
//   - opts: shaders, kernels and fixed-function state
//
// Returns:
//   - Pipeline: the configured pipeline
func NewPipeline(key string, kind PipelineType, opts ...PipelineBuilderOption) Pipeline {
	p := &pipeline{
		key:    key,
		kind:   kind,
		stages: make(map[shader.ShaderType]shader.Shader, 2),
		depth:  DepthState{Test: true, Write: true},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *pipeline) Type() PipelineType                           { return p.kind }
func (p *pipeline) Key() string                                  { return p.key }
func (p *pipeline) Shader(stage shader.ShaderType) shader.Shader { return p.stages[stage] }
func (p *pipeline) Kernel() Kernel                               { return p.kernel }
func (p *pipeline) FragmentKernel() FragmentKernel               { return p.fragmentKernel }
func (p *pipeline) Depth() DepthState                            { return p.depth }
func (p *pipeline) Blend() bool                                  { return p.blend }
func (p *pipeline) Handle() any                                  { return p.handle }
func (p *pipeline) SetHandle(h any)                              { p.handle = h }

func (p *pipeline) Validate() error {
	var missing string
	switch p.kind {
	case PipelineTypeCompute:
		if p.stages[shader.ShaderTypeCompute] == nil && p.kernel == nil {
			missing = "a compute shader or kernel"
		}
	case PipelineTypeRender:
		vs, fs := p.stages[shader.ShaderTypeVertex], p.stages[shader.ShaderTypeFragment]
		switch {
		case (vs == nil) != (fs == nil):
			missing = "one of its vertex and fragment shaders"
		case fs == nil && p.fragmentKernel == nil:
			missing = "a fragment shader or kernel"
		}
	default:
		return fmt.Errorf("%w: %s has unknown type %s", ErrIncomplete, p.key, p.kind)
	}
	if missing != "" {
		return fmt.Errorf("%w: %s %s lacks %s", ErrIncomplete, p.kind, p.key, missing)
	}
	return nil
}
