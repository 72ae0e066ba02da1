package pipeline

import "github.com/Carmen-Shannon/oxy-vrs/engine/renderer/shader"

// PipelineBuilderOption configures a Pipeline in NewPipeline.
type PipelineBuilderOption func(*pipeline)

// WithRenderShaders sets the vertex and fragment shaders of a render pipeline.
//
// Parameters:
//   - vs: the vertex shader
//   - fs: the fragment shader
//
// Returns:
//   - PipelineBuilderOption: option function to apply
func WithRenderShaders(vs, fs shader.Shader) PipelineBuilderOption {
	return func(p *pipeline) {
		p.stages[shader.ShaderTypeVertex] = vs
		p.stages[shader.ShaderTypeFragment] = fs
	}
}

// WithComputeShader sets the compute shader of a compute pipeline.
func WithComputeShader(s shader.Shader) PipelineBuilderOption {
	return func(p *pipeline) {
		p.stages[shader.ShaderTypeCompute] = s
	}
}

// WithKernel sets the Go program the software device runs per workgroup in place of the
// compute shader.
//
// Parameters:
//   - k: the kernel
//
// Returns:
//   - PipelineBuilderOption: option function to apply
func WithKernel(k Kernel) PipelineBuilderOption {
	return func(p *pipeline) {
		p.kernel = k
	}
}

// WithFragmentKernel sets the Go program the software device runs per shaded fragment in
// place of the fragment shader.
//
// Parameters:
//   - k: the fragment kernel
//
// Returns:
//   - PipelineBuilderOption: option function to apply
func WithFragmentKernel(k FragmentKernel) PipelineBuilderOption {
	return func(p *pipeline) {
		p.fragmentKernel = k
	}
}

// WithDepth sets whether fragments are depth tested and whether they write depth.
// Passes drawn over a finished frame, such as overlays, disable both.
//
// Parameters:
//   - test: compare against the depth attachment
//   - write: store the fragment depth
//
// Returns:
//   - PipelineBuilderOption: option function to apply
func WithDepth(test, write bool) PipelineBuilderOption {
	return func(p *pipeline) {
		p.depth = DepthState{Test: test, Write: write}
	}
}

// WithBlendEnabled enables straight alpha blending over the colour target.
func WithBlendEnabled(enabled bool) PipelineBuilderOption {
	return func(p *pipeline) {
		p.blend = enabled
	}
}
