package renderer

import (
	"fmt"
	"io/fs"
	"time"

	"github.com/Carmen-Shannon/oxy-vrs/common"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer/pipeline"
)

// RendererBuilderOption is a functional option applied to a renderer during construction via NewRenderer.
type RendererBuilderOption func(*renderer)

// WithPipeline pre-registers a single Pipeline in the renderer's pipeline cache under the given key.
// The pipeline is not registered with the backend; use RegisterPipelines for that.
//
// Parameters:
//   - key: the unique identifier for the pipeline
//   - p: the Pipeline to cache
//
// Returns:
//   - RendererBuilderOption: a function that applies the pipeline option to a renderer
func WithPipeline(key string, p pipeline.Pipeline) RendererBuilderOption {
	return func(r *renderer) {
		r.pipelineCache[key] = p
	}
}

// WithPresentMode sets the surface present mode which controls how frames are delivered to the display.
//
// Parameters:
//   - mode: the PresentMode to use (VSync or Uncapped)
//
// Returns:
//   - RendererBuilderOption: a function that applies the present mode option to a renderer
func WithPresentMode(mode PresentMode) RendererBuilderOption {
	return func(r *renderer) {
		r.cfg.presentMode = &mode
	}
}

// WithForceSoftwareRenderer forces WGPU to use a CPU/software fallback adapter instead of
// hardware GPU acceleration. This requires a software Vulkan ICD to be installed on the system
// (e.g. SwiftShader or lavapipe). It has no effect on BackendTypeSoftware.
//
// Parameters:
//   - force: true to force the software fallback adapter, false to use hardware (default)
//
// Returns:
//   - RendererBuilderOption: a function that applies the force software renderer option to a renderer
func WithForceSoftwareRenderer(force bool) RendererBuilderOption {
	return func(r *renderer) {
		r.cfg.forceFallbackAdapter = force
	}
}

// WithTexelSize sets the pixel block covered by one shading-rate texel. Defaults to 16x16.
// Panics if either dimension is zero.
func WithTexelSize(width, height uint32) RendererBuilderOption {
	if width == 0 || height == 0 {
		panic(fmt.Sprintf("renderer: invalid shading-rate texel size %dx%d", width, height))
	}
	return func(r *renderer) {
		r.cfg.texelSize = common.Extent2D{Width: width, Height: height}
	}
}

// WithQueueFamilies sets the queue family indices reported for the graphics and compute
// queues of the software device. Distinct families enable ownership validation.
func WithQueueFamilies(graphics, compute uint32) RendererBuilderOption {
	return func(r *renderer) {
		r.cfg.graphicsFamily = graphics
		r.cfg.computeFamily = compute
	}
}

// WithDeviceTimeout sets how long a queue waits on a semaphore before the device is
// declared lost. Defaults to 2 seconds.
func WithDeviceTimeout(d time.Duration) RendererBuilderOption {
	return func(r *renderer) {
		r.cfg.deviceTimeout = d
	}
}

// WithExecutionDelay injects a delay into the execution of every command buffer on the
// software device, chosen by label. Used to surface ordering bugs in tests.
func WithExecutionDelay(delay func(label string) time.Duration) RendererBuilderOption {
	return func(r *renderer) {
		r.cfg.executionDelay = delay
	}
}

// WithTrace enables collection of the execution trace returned by Renderer.Trace.
func WithTrace(enabled bool) RendererBuilderOption {
	return func(r *renderer) {
		r.cfg.trace = enabled
	}
}

// WithExtent sets the surface size of a headless renderer. Ignored when a surface is given.
func WithExtent(width, height uint32) RendererBuilderOption {
	return func(r *renderer) {
		r.cfg.extent = common.Extent2D{Width: width, Height: height}
	}
}

// WithWorkers sets the number of software device workers executing kernels. Defaults to 4.
func WithWorkers(n int) RendererBuilderOption {
	return func(r *renderer) {
		r.cfg.workers = max(n, 1)
	}
}

// WithMemoryBudget caps the bytes of images and buffers the software device may hold at
// once. Allocations past the budget fail with ErrOutOfMemory. Zero means unlimited.
func WithMemoryBudget(bytes int) RendererBuilderOption {
	return func(r *renderer) {
		r.cfg.memoryBudget = bytes
	}
}

// WithShadingRateImage toggles the shading-rate image feature on the software device, to
// exercise the missing-feature path.
func WithShadingRateImage(supported bool) RendererBuilderOption {
	return func(r *renderer) {
		r.cfg.shadingRateImage = supported
	}
}

// WithShaderFS replaces the file system CompileAndLoadShader reads from. Defaults to the
// embedded engine assets.
func WithShaderFS(fsys fs.FS) RendererBuilderOption {
	return func(r *renderer) {
		r.cfg.shaderFS = fsys
	}
}

// WithStorageFormats restricts the formats the software device accepts as storage images,
// to exercise format fallbacks. Defaults to every colour format.
func WithStorageFormats(formats ...Format) RendererBuilderOption {
	return func(r *renderer) {
		r.cfg.storageFormats = formats
	}
}
