package renderer

import (
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-vrs/common"
	"github.com/Carmen-Shannon/oxy-vrs/engine/assets"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
)

// SurfaceSource is the presentation target a windowed renderer draws into. window.Window
// satisfies it.
type SurfaceSource interface {
	SurfaceDescriptor() *wgpu.SurfaceDescriptor
	Width() int
	Height() int
}

// config collects builder options before the backend exists.
type config struct {
	texelSize            common.Extent2D
	graphicsFamily       uint32
	computeFamily        uint32
	deviceTimeout        time.Duration
	executionDelay       func(label string) time.Duration
	trace                bool
	extent               common.Extent2D
	workers              int
	memoryBudget         int
	shadingRateImage     bool
	storageFormats       []Format
	shaderFS             fs.FS
	forceFallbackAdapter bool
	presentMode          *PresentMode
}

func defaultConfig() config {
	return config{
		texelSize:        common.Extent2D{Width: 16, Height: 16},
		graphicsFamily:   0,
		computeFamily:    0,
		deviceTimeout:    2 * time.Second,
		extent:           common.Extent2D{Width: 1280, Height: 720},
		workers:          4,
		shadingRateImage: true,
		shaderFS:         assets.FS,
	}
}

// renderer is the implementation of the Renderer interface.
type renderer struct {
	mu *sync.Mutex

	pipelineCache map[string]pipeline.Pipeline
	shaderCache   map[string]shader.Shader

	backendType RendererBackendType
	backend     RendererBackend

	cfg config
}

// Renderer defines the interface for the device layer.
//
// This is a high-level API over a backend: resources, command recording, two queues with
// binary semaphores and a swapchain. The Renderer also manages a cache of shaders and
// pipelines, allowing for easy retrieval and management of these resources.
type Renderer interface {
	// BackendType returns the backend the renderer was created with.
	BackendType() RendererBackendType

	// Capabilities returns what the device supports.
	//
	// Returns:
	//   - Capabilities: texel granularity, palette, queue families and formats
	Capabilities() Capabilities

	// Extent returns the current surface size in pixels.
	Extent() common.Extent2D

	// AllocateImage creates a device image.
	//
	// Parameters:
	//   - desc: size, format, usage and sharing of the image
	//
	// Returns:
	//   - Image: the new image in LayoutUndefined
	//   - error: ErrZeroExtent, ErrUnsupportedFormat or ErrOutOfMemory
	AllocateImage(desc ImageDescriptor) (Image, error)

	// AllocateBuffer creates a device buffer.
	//
	// Parameters:
	//   - desc: size, usage and memory policy of the buffer
	//
	// Returns:
	//   - Buffer: the new buffer, zero filled
	//   - error: ErrOutOfMemory if the allocation exceeds the memory budget
	AllocateBuffer(desc BufferDescriptor) (Buffer, error)

	// CreateSampler creates a clamp-to-edge sampler.
	CreateSampler(desc SamplerDescriptor) (Sampler, error)

	// CreateSemaphore creates an unsignalled binary semaphore.
	//
	// Parameters:
	//   - label: the debug label, used in traces
	CreateSemaphore(label string) (Semaphore, error)

	// CreateRenderPass creates a single-subpass render pass.
	//
	// Parameters:
	//   - desc: the attachments and subpass dependencies
	CreateRenderPass(desc RenderPassDescriptor) (RenderPass, error)

	// CompileAndLoadShader loads a WGSL shader from the renderer's shader file system and
	// reflects its entry point and bind groups. Shaders are cached by path and stage.
	//
	// Parameters:
	//   - path: the slash-separated path of the shader source
	//   - stage: the shader stage to reflect
	//
	// Returns:
	//   - shader.Shader: the loaded shader
	//   - error: an error if the file is missing or has no entry point for stage
	CompileAndLoadShader(path string, stage shader.ShaderType) (shader.Shader, error)

	// Pipeline retrieves the cached Pipeline associated with the given key.
	// If the Pipeline does not exist, this will return nil.
	//
	// Parameters:
	//   - key: the unique identifier for the Pipeline to retrieve
	//
	// Returns:
	//   - pipeline.Pipeline: the Pipeline associated with the key, or nil if not found
	Pipeline(key string) pipeline.Pipeline

	// Pipelines retrieves the entire cache of Pipelines.
	//
	// Returns:
	//   - map[string]pipeline.Pipeline: a map of pipeline keys to their corresponding Pipeline objects
	Pipelines() map[string]pipeline.Pipeline

	// RegisterPipelines registers one or more pipelines by creating the corresponding backend
	// pipeline objects (render or compute), then caching them by Key.
	// Pipelines whose keys are already registered are skipped to avoid duplicate resource creation.
	//
	// Parameters:
	//   - pipelines: the Pipelines to register
	//
	// Returns:
	//   - error: an error if pipeline creation fails
	RegisterPipelines(pipelines ...pipeline.Pipeline) error

	// NewCommandBuffer starts recording a command buffer for a queue.
	//
	// Parameters:
	//   - queue: the queue the buffer will be submitted to
	//   - label: the debug label, used in traces and errors
	NewCommandBuffer(queue QueueKind, label string) CommandBuffer

	// Submit queues a command buffer for execution. Waits and signals are honoured by the
	// queue, never by blocking the caller.
	//
	// Parameters:
	//   - queue: the queue to submit to, which must match the command buffer's queue
	//   - cb: the recorded command buffer
	//   - info: the semaphores to wait on and signal
	//
	// Returns:
	//   - error: ErrSubmit wrapping a validation error, or ErrDeviceLost
	Submit(queue QueueKind, cb CommandBuffer, info SubmitInfo) error

	// WaitQueueIdle blocks until every submission to queue has executed.
	//
	// Returns:
	//   - error: ErrDeviceLost if execution failed
	WaitQueueIdle(queue QueueKind) error

	// WaitIdle blocks until both queues are idle.
	WaitIdle() error

	// AcquireNextImage returns the next swapchain image. signal is signalled once the
	// image is available for rendering.
	//
	// Parameters:
	//   - signal: the image-acquired semaphore
	//
	// Returns:
	//   - Image: the swapchain image
	//   - error: ErrDeviceLost or ErrSubmit if signal is already pending
	AcquireNextImage(signal Semaphore) (Image, error)

	// Present queues img for presentation after wait is signalled. img must be in
	// LayoutPresent.
	Present(img Image, wait Semaphore) error

	// Resize reconfigures the surface. Swapchain images acquired before the resize are
	// released.
	//
	// Parameters:
	//   - width: the new width of the surface in pixels
	//   - height: the new height of the surface in pixels
	Resize(width, height int) error

	// SetPresentMode sets the surface present mode which controls how frames are delivered to the display.
	// A call to Resize is required after changing this for the new mode to take effect.
	//
	// Parameters:
	//   - mode: the PresentMode to use (VSync or Uncapped)
	SetPresentMode(mode PresentMode)

	// ReadImage copies an image back to the host, tightly packed in its own format.
	// Callers must make sure the image is not being written, typically with WaitIdle.
	ReadImage(img Image) ([]byte, error)

	// Stats returns the cumulative device counters.
	Stats() Stats

	// Trace returns the execution trace recorded so far. Empty unless WithTrace was set.
	Trace() Trace

	// Destroy waits for the device to go idle and frees every backend resource.
	Destroy()
}

var _ Renderer = &renderer{}

// NewRenderer creates a new Renderer instance with the specified backend type. The surface
// is the presentation target and is required by BackendTypeWGPU; the software backend
// renders headless at the surface size, or at WithExtent when surface is nil.
//
// Parameters:
//   - backendType: the type of rendering backend to use
//   - surface: the window to present into, nil for headless rendering
//   - options: variadic list of RendererBuilderOption functions to configure the Renderer
//
// Returns:
//   - Renderer: a new instance of Renderer configured with the specified backend and options
//   - error: an error if the device could not be created
func NewRenderer(backendType RendererBackendType, surface SurfaceSource, options ...RendererBuilderOption) (Renderer, error) {
	r := &renderer{
		mu:            &sync.Mutex{},
		pipelineCache: make(map[string]pipeline.Pipeline),
		shaderCache:   make(map[string]shader.Shader),
		backendType:   backendType,
		cfg:           defaultConfig(),
	}

	// Apply options first so config flags (e.g. forceFallbackAdapter) are
	// available before the backend requests a device.
	for _, opt := range options {
		opt(r)
	}
	if surface != nil {
		r.cfg.extent = common.Extent2D{Width: uint32(surface.Width()), Height: uint32(surface.Height())}
	}
	if r.cfg.extent.IsZero() {
		return nil, fmt.Errorf("renderer: surface %v: %w", r.cfg.extent, ErrZeroExtent)
	}

	var err error
	switch backendType {
	case BackendTypeSoftware:
		r.backend, err = newSoftwareRendererBackend(r.cfg)
	case BackendTypeWGPU:
		if surface == nil {
			return nil, fmt.Errorf("renderer: wgpu backend requires a surface")
		}
		r.backend, err = newWGPURendererBackend(surface.SurfaceDescriptor(), r.cfg)
	default:
		return nil, fmt.Errorf("renderer: unknown backend %d", backendType)
	}
	if err != nil {
		return nil, err
	}

	if r.cfg.presentMode != nil {
		r.backend.SetPresentMode(*r.cfg.presentMode)
	}
	if err := r.backend.ConfigureSurface(int(r.cfg.extent.Width), int(r.cfg.extent.Height)); err != nil {
		r.backend.Destroy()
		return nil, err
	}
	common.Logger().Info("renderer created", "backend", backendType.String(), "extent", r.cfg.extent.String())
	return r, nil
}

func (r *renderer) BackendType() RendererBackendType {
	return r.backendType
}

func (r *renderer) Capabilities() Capabilities {
	return r.backend.Capabilities()
}

func (r *renderer) Extent() common.Extent2D {
	return r.backend.Extent()
}

func (r *renderer) AllocateImage(desc ImageDescriptor) (Image, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return nil, fmt.Errorf("renderer: image %q: %w", desc.Label, ErrZeroExtent)
	}
	return r.backend.AllocateImage(desc)
}

func (r *renderer) AllocateBuffer(desc BufferDescriptor) (Buffer, error) {
	return r.backend.AllocateBuffer(desc)
}

func (r *renderer) CreateSampler(desc SamplerDescriptor) (Sampler, error) {
	return r.backend.CreateSampler(desc)
}

func (r *renderer) CreateSemaphore(label string) (Semaphore, error) {
	return r.backend.CreateSemaphore(label)
}

func (r *renderer) CreateRenderPass(desc RenderPassDescriptor) (RenderPass, error) {
	return r.backend.CreateRenderPass(desc)
}

func (r *renderer) CompileAndLoadShader(path string, stage shader.ShaderType) (shader.Shader, error) {
	key := stage.String() + ":" + path
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.shaderCache[key]; ok {
		return s, nil
	}
	s, err := shader.LoadShader(r.cfg.shaderFS, key, stage, path)
	if err != nil {
		return nil, err
	}
	r.shaderCache[key] = s
	return s, nil
}

func (r *renderer) Pipeline(key string) pipeline.Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pipelineCache[key]
}

func (r *renderer) Pipelines() map[string]pipeline.Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pipelineCache
}

func (r *renderer) RegisterPipelines(pipelines ...pipeline.Pipeline) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range pipelines {
		key := p.Key()
		if _, exists := r.pipelineCache[key]; exists {
			continue
		}
		if err := p.Validate(); err != nil {
			return err
		}
		switch p.Type() {
		case pipeline.PipelineTypeCompute:
			if err := r.backend.RegisterComputePipeline(p); err != nil {
				return err
			}
		case pipeline.PipelineTypeRender:
			if err := r.backend.RegisterRenderPipeline(p); err != nil {
				return err
			}
		}
		r.pipelineCache[key] = p
	}
	return nil
}

func (r *renderer) NewCommandBuffer(queue QueueKind, label string) CommandBuffer {
	return newCommandBuffer(queue, common.Coalesce(label, queue.String()))
}

func (r *renderer) Submit(queue QueueKind, cb CommandBuffer, info SubmitInfo) error {
	if cb.Queue() != queue {
		return fmt.Errorf("%w: %s recorded for %s queue, submitted to %s", ErrSubmit, cb.Label(), cb.Queue(), queue)
	}
	if err := cb.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubmit, err)
	}
	return r.backend.Submit(queue, cb, info)
}

func (r *renderer) WaitQueueIdle(queue QueueKind) error {
	return r.backend.WaitQueueIdle(queue)
}

func (r *renderer) WaitIdle() error {
	if err := r.backend.WaitQueueIdle(QueueCompute); err != nil {
		return err
	}
	return r.backend.WaitQueueIdle(QueueGraphics)
}

func (r *renderer) AcquireNextImage(signal Semaphore) (Image, error) {
	return r.backend.AcquireNextImage(signal)
}

func (r *renderer) Present(img Image, wait Semaphore) error {
	return r.backend.Present(img, wait)
}

func (r *renderer) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("renderer: resize %dx%d: %w", width, height, ErrZeroExtent)
	}
	return r.backend.ConfigureSurface(width, height)
}

func (r *renderer) SetPresentMode(mode PresentMode) {
	r.backend.SetPresentMode(mode)
}

func (r *renderer) ReadImage(img Image) ([]byte, error) {
	return r.backend.ReadImage(img)
}

func (r *renderer) Stats() Stats {
	return r.backend.Stats()
}

func (r *renderer) Trace() Trace {
	return r.backend.Trace()
}

func (r *renderer) Destroy() {
	r.backend.Destroy()
}
