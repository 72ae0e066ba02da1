package renderer

import (
	"github.com/Carmen-Shannon/oxy-vrs/common"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer/pipeline"
)

// RendererBackendType identifies the device backend implementation used by the Renderer.
type RendererBackendType int

const (
	// BackendTypeWGPU selects the WebGPU-based rendering backend.
	BackendTypeWGPU RendererBackendType = iota

	// BackendTypeSoftware selects the in-process software device. It runs headless, executes
	// Go kernels on a worker pool and records a dependency trace.
	BackendTypeSoftware
)

func (t RendererBackendType) String() string {
	switch t {
	case BackendTypeWGPU:
		return "wgpu"
	case BackendTypeSoftware:
		return "software"
	default:
		return "unknown"
	}
}

// PresentMode controls how rendered frames are presented to the display surface.
type PresentMode int

const (
	// PresentModeVSync waits for the next vertical blank before presenting, capping frame rate
	// to the monitor's refresh rate. Eliminates tearing.
	PresentModeVSync PresentMode = iota

	// PresentModeUncapped presents frames immediately without waiting for vertical blank.
	// May cause screen tearing but provides the lowest latency.
	PresentModeUncapped
)

// RendererBackend is the device interface implemented by each backend. The Renderer facade
// adds the pipeline cache and shader loading on top of it.
type RendererBackend interface {
	Capabilities() Capabilities
	Extent() common.Extent2D

	AllocateImage(desc ImageDescriptor) (Image, error)
	AllocateBuffer(desc BufferDescriptor) (Buffer, error)
	CreateSampler(desc SamplerDescriptor) (Sampler, error)
	CreateSemaphore(label string) (Semaphore, error)
	CreateRenderPass(desc RenderPassDescriptor) (RenderPass, error)

	RegisterComputePipeline(p pipeline.Pipeline) error
	RegisterRenderPipeline(p pipeline.Pipeline) error

	Submit(queue QueueKind, cb CommandBuffer, info SubmitInfo) error
	WaitQueueIdle(queue QueueKind) error

	AcquireNextImage(signal Semaphore) (Image, error)
	Present(img Image, wait Semaphore) error
	ConfigureSurface(width, height int) error
	SetPresentMode(mode PresentMode)

	ReadImage(img Image) ([]byte, error)
	Stats() Stats
	Trace() Trace
	Destroy()
}
