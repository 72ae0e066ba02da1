// Package synthesis turns the analysis headroom and the static foveation pattern into
// the final shading-rate surface bound by the main pass.
package synthesis

import (
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-vrs/common"
	"github.com/Carmen-Shannon/oxy-vrs/engine/assets"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-vrs/engine/shading_rate"
)

// PipelineKey is the key the synthesis pipeline is registered under.
const PipelineKey = "synthesis"

// Usage is the usage of the final rate surface.
const Usage = renderer.ImageUsageStorage | renderer.ImageUsageShadingRate |
	renderer.ImageUsageSampled | renderer.ImageUsageTransferSrc

// Synthesis owns the final shading-rate surface. The surface is exclusive: it is written
// in LayoutGeneral on the compute queue and read in LayoutShadingRate by the main pass,
// and crosses between the queues through the barrier pairs returned by
// GraphicsAcquire and GraphicsRelease.
type Synthesis interface {
	// Image returns the final rate surface, nil before the first Rebuild.
	Image() renderer.Image

	// Extent returns the surface size in texels.
	Extent() common.Extent2D

	// Pipeline returns the registered compute pipeline.
	Pipeline() pipeline.Pipeline

	// Thresholds returns the headroom thresholds in use.
	Thresholds() Thresholds

	// SetThresholds replaces the thresholds used by later Record calls.
	//
	// Returns:
	//   - error: ErrInvalidThresholds
	SetThresholds(t Thresholds) error

	// Rebuild releases the surface and allocates a new one covering a frame of the given
	// size. The next Record primes it from LayoutUndefined. Callers must make sure the
	// device no longer uses the old surface.
	//
	// Parameters:
	//   - frame: the frame size in pixels
	//
	// Returns:
	//   - error: shading_rate.ErrZeroExtent or renderer.ErrOutOfMemory
	Rebuild(frame common.Extent2D) error

	// Record records the synthesis dispatch into a compute command buffer. The surface
	// is acquired back from the graphics queue, written, and released to the graphics
	// queue in LayoutShadingRate.
	//
	// Parameters:
	//   - cb: the compute command buffer
	//   - nas: the analysis image in LayoutGeneral
	//   - static: the foveation pattern in LayoutGeneral
	Record(cb renderer.CommandBuffer, nas, static renderer.Image)

	// GraphicsAcquire returns the barrier the main pass records with
	// renderer.AcquireBarrier before binding the surface.
	GraphicsAcquire() renderer.Barrier

	// GraphicsRelease returns the barrier the main pass records with
	// renderer.ReleaseBarrier after its render pass, handing the surface back to compute.
	GraphicsRelease() renderer.Barrier

	// Release frees the surface.
	Release()
}

// synthesis is the implementation of the Synthesis interface.
type synthesis struct {
	mu sync.Mutex

	r          renderer.Renderer
	label      string
	thresholds Thresholds
	pipeline   pipeline.Pipeline

	extent common.Extent2D
	image  renderer.Image
	primed bool
}

var _ Synthesis = &synthesis{}

// NewSynthesis registers the synthesis pipeline.
//
// Parameters:
//   - r: the renderer
//   - options: variadic list of SynthesisBuilderOption functions
//
// Returns:
//   - Synthesis: the synthesis
//   - error: ErrMissingFeature without shading-rate image support, ErrUnsupportedFormat
//     when R8Uint is not storage capable, or an error loading the shader
func NewSynthesis(r renderer.Renderer, options ...SynthesisBuilderOption) (Synthesis, error) {
	s := &synthesis{
		r:          r,
		label:      "synthesis",
		thresholds: DefaultThresholds(),
	}
	for _, opt := range options {
		opt(s)
	}

	caps := r.Capabilities()
	if !caps.ShadingRateImage {
		return nil, fmt.Errorf("synthesis: %w: shading-rate image", renderer.ErrMissingFeature)
	}
	if !caps.SupportsStorage(renderer.FormatR8Uint) {
		return nil, fmt.Errorf("synthesis: %w: %s storage", renderer.ErrUnsupportedFormat, renderer.FormatR8Uint)
	}

	if s.pipeline = r.Pipeline(PipelineKey); s.pipeline == nil {
		cs, err := r.CompileAndLoadShader(assets.SynthesisShader, shader.ShaderTypeCompute)
		if err != nil {
			return nil, fmt.Errorf("synthesis: %w", err)
		}
		s.pipeline = pipeline.NewPipeline(PipelineKey, pipeline.PipelineTypeCompute,
			pipeline.WithComputeShader(cs),
			pipeline.WithKernel(Kernel),
		)
		if err := r.RegisterPipelines(s.pipeline); err != nil {
			return nil, fmt.Errorf("synthesis: register pipeline: %w", err)
		}
	}
	return s, nil
}

func (s *synthesis) Image() renderer.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.image
}

func (s *synthesis) Extent() common.Extent2D {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extent
}

func (s *synthesis) Pipeline() pipeline.Pipeline {
	return s.pipeline
}

func (s *synthesis) Thresholds() Thresholds {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thresholds
}

func (s *synthesis) SetThresholds(t Thresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thresholds = t
	return nil
}

func (s *synthesis) Rebuild(frame common.Extent2D) error {
	extent, err := shading_rate.Extent(int(frame.Width), int(frame.Height), s.r.Capabilities().ShadingRateTexelSize)
	if err != nil {
		return fmt.Errorf("synthesis: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.image != nil {
		s.image.Release()
		s.image = nil
	}
	img, err := s.r.AllocateImage(renderer.ImageDescriptor{
		Label:   s.label + " rate",
		Width:   extent.Width,
		Height:  extent.Height,
		Format:  renderer.FormatR8Uint,
		Usage:   Usage,
		Sharing: renderer.SharingExclusive,
	})
	if err != nil {
		return fmt.Errorf("synthesis: %w", err)
	}
	s.image, s.extent, s.primed = img, extent, false
	common.Logger().Debug("synthesis rebuilt", "extent", extent.String())
	return nil
}

// computeAcquire is the barrier pair that moves the surface from the main pass to the
// compute queue. Caller must hold the mutex.
func (s *synthesis) computeAcquire() renderer.Barrier {
	caps := s.r.Capabilities()
	return renderer.Barrier{
		Image:          s.image,
		Aspect:         renderer.AspectColor,
		OldLayout:      renderer.LayoutShadingRate,
		NewLayout:      renderer.LayoutGeneral,
		SrcStage:       renderer.StageShadingRateImage,
		DstStage:       renderer.StageComputeShader,
		SrcQueueFamily: caps.GraphicsQueueFamily,
		DstQueueFamily: caps.ComputeQueueFamily,
	}
}

// graphicsAcquire is the barrier pair that hands the written surface to the main pass.
// Caller must hold the mutex.
func (s *synthesis) graphicsAcquire() renderer.Barrier {
	caps := s.r.Capabilities()
	return renderer.Barrier{
		Image:          s.image,
		Aspect:         renderer.AspectColor,
		OldLayout:      renderer.LayoutGeneral,
		NewLayout:      renderer.LayoutShadingRate,
		SrcStage:       renderer.StageComputeShader,
		DstStage:       renderer.StageShadingRateImage,
		SrcQueueFamily: caps.ComputeQueueFamily,
		DstQueueFamily: caps.GraphicsQueueFamily,
	}
}

func (s *synthesis) GraphicsAcquire() renderer.Barrier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graphicsAcquire()
}

func (s *synthesis) GraphicsRelease() renderer.Barrier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.computeAcquire()
}

func (s *synthesis) Record(cb renderer.CommandBuffer, nas, static renderer.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.primed {
		renderer.AcquireBarrier(cb, s.computeAcquire())
	} else {
		cb.TransitionLayout(s.image, renderer.LayoutUndefined, renderer.LayoutGeneral, renderer.AspectColor)
		s.primed = true
	}

	p := GPUSynthesisParams{
		HalfRate:    s.thresholds.HalfRate,
		QuarterRate: s.thresholds.QuarterRate,
		Extent:      [2]uint32{s.extent.Width, s.extent.Height},
	}
	cb.Dispatch(s.pipeline, renderer.Bindings{
		0: renderer.UniformBinding(p.Marshal()),
		1: renderer.ImageBinding(nas),
		2: renderer.ImageBinding(static),
		3: renderer.ImageBinding(s.image),
	}, common.CeilDiv(s.extent.Width, WorkgroupSize), common.CeilDiv(s.extent.Height, WorkgroupSize), 1)

	renderer.ReleaseBarrier(cb, s.graphicsAcquire())
}

func (s *synthesis) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.image != nil {
		s.image.Release()
		s.image = nil
	}
	s.extent = common.Extent2D{}
}
