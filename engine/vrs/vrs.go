// Package vrs wires the adaptive shading components into one frame loop. Each frame
// captures the previous view, analyses it on the compute queue, synthesises the rate
// surface and renders the main pass with that surface bound.
package vrs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-vrs/common"
	"github.com/Carmen-Shannon/oxy-vrs/engine/analysis"
	"github.com/Carmen-Shannon/oxy-vrs/engine/camera"
	"github.com/Carmen-Shannon/oxy-vrs/engine/capture"
	"github.com/Carmen-Shannon/oxy-vrs/engine/foveation"
	"github.com/Carmen-Shannon/oxy-vrs/engine/overlay"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer"
	"github.com/Carmen-Shannon/oxy-vrs/engine/scene"
	"github.com/Carmen-Shannon/oxy-vrs/engine/sequencer"
	"github.com/Carmen-Shannon/oxy-vrs/engine/settings"
	"github.com/Carmen-Shannon/oxy-vrs/engine/shading_rate"
	"github.com/Carmen-Shannon/oxy-vrs/engine/synthesis"
	"golang.org/x/sync/semaphore"
)

// ErrBusy is returned by Render when another Render call is still running.
var ErrBusy = errors.New("vrs: render in progress")

// FrameStats are the counters of a FrameRenderer.
type FrameStats struct {
	// Frames is the number of presented frames since the last rebuild of the sequencer.
	Frames uint64
	// Extent is the frame size in pixels.
	Extent common.Extent2D
	// RateExtent is the size of the rate surface in texels.
	RateExtent common.Extent2D
	// Device holds the cumulative device counters.
	Device renderer.Stats
}

// FrameRenderer renders frames with an adaptive shading-rate surface.
// Setters are safe to call from any goroutine; Render must be driven by one goroutine
// at a time and rejects overlapping calls with ErrBusy.
type FrameRenderer interface {
	// SetAdaptiveShading selects the synthesised surface (true) or the static foveation
	// pattern (false) for the main pass. Takes effect on the next frame.
	SetAdaptiveShading(enabled bool)

	// AdaptiveShading reports whether the synthesised surface is bound.
	AdaptiveShading() bool

	// SetColorizeShadingRate tints the main pass by shading rate.
	SetColorizeShadingRate(enabled bool)

	// ColorizeShadingRate reports whether the main pass is tinted.
	ColorizeShadingRate() bool

	// SetShadingRateEnabled binds no rate surface at all when false, shading every pixel.
	SetShadingRateEnabled(enabled bool)

	// ShadingRateEnabled reports whether a rate surface is bound.
	ShadingRateEnabled() bool

	// OnResize records a new frame size. The rebuild happens at the start of the next
	// Render. Zero sizes, as reported for minimised windows, are ignored.
	//
	// Parameters:
	//   - width: the new width in pixels
	//   - height: the new height in pixels
	OnResize(width, height int)

	// Render records, submits and presents one frame.
	//
	// Returns:
	//   - error: ErrBusy, or the wrapped device error that failed the frame
	Render() error

	// ApplySettings validates s and schedules it for the start of the next Render.
	//
	// Parameters:
	//   - s: the new settings
	//
	// Returns:
	//   - error: settings.ErrInvalid
	ApplySettings(s settings.Settings) error

	// Settings returns the settings in effect, including the current toggles.
	Settings() settings.Settings

	// WatchSettings hot-reloads the settings file at path until ctx is cancelled.
	//
	// Parameters:
	//   - ctx: stops the watch when cancelled
	//   - path: the settings file
	//
	// Returns:
	//   - error: an error if the watch cannot be set up
	WatchSettings(ctx context.Context, path string) error

	// RateSurface reads back the rate surface the main pass binds, waiting for the
	// device to go idle first.
	//
	// Parameters:
	//   - ctx: bounds the wait for a running Render
	//
	// Returns:
	//   - shading_rate.Pattern: the surface contents
	//   - error: ctx.Err() or a device error
	RateSurface(ctx context.Context) (shading_rate.Pattern, error)

	// DumpRateSurface writes RateSurface as an upscaled PNG.
	DumpRateSurface(ctx context.Context, w io.Writer) error

	// Camera returns the camera the scene is rendered from.
	Camera() camera.Camera

	// Scene returns the rendered scene.
	Scene() scene.Scene

	// Extent returns the frame size in pixels.
	Extent() common.Extent2D

	// Stats returns the frame and device counters.
	Stats() FrameStats

	// Release waits for the device and frees every resource the FrameRenderer owns. The
	// renderer itself is not destroyed.
	Release()
}

// frameRenderer is the implementation of the FrameRenderer interface.
type frameRenderer struct {
	mu   sync.Mutex
	gate *semaphore.Weighted

	r         renderer.Renderer
	cam       camera.Camera
	scene     scene.Scene
	fov       foveation.Surface
	capture   capture.Capture
	analysis  analysis.Analysis
	synthesis synthesis.Synthesis
	overlay   overlay.Overlay
	seq       sequencer.Sequencer

	mainPass  renderer.RenderPass
	mainDepth renderer.Image
	frame     common.Extent2D

	settings        settings.Settings
	pendingSettings *settings.Settings
	pendingResize   *common.Extent2D
	broken          bool

	fixedStep      float32
	overlayOptions []overlay.OverlayBuilderOption
	last           time.Time
	released       bool
}

var _ FrameRenderer = &frameRenderer{}

// NewFrameRenderer creates every pipeline component on r and sizes them to the
// renderer's current extent.
//
// Parameters:
//   - r: the renderer; it must support shading-rate images
//   - options: variadic list of FrameRendererBuilderOption functions
//
// Returns:
//   - FrameRenderer: the frame renderer
//   - error: renderer.ErrMissingFeature, renderer.ErrUnsupportedFormat or a device error
func NewFrameRenderer(r renderer.Renderer, options ...FrameRendererBuilderOption) (FrameRenderer, error) {
	f := &frameRenderer{
		gate:     semaphore.NewWeighted(1),
		r:        r,
		settings: settings.Default(),
	}
	for _, opt := range options {
		opt(f)
	}
	if err := f.settings.Validate(); err != nil {
		return nil, fmt.Errorf("vrs: %w", err)
	}
	if err := f.build(); err != nil {
		f.Release()
		return nil, err
	}
	return f, nil
}

// build creates the components and sizes them to the renderer extent.
func (f *frameRenderer) build() error {
	var err error
	frame := f.r.Extent()
	if f.scene == nil {
		if f.scene, err = scene.NewScene(f.r); err != nil {
			return fmt.Errorf("vrs: %w", err)
		}
	}
	if f.cam == nil {
		f.cam = camera.NewCamera(
			camera.WithController(camera.NewCameraController(camera.WithAutoOrbit(0.25))),
			camera.WithAspect(frame.Aspect()),
			camera.WithViewport(common.ViewportFromExtent(frame)),
		)
	}
	f.fov = foveation.NewSurface(f.r, foveation.WithThresholdTable(f.settings.Foveation))
	if f.capture, err = capture.NewCapture(f.r); err != nil {
		return fmt.Errorf("vrs: %w", err)
	}
	if f.analysis, err = analysis.NewAnalysis(f.r, analysis.WithSensitivities(f.settings.Sensitivities)); err != nil {
		return fmt.Errorf("vrs: %w", err)
	}
	if f.synthesis, err = synthesis.NewSynthesis(f.r, synthesis.WithThresholds(f.settings.Thresholds)); err != nil {
		return fmt.Errorf("vrs: %w", err)
	}
	if f.overlay, err = overlay.NewOverlay(f.r, f.overlayOptions...); err != nil {
		return fmt.Errorf("vrs: %w", err)
	}
	if f.seq, err = sequencer.NewSequencer(f.r); err != nil {
		return fmt.Errorf("vrs: %w", err)
	}
	if f.mainPass, err = f.r.CreateRenderPass(mainPassDescriptor(f.r.Capabilities().SurfaceFormat)); err != nil {
		return fmt.Errorf("vrs: main pass: %w", err)
	}
	if err := f.rebuild(frame); err != nil {
		return err
	}
	common.Logger().Info("frame renderer ready", "extent", frame.String(), "rate_extent", f.synthesis.Extent().String())
	return nil
}

// mainPassDescriptor describes the swapchain pass: the colour attachment arrives in
// LayoutColorAttachment and leaves ready to present.
func mainPassDescriptor(format renderer.Format) renderer.RenderPassDescriptor {
	return renderer.RenderPassDescriptor{
		Label: "main",
		Color: renderer.AttachmentDescriptor{
			Format:      format,
			Load:        renderer.LoadOpClear,
			Store:       renderer.StoreOpStore,
			ClearColor:  [4]float32{0, 0, 0, 1},
			Layout:      renderer.LayoutColorAttachment,
			FinalLayout: renderer.LayoutPresent,
		},
		Depth: &renderer.AttachmentDescriptor{
			Format:      renderer.FormatDepth32Float,
			Load:        renderer.LoadOpClear,
			Store:       renderer.StoreOpDontCare,
			ClearDepth:  1,
			FinalLayout: renderer.LayoutDepthAttachment,
		},
		Dependencies: []renderer.SubpassDependency{
			{SrcStage: renderer.StageComputeShader, DstStage: renderer.StageShadingRateImage},
			{SrcStage: renderer.StageColorAttachmentOutput, DstStage: renderer.StageColorAttachmentOutput},
		},
	}
}

func (f *frameRenderer) SetAdaptiveShading(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings.AdaptiveShading = enabled
}

func (f *frameRenderer) AdaptiveShading() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings.AdaptiveShading
}

func (f *frameRenderer) SetColorizeShadingRate(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings.ColorizeShadingRate = enabled
}

func (f *frameRenderer) ColorizeShadingRate() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings.ColorizeShadingRate
}

func (f *frameRenderer) SetShadingRateEnabled(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings.EnableShadingRate = enabled
}

func (f *frameRenderer) ShadingRateEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings.EnableShadingRate
}

func (f *frameRenderer) OnResize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pendingResize = &common.Extent2D{Width: uint32(width), Height: uint32(height)}
	common.Logger().Debug("resize deferred", "width", width, "height", height)
}

func (f *frameRenderer) ApplySettings(s settings.Settings) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("vrs: %w", err)
	}
	c := s.Clone()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pendingSettings = &c
	return nil
}

func (f *frameRenderer) Settings() settings.Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings.Clone()
}

func (f *frameRenderer) WatchSettings(ctx context.Context, path string) error {
	return settings.Watch(ctx, path, func(s settings.Settings) {
		if err := f.ApplySettings(s); err != nil {
			common.Logger().Warn("settings rejected", "path", path, "error", err)
		}
	}, settings.WithInitial(f.Settings()))
}

func (f *frameRenderer) Camera() camera.Camera {
	return f.cam
}

func (f *frameRenderer) Scene() scene.Scene {
	return f.scene
}

func (f *frameRenderer) Extent() common.Extent2D {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frame
}

func (f *frameRenderer) Stats() FrameStats {
	f.mu.Lock()
	frame := f.frame
	f.mu.Unlock()
	fs := FrameStats{Extent: frame, Device: f.r.Stats()}
	if f.seq != nil {
		fs.Frames = f.seq.Frame()
	}
	if f.synthesis != nil {
		fs.RateExtent = f.synthesis.Extent()
	}
	return fs
}

func (f *frameRenderer) Release() {
	f.mu.Lock()
	if f.released {
		f.mu.Unlock()
		return
	}
	f.released = true
	f.mu.Unlock()

	// Wait out a running Render or RateSurface.
	_ = f.gate.Acquire(context.Background(), 1)
	defer f.gate.Release(1)

	if err := f.r.WaitIdle(); err != nil {
		common.Logger().Warn("wait idle before release failed", "error", err)
	}
	if f.seq != nil {
		f.seq.Release()
	}
	if f.synthesis != nil {
		f.synthesis.Release()
	}
	if f.analysis != nil {
		f.analysis.Release()
	}
	if f.capture != nil {
		f.capture.Release()
	}
	if f.fov != nil {
		f.fov.Release()
	}
	if f.mainDepth != nil {
		f.mainDepth.Release()
		f.mainDepth = nil
	}
	if f.mainPass != nil {
		f.mainPass.Release()
	}
	common.Logger().Debug("frame renderer released")
}
