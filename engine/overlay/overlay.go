// Package overlay draws the debug quads of the main pass: the previous-frame capture in a
// bordered picture-in-picture and a status bar with one light per pipeline toggle.
package overlay

import (
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-vrs/common"
	"github.com/Carmen-Shannon/oxy-vrs/engine/assets"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer/shader"
)

// PipelineKey is the key the overlay pipeline is registered under.
const PipelineKey = "overlay"

var (
	lightOn  = [4]float32{0.2, 0.85, 0.3, 0.9}
	lightOff = [4]float32{0.55, 0.1, 0.1, 0.9}
	frame    = [4]float32{0.05, 0.05, 0.05, 1}
)

// Status is the state shown by the status bar, one light per field in order.
type Status struct {
	Adaptive    bool
	Colorize    bool
	RateBinding bool
}

func (s Status) lights() []bool {
	return []bool{s.Adaptive, s.Colorize, s.RateBinding}
}

// Source is the capture image the display quad shows.
type Source struct {
	Image   renderer.Image
	Sampler renderer.Sampler
}

// Overlay records the debug quads into the main render pass.
type Overlay interface {
	// Pipeline returns the registered render pipeline.
	Pipeline() pipeline.Pipeline

	// Visible reports whether Draw records anything.
	Visible() bool

	// SetVisible shows or hides the overlay.
	SetVisible(visible bool)

	// Layout returns the viewports of the display quad and the status lights for a
	// target of the given size.
	Layout(target common.Extent2D) (quad common.Viewport, lights []common.Viewport)

	// Draw records the display quad and the status lights into the current render pass
	// of cb. Every draw binds src, which must be readable by fragment shaders.
	//
	// Parameters:
	//   - cb: a graphics command buffer inside a render pass
	//   - target: the render target size in pixels
	//   - src: the capture image and sampler
	//   - status: the toggles to show
	Draw(cb renderer.CommandBuffer, target common.Extent2D, src Source, status Status)
}

// overlay is the implementation of the Overlay interface.
type overlay struct {
	mu sync.RWMutex

	pipeline pipeline.Pipeline

	visible     bool
	quadScale   float32
	margin      float32
	lightSize   float32
	borderWidth float32
}

var _ Overlay = &overlay{}

// NewOverlay registers the overlay pipeline: blended, no depth test.
//
// Parameters:
//   - r: the renderer
//   - options: variadic list of OverlayBuilderOption functions
//
// Returns:
//   - Overlay: the overlay
//   - error: an error if the shader cannot be loaded or the pipeline registered
func NewOverlay(r renderer.Renderer, options ...OverlayBuilderOption) (Overlay, error) {
	o := &overlay{
		visible:     true,
		quadScale:   0.25,
		margin:      8,
		lightSize:   12,
		borderWidth: 0.02,
	}
	for _, opt := range options {
		opt(o)
	}

	if o.pipeline = r.Pipeline(PipelineKey); o.pipeline != nil {
		return o, nil
	}
	vs, err := r.CompileAndLoadShader(assets.OverlayShader, shader.ShaderTypeVertex)
	if err != nil {
		return nil, fmt.Errorf("overlay: %w", err)
	}
	fs, err := r.CompileAndLoadShader(assets.OverlayShader, shader.ShaderTypeFragment)
	if err != nil {
		return nil, fmt.Errorf("overlay: %w", err)
	}
	o.pipeline = pipeline.NewPipeline(PipelineKey, pipeline.PipelineTypeRender,
		pipeline.WithRenderShaders(vs, fs),
		pipeline.WithFragmentKernel(Shade),
		pipeline.WithDepth(false, false),
		pipeline.WithBlendEnabled(true),
	)
	if err := r.RegisterPipelines(o.pipeline); err != nil {
		return nil, fmt.Errorf("overlay: register pipeline: %w", err)
	}
	return o, nil
}

func (o *overlay) Pipeline() pipeline.Pipeline {
	return o.pipeline
}

func (o *overlay) Visible() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.visible
}

func (o *overlay) SetVisible(visible bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.visible = visible
}

func (o *overlay) Layout(target common.Extent2D) (common.Viewport, []common.Viewport) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	w, h := float32(target.Width), float32(target.Height)
	qw, qh := w*o.quadScale, h*o.quadScale
	quad := common.Viewport{
		Origin: [2]float32{max(w-qw-o.margin, 0), max(h-qh-o.margin, 0)},
		Size:   [2]float32{qw, qh},
	}
	n := len(Status{}.lights())
	lights := make([]common.Viewport, n)
	for i := range lights {
		lights[i] = common.Viewport{
			Origin: [2]float32{o.margin + float32(i)*(o.lightSize+o.margin/2), o.margin},
			Size:   [2]float32{o.lightSize, o.lightSize},
		}
	}
	return quad, lights
}

func (o *overlay) Draw(cb renderer.CommandBuffer, target common.Extent2D, src Source, status Status) {
	if !o.Visible() {
		return
	}
	quad, lights := o.Layout(target)
	o.mu.RLock()
	border := o.borderWidth
	o.mu.RUnlock()

	o.quad(cb, quad, src, GPUOverlayParams{
		Tint:        [4]float32{1, 1, 1, 1},
		Border:      frame,
		BorderWidth: border,
		Mode:        ModeCapture,
	})
	for i, on := range status.lights() {
		tint := lightOff
		if on {
			tint = lightOn
		}
		o.quad(cb, lights[i], src, GPUOverlayParams{
			Tint:        tint,
			Border:      frame,
			BorderWidth: 0.15,
			Mode:        ModeSolid,
		})
	}
}

func (o *overlay) quad(cb renderer.CommandBuffer, vp common.Viewport, src Source, p GPUOverlayParams) {
	cb.Draw(renderer.DrawCommand{
		Pipeline: o.pipeline,
		Bindings: renderer.Bindings{
			0: renderer.UniformBinding(p.Marshal()),
			1: renderer.ImageBinding(src.Image),
			2: renderer.SamplerBinding(src.Sampler),
		},
		Viewport: vp,
	})
}
