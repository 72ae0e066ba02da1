// Package capture owns the off-screen copy of the previous frame. The scene is rendered
// into it without overlay or shading rate, and the analysis kernel reads it on the
// compute queue.
package capture

import (
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-vrs/common"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer"
)

// DefaultFormats are the colour formats tried in order. The first storage-capable one
// is used.
var DefaultFormats = []renderer.Format{renderer.FormatBGRA8Unorm, renderer.FormatRGBA8Unorm}

// ColorUsage is the usage of the capture colour image.
const ColorUsage = renderer.ImageUsageSampled | renderer.ImageUsageStorage |
	renderer.ImageUsageColorAttachment | renderer.ImageUsageTransferSrc

// DepthUsage is the usage of the capture depth image, sampled by the motion estimate.
const DepthUsage = renderer.ImageUsageDepthAttachment | renderer.ImageUsageSampled

// Capture owns the capture colour and depth targets, the render pass that writes them
// and the sampler the display quad reads them through. Both images stay in
// LayoutGeneral once primed, so the render pass and the compute reads need no further
// transitions.
type Capture interface {
	// Color returns the colour target, nil before the first Rebuild.
	Color() renderer.Image

	// Depth returns the depth target, nil before the first Rebuild.
	Depth() renderer.Image

	// Sampler returns the bilinear sampler for reading the colour target.
	Sampler() renderer.Sampler

	// RenderPass returns the capture render pass.
	RenderPass() renderer.RenderPass

	// Format returns the colour format picked at construction.
	Format() renderer.Format

	// Extent returns the size of the targets in pixels.
	Extent() common.Extent2D

	// Rebuild releases the targets and allocates new ones at extent. The next Record
	// primes them from LayoutUndefined. Callers must make sure the device no longer uses
	// the old targets.
	//
	// Parameters:
	//   - extent: the frame size in pixels
	//
	// Returns:
	//   - error: ErrZeroExtent or ErrOutOfMemory
	Rebuild(extent common.Extent2D) error

	// Record records the capture render pass into cb, which must target the graphics
	// queue. draw records the scene draws inside the pass.
	//
	// Parameters:
	//   - cb: the graphics command buffer
	//   - draw: records the draws of the pass
	Record(cb renderer.CommandBuffer, draw func(cb renderer.CommandBuffer))

	// Release frees the targets, the sampler and the render pass.
	Release()
}

// capture is the implementation of the Capture interface.
type capture struct {
	mu sync.Mutex

	r          renderer.Renderer
	label      string
	candidates []renderer.Format
	clearColor [4]float32

	format  renderer.Format
	sharing renderer.SharingMode
	sampler renderer.Sampler
	pass    renderer.RenderPass

	extent common.Extent2D
	color  renderer.Image
	depth  renderer.Image
	primed bool
}

var _ Capture = &capture{}

// NewCapture picks the colour format and creates the render pass and sampler. Targets
// are allocated by Rebuild.
//
// Parameters:
//   - r: the renderer
//   - options: variadic list of CaptureBuilderOption functions
//
// Returns:
//   - Capture: the capture
//   - error: ErrUnsupportedFormat when no candidate format supports storage
func NewCapture(r renderer.Renderer, options ...CaptureBuilderOption) (Capture, error) {
	c := &capture{
		r:          r,
		label:      "capture",
		candidates: DefaultFormats,
	}
	for _, opt := range options {
		opt(c)
	}

	caps := r.Capabilities()
	format, err := caps.FirstStorageFormat(c.candidates...)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	c.format = format
	c.sharing = caps.SharingFor()

	c.pass, err = r.CreateRenderPass(renderer.RenderPassDescriptor{
		Label: c.label,
		Color: renderer.AttachmentDescriptor{
			Format:      format,
			Load:        renderer.LoadOpClear,
			Store:       renderer.StoreOpStore,
			ClearColor:  c.clearColor,
			Layout:      renderer.LayoutGeneral,
			FinalLayout: renderer.LayoutGeneral,
		},
		Depth: &renderer.AttachmentDescriptor{
			Format:      renderer.FormatDepth32Float,
			Load:        renderer.LoadOpClear,
			Store:       renderer.StoreOpStore,
			ClearDepth:  1,
			Layout:      renderer.LayoutGeneral,
			FinalLayout: renderer.LayoutGeneral,
		},
		Dependencies: []renderer.SubpassDependency{
			{SrcStage: renderer.StageComputeShader, DstStage: renderer.StageColorAttachmentOutput},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("capture: render pass: %w", err)
	}
	c.sampler, err = r.CreateSampler(renderer.SamplerDescriptor{Label: c.label + " sampler", Linear: true})
	if err != nil {
		c.pass.Release()
		return nil, fmt.Errorf("capture: sampler: %w", err)
	}
	common.Logger().Debug("capture created", "format", format.String(), "sharing", int(c.sharing))
	return c, nil
}

func (c *capture) Color() renderer.Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.color
}

func (c *capture) Depth() renderer.Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.depth
}

func (c *capture) Sampler() renderer.Sampler {
	return c.sampler
}

func (c *capture) RenderPass() renderer.RenderPass {
	return c.pass
}

func (c *capture) Format() renderer.Format {
	return c.format
}

func (c *capture) Extent() common.Extent2D {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.extent
}

func (c *capture) Rebuild(extent common.Extent2D) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseTargets()

	color, err := c.r.AllocateImage(renderer.ImageDescriptor{
		Label:   c.label + " color",
		Width:   extent.Width,
		Height:  extent.Height,
		Format:  c.format,
		Usage:   ColorUsage,
		Sharing: c.sharing,
	})
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	depth, err := c.r.AllocateImage(renderer.ImageDescriptor{
		Label:   c.label + " depth",
		Width:   extent.Width,
		Height:  extent.Height,
		Format:  renderer.FormatDepth32Float,
		Usage:   DepthUsage,
		Sharing: c.sharing,
	})
	if err != nil {
		color.Release()
		return fmt.Errorf("capture: %w", err)
	}
	c.color, c.depth, c.extent, c.primed = color, depth, extent, false
	common.Logger().Debug("capture rebuilt", "extent", extent.String())
	return nil
}

func (c *capture) Record(cb renderer.CommandBuffer, draw func(cb renderer.CommandBuffer)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.primed {
		cb.TransitionLayout(c.color, renderer.LayoutUndefined, renderer.LayoutGeneral, renderer.AspectColor)
		cb.TransitionLayout(c.depth, renderer.LayoutUndefined, renderer.LayoutGeneral, renderer.AspectDepth)
		c.primed = true
	}
	cb.BeginRenderPass(c.pass, c.color, c.depth)
	draw(cb)
	cb.EndRenderPass()
}

// releaseTargets frees the images. Caller must hold the mutex.
func (c *capture) releaseTargets() {
	if c.color != nil {
		c.color.Release()
		c.color = nil
	}
	if c.depth != nil {
		c.depth.Release()
		c.depth = nil
	}
	c.extent = common.Extent2D{}
}

func (c *capture) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseTargets()
	c.sampler.Release()
	c.pass.Release()
}
