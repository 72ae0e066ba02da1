package renderer

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-vrs/common"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
)

// Binding is one resource bound to a dispatch or draw.
type Binding struct {
	Image   Image
	Sampler Sampler
	Uniform []byte
}

// Bindings maps binding indices of bind group 0 to resources.
type Bindings map[int]Binding

// ImageBinding binds an image.
func ImageBinding(img Image) Binding {
	return Binding{Image: img}
}

// SamplerBinding binds a sampler.
func SamplerBinding(s Sampler) Binding {
	return Binding{Sampler: s}
}

// UniformBinding binds uniform bytes. The data is copied when recorded.
func UniformBinding(data []byte) Binding {
	return Binding{Uniform: append([]byte(nil), data...)}
}

// Barrier is an image memory barrier, optionally transferring queue family ownership.
// A barrier with different source and destination families must be recorded twice:
// once on the releasing queue and once on the acquiring queue.
type Barrier struct {
	Image          Image
	Aspect         Aspect
	OldLayout      Layout
	NewLayout      Layout
	SrcStage       PipelineStage
	DstStage       PipelineStage
	SrcQueueFamily uint32
	DstQueueFamily uint32
}

// IsOwnershipTransfer reports whether the barrier moves the image between queue families.
func (b Barrier) IsOwnershipTransfer() bool {
	return b.SrcQueueFamily != b.DstQueueFamily
}

// ReleaseBarrier records the releasing half of b on the source queue. Within one queue
// family it is the whole barrier.
func ReleaseBarrier(cb CommandBuffer, b Barrier) {
	cb.PipelineBarrier(b)
}

// AcquireBarrier records the acquiring half of b on the destination queue. Within one
// queue family, or for a concurrent image, the release already performed the transition
// and nothing is recorded.
func AcquireBarrier(cb CommandBuffer, b Barrier) {
	if b.IsOwnershipTransfer() && b.Image.Sharing() == SharingExclusive {
		cb.PipelineBarrier(b)
	}
}

// DrawCommand draws the pipeline's full-viewport primitive.
type DrawCommand struct {
	Pipeline pipeline.Pipeline
	Bindings Bindings
	// Viewport limits the draw to a sub-rectangle of the target. A zero size covers
	// the whole target.
	Viewport common.Viewport
}

// SemaphoreWait is a semaphore a submission waits on before the given stages run.
type SemaphoreWait struct {
	Semaphore Semaphore
	Stage     PipelineStage
}

// SubmitInfo lists the semaphores a submission waits on and signals.
type SubmitInfo struct {
	Waits   []SemaphoreWait
	Signals []Semaphore
}

// CommandKind identifies a recorded command.
type CommandKind int

const (
	CommandBarrier CommandKind = iota
	CommandCopyBufferToImage
	CommandBeginRenderPass
	CommandBindShadingRateImage
	CommandDraw
	CommandEndRenderPass
	CommandDispatch
)

// Command is one recorded command. Only the fields relevant to Kind are set.
type Command struct {
	Kind CommandKind

	Barrier Barrier

	Buffer Buffer
	Image  Image

	RenderPass RenderPass
	Color      Image
	Depth      Image

	Draw DrawCommand

	Pipeline   pipeline.Pipeline
	Bindings   Bindings
	Workgroups [3]uint32
}

// commandBuffer is the implementation of the CommandBuffer interface. Recording is
// backend independent; each backend interprets the commands at submission.
type commandBuffer struct {
	label    string
	queue    QueueKind
	commands []Command
	inPass   bool
	err      error
}

// CommandBuffer records commands for one submission to one queue.
type CommandBuffer interface {
	// Label returns the debug label, also used in traces.
	Label() string

	// Queue returns the queue the buffer was created for.
	Queue() QueueKind

	// TransitionLayout records a same-family layout transition barrier.
	//
	// Parameters:
	//   - img: the image to transition
	//   - oldLayout: the layout the image is in, LayoutUndefined to discard contents
	//   - newLayout: the layout to move to
	//   - aspect: the image aspect
	TransitionLayout(img Image, oldLayout, newLayout Layout, aspect Aspect)

	// PipelineBarrier records an image barrier, which may transfer queue family ownership.
	//
	// Parameters:
	//   - b: the barrier
	PipelineBarrier(b Barrier)

	// CopyBufferToImage copies a tightly packed buffer into the whole image, which must be
	// in LayoutTransferDst.
	//
	// Parameters:
	//   - src: the source buffer
	//   - dst: the destination image
	CopyBufferToImage(src Buffer, dst Image)

	// BeginRenderPass starts a render pass on the given attachments.
	//
	// Parameters:
	//   - rp: the render pass
	//   - color: the colour attachment
	//   - depth: the depth attachment, nil when the pass has none
	BeginRenderPass(rp RenderPass, color, depth Image)

	// BindShadingRateImage binds the shading-rate image used by subsequent draws of the
	// current pass. nil unbinds it and later draws shade at full rate.
	//
	// Parameters:
	//   - img: the shading-rate image in LayoutShadingRate or LayoutGeneral, or nil
	BindShadingRateImage(img Image)

	// Draw records a draw inside the current render pass.
	//
	// Parameters:
	//   - cmd: the draw
	Draw(cmd DrawCommand)

	// EndRenderPass ends the current render pass.
	EndRenderPass()

	// Dispatch records a compute dispatch outside any render pass.
	//
	// Parameters:
	//   - p: the compute pipeline
	//   - bindings: the resources by binding index
	//   - x, y, z: the number of workgroups
	Dispatch(p pipeline.Pipeline, bindings Bindings, x, y, z uint32)

	// Commands returns the recorded commands.
	//
	// Returns:
	//   - []Command: the commands in recording order
	Commands() []Command

	// Err returns the first recording error, such as a draw outside a render pass.
	//
	// Returns:
	//   - error: the recording error, or nil
	Err() error
}

var _ CommandBuffer = &commandBuffer{}

var errRecording = errors.New("renderer: invalid command recording")

func newCommandBuffer(queue QueueKind, label string) *commandBuffer {
	return &commandBuffer{label: label, queue: queue}
}

func (c *commandBuffer) Label() string {
	return c.label
}

func (c *commandBuffer) Queue() QueueKind {
	return c.queue
}

func (c *commandBuffer) Commands() []Command {
	return c.commands
}

func (c *commandBuffer) Err() error {
	if c.err == nil && c.inPass {
		return fmt.Errorf("%w: %s: render pass not ended", errRecording, c.label)
	}
	return c.err
}

func (c *commandBuffer) fail(format string, args ...any) {
	if c.err == nil {
		c.err = fmt.Errorf("%w: %s: %s", errRecording, c.label, fmt.Sprintf(format, args...))
	}
}

func (c *commandBuffer) TransitionLayout(img Image, oldLayout, newLayout Layout, aspect Aspect) {
	c.PipelineBarrier(Barrier{
		Image:     img,
		Aspect:    aspect,
		OldLayout: oldLayout,
		NewLayout: newLayout,
		SrcStage:  StageAllCommands,
		DstStage:  StageAllCommands,
	})
}

func (c *commandBuffer) PipelineBarrier(b Barrier) {
	if c.inPass {
		c.fail("barrier inside render pass")
		return
	}
	if b.Image == nil {
		c.fail("barrier without image")
		return
	}
	c.commands = append(c.commands, Command{Kind: CommandBarrier, Barrier: b})
}

func (c *commandBuffer) CopyBufferToImage(src Buffer, dst Image) {
	if c.inPass {
		c.fail("copy inside render pass")
		return
	}
	c.commands = append(c.commands, Command{Kind: CommandCopyBufferToImage, Buffer: src, Image: dst})
}

func (c *commandBuffer) BeginRenderPass(rp RenderPass, color, depth Image) {
	if c.inPass {
		c.fail("nested render pass")
		return
	}
	if c.queue != QueueGraphics {
		c.fail("render pass on %s queue", c.queue)
		return
	}
	if (rp.Descriptor().Depth != nil) != (depth != nil) {
		c.fail("depth attachment does not match render pass %q", rp.Descriptor().Label)
		return
	}
	c.inPass = true
	c.commands = append(c.commands, Command{Kind: CommandBeginRenderPass, RenderPass: rp, Color: color, Depth: depth})
}

func (c *commandBuffer) BindShadingRateImage(img Image) {
	if !c.inPass {
		c.fail("shading-rate bind outside render pass")
		return
	}
	c.commands = append(c.commands, Command{Kind: CommandBindShadingRateImage, Image: img})
}

func (c *commandBuffer) Draw(cmd DrawCommand) {
	if !c.inPass {
		c.fail("draw outside render pass")
		return
	}
	if cmd.Pipeline == nil || cmd.Pipeline.Type() != pipeline.PipelineTypeRender {
		c.fail("draw without a render pipeline")
		return
	}
	c.commands = append(c.commands, Command{Kind: CommandDraw, Draw: cmd})
}

func (c *commandBuffer) EndRenderPass() {
	if !c.inPass {
		c.fail("end without render pass")
		return
	}
	c.inPass = false
	c.commands = append(c.commands, Command{Kind: CommandEndRenderPass})
}

func (c *commandBuffer) Dispatch(p pipeline.Pipeline, bindings Bindings, x, y, z uint32) {
	if c.inPass {
		c.fail("dispatch inside render pass")
		return
	}
	if p == nil || p.Type() != pipeline.PipelineTypeCompute {
		c.fail("dispatch without a compute pipeline")
		return
	}
	c.commands = append(c.commands, Command{Kind: CommandDispatch, Pipeline: p, Bindings: bindings, Workgroups: [3]uint32{x, y, z}})
}

// imageAccess is one image touched by a command.
type imageAccess struct {
	image Image
	write bool
}

// accesses lists the images a command reads and writes, in command order.
func (cmd Command) accesses() []imageAccess {
	switch cmd.Kind {
	case CommandBarrier:
		return []imageAccess{{cmd.Barrier.Image, true}}
	case CommandCopyBufferToImage:
		return []imageAccess{{cmd.Image, true}}
	case CommandBeginRenderPass:
		out := []imageAccess{{cmd.Color, true}}
		if cmd.Depth != nil {
			out = append(out, imageAccess{cmd.Depth, true})
		}
		return out
	case CommandBindShadingRateImage:
		if cmd.Image == nil {
			return nil
		}
		return []imageAccess{{cmd.Image, false}}
	case CommandDraw:
		return bindingAccesses(cmd.Draw.Bindings, nil)
	case CommandDispatch:
		return bindingAccesses(cmd.Bindings, cmd.Pipeline)
	default:
		return nil
	}
}

// bindingAccesses classifies bound images as reads or writes. Compute bindings are
// writes when the shader declares them as writable storage textures.
func bindingAccesses(b Bindings, p pipeline.Pipeline) []imageAccess {
	var out []imageAccess
	for binding, res := range b {
		if res.Image == nil {
			continue
		}
		out = append(out, imageAccess{res.Image, p != nil && isStorageWrite(p, binding, res.Image)})
	}
	return out
}

// isStorageWrite reports whether binding is a writable storage texture of the compute
// shader. Pipelines without a shader treat every storage-usage image as written.
func isStorageWrite(p pipeline.Pipeline, binding int, img Image) bool {
	s := p.Shader(shader.ShaderTypeCompute)
	if s == nil {
		return img.Usage().Has(ImageUsageStorage)
	}
	for _, e := range s.BindGroupLayoutDescriptor(0).Entries {
		if int(e.Binding) != binding {
			continue
		}
		return e.StorageTexture.Access == wgpu.StorageTextureAccessWriteOnly ||
			e.StorageTexture.Access == wgpu.StorageTextureAccessReadWrite
	}
	return false
}
