package renderer

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer/pipeline"
)

// imageState is the submission-time state of one image.
type imageState struct {
	layout     Layout
	owner      int64
	transferTo int64
}

// validator replays a submission against the tracked image and semaphore state. Changes
// are staged and only committed when the whole submission is valid.
type validator struct {
	b       *softwareBackend
	queue   QueueKind
	family  int64
	label   string
	images  map[*swImage]imageState
	pass    *swRenderPass
	color   *swImage
	depth   *swImage
	signals map[*swSemaphore]bool
}

// layoutUsage is the usage an image needs to enter a layout.
var layoutUsage = map[Layout]ImageUsage{
	LayoutTransferDst:     ImageUsageTransferDst,
	LayoutShaderReadOnly:  ImageUsageSampled,
	LayoutColorAttachment: ImageUsageColorAttachment,
	LayoutDepthAttachment: ImageUsageDepthAttachment,
	LayoutShadingRate:     ImageUsageShadingRate,
}

func (b *softwareBackend) newValidator(queue QueueKind, label string) *validator {
	return &validator{
		b:       b,
		queue:   queue,
		family:  int64(b.caps.QueueFamily(queue)),
		label:   label,
		images:  make(map[*swImage]imageState),
		signals: make(map[*swSemaphore]bool),
	}
}

func (v *validator) errorf(base error, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %w", ErrSubmit, v.label, fmt.Errorf("%w: %s", base, fmt.Sprintf(format, args...)))
}

func (v *validator) state(img *swImage) imageState {
	if s, ok := v.images[img]; ok {
		return s
	}
	return imageState{layout: img.layout, owner: img.owner, transferTo: img.transferTo}
}

func (v *validator) image(i Image) (*swImage, error) {
	img, ok := i.(*swImage)
	if !ok || img == nil {
		return nil, v.errorf(ErrReleased, "image %v does not belong to this device", i)
	}
	if img.released.Load() {
		return nil, v.errorf(ErrReleased, "image %q", img.desc.Label)
	}
	return img, nil
}

// exclusive reports whether img is subject to queue family ownership.
func (v *validator) exclusive(img *swImage) bool {
	return img.desc.Sharing == SharingExclusive && !v.b.caps.SharedQueueFamily()
}

func (v *validator) own(img *swImage) error {
	if !v.exclusive(img) {
		return nil
	}
	s := v.state(img)
	switch s.owner {
	case ownerNone:
		s.owner = v.family
		v.images[img] = s
		return nil
	case v.family:
		return nil
	case ownerInTransfer:
		return v.errorf(ErrOwnership, "image %q used between release and acquire", img.desc.Label)
	default:
		return v.errorf(ErrOwnership, "image %q is owned by family %d, used on family %d", img.desc.Label, s.owner, v.family)
	}
}

func (v *validator) requireUsage(img *swImage, usage ImageUsage, what string) error {
	if !img.desc.Usage.Has(usage) {
		return v.errorf(ErrInvalidUsage, "image %q used as %s", img.desc.Label, what)
	}
	return nil
}

func (v *validator) requireLayout(img *swImage, want ...Layout) error {
	got := v.state(img).layout
	for _, l := range want {
		if got == l {
			return nil
		}
	}
	return v.errorf(ErrInvalidLayout, "image %q is in %s, want %v", img.desc.Label, got, want)
}

func (v *validator) setLayout(img *swImage, l Layout) {
	s := v.state(img)
	s.layout = l
	v.images[img] = s
}

func (v *validator) barrier(b Barrier) error {
	img, err := v.image(b.Image)
	if err != nil {
		return err
	}
	if u, ok := layoutUsage[b.NewLayout]; ok {
		if err := v.requireUsage(img, u, b.NewLayout.String()); err != nil {
			return err
		}
	}
	s := v.state(img)
	if b.IsOwnershipTransfer() && v.exclusive(img) {
		switch v.family {
		case int64(b.SrcQueueFamily):
			if err := v.own(img); err != nil {
				return err
			}
			if b.OldLayout != LayoutUndefined && b.OldLayout != s.layout {
				return v.errorf(ErrInvalidLayout, "release of %q from %s, image is in %s", img.desc.Label, b.OldLayout, s.layout)
			}
			v.images[img] = imageState{layout: b.NewLayout, owner: ownerInTransfer, transferTo: int64(b.DstQueueFamily)}
		case int64(b.DstQueueFamily):
			if s.owner != ownerInTransfer || s.transferTo != v.family {
				return v.errorf(ErrOwnership, "acquire of %q by family %d without a matching release", img.desc.Label, v.family)
			}
			v.images[img] = imageState{layout: b.NewLayout, owner: v.family, transferTo: ownerNone}
		default:
			return v.errorf(ErrOwnership, "transfer of %q from %d to %d recorded on family %d", img.desc.Label, b.SrcQueueFamily, b.DstQueueFamily, v.family)
		}
		return nil
	}
	if err := v.own(img); err != nil {
		return err
	}
	if b.OldLayout != LayoutUndefined && b.OldLayout != s.layout {
		return v.errorf(ErrInvalidLayout, "transition of %q from %s, image is in %s", img.desc.Label, b.OldLayout, s.layout)
	}
	v.setLayout(img, b.NewLayout)
	return nil
}

func (v *validator) copyBufferToImage(cmd Command) error {
	buf, ok := cmd.Buffer.(*swBuffer)
	if !ok || buf.released.Load() {
		return v.errorf(ErrReleased, "copy source buffer")
	}
	if buf.desc.Usage&BufferUsageTransferSrc == 0 {
		return v.errorf(ErrInvalidUsage, "buffer %q is not a transfer source", buf.desc.Label)
	}
	img, err := v.image(cmd.Image)
	if err != nil {
		return err
	}
	if err := v.requireUsage(img, ImageUsageTransferDst, "copy destination"); err != nil {
		return err
	}
	if buf.desc.Size < len(img.data) {
		return v.errorf(ErrInvalidUsage, "buffer %q holds %d bytes, image %q needs %d", buf.desc.Label, buf.desc.Size, img.desc.Label, len(img.data))
	}
	if err := v.own(img); err != nil {
		return err
	}
	return v.requireLayout(img, LayoutTransferDst)
}

func (v *validator) attachment(i Image, desc AttachmentDescriptor, usage ImageUsage) (*swImage, error) {
	img, err := v.image(i)
	if err != nil {
		return nil, err
	}
	if err := v.requireUsage(img, usage, "attachment"); err != nil {
		return nil, err
	}
	if img.desc.Format != desc.Format {
		return nil, v.errorf(ErrUnsupportedFormat, "attachment %q is %s, render pass expects %s", img.desc.Label, img.desc.Format, desc.Format)
	}
	if err := v.own(img); err != nil {
		return nil, err
	}
	if desc.Layout != LayoutUndefined {
		if err := v.requireLayout(img, desc.Layout); err != nil {
			return nil, err
		}
	}
	return img, nil
}

func (v *validator) beginRenderPass(cmd Command) error {
	rp, ok := cmd.RenderPass.(*swRenderPass)
	if !ok || rp.released.Load() {
		return v.errorf(ErrReleased, "render pass")
	}
	color, err := v.attachment(cmd.Color, rp.desc.Color, ImageUsageColorAttachment)
	if err != nil {
		return err
	}
	var depth *swImage
	if rp.desc.Depth != nil {
		if depth, err = v.attachment(cmd.Depth, *rp.desc.Depth, ImageUsageDepthAttachment); err != nil {
			return err
		}
		if depth.Extent() != color.Extent() {
			return v.errorf(ErrInvalidUsage, "depth %v and color %v attachments differ in size", depth.Extent(), color.Extent())
		}
	}
	v.pass, v.color, v.depth = rp, color, depth
	return nil
}

func (v *validator) endRenderPass() {
	v.setLayout(v.color, v.pass.desc.Color.FinalLayout)
	if v.depth != nil {
		v.setLayout(v.depth, v.pass.desc.Depth.FinalLayout)
	}
	v.pass, v.color, v.depth = nil, nil, nil
}

func (v *validator) bindShadingRate(cmd Command) error {
	if cmd.Image == nil {
		return nil
	}
	if !v.b.caps.ShadingRateImage {
		return v.errorf(ErrMissingFeature, "shading-rate image")
	}
	img, err := v.image(cmd.Image)
	if err != nil {
		return err
	}
	if err := v.requireUsage(img, ImageUsageShadingRate, "shading-rate image"); err != nil {
		return err
	}
	if err := v.own(img); err != nil {
		return err
	}
	// A rate image shared with compute kernels stays in LayoutGeneral.
	return v.requireLayout(img, LayoutShadingRate, LayoutGeneral)
}

func (v *validator) bindings(p pipeline.Pipeline, b Bindings) error {
	for binding, res := range b {
		if res.Sampler != nil {
			if s, ok := res.Sampler.(*swSampler); !ok || s.released.Load() {
				return v.errorf(ErrReleased, "sampler at binding %d", binding)
			}
		}
		if res.Image == nil {
			continue
		}
		img, err := v.image(res.Image)
		if err != nil {
			return err
		}
		if err := v.own(img); err != nil {
			return err
		}
		if p.Type() == pipeline.PipelineTypeCompute && isStorageWrite(p, binding, img) {
			if err := v.requireUsage(img, ImageUsageStorage, "storage image"); err != nil {
				return err
			}
			if err := v.requireLayout(img, LayoutGeneral); err != nil {
				return err
			}
			continue
		}
		if !img.desc.Usage.Has(ImageUsageSampled) && !img.desc.Usage.Has(ImageUsageStorage) {
			return v.errorf(ErrInvalidUsage, "image %q bound for reading", img.desc.Label)
		}
		if err := v.requireLayout(img, LayoutGeneral, LayoutShaderReadOnly); err != nil {
			return err
		}
	}
	return nil
}

func (v *validator) checkPipeline(p pipeline.Pipeline) error {
	switch p.Type() {
	case pipeline.PipelineTypeCompute:
		if p.Kernel() == nil {
			return v.errorf(ErrMissingKernel, "pipeline %q", p.Key())
		}
	case pipeline.PipelineTypeRender:
		if p.FragmentKernel() == nil {
			return v.errorf(ErrMissingKernel, "pipeline %q", p.Key())
		}
	}
	return nil
}

func (v *validator) commands(cmds []Command) error {
	for _, cmd := range cmds {
		var err error
		switch cmd.Kind {
		case CommandBarrier:
			err = v.barrier(cmd.Barrier)
		case CommandCopyBufferToImage:
			err = v.copyBufferToImage(cmd)
		case CommandBeginRenderPass:
			err = v.beginRenderPass(cmd)
		case CommandBindShadingRateImage:
			err = v.bindShadingRate(cmd)
		case CommandDraw:
			if err = v.checkPipeline(cmd.Draw.Pipeline); err == nil {
				err = v.bindings(cmd.Draw.Pipeline, cmd.Draw.Bindings)
			}
		case CommandEndRenderPass:
			v.endRenderPass()
		case CommandDispatch:
			if err = v.checkPipeline(cmd.Pipeline); err == nil {
				err = v.bindings(cmd.Pipeline, cmd.Bindings)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// semaphores checks binary semaphore discipline: every wait consumes a submitted signal
// and a semaphore is never signalled twice without a wait in between.
func (v *validator) semaphores(info SubmitInfo) error {
	for _, w := range info.Waits {
		s, ok := w.Semaphore.(*swSemaphore)
		if !ok || s.released.Load() {
			return v.errorf(ErrReleased, "wait semaphore")
		}
		if !v.pending(s) {
			return v.errorf(ErrSubmit, "wait on %q, which has no pending signal", s.label)
		}
		v.signals[s] = false
	}
	for _, sig := range info.Signals {
		s, ok := sig.(*swSemaphore)
		if !ok || s.released.Load() {
			return v.errorf(ErrReleased, "signal semaphore")
		}
		if v.pending(s) {
			return v.errorf(ErrSubmit, "%q signalled while a signal is pending", s.label)
		}
		v.signals[s] = true
	}
	return nil
}

func (v *validator) pending(s *swSemaphore) bool {
	if p, ok := v.signals[s]; ok {
		return p
	}
	return s.pending
}

// commit applies the staged state. Callers hold softwareBackend.mu.
func (v *validator) commit() {
	for img, s := range v.images {
		img.layout, img.owner, img.transferTo = s.layout, s.owner, s.transferTo
	}
	for s, pending := range v.signals {
		s.pending = pending
	}
}
