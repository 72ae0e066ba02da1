package renderer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/Carmen-Shannon/oxy-vrs/common"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-vrs/engine/shading_rate"
	"github.com/cogentcore/webgpu/wgpu"
)

// wgpuRendererBackendImpl drives a single WebGPU queue. Both logical queues map onto it;
// submissions execute in submission order, so semaphores only need CPU-side validation.
// Layouts are tracked for validation but transitions are implicit in WebGPU.
type wgpuRendererBackendImpl struct {
	mu     *sync.Mutex
	device *wgpu.Device
	queue  *wgpu.Queue

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	surface  *wgpu.Surface

	surfaceFormat wgpu.TextureFormat
	presentMode   wgpu.PresentMode // defaults to PresentModeImmediate (Uncapped)

	caps   Capabilities
	extent common.Extent2D
	nextID atomic.Uint64

	// frameImage is the swapchain image between AcquireNextImage and Present.
	frameImage *wgImage

	// fullRate is bound in place of a shading-rate image when none is bound.
	fullRate *wgImage

	stats Stats
}

var _ RendererBackend = &wgpuRendererBackendImpl{}

func newWGPURendererBackend(surfaceDescriptor *wgpu.SurfaceDescriptor, cfg config) (*wgpuRendererBackendImpl, error) {
	runtime.LockOSThread()
	w := &wgpuRendererBackendImpl{
		mu:          &sync.Mutex{},
		instance:    wgpu.CreateInstance(nil),
		presentMode: wgpu.PresentModeImmediate,
	}
	w.surface = w.instance.CreateSurface(surfaceDescriptor)

	a, err := w.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: cfg.forceFallbackAdapter,
		CompatibleSurface:    w.surface,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: adapter: %w", ErrMissingFeature, err)
	}
	w.adapter = a

	d, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Main Device",
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: wgpu.DefaultLimits(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: device: %w", ErrDeviceLost, err)
	}
	w.device = d
	w.queue = d.GetQueue()

	w.surfaceFormat = w.pickSurfaceFormat()
	surfaceFormat := FormatBGRA8Unorm
	if w.surfaceFormat == wgpu.TextureFormatRGBA8Unorm {
		surfaceFormat = FormatRGBA8Unorm
	}
	w.caps = Capabilities{
		ShadingRateImage:     true,
		ShadingRateEmulated:  true,
		ShadingRateTexelSize: cfg.texelSize,
		Palette:              shading_rate.Palette(),
		GraphicsQueueFamily:  0,
		ComputeQueueFamily:   0,
		// Core WebGPU has no storage binding for bgra8unorm or rg16float. R8Uint storage
		// images are backed by r32uint textures.
		StorageFormats: []Format{FormatRGBA8Unorm, FormatRG32Float, FormatR8Uint, FormatR32Uint},
		SurfaceFormat:  surfaceFormat,
	}

	full, err := w.allocate(ImageDescriptor{Label: "full-rate", Width: 1, Height: 1, Format: FormatR8Uint, Usage: ImageUsageShadingRate | ImageUsageTransferDst})
	if err != nil {
		return nil, err
	}
	w.fullRate = full
	w.writeTexture(full, []byte{uint8(shading_rate.Rate1InvocationPerPixel)})
	return w, nil
}

// pickSurfaceFormat prefers a linear 8-bit format so the swapchain matches the capture
// target's encoding.
func (b *wgpuRendererBackendImpl) pickSurfaceFormat() wgpu.TextureFormat {
	capabilities := b.surface.GetCapabilities(b.adapter)
	for _, f := range capabilities.Formats {
		if f == wgpu.TextureFormatBGRA8Unorm || f == wgpu.TextureFormatRGBA8Unorm {
			return f
		}
	}
	return capabilities.Formats[0]
}

func (b *wgpuRendererBackendImpl) id() uint64 {
	return b.nextID.Add(1)
}

func (b *wgpuRendererBackendImpl) Capabilities() Capabilities {
	return b.caps
}

func (b *wgpuRendererBackendImpl) Extent() common.Extent2D {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.extent
}

func (b *wgpuRendererBackendImpl) ConfigureSurface(width, height int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if width <= 0 || height <= 0 {
		return fmt.Errorf("renderer: surface %dx%d: %w", width, height, ErrZeroExtent)
	}
	if b.frameImage != nil {
		b.frameImage.Release()
		b.frameImage = nil
	}

	capabilities := b.surface.GetCapabilities(b.adapter)
	b.surface.Configure(b.adapter, b.device, &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      b.surfaceFormat,
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: b.presentMode,
		AlphaMode:   capabilities.AlphaModes[0],
	})
	b.extent = common.Extent2D{Width: uint32(width), Height: uint32(height)}
	common.Logger().Debug("surface configured", "extent", b.extent.String(), "format", b.surfaceFormat.String())
	return nil
}

func (b *wgpuRendererBackendImpl) SetPresentMode(mode PresentMode) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch mode {
	case PresentModeVSync:
		b.presentMode = wgpu.PresentModeFifo
	case PresentModeUncapped:
		fallthrough
	default:
		b.presentMode = wgpu.PresentModeImmediate
	}
}

// wgpuFormats maps formats to their backing texture format.
var wgpuFormats = map[Format]wgpu.TextureFormat{
	FormatBGRA8Unorm:   wgpu.TextureFormatBGRA8Unorm,
	FormatRGBA8Unorm:   wgpu.TextureFormatRGBA8Unorm,
	FormatRG16Float:    wgpu.TextureFormatRG16Float,
	FormatRG32Float:    wgpu.TextureFormatRG32Float,
	FormatR8Uint:       wgpu.TextureFormatR32Uint,
	FormatR32Uint:      wgpu.TextureFormatR32Uint,
	FormatDepth32Float: wgpu.TextureFormatDepth32Float,
}

// backingBytes is the texel size of the texture backing f.
func backingBytes(f Format) int {
	if f == FormatR8Uint {
		return 4
	}
	return f.BytesPerTexel()
}

func textureUsage(u ImageUsage) wgpu.TextureUsage {
	var out wgpu.TextureUsage
	if u.Has(ImageUsageSampled) || u.Has(ImageUsageShadingRate) {
		out |= wgpu.TextureUsageTextureBinding
	}
	if u.Has(ImageUsageStorage) {
		out |= wgpu.TextureUsageStorageBinding
	}
	if u.Has(ImageUsageColorAttachment) || u.Has(ImageUsageDepthAttachment) {
		out |= wgpu.TextureUsageRenderAttachment
	}
	if u.Has(ImageUsageTransferSrc) {
		out |= wgpu.TextureUsageCopySrc
	}
	if u.Has(ImageUsageTransferDst) {
		out |= wgpu.TextureUsageCopyDst
	}
	return out
}

// wgImage is a WebGPU texture with its default view.
type wgImage struct {
	id        uint64
	desc      ImageDescriptor
	format    wgpu.TextureFormat
	texture   *wgpu.Texture
	view      *wgpu.TextureView
	layout    Layout
	swapchain bool
	released  atomic.Bool
}

var _ Image = &wgImage{}

func (i *wgImage) ID() uint64 {
	return i.id
}

func (i *wgImage) Label() string {
	return i.desc.Label
}

func (i *wgImage) Extent() common.Extent2D {
	return common.Extent2D{Width: i.desc.Width, Height: i.desc.Height}
}

func (i *wgImage) Format() Format {
	return i.desc.Format
}

func (i *wgImage) Usage() ImageUsage {
	return i.desc.Usage
}

func (i *wgImage) Sharing() SharingMode {
	return i.desc.Sharing
}

func (i *wgImage) Release() {
	if i.released.Swap(true) {
		return
	}
	if i.view != nil {
		i.view.Release()
	}
	if i.texture != nil {
		i.texture.Release()
	}
}

func (b *wgpuRendererBackendImpl) allocate(desc ImageDescriptor) (*wgImage, error) {
	format, ok := wgpuFormats[desc.Format]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, desc.Format)
	}
	if desc.Usage.Has(ImageUsageStorage) && !b.caps.SupportsStorage(desc.Format) {
		return nil, fmt.Errorf("%w: %s is not storage capable", ErrUnsupportedFormat, desc.Format)
	}
	tex, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
		Label: desc.Label,
		Size: wgpu.Extent3D{
			Width:              desc.Width,
			Height:             desc.Height,
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        format,
		Usage:         textureUsage(desc.Usage),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: texture %q: %w", ErrOutOfMemory, desc.Label, err)
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return nil, fmt.Errorf("%w: view %q: %w", ErrOutOfMemory, desc.Label, err)
	}
	return &wgImage{id: b.id(), desc: desc, format: format, texture: tex, view: view}, nil
}

func (b *wgpuRendererBackendImpl) AllocateImage(desc ImageDescriptor) (Image, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allocate(desc)
}

// wgBuffer keeps host-visible staging data on the host; copies upload it with
// Queue.WriteTexture at submission.
type wgBuffer struct {
	id       uint64
	desc     BufferDescriptor
	data     []byte
	released atomic.Bool
}

var _ Buffer = &wgBuffer{}

func (b *wgBuffer) ID() uint64 {
	return b.id
}

func (b *wgBuffer) Label() string {
	return b.desc.Label
}

func (b *wgBuffer) Size() int {
	return b.desc.Size
}

func (b *wgBuffer) Write(offset int, data []byte) error {
	if b.released.Load() {
		return fmt.Errorf("%w: buffer %q", ErrReleased, b.desc.Label)
	}
	if offset < 0 || offset+len(data) > len(b.data) {
		return fmt.Errorf("renderer: write of %d bytes at %d overflows buffer %q of %d bytes", len(data), offset, b.desc.Label, len(b.data))
	}
	copy(b.data[offset:], data)
	return nil
}

func (b *wgBuffer) Release() {
	b.released.Store(true)
}

func (b *wgpuRendererBackendImpl) AllocateBuffer(desc BufferDescriptor) (Buffer, error) {
	if desc.Size <= 0 {
		return nil, fmt.Errorf("renderer: buffer %q has size %d", desc.Label, desc.Size)
	}
	return &wgBuffer{id: b.id(), desc: desc, data: make([]byte, desc.Size)}, nil
}

type wgSampler struct {
	id       uint64
	label    string
	sampler  *wgpu.Sampler
	released atomic.Bool
}

var _ Sampler = &wgSampler{}

func (s *wgSampler) ID() uint64 {
	return s.id
}

func (s *wgSampler) Label() string {
	return s.label
}

func (s *wgSampler) Release() {
	if !s.released.Swap(true) {
		s.sampler.Release()
	}
}

func (b *wgpuRendererBackendImpl) CreateSampler(desc SamplerDescriptor) (Sampler, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	filter := wgpu.FilterModeNearest
	if desc.Linear {
		filter = wgpu.FilterModeLinear
	}
	samp, err := b.device.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         desc.Label,
		AddressModeU:  wgpu.AddressModeClampToEdge,
		AddressModeV:  wgpu.AddressModeClampToEdge,
		AddressModeW:  wgpu.AddressModeClampToEdge,
		MagFilter:     filter,
		MinFilter:     filter,
		MipmapFilter:  wgpu.MipmapFilterModeNearest,
		LodMinClamp:   0,
		LodMaxClamp:   32,
		MaxAnisotropy: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sampler %q: %w", desc.Label, err)
	}
	return &wgSampler{id: b.id(), label: desc.Label, sampler: samp}, nil
}

// wgSemaphore is validated on the CPU only; the single queue orders submissions.
type wgSemaphore struct {
	id       uint64
	label    string
	pending  bool
	released atomic.Bool
}

var _ Semaphore = &wgSemaphore{}

func (s *wgSemaphore) ID() uint64 {
	return s.id
}

func (s *wgSemaphore) Label() string {
	return s.label
}

func (s *wgSemaphore) Release() {
	s.released.Store(true)
}

func (b *wgpuRendererBackendImpl) CreateSemaphore(label string) (Semaphore, error) {
	return &wgSemaphore{id: b.id(), label: label}, nil
}

type wgRenderPass struct {
	id   uint64
	desc RenderPassDescriptor
}

var _ RenderPass = &wgRenderPass{}

func (r *wgRenderPass) ID() uint64 {
	return r.id
}

func (r *wgRenderPass) Descriptor() RenderPassDescriptor {
	return r.desc
}

func (r *wgRenderPass) Release() {}

func (b *wgpuRendererBackendImpl) CreateRenderPass(desc RenderPassDescriptor) (RenderPass, error) {
	if _, ok := wgpuFormats[desc.Color.Format]; !ok || desc.Color.Format.IsDepth() {
		return nil, fmt.Errorf("%w: color attachment %s", ErrUnsupportedFormat, desc.Color.Format)
	}
	return &wgRenderPass{id: b.id(), desc: desc}, nil
}

// wgComputePipeline is the handle stored on compute pipelines.
type wgComputePipeline struct {
	pipeline *wgpu.ComputePipeline
	layout   *wgpu.BindGroupLayout
	entries  []wgpu.BindGroupLayoutEntry
}

// wgRenderPipeline is the handle stored on render pipelines. Pipeline state objects are
// built per colour target format on first use.
type wgRenderPipeline struct {
	vs, fs   *wgpu.ShaderModule
	layout   *wgpu.PipelineLayout
	group0   *wgpu.BindGroupLayout
	entries  []wgpu.BindGroupLayoutEntry
	rateSlot int
	variants map[variantKey]*wgpu.RenderPipeline
}

type variantKey struct {
	format wgpu.TextureFormat
	depth  bool
}

func (b *wgpuRendererBackendImpl) bindGroupLayouts(label string, descriptors map[int]wgpu.BindGroupLayoutDescriptor) ([]*wgpu.BindGroupLayout, error) {
	maxGroup := -1
	for g := range descriptors {
		if g > maxGroup {
			maxGroup = g
		}
	}
	layouts := make([]*wgpu.BindGroupLayout, maxGroup+1)
	for g, desc := range descriptors {
		layout, err := b.device.CreateBindGroupLayout(&desc)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to create bind group layout for group %d: %w", label, g, err)
		}
		layouts[g] = layout
	}
	return layouts, nil
}

func (b *wgpuRendererBackendImpl) RegisterComputePipeline(p pipeline.Pipeline) error {
	computeShader := p.Shader(shader.ShaderTypeCompute)
	if computeShader == nil {
		return errors.New("compute shader must be set to create a compute pipeline")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	s, err := b.device.CreateShaderModule(computeShader.Module())
	if err != nil {
		return err
	}

	descriptors := computeShader.BindGroupLayoutDescriptors()
	bindGroupLayouts, err := b.bindGroupLayouts(p.Key(), descriptors)
	if err != nil {
		return err
	}

	layout, err := b.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            p.Key(),
		BindGroupLayouts: bindGroupLayouts,
	})
	if err != nil {
		return err
	}

	created, err := b.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  p.Key() + " Compute Pipeline",
		Layout: layout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     s,
			EntryPoint: computeShader.EntryPoint(),
		},
	})
	if err != nil {
		return err
	}

	p.SetHandle(&wgComputePipeline{pipeline: created, layout: bindGroupLayouts[0], entries: descriptors[0].Entries})
	return nil
}

func (b *wgpuRendererBackendImpl) RegisterRenderPipeline(p pipeline.Pipeline) error {
	vertexShader := p.Shader(shader.ShaderTypeVertex)
	fragmentShader := p.Shader(shader.ShaderTypeFragment)
	if vertexShader == nil || fragmentShader == nil {
		return errors.New("both vertex and fragment shaders must be set to create a render pipeline")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	vs, err := b.device.CreateShaderModule(vertexShader.Module())
	if err != nil {
		return err
	}
	fs, err := b.device.CreateShaderModule(fragmentShader.Module())
	if err != nil {
		return err
	}

	merged := mergeBindGroupLayouts(vertexShader.BindGroupLayoutDescriptors(), fragmentShader.BindGroupLayoutDescriptors())
	bindGroupLayouts, err := b.bindGroupLayouts(p.Key(), merged)
	if err != nil {
		return err
	}
	layout, err := b.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            p.Key(),
		BindGroupLayouts: bindGroupLayouts,
	})
	if err != nil {
		return err
	}

	handle := &wgRenderPipeline{
		vs:       vs,
		fs:       fs,
		layout:   layout,
		entries:  merged[0].Entries,
		rateSlot: -1,
		variants: make(map[variantKey]*wgpu.RenderPipeline),
	}
	if len(bindGroupLayouts) > 0 {
		handle.group0 = bindGroupLayouts[0]
	}
	if _, binding, ok := fragmentShader.Binding(shader.AnnotationArgRateImage); ok {
		handle.rateSlot = binding
	}
	p.SetHandle(handle)
	return nil
}

// alphaBlend is straight alpha blending, matching the software device.
var alphaBlend = wgpu.BlendState{
	Color: wgpu.BlendComponent{
		SrcFactor: wgpu.BlendFactorSrcAlpha,
		DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
		Operation: wgpu.BlendOperationAdd,
	},
	Alpha: wgpu.BlendComponent{
		SrcFactor: wgpu.BlendFactorOne,
		DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
		Operation: wgpu.BlendOperationAdd,
	},
}

// variant returns the render pipeline state for a colour target, creating it on first use.
func (b *wgpuRendererBackendImpl) variant(p pipeline.Pipeline, format wgpu.TextureFormat, depth bool) (*wgpu.RenderPipeline, error) {
	h := p.Handle().(*wgRenderPipeline)
	key := variantKey{format, depth}
	if rp, ok := h.variants[key]; ok {
		return rp, nil
	}

	target := wgpu.ColorTargetState{
		Format:    format,
		WriteMask: wgpu.ColorWriteMaskAll,
	}
	if p.Blend() {
		target.Blend = &alphaBlend
	}
	desc := &wgpu.RenderPipelineDescriptor{
		Label:  p.Key() + " Render Pipeline",
		Layout: h.layout,
		Vertex: wgpu.VertexState{
			Module:     h.vs,
			EntryPoint: p.Shader(shader.ShaderTypeVertex).EntryPoint(),
		},
		Fragment: &wgpu.FragmentState{
			Module:     h.fs,
			EntryPoint: p.Shader(shader.ShaderTypeFragment).EntryPoint(),
			Targets:    []wgpu.ColorTargetState{target},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeNone,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	}
	if depth {
		depthCompare := wgpu.CompareFunctionLess
		if !p.Depth().Test {
			depthCompare = wgpu.CompareFunctionAlways
		}
		desc.DepthStencil = &wgpu.DepthStencilState{
			Format:            wgpu.TextureFormatDepth32Float,
			DepthWriteEnabled: p.Depth().Write,
			DepthCompare:      depthCompare,
			StencilFront: wgpu.StencilFaceState{
				Compare: wgpu.CompareFunctionAlways,
			},
			StencilBack: wgpu.StencilFaceState{
				Compare: wgpu.CompareFunctionAlways,
			},
		}
	}
	created, err := b.device.CreateRenderPipeline(desc)
	if err != nil {
		return nil, err
	}
	h.variants[key] = created
	return created, nil
}

// bindGroup builds group 0 for a dispatch or draw. Uniform bytes are uploaded into
// buffers that live until the submission is queued.
func (b *wgpuRendererBackendImpl) bindGroup(label string, layout *wgpu.BindGroupLayout, entries []wgpu.BindGroupLayoutEntry, bindings Bindings, rate *wgImage, rateSlot int, scratch *[]*wgpu.Buffer) (*wgpu.BindGroup, error) {
	out := make([]wgpu.BindGroupEntry, 0, len(entries))
	for _, entry := range entries {
		binding := int(entry.Binding)
		res := bindings[binding]

		isTexture := entry.Texture.SampleType != wgpu.TextureSampleTypeUndefined ||
			entry.StorageTexture.Access != wgpu.StorageTextureAccessUndefined
		isSampler := entry.Sampler.Type != wgpu.SamplerBindingTypeUndefined

		switch {
		case binding == rateSlot:
			out = append(out, wgpu.BindGroupEntry{Binding: entry.Binding, TextureView: rate.view})
		case isTexture:
			img, ok := res.Image.(*wgImage)
			if !ok || img.released.Load() {
				return nil, fmt.Errorf("%w: %s: texture binding %d", ErrReleased, label, binding)
			}
			out = append(out, wgpu.BindGroupEntry{Binding: entry.Binding, TextureView: img.view})
		case isSampler:
			samp, ok := res.Sampler.(*wgSampler)
			if !ok || samp.released.Load() {
				return nil, fmt.Errorf("%w: %s: sampler binding %d", ErrReleased, label, binding)
			}
			out = append(out, wgpu.BindGroupEntry{Binding: entry.Binding, Sampler: samp.sampler})
		default:
			size := max(uint64(len(res.Uniform)), entry.Buffer.MinBindingSize)
			buf, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
				Label: fmt.Sprintf("%s uniform %d", label, binding),
				Size:  size,
				Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
			})
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrOutOfMemory, err)
			}
			*scratch = append(*scratch, buf)
			if len(res.Uniform) > 0 {
				b.queue.WriteBuffer(buf, 0, res.Uniform)
			}
			out = append(out, wgpu.BindGroupEntry{Binding: entry.Binding, Buffer: buf, Offset: 0, Size: wgpu.WholeSize})
		}
	}
	return b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   label + " Bind Group",
		Layout:  layout,
		Entries: out,
	})
}

// writeTexture uploads tightly packed texels, widening R8Uint to its r32uint backing.
func (b *wgpuRendererBackendImpl) writeTexture(img *wgImage, data []byte) {
	if img.desc.Format == FormatR8Uint {
		wide := make([]byte, len(data)*4)
		for i, v := range data {
			binary.LittleEndian.PutUint32(wide[i*4:], uint32(v))
		}
		data = wide
	}
	b.queue.WriteTexture(
		&wgpu.ImageCopyTexture{
			Texture:  img.texture,
			MipLevel: 0,
			Origin:   wgpu.Origin3D{},
			Aspect:   wgpu.TextureAspectAll,
		},
		data,
		&wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  img.desc.Width * uint32(backingBytes(img.desc.Format)),
			RowsPerImage: img.desc.Height,
		},
		&wgpu.Extent3D{
			Width:              img.desc.Width,
			Height:             img.desc.Height,
			DepthOrArrayLayers: 1,
		},
	)
}

func wgLoadOp(op LoadOp) wgpu.LoadOp {
	if op == LoadOpLoad {
		return wgpu.LoadOpLoad
	}
	return wgpu.LoadOpClear
}

func wgStoreOp(op StoreOp) wgpu.StoreOp {
	if op == StoreOpDontCare {
		return wgpu.StoreOpDiscard
	}
	return wgpu.StoreOpStore
}

// validateSemaphores applies binary semaphore discipline on the CPU.
func validateSemaphores(label string, info SubmitInfo) error {
	staged := map[*wgSemaphore]bool{}
	pending := func(s *wgSemaphore) bool {
		if p, ok := staged[s]; ok {
			return p
		}
		return s.pending
	}
	for _, w := range info.Waits {
		s, ok := w.Semaphore.(*wgSemaphore)
		if !ok || s.released.Load() {
			return fmt.Errorf("%w: %s: %w: wait semaphore", ErrSubmit, label, ErrReleased)
		}
		if !pending(s) {
			return fmt.Errorf("%w: %s: wait on %q, which has no pending signal", ErrSubmit, label, s.label)
		}
		staged[s] = false
	}
	for _, sig := range info.Signals {
		s, ok := sig.(*wgSemaphore)
		if !ok || s.released.Load() {
			return fmt.Errorf("%w: %s: %w: signal semaphore", ErrSubmit, label, ErrReleased)
		}
		if pending(s) {
			return fmt.Errorf("%w: %s: %q signalled while a signal is pending", ErrSubmit, label, s.label)
		}
		staged[s] = true
	}
	for s, p := range staged {
		s.pending = p
	}
	return nil
}

func (b *wgpuRendererBackendImpl) Submit(queue QueueKind, cb CommandBuffer, info SubmitInfo) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	label := cb.Label()
	encoder, err := b.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDeviceLost, label, err)
	}
	defer encoder.Release()

	var scratch []*wgpu.Buffer
	defer func() {
		for _, buf := range scratch {
			buf.Release()
		}
	}()

	var (
		pass  *wgpu.RenderPassEncoder
		color *wgImage
		depth *wgImage
		rp    *wgRenderPass
		rate  = b.fullRate
	)
	for _, cmd := range cb.Commands() {
		switch cmd.Kind {
		case CommandBarrier:
			img, ok := cmd.Barrier.Image.(*wgImage)
			if !ok || img.released.Load() {
				return fmt.Errorf("%w: %s: %w: barrier image", ErrSubmit, label, ErrReleased)
			}
			if cmd.Barrier.OldLayout != LayoutUndefined && cmd.Barrier.OldLayout != img.layout {
				return fmt.Errorf("%w: %s: %w: %q is in %s, barrier expects %s", ErrSubmit, label, ErrInvalidLayout, img.desc.Label, img.layout, cmd.Barrier.OldLayout)
			}
			img.layout = cmd.Barrier.NewLayout
		case CommandCopyBufferToImage:
			buf := cmd.Buffer.(*wgBuffer)
			img := cmd.Image.(*wgImage)
			b.writeTexture(img, buf.data[:img.desc.Width*img.desc.Height*uint32(img.desc.Format.BytesPerTexel())])
		case CommandBeginRenderPass:
			rp = cmd.RenderPass.(*wgRenderPass)
			color = cmd.Color.(*wgImage)
			desc := &wgpu.RenderPassDescriptor{
				Label: rp.desc.Label,
				ColorAttachments: []wgpu.RenderPassColorAttachment{{
					View:    color.view,
					LoadOp:  wgLoadOp(rp.desc.Color.Load),
					StoreOp: wgStoreOp(rp.desc.Color.Store),
					ClearValue: wgpu.Color{
						R: float64(rp.desc.Color.ClearColor[0]),
						G: float64(rp.desc.Color.ClearColor[1]),
						B: float64(rp.desc.Color.ClearColor[2]),
						A: float64(rp.desc.Color.ClearColor[3]),
					},
				}},
			}
			depth = nil
			if d := rp.desc.Depth; d != nil {
				depth = cmd.Depth.(*wgImage)
				desc.DepthStencilAttachment = &wgpu.RenderPassDepthStencilAttachment{
					View:            depth.view,
					DepthLoadOp:     wgLoadOp(d.Load),
					DepthStoreOp:    wgStoreOp(d.Store),
					DepthClearValue: d.ClearDepth,
				}
			}
			pass = encoder.BeginRenderPass(desc)
		case CommandBindShadingRateImage:
			rate = b.fullRate
			if cmd.Image != nil {
				rate = cmd.Image.(*wgImage)
			}
		case CommandDraw:
			h := cmd.Draw.Pipeline.Handle().(*wgRenderPipeline)
			state, err := b.variant(cmd.Draw.Pipeline, color.format, depth != nil)
			if err != nil {
				return fmt.Errorf("%w: %s: %w", ErrSubmit, label, err)
			}
			bg, err := b.bindGroup(label, h.group0, h.entries, cmd.Draw.Bindings, rate, h.rateSlot, &scratch)
			if err != nil {
				return fmt.Errorf("%w: %s: %w", ErrSubmit, label, err)
			}
			pass.SetPipeline(state)
			pass.SetBindGroup(0, bg, nil)
			if vp := cmd.Draw.Viewport; vp.Size[0] > 0 && vp.Size[1] > 0 {
				pass.SetViewport(vp.Origin[0], vp.Origin[1], vp.Size[0], vp.Size[1], 0, 1)
			}
			pass.Draw(3, 1, 0, 0)
			bg.Release()
			b.stats.Draws++
		case CommandEndRenderPass:
			if err := pass.End(); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrSubmit, label, err)
			}
			pass.Release()
			pass = nil
			color.layout = rp.desc.Color.FinalLayout
			if depth != nil {
				depth.layout = rp.desc.Depth.FinalLayout
			}
		case CommandDispatch:
			h := cmd.Pipeline.Handle().(*wgComputePipeline)
			bg, err := b.bindGroup(label, h.layout, h.entries, cmd.Bindings, nil, -1, &scratch)
			if err != nil {
				return fmt.Errorf("%w: %s: %w", ErrSubmit, label, err)
			}
			cp := encoder.BeginComputePass(nil)
			cp.SetPipeline(h.pipeline)
			cp.SetBindGroup(0, bg, nil)
			cp.DispatchWorkgroups(cmd.Workgroups[0], cmd.Workgroups[1], cmd.Workgroups[2])
			if err := cp.End(); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrSubmit, label, err)
			}
			cp.Release()
			bg.Release()
			b.stats.Dispatches++
		}
	}

	if err := validateSemaphores(label, info); err != nil {
		return err
	}
	commandBuffer, err := encoder.Finish(nil)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubmit, label, err)
	}
	b.queue.Submit(commandBuffer)
	commandBuffer.Release()
	b.stats.Submissions++
	return nil
}

func (b *wgpuRendererBackendImpl) WaitQueueIdle(QueueKind) error {
	b.device.Poll(true, nil)
	return nil
}

func (b *wgpuRendererBackendImpl) AcquireNextImage(signal Semaphore) (Image, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// If a previous frame's surface texture is still held, avoid acquiring another one.
	// wgpu-native rejects a second acquire with "Surface image is already acquired".
	if b.frameImage != nil {
		return nil, fmt.Errorf("%w: previous frame surface not yet presented", ErrSubmit)
	}
	if err := validateSemaphores("acquire", SubmitInfo{Signals: []Semaphore{signal}}); err != nil {
		return nil, err
	}

	surfaceTexture, err := b.surface.GetCurrentTexture()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceLost, err)
	}
	view, err := surfaceTexture.CreateView(nil)
	if err != nil {
		surfaceTexture.Release()
		return nil, fmt.Errorf("%w: %w", ErrDeviceLost, err)
	}
	b.frameImage = &wgImage{
		id: b.id(),
		desc: ImageDescriptor{
			Label:  "swapchain",
			Width:  b.extent.Width,
			Height: b.extent.Height,
			Format: b.caps.SurfaceFormat,
			Usage:  ImageUsageColorAttachment,
		},
		format:    b.surfaceFormat,
		texture:   surfaceTexture,
		view:      view,
		swapchain: true,
	}
	return b.frameImage, nil
}

func (b *wgpuRendererBackendImpl) Present(img Image, wait Semaphore) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameImage == nil || img != Image(b.frameImage) {
		return fmt.Errorf("%w: present: %w: not the acquired swapchain image", ErrSubmit, ErrReleased)
	}
	if b.frameImage.layout != LayoutPresent {
		return fmt.Errorf("%w: present: %w: swapchain image is in %s", ErrSubmit, ErrInvalidLayout, b.frameImage.layout)
	}
	if err := validateSemaphores("present", SubmitInfo{Waits: []SemaphoreWait{{Semaphore: wait}}}); err != nil {
		return err
	}

	b.surface.Present()
	b.frameImage.Release()
	b.frameImage = nil
	b.stats.Presents++
	return nil
}

func (b *wgpuRendererBackendImpl) ReadImage(i Image) ([]byte, error) {
	img, ok := i.(*wgImage)
	if !ok || img.released.Load() {
		return nil, fmt.Errorf("renderer: read: %w", ErrReleased)
	}
	if !img.desc.Usage.Has(ImageUsageTransferSrc) {
		return nil, fmt.Errorf("%w: read of %q without transfer-src usage", ErrInvalidUsage, img.desc.Label)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	texel := uint32(backingBytes(img.desc.Format))
	rowBytes := img.desc.Width * texel
	stride := (rowBytes + 255) &^ 255
	size := uint64(stride) * uint64(img.desc.Height)

	buf, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: img.desc.Label + " readback",
		Size:  size,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOutOfMemory, err)
	}
	defer buf.Release()

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceLost, err)
	}
	defer encoder.Release()
	if err := encoder.CopyTextureToBuffer(
		&wgpu.ImageCopyTexture{Texture: img.texture, Aspect: wgpu.TextureAspectAll},
		&wgpu.ImageCopyBuffer{Buffer: buf, Layout: wgpu.TextureDataLayout{BytesPerRow: stride, RowsPerImage: img.desc.Height}},
		&wgpu.Extent3D{Width: img.desc.Width, Height: img.desc.Height, DepthOrArrayLayers: 1},
	); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubmit, err)
	}
	commandBuffer, err := encoder.Finish(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubmit, err)
	}
	b.queue.Submit(commandBuffer)
	commandBuffer.Release()

	var status wgpu.BufferMapAsyncStatus
	if err := buf.MapAsync(wgpu.MapModeRead, 0, size, func(s wgpu.BufferMapAsyncStatus) { status = s }); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceLost, err)
	}
	b.device.Poll(true, nil)
	if status != wgpu.BufferMapAsyncStatusSuccess {
		return nil, fmt.Errorf("%w: readback of %q: %v", ErrDeviceLost, img.desc.Label, status)
	}
	mapped := buf.GetMappedRange(0, uint(size))
	defer buf.Unmap()

	out := make([]byte, 0, int(img.desc.Width*img.desc.Height)*img.desc.Format.BytesPerTexel())
	for y := range img.desc.Height {
		row := mapped[uint32(y)*stride : uint32(y)*stride+rowBytes]
		if img.desc.Format == FormatR8Uint {
			for x := range img.desc.Width {
				out = append(out, row[x*4])
			}
			continue
		}
		out = append(out, row...)
	}
	return out, nil
}

func (b *wgpuRendererBackendImpl) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Trace is not collected on the wgpu backend.
func (b *wgpuRendererBackendImpl) Trace() Trace {
	return nil
}

func (b *wgpuRendererBackendImpl) Destroy() {
	b.device.Poll(true, nil)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frameImage != nil {
		b.frameImage.Release()
		b.frameImage = nil
	}
	b.fullRate.Release()
	b.queue.Release()
	b.device.Release()
	b.adapter.Release()
	b.surface.Release()
	b.instance.Release()
}

// mergeBindGroupLayouts merges the bind group layout descriptors from a vertex and fragment shader
// into a unified set of descriptors suitable for a render pipeline layout.
//
// For each group index present in either shader:
//   - Entries with the same binding number have their Visibility flags ORed together
//   - Entries unique to one shader are included with their original visibility
//
// Parameters:
//   - vertexLayouts: bind group layout descriptors from the vertex shader
//   - fragmentLayouts: bind group layout descriptors from the fragment shader
//
// Returns:
//   - map[int]wgpu.BindGroupLayoutDescriptor: the merged descriptors keyed by group index
func mergeBindGroupLayouts(
	vertexLayouts, fragmentLayouts map[int]wgpu.BindGroupLayoutDescriptor,
) map[int]wgpu.BindGroupLayoutDescriptor {
	merged := make(map[int]wgpu.BindGroupLayoutDescriptor)

	// collect all group indices from both maps
	groupIndices := make(map[int]bool)
	for g := range vertexLayouts {
		groupIndices[g] = true
	}
	for g := range fragmentLayouts {
		groupIndices[g] = true
	}

	for g := range groupIndices {
		vDesc, hasV := vertexLayouts[g]
		fDesc, hasF := fragmentLayouts[g]

		switch {
		case hasV && !hasF:
			merged[g] = vDesc
		case hasF && !hasV:
			merged[g] = fDesc
		default:
			// same binding in both stages: OR the visibility
			entryMap := make(map[uint32]wgpu.BindGroupLayoutEntry)
			for _, e := range vDesc.Entries {
				entryMap[e.Binding] = e
			}
			for _, e := range fDesc.Entries {
				if existing, ok := entryMap[e.Binding]; ok {
					existing.Visibility |= e.Visibility
					entryMap[e.Binding] = existing
				} else {
					entryMap[e.Binding] = e
				}
			}

			entries := make([]wgpu.BindGroupLayoutEntry, 0, len(entryMap))
			for _, e := range entryMap {
				entries = append(entries, e)
			}
			sort.Slice(entries, func(i, j int) bool {
				return entries[i].Binding < entries[j].Binding
			})

			merged[g] = wgpu.BindGroupLayoutDescriptor{
				Label:   vDesc.Label,
				Entries: entries,
			}
		}
	}

	return merged
}
