package renderer

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-vrs/common"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-vrs/engine/shading_rate"
)

const swapchainImageCount = 2

// softwareBackend is the in-process implementation of RendererBackend.
type softwareBackend struct {
	// mu guards submission-time state: image layouts and owners, semaphore signals,
	// the swapchain and the memory budget.
	mu sync.Mutex

	cfg    config
	caps   Capabilities
	nextID atomic.Uint64

	queues [2]*swQueue
	pool   worker.DynamicWorkerPool
	tracer tracer

	statsMu sync.Mutex
	stats   Stats

	lostMu sync.Mutex
	lost   error

	memoryUsed int

	extent      common.Extent2D
	swapchain   []*swImage
	nextImage   int
	presentMode PresentMode
	presented   atomic.Uint64
	destroyed   bool
}

var _ RendererBackend = &softwareBackend{}

var defaultStorageFormats = []Format{FormatBGRA8Unorm, FormatRGBA8Unorm, FormatRG16Float, FormatRG32Float, FormatR8Uint, FormatR32Uint}

func newSoftwareRendererBackend(cfg config) (*softwareBackend, error) {
	b := &softwareBackend{
		cfg: cfg,
		caps: Capabilities{
			ShadingRateImage:     cfg.shadingRateImage,
			ShadingRateTexelSize: cfg.texelSize,
			Palette:              shading_rate.Palette(),
			GraphicsQueueFamily:  cfg.graphicsFamily,
			ComputeQueueFamily:   cfg.computeFamily,
			StorageFormats:       defaultStorageFormats,
			SurfaceFormat:        FormatBGRA8Unorm,
		},
		pool:   worker.NewDynamicWorkerPool(cfg.workers, 256, time.Second),
		tracer: tracer{enabled: cfg.trace},
	}
	if cfg.storageFormats != nil {
		b.caps.StorageFormats = cfg.storageFormats
	}
	for _, q := range []QueueKind{QueueGraphics, QueueCompute} {
		b.queues[q] = newSWQueue(b, q)
	}
	common.Logger().Debug("software device created",
		"texel", cfg.texelSize.String(),
		"graphicsFamily", cfg.graphicsFamily,
		"computeFamily", cfg.computeFamily,
		"workers", cfg.workers)
	return b, nil
}

func (b *softwareBackend) id() uint64 {
	return b.nextID.Add(1)
}

func (b *softwareBackend) Capabilities() Capabilities {
	return b.caps
}

func (b *softwareBackend) Extent() common.Extent2D {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.extent
}

// reserve charges bytes against the memory budget. Callers hold b.mu.
func (b *softwareBackend) reserve(label string, bytes int) error {
	if b.cfg.memoryBudget > 0 && b.memoryUsed+bytes > b.cfg.memoryBudget {
		return fmt.Errorf("%w: %q needs %d bytes, %d of %d in use", ErrOutOfMemory, label, bytes, b.memoryUsed, b.cfg.memoryBudget)
	}
	b.memoryUsed += bytes
	return nil
}

func (b *softwareBackend) free(bytes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.memoryUsed -= bytes
}

func (b *softwareBackend) AllocateImage(desc ImageDescriptor) (Image, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return nil, fmt.Errorf("renderer: image %q: %w", desc.Label, ErrZeroExtent)
	}
	if desc.Format.BytesPerTexel() == 0 {
		return nil, fmt.Errorf("%w: %s for image %q", ErrUnsupportedFormat, desc.Format, desc.Label)
	}
	if desc.Usage.Has(ImageUsageStorage) && !b.caps.SupportsStorage(desc.Format) {
		return nil, fmt.Errorf("%w: %s is not storage capable", ErrUnsupportedFormat, desc.Format)
	}
	if desc.Usage.Has(ImageUsageShadingRate) && desc.Format != FormatR8Uint {
		return nil, fmt.Errorf("%w: shading-rate image must be %s, got %s", ErrUnsupportedFormat, FormatR8Uint, desc.Format)
	}
	if desc.Usage.Has(ImageUsageShadingRate) && !b.caps.ShadingRateImage {
		return nil, fmt.Errorf("renderer: image %q: %w: shading-rate image", desc.Label, ErrMissingFeature)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	img := newSWImage(b.id(), desc, b.free)
	if err := b.reserve(desc.Label, len(img.data)); err != nil {
		return nil, err
	}
	return img, nil
}

func (b *softwareBackend) AllocateBuffer(desc BufferDescriptor) (Buffer, error) {
	if desc.Size <= 0 {
		return nil, fmt.Errorf("renderer: buffer %q has size %d", desc.Label, desc.Size)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.reserve(desc.Label, desc.Size); err != nil {
		return nil, err
	}
	return &swBuffer{id: b.id(), desc: desc, data: make([]byte, desc.Size), free: b.free}, nil
}

func (b *softwareBackend) CreateSampler(desc SamplerDescriptor) (Sampler, error) {
	return &swSampler{id: b.id(), desc: desc}, nil
}

func (b *softwareBackend) CreateSemaphore(label string) (Semaphore, error) {
	return &swSemaphore{id: b.id(), label: label, ch: make(chan struct{}, 1)}, nil
}

func (b *softwareBackend) CreateRenderPass(desc RenderPassDescriptor) (RenderPass, error) {
	if desc.Color.Format.IsDepth() || desc.Color.Format.BytesPerTexel() == 0 {
		return nil, fmt.Errorf("%w: color attachment %s", ErrUnsupportedFormat, desc.Color.Format)
	}
	if desc.Depth != nil && !desc.Depth.Format.IsDepth() {
		return nil, fmt.Errorf("%w: depth attachment %s", ErrUnsupportedFormat, desc.Depth.Format)
	}
	return &swRenderPass{id: b.id(), desc: desc}, nil
}

func (b *softwareBackend) RegisterComputePipeline(p pipeline.Pipeline) error {
	if p.Kernel() == nil {
		return fmt.Errorf("%w: %q", ErrMissingKernel, p.Key())
	}
	return nil
}

func (b *softwareBackend) RegisterRenderPipeline(p pipeline.Pipeline) error {
	if p.FragmentKernel() == nil {
		return fmt.Errorf("%w: %q", ErrMissingKernel, p.Key())
	}
	return nil
}

// deviceLost returns the sticky device-lost error, or nil.
func (b *softwareBackend) deviceLost() error {
	b.lostMu.Lock()
	defer b.lostMu.Unlock()
	return b.lost
}

func (b *softwareBackend) setLost(err error) {
	b.lostMu.Lock()
	defer b.lostMu.Unlock()
	if b.lost == nil {
		b.lost = err
		common.Logger().Error("device lost", "error", err)
	}
}

func (b *softwareBackend) Submit(queue QueueKind, cb CommandBuffer, info SubmitInfo) error {
	if err := b.deviceLost(); err != nil {
		return err
	}
	cmds := cb.Commands()

	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return fmt.Errorf("%w: device destroyed", ErrDeviceLost)
	}
	v := b.newValidator(queue, cb.Label())
	if err := v.commands(cmds); err != nil {
		b.mu.Unlock()
		return err
	}
	if err := v.semaphores(info); err != nil {
		b.mu.Unlock()
		return err
	}
	v.commit()
	b.mu.Unlock()

	b.statsMu.Lock()
	b.stats.Submissions++
	b.statsMu.Unlock()

	b.queues[queue].enqueue(swSubmission{label: cb.Label(), commands: cmds, info: info})
	return nil
}

func (b *softwareBackend) WaitQueueIdle(queue QueueKind) error {
	b.queues[queue].pending.Wait()
	return b.deviceLost()
}

func (b *softwareBackend) AcquireNextImage(signal Semaphore) (Image, error) {
	if err := b.deviceLost(); err != nil {
		return nil, err
	}
	sem, ok := signal.(*swSemaphore)
	if !ok || sem.released.Load() {
		return nil, fmt.Errorf("%w: acquire: %w: semaphore", ErrSubmit, ErrReleased)
	}

	b.mu.Lock()
	if len(b.swapchain) == 0 {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: surface not configured", ErrSubmit)
	}
	if sem.pending {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: acquire: %q signalled while a signal is pending", ErrSubmit, sem.label)
	}
	sem.pending = true
	img := b.swapchain[b.nextImage]
	b.nextImage = (b.nextImage + 1) % len(b.swapchain)
	timeout := b.cfg.deviceTimeout
	b.mu.Unlock()

	go func() {
		select {
		case <-img.available:
			sem.ch <- struct{}{}
		case <-time.After(timeout):
			b.setLost(fmt.Errorf("%w: swapchain image %q not returned within %v", ErrDeviceLost, img.desc.Label, timeout))
		}
	}()
	return img, nil
}

func (b *softwareBackend) Present(i Image, wait Semaphore) error {
	if err := b.deviceLost(); err != nil {
		return err
	}
	b.mu.Lock()
	img, ok := i.(*swImage)
	if !ok || !img.swapchain || img.released.Load() {
		b.mu.Unlock()
		return fmt.Errorf("%w: present: %w: not a current swapchain image", ErrSubmit, ErrReleased)
	}
	if img.layout != LayoutPresent {
		b.mu.Unlock()
		return fmt.Errorf("%w: present: %w: %q is in %s", ErrSubmit, ErrInvalidLayout, img.desc.Label, img.layout)
	}
	v := b.newValidator(QueueGraphics, "present")
	info := SubmitInfo{Waits: []SemaphoreWait{{Semaphore: wait, Stage: StageBottomOfPipe}}}
	if err := v.semaphores(info); err != nil {
		b.mu.Unlock()
		return err
	}
	v.commit()
	b.mu.Unlock()

	b.queues[QueueGraphics].enqueue(swSubmission{label: "present", info: info, present: img})
	return nil
}

// LastPresented returns the id of the most recently presented image.
func (b *softwareBackend) LastPresented() uint64 {
	return b.presented.Load()
}

func (b *softwareBackend) ConfigureSurface(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("renderer: surface %dx%d: %w", width, height, ErrZeroExtent)
	}
	// Presentation of the old images must finish before they are released.
	for _, q := range b.queues {
		q.pending.Wait()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, img := range b.swapchain {
		img.Release()
	}
	b.extent = common.Extent2D{Width: uint32(width), Height: uint32(height)}
	b.swapchain = b.swapchain[:0]
	b.nextImage = 0
	for i := range swapchainImageCount {
		img := newSWImage(b.id(), ImageDescriptor{
			Label:  fmt.Sprintf("swapchain-%d", i),
			Width:  uint32(width),
			Height: uint32(height),
			Format: b.caps.SurfaceFormat,
			Usage:  ImageUsageColorAttachment | ImageUsageTransferSrc,
		}, nil)
		img.swapchain = true
		img.available = make(chan struct{}, 1)
		img.available <- struct{}{}
		b.swapchain = append(b.swapchain, img)
	}
	common.Logger().Debug("surface configured", "extent", b.extent.String())
	return nil
}

func (b *softwareBackend) SetPresentMode(mode PresentMode) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.presentMode = mode
}

func (b *softwareBackend) ReadImage(i Image) ([]byte, error) {
	img, ok := i.(*swImage)
	if !ok || img.released.Load() {
		return nil, fmt.Errorf("renderer: read: %w", ErrReleased)
	}
	if !img.desc.Usage.Has(ImageUsageTransferSrc) {
		return nil, fmt.Errorf("%w: read of %q without transfer-src usage", ErrInvalidUsage, img.desc.Label)
	}
	return append([]byte(nil), img.data...), nil
}

func (b *softwareBackend) Stats() Stats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	return b.stats
}

func (b *softwareBackend) Trace() Trace {
	return b.tracer.snapshot()
}

func (b *softwareBackend) Destroy() {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	b.destroyed = true
	b.mu.Unlock()

	for _, q := range b.queues {
		q.close()
	}
	b.pool.Stop()
	for _, img := range b.swapchain {
		img.Release()
	}
	common.Logger().Debug("software device destroyed")
}
