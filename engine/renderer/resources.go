package renderer

import (
	"fmt"
	"slices"

	"github.com/Carmen-Shannon/oxy-vrs/common"
	"github.com/Carmen-Shannon/oxy-vrs/engine/shading_rate"
)

// Format is an image texel format.
type Format int

const (
	FormatUndefined Format = iota
	FormatBGRA8Unorm
	FormatRGBA8Unorm
	FormatRG16Float
	FormatRG32Float
	FormatR8Uint
	FormatR32Uint
	FormatDepth32Float
)

type formatInfo struct {
	name     string
	bytes    int
	channels int
}

var formats = map[Format]formatInfo{
	FormatBGRA8Unorm:   {"B8G8R8A8Unorm", 4, 4},
	FormatRGBA8Unorm:   {"R8G8B8A8Unorm", 4, 4},
	FormatRG16Float:    {"R16G16Float", 4, 2},
	FormatRG32Float:    {"R32G32Float", 8, 2},
	FormatR8Uint:       {"R8Uint", 1, 1},
	FormatR32Uint:      {"R32Uint", 4, 1},
	FormatDepth32Float: {"D32Float", 4, 1},
}

func (f Format) String() string {
	if info, ok := formats[f]; ok {
		return info.name
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// BytesPerTexel returns the storage size of one texel, 0 for unknown formats.
func (f Format) BytesPerTexel() int {
	return formats[f].bytes
}

// Channels returns the number of colour channels.
func (f Format) Channels() int {
	return formats[f].channels
}

// IsDepth reports whether the format is a depth format.
func (f Format) IsDepth() bool {
	return f == FormatDepth32Float
}

// ImageUsage is a bit set of the ways an image may be used.
type ImageUsage uint32

const (
	ImageUsageSampled ImageUsage = 1 << iota
	ImageUsageStorage
	ImageUsageColorAttachment
	ImageUsageDepthAttachment
	ImageUsageTransferSrc
	ImageUsageTransferDst
	ImageUsageShadingRate
)

// Has reports whether every bit of flag is set.
func (u ImageUsage) Has(flag ImageUsage) bool {
	return u&flag == flag
}

// BufferUsage is a bit set of the ways a buffer may be used.
type BufferUsage uint32

const (
	BufferUsageTransferSrc BufferUsage = 1 << iota
	BufferUsageUniform
)

// MemoryPolicy selects where a buffer lives.
type MemoryPolicy int

const (
	// MemoryDeviceLocal buffers are not host accessible.
	MemoryDeviceLocal MemoryPolicy = iota
	// MemoryHostVisible buffers are mapped and coherent, written with Buffer.Write.
	MemoryHostVisible
)

// SharingMode controls whether an image may be used by several queue families without
// ownership transfers.
type SharingMode int

const (
	SharingExclusive SharingMode = iota
	SharingConcurrent
)

// Layout is the access layout an image is in.
type Layout int

const (
	LayoutUndefined Layout = iota
	LayoutGeneral
	LayoutTransferDst
	LayoutShaderReadOnly
	LayoutColorAttachment
	LayoutDepthAttachment
	LayoutShadingRate
	LayoutPresent
)

var layoutNames = [...]string{"undefined", "general", "transfer-dst", "shader-read-only", "color-attachment", "depth-attachment", "shading-rate", "present"}

func (l Layout) String() string {
	if int(l) < len(layoutNames) {
		return layoutNames[l]
	}
	return fmt.Sprintf("Layout(%d)", int(l))
}

// Aspect selects the colour or depth aspect of an image.
type Aspect int

const (
	AspectColor Aspect = iota
	AspectDepth
)

// QueueKind names one of the two logical queues.
type QueueKind int

const (
	QueueGraphics QueueKind = iota
	QueueCompute
)

func (q QueueKind) String() string {
	switch q {
	case QueueGraphics:
		return "graphics"
	case QueueCompute:
		return "compute"
	default:
		return fmt.Sprintf("QueueKind(%d)", int(q))
	}
}

// PipelineStage is a bit set of pipeline stages used in waits and barriers.
type PipelineStage uint32

const (
	StageTopOfPipe PipelineStage = 1 << iota
	StageTransfer
	StageComputeShader
	StageShadingRateImage
	StageFragmentShader
	StageColorAttachmentOutput
	StageBottomOfPipe

	StageAllCommands = StageTopOfPipe | StageTransfer | StageComputeShader | StageShadingRateImage |
		StageFragmentShader | StageColorAttachmentOutput | StageBottomOfPipe
)

// LoadOp is how an attachment's contents are initialised at the start of a render pass.
type LoadOp int

const (
	LoadOpClear LoadOp = iota
	LoadOpLoad
	LoadOpDontCare
)

// StoreOp is whether an attachment's contents survive the end of a render pass.
type StoreOp int

const (
	StoreOpStore StoreOp = iota
	StoreOpDontCare
)

// ImageDescriptor describes an image allocation.
type ImageDescriptor struct {
	Label         string
	Width, Height uint32
	Format        Format
	Usage         ImageUsage
	Sharing       SharingMode
}

// BufferDescriptor describes a buffer allocation.
type BufferDescriptor struct {
	Label  string
	Size   int
	Usage  BufferUsage
	Memory MemoryPolicy
}

// SamplerDescriptor describes a sampler. Addressing is always clamp-to-edge.
type SamplerDescriptor struct {
	Label string
	// Linear selects bilinear filtering, nearest otherwise.
	Linear bool
}

// AttachmentDescriptor describes one render pass attachment.
type AttachmentDescriptor struct {
	Format     Format
	Load       LoadOp
	Store      StoreOp
	ClearColor [4]float32
	ClearDepth float32
	// Layout is the layout the attachment must be in when the pass begins. The pass
	// leaves it in FinalLayout.
	Layout      Layout
	FinalLayout Layout
}

// SubpassDependency orders the render pass against work outside it.
type SubpassDependency struct {
	SrcStage PipelineStage
	DstStage PipelineStage
}

// RenderPassDescriptor describes a single-subpass render pass.
type RenderPassDescriptor struct {
	Label        string
	Color        AttachmentDescriptor
	Depth        *AttachmentDescriptor
	Dependencies []SubpassDependency
}

// Image is a device image handle.
type Image interface {
	ID() uint64
	Label() string
	Extent() common.Extent2D
	Format() Format
	Usage() ImageUsage
	Sharing() SharingMode
	// Release frees the image. Later use fails with ErrReleased.
	Release()
}

// Buffer is a device buffer handle.
type Buffer interface {
	ID() uint64
	Label() string
	Size() int
	// Write copies data into a host-visible buffer at offset.
	Write(offset int, data []byte) error
	Release()
}

// Semaphore is a binary semaphore ordering submissions across queues.
type Semaphore interface {
	ID() uint64
	Label() string
	Release()
}

// Sampler is an image sampler handle.
type Sampler interface {
	ID() uint64
	Label() string
	Release()
}

// RenderPass is a compiled render pass.
type RenderPass interface {
	ID() uint64
	Descriptor() RenderPassDescriptor
	Release()
}

// Capabilities reports what the device supports.
type Capabilities struct {
	// ShadingRateImage is true when draws can be driven by a shading-rate image.
	ShadingRateImage bool
	// ShadingRateEmulated is true when the rate is applied by the fragment program
	// rather than by fixed-function hardware.
	ShadingRateEmulated bool
	// ShadingRateTexelSize is the pixel block covered by one shading-rate texel.
	ShadingRateTexelSize common.Extent2D
	// Palette lists the supported shading-rate palette entries.
	Palette []shading_rate.Rate
	// GraphicsQueueFamily and ComputeQueueFamily identify the queue families backing
	// the two logical queues.
	GraphicsQueueFamily uint32
	ComputeQueueFamily  uint32
	// StorageFormats lists the formats usable as storage images.
	StorageFormats []Format
	// SurfaceFormat is the swapchain image format.
	SurfaceFormat Format
}

// SharedQueueFamily reports whether both logical queues belong to one family.
func (c Capabilities) SharedQueueFamily() bool {
	return c.GraphicsQueueFamily == c.ComputeQueueFamily
}

// SupportsStorage reports whether f can back a storage image.
func (c Capabilities) SupportsStorage(f Format) bool {
	return slices.Contains(c.StorageFormats, f)
}

// FirstStorageFormat returns the first candidate usable as a storage image.
//
// Parameters:
//   - candidates: formats in order of preference
//
// Returns:
//   - Format: the first supported candidate
//   - error: ErrUnsupportedFormat if none is supported
func (c Capabilities) FirstStorageFormat(candidates ...Format) (Format, error) {
	for _, f := range candidates {
		if c.SupportsStorage(f) {
			return f, nil
		}
	}
	return FormatUndefined, fmt.Errorf("%w: none of %v supports storage", ErrUnsupportedFormat, candidates)
}

// SharingFor returns the sharing mode for an image touched by both queues: concurrent
// when the queue families differ, exclusive otherwise.
func (c Capabilities) SharingFor() SharingMode {
	if c.SharedQueueFamily() {
		return SharingExclusive
	}
	return SharingConcurrent
}

// QueueFamily returns the family index backing a logical queue.
func (c Capabilities) QueueFamily(q QueueKind) uint32 {
	if q == QueueCompute {
		return c.ComputeQueueFamily
	}
	return c.GraphicsQueueFamily
}
