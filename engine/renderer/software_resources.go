package renderer

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/Carmen-Shannon/oxy-vrs/common"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer/pipeline"
	"github.com/x448/float16"
)

// Queue family ownership states of an exclusive image.
const (
	ownerNone       int64 = -1
	ownerInTransfer int64 = -2
)

// swImage is a software device image. Texel data is tightly packed, row major.
type swImage struct {
	id       uint64
	desc     ImageDescriptor
	data     []byte
	released atomic.Bool
	free     func(int)

	// Submission-time state, guarded by softwareBackend.mu.
	layout     Layout
	owner      int64
	transferTo int64

	// swapchain images carry a presentation token.
	swapchain bool
	available chan struct{}
}

var (
	_ Image          = &swImage{}
	_ pipeline.Image = &swImage{}
)

func newSWImage(id uint64, desc ImageDescriptor, free func(int)) *swImage {
	return &swImage{
		id:         id,
		desc:       desc,
		data:       make([]byte, int(desc.Width)*int(desc.Height)*desc.Format.BytesPerTexel()),
		free:       free,
		layout:     LayoutUndefined,
		owner:      ownerNone,
		transferTo: ownerNone,
	}
}

func (i *swImage) ID() uint64 {
	return i.id
}

func (i *swImage) Label() string {
	return i.desc.Label
}

func (i *swImage) Extent() common.Extent2D {
	return common.Extent2D{Width: i.desc.Width, Height: i.desc.Height}
}

func (i *swImage) Format() Format {
	return i.desc.Format
}

func (i *swImage) Usage() ImageUsage {
	return i.desc.Usage
}

func (i *swImage) Sharing() SharingMode {
	return i.desc.Sharing
}

func (i *swImage) Release() {
	if i.released.Swap(true) {
		return
	}
	if i.free != nil {
		i.free(len(i.data))
	}
}

func (i *swImage) offset(x, y int) int {
	x = min(max(x, 0), int(i.desc.Width)-1)
	y = min(max(y, 0), int(i.desc.Height)-1)
	return (y*int(i.desc.Width) + x) * i.desc.Format.BytesPerTexel()
}

func (i *swImage) inBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < int(i.desc.Width) && y < int(i.desc.Height)
}

func (i *swImage) Load(x, y int) [4]float32 {
	o := i.offset(x, y)
	d := i.data
	switch i.desc.Format {
	case FormatBGRA8Unorm:
		return [4]float32{unorm(d[o+2]), unorm(d[o+1]), unorm(d[o]), unorm(d[o+3])}
	case FormatRGBA8Unorm:
		return [4]float32{unorm(d[o]), unorm(d[o+1]), unorm(d[o+2]), unorm(d[o+3])}
	case FormatRG16Float:
		r := float16.Frombits(binary.LittleEndian.Uint16(d[o:])).Float32()
		g := float16.Frombits(binary.LittleEndian.Uint16(d[o+2:])).Float32()
		return [4]float32{r, g, 0, 1}
	case FormatRG32Float:
		r := math.Float32frombits(binary.LittleEndian.Uint32(d[o:]))
		g := math.Float32frombits(binary.LittleEndian.Uint32(d[o+4:]))
		return [4]float32{r, g, 0, 1}
	case FormatR8Uint:
		return [4]float32{float32(d[o]), 0, 0, 1}
	case FormatR32Uint:
		return [4]float32{float32(binary.LittleEndian.Uint32(d[o:])), 0, 0, 1}
	case FormatDepth32Float:
		return [4]float32{math.Float32frombits(binary.LittleEndian.Uint32(d[o:])), 0, 0, 1}
	}
	return [4]float32{}
}

func (i *swImage) Store(x, y int, v [4]float32) {
	if !i.inBounds(x, y) {
		return
	}
	o := i.offset(x, y)
	d := i.data
	switch i.desc.Format {
	case FormatBGRA8Unorm:
		d[o], d[o+1], d[o+2], d[o+3] = toUnorm(v[2]), toUnorm(v[1]), toUnorm(v[0]), toUnorm(v[3])
	case FormatRGBA8Unorm:
		d[o], d[o+1], d[o+2], d[o+3] = toUnorm(v[0]), toUnorm(v[1]), toUnorm(v[2]), toUnorm(v[3])
	case FormatRG16Float:
		binary.LittleEndian.PutUint16(d[o:], float16.Fromfloat32(v[0]).Bits())
		binary.LittleEndian.PutUint16(d[o+2:], float16.Fromfloat32(v[1]).Bits())
	case FormatRG32Float:
		binary.LittleEndian.PutUint32(d[o:], math.Float32bits(v[0]))
		binary.LittleEndian.PutUint32(d[o+4:], math.Float32bits(v[1]))
	case FormatR8Uint, FormatR32Uint:
		i.StoreUint(x, y, uint32(max(v[0], 0)))
	case FormatDepth32Float:
		binary.LittleEndian.PutUint32(d[o:], math.Float32bits(v[0]))
	}
}

func (i *swImage) LoadUint(x, y int) uint32 {
	o := i.offset(x, y)
	switch i.desc.Format {
	case FormatR8Uint:
		return uint32(i.data[o])
	case FormatR32Uint:
		return binary.LittleEndian.Uint32(i.data[o:])
	}
	return uint32(i.Load(x, y)[0])
}

func (i *swImage) StoreUint(x, y int, v uint32) {
	if !i.inBounds(x, y) {
		return
	}
	o := i.offset(x, y)
	switch i.desc.Format {
	case FormatR8Uint:
		i.data[o] = uint8(min(v, math.MaxUint8))
	case FormatR32Uint:
		binary.LittleEndian.PutUint32(i.data[o:], v)
	default:
		i.Store(x, y, [4]float32{float32(v), 0, 0, 1})
	}
}

func (i *swImage) Sample(u, v float32) [4]float32 {
	px := u*float32(i.desc.Width) - 0.5
	py := v*float32(i.desc.Height) - 0.5
	x0 := int(math.Floor(float64(px)))
	y0 := int(math.Floor(float64(py)))
	fx := px - float32(x0)
	fy := py - float32(y0)

	a, b := i.Load(x0, y0), i.Load(x0+1, y0)
	c, d := i.Load(x0, y0+1), i.Load(x0+1, y0+1)
	var out [4]float32
	for ch := range out {
		top := a[ch] + (b[ch]-a[ch])*fx
		bottom := c[ch] + (d[ch]-c[ch])*fx
		out[ch] = top + (bottom-top)*fy
	}
	return out
}

func (i *swImage) clear(v [4]float32) {
	for y := range int(i.desc.Height) {
		for x := range int(i.desc.Width) {
			i.Store(x, y, v)
		}
	}
}

func unorm(b uint8) float32 {
	return float32(b) / 255
}

func toUnorm(v float32) uint8 {
	return uint8(common.Clamp(v, 0, 1)*255 + 0.5)
}

// swBuffer is a software device buffer.
type swBuffer struct {
	id       uint64
	desc     BufferDescriptor
	data     []byte
	released atomic.Bool
	free     func(int)
}

var _ Buffer = &swBuffer{}

func (b *swBuffer) ID() uint64 {
	return b.id
}

func (b *swBuffer) Label() string {
	return b.desc.Label
}

func (b *swBuffer) Size() int {
	return b.desc.Size
}

func (b *swBuffer) Write(offset int, data []byte) error {
	if b.released.Load() {
		return fmt.Errorf("%w: buffer %q", ErrReleased, b.desc.Label)
	}
	if b.desc.Memory != MemoryHostVisible {
		return fmt.Errorf("renderer: buffer %q is not host visible", b.desc.Label)
	}
	if offset < 0 || offset+len(data) > len(b.data) {
		return fmt.Errorf("renderer: write of %d bytes at %d overflows buffer %q of %d bytes", len(data), offset, b.desc.Label, len(b.data))
	}
	copy(b.data[offset:], data)
	return nil
}

func (b *swBuffer) Release() {
	if b.released.Swap(true) {
		return
	}
	if b.free != nil {
		b.free(len(b.data))
	}
}

// swSemaphore is a binary semaphore. The channel holds the signal; pending tracks
// whether a signal has been submitted and not yet consumed by a submitted wait.
type swSemaphore struct {
	id       uint64
	label    string
	ch       chan struct{}
	released atomic.Bool

	// guarded by softwareBackend.mu
	pending bool
}

var _ Semaphore = &swSemaphore{}

func (s *swSemaphore) ID() uint64 {
	return s.id
}

func (s *swSemaphore) Label() string {
	return s.label
}

func (s *swSemaphore) Release() {
	s.released.Store(true)
}

// swSampler carries no state on the software device: images are always sampled
// bilinearly with clamp-to-edge addressing.
type swSampler struct {
	id       uint64
	desc     SamplerDescriptor
	released atomic.Bool
}

var _ Sampler = &swSampler{}

func (s *swSampler) ID() uint64 {
	return s.id
}

func (s *swSampler) Label() string {
	return s.desc.Label
}

func (s *swSampler) Release() {
	s.released.Store(true)
}

// swRenderPass is a render pass description.
type swRenderPass struct {
	id       uint64
	desc     RenderPassDescriptor
	released atomic.Bool
}

var _ RenderPass = &swRenderPass{}

func (r *swRenderPass) ID() uint64 {
	return r.id
}

func (r *swRenderPass) Descriptor() RenderPassDescriptor {
	return r.desc
}

func (r *swRenderPass) Release() {
	r.released.Store(true)
}

// swResources resolves bindings for kernels.
type swResources struct {
	bindings Bindings
}

func (r swResources) Image(binding int) pipeline.Image {
	if img, ok := r.bindings[binding].Image.(*swImage); ok {
		return img
	}
	return nil
}

func (r swResources) Uniform(binding int) []byte {
	return r.bindings[binding].Uniform
}
