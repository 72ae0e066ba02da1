package pipeline

import (
	"github.com/Carmen-Shannon/oxy-vrs/common"
	"github.com/Carmen-Shannon/oxy-vrs/engine/shading_rate"
)

// Image is a kernel's view of an image binding. Float accessors convert from the image
// format (unorm, half and full float); uint accessors read and write integer formats.
// Out-of-range coordinates are clamped on reads and ignored on writes.
type Image interface {
	// Extent returns the image dimensions.
	Extent() common.Extent2D

	// Load reads texel (x, y) as four floats. Missing channels read as 0, alpha as 1.
	Load(x, y int) [4]float32

	// Store writes texel (x, y) from four floats, dropping channels the format lacks.
	Store(x, y int, v [4]float32)

	// LoadUint reads the first channel of texel (x, y) as an unsigned integer.
	LoadUint(x, y int) uint32

	// StoreUint writes the first channel of texel (x, y).
	StoreUint(x, y int, v uint32)

	// Sample reads the image with bilinear filtering and clamp-to-edge addressing at
	// normalized coordinates (u, v).
	Sample(u, v float32) [4]float32
}

// Resources resolves the bindings of a dispatch or draw by binding index.
type Resources interface {
	// Image returns the image bound at binding, or nil.
	Image(binding int) Image

	// Uniform returns the uniform bytes bound at binding, or nil.
	Uniform(binding int) []byte
}

// Workgroup identifies one workgroup of a compute dispatch.
type Workgroup struct {
	// ID is the workgroup index within the dispatch.
	ID [3]uint32
	// Count is the dispatch size in workgroups.
	Count [3]uint32
	// Size is the number of invocations per workgroup, from the shader's @workgroup_size.
	Size [3]uint32
}

// Kernel executes one workgroup of a compute dispatch on the software device. A kernel
// runs its invocations itself, so workgroup-shared reductions are plain Go code.
// Workgroups of one dispatch may run in parallel and must write disjoint texels.
type Kernel func(wg Workgroup, res Resources)

// Fragment is the input of one fragment shader invocation.
type Fragment struct {
	// X and Y are the shading position in render-target pixels. For coarse rates this
	// is the centre of the fragment footprint.
	X, Y float32
	// U and V are the shading position normalized to the draw viewport.
	U, V float32
	// Rate is the palette entry that produced this fragment. Full rate when no
	// shading-rate image is bound.
	Rate shading_rate.Rate
}

// FragmentOutput is the result of one fragment shader invocation.
type FragmentOutput struct {
	// Color is the linear RGBA colour written to the colour attachment.
	Color [4]float32
	// Depth is written to the depth attachment when depth writes are enabled.
	Depth float32
	// Discard drops the fragment without writing any attachment.
	Discard bool
}

// FragmentKernel shades one fragment on the software device. It is invoked concurrently
// for different fragments and must not retain res.
type FragmentKernel func(f Fragment, res Resources) FragmentOutput
