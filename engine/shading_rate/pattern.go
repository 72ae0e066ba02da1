package shading_rate

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-vrs/common"
)

var (
	// ErrZeroExtent is returned when a frame or texel dimension is zero.
	ErrZeroExtent = errors.New("shading_rate: zero extent")

	// ErrInvalidRate is returned for values outside the shading-rate palette.
	ErrInvalidRate = errors.New("shading_rate: invalid palette entry")
)

// Extent returns the shading-rate image size covering a width by height frame, one
// texel per texelSize pixel block, rounding partial blocks up.
//
// Parameters:
//   - width: frame width in pixels
//   - height: frame height in pixels
//   - texelSize: the device shading-rate texel granularity
//
// Returns:
//   - common.Extent2D: ceil(width/texel.Width) by ceil(height/texel.Height)
//   - error: ErrZeroExtent when any input dimension is zero
func Extent(width, height int, texelSize common.Extent2D) (common.Extent2D, error) {
	if width <= 0 || height <= 0 {
		return common.Extent2D{}, fmt.Errorf("%w: frame %dx%d", ErrZeroExtent, width, height)
	}
	if texelSize.IsZero() {
		return common.Extent2D{}, fmt.Errorf("%w: texel %s", ErrZeroExtent, texelSize)
	}
	return common.Extent2D{
		Width:  common.CeilDiv(uint32(width), texelSize.Width),
		Height: common.CeilDiv(uint32(height), texelSize.Height),
	}, nil
}

// Pattern is a CPU-side shading-rate image: one palette entry per texel, row-major.
type Pattern struct {
	Extent common.Extent2D
	Rates  []Rate
}

// NewPattern allocates a pattern filled with fill.
func NewPattern(extent common.Extent2D, fill Rate) Pattern {
	rates := make([]Rate, extent.Area())
	for i := range rates {
		rates[i] = fill
	}
	return Pattern{Extent: extent, Rates: rates}
}

// PatternFromBytes decodes an R8Uint payload into a pattern.
//
// Parameters:
//   - extent: the pattern dimensions
//   - data: one byte per texel, row-major
//
// Returns:
//   - Pattern: the decoded pattern
//   - error: an error if the payload size does not match or a byte is not a palette entry
func PatternFromBytes(extent common.Extent2D, data []byte) (Pattern, error) {
	if len(data) != extent.Area() {
		return Pattern{}, fmt.Errorf("shading_rate: payload is %d bytes, want %d for %s", len(data), extent.Area(), extent)
	}
	p := Pattern{Extent: extent, Rates: make([]Rate, len(data))}
	for i, b := range data {
		r := Rate(b)
		if !r.Valid() {
			return Pattern{}, fmt.Errorf("%w: %d at texel %d", ErrInvalidRate, b, i)
		}
		p.Rates[i] = r
	}
	return p, nil
}

// At returns the rate at texel (x, y).
func (p Pattern) At(x, y int) Rate {
	return p.Rates[y*int(p.Extent.Width)+x]
}

// Set stores the rate at texel (x, y).
func (p Pattern) Set(x, y int, r Rate) {
	p.Rates[y*int(p.Extent.Width)+x] = r
}

// Bytes returns the pattern as an R8Uint upload payload.
func (p Pattern) Bytes() []byte {
	out := make([]byte, len(p.Rates))
	for i, r := range p.Rates {
		out[i] = byte(r)
	}
	return out
}

// Equal reports whether both patterns have the same extent and rates.
func (p Pattern) Equal(o Pattern) bool {
	if p.Extent != o.Extent || len(p.Rates) != len(o.Rates) {
		return false
	}
	for i := range p.Rates {
		if p.Rates[i] != o.Rates[i] {
			return false
		}
	}
	return true
}

// Histogram counts texels per palette entry.
func (p Pattern) Histogram() [PaletteSize]int {
	var h [PaletteSize]int
	for _, r := range p.Rates {
		if r.Valid() {
			h[r]++
		}
	}
	return h
}

// InvocationRatio estimates shader invocations relative to full-rate shading, assuming
// every texel is fully covered.
//
// Returns:
//   - float32: mean invocations per pixel across the pattern, 0 for an empty pattern
func (p Pattern) InvocationRatio() float32 {
	if len(p.Rates) == 0 {
		return 0
	}
	var sum float32
	for _, r := range p.Rates {
		sum += r.Quality()
	}
	return sum / float32(len(p.Rates))
}
