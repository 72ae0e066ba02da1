package shading_rate

import (
	"fmt"
	"image/color"
)

// Rate is one entry of the hardware shading-rate palette. The numeric values match the
// device palette order, so a Rate can be written into an R8Uint rate surface as-is.
type Rate uint8

const (
	// RateNoInvocations discards every fragment covered by the texel.
	RateNoInvocations Rate = iota

	// Rate16InvocationsPerPixel shades each pixel sixteen times.
	Rate16InvocationsPerPixel

	// Rate8InvocationsPerPixel shades each pixel eight times.
	Rate8InvocationsPerPixel

	// Rate4InvocationsPerPixel shades each pixel four times.
	Rate4InvocationsPerPixel

	// Rate2InvocationsPerPixel shades each pixel twice.
	Rate2InvocationsPerPixel

	// Rate1InvocationPerPixel is full-rate shading.
	Rate1InvocationPerPixel

	// Rate1InvocationPer2x1Pixels shades one fragment per 2 pixels horizontally.
	Rate1InvocationPer2x1Pixels

	// Rate1InvocationPer1x2Pixels shades one fragment per 2 pixels vertically.
	Rate1InvocationPer1x2Pixels

	// Rate1InvocationPer2x2Pixels shades one fragment per 2x2 pixel quad.
	Rate1InvocationPer2x2Pixels

	// Rate1InvocationPer4x2Pixels shades one fragment per 4x2 pixels.
	Rate1InvocationPer4x2Pixels

	// Rate1InvocationPer2x4Pixels shades one fragment per 2x4 pixels.
	Rate1InvocationPer2x4Pixels

	// Rate1InvocationPer4x4Pixels shades one fragment per 4x4 pixels. This is the coarsest entry.
	Rate1InvocationPer4x4Pixels
)

// PaletteSize is the number of entries in the shading-rate palette.
const PaletteSize = int(Rate1InvocationPer4x4Pixels) + 1

type rateInfo struct {
	name        string
	invocations int
	width       int
	height      int
	tint        color.RGBA
}

var palette = [PaletteSize]rateInfo{
	RateNoInvocations:           {"none", 0, 1, 1, color.RGBA{0, 0, 0, 255}},
	Rate16InvocationsPerPixel:   {"16/px", 16, 1, 1, color.RGBA{255, 255, 255, 255}},
	Rate8InvocationsPerPixel:    {"8/px", 8, 1, 1, color.RGBA{224, 224, 255, 255}},
	Rate4InvocationsPerPixel:    {"4/px", 4, 1, 1, color.RGBA{192, 192, 255, 255}},
	Rate2InvocationsPerPixel:    {"2/px", 2, 1, 1, color.RGBA{160, 160, 255, 255}},
	Rate1InvocationPerPixel:     {"1x1", 1, 1, 1, color.RGBA{255, 64, 64, 255}},
	Rate1InvocationPer2x1Pixels: {"2x1", 1, 2, 1, color.RGBA{255, 160, 32, 255}},
	Rate1InvocationPer1x2Pixels: {"1x2", 1, 1, 2, color.RGBA{255, 224, 32, 255}},
	Rate1InvocationPer2x2Pixels: {"2x2", 1, 2, 2, color.RGBA{64, 224, 64, 255}},
	Rate1InvocationPer4x2Pixels: {"4x2", 1, 4, 2, color.RGBA{32, 192, 192, 255}},
	Rate1InvocationPer2x4Pixels: {"2x4", 1, 2, 4, color.RGBA{32, 128, 255, 255}},
	Rate1InvocationPer4x4Pixels: {"4x4", 1, 4, 4, color.RGBA{128, 64, 255, 255}},
}

// coarseRates lists the palette entries that shade at most once per pixel, finest first.
var coarseRates = []Rate{
	Rate1InvocationPerPixel,
	Rate1InvocationPer2x1Pixels,
	Rate1InvocationPer1x2Pixels,
	Rate1InvocationPer2x2Pixels,
	Rate1InvocationPer4x2Pixels,
	Rate1InvocationPer2x4Pixels,
	Rate1InvocationPer4x4Pixels,
}

// Palette returns every valid palette entry in device order.
//
// Returns:
//   - []Rate: the palette entries, RateNoInvocations first
func Palette() []Rate {
	out := make([]Rate, PaletteSize)
	for i := range out {
		out[i] = Rate(i)
	}
	return out
}

// Valid reports whether r is a palette entry.
func (r Rate) Valid() bool {
	return int(r) < PaletteSize
}

// Invocations returns how many times each shaded fragment is evaluated. Coarse rates
// evaluate once per fragment; supersampling rates evaluate once per sample.
func (r Rate) Invocations() int {
	if !r.Valid() {
		return 0
	}
	return palette[r].invocations
}

// FragmentSize returns the pixel footprint of one shaded fragment.
//
// Returns:
//   - int: fragment width in pixels
//   - int: fragment height in pixels
func (r Rate) FragmentSize() (int, int) {
	if !r.Valid() {
		return 1, 1
	}
	return palette[r].width, palette[r].height
}

// Quality returns the number of shader invocations per pixel. Higher means finer.
// 2x1 and 1x2 rank equal, as do 4x2 and 2x4.
//
// Returns:
//   - float32: invocations per pixel, 0 for RateNoInvocations and invalid values
func (r Rate) Quality() float32 {
	if !r.Valid() {
		return 0
	}
	info := palette[r]
	return float32(info.invocations) / float32(info.width*info.height)
}

// Tint returns the debug colour used when shading rates are colourised.
func (r Rate) Tint() color.RGBA {
	if !r.Valid() {
		return color.RGBA{255, 0, 255, 255}
	}
	return palette[r].tint
}

func (r Rate) String() string {
	if !r.Valid() {
		return fmt.Sprintf("Rate(%d)", uint8(r))
	}
	return palette[r].name
}

// MarshalText encodes the rate as its palette name, e.g. "2x2" or "16/px".
func (r Rate) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRate, uint8(r))
	}
	return []byte(palette[r].name), nil
}

// UnmarshalText decodes a palette name produced by MarshalText.
func (r *Rate) UnmarshalText(text []byte) error {
	parsed, err := ParseRate(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseRate resolves a palette name such as "1x1", "4x2" or "none".
//
// Parameters:
//   - name: the palette name
//
// Returns:
//   - Rate: the matching entry
//   - error: ErrInvalidRate if no entry has that name
func ParseRate(name string) (Rate, error) {
	for i, info := range palette {
		if info.name == name {
			return Rate(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidRate, name)
}

// Coarsest returns whichever of base and other shades fewer invocations per pixel.
// base wins ties, so the result is never finer than base.
//
// Parameters:
//   - base: the rate that must not be refined
//   - other: the proposed rate
//
// Returns:
//   - Rate: the coarser of the two
func Coarsest(base, other Rate) Rate {
	if other.Quality() < base.Quality() {
		return other
	}
	return base
}

// FromFragmentSize returns the coarse palette entry with the largest fragment that fits
// inside fx by fy pixels. Sizes below 1 are treated as 1.
//
// Parameters:
//   - fx: the largest acceptable fragment width
//   - fy: the largest acceptable fragment height
//
// Returns:
//   - Rate: the best fitting entry, Rate1InvocationPerPixel at minimum
func FromFragmentSize(fx, fy int) Rate {
	best := Rate1InvocationPerPixel
	bestArea := 1
	for _, r := range coarseRates {
		w, h := r.FragmentSize()
		if w > fx || h > fy {
			continue
		}
		if area := w * h; area > bestArea {
			best, bestArea = r, area
		}
	}
	return best
}
