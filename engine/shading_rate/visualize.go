package shading_rate

import (
	"image"
	"image/png"
	"io"

	"github.com/Carmen-Shannon/oxy-vrs/common"
	"golang.org/x/image/draw"
)

// Image renders the pattern at texel resolution using each rate's tint.
func (p Pattern) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, int(p.Extent.Width), int(p.Extent.Height)))
	for y := 0; y < int(p.Extent.Height); y++ {
		for x := 0; x < int(p.Extent.Width); x++ {
			img.SetRGBA(x, y, p.At(x, y).Tint())
		}
	}
	return img
}

// Upscale renders the pattern at frame resolution, each texel expanded to a
// texelSize block with nearest-neighbour filtering.
//
// Parameters:
//   - texelSize: the pixel block covered by one texel
//
// Returns:
//   - *image.RGBA: the upscaled visualisation
func (p Pattern) Upscale(texelSize common.Extent2D) *image.RGBA {
	src := p.Image()
	w := int(p.Extent.Width * max(texelSize.Width, 1))
	h := int(p.Extent.Height * max(texelSize.Height, 1))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// EncodePNG writes the upscaled visualisation of the pattern as a PNG.
//
// Parameters:
//   - w: the destination writer
//   - texelSize: the pixel block covered by one texel
//
// Returns:
//   - error: an error if encoding fails
func (p Pattern) EncodePNG(w io.Writer, texelSize common.Extent2D) error {
	if p.Extent.IsZero() {
		return ErrZeroExtent
	}
	return png.Encode(w, p.Upscale(texelSize))
}
