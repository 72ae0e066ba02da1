// package common contains common types that are used throughout this engine. They are not interface-wrapped structs, just plain structs that express
// commonly used data-types.
package common

import "fmt"

// Extent2D is a width/height pair in pixels or texels.
type Extent2D struct {
	// Width is the horizontal size.
	Width uint32
	// Height is the vertical size.
	Height uint32
}

// IsZero reports whether either dimension is zero.
func (e Extent2D) IsZero() bool {
	return e.Width == 0 || e.Height == 0
}

// Area returns Width * Height.
func (e Extent2D) Area() int {
	return int(e.Width) * int(e.Height)
}

// Aspect returns Width / Height, or 1 for a degenerate extent.
func (e Extent2D) Aspect() float32 {
	if e.Height == 0 {
		return 1
	}
	return float32(e.Width) / float32(e.Height)
}

func (e Extent2D) String() string {
	return fmt.Sprintf("%dx%d", e.Width, e.Height)
}

// Viewport describes the screen-space rectangle a frame was rendered into.
// The analysis pass reads the previous viewport to reproject block centres.
type Viewport struct {
	// Origin is the top-left corner in pixels.
	Origin [2]float32
	// Size is the width and height in pixels.
	Size [2]float32
}

// ViewportFromExtent returns a viewport covering the full extent.
func ViewportFromExtent(e Extent2D) Viewport {
	return Viewport{Size: [2]float32{float32(e.Width), float32(e.Height)}}
}
