package window

// WindowBuilderOption is a functional option for configuring a Window.
type WindowBuilderOption func(w *engineWindow)

// WithTitle sets the title bar text.
func WithTitle(title string) WindowBuilderOption {
	return func(w *engineWindow) {
		w.title = title
	}
}

// WithSize sets the initial size in screen coordinates. The framebuffer, and with it the
// render extent, is larger on high-DPI displays.
//
// Parameters:
//   - width, height: window size in screen coordinates
//
// Returns:
//   - WindowBuilderOption: option function to apply
func WithSize(width, height int) WindowBuilderOption {
	return func(w *engineWindow) {
		w.size = [2]int{width, height}
	}
}

// WithSizeLimits bounds interactive resizing. Every resize rebuilds the shading rate
// surface, so the lower bound is also the smallest rate surface the frame renderer sees.
//
// Parameters:
//   - minWidth, minHeight: smallest allowed size
//   - maxWidth, maxHeight: largest allowed size
//
// Returns:
//   - WindowBuilderOption: option function to apply
func WithSizeLimits(minWidth, minHeight, maxWidth, maxHeight int) WindowBuilderOption {
	return func(w *engineWindow) {
		w.min = [2]int{minWidth, minHeight}
		w.max = [2]int{maxWidth, maxHeight}
	}
}
