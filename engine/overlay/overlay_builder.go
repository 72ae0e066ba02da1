package overlay

// OverlayBuilderOption is a functional option for configuring an Overlay.
type OverlayBuilderOption func(o *overlay)

// WithVisible sets whether the overlay starts visible. Defaults to true.
func WithVisible(visible bool) OverlayBuilderOption {
	return func(o *overlay) {
		o.visible = visible
	}
}

// WithQuadScale sets the display quad size as a fraction of the target. Defaults to 0.25.
// Panics outside (0, 1].
//
// Parameters:
//   - scale: the fraction of the target width and height
//
// Returns:
//   - OverlayBuilderOption: option function to apply
func WithQuadScale(scale float32) OverlayBuilderOption {
	if scale <= 0 || scale > 1 {
		panic("overlay: WithQuadScale: scale must be in (0, 1]")
	}
	return func(o *overlay) {
		o.quadScale = scale
	}
}

// WithMargin sets the distance in pixels between the quads and the target edges.
func WithMargin(px float32) OverlayBuilderOption {
	return func(o *overlay) {
		o.margin = px
	}
}

// WithLightSize sets the edge of the status lights in pixels. Defaults to 12.
func WithLightSize(px float32) OverlayBuilderOption {
	return func(o *overlay) {
		o.lightSize = px
	}
}

// WithBorderWidth sets the display quad border as a fraction of the quad.
func WithBorderWidth(width float32) OverlayBuilderOption {
	return func(o *overlay) {
		o.borderWidth = width
	}
}
