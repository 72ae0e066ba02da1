package capture

import (
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer"
)

// CaptureBuilderOption is a functional option for configuring a Capture.
type CaptureBuilderOption func(c *capture)

// WithLabel sets the debug label prefix of the capture resources. Defaults to "capture".
//
// Parameters:
//   - label: the label prefix
//
// Returns:
//   - CaptureBuilderOption: option function to apply
func WithLabel(label string) CaptureBuilderOption {
	return func(c *capture) {
		c.label = label
	}
}

// WithFormats replaces the colour format candidates, in order of preference.
// Panics if no candidate is given.
//
// Parameters:
//   - formats: the candidate formats
//
// Returns:
//   - CaptureBuilderOption: option function to apply
func WithFormats(formats ...renderer.Format) CaptureBuilderOption {
	if len(formats) == 0 {
		panic("capture: WithFormats needs at least one format")
	}
	return func(c *capture) {
		c.candidates = formats
	}
}

// WithClearColor sets the colour the capture target is cleared to before each pass.
//
// Parameters:
//   - color: linear RGBA
//
// Returns:
//   - CaptureBuilderOption: option function to apply
func WithClearColor(color [4]float32) CaptureBuilderOption {
	return func(c *capture) {
		c.clearColor = color
	}
}
