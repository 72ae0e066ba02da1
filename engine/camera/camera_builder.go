package camera

import (
	"github.com/Carmen-Shannon/oxy-vrs/common"
)

// CameraBuilderOption is a functional option for configuring a Camera. NewCamera
// computes the first snapshot once every option has been applied.
type CameraBuilderOption func(*cameraImpl)

// WithUp sets the world up vector used by the view matrix.
func WithUp(up [3]float32) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.up = up
	}
}

// WithLens sets the projection parameters.
//
// Parameters:
//   - l: field of view and clip planes
//
// Returns:
//   - CameraBuilderOption: option function to apply
func WithLens(l Lens) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.lens = l
	}
}

// WithAspect sets the aspect ratio (width / height).
func WithAspect(aspect float32) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.aspect = aspect
	}
}

// WithController attaches a controller to the camera.
//
// Parameters:
//   - ctrl: the controller to attach
//
// Returns:
//   - CameraBuilderOption: option function to apply
func WithController(ctrl CameraController) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.controller = ctrl
	}
}

// WithViewport sets the frame rectangle and derives the aspect ratio from it.
//
// Parameters:
//   - vp: the viewport in pixels
//
// Returns:
//   - CameraBuilderOption: option function to apply
func WithViewport(vp common.Viewport) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.setViewport(vp)
	}
}
