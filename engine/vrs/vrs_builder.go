package vrs

import (
	"github.com/Carmen-Shannon/oxy-vrs/engine/camera"
	"github.com/Carmen-Shannon/oxy-vrs/engine/overlay"
	"github.com/Carmen-Shannon/oxy-vrs/engine/scene"
	"github.com/Carmen-Shannon/oxy-vrs/engine/settings"
)

// FrameRendererBuilderOption is a functional option for configuring a FrameRenderer.
type FrameRendererBuilderOption func(f *frameRenderer)

// WithCamera sets the camera. Defaults to a slowly auto-orbiting camera sized to the
// renderer extent.
//
// Parameters:
//   - cam: the camera
//
// Returns:
//   - FrameRendererBuilderOption: option function to apply
func WithCamera(cam camera.Camera) FrameRendererBuilderOption {
	return func(f *frameRenderer) {
		f.cam = cam
	}
}

// WithScene sets the scene. Defaults to a new scene on the renderer.
func WithScene(s scene.Scene) FrameRendererBuilderOption {
	return func(f *frameRenderer) {
		f.scene = s
	}
}

// WithSettings sets the initial settings. NewFrameRenderer fails when they do not
// validate.
//
// Parameters:
//   - s: the settings
//
// Returns:
//   - FrameRendererBuilderOption: option function to apply
func WithSettings(s settings.Settings) FrameRendererBuilderOption {
	return func(f *frameRenderer) {
		f.settings = s.Clone()
	}
}

// WithFixedTimestep advances the camera and scene by dt seconds per frame instead of
// by wall-clock time. Panics if dt is negative.
func WithFixedTimestep(dt float32) FrameRendererBuilderOption {
	if dt < 0 {
		panic("vrs: WithFixedTimestep: dt must not be negative")
	}
	return func(f *frameRenderer) {
		f.fixedStep = dt
	}
}

// WithOverlay passes options to the overlay.
func WithOverlay(options ...overlay.OverlayBuilderOption) FrameRendererBuilderOption {
	return func(f *frameRenderer) {
		f.overlayOptions = append(f.overlayOptions, options...)
	}
}
