package camera

// CameraControllerOption is a functional option for configuring a CameraController.
type CameraControllerOption func(*orbitController)

// WithOrbit sets the initial placement. It is clamped to the limits once every option
// has been applied.
//
// Parameters:
//   - o: radius, azimuth and elevation around the target
//
// Returns:
//   - CameraControllerOption: option function to apply
func WithOrbit(o Orbit) CameraControllerOption {
	return func(cc *orbitController) {
		cc.orbit = o
	}
}

// WithTarget sets the look-at point.
func WithTarget(target [3]float32) CameraControllerOption {
	return func(cc *orbitController) {
		cc.target = target
	}
}

// WithLimits replaces the radius and elevation bounds. Panics if a minimum exceeds its
// maximum.
//
// Parameters:
//   - l: the bounds
//
// Returns:
//   - CameraControllerOption: option function to apply
func WithLimits(l OrbitLimits) CameraControllerOption {
	if l.MinRadius > l.MaxRadius || l.MinElevation > l.MaxElevation {
		panic("camera: WithLimits: minimum exceeds maximum")
	}
	return func(cc *orbitController) {
		cc.limits = l
	}
}

// WithSpeeds sets the input sensitivities: radians per Step, radius per scroll unit and
// radians per dragged pixel.
func WithSpeeds(step, zoom, drag float32) CameraControllerOption {
	return func(cc *orbitController) {
		cc.stepSize, cc.zoomSpeed, cc.dragSpeed = step, zoom, drag
	}
}

// WithAutoOrbit sets the automatic orbit speed applied by Advance, in radians per second.
func WithAutoOrbit(speed float32) CameraControllerOption {
	return func(cc *orbitController) {
		cc.autoOrbit = speed
	}
}
