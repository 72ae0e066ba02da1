package camera

import "math"

// Orbit places the camera on a sphere around its target.
type Orbit struct {
	// Radius is the distance to the target.
	Radius float32
	// Azimuth is the angle around the Y axis in radians; 0 puts the camera on +Z.
	Azimuth float32
	// Elevation is the angle above the horizontal plane in radians.
	Elevation float32
}

// Offset returns the camera position relative to the target.
func (o Orbit) Offset() [3]float32 {
	sinE, cosE := math.Sincos(float64(o.Elevation))
	sinA, cosA := math.Sincos(float64(o.Azimuth))
	return [3]float32{
		o.Radius * float32(cosE*sinA),
		o.Radius * float32(sinE),
		o.Radius * float32(cosE*cosA),
	}
}

// OrbitLimits bounds the radius and elevation of an Orbit. The elevation bounds keep the
// camera from passing over the pole, where the look-at up vector degenerates.
type OrbitLimits struct {
	MinRadius, MaxRadius       float32
	MinElevation, MaxElevation float32
}

// DefaultOrbitLimits frames the demo scene from just above the ground to just short of
// straight down.
func DefaultOrbitLimits() OrbitLimits {
	return OrbitLimits{
		MinRadius:    2,
		MaxRadius:    30,
		MinElevation: 0.05,
		MaxElevation: math.Pi/2 - 0.1,
	}
}

// Clamp returns o with its radius and elevation inside the limits.
func (l OrbitLimits) Clamp(o Orbit) Orbit {
	o.Radius = min(max(o.Radius, l.MinRadius), l.MaxRadius)
	o.Elevation = min(max(o.Elevation, l.MinElevation), l.MaxElevation)
	return o
}

// OrbitStep is one discrete keyboard orbit move.
type OrbitStep int

const (
	StepLeft OrbitStep = iota
	StepRight
	StepUp
	StepDown
)

// CameraController is an orbit controller: the camera sits on a sphere around a target
// point and always looks at it. Controllers own positional state; Camera reads from the
// controller and computes the matrices.
type CameraController interface {
	// Position returns the camera's world-space position.
	Position() [3]float32

	// Target returns the look-at point.
	Target() [3]float32

	// SetTarget moves the pivot; the orbit is kept, so the camera moves with it.
	//
	// Parameters:
	//   - target: world-space look-at point
	SetTarget(target [3]float32)

	// Orbit returns the current placement around the target.
	Orbit() Orbit

	// SetOrbit replaces the placement, clamped to the controller's limits.
	//
	// Parameters:
	//   - o: the new orbit
	SetOrbit(o Orbit)

	// Step applies one keyboard orbit move of the configured step size.
	Step(s OrbitStep)

	// Zoom moves the camera towards the target for positive delta.
	//
	// Parameters:
	//   - delta: scroll amount, scaled by the zoom speed
	Zoom(delta float32)

	// Drag orbits the camera by a pointer movement. Horizontal movement turns the
	// azimuth, vertical movement tilts the elevation within its bounds.
	//
	// Parameters:
	//   - dx, dy: pointer movement in pixels
	Drag(dx, dy float32)

	// Advance moves the camera along its automatic orbit.
	//
	// Parameters:
	//   - dt: elapsed time in seconds
	Advance(dt float32)

	// AutoOrbit returns the automatic orbit speed in radians per second.
	AutoOrbit() float32

	// SetAutoOrbit sets the automatic orbit speed. Zero stops the camera, negative
	// speeds orbit the other way.
	SetAutoOrbit(speed float32)
}
