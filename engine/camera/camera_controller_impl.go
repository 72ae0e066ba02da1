package camera

import (
	"math"
	"sync"
)

// orbitController is the implementation of CameraController.
type orbitController struct {
	mu sync.Mutex

	target [3]float32
	orbit  Orbit
	limits OrbitLimits

	stepSize  float32 // radians per Step
	zoomSpeed float32
	dragSpeed float32 // radians per pixel
	autoOrbit float32 // radians per second
}

var _ CameraController = &orbitController{}

// NewCameraController creates an orbit controller framing the demo scene: the target
// sits just above the ground and the camera starts 7 units away, looking slightly down.
//
// Parameters:
//   - options: functional options to configure the controller
//
// Returns:
//   - CameraController: the newly created controller
func NewCameraController(options ...CameraControllerOption) CameraController {
	cc := &orbitController{
		target:    [3]float32{0, 0.75, 0},
		orbit:     Orbit{Radius: 7, Elevation: 0.35},
		limits:    DefaultOrbitLimits(),
		stepSize:  0.03,
		zoomSpeed: 0.5,
		dragSpeed: 0.005,
	}
	for _, option := range options {
		option(cc)
	}
	cc.orbit = cc.limits.Clamp(cc.orbit)
	return cc
}

func (cc *orbitController) Position() [3]float32 {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	off := cc.orbit.Offset()
	return [3]float32{cc.target[0] + off[0], cc.target[1] + off[1], cc.target[2] + off[2]}
}

func (cc *orbitController) Target() [3]float32 {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.target
}

func (cc *orbitController) SetTarget(target [3]float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.target = target
}

func (cc *orbitController) Orbit() Orbit {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.orbit
}

func (cc *orbitController) SetOrbit(o Orbit) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.orbit = cc.limits.Clamp(o)
}

// move applies an azimuth and elevation delta. Caller must hold the mutex.
func (cc *orbitController) move(dAzimuth, dElevation float32) {
	o := cc.orbit
	o.Azimuth += dAzimuth
	o.Elevation += dElevation
	cc.orbit = cc.limits.Clamp(o)
}

func (cc *orbitController) Step(s OrbitStep) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	switch s {
	case StepLeft:
		cc.move(-cc.stepSize, 0)
	case StepRight:
		cc.move(cc.stepSize, 0)
	case StepUp:
		cc.move(0, cc.stepSize)
	case StepDown:
		cc.move(0, -cc.stepSize)
	}
}

func (cc *orbitController) Zoom(delta float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	o := cc.orbit
	o.Radius -= delta * cc.zoomSpeed
	cc.orbit = cc.limits.Clamp(o)
}

func (cc *orbitController) Drag(dx, dy float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.move(-dx*cc.dragSpeed, dy*cc.dragSpeed)
}

func (cc *orbitController) Advance(dt float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.autoOrbit == 0 || dt <= 0 {
		return
	}
	// Wrapping keeps the angle precise over long runs.
	cc.orbit.Azimuth = float32(math.Mod(float64(cc.orbit.Azimuth+cc.autoOrbit*dt), 2*math.Pi))
}

func (cc *orbitController) AutoOrbit() float32 {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.autoOrbit
}

func (cc *orbitController) SetAutoOrbit(speed float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.autoOrbit = speed
}
