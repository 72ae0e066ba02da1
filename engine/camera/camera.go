package camera

import (
	"math"
	"sync"

	"github.com/Carmen-Shannon/oxy-vrs/common"
)

// Lens is the perspective projection of a camera.
type Lens struct {
	// FovY is the vertical field of view in radians.
	FovY float32
	// Near and Far are the clip plane distances.
	Near, Far float32
}

// DefaultLens is a 45 degree lens whose far plane contains the demo scene.
func DefaultLens() Lens {
	return Lens{FovY: 45 * math.Pi / 180, Near: 0.1, Far: 100}
}

// Snapshot is the camera state one frame is rendered with. Matrices are column-major.
type Snapshot struct {
	View                  [16]float32
	Projection            [16]float32
	ViewProjection        [16]float32
	InverseViewProjection [16]float32
	Position              [3]float32
	Viewport              common.Viewport
}

func identitySnapshot() Snapshot {
	var s Snapshot
	for _, m := range []*[16]float32{&s.View, &s.Projection, &s.ViewProjection, &s.InverseViewProjection} {
		common.Identity(m[:])
	}
	return s
}

type cameraImpl struct {
	mu sync.Mutex

	up     [3]float32
	lens   Lens
	aspect float32

	current  Snapshot
	previous Snapshot

	controller CameraController
}

// Camera turns the placement of its CameraController into the matrices of a frame.
// It keeps the snapshot of the frame before the last Update next to the current one:
// the capture pass renders with the previous snapshot and the analysis pass reprojects
// from it.
type Camera interface {
	// Lens returns the projection parameters.
	Lens() Lens

	// SetLens replaces the projection parameters and recomputes the current snapshot.
	SetLens(l Lens)

	// Aspect returns the aspect ratio (width / height).
	Aspect() float32

	// SetAspect sets the aspect ratio and recomputes the current snapshot.
	SetAspect(aspect float32)

	// SetViewport sets the frame rectangle and the aspect ratio derived from it. The
	// previous snapshot keeps its viewport so the next frame can still reproject.
	//
	// Parameters:
	//   - vp: the viewport in pixels
	SetViewport(vp common.Viewport)

	// Current returns the snapshot of the frame being rendered.
	Current() Snapshot

	// Previous returns the snapshot of the frame before the last Update. Until the
	// second Update it equals Current.
	Previous() Snapshot

	// Controller returns the attached controller, or nil.
	Controller() CameraController

	// SetController attaches a controller and recomputes the current snapshot.
	SetController(ctrl CameraController)

	// Update moves the current snapshot into the previous slot, then recomputes it from
	// the controller. Call it once per frame before the frame is recorded.
	Update()
}

var _ Camera = &cameraImpl{}

// NewCamera creates a camera with the default lens and a square aspect. Without a
// controller every snapshot holds identity matrices.
//
// Parameters:
//   - options: functional options to configure the camera
//
// Returns:
//   - Camera: the newly created camera
func NewCamera(options ...CameraBuilderOption) Camera {
	c := &cameraImpl{
		up:      [3]float32{0, 1, 0},
		lens:    DefaultLens(),
		aspect:  1,
		current: identitySnapshot(),
	}
	for _, option := range options {
		option(c)
	}
	c.recompute()
	c.previous = c.current
	return c
}

func (c *cameraImpl) Lens() Lens {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lens
}

func (c *cameraImpl) SetLens(l Lens) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lens = l
	c.recompute()
}

func (c *cameraImpl) Aspect() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aspect
}

func (c *cameraImpl) SetAspect(aspect float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aspect = aspect
	c.recompute()
}

func (c *cameraImpl) SetViewport(vp common.Viewport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setViewport(vp)
	c.recompute()
}

// setViewport stores vp and derives the aspect from it. Caller must hold the mutex.
func (c *cameraImpl) setViewport(vp common.Viewport) {
	c.current.Viewport = vp
	if vp.Size[1] > 0 {
		c.aspect = vp.Size[0] / vp.Size[1]
	}
}

func (c *cameraImpl) Current() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *cameraImpl) Previous() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.previous
}

func (c *cameraImpl) Controller() CameraController {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controller
}

func (c *cameraImpl) SetController(ctrl CameraController) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controller = ctrl
	c.recompute()
}

func (c *cameraImpl) Update() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.previous = c.current
	c.recompute()
}

// recompute rebuilds the matrices of the current snapshot from the controller. It is a
// no-op without a controller. Caller must hold the mutex.
func (c *cameraImpl) recompute() {
	if c.controller == nil {
		return
	}
	eye, target := c.controller.Position(), c.controller.Target()

	s := &c.current
	common.LookAt(s.View[:], eye[0], eye[1], eye[2], target[0], target[1], target[2], c.up[0], c.up[1], c.up[2])
	common.Perspective(s.Projection[:], c.lens.FovY, c.aspect, c.lens.Near, c.lens.Far)
	common.Mul4(s.ViewProjection[:], s.Projection[:], s.View[:])
	common.Invert4(s.InverseViewProjection[:], s.ViewProjection[:])
	s.Position = eye
}
