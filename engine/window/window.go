package window

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/glfw/v3.3/glfw"
)

// ErrClosed is returned by Close when the window has already been destroyed.
var ErrClosed = errors.New("window: closed")

// Window is the platform window the wgpu renderer presents into. It reports framebuffer
// resizes, key presses, scrolling and mouse drags.
// Callbacks run on the goroutine that called ProcessMessages.
type Window interface {
	// SetUpdateCallback sets the function called once per message loop iteration, after
	// pending events have been dispatched.
	SetUpdateCallback(callback func())

	// SetResizeCallback sets the function called when the framebuffer is resized. A
	// minimised window reports a zero size.
	//
	// Parameters:
	//   - callback: receives the framebuffer size in pixels
	SetResizeCallback(callback func(width, height int))

	// SetScrollCallback sets the function called for vertical wheel movement. Positive
	// deltas scroll away from the user.
	SetScrollCallback(callback func(delta float32))

	// SetKeyDownCallback sets the function called when a key is pressed. Held keys do
	// not repeat. Escape closes the window and is never reported.
	//
	// Parameters:
	//   - callback: receives the key code (common.Key*)
	SetKeyDownCallback(callback func(keyCode uint32))

	// SetKeyUpCallback sets the function called when a key is released.
	SetKeyUpCallback(callback func(keyCode uint32))

	// SetDragCallback sets the function called for cursor movement while the left or
	// middle mouse button is held.
	//
	// Parameters:
	//   - callback: receives the cursor movement in pixels since the previous call
	SetDragCallback(callback func(dx, dy float32))

	// SurfaceDescriptor returns the platform surface the wgpu renderer creates its
	// swapchain on, or nil once the window is closed.
	SurfaceDescriptor() *wgpu.SurfaceDescriptor

	// IsRunning reports whether the window is open and has not been asked to close.
	IsRunning() bool

	// Close destroys the window and releases GLFW. It must be called from the goroutine
	// that created the window.
	//
	// Returns:
	//   - error: ErrClosed if the window was already destroyed
	Close() error

	// ProcessMessages polls events until the window is closed, calling the update
	// callback after each poll.
	ProcessMessages()

	// Width returns the framebuffer width in pixels.
	Width() int

	// Height returns the framebuffer height in pixels.
	Height() int
}

// handlers are the user callbacks. A nil entry ignores the event.
type handlers struct {
	update  func()
	resize  func(width, height int)
	scroll  func(delta float32)
	keyDown func(keyCode uint32)
	keyUp   func(keyCode uint32)
	drag    func(dx, dy float32)
}

// pointer tracks a mouse drag in progress.
type pointer struct {
	held         bool
	lastX, lastY float64
}

type engineWindow struct {
	title string
	size  [2]int
	min   [2]int
	max   [2]int

	// framebuffer is the surface size in pixels. It differs from size on high-DPI
	// displays.
	framebuffer [2]int

	on     handlers
	cursor pointer

	native *glfw.Window
	closed bool
}

var _ Window = &engineWindow{}

var _ renderer.SurfaceSource = &engineWindow{}

// NewWindow creates and shows a GLFW window with no client API. The calling goroutine is
// locked to its OS thread; ProcessMessages and Close must run on it.
//
// Parameters:
//   - options: functional options to configure the window
//
// Returns:
//   - Window: the created window
//   - error: error if GLFW could not be initialised or the window could not be created
func NewWindow(options ...WindowBuilderOption) (Window, error) {
	w := &engineWindow{
		title: "oxy-vrs",
		size:  [2]int{1280, 720},
		min:   [2]int{320, 180},
		max:   [2]int{3840, 2160},
	}
	for _, opt := range options {
		opt(w)
	}
	if err := w.open(); err != nil {
		return nil, fmt.Errorf("window: %w", err)
	}
	return w, nil
}

func (w *engineWindow) SetUpdateCallback(callback func())                  { w.on.update = callback }
func (w *engineWindow) SetResizeCallback(callback func(width, height int)) { w.on.resize = callback }
func (w *engineWindow) SetScrollCallback(callback func(delta float32))     { w.on.scroll = callback }
func (w *engineWindow) SetKeyDownCallback(callback func(keyCode uint32))   { w.on.keyDown = callback }
func (w *engineWindow) SetKeyUpCallback(callback func(keyCode uint32))     { w.on.keyUp = callback }
func (w *engineWindow) SetDragCallback(callback func(dx, dy float32))      { w.on.drag = callback }
func (w *engineWindow) Width() int                                         { return w.framebuffer[0] }
func (w *engineWindow) Height() int                                        { return w.framebuffer[1] }
