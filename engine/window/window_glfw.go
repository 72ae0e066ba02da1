package window

import (
	"runtime"

	"github.com/Carmen-Shannon/oxy-vrs/common"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"
)

// open initialises GLFW, creates the native window and installs the input callbacks.
// GLFW must be driven from a single OS thread, so the caller's goroutine is locked to it.
func (w *engineWindow) open() error {
	runtime.LockOSThread()
	if err := glfw.Init(); err != nil {
		return err
	}

	// No client API: the swapchain comes from wgpu.
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	native, err := glfw.CreateWindow(w.size[0], w.size[1], w.title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return err
	}
	native.SetSizeLimits(w.min[0], w.min[1], w.max[0], w.max[1])
	w.native = native

	native.SetKeyCallback(w.onKey)
	native.SetScrollCallback(func(_ *glfw.Window, _, dy float64) {
		if w.on.scroll != nil {
			w.on.scroll(float32(dy))
		}
	})
	native.SetMouseButtonCallback(w.onMouseButton)
	native.SetCursorPosCallback(w.onCursor)
	native.SetFramebufferSizeCallback(func(_ *glfw.Window, width, height int) {
		w.framebuffer = [2]int{width, height}
		if w.on.resize != nil {
			w.on.resize(width, height)
		}
	})

	w.framebuffer[0], w.framebuffer[1] = native.GetFramebufferSize()
	common.Logger().Debug("window opened", "title", w.title, "framebuffer", w.framebuffer)
	return nil
}

func (w *engineWindow) onKey(native *glfw.Window, key glfw.Key, _ int, action glfw.Action, _ glfw.ModifierKey) {
	switch {
	case key == glfw.KeyEscape && action == glfw.Press:
		native.SetShouldClose(true)
	case action == glfw.Press && w.on.keyDown != nil:
		w.on.keyDown(uint32(key))
	case action == glfw.Release && w.on.keyUp != nil:
		w.on.keyUp(uint32(key))
	}
}

func (w *engineWindow) onMouseButton(native *glfw.Window, button glfw.MouseButton, action glfw.Action, _ glfw.ModifierKey) {
	if button != glfw.MouseButtonLeft && button != glfw.MouseButtonMiddle {
		return
	}
	w.cursor.held = action == glfw.Press
	w.cursor.lastX, w.cursor.lastY = native.GetCursorPos()
}

func (w *engineWindow) onCursor(_ *glfw.Window, x, y float64) {
	if !w.cursor.held {
		return
	}
	dx, dy := x-w.cursor.lastX, y-w.cursor.lastY
	w.cursor.lastX, w.cursor.lastY = x, y
	if w.on.drag != nil {
		w.on.drag(float32(dx), float32(dy))
	}
}

func (w *engineWindow) SurfaceDescriptor() *wgpu.SurfaceDescriptor {
	if w.closed {
		return nil
	}
	return wgpuglfw.GetSurfaceDescriptor(w.native)
}

func (w *engineWindow) IsRunning() bool {
	return !w.closed && !w.native.ShouldClose()
}

func (w *engineWindow) Close() error {
	if w.closed {
		return ErrClosed
	}
	w.closed = true
	w.native.Destroy()
	w.native = nil
	glfw.Terminate()
	common.Logger().Debug("window closed", "title", w.title)
	return nil
}

func (w *engineWindow) ProcessMessages() {
	for w.IsRunning() {
		glfw.PollEvents()
		if w.on.update != nil {
			w.on.update()
		}
		runtime.Gosched()
	}
}
