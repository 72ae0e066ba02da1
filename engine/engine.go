package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/oxy-vrs/common"
	"github.com/Carmen-Shannon/oxy-vrs/engine/profiler"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer"
	"github.com/Carmen-Shannon/oxy-vrs/engine/vrs"
	"github.com/Carmen-Shannon/oxy-vrs/engine/window"
	"golang.org/x/sync/errgroup"
)

// engine implements the Engine interface. The tick and render loops run in loops;
// the window message loop runs on the goroutine that called Run.
type engine struct {
	loops   errgroup.Group
	running atomic.Bool

	quit     chan struct{}
	quitOnce sync.Once

	tickRate       time.Duration
	tickRateUpdate chan time.Duration
	frameLimit     time.Duration // minimum render frame duration; 0 is uncapped

	window        window.Window
	frameRenderer vrs.FrameRenderer
	dumpDir       string

	profiler         *profiler.Profiler
	profilingEnabled bool

	tickCallback   func(deltaTime float32)
	renderCallback func(deltaTime float32)
	keyCallback    func(keyCode uint32)
}

// Engine is the main entry point for the engine.
// It orchestrates the engine loop, render loop, and window management.
type Engine interface {
	// Window returns the underlying window.
	//
	// Returns:
	//   - window.Window: the window instance
	Window() window.Window

	// FrameRenderer returns the frame renderer driven by the render loop.
	//
	// Returns:
	//   - vrs.FrameRenderer: the frame renderer, or nil if none is set
	FrameRenderer() vrs.FrameRenderer

	// SetFrameRenderer sets the frame renderer driven by the render loop. The engine
	// forwards window resizes to it. Must be called before Run.
	//
	// Parameters:
	//   - fr: the frame renderer
	SetFrameRenderer(fr vrs.FrameRenderer)

	// EnableProfiler enables performance profiling output to the log.
	EnableProfiler()

	// DisableProfiler disables performance profiling output.
	DisableProfiler()

	// SetTickRate sets the engine tick rate in frames per second.
	// The tick callback will be called at this rate for game logic updates.
	//
	// Parameters:
	//   - fps: target frames per second (defaults to 60 if <= 0)
	SetTickRate(fps float64)

	// SetTickCallback registers the function called each engine tick.
	// Use this for camera input and animation updates.
	//
	// Parameters:
	//   - callback: function to call at the configured tick rate, receiving the delta time in seconds
	SetTickCallback(callback func(deltaTime float32))

	// SetRenderCallback registers the function called after each rendered frame.
	//
	// Parameters:
	//   - callback: function to call each render frame, receiving the delta time in seconds
	SetRenderCallback(callback func(deltaTime float32))

	// SetKeyCallback registers a function receiving every key press after the engine's
	// own bindings (V, C, R and P) were handled.
	//
	// Parameters:
	//   - callback: function receiving the virtual key code
	SetKeyCallback(callback func(keyCode uint32))

	// SetRenderFrameLimit sets an optional render frame rate cap in frames per second.
	// Pass 0 to uncap the render loop (default).
	//
	// Parameters:
	//   - fps: maximum render frames per second (0 = uncapped)
	SetRenderFrameLimit(fps float64)

	// HandleKey applies the engine key bindings: V toggles adaptive shading, C toggles
	// the rate colourisation, R toggles rate binding and P dumps the rate surface.
	//
	// Parameters:
	//   - keyCode: the virtual key code
	HandleKey(keyCode uint32)

	// Run starts the tick and render loops and blocks until the window closes, Quit is
	// called or the device is lost. Without a window it blocks until Quit.
	Run()

	// Quit stops the engine. Safe to call more than once and from any goroutine.
	Quit()
}

// NewEngine creates an engine ticking at 60 Hz with an uncapped render loop. The
// window's resize and key events are routed to the frame renderer.
//
// Parameters:
//   - options: functional options for engine configuration (profiling, tick rate, etc.)
//
// Returns:
//   - Engine: the newly created engine
func NewEngine(options ...EngineBuilderOption) Engine {
	e := &engine{
		quit:           make(chan struct{}),
		tickRate:       time.Second / 60,
		tickRateUpdate: make(chan time.Duration, 1),
		profiler:       profiler.NewProfiler(),
		dumpDir:        ".",
	}
	for _, opt := range options {
		opt(e)
	}

	if e.window != nil {
		e.window.SetResizeCallback(func(width, height int) {
			if e.frameRenderer != nil {
				e.frameRenderer.OnResize(width, height)
			}
		})
		e.window.SetKeyDownCallback(e.HandleKey)
	}
	return e
}

func (e *engine) Window() window.Window {
	return e.window
}

func (e *engine) FrameRenderer() vrs.FrameRenderer {
	return e.frameRenderer
}

func (e *engine) SetFrameRenderer(fr vrs.FrameRenderer) {
	e.frameRenderer = fr
}

func (e *engine) Run() {
	e.running.Store(true)
	e.loops.Go(e.tickLoop)
	e.loops.Go(e.renderLoop)

	if e.window == nil {
		<-e.quit
		e.shutdown()
		return
	}

	// GLFW windows may only be destroyed from the thread running the message loop, and
	// only once the render loop no longer presents to them.
	closed := false
	closeWindow := func() {
		if closed {
			return
		}
		closed = true
		e.shutdown()
		_ = e.window.Close()
	}
	e.window.SetUpdateCallback(func() {
		select {
		case <-e.quit:
			closeWindow()
		default:
		}
	})
	e.window.ProcessMessages()
	closeWindow()
}

// shutdown stops both loops, waits for them and releases the frame renderer.
func (e *engine) shutdown() {
	e.Quit()
	if err := e.loops.Wait(); err != nil {
		common.Logger().Error("engine stopped", "error", err)
	}
	if e.frameRenderer != nil {
		e.frameRenderer.Release()
	}
}

func (e *engine) Quit() {
	e.quitOnce.Do(func() {
		e.running.Store(false)
		close(e.quit)
	})
}

// tickLoop fires the tick callback at the tick rate until quit. Rate changes arrive on
// tickRateUpdate.
func (e *engine) tickLoop() error {
	ticker := time.NewTicker(e.tickRate)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-e.quit:
			return nil
		case rate := <-e.tickRateUpdate:
			ticker.Reset(rate)
		case now := <-ticker.C:
			dt := float32(now.Sub(last).Seconds())
			last = now
			if e.tickCallback != nil {
				e.tickCallback(dt)
			}
		}
	}
}

// renderLoop renders frames back to back, or no faster than the frame limit, until quit.
// A lost device stops the engine; a panic is logged and stops it too.
func (e *engine) renderLoop() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine: render loop panic: %v", r)
		}
		if err != nil {
			e.Quit()
		}
	}()

	last := time.Now()
	for {
		select {
		case <-e.quit:
			return nil
		default:
		}

		start := time.Now()
		dt := float32(start.Sub(last).Seconds())
		last = start

		if err := e.renderFrame(); err != nil {
			return err
		}
		if e.renderCallback != nil {
			e.renderCallback(dt)
		}
		if e.profilingEnabled && e.profiler != nil && e.frameRenderer != nil {
			e.profiler.Tick(e.frameRenderer.Stats().Device)
		}
		if wait := e.frameLimit - time.Since(start); e.frameLimit > 0 && wait > 0 {
			time.Sleep(wait)
		}
	}
}

// renderFrame renders one frame. Only a lost device is returned; other failures are
// logged by the frame renderer and recovered on the next frame.
func (e *engine) renderFrame() error {
	if e.frameRenderer == nil {
		return nil
	}
	if err := e.frameRenderer.Render(); errors.Is(err, renderer.ErrDeviceLost) {
		return err
	}
	return nil
}

// toggle is a key bound to one of the frame renderer switches.
type toggle struct {
	name string
	get  func(vrs.FrameRenderer) bool
	set  func(vrs.FrameRenderer, bool)
}

var toggles = map[uint32]toggle{
	common.KeyV: {"adaptive shading", vrs.FrameRenderer.AdaptiveShading, vrs.FrameRenderer.SetAdaptiveShading},
	common.KeyC: {"rate colourisation", vrs.FrameRenderer.ColorizeShadingRate, vrs.FrameRenderer.SetColorizeShadingRate},
	common.KeyR: {"rate binding", vrs.FrameRenderer.ShadingRateEnabled, vrs.FrameRenderer.SetShadingRateEnabled},
}

func (e *engine) HandleKey(keyCode uint32) {
	if fr := e.frameRenderer; fr != nil {
		if t, ok := toggles[keyCode]; ok {
			t.set(fr, !t.get(fr))
			common.Logger().Info("toggled", "switch", t.name, "enabled", t.get(fr))
		} else if keyCode == common.KeyP {
			// The dump waits for the device; keep it off the window thread.
			go func() {
				path, err := e.dumpRateSurface(context.Background())
				if err != nil {
					common.Logger().Warn("rate surface dump failed", "error", err)
					return
				}
				common.Logger().Info("rate surface dumped", "path", path)
			}()
		}
	}
	if e.keyCallback != nil {
		e.keyCallback(keyCode)
	}
}

// dumpRateSurface writes the bound rate surface to a PNG in the dump directory.
func (e *engine) dumpRateSurface(ctx context.Context) (string, error) {
	path := filepath.Join(e.dumpDir, fmt.Sprintf("rate-%d.png", e.frameRenderer.Stats().Frames))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("engine: dump: %w", err)
	}
	if err := e.frameRenderer.DumpRateSurface(ctx, f); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("engine: dump: %w", err)
	}
	return path, nil
}

func (e *engine) EnableProfiler() {
	e.profilingEnabled = true
}

func (e *engine) DisableProfiler() {
	e.profilingEnabled = false
}

// tickInterval converts a rate in Hz to a ticker interval, defaulting to 60 Hz.
func tickInterval(fps float64) time.Duration {
	if fps <= 0 {
		fps = 60
	}
	return time.Duration(float64(time.Second) / fps)
}

// frameInterval converts a frame cap in Hz to a minimum frame duration; 0 is uncapped.
func frameInterval(fps float64) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / fps)
}

// SetTickRate takes effect on the next tick when the engine is running.
func (e *engine) SetTickRate(fps float64) {
	rate := tickInterval(fps)
	if !e.running.Load() {
		e.tickRate = rate
		return
	}
	// Keep only the latest pending rate.
	select {
	case <-e.tickRateUpdate:
	default:
	}
	select {
	case e.tickRateUpdate <- rate:
	default:
	}
}

func (e *engine) SetTickCallback(callback func(deltaTime float32)) {
	e.tickCallback = callback
}

func (e *engine) SetRenderCallback(callback func(deltaTime float32)) {
	e.renderCallback = callback
}

func (e *engine) SetKeyCallback(callback func(keyCode uint32)) {
	e.keyCallback = callback
}

func (e *engine) SetRenderFrameLimit(fps float64) {
	e.frameLimit = frameInterval(fps)
}
