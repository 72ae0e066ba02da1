package engine

import (
	"github.com/Carmen-Shannon/oxy-vrs/engine/profiler"
	"github.com/Carmen-Shannon/oxy-vrs/engine/vrs"
	"github.com/Carmen-Shannon/oxy-vrs/engine/window"
)

// EngineBuilderOption configures an Engine before its loops start.
type EngineBuilderOption func(*engine)

// WithProfiling turns on the periodic frame-time and memory report.
func WithProfiling(enabled bool) EngineBuilderOption {
	return func(e *engine) {
		e.profilingEnabled = enabled
	}
}

// WithProfiler replaces the default profiler, for example to change its interval.
func WithProfiler(p *profiler.Profiler) EngineBuilderOption {
	return func(e *engine) {
		e.profiler = p
	}
}

// WithTickRate sets how often the tick callback runs. Rates <= 0 select 60 Hz.
//
// Parameters:
//   - fps: ticks per second
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithTickRate(fps float64) EngineBuilderOption {
	return func(e *engine) {
		e.tickRate = tickInterval(fps)
	}
}

// WithWindow makes Run drive w's message loop. Framebuffer resizes reach the frame
// renderer and key presses go through HandleKey. Without a window Run is headless.
func WithWindow(w window.Window) EngineBuilderOption {
	return func(e *engine) {
		e.window = w
	}
}

// WithFrameRenderer sets the frame renderer driven by the render loop.
//
// Parameters:
//   - fr: the frame renderer
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithFrameRenderer(fr vrs.FrameRenderer) EngineBuilderOption {
	return func(e *engine) {
		e.frameRenderer = fr
	}
}

// WithDumpDir sets the directory rate surface dumps are written to. Defaults to the
// working directory.
func WithDumpDir(dir string) EngineBuilderOption {
	return func(e *engine) {
		e.dumpDir = dir
	}
}

// WithRenderFrameLimit caps the render loop. A rate <= 0, the default, leaves it
// uncapped; the present mode may still throttle it.
//
// Parameters:
//   - fps: upper bound on rendered frames per second
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithRenderFrameLimit(fps float64) EngineBuilderOption {
	return func(e *engine) {
		e.frameLimit = frameInterval(fps)
	}
}
