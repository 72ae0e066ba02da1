package vrs

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Carmen-Shannon/oxy-vrs/common"
	"github.com/Carmen-Shannon/oxy-vrs/engine/analysis"
	"github.com/Carmen-Shannon/oxy-vrs/engine/overlay"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer"
	"github.com/Carmen-Shannon/oxy-vrs/engine/scene"
	"github.com/Carmen-Shannon/oxy-vrs/engine/settings"
	"github.com/Carmen-Shannon/oxy-vrs/engine/shading_rate"
	"golang.org/x/sync/errgroup"
)

// toggles is the per-frame snapshot of the switches.
type toggles struct {
	adaptive bool
	colorize bool
	bind     bool
}

func (f *frameRenderer) Render() error {
	if !f.gate.TryAcquire(1) {
		return ErrBusy
	}
	defer f.gate.Release(1)

	f.mu.Lock()
	released := f.released
	f.mu.Unlock()
	if released {
		return fmt.Errorf("vrs: render: %w", renderer.ErrReleased)
	}

	if err := f.applyPending(); err != nil {
		f.fail(err)
		return err
	}
	if err := f.seq.Seed(); err != nil {
		f.fail(err)
		return fmt.Errorf("vrs: %w", err)
	}

	f.mu.Lock()
	t := toggles{
		adaptive: f.settings.AdaptiveShading,
		colorize: f.settings.ColorizeShadingRate,
		bind:     f.settings.EnableShadingRate,
	}
	f.mu.Unlock()

	if err := f.renderFrame(t); err != nil {
		f.fail(err)
		return fmt.Errorf("vrs: frame %d: %w", f.seq.Frame(), err)
	}
	return nil
}

// fail marks the pipeline for a full rebuild before the next frame.
func (f *frameRenderer) fail(err error) {
	common.Logger().Error("frame failed", "frame", f.seq.Frame(), "state", f.seq.State().String(), "error", err)
	f.mu.Lock()
	f.broken = true
	f.mu.Unlock()
}

// step returns the time elapsed since the previous frame.
func (f *frameRenderer) step() float32 {
	if f.fixedStep > 0 {
		return f.fixedStep
	}
	now := time.Now()
	if f.last.IsZero() {
		f.last = now
		return 0
	}
	dt := float32(now.Sub(f.last).Seconds())
	f.last = now
	return dt
}

// renderFrame runs capture, analysis, synthesis, the main pass and present in sequencer
// order.
func (f *frameRenderer) renderFrame(t toggles) error {
	dt := f.step()
	if ctrl := f.cam.Controller(); ctrl != nil {
		ctrl.Advance(dt)
	}
	f.cam.Update()
	f.scene.Advance(dt)

	frame := f.frame
	current := f.scene.CurrentView(f.cam)
	previous := f.scene.PreviousView(f.cam)

	cb := f.r.NewCommandBuffer(renderer.QueueGraphics, "capture")
	f.capture.Record(cb, func(cb renderer.CommandBuffer) {
		f.scene.Draw(cb, f.scene.Uniforms(previous, frame, false))
	})
	if err := f.seq.SubmitCapture(cb); err != nil {
		return err
	}

	src := analysis.Source{Color: f.capture.Color(), Depth: f.capture.Depth()}
	if !common.ReprojectionMatrix(src.Reprojection[:], current.ViewProjection[:], previous.ViewProjection[:]) {
		// A singular previous matrix only happens before the camera has moved once.
		common.Identity(src.Reprojection[:])
	}
	cb = f.r.NewCommandBuffer(renderer.QueueCompute, "analysis")
	f.analysis.Record(cb, src)
	if err := f.seq.SubmitAnalysis(cb); err != nil {
		return err
	}

	cb = f.r.NewCommandBuffer(renderer.QueueCompute, "synthesis")
	f.synthesis.Record(cb, f.analysis.Image(), f.fov.Image())
	if err := f.seq.SubmitRateSurface(cb); err != nil {
		return err
	}

	swap, err := f.seq.AcquireImage()
	if err != nil {
		return err
	}
	cb = f.r.NewCommandBuffer(renderer.QueueGraphics, "main")
	f.recordMain(cb, swap, current, t)
	if err := f.seq.SubmitMainPass(cb); err != nil {
		return err
	}
	return f.seq.Present()
}

// recordMain records the main pass: the rate surface comes back from the compute queue,
// the scene and overlay are drawn into the swapchain image and the surface is handed
// back to compute for the next frame.
func (f *frameRenderer) recordMain(cb renderer.CommandBuffer, swap renderer.Image, view scene.View, t toggles) {
	renderer.AcquireBarrier(cb, f.synthesis.GraphicsAcquire())
	cb.TransitionLayout(swap, renderer.LayoutUndefined, renderer.LayoutColorAttachment, renderer.AspectColor)
	cb.BeginRenderPass(f.mainPass, swap, f.mainDepth)
	cb.BindShadingRateImage(f.boundRateImage(t))
	f.scene.Draw(cb, f.scene.Uniforms(view, f.frame, t.colorize))
	f.overlay.Draw(cb, f.frame,
		overlay.Source{Image: f.capture.Color(), Sampler: f.capture.Sampler()},
		overlay.Status{Adaptive: t.adaptive, Colorize: t.colorize, RateBinding: t.bind},
	)
	cb.EndRenderPass()
	renderer.ReleaseBarrier(cb, f.synthesis.GraphicsRelease())
}

// boundRateImage picks the surface the main pass is shaded with; nil shades every pixel.
func (f *frameRenderer) boundRateImage(t toggles) renderer.Image {
	switch {
	case !t.bind:
		return nil
	case t.adaptive:
		return f.synthesis.Image()
	default:
		return f.fov.Image()
	}
}

// applyPending performs the deferred work recorded since the last frame: new settings,
// a resize, or the rebuild after a failed frame. The device is idled first so no
// submitted work references the images being replaced.
func (f *frameRenderer) applyPending() error {
	f.mu.Lock()
	resize, next, broken := f.pendingResize, f.pendingSettings, f.broken
	f.pendingResize, f.pendingSettings, f.broken = nil, nil, false
	f.mu.Unlock()
	if resize == nil && next == nil && !broken {
		return nil
	}

	if err := f.r.WaitIdle(); err != nil {
		return fmt.Errorf("vrs: %w", err)
	}
	if broken {
		if err := f.seq.Reset(); err != nil {
			return fmt.Errorf("vrs: %w", err)
		}
	}
	if next != nil {
		if err := f.applySettings(*next); err != nil {
			return err
		}
	}

	// The device extent is authoritative: after a failed rebuild the swapchain may
	// already have the new size while f.frame still has the old one.
	frame := f.r.Extent()
	if resize != nil && *resize != frame {
		if err := f.r.Resize(int(resize.Width), int(resize.Height)); err != nil {
			return fmt.Errorf("vrs: %w", err)
		}
		frame = f.r.Extent()
	}
	if frame == f.frame && !broken {
		return nil
	}
	if frame != f.frame {
		f.cam.SetAspect(frame.Aspect())
		f.cam.SetViewport(common.ViewportFromExtent(frame))
	}
	return f.rebuild(frame)
}

// applySettings pushes s into the components. The toggles are taken over as well.
func (f *frameRenderer) applySettings(s settings.Settings) error {
	if err := f.fov.SetTable(s.Foveation); err != nil {
		return fmt.Errorf("vrs: %w", err)
	}
	if err := f.analysis.SetSensitivities(s.Sensitivities); err != nil {
		return fmt.Errorf("vrs: %w", err)
	}
	if err := f.synthesis.SetThresholds(s.Thresholds); err != nil {
		return fmt.Errorf("vrs: %w", err)
	}
	f.mu.Lock()
	f.settings = s
	f.mu.Unlock()
	common.Logger().Info("settings applied", "adaptive", s.AdaptiveShading, "colorize", s.ColorizeShadingRate, "rate_binding", s.EnableShadingRate)
	return nil
}

// rebuild reallocates every resolution-dependent resource for frame. The components
// own disjoint images, so they are rebuilt concurrently.
func (f *frameRenderer) rebuild(frame common.Extent2D) error {
	var g errgroup.Group
	g.Go(func() error { return f.fov.Rebuild(frame) })
	g.Go(func() error { return f.capture.Rebuild(frame) })
	g.Go(func() error { return f.analysis.Rebuild(frame) })
	g.Go(func() error { return f.synthesis.Rebuild(frame) })
	g.Go(func() error { return f.rebuildDepth(frame) })
	if err := g.Wait(); err != nil {
		return fmt.Errorf("vrs: rebuild %s: %w", frame, err)
	}

	f.mu.Lock()
	f.frame = frame
	f.mu.Unlock()
	common.Logger().Info("frame resources rebuilt", "extent", frame.String(), "rate_extent", f.synthesis.Extent().String())
	return nil
}

func (f *frameRenderer) rebuildDepth(frame common.Extent2D) error {
	img, err := f.r.AllocateImage(renderer.ImageDescriptor{
		Label:  "main depth",
		Width:  frame.Width,
		Height: frame.Height,
		Format: renderer.FormatDepth32Float,
		Usage:  renderer.ImageUsageDepthAttachment,
	})
	if err != nil {
		return fmt.Errorf("main depth: %w", err)
	}
	if f.mainDepth != nil {
		f.mainDepth.Release()
	}
	f.mainDepth = img
	return nil
}

func (f *frameRenderer) RateSurface(ctx context.Context) (shading_rate.Pattern, error) {
	if err := f.gate.Acquire(ctx, 1); err != nil {
		return shading_rate.Pattern{}, err
	}
	defer f.gate.Release(1)

	if err := f.r.WaitIdle(); err != nil {
		return shading_rate.Pattern{}, fmt.Errorf("vrs: %w", err)
	}
	img := f.synthesis.Image()
	if !f.AdaptiveShading() {
		img = f.fov.Image()
	}
	if img == nil {
		return shading_rate.Pattern{}, fmt.Errorf("vrs: rate surface: %w", renderer.ErrReleased)
	}
	data, err := f.r.ReadImage(img)
	if err != nil {
		return shading_rate.Pattern{}, fmt.Errorf("vrs: rate surface: %w", err)
	}
	return shading_rate.PatternFromBytes(img.Extent(), data)
}

func (f *frameRenderer) DumpRateSurface(ctx context.Context, w io.Writer) error {
	p, err := f.RateSurface(ctx)
	if err != nil {
		return err
	}
	if err := p.EncodePNG(w, f.r.Capabilities().ShadingRateTexelSize); err != nil {
		return fmt.Errorf("vrs: dump: %w", err)
	}
	return nil
}
