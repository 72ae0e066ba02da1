package vrs

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-vrs/common"
	"github.com/Carmen-Shannon/oxy-vrs/engine/analysis"
	"github.com/Carmen-Shannon/oxy-vrs/engine/foveation"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer"
	"github.com/Carmen-Shannon/oxy-vrs/engine/settings"
)

func newTestRenderer(t *testing.T, options ...renderer.RendererBuilderOption) renderer.Renderer {
	t.Helper()
	options = append([]renderer.RendererBuilderOption{
		renderer.WithExtent(256, 128),
		renderer.WithTexelSize(8, 8),
		renderer.WithTrace(true),
	}, options...)
	r, err := renderer.NewRenderer(renderer.BackendTypeSoftware, nil, options...)
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}
	t.Cleanup(r.Destroy)
	return r
}

func newTestFrameRenderer(t *testing.T, r renderer.Renderer, options ...FrameRendererBuilderOption) *frameRenderer {
	t.Helper()
	options = append([]FrameRendererBuilderOption{WithFixedTimestep(1.0 / 60)}, options...)
	fr, err := NewFrameRenderer(r, options...)
	if err != nil {
		t.Fatalf("NewFrameRenderer() error = %v", err)
	}
	t.Cleanup(fr.Release)
	return fr.(*frameRenderer)
}

func renderFrames(t *testing.T, r renderer.Renderer, fr FrameRenderer, n int) {
	t.Helper()
	for i := range n {
		if err := fr.Render(); err != nil {
			t.Fatalf("Render() frame %d error = %v", i, err)
		}
	}
	if err := r.WaitIdle(); err != nil {
		t.Fatalf("WaitIdle() error = %v", err)
	}
}

// mainReads returns the labels of the images the main pass read.
func mainReads(r renderer.Renderer) map[string]bool {
	out := map[string]bool{}
	for _, e := range r.Trace() {
		if e.Label == "main" && e.Kind == renderer.TraceRead {
			out[e.ImageLabel] = true
		}
	}
	return out
}

func TestRenderFrames(t *testing.T) {
	r := newTestRenderer(t)
	fr := newTestFrameRenderer(t, r)
	renderFrames(t, r, fr, 3)

	stats := fr.Stats()
	if stats.Frames != 3 {
		t.Errorf("Stats().Frames = %d, want 3", stats.Frames)
	}
	if stats.Device.Presents != 3 {
		t.Errorf("Stats().Device.Presents = %d, want 3", stats.Device.Presents)
	}
	if want := (common.Extent2D{Width: 32, Height: 16}); stats.RateExtent != want {
		t.Errorf("Stats().RateExtent = %v, want %v", stats.RateExtent, want)
	}
	if err := r.Trace().HazardCheck(); err != nil {
		t.Errorf("HazardCheck() = %v", err)
	}
	if !mainReads(r)["synthesis rate"] {
		t.Error("main pass never read the synthesised rate surface")
	}
}

func TestAdaptiveOffBindsStaticPattern(t *testing.T) {
	r := newTestRenderer(t)
	fr := newTestFrameRenderer(t, r)
	fr.SetAdaptiveShading(false)
	if fr.AdaptiveShading() {
		t.Fatal("AdaptiveShading() = true after SetAdaptiveShading(false)")
	}
	renderFrames(t, r, fr, 2)

	reads := mainReads(r)
	if !reads["foveation"] || reads["synthesis rate"] {
		t.Errorf("main pass reads = %v, want the foveation pattern only", reads)
	}
	want, err := foveation.Generate(common.Extent2D{Width: 32, Height: 16}, common.Extent2D{Width: 256, Height: 128}, foveation.DefaultThresholdTable())
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	got, err := fr.RateSurface(context.Background())
	if err != nil {
		t.Fatalf("RateSurface() error = %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("RateSurface() = %v, want %v", got.Bytes(), want.Bytes())
	}
}

func TestZeroSensitivitiesKeepStaticPattern(t *testing.T) {
	r := newTestRenderer(t)
	s := settings.Default()
	s.Sensitivities = analysis.Sensitivities{}
	fr := newTestFrameRenderer(t, r, WithSettings(s))
	renderFrames(t, r, fr, 2)

	got, err := fr.RateSurface(context.Background())
	if err != nil {
		t.Fatalf("RateSurface() error = %v", err)
	}
	if want := fr.fov.Pattern(); !got.Equal(want) {
		t.Errorf("RateSurface() = %v, want the static pattern %v", got.Bytes(), want.Bytes())
	}
}

func TestRateBindingDisabled(t *testing.T) {
	r := newTestRenderer(t)
	fr := newTestFrameRenderer(t, r)
	fr.SetShadingRateEnabled(false)
	renderFrames(t, r, fr, 1)

	reads := mainReads(r)
	if reads["foveation"] || reads["synthesis rate"] {
		t.Errorf("main pass reads = %v, want no rate surface", reads)
	}
}

func TestResizeRebuilds(t *testing.T) {
	r := newTestRenderer(t)
	fr := newTestFrameRenderer(t, r)
	renderFrames(t, r, fr, 1)

	oldRate, oldColor, oldStatic := fr.synthesis.Image(), fr.capture.Color(), fr.fov.Image()
	fr.OnResize(100, 20)
	fr.OnResize(0, 20)
	if got := fr.Extent(); got != (common.Extent2D{Width: 256, Height: 128}) {
		t.Errorf("Extent() before Render = %v, want the old extent", got)
	}
	renderFrames(t, r, fr, 2)

	if got, want := fr.Extent(), (common.Extent2D{Width: 100, Height: 20}); got != want {
		t.Errorf("Extent() = %v, want %v", got, want)
	}
	if got, want := fr.Stats().RateExtent, (common.Extent2D{Width: 13, Height: 3}); got != want {
		t.Errorf("Stats().RateExtent = %v, want %v", got, want)
	}
	if got := fr.capture.Color().Extent(); got != (common.Extent2D{Width: 100, Height: 20}) {
		t.Errorf("capture extent = %v, want 100x20", got)
	}
	for _, img := range []renderer.Image{oldRate, oldColor, oldStatic} {
		if _, err := r.ReadImage(img); !errors.Is(err, renderer.ErrReleased) {
			t.Errorf("ReadImage(old %q) error = %v, want %v", img.Label(), err, renderer.ErrReleased)
		}
	}
	p, err := fr.RateSurface(context.Background())
	if err != nil {
		t.Fatalf("RateSurface() error = %v", err)
	}
	if p.Extent != (common.Extent2D{Width: 13, Height: 3}) {
		t.Errorf("RateSurface().Extent = %v, want 13x3", p.Extent)
	}
}

func TestResizeRecoversFromFailedRebuild(t *testing.T) {
	// Room for the 256x128 targets, not for three 1024x512 ones.
	r := newTestRenderer(t, renderer.WithMemoryBudget(2<<20))
	fr := newTestFrameRenderer(t, r)
	renderFrames(t, r, fr, 1)

	fr.OnResize(1024, 512)
	for i := range 2 {
		if err := fr.Render(); !errors.Is(err, renderer.ErrOutOfMemory) {
			t.Fatalf("Render() attempt %d error = %v, want %v", i, err, renderer.ErrOutOfMemory)
		}
	}
	if got, want := r.Extent(), (common.Extent2D{Width: 1024, Height: 512}); got != want {
		t.Fatalf("device Extent() = %v, want %v", got, want)
	}

	fr.OnResize(256, 128)
	renderFrames(t, r, fr, 2)
	want := common.Extent2D{Width: 256, Height: 128}
	if got := r.Extent(); got != want {
		t.Errorf("device Extent() = %v, want %v", got, want)
	}
	if got := fr.Extent(); got != want {
		t.Errorf("Extent() = %v, want %v", got, want)
	}
	if got := fr.capture.Color().Extent(); got != want {
		t.Errorf("capture extent = %v, want %v", got, want)
	}
}

func TestRenderOrderingAcrossQueueFamilies(t *testing.T) {
	delays := map[string]time.Duration{"capture": 20 * time.Millisecond, "synthesis": 10 * time.Millisecond}
	r := newTestRenderer(t,
		renderer.WithQueueFamilies(0, 1),
		renderer.WithExecutionDelay(func(label string) time.Duration { return delays[label] }),
	)
	fr := newTestFrameRenderer(t, r)
	renderFrames(t, r, fr, 3)

	tr := r.Trace()
	if err := tr.HazardCheck(); err != nil {
		t.Errorf("HazardCheck() = %v", err)
	}
	spans := map[string][]renderer.Interval{}
	for _, iv := range tr.Intervals() {
		spans[iv.Label] = append(spans[iv.Label], iv)
	}
	for _, label := range []string{"capture", "analysis", "synthesis", "main"} {
		if len(spans[label]) != 3 {
			t.Fatalf("%s ran %d times, want 3", label, len(spans[label]))
		}
	}
	for i := range 3 {
		if spans["capture"][i].End > spans["analysis"][i].Begin {
			t.Errorf("frame %d: analysis began before capture ended", i)
		}
		if spans["synthesis"][i].End > spans["main"][i].Begin {
			t.Errorf("frame %d: main pass began before synthesis ended", i)
		}
		if i > 0 && spans["main"][i-1].End > spans["analysis"][i].Begin {
			t.Errorf("frame %d: analysis began before the previous main pass ended", i)
		}
	}
}

func TestRenderBusy(t *testing.T) {
	r := newTestRenderer(t)
	fr := newTestFrameRenderer(t, r)
	if !fr.gate.TryAcquire(1) {
		t.Fatal("gate already held")
	}
	if err := fr.Render(); !errors.Is(err, ErrBusy) {
		t.Errorf("Render() error = %v, want %v", err, ErrBusy)
	}
	fr.gate.Release(1)
	if err := fr.Render(); err != nil {
		t.Errorf("Render() after release error = %v", err)
	}
}

func TestApplySettingsIsDeferred(t *testing.T) {
	r := newTestRenderer(t)
	fr := newTestFrameRenderer(t, r)

	s := settings.Default()
	s.ColorizeShadingRate = true
	s.Thresholds.QuarterRate = 3
	if err := fr.ApplySettings(s); err != nil {
		t.Fatalf("ApplySettings() error = %v", err)
	}
	if fr.ColorizeShadingRate() {
		t.Error("ColorizeShadingRate() = true before the next Render")
	}
	renderFrames(t, r, fr, 1)
	if !fr.ColorizeShadingRate() {
		t.Error("ColorizeShadingRate() = false after Render")
	}
	if got := fr.synthesis.Thresholds().QuarterRate; got != 3 {
		t.Errorf("Thresholds().QuarterRate = %v, want 3", got)
	}
	if !fr.Settings().Equal(s) {
		t.Errorf("Settings() = %+v, want %+v", fr.Settings(), s)
	}

	bad := settings.Default()
	bad.Sensitivities.Error = -1
	if err := fr.ApplySettings(bad); !errors.Is(err, settings.ErrInvalid) {
		t.Errorf("ApplySettings(invalid) error = %v, want %v", err, settings.ErrInvalid)
	}
}

func TestDumpRateSurface(t *testing.T) {
	r := newTestRenderer(t)
	fr := newTestFrameRenderer(t, r)
	renderFrames(t, r, fr, 1)

	var buf bytes.Buffer
	if err := fr.DumpRateSurface(context.Background(), &buf); err != nil {
		t.Fatalf("DumpRateSurface() error = %v", err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("png.Decode() error = %v", err)
	}
	if b := img.Bounds(); b.Dx() != 256 || b.Dy() != 128 {
		t.Errorf("PNG bounds = %v, want 256x128", b)
	}
}

func TestRateSurfaceHonoursContext(t *testing.T) {
	r := newTestRenderer(t)
	fr := newTestFrameRenderer(t, r)
	if !fr.gate.TryAcquire(1) {
		t.Fatal("gate already held")
	}
	t.Cleanup(func() { fr.gate.Release(1) })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := fr.RateSurface(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("RateSurface() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestNewFrameRendererRequiresRateImage(t *testing.T) {
	r := newTestRenderer(t, renderer.WithShadingRateImage(false))
	if _, err := NewFrameRenderer(r); !errors.Is(err, renderer.ErrMissingFeature) {
		t.Errorf("NewFrameRenderer() error = %v, want %v", err, renderer.ErrMissingFeature)
	}
}

func TestRenderAfterRelease(t *testing.T) {
	r := newTestRenderer(t)
	fr := newTestFrameRenderer(t, r)
	renderFrames(t, r, fr, 1)
	fr.Release()
	fr.Release()
	if err := fr.Render(); !errors.Is(err, renderer.ErrReleased) {
		t.Errorf("Render() after Release error = %v, want %v", err, renderer.ErrReleased)
	}
}
