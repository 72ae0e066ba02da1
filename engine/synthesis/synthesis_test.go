package synthesis

import (
	"encoding/binary"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/Carmen-Shannon/oxy-vrs/common"
	"github.com/Carmen-Shannon/oxy-vrs/engine/foveation"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer"
	"github.com/Carmen-Shannon/oxy-vrs/engine/shading_rate"
)

var frame = common.Extent2D{Width: 256, Height: 128}

func newTestRenderer(t *testing.T, options ...renderer.RendererBuilderOption) renderer.Renderer {
	t.Helper()
	options = append([]renderer.RendererBuilderOption{renderer.WithExtent(frame.Width, frame.Height), renderer.WithTexelSize(8, 8)}, options...)
	r, err := renderer.NewRenderer(renderer.BackendTypeSoftware, nil, options...)
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}
	t.Cleanup(r.Destroy)
	return r
}

// uploadHeadroom stores random headroom in an RG32F image owned by the compute queue and
// left in LayoutGeneral.
func uploadHeadroom(t *testing.T, r renderer.Renderer, extent common.Extent2D, seed int64) (renderer.Image, [][2]float32) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	h := make([][2]float32, extent.Area())
	data := make([]byte, len(h)*8)
	for i := range h {
		h[i] = [2]float32{rng.Float32() * 4, rng.Float32() * 4}
		binary.LittleEndian.PutUint32(data[i*8:], math.Float32bits(h[i][0]))
		binary.LittleEndian.PutUint32(data[i*8+4:], math.Float32bits(h[i][1]))
	}

	img, err := r.AllocateImage(renderer.ImageDescriptor{
		Label: "nas", Width: extent.Width, Height: extent.Height,
		Format: renderer.FormatRG32Float,
		Usage:  renderer.ImageUsageStorage | renderer.ImageUsageSampled | renderer.ImageUsageTransferDst,
	})
	if err != nil {
		t.Fatalf("AllocateImage() error = %v", err)
	}
	t.Cleanup(img.Release)
	buf, err := r.AllocateBuffer(renderer.BufferDescriptor{Label: "staging", Size: len(data), Usage: renderer.BufferUsageTransferSrc, Memory: renderer.MemoryHostVisible})
	if err != nil {
		t.Fatalf("AllocateBuffer() error = %v", err)
	}
	t.Cleanup(buf.Release)
	if err := buf.Write(0, data); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	cb := r.NewCommandBuffer(renderer.QueueCompute, "upload")
	cb.TransitionLayout(img, renderer.LayoutUndefined, renderer.LayoutTransferDst, renderer.AspectColor)
	cb.CopyBufferToImage(buf, img)
	cb.TransitionLayout(img, renderer.LayoutTransferDst, renderer.LayoutGeneral, renderer.AspectColor)
	if err := r.Submit(renderer.QueueCompute, cb, renderer.SubmitInfo{}); err != nil {
		t.Fatalf("Submit(upload) error = %v", err)
	}
	return img, h
}

func newFixture(t *testing.T, r renderer.Renderer) (Synthesis, foveation.Surface) {
	t.Helper()
	fov := foveation.NewSurface(r)
	t.Cleanup(fov.Release)
	if err := fov.Rebuild(frame); err != nil {
		t.Fatalf("foveation Rebuild() error = %v", err)
	}
	s, err := NewSynthesis(r)
	if err != nil {
		t.Fatalf("NewSynthesis() error = %v", err)
	}
	t.Cleanup(s.Release)
	if err := s.Rebuild(frame); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	return s, fov
}

func submit(t *testing.T, r renderer.Renderer, q renderer.QueueKind, cb renderer.CommandBuffer) error {
	t.Helper()
	if err := r.Submit(q, cb, renderer.SubmitInfo{}); err != nil {
		return err
	}
	if err := r.WaitQueueIdle(q); err != nil {
		t.Fatalf("WaitQueueIdle() error = %v", err)
	}
	return nil
}

func TestAxisFragment(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		h    float32
		want int
	}{
		{h: 0, want: 1},
		{h: 0.99, want: 1},
		{h: 1, want: 2},
		{h: 2.12, want: 2},
		{h: 2.13, want: 4},
		{h: 4, want: 4},
	}
	for _, tt := range tests {
		if got := th.AxisFragment(tt.h); got != tt.want {
			t.Errorf("AxisFragment(%v) = %v, want %v", tt.h, got, tt.want)
		}
	}
}

func TestCombine(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		name   string
		base   shading_rate.Rate
		hx, hy float32
		want   shading_rate.Rate
	}{
		{name: "no headroom keeps full rate", base: shading_rate.Rate1InvocationPerPixel, want: shading_rate.Rate1InvocationPerPixel},
		{name: "horizontal half", base: shading_rate.Rate1InvocationPerPixel, hx: 1.5, hy: 0.5, want: shading_rate.Rate1InvocationPer2x1Pixels},
		{name: "vertical half", base: shading_rate.Rate1InvocationPerPixel, hx: 0.5, hy: 1.5, want: shading_rate.Rate1InvocationPer1x2Pixels},
		{name: "quarter by half", base: shading_rate.Rate1InvocationPerPixel, hx: 3, hy: 1.2, want: shading_rate.Rate1InvocationPer4x2Pixels},
		{name: "quarter both", base: shading_rate.Rate1InvocationPerPixel, hx: 4, hy: 4, want: shading_rate.Rate1InvocationPer4x4Pixels},
		{name: "static coarser wins", base: shading_rate.Rate1InvocationPer4x4Pixels, want: shading_rate.Rate1InvocationPer4x4Pixels},
		{name: "static 2x2 against 2x1", base: shading_rate.Rate1InvocationPer2x2Pixels, hx: 1.5, want: shading_rate.Rate1InvocationPer2x2Pixels},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := th.Combine(tt.base, tt.hx, tt.hy); got != tt.want {
				t.Errorf("Combine(%v, %v, %v) = %v, want %v", tt.base, tt.hx, tt.hy, got, tt.want)
			}
		})
	}
}

func TestCombineNeverRefinesAndIsMonotonic(t *testing.T) {
	th := DefaultThresholds()
	levels := []float32{0, 0.5, 1, 1.7, 2.13, 3, 4}
	for _, base := range shading_rate.Palette() {
		for _, hx := range levels {
			for _, hy := range levels {
				got := th.Combine(base, hx, hy)
				if got.Quality() > base.Quality() {
					t.Fatalf("Combine(%v, %v, %v) = %v, finer than the static rate", base, hx, hy, got)
				}
				if more := th.Combine(base, hx+1, hy+1); more.Quality() > got.Quality() {
					t.Fatalf("Combine(%v) with more headroom = %v, finer than %v", base, more, got)
				}
			}
		}
	}
}

func TestThresholdsValidate(t *testing.T) {
	tests := []struct {
		name    string
		t       Thresholds
		wantErr bool
	}{
		{name: "defaults", t: DefaultThresholds()},
		{name: "equal", t: Thresholds{HalfRate: 1, QuarterRate: 1}},
		{name: "inverted", t: Thresholds{HalfRate: 2, QuarterRate: 1}, wantErr: true},
		{name: "zero", t: Thresholds{QuarterRate: 1}, wantErr: true},
		{name: "NaN", t: Thresholds{HalfRate: 1, QuarterRate: float32(math.NaN())}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.t.Validate()
			if tt.wantErr != errors.Is(err, ErrInvalidThresholds) {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSynthesisMatchesCombine(t *testing.T) {
	r := newTestRenderer(t)
	s, fov := newFixture(t, r)
	if want := (common.Extent2D{Width: 32, Height: 16}); s.Extent() != want {
		t.Fatalf("Extent() = %v, want %v", s.Extent(), want)
	}
	nas, h := uploadHeadroom(t, r, s.Extent(), 3)

	cb := r.NewCommandBuffer(renderer.QueueCompute, "synthesis")
	s.Record(cb, nas, fov.Image())
	if err := submit(t, r, renderer.QueueCompute, cb); err != nil {
		t.Fatalf("Submit(synthesis) error = %v", err)
	}
	got, err := r.ReadImage(s.Image())
	if err != nil {
		t.Fatalf("ReadImage() error = %v", err)
	}

	static := fov.Pattern()
	th := s.Thresholds()
	for i, b := range got {
		want := th.Combine(static.Rates[i], h[i][0], h[i][1])
		if shading_rate.Rate(b) != want {
			t.Fatalf("texel %d = %v, want %v", i, shading_rate.Rate(b), want)
		}
	}
}

func TestSynthesisOwnershipRoundTrip(t *testing.T) {
	r := newTestRenderer(t, renderer.WithQueueFamilies(0, 1))
	s, fov := newFixture(t, r)
	nas, _ := uploadHeadroom(t, r, s.Extent(), 5)

	for i := range 3 {
		cb := r.NewCommandBuffer(renderer.QueueCompute, "synthesis")
		s.Record(cb, nas, fov.Image())
		if err := submit(t, r, renderer.QueueCompute, cb); err != nil {
			t.Fatalf("frame %d: Submit(synthesis) error = %v", i, err)
		}

		main := r.NewCommandBuffer(renderer.QueueGraphics, "main")
		renderer.AcquireBarrier(main, s.GraphicsAcquire())
		renderer.ReleaseBarrier(main, s.GraphicsRelease())
		if err := submit(t, r, renderer.QueueGraphics, main); err != nil {
			t.Fatalf("frame %d: Submit(main) error = %v", i, err)
		}
	}

	// A second synthesis without the main pass handing the surface back.
	cb := r.NewCommandBuffer(renderer.QueueCompute, "synthesis")
	s.Record(cb, nas, fov.Image())
	if err := submit(t, r, renderer.QueueCompute, cb); err != nil {
		t.Fatalf("Submit(synthesis) error = %v", err)
	}
	cb = r.NewCommandBuffer(renderer.QueueCompute, "synthesis again")
	s.Record(cb, nas, fov.Image())
	if err := r.Submit(renderer.QueueCompute, cb, renderer.SubmitInfo{}); !errors.Is(err, renderer.ErrOwnership) {
		t.Errorf("Submit() error = %v, want %v", err, renderer.ErrOwnership)
	}
}

func TestSynthesisRebuild(t *testing.T) {
	r := newTestRenderer(t)
	s, _ := newFixture(t, r)
	old := s.Image()
	if err := s.Rebuild(common.Extent2D{Width: 100, Height: 20}); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	if want := (common.Extent2D{Width: 13, Height: 3}); s.Extent() != want {
		t.Errorf("Extent() = %v, want %v", s.Extent(), want)
	}
	if _, err := r.ReadImage(old); !errors.Is(err, renderer.ErrReleased) {
		t.Errorf("ReadImage(old) error = %v, want %v", err, renderer.ErrReleased)
	}
	if err := s.Rebuild(common.Extent2D{Width: 0, Height: 20}); !errors.Is(err, shading_rate.ErrZeroExtent) {
		t.Errorf("Rebuild(zero) error = %v, want %v", err, shading_rate.ErrZeroExtent)
	}
}

func TestNewSynthesisRequiresRateImage(t *testing.T) {
	r := newTestRenderer(t, renderer.WithShadingRateImage(false))
	if _, err := NewSynthesis(r); !errors.Is(err, renderer.ErrMissingFeature) {
		t.Errorf("NewSynthesis() error = %v, want %v", err, renderer.ErrMissingFeature)
	}
}
