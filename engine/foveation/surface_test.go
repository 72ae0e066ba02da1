package foveation

import (
	"errors"
	"testing"

	"github.com/Carmen-Shannon/oxy-vrs/common"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-vrs/engine/shading_rate"
)

func newTestRenderer(t *testing.T) renderer.Renderer {
	t.Helper()
	r, err := renderer.NewRenderer(renderer.BackendTypeSoftware, nil,
		renderer.WithExtent(160, 96),
		renderer.WithTexelSize(8, 8),
	)
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}
	t.Cleanup(r.Destroy)
	return r
}

func TestSurfaceRebuildUploadsPattern(t *testing.T) {
	r := newTestRenderer(t)
	s := NewSurface(r)
	t.Cleanup(s.Release)

	if err := s.Rebuild(common.Extent2D{Width: 160, Height: 96}); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	if want := (common.Extent2D{Width: 20, Height: 12}); s.Extent() != want {
		t.Errorf("Extent() = %v, want %v", s.Extent(), want)
	}
	want, err := Generate(s.Extent(), common.Extent2D{Width: 160, Height: 96}, DefaultThresholdTable())
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	got, err := r.ReadImage(s.Image())
	if err != nil {
		t.Fatalf("ReadImage() error = %v", err)
	}
	if string(got) != string(want.Bytes()) {
		t.Errorf("uploaded pattern differs from Generate() output")
	}
}

func TestSurfaceImageReadableByKernels(t *testing.T) {
	r := newTestRenderer(t)
	s := NewSurface(r)
	t.Cleanup(s.Release)

	if err := s.Rebuild(common.Extent2D{Width: 160, Height: 96}); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	read := pipeline.NewPipeline("read-pattern", pipeline.PipelineTypeCompute,
		pipeline.WithKernel(func(wg pipeline.Workgroup, res pipeline.Resources) {
			res.Image(0).LoadUint(int(wg.ID[0]), int(wg.ID[1]))
		}),
	)
	if err := r.RegisterPipelines(read); err != nil {
		t.Fatalf("RegisterPipelines() error = %v", err)
	}
	e := s.Extent()
	cb := r.NewCommandBuffer(renderer.QueueGraphics, "read-pattern")
	cb.Dispatch(read, renderer.Bindings{0: renderer.ImageBinding(s.Image())}, e.Width, e.Height, 1)
	if err := r.Submit(renderer.QueueGraphics, cb, renderer.SubmitInfo{}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := r.WaitIdle(); err != nil {
		t.Fatalf("WaitIdle() error = %v", err)
	}
}

func TestSurfaceRebuildReleasesOldImage(t *testing.T) {
	r := newTestRenderer(t)
	s := NewSurface(r)
	t.Cleanup(s.Release)

	if err := s.Rebuild(common.Extent2D{Width: 160, Height: 96}); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	old := s.Image()
	if err := s.Rebuild(common.Extent2D{Width: 64, Height: 64}); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	if s.Image().ID() == old.ID() {
		t.Error("Rebuild() kept the old image")
	}
	if _, err := r.ReadImage(old); !errors.Is(err, renderer.ErrReleased) {
		t.Errorf("ReadImage(old) error = %v, want ErrReleased", err)
	}
	if want := (common.Extent2D{Width: 8, Height: 8}); s.Extent() != want {
		t.Errorf("Extent() = %v, want %v", s.Extent(), want)
	}
}

func TestSurfaceSetTable(t *testing.T) {
	r := newTestRenderer(t)
	s := NewSurface(r)
	t.Cleanup(s.Release)
	if err := s.Rebuild(common.Extent2D{Width: 160, Height: 96}); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}

	flat, err := NewThresholdTable([]Band{{MaxDistance: 1e6, Rate: shading_rate.Rate1InvocationPer2x2Pixels}}, shading_rate.Rate1InvocationPer4x4Pixels)
	if err != nil {
		t.Fatalf("NewThresholdTable() error = %v", err)
	}
	if err := s.SetTable(flat); err != nil {
		t.Fatalf("SetTable() error = %v", err)
	}
	got, err := r.ReadImage(s.Image())
	if err != nil {
		t.Fatalf("ReadImage() error = %v", err)
	}
	for i, b := range got {
		if shading_rate.Rate(b) != shading_rate.Rate1InvocationPer2x2Pixels {
			t.Fatalf("texel %d = %v, want 2x2", i, shading_rate.Rate(b))
		}
	}
	if err := s.SetTable(ThresholdTable{}); !errors.Is(err, ErrInvalidTable) {
		t.Errorf("SetTable(empty) error = %v, want ErrInvalidTable", err)
	}
}

func TestSurfaceRebuildZeroExtent(t *testing.T) {
	r := newTestRenderer(t)
	s := NewSurface(r)
	if err := s.Rebuild(common.Extent2D{}); !errors.Is(err, shading_rate.ErrZeroExtent) {
		t.Errorf("Rebuild() error = %v, want ErrZeroExtent", err)
	}
}
