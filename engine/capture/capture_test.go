package capture

import (
	"errors"
	"testing"

	"github.com/Carmen-Shannon/oxy-vrs/common"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer/pipeline"
)

func newTestRenderer(t *testing.T, options ...renderer.RendererBuilderOption) renderer.Renderer {
	t.Helper()
	options = append([]renderer.RendererBuilderOption{renderer.WithExtent(32, 16), renderer.WithTexelSize(8, 8)}, options...)
	r, err := renderer.NewRenderer(renderer.BackendTypeSoftware, nil, options...)
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}
	t.Cleanup(r.Destroy)
	return r
}

func whitePipeline(t *testing.T, r renderer.Renderer) pipeline.Pipeline {
	t.Helper()
	p := pipeline.NewPipeline("white", pipeline.PipelineTypeRender,
		pipeline.WithFragmentKernel(func(pipeline.Fragment, pipeline.Resources) pipeline.FragmentOutput {
			return pipeline.FragmentOutput{Color: [4]float32{1, 1, 1, 1}, Depth: 0.5}
		}),
	)
	if err := r.RegisterPipelines(p); err != nil {
		t.Fatalf("RegisterPipelines() error = %v", err)
	}
	return p
}

func TestNewCaptureFormat(t *testing.T) {
	tests := []struct {
		name    string
		storage []renderer.Format
		want    renderer.Format
		wantErr error
	}{
		{name: "prefers BGRA8", want: renderer.FormatBGRA8Unorm},
		{name: "falls back to RGBA8", storage: []renderer.Format{renderer.FormatRGBA8Unorm, renderer.FormatRG32Float}, want: renderer.FormatRGBA8Unorm},
		{name: "no storage format", storage: []renderer.Format{renderer.FormatRG32Float}, wantErr: renderer.ErrUnsupportedFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []renderer.RendererBuilderOption
			if tt.storage != nil {
				opts = append(opts, renderer.WithStorageFormats(tt.storage...))
			}
			r := newTestRenderer(t, opts...)
			c, err := NewCapture(r)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("NewCapture() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewCapture() error = %v", err)
			}
			t.Cleanup(c.Release)
			if c.Format() != tt.want {
				t.Errorf("Format() = %v, want %v", c.Format(), tt.want)
			}
		})
	}
}

func TestCaptureRecordPrimesOnce(t *testing.T) {
	r := newTestRenderer(t)
	p := whitePipeline(t, r)
	c, err := NewCapture(r)
	if err != nil {
		t.Fatalf("NewCapture() error = %v", err)
	}
	t.Cleanup(c.Release)
	if err := c.Rebuild(r.Extent()); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}

	for i, wantBarriers := range []int{2, 0} {
		cb := r.NewCommandBuffer(renderer.QueueGraphics, "capture")
		c.Record(cb, func(cb renderer.CommandBuffer) {
			cb.Draw(renderer.DrawCommand{Pipeline: p})
		})
		barriers := 0
		for _, cmd := range cb.Commands() {
			if cmd.Kind == renderer.CommandBarrier {
				barriers++
			}
		}
		if barriers != wantBarriers {
			t.Errorf("record %d: barriers = %d, want %d", i, barriers, wantBarriers)
		}
		if err := r.Submit(renderer.QueueGraphics, cb, renderer.SubmitInfo{}); err != nil {
			t.Fatalf("record %d: Submit() error = %v", i, err)
		}
	}
	if err := r.WaitIdle(); err != nil {
		t.Fatalf("WaitIdle() error = %v", err)
	}

	px, err := r.ReadImage(c.Color())
	if err != nil {
		t.Fatalf("ReadImage() error = %v", err)
	}
	if len(px) != 32*16*4 {
		t.Fatalf("len(ReadImage()) = %d, want %d", len(px), 32*16*4)
	}
	for i, b := range px {
		if b != 255 {
			t.Fatalf("capture byte %d = %d, want 255", i, b)
		}
	}
}

func TestCaptureRebuild(t *testing.T) {
	r := newTestRenderer(t, renderer.WithQueueFamilies(0, 1))
	c, err := NewCapture(r)
	if err != nil {
		t.Fatalf("NewCapture() error = %v", err)
	}
	t.Cleanup(c.Release)

	if err := c.Rebuild(common.Extent2D{Width: 32, Height: 16}); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	old := c.Color()
	if old.Sharing() != renderer.SharingConcurrent || c.Depth().Sharing() != renderer.SharingConcurrent {
		t.Error("targets are not concurrent across distinct queue families")
	}
	if !old.Usage().Has(ColorUsage) || !c.Depth().Usage().Has(DepthUsage) {
		t.Error("targets are missing required usage flags")
	}

	if err := c.Rebuild(common.Extent2D{Width: 20, Height: 10}); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	if got := c.Color().Extent(); got != (common.Extent2D{Width: 20, Height: 10}) {
		t.Errorf("Color().Extent() = %v, want 20x10", got)
	}
	if _, err := r.ReadImage(old); !errors.Is(err, renderer.ErrReleased) {
		t.Errorf("ReadImage(old) error = %v, want %v", err, renderer.ErrReleased)
	}

	if err := c.Rebuild(common.Extent2D{Width: 0, Height: 10}); !errors.Is(err, renderer.ErrZeroExtent) {
		t.Errorf("Rebuild(0x10) error = %v, want %v", err, renderer.ErrZeroExtent)
	}
}
