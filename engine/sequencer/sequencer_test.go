package sequencer

import (
	"errors"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer"
)

func newTestRenderer(t *testing.T, options ...renderer.RendererBuilderOption) renderer.Renderer {
	t.Helper()
	options = append([]renderer.RendererBuilderOption{renderer.WithExtent(32, 32), renderer.WithTexelSize(8, 8)}, options...)
	r, err := renderer.NewRenderer(renderer.BackendTypeSoftware, nil, options...)
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}
	t.Cleanup(r.Destroy)
	return r
}

func newTestSequencer(t *testing.T, r renderer.Renderer) Sequencer {
	t.Helper()
	s, err := NewSequencer(r)
	if err != nil {
		t.Fatalf("NewSequencer() error = %v", err)
	}
	t.Cleanup(s.Release)
	return s
}

// runFrame drives one frame with empty passes; the main pass only moves the swapchain
// image to the present layout.
func runFrame(t *testing.T, r renderer.Renderer, s Sequencer) {
	t.Helper()
	if err := s.SubmitCapture(r.NewCommandBuffer(renderer.QueueGraphics, "capture")); err != nil {
		t.Fatalf("SubmitCapture() error = %v", err)
	}
	if err := s.SubmitAnalysis(r.NewCommandBuffer(renderer.QueueCompute, "analysis")); err != nil {
		t.Fatalf("SubmitAnalysis() error = %v", err)
	}
	if err := s.SubmitRateSurface(r.NewCommandBuffer(renderer.QueueCompute, "synthesis")); err != nil {
		t.Fatalf("SubmitRateSurface() error = %v", err)
	}
	img, err := s.AcquireImage()
	if err != nil {
		t.Fatalf("AcquireImage() error = %v", err)
	}
	main := r.NewCommandBuffer(renderer.QueueGraphics, "main")
	main.TransitionLayout(img, renderer.LayoutUndefined, renderer.LayoutPresent, renderer.AspectColor)
	if err := s.SubmitMainPass(main); err != nil {
		t.Fatalf("SubmitMainPass() error = %v", err)
	}
	if err := s.Present(); err != nil {
		t.Fatalf("Present() error = %v", err)
	}
}

func TestSequencerFrames(t *testing.T) {
	r := newTestRenderer(t)
	s := newTestSequencer(t, r)
	if s.State() != StateIdle {
		t.Fatalf("State() = %v, want %v", s.State(), StateIdle)
	}
	if err := s.Seed(); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if err := s.Seed(); err != nil {
		t.Fatalf("second Seed() error = %v", err)
	}
	for range 4 {
		runFrame(t, r, s)
	}
	if err := r.WaitIdle(); err != nil {
		t.Fatalf("WaitIdle() error = %v", err)
	}
	if s.State() != StatePresented {
		t.Errorf("State() = %v, want %v", s.State(), StatePresented)
	}
	if s.Frame() != 4 {
		t.Errorf("Frame() = %v, want 4", s.Frame())
	}
	if got := r.Stats().Presents; got != 4 {
		t.Errorf("Stats().Presents = %v, want 4", got)
	}
}

func TestSequencerInvalidTransitions(t *testing.T) {
	r := newTestRenderer(t)

	t.Run("not seeded", func(t *testing.T) {
		s := newTestSequencer(t, r)
		err := s.SubmitCapture(r.NewCommandBuffer(renderer.QueueGraphics, "capture"))
		if !errors.Is(err, ErrNotSeeded) {
			t.Errorf("SubmitCapture() error = %v, want %v", err, ErrNotSeeded)
		}
	})

	tests := []struct {
		name string
		call func(s Sequencer) error
	}{
		{name: "analysis before capture", call: func(s Sequencer) error {
			return s.SubmitAnalysis(r.NewCommandBuffer(renderer.QueueCompute, "analysis"))
		}},
		{name: "rate surface before analysis", call: func(s Sequencer) error {
			return s.SubmitRateSurface(r.NewCommandBuffer(renderer.QueueCompute, "synthesis"))
		}},
		{name: "acquire before rate surface", call: func(s Sequencer) error {
			_, err := s.AcquireImage()
			return err
		}},
		{name: "main pass before rate surface", call: func(s Sequencer) error {
			return s.SubmitMainPass(r.NewCommandBuffer(renderer.QueueGraphics, "main"))
		}},
		{name: "present before main pass", call: func(s Sequencer) error {
			return s.Present()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSequencer(t, r)
			if err := s.Seed(); err != nil {
				t.Fatalf("Seed() error = %v", err)
			}
			if err := tt.call(s); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("error = %v, want %v", err, ErrInvalidTransition)
			}
			if s.State() != StateIdle {
				t.Errorf("State() = %v, want %v", s.State(), StateIdle)
			}
		})
	}
}

func TestSequencerMainPassNeedsImage(t *testing.T) {
	r := newTestRenderer(t)
	s := newTestSequencer(t, r)
	if err := s.Seed(); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if err := s.SubmitCapture(r.NewCommandBuffer(renderer.QueueGraphics, "capture")); err != nil {
		t.Fatalf("SubmitCapture() error = %v", err)
	}
	if err := s.SubmitAnalysis(r.NewCommandBuffer(renderer.QueueCompute, "analysis")); err != nil {
		t.Fatalf("SubmitAnalysis() error = %v", err)
	}
	if err := s.SubmitRateSurface(r.NewCommandBuffer(renderer.QueueCompute, "synthesis")); err != nil {
		t.Fatalf("SubmitRateSurface() error = %v", err)
	}
	if err := s.SubmitMainPass(r.NewCommandBuffer(renderer.QueueGraphics, "main")); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("SubmitMainPass() error = %v, want %v", err, ErrInvalidTransition)
	}
	if _, err := s.AcquireImage(); err != nil {
		t.Fatalf("AcquireImage() error = %v", err)
	}
	if _, err := s.AcquireImage(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second AcquireImage() error = %v, want %v", err, ErrInvalidTransition)
	}
}

func TestSequencerOrderingUnderDelay(t *testing.T) {
	delays := map[string]time.Duration{
		"capture":   30 * time.Millisecond,
		"synthesis": 20 * time.Millisecond,
		"main":      20 * time.Millisecond,
	}
	r := newTestRenderer(t,
		renderer.WithTrace(true),
		renderer.WithQueueFamilies(0, 1),
		renderer.WithExecutionDelay(func(label string) time.Duration { return delays[label] }),
	)
	s := newTestSequencer(t, r)
	if err := s.Seed(); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	runFrame(t, r, s)
	runFrame(t, r, s)
	if err := r.WaitIdle(); err != nil {
		t.Fatalf("WaitIdle() error = %v", err)
	}

	intervals := map[string][]renderer.Interval{}
	for _, iv := range r.Trace().Intervals() {
		intervals[iv.Label] = append(intervals[iv.Label], iv)
	}
	for _, label := range []string{"capture", "analysis", "synthesis", "main"} {
		if len(intervals[label]) != 2 {
			t.Fatalf("%s executed %d times, want 2", label, len(intervals[label]))
		}
	}
	before := func(a, b string, frameA, frameB int) {
		t.Helper()
		if ea, bb := intervals[a][frameA].End, intervals[b][frameB].Begin; ea >= bb {
			t.Errorf("%s[%d] ended at #%d, after %s[%d] began at #%d", a, frameA, ea, b, frameB, bb)
		}
	}
	for f := range 2 {
		before("capture", "analysis", f, f)
		before("synthesis", "main", f, f)
	}
	// The second analysis waits on the first main pass.
	before("main", "analysis", 0, 1)

	presents := r.Trace().Filter(func(e renderer.TraceEvent) bool { return e.Kind == renderer.TracePresent })
	if len(presents) != 2 {
		t.Fatalf("trace has %d presents, want 2", len(presents))
	}
	if presents[0].Seq <= intervals["main"][0].End {
		t.Errorf("first present at #%d, before the main pass ended at #%d", presents[0].Seq, intervals["main"][0].End)
	}
	if err := r.Trace().HazardCheck(); err != nil {
		t.Errorf("HazardCheck() error = %v", err)
	}
}

func TestSequencerReset(t *testing.T) {
	r := newTestRenderer(t)
	s := newTestSequencer(t, r)
	if err := s.Seed(); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if err := s.SubmitCapture(r.NewCommandBuffer(renderer.QueueGraphics, "capture")); err != nil {
		t.Fatalf("SubmitCapture() error = %v", err)
	}
	if err := s.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if s.State() != StateIdle || s.Seeded() {
		t.Fatalf("after Reset() State() = %v, Seeded() = %v, want idle and unseeded", s.State(), s.Seeded())
	}
	if err := s.Seed(); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	runFrame(t, r, s)
}

func TestStateString(t *testing.T) {
	if got := StateRateSurfaceSubmitted.String(); got != "rate-surface-submitted" {
		t.Errorf("String() = %q, want %q", got, "rate-surface-submitted")
	}
	if got := State(42).String(); got != "State(42)" {
		t.Errorf("String() = %q, want %q", got, "State(42)")
	}
}
