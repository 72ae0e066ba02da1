// Package sequencer orders the per-frame submissions of the adaptive shading pipeline
// across the graphics and compute queues.
//
// A frame is capture (graphics), analysis and synthesis (compute), main pass
// (graphics) and present. The ordering is carried entirely by device semaphores; the
// CPU only blocks once, on the startup seed.
package sequencer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-vrs/common"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer"
)

// State is the position of the sequencer inside a frame.
type State int

const (
	StateIdle State = iota
	StateCaptureSubmitted
	StateAnalysisSubmitted
	StateRateSurfaceSubmitted
	StateMainPassSubmitted
	StatePresented
)

var stateNames = [...]string{"idle", "capture-submitted", "analysis-submitted", "rate-surface-submitted", "main-pass-submitted", "presented"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	// ErrInvalidTransition is returned when a submission is made out of frame order.
	ErrInvalidTransition = errors.New("sequencer: invalid transition")

	// ErrNotSeeded is returned when a frame starts before Seed.
	ErrNotSeeded = errors.New("sequencer: not seeded")
)

// Semaphore labels, as they appear in the device trace.
const (
	SemaphoreGraphics       = "graphics-done"
	SemaphoreCapture        = "capture-done"
	SemaphoreCompute        = "compute-done"
	SemaphoreImageAcquired  = "image-acquired"
	SemaphoreRenderComplete = "render-complete"
)

// Sequencer submits the command buffers of one frame in order and wires their
// semaphores. Submissions are only accepted in frame order:
//
//	Idle|Presented -> CaptureSubmitted -> AnalysisSubmitted -> RateSurfaceSubmitted
//	  -> MainPassSubmitted -> Presented
//
// A failed submission leaves the state unchanged and the frame unusable; Reset
// recovers.
type Sequencer interface {
	// State returns the current state.
	State() State

	// Frame returns the number of frames presented.
	Frame() uint64

	// Seeded reports whether Seed has run.
	Seeded() bool

	// Seed submits an empty graphics batch that signals the graphics semaphore and waits
	// for the graphics queue to drain, so the first analysis has a signal to wait on.
	// Runs once; later calls return nil.
	Seed() error

	// SubmitCapture submits the capture pass on the graphics queue, signalling the
	// capture semaphore.
	SubmitCapture(cb renderer.CommandBuffer) error

	// SubmitAnalysis submits the analysis dispatch on the compute queue, waiting on the
	// previous main pass and on the capture.
	SubmitAnalysis(cb renderer.CommandBuffer) error

	// SubmitRateSurface submits the synthesis dispatch on the compute queue, signalling
	// the compute semaphore.
	SubmitRateSurface(cb renderer.CommandBuffer) error

	// AcquireImage acquires the next swapchain image, signalling the image-acquired
	// semaphore. Only valid after SubmitRateSurface and at most once per frame.
	AcquireImage() (renderer.Image, error)

	// SubmitMainPass submits the main pass on the graphics queue. It waits on the compute
	// semaphore at the shading-rate stage and on the acquired image at colour output, and
	// signals the graphics and render-complete semaphores.
	SubmitMainPass(cb renderer.CommandBuffer) error

	// Present queues the acquired image for presentation after render-complete.
	Present() error

	// Reset waits for the device to go idle, replaces every semaphore and returns to
	// StateIdle unseeded.
	Reset() error

	// Release frees the semaphores.
	Release()
}

// sequencer is the implementation of the Sequencer interface.
type sequencer struct {
	mu sync.Mutex

	r     renderer.Renderer
	state State
	frame uint64

	seeded   bool
	acquired renderer.Image

	graphics       renderer.Semaphore
	capture        renderer.Semaphore
	compute        renderer.Semaphore
	imageAcquired  renderer.Semaphore
	renderComplete renderer.Semaphore
}

var _ Sequencer = &sequencer{}

// NewSequencer creates the frame semaphores.
//
// Parameters:
//   - r: the renderer
//
// Returns:
//   - Sequencer: the sequencer in StateIdle, not yet seeded
//   - error: an error creating a semaphore
func NewSequencer(r renderer.Renderer) (Sequencer, error) {
	s := &sequencer{r: r}
	if err := s.createSemaphores(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *sequencer) createSemaphores() error {
	sems := []*renderer.Semaphore{&s.graphics, &s.capture, &s.compute, &s.imageAcquired, &s.renderComplete}
	labels := []string{SemaphoreGraphics, SemaphoreCapture, SemaphoreCompute, SemaphoreImageAcquired, SemaphoreRenderComplete}
	for i, label := range labels {
		sem, err := s.r.CreateSemaphore(label)
		if err != nil {
			s.releaseSemaphores()
			return fmt.Errorf("sequencer: %w", err)
		}
		*sems[i] = sem
	}
	return nil
}

func (s *sequencer) releaseSemaphores() {
	for _, sem := range []*renderer.Semaphore{&s.graphics, &s.capture, &s.compute, &s.imageAcquired, &s.renderComplete} {
		if *sem != nil {
			(*sem).Release()
			*sem = nil
		}
	}
}

func (s *sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *sequencer) Frame() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

func (s *sequencer) Seeded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seeded
}

func (s *sequencer) Seed() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seeded {
		return nil
	}
	cb := s.r.NewCommandBuffer(renderer.QueueGraphics, "seed")
	if err := s.r.Submit(renderer.QueueGraphics, cb, renderer.SubmitInfo{Signals: []renderer.Semaphore{s.graphics}}); err != nil {
		return fmt.Errorf("sequencer: seed: %w", err)
	}
	if err := s.r.WaitQueueIdle(renderer.QueueGraphics); err != nil {
		return fmt.Errorf("sequencer: seed: %w", err)
	}
	s.seeded = true
	common.Logger().Debug("sequencer seeded")
	return nil
}

// expect checks the current state against the states a transition may start from.
// Caller must hold the mutex.
func (s *sequencer) expect(op string, from ...State) error {
	if !s.seeded {
		return fmt.Errorf("%w: %s", ErrNotSeeded, op)
	}
	for _, st := range from {
		if s.state == st {
			return nil
		}
	}
	return fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, op, s.state)
}

// submit submits cb and moves to next on success. Caller must hold the mutex.
func (s *sequencer) submit(q renderer.QueueKind, cb renderer.CommandBuffer, info renderer.SubmitInfo, next State) error {
	if err := s.r.Submit(q, cb, info); err != nil {
		common.Logger().Error("frame submission failed", "frame", s.frame, "state", s.state.String(), "label", cb.Label(), "error", err)
		return fmt.Errorf("sequencer: %s: %w", cb.Label(), err)
	}
	s.state = next
	return nil
}

func (s *sequencer) SubmitCapture(cb renderer.CommandBuffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.expect("capture", StateIdle, StatePresented); err != nil {
		return err
	}
	return s.submit(renderer.QueueGraphics, cb, renderer.SubmitInfo{
		Signals: []renderer.Semaphore{s.capture},
	}, StateCaptureSubmitted)
}

func (s *sequencer) SubmitAnalysis(cb renderer.CommandBuffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.expect("analysis", StateCaptureSubmitted); err != nil {
		return err
	}
	return s.submit(renderer.QueueCompute, cb, renderer.SubmitInfo{
		Waits: []renderer.SemaphoreWait{
			{Semaphore: s.graphics, Stage: renderer.StageComputeShader},
			{Semaphore: s.capture, Stage: renderer.StageComputeShader},
		},
	}, StateAnalysisSubmitted)
}

func (s *sequencer) SubmitRateSurface(cb renderer.CommandBuffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.expect("rate surface", StateAnalysisSubmitted); err != nil {
		return err
	}
	return s.submit(renderer.QueueCompute, cb, renderer.SubmitInfo{
		Signals: []renderer.Semaphore{s.compute},
	}, StateRateSurfaceSubmitted)
}

func (s *sequencer) AcquireImage() (renderer.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.expect("acquire", StateRateSurfaceSubmitted); err != nil {
		return nil, err
	}
	if s.acquired != nil {
		return nil, fmt.Errorf("%w: acquire: image already acquired this frame", ErrInvalidTransition)
	}
	img, err := s.r.AcquireNextImage(s.imageAcquired)
	if err != nil {
		return nil, fmt.Errorf("sequencer: acquire: %w", err)
	}
	s.acquired = img
	return img, nil
}

func (s *sequencer) SubmitMainPass(cb renderer.CommandBuffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.expect("main pass", StateRateSurfaceSubmitted); err != nil {
		return err
	}
	if s.acquired == nil {
		return fmt.Errorf("%w: main pass before acquire", ErrInvalidTransition)
	}
	return s.submit(renderer.QueueGraphics, cb, renderer.SubmitInfo{
		Waits: []renderer.SemaphoreWait{
			{Semaphore: s.compute, Stage: renderer.StageShadingRateImage},
			{Semaphore: s.imageAcquired, Stage: renderer.StageColorAttachmentOutput},
		},
		Signals: []renderer.Semaphore{s.graphics, s.renderComplete},
	}, StateMainPassSubmitted)
}

func (s *sequencer) Present() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.expect("present", StateMainPassSubmitted); err != nil {
		return err
	}
	if err := s.r.Present(s.acquired, s.renderComplete); err != nil {
		common.Logger().Error("present failed", "frame", s.frame, "error", err)
		return fmt.Errorf("sequencer: present: %w", err)
	}
	s.acquired = nil
	s.state = StatePresented
	s.frame++
	return nil
}

func (s *sequencer) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.r.WaitIdle(); err != nil {
		return fmt.Errorf("sequencer: reset: %w", err)
	}
	s.releaseSemaphores()
	if err := s.createSemaphores(); err != nil {
		return err
	}
	s.state, s.seeded, s.acquired = StateIdle, false, nil
	common.Logger().Debug("sequencer reset", "frame", s.frame)
	return nil
}

func (s *sequencer) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseSemaphores()
	s.acquired = nil
}
