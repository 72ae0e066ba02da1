package foveation

import (
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-vrs/common"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer"
	"github.com/Carmen-Shannon/oxy-vrs/engine/shading_rate"
)

// surface is the implementation of the Surface interface.
type surface struct {
	mu sync.Mutex

	r     renderer.Renderer
	label string
	table ThresholdTable

	frame   common.Extent2D
	pattern shading_rate.Pattern
	image   renderer.Image
}

// Surface owns the device copy of the static foveation pattern. The image stays in
// LayoutGeneral between uploads and is read by the main pass and the synthesis kernel.
type Surface interface {
	// Image returns the uploaded pattern image, nil before the first Rebuild.
	Image() renderer.Image

	// Pattern returns the CPU copy of the uploaded pattern.
	Pattern() shading_rate.Pattern

	// Extent returns the pattern size in texels.
	Extent() common.Extent2D

	// Table returns the threshold table in use.
	Table() ThresholdTable

	// Rebuild regenerates the pattern for a frame size and uploads it into a new image.
	// The previous image is released. Callers must make sure the device no longer uses it.
	//
	// Parameters:
	//   - frame: the render target size in pixels
	//
	// Returns:
	//   - error: ErrZeroExtent, ErrOutOfMemory or a submission error
	Rebuild(frame common.Extent2D) error

	// SetTable replaces the threshold table and, once built, uploads the new pattern at
	// the current frame size.
	//
	// Parameters:
	//   - table: the new table
	//
	// Returns:
	//   - error: ErrInvalidTable or an upload error
	SetTable(table ThresholdTable) error

	// Release frees the device image.
	Release()
}

var _ Surface = &surface{}

// NewSurface creates an empty pattern surface. Nothing is allocated until Rebuild.
//
// Parameters:
//   - r: the renderer that owns the device
//   - options: variadic list of SurfaceBuilderOption functions
//
// Returns:
//   - Surface: the surface
func NewSurface(r renderer.Renderer, options ...SurfaceBuilderOption) Surface {
	s := &surface{
		r:     r,
		label: "foveation",
		table: DefaultThresholdTable(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

func (s *surface) Image() renderer.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.image
}

func (s *surface) Pattern() shading_rate.Pattern {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pattern
}

func (s *surface) Extent() common.Extent2D {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pattern.Extent
}

func (s *surface) Table() ThresholdTable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.Clone()
}

func (s *surface) Rebuild(frame common.Extent2D) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rebuild(frame)
}

func (s *surface) SetTable(table ThresholdTable) error {
	if err := table.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table = table.Clone()
	if s.frame.IsZero() {
		return nil
	}
	return s.rebuild(s.frame)
}

func (s *surface) rebuild(frame common.Extent2D) error {
	extent, err := shading_rate.Extent(int(frame.Width), int(frame.Height), s.r.Capabilities().ShadingRateTexelSize)
	if err != nil {
		return fmt.Errorf("foveation: %w", err)
	}
	pattern, err := Generate(extent, frame, s.table)
	if err != nil {
		return err
	}
	img, err := s.upload(pattern)
	if err != nil {
		return err
	}
	if s.image != nil {
		s.image.Release()
	}
	s.frame, s.pattern, s.image = frame, pattern, img
	common.Logger().Debug("foveation pattern uploaded", "extent", extent.String(), "ratio", pattern.InvocationRatio())
	return nil
}

// upload stages the pattern through a host-visible buffer and copies it into a new
// device image, leaving the image in LayoutGeneral. It blocks until the copy ran.
func (s *surface) upload(p shading_rate.Pattern) (renderer.Image, error) {
	data := p.Bytes()
	staging, err := s.r.AllocateBuffer(renderer.BufferDescriptor{
		Label:  s.label + "-staging",
		Size:   len(data),
		Usage:  renderer.BufferUsageTransferSrc,
		Memory: renderer.MemoryHostVisible,
	})
	if err != nil {
		return nil, fmt.Errorf("foveation: staging buffer: %w", err)
	}
	defer staging.Release()
	if err := staging.Write(0, data); err != nil {
		return nil, fmt.Errorf("foveation: staging write: %w", err)
	}

	img, err := s.r.AllocateImage(renderer.ImageDescriptor{
		Label:   s.label,
		Width:   p.Extent.Width,
		Height:  p.Extent.Height,
		Format:  renderer.FormatR8Uint,
		Usage:   renderer.ImageUsageShadingRate | renderer.ImageUsageTransferDst | renderer.ImageUsageSampled | renderer.ImageUsageTransferSrc,
		Sharing: s.r.Capabilities().SharingFor(),
	})
	if err != nil {
		return nil, fmt.Errorf("foveation: pattern image: %w", err)
	}

	cb := s.r.NewCommandBuffer(renderer.QueueGraphics, s.label+"-upload")
	cb.TransitionLayout(img, renderer.LayoutUndefined, renderer.LayoutTransferDst, renderer.AspectColor)
	cb.CopyBufferToImage(staging, img)
	cb.TransitionLayout(img, renderer.LayoutTransferDst, renderer.LayoutGeneral, renderer.AspectColor)
	if err := s.r.Submit(renderer.QueueGraphics, cb, renderer.SubmitInfo{}); err != nil {
		img.Release()
		return nil, fmt.Errorf("foveation: upload: %w", err)
	}
	if err := s.r.WaitQueueIdle(renderer.QueueGraphics); err != nil {
		img.Release()
		return nil, fmt.Errorf("foveation: upload: %w", err)
	}
	return img, nil
}

func (s *surface) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.image != nil {
		s.image.Release()
		s.image = nil
	}
	s.frame = common.Extent2D{}
}
