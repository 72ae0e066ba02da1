// Package analysis estimates, per shading-rate block, how much the previous frame's
// content allows shading to be coarsened. The result is the NAS image: two float
// channels holding the horizontal and vertical headroom of each block.
package analysis

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/Carmen-Shannon/oxy-vrs/common"
	"github.com/Carmen-Shannon/oxy-vrs/engine/assets"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-vrs/engine/shading_rate"
)

// PipelineKey is the key the analysis pipeline is registered under.
const PipelineKey = "analysis"

// DefaultFormats are the NAS formats tried in order.
var DefaultFormats = []renderer.Format{renderer.FormatRG16Float, renderer.FormatRG32Float}

// Usage is the usage of the NAS image.
const Usage = renderer.ImageUsageStorage | renderer.ImageUsageSampled | renderer.ImageUsageTransferSrc

// ErrInvalidSensitivities is returned for negative or non-finite sensitivities.
var ErrInvalidSensitivities = errors.New("analysis: invalid sensitivities")

// Sensitivities tune the analysis. All zero disables adaptivity: every block gets zero
// headroom and the foveation pattern is used as is.
type Sensitivities struct {
	// Brightness biases the threshold so dark blocks still tolerate some error.
	Brightness float32 `json:"brightness"`
	// Error scales the tolerated luminance error.
	Error float32 `json:"error"`
	// Motion damps the measured error by the block's screen-space velocity.
	Motion float32 `json:"motion"`
}

// DefaultSensitivities returns brightness 0.07, error 0.07 and motion 0.5.
func DefaultSensitivities() Sensitivities {
	return Sensitivities{Brightness: 0.07, Error: 0.07, Motion: 0.5}
}

// Validate reports whether every sensitivity is finite and non-negative.
//
// Returns:
//   - error: ErrInvalidSensitivities naming the first bad field, or nil
func (s Sensitivities) Validate() error {
	for _, f := range []struct {
		name string
		v    float32
	}{{"brightness", s.Brightness}, {"error", s.Error}, {"motion", s.Motion}} {
		v := float64(f.v)
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%w: %s = %v", ErrInvalidSensitivities, f.name, f.v)
		}
	}
	return nil
}

// Source is the input of one analysis dispatch.
type Source struct {
	// Color is the capture colour image in LayoutGeneral.
	Color renderer.Image
	// Depth is the capture depth image in LayoutGeneral. nil disables motion.
	Depth renderer.Image
	// Reprojection maps the capture's clip space onto the frame being prepared.
	Reprojection [16]float32
}

// Analysis owns the NAS image and the analysis compute pipeline.
type Analysis interface {
	// Image returns the NAS image, nil before the first Rebuild.
	Image() renderer.Image

	// Format returns the NAS format picked at construction.
	Format() renderer.Format

	// Extent returns the NAS size in blocks.
	Extent() common.Extent2D

	// Pipeline returns the registered compute pipeline.
	Pipeline() pipeline.Pipeline

	// Sensitivities returns the sensitivities in use.
	Sensitivities() Sensitivities

	// SetSensitivities replaces the sensitivities used by later Record calls.
	//
	// Parameters:
	//   - s: the new sensitivities
	//
	// Returns:
	//   - error: ErrInvalidSensitivities
	SetSensitivities(s Sensitivities) error

	// Rebuild releases the NAS image and allocates a new one for a frame size. Callers
	// must make sure the device no longer uses the old image.
	//
	// Parameters:
	//   - frame: the frame size in pixels
	//
	// Returns:
	//   - error: shading_rate.ErrZeroExtent or ErrOutOfMemory
	Rebuild(frame common.Extent2D) error

	// Record records the analysis dispatch into a compute command buffer, one workgroup
	// per block.
	//
	// Parameters:
	//   - cb: the compute command buffer
	//   - src: the capture images and reprojection
	Record(cb renderer.CommandBuffer, src Source)

	// Release frees the NAS image.
	Release()
}

// analysis is the implementation of the Analysis interface.
type analysis struct {
	mu sync.Mutex

	r        renderer.Renderer
	label    string
	sens     Sensitivities
	format   renderer.Format
	pipeline pipeline.Pipeline

	frame  common.Extent2D
	blocks common.Extent2D
	image  renderer.Image
	primed bool
}

var _ Analysis = &analysis{}

// NewAnalysis picks the NAS format and registers the analysis pipeline.
//
// Parameters:
//   - r: the renderer
//   - options: variadic list of AnalysisBuilderOption functions
//
// Returns:
//   - Analysis: the analysis
//   - error: ErrUnsupportedFormat, or an error loading the shader
func NewAnalysis(r renderer.Renderer, options ...AnalysisBuilderOption) (Analysis, error) {
	a := &analysis{
		r:     r,
		label: "analysis",
		sens:  DefaultSensitivities(),
	}
	for _, opt := range options {
		opt(a)
	}

	format, err := r.Capabilities().FirstStorageFormat(DefaultFormats...)
	if err != nil {
		return nil, fmt.Errorf("analysis: %w", err)
	}
	a.format = format

	if a.pipeline = r.Pipeline(PipelineKey); a.pipeline == nil {
		cs, err := r.CompileAndLoadShader(assets.AnalysisShader, shader.ShaderTypeCompute)
		if err != nil {
			return nil, fmt.Errorf("analysis: %w", err)
		}
		a.pipeline = pipeline.NewPipeline(PipelineKey, pipeline.PipelineTypeCompute,
			pipeline.WithComputeShader(cs),
			pipeline.WithKernel(Kernel),
		)
		if err := r.RegisterPipelines(a.pipeline); err != nil {
			return nil, fmt.Errorf("analysis: register pipeline: %w", err)
		}
	}
	common.Logger().Debug("analysis created", "format", format.String())
	return a, nil
}

func (a *analysis) Image() renderer.Image {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.image
}

func (a *analysis) Format() renderer.Format {
	return a.format
}

func (a *analysis) Extent() common.Extent2D {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.blocks
}

func (a *analysis) Pipeline() pipeline.Pipeline {
	return a.pipeline
}

func (a *analysis) Sensitivities() Sensitivities {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sens
}

func (a *analysis) SetSensitivities(s Sensitivities) error {
	if err := s.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sens = s
	return nil
}

func (a *analysis) Rebuild(frame common.Extent2D) error {
	blocks, err := shading_rate.Extent(int(frame.Width), int(frame.Height), a.r.Capabilities().ShadingRateTexelSize)
	if err != nil {
		return fmt.Errorf("analysis: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.image != nil {
		a.image.Release()
		a.image = nil
	}
	img, err := a.r.AllocateImage(renderer.ImageDescriptor{
		Label:   a.label + " nas",
		Width:   blocks.Width,
		Height:  blocks.Height,
		Format:  a.format,
		Usage:   Usage,
		Sharing: renderer.SharingExclusive,
	})
	if err != nil {
		return fmt.Errorf("analysis: %w", err)
	}
	a.image, a.frame, a.blocks, a.primed = img, frame, blocks, false
	common.Logger().Debug("analysis rebuilt", "extent", frame.String(), "blocks", blocks.String())
	return nil
}

// params builds the uniform block. Caller must hold the mutex.
func (a *analysis) params(src Source) GPUAnalysisParams {
	texel := a.r.Capabilities().ShadingRateTexelSize
	w, h := float32(a.frame.Width), float32(a.frame.Height)
	return GPUAnalysisParams{
		Reprojection:          src.Reprojection,
		SourceSize:            [2]float32{w, h},
		SourceSizeInv:         [2]float32{1 / w, 1 / h},
		BlockSize:             [2]uint32{texel.Width, texel.Height},
		Blocks:                [2]uint32{a.blocks.Width, a.blocks.Height},
		BrightnessSensitivity: a.sens.Brightness,
		ErrorSensitivity:      a.sens.Error,
		MotionSensitivity:     a.sens.Motion,
		Epsilon:               Epsilon,
	}
}

func (a *analysis) Record(cb renderer.CommandBuffer, src Source) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.primed {
		cb.TransitionLayout(a.image, renderer.LayoutUndefined, renderer.LayoutGeneral, renderer.AspectColor)
		a.primed = true
	}
	p := a.params(src)
	bindings := renderer.Bindings{
		0: renderer.UniformBinding(p.Marshal()),
		1: renderer.ImageBinding(src.Color),
		3: renderer.ImageBinding(a.image),
	}
	if src.Depth != nil {
		bindings[2] = renderer.ImageBinding(src.Depth)
	}
	cb.Dispatch(a.pipeline, bindings, a.blocks.Width, a.blocks.Height, 1)
}

func (a *analysis) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.image != nil {
		a.image.Release()
		a.image = nil
	}
	a.frame, a.blocks = common.Extent2D{}, common.Extent2D{}
}
