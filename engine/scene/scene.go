package scene

import (
	"fmt"
	"math"
	"sync"

	"github.com/Carmen-Shannon/oxy-vrs/common"
	"github.com/Carmen-Shannon/oxy-vrs/engine/assets"
	"github.com/Carmen-Shannon/oxy-vrs/engine/camera"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer/shader"
)

// PipelineKey is the key the scene pipeline is registered under.
const PipelineKey = "scene"

// View is the camera state a scene draw is rendered from.
type View struct {
	ViewProjection        [16]float32
	InverseViewProjection [16]float32
	Position              [3]float32
	Time                  float32
}

// Scene is the procedural test scene: a checkered ground plane and three lit spheres,
// ray cast per fragment by a full-viewport draw. The same draw is recorded by the
// capture pass and the main pass.
// Thread-safe for concurrent access.
type Scene interface {
	// Pipeline returns the registered render pipeline.
	Pipeline() pipeline.Pipeline

	// Time returns the current animation time in seconds.
	Time() float32

	// PreviousTime returns the animation time of the previous frame.
	PreviousTime() float32

	// Advance moves the animation forward. The current time becomes the previous time.
	// Has no effect on a frozen scene beyond rolling the previous time.
	//
	// Parameters:
	//   - dt: elapsed time since the last frame in seconds
	Advance(dt float32)

	// Frozen reports whether the animation is stopped.
	Frozen() bool

	// SetFrozen stops or resumes the animation.
	SetFrozen(frozen bool)

	// CurrentView returns the view of the frame being prepared.
	//
	// Parameters:
	//   - cam: the camera
	//
	// Returns:
	//   - View: the camera's current matrices and the current time
	CurrentView(cam camera.Camera) View

	// PreviousView returns the view of the last completed frame, which the capture pass
	// renders.
	//
	// Parameters:
	//   - cam: the camera
	//
	// Returns:
	//   - View: the camera's previous matrices and the previous time
	PreviousView(cam camera.Camera) View

	// Uniforms builds the uniform block for one draw.
	//
	// Parameters:
	//   - view: the view to render
	//   - target: the render target size in pixels
	//   - colorize: true to tint fragments by their shading rate
	//
	// Returns:
	//   - GPUSceneUniforms: the uniform block
	Uniforms(view View, target common.Extent2D, colorize bool) GPUSceneUniforms

	// Draw records the scene draw into the current render pass of cb.
	//
	// Parameters:
	//   - cb: a command buffer inside a render pass
	//   - u: the uniforms of the draw
	Draw(cb renderer.CommandBuffer, u GPUSceneUniforms)
}

// scene is the implementation of the Scene interface.
type scene struct {
	mu *sync.RWMutex

	r        renderer.Renderer
	pipeline pipeline.Pipeline

	time     float32
	prevTime float32
	frozen   bool
}

var _ Scene = &scene{}

// NewScene loads the scene shader, registers its pipeline with r and returns the Scene.
// The pipeline is shared by every scene created on the same renderer.
//
// Parameters:
//   - r: the renderer
//   - options: variadic list of SceneBuilderOption functions
//
// Returns:
//   - Scene: the scene
//   - error: an error if the shader cannot be loaded or the pipeline cannot be registered
func NewScene(r renderer.Renderer, options ...SceneBuilderOption) (Scene, error) {
	s := &scene{
		mu: &sync.RWMutex{},
		r:  r,
	}
	for _, opt := range options {
		opt(s)
	}
	s.prevTime = s.time

	if p := r.Pipeline(PipelineKey); p != nil {
		s.pipeline = p
		return s, nil
	}
	vs, err := r.CompileAndLoadShader(assets.SceneShader, shader.ShaderTypeVertex)
	if err != nil {
		return nil, fmt.Errorf("scene: %w", err)
	}
	fs, err := r.CompileAndLoadShader(assets.SceneShader, shader.ShaderTypeFragment)
	if err != nil {
		return nil, fmt.Errorf("scene: %w", err)
	}
	s.pipeline = pipeline.NewPipeline(PipelineKey, pipeline.PipelineTypeRender,
		pipeline.WithRenderShaders(vs, fs),
		pipeline.WithFragmentKernel(Shade),
	)
	if err := r.RegisterPipelines(s.pipeline); err != nil {
		return nil, fmt.Errorf("scene: register pipeline: %w", err)
	}
	common.Logger().Debug("scene pipeline registered", "key", PipelineKey)
	return s, nil
}

func (s *scene) Pipeline() pipeline.Pipeline {
	return s.pipeline
}

func (s *scene) Time() float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.time
}

func (s *scene) PreviousTime() float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prevTime
}

func (s *scene) Advance(dt float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prevTime = s.time
	if s.frozen {
		return
	}
	// Keep the bob phase in a range where float32 still resolves small steps.
	s.time = float32(math.Mod(float64(s.time+dt), 2*math.Pi*64))
}

func (s *scene) Frozen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frozen
}

func (s *scene) SetFrozen(frozen bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = frozen
}

func (s *scene) CurrentView(cam camera.Camera) View {
	return viewOf(cam.Current(), s.Time())
}

func (s *scene) PreviousView(cam camera.Camera) View {
	return viewOf(cam.Previous(), s.PreviousTime())
}

func viewOf(snap camera.Snapshot, t float32) View {
	return View{
		ViewProjection:        snap.ViewProjection,
		InverseViewProjection: snap.InverseViewProjection,
		Position:              snap.Position,
		Time:                  t,
	}
}

func (s *scene) Uniforms(view View, target common.Extent2D, colorize bool) GPUSceneUniforms {
	texel := s.r.Capabilities().ShadingRateTexelSize
	u := GPUSceneUniforms{
		ViewProj:       view.ViewProjection,
		InvViewProj:    view.InverseViewProjection,
		CameraPosition: [4]float32{view.Position[0], view.Position[1], view.Position[2], 1},
		TargetSize:     [2]float32{float32(target.Width), float32(target.Height)},
		TexelSize:      [2]uint32{texel.Width, texel.Height},
		Time:           view.Time,
	}
	if colorize {
		u.Colorize = 1
	}
	return u
}

func (s *scene) Draw(cb renderer.CommandBuffer, u GPUSceneUniforms) {
	cb.Draw(renderer.DrawCommand{
		Pipeline: s.pipeline,
		Bindings: renderer.Bindings{0: renderer.UniformBinding(u.Marshal())},
	})
}
