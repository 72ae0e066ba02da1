package scene

// SceneBuilderOption is a functional option for configuring a Scene.
// Use the With* functions to create options.
type SceneBuilderOption func(s *scene)

// WithTime sets the initial animation time.
//
// Parameters:
//   - t: the animation time in seconds
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithTime(t float32) SceneBuilderOption {
	return func(s *scene) {
		s.time = t
	}
}

// WithFrozen stops the animation, so every frame renders the same scene. Useful for
// deterministic headless runs.
//
// Parameters:
//   - frozen: true to stop the animation
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithFrozen(frozen bool) SceneBuilderOption {
	return func(s *scene) {
		s.frozen = frozen
	}
}
