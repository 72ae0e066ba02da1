package synthesis

import "fmt"

// SynthesisBuilderOption is a functional option for configuring a Synthesis.
type SynthesisBuilderOption func(s *synthesis)

// WithThresholds sets the initial headroom thresholds. Panics if they are invalid.
//
// Parameters:
//   - t: the thresholds
//
// Returns:
//   - SynthesisBuilderOption: option function to apply
func WithThresholds(t Thresholds) SynthesisBuilderOption {
	if err := t.Validate(); err != nil {
		panic(fmt.Sprintf("synthesis: WithThresholds: %v", err))
	}
	return func(s *synthesis) {
		s.thresholds = t
	}
}

// WithLabel sets the debug label prefix of the rate surface. Defaults to "synthesis".
func WithLabel(label string) SynthesisBuilderOption {
	return func(s *synthesis) {
		s.label = label
	}
}
