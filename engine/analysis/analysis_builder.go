package analysis

import "fmt"

// AnalysisBuilderOption is a functional option for configuring an Analysis.
type AnalysisBuilderOption func(a *analysis)

// WithSensitivities sets the initial sensitivities. Panics if they are invalid.
//
// Parameters:
//   - s: the sensitivities
//
// Returns:
//   - AnalysisBuilderOption: option function to apply
func WithSensitivities(s Sensitivities) AnalysisBuilderOption {
	if err := s.Validate(); err != nil {
		panic(fmt.Sprintf("analysis: WithSensitivities: %v", err))
	}
	return func(a *analysis) {
		a.sens = s
	}
}

// WithLabel sets the debug label prefix of the NAS image. Defaults to "analysis".
func WithLabel(label string) AnalysisBuilderOption {
	return func(a *analysis) {
		a.label = label
	}
}
