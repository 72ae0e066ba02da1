package foveation

// SurfaceBuilderOption configures a Surface created by NewSurface.
type SurfaceBuilderOption func(*surface)

// WithThresholdTable sets the initial threshold table. It panics if the table is invalid.
//
// Parameters:
//   - table: the threshold table
//
// Returns:
//   - SurfaceBuilderOption: a function that applies the table
func WithThresholdTable(table ThresholdTable) SurfaceBuilderOption {
	if err := table.Validate(); err != nil {
		panic(err)
	}
	return func(s *surface) {
		s.table = table.Clone()
	}
}

// WithLabel sets the debug label of the pattern image.
func WithLabel(label string) SurfaceBuilderOption {
	return func(s *surface) {
		s.label = label
	}
}
