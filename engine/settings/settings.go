// Package settings loads the tunables of the adaptive shading pipeline from a JSON file
// and hot-reloads them while the engine runs.
package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"reflect"

	"github.com/Carmen-Shannon/oxy-vrs/engine/analysis"
	"github.com/Carmen-Shannon/oxy-vrs/engine/foveation"
	"github.com/Carmen-Shannon/oxy-vrs/engine/synthesis"
	"github.com/barkimedes/go-deepcopy"
	"github.com/mitchellh/reflectwalk"
)

// ErrInvalid is returned when a settings file cannot be decoded or holds values the
// pipeline would reject.
var ErrInvalid = errors.New("settings: invalid settings")

// Settings are the runtime tunables of the pipeline. Fields missing from a file keep
// their Default values.
type Settings struct {
	// Foveation is the radial banding of the static pattern.
	Foveation foveation.ThresholdTable `json:"foveation"`
	// Sensitivities tune the analysis headroom.
	Sensitivities analysis.Sensitivities `json:"sensitivities"`
	// Thresholds map headroom to per-axis coarsening.
	Thresholds synthesis.Thresholds `json:"thresholds"`

	AdaptiveShading     bool `json:"adaptiveShading"`
	ColorizeShadingRate bool `json:"colorizeShadingRate"`
	EnableShadingRate   bool `json:"enableShadingRate"`
}

// Default returns the stock settings: adaptive shading on, rate binding on, no tint.
func Default() Settings {
	return Settings{
		Foveation:         foveation.DefaultThresholdTable(),
		Sensitivities:     analysis.DefaultSensitivities(),
		Thresholds:        synthesis.DefaultThresholds(),
		AdaptiveShading:   true,
		EnableShadingRate: true,
	}
}

// Clone returns a deep copy that shares no slices with s.
func (s Settings) Clone() Settings {
	c, err := deepcopy.Anything(s)
	if err != nil {
		// Settings hold only plain data; a copy cannot fail.
		panic(fmt.Sprintf("settings: clone: %v", err))
	}
	return c.(Settings)
}

// Equal reports whether both settings hold the same values.
func (s Settings) Equal(o Settings) bool {
	return reflect.DeepEqual(s, o)
}

// Validate checks that every number is finite and that each component accepts its part.
//
// Returns:
//   - error: ErrInvalid wrapping the first problem found
func (s Settings) Validate() error {
	w := &finiteWalker{}
	if err := reflectwalk.Walk(s, w); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	for _, err := range []error{s.Foveation.Validate(), s.Sensitivities.Validate(), s.Thresholds.Validate()} {
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	return nil
}

// finiteWalker rejects NaN and infinite floats anywhere in the walked value.
type finiteWalker struct {
	field string
}

func (w *finiteWalker) Struct(reflect.Value) error {
	return nil
}

func (w *finiteWalker) StructField(f reflect.StructField, _ reflect.Value) error {
	w.field = f.Name
	return nil
}

func (w *finiteWalker) Primitive(v reflect.Value) error {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		if f := v.Float(); math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%s is %v", w.field, f)
		}
	}
	return nil
}

// Parse decodes a settings document over Default and validates it. Unknown fields are
// rejected.
//
// Parameters:
//   - data: the JSON document
//
// Returns:
//   - Settings: the decoded settings
//   - error: ErrInvalid
func Parse(data []byte) (Settings, error) {
	s := Default()
	// Bands replace the defaults wholesale rather than merging by index.
	s.Foveation.Bands = nil
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return Settings{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if s.Foveation.Bands == nil {
		s.Foveation.Bands = foveation.DefaultThresholdTable().Bands
	}
	table, err := foveation.NewThresholdTable(s.Foveation.Bands, s.Foveation.Fallback)
	if err != nil {
		return Settings{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	s.Foveation = table
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Load reads and parses the settings file at path.
//
// Parameters:
//   - path: the settings file
//
// Returns:
//   - Settings: the decoded settings
//   - error: an fs error or ErrInvalid
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("settings: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return Settings{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Save writes s to path as indented JSON.
func Save(path string, s Settings) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	return nil
}
