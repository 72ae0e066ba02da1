package settings

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-vrs/engine/foveation"
	"github.com/Carmen-Shannon/oxy-vrs/engine/shading_rate"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		check   func(t *testing.T, s Settings)
		wantErr bool
	}{
		{
			name: "empty object keeps defaults",
			doc:  `{}`,
			check: func(t *testing.T, s Settings) {
				if !s.Equal(Default()) {
					t.Errorf("Parse() = %+v, want defaults", s)
				}
			},
		},
		{
			name: "bands replace defaults and are sorted",
			doc:  `{"foveation": {"bands": [{"maxDistance": 9, "rate": "2x2"}, {"maxDistance": 3, "rate": "1x1"}], "fallback": "4x4"}}`,
			check: func(t *testing.T, s Settings) {
				want := []foveation.Band{
					{MaxDistance: 3, Rate: shading_rate.Rate1InvocationPerPixel},
					{MaxDistance: 9, Rate: shading_rate.Rate1InvocationPer2x2Pixels},
				}
				if len(s.Foveation.Bands) != 2 || s.Foveation.Bands[0] != want[0] || s.Foveation.Bands[1] != want[1] {
					t.Errorf("Bands = %v, want %v", s.Foveation.Bands, want)
				}
			},
		},
		{
			name: "partial sections merge over defaults",
			doc:  `{"sensitivities": {"error": 0.2}, "adaptiveShading": false}`,
			check: func(t *testing.T, s Settings) {
				if s.Sensitivities.Error != 0.2 || s.Sensitivities.Brightness != Default().Sensitivities.Brightness {
					t.Errorf("Sensitivities = %+v, want error 0.2 over defaults", s.Sensitivities)
				}
				if s.AdaptiveShading {
					t.Error("AdaptiveShading = true, want false")
				}
				if !s.EnableShadingRate {
					t.Error("EnableShadingRate = false, want the default true")
				}
			},
		},
		{name: "unknown field", doc: `{"quality": 3}`, wantErr: true},
		{name: "unknown rate", doc: `{"foveation": {"fallback": "3x3"}}`, wantErr: true},
		{name: "empty bands", doc: `{"foveation": {"bands": []}}`, wantErr: true},
		{name: "inverted thresholds", doc: `{"thresholds": {"halfRate": 3, "quarterRate": 1}}`, wantErr: true},
		{name: "negative sensitivity", doc: `{"sensitivities": {"motion": -1}}`, wantErr: true},
		{name: "truncated", doc: `{"thresholds": {"halfRate": 1`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse([]byte(tt.doc))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalid) {
					t.Errorf("Parse() error = %v, want %v", err, ErrInvalid)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			tt.check(t, s)
		})
	}
}

func TestValidateRejectsNonFinite(t *testing.T) {
	s := Default()
	s.Foveation.Bands[2].MaxDistance = float32(math.Inf(1))
	if err := s.Validate(); !errors.Is(err, ErrInvalid) {
		t.Errorf("Validate() error = %v, want %v", err, ErrInvalid)
	}

	s = Default()
	s.Sensitivities.Brightness = float32(math.NaN())
	if err := s.Validate(); !errors.Is(err, ErrInvalid) {
		t.Errorf("Validate() error = %v, want %v", err, ErrInvalid)
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := Default()
	c := s.Clone()
	c.Foveation.Bands[0].MaxDistance = 99
	if s.Foveation.Bands[0].MaxDistance == 99 {
		t.Error("Clone() shares the band slice")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vrs.json")
	s := Default()
	s.ColorizeShadingRate = true
	s.Thresholds.QuarterRate = 3
	if err := Save(path, s); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !got.Equal(s) {
		t.Errorf("Load() = %+v, want %+v", got, s)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load(missing) error = %v, want %v", err, os.ErrNotExist)
	}
}

func TestWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vrs.json")
	if err := Save(path, Default()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	got := make(chan Settings, 8)
	if err := Watch(ctx, path, func(s Settings) { got <- s }, WithInitial(Default())); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	// A half-written file is retried, never delivered.
	if err := os.WriteFile(path, []byte(`{"colorizeShadingRate": tr`), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	want := Default()
	want.ColorizeShadingRate = true
	if err := Save(path, want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	select {
	case s := <-got:
		if !s.Equal(want) {
			t.Errorf("delivered %+v, want %+v", s, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no settings delivered")
	}
}
