package shading_rate

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestRateQualityOrdering(t *testing.T) {
	tests := []struct {
		name string
		rate Rate
		want float32
	}{
		{"none", RateNoInvocations, 0},
		{"16/px", Rate16InvocationsPerPixel, 16},
		{"2/px", Rate2InvocationsPerPixel, 2},
		{"1x1", Rate1InvocationPerPixel, 1},
		{"2x1", Rate1InvocationPer2x1Pixels, 0.5},
		{"1x2", Rate1InvocationPer1x2Pixels, 0.5},
		{"2x2", Rate1InvocationPer2x2Pixels, 0.25},
		{"4x2", Rate1InvocationPer4x2Pixels, 0.125},
		{"2x4", Rate1InvocationPer2x4Pixels, 0.125},
		{"4x4", Rate1InvocationPer4x4Pixels, 0.0625},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rate.Quality(); got != tt.want {
				t.Errorf("Quality() = %v, want %v", got, tt.want)
			}
			if got := tt.rate.String(); got != tt.name {
				t.Errorf("String() = %q, want %q", got, tt.name)
			}
		})
	}
}

func TestFromFragmentSize(t *testing.T) {
	tests := []struct {
		fx, fy int
		want   Rate
	}{
		{1, 1, Rate1InvocationPerPixel},
		{0, 0, Rate1InvocationPerPixel},
		{2, 1, Rate1InvocationPer2x1Pixels},
		{4, 1, Rate1InvocationPer2x1Pixels},
		{1, 4, Rate1InvocationPer1x2Pixels},
		{2, 2, Rate1InvocationPer2x2Pixels},
		{4, 2, Rate1InvocationPer4x2Pixels},
		{2, 4, Rate1InvocationPer2x4Pixels},
		{4, 4, Rate1InvocationPer4x4Pixels},
	}
	for _, tt := range tests {
		if got := FromFragmentSize(tt.fx, tt.fy); got != tt.want {
			t.Errorf("FromFragmentSize(%d, %d) = %v, want %v", tt.fx, tt.fy, got, tt.want)
		}
	}
}

func TestCoarsestNeverRefinesBase(t *testing.T) {
	for _, base := range Palette() {
		for _, other := range Palette() {
			got := Coarsest(base, other)
			if got.Quality() > base.Quality() {
				t.Fatalf("Coarsest(%v, %v) = %v, finer than base", base, other, got)
			}
			if base.Quality() == other.Quality() && got != base {
				t.Fatalf("Coarsest(%v, %v) = %v, want base on ties", base, other, got)
			}
		}
	}
}

func TestRateTextRoundTrip(t *testing.T) {
	type wrapper struct {
		Rates []Rate `json:"rates"`
	}
	in := wrapper{Rates: []Rate{Rate1InvocationPerPixel, Rate1InvocationPer4x2Pixels, RateNoInvocations}}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	if want := `{"rates":["1x1","4x2","none"]}`; string(data) != want {
		t.Errorf("json.Marshal() = %s, want %s", data, want)
	}
	var out wrapper
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	for i := range in.Rates {
		if out.Rates[i] != in.Rates[i] {
			t.Errorf("Rates[%d] = %v, want %v", i, out.Rates[i], in.Rates[i])
		}
	}
}

func TestParseRateRejectsUnknown(t *testing.T) {
	if _, err := ParseRate("3x3"); !errors.Is(err, ErrInvalidRate) {
		t.Errorf("ParseRate(3x3) error = %v, want ErrInvalidRate", err)
	}
	if _, err := Rate(12).MarshalText(); !errors.Is(err, ErrInvalidRate) {
		t.Errorf("Rate(12).MarshalText() error = %v, want ErrInvalidRate", err)
	}
}
