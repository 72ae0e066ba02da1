// Package foveation builds the static shading-rate pattern: concentric, aspect-corrected
// bands around the screen centre, finest in the middle and coarser toward the edges.
package foveation

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/Carmen-Shannon/oxy-vrs/common"
	"github.com/Carmen-Shannon/oxy-vrs/engine/shading_rate"
)

// ErrInvalidTable is returned when a threshold table names an invalid rate, a
// non-finite or duplicate threshold, or has no bands.
var ErrInvalidTable = errors.New("foveation: invalid threshold table")

// Band assigns Rate to texels closer to the centre than MaxDistance, measured in texels.
type Band struct {
	MaxDistance float32           `json:"maxDistance"`
	Rate        shading_rate.Rate `json:"rate"`
}

// ThresholdTable maps radial distance to a palette entry. Bands are kept sorted by
// MaxDistance; texels beyond the last band get Fallback.
type ThresholdTable struct {
	Bands    []Band            `json:"bands"`
	Fallback shading_rate.Rate `json:"fallback"`
}

// DefaultThresholdTable returns the stock banding: full rate within 8 texels of the
// centre, 4x4 beyond 24.
func DefaultThresholdTable() ThresholdTable {
	return ThresholdTable{
		Bands: []Band{
			{MaxDistance: 8, Rate: shading_rate.Rate1InvocationPerPixel},
			{MaxDistance: 12, Rate: shading_rate.Rate1InvocationPer2x1Pixels},
			{MaxDistance: 16, Rate: shading_rate.Rate1InvocationPer1x2Pixels},
			{MaxDistance: 18, Rate: shading_rate.Rate1InvocationPer2x2Pixels},
			{MaxDistance: 20, Rate: shading_rate.Rate1InvocationPer4x2Pixels},
			{MaxDistance: 24, Rate: shading_rate.Rate1InvocationPer2x4Pixels},
		},
		Fallback: shading_rate.Rate1InvocationPer4x4Pixels,
	}
}

// NewThresholdTable copies and sorts bands, then validates the result.
//
// Parameters:
//   - bands: the bands in any order
//   - fallback: the rate for texels beyond every band
//
// Returns:
//   - ThresholdTable: the sorted table
//   - error: ErrInvalidTable if validation fails
func NewThresholdTable(bands []Band, fallback shading_rate.Rate) (ThresholdTable, error) {
	t := ThresholdTable{Bands: slices.Clone(bands), Fallback: fallback}
	slices.SortStableFunc(t.Bands, func(a, b Band) int {
		switch {
		case a.MaxDistance < b.MaxDistance:
			return -1
		case a.MaxDistance > b.MaxDistance:
			return 1
		default:
			return 0
		}
	})
	if err := t.Validate(); err != nil {
		return ThresholdTable{}, err
	}
	return t, nil
}

// Validate checks that the table is usable by Generate.
func (t ThresholdTable) Validate() error {
	if len(t.Bands) == 0 {
		return fmt.Errorf("%w: no bands", ErrInvalidTable)
	}
	if !t.Fallback.Valid() {
		return fmt.Errorf("%w: fallback %d", ErrInvalidTable, uint8(t.Fallback))
	}
	for i, b := range t.Bands {
		d := float64(b.MaxDistance)
		if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
			return fmt.Errorf("%w: band %d distance %v", ErrInvalidTable, i, b.MaxDistance)
		}
		if !b.Rate.Valid() {
			return fmt.Errorf("%w: band %d rate %d", ErrInvalidTable, i, uint8(b.Rate))
		}
		if i > 0 {
			prev := t.Bands[i-1].MaxDistance
			if b.MaxDistance == prev {
				return fmt.Errorf("%w: duplicate distance %v", ErrInvalidTable, b.MaxDistance)
			}
			if b.MaxDistance < prev {
				return fmt.Errorf("%w: band %d is not sorted", ErrInvalidTable, i)
			}
		}
	}
	return nil
}

// RateAt returns the first band whose threshold exceeds d, or the fallback.
func (t ThresholdTable) RateAt(d float32) shading_rate.Rate {
	for _, b := range t.Bands {
		if d < b.MaxDistance {
			return b.Rate
		}
	}
	return t.Fallback
}

// Clone returns a copy that shares no memory with t.
func (t ThresholdTable) Clone() ThresholdTable {
	return ThresholdTable{Bands: slices.Clone(t.Bands), Fallback: t.Fallback}
}

// Generate fills a pattern of the given extent. Each texel's distance from the centre
// uses dx = w/2 - x and dy = (h/2 - y) * W/H, where w, h is the extent in texels and
// W, H the frame in pixels, so the bands are ellipses matching the viewport aspect even
// when the frame is not a multiple of the texel size.
//
// Parameters:
//   - extent: the shading-rate image size in texels
//   - frame: the render target size in pixels
//   - table: a validated threshold table
//
// Returns:
//   - shading_rate.Pattern: the generated pattern, identical for identical inputs
//   - error: shading_rate.ErrZeroExtent or ErrInvalidTable
func Generate(extent, frame common.Extent2D, table ThresholdTable) (shading_rate.Pattern, error) {
	if extent.IsZero() || frame.IsZero() {
		return shading_rate.Pattern{}, fmt.Errorf("%w: pattern %s for frame %s", shading_rate.ErrZeroExtent, extent, frame)
	}
	if err := table.Validate(); err != nil {
		return shading_rate.Pattern{}, err
	}
	w, h := float64(extent.Width), float64(extent.Height)
	aspect := float64(frame.Width) / float64(frame.Height)
	p := shading_rate.NewPattern(extent, table.Fallback)
	for y := range int(extent.Height) {
		dy := (h/2 - float64(y)) * aspect
		for x := range int(extent.Width) {
			dx := w/2 - float64(x)
			p.Set(x, y, table.RateAt(float32(math.Sqrt(dx*dx+dy*dy))))
		}
	}
	return p, nil
}
