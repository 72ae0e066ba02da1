package synthesis

import (
	"errors"
	"fmt"
	"math"

	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-vrs/engine/shading_rate"
)

// WorkgroupSize is the edge of the square workgroup of the synthesis program.
const WorkgroupSize = 8

// ErrInvalidThresholds is returned when the quarter-rate threshold is below the
// half-rate threshold or either is not a positive finite number.
var ErrInvalidThresholds = errors.New("synthesis: invalid thresholds")

// Thresholds are the headroom levels at which an axis is coarsened.
type Thresholds struct {
	// HalfRate is the headroom at which an axis shades every second pixel.
	HalfRate float32 `json:"halfRate"`
	// QuarterRate is the headroom at which an axis shades every fourth pixel.
	QuarterRate float32 `json:"quarterRate"`
}

// DefaultThresholds returns half rate at 1 and quarter rate at 2.13.
func DefaultThresholds() Thresholds {
	return Thresholds{HalfRate: 1, QuarterRate: 2.13}
}

// Validate reports whether the thresholds are positive, finite and ordered.
func (t Thresholds) Validate() error {
	for _, v := range []float32{t.HalfRate, t.QuarterRate} {
		if f := float64(v); math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
			return fmt.Errorf("%w: %+v", ErrInvalidThresholds, t)
		}
	}
	if t.QuarterRate < t.HalfRate {
		return fmt.Errorf("%w: quarter rate %v below half rate %v", ErrInvalidThresholds, t.QuarterRate, t.HalfRate)
	}
	return nil
}

// AxisFragment returns the fragment extent one axis may use for headroom h: 4, 2 or 1.
func (t Thresholds) AxisFragment(h float32) int {
	switch {
	case h >= t.QuarterRate:
		return 4
	case h >= t.HalfRate:
		return 2
	default:
		return 1
	}
}

// Combine returns the final rate of one texel: the palette entry with the largest
// fragment fitting both axes' headroom, or the static rate when that is coarser.
//
// Parameters:
//   - base: the static foveation rate
//   - hx, hy: the horizontal and vertical headroom
//
// Returns:
//   - shading_rate.Rate: never finer than base
func (t Thresholds) Combine(base shading_rate.Rate, hx, hy float32) shading_rate.Rate {
	candidate := shading_rate.FromFragmentSize(t.AxisFragment(hx), t.AxisFragment(hy))
	return shading_rate.Coarsest(base, candidate)
}

// Kernel is the software kernel of the synthesis program. Each workgroup covers an 8x8
// tile of the rate surface.
func Kernel(wg pipeline.Workgroup, res pipeline.Resources) {
	var p GPUSynthesisParams
	if err := p.Unmarshal(res.Uniform(0)); err != nil {
		return
	}
	nas, static, out := res.Image(1), res.Image(2), res.Image(3)
	if nas == nil || static == nil || out == nil {
		return
	}
	t := Thresholds{HalfRate: p.HalfRate, QuarterRate: p.QuarterRate}
	x0, y0 := wg.ID[0]*WorkgroupSize, wg.ID[1]*WorkgroupSize
	for y := y0; y < min(y0+WorkgroupSize, p.Extent[1]); y++ {
		for x := x0; x < min(x0+WorkgroupSize, p.Extent[0]); x++ {
			h := nas.Load(int(x), int(y))
			base := shading_rate.Rate(static.LoadUint(int(x), int(y)))
			out.StoreUint(int(x), int(y), uint32(t.Combine(base, h[0], h[1])))
		}
	}
}
