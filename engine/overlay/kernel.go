package overlay

import "github.com/Carmen-Shannon/oxy-vrs/engine/renderer/pipeline"

// Shade is the software fragment kernel of the overlay program.
func Shade(f pipeline.Fragment, res pipeline.Resources) pipeline.FragmentOutput {
	var p GPUOverlayParams
	if err := p.Unmarshal(res.Uniform(0)); err != nil {
		return pipeline.FragmentOutput{Discard: true}
	}
	edge := min(f.U, f.V, 1-f.U, 1-f.V)
	if edge < p.BorderWidth {
		return pipeline.FragmentOutput{Color: p.Border}
	}
	if p.Mode != ModeCapture {
		return pipeline.FragmentOutput{Color: p.Tint}
	}
	src := res.Image(1)
	if src == nil {
		return pipeline.FragmentOutput{Discard: true}
	}
	c := src.Sample(f.U, f.V)
	return pipeline.FragmentOutput{Color: [4]float32{c[0] * p.Tint[0], c[1] * p.Tint[1], c[2] * p.Tint[2], p.Tint[3]}}
}
