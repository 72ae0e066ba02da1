package analysis

import (
	"math"

	"github.com/Carmen-Shannon/oxy-vrs/common"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer/pipeline"
)

// MaxHeadroom caps the per-axis coarsening headroom.
const MaxHeadroom = 4

// Epsilon keeps the headroom finite on perfectly flat blocks.
const Epsilon = 1e-4

// Rec. 709 luminance weights.
var lumaWeights = [3]float32{0.2126, 0.7152, 0.0722}

func luma(img pipeline.Image, x, y int) float32 {
	c := img.Load(x, y)
	return c[0]*lumaWeights[0] + c[1]*lumaWeights[1] + c[2]*lumaWeights[2]
}

// Headroom returns how far one axis of a block may be coarsened.
//
// Parameters:
//   - s: the sensitivities
//   - mean: the mean luminance of the block
//   - gradient: the mean half-difference of neighbouring luminances along the axis
//   - velocity: the screen-space motion of the block in pixels
//
// Returns:
//   - float32: the headroom in [0, MaxHeadroom]. 1 allows half rate, 2.13 quarter rate.
func Headroom(s Sensitivities, mean, gradient, velocity float32) float32 {
	damping := 1 + s.Motion*velocity
	threshold := s.Error * (mean + s.Brightness)
	return common.Clamp(threshold/(gradient/damping+Epsilon), 0, MaxHeadroom)
}

// motion reprojects the block centre and returns how far it moved in pixels. Blocks
// whose reprojection lands behind the camera report no motion.
func (p *GPUAnalysisParams) motion(depth pipeline.Image, bx, by uint32) float32 {
	if depth == nil {
		return 0
	}
	cx := min(float32(bx*p.BlockSize[0])+float32(p.BlockSize[0])*0.5, p.SourceSize[0]-0.5)
	cy := min(float32(by*p.BlockSize[1])+float32(p.BlockSize[1])*0.5, p.SourceSize[1]-0.5)
	d := depth.Load(int(cx), int(cy))[0]
	u, v := cx*p.SourceSizeInv[0], cy*p.SourceSizeInv[1]
	nx, ny := u*2-1, 1-v*2
	clip := common.TransformPoint(p.Reprojection[:], nx, ny, d)
	if clip[3] <= 0 {
		return 0
	}
	dx := (clip[0]/clip[3] - nx) * 0.5 * p.SourceSize[0]
	dy := (clip[1]/clip[3] - ny) * 0.5 * p.SourceSize[1]
	return float32(math.Sqrt(float64(dx*dx + dy*dy)))
}

// Kernel is the software kernel of the analysis program. Each workgroup reduces one
// block of the capture image and stores its per-axis headroom.
func Kernel(wg pipeline.Workgroup, res pipeline.Resources) {
	var p GPUAnalysisParams
	if err := p.Unmarshal(res.Uniform(0)); err != nil {
		return
	}
	src, out := res.Image(1), res.Image(3)
	if src == nil || out == nil {
		return
	}
	bx, by := wg.ID[0], wg.ID[1]
	x0, y0 := int(bx*p.BlockSize[0]), int(by*p.BlockSize[1])
	x1 := min(x0+int(p.BlockSize[0]), int(p.SourceSize[0]))
	y1 := min(y0+int(p.BlockSize[1]), int(p.SourceSize[1]))

	var sum, errX, errY, n float32
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			c := luma(src, x, y)
			sum += c
			errX += float32(math.Abs(float64(luma(src, x+1, y)-c))) * 0.5
			errY += float32(math.Abs(float64(luma(src, x, y+1)-c))) * 0.5
			n++
		}
	}
	n = max(n, 1)
	s := Sensitivities{Brightness: p.BrightnessSensitivity, Error: p.ErrorSensitivity, Motion: p.MotionSensitivity}
	v := p.motion(res.Image(2), bx, by)
	out.Store(int(bx), int(by), [4]float32{
		Headroom(s, sum/n, errX/n, v),
		Headroom(s, sum/n, errY/n, v),
		0, 1,
	})
}
