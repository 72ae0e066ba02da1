package scene

import (
	"math"

	"github.com/Carmen-Shannon/oxy-vrs/common"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer/pipeline"
)

// FarDepth is the depth written for sky fragments, just inside the far plane so a
// cleared depth of 1 still fails against it.
const FarDepth = 0.99999

// noHit marks a ray that left the scene.
const noHit = 1e9

type vec3 [3]float32

func (a vec3) add(b vec3) vec3 { return vec3{a[0] + b[0], a[1] + b[1], a[2] + b[2]} }
func (a vec3) sub(b vec3) vec3 { return vec3{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }
func (a vec3) scale(s float32) vec3 { return vec3{a[0] * s, a[1] * s, a[2] * s} }
func (a vec3) dot(b vec3) float32 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }
func (a vec3) lerp(b vec3, t float32) vec3 { return a.add(b.sub(a).scale(t)) }

func (a vec3) normalize() vec3 {
	l := float32(math.Sqrt(float64(a.dot(a))))
	if l == 0 {
		return a
	}
	return a.scale(1 / l)
}

var (
	lightDirection = vec3{0.4, 0.8, 0.3}.normalize()
	skyHorizon     = vec3{0.55, 0.7, 0.9}
	skyZenith      = vec3{0.2, 0.35, 0.6}
	checkerDark    = vec3{0.25, 0.25, 0.3}
	checkerLight   = vec3{0.8, 0.8, 0.8}
)

type hit struct {
	t      float32
	normal vec3
	albedo vec3
}

type sphere struct {
	center vec3
	radius float32
	albedo vec3
}

// spheres returns the scene's spheres at time t. The green sphere bobs.
func spheres(t float32) [3]sphere {
	return [3]sphere{
		{vec3{0, 1, 0}, 1, vec3{0.85, 0.3, 0.25}},
		{vec3{2.5, 0.75, 1}, 0.75, vec3{0.25, 0.45, 0.9}},
		{vec3{-2, 0.5 + 0.25*float32(math.Sin(float64(t))), -0.5}, 0.5, vec3{0.3, 0.8, 0.35}},
	}
}

func (s sphere) intersect(origin, dir vec3, best hit) hit {
	oc := origin.sub(s.center)
	b := oc.dot(dir)
	c := oc.dot(oc) - s.radius*s.radius
	disc := b*b - c
	if disc < 0 {
		return best
	}
	t := -b - float32(math.Sqrt(float64(disc)))
	if t <= 0 || t >= best.t {
		return best
	}
	return hit{t: t, normal: origin.add(dir.scale(t)).sub(s.center).normalize(), albedo: s.albedo}
}

func trace(origin, dir vec3, time float32) hit {
	best := hit{t: noHit}
	if dir[1] < -1e-5 {
		t := -origin[1] / dir[1]
		p := origin.add(dir.scale(t))
		best = hit{t: t, normal: vec3{0, 1, 0}, albedo: checkerLight}
		if (int(math.Floor(float64(p[0])))+int(math.Floor(float64(p[2]))))&1 == 1 {
			best.albedo = checkerDark
		}
	}
	for _, s := range spheres(time) {
		best = s.intersect(origin, dir, best)
	}
	return best
}

// shade casts the ray through normalized target position (u, v) and returns its colour
// and depth.
func (g *GPUSceneUniforms) shade(u, v float32) ([4]float32, float32) {
	nx, ny := u*2-1, 1-v*2
	near := common.TransformPoint(g.InvViewProj[:], nx, ny, 0)
	far := common.TransformPoint(g.InvViewProj[:], nx, ny, 1)
	origin := vec3{g.CameraPosition[0], g.CameraPosition[1], g.CameraPosition[2]}
	dir := vec3{far[0] / far[3], far[1] / far[3], far[2] / far[3]}.
		sub(vec3{near[0] / near[3], near[1] / near[3], near[2] / near[3]}).normalize()

	h := trace(origin, dir, g.Time)
	if h.t >= noHit {
		sky := skyHorizon.lerp(skyZenith, common.Clamp(dir[1], 0, 1))
		return [4]float32{sky[0], sky[1], sky[2], 1}, FarDepth
	}
	p := origin.add(dir.scale(h.t))
	diffuse := max(h.normal.dot(lightDirection), 0)
	c := h.albedo.scale(0.2 + 0.8*diffuse)
	clip := common.TransformPoint(g.ViewProj[:], p[0], p[1], p[2])
	return [4]float32{c[0], c[1], c[2], 1}, common.Clamp(clip[2]/clip[3], 0, FarDepth)
}

// Shade is the software fragment kernel of the scene program. It ray casts the procedural
// scene at the fragment's shading position, which the device has already snapped to the
// centre of the coarse fragment.
func Shade(f pipeline.Fragment, res pipeline.Resources) pipeline.FragmentOutput {
	var u GPUSceneUniforms
	if err := u.Unmarshal(res.Uniform(0)); err != nil {
		return pipeline.FragmentOutput{Discard: true}
	}
	color, depth := u.shade(f.X/u.TargetSize[0], f.Y/u.TargetSize[1])
	if u.Colorize != 0 {
		tint := f.Rate.Tint()
		tv := vec3{float32(tint.R) / 255, float32(tint.G) / 255, float32(tint.B) / 255}
		c := vec3{color[0], color[1], color[2]}.lerp(tv, 0.5)
		color = [4]float32{c[0], c[1], c[2], color[3]}
	}
	return pipeline.FragmentOutput{Color: color, Depth: depth}
}
