package renderer

import (
	"sync"
	"sync/atomic"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-vrs/engine/shading_rate"
)

// passState is the render pass being executed by a queue.
type passState struct {
	pass  *swRenderPass
	color *swImage
	depth *swImage
	rate  *swImage
}

// parallel runs fn(0..n-1) on the worker pool and waits for all of them. fn must not
// submit to the pool itself.
func (b *softwareBackend) parallel(n int, fn func(i int)) {
	var wg sync.WaitGroup
	wg.Add(n)
	for i := range n {
		b.pool.SubmitTask(worker.Task{
			ID: i,
			Do: func() (any, error) {
				defer wg.Done()
				fn(i)
				return nil, nil
			},
		})
	}
	wg.Wait()
}

// dispatch runs a compute kernel, one task per row of workgroups.
func (b *softwareBackend) dispatch(cmd Command) {
	kernel := cmd.Pipeline.Kernel()
	size := [3]uint32{1, 1, 1}
	if s := cmd.Pipeline.Shader(shader.ShaderTypeCompute); s != nil {
		size = s.WorkgroupSize()
	}
	count := cmd.Workgroups
	res := swResources{bindings: cmd.Bindings}

	b.parallel(int(count[1]*count[2]), func(row int) {
		y := uint32(row) % count[1]
		z := uint32(row) / count[1]
		for x := range count[0] {
			kernel(pipeline.Workgroup{ID: [3]uint32{x, y, z}, Count: count, Size: size}, res)
		}
	})

	b.statsMu.Lock()
	b.stats.Dispatches++
	b.statsMu.Unlock()
}

// beginPass applies the attachment load operations.
func (b *softwareBackend) beginPass(cmd Command) *passState {
	ps := &passState{pass: cmd.RenderPass.(*swRenderPass), color: cmd.Color.(*swImage)}
	if cmd.Depth != nil {
		ps.depth = cmd.Depth.(*swImage)
	}
	if ps.pass.desc.Color.Load == LoadOpClear {
		ps.color.clear(ps.pass.desc.Color.ClearColor)
	}
	if d := ps.pass.desc.Depth; d != nil && d.Load == LoadOpClear {
		ps.depth.clear([4]float32{d.ClearDepth})
	}
	return ps
}

// rect is a half-open pixel rectangle.
type rect struct {
	x0, y0, x1, y1 int
}

func (r rect) intersect(o rect) rect {
	return rect{max(r.x0, o.x0), max(r.y0, o.y0), min(r.x1, o.x1), min(r.y1, o.y1)}
}

func (r rect) empty() bool {
	return r.x0 >= r.x1 || r.y0 >= r.y1
}

// draw rasterizes a full-viewport primitive. Shading is coarse per shading-rate texel:
// each fragment block of the texel's rate is shaded once at its centre, supersampled
// rates shade every pixel several times and average.
func (b *softwareBackend) draw(ps *passState, cmd DrawCommand) {
	ext := ps.color.Extent()
	target := rect{0, 0, int(ext.Width), int(ext.Height)}
	region := target
	vp := cmd.Viewport
	if vp.Size[0] > 0 && vp.Size[1] > 0 {
		region = target.intersect(rect{int(vp.Origin[0]), int(vp.Origin[1]), int(vp.Origin[0] + vp.Size[0]), int(vp.Origin[1] + vp.Size[1])})
	}
	if region.empty() {
		return
	}

	d := &drawState{
		ps:       ps,
		p:        cmd.Pipeline,
		kernel:   cmd.Pipeline.FragmentKernel(),
		res:      swResources{bindings: cmd.Bindings},
		region:   region,
		viewport: [4]float32{float32(region.x0), float32(region.y0), float32(region.x1 - region.x0), float32(region.y1 - region.y0)},
	}
	if vp.Size[0] > 0 && vp.Size[1] > 0 {
		d.viewport = [4]float32{vp.Origin[0], vp.Origin[1], vp.Size[0], vp.Size[1]}
	}

	tw, th := int(b.caps.ShadingRateTexelSize.Width), int(b.caps.ShadingRateTexelSize.Height)
	ty0, ty1 := region.y0/th, (region.y1+th-1)/th
	tx0, tx1 := region.x0/tw, (region.x1+tw-1)/tw

	var invocations, pixels atomic.Int64
	b.parallel(ty1-ty0, func(i int) {
		ty := ty0 + i
		var inv, px int
		for tx := tx0; tx < tx1; tx++ {
			rate := shading_rate.Rate1InvocationPerPixel
			if ps.rate != nil {
				if r := shading_rate.Rate(ps.rate.LoadUint(tx, ty)); r.Valid() {
					rate = r
				}
			}
			block := region.intersect(rect{tx * tw, ty * th, (tx + 1) * tw, (ty + 1) * th})
			n, p := d.shadeTexel(block, rate)
			inv += n
			px += p
		}
		invocations.Add(int64(inv))
		pixels.Add(int64(px))
	})

	b.statsMu.Lock()
	b.stats.Draws++
	b.stats.FragmentInvocations += int(invocations.Load())
	b.stats.PixelsShaded += int(pixels.Load())
	b.statsMu.Unlock()
}

// drawState is shared by the tasks of one draw.
type drawState struct {
	ps       *passState
	p        pipeline.Pipeline
	kernel   pipeline.FragmentKernel
	res      swResources
	region   rect
	viewport [4]float32
}

func (d *drawState) fragment(x, y float32, rate shading_rate.Rate) pipeline.FragmentOutput {
	return d.kernel(pipeline.Fragment{
		X:    x,
		Y:    y,
		U:    (x - d.viewport[0]) / d.viewport[2],
		V:    (y - d.viewport[1]) / d.viewport[3],
		Rate: rate,
	}, d.res)
}

// shadeTexel shades the pixels of one shading-rate texel and returns the number of
// invocations and covered pixels.
func (d *drawState) shadeTexel(block rect, rate shading_rate.Rate) (int, int) {
	if block.empty() || rate == shading_rate.RateNoInvocations {
		return 0, 0
	}
	fw, fh := rate.FragmentSize()
	if n := rate.Invocations(); fw == 1 && fh == 1 && n > 1 {
		return d.supersample(block, rate, n)
	}

	invocations, pixels := 0, 0
	for by := block.y0 - block.y0%fh; by < block.y1; by += fh {
		for bx := block.x0 - block.x0%fw; bx < block.x1; bx += fw {
			frag := block.intersect(rect{bx, by, bx + fw, by + fh})
			if frag.empty() {
				continue
			}
			cx := min(max(float32(bx)+float32(fw)/2, float32(frag.x0)+0.5), float32(frag.x1)-0.5)
			cy := min(max(float32(by)+float32(fh)/2, float32(frag.y0)+0.5), float32(frag.y1)-0.5)
			out := d.fragment(cx, cy, rate)
			invocations++
			for y := frag.y0; y < frag.y1; y++ {
				for x := frag.x0; x < frag.x1; x++ {
					pixels++
					if !out.Discard {
						d.write(x, y, out)
					}
				}
			}
		}
	}
	return invocations, pixels
}

// sampleGrids lays out the sample positions of supersampled rates.
var sampleGrids = map[int][2]int{2: {2, 1}, 4: {2, 2}, 8: {4, 2}, 16: {4, 4}}

func (d *drawState) supersample(block rect, rate shading_rate.Rate, n int) (int, int) {
	grid := sampleGrids[n]
	invocations, pixels := 0, 0
	for y := block.y0; y < block.y1; y++ {
		for x := block.x0; x < block.x1; x++ {
			var sum pipeline.FragmentOutput
			kept := 0
			for j := range grid[1] {
				for i := range grid[0] {
					sx := float32(x) + (float32(i)+0.5)/float32(grid[0])
					sy := float32(y) + (float32(j)+0.5)/float32(grid[1])
					out := d.fragment(sx, sy, rate)
					invocations++
					if out.Discard {
						continue
					}
					kept++
					for c := range sum.Color {
						sum.Color[c] += out.Color[c]
					}
					sum.Depth += out.Depth
				}
			}
			pixels++
			if kept == 0 {
				continue
			}
			for c := range sum.Color {
				sum.Color[c] /= float32(kept)
			}
			sum.Depth /= float32(kept)
			d.write(x, y, sum)
		}
	}
	return invocations, pixels
}

// write applies the depth test and blending for one pixel.
func (d *drawState) write(x, y int, out pipeline.FragmentOutput) {
	if depth := d.ps.depth; depth != nil && d.p.Depth().Test {
		if out.Depth >= depth.Load(x, y)[0] {
			return
		}
		if d.p.Depth().Write {
			depth.Store(x, y, [4]float32{out.Depth})
		}
	}
	c := out.Color
	if d.p.Blend() {
		dst := d.ps.color.Load(x, y)
		a := c[3]
		for i := range 3 {
			c[i] = c[i]*a + dst[i]*(1-a)
		}
		c[3] = a + dst[3]*(1-a)
	}
	d.ps.color.Store(x, y, c)
}
