package camera

import (
	"math"
	"testing"

	"github.com/Carmen-Shannon/oxy-vrs/common"
)

func near(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func isIdentity(m [16]float32, eps float64) bool {
	for i, v := range m {
		want := 0.0
		if i%5 == 0 {
			want = 1
		}
		if !near(float64(v), want, eps) {
			return false
		}
	}
	return true
}

func TestUpdateRollsSnapshot(t *testing.T) {
	ctrl := NewCameraController()
	c := NewCamera(WithController(ctrl), WithViewport(common.Viewport{Size: [2]float32{320, 180}}))

	if c.Previous() != c.Current() {
		t.Fatal("Previous() differs from Current() before any Update")
	}
	before := c.Current()
	o := ctrl.Orbit()
	o.Azimuth += 0.5
	ctrl.SetOrbit(o)
	c.Update()

	if c.Previous() != before {
		t.Error("Update() did not roll the current snapshot into the previous slot")
	}
	if c.Current().ViewProjection == before.ViewProjection {
		t.Error("Update() did not recompute the matrices after the controller moved")
	}
	if got, want := c.Current().Position, ctrl.Position(); got != want {
		t.Errorf("Current().Position = %v, want %v", got, want)
	}
}

func TestSetViewportKeepsPreviousViewport(t *testing.T) {
	c := NewCamera(WithController(NewCameraController()), WithViewport(common.Viewport{Size: [2]float32{320, 180}}))
	c.SetViewport(common.Viewport{Size: [2]float32{100, 100}})

	if got := c.Aspect(); got != 1 {
		t.Errorf("Aspect() = %v, want 1", got)
	}
	if got := c.Previous().Viewport.Size; got != [2]float32{320, 180} {
		t.Errorf("Previous().Viewport.Size = %v, want [320 180]", got)
	}
	if c.Current().Projection == c.Previous().Projection {
		t.Error("SetViewport() did not recompute the projection")
	}
}

func TestStaticCameraReprojectsToIdentity(t *testing.T) {
	c := NewCamera(WithController(NewCameraController()))
	c.Update()
	cur, prev := c.Current().ViewProjection, c.Previous().ViewProjection
	var m [16]float32
	if !common.ReprojectionMatrix(m[:], cur[:], prev[:]) {
		t.Fatal("ReprojectionMatrix() reported a singular matrix")
	}
	if !isIdentity(m, 1e-3) {
		t.Errorf("reprojection = %v, want identity", m)
	}
}

func TestInverseViewProjection(t *testing.T) {
	c := NewCamera(WithController(NewCameraController()), WithAspect(16.0/9.0), WithLens(Lens{FovY: 1, Near: 0.5, Far: 50}))
	s := c.Current()
	var m [16]float32
	common.Mul4(m[:], s.ViewProjection[:], s.InverseViewProjection[:])
	if !isIdentity(m, 1e-3) {
		t.Errorf("VP * inverse = %v, want identity", m)
	}
	if got := c.Lens().Far; got != 50 {
		t.Errorf("Lens().Far = %v, want 50", got)
	}
}

func TestCameraWithoutController(t *testing.T) {
	c := NewCamera()
	c.Update()
	if !isIdentity(c.Current().ViewProjection, 0) {
		t.Errorf("Current().ViewProjection = %v, want identity", c.Current().ViewProjection)
	}
	if c.Controller() != nil {
		t.Error("Controller() != nil without a controller")
	}
}

func TestOrbitLimitsClamp(t *testing.T) {
	l := OrbitLimits{MinRadius: 2, MaxRadius: 10, MinElevation: 0, MaxElevation: 1}
	tests := []struct {
		name string
		in   Orbit
		want Orbit
	}{
		{name: "inside", in: Orbit{Radius: 5, Azimuth: 3, Elevation: 0.5}, want: Orbit{Radius: 5, Azimuth: 3, Elevation: 0.5}},
		{name: "too far", in: Orbit{Radius: 100}, want: Orbit{Radius: 10}},
		{name: "too close", in: Orbit{Radius: 1}, want: Orbit{Radius: 2}},
		{name: "over the pole", in: Orbit{Radius: 5, Elevation: 2}, want: Orbit{Radius: 5, Elevation: 1}},
		{name: "below ground", in: Orbit{Radius: 5, Elevation: -1}, want: Orbit{Radius: 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := l.Clamp(tt.in); got != tt.want {
				t.Errorf("Clamp(%+v) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestOrbitOffset(t *testing.T) {
	tests := []struct {
		name string
		o    Orbit
		want [3]float32
	}{
		{name: "front", o: Orbit{Radius: 2}, want: [3]float32{0, 0, 2}},
		{name: "side", o: Orbit{Radius: 2, Azimuth: math.Pi / 2}, want: [3]float32{2, 0, 0}},
		{name: "above", o: Orbit{Radius: 3, Elevation: math.Pi / 2}, want: [3]float32{0, 3, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.o.Offset()
			for i := range got {
				if !near(float64(got[i]), float64(tt.want[i]), 1e-5) {
					t.Fatalf("Offset() = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestControllerClampsAndAdvances(t *testing.T) {
	limits := DefaultOrbitLimits()
	limits.MaxRadius = 10
	cc := NewCameraController(WithLimits(limits), WithAutoOrbit(1))
	cc.SetOrbit(Orbit{Radius: 100, Elevation: -1})
	if got := cc.Orbit(); got.Radius != 10 || got.Elevation != 0.05 {
		t.Errorf("Orbit() = %+v, want radius 10 and elevation 0.05", got)
	}

	az := cc.Orbit().Azimuth
	cc.Advance(0.25)
	if got := cc.Orbit().Azimuth; !near(float64(got), float64(az+0.25), 1e-6) {
		t.Errorf("Azimuth after Advance(0.25) = %v, want %v", got, az+0.25)
	}
	cc.SetAutoOrbit(0)
	cc.Advance(1)
	if got := cc.Orbit().Azimuth; !near(float64(got), float64(az+0.25), 1e-6) {
		t.Errorf("Azimuth after a stopped Advance = %v, want %v", got, az+0.25)
	}

	p, tg := cc.Position(), cc.Target()
	d := math.Sqrt(float64((p[0]-tg[0])*(p[0]-tg[0]) + (p[1]-tg[1])*(p[1]-tg[1]) + (p[2]-tg[2])*(p[2]-tg[2])))
	if !near(d, 10, 1e-4) {
		t.Errorf("distance to target = %v, want 10", d)
	}
}

func TestControllerInput(t *testing.T) {
	tests := []struct {
		name  string
		apply func(cc CameraController)
		want  Orbit
	}{
		{name: "step left", apply: func(cc CameraController) { cc.Step(StepLeft) }, want: Orbit{Radius: 5, Azimuth: -0.1, Elevation: 0.5}},
		{name: "step up", apply: func(cc CameraController) { cc.Step(StepUp) }, want: Orbit{Radius: 5, Elevation: 0.6}},
		{name: "zoom in", apply: func(cc CameraController) { cc.Zoom(2) }, want: Orbit{Radius: 4, Elevation: 0.5}},
		{name: "zoom clamps", apply: func(cc CameraController) { cc.Zoom(100) }, want: Orbit{Radius: 2, Elevation: 0.5}},
		{name: "drag", apply: func(cc CameraController) { cc.Drag(100, 0) }, want: Orbit{Radius: 5, Azimuth: -1, Elevation: 0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cc := NewCameraController(WithOrbit(Orbit{Radius: 5, Elevation: 0.5}), WithSpeeds(0.1, 0.5, 0.01))
			tt.apply(cc)
			got := cc.Orbit()
			if !near(float64(got.Radius), float64(tt.want.Radius), 1e-5) ||
				!near(float64(got.Azimuth), float64(tt.want.Azimuth), 1e-5) ||
				!near(float64(got.Elevation), float64(tt.want.Elevation), 1e-5) {
				t.Errorf("Orbit() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestControllerDragClampsElevation(t *testing.T) {
	cc := NewCameraController(WithOrbit(Orbit{Radius: 5, Elevation: 0.5}))
	cc.Drag(0, 1e4)
	if got, want := cc.Orbit().Elevation, float32(math.Pi/2-0.1); !near(float64(got), float64(want), 1e-6) {
		t.Errorf("Elevation after a long drag = %v, want %v", got, want)
	}
}

func TestSetTargetMovesCamera(t *testing.T) {
	cc := NewCameraController(WithTarget([3]float32{0, 0, 0}))
	before := cc.Position()
	cc.SetTarget([3]float32{1, 2, 3})
	after := cc.Position()
	for i, d := range [3]float32{1, 2, 3} {
		if !near(float64(after[i]-before[i]), float64(d), 1e-5) {
			t.Fatalf("Position() moved by %v, want [1 2 3]", [3]float32{after[0] - before[0], after[1] - before[1], after[2] - before[2]})
		}
	}
}

func TestWithLimitsPanicsOnInvertedBounds(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("WithLimits() did not panic on inverted bounds")
		}
	}()
	WithLimits(OrbitLimits{MinRadius: 5, MaxRadius: 1})
}
