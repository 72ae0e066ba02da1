package engine

import (
	"context"
	"os"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-vrs/common"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer"
	"github.com/Carmen-Shannon/oxy-vrs/engine/vrs"
)

func newTestFrameRenderer(t *testing.T) vrs.FrameRenderer {
	t.Helper()
	r, err := renderer.NewRenderer(renderer.BackendTypeSoftware, nil, renderer.WithExtent(64, 32), renderer.WithTexelSize(8, 8))
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}
	t.Cleanup(r.Destroy)
	fr, err := vrs.NewFrameRenderer(r, vrs.WithFixedTimestep(1.0/60))
	if err != nil {
		t.Fatalf("NewFrameRenderer() error = %v", err)
	}
	t.Cleanup(fr.Release)
	return fr
}

func TestHandleKeyToggles(t *testing.T) {
	fr := newTestFrameRenderer(t)
	var forwarded []uint32
	e := NewEngine(WithFrameRenderer(fr))
	e.SetKeyCallback(func(keyCode uint32) { forwarded = append(forwarded, keyCode) })

	tests := []struct {
		name string
		key  uint32
		get  func() bool
		want bool
	}{
		{name: "V disables adaptive shading", key: common.KeyV, get: fr.AdaptiveShading, want: false},
		{name: "C enables colourisation", key: common.KeyC, get: fr.ColorizeShadingRate, want: true},
		{name: "R disables rate binding", key: common.KeyR, get: fr.ShadingRateEnabled, want: false},
		{name: "V again enables adaptive shading", key: common.KeyV, get: fr.AdaptiveShading, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e.HandleKey(tt.key)
			if got := tt.get(); got != tt.want {
				t.Errorf("after key %d got %v, want %v", tt.key, got, tt.want)
			}
		})
	}
	if len(forwarded) != len(tests) {
		t.Errorf("forwarded %d keys, want %d", len(forwarded), len(tests))
	}
}

func TestRenderFrameAndDump(t *testing.T) {
	fr := newTestFrameRenderer(t)
	dir := t.TempDir()
	e := NewEngine(WithFrameRenderer(fr), WithDumpDir(dir)).(*engine)

	for range 2 {
		if err := e.renderFrame(); err != nil {
			t.Fatalf("renderFrame() error = %v", err)
		}
	}
	path, err := e.dumpRateSurface(context.Background())
	if err != nil {
		t.Fatalf("dumpRateSurface() error = %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("dump path = %q, want a file in %q", path, dir)
	}
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		t.Errorf("dump file %q: %v", path, err)
	}
}

func TestRenderFrameWithoutFrameRenderer(t *testing.T) {
	e := NewEngine().(*engine)
	if err := e.renderFrame(); err != nil {
		t.Errorf("renderFrame() error = %v, want nil", err)
	}
}

func TestHeadlessRunStopsOnQuit(t *testing.T) {
	fr := newTestFrameRenderer(t)
	var once sync.Once
	e := NewEngine(WithFrameRenderer(fr), WithTickRate(200))
	e.SetTickCallback(func(float32) {
		if fr.Stats().Frames > 0 {
			once.Do(e.Quit)
		}
	})

	done := make(chan struct{})
	go func() {
		e.Run()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		e.Quit()
		t.Fatal("Run() did not return after Quit")
	}
	if err := fr.Render(); !errors.Is(err, renderer.ErrReleased) {
		t.Errorf("Render() after Run error = %v, want %v", err, renderer.ErrReleased)
	}
}

func TestIntervals(t *testing.T) {
	tests := []struct {
		fps         float64
		tick, limit time.Duration
	}{
		{fps: 60, tick: time.Second / 60, limit: time.Second / 60},
		{fps: 0, tick: time.Second / 60, limit: 0},
		{fps: -5, tick: time.Second / 60, limit: 0},
		{fps: 144, tick: time.Duration(float64(time.Second) / 144), limit: time.Duration(float64(time.Second) / 144)},
	}
	for _, tt := range tests {
		if got := tickInterval(tt.fps); got != tt.tick {
			t.Errorf("tickInterval(%v) = %v, want %v", tt.fps, got, tt.tick)
		}
		if got := frameInterval(tt.fps); got != tt.limit {
			t.Errorf("frameInterval(%v) = %v, want %v", tt.fps, got, tt.limit)
		}
	}
}
