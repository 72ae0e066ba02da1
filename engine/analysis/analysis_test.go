package analysis

import (
	"encoding/binary"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer"
	"github.com/x448/float16"
)

var identity = [16]float32{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}

func newTestRenderer(t *testing.T, options ...renderer.RendererBuilderOption) renderer.Renderer {
	t.Helper()
	options = append([]renderer.RendererBuilderOption{renderer.WithExtent(32, 16), renderer.WithTexelSize(8, 8)}, options...)
	r, err := renderer.NewRenderer(renderer.BackendTypeSoftware, nil, options...)
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}
	t.Cleanup(r.Destroy)
	return r
}

// uploadImage allocates an image on the compute queue, fills it with data and leaves it
// in LayoutGeneral.
func uploadImage(t *testing.T, r renderer.Renderer, format renderer.Format, usage renderer.ImageUsage, data []byte) renderer.Image {
	t.Helper()
	ext := r.Extent()
	img, err := r.AllocateImage(renderer.ImageDescriptor{
		Label: "source", Width: ext.Width, Height: ext.Height,
		Format: format,
		Usage:  usage | renderer.ImageUsageTransferDst,
	})
	if err != nil {
		t.Fatalf("AllocateImage() error = %v", err)
	}
	buf, err := r.AllocateBuffer(renderer.BufferDescriptor{Label: "staging", Size: len(data), Usage: renderer.BufferUsageTransferSrc, Memory: renderer.MemoryHostVisible})
	if err != nil {
		t.Fatalf("AllocateBuffer() error = %v", err)
	}
	t.Cleanup(buf.Release)
	if err := buf.Write(0, data); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	cb := r.NewCommandBuffer(renderer.QueueCompute, "upload")
	cb.TransitionLayout(img, renderer.LayoutUndefined, renderer.LayoutTransferDst, renderer.AspectColor)
	cb.CopyBufferToImage(buf, img)
	cb.TransitionLayout(img, renderer.LayoutTransferDst, renderer.LayoutGeneral, renderer.AspectColor)
	if err := r.Submit(renderer.QueueCompute, cb, renderer.SubmitInfo{}); err != nil {
		t.Fatalf("Submit(upload) error = %v", err)
	}
	return img
}

// halfFlatHalfChecker is an RGBA8 image whose left half is flat grey and whose right half
// is a one-pixel black and white checkerboard.
func halfFlatHalfChecker(w, h int) []byte {
	px := make([]byte, w*h*4)
	for y := range h {
		for x := range w {
			v := byte(128)
			if x >= w/2 {
				v = byte(255 * ((x + y) & 1))
			}
			o := (y*w + x) * 4
			px[o], px[o+1], px[o+2], px[o+3] = v, v, v, 255
		}
	}
	return px
}

// run records one analysis dispatch and returns the headroom of every block.
func run(t *testing.T, r renderer.Renderer, a Analysis, src Source) [][2]float32 {
	t.Helper()
	cb := r.NewCommandBuffer(renderer.QueueCompute, "analysis")
	a.Record(cb, src)
	if err := r.Submit(renderer.QueueCompute, cb, renderer.SubmitInfo{}); err != nil {
		t.Fatalf("Submit(analysis) error = %v", err)
	}
	if err := r.WaitQueueIdle(renderer.QueueCompute); err != nil {
		t.Fatalf("WaitQueueIdle() error = %v", err)
	}
	data, err := r.ReadImage(a.Image())
	if err != nil {
		t.Fatalf("ReadImage() error = %v", err)
	}
	ext := a.Extent()
	out := make([][2]float32, ext.Area())
	for i := range out {
		switch a.Format() {
		case renderer.FormatRG16Float:
			out[i][0] = float16.Frombits(binary.LittleEndian.Uint16(data[i*4:])).Float32()
			out[i][1] = float16.Frombits(binary.LittleEndian.Uint16(data[i*4+2:])).Float32()
		case renderer.FormatRG32Float:
			out[i][0] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*8:]))
			out[i][1] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*8+4:]))
		default:
			t.Fatalf("unexpected NAS format %v", a.Format())
		}
	}
	return out
}

func newBuiltAnalysis(t *testing.T, r renderer.Renderer, options ...AnalysisBuilderOption) Analysis {
	t.Helper()
	a, err := NewAnalysis(r, options...)
	if err != nil {
		t.Fatalf("NewAnalysis() error = %v", err)
	}
	t.Cleanup(a.Release)
	if err := a.Rebuild(r.Extent()); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	return a
}

func TestHeadroom(t *testing.T) {
	def := DefaultSensitivities()
	tests := []struct {
		name                     string
		s                        Sensitivities
		mean, gradient, velocity float32
		want                     float32
	}{
		{name: "flat block saturates", s: def, mean: 0.5, gradient: 0, want: MaxHeadroom},
		{name: "zero sensitivities", s: Sensitivities{}, mean: 0.5, gradient: 0, want: 0},
		{name: "zero error sensitivity", s: Sensitivities{Brightness: 0.07, Motion: 0.5}, mean: 0.5, gradient: 0.1, velocity: 3, want: 0},
		{name: "textured block", s: def, mean: 0.5, gradient: 0.0399, want: 0.07 * 0.57 / (0.0399 + Epsilon)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Headroom(tt.s, tt.mean, tt.gradient, tt.velocity)
			if math.Abs(float64(got-tt.want)) > 1e-5 {
				t.Errorf("Headroom() = %v, want %v", got, tt.want)
			}
		})
	}

	still := Headroom(def, 0.3, 0.05, 0)
	moving := Headroom(def, 0.3, 0.05, 4)
	if moving <= still {
		t.Errorf("Headroom() with motion = %v, want more than %v", moving, still)
	}
}

func TestSensitivitiesValidate(t *testing.T) {
	tests := []struct {
		name    string
		s       Sensitivities
		wantErr bool
	}{
		{name: "defaults", s: DefaultSensitivities()},
		{name: "all zero", s: Sensitivities{}},
		{name: "negative error", s: Sensitivities{Error: -0.1}, wantErr: true},
		{name: "NaN motion", s: Sensitivities{Motion: float32(math.NaN())}, wantErr: true},
		{name: "infinite brightness", s: Sensitivities{Brightness: float32(math.Inf(1))}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			if tt.wantErr != errors.Is(err, ErrInvalidSensitivities) {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAnalysisZeroSensitivitiesIsConstant(t *testing.T) {
	r := newTestRenderer(t)
	a := newBuiltAnalysis(t, r, WithSensitivities(Sensitivities{}))

	rng := rand.New(rand.NewSource(7))
	noise := make([]byte, 32*16*4)
	rng.Read(noise)
	color := uploadImage(t, r, renderer.FormatRGBA8Unorm, renderer.ImageUsageSampled, noise)

	for i, h := range run(t, r, a, Source{Color: color, Reprojection: identity}) {
		if h != [2]float32{0, 0} {
			t.Errorf("block %d headroom = %v, want [0 0]", i, h)
		}
	}
}

func TestAnalysisContentAdaptive(t *testing.T) {
	r := newTestRenderer(t)
	a := newBuiltAnalysis(t, r)
	if a.Format() != renderer.FormatRG16Float {
		t.Errorf("Format() = %v, want %v", a.Format(), renderer.FormatRG16Float)
	}
	color := uploadImage(t, r, renderer.FormatRGBA8Unorm, renderer.ImageUsageSampled, halfFlatHalfChecker(32, 16))
	h := run(t, r, a, Source{Color: color, Reprojection: identity})

	// 4x2 blocks: column 0 is flat, columns 2 and 3 are checkered.
	for _, i := range []int{0, 4} {
		if h[i] != [2]float32{MaxHeadroom, MaxHeadroom} {
			t.Errorf("flat block %d headroom = %v, want [4 4]", i, h[i])
		}
	}
	for _, i := range []int{2, 3, 6, 7} {
		if h[i][0] >= 1 || h[i][1] >= 1 {
			t.Errorf("checkered block %d headroom = %v, want both below 1", i, h[i])
		}
	}
}

func TestAnalysisMotionDampsError(t *testing.T) {
	r := newTestRenderer(t)
	a := newBuiltAnalysis(t, r)
	color := uploadImage(t, r, renderer.FormatRGBA8Unorm, renderer.ImageUsageSampled, halfFlatHalfChecker(32, 16))
	depth := uploadImage(t, r, renderer.FormatDepth32Float, renderer.ImageUsageSampled|renderer.ImageUsageDepthAttachment, make([]byte, 32*16*4))

	still := run(t, r, a, Source{Color: color, Depth: depth, Reprojection: identity})
	panned := identity
	panned[12] = 0.5
	moving := run(t, r, a, Source{Color: color, Depth: depth, Reprojection: panned})

	if moving[2][0] <= still[2][0] {
		t.Errorf("panned headroom = %v, want more than still %v", moving[2][0], still[2][0])
	}
}

func TestAnalysisFormatFallback(t *testing.T) {
	r := newTestRenderer(t, renderer.WithStorageFormats(renderer.FormatRGBA8Unorm, renderer.FormatRG32Float))
	a := newBuiltAnalysis(t, r)
	if a.Format() != renderer.FormatRG32Float {
		t.Fatalf("Format() = %v, want %v", a.Format(), renderer.FormatRG32Float)
	}
	color := uploadImage(t, r, renderer.FormatRGBA8Unorm, renderer.ImageUsageSampled, halfFlatHalfChecker(32, 16))
	if h := run(t, r, a, Source{Color: color, Reprojection: identity}); h[0] != [2]float32{MaxHeadroom, MaxHeadroom} {
		t.Errorf("flat block headroom = %v, want [4 4]", h[0])
	}

	r2 := newTestRenderer(t, renderer.WithStorageFormats(renderer.FormatRGBA8Unorm))
	if _, err := NewAnalysis(r2); !errors.Is(err, renderer.ErrUnsupportedFormat) {
		t.Errorf("NewAnalysis() error = %v, want %v", err, renderer.ErrUnsupportedFormat)
	}
}
