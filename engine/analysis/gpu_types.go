package analysis

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"
)

// GPUAnalysisParams is the GPU-aligned uniform block of the analysis program.
// Matches the WGSL AnalysisParams struct in shaders/include/analysis_params.wgsl.
// Size: 112 bytes (std140 / WGSL aligned).
type GPUAnalysisParams struct {
	Reprojection          [16]float32 // offset   0: current view-projection * inverse(previous)
	SourceSize            [2]float32  // offset  64: capture size in pixels
	SourceSizeInv         [2]float32  // offset  72: 1 / SourceSize
	BlockSize             [2]uint32   // offset  80: pixels per block (shading-rate texel)
	Blocks                [2]uint32   // offset  88: output size in blocks
	BrightnessSensitivity float32     // offset  96
	ErrorSensitivity      float32     // offset 100
	MotionSensitivity     float32     // offset 104
	Epsilon               float32     // offset 108
}

// Size returns the size of the GPUAnalysisParams struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (112)
func (g *GPUAnalysisParams) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the params into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 112-byte buffer ready for GPU upload
func (g *GPUAnalysisParams) Marshal() []byte {
	buf := make([]byte, 112)
	for i, v := range g.Reprojection {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	binary.LittleEndian.PutUint32(buf[64:68], math.Float32bits(g.SourceSize[0]))
	binary.LittleEndian.PutUint32(buf[68:72], math.Float32bits(g.SourceSize[1]))
	binary.LittleEndian.PutUint32(buf[72:76], math.Float32bits(g.SourceSizeInv[0]))
	binary.LittleEndian.PutUint32(buf[76:80], math.Float32bits(g.SourceSizeInv[1]))
	binary.LittleEndian.PutUint32(buf[80:84], g.BlockSize[0])
	binary.LittleEndian.PutUint32(buf[84:88], g.BlockSize[1])
	binary.LittleEndian.PutUint32(buf[88:92], g.Blocks[0])
	binary.LittleEndian.PutUint32(buf[92:96], g.Blocks[1])
	binary.LittleEndian.PutUint32(buf[96:100], math.Float32bits(g.BrightnessSensitivity))
	binary.LittleEndian.PutUint32(buf[100:104], math.Float32bits(g.ErrorSensitivity))
	binary.LittleEndian.PutUint32(buf[104:108], math.Float32bits(g.MotionSensitivity))
	binary.LittleEndian.PutUint32(buf[108:112], math.Float32bits(g.Epsilon))
	return buf
}

// Unmarshal decodes params written by Marshal. Used by the software kernel.
//
// Parameters:
//   - buf: at least 112 bytes
//
// Returns:
//   - error: an error if buf is too short
func (g *GPUAnalysisParams) Unmarshal(buf []byte) error {
	if len(buf) < 112 {
		return fmt.Errorf("analysis: uniform buffer is %d bytes, want 112", len(buf))
	}
	f := func(off int) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(buf[off:])) }
	u := func(off int) uint32 { return binary.LittleEndian.Uint32(buf[off:]) }
	for i := range g.Reprojection {
		g.Reprojection[i] = f(i * 4)
	}
	g.SourceSize = [2]float32{f(64), f(68)}
	g.SourceSizeInv = [2]float32{f(72), f(76)}
	g.BlockSize = [2]uint32{u(80), u(84)}
	g.Blocks = [2]uint32{u(88), u(92)}
	g.BrightnessSensitivity = f(96)
	g.ErrorSensitivity = f(100)
	g.MotionSensitivity = f(104)
	g.Epsilon = f(108)
	return nil
}
