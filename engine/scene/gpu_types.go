package scene

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"
)

// GPUSceneUniforms is the GPU-aligned representation of the scene uniforms.
// Matches the WGSL SceneUniforms struct in shaders/include/scene_uniforms.wgsl.
// Size: 176 bytes (std140 / WGSL aligned).
type GPUSceneUniforms struct {
	ViewProj       [16]float32 // offset   0: view-projection of the rendered view
	InvViewProj    [16]float32 // offset  64: inverse of ViewProj
	CameraPosition [4]float32  // offset 128: eye position, w unused
	TargetSize     [2]float32  // offset 144: render target size in pixels
	TexelSize      [2]uint32   // offset 152: pixels per shading-rate texel
	Time           float32     // offset 160: animation time in seconds
	Colorize       uint32      // offset 164: 1 = tint fragments by shading rate
	_pad0          float32     // offset 168
	_pad1          float32     // offset 172
}

// Size returns the size of the GPUSceneUniforms struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (176)
func (g *GPUSceneUniforms) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the uniforms into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 176-byte buffer ready for GPU upload
func (g *GPUSceneUniforms) Marshal() []byte {
	buf := make([]byte, 176)
	for i, v := range g.ViewProj {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	for i, v := range g.InvViewProj {
		binary.LittleEndian.PutUint32(buf[64+i*4:], math.Float32bits(v))
	}
	for i, v := range g.CameraPosition {
		binary.LittleEndian.PutUint32(buf[128+i*4:], math.Float32bits(v))
	}
	binary.LittleEndian.PutUint32(buf[144:148], math.Float32bits(g.TargetSize[0]))
	binary.LittleEndian.PutUint32(buf[148:152], math.Float32bits(g.TargetSize[1]))
	binary.LittleEndian.PutUint32(buf[152:156], g.TexelSize[0])
	binary.LittleEndian.PutUint32(buf[156:160], g.TexelSize[1])
	binary.LittleEndian.PutUint32(buf[160:164], math.Float32bits(g.Time))
	binary.LittleEndian.PutUint32(buf[164:168], g.Colorize)
	binary.LittleEndian.PutUint32(buf[168:172], 0) // padding
	binary.LittleEndian.PutUint32(buf[172:176], 0) // padding
	return buf
}

// Unmarshal decodes uniforms written by Marshal. Used by the software fragment kernel.
//
// Parameters:
//   - buf: at least 176 bytes
//
// Returns:
//   - error: an error if buf is too short
func (g *GPUSceneUniforms) Unmarshal(buf []byte) error {
	if len(buf) < 176 {
		return fmt.Errorf("scene: uniform buffer is %d bytes, want 176", len(buf))
	}
	f := func(off int) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(buf[off:])) }
	for i := range g.ViewProj {
		g.ViewProj[i] = f(i * 4)
		g.InvViewProj[i] = f(64 + i*4)
	}
	for i := range g.CameraPosition {
		g.CameraPosition[i] = f(128 + i*4)
	}
	g.TargetSize = [2]float32{f(144), f(148)}
	g.TexelSize = [2]uint32{binary.LittleEndian.Uint32(buf[152:]), binary.LittleEndian.Uint32(buf[156:])}
	g.Time = f(160)
	g.Colorize = binary.LittleEndian.Uint32(buf[164:])
	return nil
}
