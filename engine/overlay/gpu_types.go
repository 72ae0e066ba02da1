package overlay

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"
)

// Overlay draw modes.
const (
	ModeCapture uint32 = 0 // sample the capture and modulate it by the tint
	ModeSolid   uint32 = 1 // fill with the tint
)

// GPUOverlayParams is the GPU-aligned uniform block of one overlay quad.
// Matches the WGSL OverlayParams struct in shaders/include/overlay_params.wgsl.
// Size: 48 bytes.
type GPUOverlayParams struct {
	Tint        [4]float32 // offset  0: modulation (capture) or fill colour (solid)
	Border      [4]float32 // offset 16: border colour
	BorderWidth float32    // offset 32: border width as a fraction of the quad
	Mode        uint32     // offset 36: ModeCapture or ModeSolid
	_pad0       float32    // offset 40
	_pad1       float32    // offset 44
}

// Size returns the size of the GPUOverlayParams struct in bytes.
func (g *GPUOverlayParams) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the params into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 48-byte buffer ready for GPU upload
func (g *GPUOverlayParams) Marshal() []byte {
	buf := make([]byte, 48)
	for i := range 4 {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(g.Tint[i]))
		binary.LittleEndian.PutUint32(buf[16+i*4:], math.Float32bits(g.Border[i]))
	}
	binary.LittleEndian.PutUint32(buf[32:36], math.Float32bits(g.BorderWidth))
	binary.LittleEndian.PutUint32(buf[36:40], g.Mode)
	binary.LittleEndian.PutUint32(buf[40:44], 0) // padding
	binary.LittleEndian.PutUint32(buf[44:48], 0) // padding
	return buf
}

// Unmarshal decodes params written by Marshal.
func (g *GPUOverlayParams) Unmarshal(buf []byte) error {
	if len(buf) < 48 {
		return fmt.Errorf("overlay: uniform buffer is %d bytes, want 48", len(buf))
	}
	for i := range 4 {
		g.Tint[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		g.Border[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[16+i*4:]))
	}
	g.BorderWidth = math.Float32frombits(binary.LittleEndian.Uint32(buf[32:]))
	g.Mode = binary.LittleEndian.Uint32(buf[36:])
	return nil
}
