package synthesis

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"
)

// GPUSynthesisParams is the GPU-aligned uniform block of the synthesis program.
// Matches the WGSL SynthesisParams struct in shaders/include/synthesis_params.wgsl.
// Size: 16 bytes.
type GPUSynthesisParams struct {
	HalfRate    float32   // offset 0: headroom needed to halve an axis
	QuarterRate float32   // offset 4: headroom needed to quarter an axis
	Extent      [2]uint32 // offset 8: surface size in texels
}

// Size returns the size of the GPUSynthesisParams struct in bytes.
func (g *GPUSynthesisParams) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the params into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 16-byte buffer ready for GPU upload
func (g *GPUSynthesisParams) Marshal() []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(g.HalfRate))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(g.QuarterRate))
	binary.LittleEndian.PutUint32(buf[8:12], g.Extent[0])
	binary.LittleEndian.PutUint32(buf[12:16], g.Extent[1])
	return buf
}

// Unmarshal decodes params written by Marshal.
func (g *GPUSynthesisParams) Unmarshal(buf []byte) error {
	if len(buf) < 16 {
		return fmt.Errorf("synthesis: uniform buffer is %d bytes, want 16", len(buf))
	}
	g.HalfRate = math.Float32frombits(binary.LittleEndian.Uint32(buf[0:]))
	g.QuarterRate = math.Float32frombits(binary.LittleEndian.Uint32(buf[4:]))
	g.Extent = [2]uint32{binary.LittleEndian.Uint32(buf[8:]), binary.LittleEndian.Uint32(buf[12:])}
	return nil
}
