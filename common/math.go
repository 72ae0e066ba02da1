package common

import (
	"math"
)

// Matrices are 4x4, column-major (WebGPU convention) and passed as flat slices of at
// least 16 floats. Element (row r, column c) lives at index c*4+r.

// Identity resets m to the identity matrix.
//
// Parameters:
//   - m: destination slice (must be at least 16 elements)
func Identity(m []float32) {
	clear(m[:16])
	for i := range 4 {
		m[i*5] = 1
	}
}

// Mul4 stores a*b in out. out may alias a or b.
//
// Parameters:
//   - out: destination slice
//   - a: left-hand matrix
//   - b: right-hand matrix
func Mul4(out, a, b []float32) {
	var r [16]float32
	for c := range 4 {
		for row := range 4 {
			var sum float32
			for k := range 4 {
				sum += a[k*4+row] * b[c*4+k]
			}
			r[c*4+row] = sum
		}
	}
	copy(out, r[:])
}

// Perspective writes a right-handed perspective projection mapping depth to the WebGPU
// clip range [0, 1].
//
// Parameters:
//   - out: destination slice
//   - fovY: vertical field of view in radians
//   - aspect: viewport aspect ratio (width/height)
//   - near, far: clip plane distances, 0 < near < far
func Perspective(out []float32, fovY, aspect, near, far float32) {
	f := float32(1 / math.Tan(float64(fovY)/2))
	depth := near - far
	clear(out[:16])
	out[0] = f / aspect
	out[5] = f
	out[10] = far / depth
	out[11] = -1
	out[14] = near * far / depth
}

// Invert4 stores the inverse of m in out using Gauss-Jordan elimination with partial
// pivoting in float64. When m is singular out is left unchanged and false is returned.
//
// Parameters:
//   - out: destination slice
//   - m: source matrix
//
// Returns:
//   - bool: false if m is singular
func Invert4(out, m []float32) bool {
	// Rows of the augmented matrix [m | I], in row-major order.
	var a [4][8]float64
	for r := range 4 {
		for c := range 4 {
			a[r][c] = float64(m[c*4+r])
		}
		a[r][4+r] = 1
	}

	for col := range 4 {
		pivot := col
		for r := col + 1; r < 4; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return false
		}
		a[col], a[pivot] = a[pivot], a[col]

		inv := 1 / a[col][col]
		for c := range 8 {
			a[col][c] *= inv
		}
		for r := range 4 {
			if r == col || a[r][col] == 0 {
				continue
			}
			f := a[r][col]
			for c := range 8 {
				a[r][c] -= f * a[col][c]
			}
		}
	}

	for r := range 4 {
		for c := range 4 {
			out[c*4+r] = float32(a[r][4+c])
		}
	}
	return true
}

type vec3 [3]float32

func (a vec3) sub(b vec3) vec3 {
	return vec3{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func (a vec3) dot(b vec3) float32 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

func (a vec3) cross(b vec3) vec3 {
	return vec3{a[1]*b[2] - a[2]*b[1], a[2]*b[0] - a[0]*b[2], a[0]*b[1] - a[1]*b[0]}
}

// normalize returns a scaled to unit length. The zero vector is returned unchanged.
func (a vec3) normalize() vec3 {
	l := float32(math.Sqrt(float64(a.dot(a))))
	if l == 0 {
		return a
	}
	return vec3{a[0] / l, a[1] / l, a[2] / l}
}

// LookAt writes a view matrix for a camera at eye looking at center. The camera looks
// down its -Z axis.
//
// Parameters:
//   - out: destination slice
//   - eyeX, eyeY, eyeZ: camera position in world space
//   - centerX, centerY, centerZ: the point looked at
//   - upX, upY, upZ: world up, typically (0, 1, 0)
func LookAt(out []float32, eyeX, eyeY, eyeZ, centerX, centerY, centerZ, upX, upY, upZ float32) {
	eye := vec3{eyeX, eyeY, eyeZ}
	back := eye.sub(vec3{centerX, centerY, centerZ}).normalize()
	right := vec3{upX, upY, upZ}.cross(back).normalize()
	up := back.cross(right)

	for i, axis := range [3]vec3{right, up, back} {
		out[i], out[4+i], out[8+i] = axis[0], axis[1], axis[2]
		out[12+i] = -axis.dot(eye)
	}
	out[3], out[7], out[11], out[15] = 0, 0, 0, 1
}

// TransformPoint returns m*(x, y, z, 1) without the perspective divide.
//
// Parameters:
//   - m: the matrix
//   - x, y, z: the point to transform
//
// Returns:
//   - [4]float32: the transformed point (x, y, z, w)
func TransformPoint(m []float32, x, y, z float32) [4]float32 {
	var p [4]float32
	for row := range 4 {
		p[row] = m[row]*x + m[4+row]*y + m[8+row]*z + m[12+row]
	}
	return p
}

// ReprojectionMatrix builds the matrix that maps clip-space positions of the frame rendered
// with previousViewProj onto the clip space of currentViewProj:
// out = currentViewProj * inverse(previousViewProj).
// If previousViewProj is singular, out is set to identity and false is returned.
//
// Parameters:
//   - out: the 16-float destination matrix
//   - currentViewProj: the view-projection matrix of the frame being prepared
//   - previousViewProj: the view-projection matrix the source image was rendered with
//
// Returns:
//   - bool: true if the previous matrix was invertible
func ReprojectionMatrix(out, currentViewProj, previousViewProj []float32) bool {
	var inv [16]float32
	if !Invert4(inv[:], previousViewProj) {
		Identity(out)
		return false
	}
	Mul4(out, currentViewProj, inv[:])
	return true
}

// CeilDiv divides a by b rounding up. b must be non-zero.
func CeilDiv(a, b uint32) uint32 {
	return (a + b - 1) / b
}

// Clamp restricts v to the closed interval [lo, hi].
func Clamp(v, lo, hi float32) float32 {
	return min(max(v, lo), hi)
}
