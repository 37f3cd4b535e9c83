// Package geom provides the small pose-algebra kernel shared by the
// recorder: 4x4 rigid transforms, 3x3 pinhole intrinsics, rotation
// builders, angular distance measures and quaternion interpolation.
//
// Matrices are stored row-major in fixed-size arrays so they can be
// copied freely and embedded in frames without allocation. Inversion
// goes through gonum's dense solver rather than a hand-rolled adjugate.
package geom

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Mat4 is a 4x4 rigid transform, row-major: m00,m01,m02,m03, m10,...
// The rotation lives in the upper-left 3x3, translation in the last
// column, and the last row is [0 0 0 1].
type Mat4 [16]float64

// Mat3 is a 3x3 matrix, row-major. Used for intrinsics and homographies.
type Mat3 [9]float64

// Vec3 is a plain 3-vector.
type Vec3 struct {
	X, Y, Z float64
}

// Identity4 returns the 4x4 identity transform.
func Identity4() Mat4 {
	return Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Identity3 returns the 3x3 identity matrix.
func Identity3() Mat3 {
	return Mat3{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	}
}

// At returns the element at row r, column c.
func (m Mat4) At(r, c int) float64 { return m[r*4+c] }

// Set assigns the element at row r, column c.
func (m *Mat4) Set(r, c int, v float64) { m[r*4+c] = v }

// At returns the element at row r, column c.
func (m Mat3) At(r, c int) float64 { return m[r*3+c] }

// Set assigns the element at row r, column c.
func (m *Mat3) Set(r, c int, v float64) { m[r*3+c] = v }

// Mul returns m * o.
func (m Mat4) Mul(o Mat4) Mat4 {
	var out Mat4
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			s := 0.0
			for k := 0; k < 4; k++ {
				s += m[r*4+k] * o[k*4+c]
			}
			out[r*4+c] = s
		}
	}
	return out
}

// Mul returns m * o.
func (m Mat3) Mul(o Mat3) Mat3 {
	var out Mat3
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			s := 0.0
			for k := 0; k < 3; k++ {
				s += m[r*3+k] * o[k*3+c]
			}
			out[r*3+c] = s
		}
	}
	return out
}

// Inv returns the inverse of m. Panics if m is singular, which cannot
// happen for well-formed rigid transforms.
func (m Mat4) Inv() Mat4 {
	var d mat.Dense
	if err := d.Inverse(mat.NewDense(4, 4, m[:])); err != nil {
		panic("geom: singular 4x4 matrix")
	}
	var out Mat4
	copy(out[:], d.RawMatrix().Data)
	return out
}

// Inv returns the inverse of m.
func (m Mat3) Inv() Mat3 {
	var d mat.Dense
	if err := d.Inverse(mat.NewDense(3, 3, m[:])); err != nil {
		panic("geom: singular 3x3 matrix")
	}
	var out Mat3
	copy(out[:], d.RawMatrix().Data)
	return out
}

// Rotation extracts the upper-left 3x3 rotation block.
func (m Mat4) Rotation() Mat3 {
	return Mat3{
		m[0], m[1], m[2],
		m[4], m[5], m[6],
		m[8], m[9], m[10],
	}
}

// Transform4 lifts a 3x3 rotation into a 4x4 transform with zero
// translation.
func (m Mat3) Transform4() Mat4 {
	return Mat4{
		m[0], m[1], m[2], 0,
		m[3], m[4], m[5], 0,
		m[6], m[7], m[8], 0,
		0, 0, 0, 1,
	}
}

// Apply transforms the point (x, y, z) by m.
func (m Mat4) Apply(x, y, z float64) (wx, wy, wz float64) {
	wx = m[0]*x + m[1]*y + m[2]*z + m[3]
	wy = m[4]*x + m[5]*y + m[6]*z + m[7]
	wz = m[8]*x + m[9]*y + m[10]*z + m[11]
	return
}

// Apply transforms the 2D point (x, y) by the homography m and
// dehomogenises the result.
func (m Mat3) Apply(x, y float64) (ox, oy float64) {
	w := m[6]*x + m[7]*y + m[8]
	ox = (m[0]*x + m[1]*y + m[2]) / w
	oy = (m[3]*x + m[4]*y + m[5]) / w
	return
}

// RotationX returns the 4x4 rotation about the X axis by a radians.
func RotationX(a float64) Mat4 {
	c, s := math.Cos(a), math.Sin(a)
	return Mat4{
		1, 0, 0, 0,
		0, c, -s, 0,
		0, s, c, 0,
		0, 0, 0, 1,
	}
}

// RotationY returns the 4x4 rotation about the Y axis by a radians.
func RotationY(a float64) Mat4 {
	c, s := math.Cos(a), math.Sin(a)
	return Mat4{
		c, 0, s, 0,
		0, 1, 0, 0,
		-s, 0, c, 0,
		0, 0, 0, 1,
	}
}

// RotationZ returns the 4x4 rotation about the Z axis by a radians.
func RotationZ(a float64) Mat4 {
	c, s := math.Cos(a), math.Sin(a)
	return Mat4{
		c, -s, 0, 0,
		s, c, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// RigidTolerance is the tolerance applied when checking that a pose is a
// proper rigid transform.
const RigidTolerance = 0.01

// IsRigid reports whether m is a valid rigid transform: orthonormal
// rotation block with determinant close to one and a [0 0 0 1] last row.
func IsRigid(m Mat4) bool {
	r00, r01, r02 := m[0], m[1], m[2]
	r10, r11, r12 := m[4], m[5], m[6]
	r20, r21, r22 := m[8], m[9], m[10]

	rows := [3][3]float64{{r00, r01, r02}, {r10, r11, r12}, {r20, r21, r22}}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			dot := rows[i][0]*rows[j][0] + rows[i][1]*rows[j][1] + rows[i][2]*rows[j][2]
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(dot-want) > RigidTolerance {
				return false
			}
		}
	}
	det := r00*(r11*r22-r12*r21) - r01*(r10*r22-r12*r20) + r02*(r10*r21-r11*r20)
	if math.Abs(det-1.0) > RigidTolerance {
		return false
	}
	if m[12] != 0 || m[13] != 0 || m[14] != 0 || math.Abs(m[15]-1.0) > 0.001 {
		return false
	}
	return true
}

// ContainsNaN reports whether any element of m is NaN.
func ContainsNaN(m Mat4) bool {
	for _, v := range m {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

// AngleOfRotation returns the rotation angle of m's rotation block,
// acos((trace - 1) / 2), clamped against numeric drift.
func AngleOfRotation(m Mat4) float64 {
	t := m[0] + m[5] + m[10]
	return math.Acos(clamp((t-1)/2, -1, 1))
}

// AngleBetween returns the rotation angle between poses a and b.
func AngleBetween(a, b Mat4) float64 {
	return AngleOfRotation(a.Inv().Mul(b))
}

// DistanceByDimension measures the angular distance between a and b in
// the given dimension (0 = X, 1 = Y, 2 = Z) by projecting the unit axis
// through both poses and taking the arcsine of the difference.
func DistanceByDimension(a, b Mat4, dim int) float64 {
	var vx, vy, vz float64
	switch dim {
	case 0:
		vx = 1
	case 1:
		vy = 1
	case 2:
		vz = 1
	default:
		panic("geom: dimension out of range")
	}
	ax, ay, az := a.Apply(vx, vy, vz)
	bx, by, bz := b.Apply(vx, vy, vz)
	ap := [3]float64{ax, ay, az}
	bp := [3]float64{bx, by, bz}
	return math.Asin(clamp(ap[dim]-bp[dim], -1, 1))
}

// DistanceX returns the angular distance between a and b along X.
func DistanceX(a, b Mat4) float64 { return DistanceByDimension(a, b, 0) }

// DistanceY returns the angular distance between a and b along Y.
func DistanceY(a, b Mat4) float64 { return DistanceByDimension(a, b, 1) }

// DistanceZ returns the angular distance between a and b along Z.
func DistanceZ(a, b Mat4) float64 { return DistanceByDimension(a, b, 2) }

// DistanceVector returns the per-dimension angular distances between a
// and b as a vector.
func DistanceVector(a, b Mat4) Vec3 {
	return Vec3{
		X: DistanceByDimension(a, b, 0),
		Y: DistanceByDimension(a, b, 1),
		Z: DistanceByDimension(a, b, 2),
	}
}

// EulerAngles extracts (x, y, z) rotation angles from m's rotation
// block, following the aerospace convention used by the sensor stack.
func EulerAngles(m Mat4) Vec3 {
	return Vec3{
		X: math.Atan2(m.At(2, 1), m.At(2, 2)),
		Y: math.Atan2(-m.At(2, 0), math.Hypot(m.At(2, 1), m.At(2, 2))),
		Z: math.Atan2(m.At(1, 0), m.At(0, 0)),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
