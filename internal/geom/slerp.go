package geom

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// QuatFromRotation converts the rotation block of m into a unit
// quaternion.
func QuatFromRotation(m Mat4) quat.Number {
	t := m.At(0, 0) + m.At(1, 1) + m.At(2, 2)
	var q quat.Number
	switch {
	case t > 0:
		s := math.Sqrt(t+1) * 2
		q.Real = s / 4
		q.Imag = (m.At(2, 1) - m.At(1, 2)) / s
		q.Jmag = (m.At(0, 2) - m.At(2, 0)) / s
		q.Kmag = (m.At(1, 0) - m.At(0, 1)) / s
	case m.At(0, 0) > m.At(1, 1) && m.At(0, 0) > m.At(2, 2):
		s := math.Sqrt(1+m.At(0, 0)-m.At(1, 1)-m.At(2, 2)) * 2
		q.Real = (m.At(2, 1) - m.At(1, 2)) / s
		q.Imag = s / 4
		q.Jmag = (m.At(0, 1) + m.At(1, 0)) / s
		q.Kmag = (m.At(0, 2) + m.At(2, 0)) / s
	case m.At(1, 1) > m.At(2, 2):
		s := math.Sqrt(1+m.At(1, 1)-m.At(0, 0)-m.At(2, 2)) * 2
		q.Real = (m.At(0, 2) - m.At(2, 0)) / s
		q.Imag = (m.At(0, 1) + m.At(1, 0)) / s
		q.Jmag = s / 4
		q.Kmag = (m.At(1, 2) + m.At(2, 1)) / s
	default:
		s := math.Sqrt(1+m.At(2, 2)-m.At(0, 0)-m.At(1, 1)) * 2
		q.Real = (m.At(1, 0) - m.At(0, 1)) / s
		q.Imag = (m.At(0, 2) + m.At(2, 0)) / s
		q.Jmag = (m.At(1, 2) + m.At(2, 1)) / s
		q.Kmag = s / 4
	}
	return q
}

// RotationFromQuat converts a unit quaternion into a 4x4 rotation.
func RotationFromQuat(q quat.Number) Mat4 {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return Mat4{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y), 0,
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x), 0,
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y), 0,
		0, 0, 0, 1,
	}
}

// Slerp interpolates between the rotations of a and b. t = 0 yields a,
// t = 1 yields b; intermediate values follow the shortest great-circle
// path.
func Slerp(a, b Mat4, t float64) Mat4 {
	qa := QuatFromRotation(a)
	qb := QuatFromRotation(b)

	dot := qa.Real*qb.Real + qa.Imag*qb.Imag + qa.Jmag*qb.Jmag + qa.Kmag*qb.Kmag
	if dot < 0 {
		qb = quat.Scale(-1, qb)
		dot = -dot
	}

	// Nearly parallel quaternions degenerate to linear interpolation.
	if dot > 0.9995 {
		q := quat.Add(qa, quat.Scale(t, quat.Sub(qb, qa)))
		return RotationFromQuat(normalize(q))
	}

	theta := math.Acos(clamp(dot, -1, 1))
	sinTheta := math.Sin(theta)
	wa := math.Sin((1-t)*theta) / sinTheta
	wb := math.Sin(t*theta) / sinTheta
	q := quat.Add(quat.Scale(wa, qa), quat.Scale(wb, qb))
	return RotationFromQuat(normalize(q))
}

func normalize(q quat.Number) quat.Number {
	n := math.Sqrt(q.Real*q.Real + q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}
