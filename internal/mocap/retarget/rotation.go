package retarget

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// Identity is the rotation that leaves a bone unchanged.
var Identity = quat.Number{Real: 1}

// EulerToQuat builds the rotation for e. Rotations are applied about Z, then
// X, then Y, so the result is qY * qX * qZ.
func EulerToQuat(e Euler) quat.Number {
	hx, hy, hz := radians(e.Pitch)/2, radians(e.Yaw)/2, radians(e.Roll)/2
	qx := quat.Number{Real: math.Cos(hx), Imag: math.Sin(hx)}
	qy := quat.Number{Real: math.Cos(hy), Jmag: math.Sin(hy)}
	qz := quat.Number{Real: math.Cos(hz), Kmag: math.Sin(hz)}
	return quat.Mul(quat.Mul(qy, qx), qz)
}

// QuatToEuler is the inverse of EulerToQuat. Pitch is returned in [-90, 90];
// yaw and roll are normalized.
func QuatToEuler(q quat.Number) Euler {
	q = unit(q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag

	m02 := 2 * (x*z + w*y)
	m22 := 1 - 2*(x*x+y*y)
	m12 := 2 * (y*z - w*x)
	m10 := 2 * (x*y + w*z)
	m11 := 1 - 2*(x*x+z*z)

	return Euler{
		Pitch: degrees(math.Asin(clamp(-m12, -1, 1))),
		Yaw:   NormalizeAngle(degrees(math.Atan2(m02, m22))),
		Roll:  NormalizeAngle(degrees(math.Atan2(m10, m11))),
	}
}

// Compose returns baseline followed by the rotation e. An all-zero baseline
// is treated as the identity.
func Compose(baseline quat.Number, e Euler) quat.Number {
	return quat.Mul(Baseline(baseline), EulerToQuat(e))
}

// Baseline returns q, or Identity when q is the all-zero quaternion.
func Baseline(q quat.Number) quat.Number {
	if q == (quat.Number{}) {
		return Identity
	}
	return q
}

func unit(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return Identity
	}
	return quat.Scale(1/n, q)
}
