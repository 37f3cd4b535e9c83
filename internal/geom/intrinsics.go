package geom

import "math"

// Intrinsics is a 3x3 pinhole camera matrix: focal lengths on the
// diagonal, principal point in the last column.
type Intrinsics Mat3

// NewIntrinsics builds an intrinsics matrix from focal length and
// principal point, both in pixels.
func NewIntrinsics(fx, fy, cx, cy float64) Intrinsics {
	return Intrinsics{
		fx, 0, cx,
		0, fy, cy,
		0, 0, 1,
	}
}

// Fx returns the horizontal focal length in pixels.
func (k Intrinsics) Fx() float64 { return k[0] }

// Fy returns the vertical focal length in pixels.
func (k Intrinsics) Fy() float64 { return k[4] }

// Cx returns the horizontal principal point in pixels.
func (k Intrinsics) Cx() float64 { return k[2] }

// Cy returns the vertical principal point in pixels.
func (k Intrinsics) Cy() float64 { return k[5] }

// Mat3 returns the intrinsics as a plain 3x3 matrix.
func (k Intrinsics) Mat3() Mat3 { return Mat3(k) }

// HFov returns the horizontal field of view in radians.
func (k Intrinsics) HFov() float64 {
	return 2 * math.Atan2(k.Cx(), k.Fx())
}

// VFov returns the vertical field of view in radians.
func (k Intrinsics) VFov() float64 {
	return 2 * math.Atan2(k.Cy(), k.Fx())
}

// IsPortrait reports whether the sensor is taller than it is wide.
func (k Intrinsics) IsPortrait() bool {
	return k.Cy() > k.Cx()
}

// ScaleToImage rescales the intrinsics to an image of the given pixel
// size, keeping the field of view. The principal point is re-centred on
// the image.
func (k Intrinsics) ScaleToImage(width, height int) Intrinsics {
	scale := float64(width) / (k.Cx() * 2)
	return NewIntrinsics(
		k.Fx()*scale,
		k.Fy()*scale,
		float64(width)/2,
		float64(height)/2,
	)
}
