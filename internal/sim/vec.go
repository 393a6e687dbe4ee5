package sim

import "math"

// Vec3 is a local ENU vector in metres: X east, Y north, Z up.
type Vec3 struct{ X, Y, Z float64 }

func (v Vec3) Add(o Vec3) Vec3    { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3    { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) Mul(k float64) Vec3 { return Vec3{v.X * k, v.Y * k, v.Z * k} }

// Horizontal drops the vertical component.
func (v Vec3) Horizontal() Vec3 { return Vec3{X: v.X, Y: v.Y} }

// Norm is the Euclidean length.
func (v Vec3) Norm() float64 { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }

// approach moves cur toward des by at most step.
func approach(cur, des, step float64) float64 {
	switch diff := des - cur; {
	case diff > step:
		return cur + step
	case diff < -step:
		return cur - step
	default:
		return des
	}
}
