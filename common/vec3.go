package common

import "github.com/chewxy/math32"

// Vec3 is a 3-component float32 vector used for splat centers, camera axes,
// and view directions throughout the LoD pipeline.
type Vec3 struct {
	X, Y, Z float32
}

// Sub returns a - b.
func Sub(a, b Vec3) Vec3 {
	return Vec3{a.X - b.X, a.Y - b.Y, a.Z - b.Z}
}

// Dot returns the dot product of a and b.
func Dot(a, b Vec3) float32 {
	return a.X*b.X + a.Y*b.Y + a.Z*b.Z
}

// Length returns the Euclidean length of v.
func Length(v Vec3) float32 {
	return math32.Sqrt(Dot(v, v))
}

// Normalize returns v scaled to unit length. Returns the zero vector if v is
// degenerate (zero length).
func Normalize(v Vec3) Vec3 {
	l := Length(v)
	if l <= 1e-12 {
		return Vec3{}
	}
	inv := 1.0 / l
	return Vec3{v.X * inv, v.Y * inv, v.Z * inv}
}

// ColumnVec3 extracts the 3 components starting at offset from a column-major
// 4x4 matrix stored as a flat 16-element slice.
func ColumnVec3(m []float32, offset int) Vec3 {
	return Vec3{m[offset], m[offset+1], m[offset+2]}
}

// Finite4x4 reports whether all 16 elements of a column-major matrix are
// finite (not NaN or +/-Inf). Used to detect degenerate view transforms.
func Finite4x4(m []float32) bool {
	for _, v := range m {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return false
		}
	}
	return true
}
