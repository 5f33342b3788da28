package splat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/oxy-go/splat-lod/common"
)

func sampleSplats() []Splat {
	return []Splat{
		{
			Center:   common.Vec3{X: 1.25, Y: -4.5, Z: 100.75},
			LogScale: common.Vec3{X: -2, Y: 0, Z: 3.5},
			Quat:     [4]float32{0, 0, 0, 1},
			Color:    [3]float32{0.1, 0.5, 0.9},
			Opacity:  0.75,
		},
		{
			Center:   common.Vec3{X: -1000, Y: 0.001, Z: 0},
			LogScale: common.Vec3{X: 1, Y: 1, Z: 1},
			Quat:     axisAngleToQuat(common.Normalize(common.Vec3{X: 1, Y: 1, Z: 0}), 1.2),
			Color:    [3]float32{1, 0, 0.5},
			Opacity:  1,
		},
	}
}

func TestCompactRoundTrip_CenterTolerance(t *testing.T) {
	for _, s := range sampleSplats() {
		enc := EncodeCompact(s)
		dec := DecodeCompact(enc)

		assertRelClose(t, s.Center.X, dec.Center.X, 0.001)
		assertRelClose(t, s.Center.Y, dec.Center.Y, 0.001)
		assertRelClose(t, s.Center.Z, dec.Center.Z, 0.001)
	}
}

func TestCompactRoundTrip_ColorWithinOneOver255(t *testing.T) {
	for _, s := range sampleSplats() {
		enc := EncodeCompact(s)
		dec := DecodeCompact(enc)

		for i := range s.Color {
			assert.InDelta(t, s.Color[i], dec.Color[i], 1.0/255)
		}
		assert.InDelta(t, s.Opacity, dec.Opacity, 1.0/255)
	}
}

func TestExtendedRoundTrip_HigherPrecisionThanCompact(t *testing.T) {
	for _, s := range sampleSplats() {
		enc := EncodeExtended(s)
		dec := DecodeExtended(enc)

		assertRelClose(t, s.Center.X, dec.Center.X, 1e-5)
		assertRelClose(t, s.Center.Y, dec.Center.Y, 1e-5)
		assertRelClose(t, s.Center.Z, dec.Center.Z, 1e-5)
		for i := range s.Color {
			assert.InDelta(t, s.Color[i], dec.Color[i], 1.0/1024)
		}
	}
}

func TestShCoefficientRoundTrip(t *testing.T) {
	cases := [][3]float32{
		{0.01, -0.02, 0.005},
		{1.5, -3.25, 0.0},
		{-0.0001, 0.0002, 0.0001},
	}
	for _, c := range cases {
		word := EncodeShCoefficient(c[0], c[1], c[2])
		r, g, b := DecodeShCoefficient(word)
		assertRelClose(t, c[0], r, 0.02)
		assertRelClose(t, c[1], g, 0.02)
		assertRelClose(t, c[2], b, 0.02)
	}
}

func TestShCoeffCount(t *testing.T) {
	assert.Equal(t, 0, ShCoeffCount(0))
	assert.Equal(t, 3, ShCoeffCount(1))
	assert.Equal(t, 8, ShCoeffCount(2))
	assert.Equal(t, 15, ShCoeffCount(3))
}

func assertRelClose(t *testing.T, want, got float32, tol float32) {
	t.Helper()
	scale := want
	if scale < 0 {
		scale = -scale
	}
	if scale < 1 {
		scale = 1
	}
	assert.InDelta(t, want, got, float64(tol*scale))
}
