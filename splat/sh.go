package splat

import "github.com/chewxy/math32"

// ShCoeffCount returns the number of spherical-harmonic coefficients stored
// per channel for a given SH level (0..3), matching the standard band sizes:
// level 1 contributes 3, level 2 contributes 5, level 3 contributes 7, on
// top of the lower levels.
func ShCoeffCount(level int) int {
	switch {
	case level <= 0:
		return 0
	case level == 1:
		return 3
	case level == 2:
		return 3 + 5
	default:
		return 3 + 5 + 7
	}
}

// EncodeShCoefficient packs one RGB spherical-harmonic coefficient triplet
// into a 4-byte word: a shared 5-bit exponent sized to the largest-magnitude
// channel, an 8-bit magnitude per channel, and a sign bit per channel. This
// keeps high-frequency SH bands compact while tracking the coefficient's
// true dynamic range instead of a fixed scale.
func EncodeShCoefficient(r, g, b float32) uint32 {
	maxAbs := absMax3(r, g, b)
	exp := sharedExponent(maxAbs)
	scale := math32.Pow(2, float32(exp-15))

	rm, rs := quantizeChannel(r, scale)
	gm, gs := quantizeChannel(g, scale)
	bm, bs := quantizeChannel(b, scale)

	word := uint32(exp&0x1f) << 27
	word |= uint32(rm) << 19 | uint32(rs) << 18
	word |= uint32(gm) << 10 | uint32(gs) << 9
	word |= uint32(bm) << 1 | uint32(bs)
	return word
}

// DecodeShCoefficient unpacks a word produced by EncodeShCoefficient.
func DecodeShCoefficient(word uint32) (r, g, b float32) {
	exp := int32((word>>27)&0x1f) - 15
	scale := math32.Pow(2, float32(exp))

	r = dequantizeChannel(byte((word>>19)&0xff), (word>>18)&1, scale)
	g = dequantizeChannel(byte((word>>10)&0xff), (word>>9)&1, scale)
	b = dequantizeChannel(byte((word>>1)&0xff), word&1, scale)
	return
}

func absMax3(a, b, c float32) float32 {
	m := math32.Abs(a)
	if v := math32.Abs(b); v > m {
		m = v
	}
	if v := math32.Abs(c); v > m {
		m = v
	}
	return m
}

// sharedExponent returns a biased 5-bit exponent (bias 15) such that
// 2^exponent comfortably bounds maxAbs with an 8-bit mantissa.
func sharedExponent(maxAbs float32) int32 {
	if maxAbs < 1e-8 {
		return 0
	}
	exp := int32(math32.Ceil(math32.Log2(maxAbs))) + 15 - 7
	if exp < 0 {
		exp = 0
	}
	if exp > 31 {
		exp = 31
	}
	return exp
}

func quantizeChannel(v, scale float32) (mantissa byte, sign uint32) {
	if v < 0 {
		sign = 1
		v = -v
	}
	if scale < 1e-20 {
		return 0, sign
	}
	q := v / scale
	if q > 255 {
		q = 255
	}
	return byte(math32.Round(q)), sign
}

func dequantizeChannel(mantissa byte, sign uint32, scale float32) float32 {
	v := float32(mantissa) * scale
	if sign != 0 {
		return -v
	}
	return v
}
