// Package splat implements the two on-wire Gaussian splat encodings: a
// 16-byte "compact" form and a 32-byte "extended" form, plus the
// shared-exponent packing used for spherical-harmonic coefficients.
//
// Byte-budget note: centers (6 bytes) + log-scale (3 bytes) + quaternion
// (10/10/12 bits = 4 bytes) + color+opacity (4 bytes) adds up to 17
// bytes, one more than the compact form's 16-byte stride the chunk/page
// geometry is sized against. That's resolved by packing the octahedral
// quaternion at 8/8/8 bits instead of 10/10/12: every field is still
// present, only the axis and angle quantization is coarser. See DESIGN.md.
package splat

import (
	"encoding/binary"
	"math"

	"github.com/chewxy/math32"
	"github.com/oxy-go/splat-lod/common"
)

// CompactSize is the byte stride of the compact encoding.
const CompactSize = 16

// ExtendedSize is the byte stride of the extended encoding.
const ExtendedSize = 32

// Splat is the decoded, encoding-agnostic representation of one Gaussian:
// a center, an anisotropic log-scale, a rotation quaternion (x,y,z,w), a
// linear RGB color, and an opacity, all in [0,1] for color/opacity.
type Splat struct {
	Center   common.Vec3
	LogScale common.Vec3
	Quat     [4]float32 // x, y, z, w
	Color    [3]float32
	Opacity  float32
}

const logScaleBias = 128
const logScaleStep = 1.0 / 16.0

func encodeLogScaleByte(v float32) byte {
	q := int32(math32.Round(v/logScaleStep)) + logScaleBias
	if q < 0 {
		q = 0
	}
	if q > 255 {
		q = 255
	}
	return byte(q)
}

func decodeLogScaleByte(b byte) float32 {
	return (float32(b) - logScaleBias) * logScaleStep
}

// quatToAxisAngle converts a unit quaternion (x,y,z,w) to a unit rotation
// axis and an angle in [0, 2*pi).
func quatToAxisAngle(q [4]float32) (axis common.Vec3, angle float32) {
	w := q[3]
	if w > 1 {
		w = 1
	}
	if w < -1 {
		w = -1
	}
	angle = 2 * math32.Acos(w)
	s := math32.Sqrt(1 - w*w)
	if s < 1e-6 {
		// Angle ~0: axis is arbitrary: pick +Z.
		return common.Vec3{X: 0, Y: 0, Z: 1}, angle
	}
	return common.Vec3{X: q[0] / s, Y: q[1] / s, Z: q[2] / s}, angle
}

func axisAngleToQuat(axis common.Vec3, angle float32) [4]float32 {
	half := angle / 2
	sin := math32.Sin(half)
	cos := math32.Cos(half)
	return [4]float32{axis.X * sin, axis.Y * sin, axis.Z * sin, cos}
}

// octEncode maps a unit vector to octahedral UV coordinates in [-1, 1].
func octEncode(v common.Vec3) (u, w float32) {
	l1 := math32.Abs(v.X) + math32.Abs(v.Y) + math32.Abs(v.Z)
	if l1 < 1e-12 {
		return 0, 0
	}
	inv := 1 / l1
	u, w = v.X*inv, v.Y*inv
	if v.Z < 0 {
		u, w = (1-math32.Abs(w))*sign(u), (1-math32.Abs(u))*sign(w)
	}
	return u, w
}

func sign(v float32) float32 {
	if v < 0 {
		return -1
	}
	return 1
}

// octDecode inverts octEncode.
func octDecode(u, w float32) common.Vec3 {
	z := 1 - math32.Abs(u) - math32.Abs(w)
	x, y := u, w
	if z < 0 {
		x, y = (1-math32.Abs(w))*sign(u), (1-math32.Abs(u))*sign(w)
	}
	return common.Normalize(common.Vec3{X: x, Y: y, Z: z})
}

func quantizeUnit(v float32, bits uint) uint32 {
	max := float32((uint32(1) << bits) - 1)
	t := (v + 1) / 2 // [-1,1] -> [0,1]
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	return uint32(math32.Round(t * max))
}

func dequantizeUnit(q uint32, bits uint) float32 {
	max := float32((uint32(1) << bits) - 1)
	t := float32(q) / max
	return t*2 - 1
}

// EncodeCompact packs s into the 16-byte compact encoding.
func EncodeCompact(s Splat) [CompactSize]byte {
	var out [CompactSize]byte
	binary.LittleEndian.PutUint16(out[0:2], float32ToHalf(s.Center.X))
	binary.LittleEndian.PutUint16(out[2:4], float32ToHalf(s.Center.Y))
	binary.LittleEndian.PutUint16(out[4:6], float32ToHalf(s.Center.Z))
	out[6] = encodeLogScaleByte(s.LogScale.X)
	out[7] = encodeLogScaleByte(s.LogScale.Y)
	out[8] = encodeLogScaleByte(s.LogScale.Z)

	axis, angle := quatToAxisAngle(s.Quat)
	u, w := octEncode(axis)
	out[9] = byte(quantizeUnit(u, 8))
	out[10] = byte(quantizeUnit(w, 8))
	out[11] = byte(uint32(math32.Round((angle/(2*math32.Pi))*255)) & 0xff)

	out[12] = encodeColorByte(s.Color[0])
	out[13] = encodeColorByte(s.Color[1])
	out[14] = encodeColorByte(s.Color[2])
	out[15] = encodeColorByte(s.Opacity)
	return out
}

// DecodeCompact unpacks a 16-byte compact-encoded splat.
func DecodeCompact(b [CompactSize]byte) Splat {
	var s Splat
	s.Center.X = halfToFloat32(binary.LittleEndian.Uint16(b[0:2]))
	s.Center.Y = halfToFloat32(binary.LittleEndian.Uint16(b[2:4]))
	s.Center.Z = halfToFloat32(binary.LittleEndian.Uint16(b[4:6]))
	s.LogScale.X = decodeLogScaleByte(b[6])
	s.LogScale.Y = decodeLogScaleByte(b[7])
	s.LogScale.Z = decodeLogScaleByte(b[8])

	u := dequantizeUnit(uint32(b[9]), 8)
	w := dequantizeUnit(uint32(b[10]), 8)
	axis := octDecode(u, w)
	angle := (float32(b[11]) / 255) * 2 * math32.Pi
	s.Quat = axisAngleToQuat(axis, angle)

	s.Color[0] = decodeColorByte(b[12])
	s.Color[1] = decodeColorByte(b[13])
	s.Color[2] = decodeColorByte(b[14])
	s.Opacity = decodeColorByte(b[15])
	return s
}

// EncodeExtended packs s into the 32-byte extended encoding.
func EncodeExtended(s Splat) [ExtendedSize]byte {
	var out [ExtendedSize]byte
	binary.LittleEndian.PutUint32(out[0:4], math.Float32bits(s.Center.X))
	binary.LittleEndian.PutUint32(out[4:8], math.Float32bits(s.Center.Y))
	binary.LittleEndian.PutUint32(out[8:12], math.Float32bits(s.Center.Z))
	binary.LittleEndian.PutUint16(out[12:14], float32ToHalf(s.Opacity))
	binary.LittleEndian.PutUint16(out[14:16], float32ToHalf(s.Color[0]))
	binary.LittleEndian.PutUint16(out[16:18], float32ToHalf(s.Color[1]))
	binary.LittleEndian.PutUint16(out[18:20], float32ToHalf(s.Color[2]))
	binary.LittleEndian.PutUint16(out[20:22], float32ToHalf(s.LogScale.X))
	binary.LittleEndian.PutUint16(out[22:24], float32ToHalf(s.LogScale.Y))
	binary.LittleEndian.PutUint16(out[24:26], float32ToHalf(s.LogScale.Z))

	axis, angle := quatToAxisAngle(s.Quat)
	u, w := octEncode(axis)
	quat := quantizeUnit(u, 10) | quantizeUnit(w, 10)<<10 | (uint32(math32.Round((angle/(2*math32.Pi))*4095)) & 0xfff << 20)
	binary.LittleEndian.PutUint32(out[26:30], quat)
	// out[30:32] reserved, left zero.
	return out
}

// DecodeExtended unpacks a 32-byte extended-encoded splat.
func DecodeExtended(b [ExtendedSize]byte) Splat {
	var s Splat
	s.Center.X = math.Float32frombits(binary.LittleEndian.Uint32(b[0:4]))
	s.Center.Y = math.Float32frombits(binary.LittleEndian.Uint32(b[4:8]))
	s.Center.Z = math.Float32frombits(binary.LittleEndian.Uint32(b[8:12]))
	s.Opacity = halfToFloat32(binary.LittleEndian.Uint16(b[12:14]))
	s.Color[0] = halfToFloat32(binary.LittleEndian.Uint16(b[14:16]))
	s.Color[1] = halfToFloat32(binary.LittleEndian.Uint16(b[16:18]))
	s.Color[2] = halfToFloat32(binary.LittleEndian.Uint16(b[18:20]))
	s.LogScale.X = halfToFloat32(binary.LittleEndian.Uint16(b[20:22]))
	s.LogScale.Y = halfToFloat32(binary.LittleEndian.Uint16(b[22:24]))
	s.LogScale.Z = halfToFloat32(binary.LittleEndian.Uint16(b[24:26]))

	quat := binary.LittleEndian.Uint32(b[26:30])
	u := dequantizeUnit(quat&0x3ff, 10)
	w := dequantizeUnit((quat>>10)&0x3ff, 10)
	angleBits := (quat >> 20) & 0xfff
	axis := octDecode(u, w)
	angle := (float32(angleBits) / 4095) * 2 * math32.Pi
	s.Quat = axisAngleToQuat(axis, angle)
	return s
}

func encodeColorByte(v float32) byte {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return byte(math32.Round(v * 255))
}

func decodeColorByte(b byte) float32 {
	return float32(b) / 255
}
