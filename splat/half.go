package splat

import "github.com/oxy-go/splat-lod/common"

func float32ToHalf(f float32) uint16 { return common.Float32ToHalf(f) }

func halfToFloat32(h uint16) float32 { return common.HalfToFloat32(h) }
