package registry

import (
	"encoding/binary"

	"github.com/oxy-go/splat-lod/common"
)

// decodeNodeRecord decodes one 24-byte node record: three half-float
// center components, a half-float radius, a uint32 child-start, a uint16
// child-count, an int32 parent index, and 6 reserved bytes.
func decodeNodeRecord(b []byte) Node {
	return Node{
		Center: common.Vec3{
			X: common.HalfToFloat32(binary.LittleEndian.Uint16(b[0:2])),
			Y: common.HalfToFloat32(binary.LittleEndian.Uint16(b[2:4])),
			Z: common.HalfToFloat32(binary.LittleEndian.Uint16(b[4:6])),
		},
		Radius:     common.HalfToFloat32(binary.LittleEndian.Uint16(b[6:8])),
		ChildStart: binary.LittleEndian.Uint32(b[8:12]),
		ChildCount: binary.LittleEndian.Uint16(b[12:14]),
		Parent:     int32(binary.LittleEndian.Uint32(b[14:18])),
	}
}

// encodeNodeRecord is the inverse of decodeNodeRecord, used by tests and by
// callers constructing synthetic blobs.
func encodeNodeRecord(n Node) []byte {
	b := make([]byte, nodeRecordSize)
	binary.LittleEndian.PutUint16(b[0:2], common.Float32ToHalf(n.Center.X))
	binary.LittleEndian.PutUint16(b[2:4], common.Float32ToHalf(n.Center.Y))
	binary.LittleEndian.PutUint16(b[4:6], common.Float32ToHalf(n.Center.Z))
	binary.LittleEndian.PutUint16(b[6:8], common.Float32ToHalf(n.Radius))
	binary.LittleEndian.PutUint32(b[8:12], n.ChildStart)
	binary.LittleEndian.PutUint16(b[12:14], n.ChildCount)
	binary.LittleEndian.PutUint32(b[14:18], uint32(n.Parent))
	return b
}
