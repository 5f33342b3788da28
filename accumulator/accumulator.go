// Package accumulator implements the Splat Accumulator: a
// composed, per-object index table feeding the rasterizer, prepared ahead of
// display so composition never stalls the frame that displays it.
package accumulator

import (
	"encoding/binary"
	"hash/fnv"
)

// ObjectIndices is one instance's composed splat selection: the tree it came
// from and the node/splat indices the Traverser selected for it this frame.
type ObjectIndices struct {
	TreeID  uint64
	Indices []int32
}

// IndexWriter is the GPU upload boundary for a composed accumulator, kept
// separate so composition logic is testable without a device (mirrors
// pagecache.GPUPagePool's role for page uploads).
type IndexWriter interface {
	WriteIndices(objectID uint64, indices []int32) error
}

// Accumulator is one of the three rotating composed sets.
type Accumulator struct {
	Version        uint64
	MappingVersion uint64
	Active         uint32
	Objects        []ObjectIndices
}

// Prepare stages a new composition: it computes the mapping version (a
// content hash over which objects and which indices are active) and returns
// a generate closure that performs the actual GPU upload. Callers compare
// the returned mapping version against the displayed accumulator's to decide
// whether the existing sort ordering can be reused.
func (a *Accumulator) Prepare(version uint64, objects []ObjectIndices, writer IndexWriter) (mappingVersion uint64, generate func() error) {
	mappingVersion = computeMappingVersion(objects)
	return mappingVersion, func() error {
		var active uint32
		for _, obj := range objects {
			if err := writer.WriteIndices(obj.TreeID, obj.Indices); err != nil {
				return err
			}
			active += uint32(len(obj.Indices))
		}
		a.Version = version
		a.MappingVersion = mappingVersion
		a.Objects = objects
		a.Active = active
		return nil
	}
}

// computeMappingVersion hashes the ordered (tree-id, indices) composition.
// Two compositions hash equal only when every object contributed exactly
// the same splats in the same order, the condition under which an existing
// sort ordering remains valid.
func computeMappingVersion(objects []ObjectIndices) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, obj := range objects {
		binary.LittleEndian.PutUint64(buf[:], obj.TreeID)
		h.Write(buf[:])
		for _, idx := range obj.Indices {
			binary.LittleEndian.PutUint32(buf[:4], uint32(idx))
			h.Write(buf[:4])
		}
	}
	return h.Sum64()
}
