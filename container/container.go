// Package container implements the streamable tree-payload container
// format: a self-describing header followed by a sequence of integrity-
// checked chunks, probed via escalating ranged reads so a client never has
// to know the header size up front.
package container

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Probe sizes tried in order until a complete header is parsed.
var probeSizes = []int{64 * 1024, 256 * 1024, 1024 * 1024}

const magic = uint32(0x53504c54) // "SPLT"

// castagnoli is used for chunk integrity; a stdlib checksum is the right
// tool here since the container's integrity check is a simple per-chunk
// guard, not a domain library concern (see DESIGN.md).
var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// RangeReader is the caller-supplied byte transport: a local file, an HTTP
// range client, or any other random-access byte source. It is the boundary
// that keeps concrete container transports (and specific file-format
// decoders) out of this package's scope.
type RangeReader interface {
	// ReadRange returns exactly the bytes in [offset, offset+length) or an
	// error. It may return fewer bytes at end-of-stream.
	ReadRange(offset int64, length int) ([]byte, error)
}

// ChunkDescriptor locates one chunk within the container.
type ChunkDescriptor struct {
	ID         uint32
	Offset     int64
	Length     uint32
	Checksum   uint32
	SplatCount uint32
}

// Header is the container's self-describing preamble: a chunk table
// covering the whole payload. Chunk 0 is always the root chunk.
type Header struct {
	TotalSplats uint32
	Chunks      []ChunkDescriptor
}

// OpenHeader probes r with escalating range sizes (64 KiB, 256 KiB, 1 MiB)
// until the full header fits within one read, then parses it.
func OpenHeader(r RangeReader) (Header, error) {
	var last error
	for _, size := range probeSizes {
		buf, err := r.ReadRange(0, size)
		if err != nil {
			last = err
			continue
		}
		hdr, complete, perr := tryParseHeader(buf)
		if perr != nil {
			return Header{}, perr
		}
		if complete {
			return hdr, nil
		}
	}
	if last != nil {
		return Header{}, fmt.Errorf("container: probing header: %w", last)
	}
	return Header{}, fmt.Errorf("container: header larger than largest probe size (%d bytes)", probeSizes[len(probeSizes)-1])
}

// tryParseHeader attempts to parse buf as a complete header. complete is
// false (with a nil error) when buf was truncated mid-header and a larger
// probe should be tried.
func tryParseHeader(buf []byte) (hdr Header, complete bool, err error) {
	if len(buf) < 12 {
		return Header{}, false, nil
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != magic {
		return Header{}, false, fmt.Errorf("container: bad magic")
	}
	totalSplats := binary.LittleEndian.Uint32(buf[4:8])
	chunkCount := binary.LittleEndian.Uint32(buf[8:12])

	const chunkRecordSize = 20
	need := 12 + int(chunkCount)*chunkRecordSize
	if len(buf) < need {
		return Header{}, false, nil
	}

	chunks := make([]ChunkDescriptor, chunkCount)
	for i := uint32(0); i < chunkCount; i++ {
		off := 12 + int(i)*chunkRecordSize
		chunks[i] = ChunkDescriptor{
			ID:         i,
			Offset:     int64(binary.LittleEndian.Uint64(buf[off : off+8])),
			Length:     binary.LittleEndian.Uint32(buf[off+8 : off+12]),
			Checksum:   binary.LittleEndian.Uint32(buf[off+12 : off+16]),
			SplatCount: binary.LittleEndian.Uint32(buf[off+16 : off+20]),
		}
	}
	return Header{TotalSplats: totalSplats, Chunks: chunks}, true, nil
}

// FetchChunk reads and integrity-checks one chunk's raw (still-compressed)
// bytes. The caller (pagecache's fetcher) is responsible for decompression
// and splat decoding.
func FetchChunk(r RangeReader, desc ChunkDescriptor) ([]byte, error) {
	buf, err := r.ReadRange(desc.Offset, int(desc.Length))
	if err != nil {
		return nil, fmt.Errorf("container: fetch chunk %d: %w", desc.ID, err)
	}
	if crc32.Checksum(buf, castagnoli) != desc.Checksum {
		return nil, fmt.Errorf("container: chunk %d failed integrity check", desc.ID)
	}
	return buf, nil
}
